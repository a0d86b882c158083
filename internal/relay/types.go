package relay

import (
	"net"
	"strconv"
)

// Snapshot is the configuration a relay instance runs with. The registry
// treats it as immutable once started; edits take effect on restart.
type Snapshot struct {
	ID           string
	Name         string
	ListenIP     string
	ListenPort   int
	Mappings     []Mapping
	AutoStart    bool
	HideUnmapped bool
}

// ListenAddr returns the host:port the instance binds.
func (s Snapshot) ListenAddr() string {
	return net.JoinHostPort(s.ListenIP, strconv.Itoa(s.ListenPort))
}

// Mapping routes topics matching Input to Output on DestIP:DestPort.
type Mapping struct {
	Input    string
	Output   string
	DestIP   string
	DestPort int
	Enabled  bool
}

// Endpoint identifies a UDP destination.
type Endpoint struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

func (e Endpoint) String() string { return net.JoinHostPort(e.IP, strconv.Itoa(e.Port)) }

// Status is the read model served to the control API.
type Status struct {
	RunningConfigs []string            `json:"running_configs"`
	LogsByConfig   map[string][]string `json:"logs_by_config"`
	GlobalLogs     []string            `json:"global_logs"`
}
