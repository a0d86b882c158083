package relay

import (
	"fmt"
	"net"
	"strings"

	"oscrelay/pkg/oscmatch"
)

// Route is one compiled mapping.
type Route struct {
	Pattern *oscmatch.Pattern
	Dest    Endpoint
	Output  string
}

// Table is the ordered, immutable dispatch table of a running instance.
type Table struct {
	routes []Route
}

// CompileTable compiles the enabled mappings in their given order. Any
// malformed pattern or destination fails the whole table.
func CompileTable(mappings []Mapping) (*Table, error) {
	t := &Table{}
	for i, m := range mappings {
		if !m.Enabled {
			continue
		}
		p, err := oscmatch.Compile(m.Input)
		if err != nil {
			return nil, fmt.Errorf("%w: mapping %d: %v", ErrMalformedPattern, i, err)
		}
		if err := checkMapping(m); err != nil {
			return nil, fmt.Errorf("%w: mapping %d: %v", ErrInvalidMapping, i, err)
		}
		t.routes = append(t.routes, Route{
			Pattern: p,
			Dest:    Endpoint{IP: m.DestIP, Port: m.DestPort},
			Output:  m.Output,
		})
	}
	return t, nil
}

func checkMapping(m Mapping) error {
	if !strings.HasPrefix(m.Output, "/") {
		return fmt.Errorf("output topic %q must start with '/'", m.Output)
	}
	if m.DestPort < 1 || m.DestPort > 65535 {
		return fmt.Errorf("destination port %d out of range", m.DestPort)
	}
	if net.ParseIP(m.DestIP) == nil && m.DestIP != "localhost" {
		return fmt.Errorf("destination ip %q is not an IP address", m.DestIP)
	}
	return nil
}

// Lookup returns the first route whose pattern matches topic.
func (t *Table) Lookup(topic string) (Route, bool) {
	for _, r := range t.routes {
		if r.Pattern.Match(topic) {
			return r, true
		}
	}
	return Route{}, false
}

func (t *Table) Len() int { return len(t.routes) }

// Routes returns a copy of the compiled routes in order.
func (t *Table) Routes() []Route {
	return append([]Route(nil), t.routes...)
}
