package relay

import (
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oscrelay/internal/eventbus"
	"oscrelay/internal/metrics"
	logx "oscrelay/pkg/logx"
)

func newTestRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	if opts.Workers == 0 {
		opts.Workers = 1
	}
	r := NewRegistry(NewLogStore(DefaultLogCapacity, logx.Nop()), NewClientPool(), opts)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// listenUDP opens a loopback receiver on an ephemeral port.
func listenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func portOf(conn *net.UDPConn) int { return conn.LocalAddr().(*net.UDPAddr).Port }

func readMessage(conn *net.UDPConn, timeout time.Duration) (*osc.Message, error) {
	buf := make([]byte, maxDatagram)
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, err
	}
	pkt, err := osc.ParsePacket(string(buf[:n]))
	if err != nil {
		return nil, err
	}
	msg, ok := pkt.(*osc.Message)
	if !ok {
		return nil, errors.New("not a message")
	}
	return msg, nil
}

func sendMessage(t *testing.T, addr string, topic string, args ...any) {
	t.Helper()
	conn, err := net.Dial("udp", addr)
	require.NoError(t, err)
	defer conn.Close()
	b, err := osc.NewMessage(topic, args...).MarshalBinary()
	require.NoError(t, err)
	_, err = conn.Write(b)
	require.NoError(t, err)
}

func listenAddrOf(t *testing.T, r *Registry, id string) string {
	t.Helper()
	for _, info := range r.Instances() {
		if info.ID == id {
			return info.ListenAddr
		}
	}
	t.Fatalf("instance %s not running", id)
	return ""
}

func snapshot(id string, mappings ...Mapping) Snapshot {
	return Snapshot{ID: id, Name: id, ListenIP: "127.0.0.1", ListenPort: 0, Mappings: mappings}
}

func TestStartTwiceKeepsOneInstance(t *testing.T) {
	r := newTestRegistry(t, Options{})
	snap := snapshot("desk")

	require.True(t, r.Start(snap))
	addr := listenAddrOf(t, r, "desk")

	err := r.StartErr(snap)
	require.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, []string{"desk"}, r.RunningConfigs())
	assert.Equal(t, addr, listenAddrOf(t, r, "desk"))
	assert.Contains(t, strings.Join(r.ConfigLogs("desk"), "\n"), "Already running")
}

func TestStopUnknownIsNoop(t *testing.T) {
	r := newTestRegistry(t, Options{})

	require.False(t, r.Stop("ghost"))
	require.ErrorIs(t, r.StopErr("ghost"), ErrNotRunning)
	assert.Empty(t, r.RunningConfigs())
	assert.False(t, r.IsRunning())

	st := r.Status()
	require.NotEmpty(t, st.GlobalLogs)
	assert.Contains(t, st.GlobalLogs[0], "Configuration ghost not started")
}

func TestForwardsMatchedMessage(t *testing.T) {
	dest := listenUDP(t)
	r := newTestRegistry(t, Options{})
	require.True(t, r.Start(snapshot("desk", Mapping{
		Input: "/foo", Output: "/bar", DestIP: "127.0.0.1", DestPort: portOf(dest), Enabled: true,
	})))

	sendMessage(t, listenAddrOf(t, r, "desk"), "/foo", float32(3.5), "ignored")

	msg, err := readMessage(dest, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "/bar", msg.Address)
	assert.Equal(t, []any{float32(3.5)}, msg.Arguments)

	_, err = readMessage(dest, 100*time.Millisecond)
	require.Error(t, err, "expected exactly one outbound datagram")

	var routed []string
	for _, line := range r.ConfigLogs("desk") {
		if strings.Contains(line, "[Rx] /foo") {
			routed = append(routed, line)
		}
	}
	require.Len(t, routed, 1)
	assert.Contains(t, routed[0], "/bar")
	assert.Contains(t, routed[0], "3.5")
	assert.Contains(t, routed[0], "127.0.0.1:")
}

func TestForwardsNilArgument(t *testing.T) {
	dest := listenUDP(t)
	r := newTestRegistry(t, Options{})
	require.True(t, r.Start(snapshot("desk", Mapping{
		Input: "/*", Output: "/o", DestIP: "127.0.0.1", DestPort: portOf(dest), Enabled: true,
	})))
	addr := listenAddrOf(t, r, "desk")

	sendMessage(t, addr, "/empty")
	sendMessage(t, addr, "/in", nil)

	msg, err := readMessage(dest, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "/o", msg.Address)
	assert.Equal(t, []any{nil}, msg.Arguments)

	_, err = readMessage(dest, 100*time.Millisecond)
	require.Error(t, err, "a message without arguments must not be forwarded")
}

// counterValue reads one labelled counter from the metrics registry.
func counterValue(t *testing.T, m *metrics.Relay, name, config string) float64 {
	t.Helper()
	mfs, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "config" && lp.GetValue() == config {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestSendFailureKeepsInstanceRunning(t *testing.T) {
	broken := listenUDP(t)
	healthy := listenUDP(t)
	m := metrics.New()
	r := newTestRegistry(t, Options{Metrics: m})
	require.True(t, r.Start(snapshot("desk",
		Mapping{Input: "/fail", Output: "/x", DestIP: "127.0.0.1", DestPort: portOf(broken), Enabled: true},
		Mapping{Input: "/ok", Output: "/y", DestIP: "127.0.0.1", DestPort: portOf(healthy), Enabled: true},
	)))
	addr := listenAddrOf(t, r, "desk")

	c, err := r.Pool().GetOrCreate("127.0.0.1", portOf(broken))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	sendMessage(t, addr, "/fail", float32(1))
	sendMessage(t, addr, "/ok", float32(2))

	msg, err := readMessage(healthy, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "/y", msg.Address)
	assert.True(t, r.IsConfigRunning("desk"))

	var errLines []string
	for _, line := range r.ConfigLogs("desk") {
		if strings.Contains(line, "[Err]") {
			errLines = append(errLines, line)
		}
	}
	require.Len(t, errLines, 1)
	assert.Contains(t, errLines[0], "/x")
	assert.Equal(t, 1.0, counterValue(t, m, "oscrelay_send_errors_total", "desk"))
	require.Eventually(t, func() bool {
		return counterValue(t, m, "oscrelay_messages_forwarded_total", "desk") == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUnmappedMessageIsLoggedNotForwarded(t *testing.T) {
	dest := listenUDP(t)
	r := newTestRegistry(t, Options{})
	require.True(t, r.Start(snapshot("desk", Mapping{
		Input: "/foo", Output: "/bar", DestIP: "127.0.0.1", DestPort: portOf(dest), Enabled: true,
	})))

	sendMessage(t, listenAddrOf(t, r, "desk"), "/other", int32(7))

	require.Eventually(t, func() bool {
		for _, line := range r.ConfigLogs("desk") {
			if strings.Contains(line, "[Rx] /other = 7 (unmapped)") {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	_, err := readMessage(dest, 100*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, 0, r.Pool().Len())
}

func TestHideUnmappedAndRootTopic(t *testing.T) {
	dest := listenUDP(t)
	r := newTestRegistry(t, Options{})
	snap := snapshot("desk", Mapping{
		Input: "/foo", Output: "/bar", DestIP: "127.0.0.1", DestPort: portOf(dest), Enabled: true,
	})
	snap.HideUnmapped = true
	require.True(t, r.Start(snap))
	addr := listenAddrOf(t, r, "desk")

	sendMessage(t, addr, "/", float32(1))
	sendMessage(t, addr, "/nothing", float32(1))
	sendMessage(t, addr, "/foo", float32(2))

	// Workers=1 keeps dispatch ordered, so once /foo arrives the others are done.
	_, err := readMessage(dest, 2*time.Second)
	require.NoError(t, err)
	for _, line := range r.ConfigLogs("desk") {
		assert.NotContains(t, line, "unmapped")
		assert.NotContains(t, line, "[Rx] / ")
	}
}

func TestStartFailures(t *testing.T) {
	r := newTestRegistry(t, Options{})

	bad := snapshot("bad", Mapping{Input: "/a/{x", Output: "/b", DestIP: "127.0.0.1", DestPort: 1, Enabled: true})
	require.ErrorIs(t, r.StartErr(bad), ErrMalformedPattern)
	assert.False(t, r.IsConfigRunning("bad"))
	assert.Contains(t, strings.Join(r.ConfigLogs("bad"), "\n"), "Error starting:")

	taken := listenUDP(t)
	clash := snapshot("clash")
	clash.ListenPort = portOf(taken)
	require.ErrorIs(t, r.StartErr(clash), ErrBind)
	assert.Empty(t, r.RunningConfigs())
}

func TestRestartRebinds(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	r := newTestRegistry(t, Options{Bus: bus})
	require.True(t, r.Start(snapshot("desk")))
	require.True(t, r.Restart(snapshot("desk")))
	assert.True(t, r.IsConfigRunning("desk"))

	var types []string
	for len(types) < 3 {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("missing events, got %v", types)
		}
	}
	assert.Equal(t, []string{eventbus.RelayStarted, eventbus.RelayStopped, eventbus.RelayStarted}, types)
	assert.Contains(t, strings.Join(r.ConfigLogs("desk"), "\n"), "Restarting...")
}

func TestStopAllClearsPool(t *testing.T) {
	dest := listenUDP(t)
	r := newTestRegistry(t, Options{})
	m := Mapping{Input: "/foo", Output: "/bar", DestIP: "127.0.0.1", DestPort: portOf(dest), Enabled: true}
	require.True(t, r.Start(snapshot("a", m)))
	require.True(t, r.Start(snapshot("b")))

	sendMessage(t, listenAddrOf(t, r, "a"), "/foo", float32(1))
	_, err := readMessage(dest, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, r.Pool().Len())
	created := r.Pool().Created()

	r.StopAll()
	assert.Empty(t, r.RunningConfigs())
	assert.Equal(t, 0, r.Pool().Len())

	require.True(t, r.Start(snapshot("a", m)))
	sendMessage(t, listenAddrOf(t, r, "a"), "/foo", float32(2))
	_, err = readMessage(dest, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, created+1, r.Pool().Created())
}

func TestStatusShape(t *testing.T) {
	r := newTestRegistry(t, Options{StatusTail: 5})
	require.True(t, r.Start(snapshot("desk")))
	for i := 0; i < 30; i++ {
		r.Logs().Append("desk", "line")
		r.Logs().AppendGlobal("g")
	}

	st := r.Status()
	assert.Equal(t, []string{"desk"}, st.RunningConfigs)
	assert.Len(t, st.LogsByConfig["desk"], 5)
	assert.Len(t, st.GlobalLogs, 5)

	r.ClearConfigLogs("desk")
	assert.Empty(t, r.ConfigLogs("desk"))
}

func TestSendOnce(t *testing.T) {
	dest := listenUDP(t)
	r := newTestRegistry(t, Options{})

	require.NoError(t, r.SendOnce("127.0.0.1", portOf(dest), "/check", ParseValue("0.25")))
	msg, err := readMessage(dest, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "/check", msg.Address)
	assert.Equal(t, []any{float32(0.25)}, msg.Arguments)

	g := r.Logs().GlobalTail(1)
	require.Len(t, g, 1)
	assert.Contains(t, g[0].Text, "[Test] 127.0.0.1:")
	assert.Contains(t, g[0].Text, "@ /check = 0.25")
	assert.Equal(t, 0, r.Pool().Len())
}

func TestExportLogs(t *testing.T) {
	r := newTestRegistry(t, Options{})
	r.Logs().Append("a", "first")
	r.Logs().Append("b", "second")

	out := string(r.ExportLogs(map[string]string{"a": "Front of house"}))
	assert.Contains(t, out, "=== Front of house ===\n")
	assert.Contains(t, out, "=== b ===\n")
	assert.Contains(t, out, "] first\n")
	assert.True(t, strings.Index(out, "first") < strings.Index(out, "second"))
}

func TestClosedRegistryRejectsStart(t *testing.T) {
	r := newTestRegistry(t, Options{})
	require.NoError(t, r.Close())
	require.ErrorIs(t, r.StartErr(snapshot("late")), ErrClosed)
}
