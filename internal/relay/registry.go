package relay

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"oscrelay/internal/eventbus"
	"oscrelay/internal/metrics"
	logx "oscrelay/pkg/logx"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 1024
)

// Options tunes a Registry. Zero values pick the defaults.
type Options struct {
	Workers        int
	QueueSize      int
	UnmappedPerSec float64
	UnmappedBurst  int
	StatusTail     int

	Metrics *metrics.Relay
	Bus     eventbus.Bus
	Log     logx.Logger
}

// Registry owns every running relay instance, at most one per config id.
//
// Lifecycle calls are serialized; stop blocks until the instance's listener
// has exited and its socket is closed. Dispatch never takes the registry lock.
type Registry struct {
	mu        sync.Mutex
	instances map[string]*Instance
	closed    bool

	pool *ClientPool
	logs *LogStore
	opts Options
	log  logx.Logger
}

// NewRegistry wires a registry to its shared log store and client pool.
func NewRegistry(logs *LogStore, pool *ClientPool, opts Options) *Registry {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.UnmappedBurst <= 0 {
		opts.UnmappedBurst = 1
		if opts.UnmappedPerSec > 1 {
			opts.UnmappedBurst = int(opts.UnmappedPerSec)
		}
	}
	if opts.StatusTail <= 0 {
		opts.StatusTail = DefaultStatusTail
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.Nop()
	}
	if logs == nil {
		logs = NewLogStore(DefaultLogCapacity, opts.Log)
	}
	if pool == nil {
		pool = NewClientPool()
	}
	m := opts.Metrics
	pool.OnSizeChange(m.SetPoolSize)

	return &Registry{
		instances: map[string]*Instance{},
		pool:      pool,
		logs:      logs,
		opts:      opts,
		log:       opts.Log.With(logx.String("comp", "relay.registry")),
	}
}

func (r *Registry) Logs() *LogStore   { return r.logs }
func (r *Registry) Pool() *ClientPool { return r.pool }

// Start reports whether snap is now running.
func (r *Registry) Start(snap Snapshot) bool { return r.StartErr(snap) == nil }

// StartErr binds and starts an instance for snap. It fails with
// ErrAlreadyRunning when snap.ID is registered and with ErrBind,
// ErrMalformedPattern or ErrInvalidMapping when the instance cannot be built.
func (r *Registry) StartErr(snap Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startLocked(snap)
}

func (r *Registry) startLocked(snap Snapshot) error {
	if r.closed {
		return ErrClosed
	}
	if _, ok := r.instances[snap.ID]; ok {
		r.logs.Append(snap.ID, "Already running")
		return fmt.Errorf("relay %s: %w", snap.ID, ErrAlreadyRunning)
	}

	in, err := bind(snap, instanceDeps{
		workers:        r.opts.Workers,
		queueSize:      r.opts.QueueSize,
		unmappedPerSec: r.opts.UnmappedPerSec,
		unmappedBurst:  r.opts.UnmappedBurst,
		pool:           r.pool,
		logs:           r.logs,
		metrics:        r.opts.Metrics,
		log:            r.opts.Log,
	})
	if err != nil {
		r.logs.Append(snap.ID, "Error starting: "+err.Error())
		r.opts.Bus.Publish(eventbus.Event{Type: eventbus.RelayStartFailed, ConfigID: snap.ID, Detail: err.Error()})
		return fmt.Errorf("relay %s: %w", snap.ID, err)
	}

	for _, rt := range in.table.Routes() {
		r.logs.Append(snap.ID, fmt.Sprintf("Dispatcher: %s → %s @ %s", rt.Pattern, rt.Dest, rt.Output))
	}
	in.start(r.opts.Workers)
	r.instances[snap.ID] = in
	r.opts.Metrics.SetRunning(len(r.instances))

	r.logs.Append(snap.ID, "Server started - RX "+in.Addr().String())
	r.opts.Bus.Publish(eventbus.Event{Type: eventbus.RelayStarted, ConfigID: snap.ID, Detail: in.Addr().String()})
	return nil
}

// Stop reports whether an instance for id was stopped.
func (r *Registry) Stop(id string) bool { return r.StopErr(id) == nil }

// StopErr stops the instance for id, or returns ErrNotRunning.
func (r *Registry) StopErr(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopLocked(id)
}

func (r *Registry) stopLocked(id string) error {
	in, ok := r.instances[id]
	if !ok {
		r.logs.AppendGlobal(fmt.Sprintf("Configuration %s not started", id))
		return fmt.Errorf("relay %s: %w", id, ErrNotRunning)
	}
	in.stop()
	delete(r.instances, id)
	r.opts.Metrics.SetRunning(len(r.instances))
	r.opts.Metrics.Forget(id)

	r.logs.Append(id, "Server stopped")
	r.opts.Bus.Publish(eventbus.Event{Type: eventbus.RelayStopped, ConfigID: id})
	return nil
}

// Restart stops snap.ID (if running) and starts snap again. There is a
// window with no listener in between.
func (r *Registry) Restart(snap Snapshot) bool { return r.RestartErr(snap) == nil }

func (r *Registry) RestartErr(snap Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs.Append(snap.ID, "Restarting...")
	if err := r.stopLocked(snap.ID); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return r.startLocked(snap)
}

// StopAll stops every instance and clears the client pool.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopAllLocked()
}

func (r *Registry) stopAllLocked() {
	for _, id := range r.runningLocked() {
		_ = r.stopLocked(id)
	}
	r.pool.Clear()
	r.logs.AppendGlobal("All relays stopped")
	r.opts.Bus.Publish(eventbus.Event{Type: eventbus.RelaysStoppedAll})
}

// Close stops everything and rejects further starts.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.stopAllLocked()
	r.closed = true
	r.log.Info("relay registry closed")
	return nil
}

func (r *Registry) IsConfigRunning(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.instances[id]
	return ok
}

// RunningConfigs lists running ids, sorted.
func (r *Registry) RunningConfigs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runningLocked()
}

func (r *Registry) runningLocked() []string {
	ids := make([]string, 0, len(r.instances))
	for id := range r.instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsRunning reports whether any instance is running.
func (r *Registry) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances) > 0
}

// Instances describes every running instance, sorted by id.
func (r *Registry) Instances() []InstanceInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]InstanceInfo, 0, len(r.instances))
	for _, id := range r.runningLocked() {
		out = append(out, r.instances[id].Info())
	}
	return out
}

// Status returns running ids and the recent tail of every log buffer.
func (r *Registry) Status() Status {
	st := Status{
		RunningConfigs: r.RunningConfigs(),
		LogsByConfig:   map[string][]string{},
		GlobalLogs:     Strings(r.logs.GlobalTail(r.opts.StatusTail)),
	}
	for id, entries := range r.logs.TailAll(r.opts.StatusTail) {
		st.LogsByConfig[id] = Strings(entries)
	}
	return st
}

// ConfigLogs returns the recent tail of one configuration's buffer.
func (r *Registry) ConfigLogs(id string) []string {
	return Strings(r.logs.Tail(id, r.opts.StatusTail))
}

func (r *Registry) ClearConfigLogs(id string) { r.logs.Clear(id) }

// SendOnce sends a single message on a throwaway client, independent of any
// running instance, and records it in the global log.
func (r *Registry) SendOnce(ip string, port int, topic string, value any) error {
	c, err := newClient(Endpoint{IP: ip, Port: port})
	if err == nil {
		err = c.Send(topic, value)
		_ = c.Close()
	}
	if err != nil {
		r.logs.AppendGlobal(fmt.Sprintf("[Test] %s @ %s failed: %v", Endpoint{IP: ip, Port: port}, topic, err))
		return err
	}
	r.logs.AppendGlobal(fmt.Sprintf("[Test] %s @ %s = %s", Endpoint{IP: ip, Port: port}, topic, formatValue(value)))
	return nil
}

// ExportLogs renders every configuration buffer as plain text. names maps
// config ids to display names; ids without a name use the id.
func (r *Registry) ExportLogs(names map[string]string) []byte {
	var b bytes.Buffer
	all := r.logs.TailAll(-1)
	for _, id := range r.logs.ConfigIDs() {
		name := names[id]
		if name == "" {
			name = id
		}
		fmt.Fprintf(&b, "=== %s ===\n", name)
		for _, e := range all[id] {
			b.WriteString(e.String())
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return b.Bytes()
}
