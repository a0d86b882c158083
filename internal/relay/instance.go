package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"golang.org/x/time/rate"

	"oscrelay/internal/metrics"
	"oscrelay/internal/runtime/supervisor"
	logx "oscrelay/pkg/logx"
)

const maxDatagram = 65535

// Queue-full log lines are limited separately from unmapped ones; the
// dropped counter and metric still see every datagram.
const (
	dropLogRate  = rate.Limit(1)
	dropLogBurst = 5
)

// Instance is one bound listener with its compiled dispatch table.
type Instance struct {
	snap      Snapshot
	table     *Table
	conn      *net.UDPConn
	startedAt time.Time

	queue chan *osc.Message
	sup   *supervisor.Supervisor

	pool    *ClientPool
	logs    *LogStore
	metrics *metrics.Relay
	log     logx.Logger

	unmappedLimit *rate.Limiter // nil means unlimited
	suppressed    atomic.Uint64
	dropLimit     *rate.Limiter
	dropSilenced  atomic.Uint64
	dropped       atomic.Uint64
	received      atomic.Uint64
	forwarded     atomic.Uint64
}

// InstanceInfo is a read-only view of a running instance.
type InstanceInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	ListenAddr string    `json:"listen_addr"`
	Routes     int       `json:"routes"`
	StartedAt  time.Time `json:"started_at"`
	Received   uint64    `json:"received"`
	Forwarded  uint64    `json:"forwarded"`
	Dropped    uint64    `json:"dropped"`

	Goroutines supervisor.Snapshot `json:"goroutines"`
}

// bind compiles the table and opens the socket. Nothing runs until start.
func bind(snap Snapshot, deps instanceDeps) (*Instance, error) {
	table, err := CompileTable(snap.Mappings)
	if err != nil {
		return nil, err
	}
	addr, err := net.ResolveUDPAddr("udp", snap.ListenAddr())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBind, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBind, err)
	}

	in := &Instance{
		snap:      snap,
		table:     table,
		conn:      conn,
		startedAt: time.Now(),
		queue:     make(chan *osc.Message, deps.queueSize),
		pool:      deps.pool,
		logs:      deps.logs,
		metrics:   deps.metrics,
		log:       deps.log.With(logx.String("config", snap.ID)),
		dropLimit: rate.NewLimiter(dropLogRate, dropLogBurst),
	}
	if deps.unmappedPerSec > 0 {
		in.unmappedLimit = rate.NewLimiter(rate.Limit(deps.unmappedPerSec), deps.unmappedBurst)
	}
	return in, nil
}

type instanceDeps struct {
	workers        int
	queueSize      int
	unmappedPerSec float64
	unmappedBurst  int

	pool    *ClientPool
	logs    *LogStore
	metrics *metrics.Relay
	log     logx.Logger
}

func (in *Instance) start(workers int) {
	in.sup = supervisor.New(context.Background(), supervisor.WithLogger(in.log))
	in.sup.Go("relay."+in.snap.ID+".listen", in.listen)
	for i := 0; i < workers; i++ {
		in.sup.Go0("relay."+in.snap.ID+".dispatch", in.work)
	}
}

// stop closes the socket and waits for the listener to exit and the workers
// to drain whatever was already queued.
func (in *Instance) stop() {
	_ = in.conn.Close()
	if err := in.sup.Stop(context.Background()); err != nil {
		in.log.Warn("relay goroutines exited with error", logx.Err(err))
	}
}

// Addr is the bound local address.
func (in *Instance) Addr() net.Addr { return in.conn.LocalAddr() }

func (in *Instance) Info() InstanceInfo {
	return InstanceInfo{
		ID:         in.snap.ID,
		Name:       in.snap.Name,
		ListenAddr: in.Addr().String(),
		Routes:     in.table.Len(),
		StartedAt:  in.startedAt,
		Received:   in.received.Load(),
		Forwarded:  in.forwarded.Load(),
		Dropped:    in.dropped.Load(),
		Goroutines: in.sup.Snapshot(),
	}
}

func (in *Instance) listen(ctx context.Context) error {
	// The listener is the only sender, so it owns closing the queue.
	defer close(in.queue)

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := in.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			in.log.Warn("udp read failed", logx.Err(err))
			time.Sleep(10 * time.Millisecond)
			continue
		}
		msgs, err := decode(buf[:n])
		if err != nil {
			in.log.Debug("dropping undecodable datagram", logx.String("from", from.String()), logx.Int("bytes", n), logx.Err(err))
			continue
		}
		for _, m := range msgs {
			in.received.Add(1)
			in.metrics.Received(in.snap.ID)
			select {
			case in.queue <- m:
			default:
				in.dropped.Add(1)
				in.metrics.Dropped(in.snap.ID)
				in.logDrop(m.Address)
			}
		}
	}
}

func (in *Instance) work(context.Context) {
	for msg := range in.queue {
		t0 := time.Now()
		in.dispatch(msg)
		in.metrics.ObserveDispatch(in.snap.ID, time.Since(t0))
	}
}

func (in *Instance) dispatch(msg *osc.Message) {
	topic := msg.Address
	if topic == "/" {
		return
	}
	var value any
	hasArg := len(msg.Arguments) > 0
	if hasArg {
		value = msg.Arguments[0]
	}

	route, ok := in.table.Lookup(topic)
	if !ok {
		in.unmapped(topic, value)
		return
	}
	if !hasArg {
		in.log.Debug("matched message has no argument", logx.String("topic", topic))
		return
	}

	in.logs.Append(in.snap.ID, fmt.Sprintf("[Rx] %s → [Tx] %s @ %s = %s", topic, route.Dest, route.Output, formatValue(value)))
	client, err := in.pool.GetOrCreate(route.Dest.IP, route.Dest.Port)
	if err == nil {
		err = client.Send(route.Output, value)
	}
	if err != nil {
		in.metrics.SendError(in.snap.ID)
		in.logs.Append(in.snap.ID, fmt.Sprintf("[Err] %s @ %s: %v", route.Dest, route.Output, err))
		return
	}
	in.forwarded.Add(1)
	in.metrics.Forwarded(in.snap.ID)
}

func (in *Instance) unmapped(topic string, value any) {
	in.metrics.Unmapped(in.snap.ID)
	if in.snap.HideUnmapped {
		return
	}
	if in.unmappedLimit != nil && !in.unmappedLimit.Allow() {
		in.suppressed.Add(1)
		return
	}
	text := fmt.Sprintf("[Rx] %s = %s (unmapped)", topic, formatValue(value))
	if n := in.suppressed.Swap(0); n > 0 {
		text += fmt.Sprintf(" [%d suppressed]", n)
	}
	in.logs.Append(in.snap.ID, text)
}

func (in *Instance) logDrop(topic string) {
	if !in.dropLimit.Allow() {
		in.dropSilenced.Add(1)
		return
	}
	text := fmt.Sprintf("[Drop] %s: dispatch queue full", topic)
	if n := in.dropSilenced.Swap(0); n > 0 {
		text += fmt.Sprintf(" [%d suppressed]", n)
	}
	in.logs.Append(in.snap.ID, text)
}
