package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"oscrelay/internal/config"
	"oscrelay/internal/httpapi"
	"oscrelay/internal/relay"
	"oscrelay/internal/runtime/supervisor"
	"oscrelay/internal/scheduler"
	"oscrelay/internal/storage"
	logx "oscrelay/pkg/logx"
)

type actorKey struct{}

// withActor tags ctx with who triggered a control operation.
func withActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorOf(ctx context.Context) string {
	if s, ok := ctx.Value(actorKey{}).(string); ok && s != "" {
		return s
	}
	return "api"
}

// control resolves config ids against the live config, drives the registry
// and records an audit entry per operation. It implements httpapi.Backend.
type control struct {
	cfg    func() *config.Config
	relays *relay.Registry
	store  storage.Store
	log    logx.Logger

	// Set once the outer surfaces exist; both may be nil.
	export      *scheduler.Exporter
	supervisors func() map[string]*supervisor.Supervisor
}

var _ httpapi.Backend = (*control)(nil)

func (c *control) lookup(id string) (config.RelayConfig, error) {
	rc, ok := c.cfg().RelayByID(id)
	if !ok {
		return config.RelayConfig{}, fmt.Errorf("%s: %w", id, httpapi.ErrUnknownConfig)
	}
	return rc, nil
}

func (c *control) Start(ctx context.Context, id string) error {
	start := time.Now()
	rc, err := c.lookup(id)
	if err == nil {
		err = c.relays.StartErr(snapshotOf(rc))
	}
	c.audit(ctx, "start", id, rc.ListenIP, start, err)
	return err
}

// Stop does not require the id to still be configured: a relay removed from
// the file keeps running until stopped.
func (c *control) Stop(ctx context.Context, id string) error {
	start := time.Now()
	err := c.relays.StopErr(id)
	c.audit(ctx, "stop", id, "", start, err)
	return err
}

func (c *control) Restart(ctx context.Context, id string) error {
	start := time.Now()
	rc, err := c.lookup(id)
	if err == nil {
		err = c.relays.RestartErr(snapshotOf(rc))
	}
	c.audit(ctx, "restart", id, "", start, err)
	return err
}

func (c *control) StopAll(ctx context.Context) {
	start := time.Now()
	c.relays.StopAll()
	c.audit(ctx, "stop_all", "", "", start, nil)
}

func (c *control) Status() relay.Status { return c.relays.Status() }

func (c *control) Instances() []relay.InstanceInfo { return c.relays.Instances() }

func (c *control) Configs() []httpapi.ConfigView {
	cfg := c.cfg()
	out := make([]httpapi.ConfigView, 0, len(cfg.Relays))
	for _, r := range cfg.Relays {
		out = append(out, httpapi.ConfigView{
			ID:           r.ID,
			Name:         r.DisplayName(),
			ListenIP:     r.ListenIP,
			ListenPort:   r.ListenPort,
			AutoStart:    r.AutoStart,
			HideUnmapped: r.HideUnmapped,
			Mappings:     len(r.Mappings),
			Running:      c.relays.IsConfigRunning(r.ID),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *control) ConfigLogs(id string) []string { return c.relays.ConfigLogs(id) }

func (c *control) ClearConfigLogs(ctx context.Context, id string) {
	start := time.Now()
	c.relays.ClearConfigLogs(id)
	c.audit(ctx, "clear_logs", id, "", start, nil)
}

// Send is the diagnostic one-shot send. String values that parse as numbers
// go out as float32.
func (c *control) Send(ctx context.Context, req httpapi.SendRequest) error {
	start := time.Now()
	target := relay.Endpoint{IP: req.IP, Port: req.Port}.String() + " @ " + req.Topic

	var (
		v   any
		err error
	)
	if s, ok := req.Value.(string); ok {
		v = relay.ParseValue(s)
	} else if v, err = relay.NormalizeValue(req.Value); err != nil {
		err = fmt.Errorf("%w: %v", httpapi.ErrInvalidValue, err)
	}
	if err == nil {
		err = c.relays.SendOnce(req.IP, req.Port, req.Topic, v)
	}
	c.audit(ctx, "send", "", target, start, err)
	return err
}

func (c *control) ExportLogs() []byte {
	return c.relays.ExportLogs(displayNames(c.cfg()))
}

func (c *control) Audit(ctx context.Context, limit int) ([]storage.AuditEntry, error) {
	if c.store == nil {
		return []storage.AuditEntry{}, nil
	}
	return c.store.ListAudit(ctx, limit)
}

func (c *control) Runtime() httpapi.RuntimeView {
	pool := c.relays.Pool()
	v := httpapi.RuntimeView{
		Instances:   c.relays.Instances(),
		Pool:        pool.Endpoints(),
		PoolCreated: pool.Created(),
		Supervisors: map[string]supervisor.Snapshot{},
	}
	if c.supervisors != nil {
		for name, sup := range c.supervisors() {
			if sup != nil {
				v.Supervisors[name] = sup.Snapshot()
			}
		}
	}
	if c.export != nil {
		v.LogExport = c.export.Status()
	}
	return v
}

func (c *control) audit(ctx context.Context, action, configID, target string, start time.Time, opErr error) {
	if c.store == nil {
		return
	}
	e := storage.AuditEntry{
		Actor:    actorOf(ctx),
		Action:   action,
		ConfigID: configID,
		Target:   target,
		OK:       opErr == nil,
		TookMS:   time.Since(start).Milliseconds(),
	}
	if opErr != nil {
		e.Error = opErr.Error()
	}
	// The request ctx may already be cancelled; the audit row still lands.
	if err := c.store.AppendAudit(context.WithoutCancel(ctx), e); err != nil && !errors.Is(err, storage.ErrClosed) {
		c.log.Warn("audit append failed", logx.String("action", action), logx.Err(err))
	}
}
