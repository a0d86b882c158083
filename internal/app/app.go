package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"oscrelay/internal/config"
	"oscrelay/internal/eventbus"
	"oscrelay/internal/httpapi"
	"oscrelay/internal/metrics"
	"oscrelay/internal/relay"
	"oscrelay/internal/runtime/supervisor"
	"oscrelay/internal/scheduler"
	"oscrelay/internal/storage"
	logx "oscrelay/pkg/logx"
)

// App wires config, the relay registry and the outer surfaces together.
type App struct {
	cfgPath string
	cfgm    *config.ConfigManager
	sup     *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	bus     eventbus.Bus
	store   storage.Store
	metrics *metrics.Relay

	relays *relay.Registry
	ctl    *control
	export *scheduler.Exporter
	http   *httpapi.Server

	// notify reports service-manager state; a no-op outside systemd.
	notify func(state string)
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogging(cfg))
	log.Info("config loaded", logx.String("path", cfgPath), logx.Int("relays", len(cfg.Relays)))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		bus:     eventbus.New(),
		metrics: metrics.New(),
		notify: func(state string) {
			_, _ = daemon.SdNotify(false, state)
		},
	}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			_ = logs.Close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	opts := mapRegistryOptions(cfg)
	opts.Metrics = a.metrics
	opts.Bus = a.bus
	opts.Log = log
	a.relays = relay.NewRegistry(relay.NewLogStore(cfg.Relay.LogCapacity, log), relay.NewClientPool(), opts)

	a.ctl = &control{
		cfg:    cfgm.Get,
		relays: a.relays,
		store:  a.store,
		log:    log.With(logx.String("comp", "control")),
	}
	a.export = scheduler.NewExporter(a.ctl.ExportLogs, log)
	if err := a.export.Apply(mapExportConfig(cfg)); err != nil {
		a.closeEarly()
		return nil, err
	}

	hc, err := mapHTTPConfig(cfg)
	if err != nil {
		a.closeEarly()
		return nil, err
	}
	a.http = httpapi.New(hc, httpapi.NewHandler(a.ctl, a.metrics.Handler()), log)
	a.ctl.export = a.export
	a.ctl.supervisors = a.supervisors
	return a, nil
}

// supervisors lists the long-lived supervisors by role.
func (a *App) supervisors() map[string]*supervisor.Supervisor {
	return map[string]*supervisor.Supervisor{
		"app":  a.sup,
		"http": a.http.Supervisor(),
	}
}

func (a *App) closeEarly() {
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logs.Close()
}

// Relays exposes the registry, mainly for tests and the CLI.
func (a *App) Relays() *relay.Registry { return a.relays }

// Backend returns the control surface served by the HTTP API.
func (a *App) Backend() httpapi.Backend { return a.ctl }

// HTTPAddr reports the bound API address once the server is ready.
func (a *App) HTTPAddr() string { return a.http.Addr() }

func (a *App) Log() logx.Logger { return a.log }

// Done is closed when the app's run context ends, for example after a fatal
// error in a supervised goroutine.
func (a *App) Done() <-chan struct{} {
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// reject reloads the outer surfaces cannot apply
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		_, err := mapHTTPConfig(cfg)
		return err
	})

	cfg := a.cfgm.Get()
	a.autoStart(a.sup.Context(), cfg)

	if err := a.export.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.http.Start(a.sup.Context()); err != nil {
		return err
	}

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.String("config", e.ConfigID), logx.Time("time", e.Time))
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.notify(daemon.SdNotifyReady)
	a.log.Info("app started", logx.Int("running", len(a.relays.RunningConfigs())))
	return nil
}

func (a *App) autoStart(ctx context.Context, cfg *config.Config) {
	ctx = withActor(ctx, "autostart")
	for _, r := range cfg.Relays {
		if !r.AutoStart {
			continue
		}
		if err := a.ctl.Start(ctx, r.ID); err != nil {
			a.log.Warn("auto-start failed", logx.String("config", r.ID), logx.Err(err))
		}
	}
}

// applyConfig fans a committed config out to every component.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, relays := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	has := func(name string) bool {
		for _, s := range sections {
			if s == name {
				return true
			}
		}
		return false
	}

	if has("logging") {
		a.logs.Apply(mapLogging(newCfg))
	}
	if has("storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if has("relay") {
		a.log.Warn("relay runtime config changed; restart required for changes to take effect")
	}
	if has("log_export") {
		if err := a.export.Apply(mapExportConfig(newCfg)); err != nil {
			a.log.Warn("invalid log_export config; keeping previous", logx.Err(err))
		}
	}
	if has("http") {
		hc, err := mapHTTPConfig(newCfg)
		if err != nil {
			a.log.Warn("invalid http config; keeping previous", logx.Err(err))
		} else if err := a.http.Reconfigure(ctx, hc); err != nil {
			a.log.Warn("http api reconfigure failed", logx.Err(err))
		}
	}

	rctx := withActor(ctx, "reload")
	for _, id := range relays.Removed {
		if a.relays.IsConfigRunning(id) {
			_ = a.ctl.Stop(rctx, id)
		}
	}
	for _, id := range relays.Changed {
		if a.relays.IsConfigRunning(id) {
			if err := a.ctl.Restart(rctx, id); err != nil {
				a.log.Warn("restart after reload failed", logx.String("config", id), logx.Err(err))
			}
		}
	}
	for _, id := range relays.Added {
		if rc, ok := newCfg.RelayByID(id); ok && rc.AutoStart {
			if err := a.ctl.Start(rctx, id); err != nil {
				a.log.Warn("auto-start after reload failed", logx.String("config", id), logx.Err(err))
			}
		}
	}

	a.bus.Publish(eventbus.Event{
		Type:   eventbus.ConfigReloaded,
		Time:   time.Now(),
		Detail: strings.Join(sections, ","),
	})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify(daemon.SdNotifyStopping)
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
			max = time.Until(dl)
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("http", 2*time.Second, a.http.Stop)
	step("log_export", 2*time.Second, a.export.Stop)
	step("relays", 3*time.Second, func(context.Context) error { return a.relays.Close() })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
