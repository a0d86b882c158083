// Package scheduler writes relay log exports to disk on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "oscrelay/pkg/logx"
)

const (
	filePrefix = "osc_logs_"
	fileLayout = "20060102_150405"
)

// Config mirrors the log_export config section.
type Config struct {
	Enabled  bool
	Schedule string // standard 5-field cron or a descriptor like "@hourly"
	Dir      string
	Timezone string
	Keep     int // 0 keeps every file
}

// ExportFunc renders the current logs.
type ExportFunc func() []byte

// Exporter owns one cron runner. Apply may be called at any time to swap
// the schedule; the runner is rebuilt only when the config changed.
type Exporter struct {
	export ExportFunc
	log    logx.Logger
	parser cron.Parser
	now    func() time.Time

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	started bool
	runs    uint64
	lastErr error
	last    string
}

func NewExporter(export ExportFunc, log logx.Logger) *Exporter {
	return &Exporter{
		export: export,
		log:    log.With(logx.String("comp", "log_export")),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		now:    time.Now,
	}
}

// Start begins running the current config's schedule.
func (e *Exporter) Start(context.Context) error {
	e.mu.Lock()
	e.started = true
	prev, err := e.rebuildLocked()
	e.mu.Unlock()
	waitStopped(prev)
	return err
}

// Apply swaps the config. A running exporter reschedules immediately; an
// export already in flight finishes on the old schedule.
func (e *Exporter) Apply(cfg Config) error {
	e.mu.Lock()
	if cfg == e.cfg && (e.c != nil || !cfg.Enabled) {
		e.mu.Unlock()
		return nil
	}
	e.cfg = cfg
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	prev, err := e.rebuildLocked()
	e.mu.Unlock()
	waitStopped(prev)
	return err
}

// Stop halts the runner and waits for a running export to finish.
func (e *Exporter) Stop(ctx context.Context) error {
	e.mu.Lock()
	c := e.c
	e.c = nil
	e.started = false
	e.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitStopped blocks until the jobs of a stopped runner return. It must be
// called without e.mu held: those jobs take it in RunOnce.
func waitStopped(done <-chan struct{}) {
	if done != nil {
		<-done
	}
}

// rebuildLocked swaps in a runner for e.cfg. The previous runner is told to
// stop; the returned channel closes once its running jobs have returned.
func (e *Exporter) rebuildLocked() (<-chan struct{}, error) {
	var prev <-chan struct{}
	if e.c != nil {
		prev = e.c.Stop().Done()
		e.c = nil
	}
	if !e.cfg.Enabled {
		return prev, nil
	}
	loc := time.Local
	if tz := strings.TrimSpace(e.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			e.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		} else {
			loc = l
		}
	}
	c := cron.New(cron.WithParser(e.parser), cron.WithLocation(loc))
	if _, err := c.AddFunc(e.cfg.Schedule, func() {
		if _, err := e.RunOnce(); err != nil {
			e.log.Warn("log export failed", logx.Err(err))
		}
	}); err != nil {
		return prev, fmt.Errorf("log_export.schedule %q: %w", e.cfg.Schedule, err)
	}
	c.Start()
	e.c = c
	e.log.Info("log export scheduled", logx.String("schedule", e.cfg.Schedule), logx.String("dir", e.cfg.Dir), logx.String("tz", loc.String()))
	return prev, nil
}

// RunOnce writes one export file and prunes old ones. It returns the path written.
func (e *Exporter) RunOnce() (string, error) {
	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	path, err := e.write(cfg)

	e.mu.Lock()
	e.runs++
	e.lastErr = err
	if err == nil {
		e.last = path
	}
	e.mu.Unlock()
	return path, err
}

func (e *Exporter) write(cfg Config) (string, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		return "", errors.New("log export dir not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, FileName(e.now()))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, e.export(), 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	e.log.Debug("log export written", logx.String("path", path))
	if cfg.Keep > 0 {
		if err := prune(dir, cfg.Keep); err != nil {
			e.log.Warn("log export prune failed", logx.Err(err))
		}
	}
	return path, nil
}

// FileName names an export taken at t.
func FileName(t time.Time) string {
	return filePrefix + t.Format(fileLayout) + ".txt"
}

// prune removes the oldest exports beyond keep. Names sort chronologically.
func prune(dir string, keep int) error {
	matches, err := filepath.Glob(filepath.Join(dir, filePrefix+"*.txt"))
	if err != nil {
		return err
	}
	if len(matches) <= keep {
		return nil
	}
	sort.Strings(matches)
	var errs []error
	for _, p := range matches[:len(matches)-keep] {
		if err := os.Remove(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Status is a snapshot for the status API.
type Status struct {
	Enabled  bool      `json:"enabled"`
	Schedule string    `json:"schedule,omitempty"`
	Next     time.Time `json:"next,omitempty"`
	Runs     uint64    `json:"runs"`
	LastFile string    `json:"last_file,omitempty"`
	LastErr  string    `json:"last_err,omitempty"`
}

func (e *Exporter) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{Enabled: e.cfg.Enabled, Schedule: e.cfg.Schedule, Runs: e.runs, LastFile: e.last}
	if e.lastErr != nil {
		st.LastErr = e.lastErr.Error()
	}
	if e.c != nil {
		if entries := e.c.Entries(); len(entries) > 0 {
			st.Next = entries[0].Next
		}
	}
	return st
}
