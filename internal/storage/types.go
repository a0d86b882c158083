package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrClosed = errors.New("storage closed")

// Config selects and configures a driver. Driver "" or "none" disables storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 keeps the driver default
}

// AuditEntry records one control operation.
type AuditEntry struct {
	ID       string    `json:"id"`
	At       time.Time `json:"at"`
	Actor    string    `json:"actor"`
	Action   string    `json:"action"`
	ConfigID string    `json:"config_id,omitempty"`
	Target   string    `json:"target,omitempty"`
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms"`
}

// Store is the persistence API used by the app.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	// ListAudit returns up to limit entries, newest first.
	ListAudit(ctx context.Context, limit int) ([]AuditEntry, error)
	Close() error
}

// stamp fills the id and timestamp of an entry about to be stored.
func stamp(e AuditEntry) AuditEntry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	e.At = e.At.UTC()
	return e
}

const defaultListLimit = 100
