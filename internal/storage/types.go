// Package storage persists firing outcomes so operators can inspect recent
// runs (/status) across restarts.
package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage. An empty or "none" driver disables persistence.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// Firing outcome states.
const (
	StatusOK             = "ok"
	StatusFetchError     = "fetch_error"
	StatusRenderError    = "render_error"
	StatusDeliveryFailed = "delivery_failed"
)

// FiringRecord is one completed job firing. Keep it compact and schema-stable.
type FiringRecord struct {
	Report     string
	Chat       int64
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Attempts   int
	Error      string
	Artifact   string // rendered document path, if any
}

// Store is the minimal persistence API used by the firing pipeline.
type Store interface {
	RecordFiring(ctx context.Context, rec FiringRecord) error
	RecentFirings(ctx context.Context, limit int) ([]FiringRecord, error)
	Close() error
}
