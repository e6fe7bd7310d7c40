package stores

import (
	"context"
	"errors"
	"time"
)

// DateLayout is the storage format of install dates.
const DateLayout = "2006-01-02"

// ErrNotFound is returned when a package has no ledger row.
var ErrNotFound = errors.New("package not found in ledger")

// EventStatus is the outcome recorded for a lifecycle operation.
type EventStatus string

const (
	EventStatusSucceeded EventStatus = "succeeded"
	EventStatusFailed    EventStatus = "failed"
	EventStatusForced    EventStatus = "forced"
	EventStatusDetected  EventStatus = "detected"
	EventStatusAbsent    EventStatus = "absent"
)

// InstalledPackage is one row of the installed-package ledger.
type InstalledPackage struct {
	Name            string    `json:"name" yaml:"name"`
	Version         string    `json:"version" yaml:"version"`
	AbsoluteVersion int64     `json:"absolute_version" yaml:"absolute_version"`
	InstallDate     time.Time `json:"install_date" yaml:"install_date"`
}

// Event is an append-only history entry for one package operation.
type Event struct {
	ID        int64       `json:"id" yaml:"id"`
	RunID     string      `json:"run_id" yaml:"run_id"`
	Package   string      `json:"package" yaml:"package"`
	Operation string      `json:"operation" yaml:"operation"`
	Status    EventStatus `json:"status" yaml:"status"`
	Message   string      `json:"message,omitempty" yaml:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp" yaml:"timestamp"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Ledger operations
	Upsert(ctx context.Context, name, version string, absoluteVersion int64, date time.Time) error
	Exists(ctx context.Context, name string) (bool, error)
	Get(ctx context.Context, name string) (*InstalledPackage, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]*InstalledPackage, error)

	// History operations
	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, pkg string, limit int) ([]*Event, error)
}
