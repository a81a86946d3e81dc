package backend

import (
	"context"
	"time"

	"fibudget/internal/ledger"
	"fibudget/internal/storage"
)

// CleanupFunc releases the resources held by a backend
type CleanupFunc func() error

// BackendResult contains the store plus the hooks the binaries need around it
type BackendResult struct {
	Type  BackendType
	Store ledger.Store

	// SQLite is set only for the sqlite backend; the sync processor drains its queue.
	SQLite *storage.SQLiteRepository

	// Ping reports readiness. It is never nil.
	Ping func(ctx context.Context) error

	// Cleanup may be nil
	Cleanup CleanupFunc
}

// Close runs Cleanup if there is one.
func (r *BackendResult) Close() error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Postgres specific
	PostgresDSN string

	// SQL stores poll for subscriptions at this interval
	PollInterval time.Duration

	// Optional budget.saved publishing
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Memory backend specific
	DataDirectory string
}

// BackendType represents the type of backend
type BackendType string

const (
	MemoryBackend   BackendType = "memory"
	SQLiteBackend   BackendType = "sqlite"
	PostgresBackend BackendType = "postgres"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, PostgresBackend:
		return true
	default:
		return false
	}
}
