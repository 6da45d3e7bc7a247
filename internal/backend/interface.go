package backend

import (
	"context"

	"dailybudget/internal/ledger"
	"dailybudget/internal/ledger/postgres"
	"dailybudget/internal/pointer"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// PingFunc reports whether a dependency is reachable.
type PingFunc func(ctx context.Context) error

// BackendResult is everything the budget service and its transports need
// from persistence.
type BackendResult struct {
	Store   ledger.Store
	Pointer pointer.Pointer
	// Pings are readiness probes keyed by dependency name.
	Pings   map[string]PingFunc
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend opens the ledger store and the pointer described by config.
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type    BackendType
	Pointer PointerType

	// SQLite specific
	SQLiteDBPath string

	// Postgres specific
	Postgres postgres.Config

	// Redis pointer specific
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// BackendType represents the type of ledger store
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

// PointerType selects where the active account pointer lives.
type PointerType string

const (
	AutoPointer   PointerType = "auto"
	MemoryPointer PointerType = "memory"
	SQLitePointer PointerType = "sqlite"
	RedisPointer  PointerType = "redis"
)

func (pt PointerType) String() string {
	return string(pt)
}

func (pt PointerType) IsValid() bool {
	switch pt {
	case AutoPointer, MemoryPointer, SQLitePointer, RedisPointer:
		return true
	default:
		return false
	}
}

// resolve turns AutoPointer into a concrete choice for the given store.
func (pt PointerType) resolve(store BackendType) PointerType {
	if pt != AutoPointer {
		return pt
	}
	if store == SQLiteBackend {
		return SQLitePointer
	}
	return MemoryPointer
}
