// Package pointer persists the id of the currently selected account and
// lets readers observe changes to it.
package pointer

import (
	"context"
	"sync"

	"dailybudget/internal/core"
)

// Key is the preference key the active account id is stored under.
const Key = "bdb-current-account"

// Pointer stores a single account id. A store with nothing written yet
// reads as core.NoAccount.
type Pointer interface {
	Read(ctx context.Context) (int64, error)
	Write(ctx context.Context, id int64) error
	// Watch emits the current value immediately and every change after it.
	// The channel is closed when ctx is done. Intermediate values may be
	// skipped when the reader is slow; the latest value is always delivered.
	Watch(ctx context.Context) (<-chan int64, error)
}

// Memory is an in-process Pointer.
type Memory struct {
	hub *Hub
	mu  sync.Mutex
	id  int64
}

var _ Pointer = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{hub: NewHub(), id: core.NoAccount}
}

func (m *Memory) Read(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id, nil
}

func (m *Memory) Write(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = id
	m.hub.Publish(id)
	return nil
}

func (m *Memory) Watch(ctx context.Context) (<-chan int64, error) {
	return m.hub.Subscribe(ctx, func() (int64, error) { return m.Read(ctx) })
}
