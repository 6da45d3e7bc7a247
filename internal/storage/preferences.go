package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"dailybudget/internal/core"
	"dailybudget/internal/pointer"
)

// PreferencesPointer keeps the active account id in the preferences table.
// Watchers are notified in-process only.
type PreferencesPointer struct {
	repo *SQLiteRepository
}

var _ pointer.Pointer = (*PreferencesPointer)(nil)

func (r *SQLiteRepository) Pointer() *PreferencesPointer {
	return &PreferencesPointer{repo: r}
}

func (p *PreferencesPointer) Read(ctx context.Context) (int64, error) {
	v, err := p.repo.queries.GetPreference(ctx, pointer.Key)
	if errors.Is(err, sql.ErrNoRows) {
		return core.NoAccount, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read preference %s: %w", pointer.Key, err)
	}
	return v, nil
}

func (p *PreferencesPointer) Write(ctx context.Context, id int64) error {
	if err := p.repo.queries.SetPreference(ctx, pointer.Key, id); err != nil {
		return fmt.Errorf("write preference %s: %w", pointer.Key, err)
	}
	p.repo.hub.Publish(id)
	return nil
}

func (p *PreferencesPointer) Watch(ctx context.Context) (<-chan int64, error) {
	return p.repo.hub.Subscribe(ctx, func() (int64, error) { return p.Read(ctx) })
}
