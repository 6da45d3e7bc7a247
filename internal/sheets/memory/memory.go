// Package memory is a SpendWriter that keeps exported rows in process.
package memory

import (
	"context"
	"fmt"
	"sync"

	"dailybudget/internal/core"
)

type Row struct {
	AccountID int64
	Spend     core.Spend
}

type Store struct {
	mu   sync.Mutex
	rows []Row
}

func New() *Store {
	return &Store{}
}

// AppendSpend stores the row and returns a synthetic row reference.
func (s *Store) AppendSpend(_ context.Context, accountID int64, sp core.Spend) (string, error) {
	if err := sp.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, Row{AccountID: accountID, Spend: sp})
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// Rows returns a copy of everything appended so far.
func (s *Store) Rows() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Row(nil), s.rows...)
}
