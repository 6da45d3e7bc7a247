package memory

import (
	"context"
	"sort"
	"sync"

	"dailybudget/internal/core"
	"dailybudget/internal/ledger"
)

// Store is an in-process ledger. Writes are serialized by a single mutex,
// which also gives every caller read-your-writes consistency.
type Store struct {
	mu    sync.Mutex
	state *state
}

type state struct {
	accounts      map[int64]core.Account
	spends        map[int64]core.Spend
	nextAccountID int64
	nextSpendID   int64
}

var _ ledger.Store = (*Store)(nil)

func New() *Store {
	return &Store{state: &state{
		accounts: make(map[int64]core.Account),
		spends:   make(map[int64]core.Spend),
	}}
}

func (s *Store) GetAccount(ctx context.Context, id int64) (core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s.state}.GetAccount(ctx, id)
}

func (s *Store) InsertAccount(ctx context.Context, a core.Account) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s.state}.InsertAccount(ctx, a)
}

func (s *Store) UpdateAccount(ctx context.Context, a core.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s.state}.UpdateAccount(ctx, a)
}

func (s *Store) DeleteAccount(ctx context.Context, a core.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s.state}.DeleteAccount(ctx, a)
}

func (s *Store) GetSpend(ctx context.Context, id int64) (core.Spend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s.state}.GetSpend(ctx, id)
}

func (s *Store) GetSpendsByAccount(ctx context.Context, accountID int64) ([]core.Spend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s.state}.GetSpendsByAccount(ctx, accountID)
}

func (s *Store) InsertSpend(ctx context.Context, sp core.Spend) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s.state}.InsertSpend(ctx, sp)
}

func (s *Store) UpdateSpend(ctx context.Context, sp core.Spend) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s.state}.UpdateSpend(ctx, sp)
}

func (s *Store) DeleteSpend(ctx context.Context, sp core.Spend) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s.state}.DeleteSpend(ctx, sp)
}

func (s *Store) DeleteSpendsByAccount(ctx context.Context, accountID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{s.state}.DeleteSpendsByAccount(ctx, accountID)
}

// InTx runs fn against a private copy of the ledger and swaps it in only
// when fn succeeds. Other callers block until the transaction finishes.
func (s *Store) InTx(ctx context.Context, fn func(tx ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	draft := s.state.clone()
	if err := fn(view{draft}); err != nil {
		return err
	}
	s.state = draft
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (st *state) clone() *state {
	out := &state{
		accounts:      make(map[int64]core.Account, len(st.accounts)),
		spends:        make(map[int64]core.Spend, len(st.spends)),
		nextAccountID: st.nextAccountID,
		nextSpendID:   st.nextSpendID,
	}
	for k, v := range st.accounts {
		out.accounts[k] = v
	}
	for k, v := range st.spends {
		out.spends[k] = v
	}
	return out
}

// view operates on a state without locking; callers hold the lock.
type view struct{ st *state }

func (v view) GetAccount(ctx context.Context, id int64) (core.Account, error) {
	if err := ctx.Err(); err != nil {
		return core.Account{}, err
	}
	a, ok := v.st.accounts[id]
	if !ok {
		return core.Account{}, ledger.ErrNotFound
	}
	return a, nil
}

func (v view) InsertAccount(ctx context.Context, a core.Account) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	v.st.nextAccountID++
	a.ID = v.st.nextAccountID
	v.st.accounts[a.ID] = a
	return a.ID, nil
}

func (v view) UpdateAccount(ctx context.Context, a core.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := v.st.accounts[a.ID]; !ok {
		return ledger.ErrNotFound
	}
	v.st.accounts[a.ID] = a
	return nil
}

func (v view) DeleteAccount(ctx context.Context, a core.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := v.st.accounts[a.ID]; !ok {
		return ledger.ErrNotFound
	}
	delete(v.st.accounts, a.ID)
	return nil
}

func (v view) GetSpend(ctx context.Context, id int64) (core.Spend, error) {
	if err := ctx.Err(); err != nil {
		return core.Spend{}, err
	}
	sp, ok := v.st.spends[id]
	if !ok {
		return core.Spend{}, ledger.ErrNotFound
	}
	return sp, nil
}

func (v view) GetSpendsByAccount(ctx context.Context, accountID int64) ([]core.Spend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]core.Spend, 0)
	for _, sp := range v.st.spends {
		if sp.AccountID == accountID {
			out = append(out, sp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (v view) InsertSpend(ctx context.Context, sp core.Spend) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if _, ok := v.st.accounts[sp.AccountID]; !ok {
		return 0, ledger.ErrNotFound
	}
	v.st.nextSpendID++
	sp.ID = v.st.nextSpendID
	v.st.spends[sp.ID] = sp
	return sp.ID, nil
}

func (v view) UpdateSpend(ctx context.Context, sp core.Spend) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := v.st.spends[sp.ID]; !ok {
		return ledger.ErrNotFound
	}
	if _, ok := v.st.accounts[sp.AccountID]; !ok {
		return ledger.ErrNotFound
	}
	v.st.spends[sp.ID] = sp
	return nil
}

func (v view) DeleteSpend(ctx context.Context, sp core.Spend) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := v.st.spends[sp.ID]; !ok {
		return ledger.ErrNotFound
	}
	delete(v.st.spends, sp.ID)
	return nil
}

func (v view) DeleteSpendsByAccount(ctx context.Context, accountID int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int64
	for id, sp := range v.st.spends {
		if sp.AccountID == accountID {
			delete(v.st.spends, id)
			n++
		}
	}
	return n, nil
}

// InTx on a view is already inside a transaction.
func (v view) InTx(ctx context.Context, fn func(tx ledger.Store) error) error {
	return fn(v)
}

func (v view) Ping(ctx context.Context) error {
	return ctx.Err()
}
