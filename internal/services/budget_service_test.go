package services

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dailybudget/internal/amqp"
	"dailybudget/internal/core"
	"dailybudget/internal/ledger"
	"dailybudget/internal/ledger/memory"
	applog "dailybudget/internal/log"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

type recordingPublisher struct {
	mu     sync.Mutex
	events []amqp.LedgerEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, ev amqp.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) kinds() []amqp.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]amqp.EventKind, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Kind)
	}
	return out
}

type recordingObserver struct {
	mu   sync.Mutex
	ops  []string
	errs []error
}

func (o *recordingObserver) ObserveOperation(op string, err error, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ops = append(o.ops, op)
	o.errs = append(o.errs, err)
}

// failingStore wraps a memory store and fails selected calls.
type failingStore struct {
	*memory.Store
	failGetAccount    error
	failUpdateAccount error
	failDeleteAccount error
	block             bool
}

func (f *failingStore) GetAccount(ctx context.Context, id int64) (core.Account, error) {
	if f.block {
		<-ctx.Done()
		return core.Account{}, ctx.Err()
	}
	if f.failGetAccount != nil {
		return core.Account{}, f.failGetAccount
	}
	return f.Store.GetAccount(ctx, id)
}

func (f *failingStore) UpdateAccount(ctx context.Context, a core.Account) error {
	if f.failUpdateAccount != nil {
		return f.failUpdateAccount
	}
	return f.Store.UpdateAccount(ctx, a)
}

func (f *failingStore) InTx(ctx context.Context, fn func(tx ledger.Store) error) error {
	return f.Store.InTx(ctx, func(tx ledger.Store) error {
		return fn(&failingTx{Store: tx, failDeleteAccount: f.failDeleteAccount})
	})
}

type failingTx struct {
	ledger.Store
	failDeleteAccount error
}

func (f *failingTx) DeleteAccount(ctx context.Context, a core.Account) error {
	if f.failDeleteAccount != nil {
		return f.failDeleteAccount
	}
	return f.Store.DeleteAccount(ctx, a)
}

// vanishingStore deletes each account right after the service has read it.
type vanishingStore struct {
	*memory.Store
}

func (v *vanishingStore) GetAccount(ctx context.Context, id int64) (core.Account, error) {
	a, err := v.Store.GetAccount(ctx, id)
	if err != nil {
		return a, err
	}
	return a, v.Store.DeleteAccount(ctx, a)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T, store ledger.Store, opts ...Option) (*BudgetService, *clock, *recordingPublisher) {
	t.Helper()
	clk := &clock{now: testNow}
	pub := &recordingPublisher{}
	opts = append([]Option{WithClock(clk.Now), WithPublisher(pub)}, opts...)
	return NewBudgetService(store, opts...), clk, pub
}

func mustCreate(t *testing.T, svc *BudgetService, cents int64, payday time.Time) core.Account {
	t.Helper()
	acct, err := svc.CreateAccount(context.Background(), core.Money{Cents: cents}, payday)
	require.NoError(t, err)
	return acct
}

func TestCreateAccountAllowance(t *testing.T) {
	tests := []struct {
		name    string
		balance int64
		payday  time.Time
		want    int64
	}{
		{"even split", 3000, testNow.Add(10 * day), 300},
		{"truncates", 3001, testNow.Add(10 * day), 300},
		{"zero balance", 0, testNow.Add(3 * day), 0},
		{"partial day is dropped", 1000, testNow.Add(4*day + 20*time.Hour), 250},
		{"one day", 777, testNow.Add(day), 777},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestService(t, memory.New())
			acct, err := svc.CreateAccount(context.Background(), core.Money{Cents: tt.balance}, tt.payday)
			require.NoError(t, err)
			assert.Equal(t, tt.want, acct.DailyAllowance.Cents)
			assert.GreaterOrEqual(t, acct.DailyAllowance.Cents, int64(0))
			assert.Positive(t, acct.ID)
		})
	}
}

func TestCreateAccountRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		balance int64
		payday  time.Time
		want    error
	}{
		{"payday in the past", 100, testNow.Add(-day), core.ErrInvalidPayday},
		{"payday is now", 100, testNow, core.ErrInvalidPayday},
		{"payday under a day away", 100, testNow.Add(23 * time.Hour), core.ErrInvalidPayday},
		{"past payday with zero balance", 0, testNow.Add(-time.Hour), core.ErrInvalidPayday},
		{"negative balance", -1, testNow.Add(10 * day), core.ErrInvalidBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			svc, _, pub := newTestService(t, store)
			_, err := svc.CreateAccount(context.Background(), core.Money{Cents: tt.balance}, tt.payday)
			require.ErrorIs(t, err, tt.want)
			assert.Empty(t, pub.kinds(), "nothing should be published on failure")

			_, err = store.GetAccount(context.Background(), 1)
			assert.ErrorIs(t, err, ledger.ErrNotFound, "nothing should be stored on failure")
		})
	}
}

func TestCreateAccountRoundTrip(t *testing.T) {
	svc, _, pub := newTestService(t, memory.New())
	payday := time.Date(2025, 3, 11, 9, 30, 15, 987654321, time.UTC)

	acct := mustCreate(t, svc, 4500, payday)
	sum, err := svc.GetSummary(context.Background(), acct.ID)
	require.NoError(t, err)

	assert.Equal(t, acct.DailyAllowance, sum.DailyAllowance)
	assert.Equal(t, acct.NextPayday, sum.NextPayday)
	assert.Equal(t, core.Instant(payday), sum.NextPayday)
	assert.Empty(t, sum.Spends)
	assert.NotNil(t, sum.Spends)
	assert.Equal(t, []amqp.EventKind{amqp.AccountCreated}, pub.kinds())
}

func TestGetSummaryMissingAccount(t *testing.T) {
	svc, _, _ := newTestService(t, memory.New())
	for _, id := range []int64{core.NoAccount, 0, 42} {
		_, err := svc.GetSummary(context.Background(), id)
		assert.ErrorIs(t, err, core.ErrAccountNotFound, "id %d", id)
	}
}

func TestAddSpendAppearsFirst(t *testing.T) {
	svc, clk, pub := newTestService(t, memory.New())
	acct := mustCreate(t, svc, 3000, testNow.Add(10*day))

	_, err := svc.AddSpend(context.Background(), acct.ID, core.Money{Cents: 200}, "bread")
	require.NoError(t, err)
	before, err := svc.GetSummary(context.Background(), acct.ID)
	require.NoError(t, err)

	clk.Advance(time.Minute)
	sp, err := svc.AddSpend(context.Background(), acct.ID, core.Money{Cents: 500}, "coffee")
	require.NoError(t, err)
	assert.True(t, sp.Date.Equal(testNow.Add(time.Minute)))

	after, err := svc.GetSummary(context.Background(), acct.ID)
	require.NoError(t, err)
	require.Len(t, after.Spends, len(before.Spends)+1)
	assert.Equal(t, int64(500), after.Spends[0].Amount.Cents)
	assert.Equal(t, "coffee", after.Spends[0].Label)
	assert.Equal(t, sp.ID, after.Spends[0].ID)

	// Spends are informational; the allowance never moves.
	assert.Equal(t, int64(300), after.DailyAllowance.Cents)
	assert.Equal(t, []amqp.EventKind{amqp.AccountCreated, amqp.SpendAdded, amqp.SpendAdded}, pub.kinds())
}

func TestAddSpendSameInstantOrdersByInsertion(t *testing.T) {
	svc, _, _ := newTestService(t, memory.New())
	acct := mustCreate(t, svc, 3000, testNow.Add(10*day))

	first, err := svc.AddSpend(context.Background(), acct.ID, core.Money{Cents: 1}, "first")
	require.NoError(t, err)
	second, err := svc.AddSpend(context.Background(), acct.ID, core.Money{Cents: 2}, "second")
	require.NoError(t, err)

	sum, err := svc.GetSummary(context.Background(), acct.ID)
	require.NoError(t, err)
	require.Len(t, sum.Spends, 2)
	assert.Equal(t, second.ID, sum.Spends[0].ID)
	assert.Equal(t, first.ID, sum.Spends[1].ID)
}

func TestAddSpendAmountPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("permissive by default", func(t *testing.T) {
		svc, _, _ := newTestService(t, memory.New())
		acct := mustCreate(t, svc, 3000, testNow.Add(10*day))
		for _, cents := range []int64{0, -150} {
			_, err := svc.AddSpend(ctx, acct.ID, core.Money{Cents: cents}, "")
			assert.NoError(t, err)
		}
	})

	t.Run("strict rejects non-positive", func(t *testing.T) {
		svc, _, _ := newTestService(t, memory.New(), WithStrictSpendAmounts())
		acct := mustCreate(t, svc, 3000, testNow.Add(10*day))
		for _, cents := range []int64{0, -150} {
			_, err := svc.AddSpend(ctx, acct.ID, core.Money{Cents: cents}, "")
			assert.ErrorIs(t, err, core.ErrInvalidAmount)
		}
		_, err := svc.AddSpend(ctx, acct.ID, core.Money{Cents: 1}, "")
		assert.NoError(t, err)
	})
}

func TestAddSpendMissingAccount(t *testing.T) {
	svc, _, _ := newTestService(t, memory.New())
	_, err := svc.AddSpend(context.Background(), 9, core.Money{Cents: 100}, "x")
	assert.ErrorIs(t, err, core.ErrAccountNotFound)
	_, err = svc.AddSpend(context.Background(), core.NoAccount, core.Money{Cents: 100}, "x")
	assert.ErrorIs(t, err, core.ErrAccountNotFound)
}

func TestAddSpendAccountDeletedConcurrently(t *testing.T) {
	store := &vanishingStore{Store: memory.New()}
	svc, _, pub := newTestService(t, store)
	ctx := context.Background()
	id, err := store.Store.InsertAccount(ctx, core.Account{DailyAllowance: core.Money{Cents: 100}, NextPayday: testNow.Add(5 * day)})
	require.NoError(t, err)

	_, err = svc.AddSpend(ctx, id, core.Money{Cents: 100}, "late")
	assert.ErrorIs(t, err, core.ErrAccountNotFound)

	spends, err := store.GetSpendsByAccount(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, spends, "no orphan spend may be left behind")
	_, err = svc.GetSpend(ctx, 1)
	assert.ErrorIs(t, err, core.ErrSpendNotFound)
	assert.Empty(t, pub.kinds())
}

func TestUpdateBalance(t *testing.T) {
	svc, _, pub := newTestService(t, memory.New())
	acct := mustCreate(t, svc, 100, testNow.Add(5*day))

	updated, err := svc.UpdateBalance(context.Background(), acct.ID, core.Money{Cents: 5000})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), updated.DailyAllowance.Cents)
	assert.Equal(t, acct.NextPayday, updated.NextPayday)

	sum, err := svc.GetSummary(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), sum.DailyAllowance.Cents)
	assert.Equal(t, []amqp.EventKind{amqp.AccountCreated, amqp.AccountUpdated}, pub.kinds())
}

func TestUpdateBalanceDoesNotMutateOnFailure(t *testing.T) {
	svc, clk, _ := newTestService(t, memory.New())
	acct := mustCreate(t, svc, 1000, testNow.Add(2*day))

	_, err := svc.UpdateBalance(context.Background(), acct.ID, core.Money{Cents: -5})
	assert.ErrorIs(t, err, core.ErrInvalidBalance)

	clk.Advance(2 * day)
	_, err = svc.UpdateBalance(context.Background(), acct.ID, core.Money{Cents: 5000})
	assert.ErrorIs(t, err, core.ErrPaydayInPast)

	clk.Advance(5 * day)
	_, err = svc.UpdateBalance(context.Background(), acct.ID, core.Money{Cents: 5000})
	assert.ErrorIs(t, err, core.ErrPaydayInPast)

	sum, err := svc.GetSummary(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Equal(t, acct.DailyAllowance, sum.DailyAllowance)
	assert.Equal(t, acct.NextPayday, sum.NextPayday)
}

func TestUpdateBalanceErrorOrder(t *testing.T) {
	svc, _, _ := newTestService(t, memory.New())
	_, err := svc.UpdateBalance(context.Background(), 404, core.Money{Cents: -1})
	assert.ErrorIs(t, err, core.ErrAccountNotFound, "missing account wins over bad balance")
}

func TestUpdatePaydayLeavesAllowance(t *testing.T) {
	svc, _, _ := newTestService(t, memory.New())
	acct := mustCreate(t, svc, 3000, testNow.Add(10*day))

	newPayday := testNow.Add(30 * day)
	updated, err := svc.UpdatePayday(context.Background(), acct.ID, newPayday)
	require.NoError(t, err)
	assert.Equal(t, core.Instant(newPayday), updated.NextPayday)
	assert.Equal(t, int64(300), updated.DailyAllowance.Cents)

	// A follow-up balance update uses the new payday.
	updated, err = svc.UpdateBalance(context.Background(), acct.ID, core.Money{Cents: 3000})
	require.NoError(t, err)
	assert.Equal(t, int64(100), updated.DailyAllowance.Cents)

	_, err = svc.UpdatePayday(context.Background(), 99, newPayday)
	assert.ErrorIs(t, err, core.ErrAccountNotFound)
	_, err = svc.UpdatePayday(context.Background(), acct.ID, time.Time{})
	assert.ErrorIs(t, err, core.ErrInvalidPayday)
}

func TestDeleteAccountCascades(t *testing.T) {
	store := memory.New()
	svc, _, pub := newTestService(t, store)
	acct := mustCreate(t, svc, 3000, testNow.Add(10*day))
	other := mustCreate(t, svc, 3000, testNow.Add(10*day))

	var ids []int64
	for i := 0; i < 3; i++ {
		sp, err := svc.AddSpend(context.Background(), acct.ID, core.Money{Cents: 10}, "")
		require.NoError(t, err)
		ids = append(ids, sp.ID)
	}
	kept, err := svc.AddSpend(context.Background(), other.ID, core.Money{Cents: 10}, "")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteAccount(context.Background(), acct.ID))

	_, err = svc.GetSummary(context.Background(), acct.ID)
	assert.ErrorIs(t, err, core.ErrAccountNotFound)
	for _, id := range ids {
		_, err := svc.GetSpend(context.Background(), id)
		assert.ErrorIs(t, err, core.ErrSpendNotFound)
	}
	_, err = svc.AddSpend(context.Background(), acct.ID, core.Money{Cents: 1}, "late")
	assert.ErrorIs(t, err, core.ErrAccountNotFound)

	_, err = svc.GetSpend(context.Background(), kept.ID)
	assert.NoError(t, err, "other accounts keep their spends")

	assert.ErrorIs(t, svc.DeleteAccount(context.Background(), acct.ID), core.ErrAccountNotFound)
	assert.Contains(t, pub.kinds(), amqp.AccountDeleted)
}

func TestDeleteAccountIsAtomic(t *testing.T) {
	boom := errors.New("disk full")
	store := &failingStore{Store: memory.New(), failDeleteAccount: boom}
	svc, _, pub := newTestService(t, store)
	acct := mustCreate(t, svc, 3000, testNow.Add(10*day))
	_, err := svc.AddSpend(context.Background(), acct.ID, core.Money{Cents: 10}, "")
	require.NoError(t, err)

	err = svc.DeleteAccount(context.Background(), acct.ID)
	require.ErrorIs(t, err, core.ErrStoreUnavailable)
	require.ErrorIs(t, err, boom)

	sum, err := svc.GetSummary(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Len(t, sum.Spends, 1, "spends must survive a failed cascade")
	assert.NotContains(t, pub.kinds(), amqp.AccountDeleted)
}

func TestSpendUpdateAndDelete(t *testing.T) {
	svc, _, pub := newTestService(t, memory.New())
	acct := mustCreate(t, svc, 3000, testNow.Add(10*day))
	sp, err := svc.AddSpend(context.Background(), acct.ID, core.Money{Cents: 10}, "tea")
	require.NoError(t, err)

	when := testNow.Add(-time.Hour)
	updated, err := svc.UpdateSpend(context.Background(), sp.ID, core.Money{Cents: 25}, "chai", when)
	require.NoError(t, err)
	assert.Equal(t, acct.ID, updated.AccountID)
	assert.Equal(t, "chai", updated.Label)
	assert.True(t, updated.Date.Equal(when))

	kept, err := svc.UpdateSpend(context.Background(), sp.ID, core.Money{Cents: 30}, "chai", time.Time{})
	require.NoError(t, err)
	assert.True(t, kept.Date.Equal(when), "zero date keeps the recorded instant")

	require.NoError(t, svc.DeleteSpend(context.Background(), sp.ID))
	assert.ErrorIs(t, svc.DeleteSpend(context.Background(), sp.ID), core.ErrSpendNotFound)
	_, err = svc.UpdateSpend(context.Background(), sp.ID, core.Money{Cents: 1}, "", time.Time{})
	assert.ErrorIs(t, err, core.ErrSpendNotFound)

	assert.Equal(t, []amqp.EventKind{
		amqp.AccountCreated, amqp.SpendAdded, amqp.SpendUpdated, amqp.SpendUpdated, amqp.SpendDeleted,
	}, pub.kinds())
}

func TestSpendMutationsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := applog.New(applog.Config{Handler: applog.NewHandler(&buf, slog.LevelInfo, "text")})
	svc, _, _ := newTestService(t, memory.New(), WithLogger(logger))
	acct := mustCreate(t, svc, 3000, testNow.Add(10*day))
	sp, err := svc.AddSpend(context.Background(), acct.ID, core.Money{Cents: 10}, "tea")
	require.NoError(t, err)

	_, err = svc.UpdateSpend(context.Background(), sp.ID, core.Money{Cents: 20}, "chai", time.Time{})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteSpend(context.Background(), sp.ID))

	out := buf.String()
	for _, msg := range []string{"Account created", "Spend added", "Spend updated", "Spend deleted"} {
		assert.Contains(t, out, msg)
	}
}

func TestStoreFailuresSurfaceAsStoreUnavailable(t *testing.T) {
	boom := errors.New("connection reset")
	store := &failingStore{Store: memory.New()}
	svc, _, _ := newTestService(t, store)
	acct := mustCreate(t, svc, 3000, testNow.Add(10*day))

	store.failUpdateAccount = boom
	_, err := svc.UpdateBalance(context.Background(), acct.ID, core.Money{Cents: 10})
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
	var se *core.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "update account", se.Op)

	store.failGetAccount = boom
	_, err = svc.GetSummary(context.Background(), acct.ID)
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, core.ErrAccountNotFound)
}

func TestStoreTimeout(t *testing.T) {
	store := &failingStore{Store: memory.New(), block: true}
	svc, _, _ := newTestService(t, store, WithStoreTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := svc.GetSummary(context.Background(), 1)
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPublishFailureDoesNotFailMutation(t *testing.T) {
	store := memory.New()
	svc, _, pub := newTestService(t, store)
	pub.err = errors.New("broker down")

	acct, err := svc.CreateAccount(context.Background(), core.Money{Cents: 100}, testNow.Add(2*day))
	require.NoError(t, err)
	_, err = store.GetAccount(context.Background(), acct.ID)
	assert.NoError(t, err)
}

func TestNilPublisherIsAllowed(t *testing.T) {
	svc := NewBudgetService(memory.New(), WithClock(func() time.Time { return testNow }))
	_, err := svc.CreateAccount(context.Background(), core.Money{Cents: 100}, testNow.Add(2*day))
	assert.NoError(t, err)
}

func TestObserverSeesEveryOperation(t *testing.T) {
	obs := &recordingObserver{}
	svc, _, _ := newTestService(t, memory.New(), WithObserver(obs))

	acct := mustCreate(t, svc, 100, testNow.Add(2*day))
	_, _ = svc.GetSummary(context.Background(), 999)
	_ = svc.DeleteAccount(context.Background(), acct.ID)

	assert.Equal(t, []string{OpCreateAccount, OpGetSummary, OpDeleteAccount}, obs.ops)
	assert.NoError(t, obs.errs[0])
	assert.ErrorIs(t, obs.errs[1], core.ErrAccountNotFound)
	assert.NoError(t, obs.errs[2])
}

func TestConcurrentAddSpend(t *testing.T) {
	svc, _, _ := newTestService(t, memory.New())
	acct := mustCreate(t, svc, 3000, testNow.Add(10*day))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AddSpend(context.Background(), acct.ID, core.Money{Cents: 1}, "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	sum, err := svc.GetSummary(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Len(t, sum.Spends, 20)
}
