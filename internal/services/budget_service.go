package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"dailybudget/internal/amqp"
	"dailybudget/internal/core"
	"dailybudget/internal/ledger"
	applog "dailybudget/internal/log"
)

const DefaultStoreTimeout = 5 * time.Second

// Operation names reported to the Observer.
const (
	OpCreateAccount = "create_account"
	OpGetSummary    = "get_summary"
	OpAddSpend      = "add_spend"
	OpUpdatePayday  = "update_payday"
	OpUpdateBalance = "update_balance"
	OpDeleteAccount = "delete_account"
	OpGetSpend      = "get_spend"
	OpUpdateSpend   = "update_spend"
	OpDeleteSpend   = "delete_spend"
)

// EventPublisher announces committed mutations. *amqp.Client satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, ev amqp.LedgerEvent) error
}

// Observer is told the outcome of every operation.
type Observer interface {
	ObserveOperation(op string, err error, elapsed time.Duration)
}

type Option func(*BudgetService)

func WithPublisher(p EventPublisher) Option {
	return func(s *BudgetService) { s.publisher = p }
}

func WithObserver(o Observer) Option {
	return func(s *BudgetService) { s.observer = o }
}

// WithClock replaces time.Now as the source of "now".
func WithClock(now func() time.Time) Option {
	return func(s *BudgetService) { s.now = now }
}

func WithStoreTimeout(d time.Duration) Option {
	return func(s *BudgetService) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

func WithLogger(l *applog.Logger) Option {
	return func(s *BudgetService) { s.logger = l }
}

// WithStrictSpendAmounts rejects spends whose amount is not positive.
func WithStrictSpendAmounts() Option {
	return func(s *BudgetService) { s.strictSpends = true }
}

// BudgetService owns every rule about accounts and spends. It keeps no
// state between calls; the ledger store is the only source of truth.
type BudgetService struct {
	store        ledger.Store
	publisher    EventPublisher
	observer     Observer
	now          func() time.Time
	storeTimeout time.Duration
	logger       *applog.Logger
	strictSpends bool
}

func NewBudgetService(store ledger.Store, opts ...Option) *BudgetService {
	s := &BudgetService{
		store:        store,
		now:          time.Now,
		storeTimeout: DefaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = applog.FromContext(context.Background()).WithComponent(applog.ComponentBudget)
	}
	return s
}

// CreateAccount derives the daily allowance from balance and payday and
// stores a new account. It does not touch the active account pointer.
func (s *BudgetService) CreateAccount(ctx context.Context, balance core.Money, payday time.Time) (acct core.Account, err error) {
	defer s.observe(OpCreateAccount, time.Now(), &err)

	if err := balance.Validate(); err != nil {
		return core.Account{}, err
	}
	now := s.now()
	if !payday.After(now) {
		return core.Account{}, fmt.Errorf("%w: payday %s is not after now", core.ErrInvalidPayday, payday.Format(time.RFC3339))
	}
	allowance, err := core.DailyAllowance(balance, core.DaysBetween(now, payday))
	if err != nil {
		return core.Account{}, fmt.Errorf("%w: less than one day until payday", err)
	}

	acct = core.Account{DailyAllowance: allowance, NextPayday: core.Instant(payday)}
	err = s.call(ctx, "insert account", func(ctx context.Context) error {
		id, err := s.store.InsertAccount(ctx, acct)
		acct.ID = id
		return err
	})
	if err != nil {
		return core.Account{}, err
	}

	s.logger.InfoContext(ctx, "Account created",
		applog.NewFields().WithAccount(acct.ID, acct.DailyAllowance.Cents).ToSlice()...)
	s.publish(ctx, amqp.AccountCreated, acct.ID, 0)
	return acct, nil
}

// GetSummary reads the account and its spends, most recent first.
func (s *BudgetService) GetSummary(ctx context.Context, accountID int64) (sum core.Summary, err error) {
	defer s.observe(OpGetSummary, time.Now(), &err)

	if accountID <= 0 {
		return core.Summary{}, core.ErrAccountNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	var (
		acct   core.Account
		spends []core.Spend
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, err := s.store.GetAccount(gctx, accountID)
		if err != nil {
			return accountErr("get account", err)
		}
		acct = a
		return nil
	})
	g.Go(func() error {
		sp, err := s.store.GetSpendsByAccount(gctx, accountID)
		if err != nil {
			return storeErr("get spends", err)
		}
		spends = sp
		return nil
	})
	if err := g.Wait(); err != nil {
		// A missing account cancels the spends read; report the cause.
		if errors.Is(err, core.ErrAccountNotFound) {
			return core.Summary{}, core.ErrAccountNotFound
		}
		return core.Summary{}, err
	}

	if spends == nil {
		spends = []core.Spend{}
	}
	return core.Summary{
		DailyAllowance: acct.DailyAllowance,
		NextPayday:     acct.NextPayday,
		Spends:         spends,
	}, nil
}

// AddSpend records a spend stamped with the current instant. The account's
// allowance is left unchanged.
func (s *BudgetService) AddSpend(ctx context.Context, accountID int64, amount core.Money, label string) (sp core.Spend, err error) {
	defer s.observe(OpAddSpend, time.Now(), &err)

	if s.strictSpends && amount.Cents <= 0 {
		return core.Spend{}, fmt.Errorf("%w: %d", core.ErrInvalidAmount, amount.Cents)
	}
	if _, err := s.getAccount(ctx, accountID); err != nil {
		return core.Spend{}, err
	}

	sp = core.Spend{
		AccountID: accountID,
		Date:      core.Instant(s.now()),
		Amount:    amount,
		Label:     label,
	}
	err = s.call(ctx, "insert spend", func(ctx context.Context) error {
		id, err := s.store.InsertSpend(ctx, sp)
		sp.ID = id
		return err
	})
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			// Account vanished between the check and the insert.
			return core.Spend{}, core.ErrAccountNotFound
		}
		return core.Spend{}, err
	}

	s.logger.InfoContext(ctx, "Spend added",
		applog.NewFields().WithSpend(sp.ID, sp.AccountID, sp.Amount.Cents, sp.Label).ToSlice()...)
	s.publish(ctx, amqp.SpendAdded, accountID, sp.ID)
	return sp, nil
}

// UpdatePayday moves the payday. The allowance is not recomputed; callers
// that want that follow up with UpdateBalance.
func (s *BudgetService) UpdatePayday(ctx context.Context, accountID int64, newPayday time.Time) (acct core.Account, err error) {
	defer s.observe(OpUpdatePayday, time.Now(), &err)

	if newPayday.IsZero() {
		return core.Account{}, fmt.Errorf("%w: payday is required", core.ErrInvalidPayday)
	}
	acct, err = s.getAccount(ctx, accountID)
	if err != nil {
		return core.Account{}, err
	}

	acct.NextPayday = core.Instant(newPayday)
	if err := s.updateAccount(ctx, acct); err != nil {
		return core.Account{}, err
	}

	s.logger.InfoContext(ctx, "Payday updated",
		applog.FieldAccountID, acct.ID,
		applog.FieldPayday, acct.NextPayday.Format(time.RFC3339))
	s.publish(ctx, amqp.AccountUpdated, acct.ID, 0)
	return acct, nil
}

// UpdateBalance recomputes the allowance against the stored payday. Nothing
// is written when any check fails.
func (s *BudgetService) UpdateBalance(ctx context.Context, accountID int64, newBalance core.Money) (acct core.Account, err error) {
	defer s.observe(OpUpdateBalance, time.Now(), &err)

	acct, err = s.getAccount(ctx, accountID)
	if err != nil {
		return core.Account{}, err
	}
	if err := newBalance.Validate(); err != nil {
		return core.Account{}, err
	}
	days := core.DaysBetween(s.now(), acct.NextPayday)
	if days <= 0 {
		return core.Account{}, fmt.Errorf("%w: payday %s", core.ErrPaydayInPast, acct.NextPayday.Format(time.RFC3339))
	}
	allowance, err := core.DailyAllowance(newBalance, days)
	if err != nil {
		return core.Account{}, err
	}

	acct.DailyAllowance = allowance
	if err := s.updateAccount(ctx, acct); err != nil {
		return core.Account{}, err
	}

	s.logger.InfoContext(ctx, "Balance updated",
		applog.NewFields().WithAccount(acct.ID, acct.DailyAllowance.Cents).ToSlice()...)
	s.publish(ctx, amqp.AccountUpdated, acct.ID, 0)
	return acct, nil
}

// DeleteAccount removes the account and all of its spends atomically.
// Repeating the call reports ErrAccountNotFound.
func (s *BudgetService) DeleteAccount(ctx context.Context, accountID int64) (err error) {
	defer s.observe(OpDeleteAccount, time.Now(), &err)

	if accountID <= 0 {
		return core.ErrAccountNotFound
	}

	var removed int64
	err = s.call(ctx, "delete account", func(ctx context.Context) error {
		return s.store.InTx(ctx, func(tx ledger.Store) error {
			acct, err := tx.GetAccount(ctx, accountID)
			if err != nil {
				return err
			}
			if removed, err = tx.DeleteSpendsByAccount(ctx, accountID); err != nil {
				return err
			}
			return tx.DeleteAccount(ctx, acct)
		})
	})
	if errors.Is(err, ledger.ErrNotFound) {
		return core.ErrAccountNotFound
	}
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Account deleted",
		applog.FieldAccountID, accountID,
		"spends_removed", removed)
	s.publish(ctx, amqp.AccountDeleted, accountID, 0)
	return nil
}

func (s *BudgetService) GetSpend(ctx context.Context, spendID int64) (sp core.Spend, err error) {
	defer s.observe(OpGetSpend, time.Now(), &err)
	return s.getSpend(ctx, spendID)
}

// UpdateSpend changes a spend's amount, label and date. The owning account
// never changes.
func (s *BudgetService) UpdateSpend(ctx context.Context, spendID int64, amount core.Money, label string, date time.Time) (sp core.Spend, err error) {
	defer s.observe(OpUpdateSpend, time.Now(), &err)

	if s.strictSpends && amount.Cents <= 0 {
		return core.Spend{}, fmt.Errorf("%w: %d", core.ErrInvalidAmount, amount.Cents)
	}
	sp, err = s.getSpend(ctx, spendID)
	if err != nil {
		return core.Spend{}, err
	}

	sp.Amount = amount
	sp.Label = label
	if !date.IsZero() {
		sp.Date = core.Instant(date)
	}
	err = s.call(ctx, "update spend", func(ctx context.Context) error {
		return s.store.UpdateSpend(ctx, sp)
	})
	if errors.Is(err, ledger.ErrNotFound) {
		return core.Spend{}, core.ErrSpendNotFound
	}
	if err != nil {
		return core.Spend{}, err
	}

	s.logger.InfoContext(ctx, "Spend updated",
		applog.NewFields().WithSpend(sp.ID, sp.AccountID, sp.Amount.Cents, sp.Label).ToSlice()...)
	s.publish(ctx, amqp.SpendUpdated, sp.AccountID, sp.ID)
	return sp, nil
}

func (s *BudgetService) DeleteSpend(ctx context.Context, spendID int64) (err error) {
	defer s.observe(OpDeleteSpend, time.Now(), &err)

	sp, err := s.getSpend(ctx, spendID)
	if err != nil {
		return err
	}
	err = s.call(ctx, "delete spend", func(ctx context.Context) error {
		return s.store.DeleteSpend(ctx, sp)
	})
	if errors.Is(err, ledger.ErrNotFound) {
		return core.ErrSpendNotFound
	}
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Spend deleted",
		applog.FieldSpendID, sp.ID,
		applog.FieldAccountID, sp.AccountID)
	s.publish(ctx, amqp.SpendDeleted, sp.AccountID, sp.ID)
	return nil
}

func (s *BudgetService) getAccount(ctx context.Context, id int64) (core.Account, error) {
	if id <= 0 {
		return core.Account{}, core.ErrAccountNotFound
	}
	var acct core.Account
	err := s.call(ctx, "get account", func(ctx context.Context) error {
		a, err := s.store.GetAccount(ctx, id)
		acct = a
		return err
	})
	if errors.Is(err, ledger.ErrNotFound) {
		return core.Account{}, core.ErrAccountNotFound
	}
	return acct, err
}

func (s *BudgetService) updateAccount(ctx context.Context, acct core.Account) error {
	err := s.call(ctx, "update account", func(ctx context.Context) error {
		return s.store.UpdateAccount(ctx, acct)
	})
	if errors.Is(err, ledger.ErrNotFound) {
		return core.ErrAccountNotFound
	}
	return err
}

func (s *BudgetService) getSpend(ctx context.Context, id int64) (core.Spend, error) {
	if id <= 0 {
		return core.Spend{}, core.ErrSpendNotFound
	}
	var sp core.Spend
	err := s.call(ctx, "get spend", func(ctx context.Context) error {
		v, err := s.store.GetSpend(ctx, id)
		sp = v
		return err
	})
	if errors.Is(err, ledger.ErrNotFound) {
		return core.Spend{}, core.ErrSpendNotFound
	}
	return sp, err
}

// call runs fn under the store timeout. ledger.ErrNotFound passes through
// for the caller to translate; anything else becomes a *core.StoreError.
func (s *BudgetService) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return storeErr(op, fn(ctx))
}

func storeErr(op string, err error) error {
	if err == nil || errors.Is(err, ledger.ErrNotFound) {
		return err
	}
	return &core.StoreError{Op: op, Err: err}
}

func accountErr(op string, err error) error {
	if errors.Is(err, ledger.ErrNotFound) {
		return core.ErrAccountNotFound
	}
	return storeErr(op, err)
}

// publish is best effort: the mutation has already committed.
func (s *BudgetService) publish(ctx context.Context, kind amqp.EventKind, accountID, spendID int64) {
	if s.publisher == nil {
		return
	}
	ev := amqp.NewLedgerEvent(kind, accountID, spendID)
	ev.Timestamp = s.now().UTC()
	if err := s.publisher.Publish(ctx, *ev); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish ledger event",
			applog.FieldEventKind, string(kind),
			applog.FieldAccountID, accountID,
			applog.FieldSpendID, spendID,
			applog.FieldError, err)
	}
}

func (s *BudgetService) observe(op string, start time.Time, errp *error) {
	if s.observer == nil {
		return
	}
	s.observer.ObserveOperation(op, *errp, time.Since(start))
}
