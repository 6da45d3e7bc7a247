// Package postgres is a ledger.Store backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"dailybudget/internal/core"
	"dailybudget/internal/ledger"
)

// foreign_key_violation
const fkViolation = "23503"

type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// Store implements ledger.Store. Every call runs under its own timeout.
type Store struct {
	db      *sqlx.DB
	ext     sqlx.ExtContext
	tx      *sqlx.Tx
	timeout time.Duration
}

var _ ledger.Store = (*Store)(nil)

type accountRow struct {
	ID                  int64     `db:"id"`
	DailyAllowanceCents int64     `db:"daily_allowance_cents"`
	NextPayday          time.Time `db:"next_payday"`
}

type spendRow struct {
	ID          int64     `db:"id"`
	AccountID   int64     `db:"account_id"`
	SpentAt     time.Time `db:"spent_at"`
	AmountCents int64     `db:"amount_cents"`
	Label       string    `db:"label"`
}

// Open connects, migrates and returns a ready Store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(cfg.DSN); err != nil {
		db.Close()
		return nil, err
	}
	return NewStore(db, cfg.QueryTimeout), nil
}

// NewStore wraps an existing connection. A zero timeout means 5s.
func NewStore(db *sqlx.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{db: db, ext: db, timeout: timeout}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) GetAccount(ctx context.Context, id int64) (core.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var row accountRow
	err := sqlx.GetContext(ctx, s.ext, &row,
		`SELECT id, daily_allowance_cents, next_payday FROM accounts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, ledger.ErrNotFound
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("failed to get account %d: %w", id, err)
	}
	return row.toCore(), nil
}

func (s *Store) InsertAccount(ctx context.Context, a core.Account) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var id int64
	err := s.ext.QueryRowxContext(ctx,
		`INSERT INTO accounts (daily_allowance_cents, next_payday) VALUES ($1, $2) RETURNING id`,
		a.DailyAllowance.Cents, a.NextPayday.UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert account: %w", err)
	}
	return id, nil
}

func (s *Store) UpdateAccount(ctx context.Context, a core.Account) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.ext.ExecContext(ctx,
		`UPDATE accounts SET daily_allowance_cents = $1, next_payday = $2 WHERE id = $3`,
		a.DailyAllowance.Cents, a.NextPayday.UTC(), a.ID)
	return affected(res, err, "update account")
}

func (s *Store) DeleteAccount(ctx context.Context, a core.Account) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.ext.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, a.ID)
	return affected(res, err, "delete account")
}

func (s *Store) GetSpend(ctx context.Context, id int64) (core.Spend, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var row spendRow
	err := sqlx.GetContext(ctx, s.ext, &row,
		`SELECT id, account_id, spent_at, amount_cents, label FROM spends WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Spend{}, ledger.ErrNotFound
	}
	if err != nil {
		return core.Spend{}, fmt.Errorf("failed to get spend %d: %w", id, err)
	}
	return row.toCore(), nil
}

func (s *Store) GetSpendsByAccount(ctx context.Context, accountID int64) ([]core.Spend, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []spendRow
	err := sqlx.SelectContext(ctx, s.ext, &rows, `
		SELECT id, account_id, spent_at, amount_cents, label
		FROM spends
		WHERE account_id = $1
		ORDER BY spent_at DESC, id DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list spends for account %d: %w", accountID, err)
	}
	out := make([]core.Spend, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toCore())
	}
	return out, nil
}

func (s *Store) InsertSpend(ctx context.Context, sp core.Spend) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var id int64
	err := s.ext.QueryRowxContext(ctx, `
		INSERT INTO spends (account_id, spent_at, amount_cents, label)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		sp.AccountID, sp.Date.UTC(), sp.Amount.Cents, sp.Label).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == fkViolation {
			return 0, ledger.ErrNotFound
		}
		return 0, fmt.Errorf("failed to insert spend: %w", err)
	}
	return id, nil
}

func (s *Store) UpdateSpend(ctx context.Context, sp core.Spend) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.ext.ExecContext(ctx, `
		UPDATE spends SET account_id = $1, spent_at = $2, amount_cents = $3, label = $4
		WHERE id = $5`,
		sp.AccountID, sp.Date.UTC(), sp.Amount.Cents, sp.Label, sp.ID)
	return affected(res, err, "update spend")
}

func (s *Store) DeleteSpend(ctx context.Context, sp core.Spend) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.ext.ExecContext(ctx, `DELETE FROM spends WHERE id = $1`, sp.ID)
	return affected(res, err, "delete spend")
}

func (s *Store) DeleteSpendsByAccount(ctx context.Context, accountID int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.ext.ExecContext(ctx, `DELETE FROM spends WHERE account_id = $1`, accountID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete spends for account %d: %w", accountID, err)
	}
	return res.RowsAffected()
}

func (s *Store) InTx(ctx context.Context, fn func(tx ledger.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Store{db: s.db, ext: tx, tx: tx, timeout: s.timeout}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r accountRow) toCore() core.Account {
	return core.Account{
		ID:             r.ID,
		DailyAllowance: core.Money{Cents: r.DailyAllowanceCents},
		NextPayday:     core.Instant(r.NextPayday),
	}
}

func (r spendRow) toCore() core.Spend {
	return core.Spend{
		ID:        r.ID,
		AccountID: r.AccountID,
		Date:      core.Instant(r.SpentAt),
		Amount:    core.Money{Cents: r.AmountCents},
		Label:     r.Label,
	}
}

func affected(res sql.Result, err error, op string) error {
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}
