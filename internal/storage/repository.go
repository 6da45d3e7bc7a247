package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dailybudget/internal/core"
	"dailybudget/internal/ledger"
	"dailybudget/internal/pointer"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteRepository is the on-device ledger. It also owns the preferences
// table the active-account pointer lives in.
type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	tx      *sql.Tx
	hub     *pointer.Hub

	schemaVersion uint
}

var _ ledger.Store = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dsn)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:            db,
		queries:       New(db),
		hub:           pointer.NewHub(),
		schemaVersion: version,
	}, nil
}

// SchemaVersion is the migration version the database was left at on open.
func (r *SQLiteRepository) SchemaVersion() uint {
	return r.schemaVersion
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) GetAccount(ctx context.Context, id int64) (core.Account, error) {
	row, err := r.queries.GetAccount(ctx, id)
	if err != nil {
		return core.Account{}, notFound(err, "get account %d", id)
	}
	return accountFromRow(row), nil
}

func (r *SQLiteRepository) InsertAccount(ctx context.Context, a core.Account) (int64, error) {
	id, err := r.queries.CreateAccount(ctx, a.DailyAllowance.Cents, a.NextPayday.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("create account: %w", err)
	}
	slog.DebugContext(ctx, "Account saved to SQLite",
		"id", id,
		"daily_allowance_cents", a.DailyAllowance.Cents,
		"next_payday", a.NextPayday.Format(time.RFC3339))
	return id, nil
}

func (r *SQLiteRepository) UpdateAccount(ctx context.Context, a core.Account) error {
	n, err := r.queries.UpdateAccount(ctx, Account{
		ID:                  a.ID,
		DailyAllowanceCents: a.DailyAllowance.Cents,
		NextPaydayMs:        a.NextPayday.UnixMilli(),
	})
	return affected(n, err, "update account %d", a.ID)
}

func (r *SQLiteRepository) DeleteAccount(ctx context.Context, a core.Account) error {
	n, err := r.queries.DeleteAccount(ctx, a.ID)
	return affected(n, err, "delete account %d", a.ID)
}

func (r *SQLiteRepository) GetSpend(ctx context.Context, id int64) (core.Spend, error) {
	row, err := r.queries.GetSpend(ctx, id)
	if err != nil {
		return core.Spend{}, notFound(err, "get spend %d", id)
	}
	return spendFromRow(row), nil
}

func (r *SQLiteRepository) GetSpendsByAccount(ctx context.Context, accountID int64) ([]core.Spend, error) {
	rows, err := r.queries.ListSpendsByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list spends for account %d: %w", accountID, err)
	}
	spends := make([]core.Spend, 0, len(rows))
	for _, row := range rows {
		spends = append(spends, spendFromRow(row))
	}
	return spends, nil
}

func (r *SQLiteRepository) InsertSpend(ctx context.Context, s core.Spend) (int64, error) {
	id, err := r.queries.CreateSpend(ctx, spendToRow(s))
	if isForeignKeyViolation(err) {
		return 0, ledger.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("create spend: %w", err)
	}
	slog.DebugContext(ctx, "Spend saved to SQLite",
		"id", id,
		"account_id", s.AccountID,
		"amount_cents", s.Amount.Cents)
	return id, nil
}

func (r *SQLiteRepository) UpdateSpend(ctx context.Context, s core.Spend) error {
	n, err := r.queries.UpdateSpend(ctx, spendToRow(s))
	if isForeignKeyViolation(err) {
		return ledger.ErrNotFound
	}
	return affected(n, err, "update spend %d", s.ID)
}

func (r *SQLiteRepository) DeleteSpend(ctx context.Context, s core.Spend) error {
	n, err := r.queries.DeleteSpend(ctx, s.ID)
	return affected(n, err, "delete spend %d", s.ID)
}

func (r *SQLiteRepository) DeleteSpendsByAccount(ctx context.Context, accountID int64) (int64, error) {
	n, err := r.queries.DeleteSpendsByAccount(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("delete spends for account %d: %w", accountID, err)
	}
	return n, nil
}

// InTx runs fn inside a single SQLite transaction. A repository that is
// already bound to a transaction runs fn directly.
func (r *SQLiteRepository) InTx(ctx context.Context, fn func(tx ledger.Store) error) error {
	if r.tx != nil {
		return fn(r)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	txRepo := &SQLiteRepository{db: r.db, queries: r.queries.WithTx(tx), tx: tx, hub: r.hub}

	if err := fn(txRepo); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func accountFromRow(row Account) core.Account {
	return core.Account{
		ID:             row.ID,
		DailyAllowance: core.Money{Cents: row.DailyAllowanceCents},
		NextPayday:     time.UnixMilli(row.NextPaydayMs).UTC(),
	}
}

func spendFromRow(row Spend) core.Spend {
	return core.Spend{
		ID:        row.ID,
		AccountID: row.AccountID,
		Date:      time.UnixMilli(row.DateMs).UTC(),
		Amount:    core.Money{Cents: row.AmountCents},
		Label:     row.Label,
	}
}

func spendToRow(s core.Spend) Spend {
	return Spend{
		ID:          s.ID,
		AccountID:   s.AccountID,
		DateMs:      s.Date.UnixMilli(),
		AmountCents: s.Amount.Cents,
		Label:       s.Label,
	}
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ErrNotFound
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// isForeignKeyViolation reports a spend pointing at a missing account.
func isForeignKeyViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
}

func affected(n int64, err error, format string, args ...any) error {
	if err != nil {
		return fmt.Errorf(format+": %w", append(args, err)...)
	}
	if n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}
