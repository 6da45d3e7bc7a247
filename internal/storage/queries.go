package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type Account struct {
	ID                  int64
	DailyAllowanceCents int64
	NextPaydayMs        int64
}

type Spend struct {
	ID          int64
	AccountID   int64
	DateMs      int64
	AmountCents int64
	Label       string
}

const getAccount = `SELECT id, daily_allowance_cents, next_payday_ms FROM accounts WHERE id = ?`

func (q *Queries) GetAccount(ctx context.Context, id int64) (Account, error) {
	row := q.db.QueryRowContext(ctx, getAccount, id)
	var a Account
	err := row.Scan(&a.ID, &a.DailyAllowanceCents, &a.NextPaydayMs)
	return a, err
}

const createAccount = `INSERT INTO accounts (daily_allowance_cents, next_payday_ms) VALUES (?, ?)`

func (q *Queries) CreateAccount(ctx context.Context, dailyAllowanceCents, nextPaydayMs int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, createAccount, dailyAllowanceCents, nextPaydayMs)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const updateAccount = `UPDATE accounts SET daily_allowance_cents = ?, next_payday_ms = ? WHERE id = ?`

func (q *Queries) UpdateAccount(ctx context.Context, a Account) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateAccount, a.DailyAllowanceCents, a.NextPaydayMs, a.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteAccount = `DELETE FROM accounts WHERE id = ?`

func (q *Queries) DeleteAccount(ctx context.Context, id int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteAccount, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const getSpend = `SELECT id, account_id, date_ms, amount_cents, label FROM spends WHERE id = ?`

func (q *Queries) GetSpend(ctx context.Context, id int64) (Spend, error) {
	row := q.db.QueryRowContext(ctx, getSpend, id)
	var s Spend
	err := row.Scan(&s.ID, &s.AccountID, &s.DateMs, &s.AmountCents, &s.Label)
	return s, err
}

const listSpendsByAccount = `SELECT id, account_id, date_ms, amount_cents, label FROM spends
WHERE account_id = ?
ORDER BY date_ms DESC, id DESC`

func (q *Queries) ListSpendsByAccount(ctx context.Context, accountID int64) ([]Spend, error) {
	rows, err := q.db.QueryContext(ctx, listSpendsByAccount, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Spend{}
	for rows.Next() {
		var s Spend
		if err := rows.Scan(&s.ID, &s.AccountID, &s.DateMs, &s.AmountCents, &s.Label); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createSpend = `INSERT INTO spends (account_id, date_ms, amount_cents, label) VALUES (?, ?, ?, ?)`

func (q *Queries) CreateSpend(ctx context.Context, s Spend) (int64, error) {
	res, err := q.db.ExecContext(ctx, createSpend, s.AccountID, s.DateMs, s.AmountCents, s.Label)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const updateSpend = `UPDATE spends SET account_id = ?, date_ms = ?, amount_cents = ?, label = ? WHERE id = ?`

func (q *Queries) UpdateSpend(ctx context.Context, s Spend) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateSpend, s.AccountID, s.DateMs, s.AmountCents, s.Label, s.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteSpend = `DELETE FROM spends WHERE id = ?`

func (q *Queries) DeleteSpend(ctx context.Context, id int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteSpend, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteSpendsByAccount = `DELETE FROM spends WHERE account_id = ?`

func (q *Queries) DeleteSpendsByAccount(ctx context.Context, accountID int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteSpendsByAccount, accountID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const getPreference = `SELECT int_value FROM preferences WHERE key = ?`

func (q *Queries) GetPreference(ctx context.Context, key string) (int64, error) {
	row := q.db.QueryRowContext(ctx, getPreference, key)
	var v int64
	err := row.Scan(&v)
	return v, err
}

const setPreference = `INSERT INTO preferences (key, int_value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(key) DO UPDATE SET int_value = excluded.int_value, updated_at = CURRENT_TIMESTAMP`

func (q *Queries) SetPreference(ctx context.Context, key string, value int64) error {
	_, err := q.db.ExecContext(ctx, setPreference, key, value)
	return err
}
