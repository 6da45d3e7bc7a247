// Package core holds the ledger domain: accounts, spends, the daily
// allowance rule and money parsing.
package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// NoAccount is the value of the active account pointer when no account is selected.
const NoAccount int64 = -1

const day = 24 * time.Hour

type (
	Money struct {
		Cents int64
	}

	// Account is a budget with a cached daily allowance derived from the
	// balance and payday it was last computed from.
	Account struct {
		ID             int64
		DailyAllowance Money
		NextPayday     time.Time
	}

	// Spend is a single transaction logged against an account.
	Spend struct {
		ID        int64
		AccountID int64
		Date      time.Time
		Amount    Money
		Label     string
	}

	// Summary is the read model for one account: its allowance, payday and
	// every spend ordered most-recent-first.
	Summary struct {
		DailyAllowance Money
		NextPayday     time.Time
		Spends         []Spend
	}
)

var (
	ErrInvalidBalance   = errors.New("invalid balance")
	ErrInvalidPayday    = errors.New("invalid payday")
	ErrPaydayInPast     = errors.New("payday in past")
	ErrAccountNotFound  = errors.New("account not found")
	ErrSpendNotFound    = errors.New("spend not found")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// StoreError wraps a failure reported by a storage collaborator.
// It matches ErrStoreUnavailable with errors.Is and unwraps to the cause.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return "store unavailable: " + e.Op
	}
	return "store unavailable: " + e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

// DaysBetween returns the number of whole days from one instant to another,
// truncated toward zero. It is negative when to precedes from.
func DaysBetween(from, to time.Time) int64 {
	return int64(to.Sub(from) / day)
}

// DailyAllowance divides balance over the given number of days using
// truncating integer division.
func DailyAllowance(balance Money, days int64) (Money, error) {
	if balance.Cents < 0 {
		return Money{}, ErrInvalidBalance
	}
	if days <= 0 {
		return Money{}, ErrInvalidPayday
	}
	return Money{Cents: balance.Cents / days}, nil
}

// Instant normalizes t to the millisecond precision stores persist, in UTC.
func Instant(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).UTC()
}

// ParseInstant accepts RFC 3339 timestamps or a bare YYYY-MM-DD date,
// which is read as midnight UTC.
func ParseInstant(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q is neither YYYY-MM-DD nor RFC 3339", s)
	}
	return t, nil
}

func (m Money) Validate() error {
	if m.Cents < 0 {
		return ErrInvalidBalance
	}
	return nil
}

func (a Account) Validate() error {
	if err := a.DailyAllowance.Validate(); err != nil {
		return err
	}
	if a.NextPayday.IsZero() {
		return ErrInvalidPayday
	}
	return nil
}

// Validate only checks the spend is attached to an account and dated;
// amounts are left to the caller's policy.
func (s Spend) Validate() error {
	if s.AccountID <= 0 {
		return ErrAccountNotFound
	}
	if s.Date.IsZero() {
		return errors.New("spend date cannot be zero")
	}
	return nil
}
