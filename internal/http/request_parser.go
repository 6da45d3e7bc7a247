// Package http exposes the budget service as a JSON API.
//
// This file implements the parsing of request bodies, path variables and
// the amount and date formats the API accepts.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"dailybudget/internal/core"
)

const maxBodyBytes = 64 << 10

var errBadRequest = errors.New("bad request")

// badRequest marks a malformed request; it maps to 400 rather than a
// domain error code.
func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// decodeJSON reads exactly one JSON object into dst. Unknown fields are
// rejected so typos in field names surface as 400s.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("empty body")
		}
		return badRequest("invalid JSON: %v", err)
	}
	if dec.More() {
		return badRequest("body must contain a single JSON object")
	}
	return nil
}

// pathID reads a positive integer path variable.
func pathID(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, badRequest("%s must be an integer, got %q", name, raw)
	}
	return id, nil
}

// centsInput resolves an amount given either as integer cents or as a
// decimal string; exactly one must be present.
func centsInput(field string, cents *int64, decimal string) (int64, error) {
	decimal = strings.TrimSpace(decimal)
	switch {
	case cents != nil && decimal != "":
		return 0, badRequest("set only one of %s_cents and %s", field, field)
	case cents != nil:
		return *cents, nil
	case decimal != "":
		v, err := core.ParseDecimalToCents(decimal)
		if err != nil {
			return 0, err
		}
		return v, nil
	default:
		return 0, badRequest("%s_cents or %s is required", field, field)
	}
}

type createAccountRequest struct {
	BalanceCents *int64 `json:"balance_cents"`
	Balance      string `json:"balance"`
	Payday       string `json:"payday"`
	Activate     bool   `json:"activate"`
}

func (req createAccountRequest) parse() (core.Money, time.Time, error) {
	cents, err := centsInput("balance", req.BalanceCents, req.Balance)
	if err != nil {
		if errors.Is(err, core.ErrInvalidAmount) {
			return core.Money{}, time.Time{}, fmt.Errorf("%w: %q", core.ErrInvalidBalance, req.Balance)
		}
		return core.Money{}, time.Time{}, err
	}
	payday, err := core.ParseInstant(req.Payday)
	if err != nil {
		return core.Money{}, time.Time{}, fmt.Errorf("%w: %v", core.ErrInvalidPayday, err)
	}
	return core.Money{Cents: cents}, payday, nil
}

type paydayRequest struct {
	Payday string `json:"payday"`
}

type balanceRequest struct {
	BalanceCents *int64 `json:"balance_cents"`
	Balance      string `json:"balance"`
}

func (req balanceRequest) parse() (core.Money, error) {
	cents, err := centsInput("balance", req.BalanceCents, req.Balance)
	if errors.Is(err, core.ErrInvalidAmount) {
		return core.Money{}, fmt.Errorf("%w: %q", core.ErrInvalidBalance, req.Balance)
	}
	return core.Money{Cents: cents}, err
}

type spendRequest struct {
	AmountCents *int64 `json:"amount_cents"`
	Amount      string `json:"amount"`
	Label       string `json:"label"`
	// Date is only honoured on updates; new spends are stamped by the service.
	Date string `json:"date"`
}

func (req spendRequest) parse() (core.Money, string, time.Time, error) {
	cents, err := centsInput("amount", req.AmountCents, req.Amount)
	if err != nil {
		return core.Money{}, "", time.Time{}, err
	}
	var date time.Time
	if strings.TrimSpace(req.Date) != "" {
		if date, err = core.ParseInstant(req.Date); err != nil {
			return core.Money{}, "", time.Time{}, badRequest("%v", err)
		}
	}
	return core.Money{Cents: cents}, sanitizeInput(req.Label), date, nil
}

type activeAccountRequest struct {
	AccountID *int64 `json:"account_id"`
}
