// Package http exposes the budget service as a JSON API.
//
// This file holds the fluent builder every handler uses to write JSON
// responses, and the mapping from domain errors to status codes.

package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"dailybudget/internal/core"
	applog "dailybudget/internal/log"
)

// Error codes carried in the "error" field of error bodies.
const (
	CodeBadRequest       = "bad_request"
	CodeInvalidBalance   = "invalid_balance"
	CodeInvalidPayday    = "invalid_payday"
	CodePaydayInPast     = "payday_in_past"
	CodeInvalidAmount    = "invalid_amount"
	CodeAccountNotFound  = "account_not_found"
	CodeSpendNotFound    = "spend_not_found"
	CodeNoActiveAccount  = "no_active_account"
	CodeStoreUnavailable = "store_unavailable"
	CodeRateLimited      = "rate_limited"
	CodeInternal         = "internal_error"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	body       any
	headers    map[string]string
}

func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body. A nil body writes
// only the status line.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.statusCode)
	_ = json.NewEncoder(w).Encode(b.body)
}

func ErrorResponse(statusCode int, code, message string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(statusCode).
		Body(errorBody{Error: code, Message: message})
}

func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, CodeBadRequest, message)
}

func NotFoundError(code, message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, code, message)
}

// errorStatus maps a service error to its status code and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, CodeBadRequest
	case errors.Is(err, core.ErrInvalidBalance):
		return http.StatusUnprocessableEntity, CodeInvalidBalance
	case errors.Is(err, core.ErrInvalidPayday):
		return http.StatusUnprocessableEntity, CodeInvalidPayday
	case errors.Is(err, core.ErrPaydayInPast):
		return http.StatusUnprocessableEntity, CodePaydayInPast
	case errors.Is(err, core.ErrInvalidAmount):
		return http.StatusUnprocessableEntity, CodeInvalidAmount
	case errors.Is(err, core.ErrAccountNotFound):
		return http.StatusNotFound, CodeAccountNotFound
	case errors.Is(err, core.ErrSpendNotFound):
		return http.StatusNotFound, CodeSpendNotFound
	case errors.Is(err, core.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, CodeStoreUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// writeServiceError logs err and writes the matching error body. Details of
// unexpected errors stay in the log.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	msg := err.Error()

	logger := applog.FromContext(r.Context())
	switch {
	case status >= 500:
		logger.ErrorContext(r.Context(), "Request failed", applog.FieldError, err, "error_code", code)
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	default:
		logger.DebugContext(r.Context(), "Request rejected", applog.FieldError, err, "error_code", code)
	}
	if status == http.StatusServiceUnavailable {
		ErrorResponse(status, code, msg).Header("Retry-After", "1").Write(w)
		return
	}
	ErrorResponse(status, code, msg).Write(w)
}

type accountResponse struct {
	ID                  int64     `json:"id"`
	DailyAllowanceCents int64     `json:"daily_allowance_cents"`
	NextPayday          time.Time `json:"next_payday"`
}

type spendResponse struct {
	ID          int64     `json:"id"`
	AccountID   int64     `json:"account_id"`
	Date        time.Time `json:"date"`
	AmountCents int64     `json:"amount_cents"`
	Label       string    `json:"label"`
}

type summaryResponse struct {
	AccountID           int64           `json:"account_id"`
	DailyAllowanceCents int64           `json:"daily_allowance_cents"`
	NextPayday          time.Time       `json:"next_payday"`
	Spends              []spendResponse `json:"spends"`
}

type activeAccountResponse struct {
	AccountID int64 `json:"account_id"`
}

func toAccountResponse(a core.Account) accountResponse {
	return accountResponse{
		ID:                  a.ID,
		DailyAllowanceCents: a.DailyAllowance.Cents,
		NextPayday:          a.NextPayday.UTC(),
	}
}

func toSpendResponse(s core.Spend) spendResponse {
	return spendResponse{
		ID:          s.ID,
		AccountID:   s.AccountID,
		Date:        s.Date.UTC(),
		AmountCents: s.Amount.Cents,
		Label:       s.Label,
	}
}

func toSummaryResponse(accountID int64, sum core.Summary) summaryResponse {
	spends := make([]spendResponse, 0, len(sum.Spends))
	for _, sp := range sum.Spends {
		spends = append(spends, toSpendResponse(sp))
	}
	return summaryResponse{
		AccountID:           accountID,
		DailyAllowanceCents: sum.DailyAllowance.Cents,
		NextPayday:          sum.NextPayday.UTC(),
		Spends:              spends,
	}
}
