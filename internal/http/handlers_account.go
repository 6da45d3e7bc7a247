package http

import (
	"fmt"
	"net/http"
	"strconv"

	"dailybudget/internal/core"
	applog "dailybudget/internal/log"
)

// handleCreateAccount creates an account and, when asked, makes it the
// active one.
func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	balance, payday, err := req.parse()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	acct, err := s.budget.CreateAccount(ctx, balance, payday)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if req.Activate {
		if err := s.pointer.Write(ctx, acct.ID); err != nil {
			writeServiceError(w, r, &core.StoreError{Op: "activate account", Err: err})
			return
		}
	}

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/accounts/"+strconv.FormatInt(acct.ID, 10)+"/summary").
		Body(toAccountResponse(acct)).
		Write(w)
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	sum, err := s.summary(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	NewJSONResponse().Body(toSummaryResponse(id, sum)).Write(w)
}

// handleDeleteAccount removes the account with its spends and clears the
// active account pointer if it referenced the deleted id.
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if err := s.budget.DeleteAccount(ctx, id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.invalidate(id)

	current, err := s.pointer.Read(ctx)
	if err == nil && current == id {
		err = s.pointer.Write(ctx, core.NoAccount)
	}
	if err != nil {
		applog.FromContext(ctx).WarnContext(ctx, "Could not reset active account after delete",
			applog.FieldAccountID, id, applog.FieldError, err)
	}

	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleUpdatePayday(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req paydayRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	payday, err := core.ParseInstant(req.Payday)
	if err != nil {
		writeServiceError(w, r, fmt.Errorf("%w: %v", core.ErrInvalidPayday, err))
		return
	}

	acct, err := s.budget.UpdatePayday(r.Context(), id, payday)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.invalidate(id)
	NewJSONResponse().Body(toAccountResponse(acct)).Write(w)
}

// handleUpdateBalance recomputes the daily allowance from a new balance
// over the days left until the stored payday.
func (s *Server) handleUpdateBalance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req balanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	balance, err := req.parse()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	acct, err := s.budget.UpdateBalance(r.Context(), id, balance)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.invalidate(id)
	NewJSONResponse().Body(toAccountResponse(acct)).Write(w)
}
