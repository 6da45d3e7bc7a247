package http

import (
	"net/http"
	"strconv"
	"strings"
)

func (s *Server) handleAddSpend(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req spendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Date) != "" {
		writeServiceError(w, r, badRequest("new spends are dated by the server; omit date"))
		return
	}
	amount, label, _, err := req.parse()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	sp, err := s.budget.AddSpend(r.Context(), accountID, amount, label)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.invalidate(accountID)

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/spends/"+strconv.FormatInt(sp.ID, 10)).
		Body(toSpendResponse(sp)).
		Write(w)
}

func (s *Server) handleGetSpend(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	sp, err := s.budget.GetSpend(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	NewJSONResponse().Body(toSpendResponse(sp)).Write(w)
}

// handleUpdateSpend replaces amount and label; an omitted date keeps the
// spend's original date.
func (s *Server) handleUpdateSpend(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req spendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	amount, label, date, err := req.parse()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	sp, err := s.budget.UpdateSpend(r.Context(), id, amount, label, date)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.invalidate(sp.AccountID)
	NewJSONResponse().Body(toSpendResponse(sp)).Write(w)
}

func (s *Server) handleDeleteSpend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	// Load first so the owning account's cached summary can be dropped.
	sp, err := s.budget.GetSpend(ctx, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.budget.DeleteSpend(ctx, id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.invalidate(sp.AccountID)
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
