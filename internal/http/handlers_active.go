package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"dailybudget/internal/core"
	applog "dailybudget/internal/log"
)

const (
	watchWriteWait  = 5 * time.Second
	watchPingPeriod = 30 * time.Second
	watchPongWait   = 2 * watchPingPeriod
)

// watchFrame is sent once on connect and again on every pointer change.
// Summary is nil when no account is active.
type watchFrame struct {
	AccountID int64            `json:"account_id"`
	Summary   *summaryResponse `json:"summary"`
	Error     string           `json:"error,omitempty"`
}

func (s *Server) handleGetActive(w http.ResponseWriter, r *http.Request) {
	id, err := s.pointer.Read(r.Context())
	if err != nil {
		writeServiceError(w, r, &core.StoreError{Op: "read active account", Err: err})
		return
	}
	NewJSONResponse().Body(activeAccountResponse{AccountID: id}).Write(w)
}

// handlePutActive selects an existing account, or clears the selection
// when account_id is -1.
func (s *Server) handlePutActive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req activeAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if req.AccountID == nil {
		writeServiceError(w, r, badRequest("account_id is required"))
		return
	}
	id := *req.AccountID

	if id != core.NoAccount {
		if _, err := s.summary(ctx, id); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	if err := s.pointer.Write(ctx, id); err != nil {
		writeServiceError(w, r, &core.StoreError{Op: "write active account", Err: err})
		return
	}
	NewJSONResponse().Body(activeAccountResponse{AccountID: id}).Write(w)
}

func (s *Server) handleActiveSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := s.pointer.Read(ctx)
	if err != nil {
		writeServiceError(w, r, &core.StoreError{Op: "read active account", Err: err})
		return
	}
	if id == core.NoAccount {
		NotFoundError(CodeNoActiveAccount, "no account is active").Write(w)
		return
	}
	sum, err := s.summary(ctx, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	NewJSONResponse().Body(toSummaryResponse(id, sum)).Write(w)
}

// handleWatch streams the active account's summary over a websocket.
// Bursts of pointer changes collapse to the latest value.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	logger := applog.FromContext(ctx)

	s.metrics.Watchers.Inc()
	defer s.metrics.Watchers.Dec()

	ids, err := s.pointer.Watch(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Active account watch failed", applog.FieldError, err)
		s.closeWatch(conn, websocket.CloseInternalServerErr, "watch unavailable")
		return
	}

	// The reader only exists to notice the client going away and to
	// process pong frames.
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(watchPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(watchPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(watchPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-s.done:
			s.closeWatch(conn, websocket.CloseGoingAway, "server shutting down")
			return
		case <-ctx.Done():
			s.closeWatch(conn, websocket.CloseNormalClosure, "")
			return
		case id, ok := <-ids:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
			if err := conn.WriteJSON(s.watchFrame(ctx, id)); err != nil {
				logger.DebugContext(ctx, "Watch client write failed", applog.FieldError, err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(watchWriteWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) watchFrame(ctx context.Context, id int64) watchFrame {
	frame := watchFrame{AccountID: id}
	if id == core.NoAccount {
		return frame
	}
	sum, err := s.summary(ctx, id)
	if err != nil {
		_, code := errorStatus(err)
		frame.Error = code
		return frame
	}
	resp := toSummaryResponse(id, sum)
	frame.Summary = &resp
	return frame
}

func (s *Server) closeWatch(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(watchWriteWait))
}
