package server

import (
	"log/slog"
	"net/http"

	"tradeescrow/services/trade-gateway/engine"
)

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorStatus struct {
	code    int
	message string
}

// statuses maps error kinds to responses. Messages are fixed so wrapped
// details never reach the caller.
var statuses = map[string]errorStatus{
	engine.KindInvalidAction:      {http.StatusConflict, "action not allowed in the current trade state"},
	engine.KindDeadlineNotReached: {http.StatusConflict, "deadline not reached"},
	engine.KindConflict:           {http.StatusConflict, "resource was modified concurrently"},
	engine.KindNotFound:           {http.StatusNotFound, "resource not found"},
	engine.KindStaleEvent:         {http.StatusConflict, "ledger event does not apply"},
	engine.KindLedgerUnavailable:  {http.StatusBadGateway, "ledger unavailable"},
	engine.KindTransactionAbort:   {http.StatusServiceUnavailable, "transaction aborted, retry"},
	engine.KindInvalidTransition:  {http.StatusConflict, "invalid listing transition"},
	engine.KindInvalidRequest:     {http.StatusBadRequest, "invalid request"},
	engine.KindForbidden:          {http.StatusForbidden, "forbidden"},
}

func toStatus(err error) (int, errorBody) {
	kind := engine.Kind(err)
	st, ok := statuses[kind]
	if !ok {
		return http.StatusInternalServerError, errorBody{Kind: engine.KindInternal, Message: "internal error"}
	}
	return st.code, errorBody{Kind: kind, Message: st.message}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, body := toStatus(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("kind", body.Kind),
			slog.Any("error", err))
	}
	writeJSON(w, code, body)
}
