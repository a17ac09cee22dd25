package httpserver

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tokligence/chatrelay/internal/httpserver/protocol"
	"github.com/tokligence/chatrelay/internal/ledger"
)

const maxExchangeLimit = 500

type exchangesEndpoint struct {
	server *Server
}

func newExchangesEndpoint(server *Server) protocol.Endpoint {
	return &exchangesEndpoint{server: server}
}

func (e *exchangesEndpoint) Name() string { return "exchanges" }

func (e *exchangesEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/api/exchanges", Handler: http.HandlerFunc(e.server.handleExchanges)},
		{Method: http.MethodGet, Path: "/api/exchanges/summary", Handler: http.HandlerFunc(e.server.handleExchangeSummary)},
	}
}

func (s *Server) handleExchanges(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = min(n, maxExchangeLimit)
	}
	entries, err := s.ledger.ListRecent(r.Context(), limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"exchanges": entries})
}

// handleExchangeSummary aggregates the ledger. The window is given either as
// since=<RFC3339> or window=<duration>; without either it covers everything.
func (s *Server) handleExchangeSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var since time.Time
	switch {
	case q.Get("since") != "":
		t, err := time.Parse(time.RFC3339, q.Get("since"))
		if err != nil {
			s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid since: %w", err))
			return
		}
		since = t
	case q.Get("window") != "":
		d, err := time.ParseDuration(q.Get("window"))
		if err != nil || d <= 0 {
			s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid window %q", q.Get("window")))
			return
		}
		since = time.Now().Add(-d)
	}
	sum, err := s.ledger.Summary(r.Context(), since)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sum)
}
