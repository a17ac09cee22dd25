package httpserver

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tokligence/chatrelay/internal/catalog"
	"github.com/tokligence/chatrelay/internal/httpserver/protocol"
	"github.com/tokligence/chatrelay/internal/ledger"
	"github.com/tokligence/chatrelay/internal/ratelimit"
	"github.com/tokligence/chatrelay/internal/relay"
	"github.com/tokligence/chatrelay/internal/store"
	"github.com/tokligence/chatrelay/internal/upstream"
)

// ProviderDirectory is implemented by provider routers that can report
// their configuration. The health endpoint and the ledger use it when the
// relay's provider offers it.
type ProviderDirectory interface {
	ListProviders() []string
	ListRoutes() map[string]string
	ProviderForModel(model string) (string, error)
}

// Server exposes the chat relay, conversation storage, model catalog and
// exchange ledger over HTTP.
type Server struct {
	relay     *relay.Relay
	directory ProviderDirectory
	store     store.Store
	ledger    ledger.Store
	catalog   *catalog.Catalog
	limiter   *ratelimit.Limiter
	started   time.Time

	logger   *log.Logger
	logLevel string
}

// New creates a Server. The store, ledger and catalog are optional; their
// endpoints are not registered when nil.
func New(provider upstream.Provider, st store.Store, led ledger.Store, cat *catalog.Catalog) *Server {
	s := &Server{
		relay:    relay.New(provider),
		store:    st,
		ledger:   led,
		catalog:  cat,
		started:  time.Now(),
		logger:   log.New(os.Stdout, "[relayd/http] ", log.LstdFlags|log.Lmicroseconds),
		logLevel: "info",
	}
	if d, ok := provider.(ProviderDirectory); ok {
		s.directory = d
	}
	return s
}

// SetLogger configures server-level logger and verbosity ("debug", "info", ...).
// The relay shares the same logger.
func (s *Server) SetLogger(level string, logger *log.Logger) {
	s.logLevel = strings.ToLower(strings.TrimSpace(level))
	if logger != nil {
		s.logger = logger
	}
	s.relay.SetLogger(s.logLevel, s.logger)
}

// SetChatRateLimit limits how often each client may open a chat stream.
// Call it before Router. A nil limiter removes the limit.
func (s *Server) SetChatRateLimit(l *ratelimit.Limiter) {
	s.limiter = l
}

func (s *Server) isDebug() bool { return s.logLevel == "debug" }
func (s *Server) debugf(format string, args ...any) {
	if s.logger != nil && s.isDebug() {
		s.logger.Printf("DEBUG "+format, args...)
	}
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := s.newBaseRouter()
	s.registerEndpoints(r, s.endpoints()...)
	return r
}

func (s *Server) newBaseRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	return r
}

func (s *Server) endpoints() []protocol.Endpoint {
	eps := []protocol.Endpoint{newChatEndpoint(s), newHealthEndpoint(s)}
	if s.store != nil {
		eps = append(eps, newConversationsEndpoint(s))
	}
	if s.catalog != nil {
		eps = append(eps, newModelsEndpoint(s))
	}
	if s.ledger != nil {
		eps = append(eps, newExchangesEndpoint(s))
	}
	return eps
}

func (s *Server) registerEndpoints(r chi.Router, endpoints ...protocol.Endpoint) {
	for _, ep := range endpoints {
		if ep == nil {
			continue
		}
		s.debugf("registering endpoint %s", ep.Name())
		for _, route := range ep.Routes() {
			r.Method(route.Method, route.Path, route.Handler)
		}
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}
