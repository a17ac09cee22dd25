package httpserver

import (
	"net/http"

	"github.com/tokligence/chatrelay/internal/httpserver/protocol"
)

type modelsEndpoint struct {
	server *Server
}

func newModelsEndpoint(server *Server) protocol.Endpoint {
	return &modelsEndpoint{server: server}
}

func (e *modelsEndpoint) Name() string { return "models" }

func (e *modelsEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/api/models", Handler: http.HandlerFunc(e.server.handleModels)},
	}
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"models":  s.catalog.List(),
		"default": s.catalog.Default().ID,
		"source":  s.catalog.Source(),
	})
}
