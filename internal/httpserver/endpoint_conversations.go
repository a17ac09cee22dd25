package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tokligence/chatrelay/internal/chat"
	"github.com/tokligence/chatrelay/internal/httpserver/protocol"
	"github.com/tokligence/chatrelay/internal/store"
)

type conversationsEndpoint struct {
	server *Server
}

func newConversationsEndpoint(server *Server) protocol.Endpoint {
	return &conversationsEndpoint{server: server}
}

func (e *conversationsEndpoint) Name() string { return "conversations" }

func (e *conversationsEndpoint) Routes() []protocol.EndpointRoute {
	s := e.server
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/api/conversations", Handler: http.HandlerFunc(s.handleListConversations)},
		{Method: http.MethodPost, Path: "/api/conversations", Handler: http.HandlerFunc(s.handleCreateConversation)},
		{Method: http.MethodGet, Path: "/api/conversations/{id}", Handler: http.HandlerFunc(s.handleGetConversation)},
		{Method: http.MethodPatch, Path: "/api/conversations/{id}", Handler: http.HandlerFunc(s.handleUpdateConversation)},
		{Method: http.MethodDelete, Path: "/api/conversations/{id}", Handler: http.HandlerFunc(s.handleDeleteConversation)},
		{Method: http.MethodGet, Path: "/api/conversations/{id}/messages", Handler: http.HandlerFunc(s.handleListMessages)},
		{Method: http.MethodPost, Path: "/api/conversations/{id}/messages", Handler: http.HandlerFunc(s.handleAppendMessage)},
	}
}

type conversationPayload struct {
	Title        *string `json:"title"`
	SystemPrompt *string `json:"system_prompt"`
	Model        *string `json:"model"`
}

type messagePayload struct {
	Role      chat.Role `json:"role"`
	Content   string    `json:"content"`
	ImageURLs []string  `json:"image_urls"`
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.store.ListConversations(r.Context())
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	if convs == nil {
		convs = []chat.Conversation{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"conversations": convs, "storage": s.store.Mode()})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var payload conversationPayload
	if err := decodeOptionalJSON(r, &payload); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	conv := chat.Conversation{Title: "New chat", SystemPrompt: payload.SystemPrompt}
	if payload.Title != nil && strings.TrimSpace(*payload.Title) != "" {
		conv.Title = *payload.Title
	}
	if payload.Model != nil {
		conv.Model = *payload.Model
	}
	if conv.Model == "" && s.catalog != nil {
		conv.Model = s.catalog.Default().ID
	}
	created, err := s.store.CreateConversation(r.Context(), store.PrepareConversation(conv))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.debugf("conversation created id=%s model=%s", created.ID, created.Model)
	s.respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.store.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, conv)
}

func (s *Server) handleUpdateConversation(w http.ResponseWriter, r *http.Request) {
	var payload conversationPayload
	if err := decodeOptionalJSON(r, &payload); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Title != nil && strings.TrimSpace(*payload.Title) == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("title must not be empty"))
		return
	}
	conv, err := s.store.UpdateConversation(r.Context(), chi.URLParam(r, "id"), store.ConversationUpdate{
		Title:        payload.Title,
		SystemPrompt: payload.SystemPrompt,
		Model:        payload.Model,
	})
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteConversation(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.store.ListMessages(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	var payload messagePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	switch payload.Role {
	case chat.RoleUser, chat.RoleAssistant:
	default:
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid role %q", payload.Role))
		return
	}
	msg, err := s.store.AppendMessage(r.Context(), store.PrepareMessage(chat.Message{
		ConversationID: chi.URLParam(r, "id"),
		Role:           payload.Role,
		Content:        payload.Content,
		ImageURLs:      payload.ImageURLs,
	}))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, msg)
}

func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, err)
		return
	}
	s.logger.Printf("store error: %v", err)
	s.respondError(w, http.StatusInternalServerError, err)
}

// decodeOptionalJSON decodes the body into v, accepting an empty body.
func decodeOptionalJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
