package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tokligence/chatrelay/internal/upstream"
)

var _ upstream.Provider = (*Router)(nil)

// Router routes streaming calls to the appropriate provider based on model name.
type Router struct {
	mu           sync.RWMutex
	providers    map[string]upstream.Provider
	routes       map[string]string // model pattern -> provider name
	fallback     string
	defaultModel string
}

// New creates a new Router instance.
func New() *Router {
	return &Router{
		providers: make(map[string]upstream.Provider),
		routes:    make(map[string]string),
	}
}

// RegisterProvider registers a provider with a name.
func (r *Router) RegisterProvider(name string, p upstream.Provider) error {
	if name == "" {
		return errors.New("router: provider name cannot be empty")
	}
	if p == nil {
		return errors.New("router: provider cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers[name] = p
	return nil
}

// RegisterRoute registers a model pattern to provider mapping.
// Model patterns support:
// - Exact match: "claude-opus-4-6"
// - Prefix match: "claude-*"
// - Suffix match: "*-mini"
// - Contains match: "*sonnet*"
func (r *Router) RegisterRoute(modelPattern, providerName string) error {
	modelPattern = strings.ToLower(strings.TrimSpace(modelPattern))
	if modelPattern == "" {
		return errors.New("router: model pattern cannot be empty")
	}
	if providerName == "" {
		return errors.New("router: provider name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[providerName]; !exists {
		return fmt.Errorf("router: provider %q not registered", providerName)
	}

	r.routes[modelPattern] = providerName
	return nil
}

// SetFallback names the provider used for unmatched models.
func (r *Router) SetFallback(providerName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[providerName]; !exists {
		return fmt.Errorf("router: provider %q not registered", providerName)
	}
	r.fallback = providerName
	return nil
}

// SetDefaultModel sets the model used when a request names none.
func (r *Router) SetDefaultModel(model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultModel = strings.TrimSpace(model)
}

// OpenStream routes the request to the appropriate provider.
func (r *Router) OpenStream(ctx context.Context, req upstream.Request) (upstream.Stream, error) {
	if strings.TrimSpace(req.Model) == "" {
		r.mu.RLock()
		req.Model = r.defaultModel
		r.mu.RUnlock()
	}
	if req.Model == "" {
		return nil, errors.New("router: model name required")
	}

	name, err := r.findProvider(req.Model)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	selected, exists := r.providers[name]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("router: provider %q not found", name)
	}

	return selected.OpenStream(ctx, req)
}

// findProvider finds the provider name for a given model. Exact routes win;
// among wildcard routes the longest pattern wins so results do not depend on
// map order.
func (r *Router) findProvider(model string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	model = strings.ToLower(strings.TrimSpace(model))

	if name, exists := r.routes[model]; exists {
		return name, nil
	}

	patterns := make([]string, 0, len(r.routes))
	for pattern := range r.routes {
		patterns = append(patterns, pattern)
	}
	sort.Slice(patterns, func(i, j int) bool {
		if len(patterns[i]) != len(patterns[j]) {
			return len(patterns[i]) > len(patterns[j])
		}
		return patterns[i] < patterns[j]
	})
	for _, pattern := range patterns {
		if matchPattern(model, pattern) {
			return r.routes[pattern], nil
		}
	}

	if r.fallback != "" {
		return r.fallback, nil
	}

	return "", fmt.Errorf("%w %q", upstream.ErrNoProvider, model)
}

// matchPattern checks if a model matches a pattern.
func matchPattern(model, pattern string) bool {
	model = strings.ToLower(model)
	pattern = strings.ToLower(pattern)

	if model == pattern {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}

	switch {
	case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*"):
		return strings.Contains(model, strings.Trim(pattern, "*"))
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(model, strings.TrimSuffix(pattern, "*"))
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(model, strings.TrimPrefix(pattern, "*"))
	}
	return false
}

// ProviderForModel returns the provider name for a given model.
func (r *Router) ProviderForModel(model string) (string, error) {
	return r.findProvider(model)
}

// ListProviders returns all registered provider names, sorted.
func (r *Router) ListProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListRoutes returns all registered routes.
func (r *Router) ListRoutes() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make(map[string]string, len(r.routes))
	for pattern, name := range r.routes {
		routes[pattern] = name
	}
	return routes
}
