package bootstrap

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/tokligence/chatrelay/internal/catalog"
	"github.com/tokligence/chatrelay/internal/config"
	"github.com/tokligence/chatrelay/internal/ledger"
	"github.com/tokligence/chatrelay/internal/ledger/async"
	ledgerpg "github.com/tokligence/chatrelay/internal/ledger/postgres"
	ledgersqlite "github.com/tokligence/chatrelay/internal/ledger/sqlite"
	"github.com/tokligence/chatrelay/internal/store"
	storepg "github.com/tokligence/chatrelay/internal/store/postgres"
	storesqlite "github.com/tokligence/chatrelay/internal/store/sqlite"
	"github.com/tokligence/chatrelay/internal/upstream/anthropic"
	"github.com/tokligence/chatrelay/internal/upstream/gemini"
	"github.com/tokligence/chatrelay/internal/upstream/loopback"
	"github.com/tokligence/chatrelay/internal/upstream/openai"
	"github.com/tokligence/chatrelay/internal/upstream/router"
)

// OpenStore opens the conversation store selected by cfg and logs the mode
// once.
func OpenStore(cfg config.RelayConfig, logger *log.Logger) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	if cfg.RemoteStore() {
		pool := storepg.DefaultConfig()
		if cfg.DBMaxOpenConns > 0 {
			pool.MaxOpenConns = cfg.DBMaxOpenConns
		}
		st, err = storepg.New(cfg.DatabaseURL, pool)
	} else {
		st, err = storesqlite.New(cfg.LocalStorePath)
	}
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open store: %w", err)
	}
	if logger != nil {
		logger.Printf("storage mode=%s", st.Mode())
	}
	return st, nil
}

// OpenLedger opens the exchange ledger, wrapped for async writes when
// configured.
func OpenLedger(cfg config.RelayConfig, logger *log.Logger) (ledger.Store, error) {
	var (
		base ledger.Store
		err  error
	)
	if cfg.RemoteLedger() {
		base, err = ledgerpg.New(cfg.LedgerPath, cfg.DBMaxOpenConns, 5, 5, 1)
	} else {
		base, err = ledgersqlite.New(cfg.LedgerPath)
	}
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open ledger: %w", err)
	}
	if !cfg.LedgerAsync {
		return base, nil
	}
	return async.New(base, async.Config{Logger: logger}), nil
}

// OpenCatalog returns the built-in catalog, replaced by models_file when
// one is configured.
func OpenCatalog(cfg config.RelayConfig) (*catalog.Catalog, error) {
	c := catalog.New()
	if cfg.ModelsFile == "" {
		return c, nil
	}
	if _, err := c.Load(cfg.ModelsFile); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return c, nil
}

// BuildProviders registers every provider that has credentials, plus
// loopback, and applies the configured routes. Routes naming a provider
// without credentials are skipped. Without an explicit fallback, anthropic
// is used when configured and loopback otherwise.
func BuildProviders(ctx context.Context, cfg config.RelayConfig, logger *log.Logger) (*router.Router, error) {
	logf := func(format string, args ...any) {
		if logger != nil {
			logger.Printf(format, args...)
		}
	}
	r := router.New()
	if err := r.RegisterProvider("loopback", loopback.New()); err != nil {
		return nil, err
	}

	var httpClient *http.Client
	if cfg.UpstreamTimeout > 0 {
		httpClient = &http.Client{Timeout: cfg.UpstreamTimeout}
	}

	if cfg.AnthropicAPIKey != "" {
		p, err := anthropic.New(anthropic.Config{
			APIKey:         cfg.AnthropicAPIKey,
			BaseURL:        cfg.AnthropicBaseURL,
			Version:        cfg.AnthropicVersion,
			RequestTimeout: cfg.UpstreamTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		if err := r.RegisterProvider("anthropic", p); err != nil {
			return nil, err
		}
	}
	if cfg.OpenAIAPIKey != "" {
		p, err := openai.New(openai.Config{APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.OpenAIBaseURL, HTTPClient: httpClient})
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		if err := r.RegisterProvider("openai", p); err != nil {
			return nil, err
		}
	}
	if cfg.GeminiAPIKey != "" {
		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		p, err := gemini.New(initCtx, gemini.Config{APIKey: cfg.GeminiAPIKey, HTTPClient: httpClient})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		if err := r.RegisterProvider("gemini", p); err != nil {
			return nil, err
		}
	}

	registered := make(map[string]bool)
	for _, name := range r.ListProviders() {
		registered[name] = true
	}
	for _, rule := range cfg.Routes {
		if !registered[rule.Target] {
			logf("route %s => %s skipped: provider not configured", rule.Pattern, rule.Target)
			continue
		}
		if err := r.RegisterRoute(rule.Pattern, rule.Target); err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
	}

	fallback := cfg.FallbackProvider
	if fallback == "" {
		fallback = "loopback"
		if registered["anthropic"] {
			fallback = "anthropic"
		}
	}
	if err := r.SetFallback(fallback); err != nil {
		return nil, fmt.Errorf("bootstrap: fallback: %w", err)
	}
	if cfg.DefaultModel != "" {
		r.SetDefaultModel(cfg.DefaultModel)
	}
	logf("providers=%v fallback=%s", r.ListProviders(), fallback)
	return r, nil
}
