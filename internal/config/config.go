package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/relay.ini"
	envPrefix        = "CHATRELAY_"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// RelayConfig describes runtime options shared by relayd and chatctl.
type RelayConfig struct {
	Environment string
	HTTPAddress string
	LogFile     string
	LogLevel    string

	// Conversation storage. A postgres:// DSN selects the remote store,
	// otherwise conversations live in the local SQLite file.
	DatabaseURL    string
	DBMaxOpenConns int
	LocalStorePath string

	// LedgerPath is a SQLite file, or a postgres:// DSN for a shared ledger.
	LedgerPath  string
	LedgerAsync bool

	AnthropicAPIKey  string
	AnthropicBaseURL string
	AnthropicVersion string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	GeminiAPIKey     string

	// Routes keeps declaration order; the router still prefers exact
	// matches and longer patterns.
	Routes           []RouteRule
	FallbackProvider string
	DefaultModel     string
	ModelsFile       string
	UpstreamTimeout  time.Duration

	// ChatRateLimit is chat streams per minute per client IP; 0 disables.
	ChatRateLimit int
	ChatRateBurst int

	// RelayURL is where chatctl finds relayd.
	RelayURL string
}

// RouteRule captures an ordered pattern => provider mapping.
type RouteRule struct {
	Pattern string
	Target  string
}

// DefaultRoutes returns the routing used when none is configured.
func DefaultRoutes() []RouteRule {
	return []RouteRule{
		{Pattern: "claude*", Target: "anthropic"},
		{Pattern: "gpt-*", Target: "openai"},
		{Pattern: "o*", Target: "openai"},
		{Pattern: "gemini*", Target: "gemini"},
		{Pattern: "loopback", Target: "loopback"},
	}
}

// LoadRelayConfig reads the current environment and loads the matching
// relay.ini on top of setting.ini. CHATRELAY_* variables win over both.
func LoadRelayConfig(root string) (RelayConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return RelayConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return RelayConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}
	get := func(key string, fallbacks ...string) string {
		vals := append([]string{os.Getenv(envPrefix + strings.ToUpper(key)), merged[key]}, fallbacks...)
		return strings.TrimSpace(firstNonEmpty(vals...))
	}

	cfg := RelayConfig{
		Environment:      s.Environment,
		HTTPAddress:      get("http_address", ":8080"),
		LogFile:          get("log_file"),
		LogLevel:         strings.ToLower(get("log_level", "info")),
		DatabaseURL:      get("database_url"),
		DBMaxOpenConns:   parseOptionalInt(get("db_max_open_conns"), 25),
		LocalStorePath:   get("local_store_path", DefaultDataPath("conversations.db")),
		LedgerPath:       get("ledger_path", DefaultDataPath("ledger.db")),
		LedgerAsync:      parseOptionalBool(get("ledger_async"), true),
		AnthropicAPIKey:  get("anthropic_api_key", os.Getenv("ANTHROPIC_API_KEY")),
		AnthropicBaseURL: get("anthropic_base_url"),
		AnthropicVersion: get("anthropic_version", "2023-06-01"),
		OpenAIAPIKey:     get("openai_api_key", os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:    get("openai_base_url"),
		GeminiAPIKey:     get("gemini_api_key", os.Getenv("GEMINI_API_KEY")),
		FallbackProvider: strings.ToLower(get("fallback_provider")),
		DefaultModel:     get("default_model"),
		ModelsFile:       get("models_file"),
		RelayURL:         strings.TrimSuffix(get("relay_url", "http://localhost:8080"), "/"),
		ChatRateLimit:    parseOptionalInt(get("chat_rate_limit"), 0),
		ChatRateBurst:    parseOptionalInt(get("chat_rate_burst"), 0),
	}
	if cfg.ChatRateLimit < 0 || cfg.ChatRateBurst < 0 {
		return RelayConfig{}, fmt.Errorf("invalid chat_rate_limit %d/%d: must not be negative", cfg.ChatRateLimit, cfg.ChatRateBurst)
	}
	cfg.Routes = parseRouteList(get("routes"))
	if len(cfg.Routes) == 0 {
		cfg.Routes = DefaultRoutes()
	}
	if v := get("upstream_timeout"); v != "" {
		dur, err := time.ParseDuration(v)
		if err != nil {
			return RelayConfig{}, fmt.Errorf("invalid upstream_timeout %q: %w", v, err)
		}
		if dur < 0 {
			return RelayConfig{}, fmt.Errorf("invalid upstream_timeout %q: must not be negative", v)
		}
		cfg.UpstreamTimeout = dur
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return RelayConfig{}, fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	return cfg, nil
}

// RemoteStore reports whether conversations go to PostgreSQL.
func (c RelayConfig) RemoteStore() bool {
	return isPostgresDSN(c.DatabaseURL)
}

// RemoteLedger reports whether the exchange ledger goes to PostgreSQL.
func (c RelayConfig) RemoteLedger() bool {
	return isPostgresDSN(c.LedgerPath)
}

func isPostgresDSN(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://")
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := firstNonEmpty(os.Getenv(envPrefix+"ENVIRONMENT"), values["environment"], defaultEnv)
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// parseRouteList reads pattern=>provider rules separated by commas or
// newlines. Both "=" and "=>" are accepted:
//
//	claude* = anthropic, gpt-* = openai
//	gemini*=>gemini\nloopback=>loopback
func parseRouteList(input string) []RouteRule {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	var rules []RouteRule
	for _, line := range strings.Split(input, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		for _, part := range strings.Split(line, ",") {
			entry := strings.TrimSpace(part)
			if entry == "" {
				continue
			}
			var kv []string
			if strings.Contains(entry, "=>") {
				kv = strings.SplitN(entry, "=>", 2)
			} else {
				kv = strings.SplitN(entry, "=", 2)
			}
			if len(kv) != 2 {
				continue
			}
			pattern := strings.TrimSpace(kv[0])
			target := strings.ToLower(strings.TrimSpace(kv[1]))
			if pattern == "" || target == "" {
				continue
			}
			rules = append(rules, RouteRule{Pattern: pattern, Target: target})
		}
	}
	if len(rules) == 0 {
		return nil
	}
	return rules
}

// DefaultDataPath returns name under ~/.chatrelay, or name itself when the
// home directory is unknown.
func DefaultDataPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".chatrelay", name)
}
