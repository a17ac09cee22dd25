package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, envPrefix) {
			t.Setenv(key, "")
		}
	}
	for _, key := range []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY"} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func TestLoadRelayConfigLayering(t *testing.T) {
	clearEnv(t)
	tmp := t.TempDir()
	writeConfig(t, tmp, "config/setting.ini", "environment=dev\nlog_level=debug\nlog_file=/tmp/base.log\nanthropic_api_key=base-key\n")
	writeConfig(t, tmp, "config/dev/relay.ini", "[relay]\nhttp_address=:9090\nlog_file=/tmp/env.log\nledger_async=false\nupstream_timeout=90s\n")
	t.Setenv("CHATRELAY_ANTHROPIC_API_KEY", "env-key")

	cfg, err := LoadRelayConfig(tmp)
	if err != nil {
		t.Fatalf("LoadRelayConfig: %v", err)
	}
	if cfg.Environment != "dev" {
		t.Fatalf("unexpected environment %s", cfg.Environment)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level from base config, got %s", cfg.LogLevel)
	}
	if cfg.LogFile != "/tmp/env.log" {
		t.Fatalf("expected env file to override base, got %s", cfg.LogFile)
	}
	if cfg.HTTPAddress != ":9090" {
		t.Fatalf("unexpected http address %s", cfg.HTTPAddress)
	}
	if cfg.AnthropicAPIKey != "env-key" {
		t.Fatalf("expected environment variable to win, got %s", cfg.AnthropicAPIKey)
	}
	if cfg.LedgerAsync {
		t.Fatalf("expected ledger_async=false")
	}
	if cfg.UpstreamTimeout != 90*time.Second {
		t.Fatalf("unexpected upstream timeout %v", cfg.UpstreamTimeout)
	}
}

func TestLoadRelayConfigDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadRelayConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadRelayConfig: %v", err)
	}
	if cfg.Environment != defaultEnv {
		t.Fatalf("unexpected environment %s", cfg.Environment)
	}
	if cfg.HTTPAddress != ":8080" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.AnthropicVersion != "2023-06-01" {
		t.Fatalf("unexpected anthropic version %s", cfg.AnthropicVersion)
	}
	if !cfg.LedgerAsync {
		t.Fatalf("expected async ledger by default")
	}
	if cfg.RemoteStore() || cfg.RemoteLedger() {
		t.Fatalf("expected local storage by default")
	}
	if cfg.DBMaxOpenConns != 25 {
		t.Fatalf("unexpected pool size %d", cfg.DBMaxOpenConns)
	}
	if cfg.RelayURL != "http://localhost:8080" {
		t.Fatalf("unexpected relay url %s", cfg.RelayURL)
	}
	if !reflect.DeepEqual(cfg.Routes, DefaultRoutes()) {
		t.Fatalf("expected default routes, got %+v", cfg.Routes)
	}
}

func TestLoadRelayConfigEnvironmentSelection(t *testing.T) {
	clearEnv(t)
	tmp := t.TempDir()
	writeConfig(t, tmp, "config/setting.ini", "environment=dev\n")
	writeConfig(t, tmp, "config/dev/relay.ini", "http_address=:1111\n")
	writeConfig(t, tmp, "config/live/relay.ini", "http_address=:2222\ndatabase_url=postgres://relay@db/chat\n")
	t.Setenv("CHATRELAY_ENVIRONMENT", "live")

	cfg, err := LoadRelayConfig(tmp)
	if err != nil {
		t.Fatalf("LoadRelayConfig: %v", err)
	}
	if cfg.Environment != "live" || cfg.HTTPAddress != ":2222" {
		t.Fatalf("expected live environment, got %s %s", cfg.Environment, cfg.HTTPAddress)
	}
	if !cfg.RemoteStore() {
		t.Fatalf("expected remote store for %s", cfg.DatabaseURL)
	}
}

func TestLoadRelayConfigInvalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"timeout", "upstream_timeout=soon\n"},
		{"negative timeout", "upstream_timeout=-1s\n"},
		{"log level", "log_level=verbose\n"},
		{"negative rate limit", "chat_rate_limit=-5\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			tmp := t.TempDir()
			writeConfig(t, tmp, "config/dev/relay.ini", tc.content)
			if _, err := LoadRelayConfig(tmp); err == nil {
				t.Fatalf("expected error for %q", tc.content)
			}
		})
	}
}

func TestParseRouteList(t *testing.T) {
	cases := []struct {
		input string
		want  []RouteRule
	}{
		{"", nil},
		{"claude* = anthropic, gpt-*=>OpenAI", []RouteRule{{"claude*", "anthropic"}, {"gpt-*", "openai"}}},
		{"# comment\ngemini*=gemini\n\nbroken\n=x", []RouteRule{{"gemini*", "gemini"}}},
	}
	for _, tc := range cases {
		if got := parseRouteList(tc.input); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("parseRouteList(%q) = %+v, want %+v", tc.input, got, tc.want)
		}
	}
}

func TestParseHelpers(t *testing.T) {
	if !parseBool("Yes") || parseBool("nope") {
		t.Fatalf("parseBool mismatch")
	}
	if parseOptionalBool("", true) != true || parseOptionalBool("off", true) != false {
		t.Fatalf("parseOptionalBool mismatch")
	}
	if parseOptionalInt("12", 1) != 12 || parseOptionalInt("x", 7) != 7 {
		t.Fatalf("parseOptionalInt mismatch")
	}
	if firstNonEmpty("", "  ", "a", "b") != "a" {
		t.Fatalf("firstNonEmpty mismatch")
	}
}
