package bootstrap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitCreatesConfigFiles(t *testing.T) {
	tmp := t.TempDir()
	opts := InitOptions{
		Root:         tmp,
		HTTPAddress:  "127.0.0.1:9000",
		DefaultModel: "loopback",
		LedgerPath:   "/var/lib/chatrelay/ledger.db",
	}
	if err := Init(opts); err != nil {
		t.Fatalf("Init: %v", err)
	}

	settingBytes, err := os.ReadFile(filepath.Join(tmp, "config", "setting.ini"))
	if err != nil {
		t.Fatalf("read setting: %v", err)
	}
	content := string(settingBytes)
	if !strings.Contains(content, "environment=dev") {
		t.Fatalf("missing environment: %s", content)
	}
	if !strings.Contains(content, "default_model=loopback") {
		t.Fatalf("missing default model: %s", content)
	}

	relayBytes, err := os.ReadFile(filepath.Join(tmp, "config", "dev", "relay.ini"))
	if err != nil {
		t.Fatalf("read relay: %v", err)
	}
	relayContent := string(relayBytes)
	for _, want := range []string{
		"http_address=127.0.0.1:9000",
		"relay_url=http://localhost:9000",
		"ledger_path=/var/lib/chatrelay/ledger.db",
		"# database_url=",
	} {
		if !strings.Contains(relayContent, want) {
			t.Fatalf("missing %q: %s", want, relayContent)
		}
	}
}

func TestInitRespectsForce(t *testing.T) {
	tmp := t.TempDir()
	opts := InitOptions{Root: tmp, Environment: "live", DatabaseURL: "postgres://relay@db/chat"}
	if err := Init(opts); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := Init(opts); err == nil {
		t.Fatalf("expected error when files exist")
	}
	opts.Force = true
	if err := Init(opts); err != nil {
		t.Fatalf("Init with force: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(tmp, "config", "live", "relay.ini"))
	if err != nil {
		t.Fatalf("read relay: %v", err)
	}
	if !strings.Contains(string(data), "\ndatabase_url=postgres://relay@db/chat\n") {
		t.Fatalf("missing database url: %s", data)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		opts    InitOptions
		wantErr bool
	}{
		{"defaults", InitOptions{}, false},
		{"no port", InitOptions{HTTPAddress: "localhost"}, true},
		{"mysql", InitOptions{DatabaseURL: "mysql://db"}, true},
		{"postgres", InitOptions{DatabaseURL: "postgresql://db/chat"}, false},
		{"env path", InitOptions{Environment: "../etc"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.opts)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate(%+v) error = %v, wantErr %v", tc.opts, err, tc.wantErr)
			}
		})
	}
}
