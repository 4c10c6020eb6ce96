// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, defaults, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
broker:
  addr: "0.0.0.0:9400"
space: "workshop"

llm:
  type: "openai"
  model: "gpt-4o-mini"
  api_key: "sk-test"
  timeout: "45s"

moderator:
  roster_dir: "./agents"
  ledger_path: "./data/noa.db"

userproxy:
  http_addr: "0.0.0.0:9401"
  ask_timeout: "2m"
  echo: true

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Broker.Addr != "0.0.0.0:9400" {
		t.Errorf("broker addr = %q", cfg.Broker.Addr)
	}
	if cfg.Space != "workshop" {
		t.Errorf("space = %q", cfg.Space)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("llm model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.TimeoutRaw != "45s" {
		t.Errorf("llm timeout raw = %q", cfg.LLM.TimeoutRaw)
	}
	if cfg.Moderator.LedgerPath != "./data/noa.db" {
		t.Errorf("ledger path = %q", cfg.Moderator.LedgerPath)
	}
	if cfg.UserProxy.AskTimeout != 2*time.Minute {
		t.Errorf("ask_timeout = %v", cfg.UserProxy.AskTimeout)
	}
	if !cfg.UserProxy.Echo {
		t.Error("echo should be true")
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Space != "noa" {
		t.Errorf("default space = %q", cfg.Space)
	}
	if cfg.Broker.Addr != "localhost:9400" {
		t.Errorf("default broker addr = %q", cfg.Broker.Addr)
	}
	if cfg.UserProxy.HTTPAddr != "localhost:9401" {
		t.Errorf("default userproxy addr = %q", cfg.UserProxy.HTTPAddr)
	}
	if cfg.Moderator.SkipTargetCheck {
		t.Error("target check should be on by default")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("NOA_TEST_KEY", "sk-from-env")

	cfg, err := Load(writeConfig(t, `
llm:
  type: "openai"
  model: "gpt-4o-mini"
  api_key: "${NOA_TEST_KEY}"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.APIKey != "sk-from-env" {
		t.Errorf("api_key = %q, want expanded value", cfg.LLM.APIKey)
	}
}

func TestLoad_UnsetEnvVarBecomesEmpty(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
userproxy:
  jwt_secret: "${NOA_DEFINITELY_UNSET_VAR}"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.UserProxy.JWTSecret != "" {
		t.Errorf("jwt_secret = %q, want empty", cfg.UserProxy.JWTSecret)
	}
}

func TestLoad_EnvVarDefaultValue(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
broker:
  addr: "${NOA_DEFINITELY_UNSET_VAR:-bridge:7777}"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Broker.Addr != "bridge:7777" {
		t.Errorf("addr = %q, want the fallback", cfg.Broker.Addr)
	}
}

func TestLoad_EnvVarOverridesDefaultValue(t *testing.T) {
	t.Setenv("NOA_TEST_ADDR", "real:9400")

	cfg, err := Load(writeConfig(t, `
broker:
  addr: "${NOA_TEST_ADDR:-bridge:7777}"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Broker.Addr != "real:9400" {
		t.Errorf("addr = %q, want the env value", cfg.Broker.Addr)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, `
userproxy:
  ask_timeout: "not-a-duration"
`))
	if err == nil {
		t.Fatal("expected error for bad duration")
	}
	if !strings.Contains(err.Error(), "ask_timeout") {
		t.Errorf("error should name the field: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "broker: [unclosed")); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault failed: %v", err)
	}
	if cfg.Broker.Addr != "localhost:9400" {
		t.Errorf("default broker addr = %q", cfg.Broker.Addr)
	}

	path := writeConfig(t, `
space: "workshop"
`)
	cfg, err = LoadOrDefault(path)
	if err != nil {
		t.Fatalf("LoadOrDefault failed: %v", err)
	}
	if cfg.Space != "workshop" {
		t.Errorf("space = %q, want loaded value", cfg.Space)
	}
}
