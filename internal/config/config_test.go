package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	log := slog.Default()
	path, err := Load("/nonexistent/path/config.yaml", log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
site:
  base_url: https://www.example-shop.com
ingest:
  delay: 250ms
  chunk_max_chars: 900
  prune_stale: true
retrieval:
  match_count: 20
  similarity_threshold: 0.1
model:
  provider: responses
  temperature: 0.3
  openai:
    model: gpt-4o-mini
vector_store:
  backend: postgres
  postgres:
    table: web_chunks
logging:
  level: debug
  format: text
`)

	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	envKeys := []string{
		"SITE_BASE_URL", "INGEST_DELAY", "CHUNK_MAX_CHARS", "INGEST_PRUNE_STALE",
		"RAG_MATCH_COUNT", "RAG_SIMILARITY_THRESHOLD",
		"MODEL_PROVIDER", "MODEL_TEMPERATURE", "OPENAI_MODEL",
		"VECTOR_STORE", "POSTGRES_TABLE",
		"LOG_LEVEL", "LOG_FORMAT",
	}
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	log := slog.Default()
	loaded, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	checks := map[string]string{
		"SITE_BASE_URL":            "https://www.example-shop.com",
		"INGEST_DELAY":             "250ms",
		"CHUNK_MAX_CHARS":          "900",
		"INGEST_PRUNE_STALE":       "true",
		"RAG_MATCH_COUNT":          "20",
		"RAG_SIMILARITY_THRESHOLD": "0.1",
		"MODEL_PROVIDER":           "responses",
		"MODEL_TEMPERATURE":        "0.3",
		"OPENAI_MODEL":             "gpt-4o-mini",
		"VECTOR_STORE":             "postgres",
		"POSTGRES_TABLE":           "web_chunks",
		"LOG_LEVEL":                "debug",
		"LOG_FORMAT":               "text",
	}
	for k, want := range checks {
		got := os.Getenv(k)
		if got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: ollama
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MODEL_PROVIDER", "openai")

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("MODEL_PROVIDER"); got != "openai" {
		t.Errorf("MODEL_PROVIDER: expected env override %q, got %q", "openai", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoadDotEnv_DoesNotOverrideEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")

	content := []byte("INGEST_TOKEN=from-file\nSITE_BASE_URL=https://example.com\n")
	if err := os.WriteFile(envPath, content, 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("INGEST_TOKEN", "from-env")
	t.Setenv("SITE_BASE_URL", "")
	os.Unsetenv("SITE_BASE_URL")

	loaded, err := LoadDotEnv(envPath, slog.Default())
	if err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if loaded != envPath {
		t.Errorf("loaded path: got %q, want %q", loaded, envPath)
	}
	if got := os.Getenv("INGEST_TOKEN"); got != "from-env" {
		t.Errorf("INGEST_TOKEN: got %q, want env value", got)
	}
	if got := os.Getenv("SITE_BASE_URL"); got != "https://example.com" {
		t.Errorf("SITE_BASE_URL: got %q, want file value", got)
	}
}

func TestLoadDotEnv_MissingExplicitFile(t *testing.T) {
	t.Parallel()
	if _, err := LoadDotEnv("/nonexistent/.env", slog.Default()); err == nil {
		t.Fatal("expected error for missing explicit .env file")
	}
}

func TestTypedGetters(t *testing.T) {
	t.Setenv("CFG_TEST_INT", "42")
	t.Setenv("CFG_TEST_BAD_INT", "forty-two")
	t.Setenv("CFG_TEST_FLOAT", "0.05")
	t.Setenv("CFG_TEST_BOOL", "true")
	t.Setenv("CFG_TEST_DUR", "150ms")
	t.Setenv("CFG_TEST_LIST", " https://a.com, ,https://b.com ")

	if got := Int("CFG_TEST_INT", 1); got != 42 {
		t.Errorf("Int = %d, want 42", got)
	}
	if got := Int("CFG_TEST_BAD_INT", 7); got != 7 {
		t.Errorf("Int fallback = %d, want 7", got)
	}
	if got := Float32("CFG_TEST_FLOAT", 1); got != 0.05 {
		t.Errorf("Float32 = %v, want 0.05", got)
	}
	if got := Bool("CFG_TEST_BOOL", false); !got {
		t.Error("Bool = false, want true")
	}
	if got := Duration("CFG_TEST_DUR", time.Second); got != 150*time.Millisecond {
		t.Errorf("Duration = %v, want 150ms", got)
	}
	if got := String("CFG_TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("String = %q, want fallback", got)
	}
	want := []string{"https://a.com", "https://b.com"}
	if got := List("CFG_TEST_LIST"); !reflect.DeepEqual(got, want) {
		t.Errorf("List = %v, want %v", got, want)
	}
}

func TestFloat32Str(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float32
		want string
	}{
		{0.0, ""},
		{0.05, "0.05"},
		{0.2, "0.2"},
		{1.0, "1"},
	}
	for _, tt := range tests {
		if got := float32Str(tt.in); got != tt.want {
			t.Errorf("float32Str(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
