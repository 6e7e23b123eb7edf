package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `port: "8080"
logLevel: info
databaseURL: postgres://localhost/askdocs
redisAddr: localhost:6379
minioEndpoint: localhost:9000
minioAccessKey: minio
minioSecretKey: minio123
minioBucket: docs
jwksURL: http://localhost:9100/jwks
geminiAPIKey: test-key
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("unexpected port: %q", cfg.Port)
	}
	if cfg.MaxUploadMB != 10 {
		t.Fatalf("expected default maxUploadMB=10, got %d", cfg.MaxUploadMB)
	}
	if cfg.CacheTTLSeconds != 60 {
		t.Fatalf("expected default cacheTTLSeconds=60, got %d", cfg.CacheTTLSeconds)
	}
	if cfg.ScoreThreshold != 0.35 {
		t.Fatalf("expected default scoreThreshold=0.35, got %v", cfg.ScoreThreshold)
	}
	if cfg.CandidateCap != 2000 {
		t.Fatalf("expected default candidateCap=2000, got %d", cfg.CandidateCap)
	}
	if cfg.EmbedModel == "" || cfg.GenerateModel == "" {
		t.Fatal("expected default model names")
	}
	if cfg.RebuildQueueStream == "" || cfg.RebuildQueueGroup == "" {
		t.Fatal("expected default queue settings")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://override/db")
	t.Setenv("GEMINI_API_KEY", "env-key")
	t.Setenv("ASKDOCS_MAX_UPLOAD_MB", "25")
	t.Setenv("ASKDOCS_SCORE_THRESHOLD", "0.5")
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://override/db" {
		t.Fatalf("env must override yaml, got %q", cfg.DatabaseURL)
	}
	if cfg.GeminiAPIKey != "env-key" {
		t.Fatalf("unexpected api key: %q", cfg.GeminiAPIKey)
	}
	if cfg.MaxUploadMB != 25 {
		t.Fatalf("unexpected maxUploadMB: %d", cfg.MaxUploadMB)
	}
	if cfg.ScoreThreshold != 0.5 {
		t.Fatalf("unexpected scoreThreshold: %v", cfg.ScoreThreshold)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"port":         "port",
		"databaseURL":  "databaseURL",
		"redisAddr":    "redisAddr",
		"jwksURL":      "jwksURL",
		"geminiAPIKey": "geminiAPIKey",
		"minioBucket":  "minio",
	}
	for field, wantSubstr := range cases {
		stripped := ""
		for _, line := range strings.Split(validYAML, "\n") {
			if strings.HasPrefix(line, field+":") {
				continue
			}
			stripped += line + "\n"
		}
		if _, err := Load(writeConfig(t, stripped)); err == nil {
			t.Fatalf("expected validation error when %s is missing", field)
		} else if !strings.Contains(err.Error(), wantSubstr) {
			t.Fatalf("error for missing %s should mention %q, got: %v", field, wantSubstr, err)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
