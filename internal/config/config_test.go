package config

import (
	"os"
	"path/filepath"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.Server.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_MaxRetries(t *testing.T) {
	cfg := Defaults()
	cfg.Session.MaxRetries = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative maxRetries")
	}

	cfg = Defaults()
	cfg.Session.MaxRetries = 11
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxRetries > 10")
	}

	cfg = Defaults()
	cfg.Session.MaxRetries = 0
	if err := Validate(cfg); err != nil {
		t.Fatalf("maxRetries=0 (no retry) should be valid: %v", err)
	}
}

func TestValidate_RetryDelay(t *testing.T) {
	cfg := Defaults()
	cfg.Session.RetryDelaySeconds = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for retryDelaySeconds=0")
	}
}

func TestValidate_WebhookURLScheme(t *testing.T) {
	cfg := Defaults()
	cfg.Webhooks.EventsURL = "ftp://example.com/events"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for non-http webhook URL")
	}

	cfg = Defaults()
	cfg.Webhooks.EventsURL = "https://example.com/events"
	if err := Validate(cfg); err != nil {
		t.Fatalf("https URL should be valid: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.General.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestValidate_EmptyAuthDir(t *testing.T) {
	cfg := Defaults()
	cfg.General.AuthDir = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty authDir")
	}
}

func TestValidate_MediaBounds(t *testing.T) {
	cfg := Defaults()
	cfg.Media.MaxAvatarBytes = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxAvatarBytes=0")
	}

	cfg = Defaults()
	cfg.Media.ProfileTTLHours = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for profileTtlHours=0")
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := Defaults()
	original.Webhooks.EventsURL = "https://example.com/events"

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Webhooks.EventsURL != "https://example.com/events" {
		t.Fatalf("expected events URL to round-trip, got %q", loaded.Webhooks.EventsURL)
	}
}

func TestLoadSave_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	original := Defaults()
	original.Server.Port = 9999

	if err := Save(path, original); err != nil {
		t.Fatalf("save yaml: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if loaded.Server.Port != 9999 {
		t.Fatalf("expected port 9999 from yaml, got %d", loaded.Server.Port)
	}
}

func TestLoad_YAMLByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := "server:\n  port: 8123\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8123 {
		t.Fatalf("expected port 8123, got %d", cfg.Server.Port)
	}
	// Untouched sections keep their defaults.
	if cfg.Session.MaxRetries != 3 {
		t.Fatalf("expected default maxRetries=3, got %d", cfg.Session.MaxRetries)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"session": {
			"retryDelaySeconds": 0
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(cfgFile)
	if err == nil {
		t.Fatal("expected validation error for retryDelaySeconds=0")
	}
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()

	val, err := GetByPath(cfg, "session.maxRetries")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != float64(3) {
		t.Fatalf("expected 3, got %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	cfg := Defaults()
	_, err := GetByPath(cfg, "nonexistent.path")
	if err == nil {
		t.Fatal("expected error for nonexistent path")
	}
}

func TestSetByPath_ValidPath(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "webhooks.eventsUrl", "https://example.com/hook"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.Webhooks.EventsURL != "https://example.com/hook" {
		t.Fatalf("expected URL set, got %q", cfg.Webhooks.EventsURL)
	}
}

func TestSetByPath_BoolConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "general.printQr", "true"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if !cfg.General.PrintQR {
		t.Fatal("expected general.printQr=true")
	}
}

func TestSetByPath_IntConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "session.retryDelaySeconds", "30"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if cfg.Session.RetryDelaySeconds != 30 {
		t.Fatalf("expected 30, got %d", cfg.Session.RetryDelaySeconds)
	}
}

// --- Sanitize ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Webhooks.Secret = "webhook-secret-12345678"
	cfg.Server.APIKey = "api-key-0123456789abcdef"

	sanitized := Sanitize(cfg)

	if sanitized.Webhooks.Secret == cfg.Webhooks.Secret {
		t.Fatal("webhook secret should be masked")
	}
	if sanitized.Server.APIKey == cfg.Server.APIKey {
		t.Fatal("server API key should be masked")
	}
	// Verify original is untouched.
	if cfg.Webhooks.Secret != "webhook-secret-12345678" {
		t.Fatal("original config should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := Defaults()
	cfg.Webhooks.Secret = "short"
	sanitized := Sanitize(cfg)
	if sanitized.Webhooks.Secret != "***" {
		t.Fatalf("short secret should be '***', got %q", sanitized.Webhooks.Secret)
	}
}

// --- ListPaths ---

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	cfg := Defaults()
	paths := ListPaths(cfg)
	if len(paths) == 0 {
		t.Fatal("expected non-empty paths")
	}

	for _, expected := range []string{"general.authDir", "session.maxRetries", "webhooks.timeoutSeconds"} {
		if _, ok := paths[expected]; !ok {
			t.Errorf("missing expected path: %s", expected)
		}
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_WEBHOOK_SECRET", "s3cr3t")
	result := ExpandEnvVars(`{"secret": "${TEST_WEBHOOK_SECRET}"}`)
	expected := `{"secret": "s3cr3t"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	os.Unsetenv("NONEXISTENT_VAR_12345")
	result := ExpandEnvVars(`{"port": "${NONEXISTENT_VAR_12345:-8090}"}`)
	expected := `{"port": "8090"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_SetVarOverridesDefault(t *testing.T) {
	t.Setenv("MY_PORT", "9090")
	result := ExpandEnvVars(`{"port": "${MY_PORT:-8080}"}`)
	expected := `{"port": "9090"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	result := ExpandEnvVars(`"${TOTALLY_UNSET_VAR_XYZ}"`)
	expected := `"${TOTALLY_UNSET_VAR_XYZ}"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_EmptyVarUsesDefault(t *testing.T) {
	t.Setenv("EMPTY_VAR", "")
	result := ExpandEnvVars(`"${EMPTY_VAR:-fallback}"`)
	expected := `"fallback"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := `"$HOME is not substituted"`
	result := ExpandEnvVars(input)
	if result != input {
		t.Fatalf("expected no change for bare $VAR, got %q", result)
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_ZAPGATE_AUTH", "/tmp/test-auth")

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"general": {
			"authDir": "${TEST_ZAPGATE_AUTH}"
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.General.AuthDir != "/tmp/test-auth" {
		t.Fatalf("expected authDir '/tmp/test-auth', got %q", cfg.General.AuthDir)
	}
}

// --- Defaults ---

func TestDefaults_ReturnsValidConfig(t *testing.T) {
	cfg := Defaults()
	if cfg == nil {
		t.Fatal("defaults returned nil")
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}
	if cfg.Session.MaxRetries != 3 {
		t.Fatalf("default maxRetries should be 3, got %d", cfg.Session.MaxRetries)
	}
	if cfg.Session.RetryDelaySeconds != 15 {
		t.Fatalf("default retryDelaySeconds should be 15, got %d", cfg.Session.RetryDelaySeconds)
	}
	if cfg.Dedup.TTLSeconds != 300 {
		t.Fatalf("default dedup TTL should be 300s, got %d", cfg.Dedup.TTLSeconds)
	}
}
