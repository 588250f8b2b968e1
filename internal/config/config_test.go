package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"RECORDINGS_DIR", "GREETING_SOUND", "BEEP_SOUND",
		"HOOK_GPIO_VALUE_PATH", "HOOK_DEBOUNCE", "RECORDING_LIMIT",
		"MIN_MESSAGE_DURATION", "MIN_FILE_SIZE_BYTES", "AUDIO_DEVICE",
		"ENRICHMENT_ENABLED", "ENRICHMENT_MODEL", "ENRICHMENT_COOLDOWN",
		"ENRICHMENT_IGNORED_NAMES", "ENRICHMENT_CATEGORIES",
		"OPENAI_API_KEY",
	} {
		t.Setenv(EnvPrefix+key, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.RecordingsDir != "data/recordings" {
		t.Fatalf("expected default recordings_dir, got %q", cfg.RecordingsDir)
	}
	if cfg.HookGPIOValuePath != "/sys/class/gpio/gpio22/value" {
		t.Fatalf("expected default gpio path, got %q", cfg.HookGPIOValuePath)
	}
	if cfg.RecordingLimit != "3m" {
		t.Fatalf("expected default recording_limit, got %q", cfg.RecordingLimit)
	}
	if cfg.Enrichment.Enabled {
		t.Fatal("expected enrichment disabled by default")
	}
	if cfg.Enrichment.Model != "gpt-4o-mini" {
		t.Fatalf("expected default model, got %q", cfg.Enrichment.Model)
	}
	if !cfg.DeleteInvalidRecordings {
		t.Fatal("expected delete_invalid_recordings on by default")
	}
}

func TestYAMLLoading(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	yamlContent := `
recordings_dir: /data/msgs
greeting_sound: /data/hello.wav
hook_debounce: 150ms
recording_limit: 5m
min_file_size_bytes: 1000
enrichment:
  enabled: true
  model: gpt-4o
  ignored_names: [Cam, Jordan]
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(EnvPrefix+"OPENAI_API_KEY", "sk-test")

	cfg, _, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.RecordingsDir != "/data/msgs" {
		t.Fatalf("expected yaml recordings_dir, got %q", cfg.RecordingsDir)
	}
	if cfg.GreetingSound != "/data/hello.wav" {
		t.Fatalf("expected yaml greeting_sound, got %q", cfg.GreetingSound)
	}
	if cfg.HookDebounce != "150ms" {
		t.Fatalf("expected yaml hook_debounce, got %q", cfg.HookDebounce)
	}
	if cfg.MinFileSizeBytes != 1000 {
		t.Fatalf("expected yaml min_file_size_bytes, got %d", cfg.MinFileSizeBytes)
	}
	if !cfg.Enrichment.Enabled {
		t.Fatal("expected enrichment enabled from yaml")
	}
	if cfg.Enrichment.Model != "gpt-4o" {
		t.Fatalf("expected yaml model, got %q", cfg.Enrichment.Model)
	}
	if !reflect.DeepEqual(cfg.Enrichment.IgnoredNames, []string{"Cam", "Jordan"}) {
		t.Fatalf("expected yaml ignored_names, got %v", cfg.Enrichment.IgnoredNames)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	yamlContent := `
recordings_dir: /from/yaml
enrichment:
  model: gpt-yaml
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	clearEnv(t)
	t.Setenv(EnvPrefix+"RECORDINGS_DIR", "/from/env")
	t.Setenv(EnvPrefix+"ENRICHMENT_MODEL", "gpt-env")
	t.Setenv(EnvPrefix+"MIN_FILE_SIZE_BYTES", "12345")
	t.Setenv(EnvPrefix+"ENRICHMENT_IGNORED_NAMES", " Cam , Jordan ,")

	cfg, _, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.RecordingsDir != "/from/env" {
		t.Fatalf("expected env override for recordings_dir, got %q", cfg.RecordingsDir)
	}
	if cfg.Enrichment.Model != "gpt-env" {
		t.Fatalf("expected env override for model, got %q", cfg.Enrichment.Model)
	}
	if cfg.MinFileSizeBytes != 12345 {
		t.Fatalf("expected env override for min_file_size_bytes, got %d", cfg.MinFileSizeBytes)
	}
	if !reflect.DeepEqual(cfg.Enrichment.IgnoredNames, []string{"Cam", "Jordan"}) {
		t.Fatalf("expected trimmed env name list, got %v", cfg.Enrichment.IgnoredNames)
	}
}

func TestSecretFromEnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"OPENAI_API_KEY", "sk-secret")

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.OpenAIAPIKey != "sk-secret" {
		t.Fatalf("expected api key from env, got %q", cfg.OpenAIAPIKey)
	}
}

func TestSecretIgnoredInYAML(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("openai_api_key: should-be-ignored\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.OpenAIAPIKey != "" {
		t.Fatalf("expected empty api key (yaml should be ignored), got %q", cfg.OpenAIAPIKey)
	}
}

func TestEnabledWithoutKeyWarns(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"ENRICHMENT_ENABLED", "true")

	_, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var found bool
	for _, w := range warnings {
		if strings.Contains(w, "API key") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected missing-key warning, got: %v", warnings)
	}
}

func TestInvalidDurationWarnsAndFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"RECORDING_LIMIT", "not-a-duration")

	cfg, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var found bool
	for _, w := range warnings {
		if strings.Contains(w, "recording_limit") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected recording_limit warning, got: %v", warnings)
	}
	if cfg.ParsedRecordingLimit() != 3*time.Minute {
		t.Fatalf("expected fallback to 3m, got %v", cfg.ParsedRecordingLimit())
	}
}

func TestMissingConfigFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, _, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("Load should not fail for a missing config file, got: %v", err)
	}
	if cfg.RecordingsDir != "data/recordings" {
		t.Fatalf("expected defaults when config file missing, got recordings_dir=%q", cfg.RecordingsDir)
	}
}

func TestInvalidConfigFileReturnsError(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(configPath, []byte(":::invalid yaml"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	clearEnv(t)

	if _, _, err := Load(configPath); err == nil {
		t.Fatal("expected error for invalid yaml, got nil")
	}
}

func TestSaveGreetingSoundPreservesDocument(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	yamlContent := `
recordings_dir: /data/msgs
greeting_sound: /data/old.wav
enrichment:
  enabled: true
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if err := SaveGreetingSound(configPath, "/data/greetings/new.wav"); err != nil {
		t.Fatalf("SaveGreetingSound failed: %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	doc := map[string]any{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("parse rewritten config: %v", err)
	}

	if doc["greeting_sound"] != "/data/greetings/new.wav" {
		t.Fatalf("expected updated greeting_sound, got %v", doc["greeting_sound"])
	}
	if doc["recordings_dir"] != "/data/msgs" {
		t.Fatalf("expected other keys preserved, got %v", doc["recordings_dir"])
	}
	if _, ok := doc["enrichment"]; !ok {
		t.Fatal("expected enrichment section preserved")
	}
}

func TestSaveGreetingSoundCreatesFile(t *testing.T) {
	clearEnv(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	if err := SaveGreetingSound(configPath, "/data/greetings/new.wav"); err != nil {
		t.Fatalf("SaveGreetingSound failed: %v", err)
	}

	cfg, _, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.GreetingSound != "/data/greetings/new.wav" {
		t.Fatalf("expected greeting_sound round trip, got %q", cfg.GreetingSound)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" Cam,  ,Jordan , ")
	want := []string{"Cam", "Jordan"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("splitList = %v, want %v", got, want)
	}
}

func TestParsedDurations(t *testing.T) {
	cfg := defaults()
	if cfg.ParsedHookDebounce() != 200*time.Millisecond {
		t.Fatalf("unexpected default debounce: %v", cfg.ParsedHookDebounce())
	}
	if cfg.Enrichment.ParsedCooldown() != 120*time.Second {
		t.Fatalf("unexpected default cooldown: %v", cfg.Enrichment.ParsedCooldown())
	}

	cfg.HookDebounce = "75ms"
	if cfg.ParsedHookDebounce() != 75*time.Millisecond {
		t.Fatalf("unexpected parsed debounce: %v", cfg.ParsedHookDebounce())
	}
	cfg.HookDebounce = "-5s"
	if cfg.ParsedHookDebounce() != 200*time.Millisecond {
		t.Fatalf("expected fallback for non-positive duration, got %v", cfg.ParsedHookDebounce())
	}
}
