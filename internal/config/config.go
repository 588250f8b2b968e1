package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all guest book environment variables.
const EnvPrefix = "GUESTBOOK_"

// Enrichment configures the background transcription/classification pipeline.
type Enrichment struct {
	Enabled              bool     `yaml:"enabled"`
	AutoProcess          bool     `yaml:"auto_process"`
	Model                string   `yaml:"model"`
	Language             string   `yaml:"language"`
	Cooldown             string   `yaml:"cooldown"`
	AllowDuringCall      bool     `yaml:"allow_during_call"`
	PollInterval         string   `yaml:"poll_interval"`
	ConnectivityEndpoint string   `yaml:"connectivity_endpoint"`
	ConnectivityTTL      string   `yaml:"connectivity_ttl"`
	MaxRetries           int      `yaml:"max_retries"`
	RetryDelay           string   `yaml:"retry_delay"`
	CompressAudio        bool     `yaml:"compress_audio"`
	TargetSampleRate     int      `yaml:"target_sample_rate"`
	IgnoredNames         []string `yaml:"ignored_names"`
	Categories           []string `yaml:"categories"`
}

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	RecordingsDir       string `yaml:"recordings_dir"`
	GreetingsDir        string `yaml:"greetings_dir"`
	GreetingSound       string `yaml:"greeting_sound"`
	GreetingPromptSound string `yaml:"greeting_prompt_sound"`
	BeepSound           string `yaml:"beep_sound"`
	TimeExceededSound   string `yaml:"time_exceeded_sound"`

	HookGPIOValuePath       string `yaml:"hook_gpio_value_path"`
	HookPollInterval        string `yaml:"hook_poll_interval"`
	HookDebounce            string `yaml:"hook_debounce"`
	HookToggleRecordEnabled bool   `yaml:"hook_toggle_record_enabled"`
	HookToggleCount         int    `yaml:"hook_toggle_count"`
	HookToggleWindow        string `yaml:"hook_toggle_window"`

	PlaybackCommand string `yaml:"playback_command"`
	RecordCommand   string `yaml:"record_command"`
	AudioDevice     string `yaml:"audio_device"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	StopGrace       string `yaml:"stop_grace"`

	RecordingLimit          string `yaml:"recording_limit"`
	MinMessageDuration      string `yaml:"min_message_duration"`
	MinFileSizeBytes        int64  `yaml:"min_file_size_bytes"`
	DeleteInvalidRecordings bool   `yaml:"delete_invalid_recordings"`

	StatusFile string `yaml:"status_file"`

	Enrichment Enrichment `yaml:"enrichment"`

	// Secret — env var only, never serialized to YAML.
	OpenAIAPIKey string `yaml:"-"`
}

func defaults() Config {
	return Config{
		RecordingsDir:           "data/recordings",
		GreetingsDir:            "data/sounds/greetings",
		GreetingSound:           "data/sounds/greeting.wav",
		BeepSound:               "data/sounds/beep.wav",
		TimeExceededSound:       "data/sounds/time_exceeded.wav",
		HookGPIOValuePath:       "/sys/class/gpio/gpio22/value",
		HookPollInterval:        "10ms",
		HookDebounce:            "200ms",
		HookToggleCount:         10,
		HookToggleWindow:        "6s",
		PlaybackCommand:         "aplay",
		RecordCommand:           "arecord",
		SampleRate:              44100,
		Channels:                1,
		StopGrace:               "2s",
		RecordingLimit:          "3m",
		MinMessageDuration:      "2s",
		MinFileSizeBytes:        88200,
		DeleteInvalidRecordings: true,
		StatusFile:              "data/status",
		Enrichment: Enrichment{
			AutoProcess:          true,
			Model:                "gpt-4o-mini",
			Language:             "en",
			Cooldown:             "120s",
			PollInterval:         "5s",
			ConnectivityEndpoint: "https://api.openai.com",
			ConnectivityTTL:      "60s",
			MaxRetries:           3,
			RetryDelay:           "30s",
			CompressAudio:        true,
			TargetSampleRate:     16000,
			Categories: []string{
				"joyful", "heartfelt", "humorous", "nostalgic", "advice",
				"blessing", "toast", "gratitude", "apology", "other",
			},
		},
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// SaveGreetingSound rewrites the greeting_sound key in the config file so a
// greeting recorded through the handset survives restarts. The rest of the
// document is preserved.
func SaveGreetingSound(path, greetingPath string) error {
	doc := map[string]any{}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	doc["greeting_sound"] = greetingPath

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal config file: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// ParsedHookPollInterval returns the hook poll interval, falling back to 10ms.
func (c *Config) ParsedHookPollInterval() time.Duration {
	return duration(c.HookPollInterval, 10*time.Millisecond)
}

// ParsedHookDebounce returns the debounce window, falling back to 200ms.
func (c *Config) ParsedHookDebounce() time.Duration {
	return duration(c.HookDebounce, 200*time.Millisecond)
}

// ParsedHookToggleWindow returns the toggle-burst window, falling back to 6s.
func (c *Config) ParsedHookToggleWindow() time.Duration {
	return duration(c.HookToggleWindow, 6*time.Second)
}

// ParsedStopGrace returns the audio process stop grace period, falling back to 2s.
func (c *Config) ParsedStopGrace() time.Duration {
	return duration(c.StopGrace, 2*time.Second)
}

// ParsedRecordingLimit returns the hard recording deadline, falling back to 3m.
func (c *Config) ParsedRecordingLimit() time.Duration {
	return duration(c.RecordingLimit, 3*time.Minute)
}

// ParsedMinMessageDuration returns the validity-filter duration floor,
// falling back to 2s.
func (c *Config) ParsedMinMessageDuration() time.Duration {
	return duration(c.MinMessageDuration, 2*time.Second)
}

// ParsedCooldown returns the post-recording enrichment cooldown, falling back to 120s.
func (e *Enrichment) ParsedCooldown() time.Duration {
	return duration(e.Cooldown, 120*time.Second)
}

// ParsedPollInterval returns the worker gate re-check interval, falling back to 5s.
func (e *Enrichment) ParsedPollInterval() time.Duration {
	return duration(e.PollInterval, 5*time.Second)
}

// ParsedConnectivityTTL returns the connectivity cache TTL, falling back to 60s.
func (e *Enrichment) ParsedConnectivityTTL() time.Duration {
	return duration(e.ConnectivityTTL, 60*time.Second)
}

// ParsedRetryDelay returns the fixed delay between API retry attempts,
// falling back to 30s.
func (e *Enrichment) ParsedRetryDelay() time.Duration {
	return duration(e.RetryDelay, 30*time.Second)
}

func duration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				*dst = b
			}
		}
	}

	setString("RECORDINGS_DIR", &cfg.RecordingsDir)
	setString("GREETINGS_DIR", &cfg.GreetingsDir)
	setString("GREETING_SOUND", &cfg.GreetingSound)
	setString("GREETING_PROMPT_SOUND", &cfg.GreetingPromptSound)
	setString("BEEP_SOUND", &cfg.BeepSound)
	setString("TIME_EXCEEDED_SOUND", &cfg.TimeExceededSound)
	setString("HOOK_GPIO_VALUE_PATH", &cfg.HookGPIOValuePath)
	setString("HOOK_POLL_INTERVAL", &cfg.HookPollInterval)
	setString("HOOK_DEBOUNCE", &cfg.HookDebounce)
	setString("HOOK_TOGGLE_WINDOW", &cfg.HookToggleWindow)
	setInt("HOOK_TOGGLE_COUNT", &cfg.HookToggleCount)
	setBool("HOOK_TOGGLE_RECORD_ENABLED", &cfg.HookToggleRecordEnabled)
	setString("PLAYBACK_COMMAND", &cfg.PlaybackCommand)
	setString("RECORD_COMMAND", &cfg.RecordCommand)
	setString("AUDIO_DEVICE", &cfg.AudioDevice)
	setInt("SAMPLE_RATE", &cfg.SampleRate)
	setInt("CHANNELS", &cfg.Channels)
	setString("STOP_GRACE", &cfg.StopGrace)
	setString("RECORDING_LIMIT", &cfg.RecordingLimit)
	setString("MIN_MESSAGE_DURATION", &cfg.MinMessageDuration)
	setBool("DELETE_INVALID_RECORDINGS", &cfg.DeleteInvalidRecordings)
	setString("STATUS_FILE", &cfg.StatusFile)

	if v := os.Getenv(EnvPrefix + "MIN_FILE_SIZE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && n >= 0 {
			cfg.MinFileSizeBytes = n
		}
	}

	setBool("ENRICHMENT_ENABLED", &cfg.Enrichment.Enabled)
	setBool("ENRICHMENT_AUTO_PROCESS", &cfg.Enrichment.AutoProcess)
	setString("ENRICHMENT_MODEL", &cfg.Enrichment.Model)
	setString("ENRICHMENT_LANGUAGE", &cfg.Enrichment.Language)
	setString("ENRICHMENT_COOLDOWN", &cfg.Enrichment.Cooldown)
	setBool("ENRICHMENT_ALLOW_DURING_CALL", &cfg.Enrichment.AllowDuringCall)
	setString("ENRICHMENT_POLL_INTERVAL", &cfg.Enrichment.PollInterval)
	setString("ENRICHMENT_CONNECTIVITY_ENDPOINT", &cfg.Enrichment.ConnectivityEndpoint)
	setString("ENRICHMENT_CONNECTIVITY_TTL", &cfg.Enrichment.ConnectivityTTL)
	setInt("ENRICHMENT_MAX_RETRIES", &cfg.Enrichment.MaxRetries)
	setString("ENRICHMENT_RETRY_DELAY", &cfg.Enrichment.RetryDelay)
	setBool("ENRICHMENT_COMPRESS_AUDIO", &cfg.Enrichment.CompressAudio)
	setInt("ENRICHMENT_TARGET_SAMPLE_RATE", &cfg.Enrichment.TargetSampleRate)

	if v := os.Getenv(EnvPrefix + "ENRICHMENT_IGNORED_NAMES"); v != "" {
		cfg.Enrichment.IgnoredNames = splitList(v)
	}
	if v := os.Getenv(EnvPrefix + "ENRICHMENT_CATEGORIES"); v != "" {
		cfg.Enrichment.Categories = splitList(v)
	}
}

func loadSecrets(cfg *Config) {
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.Enrichment.Enabled && cfg.OpenAIAPIKey == "" {
		warnings = append(warnings, "Enrichment is enabled but no API key is configured — recordings will stay pending. Set "+EnvPrefix+"OPENAI_API_KEY.")
	}

	durations := []struct {
		name  string
		value string
	}{
		{"hook_poll_interval", cfg.HookPollInterval},
		{"hook_debounce", cfg.HookDebounce},
		{"hook_toggle_window", cfg.HookToggleWindow},
		{"stop_grace", cfg.StopGrace},
		{"recording_limit", cfg.RecordingLimit},
		{"min_message_duration", cfg.MinMessageDuration},
		{"enrichment.cooldown", cfg.Enrichment.Cooldown},
		{"enrichment.poll_interval", cfg.Enrichment.PollInterval},
		{"enrichment.connectivity_ttl", cfg.Enrichment.ConnectivityTTL},
		{"enrichment.retry_delay", cfg.Enrichment.RetryDelay},
	}
	for _, d := range durations {
		if _, err := time.ParseDuration(d.value); err != nil {
			warnings = append(warnings, fmt.Sprintf("Invalid %s %q — using default.", d.name, d.value))
		}
	}

	if cfg.HookToggleRecordEnabled && cfg.HookToggleCount < 4 {
		warnings = append(warnings, fmt.Sprintf("hook_toggle_count %d is very low — accidental bounces may trigger greeting-record mode.", cfg.HookToggleCount))
	}
	if cfg.Enrichment.MaxRetries <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid enrichment.max_retries %d — using 1.", cfg.Enrichment.MaxRetries))
	}

	return warnings
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		result = append(result, trimmed)
	}
	return result
}
