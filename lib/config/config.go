// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// ConfigEnv names the environment variable holding the config file
// path when no --config flag is given.
const ConfigEnv = "JOURNALRELAY_CONFIG"

// Environment variables applied over the file.
const (
	ProjectEnv     = "GOOGLE_CLOUD_PROJECT"
	CredentialsEnv = "GOOGLE_APPLICATION_CREDENTIALS"
	LogNameEnv     = "LOG_NAME"
	StateDirEnv    = "JOURNALRELAY_STATE_DIR"
	LogLevelEnv    = "JOURNALRELAY_LOG_LEVEL"
)

// DefaultLogName is the log entries are written to when none is
// configured.
const DefaultLogName = "journalrelay"

// Resource kinds accepted by destination.resource.
const (
	ResourceAuto        = "auto"
	ResourceGCEInstance = "gce_instance"
	ResourceLoggingLog  = "logging_log"
)

// Config is the relay's configuration.
type Config struct {
	Destination DestinationConfig `yaml:"destination"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Journal     JournalConfig     `yaml:"journal"`
	Batch       BatchConfig       `yaml:"batch"`
	Retry       RetryConfig       `yaml:"retry"`
	State       StateConfig       `yaml:"state"`

	// Labels are attached to every entry, overriding record-derived
	// labels of the same name.
	Labels map[string]string `yaml:"labels"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// ShutdownGrace bounds the final flush after a stop signal.
	ShutdownGrace string `yaml:"shutdown_grace"`
}

// DestinationConfig identifies where entries go.
type DestinationConfig struct {
	// ProjectID is the destination project. When empty it comes from
	// the service-account key file or the metadata server.
	ProjectID string `yaml:"project_id"`

	LogName string `yaml:"log_name"`

	// Endpoint is the Cloud Logging API root.
	Endpoint string `yaml:"endpoint"`

	// Resource selects the monitored resource: auto, gce_instance or
	// logging_log. Auto picks gce_instance for the metadata credential
	// source and logging_log for a key file.
	Resource string `yaml:"resource"`

	Gzip bool `yaml:"gzip"`
}

// CredentialsConfig selects the credential source. KeyFile set means
// the service-account strategy; empty means the metadata server.
type CredentialsConfig struct {
	KeyFile string `yaml:"key_file"`

	// IdentityFile is the age identity for a sealed (.age) key file.
	IdentityFile string `yaml:"identity_file"`

	MetadataURL   string `yaml:"metadata_url"`
	RefreshMargin string `yaml:"refresh_margin"`
	MaxAttempts   int    `yaml:"max_attempts"`
}

// JournalConfig configures the journal reader.
type JournalConfig struct {
	// Journalctl is the journalctl binary.
	Journalctl string   `yaml:"journalctl"`
	Units      []string `yaml:"units"`
	Directory  string   `yaml:"directory"`
	Merge      bool     `yaml:"merge"`

	// StartPosition applies when no cursor is stored: end or beginning.
	StartPosition string `yaml:"start_position"`

	// PollInterval bounds each blocking read while nothing is pending.
	PollInterval string `yaml:"poll_interval"`
}

// BatchConfig sets flush thresholds.
type BatchConfig struct {
	MaxEntries int    `yaml:"max_entries"`
	MaxBytes   int    `yaml:"max_bytes"`
	MaxDelay   string `yaml:"max_delay"`
}

// RetryConfig bounds delivery retries.
type RetryConfig struct {
	Initial     string  `yaml:"initial"`
	Max         string  `yaml:"max"`
	Multiplier  float64 `yaml:"multiplier"`
	MaxAttempts int     `yaml:"max_attempts"`
	MaxElapsed  string  `yaml:"max_elapsed"`

	// OnPermanentFailure is hold, advance or halt.
	OnPermanentFailure string `yaml:"on_permanent_failure"`
}

// StateConfig locates persistent state.
type StateConfig struct {
	Directory string `yaml:"directory"`

	// DeadLetter enables the archive of rejected batches.
	DeadLetter bool `yaml:"deadletter"`

	// DeadLetterCompression is none, zstd or lz4.
	DeadLetterCompression string `yaml:"deadletter_compression"`
}

// Default returns the configuration used for every field the file and
// environment leave unset.
func Default() *Config {
	return &Config{
		Destination: DestinationConfig{
			LogName:  DefaultLogName,
			Endpoint: "https://logging.googleapis.com",
			Resource: ResourceAuto,
			Gzip:     true,
		},
		Credentials: CredentialsConfig{
			MetadataURL:   "http://metadata.google.internal",
			RefreshMargin: "60s",
			MaxAttempts:   5,
		},
		Journal: JournalConfig{
			Journalctl:    "journalctl",
			StartPosition: "end",
			PollInterval:  "1s",
		},
		Batch: BatchConfig{
			MaxEntries: 1000,
			MaxBytes:   5 << 20,
			MaxDelay:   "500ms",
		},
		Retry: RetryConfig{
			Initial:            "1s",
			Max:                "30s",
			Multiplier:         2,
			MaxElapsed:         "15m",
			OnPermanentFailure: "hold",
		},
		State: StateConfig{
			Directory:             "/var/lib/journalrelay",
			DeadLetter:            true,
			DeadLetterCompression: "zstd",
		},
		LogLevel:      "info",
		ShutdownGrace: "10s",
	}
}

// Load builds the configuration: defaults, then the file at path (or
// $JOURNALRELAY_CONFIG when path is empty; no file at all is allowed),
// then environment overrides, then ${VAR:-default} expansion of paths.
// The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(ConfigEnv)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvironment()
	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFile merges a YAML file into c. JSON files may carry comments
// and trailing commas.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// applyEnvironment applies the process-boundary inputs. Empty
// variables are ignored.
func (c *Config) applyEnvironment() {
	overrides := []struct {
		name  string
		field *string
	}{
		{ProjectEnv, &c.Destination.ProjectID},
		{CredentialsEnv, &c.Credentials.KeyFile},
		{LogNameEnv, &c.Destination.LogName},
		{StateDirEnv, &c.State.Directory},
		{LogLevelEnv, &c.LogLevel},
	}
	for _, override := range overrides {
		if value := os.Getenv(override.name); value != "" {
			*override.field = value
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	c.State.Directory = expandVars(c.State.Directory)
	c.Credentials.KeyFile = expandVars(c.Credentials.KeyFile)
	c.Credentials.IdentityFile = expandVars(c.Credentials.IdentityFile)
	c.Journal.Journalctl = expandVars(c.Journal.Journalctl)
	c.Journal.Directory = expandVars(c.Journal.Directory)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration for errors, reporting all of them.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Destination.LogName != "", "destination.log_name is required")
	check(c.Destination.Endpoint != "", "destination.endpoint is required")
	check(oneOf(c.Destination.Resource, ResourceAuto, ResourceGCEInstance, ResourceLoggingLog),
		"destination.resource must be one of auto, gce_instance, logging_log (got %q)", c.Destination.Resource)
	check(c.Credentials.KeyFile != "" || c.Credentials.MetadataURL != "",
		"credentials: either key_file or metadata_url is required")
	check(c.Credentials.IdentityFile == "" || c.Credentials.KeyFile != "",
		"credentials.identity_file requires credentials.key_file")
	check(c.Credentials.MaxAttempts >= 0, "credentials.max_attempts must not be negative")
	check(c.Journal.Journalctl != "", "journal.journalctl is required")
	check(oneOf(c.Journal.StartPosition, "end", "beginning"),
		"journal.start_position must be end or beginning (got %q)", c.Journal.StartPosition)
	check(c.Batch.MaxEntries > 0, "batch.max_entries must be positive")
	check(c.Batch.MaxBytes > 0, "batch.max_bytes must be positive")
	check(c.Retry.Multiplier >= 1, "retry.multiplier must be at least 1")
	check(c.Retry.MaxAttempts >= 0, "retry.max_attempts must not be negative")
	check(oneOf(c.Retry.OnPermanentFailure, "hold", "advance", "halt"),
		"retry.on_permanent_failure must be one of hold, advance, halt (got %q)", c.Retry.OnPermanentFailure)
	check(c.State.Directory != "", "state.directory is required")
	check(oneOf(c.State.DeadLetterCompression, "none", "zstd", "lz4"),
		"state.deadletter_compression must be one of none, zstd, lz4 (got %q)", c.State.DeadLetterCompression)
	_, levelErr := parseLevel(c.LogLevel)
	check(levelErr == nil, "log_level: %v", levelErr)

	durations := []struct {
		field string
		value string
	}{
		{"credentials.refresh_margin", c.Credentials.RefreshMargin},
		{"journal.poll_interval", c.Journal.PollInterval},
		{"batch.max_delay", c.Batch.MaxDelay},
		{"retry.initial", c.Retry.Initial},
		{"retry.max", c.Retry.Max},
		{"retry.max_elapsed", c.Retry.MaxElapsed},
		{"shutdown_grace", c.ShutdownGrace},
	}
	for _, duration := range durations {
		parsed, err := time.ParseDuration(duration.value)
		check(err == nil && parsed > 0, "%s must be a positive duration (got %q)", duration.field, duration.value)
	}

	return errors.Join(errs...)
}

func oneOf(value string, allowed ...string) bool {
	for _, candidate := range allowed {
		if value == candidate {
			return true
		}
	}
	return false
}

func parseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown level %q (want debug, info, warn or error)", name)
	}
}

// Level returns the parsed log level.
func (c *Config) Level() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

// mustDuration parses a validated duration field.
func mustDuration(value string) time.Duration {
	parsed, _ := time.ParseDuration(value)
	return parsed
}

func (c *Config) RefreshMargin() time.Duration { return mustDuration(c.Credentials.RefreshMargin) }
func (c *Config) PollInterval() time.Duration  { return mustDuration(c.Journal.PollInterval) }
func (c *Config) MaxDelay() time.Duration      { return mustDuration(c.Batch.MaxDelay) }
func (c *Config) RetryInitial() time.Duration  { return mustDuration(c.Retry.Initial) }
func (c *Config) RetryMax() time.Duration      { return mustDuration(c.Retry.Max) }
func (c *Config) MaxElapsed() time.Duration    { return mustDuration(c.Retry.MaxElapsed) }
func (c *Config) Grace() time.Duration         { return mustDuration(c.ShutdownGrace) }

// CursorPath is the cursor file inside the state directory.
func (c *Config) CursorPath() string {
	return filepath.Join(c.State.Directory, "cursor")
}

// DeadLetterDirectory is the rejected-batch archive directory.
func (c *Config) DeadLetterDirectory() string {
	return filepath.Join(c.State.Directory, "deadletter")
}

// EnsureState creates the state directory (mode 0700).
func (c *Config) EnsureState() error {
	if err := os.MkdirAll(c.State.Directory, 0o700); err != nil {
		return fmt.Errorf("creating state directory %s: %w", c.State.Directory, err)
	}
	return nil
}
