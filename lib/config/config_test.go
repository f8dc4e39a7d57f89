// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnvironment unsets every variable Load reads, restoring them
// when the test ends.
func clearEnvironment(t *testing.T) {
	t.Helper()
	for _, name := range []string{ConfigEnv, ProjectEnv, CredentialsEnv, LogNameEnv, StateDirEnv, LogLevelEnv} {
		t.Setenv(name, "")
	}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Destination.LogName != DefaultLogName {
		t.Errorf("log_name = %q, want %q", cfg.Destination.LogName, DefaultLogName)
	}
	if cfg.MaxDelay() != 500*time.Millisecond || cfg.Grace() != 10*time.Second {
		t.Errorf("MaxDelay = %v, Grace = %v", cfg.MaxDelay(), cfg.Grace())
	}
	if cfg.Retry.OnPermanentFailure != "hold" {
		t.Errorf("on_permanent_failure = %q, want hold", cfg.Retry.OnPermanentFailure)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	clearEnvironment(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.State.Directory != Default().State.Directory {
		t.Errorf("state.directory = %q", cfg.State.Directory)
	}
}

func TestLoadYAML(t *testing.T) {
	clearEnvironment(t)
	path := writeConfig(t, "journalrelay.yaml", `
destination:
  project_id: example-project
  log_name: syslog
  gzip: false
batch:
  max_entries: 200
  max_delay: 2s
retry:
  on_permanent_failure: advance
labels:
  env: prod
journal:
  units: [sshd.service, cron.service]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Destination.ProjectID != "example-project" || cfg.Destination.LogName != "syslog" {
		t.Errorf("destination = %+v", cfg.Destination)
	}
	if cfg.Destination.Gzip {
		t.Error("gzip should be disabled by the file")
	}
	if cfg.Batch.MaxEntries != 200 || cfg.MaxDelay() != 2*time.Second {
		t.Errorf("batch = %+v", cfg.Batch)
	}
	// Unset fields keep their defaults.
	if cfg.Batch.MaxBytes != 5<<20 || cfg.Journal.StartPosition != "end" {
		t.Errorf("defaults lost: batch = %+v, journal = %+v", cfg.Batch, cfg.Journal)
	}
	if cfg.Labels["env"] != "prod" || len(cfg.Journal.Units) != 2 {
		t.Errorf("labels = %v, units = %v", cfg.Labels, cfg.Journal.Units)
	}
}

func TestLoadJSONC(t *testing.T) {
	clearEnvironment(t)
	path := writeConfig(t, "journalrelay.jsonc", `{
  // Forward to the staging project.
  "destination": {"project_id": "staging", "log_name": "relay"},
  "log_level": "debug", /* verbose while testing */
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Destination.ProjectID != "staging" || cfg.Level() != slog.LevelDebug {
		t.Errorf("project = %q, level = %v", cfg.Destination.ProjectID, cfg.Level())
	}
}

func TestLoadFromEnvironmentPath(t *testing.T) {
	clearEnvironment(t)
	path := writeConfig(t, "relay.yaml", "destination:\n  log_name: from-env-path\n")
	t.Setenv(ConfigEnv, path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Destination.LogName != "from-env-path" {
		t.Errorf("log_name = %q", cfg.Destination.LogName)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	clearEnvironment(t)
	path := writeConfig(t, "relay.yaml", "destination:\n  project_id: from-file\n  log_name: from-file\n")
	t.Setenv(ProjectEnv, "from-env")
	t.Setenv(LogNameEnv, "env-log")
	t.Setenv(CredentialsEnv, "/etc/journalrelay/key.json")
	t.Setenv(StateDirEnv, "/srv/relay")
	t.Setenv(LogLevelEnv, "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Destination.ProjectID != "from-env" || cfg.Destination.LogName != "env-log" {
		t.Errorf("destination = %+v", cfg.Destination)
	}
	if cfg.Credentials.KeyFile != "/etc/journalrelay/key.json" {
		t.Errorf("key_file = %q", cfg.Credentials.KeyFile)
	}
	if cfg.CursorPath() != "/srv/relay/cursor" || cfg.DeadLetterDirectory() != "/srv/relay/deadletter" {
		t.Errorf("paths = %q, %q", cfg.CursorPath(), cfg.DeadLetterDirectory())
	}
	if cfg.Level() != slog.LevelWarn {
		t.Errorf("level = %v", cfg.Level())
	}
}

func TestExpandVariables(t *testing.T) {
	clearEnvironment(t)
	t.Setenv("RELAY_ROOT", "/opt/relay")
	path := writeConfig(t, "relay.yaml", `
state:
  directory: ${RELAY_ROOT}/state
credentials:
  key_file: ${RELAY_KEYS:-/etc/relay}/key.json.age
  identity_file: ${RELAY_KEYS:-/etc/relay}/identity
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.State.Directory != "/opt/relay/state" {
		t.Errorf("state.directory = %q", cfg.State.Directory)
	}
	if cfg.Credentials.KeyFile != "/etc/relay/key.json.age" || cfg.Credentials.IdentityFile != "/etc/relay/identity" {
		t.Errorf("credentials = %+v", cfg.Credentials)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Batch.MaxEntries = 0
	cfg.Batch.MaxDelay = "soon"
	cfg.Retry.OnPermanentFailure = "skip"
	cfg.Journal.StartPosition = "middle"
	cfg.LogLevel = "chatty"
	cfg.Credentials.IdentityFile = "/etc/identity"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate should fail")
	}
	for _, want := range []string{
		"batch.max_entries",
		"batch.max_delay",
		"retry.on_permanent_failure",
		"journal.start_position",
		"log_level",
		"identity_file requires",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadErrors(t *testing.T) {
	clearEnvironment(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of a missing file should fail")
	}
	if _, err := Load(writeConfig(t, "bad.yaml", "batch: [unclosed\n")); err == nil {
		t.Error("Load of malformed YAML should fail")
	}
	if _, err := Load(writeConfig(t, "bad-value.yaml", "batch:\n  max_delay: -1s\n")); err == nil {
		t.Error("Load should validate")
	}
}
