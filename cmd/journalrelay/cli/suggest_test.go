// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "abc", 0},
		{"abc", "abd", 1},
		{"abc", "ab", 1},
		{"abc", "bac", 2},
		{"kitten", "sitting", 3},
		{"deadletter", "deadleter", 1},
		{"größe", "grosse", 2},
	}
	for _, test := range tests {
		if got := levenshtein(test.a, test.b); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
		if got := levenshtein(test.b, test.a); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.b, test.a, got, test.want)
		}
	}
}

func TestSuggestCommand(t *testing.T) {
	commands := []*Command{{Name: "run"}, {Name: "cursor"}, {Name: "deadletter"}, {Name: "version"}}
	tests := map[string]string{
		"rnu":       "run",
		"curser":    "cursor",
		"deadlettr": "deadletter",
		"verison":   "version",
		"xyzzyplug": "",
	}
	for input, want := range tests {
		if got := suggestCommand(input, commands); got != want {
			t.Errorf("suggestCommand(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestSuggestFlag(t *testing.T) {
	flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flagSet.String("config", "", "")
	flagSet.Bool("once", false, "")

	if got := suggestFlag([]string{"--once", "--confg=x"}, flagSet); got != "--config" {
		t.Errorf("suggestFlag = %q, want --config", got)
	}
	if got := suggestFlag([]string{"--completely-different"}, flagSet); got != "" {
		t.Errorf("suggestFlag = %q, want none", got)
	}
	if got := suggestFlag([]string{"--", "--confg"}, flagSet); got != "" {
		t.Errorf("suggestFlag after -- = %q, want none", got)
	}
}

func TestNewLoggerFormat(t *testing.T) {
	var text, structured bytes.Buffer
	newLogger(&text, true, slog.LevelInfo).Info("flushed", "entries", 3)
	newLogger(&structured, false, slog.LevelInfo).Info("flushed", "entries", 3)

	if !strings.Contains(text.String(), "msg=flushed entries=3") {
		t.Errorf("text output = %q", text.String())
	}
	if !strings.Contains(structured.String(), `"msg":"flushed","entries":3`) {
		t.Errorf("JSON output = %q", structured.String())
	}

	var quiet bytes.Buffer
	newLogger(&quiet, false, slog.LevelWarn).Info("dropped")
	if quiet.Len() != 0 {
		t.Errorf("info logged at warn level: %q", quiet.String())
	}
}
