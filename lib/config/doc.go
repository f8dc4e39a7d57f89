// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the relay's configuration.
//
// Loading is layered, later layers winning:
//
//  1. [Default] values.
//  2. The file named by --config, or by $JOURNALRELAY_CONFIG. YAML;
//     files ending in .json or .jsonc may carry comments and trailing
//     commas. A missing setting leaves the default in place, and no
//     file at all is a valid configuration.
//  3. The deployment environment: GOOGLE_CLOUD_PROJECT,
//     GOOGLE_APPLICATION_CREDENTIALS, LOG_NAME, JOURNALRELAY_STATE_DIR
//     and JOURNALRELAY_LOG_LEVEL.
//  4. ${VAR} and ${VAR:-default} expansion of path fields.
//
// [Config.Validate] reports every problem at once. Durations are Go
// duration strings ("500ms", "15m") and are exposed parsed through
// accessor methods once validated.
//
// This package depends on no other journalrelay packages.
package config
