// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"os"
)

// Exit statuses. Supervisors restart on ExitFailure and should stop
// on ExitOperatorAction.
const (
	ExitFailure        = 1
	ExitUsage          = 2
	ExitOperatorAction = 3
)

// FatalCode writes "error: err" to stderr and exits with code.
func FatalCode(err error, code int) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(code)
}
