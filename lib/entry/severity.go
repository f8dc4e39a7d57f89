// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package entry

import (
	"encoding/json"
	"fmt"
)

// Severity is the Cloud Logging severity of an entry. Values are
// ordered: a larger Severity is more severe.
type Severity int

const (
	SeverityDefault Severity = iota
	SeverityDebug
	SeverityInfo
	SeverityNotice
	SeverityWarning
	SeverityError
	SeverityCritical
	SeverityAlert
	SeverityEmergency
)

var severityNames = [...]string{
	SeverityDefault:   "DEFAULT",
	SeverityDebug:     "DEBUG",
	SeverityInfo:      "INFO",
	SeverityNotice:    "NOTICE",
	SeverityWarning:   "WARNING",
	SeverityError:     "ERROR",
	SeverityCritical:  "CRITICAL",
	SeverityAlert:     "ALERT",
	SeverityEmergency: "EMERGENCY",
}

// priorityToSeverity is indexed by syslog priority (0 = emerg).
var priorityToSeverity = [8]Severity{
	SeverityEmergency,
	SeverityAlert,
	SeverityCritical,
	SeverityError,
	SeverityWarning,
	SeverityNotice,
	SeverityInfo,
	SeverityDebug,
}

// SeverityFromPriority maps a syslog priority onto a Severity. The
// second argument reports whether the record carried a parseable
// priority at all.
func SeverityFromPriority(priority int, present bool) Severity {
	if !present || priority < 0 || priority >= len(priorityToSeverity) {
		return SeverityDefault
	}
	return priorityToSeverity[priority]
}

// String returns the Cloud Logging name of the severity.
func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return fmt.Sprintf("Severity(%d)", int(s))
	}
	return severityNames[s]
}

// MarshalJSON encodes the severity by name.
func (s Severity) MarshalJSON() ([]byte, error) {
	if s < 0 || int(s) >= len(severityNames) {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return json.Marshal(severityNames[s])
}

// UnmarshalJSON decodes a severity name.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for index, candidate := range severityNames {
		if candidate == name {
			*s = Severity(index)
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", name)
}
