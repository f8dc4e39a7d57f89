// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stackdriver

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/journalrelay/lib/metadata"
)

// Resource is the monitored resource every entry of a request is
// attributed to.
type Resource struct {
	Type   string            `json:"type"`
	Labels map[string]string `json:"labels"`
}

// GCEInstance returns a gce_instance resource.
func GCEInstance(projectID, instanceID, zone string) Resource {
	return Resource{
		Type: "gce_instance",
		Labels: map[string]string{
			"project_id":  projectID,
			"instance_id": instanceID,
			"zone":        zone,
		},
	}
}

// LogResource returns a logging_log resource, used when the host's
// identity is not available from a metadata server.
func LogResource(projectID, logName string) Resource {
	return Resource{
		Type: "logging_log",
		Labels: map[string]string{
			"project_id": projectID,
			"name":       logName,
		},
	}
}

// DiscoverInstance builds a gce_instance resource from the metadata
// server. The project ID is the one reported by the server unless
// projectID overrides it.
func DiscoverInstance(ctx context.Context, client *metadata.Client, projectID string) (Resource, error) {
	if projectID == "" {
		discovered, err := client.ProjectID(ctx)
		if err != nil {
			return Resource{}, fmt.Errorf("discovering project ID: %w", err)
		}
		projectID = discovered
	}
	instanceID, err := client.InstanceID(ctx)
	if err != nil {
		return Resource{}, fmt.Errorf("discovering instance ID: %w", err)
	}
	zone, err := client.Zone(ctx)
	if err != nil {
		return Resource{}, fmt.Errorf("discovering zone: %w", err)
	}
	return GCEInstance(projectID, instanceID, zone), nil
}
