// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Set with -ldflags -X at release time:
//
//	go build -ldflags "-X github.com/bureau-foundation/journalrelay/lib/version.Version=1.2.0"
var (
	Version   = "0.1.0-dev"
	GitCommit = ""
	GitDirty  = ""
	BuildTime = ""
)

// build is the resolved build identity.
type build struct {
	commit string
	dirty  bool
	time   string
}

var resolve = sync.OnceValue(func() build {
	info, _ := debug.ReadBuildInfo()
	return fromSettings(info)
})

// fromSettings fills unset ldflags values from the VCS stamps the Go
// toolchain embeds in module builds.
func fromSettings(info *debug.BuildInfo) build {
	resolved := build{commit: GitCommit, dirty: GitDirty == "true", time: BuildTime}
	if info != nil {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if resolved.commit == "" {
					resolved.commit = setting.Value
				}
			case "vcs.modified":
				if GitDirty == "" {
					resolved.dirty = setting.Value == "true"
				}
			case "vcs.time":
				if resolved.time == "" {
					resolved.time = setting.Value
				}
			}
		}
	}
	if len(resolved.commit) > 12 {
		resolved.commit = resolved.commit[:12]
	}
	if resolved.commit == "" {
		resolved.commit = "unknown"
	}
	if resolved.time == "" {
		resolved.time = "unknown"
	}
	return resolved
}

func (b build) String() string {
	commit := b.commit
	if b.dirty {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (%s, %s)", Version, commit, b.time)
}

// Info returns "version (commit[-dirty], build time)".
func Info() string { return resolve().String() }

// Full returns Info plus the Go toolchain and platform.
func Full() string {
	return fmt.Sprintf("journalrelay %s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// UserAgent is sent with every Cloud Logging and token request.
func UserAgent() string {
	return fmt.Sprintf("journalrelay/%s (%s; %s/%s)", Version, resolve().commit, runtime.GOOS, runtime.GOARCH)
}
