// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// TemporarySuffix is appended to the destination path to form the
// staging file name.
const TemporarySuffix = ".tmp"

// Write atomically replaces path with data using the given mode. The
// parent directory must already exist.
func Write(path string, data []byte, mode os.FileMode) error {
	temporaryPath := path + TemporarySuffix

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("creating temporary file for %s: %w", path, err)
	}

	// Write, sync, close, in that order. On any failure the temporary
	// file is removed and the destination is left as it was.
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary file for %s: %w", path, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary file for %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary file for %s: %w", path, err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming %s into place: %w", path, err)
	}

	return SyncDirectory(filepath.Dir(path))
}

// SyncDirectory fsyncs a directory so that entries created, renamed or
// removed inside it are durable.
func SyncDirectory(directory string) error {
	handle, err := os.Open(directory)
	if err != nil {
		return fmt.Errorf("opening directory %s for sync: %w", directory, err)
	}
	defer handle.Close()
	if err := handle.Sync(); err != nil {
		return fmt.Errorf("syncing directory %s: %w", directory, err)
	}
	return nil
}

// Remove deletes path and syncs its parent directory. A missing file is
// not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return SyncDirectory(filepath.Dir(path))
}
