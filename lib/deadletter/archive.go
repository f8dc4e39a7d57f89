// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package deadletter

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/journalrelay/lib/atomicfile"
	"github.com/bureau-foundation/journalrelay/lib/codec"
	"github.com/bureau-foundation/journalrelay/lib/cursor"
	"github.com/bureau-foundation/journalrelay/lib/dispatch"
)

const recordSuffix = ".cbor"

// ErrNotFound reports a name that is not in the archive.
var ErrNotFound = errors.New("dead-letter record not found")

// Record is one archived batch.
type Record struct {
	BatchID        string        `cbor:"batch_id"`
	RejectedAt     time.Time     `cbor:"rejected_at"`
	Reason         string        `cbor:"reason"`
	StatusCode     int           `cbor:"status_code,omitempty"`
	TrailingCursor cursor.Cursor `cbor:"trailing_cursor"`
	LogName        string        `cbor:"log_name,omitempty"`

	// Entries are the encoded wire entries, byte for byte as sent.
	Entries [][]byte `cbor:"entries"`
}

// Batch rebuilds the batch for resubmission.
func (r Record) Batch() dispatch.Batch {
	batch := dispatch.Batch{
		ID:      r.BatchID,
		Entries: make([]json.RawMessage, len(r.Entries)),
		Cursor:  r.TrailingCursor,
	}
	for index, encoded := range r.Entries {
		batch.Entries[index] = encoded
		batch.Size += len(encoded)
	}
	return batch
}

// Info describes an archived file without decoding it.
type Info struct {
	Name       string
	Size       int64
	RejectedAt time.Time
}

// Options configures an Archive.
type Options struct {
	Compression Compression

	// LogName is recorded with every record.
	LogName string

	Logger *slog.Logger
}

// Archive is a directory of rejected batches.
type Archive struct {
	directory   string
	compression Compression
	logName     string
	logger      *slog.Logger
}

// New returns an Archive rooted at directory, creating it (mode 0700)
// if needed.
func New(directory string, options Options) (*Archive, error) {
	compression, err := ParseCompression(string(options.Compression))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return nil, fmt.Errorf("creating dead-letter directory: %w", err)
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Archive{
		directory:   directory,
		compression: compression,
		logName:     options.LogName,
		logger:      logger,
	}, nil
}

// Directory returns the archive's directory.
func (a *Archive) Directory() string { return a.directory }

// Archive stores rejection. It implements dispatch.Archiver.
func (a *Archive) Archive(rejection dispatch.Rejection) error {
	record := Record{
		BatchID:        rejection.Batch.ID,
		RejectedAt:     rejection.RejectedAt.UTC(),
		Reason:         rejection.Reason,
		StatusCode:     rejection.StatusCode,
		TrailingCursor: rejection.Batch.Cursor,
		LogName:        a.logName,
		Entries:        make([][]byte, len(rejection.Batch.Entries)),
	}
	for index, encoded := range rejection.Batch.Entries {
		record.Entries[index] = encoded
	}
	name, err := a.write(record)
	if err != nil {
		return err
	}
	a.logger.Info("rejected batch archived",
		"file", name,
		"batch", record.BatchID,
		"entries", len(record.Entries),
	)
	return nil
}

func (a *Archive) write(record Record) (string, error) {
	encoded, err := codec.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("encoding dead-letter record: %w", err)
	}
	digest := blake3.Sum256(encoded)
	name := strconv.FormatInt(record.RejectedAt.UnixNano(), 10) + "-" +
		hex.EncodeToString(digest[:8]) + a.compression.suffix()

	body, err := compress(encoded, a.compression)
	if err != nil {
		return "", err
	}
	if err := atomicfile.Write(filepath.Join(a.directory, name), body, 0o600); err != nil {
		return "", fmt.Errorf("writing dead-letter record: %w", err)
	}
	return name, nil
}

// List returns the archived records, oldest first.
func (a *Archive) List() ([]Info, error) {
	dirEntries, err := os.ReadDir(a.directory)
	if err != nil {
		return nil, fmt.Errorf("listing dead-letter directory: %w", err)
	}
	var infos []Info
	for _, dirEntry := range dirEntries {
		name := dirEntry.Name()
		if dirEntry.IsDir() || strings.HasSuffix(name, atomicfile.TemporarySuffix) {
			continue
		}
		rejectedAt, ok := parseName(name)
		if !ok {
			continue
		}
		fileInfo, err := dirEntry.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		infos = append(infos, Info{Name: name, Size: fileInfo.Size(), RejectedAt: rejectedAt})
	}
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].RejectedAt.Equal(infos[j].RejectedAt) {
			return infos[i].RejectedAt.Before(infos[j].RejectedAt)
		}
		return infos[i].Name < infos[j].Name
	})
	return infos, nil
}

// parseName extracts the rejection time from an archive file name.
func parseName(name string) (time.Time, bool) {
	if _, ok := compressionOf(name); !ok {
		return time.Time{}, false
	}
	prefix, _, found := strings.Cut(name, "-")
	if !found {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos).UTC(), true
}

func (a *Archive) path(name string) (string, error) {
	if name == "" || strings.ContainsRune(name, filepath.Separator) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid dead-letter record name %q", name)
	}
	if _, ok := parseName(name); !ok {
		return "", fmt.Errorf("invalid dead-letter record name %q", name)
	}
	return filepath.Join(a.directory, name), nil
}

// Read decodes one archived record.
func (a *Archive) Read(name string) (Record, error) {
	path, err := a.path(name)
	if err != nil {
		return Record{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return Record{}, fmt.Errorf("reading %s: %w", name, err)
	}
	compression, _ := compressionOf(name)
	encoded, err := decompress(data, compression)
	if err != nil {
		return Record{}, fmt.Errorf("%s: %w", name, err)
	}
	var record Record
	if err := codec.Unmarshal(encoded, &record); err != nil {
		return Record{}, fmt.Errorf("decoding %s: %w", name, err)
	}
	return record, nil
}

// Remove deletes one archived record.
func (a *Archive) Remove(name string) error {
	path, err := a.path(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return atomicfile.Remove(path)
}

// Replay resubmits one archived batch and removes it once the
// destination accepts it. The journal cursor is not touched: the
// entries are already behind it.
func (a *Archive) Replay(ctx context.Context, name string, writer dispatch.Writer, credentials dispatch.Credentials) error {
	record, err := a.Read(name)
	if err != nil {
		return err
	}
	token, err := credentials.Token(ctx)
	if err != nil {
		return fmt.Errorf("obtaining credential: %w", err)
	}
	if err := writer.Write(ctx, record.Batch(), token); err != nil {
		return fmt.Errorf("replaying %s: %w", name, err)
	}
	if err := a.Remove(name); err != nil {
		return fmt.Errorf("removing replayed %s: %w", name, err)
	}
	a.logger.Info("archived batch replayed",
		"file", name,
		"batch", record.BatchID,
		"entries", len(record.Entries),
	)
	return nil
}
