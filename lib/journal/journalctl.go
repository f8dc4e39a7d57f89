// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/journalrelay/lib/clock"
	"github.com/bureau-foundation/journalrelay/lib/cursor"
)

// maxStderrBytes bounds how much journalctl stderr is retained for
// error reporting.
const maxStderrBytes = 64 * 1024

// waitDelay bounds how long Wait blocks on output pipes held open by
// descendants of a killed journalctl.
const waitDelay = 2 * time.Second

// JournalctlOptions configures a Journalctl source.
type JournalctlOptions struct {
	// Path is the journalctl executable. Defaults to "journalctl"
	// resolved through PATH.
	Path string

	// Follow keeps journalctl running at the end of the journal. When
	// false, Next returns ErrExhausted after the last record.
	Follow bool

	// Units restricts output to the given systemd units.
	Units []string

	// Directory reads journal files from a directory instead of the
	// system journal.
	Directory string

	// Merge interleaves all available journals, including remote ones.
	Merge bool

	// Clock times the Next timeout. Defaults to clock.Real().
	Clock clock.Clock

	Logger *slog.Logger
}

// Journalctl is a Source backed by a journalctl subprocess.
type Journalctl struct {
	options JournalctlOptions
	clock   clock.Clock
	logger  *slog.Logger

	command  *exec.Cmd
	stdout   io.ReadCloser
	results  chan readResult
	stopping chan struct{}
	done     chan struct{}
	terminal error
}

type readResult struct {
	record Record
	err    error
}

// NewJournalctl returns an unstarted Journalctl source. Seek starts
// the subprocess.
func NewJournalctl(options JournalctlOptions) *Journalctl {
	if options.Path == "" {
		options.Path = "journalctl"
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	return &Journalctl{
		options: options,
		clock:   options.Clock,
		logger:  options.Logger,
	}
}

// Arguments returns the journalctl command line (excluding the
// executable) for the given position.
func (j *Journalctl) Arguments(position Position) []string {
	arguments := []string{"--output=json", "--all"}
	if j.options.Follow {
		arguments = append(arguments, "--follow")
	}
	switch position.Kind {
	case PositionBeginning:
		arguments = append(arguments, "--lines=all")
	case PositionEnd:
		arguments = append(arguments, "--lines=0")
	case PositionAfter:
		arguments = append(arguments, "--after-cursor="+string(position.Cursor))
	}
	return append(arguments, j.filters()...)
}

// VerifyArguments returns the command line that reads the entry at
// c itself, used to confirm the cursor still exists before resuming
// after it.
func (j *Journalctl) VerifyArguments(c cursor.Cursor) []string {
	arguments := []string{"--output=json", "--all", "--cursor=" + string(c)}
	return append(arguments, j.filters()...)
}

// filters returns the selection flags shared by every invocation.
func (j *Journalctl) filters() []string {
	var arguments []string
	for _, unit := range j.options.Units {
		arguments = append(arguments, "--unit="+unit)
	}
	if j.options.Directory != "" {
		arguments = append(arguments, "--directory="+j.options.Directory)
	}
	if j.options.Merge {
		arguments = append(arguments, "--merge")
	}
	return arguments
}

// Seek (re)starts journalctl at position. Any previously running
// subprocess is stopped first. For an After position the cursor's own
// entry must still be in the journal: journalctl --after-cursor
// silently resumes at the nearest entry when it is not, so Seek reads
// it back first and fails with ErrCursorInvalidated if it is gone.
func (j *Journalctl) Seek(ctx context.Context, position Position) error {
	if err := j.Close(); err != nil {
		j.logger.Warn("stopping previous journalctl", "error", err)
	}
	if position.Kind == PositionAfter {
		if err := j.verifyCursor(ctx, position.Cursor); err != nil {
			return err
		}
	}

	arguments := j.Arguments(position)
	command := exec.Command(j.options.Path, arguments...)
	stdout, err := command.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: creating stdout pipe: %w", ErrSource, err)
	}
	stderr := &boundedBuffer{limit: maxStderrBytes}
	command.Stderr = stderr
	command.WaitDelay = waitDelay

	if err := command.Start(); err != nil {
		return fmt.Errorf("%w: starting %s: %w", ErrSource, j.options.Path, err)
	}
	j.logger.Info("journalctl started",
		"pid", command.Process.Pid,
		"position", position.String(),
		"follow", j.options.Follow,
	)

	j.command = command
	j.stdout = stdout
	j.results = make(chan readResult, 64)
	j.stopping = make(chan struct{})
	j.done = make(chan struct{})
	j.terminal = nil

	go j.decode(command, stdout, stderr, j.results, j.stopping, j.done)
	return nil
}

// verifyCursor reads the entry at c and checks that journald
// positioned on c itself rather than on a neighbor.
func (j *Journalctl) verifyCursor(ctx context.Context, c cursor.Cursor) error {
	command := exec.CommandContext(ctx, j.options.Path, j.VerifyArguments(c)...)
	stdout, err := command.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: creating stdout pipe: %w", ErrSource, err)
	}
	stderr := &boundedBuffer{limit: maxStderrBytes}
	command.Stderr = stderr
	command.WaitDelay = waitDelay
	if err := command.Start(); err != nil {
		return fmt.Errorf("%w: starting %s: %w", ErrSource, j.options.Path, err)
	}

	var line []byte
	reader := bufio.NewReaderSize(stdout, 256*1024)
	for len(line) == 0 {
		read, readErr := reader.ReadBytes('\n')
		line = bytes.TrimSpace(read)
		if readErr != nil {
			break
		}
	}
	if len(line) > 0 {
		// One entry is all that is needed; the rest of the journal
		// after c is left unread.
		command.Process.Kill()
		command.Wait()
		record, err := ParseRecord(line)
		if err != nil {
			return fmt.Errorf("%w: verifying cursor: %w", ErrSource, err)
		}
		if found := record.Cursor(); found != c {
			return fmt.Errorf("%w: cursor %q not in journal, nearest entry is %q", ErrCursorInvalidated, c, found)
		}
		return nil
	}

	waitErr := command.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	message := strings.TrimSpace(stderr.String())
	if waitErr != nil && !isCursorFailure(message) {
		return classifyExit(waitErr, message, false)
	}
	if message != "" {
		return fmt.Errorf("%w: cursor %q not in journal: %s", ErrCursorInvalidated, c, message)
	}
	return fmt.Errorf("%w: cursor %q not in journal", ErrCursorInvalidated, c)
}

// decode reads JSON lines until EOF, then reports how journalctl
// exited. It is the only goroutine that touches stdout.
func (j *Journalctl) decode(command *exec.Cmd, stdout io.Reader, stderr *boundedBuffer, results chan<- readResult, stopping <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer close(results)

	send := func(result readResult) bool {
		select {
		case results <- result:
			return true
		case <-stopping:
			return false
		}
	}

	reader := bufio.NewReaderSize(stdout, 256*1024)
	for {
		line, readErr := reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			record, err := ParseRecord(line)
			if err != nil {
				send(readResult{err: fmt.Errorf("%w: %w", ErrSource, err)})
				command.Process.Kill()
				command.Wait()
				return
			}
			if !send(readResult{record: record}) {
				command.Process.Kill()
				command.Wait()
				return
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				send(readResult{err: fmt.Errorf("%w: reading journalctl output: %w", ErrSource, readErr)})
				command.Process.Kill()
				command.Wait()
				return
			}
			break
		}
	}

	waitErr := command.Wait()
	send(readResult{err: classifyExit(waitErr, stderr.String(), j.options.Follow)})
}

// classifyExit maps how journalctl ended onto the package's errors.
func classifyExit(waitErr error, stderr string, follow bool) error {
	stderr = strings.TrimSpace(stderr)
	if waitErr == nil {
		if follow {
			return fmt.Errorf("%w: journalctl exited while following", ErrSource)
		}
		return ErrExhausted
	}
	if isCursorFailure(stderr) {
		return fmt.Errorf("%w: %s", ErrCursorInvalidated, stderr)
	}
	if stderr != "" {
		return fmt.Errorf("%w: journalctl: %w: %s", ErrSource, waitErr, stderr)
	}
	return fmt.Errorf("%w: journalctl: %w", ErrSource, waitErr)
}

func isCursorFailure(stderr string) bool {
	lower := strings.ToLower(stderr)
	return strings.Contains(lower, "failed to seek to cursor") ||
		strings.Contains(lower, "failed to parse cursor")
}

// Next returns the next record, waiting at most timeout.
func (j *Journalctl) Next(ctx context.Context, timeout time.Duration) (Record, error) {
	if j.terminal != nil {
		return Record{}, j.terminal
	}
	if j.results == nil {
		return Record{}, fmt.Errorf("%w: Next called before Seek", ErrSource)
	}

	select {
	case result, ok := <-j.results:
		if !ok {
			j.terminal = fmt.Errorf("%w: journalctl output closed", ErrSource)
			return Record{}, j.terminal
		}
		if result.err != nil {
			j.terminal = result.err
			return Record{}, result.err
		}
		return result.record, nil
	case <-j.clock.After(timeout):
		return Record{}, ErrTimeout
	case <-ctx.Done():
		return Record{}, ctx.Err()
	}
}

// Close stops journalctl and waits for the decoder to finish.
func (j *Journalctl) Close() error {
	if j.command == nil {
		return nil
	}
	close(j.stopping)
	if j.command.Process != nil {
		// The process may already have exited; Kill then reports
		// os.ErrProcessDone, which is expected.
		j.command.Process.Kill()
	}
	<-j.done
	j.command = nil
	j.results = nil
	return nil
}

// boundedBuffer keeps the first limit bytes written to it.
type boundedBuffer struct {
	mu     sync.Mutex
	buffer bytes.Buffer
	limit  int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if remaining := b.limit - b.buffer.Len(); remaining > 0 {
		if len(p) > remaining {
			b.buffer.Write(p[:remaining])
		} else {
			b.buffer.Write(p)
		}
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.String()
}
