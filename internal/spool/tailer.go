// Package spool follows an NDJSON file of analytics actions and hands every
// decoded line to a handler.
package spool

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/velmie/analytics"
)

// ErrPathRequired is returned when the tailer has no file to follow.
var ErrPathRequired = errors.New("spool: path is required")

// Handler receives each decoded action. Returning analytics.ErrClosed stops
// the tailer; other errors are logged and the line is skipped.
type Handler func(ctx context.Context, action analytics.Action) error

// Stats counts lines seen by a tailer.
type Stats struct {
	Accepted int
	Invalid  int
	Rejected int
}

// Tailer follows a single spool file. A file recreated at the same path
// (log rotation) is reopened and read from the start.
type Tailer struct {
	path      string
	fromStart bool
	handler   Handler
	logger    analytics.Logger

	file    *os.File
	reader  *bufio.Reader
	partial []byte
	stats   Stats

	ready chan struct{}
}

// Option customizes a Tailer.
type Option func(*Tailer)

// WithFromStart makes the tailer process content already in the file.
func WithFromStart(fromStart bool) Option {
	return func(t *Tailer) {
		t.fromStart = fromStart
	}
}

// WithLogger sets the tailer logger.
func WithLogger(logger analytics.Logger) Option {
	return func(t *Tailer) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTailer creates a tailer for path.
func NewTailer(path string, handler Handler, opts ...Option) (*Tailer, error) {
	if path == "" {
		return nil, ErrPathRequired
	}
	if handler == nil {
		return nil, errors.New("spool: handler is required")
	}
	t := &Tailer{
		path:    filepath.Clean(path),
		handler: handler,
		logger:  analytics.NopLogger{},
		ready:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	return t, nil
}

// Stats returns the line counters. Call it after Run returns.
func (t *Tailer) Stats() Stats {
	return t.stats
}

// Run follows the file until ctx is done or the handler reports
// analytics.ErrClosed. The parent directory must exist.
func (t *Tailer) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("spool: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		return fmt.Errorf("spool: watch %s: %w", filepath.Dir(t.path), err)
	}
	defer t.closeFile()

	if err := t.open(!t.fromStart); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	close(t.ready)

	t.logger.Info("spool: following file", "path", t.path, "from_start", t.fromStart)

	if err := t.drain(ctx); err != nil {
		return stopErr(err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != t.path {
				continue
			}
			if event.Has(fsnotify.Create) {
				t.closeFile()
				if err := t.open(false); err != nil {
					t.logger.Warn("spool: reopen failed", "path", t.path, "err", err)
					continue
				}
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				t.logger.Info("spool: file moved away", "path", t.path)
			}
			if err := t.drain(ctx); err != nil {
				return stopErr(err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			t.logger.Error("spool: watcher error", "err", err)
		}
	}
}

func stopErr(err error) error {
	if errors.Is(err, analytics.ErrClosed) || errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

func (t *Tailer) open(seekEnd bool) error {
	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("spool: open %s: %w", t.path, err)
	}
	if seekEnd {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			_ = f.Close()

			return fmt.Errorf("spool: seek %s: %w", t.path, err)
		}
	}
	t.file = f
	t.reader = bufio.NewReader(f)
	t.partial = t.partial[:0]

	return nil
}

func (t *Tailer) closeFile() {
	if t.file != nil {
		_ = t.file.Close()
		t.file = nil
		t.reader = nil
	}
}

// drain reads every complete line currently available. A trailing line
// without a newline is kept until the rest of it arrives.
func (t *Tailer) drain(ctx context.Context) error {
	if t.reader == nil {
		return nil
	}
	if err := t.resetIfTruncated(); err != nil {
		return err
	}
	for {
		chunk, err := t.reader.ReadBytes('\n')
		t.partial = append(t.partial, chunk...)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("spool: read %s: %w", t.path, err)
		}

		line := t.partial
		t.partial = nil
		if err := t.handleLine(ctx, line); err != nil {
			return err
		}
	}
}

func (t *Tailer) resetIfTruncated() error {
	info, err := t.file.Stat()
	if err != nil {
		return fmt.Errorf("spool: stat %s: %w", t.path, err)
	}
	pos, err := t.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("spool: position %s: %w", t.path, err)
	}
	if info.Size() >= pos-int64(t.reader.Buffered()) {
		return nil
	}
	t.logger.Warn("spool: file truncated, reading from start", "path", t.path)
	if _, err := t.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("spool: seek %s: %w", t.path, err)
	}
	t.reader.Reset(t.file)
	t.partial = t.partial[:0]

	return nil
}

func (t *Tailer) handleLine(ctx context.Context, line []byte) error {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}

	action, err := analytics.DecodeAction(line)
	if err != nil {
		t.stats.Invalid++
		t.logger.Warn("spool: skipping undecodable line", "err", err)

		return nil
	}

	if err := t.handler(ctx, action); err != nil {
		if errors.Is(err, analytics.ErrClosed) || ctx.Err() != nil {
			return err
		}
		t.stats.Rejected++
		t.logger.Warn("spool: action rejected", "message_id", action.MessageID(), "err", err)

		return nil
	}
	t.stats.Accepted++

	return nil
}
