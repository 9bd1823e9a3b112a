package spool

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velmie/analytics"
)

type collector struct {
	mu      sync.Mutex
	actions []analytics.Action
	reject  string
}

func (c *collector) handle(_ context.Context, action analytics.Action) error {
	if action.MessageID() == c.reject {
		return analytics.ErrQueueFull
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = append(c.actions, action)
	return nil
}

func (c *collector) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.actions))
	for _, a := range c.actions {
		out = append(out, a.MessageID())
	}
	return out
}

func trackLine(id string) string {
	return `{"type":"track","messageId":"` + id + `","userId":"u","event":"e"}` + "\n"
}

func appendTo(t *testing.T, path, data string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func startTailer(t *testing.T, path string, c *collector, opts ...Option) (*Tailer, func() error) {
	t.Helper()
	tailer, err := NewTailer(path, c.handle, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tailer.Run(ctx) }()

	select {
	case <-tailer.ready:
	case err := <-done:
		cancel()
		t.Fatalf("tailer exited early: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("tailer did not start")
	}

	return tailer, func() error {
		cancel()
		return <-done
	}
}

func TestTailerFollowsAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.ndjson")
	appendTo(t, path, trackLine("old"))

	c := &collector{}
	tailer, stop := startTailer(t, path, c)

	appendTo(t, path, trackLine("a")+"not json\n\n"+trackLine("b"))
	require.Eventually(t, func() bool { return len(c.ids()) == 2 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, stop())
	assert.Equal(t, []string{"a", "b"}, c.ids())
	assert.Equal(t, Stats{Accepted: 2, Invalid: 1}, tailer.Stats())
}

func TestTailerFromStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.ndjson")
	appendTo(t, path, trackLine("first")+trackLine("second"))

	c := &collector{}
	_, stop := startTailer(t, path, c, WithFromStart(true))

	require.Eventually(t, func() bool { return len(c.ids()) == 2 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, stop())
	assert.Equal(t, []string{"first", "second"}, c.ids())
}

func TestTailerJoinsPartialLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.ndjson")
	appendTo(t, path, "")

	c := &collector{}
	_, stop := startTailer(t, path, c)

	line := trackLine("split")
	appendTo(t, path, line[:10])
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, c.ids())

	appendTo(t, path, line[10:])
	require.Eventually(t, func() bool { return len(c.ids()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, stop())
	assert.Equal(t, []string{"split"}, c.ids())
}

func TestTailerWaitsForFileCreation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.ndjson")

	c := &collector{}
	_, stop := startTailer(t, path, c)

	appendTo(t, path, trackLine("created"))
	require.Eventually(t, func() bool { return len(c.ids()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, stop())
}

func TestTailerCountsRejectedActions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.ndjson")
	appendTo(t, path, trackLine("keep")+trackLine("drop")+trackLine("keep-too"))

	c := &collector{reject: "drop"}
	tailer, stop := startTailer(t, path, c, WithFromStart(true))

	require.Eventually(t, func() bool { return len(c.ids()) == 2 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, stop())
	assert.Equal(t, Stats{Accepted: 2, Rejected: 1}, tailer.Stats())
}

func TestTailerStopsWhenHandlerClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.ndjson")
	appendTo(t, path, trackLine("one"))

	tailer, err := NewTailer(path, func(context.Context, analytics.Action) error {
		return analytics.ErrClosed
	}, WithFromStart(true))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- tailer.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("tailer did not stop")
	}
}

func TestNewTailerValidation(t *testing.T) {
	_, err := NewTailer("", func(context.Context, analytics.Action) error { return nil })
	assert.ErrorIs(t, err, ErrPathRequired)

	_, err = NewTailer("spool.ndjson", nil)
	assert.Error(t, err)
}
