package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_RecordsAndBoundsEntries(t *testing.T) {
	h := NewHandler(HandlerOptions{MaxEntries: 3})
	logger := slog.New(h)
	for i := range 5 {
		logger.Info("entry", slog.Int("i", i))
	}

	entries := h.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "2", entries[0].Attrs["i"])
	assert.Equal(t, "4", entries[2].Attrs["i"])

	recent := h.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, "4", recent[0].Attrs["i"])
	assert.Len(t, h.Recent(10), 3)
}

func TestHandler_Level(t *testing.T) {
	h := NewHandler(HandlerOptions{Level: slog.LevelWarn})
	logger := slog.New(h)
	logger.Info("dropped")
	logger.Warn("kept")
	require.Equal(t, 1, h.Len())
	assert.Equal(t, "kept", h.Entries()[0].Message)
}

func TestHandler_AttrsAndGroups(t *testing.T) {
	h := NewHandler(HandlerOptions{})
	logger := slog.New(h).With(slog.String("bridge", "b1")).WithGroup("call")
	logger.Info("invoked", slog.String("method", "get_value"), slog.Group("ret", slog.Int("value", 42)))

	require.Equal(t, 1, h.Len())
	attrs := h.Entries()[0].Attrs
	assert.Equal(t, "b1", attrs["bridge"])
	assert.Equal(t, "get_value", attrs["call.method"])
	assert.Equal(t, "42", attrs["call.ret.value"])
}

func TestHandler_SearchAndClear(t *testing.T) {
	h := NewHandler(HandlerOptions{})
	logger := slog.New(h)
	logger.Info("bound class", slog.String("class", "Foo"))
	logger.Info("bound method", slog.String("method", "get_value"))
	logger.Error("create instance failed")

	assert.Len(t, h.Search("BOUND"), 2)
	assert.Len(t, h.Search("foo"), 1)
	assert.Len(t, h.Search("method"), 1)
	assert.Empty(t, h.Search("nothing"))

	h.Clear()
	assert.Zero(t, h.Len())
}

func TestHandler_TeesJSON(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(HandlerOptions{Output: &buf})
	slog.New(h).With(slog.String("bridge", "b1")).Info("hello", slog.Int("n", 1))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "b1", rec["bridge"])
	assert.EqualValues(t, 1, rec["n"])
}

func TestHandler_ConcurrentUse(t *testing.T) {
	h := NewHandler(HandlerOptions{MaxEntries: 50})
	logger := slog.New(h)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				logger.Info("tick")
				_ = h.Recent(5)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, h.Len())
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}
