package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRotatingFileWriter_Write(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bridge.log")
	w, err := NewRotatingFileWriter(path, 1, 3)
	require.NoError(t, err)
	defer w.Close()

	n, err := w.Write([]byte("hello\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "hello\n", readFile(t, path))
}

func TestRotatingFileWriter_Rotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.log")
	w, err := newRotatingFileWriter(path, 50, 2)
	require.NoError(t, err)
	defer w.Close()

	line := func(c string) []byte { return []byte(strings.Repeat(c, 39) + "\n") }
	for _, c := range []string{"A", "B", "C", "D"} {
		_, err := w.Write(line(c))
		require.NoError(t, err)
	}

	assert.Equal(t, string(line("D")), readFile(t, path))
	assert.Equal(t, string(line("C")), readFile(t, path+".1"))
	assert.Equal(t, string(line("B")), readFile(t, path+".2"))
	_, err = os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err), "backups beyond the limit are removed")
}

func TestRotatingFileWriter_NoBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.log")
	w, err := newRotatingFileWriter(path, 10, 0)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("0123456789"))
	require.NoError(t, err)
	_, err = w.Write([]byte("abc"))
	require.NoError(t, err)

	assert.Equal(t, "abc", readFile(t, path))
	_, err = os.Stat(path + ".1")
	assert.True(t, os.IsNotExist(err))
}

func TestRotatingFileWriter_OversizedWriteGoesToFreshFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.log")
	w, err := newRotatingFileWriter(path, 4, 1)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("ab"))
	require.NoError(t, err)
	_, err = w.Write([]byte("0123456789"))
	require.NoError(t, err)

	assert.Equal(t, "0123456789", readFile(t, path))
	assert.Equal(t, "ab", readFile(t, path+".1"))
}

func TestRotatingFileWriter_AppendsToExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.log")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

	w, err := NewRotatingFileWriter(path, 1, 1)
	require.NoError(t, err)
	_, err = w.Write([]byte("new\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, "old\nnew\n", readFile(t, path))
	_, err = w.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
	assert.NoError(t, w.Close())
}

func TestRotatingFileWriter_Concurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.log")
	w, err := newRotatingFileWriter(path, 256, 3)
	require.NoError(t, err)
	defer w.Close()

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				_, err := w.Write([]byte("0123456789\n"))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	_, err = os.Stat(path + ".1")
	assert.NoError(t, err)
}

func TestOpen_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.log")
	l, err := Open(Options{Level: "debug", File: path, BufferSize: 10})
	require.NoError(t, err)
	l.Debug("written")
	require.NoError(t, l.Close())

	assert.Contains(t, readFile(t, path), `"msg":"written"`)
	assert.Equal(t, 1, l.Handler.Len())

	_, err = Open(Options{Level: "verbose"})
	assert.Error(t, err)
}
