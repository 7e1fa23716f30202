package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsyncFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.log")
	af, err := NewAsyncFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, af.Name())

	buf := []byte("first\n")
	n, err := af.Write(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	copy(buf, "XXXXX\n") // the queued copy must be unaffected

	_, err = fmt.Fprintf(af, "second %d\n", 2)
	require.NoError(t, err)
	require.NoError(t, af.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond 2\n", string(data))
}

func TestAsyncFile_WriteAfterClose(t *testing.T) {
	af, err := NewAsyncFile(filepath.Join(t.TempDir(), "out.log"))
	require.NoError(t, err)
	require.NoError(t, af.Close())
	require.NoError(t, af.Close())

	_, err = af.Write([]byte("late"))
	assert.ErrorIs(t, err, ErrFileClosed)
}

func TestAsyncFile_ConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	af, err := NewAsyncFile(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 50 {
				_, _ = fmt.Fprintf(af, "writer-%d line-%d\n", i, j)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, af.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 20*50)
}
