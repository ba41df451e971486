package state

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCursorMissingFileStartsAtZero(t *testing.T) {
	t.Parallel()

	c, err := LoadCursor(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), c.Load())
}

func TestCursorSaveWritesWholeFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	c, err := LoadCursor(path)
	require.NoError(t, err)

	require.NoError(t, c.Save(1234))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"last_id":{"github":1234}}`, string(data))

	reloaded, err := LoadCursor(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), reloaded.Load())
}

func TestCursorNeverDecreases(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	c, err := LoadCursor(path)
	require.NoError(t, err)

	require.NoError(t, c.Save(500))
	require.NoError(t, c.Save(200))
	assert.Equal(t, uint64(500), c.Load())

	reloaded, err := LoadCursor(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), reloaded.Load())
}

func TestCursorConcurrentSavesKeepMaximum(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	c, err := LoadCursor(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			assert.NoError(t, c.Save(id))
		}(uint64(i))
	}
	wg.Wait()

	reloaded, err := LoadCursor(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), reloaded.Load())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestLoadCursorRejectsCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := LoadCursor(path)
	require.Error(t, err)
}
