package github

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTokens(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a", "b", "c"}, ParseTokens(" a, b ,,c,"))
	assert.Empty(t, ParseTokens(""))
	assert.Empty(t, ParseTokens(" , "))
}

func TestNewPoolRequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := NewPool(nil)
	require.ErrorIs(t, err, ErrNoCredentials)

	_, err = NewPool([]string{" ", ""})
	require.ErrorIs(t, err, ErrNoCredentials)
}

func TestPoolAdvanceReportsWrap(t *testing.T) {
	t.Parallel()

	pool, err := NewPool([]string{"a", "b", "c"})
	require.NoError(t, err)
	require.Equal(t, "a", pool.Current())

	assert.False(t, pool.Advance())
	assert.Equal(t, "b", pool.Current())
	assert.False(t, pool.Advance())
	assert.Equal(t, "c", pool.Current())
	assert.True(t, pool.Advance())
	assert.Equal(t, "a", pool.Current())
}

func TestPoolSingleCredentialAlwaysWraps(t *testing.T) {
	t.Parallel()

	pool, err := NewPool([]string{"only"})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		assert.True(t, pool.Advance())
		assert.Equal(t, "only", pool.Current())
	}
}

func TestPoolConcurrentAdvanceLosesNoUpdates(t *testing.T) {
	t.Parallel()

	const (
		size    = 7
		workers = 16
		perG    = 250
	)
	tokens := make([]string, size)
	for i := range tokens {
		tokens[i] = string(rune('a' + i))
	}
	pool, err := NewPool(tokens)
	require.NoError(t, err)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		wraps int
	)
	for g := 0; g < workers; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := 0
			for i := 0; i < perG; i++ {
				if pool.Advance() {
					local++
				}
			}
			mu.Lock()
			wraps += local
			mu.Unlock()
		}()
	}
	wg.Wait()

	total := workers * perG
	assert.Equal(t, total%size, pool.Index())
	assert.Equal(t, total/size, wraps, "each full cycle must wrap exactly once")
}

func TestPoolTokenUsesCurrentCredential(t *testing.T) {
	t.Parallel()

	pool, err := NewPool([]string{"first", "second"})
	require.NoError(t, err)

	tok, err := pool.Token()
	require.NoError(t, err)
	assert.Equal(t, "first", tok.AccessToken)
	assert.Equal(t, "token", tok.Type())

	pool.Advance()
	tok, err = pool.Token()
	require.NoError(t, err)
	assert.Equal(t, "second", tok.AccessToken)
}
