package sha256

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDigestIsDeterministic(t *testing.T) {
	t.Parallel()

	const want = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	assert.Equal(t, want, Digest([]byte("hello world")))
	assert.Equal(t, Digest([]byte("hello world")), Digest([]byte("hello world")))
	assert.Equal(t, Prefix+want, Tagged([]byte("hello world")))
}

func TestDigestOfEmptyInput(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Digest(nil))
}
