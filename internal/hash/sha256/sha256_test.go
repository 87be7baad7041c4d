package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)

	again, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, got, again)
}

func TestHasherDistinguishesContent(t *testing.T) {
	t.Parallel()

	h := New()
	a, err := h.Hash([]byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, err)
	b, err := h.Hash([]byte{0x89, 'P', 'N', 'G', 0})
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	empty, err := h.Hash(nil)
	require.NoError(t, err)
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", empty)
}
