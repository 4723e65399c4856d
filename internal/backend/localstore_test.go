package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, ok, err := store.Get("@xevivu_session_v1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set("@xevivu_session_v1", []byte(`{"a":1}`)))

	data, ok, err := store.Get("@xevivu_session_v1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(`{"a":1}`), data)

	require.NoError(t, store.Delete("@xevivu_session_v1"))
	_, ok, err = store.Get("@xevivu_session_v1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalStoreDeleteAbsentKey(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, store.Delete("never-written"))
}

func TestLocalStoreOverwrite(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Set("k", []byte("first")))
	require.NoError(t, store.Set("k", []byte("second")))

	data, ok, err := store.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("second"), data)
}

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		key      string
		expected string
	}{
		{"@xevivu_favorites_v1", "_xevivu_favorites_v1"},
		{"plain-key.v2", "plain-key.v2"},
		{"a/b\\c", "a_b_c"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeKey(tt.key))
		})
	}
}
