package kvstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stores builds each Store implementation against fresh state.
func stores(t *testing.T) map[string]Store {
	t.Helper()

	bolt, err := OpenBolt(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bolt.Close() })

	return map[string]Store{
		"mem":  NewMemStore(),
		"bolt": bolt,
	}
}

func TestStoreScalars(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetString("missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.SetString("s", "value"))
			v, err := s.GetString("s")
			require.NoError(t, err)
			assert.Equal(t, "value", v)

			require.NoError(t, s.SetBool("b", true))
			b, err := s.GetBool("b")
			require.NoError(t, err)
			assert.True(t, b)

			require.NoError(t, s.SetInt("i", -7))
			i, err := s.GetInt("i")
			require.NoError(t, err)
			assert.Equal(t, -7, i)
		})
	}
}

func TestStoreExistsDelete(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := s.Exists("k")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.SetString("k", "v"))
			ok, err = s.Exists("k")
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, s.Delete("k"))
			ok, err = s.Exists("k")
			require.NoError(t, err)
			assert.False(t, ok)

			// Deleting an absent key is not an error.
			assert.NoError(t, s.Delete("k"))
		})
	}
}

func TestStoreAddIntClamps(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			// Missing key starts from zero.
			got, err := s.AddInt("h", 1, 0, 5)
			require.NoError(t, err)
			assert.Equal(t, 1, got)

			for range 10 {
				got, err = s.AddInt("h", 1, 0, 5)
				require.NoError(t, err)
			}
			assert.Equal(t, 5, got)

			for range 10 {
				got, err = s.AddInt("h", -1, 0, 5)
				require.NoError(t, err)
			}
			assert.Equal(t, 0, got)
		})
	}
}

func TestBoltPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")

	s, err := OpenBolt(path)
	require.NoError(t, err)
	require.NoError(t, s.SetInt("10.6.0.1-health", 5))
	require.NoError(t, s.Close())

	s, err = OpenBolt(path)
	require.NoError(t, err)
	defer s.Close()

	h, err := s.GetInt("10.6.0.1-health")
	require.NoError(t, err)
	assert.Equal(t, 5, h)
}
