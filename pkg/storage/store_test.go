package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStore(rdb, "test")
}

func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"bolt": func(t *testing.T) Store {
			s, err := NewBoltStore(t.TempDir())
			require.NoError(t, err)
			return s
		},
		"redis": func(t *testing.T) Store {
			return newRedisTestStore(t)
		},
	}
}

func TestStoreContract(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			defer s.Close()

			_, err := s.Get("missing")
			assert.ErrorIs(t, err, ErrNotFound)

			err = s.PutAll(map[string][]byte{
				"a": []byte("1"),
				"b": []byte("2"),
				"c": []byte("3"),
			})
			require.NoError(t, err)

			for key, want := range map[string]string{"a": "1", "b": "2", "c": "3"} {
				got, err := s.Get(key)
				require.NoError(t, err)
				assert.Equal(t, want, string(got))
			}

			// Overwrite one entry
			require.NoError(t, s.PutAll(map[string][]byte{"a": []byte("10")}))
			got, err := s.Get("a")
			require.NoError(t, err)
			assert.Equal(t, "10", string(got))

			require.NoError(t, s.Delete("a", "b", "c"))
			for _, key := range []string{"a", "b", "c"} {
				_, err := s.Get(key)
				assert.ErrorIs(t, err, ErrNotFound)
			}

			// Deleting again is not an error
			assert.NoError(t, s.Delete("a", "b", "c"))
		})
	}
}

func TestBoltStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := NewBoltStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.PutAll(map[string][]byte{"token": []byte("abc")}))
	require.NoError(t, s.Close())

	s, err = NewBoltStore(dir)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get("token")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	s := NewMemoryStore()
	value := []byte("abc")
	require.NoError(t, s.PutAll(map[string][]byte{"k": value}))

	value[0] = 'x'
	got, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestRedisStorePing(t *testing.T) {
	s := newRedisTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
