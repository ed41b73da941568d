package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mauri870/aofkv/internal/aof"
	"github.com/mauri870/aofkv/internal/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingLog struct{}

func (failingLog) Append(aof.Entry) error {
	return &aof.IOError{Op: "write", Path: "wal.aof", Err: errors.New("disk full")}
}

func newStore(t *testing.T) (*Store, *kvstore.Memory, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".data", "wal.aof")
	w := aof.NewWriter(path, false)
	t.Cleanup(func() { w.Close() })

	kv := kvstore.NewMemory()
	return New(kv, w, nil, zap.NewNop()), kv, path
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestSetGet(t *testing.T) {
	s, _, path := newStore(t)

	require.NoError(t, s.Set("a", "1"))

	v, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)
	assert.Equal(t, "SET a 1\n", readLog(t, path))
}

func TestSetDelete(t *testing.T) {
	s, _, path := newStore(t)

	require.NoError(t, s.Set("a", "1"))
	require.NoError(t, s.Delete("a"))

	_, err := s.Get("a")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.Equal(t, "SET a 1\nDELETE a\n", readLog(t, path))
}

func TestValueWithSpaces(t *testing.T) {
	s, kv, path := newStore(t)

	require.NoError(t, s.Set("msg", "hello  big world "))
	replayed := kvstore.NewMemory()
	_, err := aof.Load(path, replayed)
	require.NoError(t, err)
	assert.Equal(t, kv.Snapshot(), replayed.Snapshot())
}

func TestAppendFailureLeavesStateUnchanged(t *testing.T) {
	kv := kvstore.NewMemory()
	kv.Set("a", "1")
	s := New(kv, failingLog{}, nil, zap.NewNop())

	var ioErr *aof.IOError
	require.ErrorAs(t, s.Set("a", "2"), &ioErr)
	require.ErrorAs(t, s.Delete("a"), &ioErr)

	assert.Equal(t, map[string]string{"a": "1"}, kv.Snapshot())
}

func TestInvalidInput(t *testing.T) {
	s, kv, path := newStore(t)

	tests := []struct {
		key, value string
		err        error
	}{
		{"", "1", ErrInvalidKey},
		{"a b", "1", ErrInvalidKey},
		{"a\tb", "1", ErrInvalidKey},
		{"a\nb", "1", ErrInvalidKey},
		{"a", "line\nbreak", ErrInvalidValue},
		{"a", "carriage\rreturn", ErrInvalidValue},
		{"a", "\xff\xfe", ErrInvalidEncoding},
		{"\xff", "1", ErrInvalidEncoding},
	}
	for _, tt := range tests {
		err := s.Set(tt.key, tt.value)
		assert.ErrorIs(t, err, tt.err, "set %q %q", tt.key, tt.value)
		assert.True(t, IsClientError(err))
	}
	assert.ErrorIs(t, s.Delete("has space"), ErrInvalidKey)

	assert.Zero(t, kv.Len())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "no log should be written for rejected input")
}

func TestConcurrentSetDistinctKeys(t *testing.T) {
	s, kv, path := newStore(t)

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Set(fmt.Sprintf("key%d", i), fmt.Sprint(i)))
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, kv.Len())

	replayed := kvstore.NewMemory()
	stats, err := aof.Load(path, replayed)
	require.NoError(t, err)
	assert.Equal(t, 100, stats.Applied)
	assert.Equal(t, kv.Snapshot(), replayed.Snapshot())
}

func TestConcurrentSetDeleteSameKey(t *testing.T) {
	for round := range 20 {
		s, kv, path := newStore(t)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Set("k", fmt.Sprint(round)))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Delete("k"))
		}()
		wg.Wait()

		replayed := kvstore.NewMemory()
		_, err := aof.Load(path, replayed)
		require.NoError(t, err)
		assert.Equal(t, kv.Snapshot(), replayed.Snapshot(), "log: %q", readLog(t, path))
	}
}

func TestRemoveReportsPresence(t *testing.T) {
	s, _, path := newStore(t)
	require.NoError(t, s.Set("a", "1"))

	existed, err := s.Remove("a")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.Remove("a")
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = s.Remove("has space")
	assert.ErrorIs(t, err, ErrInvalidKey)

	assert.Equal(t, "SET a 1\nDELETE a\nDELETE a\n", readLog(t, path))
}

func TestConcurrentRemoveCountsOnce(t *testing.T) {
	s, _, _ := newStore(t)
	require.NoError(t, s.Set("k", "v"))

	var wg sync.WaitGroup
	var removed atomic.Int32
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			existed, err := s.Remove("k")
			assert.NoError(t, err)
			if existed {
				removed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), removed.Load())
}
