package coldstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cut-dicl/smacc-sub001/internal/config"
	"github.com/cut-dicl/smacc-sub001/pkg/errors"
)

func write(t *testing.T, s Store, bucket, key, payload string) {
	t.Helper()
	w, err := s.Create(context.Background(), bucket, key, int64(len(payload)))
	require.NoError(t, err)
	_, err = w.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, w.Complete())
	require.NoError(t, w.Close())
}

func readString(t *testing.T, s Store, bucket, key string, start, stop int64) string {
	t.Helper()
	rc, err := s.Read(context.Background(), bucket, key, start, stop)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestMemStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	write(t, s, "b", "k", "hello world")
	assert.Equal(t, "hello world", readString(t, s, "b", "k", 0, -1))
	assert.Equal(t, "world", readString(t, s, "b", "k", 6, 10))
	assert.Equal(t, "world", readString(t, s, "b", "k", 6, -1))

	info, err := s.Stat(ctx, "b", "k")
	require.NoError(t, err)
	assert.Equal(t, int64(11), info.Size)
	assert.Equal(t, "b", info.Bucket)

	reads, writes := s.Counts()
	assert.Equal(t, 3, reads)
	assert.Equal(t, 1, writes)

	require.NoError(t, s.Delete(ctx, "b", "k"))
	require.NoError(t, s.Delete(ctx, "b", "k"))
	_, err = s.Stat(ctx, "b", "k")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestMemStoreAbortedWriterLeavesPreviousObject(t *testing.T) {
	s := NewMemStore()
	s.Put("b", "k", []byte("old"))

	w, err := s.Create(context.Background(), "b", "k", -1)
	require.NoError(t, err)
	_, err = w.Write([]byte("new data"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, ok := s.Get("b", "k")
	require.True(t, ok)
	assert.Equal(t, "old", string(data))
}

func TestMemStoreRejectsShortAndLongWrites(t *testing.T) {
	s := NewMemStore()

	w, err := s.Create(context.Background(), "b", "short", 10)
	require.NoError(t, err)
	_, err = w.Write([]byte("abc"))
	require.NoError(t, err)
	assert.ErrorIs(t, w.Complete(), errors.ErrWriteAborted)
	_, ok := s.Get("b", "short")
	assert.False(t, ok)

	w, err = s.Create(context.Background(), "b", "long", 2)
	require.NoError(t, err)
	_, err = w.Write([]byte("abc"))
	assert.Error(t, err)
}

func TestMemStoreRanges(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	s.Put("b", "k", []byte("0123456789"))
	s.Put("b", "empty", nil)

	tests := []struct {
		name        string
		key         string
		start, stop int64
		want        string
		err         error
	}{
		{"whole", "k", 0, -1, "0123456789", nil},
		{"middle", "k", 2, 4, "234", nil},
		{"last byte", "k", 9, 9, "9", nil},
		{"past end", "k", 5, 10, "", errors.ErrRangeNotSatisfiable},
		{"start past end", "k", 10, -1, "", errors.ErrRangeNotSatisfiable},
		{"inverted", "k", 4, 2, "", errors.ErrRangeNotSatisfiable},
		{"empty object", "empty", 0, -1, "", nil},
		{"missing", "nope", 0, -1, "", errors.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, err := s.Read(ctx, "b", tt.key, tt.start, tt.stop)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			defer rc.Close()
			data, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
}

func TestMemStoreList(t *testing.T) {
	s := NewMemStore()
	s.Put("b", "dir/b", []byte("2"))
	s.Put("b", "dir/a", []byte("1"))
	s.Put("b", "other", []byte("3"))
	s.Put("c", "dir/z", []byte("4"))

	listed, err := s.List(context.Background(), "b", "dir/")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "dir/a", listed[0].Key)
	assert.Equal(t, "dir/b", listed[1].Key)
}

func TestMemStoreHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemStore().Create(ctx, "b", "k", 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenSelectsBackend(t *testing.T) {
	s, err := Open(context.Background(), config.ColdStorageConfig{Backend: "memory"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemStore{}, s)

	_, err = Open(context.Background(), config.ColdStorageConfig{Backend: "tape"}, nil)
	assert.Error(t, err)
}
