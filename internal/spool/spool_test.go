package spool

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "spool", "dead-letter.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutDeduplicates(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put("traces", []byte("batch-1")))
	require.NoError(t, s.Put("traces", []byte("batch-1")))
	require.NoError(t, s.Put("traces", []byte("batch-2")))
	require.NoError(t, s.Put("logs", []byte("batch-1")))

	n, err := s.Len("traces")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Len("logs")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Error(t, s.Put("profiles", []byte("x")))
	_, err = s.Len("profiles")
	assert.Error(t, err)
}

func TestReplayDeletesAccepted(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put("metrics", []byte("a")))
	require.NoError(t, s.Put("metrics", []byte("b")))

	var seen []string
	n, err := s.Replay(context.Background(), "metrics", func(_ context.Context, payload []byte) error {
		seen = append(seen, string(payload))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"a", "b"}, seen)

	left, err := s.Len("metrics")
	require.NoError(t, err)
	assert.Equal(t, 0, left)
}

func TestReplayStopsOnError(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put("logs", []byte("a")))
	require.NoError(t, s.Put("logs", []byte("b")))

	boom := errors.New("collector unavailable")
	calls := 0
	n, err := s.Replay(context.Background(), "logs", func(context.Context, []byte) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, calls)

	left, err := s.Len("logs")
	require.NoError(t, err)
	assert.Equal(t, 2, left, "failed payloads stay spooled")
}

func TestReopenKeepsPayloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dead-letter.db")

	s, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put("traces", []byte("persisted")))
	require.NoError(t, s.Close())

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, path, s.Path())

	n, err := s.Len("traces")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
