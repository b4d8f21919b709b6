package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := s.Put(ctx, 42, "maquette.pdf", []byte("%PDF-1.7"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "local://orders/42/"))
	assert.True(t, strings.HasSuffix(ref, "-maquette.pdf"))

	data, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))

	again, err := s.Put(ctx, 42, "maquette.pdf", []byte("v2"))
	require.NoError(t, err)
	assert.NotEqual(t, ref, again)
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ref, err := s.Put(context.Background(), 1, "../../etc/passwd", []byte("x"))
	require.NoError(t, err)
	assert.NotContains(t, ref, "..")

	_, err = s.Get(context.Background(), "local://../secret")
	assert.ErrorIs(t, err, ErrInvalidRef)
	_, err = s.Get(context.Background(), "s3://bucket/key")
	assert.ErrorIs(t, err, ErrInvalidRef)
}

func TestLocalStoreDelete(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	ref, err := s.Put(ctx, 7, "bat.pdf", []byte("x"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, ref))
	_, err = s.Get(ctx, ref)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Delete(ctx, ref))
	assert.ErrorIs(t, s.Delete(ctx, "local://../x"), ErrInvalidRef)
}
