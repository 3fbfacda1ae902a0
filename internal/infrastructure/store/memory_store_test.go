package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) CollectionStore {
		return NewMemoryStore()
	})
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, "things", "a", doc(t, "a", "alpha")))

	raw, _, err := s.FindByID(ctx, "things", "a")
	require.NoError(t, err)
	raw[2] = 'X' // scribble over the returned bytes

	again, _, err := s.FindByID(ctx, "things", "a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"a","name":"alpha"}`, string(again))
}
