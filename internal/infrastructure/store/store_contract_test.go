package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(t *testing.T, id, name string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]string{"id": id, "name": name})
	require.NoError(t, err)
	return raw
}

func names(t *testing.T, raws []json.RawMessage) []string {
	t.Helper()
	out := make([]string, 0, len(raws))
	for _, raw := range raws {
		var v struct {
			Name string `json:"name"`
		}
		require.NoError(t, json.Unmarshal(raw, &v))
		out = append(out, v.Name)
	}
	return out
}

// runStoreContract exercises the behaviour every CollectionStore backend shares.
func runStoreContract(t *testing.T, newStore func(t *testing.T) CollectionStore) {
	ctx := context.Background()

	t.Run("insert and find", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, "things", "a", doc(t, "a", "alpha")))

		raw, found, err := s.FindByID(ctx, "things", "a")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, []string{"alpha"}, names(t, []json.RawMessage{raw}))
	})

	t.Run("find missing", func(t *testing.T) {
		s := newStore(t)
		raw, found, err := s.FindByID(ctx, "things", "nope")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, raw)
	})

	t.Run("duplicate insert", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, "things", "a", doc(t, "a", "alpha")))
		err := s.Insert(ctx, "things", "a", doc(t, "a", "again"))
		assert.ErrorIs(t, err, ErrDuplicateID)
	})

	t.Run("same id in different collections", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, "things", "a", doc(t, "a", "alpha")))
		require.NoError(t, s.Insert(ctx, "others", "a", doc(t, "a", "other")))

		raws, err := s.All(ctx, "others")
		require.NoError(t, err)
		assert.Equal(t, []string{"other"}, names(t, raws))
	})

	t.Run("all keeps insertion order", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, "things", "c", doc(t, "c", "first")))
		require.NoError(t, s.Insert(ctx, "things", "a", doc(t, "a", "second")))
		require.NoError(t, s.Insert(ctx, "things", "b", doc(t, "b", "third")))

		raws, err := s.All(ctx, "things")
		require.NoError(t, err)
		assert.Equal(t, []string{"first", "second", "third"}, names(t, raws))
	})

	t.Run("all on empty collection", func(t *testing.T) {
		s := newStore(t)
		raws, err := s.All(ctx, "empty")
		require.NoError(t, err)
		assert.Empty(t, raws)
	})

	t.Run("update existing and missing", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, "things", "a", doc(t, "a", "alpha")))

		ok, err := s.Update(ctx, "things", "a", doc(t, "a", "beta"))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Update(ctx, "things", "zzz", doc(t, "zzz", "ghost"))
		require.NoError(t, err)
		assert.False(t, ok)

		raws, err := s.All(ctx, "things")
		require.NoError(t, err)
		assert.Equal(t, []string{"beta"}, names(t, raws))
	})

	t.Run("remove", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, "things", "a", doc(t, "a", "alpha")))
		require.NoError(t, s.Insert(ctx, "things", "b", doc(t, "b", "beta")))

		ok, err := s.Remove(ctx, "things", "a")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Remove(ctx, "things", "a")
		require.NoError(t, err)
		assert.False(t, ok)

		raws, err := s.All(ctx, "things")
		require.NoError(t, err)
		assert.Equal(t, []string{"beta"}, names(t, raws))
	})

	t.Run("save all replaces collection", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, "things", "a", doc(t, "a", "alpha")))

		err := s.SaveAll(ctx, "things", []Document{
			{ID: "x", Data: doc(t, "x", "xray")},
			{ID: "y", Data: doc(t, "y", "yankee")},
		})
		require.NoError(t, err)

		raws, err := s.All(ctx, "things")
		require.NoError(t, err)
		assert.Equal(t, []string{"xray", "yankee"}, names(t, raws))

		_, found, err := s.FindByID(ctx, "things", "a")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("missing id rejected", func(t *testing.T) {
		s := newStore(t)
		assert.ErrorIs(t, s.Insert(ctx, "things", "", doc(t, "", "anon")), ErrMissingID)
		assert.ErrorIs(t, s.SaveAll(ctx, "things", []Document{{ID: "", Data: doc(t, "", "anon")}}), ErrMissingID)
	})
}
