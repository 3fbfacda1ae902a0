package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entity is implemented by every record kept in a Collection.
type Entity interface {
	GetID() string
	SetID(id string)
	// Touch stamps creation (when unset) and modification times.
	Touch(now time.Time)
}

// Collection is a typed view over one named collection of a CollectionStore.
type Collection[T Entity] struct {
	store CollectionStore
	name  string
	newT  func() T
	now   func() time.Time
}

// NewCollection binds a typed collection to a store. newT must return a fresh
// zero record ready to be unmarshalled into.
func NewCollection[T Entity](s CollectionStore, name string, newT func() T) *Collection[T] {
	return &Collection[T]{
		store: s,
		name:  name,
		newT:  newT,
		now:   time.Now,
	}
}

// WithClock overrides the timestamp source (tests).
func (c *Collection[T]) WithClock(now func() time.Time) *Collection[T] {
	c.now = now
	return c
}

func (c *Collection[T]) Name() string { return c.name }

func (c *Collection[T]) decode(raw json.RawMessage) (T, error) {
	rec := c.newT()
	if err := json.Unmarshal(raw, rec); err != nil {
		var zero T
		return zero, fmt.Errorf("failed to decode %s record: %w", c.name, err)
	}
	return rec, nil
}

// All returns every record of the collection.
func (c *Collection[T]) All(ctx context.Context) ([]T, error) {
	raws, err := c.store.All(ctx, c.name)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		rec, err := c.decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// FindByID returns the record with id; found is false when it does not exist.
func (c *Collection[T]) FindByID(ctx context.Context, id string) (T, bool, error) {
	var zero T
	raw, found, err := c.store.FindByID(ctx, c.name, id)
	if err != nil || !found {
		return zero, false, err
	}
	rec, err := c.decode(raw)
	if err != nil {
		return zero, false, err
	}
	return rec, true, nil
}

// Insert assigns an id when the record has none, stamps timestamps and stores it.
func (c *Collection[T]) Insert(ctx context.Context, rec T) (T, error) {
	if rec.GetID() == "" {
		rec.SetID(uuid.New().String())
	}
	rec.Touch(c.now())
	raw, err := json.Marshal(rec)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("failed to encode %s record: %w", c.name, err)
	}
	if err := c.store.Insert(ctx, c.name, rec.GetID(), raw); err != nil {
		var zero T
		return zero, err
	}
	return rec, nil
}

// Replace writes the full record over the stored one. It reports false when
// no record with that id exists.
func (c *Collection[T]) Replace(ctx context.Context, rec T) (bool, error) {
	if rec.GetID() == "" {
		return false, ErrMissingID
	}
	rec.Touch(c.now())
	raw, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("failed to encode %s record: %w", c.name, err)
	}
	return c.store.Update(ctx, c.name, rec.GetID(), raw)
}

// Update loads the record, applies patch and writes it back.
func (c *Collection[T]) Update(ctx context.Context, id string, patch func(T) error) (T, bool, error) {
	var zero T
	rec, found, err := c.FindByID(ctx, id)
	if err != nil || !found {
		return zero, found, err
	}
	if err := patch(rec); err != nil {
		return zero, true, err
	}
	ok, err := c.Replace(ctx, rec)
	if err != nil || !ok {
		return zero, ok, err
	}
	return rec, true, nil
}

// Remove deletes the record with id and reports whether it existed.
func (c *Collection[T]) Remove(ctx context.Context, id string) (bool, error) {
	return c.store.Remove(ctx, c.name, id)
}

// SaveAll replaces the whole collection with rows.
func (c *Collection[T]) SaveAll(ctx context.Context, rows []T) error {
	docs := make([]Document, 0, len(rows))
	for _, rec := range rows {
		if rec.GetID() == "" {
			rec.SetID(uuid.New().String())
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode %s record: %w", c.name, err)
		}
		docs = append(docs, Document{ID: rec.GetID(), Data: raw})
	}
	return c.store.SaveAll(ctx, c.name, docs)
}
