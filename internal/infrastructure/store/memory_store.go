package store

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
)

type memCollection struct {
	ids  []string
	docs map[string]json.RawMessage
}

// MemoryStore is an in-memory CollectionStore. It is the default backend for
// development and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*memCollection // collection -> records
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]*memCollection),
	}
}

func (ms *MemoryStore) collection(name string) *memCollection {
	c, ok := ms.data[name]
	if !ok {
		c = &memCollection{docs: make(map[string]json.RawMessage)}
		ms.data[name] = c
	}
	return c
}

// All returns a copy of every document in insertion order
func (ms *MemoryStore) All(_ context.Context, collection string) ([]json.RawMessage, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	c, ok := ms.data[collection]
	if !ok {
		return nil, nil
	}
	out := make([]json.RawMessage, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, slices.Clone(c.docs[id]))
	}
	return out, nil
}

func (ms *MemoryStore) FindByID(_ context.Context, collection, id string) (json.RawMessage, bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	c, ok := ms.data[collection]
	if !ok {
		return nil, false, nil
	}
	doc, ok := c.docs[id]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(doc), true, nil
}

func (ms *MemoryStore) Insert(_ context.Context, collection, id string, doc json.RawMessage) error {
	if id == "" {
		return ErrMissingID
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	c := ms.collection(collection)
	if _, exists := c.docs[id]; exists {
		return ErrDuplicateID
	}
	c.ids = append(c.ids, id)
	c.docs[id] = slices.Clone(doc)
	return nil
}

func (ms *MemoryStore) Update(_ context.Context, collection, id string, doc json.RawMessage) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	c, ok := ms.data[collection]
	if !ok {
		return false, nil
	}
	if _, exists := c.docs[id]; !exists {
		return false, nil
	}
	c.docs[id] = slices.Clone(doc)
	return true, nil
}

func (ms *MemoryStore) Remove(_ context.Context, collection, id string) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	c, ok := ms.data[collection]
	if !ok {
		return false, nil
	}
	if _, exists := c.docs[id]; !exists {
		return false, nil
	}
	delete(c.docs, id)
	c.ids = slices.DeleteFunc(c.ids, func(v string) bool { return v == id })
	return true, nil
}

func (ms *MemoryStore) SaveAll(_ context.Context, collection string, docs []Document) error {
	fresh := &memCollection{docs: make(map[string]json.RawMessage, len(docs))}
	for _, d := range docs {
		if d.ID == "" {
			return ErrMissingID
		}
		if _, exists := fresh.docs[d.ID]; !exists {
			fresh.ids = append(fresh.ids, d.ID)
		}
		fresh.docs[d.ID] = slices.Clone(d.Data)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.data[collection] = fresh
	return nil
}
