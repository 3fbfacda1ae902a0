package mocks

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/example/ec-checkout/internal/infrastructure/store"
)

// Store operation names used by Calls and FailOn.
const (
	OpAll      = "all"
	OpFindByID = "findById"
	OpInsert   = "insert"
	OpUpdate   = "update"
	OpRemove   = "remove"
	OpSaveAll  = "saveAll"
)

// MockCollectionStore is an in-memory CollectionStore that records calls and
// can be told to fail specific operations.
type MockCollectionStore struct {
	inner *store.MemoryStore

	mu       sync.Mutex
	Calls    []Call
	failures map[string]error
}

// Call records one store operation
type Call struct {
	Op         string
	Collection string
	ID         string
}

// NewMockCollectionStore creates a new MockCollectionStore
func NewMockCollectionStore() *MockCollectionStore {
	return &MockCollectionStore{
		inner:    store.NewMemoryStore(),
		Calls:    make([]Call, 0),
		failures: make(map[string]error),
	}
}

// FailOn makes op fail with err for collection. An empty collection matches
// every collection. A nil err clears the failure.
func (m *MockCollectionStore) FailOn(op, collection string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := op + "/" + collection
	if err == nil {
		delete(m.failures, key)
		return
	}
	m.failures[key] = err
}

// CallsFor returns the recorded calls of op against collection
func (m *MockCollectionStore) CallsFor(op, collection string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.Calls {
		if c.Op == op && c.Collection == collection {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears recorded calls and injected failures but keeps the data
func (m *MockCollectionStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = make([]Call, 0)
	m.failures = make(map[string]error)
}

func (m *MockCollectionStore) record(op, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, Call{Op: op, Collection: collection, ID: id})
	if err, ok := m.failures[op+"/"+collection]; ok {
		return err
	}
	if err, ok := m.failures[op+"/"]; ok {
		return err
	}
	return nil
}

func (m *MockCollectionStore) All(ctx context.Context, collection string) ([]json.RawMessage, error) {
	if err := m.record(OpAll, collection, ""); err != nil {
		return nil, err
	}
	return m.inner.All(ctx, collection)
}

func (m *MockCollectionStore) FindByID(ctx context.Context, collection, id string) (json.RawMessage, bool, error) {
	if err := m.record(OpFindByID, collection, id); err != nil {
		return nil, false, err
	}
	return m.inner.FindByID(ctx, collection, id)
}

func (m *MockCollectionStore) Insert(ctx context.Context, collection, id string, doc json.RawMessage) error {
	if err := m.record(OpInsert, collection, id); err != nil {
		return err
	}
	return m.inner.Insert(ctx, collection, id, doc)
}

func (m *MockCollectionStore) Update(ctx context.Context, collection, id string, doc json.RawMessage) (bool, error) {
	if err := m.record(OpUpdate, collection, id); err != nil {
		return false, err
	}
	return m.inner.Update(ctx, collection, id, doc)
}

func (m *MockCollectionStore) Remove(ctx context.Context, collection, id string) (bool, error) {
	if err := m.record(OpRemove, collection, id); err != nil {
		return false, err
	}
	return m.inner.Remove(ctx, collection, id)
}

func (m *MockCollectionStore) SaveAll(ctx context.Context, collection string, docs []store.Document) error {
	if err := m.record(OpSaveAll, collection, ""); err != nil {
		return err
	}
	return m.inner.SaveAll(ctx, collection, docs)
}

// Seed stores v under id without recording a call
func (m *MockCollectionStore) Seed(collection, id string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.inner.Insert(context.Background(), collection, id, raw)
}
