package store

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrDuplicateID = errors.New("record with this id already exists")
	ErrMissingID   = errors.New("record id is required")
)

// Document is a raw record together with its id.
type Document struct {
	ID   string
	Data json.RawMessage
}

// CollectionStore is the persistence port shared by every component.
// Records are opaque JSON documents keyed by id and grouped into named
// collections. All returns records in insertion order where the backend can
// provide it.
type CollectionStore interface {
	All(ctx context.Context, collection string) ([]json.RawMessage, error)
	FindByID(ctx context.Context, collection, id string) (json.RawMessage, bool, error)
	Insert(ctx context.Context, collection, id string, doc json.RawMessage) error
	Update(ctx context.Context, collection, id string, doc json.RawMessage) (bool, error)
	Remove(ctx context.Context, collection, id string) (bool, error)
	// SaveAll replaces the whole collection with docs.
	SaveAll(ctx context.Context, collection string, docs []Document) error
}

// Collection names used across the service.
const (
	CollectionProducts    = "products"
	CollectionCoupons     = "coupons"
	CollectionCarts       = "carts"
	CollectionOrders      = "orders"
	CollectionStripeEvent = "stripe_events"
)
