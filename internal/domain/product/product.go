package product

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/example/ec-checkout/internal/apperr"
	"github.com/example/ec-checkout/internal/infrastructure/store"
	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound = fmt.Errorf("product %w", apperr.ErrNotFound)
	ErrInvalidPrice    = fmt.Errorf("%w: price must be positive", apperr.ErrInvalidInput)
	ErrInvalidTitle    = fmt.Errorf("%w: title is required", apperr.ErrInvalidInput)
)

type Product struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Description  string          `json:"description,omitempty"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency,omitempty"`
	Category     string          `json:"category,omitempty"`
	Image        string          `json:"image,omitempty"`
	DateCreated  time.Time       `json:"dateCreated"`
	DateModified time.Time       `json:"dateModified"`
}

func (p *Product) GetID() string   { return p.ID }
func (p *Product) SetID(id string) { p.ID = id }

func (p *Product) Touch(now time.Time) {
	if p.DateCreated.IsZero() {
		p.DateCreated = now
	}
	p.DateModified = now
}

// Catalog resolves products by id. Cart and checkout only depend on this.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (*Product, error)
}

type Service struct {
	products *store.Collection[*Product]
}

func NewService(s store.CollectionStore) *Service {
	return &Service{
		products: store.NewCollection(s, store.CollectionProducts, func() *Product { return &Product{} }),
	}
}

// GetProduct returns ErrProductNotFound when no product has the id.
func (s *Service) GetProduct(ctx context.Context, id string) (*Product, error) {
	p, found, err := s.products.FindByID(ctx, id)
	if err != nil {
		return nil, apperr.Persistence("load product", err)
	}
	if !found {
		return nil, ErrProductNotFound
	}
	return p, nil
}

func (s *Service) List(ctx context.Context) ([]*Product, error) {
	products, err := s.products.All(ctx)
	if err != nil {
		return nil, apperr.Persistence("list products", err)
	}
	return products, nil
}

func (s *Service) Create(ctx context.Context, p *Product) (*Product, error) {
	if strings.TrimSpace(p.Title) == "" {
		return nil, ErrInvalidTitle
	}
	if !p.Price.IsPositive() {
		return nil, ErrInvalidPrice
	}
	saved, err := s.products.Insert(ctx, p)
	if err != nil {
		return nil, apperr.Persistence("insert product", err)
	}
	return saved, nil
}

// SeedFromFile loads a JSON array of products and inserts the ones whose id is
// not stored yet. It returns the number of products inserted.
func (s *Service) SeedFromFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read product seed: %w", err)
	}
	var products []*Product
	if err := json.Unmarshal(data, &products); err != nil {
		return 0, fmt.Errorf("failed to parse product seed: %w", err)
	}

	inserted := 0
	for _, p := range products {
		if p.ID != "" {
			if _, err := s.GetProduct(ctx, p.ID); err == nil {
				continue
			} else if !errors.Is(err, ErrProductNotFound) {
				return inserted, err
			}
		}
		if _, err := s.Create(ctx, p); err != nil {
			log.Printf("[Product] Skipping seed product %q: %v", p.Title, err)
			continue
		}
		inserted++
	}
	return inserted, nil
}
