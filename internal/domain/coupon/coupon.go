package coupon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/example/ec-checkout/internal/apperr"
	"github.com/example/ec-checkout/internal/infrastructure/store"
	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindFlat    Kind = "flat"
	KindPercent Kind = "percent"
)

var (
	ErrInvalidCode   = fmt.Errorf("%w: coupon code is required", apperr.ErrInvalidInput)
	ErrInvalidKind   = fmt.Errorf("%w: coupon kind must be flat or percent", apperr.ErrInvalidInput)
	ErrInvalidAmount = fmt.Errorf("%w: coupon amount must be positive", apperr.ErrInvalidInput)
)

// Coupon is a discount definition. Records are keyed by their normalized code.
type Coupon struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Kind Kind   `json:"kind"`
	// Amount is a flat amount or percentage points depending on Kind.
	Amount decimal.Decimal `json:"amount"`
	// MaxDiscount caps percentage coupons; zero means uncapped.
	MaxDiscount  decimal.Decimal `json:"maxDiscount"`
	MinSubtotal  decimal.Decimal `json:"minSubtotal"`
	FreeShipping bool            `json:"freeShipping,omitempty"`
	Active       bool            `json:"active"`
	ExpiresAt    *time.Time      `json:"expiresAt,omitempty"`
	// MaxUses of zero means unlimited.
	MaxUses      int       `json:"maxUses,omitempty"`
	TimesUsed    int       `json:"timesUsed,omitempty"`
	ProductIDs   []string  `json:"productIds,omitempty"`
	Categories   []string  `json:"categories,omitempty"`
	DateCreated  time.Time `json:"dateCreated"`
	DateModified time.Time `json:"dateModified"`
}

func (c *Coupon) GetID() string   { return c.ID }
func (c *Coupon) SetID(id string) { c.ID = id }

func (c *Coupon) Touch(now time.Time) {
	if c.DateCreated.IsZero() {
		c.DateCreated = now
	}
	c.DateModified = now
}

// restricted reports whether the coupon only applies to some items.
func (c *Coupon) restricted() bool {
	return len(c.ProductIDs) > 0 || len(c.Categories) > 0
}

func (c *Coupon) appliesTo(productID, category string) bool {
	if !c.restricted() {
		return true
	}
	for _, id := range c.ProductIDs {
		if id == productID {
			return true
		}
	}
	for _, cat := range c.Categories {
		if strings.EqualFold(cat, category) {
			return true
		}
	}
	return false
}

// NormalizeCode trims and lower-cases a code so lookups are case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// Catalog looks up coupon definitions by code and counts their uses.
type Catalog interface {
	Lookup(ctx context.Context, code string) (*Coupon, bool, error)
	Redeem(ctx context.Context, code string) (bool, error)
}

var errLimitReached = errors.New("usage limit reached")

type Service struct {
	coupons *store.Collection[*Coupon]
	locks   *store.KeyedMutex
}

func NewService(s store.CollectionStore) *Service {
	return &Service{
		coupons: store.NewCollection(s, store.CollectionCoupons, func() *Coupon { return &Coupon{} }),
		locks:   store.NewKeyedMutex(),
	}
}

func (s *Service) Lookup(ctx context.Context, code string) (*Coupon, bool, error) {
	c, found, err := s.coupons.FindByID(ctx, NormalizeCode(code))
	if err != nil {
		return nil, false, apperr.Persistence("load coupon", err)
	}
	return c, found, nil
}

// Redeem counts one use of code. It reports false, counting nothing, when the
// coupon's usage limit is already reached.
func (s *Service) Redeem(ctx context.Context, code string) (bool, error) {
	code = NormalizeCode(code)
	unlock := s.locks.Lock(code)
	defer unlock()

	_, found, err := s.coupons.Update(ctx, code, func(c *Coupon) error {
		if c.MaxUses > 0 && c.TimesUsed >= c.MaxUses {
			return errLimitReached
		}
		c.TimesUsed++
		return nil
	})
	if errors.Is(err, errLimitReached) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Persistence("redeem coupon", err)
	}
	if !found {
		return false, fmt.Errorf("coupon %s %w", code, apperr.ErrNotFound)
	}
	return true, nil
}

func (s *Service) Create(ctx context.Context, c *Coupon) (*Coupon, error) {
	code := NormalizeCode(c.Code)
	if code == "" {
		return nil, ErrInvalidCode
	}
	if c.Kind != KindFlat && c.Kind != KindPercent {
		return nil, ErrInvalidKind
	}
	if !c.Amount.IsPositive() && !c.FreeShipping {
		return nil, ErrInvalidAmount
	}
	c.ID = code
	saved, err := s.coupons.Insert(ctx, c)
	if errors.Is(err, store.ErrDuplicateID) {
		return nil, fmt.Errorf("%w: coupon %s already exists", apperr.ErrConflict, code)
	}
	if err != nil {
		return nil, apperr.Persistence("insert coupon", err)
	}
	return saved, nil
}

// SeedFromFile inserts the coupons of a JSON array file that are not stored yet.
func (s *Service) SeedFromFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read coupon seed: %w", err)
	}
	var coupons []*Coupon
	if err := json.Unmarshal(data, &coupons); err != nil {
		return 0, fmt.Errorf("failed to parse coupon seed: %w", err)
	}

	inserted := 0
	for _, c := range coupons {
		_, found, err := s.Lookup(ctx, c.Code)
		if err != nil {
			return inserted, err
		}
		if found {
			continue
		}
		if _, err := s.Create(ctx, c); err != nil {
			return inserted, fmt.Errorf("coupon %q: %w", c.Code, err)
		}
		inserted++
	}
	return inserted, nil
}
