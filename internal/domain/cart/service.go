package cart

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/example/ec-checkout/internal/apperr"
	"github.com/example/ec-checkout/internal/domain/coupon"
	"github.com/example/ec-checkout/internal/domain/product"
	"github.com/example/ec-checkout/internal/infrastructure/store"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

var (
	ErrInvalidQuantity = fmt.Errorf("%w: quantity must be a positive integer", apperr.ErrInvalidInput)
	ErrInvalidProduct  = fmt.Errorf("%w: productId is required", apperr.ErrInvalidInput)
	ErrInvalidCoupon   = fmt.Errorf("%w: coupon code is required", apperr.ErrInvalidInput)
	ErrItemNotFound    = fmt.Errorf("cart item %w", apperr.ErrNotFound)
	ErrCacheMiss       = errors.New("cache miss")
)

// CouponRejectedError is returned when a coupon cannot be applied to the cart.
type CouponRejectedError struct {
	Code   string
	Reason coupon.Reason
}

func (e *CouponRejectedError) Error() string {
	return fmt.Sprintf("coupon %q rejected: %s", e.Code, e.Reason)
}

// Cache is an optional read-through cache of carts keyed by user id.
// Get returns ErrCacheMiss when the cart is not cached.
type Cache interface {
	Get(ctx context.Context, userID string) (*Cart, error)
	Set(ctx context.Context, userID string, cart *Cart) error
	Delete(ctx context.Context, userID string) error
}

// CouponValidator evaluates coupon codes against cart contents and counts a
// use for each code applied.
type CouponValidator interface {
	Validate(ctx context.Context, req coupon.Request) (coupon.Result, error)
	Redeem(ctx context.Context, code string) (bool, error)
}

type Option func(*Service)

func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithCoupons(v CouponValidator) Option {
	return func(s *Service) { s.coupons = v }
}

func WithCurrency(currency string) Option {
	return func(s *Service) {
		if currency != "" {
			s.currency = strings.ToLower(currency)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is the cart engine. Every mutation is a read-modify-write of the
// whole cart record serialised per user.
type Service struct {
	carts    *store.Collection[*Cart]
	catalog  product.Catalog
	coupons  CouponValidator
	cache    Cache
	locks    *store.KeyedMutex
	sfg      singleflight.Group
	currency string
	now      func() time.Time
}

func NewService(s store.CollectionStore, catalog product.Catalog, opts ...Option) *Service {
	svc := &Service{
		catalog:  catalog,
		locks:    store.NewKeyedMutex(),
		currency: DefaultCurrency,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.carts = store.NewCollection(s, store.CollectionCarts, func() *Cart { return &Cart{} }).
		WithClock(svc.now)
	return svc
}

func normalizeUser(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return GuestUserID
	}
	return userID
}

// loadOrCreate must be called with the user's lock held.
func (s *Service) loadOrCreate(ctx context.Context, userID string) (*Cart, error) {
	c, found, err := s.carts.FindByID(ctx, GetCartID(userID))
	if err != nil {
		return nil, apperr.Persistence("load cart", err)
	}
	if found {
		if c.Items == nil {
			c.Items = []CartItem{}
		}
		return c, nil
	}

	c = newCart(userID, s.currency)
	if _, err := s.carts.Insert(ctx, c); err != nil {
		return nil, apperr.Persistence("create cart", err)
	}
	log.Printf("[Cart] Created cart %s for user %s", c.ID, userID)
	return c, nil
}

// GetOrCreateCart returns the user's cart, creating and persisting an empty
// one on first access.
func (s *Service) GetOrCreateCart(ctx context.Context, userID string) (*Cart, error) {
	userID = normalizeUser(userID)

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			log.Printf("[Cart] Cache get failed for %s: %v", userID, err)
		}
	}

	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		unlock := s.locks.Lock(userID)
		defer unlock()

		c, err := s.loadOrCreate(ctx, userID)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.Set(ctx, userID, c); err != nil {
				log.Printf("[Cart] Cache set failed for %s: %v", userID, err)
			}
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Cart), nil
}

// mutate loads the cart under the user's lock, applies fn, recomputes the
// derived fields and persists the result. Nothing is written when fn fails.
func (s *Service) mutate(ctx context.Context, userID string, fn func(c *Cart) error) (*Cart, error) {
	userID = normalizeUser(userID)
	unlock := s.locks.Lock(userID)
	defer unlock()

	c, err := s.loadOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := fn(c); err != nil {
		return nil, err
	}

	c.Recalculate()
	if err := s.refreshCoupon(ctx, c); err != nil {
		return nil, err
	}

	ok, err := s.carts.Replace(ctx, c)
	if err != nil {
		return nil, apperr.Persistence("save cart", err)
	}
	if !ok {
		return nil, apperr.Persistence("save cart", fmt.Errorf("cart %s disappeared", c.ID))
	}
	s.invalidate(userID)
	return c, nil
}

// refreshCoupon re-evaluates the applied coupon against the current contents
// and drops it when it no longer qualifies.
func (s *Service) refreshCoupon(ctx context.Context, c *Cart) error {
	if c.Coupon == nil {
		return nil
	}
	if s.coupons == nil {
		c.dropCoupon()
		c.Recalculate()
		return nil
	}

	res, err := s.coupons.Validate(ctx, coupon.Request{
		Code:     c.Coupon.Code,
		Items:    c.couponItems(),
		Subtotal: c.Subtotal,
		Reapply:  true,
	})
	if err != nil {
		return err
	}
	if !res.Valid {
		log.Printf("[Cart] Dropping coupon %s from cart %s: %s", c.Coupon.Code, c.ID, res.Reason)
		c.dropCoupon()
	} else {
		c.Discount = res.Discount
		c.Coupon.FreeShipping = res.FreeShipping
	}
	c.Recalculate()
	return nil
}

func (s *Service) invalidate(userID string) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		log.Printf("[Cart] Cache invalidate failed for %s: %v", userID, err)
	}
}

// AddItem adds quantity units of a product. An existing line for the same
// product keeps its captured price and only grows in quantity.
func (s *Service) AddItem(ctx context.Context, userID, productID string, quantity int) (*Cart, error) {
	if strings.TrimSpace(productID) == "" {
		return nil, ErrInvalidProduct
	}
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	p, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, userID, func(c *Cart) error {
		if i := c.findProduct(p.ID); i >= 0 {
			c.Items[i].Quantity += quantity
			return nil
		}
		c.Items = append(c.Items, CartItem{
			ID:        uuid.New().String(),
			ProductID: p.ID,
			Product: ProductSnapshot{
				ID:       p.ID,
				Title:    p.Title,
				Category: p.Category,
				Image:    p.Image,
				Price:    p.Price,
			},
			Quantity:  quantity,
			Price:     p.Price,
			DateAdded: s.now(),
		})
		return nil
	})
}

// UpdateItemQuantity sets the quantity of a line. A quantity of zero or less
// removes the line, and removing a missing line is a no-op.
func (s *Service) UpdateItemQuantity(ctx context.Context, userID, itemID string, quantity int) (*Cart, error) {
	return s.mutate(ctx, userID, func(c *Cart) error {
		i := c.findItem(itemID)
		if quantity <= 0 {
			if i >= 0 {
				c.Items = append(c.Items[:i], c.Items[i+1:]...)
			}
			return nil
		}
		if i < 0 {
			return ErrItemNotFound
		}
		c.Items[i].Quantity = quantity
		return nil
	})
}

func (s *Service) RemoveItem(ctx context.Context, userID, itemID string) (*Cart, error) {
	return s.UpdateItemQuantity(ctx, userID, itemID, 0)
}

// Clear empties the cart and drops any coupon. Id, owner and currency stay.
func (s *Service) Clear(ctx context.Context, userID string) (*Cart, error) {
	return s.mutate(ctx, userID, func(c *Cart) error {
		c.Items = []CartItem{}
		c.dropCoupon()
		return nil
	})
}

// ApplyCoupon validates code against the cart and applies its discount.
// A coupon that does not qualify yields a *CouponRejectedError.
func (s *Service) ApplyCoupon(ctx context.Context, userID, code string) (*Cart, error) {
	if coupon.NormalizeCode(code) == "" {
		return nil, ErrInvalidCoupon
	}

	return s.mutate(ctx, userID, func(c *Cart) error {
		if s.coupons == nil {
			return &CouponRejectedError{Code: code, Reason: coupon.ReasonNotFound}
		}
		c.Recalculate()

		applied := ""
		if c.Coupon != nil {
			applied = c.Coupon.Code
		}
		res, err := s.coupons.Validate(ctx, coupon.Request{
			Code:        code,
			Items:       c.couponItems(),
			Subtotal:    c.Subtotal,
			AppliedCode: applied,
		})
		if err != nil {
			return err
		}
		if !res.Valid {
			return &CouponRejectedError{Code: code, Reason: res.Reason}
		}
		redeemed, err := s.coupons.Redeem(ctx, res.Code)
		if err != nil {
			return err
		}
		if !redeemed {
			return &CouponRejectedError{Code: code, Reason: coupon.ReasonUsageLimitExceeded}
		}

		c.Coupon = &AppliedCoupon{Code: res.Code, FreeShipping: res.FreeShipping}
		c.Discount = res.Discount
		return nil
	})
}

// RemoveCoupon resets the discount and restores normal shipping.
func (s *Service) RemoveCoupon(ctx context.Context, userID string) (*Cart, error) {
	return s.mutate(ctx, userID, func(c *Cart) error {
		c.dropCoupon()
		return nil
	})
}
