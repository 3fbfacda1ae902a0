package cart

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/ec-checkout/internal/apperr"
	"github.com/example/ec-checkout/internal/domain/coupon"
	"github.com/example/ec-checkout/internal/domain/product"
	"github.com/example/ec-checkout/internal/infrastructure/store"
	"github.com/example/ec-checkout/internal/infrastructure/store/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCache struct {
	mu      sync.Mutex
	carts   map[string]*Cart
	deletes int
}

func newMemCache() *memCache {
	return &memCache{carts: make(map[string]*Cart)}
}

func (m *memCache) Get(_ context.Context, userID string) (*Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[userID]
	if !ok {
		return nil, ErrCacheMiss
	}
	return c, nil
}

func (m *memCache) Set(_ context.Context, userID string, c *Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[userID] = c
	return nil
}

func (m *memCache) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	delete(m.carts, userID)
	return nil
}

type testEnv struct {
	service *Service
	store   *mocks.MockCollectionStore
	coupons *coupon.Service
}

func newTestCartService(t *testing.T, opts ...Option) testEnv {
	t.Helper()
	s := mocks.NewMockCollectionStore()
	require.NoError(t, s.Seed(store.CollectionProducts, "p1", product.Product{
		ID: "p1", Title: "Mug", Category: "kitchen", Price: dec("25.00"),
	}))
	require.NoError(t, s.Seed(store.CollectionProducts, "p2", product.Product{
		ID: "p2", Title: "Poster", Category: "posters", Price: dec("12.50"),
	}))

	coupons := coupon.NewService(s)
	_, err := coupons.Create(context.Background(), &coupon.Coupon{
		Code: "FLAT15", Kind: coupon.KindFlat, Amount: dec("15"), Active: true,
	})
	require.NoError(t, err)
	_, err = coupons.Create(context.Background(), &coupon.Coupon{
		Code: "BIGSPENDER", Kind: coupon.KindPercent, Amount: dec("10"), MinSubtotal: dec("100"), Active: true,
	})
	require.NoError(t, err)
	_, err = coupons.Create(context.Background(), &coupon.Coupon{
		Code: "SHIPFREE", Kind: coupon.KindFlat, FreeShipping: true, Active: true,
	})
	require.NoError(t, err)

	opts = append([]Option{WithCoupons(coupon.NewValidator(coupons))}, opts...)
	return testEnv{
		service: NewService(s, product.NewService(s), opts...),
		store:   s,
		coupons: coupons,
	}
}

func setProductPrice(t *testing.T, s *mocks.MockCollectionStore, id, price string) {
	t.Helper()
	raw, err := json.Marshal(product.Product{ID: id, Title: "Repriced", Price: dec(price)})
	require.NoError(t, err)
	ok, err := s.Update(context.Background(), store.CollectionProducts, id, raw)
	require.NoError(t, err)
	require.True(t, ok)
}

// ============================================
// GetOrCreateCart Tests
// ============================================

func TestService_GetOrCreateCart_CreatesOnce(t *testing.T) {
	env := newTestCartService(t)
	ctx := context.Background()

	c, err := env.service.GetOrCreateCart(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "cart-user-1", c.ID)
	assert.Equal(t, "user-1", c.UserID)
	assert.Equal(t, DefaultCurrency, c.Currency)
	assert.Empty(t, c.Items)
	assertMoney(t, "0", c.Total, "total")

	again, err := env.service.GetOrCreateCart(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, c.ID, again.ID)
	assert.Len(t, env.store.CallsFor(mocks.OpInsert, store.CollectionCarts), 1)
}

func TestService_GetOrCreateCart_GuestDefault(t *testing.T) {
	env := newTestCartService(t)

	c, err := env.service.GetOrCreateCart(context.Background(), "  ")

	require.NoError(t, err)
	assert.Equal(t, GuestUserID, c.UserID)
	assert.Equal(t, "cart-guest", c.ID)
}

func TestService_GetOrCreateCart_StoreFailure(t *testing.T) {
	env := newTestCartService(t)
	env.store.FailOn(mocks.OpFindByID, store.CollectionCarts, errors.New("disk gone"))

	_, err := env.service.GetOrCreateCart(context.Background(), "user-1")

	assert.ErrorIs(t, err, apperr.ErrPersistence)
}

// ============================================
// AddItem Tests
// ============================================

func TestService_AddItem_HappyPath(t *testing.T) {
	env := newTestCartService(t)
	ctx := context.Background()

	c, err := env.service.AddItem(ctx, "user-1", "p1", 2)
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, "p1", c.Items[0].ProductID)
	assert.Equal(t, "Mug", c.Items[0].Product.Title)
	assert.NotEmpty(t, c.Items[0].ID)
	assertMoney(t, "50.00", c.Subtotal, "subtotal")
	assertMoney(t, "4.00", c.Tax, "tax")
	assertMoney(t, "10.00", c.Shipping, "shipping")
	assertMoney(t, "64.00", c.Total, "total")

	c, err = env.service.AddItem(ctx, "user-1", "p1", 3)
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, 5, c.Items[0].Quantity)
	assertMoney(t, "125.00", c.Subtotal, "subtotal")
	assertMoney(t, "10.00", c.Tax, "tax")
	assertMoney(t, "0", c.Shipping, "shipping")
	assertMoney(t, "135.00", c.Total, "total")

	// the stored record matches what was returned
	stored, err := env.service.GetOrCreateCart(ctx, "user-1")
	require.NoError(t, err)
	assertMoney(t, "135.00", stored.Total, "stored total")
}

func TestService_AddItem_InvalidInput(t *testing.T) {
	env := newTestCartService(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		productID string
		quantity  int
		wantErr   error
	}{
		{"zero quantity", "p1", 0, ErrInvalidQuantity},
		{"negative quantity", "p1", -2, ErrInvalidQuantity},
		{"missing product id", "", 1, ErrInvalidProduct},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.service.AddItem(ctx, "user-1", tt.productID, tt.quantity)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, apperr.ErrInvalidInput)
		})
	}
	assert.Empty(t, env.store.CallsFor(mocks.OpUpdate, store.CollectionCarts))
}

func TestService_AddItem_UnknownProduct(t *testing.T) {
	env := newTestCartService(t)

	_, err := env.service.AddItem(context.Background(), "user-1", "nope", 1)

	assert.ErrorIs(t, err, product.ErrProductNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, env.store.CallsFor(mocks.OpUpdate, store.CollectionCarts))
}

func TestService_AddItem_PriceIsCaptured(t *testing.T) {
	env := newTestCartService(t)
	ctx := context.Background()

	c, err := env.service.AddItem(ctx, "user-1", "p1", 1)
	require.NoError(t, err)
	itemID := c.Items[0].ID

	setProductPrice(t, env.store, "p1", "40.00")

	// adding more keeps the captured price
	c, err = env.service.AddItem(ctx, "user-1", "p1", 1)
	require.NoError(t, err)
	assertMoney(t, "25.00", c.Items[0].Price, "captured price")
	assertMoney(t, "50.00", c.Subtotal, "subtotal")

	// remove and re-add picks up the new price
	_, err = env.service.RemoveItem(ctx, "user-1", itemID)
	require.NoError(t, err)
	c, err = env.service.AddItem(ctx, "user-1", "p1", 1)
	require.NoError(t, err)
	assertMoney(t, "40.00", c.Items[0].Price, "new price")
}

func TestService_AddItem_PersistenceFailure(t *testing.T) {
	env := newTestCartService(t)
	ctx := context.Background()
	_, err := env.service.AddItem(ctx, "user-1", "p1", 1)
	require.NoError(t, err)

	env.store.FailOn(mocks.OpUpdate, store.CollectionCarts, errors.New("write failed"))
	_, err = env.service.AddItem(ctx, "user-1", "p2", 1)
	assert.ErrorIs(t, err, apperr.ErrPersistence)

	env.store.FailOn(mocks.OpUpdate, store.CollectionCarts, nil)
	c, err := env.service.GetOrCreateCart(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, c.Items, 1)
}

func TestService_AddItem_ConcurrentSameUser(t *testing.T) {
	env := newTestCartService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.service.AddItem(ctx, "user-1", "p1", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	c, err := env.service.GetOrCreateCart(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, 20, c.Items[0].Quantity)
}

// ============================================
// UpdateItemQuantity / RemoveItem Tests
// ============================================

func TestService_UpdateItemQuantity(t *testing.T) {
	env := newTestCartService(t)
	ctx := context.Background()

	c, err := env.service.AddItem(ctx, "user-1", "p2", 1)
	require.NoError(t, err)
	itemID := c.Items[0].ID

	c, err = env.service.UpdateItemQuantity(ctx, "user-1", itemID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, c.Items[0].Quantity)
	assertMoney(t, "50.00", c.Subtotal, "subtotal")

	c, err = env.service.UpdateItemQuantity(ctx, "user-1", itemID, 0)
	require.NoError(t, err)
	assert.Empty(t, c.Items)
	assertMoney(t, "0", c.Total, "total")
}

func TestService_UpdateItemQuantity_MissingItem(t *testing.T) {
	env := newTestCartService(t)

	_, err := env.service.UpdateItemQuantity(context.Background(), "user-1", "missing", 3)

	assert.ErrorIs(t, err, ErrItemNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestService_RemoveItem_Idempotent(t *testing.T) {
	env := newTestCartService(t)
	ctx := context.Background()

	c, err := env.service.AddItem(ctx, "user-1", "p1", 1)
	require.NoError(t, err)
	_, err = env.service.AddItem(ctx, "user-1", "p2", 1)
	require.NoError(t, err)
	itemID := c.Items[0].ID

	first, err := env.service.RemoveItem(ctx, "user-1", itemID)
	require.NoError(t, err)
	second, err := env.service.RemoveItem(ctx, "user-1", itemID)
	require.NoError(t, err)

	require.Len(t, second.Items, 1)
	assert.Equal(t, first.Items[0].ID, second.Items[0].ID)
	assert.True(t, first.Total.Equal(second.Total))
}

// ============================================
// Clear Tests
// ============================================

func TestService_Clear(t *testing.T) {
	env := newTestCartService(t)
	ctx := context.Background()

	_, err := env.service.AddItem(ctx, "user-1", "p1", 5)
	require.NoError(t, err)
	_, err = env.service.ApplyCoupon(ctx, "user-1", "FLAT15")
	require.NoError(t, err)

	c, err := env.service.Clear(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "cart-user-1", c.ID)
	assert.Equal(t, "user-1", c.UserID)
	assert.Equal(t, DefaultCurrency, c.Currency)
	assert.Empty(t, c.Items)
	assert.Nil(t, c.Coupon)
	assertMoney(t, "0", c.Subtotal, "subtotal")
	assertMoney(t, "0", c.Discount, "discount")
	assertMoney(t, "0", c.Total, "total")
}

// ============================================
// Coupon Tests
// ============================================

func TestService_ApplyAndRemoveCoupon(t *testing.T) {
	env := newTestCartService(t)
	ctx := context.Background()

	_, err := env.service.AddItem(ctx, "user-1", "p1", 5)
	require.NoError(t, err)

	c, err := env.service.ApplyCoupon(ctx, "user-1", "flat15")
	require.NoError(t, err)
	require.NotNil(t, c.Coupon)
	assert.Equal(t, "flat15", c.Coupon.Code)
	assertMoney(t, "15", c.Discount, "discount")
	assertMoney(t, "120.00", c.Total, "total")

	c, err = env.service.RemoveCoupon(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, c.Coupon)
	assertMoney(t, "0", c.Discount, "discount")
	assertMoney(t, "135.00", c.Total, "total")
}

func TestService_ApplyCoupon_Rejected(t *testing.T) {
	env := newTestCartService(t)
	ctx := context.Background()

	_, err := env.service.AddItem(ctx, "user-1", "p1", 1)
	require.NoError(t, err)

	_, err = env.service.ApplyCoupon(ctx, "user-1", "BIGSPENDER")
	var rejected *CouponRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, coupon.ReasonMinimumNotMet, rejected.Reason)

	_, err = env.service.ApplyCoupon(ctx, "user-1", "UNKNOWN")
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, coupon.ReasonNotFound, rejected.Reason)

	_, err = env.service.ApplyCoupon(ctx, "user-1", "FLAT15")
	require.NoError(t, err)
	_, err = env.service.ApplyCoupon(ctx, "user-1", "FLAT15")
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, coupon.ReasonAlreadyApplied, rejected.Reason)

	_, err = env.service.ApplyCoupon(ctx, "user-1", " ")
	assert.ErrorIs(t, err, ErrInvalidCoupon)
}

func TestService_ApplyCoupon_UsageLimit(t *testing.T) {
	env := newTestCartService(t)
	ctx := context.Background()
	_, err := env.coupons.Create(ctx, &coupon.Coupon{
		Code: "ONCE", Kind: coupon.KindFlat, Amount: dec("5"), MaxUses: 1, Active: true,
	})
	require.NoError(t, err)

	_, err = env.service.AddItem(ctx, "user-1", "p1", 2)
	require.NoError(t, err)
	_, err = env.service.AddItem(ctx, "user-2", "p1", 2)
	require.NoError(t, err)

	_, err = env.service.ApplyCoupon(ctx, "user-1", "ONCE")
	require.NoError(t, err)

	_, err = env.service.ApplyCoupon(ctx, "user-2", "ONCE")
	var rejected *CouponRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, coupon.ReasonUsageLimitExceeded, rejected.Reason)

	// the cart that used the coupon keeps it through later mutations
	c, err := env.service.AddItem(ctx, "user-1", "p2", 1)
	require.NoError(t, err)
	require.NotNil(t, c.Coupon)
	assertMoney(t, "5", c.Discount, "discount")

	stored, _, err := env.coupons.Lookup(ctx, "once")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.TimesUsed)
}

func TestService_CouponRevalidatedAfterMutation(t *testing.T) {
	env := newTestCartService(t)
	ctx := context.Background()

	c, err := env.service.AddItem(ctx, "user-1", "p1", 5)
	require.NoError(t, err)
	itemID := c.Items[0].ID

	c, err = env.service.ApplyCoupon(ctx, "user-1", "BIGSPENDER")
	require.NoError(t, err)
	assertMoney(t, "12.50", c.Discount, "discount")

	// percentage follows the subtotal
	c, err = env.service.UpdateItemQuantity(ctx, "user-1", itemID, 6)
	require.NoError(t, err)
	assertMoney(t, "15.00", c.Discount, "discount")

	// dropping under the minimum removes the coupon
	c, err = env.service.UpdateItemQuantity(ctx, "user-1", itemID, 2)
	require.NoError(t, err)
	assert.Nil(t, c.Coupon)
	assertMoney(t, "0", c.Discount, "discount")
	assertMoney(t, "64.00", c.Total, "total")
}

func TestService_FreeShippingCoupon(t *testing.T) {
	env := newTestCartService(t)
	ctx := context.Background()

	_, err := env.service.AddItem(ctx, "user-1", "p1", 2)
	require.NoError(t, err)

	c, err := env.service.ApplyCoupon(ctx, "user-1", "SHIPFREE")
	require.NoError(t, err)
	assertMoney(t, "0", c.Shipping, "shipping")
	assertMoney(t, "54.00", c.Total, "total")

	c, err = env.service.RemoveCoupon(ctx, "user-1")
	require.NoError(t, err)
	assertMoney(t, "10", c.Shipping, "shipping")
	assertMoney(t, "64.00", c.Total, "total")
}

// ============================================
// Cache Tests
// ============================================

func TestService_CacheReadThroughAndInvalidation(t *testing.T) {
	cache := newMemCache()
	env := newTestCartService(t, WithCache(cache), WithClock(func() time.Time {
		return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}))
	ctx := context.Background()

	_, err := env.service.GetOrCreateCart(ctx, "user-1")
	require.NoError(t, err)
	reads := len(env.store.CallsFor(mocks.OpFindByID, store.CollectionCarts))

	// served from cache
	_, err = env.service.GetOrCreateCart(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, env.store.CallsFor(mocks.OpFindByID, store.CollectionCarts), reads)

	_, err = env.service.AddItem(ctx, "user-1", "p1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.deletes)

	c, err := env.service.GetOrCreateCart(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, c.Items, 1)
}
