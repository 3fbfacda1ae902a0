package cart

import (
	"time"

	"github.com/example/ec-checkout/internal/domain/coupon"
	"github.com/shopspring/decimal"
)

// GuestUserID owns the cart of anonymous callers.
const GuestUserID = "guest"

// ProductSnapshot is the product as it looked when the line was added.
type ProductSnapshot struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Category string          `json:"category,omitempty"`
	Image    string          `json:"image,omitempty"`
	Price    decimal.Decimal `json:"price"`
}

type CartItem struct {
	ID        string          `json:"id"`
	ProductID string          `json:"productId"`
	Product   ProductSnapshot `json:"product"`
	Quantity  int             `json:"quantity"`
	// Price is the unit price captured when the line was first added.
	Price     decimal.Decimal `json:"price"`
	DateAdded time.Time       `json:"dateAdded"`
}

// LineTotal is price * quantity.
func (i CartItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// AppliedCoupon records the coupon currently discounting the cart.
type AppliedCoupon struct {
	Code         string `json:"code"`
	FreeShipping bool   `json:"freeShipping,omitempty"`
}

type Cart struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	Items        []CartItem      `json:"items"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Tax          decimal.Decimal `json:"tax"`
	Shipping     decimal.Decimal `json:"shipping"`
	Discount     decimal.Decimal `json:"discount"`
	Total        decimal.Decimal `json:"total"`
	Currency     string          `json:"currency"`
	Coupon       *AppliedCoupon  `json:"coupon,omitempty"`
	DateCreated  time.Time       `json:"dateCreated"`
	DateModified time.Time       `json:"dateModified"`
}

// GetCartID returns the cart id of a user. Each user owns exactly one cart.
func GetCartID(userID string) string {
	return "cart-" + userID
}

func (c *Cart) GetID() string   { return c.ID }
func (c *Cart) SetID(id string) { c.ID = id }

func (c *Cart) Touch(now time.Time) {
	if c.DateCreated.IsZero() {
		c.DateCreated = now
	}
	c.DateModified = now
}

func newCart(userID, currency string) *Cart {
	c := &Cart{
		ID:       GetCartID(userID),
		UserID:   userID,
		Items:    []CartItem{},
		Currency: currency,
	}
	c.Recalculate()
	return c
}

func (c *Cart) findItem(itemID string) int {
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			return i
		}
	}
	return -1
}

func (c *Cart) findProduct(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// ItemCount is the sum of all line quantities.
func (c *Cart) ItemCount() int {
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

func (c *Cart) couponItems() []coupon.Item {
	out := make([]coupon.Item, 0, len(c.Items))
	for _, it := range c.Items {
		out = append(out, coupon.Item{
			ProductID: it.ProductID,
			Category:  it.Product.Category,
			Price:     it.Price,
			Quantity:  it.Quantity,
		})
	}
	return out
}

func (c *Cart) dropCoupon() {
	c.Coupon = nil
	c.Discount = decimal.Zero
}
