package cart

import "github.com/shopspring/decimal"

const DefaultCurrency = "usd"

var (
	TaxRate               = decimal.RequireFromString("0.08")
	FreeShippingThreshold = decimal.NewFromInt(100)
	ShippingFee           = decimal.NewFromInt(10)
)

// Totals are the derived money fields of a cart or order.
type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// Compute applies the storefront pricing rules to a subtotal. An empty
// subtotal ships for free.
func Compute(subtotal, discount decimal.Decimal, freeShipping bool) Totals {
	tax := subtotal.Mul(TaxRate).Round(2)

	shipping := ShippingFee
	if freeShipping || !subtotal.IsPositive() || subtotal.GreaterThanOrEqual(FreeShippingThreshold) {
		shipping = decimal.Zero
	}

	total := subtotal.Add(tax).Add(shipping).Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Discount: discount,
		Total:    total,
	}
}

// Recalculate recomputes every derived field from the items and the applied
// coupon. All cart mutations end here.
func (c *Cart) Recalculate() {
	subtotal := decimal.Zero
	for _, it := range c.Items {
		subtotal = subtotal.Add(it.LineTotal())
	}
	if c.Coupon == nil {
		c.Discount = decimal.Zero
	}
	freeShipping := c.Coupon != nil && c.Coupon.FreeShipping

	t := Compute(subtotal, c.Discount, freeShipping)
	c.Subtotal = t.Subtotal
	c.Tax = t.Tax
	c.Shipping = t.Shipping
	c.Discount = t.Discount
	c.Total = t.Total
}
