package coupon

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Reason explains why a coupon was rejected.
type Reason string

const (
	ReasonNotFound           Reason = "NotFound"
	ReasonExpired            Reason = "Expired"
	ReasonMinimumNotMet      Reason = "MinimumNotMet"
	ReasonAlreadyApplied     Reason = "AlreadyApplied"
	ReasonUsageLimitExceeded Reason = "UsageLimitExceeded"
)

// Item is the view of a cart line the validator needs.
type Item struct {
	ProductID string
	Category  string
	Price     decimal.Decimal
	Quantity  int
}

type Request struct {
	Code     string
	Items    []Item
	Subtotal decimal.Decimal
	// AppliedCode is the code currently on the cart, if any.
	AppliedCode string
	// Reapply re-evaluates a coupon the cart already holds. Its use was
	// counted when it was applied, so the usage limit is not checked again.
	Reapply bool
}

type Result struct {
	Valid        bool            `json:"valid"`
	Code         string          `json:"code,omitempty"`
	Reason       Reason          `json:"reason,omitempty"`
	Discount     decimal.Decimal `json:"discount"`
	FreeShipping bool            `json:"freeShipping,omitempty"`
}

func reject(reason Reason) Result {
	return Result{Valid: false, Reason: reason, Discount: decimal.Zero}
}

type Validator struct {
	catalog Catalog
	now     func() time.Time
}

func NewValidator(catalog Catalog) *Validator {
	return &Validator{catalog: catalog, now: time.Now}
}

// WithClock overrides the time source used for expiry checks.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Validate looks the code up and evaluates it against the request. A rejected
// coupon is not an error; err is only set when the lookup itself fails.
func (v *Validator) Validate(ctx context.Context, req Request) (Result, error) {
	code := NormalizeCode(req.Code)
	if code == "" {
		return reject(ReasonNotFound), nil
	}
	c, found, err := v.catalog.Lookup(ctx, code)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return reject(ReasonNotFound), nil
	}
	return Evaluate(c, req, v.now()), nil
}

// Redeem counts one use of an applied code. False means the usage limit was
// reached since the code was validated.
func (v *Validator) Redeem(ctx context.Context, code string) (bool, error) {
	return v.catalog.Redeem(ctx, code)
}

// Evaluate applies the coupon rules to the request at instant now.
func Evaluate(c *Coupon, req Request, now time.Time) Result {
	code := NormalizeCode(c.Code)
	if !c.Active {
		return reject(ReasonNotFound)
	}
	if req.AppliedCode != "" && NormalizeCode(req.AppliedCode) == code {
		return reject(ReasonAlreadyApplied)
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return reject(ReasonExpired)
	}
	if !req.Reapply && c.MaxUses > 0 && c.TimesUsed >= c.MaxUses {
		return reject(ReasonUsageLimitExceeded)
	}
	if req.Subtotal.LessThan(c.MinSubtotal) || !req.Subtotal.IsPositive() {
		return reject(ReasonMinimumNotMet)
	}

	eligible := req.Subtotal
	if c.restricted() {
		eligible = decimal.Zero
		for _, it := range req.Items {
			if c.appliesTo(it.ProductID, it.Category) {
				eligible = eligible.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
			}
		}
		// nothing in the cart qualifies
		if !eligible.IsPositive() {
			return reject(ReasonMinimumNotMet)
		}
	}

	var discount decimal.Decimal
	switch c.Kind {
	case KindPercent:
		discount = eligible.Mul(c.Amount).Div(decimal.NewFromInt(100)).Round(2)
	default:
		discount = c.Amount
	}
	if c.MaxDiscount.IsPositive() && discount.GreaterThan(c.MaxDiscount) {
		discount = c.MaxDiscount
	}
	if discount.GreaterThan(eligible) {
		discount = eligible
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}

	return Result{
		Valid:        true,
		Code:         code,
		Discount:     discount,
		FreeShipping: c.FreeShipping,
	}
}
