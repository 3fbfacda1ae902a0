package api

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/example/ec-checkout/internal/apperr"
	"github.com/example/ec-checkout/internal/checkout"
)

const (
	maxBodyBytes      = 1 << 20
	maxWebhookBytes   = 64 << 10
	maxCheckoutLines  = 100
	maxMetadataKeys   = 20
	maxMetadataLength = 500
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", apperr.ErrInvalidInput, fmt.Sprintf(format, args...))
}

type AddItemRequest struct {
	UserID    string `json:"userId"`
	ProductID string `json:"productId"`
	Quantity  *int   `json:"quantity"`
}

func (r *AddItemRequest) Validate() error {
	if strings.TrimSpace(r.ProductID) == "" {
		return invalid("productId is required")
	}
	if r.Quantity == nil || *r.Quantity <= 0 {
		return invalid("quantity must be a positive integer")
	}
	return nil
}

// UpdateItemRequest sets an item's quantity. Zero or negative removes it.
type UpdateItemRequest struct {
	UserID   string `json:"userId"`
	Quantity *int   `json:"quantity"`
}

func (r *UpdateItemRequest) Validate() error {
	if r.Quantity == nil {
		return invalid("quantity is required")
	}
	return nil
}

type ClearCartRequest struct {
	UserID string `json:"userId"`
}

func (r *ClearCartRequest) Validate() error { return nil }

type ApplyCouponRequest struct {
	UserID string `json:"userId"`
	Code   string `json:"code"`
}

func (r *ApplyCouponRequest) Validate() error {
	if strings.TrimSpace(r.Code) == "" {
		return invalid("code is required")
	}
	return nil
}

type CheckoutItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type CreateCheckoutSessionRequest struct {
	UserID     string            `json:"userId"`
	Items      []CheckoutItem    `json:"items"`
	SuccessURL string            `json:"successUrl"`
	CancelURL  string            `json:"cancelUrl"`
	Metadata   map[string]string `json:"metadata"`
}

func (r *CreateCheckoutSessionRequest) Validate() error {
	if len(r.Items) == 0 {
		return invalid("at least one item is required")
	}
	if len(r.Items) > maxCheckoutLines {
		return invalid("at most %d items are allowed", maxCheckoutLines)
	}
	for i, item := range r.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return invalid("items[%d].productId is required", i)
		}
		if item.Quantity <= 0 {
			return invalid("items[%d].quantity must be a positive integer", i)
		}
	}
	if err := validateURL("successUrl", r.SuccessURL); err != nil {
		return err
	}
	if err := validateURL("cancelUrl", r.CancelURL); err != nil {
		return err
	}
	if len(r.Metadata) > maxMetadataKeys {
		return invalid("at most %d metadata keys are allowed", maxMetadataKeys)
	}
	for k, v := range r.Metadata {
		if k == "" || len(k) > 40 || len(v) > maxMetadataLength {
			return invalid("metadata key %q is invalid", k)
		}
	}
	return nil
}

func (r *CreateCheckoutSessionRequest) toCheckout(userID string) checkout.Request {
	lines := make([]checkout.LineRequest, 0, len(r.Items))
	for _, item := range r.Items {
		lines = append(lines, checkout.LineRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return checkout.Request{
		UserID:     userID,
		Items:      lines,
		SuccessURL: r.SuccessURL,
		CancelURL:  r.CancelURL,
		Metadata:   r.Metadata,
	}
}

type RetrySessionRequest struct {
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

func (r *RetrySessionRequest) Validate() error {
	if err := validateURL("successUrl", r.SuccessURL); err != nil {
		return err
	}
	return validateURL("cancelUrl", r.CancelURL)
}

// validateURL accepts an empty value, which selects the configured default.
func validateURL(field, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("%s must be an absolute http(s) URL", field)
	}
	return nil
}
