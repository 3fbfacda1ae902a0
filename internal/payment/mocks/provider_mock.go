package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/ec-checkout/internal/apperr"
	"github.com/example/ec-checkout/internal/payment"
)

// MockProvider is a payment.Provider that records session requests and
// accepts webhook payloads whose header equals ValidSignature.
type MockProvider struct {
	mu             sync.Mutex
	SessionCalls   []payment.SessionRequest
	CreateErr      error
	ValidSignature string
	next           int
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		SessionCalls:   make([]payment.SessionRequest, 0),
		ValidSignature: "valid-signature",
	}
}

func (m *MockProvider) CreateCheckoutSession(_ context.Context, req payment.SessionRequest) (*payment.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SessionCalls = append(m.SessionCalls, req)
	if m.CreateErr != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrPaymentProvider, m.CreateErr)
	}
	m.next++
	id := fmt.Sprintf("cs_test_%d", m.next)
	return &payment.Session{
		ID:  id,
		URL: "https://checkout.test/pay/" + id,
	}, nil
}

func (m *MockProvider) VerifyWebhookSignature(payload []byte, header, secret string) (*payment.Event, error) {
	if secret == "" || header != m.ValidSignature {
		return nil, payment.ErrSignatureInvalid
	}
	return payment.DecodeEvent(payload)
}

// LastSession returns the most recent session request.
func (m *MockProvider) LastSession() payment.SessionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.SessionCalls) == 0 {
		return payment.SessionRequest{}
	}
	return m.SessionCalls[len(m.SessionCalls)-1]
}

func (m *MockProvider) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.SessionCalls)
}
