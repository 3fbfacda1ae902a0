package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/ec-checkout/internal/apperr"
	"github.com/example/ec-checkout/internal/infrastructure/store"
	"github.com/example/ec-checkout/internal/infrastructure/store/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

var fixedNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func newTestOrderService() (*Service, *mocks.MockCollectionStore, *recordingPublisher) {
	s := mocks.NewMockCollectionStore()
	pub := &recordingPublisher{}
	service := NewService(s, pub).WithClock(func() time.Time { return fixedNow })
	return service, s, pub
}

func newPendingOrder(t *testing.T, service *Service, sessionID string) *Order {
	t.Helper()
	o, err := service.Create(context.Background(), &Order{
		UserID:    "user-123",
		SessionID: sessionID,
		Items: []Item{
			{ProductID: "p1", Title: "Mug", Quantity: 2, UnitPrice: decimal.RequireFromString("25.00"), UnitAmount: 2500},
		},
		Subtotal: decimal.RequireFromString("50.00"),
		Tax:      decimal.RequireFromString("4.00"),
		Shipping: decimal.RequireFromString("10.00"),
		Total:    decimal.RequireFromString("64.00"),
		Currency: "usd",
	})
	require.NoError(t, err)
	return o
}

// ============================================
// Transition Table Tests
// ============================================

func TestOrder_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from   Status
		to     Status
		expect bool
	}{
		{StatusPending, StatusPaid, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusPending, true},
		{StatusFailed, StatusPending, true},
		{StatusFailed, StatusPaid, true},
		{StatusFailed, StatusFailed, true},
		{StatusPaid, StatusPaid, true},
		{StatusPaid, StatusFailed, true},
		{StatusPaid, StatusPending, false},
		{Status("unknown"), StatusPaid, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			o := &Order{Status: tt.from}
			assert.Equal(t, tt.expect, o.CanTransitionTo(tt.to))
		})
	}
}

func TestOrder_TransitionError(t *testing.T) {
	o := &Order{Status: StatusPaid}
	assert.ErrorIs(t, o.transitionError(StatusPending), ErrOrderAlreadyPaid)
	assert.ErrorIs(t, o.transitionError(StatusPending), apperr.ErrConflict)

	o = &Order{Status: Status("weird")}
	assert.ErrorIs(t, o.transitionError(StatusPaid), ErrInvalidStatus)
}

// ============================================
// Create Tests
// ============================================

func TestService_Create_Success(t *testing.T) {
	service, s, pub := newTestOrderService()

	o := newPendingOrder(t, service, "cs_test_1")

	assert.NotEmpty(t, o.ID)
	assert.Equal(t, StatusPending, o.Status)
	assert.Nil(t, o.Payment)
	assert.Empty(t, o.Events)
	assert.Equal(t, fixedNow, o.DateCreated)
	assert.Len(t, s.CallsFor(mocks.OpInsert, store.CollectionOrders), 1)
	assert.Equal(t, []string{EventOrderCreated}, pub.types())
	assert.Equal(t, "64.00", pub.events[0].Total)
}

func TestService_Create_Validation(t *testing.T) {
	service, s, pub := newTestOrderService()
	ctx := context.Background()

	_, err := service.Create(ctx, &Order{SessionID: "cs_1"})
	assert.ErrorIs(t, err, ErrEmptyOrder)

	_, err = service.Create(ctx, &Order{Items: []Item{{ProductID: "p1", Quantity: 1}}})
	assert.ErrorIs(t, err, ErrMissingSession)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	assert.Empty(t, s.CallsFor(mocks.OpInsert, store.CollectionOrders))
	assert.Empty(t, pub.types())
}

func TestService_Create_PersistenceFailure(t *testing.T) {
	service, s, pub := newTestOrderService()
	s.FailOn(mocks.OpInsert, store.CollectionOrders, errors.New("disk full"))

	_, err := service.Create(context.Background(), &Order{
		SessionID: "cs_1",
		Items:     []Item{{ProductID: "p1", Quantity: 1}},
	})

	assert.ErrorIs(t, err, apperr.ErrPersistence)
	assert.Empty(t, pub.types())
}

func TestService_Create_PublishFailureIsNotFatal(t *testing.T) {
	service, _, pub := newTestOrderService()
	pub.err = errors.New("broker down")

	o := newPendingOrder(t, service, "cs_1")

	assert.NotEmpty(t, o.ID)
}

// ============================================
// Lookup Tests
// ============================================

func TestService_FindBySession(t *testing.T) {
	service, _, _ := newTestOrderService()
	ctx := context.Background()
	first := newPendingOrder(t, service, "cs_1")
	second := newPendingOrder(t, service, "cs_2")

	found, err := service.FindBySession(ctx, "cs_2")
	require.NoError(t, err)
	assert.Equal(t, second.ID, found.ID)

	found, err = service.FindBySession(ctx, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	_, err = service.FindBySession(ctx, "cs_unknown")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = service.FindBySession(ctx, "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestService_FindByID_NotFound(t *testing.T) {
	service, _, _ := newTestOrderService()

	_, err := service.FindByID(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrOrderNotFound)
}

// ============================================
// MarkPaid / MarkFailed Tests
// ============================================

func TestService_MarkPaid(t *testing.T) {
	service, _, pub := newTestOrderService()
	ctx := context.Background()
	o := newPendingOrder(t, service, "cs_1")

	payment := &Payment{AmountReceived: 6400, Currency: "usd", PaymentIntent: "pi_1", PaymentStatus: "paid"}
	paid, err := service.MarkPaid(ctx, o.ID, "evt_1", "checkout.session.completed", payment)

	require.NoError(t, err)
	assert.Equal(t, StatusPaid, paid.Status)
	assert.Equal(t, payment, paid.Payment)
	require.Len(t, paid.Events, 1)
	assert.Equal(t, HistoryEntry{ID: "evt_1", Type: "checkout.session.completed", ReceivedAt: fixedNow}, paid.Events[0])

	stored, err := service.FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, stored.Status)
	assert.Equal(t, int64(6400), stored.Payment.AmountReceived)
	assert.Equal(t, []string{EventOrderCreated, EventOrderPaid}, pub.types())
}

func TestService_MarkPaid_SameEventTwice(t *testing.T) {
	service, s, pub := newTestOrderService()
	ctx := context.Background()
	o := newPendingOrder(t, service, "cs_1")

	_, err := service.MarkPaid(ctx, o.ID, "evt_1", "checkout.session.completed", &Payment{})
	require.NoError(t, err)
	again, err := service.MarkPaid(ctx, o.ID, "evt_1", "checkout.session.completed", &Payment{})
	require.NoError(t, err)

	assert.Len(t, again.Events, 1)
	assert.Len(t, s.CallsFor(mocks.OpUpdate, store.CollectionOrders), 1)
	assert.Equal(t, []string{EventOrderCreated, EventOrderPaid}, pub.types())
}

func TestService_MarkFailed_AfterPaidOverwrites(t *testing.T) {
	service, _, _ := newTestOrderService()
	ctx := context.Background()
	o := newPendingOrder(t, service, "cs_1")

	_, err := service.MarkPaid(ctx, o.ID, "evt_1", "checkout.session.completed", &Payment{})
	require.NoError(t, err)
	failed, err := service.MarkFailed(ctx, o.ID, "evt_2", "payment_intent.payment_failed")

	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Len(t, failed.Events, 2)
}

func TestService_MarkFailed_NotFound(t *testing.T) {
	service, _, _ := newTestOrderService()

	_, err := service.MarkFailed(context.Background(), "missing", "evt_1", "checkout.session.expired")

	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestService_MarkPaid_PersistenceFailure(t *testing.T) {
	service, s, _ := newTestOrderService()
	ctx := context.Background()
	o := newPendingOrder(t, service, "cs_1")
	s.FailOn(mocks.OpUpdate, store.CollectionOrders, errors.New("write failed"))

	_, err := service.MarkPaid(ctx, o.ID, "evt_1", "checkout.session.completed", &Payment{})
	assert.ErrorIs(t, err, apperr.ErrPersistence)

	s.FailOn(mocks.OpUpdate, store.CollectionOrders, nil)
	stored, err := service.FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
	assert.Empty(t, stored.Events)
}

// ============================================
// ResetSession Tests
// ============================================

func TestService_ResetSession_FailedThenRetry(t *testing.T) {
	service, _, pub := newTestOrderService()
	ctx := context.Background()
	o := newPendingOrder(t, service, "cs_1")

	_, err := service.MarkFailed(ctx, o.ID, "evt_1", "checkout.session.expired")
	require.NoError(t, err)

	retried, err := service.ResetSession(ctx, o.ID, "cs_2", "att_2")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, retried.Status)
	assert.Equal(t, "cs_2", retried.SessionID)
	assert.Equal(t, "att_2", retried.AttemptID)
	require.Len(t, retried.Events, 2)
	assert.Equal(t, HistorySessionRetried, retried.Events[1].Type)

	// only the latest session resolves
	_, err = service.FindBySession(ctx, "cs_1")
	assert.ErrorIs(t, err, ErrOrderNotFound)
	found, err := service.FindBySession(ctx, "cs_2")
	require.NoError(t, err)
	assert.Equal(t, o.ID, found.ID)

	assert.Equal(t, []string{EventOrderCreated, EventOrderFailed, EventOrderRetried}, pub.types())
}

func TestService_ResetSession_PaidRejected(t *testing.T) {
	service, _, _ := newTestOrderService()
	ctx := context.Background()
	o := newPendingOrder(t, service, "cs_1")
	_, err := service.MarkPaid(ctx, o.ID, "evt_1", "checkout.session.completed", &Payment{})
	require.NoError(t, err)

	_, err = service.EnsureRetryable(ctx, o.ID)
	assert.ErrorIs(t, err, ErrOrderAlreadyPaid)

	_, err = service.ResetSession(ctx, o.ID, "cs_2", "att_2")
	assert.ErrorIs(t, err, ErrOrderAlreadyPaid)

	stored, err := service.FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "cs_1", stored.SessionID)
}

func TestService_ResetSession_MissingSession(t *testing.T) {
	service, _, _ := newTestOrderService()

	_, err := service.ResetSession(context.Background(), "any", " ", "att")

	assert.ErrorIs(t, err, ErrMissingSession)
}
