package order

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/example/ec-checkout/internal/apperr"
	"github.com/example/ec-checkout/internal/infrastructure/store"
	"github.com/google/uuid"
)

// errEventSeen aborts an update whose history entry is already recorded.
var errEventSeen = errors.New("event already applied")

type Service struct {
	orders    *store.Collection[*Order]
	locks     *store.KeyedMutex
	publisher Publisher
	now       func() time.Time
}

func NewService(s store.CollectionStore, publisher Publisher) *Service {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Service{
		orders:    store.NewCollection(s, store.CollectionOrders, func() *Order { return &Order{} }),
		locks:     store.NewKeyedMutex(),
		publisher: publisher,
		now:       time.Now,
	}
}

// WithClock overrides the time source (tests).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.orders.WithClock(now)
	return s
}

func (s *Service) publish(ctx context.Context, eventType string, o *Order) {
	if err := s.publisher.Publish(ctx, newEvent(eventType, o, s.now())); err != nil {
		log.Printf("[Order] Failed to publish %s for order %s: %v", eventType, o.ID, err)
	}
}

// Create persists a new pending order correlated to its checkout session. A
// preassigned id is kept so it can travel in provider metadata.
func (s *Service) Create(ctx context.Context, o *Order) (*Order, error) {
	if len(o.Items) == 0 {
		return nil, ErrEmptyOrder
	}
	if strings.TrimSpace(o.SessionID) == "" {
		return nil, ErrMissingSession
	}

	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	o.Status = StatusPending
	o.Payment = nil
	if o.Events == nil {
		o.Events = []HistoryEntry{}
	}

	saved, err := s.orders.Insert(ctx, o)
	if err != nil {
		return nil, apperr.Persistence("insert order", err)
	}
	log.Printf("[Order] Created order %s for session %s", saved.ID, saved.SessionID)
	s.publish(ctx, EventOrderCreated, saved)
	return saved, nil
}

func (s *Service) FindByID(ctx context.Context, orderID string) (*Order, error) {
	o, found, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, apperr.Persistence("load order", err)
	}
	if !found {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

// FindBySession returns the order whose current session id matches.
func (s *Service) FindBySession(ctx context.Context, sessionID string) (*Order, error) {
	if sessionID == "" {
		return nil, ErrOrderNotFound
	}
	all, err := s.orders.All(ctx)
	if err != nil {
		return nil, apperr.Persistence("list orders", err)
	}
	for _, o := range all {
		if o.SessionID == sessionID {
			return o, nil
		}
	}
	return nil, ErrOrderNotFound
}

// update runs fn on the order under the order's lock and persists it.
func (s *Service) update(ctx context.Context, orderID string, fn func(o *Order) error) (*Order, error) {
	unlock := s.locks.Lock(orderID)
	defer unlock()

	o, err := s.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := fn(o); err != nil {
		if errors.Is(err, errEventSeen) {
			return o, err
		}
		return nil, err
	}
	ok, err := s.orders.Replace(ctx, o)
	if err != nil {
		return nil, apperr.Persistence("save order", err)
	}
	if !ok {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

// MarkPaid records the payment snapshot and moves the order to paid. An event
// id already in the history leaves the order untouched.
func (s *Service) MarkPaid(ctx context.Context, orderID, eventID, eventType string, payment *Payment) (*Order, error) {
	o, err := s.update(ctx, orderID, func(o *Order) error {
		if o.HasEvent(eventID) {
			return errEventSeen
		}
		if err := o.transition(StatusPaid, HistoryEntry{ID: eventID, Type: eventType, ReceivedAt: s.now()}); err != nil {
			return err
		}
		o.Payment = payment
		return nil
	})
	if errors.Is(err, errEventSeen) {
		return o, nil
	}
	if err != nil {
		return nil, err
	}
	log.Printf("[Order] Order %s paid (event %s)", o.ID, eventID)
	s.publish(ctx, EventOrderPaid, o)
	return o, nil
}

// MarkFailed moves the order to failed.
func (s *Service) MarkFailed(ctx context.Context, orderID, eventID, eventType string) (*Order, error) {
	o, err := s.update(ctx, orderID, func(o *Order) error {
		if o.HasEvent(eventID) {
			return errEventSeen
		}
		return o.transition(StatusFailed, HistoryEntry{ID: eventID, Type: eventType, ReceivedAt: s.now()})
	})
	if errors.Is(err, errEventSeen) {
		return o, nil
	}
	if err != nil {
		return nil, err
	}
	log.Printf("[Order] Order %s failed (event %s: %s)", o.ID, eventID, eventType)
	s.publish(ctx, EventOrderFailed, o)
	return o, nil
}

// ResetSession points the order at a fresh checkout session and returns it
// to pending. Only the latest session id and attempt id are kept.
func (s *Service) ResetSession(ctx context.Context, orderID, sessionID, attemptID string) (*Order, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrMissingSession
	}
	o, err := s.update(ctx, orderID, func(o *Order) error {
		entry := HistoryEntry{ID: uuid.New().String(), Type: HistorySessionRetried, ReceivedAt: s.now()}
		if err := o.transition(StatusPending, entry); err != nil {
			return err
		}
		o.SessionID = sessionID
		o.AttemptID = attemptID
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[Order] Order %s moved to session %s", o.ID, sessionID)
	s.publish(ctx, EventOrderRetried, o)
	return o, nil
}

// EnsureRetryable reports ErrOrderAlreadyPaid for orders that must not get a
// new session, before any provider call is made.
func (s *Service) EnsureRetryable(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.CanTransitionTo(StatusPending) {
		return nil, o.transitionError(StatusPending)
	}
	return o, nil
}
