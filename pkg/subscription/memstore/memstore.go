// Package memstore is an in-memory subscription.Store for tests and local
// runs. All operations are serialized by one mutex, which gives the same
// atomicity the Postgres store gets from transactions.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/subledger/paycore/pkg/subscription"
)

type grantKey struct {
	userID uuid.UUID
	code   string
}

// Store is an in-memory subscription.Store guarded by a single mutex.
// Records are copied in and out so callers never share state with it.
type Store struct {
	mu            sync.Mutex
	now           func() time.Time
	users         map[uuid.UUID]subscription.User
	plans         map[string]subscription.Plan
	intents       map[uuid.UUID]subscription.Intent
	subscriptions map[uuid.UUID]subscription.Subscription
	grants        map[grantKey]subscription.PromotionalGrant
}

var _ subscription.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		now:           func() time.Time { return time.Now().UTC() },
		users:         make(map[uuid.UUID]subscription.User),
		plans:         make(map[string]subscription.Plan),
		intents:       make(map[uuid.UUID]subscription.Intent),
		subscriptions: make(map[uuid.UUID]subscription.Subscription),
		grants:        make(map[grantKey]subscription.PromotionalGrant),
	}
}

// AddUser seeds an identity row. The identity system owns users, so there
// is no create operation on the port.
func (s *Store) AddUser(u subscription.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// Grants returns every recorded promotional grant.
func (s *Store) Grants() []subscription.PromotionalGrant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]subscription.PromotionalGrant, 0, len(s.grants))
	for _, g := range s.grants {
		out = append(out, g)
	}
	return out
}

func (s *Store) GetUserByExternalID(_ context.Context, externalID string) (*subscription.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ExternalID == externalID {
			return &u, nil
		}
	}
	return nil, subscription.ErrUserNotFound
}

func (s *Store) SetProcessorCustomerID(_ context.Context, userID uuid.UUID, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return subscription.ErrUserNotFound
	}
	u.ProcessorCustomerID = customerID
	s.users[userID] = u
	return nil
}

func (s *Store) GetPlan(_ context.Context, id string) (*subscription.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, subscription.ErrPlanNotFound
	}
	return &p, nil
}

func (s *Store) ListPlans(context.Context) ([]subscription.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]subscription.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b subscription.Plan) int {
		return cmp.Or(cmp.Compare(a.MonthlyPrice.Amount, b.MonthlyPrice.Amount), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (s *Store) UpsertPlans(_ context.Context, plans []subscription.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range plans {
		s.plans[p.ID] = p
	}
	return nil
}

func (s *Store) CreateIntent(_ context.Context, intent *subscription.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents[intent.ID] = cloneIntent(*intent)
	return nil
}

func (s *Store) LinkSession(_ context.Context, intentID uuid.UUID, link subscription.SessionLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[intentID]
	if !ok {
		return subscription.ErrIntentNotFound
	}
	in.ExternalSessionID = link.SessionID
	in.ExternalCustomerID = link.CustomerID
	in.ExternalPaymentIntentID = link.PaymentIntentID
	in.UpdatedAt = s.now()
	s.intents[intentID] = in
	return nil
}

func (s *Store) GetIntent(_ context.Context, id uuid.UUID) (*subscription.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	if !ok {
		return nil, subscription.ErrIntentNotFound
	}
	out := cloneIntent(in)
	return &out, nil
}

func (s *Store) TransitionIntent(_ context.Context, id uuid.UUID, from, to subscription.IntentStatus) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, subscription.ErrInvalidIntentTransition
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	if !ok {
		return false, subscription.ErrIntentNotFound
	}
	if in.Status != from {
		return false, nil
	}
	in.Status = to
	in.UpdatedAt = s.now()
	s.intents[id] = in
	return true, nil
}

func (s *Store) ListIntentsByUser(_ context.Context, userID uuid.UUID, limit int) ([]subscription.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []subscription.Intent
	for _, in := range s.intents {
		if in.UserID == userID {
			out = append(out, cloneIntent(in))
		}
	}
	slices.SortFunc(out, func(a, b subscription.Intent) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) FinalizeIntent(_ context.Context, intentID uuid.UUID, sub *subscription.Subscription) (*subscription.Subscription, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[intentID]
	if !ok {
		return nil, false, subscription.ErrIntentNotFound
	}
	switch in.Status {
	case subscription.IntentCompleted:
		if existing, ok := s.subscriptionByIntent(intentID); ok {
			return &existing, false, nil
		}
		return nil, false, subscription.ErrSubscriptionNotFound
	case subscription.IntentPending:
	default:
		return nil, false, subscription.ErrInvalidIntentTransition
	}

	in.Status = subscription.IntentCompleted
	in.UpdatedAt = s.now()
	s.intents[intentID] = in

	saved := *sub
	id := intentID
	saved.IntentID = &id
	s.subscriptions[saved.ID] = saved
	return &saved, true, nil
}

func (s *Store) GrantPromotion(_ context.Context, grant subscription.PromotionalGrant, sub *subscription.Subscription) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := grantKey{userID: grant.UserID, code: grant.PromotionCode}
	if _, exists := s.grants[key]; exists {
		return false, nil
	}
	s.grants[key] = grant
	s.subscriptions[sub.ID] = *sub
	return true, nil
}

func (s *Store) GetSubscription(_ context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, subscription.ErrSubscriptionNotFound
	}
	return &sub, nil
}

func (s *Store) GetSubscriptionByIntent(_ context.Context, intentID uuid.UUID) (*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptionByIntent(intentID)
	if !ok {
		return nil, subscription.ErrSubscriptionNotFound
	}
	return &sub, nil
}

func (s *Store) GetSubscriptionByExternalID(_ context.Context, externalID string) (*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if externalID == "" {
		return nil, subscription.ErrSubscriptionNotFound
	}
	for _, sub := range s.subscriptions {
		if sub.ExternalSubscriptionID == externalID {
			return &sub, nil
		}
	}
	return nil, subscription.ErrSubscriptionNotFound
}

func (s *Store) ListSubscriptionsByUser(_ context.Context, userID uuid.UUID) ([]subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []subscription.Subscription
	for _, sub := range s.subscriptions {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	slices.SortFunc(out, func(a, b subscription.Subscription) int { return b.StartDate.Compare(a.StartDate) })
	return out, nil
}

func (s *Store) MarkCancelled(_ context.Context, id uuid.UUID, at time.Time, deactivate bool) (*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, subscription.ErrSubscriptionNotFound
	}
	if sub.CancellationDate == nil || (deactivate && sub.IsActive) {
		if sub.CancellationDate == nil {
			t := at
			sub.CancellationDate = &t
		}
		sub.IsAutoRenew = false
		if deactivate {
			sub.IsActive = false
		}
		sub.UpdatedAt = s.now()
		s.subscriptions[id] = sub
	}
	return &sub, nil
}

func (s *Store) subscriptionByIntent(intentID uuid.UUID) (subscription.Subscription, bool) {
	for _, sub := range s.subscriptions {
		if sub.IntentID != nil && *sub.IntentID == intentID {
			return sub, true
		}
	}
	return subscription.Subscription{}, false
}

func cloneIntent(in subscription.Intent) subscription.Intent {
	in.PaymentMethodTypes = slices.Clone(in.PaymentMethodTypes)
	return in
}
