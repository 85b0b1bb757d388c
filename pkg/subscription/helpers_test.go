package subscription_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/subledger/paycore/pkg/subscription"
	"github.com/subledger/paycore/pkg/subscription/memstore"
)

type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) Name() string { return "mock" }

func (m *mockProcessor) CreateCheckoutSession(ctx context.Context, req subscription.CheckoutSessionRequest) (*subscription.CheckoutSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.CheckoutSession), args.Error(1)
}

func (m *mockProcessor) GetCheckoutSession(ctx context.Context, sessionID string) (*subscription.CheckoutSessionState, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.CheckoutSessionState), args.Error(1)
}

func (m *mockProcessor) GetSubscription(ctx context.Context, subscriptionID string) (*subscription.ProcessorSubscription, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.ProcessorSubscription), args.Error(1)
}

func (m *mockProcessor) UpdateCustomer(ctx context.Context, customerID string, update subscription.CustomerUpdate) error {
	return m.Called(ctx, customerID, update).Error(0)
}

func (m *mockProcessor) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error {
	return m.Called(ctx, paymentMethodID, customerID).Error(0)
}

func (m *mockProcessor) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*subscription.ProcessorCancellation, error) {
	args := m.Called(ctx, subscriptionID, atPeriodEnd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.ProcessorCancellation), args.Error(1)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store *memstore.Store
	proc  *mockProcessor
	clock *clock
	svc   *subscription.Service
	u1    subscription.User // no processor customer yet
	u2    subscription.User
	u3    subscription.User // has a processor customer
}

func testPlans() []subscription.Plan {
	return []subscription.Plan{
		{
			ID:           "P1",
			Name:         "Premium",
			MonthlyPrice: subscription.MoneyFromDecimal(9.99, "USD"),
			YearlyPrice:  subscription.MoneyFromDecimal(99.99, "USD"),
			Limits:       map[subscription.Resource]int64{subscription.ResourceReviews: subscription.Unlimited},
			Features:     []subscription.Feature{"ad_free"},
			Public:       true,
		},
		{
			ID:           "bonus",
			Name:         "Welcome bonus",
			MonthlyPrice: subscription.Money{Currency: "USD"},
			YearlyPrice:  subscription.Money{Currency: "USD"},
			Public:       false,
		},
	}
}

func newFixture(t *testing.T, mutate ...func(*subscription.Config)) *fixture {
	t.Helper()

	f := &fixture{
		store: memstore.New(),
		proc:  &mockProcessor{},
		clock: &clock{t: t0},
		u1:    subscription.User{ID: uuid.New(), ExternalID: "U1", Email: "u1@example.com"},
		u2:    subscription.User{ID: uuid.New(), ExternalID: "U2", Email: "u2@example.com"},
		u3:    subscription.User{ID: uuid.New(), ExternalID: "U3", Email: "u3@example.com", ProcessorCustomerID: "cus_u3"},
	}
	f.store.AddUser(f.u1)
	f.store.AddUser(f.u2)
	f.store.AddUser(f.u3)
	require.NoError(t, subscription.SyncCatalog(context.Background(), f.store, testPlans()))

	cfg := subscription.Config{
		SuccessURL:       "https://app.example.com/checkout/success?intent={intent_id}",
		CancelURL:        "https://app.example.com/checkout/cancel",
		ProcessorTimeout: time.Second,
		IntentTTL:        time.Hour,
		WelcomeBonus: subscription.WelcomeBonus{
			TriggerPlanID: "P1",
			GrantPlanID:   "bonus",
			PromotionCode: "welcome_bonus",
			Days:          30,
		},
	}
	for _, m := range mutate {
		m(&cfg)
	}

	f.svc = subscription.NewService(f.store, f.proc, cfg, subscription.WithClock(f.clock.Now))
	t.Cleanup(func() { f.proc.AssertExpectations(t) })
	return f
}

// checkout runs a successful checkout for user and returns the intent id.
func (f *fixture) checkout(t *testing.T, user subscription.User, sessionID string) uuid.UUID {
	t.Helper()
	f.proc.On("CreateCheckoutSession", mock.Anything, mock.Anything).Return(&subscription.CheckoutSession{
		ID:  sessionID,
		URL: "https://checkout.example.com/" + sessionID,
	}, nil).Once()

	res, err := f.svc.CreateCheckoutSession(context.Background(), subscription.CheckoutRequest{
		ExternalUserID: user.ExternalID,
		PlanID:         "P1",
		BillingCycle:   subscription.BillingMonthly,
	})
	require.NoError(t, err)
	return res.IntentID
}

// confirm makes the processor report sessionID as paid with subscription subID.
func (f *fixture) confirm(sessionID, subID string) {
	now := f.clock.Now()
	f.proc.On("GetCheckoutSession", mock.Anything, sessionID).Return(&subscription.CheckoutSessionState{
		ID:             sessionID,
		Status:         subscription.SessionComplete,
		Paid:           true,
		SubscriptionID: subID,
		CustomerID:     "cus_" + subID,
	}, nil)
	f.proc.On("GetSubscription", mock.Anything, subID).Return(&subscription.ProcessorSubscription{
		ID:                 subID,
		Status:             "active",
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 0, 30),
	}, nil)
}

// seedPaid stores an active processor-managed subscription for owner.
func (f *fixture) seedPaid(t *testing.T, owner subscription.User, externalID string) *subscription.Subscription {
	t.Helper()
	ctx := context.Background()
	now := f.clock.Now()

	intent := &subscription.Intent{
		ID:           uuid.New(),
		UserID:       owner.ID,
		PlanID:       "P1",
		BillingCycle: subscription.BillingMonthly,
		Amount:       subscription.Money{Amount: 999, Currency: "USD"},
		Status:       subscription.IntentPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, f.store.CreateIntent(ctx, intent))

	saved, created, err := f.store.FinalizeIntent(ctx, intent.ID, &subscription.Subscription{
		ID:                     uuid.New(),
		UserID:                 owner.ID,
		PlanID:                 "P1",
		ExternalSubscriptionID: externalID,
		BillingCycle:           subscription.BillingMonthly,
		Price:                  intent.Amount,
		PaymentMethod:          subscription.PaymentMethodCard,
		PaymentStatus:          subscription.PaymentCompleted,
		IsActive:               true,
		IsAutoRenew:            true,
		StartDate:              now,
		EndDate:                now.AddDate(0, 0, 30),
	})
	require.NoError(t, err)
	require.True(t, created)
	return saved
}
