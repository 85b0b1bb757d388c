package billing_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subledger/paycore/modules/billing"
	"github.com/subledger/paycore/pkg/subscription"
	"github.com/subledger/paycore/pkg/subscription/memstore"
)

// fakeProcessor completes every session it created once pay is called.
type fakeProcessor struct {
	mu        sync.Mutex
	sessions  map[string]*subscription.CheckoutSessionState
	cancelErr error
	now       time.Time
}

func newFakeProcessor(now time.Time) *fakeProcessor {
	return &fakeProcessor{sessions: map[string]*subscription.CheckoutSessionState{}, now: now}
}

func (p *fakeProcessor) Name() string { return "fake" }

func (p *fakeProcessor) CreateCheckoutSession(_ context.Context, req subscription.CheckoutSessionRequest) (*subscription.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := "cs_" + req.IntentID.String()[:8]
	p.sessions[id] = &subscription.CheckoutSessionState{ID: id, Status: subscription.SessionOpen}
	return &subscription.CheckoutSession{ID: id, URL: "https://pay.example.com/" + id}, nil
}

func (p *fakeProcessor) GetCheckoutSession(_ context.Context, id string) (*subscription.CheckoutSessionState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[id]
	if !ok {
		return nil, &subscription.GatewayError{Processor: "fake", StatusCode: http.StatusNotFound, Message: "no such session"}
	}
	cp := *s
	return &cp, nil
}

func (p *fakeProcessor) pay(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.sessions[sessionID]
	s.Status = subscription.SessionComplete
	s.Paid = true
	s.SubscriptionID = "sub_" + strings.TrimPrefix(sessionID, "cs_")
}

func (p *fakeProcessor) GetSubscription(_ context.Context, id string) (*subscription.ProcessorSubscription, error) {
	return &subscription.ProcessorSubscription{
		ID:                 id,
		Status:             "active",
		CurrentPeriodStart: p.now,
		CurrentPeriodEnd:   p.now.AddDate(0, 0, 30),
	}, nil
}

func (p *fakeProcessor) UpdateCustomer(context.Context, string, subscription.CustomerUpdate) error {
	return nil
}

func (p *fakeProcessor) AttachPaymentMethod(context.Context, string, string) error { return nil }

func (p *fakeProcessor) CancelSubscription(_ context.Context, _ string, _ bool) (*subscription.ProcessorCancellation, error) {
	if p.cancelErr != nil {
		return nil, p.cancelErr
	}
	return &subscription.ProcessorCancellation{Status: "active", CanceledAt: p.now, CurrentPeriodEnd: p.now.AddDate(0, 0, 30)}, nil
}

type env struct {
	srv   *httptest.Server
	proc  *fakeProcessor
	store *memstore.Store
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newEnv(t *testing.T) *env {
	t.Helper()
	store := memstore.New()
	store.AddUser(subscription.User{ID: uuid.New(), ExternalID: "U1", Email: "u1@example.com"})
	store.AddUser(subscription.User{ID: uuid.New(), ExternalID: "U2", Email: "u2@example.com"})
	require.NoError(t, subscription.SyncCatalog(context.Background(), store, []subscription.Plan{
		{ID: "P1", Name: "Premium", MonthlyPrice: subscription.MoneyFromDecimal(9.99, "USD"), YearlyPrice: subscription.MoneyFromDecimal(99.99, "USD"), Public: true},
		{ID: "hidden", Name: "Hidden", MonthlyPrice: subscription.MoneyFromDecimal(1, "USD"), YearlyPrice: subscription.MoneyFromDecimal(10, "USD")},
	}))

	proc := newFakeProcessor(now)
	clock := func() time.Time { return now }
	svc := subscription.NewService(store, proc, subscription.Config{
		SuccessURL:       "https://app.example.com/ok",
		CancelURL:        "https://app.example.com/cancel",
		ProcessorTimeout: time.Second,
	}, subscription.WithClock(clock))

	srv := httptest.NewServer(billing.Router(svc, billing.WithClock(clock)))
	t.Cleanup(srv.Close)
	return &env{srv: srv, proc: proc, store: store}
}

type envelope struct {
	Data  json.RawMessage      `json:"data"`
	Error *billing.ErrorDetail `json:"error"`
}

func (e *env) do(t *testing.T, method, path, user, body string) (int, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(billing.DefaultIdentityHeader, user)
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestCheckoutFlow(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	status, body := e.do(t, http.MethodGet, "/plans", "", "")
	require.Equal(t, http.StatusOK, status)
	plans := decode[[]map[string]any](t, body.Data)
	require.Len(t, plans, 1)
	assert.Equal(t, "P1", plans[0]["id"])
	assert.InDelta(t, 9.99, plans[0]["price_monthly"], 0.001)

	status, body = e.do(t, http.MethodPost, "/checkout", "U1", `{"plan_id":"P1","billing_cycle":"monthly"}`)
	require.Equal(t, http.StatusCreated, status)
	co := decode[struct {
		IntentID    uuid.UUID `json:"intent_id"`
		RedirectURL string    `json:"redirect_url"`
	}](t, body.Data)
	require.NotEqual(t, uuid.Nil, co.IntentID)
	assert.True(t, strings.HasPrefix(co.RedirectURL, "https://pay.example.com/cs_"))

	path := "/intents/" + co.IntentID.String()
	status, body = e.do(t, http.MethodGet, path, "U1", "")
	require.Equal(t, http.StatusOK, status)
	v := decode[map[string]any](t, body.Data)
	assert.Equal(t, false, v["completed"])
	assert.Equal(t, "pending", v["status"])

	status, _ = e.do(t, http.MethodGet, path, "U2", "")
	assert.Equal(t, http.StatusForbidden, status)

	e.proc.pay(strings.TrimPrefix(co.RedirectURL, "https://pay.example.com/"))
	for range 2 {
		status, body = e.do(t, http.MethodGet, path, "U1", "")
		require.Equal(t, http.StatusOK, status)
		v = decode[map[string]any](t, body.Data)
		assert.Equal(t, true, v["completed"])
		assert.Equal(t, "completed", v["status"])
		sub := v["subscription"].(map[string]any)
		assert.Equal(t, "active", sub["status"])
		assert.Equal(t, "Premium", sub["plan_name"])
	}

	status, body = e.do(t, http.MethodGet, "/subscription", "U1", "")
	require.Equal(t, http.StatusOK, status)
	ov := decode[map[string]any](t, body.Data)
	assert.Equal(t, true, ov["entitled"])
	assert.Len(t, ov["history"], 1)

	status, body = e.do(t, http.MethodGet, "/intents?limit=5", "U1", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]map[string]any](t, body.Data), 1)
}

func TestCancelEndpoints(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	_, body := e.do(t, http.MethodPost, "/checkout", "U1", `{"plan_id":"P1","billing_cycle":"yearly"}`)
	co := decode[map[string]string](t, body.Data)
	sessionID := strings.TrimPrefix(co["redirect_url"], "https://pay.example.com/")
	e.proc.pay(sessionID)
	_, _ = e.do(t, http.MethodGet, "/intents/"+co["intent_id"], "U1", "")
	subID := "sub_" + strings.TrimPrefix(sessionID, "cs_")

	status, body := e.do(t, http.MethodPost, "/subscriptions/"+subID+"/cancel", "U2", "")
	require.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "not_authorized", body.Error.Code)

	status, body = e.do(t, http.MethodPost, "/subscriptions/"+subID+"/cancel", "U1", "")
	require.Equal(t, http.StatusOK, status)
	res := decode[map[string]any](t, body.Data)
	assert.Equal(t, true, res["success"])
	assert.Equal(t, "cancelled_entitled", res["status"])

	status, body = e.do(t, http.MethodPost, "/subscriptions/"+subID+"/cancel", "U1", `{"immediately":true}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "inactive", decode[map[string]any](t, body.Data)["status"])
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   string
		status int
		code   string
	}{
		{"missing identity", http.MethodGet, "/subscription", "", "", http.StatusUnauthorized, "unauthenticated"},
		{"unknown user", http.MethodGet, "/subscription", "ghost", "", http.StatusUnauthorized, "user_not_found"},
		{"bad cycle", http.MethodPost, "/checkout", "U1", `{"plan_id":"P1","billing_cycle":"weekly"}`, http.StatusUnprocessableEntity, "validation_error"},
		{"unknown field", http.MethodPost, "/checkout", "U1", `{"plan":"P1"}`, http.StatusUnprocessableEntity, "validation_error"},
		{"unknown plan", http.MethodPost, "/checkout", "U1", `{"plan_id":"nope","billing_cycle":"monthly"}`, http.StatusNotFound, "plan_not_found"},
		{"malformed intent id", http.MethodGet, "/intents/not-a-uuid", "U1", "", http.StatusNotFound, "intent_not_found"},
		{"unknown intent", http.MethodGet, "/intents/" + uuid.NewString(), "U1", "", http.StatusNotFound, "intent_not_found"},
		{"bad limit", http.MethodGet, "/intents?limit=0", "U1", "", http.StatusUnprocessableEntity, "validation_error"},
		{"unknown grant", http.MethodPost, "/grants/" + uuid.NewString() + "/cancel", "U1", "", http.StatusForbidden, "not_authorized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := e.do(t, tt.method, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.status, status)
			require.NotNil(t, body.Error)
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}
}

func TestGatewayMessageIsShown(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	_, body := e.do(t, http.MethodPost, "/checkout", "U1", `{"plan_id":"P1","billing_cycle":"monthly"}`)
	co := decode[map[string]string](t, body.Data)
	sessionID := strings.TrimPrefix(co["redirect_url"], "https://pay.example.com/")
	e.proc.pay(sessionID)
	_, _ = e.do(t, http.MethodGet, "/intents/"+co["intent_id"], "U1", "")

	e.proc.cancelErr = &subscription.GatewayError{Processor: "fake", StatusCode: http.StatusBadRequest, Message: "Subscription is locked"}
	status, body := e.do(t, http.MethodPost, "/subscriptions/sub_"+strings.TrimPrefix(sessionID, "cs_")+"/cancel", "U1", "")
	assert.Equal(t, http.StatusBadGateway, status)
	require.NotNil(t, body.Error)
	assert.Equal(t, "payment_gateway_error", body.Error.Code)
	assert.Contains(t, body.Error.Message, "Subscription is locked")
	assert.Contains(t, body.Error.Message, "try again")
}
