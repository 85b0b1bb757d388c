package subscription_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subledger/paycore/pkg/subscription"
)

// paddleAPI serves canned Paddle responses keyed by "METHOD /path" and
// records decoded JSON request bodies.
type paddleAPI struct {
	routes map[string]stripeReply

	mu     sync.Mutex
	bodies []map[string]any
}

func newPaddleProcessor(t *testing.T, checkoutURL string, routes map[string]stripeReply) (*subscription.PaddleProcessor, *paddleAPI) {
	t.Helper()
	api := &paddleAPI{routes: routes}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if r.Body != nil && r.ContentLength != 0 {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		api.mu.Lock()
		api.bodies = append(api.bodies, body)
		api.mu.Unlock()

		reply, ok := api.routes[r.Method+" "+r.URL.Path]
		if !ok {
			reply = stripeReply{http.StatusNotFound, paddleError("not_found", "Entity not found")}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(reply.status)
		_, _ = w.Write([]byte(reply.body))
	}))
	t.Cleanup(srv.Close)

	p, err := subscription.NewPaddleProcessor(subscription.PaddleConfig{
		APIKey:      "pdl_test_123",
		Environment: "sandbox",
		CheckoutURL: checkoutURL,
		BaseURL:     srv.URL,
	})
	require.NoError(t, err)
	return p, api
}

func paddleData(v string) string {
	return `{"data":` + v + `,"meta":{"request_id":"req_1"}}`
}

func paddleError(code, detail string) string {
	return fmt.Sprintf(`{"error":{"type":"request_error","code":%q,"detail":%q},"meta":{"request_id":"req_1"}}`, code, detail)
}

func (a *paddleAPI) lastBody() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bodies[len(a.bodies)-1]
}

func TestNewPaddleProcessor(t *testing.T) {
	t.Parallel()

	_, err := subscription.NewPaddleProcessor(subscription.PaddleConfig{})
	assert.ErrorIs(t, err, subscription.ErrMissingAPIKey)

	_, err = subscription.NewPaddleProcessor(subscription.PaddleConfig{APIKey: "k", Environment: "staging"})
	assert.ErrorIs(t, err, subscription.ErrInvalidProviderEnvironment)

	p, err := subscription.NewPaddleProcessor(subscription.PaddleConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "paddle", p.Name())
}

func TestPaddleGetCheckoutSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		txStatus   string
		subID      string
		wantStatus subscription.SessionStatus
		wantPaid   bool
	}{
		{"completed", `"sub_1"`, subscription.SessionComplete, true},
		{"paid", "null", subscription.SessionOpen, false},
		{"ready", "null", subscription.SessionOpen, false},
		{"past_due", "null", subscription.SessionOpen, false},
		{"canceled", "null", subscription.SessionExpired, false},
	}
	for _, tt := range tests {
		t.Run(tt.txStatus, func(t *testing.T) {
			t.Parallel()
			p, _ := newPaddleProcessor(t, "", map[string]stripeReply{
				"GET /transactions/txn_1": {http.StatusOK, paddleData(fmt.Sprintf(
					`{"id":"txn_1","status":%q,"customer_id":"ctm_1","subscription_id":%s}`, tt.txStatus, tt.subID))},
			})

			state, err := p.GetCheckoutSession(ctx, "txn_1")
			require.NoError(t, err)
			assert.Equal(t, "txn_1", state.ID)
			assert.Equal(t, tt.wantStatus, state.Status)
			assert.Equal(t, tt.wantPaid, state.Paid)
			assert.Equal(t, "ctm_1", state.CustomerID)
			if tt.wantPaid {
				assert.Equal(t, "sub_1", state.SubscriptionID)
			}
		})
	}
}

func TestPaddleGetSubscription(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	p, _ := newPaddleProcessor(t, "", map[string]stripeReply{
		"GET /subscriptions/sub_1": {http.StatusOK, paddleData(`{"id":"sub_1","status":"active","customer_id":"ctm_1",
			"current_billing_period":{"starts_at":"2026-03-01T00:00:00Z","ends_at":"2026-04-01T00:00:00Z"},
			"scheduled_change":{"action":"cancel","effective_at":"2026-04-01T00:00:00Z"}}`)},
	})

	t.Run("billing period and scheduled cancel", func(t *testing.T) {
		sub, err := p.GetSubscription(ctx, "sub_1")
		require.NoError(t, err)
		assert.Equal(t, "active", sub.Status)
		assert.Equal(t, "ctm_1", sub.CustomerID)
		assert.True(t, sub.CancelAtPeriodEnd)
		assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), sub.CurrentPeriodStart)
		assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), sub.CurrentPeriodEnd)
	})

	t.Run("missing subscription is not found", func(t *testing.T) {
		_, err := p.GetSubscription(ctx, "sub_gone")
		require.Error(t, err)
		assert.ErrorIs(t, err, subscription.ErrProcessorNotFound)
		assert.ErrorIs(t, err, subscription.ErrPaymentGateway)
		assert.Equal(t, "Entity not found", subscription.GatewayMessage(err))
	})
}

func TestPaddleCreateCheckoutSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	intentID := uuid.New()
	req := subscription.CheckoutSessionRequest{
		IntentID:   intentID,
		PriceID:    "pri_monthly",
		CustomerID: "ctm_1",
		SuccessURL: "https://app.example.com/done",
	}
	created := paddleData(`{"id":"txn_1","status":"ready","customer_id":"ctm_1",
		"checkout":{"url":"https://pay.example.com/checkout?_ptxn=txn_1"}}`)

	t.Run("uses the configured checkout page", func(t *testing.T) {
		t.Parallel()
		p, api := newPaddleProcessor(t, "https://pay.example.com/checkout", map[string]stripeReply{
			"POST /transactions": {http.StatusCreated, created},
		})

		out, err := p.CreateCheckoutSession(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "txn_1", out.ID)
		assert.Equal(t, "https://pay.example.com/checkout?_ptxn=txn_1", out.URL)
		assert.Equal(t, "ctm_1", out.CustomerID)

		body := api.lastBody()
		assert.Equal(t, "ctm_1", body["customer_id"])
		assert.Equal(t, map[string]any{"url": "https://pay.example.com/checkout"}, body["checkout"])
		custom, ok := body["custom_data"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, intentID.String(), custom["intent_id"])
		assert.Equal(t, "https://app.example.com/done", custom["success_url"])
	})

	t.Run("default payment link when no page configured", func(t *testing.T) {
		t.Parallel()
		p, api := newPaddleProcessor(t, "", map[string]stripeReply{
			"POST /transactions": {http.StatusCreated, created},
		})

		_, err := p.CreateCheckoutSession(ctx, req)
		require.NoError(t, err)
		assert.NotContains(t, api.lastBody(), "checkout")
	})

	t.Run("catalog price is required", func(t *testing.T) {
		t.Parallel()
		p, _ := newPaddleProcessor(t, "", nil)
		r := req
		r.PriceID = ""
		_, err := p.CreateCheckoutSession(ctx, r)
		assert.ErrorIs(t, err, subscription.ErrInvalidPlanConfiguration)
	})

	t.Run("transaction without checkout url", func(t *testing.T) {
		t.Parallel()
		p, _ := newPaddleProcessor(t, "", map[string]stripeReply{
			"POST /transactions": {http.StatusCreated, paddleData(`{"id":"txn_2","status":"ready"}`)},
		})
		_, err := p.CreateCheckoutSession(ctx, req)
		assert.ErrorIs(t, err, subscription.ErrNoCheckoutURL)
	})

	t.Run("gateway message is kept", func(t *testing.T) {
		t.Parallel()
		p, _ := newPaddleProcessor(t, "", map[string]stripeReply{
			"POST /transactions": {http.StatusBadRequest, paddleError("transaction_price_not_found", "Price pri_monthly not found")},
		})
		_, err := p.CreateCheckoutSession(ctx, req)
		assert.ErrorIs(t, err, subscription.ErrPaymentGateway)
		assert.NotErrorIs(t, err, subscription.ErrProcessorNotFound)
		assert.Equal(t, "Price pri_monthly not found", subscription.GatewayMessage(err))
	})
}

func TestPaddleCancelSubscription(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("at period end", func(t *testing.T) {
		t.Parallel()
		p, api := newPaddleProcessor(t, "", map[string]stripeReply{
			"POST /subscriptions/sub_1/cancel": {http.StatusOK, paddleData(`{"id":"sub_1","status":"active",
				"current_billing_period":{"starts_at":"2026-03-01T00:00:00Z","ends_at":"2026-04-01T00:00:00Z"},
				"scheduled_change":{"action":"cancel","effective_at":"2026-04-01T00:00:00Z"}}`)},
		})
		out, err := p.CancelSubscription(ctx, "sub_1", true)
		require.NoError(t, err)
		assert.Equal(t, "next_billing_period", api.lastBody()["effective_from"])
		assert.Equal(t, "active", out.Status)
		assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), out.CurrentPeriodEnd)
		assert.True(t, out.CanceledAt.IsZero())
	})

	t.Run("immediately", func(t *testing.T) {
		t.Parallel()
		p, api := newPaddleProcessor(t, "", map[string]stripeReply{
			"POST /subscriptions/sub_1/cancel": {http.StatusOK, paddleData(`{"id":"sub_1","status":"canceled",
				"canceled_at":"2026-03-10T00:00:00Z"}`)},
		})
		out, err := p.CancelSubscription(ctx, "sub_1", false)
		require.NoError(t, err)
		assert.Equal(t, "immediately", api.lastBody()["effective_from"])
		assert.Equal(t, "canceled", out.Status)
		assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), out.CanceledAt)
	})

	t.Run("unknown subscription", func(t *testing.T) {
		t.Parallel()
		p, _ := newPaddleProcessor(t, "", nil)
		_, err := p.CancelSubscription(ctx, "sub_nope", true)
		assert.ErrorIs(t, err, subscription.ErrProcessorNotFound)
	})
}
