package subscription

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/PaddleHQ/paddle-go-sdk/v4/pkg/paddleerr"
)

// PaddleConfig configures the Paddle processor.
type PaddleConfig struct {
	APIKey      string `env:"PADDLE_API_KEY"`
	Environment string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
	// CheckoutURL is the approved page that loads Paddle.js and opens the
	// checkout for the ?_ptxn= transaction. Empty uses the default payment
	// link set in the Paddle dashboard. That page owns the post-payment
	// redirect, so it must send the buyer on to CHECKOUT_SUCCESS_URL.
	CheckoutURL string `env:"PADDLE_CHECKOUT_URL"`
	// BaseURL overrides the API endpoint chosen by Environment.
	BaseURL string `env:"PADDLE_BASE_URL"`
}

// PaddleProcessor implements Processor on Paddle Billing transactions.
// Paddle checkouts require catalog prices, so plans must define
// ProviderPrices for every cycle they sell. Paddle has no cancel URL: a
// buyer who closes the overlay simply stays on the checkout page.
type PaddleProcessor struct {
	client      *paddle.SDK
	checkoutURL string
}

// NewPaddleProcessor builds a processor for the configured environment.
// It returns ErrMissingAPIKey or ErrInvalidProviderEnvironment on bad config.
func NewPaddleProcessor(cfg PaddleConfig) (*PaddleProcessor, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	var opts []paddle.Option
	if cfg.BaseURL != "" {
		opts = append(opts, paddle.WithBaseURL(cfg.BaseURL))
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey, opts...)
	case "production", "":
		client, err = paddle.New(cfg.APIKey, opts...)
	default:
		return nil, errors.Join(ErrInvalidProviderEnvironment, errors.New(cfg.Environment))
	}
	if err != nil {
		return nil, err
	}
	return &PaddleProcessor{client: client, checkoutURL: cfg.CheckoutURL}, nil
}

func (p *PaddleProcessor) Name() string { return "paddle" }

// CreateCheckoutSession creates a transaction for the plan's catalog price
// and returns its checkout link. The intent id travels in custom_data.
func (p *PaddleProcessor) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	if req.PriceID == "" {
		return nil, errors.Join(ErrInvalidPlanConfiguration, errors.New("paddle checkout requires a catalog price id"))
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})
	txReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"intent_id":   req.IntentID.String(),
			"success_url": req.SuccessURL,
		},
	}
	if p.checkoutURL != "" {
		txReq.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(p.checkoutURL)}
	}
	if req.CustomerID != "" {
		txReq.CustomerID = paddle.PtrTo(req.CustomerID)
	}

	tx, err := p.client.TransactionsClient.CreateTransaction(ctx, txReq)
	if err != nil {
		return nil, p.wrap("create transaction", err)
	}
	if tx.Checkout == nil || tx.Checkout.URL == nil || *tx.Checkout.URL == "" {
		return nil, errors.Join(ErrPaymentGateway, ErrNoCheckoutURL)
	}

	out := &CheckoutSession{ID: tx.ID, URL: *tx.Checkout.URL}
	if tx.CustomerID != nil {
		out.CustomerID = *tx.CustomerID
	}
	return out, nil
}

// GetCheckoutSession maps a transaction onto session semantics. Only
// completed transactions count as paid: Paddle links the subscription when
// a transaction completes, and a merely paid one has none yet. Canceled
// transactions are expired, everything else is still open.
func (p *PaddleProcessor) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSessionState, error) {
	tx, err := p.client.TransactionsClient.GetTransaction(ctx, &paddle.GetTransactionRequest{TransactionID: sessionID})
	if err != nil {
		return nil, p.wrap("get transaction", err)
	}

	state := &CheckoutSessionState{ID: tx.ID, Status: SessionOpen}
	switch string(tx.Status) {
	case string(paddle.TransactionStatusCompleted):
		state.Status = SessionComplete
		state.Paid = true
	case string(paddle.TransactionStatusCanceled):
		state.Status = SessionExpired
	}
	if tx.SubscriptionID != nil {
		state.SubscriptionID = *tx.SubscriptionID
	}
	if tx.CustomerID != nil {
		state.CustomerID = *tx.CustomerID
	}
	return state, nil
}

// GetSubscription reads the current billing period and any scheduled cancel.
func (p *PaddleProcessor) GetSubscription(ctx context.Context, subscriptionID string) (*ProcessorSubscription, error) {
	sub, err := p.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{SubscriptionID: subscriptionID})
	if err != nil {
		return nil, p.wrap("get subscription", err)
	}
	return paddleSubscription(sub), nil
}

// UpdateCustomer is a no-op: Paddle collects payment methods inside its
// own checkout.
func (p *PaddleProcessor) UpdateCustomer(context.Context, string, CustomerUpdate) error { return nil }

// AttachPaymentMethod is a no-op for the same reason as UpdateCustomer.
func (p *PaddleProcessor) AttachPaymentMethod(context.Context, string, string) error { return nil }

// CancelSubscription schedules the cancel for the next billing period or
// applies it immediately.
func (p *PaddleProcessor) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*ProcessorCancellation, error) {
	effective := paddle.EffectiveFromImmediately
	if atPeriodEnd {
		effective = paddle.EffectiveFromNextBillingPeriod
	}
	sub, err := p.client.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: subscriptionID,
		EffectiveFrom:  paddle.PtrTo(effective),
	})
	if err != nil {
		return nil, p.wrap("cancel subscription", err)
	}

	ps := paddleSubscription(sub)
	out := &ProcessorCancellation{Status: ps.Status, CurrentPeriodEnd: ps.CurrentPeriodEnd}
	if ps.CanceledAt != nil {
		out.CanceledAt = *ps.CanceledAt
	}
	return out, nil
}

func paddleSubscription(sub *paddle.Subscription) *ProcessorSubscription {
	ps := &ProcessorSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CustomerID:        sub.CustomerID,
		CancelAtPeriodEnd: sub.ScheduledChange != nil && string(sub.ScheduledChange.Action) == "cancel",
	}
	if sub.CurrentBillingPeriod != nil {
		ps.CurrentPeriodStart = parsePaddleTime(sub.CurrentBillingPeriod.StartsAt)
		ps.CurrentPeriodEnd = parsePaddleTime(sub.CurrentBillingPeriod.EndsAt)
	}
	if sub.CanceledAt != nil {
		if t := parsePaddleTime(*sub.CanceledAt); !t.IsZero() {
			ps.CanceledAt = &t
		}
	}
	return ps
}

func parsePaddleTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// wrap keeps Paddle's error detail for the user. The SDK does not carry the
// HTTP status on its errors, so not-found is recognised by code.
func (p *PaddleProcessor) wrap(op string, err error) error {
	gerr := &GatewayError{Processor: p.Name(), Operation: op, Err: err}
	var perr *paddleerr.Error
	if errors.As(err, &perr) {
		gerr.StatusCode = perr.Status
		gerr.Code = perr.Code
		gerr.Message = perr.Detail
		if errors.Is(err, paddle.ErrNotFound) {
			gerr.StatusCode = http.StatusNotFound
		}
	}
	return gerr
}
