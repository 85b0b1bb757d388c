package subscription

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
)

// StripeConfig configures the Stripe processor.
type StripeConfig struct {
	SecretKey string `env:"STRIPE_SECRET_KEY"`
}

// StripeProcessor implements Processor on Stripe Checkout. The client is
// built once and injected; no package-level key is used.
type StripeProcessor struct {
	client *stripe.Client
}

// NewStripeProcessor builds a processor with its own client. httpClient may
// be nil to use the SDK default.
func NewStripeProcessor(cfg StripeConfig, httpClient *http.Client) (*StripeProcessor, error) {
	if cfg.SecretKey == "" {
		return nil, ErrMissingAPIKey
	}
	var opts []stripe.ClientOption
	if httpClient != nil {
		opts = append(opts, stripe.WithBackends(stripe.NewBackends(httpClient)))
	}
	return &StripeProcessor{client: stripe.NewClient(cfg.SecretKey, opts...)}, nil
}

// NewStripeProcessorWithClient wraps an existing client.
func NewStripeProcessorWithClient(client *stripe.Client) *StripeProcessor {
	return &StripeProcessor{client: client}
}

func (p *StripeProcessor) Name() string { return "stripe" }

func (p *StripeProcessor) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	item := &stripe.CheckoutSessionCreateLineItemParams{Quantity: stripe.Int64(1)}
	if req.PriceID != "" {
		item.Price = stripe.String(req.PriceID)
	} else {
		item.PriceData = &stripe.CheckoutSessionCreateLineItemPriceDataParams{
			Currency:   stripe.String(strings.ToLower(req.Price.Currency)),
			UnitAmount: stripe.Int64(req.Price.Amount),
			ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
				Name: stripe.String(req.ProductName),
			},
			Recurring: &stripe.CheckoutSessionCreateLineItemPriceDataRecurringParams{
				Interval: stripe.String(req.BillingCycle.StripeInterval()),
			},
		}
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
		ClientReferenceID:  stripe.String(req.IntentID.String()),
		LineItems:          []*stripe.CheckoutSessionCreateLineItemParams{item},
		PaymentMethodTypes: stripe.StringSlice(req.PaymentMethodTypes),
		Metadata:           map[string]string{"intent_id": req.IntentID.String()},
	}
	switch {
	case req.CustomerID != "":
		params.Customer = stripe.String(req.CustomerID)
	case req.CustomerEmail != "":
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}

	s, err := p.client.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, p.wrap("create checkout session", err)
	}
	if s.URL == "" {
		return nil, errors.Join(ErrPaymentGateway, ErrNoCheckoutURL)
	}

	out := &CheckoutSession{ID: s.ID, URL: s.URL}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.PaymentIntent != nil {
		out.PaymentIntentID = s.PaymentIntent.ID
	}
	if s.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(s.ExpiresAt, 0).UTC()
	}
	return out, nil
}

// GetCheckoutSession treats no_payment_required (100% coupons, trials) as
// paid alongside paid.
func (p *StripeProcessor) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSessionState, error) {
	s, err := p.client.V1CheckoutSessions.Retrieve(ctx, sessionID, nil)
	if err != nil {
		return nil, p.wrap("get checkout session", err)
	}

	state := &CheckoutSessionState{
		ID:     s.ID,
		Status: SessionStatus(s.Status),
		Paid: s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid ||
			s.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired,
	}
	if s.Subscription != nil {
		state.SubscriptionID = s.Subscription.ID
	}
	if s.Customer != nil {
		state.CustomerID = s.Customer.ID
	}
	if s.PaymentIntent != nil {
		state.PaymentIntentID = s.PaymentIntent.ID
	}
	return state, nil
}

func (p *StripeProcessor) GetSubscription(ctx context.Context, subscriptionID string) (*ProcessorSubscription, error) {
	sub, err := p.client.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
	if err != nil {
		return nil, p.wrap("get subscription", err)
	}
	return stripeSubscription(sub), nil
}

func (p *StripeProcessor) UpdateCustomer(ctx context.Context, customerID string, update CustomerUpdate) error {
	params := &stripe.CustomerUpdateParams{}
	if update.DefaultPaymentMethodID != "" {
		params.InvoiceSettings = &stripe.CustomerUpdateInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(update.DefaultPaymentMethodID),
		}
	}
	if update.Email != "" {
		params.Email = stripe.String(update.Email)
	}
	if _, err := p.client.V1Customers.Update(ctx, customerID, params); err != nil {
		return p.wrap("update customer", err)
	}
	return nil
}

func (p *StripeProcessor) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error {
	params := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
	if _, err := p.client.V1PaymentMethods.Attach(ctx, paymentMethodID, params); err != nil {
		return p.wrap("attach payment method", err)
	}
	return nil
}

// CancelSubscription schedules cancellation at period end or cancels now.
func (p *StripeProcessor) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*ProcessorCancellation, error) {
	var (
		sub *stripe.Subscription
		err error
	)
	if atPeriodEnd {
		sub, err = p.client.V1Subscriptions.Update(ctx, subscriptionID, &stripe.SubscriptionUpdateParams{
			CancelAtPeriodEnd: stripe.Bool(true),
		})
	} else {
		sub, err = p.client.V1Subscriptions.Cancel(ctx, subscriptionID, nil)
	}
	if err != nil {
		return nil, p.wrap("cancel subscription", err)
	}

	ps := stripeSubscription(sub)
	out := &ProcessorCancellation{Status: ps.Status, CurrentPeriodEnd: ps.CurrentPeriodEnd}
	if ps.CanceledAt != nil {
		out.CanceledAt = *ps.CanceledAt
	}
	return out, nil
}

func stripeSubscription(sub *stripe.Subscription) *ProcessorSubscription {
	ps := &ProcessorSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		ps.CustomerID = sub.Customer.ID
	}
	if sub.CanceledAt > 0 {
		t := time.Unix(sub.CanceledAt, 0).UTC()
		ps.CanceledAt = &t
	}
	// Billing periods live on the items.
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.CurrentPeriodStart > 0 {
			ps.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		}
		if item.CurrentPeriodEnd > 0 {
			ps.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		}
	}
	return ps
}

func (p *StripeProcessor) wrap(op string, err error) error {
	gerr := &GatewayError{Processor: p.Name(), Operation: op, Err: err}
	var serr *stripe.Error
	if errors.As(err, &serr) {
		gerr.StatusCode = serr.HTTPStatusCode
		gerr.Code = string(serr.Code)
		gerr.Message = serr.Msg
		if serr.Code == stripe.ErrorCodeResourceMissing {
			gerr.StatusCode = http.StatusNotFound
		}
	}
	return gerr
}
