package subscription

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
)

// RateLimitedProcessor bounds the outbound call rate of a Processor. Calls
// wait for a token and give up when ctx ends first.
type RateLimitedProcessor struct {
	next    Processor
	limiter *rate.Limiter
}

// RateLimited wraps p. A nil limiter disables limiting.
func RateLimited(p Processor, limiter *rate.Limiter) *RateLimitedProcessor {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &RateLimitedProcessor{next: p, limiter: limiter}
}

func (r *RateLimitedProcessor) Name() string { return r.next.Name() }

func (r *RateLimitedProcessor) wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		// Wait fails early when the deadline cannot be met.
		if ctx.Err() == nil {
			err = errors.Join(context.DeadlineExceeded, err)
		}
		return errors.Join(ErrPaymentGateway, err)
	}
	return nil
}

func (r *RateLimitedProcessor) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.next.CreateCheckoutSession(ctx, req)
}

func (r *RateLimitedProcessor) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSessionState, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.next.GetCheckoutSession(ctx, sessionID)
}

func (r *RateLimitedProcessor) GetSubscription(ctx context.Context, subscriptionID string) (*ProcessorSubscription, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.next.GetSubscription(ctx, subscriptionID)
}

func (r *RateLimitedProcessor) UpdateCustomer(ctx context.Context, customerID string, update CustomerUpdate) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.next.UpdateCustomer(ctx, customerID, update)
}

func (r *RateLimitedProcessor) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.next.AttachPaymentMethod(ctx, paymentMethodID, customerID)
}

func (r *RateLimitedProcessor) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*ProcessorCancellation, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.next.CancelSubscription(ctx, subscriptionID, atPeriodEnd)
}
