package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/subledger/paycore/pkg/logger"
	"github.com/subledger/paycore/pkg/subscription"
)

// Service is the part of subscription.Service the HTTP module consumes.
type Service interface {
	Plans(ctx context.Context) ([]subscription.Plan, error)
	CreateCheckoutSession(ctx context.Context, req subscription.CheckoutRequest) (*subscription.CheckoutResult, error)
	Intent(ctx context.Context, externalUserID string, intentID uuid.UUID) (*subscription.Intent, error)
	VerifyIntent(ctx context.Context, intentID uuid.UUID) (*subscription.VerifyResult, error)
	AbandonIntent(ctx context.Context, intentID uuid.UUID, externalUserID string) (*subscription.Intent, error)
	IntentHistory(ctx context.Context, externalUserID string, limit int) ([]subscription.Intent, error)
	Overview(ctx context.Context, externalUserID string) (*subscription.Overview, error)
	History(ctx context.Context, externalUserID string) ([]subscription.SubscriptionView, error)
	CancelSubscription(ctx context.Context, externalUserID, externalSubscriptionID string, opts ...subscription.CancelOption) (*subscription.CancelResult, error)
	CancelLocal(ctx context.Context, externalUserID string, subscriptionID uuid.UUID, opts ...subscription.CancelOption) (*subscription.CancelResult, error)
}

var _ Service = (*subscription.Service)(nil)

// Option configures the billing router.
type Option func(*handlers)

// WithLogger sets the request logger. Nil is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(h *handlers) {
		if l != nil {
			h.log = l
		}
	}
}

// WithIdentityHeader overrides DefaultIdentityHeader.
func WithIdentityHeader(name string) Option {
	return func(h *handlers) { h.identityHeader = name }
}

// WithClock sets the clock used to classify subscriptions in responses. Nil
// is ignored.
func WithClock(now func() time.Time) Option {
	return func(h *handlers) {
		if now != nil {
			h.now = now
		}
	}
}

// Router creates the billing module router.
//
//	r := chi.NewRouter()
//	r.Mount("/billing", billing.Router(svc, billing.WithLogger(log)))
//
// GET /plans is public; everything else requires the identity header.
func Router(svc Service, opts ...Option) chi.Router {
	h := &handlers{
		svc:            svc,
		log:            logger.Discard(),
		identityHeader: DefaultIdentityHeader,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With(logger.Component("billing"))

	r := chi.NewRouter()
	r.Get("/plans", h.plans)

	r.Group(func(r chi.Router) {
		r.Use(Identity(h.identityHeader))

		r.Post("/checkout", h.checkout)

		r.Get("/intents", h.intents)
		r.Get("/intents/{intentID}", h.verify)
		r.Post("/intents/{intentID}/abandon", h.abandon)

		r.Get("/subscription", h.overview)
		r.Get("/subscriptions/history", h.history)
		r.Post("/subscriptions/{externalSubscriptionID}/cancel", h.cancel)
		r.Post("/grants/{subscriptionID}/cancel", h.cancelGrant)
	})

	return r
}
