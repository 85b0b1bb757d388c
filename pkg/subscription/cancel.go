package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/subledger/paycore/pkg/logger"
)

// CancelOption configures a cancellation.
type CancelOption func(*cancelOptions)

type cancelOptions struct {
	immediately bool
}

// Immediately ends entitlement now instead of at the end of the period.
func Immediately() CancelOption {
	return func(o *cancelOptions) { o.immediately = true }
}

func (o cancelOptions) mode() string {
	if o.immediately {
		return "immediate"
	}
	return "period_end"
}

// CancelResult reports the cancellation as the processor recorded it.
// Status says whether the user keeps access until CurrentPeriodEnd.
type CancelResult struct {
	Success          bool
	CanceledAt       time.Time
	CurrentPeriodEnd time.Time
	Status           EntitlementState
	Subscription     *Subscription
}

// CancelSubscription cancels a processor-managed subscription owned by the
// user. By default entitlement continues until the period end. Foreign and
// unknown subscriptions are both reported as ErrNotAuthorized. Cancelling
// an already cancelled subscription succeeds without side effects, except
// that an immediate cancel still ends a period-end cancellation early.
func (s *Service) CancelSubscription(ctx context.Context, externalUserID, externalSubscriptionID string, opts ...CancelOption) (*CancelResult, error) {
	o := applyCancelOptions(opts)

	user, err := s.resolveUser(ctx, externalUserID)
	if err != nil {
		return nil, err
	}
	sub, err := s.store.GetSubscriptionByExternalID(ctx, externalSubscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil, ErrNotAuthorized
		}
		return nil, storeErr(err)
	}
	if sub.UserID != user.ID {
		return nil, ErrNotAuthorized
	}

	log := s.log.With(logger.UserID(user.ID), logger.SubscriptionID(sub.ID), slog.String("mode", o.mode()))

	if alreadyCancelled(sub, o) {
		s.rec.SubscriptionCancelled(o.mode(), "noop")
		return s.cancelResult(sub, time.Time{}), nil
	}

	pc, err := callProcessor(ctx, s, "cancel_subscription", func(ctx context.Context) (*ProcessorCancellation, error) {
		return s.proc.CancelSubscription(ctx, sub.ExternalSubscriptionID, !o.immediately)
	})
	if err != nil {
		log.WarnContext(ctx, "processor cancellation failed", logger.Error(err))
		s.rec.SubscriptionCancelled(o.mode(), "gateway_error")
		return nil, err
	}

	updated, err := s.store.MarkCancelled(ctx, sub.ID, s.now(), o.immediately)
	if err != nil {
		// The processor already cancelled; re-issuing is idempotent there.
		log.ErrorContext(ctx, "failed to record cancellation", logger.Error(err))
		s.rec.SubscriptionCancelled(o.mode(), "persistence_error")
		return nil, storeErr(err)
	}

	log.InfoContext(ctx, "subscription cancelled")
	s.rec.SubscriptionCancelled(o.mode(), "ok")
	return s.cancelResult(updated, pc.CurrentPeriodEnd), nil
}

// CancelLocal cancels a subscription the processor does not manage, such
// as a promotional grant. It reaches the same local state as
// CancelSubscription without any external call.
func (s *Service) CancelLocal(ctx context.Context, externalUserID string, subscriptionID uuid.UUID, opts ...CancelOption) (*CancelResult, error) {
	o := applyCancelOptions(opts)

	user, err := s.resolveUser(ctx, externalUserID)
	if err != nil {
		return nil, err
	}
	sub, err := s.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil, ErrNotAuthorized
		}
		return nil, storeErr(err)
	}
	if sub.UserID != user.ID {
		return nil, ErrNotAuthorized
	}
	if sub.ProcessorManaged() {
		return nil, ErrProcessorManaged
	}

	if alreadyCancelled(sub, o) {
		s.rec.SubscriptionCancelled(o.mode(), "noop")
		return s.cancelResult(sub, time.Time{}), nil
	}

	updated, err := s.store.MarkCancelled(ctx, sub.ID, s.now(), o.immediately)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to record local cancellation",
			logger.SubscriptionID(sub.ID),
			logger.Error(err),
		)
		s.rec.SubscriptionCancelled(o.mode(), "persistence_error")
		return nil, storeErr(err)
	}
	s.rec.SubscriptionCancelled(o.mode(), "ok")
	return s.cancelResult(updated, time.Time{}), nil
}

func applyCancelOptions(opts []CancelOption) cancelOptions {
	var o cancelOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// alreadyCancelled reports whether the request would not change anything.
func alreadyCancelled(sub *Subscription, o cancelOptions) bool {
	if !sub.IsCancelled() {
		return false
	}
	return !o.immediately || !sub.IsActive
}

func (s *Service) cancelResult(sub *Subscription, periodEnd time.Time) *CancelResult {
	if periodEnd.IsZero() {
		periodEnd = sub.EndDate
	}
	res := &CancelResult{
		Success:          true,
		CurrentPeriodEnd: periodEnd,
		Status:           sub.State(s.now()),
		Subscription:     sub,
	}
	if sub.CancellationDate != nil {
		res.CanceledAt = *sub.CancellationDate
	}
	return res
}
