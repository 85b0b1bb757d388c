package subscription

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/subledger/paycore/pkg/logger"
)

// VerifyResult is what the client sees after returning from checkout.
type VerifyResult struct {
	Completed    bool
	Status       IntentStatus
	Intent       *Intent
	Plan         *Plan
	Subscription *Subscription
}

// VerifyIntent reconciles a pending intent with the processor and reports
// its status. It is safe to call any number of times: finalization is a
// conditional transition and the welcome bonus is guarded by a durable
// unique grant. Soft failures (processor unavailable, gateway
// inconsistency, persistence hiccups while finalizing) leave the intent
// pending so the client keeps polling.
func (s *Service) VerifyIntent(ctx context.Context, intentID uuid.UUID) (*VerifyResult, error) {
	intent, err := s.store.GetIntent(ctx, intentID)
	if err != nil {
		return nil, storeErr(err, ErrIntentNotFound)
	}
	plan, err := s.store.GetPlan(ctx, intent.PlanID)
	if err != nil {
		return nil, storeErr(err, ErrPlanNotFound)
	}

	if intent.Status == IntentPending {
		intent = s.reconcile(ctx, intent)
	}

	res := &VerifyResult{
		Completed: intent.Status == IntentCompleted,
		Status:    intent.Status,
		Intent:    intent,
		Plan:      plan,
	}

	if res.Completed {
		sub, err := s.store.GetSubscriptionByIntent(ctx, intent.ID)
		switch {
		case err == nil:
			res.Subscription = sub
		case errors.Is(err, ErrSubscriptionNotFound):
			s.log.ErrorContext(ctx, "completed intent has no subscription", logger.IntentID(intent.ID))
		default:
			return nil, storeErr(err)
		}
		s.grantWelcomeBonus(ctx, intent)
	}

	s.rec.IntentVerified(string(res.Status))
	return res, nil
}

// reconcile advances a pending intent from processor state. It never
// returns an error: anything short of a definitive answer keeps the intent
// pending.
func (s *Service) reconcile(ctx context.Context, intent *Intent) *Intent {
	log := s.log.With(logger.IntentID(intent.ID), logger.UserID(intent.UserID))

	if !intent.HasSession() {
		if s.cfg.IntentTTL > 0 && intent.Age(s.now()) > s.cfg.IntentTTL {
			return s.transition(ctx, log, intent, IntentFailed)
		}
		return intent
	}

	state, err := callProcessor(ctx, s, "get_checkout_session", func(ctx context.Context) (*CheckoutSessionState, error) {
		return s.proc.GetCheckoutSession(ctx, intent.ExternalSessionID)
	})
	if err != nil {
		log.WarnContext(ctx, "checkout session lookup failed", logger.SessionID(intent.ExternalSessionID), logger.Error(err))
		return intent
	}

	switch {
	case state.Status == SessionExpired:
		return s.transition(ctx, log, intent, IntentFailed)
	case state.Status == SessionComplete && state.Paid:
		return s.finalize(ctx, log, intent, state)
	default:
		return intent
	}
}

// finalize records the paid subscription. Checkouts are always recurring:
// a paid session not yet tied to a processor subscription stays pending.
func (s *Service) finalize(ctx context.Context, log *slog.Logger, intent *Intent, state *CheckoutSessionState) *Intent {
	if state.SubscriptionID == "" {
		log.WarnContext(ctx, "paid session has no processor subscription yet, intent left pending",
			logger.SessionID(state.ID),
			logger.Error(ErrGatewayInconsistency),
		)
		return intent
	}

	now := s.now()
	sub := &Subscription{
		ID:            uuid.New(),
		UserID:        intent.UserID,
		PlanID:        intent.PlanID,
		IntentID:      &intent.ID,
		BillingCycle:  intent.BillingCycle,
		Price:         intent.Amount,
		PaymentMethod: PaymentMethodCard,
		PaymentStatus: PaymentCompleted,
		IsActive:      true,
		IsAutoRenew:   true,
		StartDate:     now,
		EndDate:       intent.BillingCycle.PeriodEnd(now),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	ps, err := callProcessor(ctx, s, "get_subscription", func(ctx context.Context) (*ProcessorSubscription, error) {
		return s.proc.GetSubscription(ctx, state.SubscriptionID)
	})
	if err != nil {
		if errors.Is(err, ErrProcessorNotFound) {
			err = errors.Join(ErrGatewayInconsistency, err)
		}
		log.WarnContext(ctx, "cannot confirm processor subscription, intent left pending",
			logger.SubscriptionID(state.SubscriptionID),
			logger.Error(err),
		)
		return intent
	}
	sub.ExternalSubscriptionID = ps.ID
	if !ps.CurrentPeriodStart.IsZero() {
		sub.StartDate = ps.CurrentPeriodStart
	}
	if !ps.CurrentPeriodEnd.IsZero() {
		sub.EndDate = ps.CurrentPeriodEnd
	}

	if state.CustomerID != "" && state.CustomerID != intent.ExternalCustomerID {
		if err := s.store.SetProcessorCustomerID(ctx, intent.UserID, state.CustomerID); err != nil {
			log.WarnContext(ctx, "failed to record processor customer id", logger.Error(err))
		}
	}

	saved, created, err := s.store.FinalizeIntent(ctx, intent.ID, sub)
	if err != nil {
		if errors.Is(err, ErrInvalidIntentTransition) {
			log.WarnContext(ctx, "paid session for an intent no longer pending", logger.Error(err))
			return s.reload(ctx, intent)
		}
		log.ErrorContext(ctx, "failed to finalize intent",
			logger.Transition(IntentPending, IntentCompleted),
			logger.Error(err),
		)
		return intent
	}

	if created {
		log.InfoContext(ctx, "intent completed", logger.SubscriptionID(saved.ID))
	}
	done := *intent
	done.Status = IntentCompleted
	done.UpdatedAt = now
	return &done
}

// transition applies a conditional pending -> to. When another writer got
// there first the stored state wins.
func (s *Service) transition(ctx context.Context, log *slog.Logger, intent *Intent, to IntentStatus) *Intent {
	ok, err := s.store.TransitionIntent(ctx, intent.ID, IntentPending, to)
	if err != nil {
		log.ErrorContext(ctx, "failed to transition intent",
			logger.Transition(IntentPending, to),
			logger.Error(err),
		)
		return intent
	}
	if !ok {
		return s.reload(ctx, intent)
	}
	log.InfoContext(ctx, "intent transitioned", logger.Transition(IntentPending, to))
	next := *intent
	next.Status = to
	next.UpdatedAt = s.now()
	return &next
}

func (s *Service) reload(ctx context.Context, intent *Intent) *Intent {
	fresh, err := s.store.GetIntent(ctx, intent.ID)
	if err != nil {
		return intent
	}
	return fresh
}

// grantWelcomeBonus creates the one-time promotional subscription. The
// (user, promotion code) uniqueness in the store makes repeated calls
// harmless; failures are logged and retried on the next verification.
func (s *Service) grantWelcomeBonus(ctx context.Context, intent *Intent) {
	bonus := s.cfg.WelcomeBonus
	if !bonus.Enabled() || intent.PlanID != bonus.TriggerPlanID {
		return
	}
	log := s.log.With(logger.IntentID(intent.ID), logger.UserID(intent.UserID))

	plan, err := s.store.GetPlan(ctx, bonus.GrantPlanID)
	if err != nil {
		log.ErrorContext(ctx, "welcome bonus plan unavailable", logger.PlanID(bonus.GrantPlanID), logger.Error(err))
		return
	}

	now := s.now()
	sub := &Subscription{
		ID:            uuid.New(),
		UserID:        intent.UserID,
		PlanID:        plan.ID,
		BillingCycle:  BillingMonthly,
		Price:         Money{Currency: plan.MonthlyPrice.Currency},
		PaymentMethod: PaymentMethodOffered,
		PaymentStatus: PaymentCompleted,
		IsActive:      true,
		StartDate:     now,
		EndDate:       now.AddDate(0, 0, bonus.Days),
		PromotionCode: bonus.PromotionCode,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	grant := PromotionalGrant{
		UserID:         intent.UserID,
		PromotionCode:  bonus.PromotionCode,
		SubscriptionID: sub.ID,
		GrantedAt:      now,
	}

	created, err := s.store.GrantPromotion(ctx, grant, sub)
	if err != nil {
		log.ErrorContext(ctx, "failed to grant welcome bonus", logger.Error(err))
		return
	}
	s.rec.PromotionGranted(created)
	if created {
		log.InfoContext(ctx, "welcome bonus granted", logger.SubscriptionID(sub.ID))
	}
}

// AbandonIntent handles the client landing on the cancel URL. A session
// that was paid after all is finalized instead of cancelled. Terminal
// intents are returned unchanged.
func (s *Service) AbandonIntent(ctx context.Context, intentID uuid.UUID, externalUserID string) (*Intent, error) {
	user, err := s.resolveUser(ctx, externalUserID)
	if err != nil {
		return nil, err
	}
	intent, err := s.store.GetIntent(ctx, intentID)
	if err != nil {
		return nil, storeErr(err, ErrIntentNotFound)
	}
	if intent.UserID != user.ID {
		return nil, ErrNotAuthorized
	}
	if intent.Status != IntentPending {
		return intent, nil
	}

	if intent = s.reconcile(ctx, intent); intent.Status != IntentPending {
		return intent, nil
	}
	log := s.log.With(logger.IntentID(intent.ID), logger.UserID(user.ID))
	return s.transition(ctx, log, intent, IntentCancelled), nil
}
