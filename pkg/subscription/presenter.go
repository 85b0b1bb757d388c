package subscription

import (
	"context"

	"github.com/google/uuid"
)

// SubscriptionView is a subscription decorated for display.
type SubscriptionView struct {
	Subscription
	Plan          *Plan
	State         EntitlementState
	DaysRemaining int
}

// Overview is the user's current entitlement plus full history.
type Overview struct {
	Entitled bool
	// Current is the entitling subscription ending last, or the most recent
	// one when nothing entitles. Nil for users without subscriptions.
	Current *SubscriptionView
	History []SubscriptionView
}

func (s *Service) Overview(ctx context.Context, externalUserID string) (*Overview, error) {
	history, err := s.History(ctx, externalUserID)
	if err != nil {
		return nil, err
	}

	ov := &Overview{History: history}
	for i := range history {
		v := &history[i]
		if !v.State.Entitled() {
			continue
		}
		if ov.Current == nil || v.EndDate.After(ov.Current.EndDate) {
			ov.Current = v
		}
	}
	if ov.Current == nil && len(history) > 0 {
		ov.Current = &history[0]
	}
	ov.Entitled = ov.Current != nil && ov.Current.State.Entitled()
	return ov, nil
}

// History lists every subscription of the user, newest first.
func (s *Service) History(ctx context.Context, externalUserID string) ([]SubscriptionView, error) {
	user, err := s.resolveUser(ctx, externalUserID)
	if err != nil {
		return nil, err
	}
	subs, err := s.store.ListSubscriptionsByUser(ctx, user.ID)
	if err != nil {
		return nil, storeErr(err)
	}
	plans, err := s.planIndex(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	views := make([]SubscriptionView, 0, len(subs))
	for _, sub := range subs {
		v := SubscriptionView{
			Subscription:  sub,
			State:         sub.State(now),
			DaysRemaining: sub.DaysRemainingAt(now),
		}
		if p, ok := plans[sub.PlanID]; ok {
			v.Plan = &p
		}
		views = append(views, v)
	}
	return views, nil
}

// IntentHistory lists the user's checkout attempts, newest first.
func (s *Service) IntentHistory(ctx context.Context, externalUserID string, limit int) ([]Intent, error) {
	user, err := s.resolveUser(ctx, externalUserID)
	if err != nil {
		return nil, err
	}
	intents, err := s.store.ListIntentsByUser(ctx, user.ID, limit)
	if err != nil {
		return nil, storeErr(err)
	}
	return intents, nil
}

// Intent returns a single intent owned by the user without reconciling it.
func (s *Service) Intent(ctx context.Context, externalUserID string, intentID uuid.UUID) (*Intent, error) {
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
	return intent, nil
}

// Plans returns the plans offered for self-service checkout.
func (s *Service) Plans(ctx context.Context) ([]Plan, error) {
	all, err := s.store.ListPlans(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	public := make([]Plan, 0, len(all))
	for _, p := range all {
		if p.Public {
			public = append(public, p)
		}
	}
	return public, nil
}

func (s *Service) planIndex(ctx context.Context) (map[string]Plan, error) {
	all, err := s.store.ListPlans(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	idx := make(map[string]Plan, len(all))
	for _, p := range all {
		idx[p.ID] = p
	}
	return idx, nil
}
