package memstore_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subledger/paycore/pkg/subscription"
	"github.com/subledger/paycore/pkg/subscription/memstore"
)

func seedIntent(t *testing.T, s *memstore.Store, userID uuid.UUID) *subscription.Intent {
	t.Helper()
	in := &subscription.Intent{
		ID:           uuid.New(),
		UserID:       userID,
		PlanID:       "P1",
		BillingCycle: subscription.BillingMonthly,
		Status:       subscription.IntentPending,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, s.CreateIntent(context.Background(), in))
	return in
}

func newSub(userID uuid.UUID) *subscription.Subscription {
	now := time.Now()
	return &subscription.Subscription{
		ID:        uuid.New(),
		UserID:    userID,
		PlanID:    "P1",
		IsActive:  true,
		StartDate: now,
		EndDate:   now.AddDate(0, 0, 30),
	}
}

func TestFinalizeIntent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("concurrent finalization creates one subscription", func(t *testing.T) {
		t.Parallel()
		s := memstore.New()
		userID := uuid.New()
		in := seedIntent(t, s, userID)

		var (
			wg      sync.WaitGroup
			created atomic.Int32
			ids     sync.Map
		)
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				saved, ok, err := s.FinalizeIntent(ctx, in.ID, newSub(userID))
				if !assert.NoError(t, err) {
					return
				}
				if ok {
					created.Add(1)
				}
				ids.Store(saved.ID, true)
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), created.Load())
		var distinct int
		ids.Range(func(any, any) bool { distinct++; return true })
		assert.Equal(t, 1, distinct)

		subs, err := s.ListSubscriptionsByUser(ctx, userID)
		require.NoError(t, err)
		assert.Len(t, subs, 1)
	})

	t.Run("terminal intent cannot complete", func(t *testing.T) {
		t.Parallel()
		s := memstore.New()
		in := seedIntent(t, s, uuid.New())
		ok, err := s.TransitionIntent(ctx, in.ID, subscription.IntentPending, subscription.IntentFailed)
		require.NoError(t, err)
		require.True(t, ok)

		_, _, err = s.FinalizeIntent(ctx, in.ID, newSub(in.UserID))
		assert.ErrorIs(t, err, subscription.ErrInvalidIntentTransition)
	})

	t.Run("unknown intent", func(t *testing.T) {
		t.Parallel()
		s := memstore.New()
		_, _, err := s.FinalizeIntent(ctx, uuid.New(), newSub(uuid.New()))
		assert.ErrorIs(t, err, subscription.ErrIntentNotFound)
	})
}

func TestGrantPromotion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memstore.New()
	userID := uuid.New()

	grant := func() bool {
		sub := newSub(userID)
		ok, err := s.GrantPromotion(ctx, subscription.PromotionalGrant{
			UserID:         userID,
			PromotionCode:  "welcome_bonus",
			SubscriptionID: sub.ID,
		}, sub)
		require.NoError(t, err)
		return ok
	}

	assert.True(t, grant())
	assert.False(t, grant())
	assert.Len(t, s.Grants(), 1)

	subs, err := s.ListSubscriptionsByUser(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestMarkCancelled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memstore.New()
	userID := uuid.New()
	in := seedIntent(t, s, userID)
	sub, _, err := s.FinalizeIntent(ctx, in.ID, newSub(userID))
	require.NoError(t, err)

	first := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	got, err := s.MarkCancelled(ctx, sub.ID, first, false)
	require.NoError(t, err)
	require.NotNil(t, got.CancellationDate)
	assert.Equal(t, first, *got.CancellationDate)
	assert.True(t, got.IsActive)

	got, err = s.MarkCancelled(ctx, sub.ID, first.Add(time.Hour), false)
	require.NoError(t, err)
	assert.Equal(t, first, *got.CancellationDate, "first cancellation wins")

	got, err = s.MarkCancelled(ctx, sub.ID, first.Add(2*time.Hour), true)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, first, *got.CancellationDate)

	_, err = s.MarkCancelled(ctx, uuid.New(), first, false)
	assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
}

func TestIntentsAreCopied(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memstore.New()
	in := seedIntent(t, s, uuid.New())

	got, err := s.GetIntent(ctx, in.ID)
	require.NoError(t, err)
	got.Status = subscription.IntentCompleted

	again, err := s.GetIntent(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.IntentPending, again.Status)

	_, err = s.TransitionIntent(ctx, in.ID, subscription.IntentCompleted, subscription.IntentPending)
	assert.ErrorIs(t, err, subscription.ErrInvalidIntentTransition)
}
