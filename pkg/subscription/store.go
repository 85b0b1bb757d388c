package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UserStore resolves opaque identities. Rows are owned by the identity
// system; only the processor customer id is written here.
type UserStore interface {
	// GetUserByExternalID returns ErrUserNotFound when no row matches.
	GetUserByExternalID(ctx context.Context, externalID string) (*User, error)
	SetProcessorCustomerID(ctx context.Context, userID uuid.UUID, customerID string) error
}

type PlanStore interface {
	// GetPlan returns ErrPlanNotFound when no row matches.
	GetPlan(ctx context.Context, id string) (*Plan, error)
	ListPlans(ctx context.Context) ([]Plan, error)
	UpsertPlans(ctx context.Context, plans []Plan) error
}

// IntentStore persists checkout attempts. Intents are never deleted.
type IntentStore interface {
	CreateIntent(ctx context.Context, intent *Intent) error
	// LinkSession writes processor identifiers onto the intent. A missing
	// row is reported as ErrIntentNotFound.
	LinkSession(ctx context.Context, intentID uuid.UUID, link SessionLink) error
	// GetIntent returns ErrIntentNotFound when no row matches.
	GetIntent(ctx context.Context, id uuid.UUID) (*Intent, error)
	// TransitionIntent moves the intent from -> to only if it is currently
	// in from. It reports whether the row changed.
	TransitionIntent(ctx context.Context, id uuid.UUID, from, to IntentStatus) (bool, error)
	// ListIntentsByUser returns newest first. limit <= 0 means no limit.
	ListIntentsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]Intent, error)
}

// SubscriptionStore persists realized subscriptions and promotional grants.
type SubscriptionStore interface {
	// FinalizeIntent atomically moves the intent pending -> completed and
	// inserts sub linked to it. When the intent is already completed the
	// existing linked subscription is returned with created=false. Any
	// other intent status yields ErrInvalidIntentTransition.
	FinalizeIntent(ctx context.Context, intentID uuid.UUID, sub *Subscription) (saved *Subscription, created bool, err error)
	// GrantPromotion inserts the grant and sub in one transaction unless a
	// grant for (UserID, PromotionCode) exists, in which case nothing is
	// written and created is false.
	GrantPromotion(ctx context.Context, grant PromotionalGrant, sub *Subscription) (created bool, err error)

	GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error)
	GetSubscriptionByIntent(ctx context.Context, intentID uuid.UUID) (*Subscription, error)
	GetSubscriptionByExternalID(ctx context.Context, externalID string) (*Subscription, error)
	// ListSubscriptionsByUser returns newest start date first.
	ListSubscriptionsByUser(ctx context.Context, userID uuid.UUID) ([]Subscription, error)

	// MarkCancelled sets is_auto_renew=false and cancellation_date=at when
	// no cancellation is recorded yet. With deactivate it also clears
	// is_active, even on a row already cancelled at period end. It returns
	// the row as stored after the conditional update.
	MarkCancelled(ctx context.Context, id uuid.UUID, at time.Time, deactivate bool) (*Subscription, error)
}

// Store is the full persistence port consumed by Service.
type Store interface {
	UserStore
	PlanStore
	IntentStore
	SubscriptionStore
}
