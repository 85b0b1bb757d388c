// Package pgstore implements the subscription store ports on PostgreSQL.
//
// Intent status changes are conditional updates, finalization and
// promotional grants run in a single transaction each, and the schema
// carries the uniqueness constraints (one subscription per intent, one
// grant per user and promotion code) the service relies on for
// idempotency. Apply Migrations before use.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/subledger/paycore/pkg/pg"
	"github.com/subledger/paycore/pkg/subscription"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements subscription.Store on PostgreSQL. Multi-row writes run in
// one transaction and state changes are conditional updates.
type Store struct {
	pool *pgxpool.Pool
}

var _ subscription.Store = (*Store)(nil)

// New returns a Store over pool. The schema comes from Migrations.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// inTx runs fn in a transaction and commits when it returns nil.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Users

func (s *Store) GetUserByExternalID(ctx context.Context, externalID string) (*subscription.User, error) {
	var u subscription.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, external_id, email, COALESCE(processor_customer_id, '')
		FROM users WHERE external_id = $1`, externalID,
	).Scan(&u.ID, &u.ExternalID, &u.Email, &u.ProcessorCustomerID)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, subscription.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *Store) SetProcessorCustomerID(ctx context.Context, userID uuid.UUID, customerID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET processor_customer_id = NULLIF($2, ''), updated_at = NOW()
		WHERE id = $1`, userID, customerID)
	if err != nil {
		return fmt.Errorf("set processor customer id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrUserNotFound
	}
	return nil
}

// Plans

const planColumns = `id, name, description, currency, price_monthly, price_yearly,
	limits, features, provider_prices, public`

func scanPlan(row pgx.Row) (*subscription.Plan, error) {
	var (
		p              subscription.Plan
		currency       string
		monthly        int64
		yearly         int64
		limits         map[subscription.Resource]int64
		features       []subscription.Feature
		providerPrices map[subscription.BillingCycle]string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &currency, &monthly, &yearly,
		&limits, &features, &providerPrices, &p.Public); err != nil {
		return nil, err
	}
	p.MonthlyPrice = subscription.Money{Amount: monthly, Currency: currency}
	p.YearlyPrice = subscription.Money{Amount: yearly, Currency: currency}
	if len(limits) > 0 {
		p.Limits = limits
	}
	if len(features) > 0 {
		p.Features = features
	}
	if len(providerPrices) > 0 {
		p.ProviderPrices = providerPrices
	}
	return &p, nil
}

func (s *Store) GetPlan(ctx context.Context, id string) (*subscription.Plan, error) {
	p, err := scanPlan(s.pool.QueryRow(ctx, `SELECT `+planColumns+` FROM subscription_plans WHERE id = $1`, id))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, subscription.ErrPlanNotFound
		}
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return p, nil
}

func (s *Store) ListPlans(ctx context.Context) ([]subscription.Plan, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+planColumns+` FROM subscription_plans ORDER BY price_monthly, id`)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var out []subscription.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) UpsertPlans(ctx context.Context, plans []subscription.Plan) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		for _, p := range plans {
			limits := p.Limits
			if limits == nil {
				limits = map[subscription.Resource]int64{}
			}
			features := p.Features
			if features == nil {
				features = []subscription.Feature{}
			}
			prices := p.ProviderPrices
			if prices == nil {
				prices = map[subscription.BillingCycle]string{}
			}
			currency := p.MonthlyPrice.Currency
			if currency == "" {
				currency = p.YearlyPrice.Currency
			}

			_, err := tx.Exec(ctx, `
				INSERT INTO subscription_plans (id, name, description, currency, price_monthly,
					price_yearly, limits, features, provider_prices, public, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
				ON CONFLICT (id) DO UPDATE SET
					name = EXCLUDED.name,
					description = EXCLUDED.description,
					currency = EXCLUDED.currency,
					price_monthly = EXCLUDED.price_monthly,
					price_yearly = EXCLUDED.price_yearly,
					limits = EXCLUDED.limits,
					features = EXCLUDED.features,
					provider_prices = EXCLUDED.provider_prices,
					public = EXCLUDED.public,
					updated_at = NOW()`,
				p.ID, p.Name, p.Description, currency, p.MonthlyPrice.Amount,
				p.YearlyPrice.Amount, limits, features, prices, p.Public)
			if err != nil {
				return fmt.Errorf("upsert plan %s: %w", p.ID, err)
			}
		}
		return nil
	})
}

// Intents

const intentColumns = `id, user_id, plan_id, billing_cycle, COALESCE(payment_method_id, ''),
	payment_method_types, COALESCE(external_session_id, ''),
	COALESCE(external_payment_intent_id, ''), COALESCE(external_customer_id, ''),
	amount, currency, status, created_at, updated_at`

func scanIntent(row pgx.Row) (*subscription.Intent, error) {
	var in subscription.Intent
	err := row.Scan(&in.ID, &in.UserID, &in.PlanID, &in.BillingCycle, &in.PaymentMethodID,
		&in.PaymentMethodTypes, &in.ExternalSessionID, &in.ExternalPaymentIntentID,
		&in.ExternalCustomerID, &in.Amount.Amount, &in.Amount.Currency, &in.Status,
		&in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &in, nil
}

func (s *Store) CreateIntent(ctx context.Context, in *subscription.Intent) error {
	types := in.PaymentMethodTypes
	if types == nil {
		types = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscription_intents (id, user_id, plan_id, billing_cycle, payment_method_id,
			payment_method_types, external_session_id, external_payment_intent_id,
			external_customer_id, amount, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''), NULLIF($8, ''),
			NULLIF($9, ''), $10, $11, $12, $13, $14)`,
		in.ID, in.UserID, in.PlanID, in.BillingCycle, in.PaymentMethodID, types,
		in.ExternalSessionID, in.ExternalPaymentIntentID, in.ExternalCustomerID,
		in.Amount.Amount, in.Amount.Currency, in.Status, in.CreatedAt, in.UpdatedAt)
	if err != nil {
		if pg.IsForeignKeyViolationError(err) {
			return errors.Join(subscription.ErrPersistence, fmt.Errorf("intent references unknown user or plan: %w", err))
		}
		return fmt.Errorf("create intent: %w", err)
	}
	return nil
}

func (s *Store) LinkSession(ctx context.Context, intentID uuid.UUID, link subscription.SessionLink) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscription_intents SET
			external_session_id = NULLIF($2, ''),
			external_customer_id = NULLIF($3, ''),
			external_payment_intent_id = NULLIF($4, ''),
			updated_at = NOW()
		WHERE id = $1`,
		intentID, link.SessionID, link.CustomerID, link.PaymentIntentID)
	if err != nil {
		return fmt.Errorf("link session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrIntentNotFound
	}
	return nil
}

func (s *Store) GetIntent(ctx context.Context, id uuid.UUID) (*subscription.Intent, error) {
	in, err := scanIntent(s.pool.QueryRow(ctx, `SELECT `+intentColumns+` FROM subscription_intents WHERE id = $1`, id))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, subscription.ErrIntentNotFound
		}
		return nil, fmt.Errorf("get intent: %w", err)
	}
	return in, nil
}

func (s *Store) TransitionIntent(ctx context.Context, id uuid.UUID, from, to subscription.IntentStatus) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, subscription.ErrInvalidIntentTransition
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscription_intents SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("transition intent: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM subscription_intents WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check intent: %w", err)
	}
	if !exists {
		return false, subscription.ErrIntentNotFound
	}
	return false, nil
}

func (s *Store) ListIntentsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]subscription.Intent, error) {
	query := `SELECT ` + intentColumns + ` FROM subscription_intents WHERE user_id = $1 ORDER BY created_at DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list intents: %w", err)
	}
	defer rows.Close()

	var out []subscription.Intent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan intent: %w", err)
		}
		out = append(out, *in)
	}
	return out, rows.Err()
}

// Subscriptions

const subscriptionColumns = `id, user_id, plan_id, intent_id, COALESCE(external_subscription_id, ''),
	billing_cycle, price, currency, payment_method, payment_status, is_active, is_auto_renew,
	start_date, end_date, cancellation_date, COALESCE(promotion_code, ''), created_at, updated_at`

func scanSubscription(row pgx.Row) (*subscription.Subscription, error) {
	var sub subscription.Subscription
	err := row.Scan(&sub.ID, &sub.UserID, &sub.PlanID, &sub.IntentID, &sub.ExternalSubscriptionID,
		&sub.BillingCycle, &sub.Price.Amount, &sub.Price.Currency, &sub.PaymentMethod,
		&sub.PaymentStatus, &sub.IsActive, &sub.IsAutoRenew, &sub.StartDate, &sub.EndDate,
		&sub.CancellationDate, &sub.PromotionCode, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func insertSubscription(ctx context.Context, q querier, sub *subscription.Subscription) error {
	created, updated := sub.CreatedAt, sub.UpdatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	if updated.IsZero() {
		updated = created
	}
	_, err := q.Exec(ctx, `
		INSERT INTO subscriptions (id, user_id, plan_id, intent_id, external_subscription_id,
			billing_cycle, price, currency, payment_method, payment_status, is_active,
			is_auto_renew, start_date, end_date, cancellation_date, promotion_code,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			NULLIF($16, ''), $17, $18)`,
		sub.ID, sub.UserID, sub.PlanID, sub.IntentID, sub.ExternalSubscriptionID,
		sub.BillingCycle, sub.Price.Amount, sub.Price.Currency, sub.PaymentMethod,
		sub.PaymentStatus, sub.IsActive, sub.IsAutoRenew, sub.StartDate, sub.EndDate,
		sub.CancellationDate, sub.PromotionCode, created, updated)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func getSubscriptionBy(ctx context.Context, q querier, where string, arg any) (*subscription.Subscription, error) {
	sub, err := scanSubscription(q.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE `+where, arg))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, subscription.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

func (s *Store) FinalizeIntent(ctx context.Context, intentID uuid.UUID, sub *subscription.Subscription) (*subscription.Subscription, bool, error) {
	var (
		saved   *subscription.Subscription
		created bool
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var status subscription.IntentStatus
		err := tx.QueryRow(ctx, `SELECT status FROM subscription_intents WHERE id = $1 FOR UPDATE`, intentID).Scan(&status)
		if err != nil {
			if pg.IsNotFoundError(err) {
				return subscription.ErrIntentNotFound
			}
			return fmt.Errorf("lock intent: %w", err)
		}

		switch status {
		case subscription.IntentCompleted:
			saved, err = getSubscriptionBy(ctx, tx, `intent_id = $1`, intentID)
			return err
		case subscription.IntentPending:
		default:
			return fmt.Errorf("%w: intent is %s", subscription.ErrInvalidIntentTransition, status)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE subscription_intents SET status = $2, updated_at = NOW()
			WHERE id = $1 AND status = $3`,
			intentID, subscription.IntentCompleted, subscription.IntentPending); err != nil {
			return fmt.Errorf("complete intent: %w", err)
		}

		row := *sub
		id := intentID
		row.IntentID = &id
		if err := insertSubscription(ctx, tx, &row); err != nil {
			if pg.IsDuplicateKeyError(err) {
				return errors.Join(subscription.ErrPersistence, fmt.Errorf("processor subscription %s is already recorded: %w", row.ExternalSubscriptionID, err))
			}
			return err
		}
		saved, created = &row, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return saved, created, nil
}

// errGrantExists aborts the grant transaction so the subscription row
// inserted alongside it is rolled back.
var errGrantExists = errors.New("promotion already granted")

func (s *Store) GrantPromotion(ctx context.Context, grant subscription.PromotionalGrant, sub *subscription.Subscription) (bool, error) {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := insertSubscription(ctx, tx, sub); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO promotion_grants (user_id, promotion_code, subscription_id, granted_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, promotion_code) DO NOTHING`,
			grant.UserID, grant.PromotionCode, sub.ID, grant.GrantedAt)
		if err != nil {
			return fmt.Errorf("insert promotion grant: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return errGrantExists
		}
		return nil
	})
	switch {
	case errors.Is(err, errGrantExists):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

func (s *Store) GetSubscription(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	return getSubscriptionBy(ctx, s.pool, `id = $1`, id)
}

func (s *Store) GetSubscriptionByIntent(ctx context.Context, intentID uuid.UUID) (*subscription.Subscription, error) {
	return getSubscriptionBy(ctx, s.pool, `intent_id = $1`, intentID)
}

func (s *Store) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*subscription.Subscription, error) {
	if externalID == "" {
		return nil, subscription.ErrSubscriptionNotFound
	}
	return getSubscriptionBy(ctx, s.pool, `external_subscription_id = $1`, externalID)
}

func (s *Store) ListSubscriptionsByUser(ctx context.Context, userID uuid.UUID) ([]subscription.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE user_id = $1 ORDER BY start_date DESC, created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

func (s *Store) MarkCancelled(ctx context.Context, id uuid.UUID, at time.Time, deactivate bool) (*subscription.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx, `
		UPDATE subscriptions SET
			cancellation_date = COALESCE(cancellation_date, $2),
			is_auto_renew = FALSE,
			is_active = CASE WHEN $3 THEN FALSE ELSE is_active END,
			updated_at = NOW()
		WHERE id = $1 AND (cancellation_date IS NULL OR ($3 AND is_active))
		RETURNING `+subscriptionColumns, id, at, deactivate))
	if err == nil {
		return sub, nil
	}
	if !pg.IsNotFoundError(err) {
		return nil, fmt.Errorf("mark cancelled: %w", err)
	}
	// Nothing to change: either already cancelled or missing.
	return s.GetSubscription(ctx, id)
}
