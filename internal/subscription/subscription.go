// Package subscription хранит платные подписки пользователей и отвечает, активна ли подписка.
package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// gracePeriod — сколько подписка считается активной после конца оплаченного периода,
// пока Stripe не пришлёт продление.
const gracePeriod = 24 * time.Hour

var ErrNotFound = errors.New("subscription not found")

// Record — данные подписки, полученные из Stripe.
type Record struct {
	UserID           string
	CustomerID       string
	SubscriptionID   string
	PriceID          string
	CurrentPeriodEnd time.Time
}

// Active сообщает, действует ли подписка в момент now.
func (r Record) Active(now time.Time) bool {
	if r.PriceID == "" || r.CurrentPeriodEnd.IsZero() {
		return false
	}
	return r.CurrentPeriodEnd.Add(gracePeriod).After(now)
}

// SQLiteChecker читает и обновляет таблицу user_subscription.
type SQLiteChecker struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteChecker(db *sql.DB) *SQLiteChecker {
	return &SQLiteChecker{db: db, now: time.Now}
}

// IsPro сообщает, есть ли у пользователя активная подписка.
func (c *SQLiteChecker) IsPro(ctx context.Context, userID string) (bool, error) {
	rec, err := c.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.Active(c.now()), nil
}

func (c *SQLiteChecker) Get(ctx context.Context, userID string) (Record, error) {
	var (
		rec       Record
		customer  sql.NullString
		subID     sql.NullString
		priceID   sql.NullString
		periodEnd sql.NullInt64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT user_id, stripe_customer_id, stripe_subscription_id, stripe_price_id, stripe_current_period_end
		   FROM user_subscription
		  WHERE user_id = ?`,
		userID,
	).Scan(&rec.UserID, &customer, &subID, &priceID, &periodEnd)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("read subscription for %s: %w", userID, err)
	}

	rec.CustomerID = customer.String
	rec.SubscriptionID = subID.String
	rec.PriceID = priceID.String
	if periodEnd.Valid && periodEnd.Int64 > 0 {
		rec.CurrentPeriodEnd = time.Unix(periodEnd.Int64, 0)
	}
	return rec, nil
}

// Upsert создаёт или полностью перезаписывает подписку пользователя.
func (c *SQLiteChecker) Upsert(ctx context.Context, rec Record) error {
	if rec.UserID == "" {
		return fmt.Errorf("user id is empty")
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO user_subscription
		        (user_id, stripe_customer_id, stripe_subscription_id, stripe_price_id, stripe_current_period_end)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		        stripe_customer_id = excluded.stripe_customer_id,
		        stripe_subscription_id = excluded.stripe_subscription_id,
		        stripe_price_id = excluded.stripe_price_id,
		        stripe_current_period_end = excluded.stripe_current_period_end,
		        updated_at = unixepoch()`,
		rec.UserID, nullIfEmpty(rec.CustomerID), nullIfEmpty(rec.SubscriptionID),
		nullIfEmpty(rec.PriceID), rec.CurrentPeriodEnd.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert subscription for %s: %w", rec.UserID, err)
	}
	return nil
}

// Renew обновляет цену и конец периода по идентификатору подписки Stripe.
func (c *SQLiteChecker) Renew(ctx context.Context, subscriptionID, priceID string, periodEnd time.Time) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE user_subscription
		    SET stripe_price_id = ?, stripe_current_period_end = ?, updated_at = unixepoch()
		  WHERE stripe_subscription_id = ?`,
		nullIfEmpty(priceID), periodEnd.Unix(), subscriptionID,
	)
	if err != nil {
		return fmt.Errorf("renew subscription %s: %w", subscriptionID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("renew subscription %s: %w", subscriptionID, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
