// Package billing продаёт подписку через Stripe и принимает её вебхуки.
package billing

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"

	"codegen/internal/config"
)

// StripeAPI перечисляет вызовы Stripe, которые нужны биллингу.
type StripeAPI interface {
	NewCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	NewPortalSession(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
}

type stripeClient struct {
	api *client.API
}

// NewStripeClient создаёт клиент Stripe. Пустой ключ допустим: запросы будут отклонены Stripe.
func NewStripeClient(apiKey string) StripeAPI {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &stripeClient{api: api}
}

func (c *stripeClient) NewCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return c.api.CheckoutSessions.New(params)
}

func (c *stripeClient) NewPortalSession(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
	return c.api.BillingPortalSessions.New(params)
}

func (c *stripeClient) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	return c.api.Subscriptions.Get(id, params)
}

// Plan описывает единственный тариф.
type Plan struct {
	ProductName string
	Description string
	UnitAmount  int64
	Currency    string
}

func PlanFromConfig(cfg config.StripeConfig) Plan {
	return Plan{
		ProductName: cfg.ProductName,
		Description: cfg.Description,
		UnitAmount:  cfg.UnitAmount,
		Currency:    cfg.Currency,
	}
}

// checkoutParams собирает подписку с ежемесячной оплатой; userId попадает в metadata
// и возвращается в вебхуке checkout.session.completed.
func checkoutParams(ctx context.Context, plan Plan, returnURL, userID, email string) *stripe.CheckoutSessionParams {
	params := &stripe.CheckoutSessionParams{
		SuccessURL:               stripe.String(returnURL),
		CancelURL:                stripe.String(returnURL),
		PaymentMethodTypes:       stripe.StringSlice([]string{"card"}),
		Mode:                     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		BillingAddressCollection: stripe.String("auto"),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(plan.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(plan.ProductName),
						Description: stripe.String(plan.Description),
					},
					UnitAmount: stripe.Int64(plan.UnitAmount),
					Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
						Interval: stripe.String("month"),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	params.AddMetadata(metadataUserID, userID)
	params.Context = ctx
	return params
}

func portalParams(ctx context.Context, customerID, returnURL string) *stripe.BillingPortalSessionParams {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	return params
}

// priceID возвращает цену первой позиции подписки.
func priceID(sub *stripe.Subscription) (string, error) {
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return "", fmt.Errorf("subscription %s has no price", sub.ID)
	}
	return sub.Items.Data[0].Price.ID, nil
}
