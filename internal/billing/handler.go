package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"

	"codegen/internal/auth"
	"codegen/internal/httpserver"
	"codegen/internal/middleware"
	"codegen/internal/subscription"
)

const (
	metadataUserID = "userId"

	eventCheckoutCompleted = "checkout.session.completed"
	eventInvoicePaid       = "invoice.payment_succeeded"

	// Stripe рекомендует ограничивать тело вебхука 64 КБ.
	maxWebhookBytes = 65536
)

var errMissingUserID = errors.New("user id is required")

type IdentityResolver interface {
	ResolveUserID(r *http.Request) (auth.Identity, bool)
}

// SubscriptionStore реализован subscription.SQLiteChecker.
type SubscriptionStore interface {
	Get(ctx context.Context, userID string) (subscription.Record, error)
	Upsert(ctx context.Context, rec subscription.Record) error
	Renew(ctx context.Context, subscriptionID, priceID string, periodEnd time.Time) error
}

type HandlerConfig struct {
	Identity      IdentityResolver
	Stripe        StripeAPI
	Subscriptions SubscriptionStore
	Plan          Plan
	WebhookSecret string
	AppURL        string
	Logger        *slog.Logger
}

type Handler struct {
	identity      IdentityResolver
	stripe        StripeAPI
	subscriptions SubscriptionStore
	plan          Plan
	webhookSecret string
	returnURL     string
	logger        *slog.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		identity:      cfg.Identity,
		stripe:        cfg.Stripe,
		subscriptions: cfg.Subscriptions,
		plan:          cfg.Plan,
		webhookSecret: cfg.WebhookSecret,
		returnURL:     strings.TrimRight(cfg.AppURL, "/") + "/settings",
		logger:        cfg.Logger,
	}
}

type urlResponse struct {
	URL string `json:"url"`
}

// Checkout обрабатывает GET /api/stripe: подписчику отдаёт ссылку на портал
// управления подпиской, остальным ссылку на оплату.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity.ResolveUserID(r)
	if !ok {
		httpserver.WriteText(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	ctx := r.Context()

	rec, err := h.subscriptions.Get(ctx, identity.UserID)
	if err != nil && !errors.Is(err, subscription.ErrNotFound) {
		h.internalError(w, r, fmt.Errorf("get subscription: %w", err))
		return
	}

	if err == nil && rec.CustomerID != "" {
		session, err := h.stripe.NewPortalSession(portalParams(ctx, rec.CustomerID, h.returnURL))
		if err != nil {
			h.internalError(w, r, fmt.Errorf("create billing portal session: %w", err))
			return
		}
		httpserver.WriteJSON(w, http.StatusOK, urlResponse{URL: session.URL})
		return
	}

	session, err := h.stripe.NewCheckoutSession(checkoutParams(ctx, h.plan, h.returnURL, identity.UserID, identity.Email))
	if err != nil {
		h.internalError(w, r, fmt.Errorf("create checkout session: %w", err))
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, urlResponse{URL: session.URL})
}

// Webhook обрабатывает POST /api/webhook от Stripe.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	// С пустым секретом подпись может посчитать кто угодно.
	if h.webhookSecret == "" {
		h.logger.Error("stripe webhook rejected: webhook secret is not configured")
		httpserver.WriteText(w, http.StatusBadRequest, "Webhook Error: webhook secret is not configured")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		httpserver.WriteText(w, http.StatusBadRequest, "Webhook Error: cannot read body")
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		h.logger.Warn("stripe webhook rejected", slog.String("error", err.Error()))
		httpserver.WriteText(w, http.StatusBadRequest, "Webhook Error: "+err.Error())
		return
	}

	switch event.Type {
	case eventCheckoutCompleted:
		err = h.onCheckoutCompleted(r.Context(), event)
	case eventInvoicePaid:
		err = h.onInvoicePaid(r.Context(), event)
	default:
		h.logger.Debug("stripe event ignored", slog.String("type", event.Type))
	}

	switch {
	case errors.Is(err, errMissingUserID):
		httpserver.WriteText(w, http.StatusBadRequest, "User id is required")
		return
	case err != nil:
		h.logger.Error("stripe webhook failed",
			slog.String("type", event.Type),
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()))
		httpserver.WriteText(w, http.StatusBadRequest, "Webhook Error: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) onCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("decode checkout session: %w", err)
	}
	userID := session.Metadata[metadataUserID]
	if userID == "" {
		return errMissingUserID
	}
	if session.Subscription == nil || session.Subscription.ID == "" {
		return fmt.Errorf("checkout session %s has no subscription", session.ID)
	}

	sub, err := h.stripe.GetSubscription(ctx, session.Subscription.ID)
	if err != nil {
		return fmt.Errorf("get subscription: %w", err)
	}
	price, err := priceID(sub)
	if err != nil {
		return err
	}

	rec := subscription.Record{
		UserID:           userID,
		SubscriptionID:   sub.ID,
		PriceID:          price,
		CurrentPeriodEnd: time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
	}
	if sub.Customer != nil {
		rec.CustomerID = sub.Customer.ID
	}
	if err := h.subscriptions.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}

	h.logger.Info("subscription created",
		slog.String("user_id", userID),
		slog.String("subscription_id", sub.ID))
	return nil
}

func (h *Handler) onInvoicePaid(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("decode invoice: %w", err)
	}
	if invoice.Subscription == nil || invoice.Subscription.ID == "" {
		// Разовый счёт без подписки нас не интересует.
		return nil
	}

	sub, err := h.stripe.GetSubscription(ctx, invoice.Subscription.ID)
	if err != nil {
		return fmt.Errorf("get subscription: %w", err)
	}
	price, err := priceID(sub)
	if err != nil {
		return err
	}

	if err := h.subscriptions.Renew(ctx, sub.ID, price, time.Unix(sub.CurrentPeriodEnd, 0).UTC()); err != nil {
		return fmt.Errorf("renew subscription: %w", err)
	}
	h.logger.Info("subscription renewed", slog.String("subscription_id", sub.ID))
	return nil
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("[STRIPE_ERROR]",
		slog.String("error", err.Error()),
		slog.String("request_id", middleware.GetRequestID(r)))
	httpserver.WriteText(w, http.StatusInternalServerError, "Internal error")
}
