package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"

	"github.com/google/uuid"
)

// PaddleConfig holds configuration for the Paddle payment collaborator.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleProvider implements CheckoutProvider on Paddle and translates
// Paddle webhooks into normalized billing events for the reconciler.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	catalog  *Catalog
}

// NewPaddleProvider creates a Paddle-backed checkout provider. The
// catalog maps Paddle price ids back to local plan tiers.
func NewPaddleProvider(cfg PaddleConfig, catalog *Catalog) (*PaddleProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	if catalog == nil {
		catalog = NewCatalog()
	}

	var client *paddle.SDK
	var err error
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, errors.Join(ErrInvalidProviderEnv, fmt.Errorf("environment %q", cfg.Environment))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
		catalog:  catalog,
	}, nil
}

// CreateCheckoutSession creates a hosted checkout transaction. The
// kitchen and owner ids travel in the transaction's custom data and
// come back on every webhook for that subscription.
func (p *PaddleProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	if req.PriceID == "" {
		return nil, errors.Join(ErrValidation, errors.New("price ID is required"))
	}
	if req.KitchenID == uuid.Nil {
		return nil, errors.Join(ErrValidation, errors.New("kitchen ID is required"))
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})

	transactionReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"kitchen_id": req.KitchenID.String(),
			"owner_id":   req.OwnerID.String(),
		},
	}
	if req.Email != "" {
		transactionReq.CustomData["email"] = req.Email
	}
	if req.SuccessURL != "" {
		transactionReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(req.SuccessURL),
		}
	}

	transaction, err := p.client.TransactionsClient.CreateTransaction(ctx, transactionReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle transaction: %w", err)
	}

	if transaction.Checkout == nil || transaction.Checkout.URL == nil {
		return nil, ErrNoCheckoutURL
	}

	return &Checkout{
		URL:       *transaction.Checkout.URL,
		SessionID: transaction.ID,
		// Paddle checkout links typically expire in 24 hours.
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

// ParseWebhookRequest verifies the request's Paddle signature and
// normalizes the payload into a billing Event. The ingress layer calls
// this before handing the event to the reconciler; an event that fails
// verification never reaches ApplyEvent.
func (p *PaddleProvider) ParseWebhookRequest(req *http.Request) (*Event, error) {
	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}
	if !valid {
		return nil, ErrWebhookVerificationFailed
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook body: %w", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(body))

	return p.parseWebhook(body)
}

func (p *PaddleProvider) parseWebhook(payload []byte) (*Event, error) {
	var raw struct {
		EventID    string         `json:"event_id"`
		EventType  string         `json:"event_type"`
		OccurredAt string         `json:"occurred_at"`
		Data       map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, errors.Join(ErrValidation, err)
	}

	event := &Event{
		EventID: raw.EventID,
		Type:    mapPaddleEventType(raw.EventType),
	}
	if t, err := time.Parse(time.RFC3339Nano, raw.OccurredAt); err == nil {
		event.OccurredAt = t.UTC()
	}

	// Subscription events carry the provider subscription id directly;
	// transaction events reference it through subscription_id.
	if id, ok := raw.Data["id"].(string); ok && strings.HasPrefix(raw.EventType, "subscription.") {
		event.ExternalRef = id
	}
	if subID, ok := raw.Data["subscription_id"].(string); ok && subID != "" {
		event.ExternalRef = subID
	}

	if customData, ok := raw.Data["custom_data"].(map[string]any); ok {
		if kid, ok := customData["kitchen_id"].(string); ok {
			if parsed, err := uuid.Parse(kid); err == nil {
				event.KitchenID = parsed
			}
		}
		if oid, ok := customData["owner_id"].(string); ok {
			if parsed, err := uuid.Parse(oid); err == nil {
				event.OwnerID = parsed
			}
		}
	}

	if items, ok := raw.Data["items"].([]any); ok && len(items) > 0 {
		if item, ok := items[0].(map[string]any); ok {
			priceID, _ := item["price_id"].(string)
			if priceID == "" {
				if price, ok := item["price"].(map[string]any); ok {
					priceID, _ = price["id"].(string)
				}
			}
			if plan, ok := p.catalog.ByPriceID(priceID); ok {
				event.PlanType = plan.Type
			}
		}
	}

	if period, ok := raw.Data["current_billing_period"].(map[string]any); ok {
		if start, ok := period["starts_at"].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, start); err == nil {
				event.PeriodStart = t.UTC()
			}
		}
		if end, ok := period["ends_at"].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, end); err == nil {
				event.PeriodEnd = t.UTC()
			}
		}
	}

	// Transaction events omit the billing period; fall back to the
	// plan's own term anchored at the event time.
	if event.Type == EventCheckoutCompleted && event.PeriodStart.IsZero() && !event.OccurredAt.IsZero() {
		if plan, ok := p.catalog.ByType(event.PlanType); ok {
			event.PeriodStart = event.OccurredAt
			event.PeriodEnd = event.OccurredAt.AddDate(0, plan.PeriodMonths, 0)
		}
	}

	return event, nil
}

// mapPaddleEventType maps Paddle webhook names onto the normalized
// lifecycle event types.
func mapPaddleEventType(paddleEvent string) EventType {
	switch paddleEvent {
	case "transaction.completed", "subscription.activated":
		return EventCheckoutCompleted
	case "subscription.past_due", "transaction.payment_failed":
		return EventPaymentFailed
	case "subscription.resumed", "transaction.payment_succeeded":
		return EventPaymentRecovered
	case "subscription.canceled":
		return EventProviderCancelled
	default:
		return EventType(paddleEvent)
	}
}
