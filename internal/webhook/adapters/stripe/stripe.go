// Package stripe adapts Stripe subscription webhooks to canonical billing
// events. Signature verification follows the Stripe-Signature scheme
// (t=<timestamp>, v1=<hmac-sha256 of "<timestamp>.<payload>">).
package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pairwell/entitlements/internal/webhook/domain"
)

type Adapter struct {
	webhookSecret string
}

func New(webhookSecret string) (*Adapter, error) {
	webhookSecret = strings.TrimSpace(webhookSecret)
	if webhookSecret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}
	return &Adapter{webhookSecret: webhookSecret}, nil
}

func (a *Adapter) Provider() string { return "stripe" }

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return domain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return domain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*domain.Event, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "customer.subscription.created":
		return a.parseSubscription(event, payload, domain.EventTypePurchaseSucceeded)
	case "customer.subscription.updated":
		return a.parseSubscriptionUpdate(event, payload)
	case "customer.subscription.deleted":
		return a.parseSubscription(event, payload, domain.EventTypeSubscriptionDeleted)
	case "invoice.payment_succeeded":
		return a.parseInvoice(event, payload, domain.EventTypeRenewalSucceeded)
	case "invoice.payment_failed":
		return a.parseInvoice(event, payload, domain.EventTypePaymentFailed)
	default:
		return nil, domain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeSubscription struct {
	ID                 string         `json:"id"`
	Status             string         `json:"status"`
	CancelAtPeriodEnd  bool           `json:"cancel_at_period_end"`
	CurrentPeriodStart int64          `json:"current_period_start"`
	CurrentPeriodEnd   int64          `json:"current_period_end"`
	Created            int64          `json:"created"`
	Metadata           map[string]any `json:"metadata"`
}

type stripeInvoice struct {
	ID           string         `json:"id"`
	Subscription string         `json:"subscription"`
	PeriodEnd    int64          `json:"period_end"`
	Created      int64          `json:"created"`
	Metadata     map[string]any `json:"metadata"`
}

func (a *Adapter) parseSubscription(event stripeEvent, payload []byte, eventType domain.EventType) (*domain.Event, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(sub.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	out := &domain.Event{
		Provider:               "stripe",
		ProviderEventID:        event.ID,
		Type:                   eventType,
		UserID:                 parseUserID(sub.Metadata),
		PlanID:                 readMetadataValue(sub.Metadata, "plan_id"),
		ExternalSubscriptionID: sub.ID,
		AutoRenew:              !sub.CancelAtPeriodEnd,
		OccurredAt:             timestamp(event.Created, sub.Created),
		RawPayload:             payload,
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		out.PeriodEnd = &end
	}
	return out, nil
}

// parseSubscriptionUpdate maps the overloaded update event by inspecting the
// subscription state it carries.
func (a *Adapter) parseSubscriptionUpdate(event stripeEvent, payload []byte) (*domain.Event, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(sub.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	var eventType domain.EventType
	switch {
	case sub.CancelAtPeriodEnd:
		eventType = domain.EventTypeSubscriptionCanceled
	case strings.TrimSpace(sub.Status) == "past_due":
		eventType = domain.EventTypePaymentFailed
	case strings.TrimSpace(sub.Status) == "active":
		eventType = domain.EventTypeRenewalSucceeded
	default:
		return nil, domain.ErrEventIgnored
	}
	return a.parseSubscription(event, payload, eventType)
}

func (a *Adapter) parseInvoice(event stripeEvent, payload []byte, eventType domain.EventType) (*domain.Event, error) {
	var invoice stripeInvoice
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(invoice.Subscription) == "" {
		// Invoices not tied to a subscription carry no entitlement meaning.
		return nil, domain.ErrEventIgnored
	}

	out := &domain.Event{
		Provider:               "stripe",
		ProviderEventID:        event.ID,
		Type:                   eventType,
		UserID:                 parseUserID(invoice.Metadata),
		ExternalSubscriptionID: invoice.Subscription,
		OccurredAt:             timestamp(event.Created, invoice.Created),
		RawPayload:             payload,
	}
	if invoice.PeriodEnd > 0 {
		end := time.Unix(invoice.PeriodEnd, 0).UTC()
		out.PeriodEnd = &end
	}
	return out, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func parseUserID(metadata map[string]any) snowflake.ID {
	raw := readMetadataValue(metadata, "user_id")
	if raw == "" {
		return 0
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0
	}
	return id
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	case int64:
		return strconv.FormatInt(cast, 10)
	case int:
		return strconv.Itoa(cast)
	}
	return ""
}
