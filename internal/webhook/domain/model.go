// Package domain contains the canonical billing event model and the dedup
// record written for every received webhook.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventType is the provider-neutral event vocabulary. Adapters translate
// provider payloads into exactly these types.
type EventType string

const (
	EventTypePurchaseSucceeded    EventType = "purchase_succeeded"
	EventTypeRenewalSucceeded     EventType = "renewal_succeeded"
	EventTypePaymentFailed        EventType = "payment_failed"
	EventTypeSubscriptionCanceled EventType = "subscription_canceled"
	EventTypeSubscriptionDeleted  EventType = "subscription_deleted"
)

// Event is the canonical billing event parsed by adapters. UserID may be zero
// when the provider payload only carries the external subscription id; the
// synchronizer resolves the user from the ledger in that case.
type Event struct {
	Provider               string
	ProviderEventID        string
	Type                   EventType
	UserID                 snowflake.ID
	PlanID                 string
	ExternalSubscriptionID string
	PeriodEnd              *time.Time
	AutoRenew              bool
	OccurredAt             time.Time
	RawPayload             []byte
}

// EventRecord is the dedup row. The unique (provider, provider_event_id) pair
// makes redelivered events observable as conflicts instead of double applies.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null;index:ux_webhook_provider_event,unique,priority:1"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;index:ux_webhook_provider_event,unique,priority:2"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	UserID          snowflake.ID   `json:"user_id" gorm:"index"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "webhook_events" }

// ApplyResult classifies the outcome of one ingestion. Every value except a
// transient error is acknowledged to the provider so redelivery stops.
type ApplyResult string

const (
	// ResultApplied means the ledger changed.
	ResultApplied ApplyResult = "applied"
	// ResultDuplicateIgnored covers redeliveries, stale out-of-order events
	// and no-op terminal transitions.
	ResultDuplicateIgnored ApplyResult = "duplicate_ignored"
	// ResultIgnored means the provider event type carries no entitlement
	// meaning and was skipped before reaching the ledger.
	ResultIgnored ApplyResult = "ignored"
	// ResultRejected means the event can never apply (unknown subscription
	// reference, unusable identifiers). Acknowledged to stop redelivery.
	ResultRejected ApplyResult = "rejected"
)
