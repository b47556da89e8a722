// Package domain contains persistence models for the subscription ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status represents lifecycle states for a subscription record.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusActive   Status = "ACTIVE"
	StatusPastDue  Status = "PAST_DUE"
	StatusCanceled Status = "CANCELED"

	// StatusExpired is a read-time interpretation of EndAt < now. It is never
	// written to the ledger.
	StatusExpired Status = "EXPIRED"
)

// Record captures one purchase cycle of a user's subscription.
type Record struct {
	ID                     snowflake.ID      `gorm:"primaryKey"`
	UserID                 snowflake.ID      `gorm:"not null;index"`
	PlanID                 string            `gorm:"type:text;not null"`
	ExternalSubscriptionID *string           `gorm:"type:text;index:ux_subscription_external,unique"`
	Status                 Status            `gorm:"type:text;not null"`
	StartAt                time.Time         `gorm:"not null"`
	EndAt                  *time.Time        `gorm:""`
	AutoRenew              bool              `gorm:"not null;default:false"`
	PastDueAt              *time.Time        `gorm:""`
	CanceledAt             *time.Time        `gorm:""`
	LastEventAt            *time.Time        `gorm:""`
	Metadata               datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt              time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt              time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Record) TableName() string { return "subscription_records" }

// EffectiveStatus interprets the record at now: expiry and the past-due grace
// window are computed at read time, never written.
func (r *Record) EffectiveStatus(now time.Time, grace time.Duration) Status {
	if r == nil {
		return StatusExpired
	}
	if r.EndAt != nil && now.After(*r.EndAt) {
		return StatusExpired
	}
	switch r.Status {
	case StatusActive:
		return StatusActive
	case StatusPastDue:
		if r.PastDueAt != nil && now.Sub(*r.PastDueAt) <= grace {
			return StatusPastDue
		}
		return StatusExpired
	case StatusCanceled:
		// Cancellation takes effect at period end; until then the record
		// still entitles.
		if r.EndAt != nil && now.Before(*r.EndAt) {
			return StatusActive
		}
		return StatusExpired
	default:
		return StatusExpired
	}
}

// EntitledAt reports whether the record grants plan features at now.
func (r *Record) EntitledAt(now time.Time, grace time.Duration) bool {
	switch r.EffectiveStatus(now, grace) {
	case StatusActive, StatusPastDue:
		return true
	default:
		return false
	}
}
