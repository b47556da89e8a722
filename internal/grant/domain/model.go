// Package domain contains the admin feature-grant model. Grants override
// subscription state and have no expiry unless explicitly revoked.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// FeatureGrant is an admin-issued per-user feature override.
type FeatureGrant struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	UserID     snowflake.ID      `gorm:"not null;index:ux_grants_user_key,unique,priority:1"`
	FeatureKey string            `gorm:"type:text;not null;index:ux_grants_user_key,unique,priority:2"`
	Enabled    bool              `gorm:"not null;default:true"`
	Unlimited  bool              `gorm:"not null;default:true"`
	Limits     datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (FeatureGrant) TableName() string { return "feature_grants" }

// LimitValues converts the stored JSON overrides to typed limits.
func (g FeatureGrant) LimitValues() map[string]int64 {
	if len(g.Limits) == 0 {
		return nil
	}
	out := make(map[string]int64, len(g.Limits))
	for k, v := range g.Limits {
		switch value := v.(type) {
		case int64:
			out[k] = value
		case float64:
			out[k] = int64(value)
		case int:
			out[k] = int64(value)
		}
	}
	return out
}
