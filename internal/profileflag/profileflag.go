// Package profileflag maintains the denormalized premium flag on the user
// profile. The flag is derived state; the subscription ledger stays the source
// of truth and the flag is recomputed, never toggled incrementally.
package profileflag

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pairwell/entitlements/internal/clock"
	"github.com/pairwell/entitlements/internal/config"
	subscriptiondomain "github.com/pairwell/entitlements/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserFlag is the per-user row read by profile rendering.
type UserFlag struct {
	UserID    snowflake.ID `gorm:"primaryKey"`
	Premium   bool         `gorm:"not null;default:false"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UserFlag) TableName() string { return "user_flags" }

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Cfg   config.Config
}

// Recomputer writes the flag from current ledger state. Safe to run any number
// of times for the same state.
type Recomputer struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	grace time.Duration
}

func NewRecomputer(p Params) *Recomputer {
	return &Recomputer{
		db:    p.DB,
		log:   p.Log.Named("profileflag"),
		clock: p.Clock,
		grace: p.Cfg.GraceWindow,
	}
}

// Recompute upserts the premium flag for userID from record. tx lets the
// caller run this inside the same transaction as the ledger write.
func (r *Recomputer) Recompute(ctx context.Context, tx *gorm.DB, userID snowflake.ID, record *subscriptiondomain.Record) error {
	now := r.clock.Now()
	flag := UserFlag{
		UserID:    userID,
		Premium:   record.EntitledAt(now, r.grace),
		UpdatedAt: now,
	}

	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"premium", "updated_at"}),
		}).
		Create(&flag).Error
}

// Get reads the flag; users with no row are not premium.
func (r *Recomputer) Get(ctx context.Context, userID snowflake.ID) (bool, error) {
	var flag UserFlag
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&flag).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, nil
		}
		return false, err
	}
	return flag.Premium, nil
}

var Module = fx.Module("profileflag",
	fx.Provide(NewRecomputer),
)
