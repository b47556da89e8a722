package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, grant *FeatureGrant) error
	Delete(ctx context.Context, db *gorm.DB, userID snowflake.ID, featureKey string) (bool, error)
	FindByUserAndKey(ctx context.Context, db *gorm.DB, userID snowflake.ID, featureKey string) (*FeatureGrant, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]FeatureGrant, error)
}
