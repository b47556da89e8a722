package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/pairwell/entitlements/internal/grant/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, grant *domain.FeatureGrant) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "feature_key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"enabled", "unlimited", "limits", "updated_at",
			}),
		}).
		Create(grant).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, userID snowflake.ID, featureKey string) (bool, error) {
	res := db.WithContext(ctx).
		Where("user_id = ? AND feature_key = ?", userID, featureKey).
		Delete(&domain.FeatureGrant{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByUserAndKey(ctx context.Context, db *gorm.DB, userID snowflake.ID, featureKey string) (*domain.FeatureGrant, error) {
	var item domain.FeatureGrant
	err := db.WithContext(ctx).
		Where("user_id = ? AND feature_key = ?", userID, featureKey).
		Limit(1).
		Find(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]domain.FeatureGrant, error) {
	var items []domain.FeatureGrant
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("feature_key ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
