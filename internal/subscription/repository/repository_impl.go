package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pairwell/entitlements/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.Record) error {
	return db.WithContext(ctx).Create(record).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Record, error) {
	var item domain.Record
	err := db.WithContext(ctx).
		Where("id = ?", id).
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

func (r *repo) FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.Record, error) {
	var item domain.Record
	err := db.WithContext(ctx).
		Where("external_subscription_id = ?", externalID).
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

func (r *repo) FindCurrentByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*domain.Record, error) {
	return r.findCurrent(ctx, db, userID, false)
}

func (r *repo) FindCurrentByUserIDForUpdate(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*domain.Record, error) {
	return r.findCurrent(ctx, db, userID, true)
}

func (r *repo) findCurrent(ctx context.Context, db *gorm.DB, userID snowflake.ID, forUpdate bool) (*domain.Record, error) {
	query := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("status IN ?", []domain.Status{
			domain.StatusPending,
			domain.StatusActive,
			domain.StatusPastDue,
			domain.StatusCanceled,
		}).
		Order("start_at DESC, id DESC").
		Limit(1)
	// sqlite has no row locks; its writes serialize on the file anyway.
	if forUpdate && db.Dialector.Name() != "sqlite" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var item domain.Record
	if err := query.Find(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, record *domain.Record) error {
	record.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).
		Model(&domain.Record{}).
		Where("id = ?", record.ID).
		Updates(map[string]any{
			"plan_id":                  record.PlanID,
			"external_subscription_id": record.ExternalSubscriptionID,
			"status":                   record.Status,
			"start_at":                 record.StartAt,
			"end_at":                   record.EndAt,
			"auto_renew":               record.AutoRenew,
			"past_due_at":              record.PastDueAt,
			"canceled_at":              record.CanceledAt,
			"last_event_at":            record.LastEventAt,
			"updated_at":               record.UpdatedAt,
		}).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Record, error) {
	query := db.WithContext(ctx).Model(&domain.Record{})
	if filter.UserID != 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.AfterID != 0 {
		query = query.Where("id > ?", filter.AfterID)
	}
	query = query.Order("id ASC")
	if filter.PageSize > 0 {
		// One extra row signals a next page.
		query = query.Limit(filter.PageSize + 1)
	}

	var items []domain.Record
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
