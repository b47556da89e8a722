package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *Record) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Record, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*Record, error)
	// FindCurrentByUserID returns the newest non-terminal record for the user,
	// i.e. the record the resolver should consider.
	FindCurrentByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Record, error)
	// FindCurrentByUserIDForUpdate is FindCurrentByUserID with a row lock; used
	// inside synchronizer transactions.
	FindCurrentByUserIDForUpdate(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Record, error)
	Update(ctx context.Context, db *gorm.DB, record *Record) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Record, error)
}

// ListFilter narrows List results; zero values mean no constraint.
type ListFilter struct {
	UserID   snowflake.ID
	Status   Status
	AfterID  snowflake.ID
	PageSize int
}
