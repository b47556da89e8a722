package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/pairwell/entitlements/internal/catalog"
)

// Service is the synchronous entitlement query API. Reads are cache-backed
// and must stay low latency; a brief storage outage is absorbed by serving
// the last good snapshot.
type Service interface {
	HasFeature(ctx context.Context, userID snowflake.ID, key catalog.FeatureKey) (bool, error)
	GetLimits(ctx context.Context, userID snowflake.ID, key catalog.FeatureKey) (Limits, error)
	GetAll(ctx context.Context, userID snowflake.ID) (Snapshot, error)

	Invalidate(userID snowflake.ID)
	InvalidateAll()
}

var (
	ErrInvalidUser        = errors.New("invalid_user")
	ErrUnknownFeature     = errors.New("unknown_feature_key")
	ErrStorageUnavailable = errors.New("storage_unavailable")
)
