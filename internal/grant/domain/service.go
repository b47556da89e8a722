package domain

import (
	"context"
	"errors"
	"time"
)

type CreateRequest struct {
	UserID     string           `json:"-"`
	FeatureKey string           `json:"feature_key"`
	Enabled    *bool            `json:"enabled,omitempty"`
	Unlimited  *bool            `json:"unlimited,omitempty"`
	Limits     map[string]int64 `json:"limits,omitempty"`
}

type RevokeRequest struct {
	UserID     string
	FeatureKey string
}

type Response struct {
	ID         string           `json:"id"`
	UserID     string           `json:"user_id"`
	FeatureKey string           `json:"feature_key"`
	Enabled    bool             `json:"enabled"`
	Unlimited  bool             `json:"unlimited"`
	Limits     map[string]int64 `json:"limits,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Service is the administrative path over grants. Every mutation invalidates
// the affected user's entitlement snapshot.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (Response, error)
	Revoke(ctx context.Context, req RevokeRequest) error
	ListByUser(ctx context.Context, userID string) ([]Response, error)
}

var (
	ErrInvalidUser       = errors.New("invalid_user")
	ErrInvalidFeatureKey = errors.New("invalid_feature_key")
	ErrGrantNotFound     = errors.New("grant_not_found")
)
