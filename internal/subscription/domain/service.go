package domain

import (
	"context"
	"errors"
	"time"

	"github.com/pairwell/entitlements/pkg/db/pagination"
)

type ListRequest struct {
	UserID    string
	Status    string
	PageToken string
	PageSize  int
}

type ListResponse struct {
	pagination.PageInfo
	Records []Response `json:"records"`
}

// Response is the external representation of a ledger record.
type Response struct {
	ID                     string     `json:"id"`
	UserID                 string     `json:"user_id"`
	PlanID                 string     `json:"plan_id"`
	ExternalSubscriptionID *string    `json:"external_subscription_id,omitempty"`
	Status                 Status     `json:"status"`
	StartAt                time.Time  `json:"start_at"`
	EndAt                  *time.Time `json:"end_at,omitempty"`
	AutoRenew              bool       `json:"auto_renew"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// Service is the read-side API over the ledger. Writes go through the
// synchronizer only.
type Service interface {
	GetCurrentByUserID(ctx context.Context, userID string) (Response, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

var (
	ErrInvalidUser          = errors.New("invalid_user")
	ErrInvalidStatus        = errors.New("invalid_status")
	ErrInvalidPageToken     = errors.New("invalid_page_token")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
)
