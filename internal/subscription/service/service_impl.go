package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/pairwell/entitlements/internal/subscription/domain"
	"github.com/pairwell/entitlements/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

// Service is the read-side ledger API consumed by admin endpoints. The
// synchronizer owns all writes.
type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("subscription.service"),
		repo: p.Repo,
	}
}

func (s *Service) GetCurrentByUserID(ctx context.Context, userID string) (domain.Response, error) {
	id, err := parseID(userID)
	if err != nil {
		return domain.Response{}, domain.ErrInvalidUser
	}

	record, err := s.repo.FindCurrentByUserID(ctx, s.db, id)
	if err != nil {
		return domain.Response{}, err
	}
	if record == nil {
		return domain.Response{}, domain.ErrSubscriptionNotFound
	}
	return toResponse(record), nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	filter := domain.ListFilter{PageSize: req.PageSize}
	if filter.PageSize <= 0 || filter.PageSize > 250 {
		filter.PageSize = 50
	}

	if value := strings.TrimSpace(req.UserID); value != "" {
		id, err := parseID(value)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidUser
		}
		filter.UserID = id
	}

	if value := strings.TrimSpace(req.Status); value != "" {
		status := domain.Status(strings.ToUpper(value))
		switch status {
		case domain.StatusPending, domain.StatusActive, domain.StatusPastDue, domain.StatusCanceled:
			filter.Status = status
		default:
			return domain.ListResponse{}, domain.ErrInvalidStatus
		}
	}

	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		after, err := parseID(cursor.ID)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		filter.AfterID = after
	}

	records, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListResponse{}, err
	}

	records, pageInfo, err := pagination.Trim(records, filter.PageSize, func(r domain.Record) pagination.Cursor {
		return pagination.Cursor{ID: r.ID.String()}
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	out := domain.ListResponse{PageInfo: pageInfo}
	out.Records = make([]domain.Response, 0, len(records))
	for i := range records {
		out.Records = append(out.Records, toResponse(&records[i]))
	}
	return out, nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidUser
	}
	return id, nil
}

func toResponse(record *domain.Record) domain.Response {
	return domain.Response{
		ID:                     record.ID.String(),
		UserID:                 record.UserID.String(),
		PlanID:                 record.PlanID,
		ExternalSubscriptionID: record.ExternalSubscriptionID,
		Status:                 record.Status,
		StartAt:                record.StartAt,
		EndAt:                  record.EndAt,
		AutoRenew:              record.AutoRenew,
		UpdatedAt:              record.UpdatedAt,
	}
}
