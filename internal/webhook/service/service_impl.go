package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/pairwell/entitlements/internal/clock"
	obsmetrics "github.com/pairwell/entitlements/internal/observability/metrics"
	"github.com/pairwell/entitlements/internal/profileflag"
	subscriptiondomain "github.com/pairwell/entitlements/internal/subscription/domain"
	"github.com/pairwell/entitlements/internal/userlock"
	"github.com/pairwell/entitlements/internal/webhook/adapters"
	"github.com/pairwell/entitlements/internal/webhook/domain"
	pkgdb "github.com/pairwell/entitlements/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CacheInvalidator is satisfied by the entitlement snapshot cache. Invalidation
// happens strictly after the ledger transaction commits.
type CacheInvalidator interface {
	Invalidate(userID snowflake.ID)
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Adapters    *adapters.Registry
	Repo        domain.Repository
	SubRepo     subscriptiondomain.Repository
	Flags       *profileflag.Recomputer
	Locks       *userlock.Lock
	Invalidator CacheInvalidator
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

// Service turns verified provider deliveries into ledger transitions. One
// delivery is applied at most once, per-user application is serialized, and
// every terminal outcome is acknowledged so providers stop redelivering.
type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	adapters    *adapters.Registry
	repo        domain.Repository
	subRepo     subscriptiondomain.Repository
	flags       *profileflag.Recomputer
	locks       *userlock.Lock
	invalidator CacheInvalidator
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("webhook.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		adapters:    p.Adapters,
		repo:        p.Repo,
		subRepo:     p.SubRepo,
		flags:       p.Flags,
		locks:       p.Locks,
		invalidator: p.Invalidator,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *Service) Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) (domain.ApplyResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return "", domain.ErrInvalidProvider
	}

	adapter, err := s.adapters.Get(provider)
	if err != nil {
		return "", err
	}
	if !json.Valid(payload) {
		return "", domain.ErrInvalidPayload
	}
	if err := adapter.Verify(ctx, payload, headers); err != nil {
		return "", err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, domain.ErrEventIgnored) {
			return domain.ResultIgnored, nil
		}
		return "", err
	}
	event.Provider = provider

	result, err := s.apply(ctx, event)
	if err != nil {
		return "", err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordWebhookEvent(ctx, provider, string(event.Type), string(result))
	}
	return result, nil
}

func (s *Service) apply(ctx context.Context, event *domain.Event) (domain.ApplyResult, error) {
	if strings.TrimSpace(event.ProviderEventID) == "" || event.OccurredAt.IsZero() {
		return "", domain.ErrInvalidEvent
	}

	userID, err := s.resolveUser(ctx, event)
	if err != nil {
		return "", err
	}
	if userID == 0 {
		return s.recordUnattributable(ctx, event)
	}

	release, err := s.locks.Acquire(ctx, userID)
	if err != nil {
		return "", err
	}
	defer release()

	received := domain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       string(event.Type),
		UserID:          userID,
		Payload:         datatypes.JSON(event.RawPayload),
		ReceivedAt:      s.clock.Now(),
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return "", err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
		if err != nil {
			return "", err
		}
		if stored == nil {
			return "", domain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			s.log.Info("duplicate delivery ignored",
				zap.String("provider", event.Provider),
				zap.String("provider_event_id", event.ProviderEventID),
			)
			return domain.ResultDuplicateIgnored, nil
		}
		// Row exists but was never marked processed: a previous attempt died
		// between insert and commit. Reprocess; the transitions are idempotent.
	}

	result, err := s.applyTransition(ctx, stored, event, userID)
	if err != nil {
		if !pkgdb.IsDuplicateKeyErr(err) {
			return "", err
		}
		// Lost an insert race on the external subscription unique index to a
		// concurrent delivery. The winning delivery owns the record.
		if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, s.clock.Now()); err != nil {
			return "", err
		}
		result = domain.ResultDuplicateIgnored
	}

	if result == domain.ResultApplied {
		// Invalidation strictly after commit so no reader caches pre-write
		// truth.
		s.invalidator.Invalidate(userID)
	}

	s.log.Info("webhook event applied",
		zap.String("provider", event.Provider),
		zap.String("provider_event_id", event.ProviderEventID),
		zap.String("event_type", string(event.Type)),
		zap.String("user_id", userID.String()),
		zap.String("result", string(result)),
	)
	return result, nil
}

// resolveUser attributes the event to a user, falling back to the external
// subscription reference when the payload carries no user id.
func (s *Service) resolveUser(ctx context.Context, event *domain.Event) (snowflake.ID, error) {
	if event.UserID != 0 {
		return event.UserID, nil
	}
	if strings.TrimSpace(event.ExternalSubscriptionID) == "" {
		return 0, nil
	}

	rec, err := s.subRepo.FindByExternalID(ctx, s.db, event.ExternalSubscriptionID)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, nil
	}
	return rec.UserID, nil
}

// recordUnattributable persists the dedup row for events that can never map to
// a user, so redeliveries stay cheap no-ops.
func (s *Service) recordUnattributable(ctx context.Context, event *domain.Event) (domain.ApplyResult, error) {
	result := domain.ResultRejected
	switch event.Type {
	case domain.EventTypeSubscriptionCanceled, domain.EventTypeSubscriptionDeleted:
		// Terminal transition for a subscription this system never saw; the
		// desired end state already holds.
		result = domain.ResultDuplicateIgnored
	}

	now := s.clock.Now()
	received := domain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       string(event.Type),
		Payload:         datatypes.JSON(event.RawPayload),
		ReceivedAt:      now,
		ProcessedAt:     &now,
	}
	if _, err := s.repo.InsertEvent(ctx, s.db, &received); err != nil {
		return "", err
	}

	s.log.Warn("webhook event not attributable to a user",
		zap.String("provider", event.Provider),
		zap.String("provider_event_id", event.ProviderEventID),
		zap.String("event_type", string(event.Type)),
		zap.String("external_subscription_id", event.ExternalSubscriptionID),
		zap.String("result", string(result)),
	)
	return result, nil
}

// applyTransition runs the ledger mutation, the profile flag recompute and the
// processed marker in one transaction.
func (s *Service) applyTransition(ctx context.Context, stored *domain.EventRecord, event *domain.Event, userID snowflake.ID) (domain.ApplyResult, error) {
	result := domain.ResultApplied

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := s.lockRecord(ctx, tx, event, userID)
		if err != nil {
			return err
		}

		if rec != nil && rec.LastEventAt != nil && event.OccurredAt.Before(*rec.LastEventAt) {
			// Out-of-order delivery: a newer event already shaped this record.
			// Equal timestamps pass; provider clocks have one-second granularity
			// and distinct same-second events are real. True redeliveries never
			// reach here, the dedup row catches them.
			result = domain.ResultDuplicateIgnored
			return s.repo.MarkProcessed(ctx, tx, stored.ID, s.clock.Now())
		}

		rec, result, err = s.transition(ctx, tx, rec, event, userID)
		if err != nil {
			return err
		}

		if result == domain.ResultApplied {
			if err := s.flags.Recompute(ctx, tx, userID, rec); err != nil {
				return err
			}
		}

		return s.repo.MarkProcessed(ctx, tx, stored.ID, s.clock.Now())
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func (s *Service) lockRecord(ctx context.Context, tx *gorm.DB, event *domain.Event, userID snowflake.ID) (*subscriptiondomain.Record, error) {
	if strings.TrimSpace(event.ExternalSubscriptionID) != "" {
		rec, err := s.subRepo.FindByExternalID(ctx, tx, event.ExternalSubscriptionID)
		if err != nil || rec != nil {
			return rec, err
		}
	}
	return s.subRepo.FindCurrentByUserIDForUpdate(ctx, tx, userID)
}

func (s *Service) transition(
	ctx context.Context,
	tx *gorm.DB,
	rec *subscriptiondomain.Record,
	event *domain.Event,
	userID snowflake.ID,
) (*subscriptiondomain.Record, domain.ApplyResult, error) {

	occurredAt := event.OccurredAt.UTC()

	switch event.Type {
	case domain.EventTypePurchaseSucceeded:
		if rec == nil {
			if strings.TrimSpace(event.PlanID) == "" {
				return nil, domain.ResultRejected, nil
			}
			fresh := &subscriptiondomain.Record{
				ID:          s.genID.Generate(),
				UserID:      userID,
				PlanID:      event.PlanID,
				Status:      subscriptiondomain.StatusActive,
				StartAt:     occurredAt,
				EndAt:       event.PeriodEnd,
				AutoRenew:   event.AutoRenew,
				LastEventAt: &occurredAt,
			}
			if strings.TrimSpace(event.ExternalSubscriptionID) != "" {
				extID := event.ExternalSubscriptionID
				fresh.ExternalSubscriptionID = &extID
			}
			if err := s.subRepo.Insert(ctx, tx, fresh); err != nil {
				return nil, "", err
			}
			return fresh, domain.ResultApplied, nil
		}

		// Re-activation of a known subscription. Absolute assignment keeps
		// redeliveries harmless.
		rec.Status = subscriptiondomain.StatusActive
		if strings.TrimSpace(event.PlanID) != "" {
			rec.PlanID = event.PlanID
		}
		if event.PeriodEnd != nil {
			rec.EndAt = event.PeriodEnd
		}
		rec.AutoRenew = event.AutoRenew
		rec.PastDueAt = nil
		rec.CanceledAt = nil
		rec.LastEventAt = &occurredAt
		if err := s.subRepo.Update(ctx, tx, rec); err != nil {
			return nil, "", err
		}
		return rec, domain.ResultApplied, nil

	case domain.EventTypeRenewalSucceeded:
		if rec == nil {
			return nil, domain.ResultRejected, nil
		}
		rec.Status = subscriptiondomain.StatusActive
		if event.PeriodEnd != nil {
			// The period end comes from the event, never from arithmetic on
			// the stored value.
			rec.EndAt = event.PeriodEnd
		}
		rec.PastDueAt = nil
		rec.LastEventAt = &occurredAt
		if err := s.subRepo.Update(ctx, tx, rec); err != nil {
			return nil, "", err
		}
		return rec, domain.ResultApplied, nil

	case domain.EventTypePaymentFailed:
		if rec == nil {
			return nil, domain.ResultRejected, nil
		}
		if rec.Status != subscriptiondomain.StatusPastDue {
			rec.Status = subscriptiondomain.StatusPastDue
			// The grace window anchors at the first failure of this cycle.
			rec.PastDueAt = &occurredAt
		}
		rec.LastEventAt = &occurredAt
		if err := s.subRepo.Update(ctx, tx, rec); err != nil {
			return nil, "", err
		}
		return rec, domain.ResultApplied, nil

	case domain.EventTypeSubscriptionCanceled:
		if rec == nil {
			return nil, domain.ResultDuplicateIgnored, nil
		}
		// EndAt stays: a canceled subscription entitles until period end.
		rec.Status = subscriptiondomain.StatusCanceled
		rec.AutoRenew = false
		if rec.CanceledAt == nil {
			rec.CanceledAt = &occurredAt
		}
		rec.LastEventAt = &occurredAt
		if err := s.subRepo.Update(ctx, tx, rec); err != nil {
			return nil, "", err
		}
		return rec, domain.ResultApplied, nil

	case domain.EventTypeSubscriptionDeleted:
		if rec == nil {
			return nil, domain.ResultDuplicateIgnored, nil
		}
		rec.Status = subscriptiondomain.StatusCanceled
		rec.AutoRenew = false
		rec.EndAt = &occurredAt
		if rec.CanceledAt == nil {
			rec.CanceledAt = &occurredAt
		}
		rec.LastEventAt = &occurredAt
		if err := s.subRepo.Update(ctx, tx, rec); err != nil {
			return nil, "", err
		}
		return rec, domain.ResultApplied, nil

	default:
		return nil, "", domain.ErrInvalidEvent
	}
}
