package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidProvider  = errors.New("invalid_provider")
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrEventIgnored     = errors.New("event_ignored")
)

// Adapter translates one provider's webhook surface into canonical events.
type Adapter interface {
	Provider() string
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*Event, error)
}

type Repository interface {
	// InsertEvent writes the dedup row; false means the (provider, event id)
	// pair already exists.
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
	// PruneProcessedBefore deletes processed dedup rows older than cutoff and
	// returns the number removed.
	PruneProcessedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}

type Service interface {
	// Ingest verifies, parses and applies one webhook delivery. The returned
	// result is terminal for every nil error; a non-nil error means the
	// delivery was not acknowledged and the provider should retry.
	Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) (ApplyResult, error)
}
