package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const grace = 72 * time.Hour

func timePtr(t time.Time) *time.Time { return &t }

func TestEffectiveStatusActive(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := &Record{
		Status:  StatusActive,
		StartAt: now.Add(-24 * time.Hour),
		EndAt:   timePtr(now.Add(29 * 24 * time.Hour)),
	}
	assert.Equal(t, StatusActive, rec.EffectiveStatus(now, grace))
	assert.True(t, rec.EntitledAt(now, grace))
}

func TestEffectiveStatusExpiryIsComputedNotStored(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := &Record{
		Status:  StatusActive,
		StartAt: now.Add(-60 * 24 * time.Hour),
		EndAt:   timePtr(now.Add(-time.Second)),
	}
	assert.Equal(t, StatusExpired, rec.EffectiveStatus(now, grace))
	assert.False(t, rec.EntitledAt(now, grace))
}

func TestEffectiveStatusGraceWindowBoundary(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := &Record{
		Status:    StatusPastDue,
		StartAt:   now.Add(-10 * 24 * time.Hour),
		EndAt:     timePtr(now.Add(20 * 24 * time.Hour)),
		PastDueAt: timePtr(now.Add(-grace + time.Second)),
	}
	assert.True(t, rec.EntitledAt(now, grace), "inside the grace window")

	rec.PastDueAt = timePtr(now.Add(-grace - time.Second))
	assert.False(t, rec.EntitledAt(now, grace), "past the grace window, no write required")
}

func TestEffectiveStatusCanceledEntitlesUntilPeriodEnd(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := &Record{
		Status:     StatusCanceled,
		StartAt:    now.Add(-10 * 24 * time.Hour),
		EndAt:      timePtr(now.Add(5 * 24 * time.Hour)),
		CanceledAt: timePtr(now.Add(-time.Hour)),
	}
	assert.True(t, rec.EntitledAt(now, grace))

	rec.EndAt = timePtr(now.Add(-time.Minute))
	assert.False(t, rec.EntitledAt(now, grace))
}

func TestEffectiveStatusNilAndPending(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var rec *Record
	assert.Equal(t, StatusExpired, rec.EffectiveStatus(now, grace))

	pending := &Record{Status: StatusPending, StartAt: now}
	assert.False(t, pending.EntitledAt(now, grace))
}
