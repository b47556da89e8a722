package service_test

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	sqlite "github.com/glebarez/sqlite"
	"github.com/pairwell/entitlements/internal/clock"
	"github.com/pairwell/entitlements/internal/config"
	"github.com/pairwell/entitlements/internal/profileflag"
	subscriptiondomain "github.com/pairwell/entitlements/internal/subscription/domain"
	subscriptionrepo "github.com/pairwell/entitlements/internal/subscription/repository"
	"github.com/pairwell/entitlements/internal/userlock"
	"github.com/pairwell/entitlements/internal/webhook/adapters"
	"github.com/pairwell/entitlements/internal/webhook/domain"
	webhookrepo "github.com/pairwell/entitlements/internal/webhook/repository"
	webhookservice "github.com/pairwell/entitlements/internal/webhook/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// staticAdapter returns a prebuilt canonical event per payload, so tests
// exercise the synchronizer without provider payload shapes.
type staticAdapter struct {
	events map[string]*domain.Event
}

func (a *staticAdapter) Provider() string { return "stub" }

func (a *staticAdapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	return nil
}

func (a *staticAdapter) Parse(ctx context.Context, payload []byte) (*domain.Event, error) {
	event, ok := a.events[string(payload)]
	if !ok {
		return nil, domain.ErrEventIgnored
	}
	out := *event
	out.RawPayload = payload
	return &out, nil
}

type recordingInvalidator struct {
	mu    sync.Mutex
	calls []snowflake.ID
	hook  func(userID snowflake.ID)
}

func (r *recordingInvalidator) Invalidate(userID snowflake.ID) {
	r.mu.Lock()
	r.calls = append(r.calls, userID)
	hook := r.hook
	r.mu.Unlock()
	if hook != nil {
		hook(userID)
	}
}

func (r *recordingInvalidator) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fixture struct {
	svc         domain.Service
	db          *gorm.DB
	clk         *clock.FakeClock
	adapter     *staticAdapter
	invalidator *recordingInvalidator
	userID      snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&subscriptiondomain.Record{},
		&domain.EventRecord{},
		&profileflag.UserFlag{},
	))

	node, err := snowflake.NewNode(7)
	require.NoError(t, err)

	clk := clock.NewFakeClock(baseTime)
	adapter := &staticAdapter{events: map[string]*domain.Event{}}
	invalidator := &recordingInvalidator{}

	flags := profileflag.NewRecomputer(profileflag.Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clk,
		Cfg:   config.Config{GraceWindow: 72 * time.Hour},
	})

	svc := webhookservice.NewService(webhookservice.Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clk,
		Adapters:    adapters.NewRegistry(adapter),
		Repo:        webhookrepo.Provide(),
		SubRepo:     subscriptionrepo.Provide(),
		Flags:       flags,
		Locks:       userlock.New(nil, zap.NewNop()),
		Invalidator: invalidator,
	})

	return &fixture{
		svc:         svc,
		db:          db,
		clk:         clk,
		adapter:     adapter,
		invalidator: invalidator,
		userID:      node.Generate(),
	}
}

func (f *fixture) stub(payload string, event *domain.Event) string {
	f.adapter.events[payload] = event
	return payload
}

func (f *fixture) ingest(t *testing.T, payload string) domain.ApplyResult {
	t.Helper()
	result, err := f.svc.Ingest(context.Background(), "stub", []byte(payload), http.Header{})
	require.NoError(t, err)
	return result
}

func (f *fixture) currentRecord(t *testing.T) *subscriptiondomain.Record {
	t.Helper()
	rec, err := subscriptionrepo.Provide().FindCurrentByUserID(context.Background(), f.db, f.userID)
	require.NoError(t, err)
	return rec
}

func timePtr(t time.Time) *time.Time { return &t }

func purchaseEvent(f *fixture, eventID string, occurredAt time.Time) *domain.Event {
	return &domain.Event{
		ProviderEventID:        eventID,
		Type:                   domain.EventTypePurchaseSucceeded,
		UserID:                 f.userID,
		PlanID:                 "premium_monthly",
		ExternalSubscriptionID: "sub_1",
		PeriodEnd:              timePtr(occurredAt.Add(30 * 24 * time.Hour)),
		AutoRenew:              true,
		OccurredAt:             occurredAt,
	}
}

func TestPurchaseCreatesActiveRecord(t *testing.T) {
	f := newFixture(t)
	payload := f.stub(`{"event":"purchase"}`, purchaseEvent(f, "evt_1", baseTime))

	result := f.ingest(t, payload)
	assert.Equal(t, domain.ResultApplied, result)

	rec := f.currentRecord(t)
	require.NotNil(t, rec)
	assert.Equal(t, subscriptiondomain.StatusActive, rec.Status)
	assert.Equal(t, "premium_monthly", rec.PlanID)
	require.NotNil(t, rec.EndAt)
	assert.WithinDuration(t, baseTime.Add(30*24*time.Hour), rec.EndAt.UTC(), time.Second)

	var flag profileflag.UserFlag
	require.NoError(t, f.db.First(&flag, "user_id = ?", f.userID).Error)
	assert.True(t, flag.Premium)

	var stored domain.EventRecord
	require.NoError(t, f.db.First(&stored, "provider_event_id = ?", "evt_1").Error)
	assert.NotNil(t, stored.ProcessedAt)

	assert.Equal(t, 1, f.invalidator.count())
}

func TestDuplicateDeliveryIsIgnored(t *testing.T) {
	f := newFixture(t)
	payload := f.stub(`{"event":"purchase"}`, purchaseEvent(f, "evt_1", baseTime))

	assert.Equal(t, domain.ResultApplied, f.ingest(t, payload))
	assert.Equal(t, domain.ResultDuplicateIgnored, f.ingest(t, payload))

	var count int64
	require.NoError(t, f.db.Model(&subscriptiondomain.Record{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 1, f.invalidator.count(), "no invalidation for the duplicate")
}

func TestRenewalAssignsPeriodEndAbsolutely(t *testing.T) {
	f := newFixture(t)
	f.stub(`{"event":"purchase"}`, purchaseEvent(f, "evt_1", baseTime))
	f.ingest(t, `{"event":"purchase"}`)

	renewalEnd := baseTime.Add(60 * 24 * time.Hour)
	f.stub(`{"event":"renewal"}`, &domain.Event{
		ProviderEventID:        "evt_2",
		Type:                   domain.EventTypeRenewalSucceeded,
		ExternalSubscriptionID: "sub_1",
		PeriodEnd:              timePtr(renewalEnd),
		OccurredAt:             baseTime.Add(29 * 24 * time.Hour),
	})

	assert.Equal(t, domain.ResultApplied, f.ingest(t, `{"event":"renewal"}`))

	rec := f.currentRecord(t)
	require.NotNil(t, rec.EndAt)
	assert.WithinDuration(t, renewalEnd, rec.EndAt.UTC(), time.Second, "period end comes from the event, never incremented")

	// Redelivery of the same renewal changes nothing.
	assert.Equal(t, domain.ResultDuplicateIgnored, f.ingest(t, `{"event":"renewal"}`))
	rec = f.currentRecord(t)
	assert.WithinDuration(t, renewalEnd, rec.EndAt.UTC(), time.Second)
}

func TestPaymentFailureAnchorsGraceAtFirstFailure(t *testing.T) {
	f := newFixture(t)
	f.stub(`{"event":"purchase"}`, purchaseEvent(f, "evt_1", baseTime))
	f.ingest(t, `{"event":"purchase"}`)

	firstFailure := baseTime.Add(24 * time.Hour)
	f.stub(`{"event":"fail1"}`, &domain.Event{
		ProviderEventID:        "evt_2",
		Type:                   domain.EventTypePaymentFailed,
		ExternalSubscriptionID: "sub_1",
		OccurredAt:             firstFailure,
	})
	f.stub(`{"event":"fail2"}`, &domain.Event{
		ProviderEventID:        "evt_3",
		Type:                   domain.EventTypePaymentFailed,
		ExternalSubscriptionID: "sub_1",
		OccurredAt:             firstFailure.Add(time.Hour),
	})

	assert.Equal(t, domain.ResultApplied, f.ingest(t, `{"event":"fail1"}`))
	assert.Equal(t, domain.ResultApplied, f.ingest(t, `{"event":"fail2"}`))

	rec := f.currentRecord(t)
	assert.Equal(t, subscriptiondomain.StatusPastDue, rec.Status)
	require.NotNil(t, rec.PastDueAt)
	assert.WithinDuration(t, firstFailure, rec.PastDueAt.UTC(), time.Second)
}

func TestOutOfOrderEventIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.stub(`{"event":"purchase"}`, purchaseEvent(f, "evt_1", baseTime))
	f.ingest(t, `{"event":"purchase"}`)

	cancelAt := baseTime.Add(48 * time.Hour)
	f.stub(`{"event":"cancel"}`, &domain.Event{
		ProviderEventID:        "evt_2",
		Type:                   domain.EventTypeSubscriptionCanceled,
		ExternalSubscriptionID: "sub_1",
		OccurredAt:             cancelAt,
	})
	assert.Equal(t, domain.ResultApplied, f.ingest(t, `{"event":"cancel"}`))

	// A renewal that happened before the cancellation arrives late.
	f.stub(`{"event":"stale_renewal"}`, &domain.Event{
		ProviderEventID:        "evt_3",
		Type:                   domain.EventTypeRenewalSucceeded,
		ExternalSubscriptionID: "sub_1",
		PeriodEnd:              timePtr(baseTime.Add(90 * 24 * time.Hour)),
		OccurredAt:             baseTime.Add(time.Hour),
	})
	assert.Equal(t, domain.ResultDuplicateIgnored, f.ingest(t, `{"event":"stale_renewal"}`))

	rec := f.currentRecord(t)
	assert.Equal(t, subscriptiondomain.StatusCanceled, rec.Status, "newer cancellation is not overwritten")
}

func TestDistinctEventInSameSecondStillApplies(t *testing.T) {
	f := newFixture(t)
	f.stub(`{"event":"purchase"}`, purchaseEvent(f, "evt_1", baseTime))
	f.ingest(t, `{"event":"purchase"}`)

	// Provider timestamps have one-second granularity: a payment failure can
	// carry the same occurred-at as the event before it and must not be
	// dropped as out of order.
	f.stub(`{"event":"same_second_failure"}`, &domain.Event{
		ProviderEventID:        "evt_2",
		Type:                   domain.EventTypePaymentFailed,
		ExternalSubscriptionID: "sub_1",
		OccurredAt:             baseTime,
	})
	assert.Equal(t, domain.ResultApplied, f.ingest(t, `{"event":"same_second_failure"}`))

	rec := f.currentRecord(t)
	assert.Equal(t, subscriptiondomain.StatusPastDue, rec.Status)
}

func TestCancellationKeepsEntitlementUntilPeriodEnd(t *testing.T) {
	f := newFixture(t)
	f.stub(`{"event":"purchase"}`, purchaseEvent(f, "evt_1", baseTime))
	f.ingest(t, `{"event":"purchase"}`)

	f.stub(`{"event":"cancel"}`, &domain.Event{
		ProviderEventID:        "evt_2",
		Type:                   domain.EventTypeSubscriptionCanceled,
		ExternalSubscriptionID: "sub_1",
		OccurredAt:             baseTime.Add(time.Hour),
	})
	assert.Equal(t, domain.ResultApplied, f.ingest(t, `{"event":"cancel"}`))

	rec := f.currentRecord(t)
	assert.Equal(t, subscriptiondomain.StatusCanceled, rec.Status)
	require.NotNil(t, rec.EndAt)
	assert.WithinDuration(t, baseTime.Add(30*24*time.Hour), rec.EndAt.UTC(), time.Second, "period end survives cancellation")
	assert.False(t, rec.AutoRenew)

	// Still premium: the paid period has not elapsed.
	var flag profileflag.UserFlag
	require.NoError(t, f.db.First(&flag, "user_id = ?", f.userID).Error)
	assert.True(t, flag.Premium)
}

func TestDeletionTerminatesImmediately(t *testing.T) {
	f := newFixture(t)
	f.stub(`{"event":"purchase"}`, purchaseEvent(f, "evt_1", baseTime))
	f.ingest(t, `{"event":"purchase"}`)

	deletedAt := baseTime.Add(time.Hour)
	f.clk.Advance(time.Hour)
	f.stub(`{"event":"delete"}`, &domain.Event{
		ProviderEventID:        "evt_2",
		Type:                   domain.EventTypeSubscriptionDeleted,
		ExternalSubscriptionID: "sub_1",
		OccurredAt:             deletedAt,
	})
	assert.Equal(t, domain.ResultApplied, f.ingest(t, `{"event":"delete"}`))

	rec := f.currentRecord(t)
	assert.Equal(t, subscriptiondomain.StatusCanceled, rec.Status)
	require.NotNil(t, rec.EndAt)
	assert.WithinDuration(t, deletedAt, rec.EndAt.UTC(), time.Second)

	var flag profileflag.UserFlag
	require.NoError(t, f.db.First(&flag, "user_id = ?", f.userID).Error)
	assert.False(t, flag.Premium)
}

func TestRenewalForUnknownSubscriptionIsRejected(t *testing.T) {
	f := newFixture(t)
	f.stub(`{"event":"orphan_renewal"}`, &domain.Event{
		ProviderEventID:        "evt_1",
		Type:                   domain.EventTypeRenewalSucceeded,
		UserID:                 f.userID,
		ExternalSubscriptionID: "sub_never_seen",
		PeriodEnd:              timePtr(baseTime.Add(30 * 24 * time.Hour)),
		OccurredAt:             baseTime,
	})

	assert.Equal(t, domain.ResultRejected, f.ingest(t, `{"event":"orphan_renewal"}`))

	var count int64
	require.NoError(t, f.db.Model(&subscriptiondomain.Record{}).Count(&count).Error)
	assert.Zero(t, count)

	// Redelivery is a cheap duplicate, not another rejection pass.
	assert.Equal(t, domain.ResultDuplicateIgnored, f.ingest(t, `{"event":"orphan_renewal"}`))
}

func TestUnattributableCancellationIsAcked(t *testing.T) {
	f := newFixture(t)
	f.stub(`{"event":"ghost_cancel"}`, &domain.Event{
		ProviderEventID:        "evt_1",
		Type:                   domain.EventTypeSubscriptionCanceled,
		ExternalSubscriptionID: "sub_never_seen",
		OccurredAt:             baseTime,
	})

	assert.Equal(t, domain.ResultDuplicateIgnored, f.ingest(t, `{"event":"ghost_cancel"}`))

	var stored domain.EventRecord
	require.NoError(t, f.db.First(&stored, "provider_event_id = ?", "evt_1").Error)
	assert.NotNil(t, stored.ProcessedAt, "recorded so redelivery dedups")
}

func TestUnknownEventTypeIsIgnored(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Ingest(context.Background(), "stub", []byte(`{"event":"unmapped"}`), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, domain.ResultIgnored, result)
}

func TestUnknownProviderRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Ingest(context.Background(), "paypal", []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}

func TestMalformedPayloadRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Ingest(context.Background(), "stub", []byte(`{not json`), http.Header{})
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestInvalidationHappensAfterCommit(t *testing.T) {
	f := newFixture(t)
	payload := f.stub(`{"event":"purchase"}`, purchaseEvent(f, "evt_1", baseTime))

	f.invalidator.hook = func(userID snowflake.ID) {
		rec, err := subscriptionrepo.Provide().FindCurrentByUserID(context.Background(), f.db, userID)
		require.NoError(t, err)
		require.NotNil(t, rec, "ledger write must be visible before invalidation")
		assert.Equal(t, subscriptiondomain.StatusActive, rec.Status)
	}

	f.ingest(t, payload)
	assert.Equal(t, 1, f.invalidator.count())
}
