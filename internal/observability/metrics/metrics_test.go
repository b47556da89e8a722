package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "stripe"),
		attribute.String("user_id", "456"),
		attribute.String("result", "applied"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "provider" && attrs[1].Key != "provider" {
		t.Fatalf("expected provider to be retained")
	}
	if attrs[0].Key != "result" && attrs[1].Key != "result" {
		t.Fatalf("expected result to be retained")
	}
}

func TestRecordingOnNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordWebhookEvent(context.Background(), "stripe", "purchase_succeeded", "applied")
	m.RecordCacheLookup(context.Background(), "hit")
	m.RecordResolverFailure(context.Background())
	m.RecordDedupPruned(context.Background(), 10)
}

func TestNewBuildsAllInstruments(t *testing.T) {
	m, err := New(Config{ServiceName: "entitlements"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordWebhookEvent(context.Background(), "stripe", "renewal_succeeded", "applied")
	m.RecordDedupPruned(context.Background(), 3)
}
