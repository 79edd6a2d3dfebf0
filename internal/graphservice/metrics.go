package graphservice

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("linkgraph.graphservice")
	meter  = otel.Meter("linkgraph.graphservice")
)

var (
	entitiesCreated metric.Int64Counter
	entitiesMerged  metric.Int64Counter
	edgesAdded      metric.Int64Counter
	ingestLatency   metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics creates the instruments against the global meter provider.
// Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		entitiesCreated, err = meter.Int64Counter(
			"linkgraph_entities_created_total",
			metric.WithDescription("Entities stored on first sight of their URL"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		entitiesMerged, err = meter.Int64Counter(
			"linkgraph_entities_merged_total",
			metric.WithDescription("Observations folded into an existing entity"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		edgesAdded, err = meter.Int64Counter(
			"linkgraph_edges_added_total",
			metric.WithDescription("Directed links recorded for the first time"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		ingestLatency, err = meter.Float64Histogram(
			"linkgraph_ingest_duration_seconds",
			metric.WithDescription("Duration of observation ingestion"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordIngest records the outcome of a single Ingest call.
func recordIngest(ctx context.Context, duration time.Duration, created, merged, edges int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool("success", success))
	ingestLatency.Record(ctx, duration.Seconds(), attrs)
	if !success {
		return
	}
	entitiesCreated.Add(ctx, int64(created))
	entitiesMerged.Add(ctx, int64(merged))
	edgesAdded.Add(ctx, int64(edges))
}

func startIngestSpan(ctx context.Context, pageURL string, links int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Service.Ingest",
		trace.WithAttributes(
			attribute.String("linkgraph.url", pageURL),
			attribute.Int("linkgraph.link_count", links),
		),
	)
}
