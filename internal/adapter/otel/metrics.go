package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "siteforge"

// Metrics holds all SiteForge metric instruments.
type Metrics struct {
	BuildsStarted   metric.Int64Counter
	BuildsCompleted metric.Int64Counter
	BuildsFailed    metric.Int64Counter
	BuildDuration   metric.Float64Histogram
	EditsApplied    metric.Int64Counter
	EditsRejected   metric.Int64Counter
	EditDuration    metric.Float64Histogram
	PortsLeased     metric.Int64UpDownCounter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.BuildsStarted, err = meter.Int64Counter("siteforge.builds.started",
		metric.WithDescription("Number of builds started"))
	if err != nil {
		return nil, err
	}

	m.BuildsCompleted, err = meter.Int64Counter("siteforge.builds.completed",
		metric.WithDescription("Number of builds that reached running"))
	if err != nil {
		return nil, err
	}

	m.BuildsFailed, err = meter.Int64Counter("siteforge.builds.failed",
		metric.WithDescription("Number of builds that failed"))
	if err != nil {
		return nil, err
	}

	m.BuildDuration, err = meter.Float64Histogram("siteforge.build.duration_seconds",
		metric.WithDescription("Build duration until ready in seconds"))
	if err != nil {
		return nil, err
	}

	m.EditsApplied, err = meter.Int64Counter("siteforge.edits.applied",
		metric.WithDescription("Number of AI edits applied"))
	if err != nil {
		return nil, err
	}

	m.EditsRejected, err = meter.Int64Counter("siteforge.edits.rejected",
		metric.WithDescription("Number of AI edits rejected"))
	if err != nil {
		return nil, err
	}

	m.EditDuration, err = meter.Float64Histogram("siteforge.edit.duration_seconds",
		metric.WithDescription("AI edit round-trip duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.PortsLeased, err = meter.Int64UpDownCounter("siteforge.ports.leased",
		metric.WithDescription("Currently leased preview ports"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
