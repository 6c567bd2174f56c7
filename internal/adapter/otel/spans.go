package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "siteforge"

// StartBuildSpan starts a span for a website build.
func StartBuildSpan(ctx context.Context, websiteID, projectType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "build",
		trace.WithAttributes(
			attribute.String("website.id", websiteID),
			attribute.String("website.project_type", projectType),
		),
	)
}

// StartEditSpan starts a span for an AI file edit.
func StartEditSpan(ctx context.Context, websiteID, fileName string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "ai_edit",
		trace.WithAttributes(
			attribute.String("website.id", websiteID),
			attribute.String("file.name", fileName),
		),
	)
}
