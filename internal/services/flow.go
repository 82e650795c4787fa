package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/wellness-sync/internal/apperror"
)

// Stage is a step of the submission pipeline.
type Stage string

const (
	StageIdle                 Stage = "idle"
	StageFetchingDependencies Stage = "fetching_dependencies"
	StageMerging              Stage = "merging"
	StageRequesting           Stage = "requesting"
	StagePersisting           Stage = "persisting"
	StageDone                 Stage = "done"
	StageFailed               Stage = "failed"
)

// flow tracks one pipeline run. Stages only move forward and Failed is
// absorbing: once failed, enter is a no-op.
type flow struct {
	stage   Stage
	reached Stage
	span    trace.Span
}

func startFlow(ctx context.Context, tracer, name string, attrs ...attribute.KeyValue) (context.Context, *flow) {
	ctx, span := otel.Tracer(tracer).Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, &flow{stage: StageIdle, reached: StageIdle, span: span}
}

func (f *flow) enter(s Stage) {
	if f.stage == StageFailed || f.stage == StageDone {
		return
	}
	f.stage, f.reached = s, s
	f.span.AddEvent(string(s))
}

// fail moves the flow to Failed and returns err as an *apperror.Error with
// the stage that was being executed. Plain validation errors pass through.
func (f *flow) fail(err error) error {
	if f.stage == StageFailed {
		return err
	}
	f.stage = StageFailed
	f.span.RecordError(err)
	f.span.SetStatus(codes.Error, err.Error())
	if ae, ok := apperror.As(err); ok {
		if ae.Stage == "" {
			ae.Stage = string(f.reached)
		}
		f.span.SetAttributes(attribute.String("failure.kind", string(ae.Kind)))
	}
	return err
}

func (f *flow) end() {
	f.span.SetAttributes(attribute.String("flow.stage", string(f.stage)))
	f.span.End()
}
