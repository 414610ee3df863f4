package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/anchor/internal/ir"
	"github.com/roach88/anchor/internal/notify"
	"github.com/roach88/anchor/internal/policy"
)

// TracerName is the instrumentation scope of engine spans.
const TracerName = "anchor/engine"

// Engine orchestrates transitions against a substrate.
//
// Thread-safety: Engine holds no mutable state of its own and is safe for
// concurrent use. Per-incident serialization is the substrate's job.
type Engine struct {
	substrate Substrate
	clock     Clock
	ids       IDGenerator
	approval  policy.ApprovalPolicy
	rules     policy.Rules
	sink      notify.Sink
	logger    *slog.Logger
	tracer    trace.Tracer
}

// EngineOption allows configuration of engine collaborators.
type EngineOption func(*Engine)

// WithClock sets the time source. Default: SystemClock.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithIDGenerator sets the notification ID generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) { e.ids = g }
}

// WithApprovalPolicy sets the creation-time approval predicate.
// Default: policy.FrontlineRequiresApproval.
func WithApprovalPolicy(p policy.ApprovalPolicy) EngineOption {
	return func(e *Engine) { e.approval = p }
}

// WithApprovalRules sets who may approve. Default: nobody.
func WithApprovalRules(r policy.Rules) EngineOption {
	return func(e *Engine) { e.rules = r }
}

// WithPolicy applies a compiled deployment policy.
func WithPolicy(p *policy.Policy) EngineOption {
	return func(e *Engine) {
		e.approval = p.ApprovalPolicy()
		e.rules = p.Rules()
	}
}

// WithSinks adds notification sinks. They are called in order after each commit.
func WithSinks(sinks ...notify.Sink) EngineOption {
	return func(e *Engine) {
		if existing, ok := e.sink.(notify.Fanout); ok {
			e.sink = append(existing, sinks...)
			return
		}
		e.sink = notify.Fanout(sinks)
	}
}

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithTracerProvider sets the tracer provider. Default: the global provider.
func WithTracerProvider(tp trace.TracerProvider) EngineOption {
	return func(e *Engine) { e.tracer = tp.Tracer(TracerName) }
}

// New creates an Engine over the given substrate.
func New(s Substrate, opts ...EngineOption) *Engine {
	e := &Engine{
		substrate: s,
		clock:     SystemClock{},
		ids:       UUIDv7Generator{},
		approval:  policy.FrontlineRequiresApproval,
		rules: policy.Rules{
			Authority: policy.AuthorityFunc(func(ir.Identity) bool { return false }),
		},
		sink:   notify.Fanout{},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer: otel.Tracer(TracerName),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Get returns the current record for an incident.
func (e *Engine) Get(ctx context.Context, incidentID uint64) (ir.IntegrityRecord, error) {
	ctx, span := e.start(ctx, "Get", incidentID)
	defer span.End()

	rec, err := e.substrate.Load(ctx, incidentID)
	if err != nil {
		return rec, e.fail(span, fmt.Errorf("get incident %d: %w", incidentID, err))
	}
	return rec, nil
}

// Create commits a new record owned by caller.
func (e *Engine) Create(ctx context.Context, caller ir.Identity, in CreateInput) (ir.IntegrityRecord, error) {
	ctx, span := e.start(ctx, "Create", in.IncidentID)
	defer span.End()

	now := stamp(e.clock)
	rec, payload, err := Create(caller, in, now, e.approval)
	if err != nil {
		return ir.IntegrityRecord{}, e.fail(span, fmt.Errorf("create incident %d: %w", in.IncidentID, err))
	}
	if err := e.substrate.Create(ctx, rec); err != nil {
		return ir.IntegrityRecord{}, e.fail(span, fmt.Errorf("create incident %d: %w", in.IncidentID, err))
	}

	e.committed(ctx, span, rec, payload, now)
	return rec, nil
}

// AppendEvent links eventHash into the incident's chain.
func (e *Engine) AppendEvent(ctx context.Context, caller ir.Identity, incidentID uint64, eventHash ir.Digest) (ir.IntegrityRecord, error) {
	ctx, span := e.start(ctx, "AppendEvent", incidentID)
	defer span.End()

	now := stamp(e.clock)
	var (
		next    ir.IntegrityRecord
		payload ir.EventAppended
	)
	err := e.substrate.Update(ctx, incidentID, func(cur ir.IntegrityRecord) (ir.IntegrityRecord, error) {
		var err error
		next, payload, err = AppendEvent(cur, caller, eventHash, now)
		return next, err
	})
	if err != nil {
		return ir.IntegrityRecord{}, e.fail(span, fmt.Errorf("append event to incident %d: %w", incidentID, err))
	}

	e.committed(ctx, span, next, payload, now)
	return next, nil
}

// UpdateArtifacts replaces artifact hashes and links the change event.
func (e *Engine) UpdateArtifacts(ctx context.Context, caller ir.Identity, incidentID uint64, in UpdateInput) (ir.IntegrityRecord, error) {
	ctx, span := e.start(ctx, "UpdateArtifacts", incidentID)
	defer span.End()

	now := stamp(e.clock)
	var (
		next    ir.IntegrityRecord
		payload ir.ArtifactsUpdated
	)
	err := e.substrate.Update(ctx, incidentID, func(cur ir.IntegrityRecord) (ir.IntegrityRecord, error) {
		var err error
		next, payload, err = UpdateArtifacts(cur, caller, in, now)
		return next, err
	})
	if err != nil {
		return ir.IntegrityRecord{}, e.fail(span, fmt.Errorf("update artifacts of incident %d: %w", incidentID, err))
	}

	e.committed(ctx, span, next, payload, now)
	return next, nil
}

// Approve moves a pending record to approved.
func (e *Engine) Approve(ctx context.Context, caller ir.Identity, incidentID uint64) (ir.IntegrityRecord, error) {
	ctx, span := e.start(ctx, "Approve", incidentID)
	defer span.End()

	now := stamp(e.clock)
	var (
		next    ir.IntegrityRecord
		payload ir.RecordApproved
	)
	err := e.substrate.Update(ctx, incidentID, func(cur ir.IntegrityRecord) (ir.IntegrityRecord, error) {
		var err error
		next, payload, err = Approve(cur, caller, now, e.rules)
		return next, err
	})
	if err != nil {
		return ir.IntegrityRecord{}, e.fail(span, fmt.Errorf("approve incident %d: %w", incidentID, err))
	}

	e.committed(ctx, span, next, payload, now)
	return next, nil
}

func (e *Engine) start(ctx context.Context, op string, incidentID uint64) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "Engine."+op,
		trace.WithAttributes(attribute.Int64("anchor.incident_id", int64(incidentID))))
}

func (e *Engine) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if code := ir.CodeOf(err); code != "" {
		span.SetAttributes(attribute.String("anchor.rejection", string(code)))
	}
	return err
}

// committed logs the transition and hands the notification to the sinks.
// Sink failures are logged and otherwise ignored: the write has already committed.
func (e *Engine) committed(ctx context.Context, span trace.Span, rec ir.IntegrityRecord, payload ir.Payload, now time.Time) {
	span.SetAttributes(
		attribute.String("anchor.kind", string(payload.Kind())),
		attribute.Int64("anchor.event_count", int64(rec.EventCount)),
		attribute.String("anchor.head", rec.EventChainHead.String()),
	)
	e.logger.Info("transition committed",
		"incident", rec.IncidentID,
		"kind", payload.Kind(),
		"count", rec.EventCount,
		"head", rec.EventChainHead.String(),
	)

	n := ir.Notification{
		ID:         e.ids.Generate(),
		IncidentID: rec.IncidentID,
		Timestamp:  now,
		Payload:    payload,
	}
	if err := e.sink.Publish(ctx, n); err != nil {
		e.logger.Warn("notification delivery failed",
			"incident", rec.IncidentID,
			"kind", payload.Kind(),
			"id", n.ID,
			"error", err,
		)
	}
}
