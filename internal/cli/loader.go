package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/anchor/internal/compiler"
	"github.com/roach88/anchor/internal/config"
	"github.com/roach88/anchor/internal/engine"
	"github.com/roach88/anchor/internal/identity"
	"github.com/roach88/anchor/internal/ir"
	"github.com/roach88/anchor/internal/notify"
	"github.com/roach88/anchor/internal/policy"
	"github.com/roach88/anchor/internal/store"
	"github.com/roach88/anchor/internal/telemetry"
)

// LoadError reports command input or environment that could not be loaded:
// an argument, the store, the signing key or the policy.
type LoadError struct {
	Code    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Backend is a storage substrate that also journals notifications.
// Implemented by store.Store and store.PostgresStore.
type Backend interface {
	engine.Substrate
	store.Source
	notify.Sink
	Journal(ctx context.Context, incidentID uint64) ([]store.JournalEntry, error)
	Close() error
}

// OpenBackend opens the substrate selected by cfg: Postgres when a DSN is
// set, otherwise the SQLite file at cfg.DB (created if missing).
func OpenBackend(ctx context.Context, cfg config.Config) (Backend, error) {
	switch cfg.Backend() {
	case config.BackendPostgres:
		pg, err := store.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeStore, Message: "failed to open postgres", Err: err}
		}
		return pg, nil
	default:
		st, err := store.Open(cfg.DB)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeStore, Message: fmt.Sprintf("failed to open database %s", cfg.DB), Err: err}
		}
		return st, nil
	}
}

// LoadKey reads the signing key named by cfg.Key.
func LoadKey(cfg config.Config) (identity.KeyPair, error) {
	if cfg.Key == "" {
		return identity.KeyPair{}, &LoadError{Code: ErrCodeKey, Message: "no signing key: pass --key or set ANCHOR_KEY"}
	}
	k, err := identity.Load(cfg.Key)
	if err != nil {
		return identity.KeyPair{}, &LoadError{Code: ErrCodeKey, Message: fmt.Sprintf("failed to load key %s", cfg.Key), Err: err}
	}
	return k, nil
}

// LoadPolicy compiles cfg.Policy, or returns the built-in default when no
// policy is configured.
func LoadPolicy(cfg config.Config) (*policy.Policy, error) {
	if cfg.Policy == "" {
		return policy.Default(), nil
	}
	p, err := compiler.LoadPolicy(cfg.Policy)
	if err != nil {
		return nil, &LoadError{Code: ErrCodePolicy, Message: fmt.Sprintf("failed to compile policy %s", cfg.Policy), Err: err}
	}
	return p, nil
}

// session is everything a transition command needs, assembled from the
// configuration. Close releases it in reverse order.
type session struct {
	backend  Backend
	engine   *engine.Engine
	verifier identity.Verifier
	logger   *slog.Logger

	closers []func(context.Context) error
}

// openSession loads the policy, opens the backend, starts tracing and the
// Redis relay, and builds the engine.
func openSession(ctx context.Context, opts *RootOptions, logOut io.Writer) (_ *session, err error) {
	cfg := opts.Config
	s := &session{
		logger:   newLogger(opts, logOut),
		verifier: identity.Verifier{MaxSkew: cfg.RequestSkew},
	}
	defer func() {
		if err != nil {
			_ = s.Close(ctx)
		}
	}()

	pol, err := LoadPolicy(cfg)
	if err != nil {
		return nil, err
	}
	for _, v := range compiler.ValidatePolicy(pol) {
		s.logger.Warn("policy check", "code", v.Code, "field", v.Field, "message", v.Message)
	}

	if s.backend, err = OpenBackend(ctx, cfg); err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func(context.Context) error { return s.backend.Close() })

	tel := telemetry.Options{
		ServiceName:    "anchor",
		ServiceVersion: ir.EngineVersion,
		Endpoint:       cfg.OTLPEndpoint,
	}
	if cfg.TraceStdout {
		tel.Stdout = logOut
	}
	tp, err := telemetry.Init(ctx, tel)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeConfig, Message: "failed to start tracing", Err: err}
	}
	s.closers = append(s.closers, tp.Shutdown)

	sinks := []notify.Sink{s.backend, notify.NewLogSink(s.logger)}
	if cfg.RedisAddr != "" {
		sinks = append(sinks, s.startRelay(cfg))
	}

	s.engine = engine.New(s.backend,
		engine.WithPolicy(pol),
		engine.WithSinks(sinks...),
		engine.WithLogger(s.logger),
		engine.WithTracerProvider(tp.TracerProvider),
	)
	return s, nil
}

// startRelay publishes to Redis off the request path. Close drains it.
func (s *session) startRelay(cfg config.Config) notify.Sink {
	rs := notify.NewRedisSink(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisChannel)
	relay := notify.NewAsync(rs, s.logger)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(runCtx) }()

	s.closers = append(s.closers, func(ctx context.Context) error {
		defer cancel()
		relay.Close()
		select {
		case err := <-done:
			return errors.Join(err, rs.Close())
		case <-ctx.Done():
			cancel()
			<-done
			s.logger.Warn("redis relay abandoned undelivered notifications", "pending", relay.Len())
			return errors.Join(ctx.Err(), rs.Close())
		}
	})
	return relay
}

// apply verifies req and runs the transition decoded from its body as the
// signer.
func (s *session) apply(ctx context.Context, req identity.SignedRequest) (ir.IntegrityRecord, error) {
	caller, err := s.verifier.Verify(req)
	if err != nil {
		return ir.IntegrityRecord{}, fmt.Errorf("%s request: %w", req.Op, err)
	}
	t, err := transitionFromRequest(req)
	if err != nil {
		return ir.IntegrityRecord{}, err
	}
	s.logger.Debug("applying request", "op", t.Op, "incident", t.IncidentID, "signer", caller)

	switch t.Op {
	case opCreate:
		return s.engine.Create(ctx, caller, t.Create)
	case opAppend:
		return s.engine.AppendEvent(ctx, caller, t.IncidentID, t.Event)
	case opUpdate:
		return s.engine.UpdateArtifacts(ctx, caller, t.IncidentID, t.Update)
	default:
		return s.engine.Approve(ctx, caller, t.IncidentID)
	}
}

// Close flushes tracing and the relay and closes the backend.
func (s *session) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// closeTimeout bounds how long a command waits for spans and relayed
// notifications to flush on exit.
const closeTimeout = 10 * time.Second

func closeSession(s *session) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		s.logger.Error("error closing session", "error", err)
	}
}
