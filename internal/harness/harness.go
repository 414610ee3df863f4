package harness

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/anchor/internal/compiler"
	"github.com/roach88/anchor/internal/engine"
	"github.com/roach88/anchor/internal/identity"
	"github.com/roach88/anchor/internal/ir"
	"github.com/roach88/anchor/internal/notify"
	"github.com/roach88/anchor/internal/policy"
	"github.com/roach88/anchor/internal/store"
	"github.com/roach88/anchor/internal/testutil"
)

// Harness is the scenario execution environment.
type Harness struct {
	store    *store.Store
	engine   *engine.Engine
	recorder *notify.Recorder
	clock    *testutil.DeterministicClock
	logger   *slog.Logger

	actors map[string]identity.KeyPair
	names  map[ir.Identity]string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Create fresh in-memory database and deterministic engine
// 2. Build the approval policy
// 3. Execute flow steps, comparing each outcome with its expectation
// 4. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:    st,
		recorder: notify.NewRecorder(),
		clock:    testutil.NewDeterministicClock(testutil.DefaultEpoch, time.Second),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		actors:   make(map[string]identity.KeyPair),
		names:    make(map[ir.Identity]string),
	}

	pol, err := h.buildPolicy(scenario)
	if err != nil {
		return nil, fmt.Errorf("failed to build policy: %w", err)
	}

	h.engine = engine.New(st,
		engine.WithClock(h.clock),
		engine.WithIDGenerator(testutil.NewSequentialIDGenerator("n")),
		engine.WithPolicy(pol),
		engine.WithSinks(st, h.recorder),
		engine.WithLogger(h.logger),
	)

	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Flow {
		ev, err := h.execute(ctx, int64(i+1), step)
		if err != nil {
			return nil, fmt.Errorf("flow step %d: %w", i, err)
		}
		result.AddTrace(ev)

		want := step.Expect
		if want == "" {
			want = OutcomeOK
		}
		if ev.Outcome != want {
			result.AddError(fmt.Sprintf("flow[%d] %s by %s on incident %d: expected %s, got %s",
				i, step.Op, step.Actor, step.Incident, want, ev.Outcome))
		}

		h.logger.Info("flow step completed",
			"step", i,
			"op", step.Op,
			"actor", step.Actor,
			"incident", step.Incident,
			"outcome", ev.Outcome,
		)
	}

	actx := &AssertionContext{
		Ctx:           ctx,
		Store:         st,
		Notifications: h.recorder.Notifications(),
		NameOf:        h.nameOf,
	}
	for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

// execute runs one step. A returned error means the scenario itself is
// broken; rejections are reported through the event's Outcome.
func (h *Harness) execute(ctx context.Context, seq int64, st Step) (TraceEvent, error) {
	ev := TraceEvent{Seq: seq, Op: st.Op, Actor: st.Actor, IncidentID: st.Incident}

	if st.Op == OpVerify {
		return h.verify(ctx, ev, st)
	}

	caller := h.actor(st.Actor).Identity()

	var rec ir.IntegrityRecord
	var err error
	switch st.Op {
	case OpCreate:
		var in engine.CreateInput
		if in, err = createInput(st); err == nil {
			rec, err = h.engine.Create(ctx, caller, in)
		}
	case OpAppend:
		var e ir.Digest
		if e, err = eventHash(st); err == nil {
			rec, err = h.engine.AppendEvent(ctx, caller, st.Incident, e)
		}
	case OpUpdate:
		var in engine.UpdateInput
		if in, err = updateInput(st); err == nil {
			rec, err = h.engine.UpdateArtifacts(ctx, caller, st.Incident, in)
		}
	case OpApprove:
		rec, err = h.engine.Approve(ctx, caller, st.Incident)
	default:
		return ev, fmt.Errorf("unknown op %q", st.Op)
	}

	outcome, hard := outcomeOf(err)
	if hard != nil {
		return ev, hard
	}
	ev.Outcome = outcome
	if err != nil {
		return ev, nil
	}

	ev.BundleRoot = rec.BundleRoot.String()
	ev.Head = rec.EventChainHead.String()
	ev.Count = rec.EventCount
	ev.Approval = policy.StateOf(rec).String()
	if ns := h.recorder.Notifications(); len(ns) > 0 {
		ev.Notification = string(ns[len(ns)-1].Kind())
	}
	return ev, nil
}

func (h *Harness) verify(ctx context.Context, ev TraceEvent, st Step) (TraceEvent, error) {
	rec, links, err := store.Snapshot(ctx, h.store, st.Incident)
	if err != nil {
		outcome, hard := outcomeOf(err)
		if hard != nil {
			return ev, hard
		}
		ev.Outcome = outcome
		return ev, nil
	}

	v := engine.VerifyChain(rec, links)
	valid := v.ChainValid
	ev.ChainValid = &valid
	ev.Links = v.Links

	outcome, hard := outcomeOf(v.Err(st.RequireApproved))
	if hard != nil {
		return ev, hard
	}
	ev.Outcome = outcome
	return ev, nil
}

// actor returns the fixed key for name, registering it for reverse lookup.
func (h *Harness) actor(name string) identity.KeyPair {
	if k, ok := h.actors[name]; ok {
		return k
	}
	k := ActorKey(name)
	h.actors[name] = k
	h.names[k.Identity()] = name
	return k
}

func (h *Harness) nameOf(id ir.Identity) string {
	if name, ok := h.names[id]; ok {
		return name
	}
	return id.String()
}

// ActorKey derives the key pair a scenario actor signs with.
func ActorKey(name string) identity.KeyPair {
	seed := sha256.Sum256([]byte("anchor/actor/v1\x00" + name))
	k, err := identity.FromSeed(seed[:])
	if err != nil {
		panic(err) // seed is always 32 bytes
	}
	return k
}

func (h *Harness) buildPolicy(s *Scenario) (*policy.Policy, error) {
	ps := s.Policy
	if ps == nil {
		return policy.Default(), nil
	}

	p := policy.Default()
	if ps.File != "" {
		var err error
		if p, err = compiler.LoadPolicy(s.policyPath()); err != nil {
			return nil, err
		}
	}

	if ps.ApprovalRequired != nil {
		roles := make([]ir.Role, 0, len(ps.ApprovalRequired))
		for _, name := range ps.ApprovalRequired {
			role, err := ir.ParseRole(name)
			if err != nil {
				return nil, fmt.Errorf("approval_required: %w", err)
			}
			roles = append(roles, role)
		}
		p.RequireApproval = roles
	}
	if ps.OpenApproval {
		p.OpenApproval = true
	}
	if ps.ForbidSelfApproval {
		p.ForbidSelfApproval = true
	}

	for name, roleName := range ps.Approvers {
		role, err := ir.ParseRole(roleName)
		if err != nil {
			return nil, fmt.Errorf("approvers.%s: %w", name, err)
		}
		if err := p.Registry.Grant(h.actor(name).Identity(), role); err != nil {
			return nil, fmt.Errorf("approvers.%s: %w", name, err)
		}
	}
	return p, nil
}

// outcomeOf maps a step error to its trace outcome. Errors that are not
// rejections are returned as hard failures.
func outcomeOf(err error) (string, error) {
	if err == nil {
		return OutcomeOK, nil
	}
	if code := ir.CodeOf(err); code != "" {
		return string(code), nil
	}
	switch {
	case errors.Is(err, engine.ErrChainMismatch):
		return "CHAIN_MISMATCH", nil
	case errors.Is(err, engine.ErrBundleRootMismatch):
		return "BUNDLE_ROOT_MISMATCH", nil
	}
	return "", err
}

func createInput(st Step) (engine.CreateInput, error) {
	in := engine.CreateInput{IncidentID: st.Incident}

	role := st.Role
	if role == "" {
		role = ir.RoleFrontline.String()
	}
	r, err := ir.ParseRole(role)
	if err != nil {
		return in, err
	}
	in.Role = r

	for name, value := range st.Artifacts {
		kind, err := ir.ParseArtifactKind(name)
		if err != nil {
			return in, fmt.Errorf("artifacts: %w", err)
		}
		d, err := ParseDigest(value)
		if err != nil {
			return in, fmt.Errorf("artifacts.%s: %w", name, err)
		}
		in.Artifacts = in.Artifacts.With(kind, d)
	}

	if in.FirstEvent, err = ParseDigest(st.FirstEvent); err != nil {
		return in, fmt.Errorf("first_event: %w", err)
	}
	if st.PacketURI != nil {
		in.PacketURI = *st.PacketURI
	}
	return in, nil
}

func updateInput(st Step) (engine.UpdateInput, error) {
	var in engine.UpdateInput
	for name, value := range st.Artifacts {
		kind, err := ir.ParseArtifactKind(name)
		if err != nil {
			return in, fmt.Errorf("artifacts: %w", err)
		}
		d, err := ParseDigest(value)
		if err != nil {
			return in, fmt.Errorf("artifacts.%s: %w", name, err)
		}
		in.Artifacts = in.Artifacts.Set(kind, d)
	}

	var err error
	if in.ChangeEvent, err = ParseDigest(st.ChangeEvent); err != nil {
		return in, fmt.Errorf("change_event: %w", err)
	}
	if st.PacketURI != nil {
		in.PacketURI = ir.ReplaceURI(*st.PacketURI)
	}
	return in, nil
}

func eventHash(st Step) (ir.Digest, error) {
	if st.EventDoc != nil {
		return ir.EventHash(st.EventDoc.Kind, st.EventDoc.Doc)
	}
	d, err := ParseDigest(st.Event)
	if err != nil {
		return d, fmt.Errorf("event: %w", err)
	}
	return d, nil
}

// ParseDigest accepts 64 hex characters, or two as shorthand for that byte
// repeated across the digest.
func ParseDigest(s string) (ir.Digest, error) {
	if len(s) == 2 {
		b, err := hex.DecodeString(s)
		if err != nil {
			return ir.Digest{}, fmt.Errorf("%w: %q", ir.ErrInvalidHash, s)
		}
		return ir.RepeatByte(b[0]), nil
	}
	return ir.ParseDigest(s)
}
