package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/roach88/anchor/internal/ir"
	"github.com/roach88/anchor/internal/notify"
	"github.com/roach88/anchor/internal/policy"
	"github.com/roach88/anchor/internal/store"
	"github.com/roach88/anchor/internal/testutil"
)

type fixture struct {
	engine   *Engine
	memory   *store.Memory
	recorder *notify.Recorder
	clock    *testutil.DeterministicClock
}

func newFixture(t *testing.T, opts ...EngineOption) *fixture {
	t.Helper()
	f := &fixture{
		memory:   store.NewMemory(),
		recorder: notify.NewRecorder(),
		clock:    testutil.NewDeterministicClock(testutil.DefaultEpoch, time.Second),
	}
	base := []EngineOption{
		WithClock(f.clock),
		WithIDGenerator(testutil.NewSequentialIDGenerator("n")),
		WithApprovalRules(policy.Rules{Authority: policy.OpenAuthority}),
		WithSinks(f.memory, f.recorder),
	}
	f.engine = New(f.memory, append(base, opts...)...)
	return f
}

func (f *fixture) create(t *testing.T, role ir.Role) ir.IntegrityRecord {
	t.Helper()
	rec, err := f.engine.Create(context.Background(), owner, CreateInput{
		IncidentID: 42,
		FirstEvent: ir.RepeatByte(0xAA),
		Role:       role,
		PacketURI:  "s3://x",
	})
	require.NoError(t, err)
	return rec
}

func TestEngine_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := f.create(t, ir.RoleFrontline)
	assert.True(t, rec.RequiresApproval)
	assert.Equal(t, testutil.DefaultEpoch, rec.CreatedAt)

	rec, err := f.engine.AppendEvent(ctx, owner, 42, ir.RepeatByte(0xBB))
	require.NoError(t, err)
	assert.Equal(t, uint32(2), rec.EventCount)

	rec, err = f.engine.UpdateArtifacts(ctx, owner, 42, UpdateInput{
		Artifacts:   ir.ArtifactUpdate{}.Set(ir.ArtifactEvidence, ir.RepeatByte(0x11)),
		ChangeEvent: ir.RepeatByte(0xCC),
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(3), rec.EventCount)
	assert.Equal(t, ir.BundleRoot(rec.Artifacts), rec.BundleRoot)

	rec, err = f.engine.Approve(ctx, reviewer, 42)
	require.NoError(t, err)
	assert.False(t, rec.RequiresApproval)
	assert.Equal(t, reviewer, *rec.Approver)

	stored, err := f.engine.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, rec, stored)

	want := ir.ReplayChain(ir.RepeatByte(0xAA), ir.RepeatByte(0xBB), ir.RepeatByte(0xCC))
	assert.Equal(t, want, stored.EventChainHead)

	notes := f.recorder.Notifications()
	require.Len(t, notes, 4)
	kinds := []ir.NotificationKind{}
	for _, n := range notes {
		kinds = append(kinds, n.Kind())
	}
	assert.Equal(t, []ir.NotificationKind{
		ir.KindRecordCreated, ir.KindEventAppended, ir.KindArtifactsUpdated, ir.KindRecordApproved,
	}, kinds)
	assert.Equal(t, "n-1", notes[0].ID)
	assert.Equal(t, uint64(42), notes[3].IncidentID)
	assert.Equal(t, testutil.DefaultEpoch.Add(3*time.Second), notes[3].Timestamp)
	assert.Equal(t, ir.RecordCreated{
		Owner:      owner,
		Role:       ir.RoleFrontline,
		BundleRoot: ir.BundleRoot(ir.ArtifactSet{}),
		FirstEvent: ir.RepeatByte(0xAA),
		PacketURI:  "s3://x",
	}, notes[0].Payload)
	assert.Equal(t, ir.RecordApproved{Operator: owner, Approver: reviewer}, notes[3].Payload)

	links, err := f.memory.Links(ctx, 42)
	require.NoError(t, err)
	v := VerifyChain(stored, links)
	assert.True(t, v.Valid(), v.Reason)
	assert.NoError(t, v.Err(true))
}

func TestEngine_RejectionLeavesRecordAndEmitsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.create(t, ir.RoleFrontline)
	f.recorder.Reset()

	_, err := f.engine.AppendEvent(ctx, stranger, 42, ir.RepeatByte(0xBB))
	assert.ErrorIs(t, err, ir.ErrUnauthorized)
	assert.True(t, IsRejection(err))

	_, err = f.engine.UpdateArtifacts(ctx, stranger, 42, UpdateInput{ChangeEvent: ir.RepeatByte(0xBB)})
	assert.ErrorIs(t, err, ir.ErrUnauthorized)

	stored, err := f.engine.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, rec, stored)
	assert.Empty(t, f.recorder.Notifications())
}

func TestEngine_CreateTwice(t *testing.T) {
	f := newFixture(t)
	f.create(t, ir.RoleReviewer)

	_, err := f.engine.Create(context.Background(), stranger, CreateInput{IncidentID: 42, Role: ir.RoleAdministrator})
	assert.ErrorIs(t, err, ir.ErrAlreadyExists)

	stored, err := f.engine.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, owner, stored.Owner)
	assert.Len(t, f.recorder.Notifications(), 1)
}

func TestEngine_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Get(ctx, 1)
	assert.True(t, IsNotFound(err))

	_, err = f.engine.AppendEvent(ctx, owner, 1, ir.RepeatByte(0xBB))
	assert.ErrorIs(t, err, ir.ErrNotFound)

	_, err = f.engine.Approve(ctx, reviewer, 1)
	assert.ErrorIs(t, err, ir.ErrNotFound)
}

func TestEngine_ApproveTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, ir.RoleFrontline)

	first, err := f.engine.Approve(ctx, reviewer, 42)
	require.NoError(t, err)

	_, err = f.engine.Approve(ctx, stranger, 42)
	assert.ErrorIs(t, err, ir.ErrAlreadyApproved)

	stored, err := f.engine.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, first, stored)
	assert.Equal(t, reviewer, *stored.Approver)
}

func TestEngine_DefaultRulesRefuseApproval(t *testing.T) {
	mem := store.NewMemory()
	e := New(mem, WithClock(testutil.NewDeterministicClock(testutil.DefaultEpoch, 0)))
	ctx := context.Background()

	_, err := e.Create(ctx, owner, CreateInput{IncidentID: 1, Role: ir.RoleFrontline})
	require.NoError(t, err)

	_, err = e.Approve(ctx, reviewer, 1)
	assert.ErrorIs(t, err, ir.ErrNotApprover)
}

func TestEngine_WithPolicy(t *testing.T) {
	p := policy.Default()
	require.NoError(t, p.Registry.Grant(reviewer, ir.RoleReviewer))
	p.RequireApproval = []ir.Role{ir.RoleFrontline, ir.RoleReviewer}
	f := newFixture(t, WithPolicy(p))
	ctx := context.Background()

	rec := f.create(t, ir.RoleReviewer)
	assert.True(t, rec.RequiresApproval)

	_, err := f.engine.Approve(ctx, stranger, 42)
	assert.ErrorIs(t, err, ir.ErrNotApprover)

	_, err = f.engine.Approve(ctx, reviewer, 42)
	assert.NoError(t, err)
}

func TestEngine_SinkFailureDoesNotRollBack(t *testing.T) {
	var logs bytes.Buffer
	failing := notify.SinkFunc(func(context.Context, ir.Notification) error {
		return errors.New("broker down")
	})
	f := newFixture(t,
		WithSinks(failing),
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
	)

	rec := f.create(t, ir.RoleFrontline)
	assert.Equal(t, uint32(1), rec.EventCount)

	stored, err := f.engine.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, rec, stored)
	assert.Len(t, f.recorder.Notifications(), 1, "healthy sinks still receive")
	assert.Contains(t, logs.String(), "notification delivery failed")
	assert.Contains(t, logs.String(), "broker down")
	assert.Contains(t, logs.String(), "transition committed")
}

func TestEngine_ConcurrentAppendsSQLite(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	e := New(s, WithSinks(s), WithApprovalRules(policy.Rules{Authority: policy.OpenAuthority}))
	ctx := context.Background()
	_, err = e.Create(ctx, owner, CreateInput{IncidentID: 9, FirstEvent: ir.RepeatByte(0xAA), Role: ir.RoleReviewer})
	require.NoError(t, err)

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.AppendEvent(ctx, owner, 9, ir.RepeatByte(byte(i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	rec, links, err := store.Snapshot(ctx, s, 9)
	require.NoError(t, err)
	assert.Equal(t, uint32(1+writers), rec.EventCount)
	require.Len(t, links, 1+writers)

	v := VerifyChain(rec, links)
	assert.True(t, v.Valid(), v.Reason)
}

func TestEngine_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	f := newFixture(t, WithTracerProvider(tp))
	ctx := context.Background()

	f.create(t, ir.RoleFrontline)
	_, err := f.engine.AppendEvent(ctx, stranger, 42, ir.RepeatByte(0xBB))
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "Engine.Create", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	assert.Equal(t, "Engine.AppendEvent", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	var rejection string
	for _, kv := range spans[1].Attributes() {
		if kv.Key == "anchor.rejection" {
			rejection = kv.Value.AsString()
		}
	}
	assert.Equal(t, string(ir.CodeUnauthorized), rejection)
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", g.Generate())
	assert.Equal(t, "b", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

func TestUUIDv7Generator(t *testing.T) {
	g := UUIDv7Generator{}
	a, b := g.Generate(), g.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
