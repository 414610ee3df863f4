package engine

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/anchor/internal/ir"
	"github.com/roach88/anchor/internal/policy"
)

var (
	owner    = ir.Identity(ir.RepeatByte(0x01))
	stranger = ir.Identity(ir.RepeatByte(0x02))
	reviewer = ir.Identity(ir.RepeatByte(0x03))
	t0       = time.Unix(1700000000, 0).UTC()
)

func createdRecord(t *testing.T) ir.IntegrityRecord {
	t.Helper()
	rec, _, err := Create(owner, CreateInput{
		IncidentID: 42,
		FirstEvent: ir.RepeatByte(0xAA),
		Role:       ir.RoleFrontline,
		PacketURI:  "s3://x",
	}, t0, nil)
	require.NoError(t, err)
	return rec
}

func TestCreate(t *testing.T) {
	rec, payload, err := Create(owner, CreateInput{
		IncidentID: 42,
		FirstEvent: ir.RepeatByte(0xAA),
		Role:       ir.RoleFrontline,
		PacketURI:  "s3://x",
	}, t0, policy.FrontlineRequiresApproval)
	require.NoError(t, err)

	assert.Equal(t, owner, rec.Owner)
	assert.Equal(t, uint32(1), rec.EventCount)
	assert.Equal(t, ir.RepeatByte(0xAA), rec.EventChainHead)
	assert.Equal(t, "5d89f056865052bcb89c910d2d62872e029fb273c3db03f8968a52a41593c1b5", rec.BundleRoot.String())
	assert.True(t, rec.RequiresApproval)
	assert.Nil(t, rec.Approver)
	assert.Nil(t, rec.ApprovedAt)
	assert.Equal(t, t0, rec.CreatedAt)
	assert.Equal(t, t0, rec.UpdatedAt)

	assert.Equal(t, owner, payload.Owner)
	assert.Equal(t, ir.RepeatByte(0xAA), payload.FirstEvent)
	assert.Equal(t, rec.BundleRoot, payload.BundleRoot)
	assert.Equal(t, ir.RoleFrontline, payload.Role)
}

func TestCreate_ApprovalByRole(t *testing.T) {
	for _, role := range []ir.Role{ir.RoleReviewer, ir.RoleAdministrator} {
		rec, _, err := Create(owner, CreateInput{Role: role}, t0, nil)
		require.NoError(t, err)
		assert.False(t, rec.RequiresApproval, role.String())
	}

	rec, _, err := Create(owner, CreateInput{Role: ir.RoleReviewer}, t0, policy.RequireApprovalFor(ir.RoleReviewer))
	require.NoError(t, err)
	assert.True(t, rec.RequiresApproval)
}

func TestCreate_Rejections(t *testing.T) {
	_, _, err := Create(owner, CreateInput{PacketURI: strings.Repeat("u", 201)}, t0, nil)
	assert.ErrorIs(t, err, ir.ErrURITooLong)

	_, _, err = Create(owner, CreateInput{Role: ir.Role(3)}, t0, nil)
	assert.ErrorIs(t, err, ir.ErrInvalidRole)

	_, _, err = Create(owner, CreateInput{PacketURI: strings.Repeat("u", 200)}, t0, nil)
	assert.NoError(t, err, "exactly 200 bytes is allowed")
}

func TestAppendEvent(t *testing.T) {
	rec := createdRecord(t)
	t1 := t0.Add(time.Second)

	next, payload, err := AppendEvent(rec, owner, ir.RepeatByte(0xBB), t1)
	require.NoError(t, err)

	assert.Equal(t, "e2d80f78d79027556d6619a1400605abbdca6bb6eb24e0831e33ecd5466fa5f6", next.EventChainHead.String())
	assert.Equal(t, uint32(2), next.EventCount)
	assert.Equal(t, t1, next.UpdatedAt)
	assert.Equal(t, t0, next.CreatedAt)
	assert.Equal(t, rec.BundleRoot, next.BundleRoot)

	assert.Equal(t, ir.EventAppended{EventHash: ir.RepeatByte(0xBB), NewHead: next.EventChainHead, EventCount: 2}, payload)

	// input untouched
	assert.Equal(t, uint32(1), rec.EventCount)
}

func TestAppendEvent_Unauthorized(t *testing.T) {
	rec := createdRecord(t)

	next, _, err := AppendEvent(rec, stranger, ir.RepeatByte(0xBB), t0.Add(time.Second))
	assert.ErrorIs(t, err, ir.ErrUnauthorized)
	assert.Equal(t, rec, next, "record unchanged on rejection")
}

func TestAppendEvent_Overflow(t *testing.T) {
	rec := createdRecord(t)
	rec.EventCount = math.MaxUint32

	next, _, err := AppendEvent(rec, owner, ir.RepeatByte(0xBB), t0)
	assert.ErrorIs(t, err, ir.ErrEventCountOverflow)
	assert.Equal(t, rec, next)

	rec.EventCount = math.MaxUint32 - 1
	next, _, err = AppendEvent(rec, owner, ir.RepeatByte(0xBB), t0)
	require.NoError(t, err)
	assert.Equal(t, uint32(math.MaxUint32), next.EventCount)
}

func TestUpdateArtifacts_EvidenceOnly(t *testing.T) {
	rec := createdRecord(t)
	change := ir.RepeatByte(0xCC)
	t1 := t0.Add(time.Minute)

	next, payload, err := UpdateArtifacts(rec, owner, UpdateInput{
		Artifacts:   ir.ArtifactUpdate{}.Set(ir.ArtifactEvidence, ir.RepeatByte(0x11)),
		ChangeEvent: change,
	}, t1)
	require.NoError(t, err)

	assert.Equal(t, ir.RepeatByte(0x11), next.Artifacts.Evidence)
	for _, k := range ir.ArtifactKinds() {
		if k != ir.ArtifactEvidence {
			assert.Equal(t, rec.Artifacts.Get(k), next.Artifacts.Get(k), k.String())
		}
	}
	assert.Equal(t, "200069664ebdcf915e0b3a612d0c362f31622dc35a4c9db2118b252307712299", next.BundleRoot.String())
	assert.Equal(t, ir.ChainStep(rec.EventChainHead, change), next.EventChainHead)
	assert.Equal(t, rec.EventCount+1, next.EventCount)
	assert.Equal(t, rec.PacketURI, next.PacketURI)
	assert.Equal(t, t1, next.UpdatedAt)

	assert.Equal(t, rec.BundleRoot, payload.OldRoot)
	assert.Equal(t, next.BundleRoot, payload.NewRoot)
	assert.Equal(t, []ir.ArtifactKind{ir.ArtifactEvidence}, payload.Changed)
	assert.Equal(t, owner, payload.Operator)
	assert.Equal(t, change, payload.ChangeEvent)
}

func TestUpdateArtifacts_ReplaceWithZeroDigest(t *testing.T) {
	rec := createdRecord(t)
	rec.Artifacts.Core = ir.RepeatByte(0x55)
	rec.BundleRoot = ir.BundleRoot(rec.Artifacts)

	next, _, err := UpdateArtifacts(rec, owner, UpdateInput{
		Artifacts: ir.ArtifactUpdate{Core: ir.Replace(ir.Digest{})},
	}, t0)
	require.NoError(t, err)
	assert.True(t, next.Artifacts.Core.IsZero(), "explicit zero replacement is applied")
}

func TestUpdateArtifacts_NothingReplacedStillLinks(t *testing.T) {
	rec := createdRecord(t)

	next, payload, err := UpdateArtifacts(rec, owner, UpdateInput{ChangeEvent: ir.RepeatByte(0xDD)}, t0)
	require.NoError(t, err)
	assert.Equal(t, rec.BundleRoot, next.BundleRoot)
	assert.Equal(t, uint32(2), next.EventCount)
	assert.Empty(t, payload.Changed)
}

func TestUpdateArtifacts_URI(t *testing.T) {
	rec := createdRecord(t)

	next, payload, err := UpdateArtifacts(rec, owner, UpdateInput{PacketURI: ir.ReplaceURI("s3://y")}, t0)
	require.NoError(t, err)
	assert.Equal(t, "s3://y", next.PacketURI)
	assert.Equal(t, "s3://y", payload.PacketURI)

	next, _, err = UpdateArtifacts(rec, owner, UpdateInput{PacketURI: ir.ReplaceURI(strings.Repeat("u", 201))}, t0)
	assert.ErrorIs(t, err, ir.ErrURITooLong)
	assert.Equal(t, rec, next)

	next, _, err = UpdateArtifacts(rec, owner, UpdateInput{PacketURI: ir.ReplaceURI("")}, t0)
	require.NoError(t, err)
	assert.Equal(t, "", next.PacketURI)
}

func TestUpdateArtifacts_Unauthorized(t *testing.T) {
	rec := createdRecord(t)

	next, _, err := UpdateArtifacts(rec, stranger, UpdateInput{
		Artifacts: ir.ArtifactUpdate{}.Set(ir.ArtifactCore, ir.RepeatByte(0x99)),
	}, t0)
	assert.ErrorIs(t, err, ir.ErrUnauthorized)
	assert.Equal(t, rec, next)
}

func TestApprove_Twice(t *testing.T) {
	rec := createdRecord(t)
	rules := policy.Rules{Authority: policy.OpenAuthority}

	approved, payload, err := Approve(rec, reviewer, t0.Add(time.Hour), rules)
	require.NoError(t, err)
	assert.Equal(t, owner, payload.Operator, "operator is the record owner")
	assert.Equal(t, reviewer, payload.Approver)
	assert.Equal(t, rec.EventChainHead, approved.EventChainHead, "approval does not touch the chain")
	assert.Equal(t, rec.EventCount, approved.EventCount)

	again, _, err := Approve(approved, stranger, t0.Add(2*time.Hour), rules)
	assert.ErrorIs(t, err, ir.ErrAlreadyApproved)
	assert.Equal(t, approved, again)
}

func TestMonotonicCount(t *testing.T) {
	rec := createdRecord(t)
	var err error
	for i := 0; i < 10; i++ {
		before := rec.EventCount
		if i%2 == 0 {
			rec, _, err = AppendEvent(rec, owner, ir.RepeatByte(byte(i)), t0)
		} else {
			rec, _, err = UpdateArtifacts(rec, owner, UpdateInput{ChangeEvent: ir.RepeatByte(byte(i))}, t0)
		}
		require.NoError(t, err)
		assert.Equal(t, before+1, rec.EventCount)
	}
	assert.Equal(t, uint32(11), rec.EventCount)
}
