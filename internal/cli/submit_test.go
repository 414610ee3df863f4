package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/anchor/internal/identity"
	"github.com/roach88/anchor/internal/ir"
)

// writeSignedRequest signs body as op with the key at keyPath and saves it.
func (w *workspace) writeSignedRequest(name, keyPath, op string, issuedAt time.Time, body map[string]any) string {
	w.t.Helper()
	k, err := identity.Load(keyPath)
	require.NoError(w.t, err)
	req, err := k.Sign(op, issuedAt, body)
	require.NoError(w.t, err)
	data, err := req.Encode()
	require.NoError(w.t, err)
	path := filepath.Join(w.dir, name)
	require.NoError(w.t, os.WriteFile(path, data, 0644))
	return path
}

func TestSubmit_RequestSignedElsewhere(t *testing.T) {
	w := newWorkspace(t)
	aliceKey, alice := w.key("alice")
	bobKey, bob := w.key("bob")
	pol := w.policy(bob)

	first := ir.RepeatByte(0xaa)
	evidence := ir.RepeatByte(0x11)
	createReq := filepath.Join(w.dir, "create-42.json")

	out, err := w.run("create", "42", "--format", "json", "--key", aliceKey,
		"--first-event", first.String(), "--evidence", evidence.String(),
		"--packet-uri", "s3://bucket/42", "--request-out", createReq)
	require.NoError(t, err, out)
	var signed struct {
		Data SignedRequestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &signed))
	assert.Equal(t, "create", signed.Data.Op)
	assert.Equal(t, uint64(42), signed.Data.IncidentID)
	assert.Equal(t, alice, signed.Data.Signer)
	assert.Equal(t, createReq, signed.Data.Path)

	out, err = w.run("show", "42", "--format", "json")
	require.Error(t, err, "writing a request applies nothing")
	assert.Equal(t, "E_NOT_FOUND", decodeError(t, out).Code)

	// No --key: the request carries its own signer.
	out, err = w.run("submit", createReq, "--format", "json", "--policy", pol)
	require.NoError(t, err, out)
	rec := decodeRecord(t, out)
	assert.Equal(t, alice, rec.Owner)
	assert.Equal(t, first, rec.EventChainHead)
	assert.Equal(t, evidence, rec.Artifacts.Evidence)
	assert.Equal(t, ir.BundleRoot(ir.ArtifactSet{Evidence: evidence}), rec.BundleRoot)
	assert.Equal(t, "s3://bucket/42", rec.PacketURI)
	assert.Equal(t, "pending_approval", rec.Approval)

	approveReq := filepath.Join(w.dir, "approve-42.json")
	out, err = w.run("approve", "42", "--key", bobKey, "--request-out", approveReq)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Signed approve request for incident 42 as "+bob.String())
	assert.Contains(t, out, "Wrote request to "+approveReq)

	out, err = w.run("submit", approveReq, "--format", "json", "--policy", pol)
	require.NoError(t, err, out)
	rec = decodeRecord(t, out)
	require.NotNil(t, rec.Approver)
	assert.Equal(t, bob, *rec.Approver)

	// Replaying the same approval is refused by the state machine.
	out, err = w.run("submit", approveReq, "--format", "json", "--policy", pol)
	require.Error(t, err)
	assert.Equal(t, "E_ALREADY_APPROVED", decodeError(t, out).Code)
}

func TestSubmit_RefusesEditedRequest(t *testing.T) {
	w := newWorkspace(t)
	aliceKey, _ := w.key("alice")
	first := ir.RepeatByte(0xaa)

	_, err := w.run("create", "8", "--key", aliceKey, "--first-event", first.String())
	require.NoError(t, err)

	path := filepath.Join(w.dir, "update-8.json")
	evidence := ir.RepeatByte(0x11)
	out, err := w.run("update", "8", "--key", aliceKey, "--evidence", evidence.String(),
		"--change-event", ir.RepeatByte(0xcc).String(), "--request-out", path)
	require.NoError(t, err, out)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	edited := bytes.Replace(data, []byte(evidence.String()), []byte(ir.RepeatByte(0x22).String()), 1)
	require.NotEqual(t, data, edited)
	require.NoError(t, os.WriteFile(path, edited, 0644))

	out, err = w.run("submit", path, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, ErrCodeSignature, decodeError(t, out).Code)

	out, err = w.run("show", "8", "--format", "json")
	require.NoError(t, err, out)
	rec := decodeRecord(t, out)
	assert.Equal(t, ir.Digest{}, rec.Artifacts.Evidence)
	assert.Equal(t, uint32(1), rec.EventCount)
}

func TestSubmit_Rejections(t *testing.T) {
	w := newWorkspace(t)
	aliceKey, _ := w.key("alice")
	first := ir.RepeatByte(0xaa)

	_, err := w.run("create", "8", "--key", aliceKey, "--first-event", first.String())
	require.NoError(t, err)

	now := time.Now().UTC()
	appendBody := map[string]any{"incident_id": uint64(8), "event": ir.RepeatByte(0xbb)}
	garbage := filepath.Join(w.dir, "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte("not a request"), 0644))

	tests := []struct {
		name     string
		path     string
		wantCode string
		wantExit int
	}{
		{
			name:     "stale request",
			path:     w.writeSignedRequest("stale.json", aliceKey, "append", now.Add(-time.Hour), appendBody),
			wantCode: ErrCodeSignature,
			wantExit: ExitFailure,
		},
		{
			name: "body without change event",
			path: w.writeSignedRequest("partial.json", aliceKey, "update", now, map[string]any{
				"incident_id": uint64(8), "artifacts": map[string]any{},
			}),
			wantCode: ErrCodeInvalidRequest,
			wantExit: ExitCommandError,
		},
		{
			name:     "unknown operation",
			path:     w.writeSignedRequest("delete.json", aliceKey, "delete", now, map[string]any{"incident_id": uint64(8)}),
			wantCode: ErrCodeInvalidRequest,
			wantExit: ExitCommandError,
		},
		{
			name:     "malformed file",
			path:     garbage,
			wantCode: ErrCodeInvalidRequest,
			wantExit: ExitCommandError,
		},
		{
			name:     "missing file",
			path:     filepath.Join(w.dir, "absent.json"),
			wantCode: ErrCodeInvalidInput,
			wantExit: ExitCommandError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := w.run("submit", tt.path, "--format", "json")
			require.Error(t, err)
			assert.Equal(t, tt.wantExit, GetExitCode(err))
			assert.Equal(t, tt.wantCode, decodeError(t, out).Code)
		})
	}

	out, err := w.run("show", "8", "--format", "json")
	require.NoError(t, err, out)
	assert.Equal(t, uint32(1), decodeRecord(t, out).EventCount)
}

func TestSubmit_RequestOutNeedsKey(t *testing.T) {
	w := newWorkspace(t)

	out, err := w.run("approve", "1", "--format", "json", "--request-out", filepath.Join(w.dir, "r.json"))
	require.Error(t, err)
	assert.Equal(t, ErrCodeKey, decodeError(t, out).Code)
	assert.NoFileExists(t, filepath.Join(w.dir, "r.json"))
}
