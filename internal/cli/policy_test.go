package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/anchor/internal/compiler"
	"github.com/roach88/anchor/internal/ir"
)

func writePolicy(t *testing.T, dir, src string) string {
	t.Helper()
	path := filepath.Join(dir, "policy.cue")
	require.NoError(t, os.WriteFile(path, []byte(src), 0644))
	return path
}

func TestPolicyCommand_Consistent(t *testing.T) {
	w := newWorkspace(t)
	_, bob := w.key("bob")
	path := w.policy(bob)

	out, err := w.run("policy", path)
	require.NoError(t, err, out)
	assert.Contains(t, out, "approval required:    [frontline]")
	assert.Contains(t, out, bob.String()+" reviewer")
	assert.Contains(t, out, "✓ Policy is consistent")
}

func TestPolicyCommand_DefaultsToPolicyFlag(t *testing.T) {
	w := newWorkspace(t)
	_, bob := w.key("bob")
	path := w.policy(bob)

	out, err := w.run("policy", "--policy", path, "--format", "json")
	require.NoError(t, err, out)

	var resp struct {
		Status string       `json:"status"`
		Data   PolicyResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, []string{"frontline"}, resp.Data.Policy.ApprovalRequired)
	assert.Equal(t, map[string]string{bob.String(): "reviewer"}, resp.Data.Policy.Approvers)
}

func TestPolicyCommand_InconsistentPolicy(t *testing.T) {
	w := newWorkspace(t)
	path := writePolicy(t, w.dir, "package policies\n\npolicy: {\n\tapproval_required: [\"frontline\"]\n}\n")

	out, err := w.run("policy", path, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, IsReported(err))

	var resp struct {
		Status string       `json:"status"`
		Data   PolicyResult `json:"data"`
		Error  *CLIError    `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodePolicyInvalid, resp.Error.Code)
	require.NotEmpty(t, resp.Data.Errors)
	assert.Equal(t, compiler.ErrNoApprovers, resp.Data.Errors[0].Code)

	out, err = w.run("policy", path)
	require.Error(t, err)
	assert.Contains(t, out, "✗ 1 error(s)")
	assert.Contains(t, out, "[E120]")
}

func TestPolicyCommand_CompileError(t *testing.T) {
	w := newWorkspace(t)
	path := writePolicy(t, w.dir, "package policies\n\npolicy: {\n\tapprovers_typo: {}\n}\n")

	out, err := w.run("policy", path, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	cliErr := decodeError(t, out)
	assert.Equal(t, ErrCodePolicy, cliErr.Code)
	assert.Contains(t, cliErr.Message, "unknown policy field")
}

func TestPolicyCommand_NoPath(t *testing.T) {
	w := newWorkspace(t)

	out, err := w.run("policy", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ErrCodePolicy, decodeError(t, out).Code)
}

func TestPolicyCommand_WritesCanonicalJSON(t *testing.T) {
	w := newWorkspace(t)
	_, bob := w.key("bob")
	path := w.policy(bob)
	outFile := filepath.Join(w.dir, "policy.json")

	out, err := w.run("policy", path, "-o", outFile)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Wrote canonical policy to "+outFile)

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)

	want, err := ir.MarshalCanonical(map[string]any{
		"approval_required":    []string{"frontline"},
		"approvers":            map[string]any{bob.String(): "reviewer"},
		"open_approval":        false,
		"forbid_self_approval": false,
	})
	require.NoError(t, err)
	assert.Equal(t, string(want), string(data))
}
