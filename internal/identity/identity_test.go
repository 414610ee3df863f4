package identity

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/anchor/internal/ir"
)

var testEpoch = time.Unix(1700000000, 0).UTC()

func testKey(t *testing.T, fill byte) KeyPair {
	t.Helper()
	k, err := FromSeed(bytes.Repeat([]byte{fill}, 32))
	require.NoError(t, err)
	return k
}

func TestGenerate(t *testing.T) {
	k, err := Generate(nil)
	require.NoError(t, err)
	assert.Len(t, k.Public, 32)
	assert.Equal(t, ir.Identity(k.Public), k.Identity())
}

func TestFromSeed_Deterministic(t *testing.T) {
	a := testKey(t, 0x01)
	b := testKey(t, 0x01)
	c := testKey(t, 0x02)

	assert.Equal(t, a.Identity(), b.Identity())
	assert.NotEqual(t, a.Identity(), c.Identity())

	_, err := FromSeed([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "owner.key")
	k := testKey(t, 0x07)

	require.NoError(t, Save(path, k))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, k.Identity(), loaded.Identity())
	assert.Equal(t, k.Private, loaded.Private)
}

func TestSave_RefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "owner.key")
	require.NoError(t, Save(path, testKey(t, 0x01)))
	assert.Error(t, Save(path, testKey(t, 0x02)))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, testKey(t, 0x01).Identity(), loaded.Identity())
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
		return p
	}

	t.Run("missing", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "nope.key"))
		assert.Error(t, err)
	})

	t.Run("wrong algorithm", func(t *testing.T) {
		_, err := Load(write("rsa.key", "algorithm: rsa\nseed: \"00\"\n"))
		assert.ErrorContains(t, err, "unsupported algorithm")
	})

	t.Run("bad seed", func(t *testing.T) {
		_, err := Load(write("bad.key", "algorithm: ed25519\nseed: zz\n"))
		assert.Error(t, err)
	})

	t.Run("public mismatch", func(t *testing.T) {
		k := testKey(t, 0x01)
		other := testKey(t, 0x02)
		content := "algorithm: ed25519\n" +
			"public: " + other.Identity().String() + "\n" +
			"seed: " + hex.EncodeToString(k.Private.Seed()) + "\n"
		_, err := Load(write("mismatch.key", content))
		assert.ErrorIs(t, err, ErrKeyMismatch)
	})
}

func TestSignVerify(t *testing.T) {
	k := testKey(t, 0x09)
	body := map[string]any{
		"incident_id": uint64(42),
		"event":       ir.RepeatByte(0xBB),
	}

	req, err := k.Sign("append", testEpoch, body)
	require.NoError(t, err)

	id, err := Verifier{}.Verify(req)
	require.NoError(t, err)
	assert.Equal(t, k.Identity(), id)
}

func TestVerify_RejectsTampering(t *testing.T) {
	k := testKey(t, 0x09)
	req, err := k.Sign("append", testEpoch, map[string]any{"incident_id": uint64(42)})
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(r *SignedRequest)
	}{
		{"op", func(r *SignedRequest) { r.Op = "approve" }},
		{"body", func(r *SignedRequest) { r.Body = map[string]any{"incident_id": uint64(43)} }},
		{"issued_at", func(r *SignedRequest) { r.IssuedAt = r.IssuedAt.Add(time.Second) }},
		{"signer", func(r *SignedRequest) { r.Signer = testKey(t, 0x0a).Identity() }},
		{"signature", func(r *SignedRequest) {
			sig := append([]byte(nil), r.Signature...)
			sig[0] ^= 0xff
			r.Signature = sig
		}},
		{"truncated signature", func(r *SignedRequest) { r.Signature = r.Signature[:10] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tampered := req
			tt.mutate(&tampered)
			_, err := Verifier{}.Verify(tampered)
			assert.ErrorIs(t, err, ErrBadSignature)
		})
	}
}

func TestVerify_Skew(t *testing.T) {
	k := testKey(t, 0x09)
	req, err := k.Sign("create", testEpoch, nil)
	require.NoError(t, err)

	within := Verifier{MaxSkew: time.Minute, Now: func() time.Time { return testEpoch.Add(30 * time.Second) }}
	_, err = within.Verify(req)
	assert.NoError(t, err)

	late := Verifier{MaxSkew: time.Minute, Now: func() time.Time { return testEpoch.Add(2 * time.Minute) }}
	_, err = late.Verify(req)
	assert.ErrorIs(t, err, ErrStale)

	early := Verifier{MaxSkew: time.Minute, Now: func() time.Time { return testEpoch.Add(-2 * time.Minute) }}
	_, err = early.Verify(req)
	assert.ErrorIs(t, err, ErrStale)
}

func TestSigningBytes_DomainSeparated(t *testing.T) {
	k := testKey(t, 0x09)
	req, err := k.Sign("create", testEpoch, map[string]any{"b": "2", "a": "1"})
	require.NoError(t, err)

	msg, err := req.SigningBytes()
	require.NoError(t, err)

	prefix := DomainRequest + "\x00"
	require.True(t, bytes.HasPrefix(msg, []byte(prefix)))
	want := `{"body":{"a":"1","b":"2"},"issued_at":1700000000,"op":"create","signer":"` + k.Identity().String() + `"}`
	assert.Equal(t, want, string(msg[len(prefix):]))
}

func TestSign_RejectsNonCanonicalBody(t *testing.T) {
	k := testKey(t, 0x09)
	_, err := k.Sign("create", testEpoch, map[string]any{"ratio": 0.5})
	assert.Error(t, err)
}

func TestRequestTransport(t *testing.T) {
	k := testKey(t, 0x09)
	req, err := k.Sign("update", testEpoch, map[string]any{
		"incident_id":  uint64(42),
		"change_event": ir.RepeatByte(0xBB),
		"artifacts":    map[string]any{"evidence": ir.RepeatByte(0x11)},
		"packet_uri":   "",
	})
	require.NoError(t, err)

	data, err := req.Encode()
	require.NoError(t, err)

	received, err := DecodeRequest(data)
	require.NoError(t, err)
	assert.Equal(t, "update", received.Op)
	assert.Equal(t, testEpoch, received.IssuedAt)

	id, err := Verifier{}.Verify(received)
	require.NoError(t, err)
	assert.Equal(t, k.Identity(), id)

	t.Run("edited body", func(t *testing.T) {
		edited := bytes.Replace(data, []byte(`"incident_id": 42`), []byte(`"incident_id": 43`), 1)
		require.NotEqual(t, data, edited)

		forged, err := DecodeRequest(edited)
		require.NoError(t, err)
		_, err = Verifier{}.Verify(forged)
		assert.ErrorIs(t, err, ErrBadSignature)
	})
}

func TestDecodeRequest_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `op: create`},
		{"missing op", `{"signer":"` + hex.EncodeToString(make([]byte, 32)) + `"}`},
		{"bad signature hex", `{"op":"create","signature":"zz"}`},
		{"unknown field", `{"op":"create","extra":1}`},
		{"fractional number", `{"op":"create","body":{"incident_id":1.5}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := DecodeRequest([]byte(tt.data))
			if err == nil {
				// Numbers survive decoding; canonicalization rejects them.
				_, err = req.SigningBytes()
			}
			assert.Error(t, err)
		})
	}
}
