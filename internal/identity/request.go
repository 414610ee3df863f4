package identity

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/anchor/internal/ir"
)

// DomainRequest separates request signatures from every other signed or
// hashed byte string in the system.
const DomainRequest = "anchor/request/v1"

var (
	// ErrBadSignature means the signature does not verify for the claimed signer.
	ErrBadSignature = errors.New("identity: signature verification failed")

	// ErrStale means the request was issued outside the verifier's skew window.
	ErrStale = errors.New("identity: request outside allowed clock skew")
)

// SignedRequest is a transition request bound to its signer.
//
// Body must contain only values ir.MarshalCanonical accepts (strings,
// integers, booleans, digests, identities, nested maps and slices).
type SignedRequest struct {
	Op        string
	Signer    ir.Identity
	IssuedAt  time.Time
	Body      map[string]any
	Signature []byte
}

// SigningBytes returns the exact bytes that are signed:
// DomainRequest ‖ 0x00 ‖ canonical JSON of {body, issued_at, op, signer}.
func (r SignedRequest) SigningBytes() ([]byte, error) {
	body := r.Body
	if body == nil {
		body = map[string]any{}
	}
	canonical, err := ir.MarshalCanonical(map[string]any{
		"op":        r.Op,
		"signer":    r.Signer,
		"issued_at": r.IssuedAt.Unix(),
		"body":      body,
	})
	if err != nil {
		return nil, fmt.Errorf("canonicalize request: %w", err)
	}
	out := make([]byte, 0, len(DomainRequest)+1+len(canonical))
	out = append(out, DomainRequest...)
	out = append(out, 0x00)
	out = append(out, canonical...)
	return out, nil
}

// Sign builds a signed request for op with the given body.
func (k KeyPair) Sign(op string, issuedAt time.Time, body map[string]any) (SignedRequest, error) {
	req := SignedRequest{
		Op:       op,
		Signer:   k.Identity(),
		IssuedAt: issuedAt.UTC().Truncate(time.Second),
		Body:     body,
	}
	msg, err := req.SigningBytes()
	if err != nil {
		return SignedRequest{}, err
	}
	req.Signature = ed25519.Sign(k.Private, msg)
	return req, nil
}

// requestFile is the transport form of a SignedRequest, written by one
// process and verified by another.
type requestFile struct {
	Op        string          `json:"op"`
	Signer    ir.Identity     `json:"signer"`
	IssuedAt  int64           `json:"issued_at"`
	Body      json.RawMessage `json:"body"`
	Signature string          `json:"signature"`
}

// Encode returns the request as JSON.
func (r SignedRequest) Encode() ([]byte, error) {
	body := r.Body
	if body == nil {
		body = map[string]any{}
	}
	canonical, err := ir.MarshalCanonical(body)
	if err != nil {
		return nil, fmt.Errorf("canonicalize request body: %w", err)
	}
	return json.MarshalIndent(requestFile{
		Op:        r.Op,
		Signer:    r.Signer,
		IssuedAt:  r.IssuedAt.Unix(),
		Body:      canonical,
		Signature: hex.EncodeToString(r.Signature),
	}, "", "  ")
}

// DecodeRequest parses a request written by Encode. The signature is not
// checked here; pass the result to Verifier.Verify.
func DecodeRequest(data []byte) (SignedRequest, error) {
	var f requestFile
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return SignedRequest{}, fmt.Errorf("decode request: %w", err)
	}
	if f.Op == "" {
		return SignedRequest{}, errors.New("decode request: missing op")
	}
	sig, err := hex.DecodeString(f.Signature)
	if err != nil {
		return SignedRequest{}, fmt.Errorf("decode request signature: %w", err)
	}

	var body map[string]any
	if len(f.Body) > 0 {
		bd := json.NewDecoder(bytes.NewReader(f.Body))
		bd.UseNumber()
		if err := bd.Decode(&body); err != nil {
			return SignedRequest{}, fmt.Errorf("decode request body: %w", err)
		}
	}
	return SignedRequest{
		Op:        f.Op,
		Signer:    f.Signer,
		IssuedAt:  time.Unix(f.IssuedAt, 0).UTC(),
		Body:      body,
		Signature: sig,
	}, nil
}

// Verifier authenticates signed requests.
//
// MaxSkew bounds |now - IssuedAt|; zero disables the check. Now defaults to
// time.Now.
type Verifier struct {
	MaxSkew time.Duration
	Now     func() time.Time
}

// Verify checks the signature and returns the signer's identity.
func (v Verifier) Verify(req SignedRequest) (ir.Identity, error) {
	if len(req.Signature) != ed25519.SignatureSize {
		return ir.Identity{}, fmt.Errorf("%w: signature has %d bytes", ErrBadSignature, len(req.Signature))
	}

	msg, err := req.SigningBytes()
	if err != nil {
		return ir.Identity{}, err
	}
	if !ed25519.Verify(req.Signer.PublicKey(), msg, req.Signature) {
		return ir.Identity{}, ErrBadSignature
	}

	if v.MaxSkew > 0 {
		now := time.Now
		if v.Now != nil {
			now = v.Now
		}
		skew := now().Sub(req.IssuedAt)
		if skew < 0 {
			skew = -skew
		}
		if skew > v.MaxSkew {
			return ir.Identity{}, fmt.Errorf("%w: %s", ErrStale, skew)
		}
	}
	return req.Signer, nil
}
