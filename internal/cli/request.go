package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/roach88/anchor/internal/config"
	"github.com/roach88/anchor/internal/engine"
	"github.com/roach88/anchor/internal/identity"
	"github.com/roach88/anchor/internal/ir"
)

// Transition operations, as named in signed requests.
const (
	opCreate  = "create"
	opAppend  = "append"
	opUpdate  = "update"
	opApprove = "approve"
)

// transition is one mutation with its whole input. The engine only ever
// sees a transition decoded from a verified request body.
type transition struct {
	Op         string
	IncidentID uint64
	Event      ir.Digest
	Create     engine.CreateInput
	Update     engine.UpdateInput
}

// requestFields lists the body fields each operation carries.
var requestFields = map[string]struct{ required, optional []string }{
	opCreate:  {required: []string{"incident_id", "first_event", "role", "packet_uri", "artifacts"}},
	opAppend:  {required: []string{"incident_id", "event"}},
	opUpdate:  {required: []string{"incident_id", "change_event", "artifacts"}, optional: []string{"packet_uri"}},
	opApprove: {required: []string{"incident_id"}},
}

// body is the signed request body for t. Update bodies list only the
// replaced artifacts, and carry packet_uri only when it is replaced.
func (t transition) body() map[string]any {
	body := map[string]any{"incident_id": t.IncidentID}
	switch t.Op {
	case opCreate:
		artifacts := make(map[string]any, len(ir.ArtifactKinds()))
		for _, kind := range ir.ArtifactKinds() {
			artifacts[kind.String()] = t.Create.Artifacts.Get(kind)
		}
		body["first_event"] = t.Create.FirstEvent
		body["role"] = t.Create.Role.String()
		body["packet_uri"] = t.Create.PacketURI
		body["artifacts"] = artifacts
	case opAppend:
		body["event"] = t.Event
	case opUpdate:
		artifacts := map[string]any{}
		for _, kind := range ir.ArtifactKinds() {
			if d, ok := t.Update.Artifacts.Get(kind); ok {
				artifacts[kind.String()] = d
			}
		}
		body["change_event"] = t.Update.ChangeEvent
		body["artifacts"] = artifacts
		if uri, ok := t.Update.PacketURI.Get(); ok {
			body["packet_uri"] = uri
		}
	}
	return body
}

// requestBody is the typed view of a request body.
type requestBody struct {
	IncidentID  uint64               `json:"incident_id"`
	FirstEvent  ir.Digest            `json:"first_event"`
	Event       ir.Digest            `json:"event"`
	ChangeEvent ir.Digest            `json:"change_event"`
	Role        ir.Role              `json:"role"`
	PacketURI   string               `json:"packet_uri"`
	Artifacts   map[string]ir.Digest `json:"artifacts"`
}

// transitionFromRequest decodes the transition a request carries. Every
// field the operation needs must be present in the signed body, and nothing
// else may be.
func transitionFromRequest(req identity.SignedRequest) (transition, error) {
	fields, ok := requestFields[req.Op]
	if !ok {
		return transition{}, invalidRequest("unknown operation %q", req.Op)
	}
	allowed := make(map[string]bool, len(fields.required)+len(fields.optional))
	for _, name := range fields.required {
		if _, ok := req.Body[name]; !ok {
			return transition{}, invalidRequest("%s request is missing %s", req.Op, name)
		}
		allowed[name] = true
	}
	for _, name := range fields.optional {
		allowed[name] = true
	}
	for name := range req.Body {
		if !allowed[name] {
			return transition{}, invalidRequest("%s request has unexpected field %s", req.Op, name)
		}
	}

	raw, err := ir.MarshalCanonical(req.Body)
	if err != nil {
		return transition{}, &LoadError{Code: ErrCodeInvalidRequest, Message: "request body is not canonical", Err: err}
	}
	var b requestBody
	if err := json.Unmarshal(raw, &b); err != nil {
		return transition{}, &LoadError{Code: ErrCodeInvalidRequest, Message: fmt.Sprintf("malformed %s request", req.Op), Err: err}
	}

	t := transition{Op: req.Op, IncidentID: b.IncidentID}
	switch req.Op {
	case opCreate:
		if len(b.Artifacts) != len(ir.ArtifactKinds()) {
			return transition{}, invalidRequest("create request carries %d artifact hashes, want %d", len(b.Artifacts), len(ir.ArtifactKinds()))
		}
		t.Create = engine.CreateInput{
			IncidentID: b.IncidentID,
			FirstEvent: b.FirstEvent,
			Role:       b.Role,
			PacketURI:  b.PacketURI,
		}
		for name, d := range b.Artifacts {
			kind, err := ir.ParseArtifactKind(name)
			if err != nil {
				return transition{}, &LoadError{Code: ErrCodeInvalidRequest, Message: "malformed create request", Err: err}
			}
			t.Create.Artifacts = t.Create.Artifacts.With(kind, d)
		}
	case opAppend:
		t.Event = b.Event
	case opUpdate:
		t.Update.ChangeEvent = b.ChangeEvent
		for name, d := range b.Artifacts {
			kind, err := ir.ParseArtifactKind(name)
			if err != nil {
				return transition{}, &LoadError{Code: ErrCodeInvalidRequest, Message: "malformed update request", Err: err}
			}
			t.Update.Artifacts = t.Update.Artifacts.Set(kind, d)
		}
		if _, ok := req.Body["packet_uri"]; ok {
			t.Update.PacketURI = ir.ReplaceURI(b.PacketURI)
		}
	}
	return t, nil
}

func invalidRequest(format string, args ...any) error {
	return &LoadError{Code: ErrCodeInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

// signTransition signs t with the configured key.
func signTransition(cfg config.Config, t transition) (identity.SignedRequest, error) {
	k, err := LoadKey(cfg)
	if err != nil {
		return identity.SignedRequest{}, err
	}
	req, err := k.Sign(t.Op, time.Now().UTC(), t.body())
	if err != nil {
		return identity.SignedRequest{}, &LoadError{Code: ErrCodeInvalidRequest, Message: "failed to sign request", Err: err}
	}
	return req, nil
}

// SignedRequestResult reports a request written for later submission.
type SignedRequestResult struct {
	Op         string      `json:"op"`
	IncidentID uint64      `json:"incident_id"`
	Signer     ir.Identity `json:"signer"`
	IssuedAt   time.Time   `json:"issued_at"`
	Path       string      `json:"path"`
}

// writeRequest saves req to path instead of applying it.
func writeRequest(f *OutputFormatter, path string, t transition, req identity.SignedRequest) error {
	data, err := req.Encode()
	if err != nil {
		return f.Fail("failed to encode request", &LoadError{Code: ErrCodeInvalidRequest, Message: "cannot encode request", Err: err}, nil)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return f.Fail("failed to write request", &LoadError{Code: ErrCodeWriteFailed, Message: fmt.Sprintf("cannot write %s", path), Err: err}, nil)
	}

	res := SignedRequestResult{
		Op:         req.Op,
		IncidentID: t.IncidentID,
		Signer:     req.Signer,
		IssuedAt:   req.IssuedAt,
		Path:       path,
	}
	if f.Format == "json" {
		return f.Success(res)
	}
	fmt.Fprintf(f.Writer, "Signed %s request for incident %d as %s\n", res.Op, res.IncidentID, res.Signer)
	fmt.Fprintf(f.Writer, "Wrote request to %s\n", res.Path)
	return nil
}
