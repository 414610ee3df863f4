package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/anchor/internal/engine"
	"github.com/roach88/anchor/internal/identity"
	"github.com/roach88/anchor/internal/ir"
)

// CreateOptions holds flags for the create command.
type CreateOptions struct {
	*RootOptions
	RequestOut string
	FirstEvent string
	Role       string
	PacketURI  string
	Artifacts  artifactFlags
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create <incident-id>",
		Short: "Create the integrity record for an incident",
		Long: `Create the integrity record for an incident, owned by the signing key.

Artifact hashes default to all zeros. The first event hash starts the
event chain. Records created by a role that requires approval start
pending until an approver signs off.

Example:
  anchor create 42 --key alice.key --first-event 9f86d0...  \
    --evidence 2c26b4... --packet-uri s3://bucket/incident-42.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.FirstEvent, "first-event", "", "first event hash (hex, required)")
	_ = cmd.MarkFlagRequired("first-event")
	cmd.Flags().StringVar(&opts.Role, "role", ir.RoleFrontline.String(), "owner role (frontline|reviewer|administrator)")
	cmd.Flags().StringVar(&opts.PacketURI, "packet-uri", "", "pointer to the evidence packet (at most 200 bytes)")
	opts.Artifacts = addArtifactFlags(cmd)
	addRequestOutFlag(cmd, &opts.RequestOut)

	return cmd
}

func runCreate(opts *CreateOptions, arg string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	in, err := opts.input(arg, cmd)
	if err != nil {
		return f.Fail("invalid input", err, nil)
	}

	return runTransition(opts.RootOptions, cmd, opts.RequestOut, transition{Op: opCreate, IncidentID: in.IncidentID, Create: in})
}

func (opts *CreateOptions) input(arg string, cmd *cobra.Command) (engine.CreateInput, error) {
	var in engine.CreateInput
	var err error

	if in.IncidentID, err = parseIncidentID(arg); err != nil {
		return in, err
	}
	if in.Role, err = ir.ParseRole(opts.Role); err != nil {
		return in, err
	}
	if in.FirstEvent, err = parseDigestFlag("first-event", opts.FirstEvent); err != nil {
		return in, err
	}
	for kind, name := range opts.Artifacts.names() {
		if !cmd.Flags().Changed(name) {
			continue
		}
		d, err := parseDigestFlag(name, *opts.Artifacts[kind])
		if err != nil {
			return in, err
		}
		in.Artifacts = in.Artifacts.With(kind, d)
	}
	in.PacketURI = opts.PacketURI
	return in, nil
}

// AppendOptions holds flags for the append command.
type AppendOptions struct {
	*RootOptions
	RequestOut string
	Kind       string
	Doc        string
}

// NewAppendCommand creates the append command.
func NewAppendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AppendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "append <incident-id> [event-hash]",
		Short: "Append an event to an incident's chain",
		Long: `Append a timeline event to an incident's event chain.

Pass the event hash directly, or pass --kind and --doc to derive it from
a structured event document (JSON or YAML, integers only).

Examples:
  anchor append 42 3fdba35f04dc8c462986c992bcf875546257113072a909c162f7e470e581e278
  anchor append 42 --kind timeline.note --doc '{"seq": 3, "actor": "alice"}'`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppend(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", "", "event kind for --doc")
	cmd.Flags().StringVar(&opts.Doc, "doc", "", "event document to hash")
	addRequestOutFlag(cmd, &opts.RequestOut)

	return cmd
}

func runAppend(opts *AppendOptions, args []string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	id, e, err := opts.input(args)
	if err != nil {
		return f.Fail("invalid input", err, nil)
	}
	f.VerboseLog("Appending event %s to incident %d", e, id)

	return runTransition(opts.RootOptions, cmd, opts.RequestOut, transition{Op: opAppend, IncidentID: id, Event: e})
}

func (opts *AppendOptions) input(args []string) (uint64, ir.Digest, error) {
	id, err := parseIncidentID(args[0])
	if err != nil {
		return 0, ir.Digest{}, err
	}

	hasHash := len(args) == 2
	hasDoc := opts.Doc != "" || opts.Kind != ""
	if hasHash == hasDoc {
		return 0, ir.Digest{}, &LoadError{Code: ErrCodeInvalidInput, Message: "pass either an event hash or --kind with --doc"}
	}
	if hasHash {
		e, err := parseDigestFlag("event-hash", args[1])
		return id, e, err
	}

	if opts.Kind == "" {
		return 0, ir.Digest{}, &LoadError{Code: ErrCodeInvalidInput, Message: "--doc needs --kind"}
	}
	doc, err := decodeDoc(opts.Doc)
	if err != nil {
		return 0, ir.Digest{}, err
	}
	e, err := ir.EventHash(opts.Kind, doc)
	if err != nil {
		return 0, ir.Digest{}, &LoadError{Code: ErrCodeInvalidInput, Message: "cannot hash event document", Err: err}
	}
	return id, e, nil
}

// UpdateOptions holds flags for the update command.
type UpdateOptions struct {
	*RootOptions
	RequestOut  string
	ChangeEvent string
	PacketURI   string
	Artifacts   artifactFlags
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UpdateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update <incident-id>",
		Short: "Replace artifact hashes on an incident",
		Long: `Replace some artifact hashes, recompute the bundle root and link the
change event into the chain.

Only the artifact flags given are replaced. --packet-uri replaces the
pointer when given, even with an empty value.

Example:
  anchor update 42 --evidence 2c26b4... --change-event fcde2b...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ChangeEvent, "change-event", "", "change event hash (hex, required)")
	_ = cmd.MarkFlagRequired("change-event")
	cmd.Flags().StringVar(&opts.PacketURI, "packet-uri", "", "new packet pointer (at most 200 bytes)")
	opts.Artifacts = addArtifactFlags(cmd)
	addRequestOutFlag(cmd, &opts.RequestOut)

	return cmd
}

func runUpdate(opts *UpdateOptions, arg string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	id, err := parseIncidentID(arg)
	if err != nil {
		return f.Fail("invalid input", err, nil)
	}
	in, err := opts.input(cmd)
	if err != nil {
		return f.Fail("invalid input", err, nil)
	}

	return runTransition(opts.RootOptions, cmd, opts.RequestOut, transition{Op: opUpdate, IncidentID: id, Update: in})
}

func (opts *UpdateOptions) input(cmd *cobra.Command) (engine.UpdateInput, error) {
	var in engine.UpdateInput
	var err error

	if in.ChangeEvent, err = parseDigestFlag("change-event", opts.ChangeEvent); err != nil {
		return in, err
	}
	for kind, name := range opts.Artifacts.names() {
		if !cmd.Flags().Changed(name) {
			continue
		}
		d, err := parseDigestFlag(name, *opts.Artifacts[kind])
		if err != nil {
			return in, err
		}
		in.Artifacts = in.Artifacts.Set(kind, d)
	}
	if cmd.Flags().Changed("packet-uri") {
		in.PacketURI = ir.ReplaceURI(opts.PacketURI)
	}
	return in, nil
}

// ApproveOptions holds flags for the approve command.
type ApproveOptions struct {
	*RootOptions
	RequestOut string
}

// NewApproveCommand creates the approve command.
func NewApproveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApproveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "approve <incident-id>",
		Short: "Approve a pending incident record",
		Long: `Approve a record that is pending approval. The signing key must be an
approver under the configured policy. Approval happens exactly once.

Example:
  anchor approve 42 --key bob.key --policy ./policy.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApprove(opts, args[0], cmd)
		},
	}

	addRequestOutFlag(cmd, &opts.RequestOut)

	return cmd
}

func runApprove(opts *ApproveOptions, arg string, cmd *cobra.Command) error {
	id, err := parseIncidentID(arg)
	if err != nil {
		return newFormatter(opts.RootOptions, cmd).Fail("invalid input", err, nil)
	}

	return runTransition(opts.RootOptions, cmd, opts.RequestOut, transition{Op: opApprove, IncidentID: id})
}

func addRequestOutFlag(cmd *cobra.Command, dst *string) {
	cmd.Flags().StringVar(dst, "request-out", "", "write the signed request to this file instead of applying it")
}

// runTransition signs t with the configured key. With requestOut set the
// request is saved for "anchor submit"; otherwise it is applied now.
func runTransition(opts *RootOptions, cmd *cobra.Command, requestOut string, t transition) error {
	f := newFormatter(opts, cmd)

	req, err := signTransition(opts.Config, t)
	if err != nil {
		return f.Fail("failed to sign request", err, nil)
	}
	if requestOut != "" {
		return writeRequest(f, requestOut, t, req)
	}
	return submitRequest(opts, cmd, req)
}

// submitRequest authenticates req and applies the transition it carries.
func submitRequest(opts *RootOptions, cmd *cobra.Command, req identity.SignedRequest) error {
	f := newFormatter(opts, cmd)
	ctx := commandContext(cmd)

	s, err := openSession(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return f.Fail("failed to open session", err, nil)
	}
	defer closeSession(s)

	rec, err := s.apply(ctx, req)
	if err != nil {
		return f.Fail("transition failed", err, nil)
	}
	return outputRecord(f, rec)
}

// artifactFlags holds one hex flag per artifact kind.
type artifactFlags map[ir.ArtifactKind]*string

func addArtifactFlags(cmd *cobra.Command) artifactFlags {
	flags := artifactFlags{}
	for _, kind := range ir.ArtifactKinds() {
		flags[kind] = cmd.Flags().String(artifactFlagName(kind), "", fmt.Sprintf("%s hash (hex)", kind))
	}
	return flags
}

func (a artifactFlags) names() map[ir.ArtifactKind]string {
	names := make(map[ir.ArtifactKind]string, len(a))
	for kind := range a {
		names[kind] = artifactFlagName(kind)
	}
	return names
}

// artifactFlagName turns trust_receipt into trust-receipt.
func artifactFlagName(kind ir.ArtifactKind) string {
	return strings.ReplaceAll(kind.String(), "_", "-")
}

func parseIncidentID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, &LoadError{Code: ErrCodeInvalidInput, Message: fmt.Sprintf("invalid incident id %q", s), Err: err}
	}
	return id, nil
}

func parseDigestFlag(name, value string) (ir.Digest, error) {
	d, err := ir.ParseDigest(value)
	if err != nil {
		return d, fmt.Errorf("--%s: %w", name, err)
	}
	return d, nil
}

// decodeDoc parses an event document. JSON is valid YAML, and YAML decodes
// whole numbers as ints, which canonical JSON requires.
func decodeDoc(s string) (map[string]any, error) {
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(s), &doc); err != nil {
		return nil, &LoadError{Code: ErrCodeInvalidInput, Message: "invalid --doc", Err: err}
	}
	if doc == nil {
		return nil, &LoadError{Code: ErrCodeInvalidInput, Message: "--doc must be a mapping"}
	}
	return doc, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	// Use command's context if available (for testing), otherwise create one
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
