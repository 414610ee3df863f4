package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/anchor/internal/ir"
	"github.com/roach88/anchor/internal/policy"
)

// RecordView is the JSON form of a record, with its approval state spelled out.
type RecordView struct {
	ir.IntegrityRecord
	Approval string `json:"approval"`
}

// NewRecordView wraps rec for output.
func NewRecordView(rec ir.IntegrityRecord) RecordView {
	return RecordView{IntegrityRecord: rec, Approval: policy.StateOf(rec).String()}
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <incident-id>",
		Short: "Print an incident's integrity record",
		Long: `Print the full integrity record for an incident, for audit tooling.

Examples:
  anchor show 42
  anchor show 42 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runShow(opts *RootOptions, arg string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	id, err := parseIncidentID(arg)
	if err != nil {
		return f.Fail("invalid input", err, nil)
	}

	ctx := commandContext(cmd)
	b, err := OpenBackend(ctx, opts.Config)
	if err != nil {
		return f.Fail("failed to open store", err, nil)
	}
	defer b.Close()

	rec, err := b.Load(ctx, id)
	if err != nil {
		return f.Fail("failed to load record", err, nil)
	}
	return outputRecord(f, rec)
}

// outputRecord writes rec as a CLIResponse or as aligned text.
func outputRecord(f *OutputFormatter, rec ir.IntegrityRecord) error {
	if f.Format == "json" {
		return f.Success(NewRecordView(rec))
	}
	writeRecordText(f.Writer, rec)
	return nil
}

func writeRecordText(w io.Writer, rec ir.IntegrityRecord) {
	row := func(name string, value any) {
		fmt.Fprintf(w, "%-18s %v\n", name, value)
	}

	row("incident", rec.IncidentID)
	row("owner", rec.Owner)
	row("owner_role", rec.OwnerRole)
	row("bundle_root", rec.BundleRoot)
	row("event_chain_head", rec.EventChainHead)
	row("event_count", rec.EventCount)
	row("approval", policy.StateOf(rec))
	if rec.Approver != nil {
		row("approver", *rec.Approver)
	}
	if rec.ApprovedAt != nil {
		row("approved_at", rec.ApprovedAt.Format(time.RFC3339))
	}
	row("packet_uri", rec.PacketURI)
	row("created_at", rec.CreatedAt.Format(time.RFC3339))
	row("updated_at", rec.UpdatedAt.Format(time.RFC3339))

	fmt.Fprintln(w, "artifacts:")
	for _, kind := range ir.ArtifactKinds() {
		fmt.Fprintf(w, "  %-16s %s\n", kind, rec.Artifacts.Get(kind))
	}
}
