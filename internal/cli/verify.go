package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/anchor/internal/engine"
	"github.com/roach88/anchor/internal/store"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	RequireApproved bool
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify <incident-id>",
		Short: "Replay the journal and verify an incident's commitments",
		Long: `Replay an incident's journaled chain links from genesis and compare the
result with the stored record. The bundle root is recomputed from the
stored artifact hashes.

Exit codes:
  0 - Chain and bundle root verify
  1 - Verification failed, or the record is pending and --require-approved is set
  2 - Command error (database not found, etc.)

Examples:
  anchor verify 42
  anchor verify 42 --require-approved --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.RequireApproved, "require-approved", false, "fail unless the record is approved or never needed approval")

	return cmd
}

func runVerify(opts *VerifyOptions, arg string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

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

	rec, links, err := store.Snapshot(ctx, b, id)
	if err != nil {
		return f.Fail("failed to read incident", err, nil)
	}
	f.VerboseLog("Replaying %d link(s) for incident %d", len(links), id)

	v := engine.VerifyChain(rec, links)
	if err := v.Err(opts.RequireApproved); err != nil {
		// Report the verification alongside the error
		return f.Fail("verification failed", err, v)
	}

	if f.Format == "json" {
		return f.Success(v)
	}
	return outputVerifyText(f, v)
}

func outputVerifyText(f *OutputFormatter, v engine.Verification) error {
	w := f.Writer

	fmt.Fprintf(w, "Incident %d: %d link(s) replayed\n", v.IncidentID, v.Links)
	fmt.Fprintf(w, "  head:        %s\n", v.StoredHead)
	fmt.Fprintln(w, "  bundle root: ok")
	if v.PendingApproval {
		fmt.Fprintln(w, "  approval:    pending")
	} else if v.Approved {
		fmt.Fprintln(w, "  approval:    approved")
	}
	fmt.Fprintln(w, "✓ Chain verified")
	return nil
}
