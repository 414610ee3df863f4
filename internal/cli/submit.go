package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/anchor/internal/identity"
)

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <request-file>",
		Short: "Apply a transition request signed elsewhere",
		Long: `Verify a signed request written by a transition command with
--request-out and apply it as its signer. No signing key is needed here:
the signature is checked against the signer in the request, and the
request must have been issued within ANCHOR_REQUEST_SKEW.

Example:
  anchor approve 42 --key bob.key --request-out approve-42.json
  anchor submit approve-42.json --policy ./policy.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runSubmit(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	data, err := os.ReadFile(path)
	if err != nil {
		return f.Fail("invalid input", &LoadError{Code: ErrCodeInvalidInput, Message: fmt.Sprintf("cannot read request %s", path), Err: err}, nil)
	}
	req, err := identity.DecodeRequest(data)
	if err != nil {
		return f.Fail("invalid input", &LoadError{Code: ErrCodeInvalidRequest, Message: fmt.Sprintf("malformed request %s", path), Err: err}, nil)
	}
	f.VerboseLog("Submitting %s request signed by %s", req.Op, req.Signer)

	return submitRequest(opts, cmd, req)
}
