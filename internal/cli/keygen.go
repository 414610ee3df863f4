package cli

import (
	"crypto/rand"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/anchor/internal/identity"
)

// DefaultKeyPath is where keygen writes when neither --out nor --key is set.
const DefaultKeyPath = "anchor.key"

// KeygenOptions holds flags for the keygen command.
type KeygenOptions struct {
	*RootOptions
	Out string
}

// KeygenResult describes a generated key.
type KeygenResult struct {
	Path     string `json:"path"`
	Identity string `json:"identity"`
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KeygenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ed25519 signing key",
		Long: `Generate an ed25519 key pair and write it with mode 0600.

The printed identity is the hex public key that owns records created with
this key, and the value approvers are listed under in a policy file.
Existing files are never overwritten.

Examples:
  anchor keygen --out alice.key
  anchor keygen --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "key file to write (default --key, then "+DefaultKeyPath+")")

	return cmd
}

func runKeygen(opts *KeygenOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	path := opts.Out
	if path == "" {
		path = opts.Config.Key
	}
	if path == "" {
		path = DefaultKeyPath
	}

	k, err := identity.Generate(rand.Reader)
	if err != nil {
		return f.Fail("failed to generate key", &LoadError{Code: ErrCodeKey, Message: "generate key", Err: err}, nil)
	}
	if err := identity.Save(path, k); err != nil {
		return f.Fail("failed to write key", &LoadError{Code: ErrCodeKey, Message: fmt.Sprintf("write %s", path), Err: err}, nil)
	}

	result := KeygenResult{Path: path, Identity: k.Identity().String()}
	if f.Format == "json" {
		return f.Success(result)
	}
	fmt.Fprintf(f.Writer, "Wrote %s\n", result.Path)
	fmt.Fprintf(f.Writer, "identity: %s\n", result.Identity)
	return nil
}
