package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/anchor/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Config starts from the ANCHOR_* environment; persistent flags
	// override individual fields.
	Config config.Config

	configErr error
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the anchor CLI.
func NewRootCommand() *cobra.Command {
	cfg, err := config.Load()
	opts := &RootOptions{Config: cfg, configErr: err}

	cmd := &cobra.Command{
		Use:   "anchor",
		Short: "anchor - tamper-evident incident integrity records",
		Long: `Keep a tamper-evident integrity record per incident investigation.

Each record commits to six artifact hashes through a bundle root and links
every timeline event into a SHA-256 hash chain, so a third party can verify
what existed and when without trusting the evidence producer.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.configErr != nil {
				return WrapExitError(ExitCommandError, "invalid environment", opts.configErr)
			}
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			opts.Config.Format = opts.Format
			if err := opts.Config.Validate(); err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", cfg.Format, "output format (json|text)")
	flags.StringVar(&opts.Config.DB, "db", cfg.DB, "path to SQLite database")
	flags.StringVar(&opts.Config.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "PostgreSQL DSN (overrides --db)")
	flags.StringVar(&opts.Config.Key, "key", cfg.Key, "path to the signing key file")
	flags.StringVar(&opts.Config.Policy, "policy", cfg.Policy, "CUE policy file or directory")
	flags.StringVar(&opts.Config.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for published notifications")
	flags.StringVar(&opts.Config.OTLPEndpoint, "otlp-endpoint", cfg.OTLPEndpoint, "OTLP/HTTP trace collector URL")

	// Add subcommands
	cmd.AddCommand(NewKeygenCommand(opts))
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewAppendCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewApproveCommand(opts))
	cmd.AddCommand(NewSubmitCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewJournalCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewPolicyCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// newLogger writes text logs to w. Warnings and above by default, everything
// with --verbose.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// newFormatter builds the formatter for cmd. Verbose logs go to stderr to
// avoid corrupting JSON.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
