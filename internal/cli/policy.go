package cli

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/anchor/internal/compiler"
	"github.com/roach88/anchor/internal/ir"
	"github.com/roach88/anchor/internal/policy"
)

// PolicyOptions holds flags for the policy command.
type PolicyOptions struct {
	*RootOptions
	Output string // output file path
}

// PolicySummary is the compiled form of a policy.
type PolicySummary struct {
	ApprovalRequired   []string          `json:"approval_required"`
	Approvers          map[string]string `json:"approvers"`
	OpenApproval       bool              `json:"open_approval"`
	ForbidSelfApproval bool              `json:"forbid_self_approval"`
}

// PolicyResult holds the compiled policy and its consistency problems.
type PolicyResult struct {
	Path   string                     `json:"path"`
	Policy PolicySummary              `json:"policy"`
	Valid  bool                       `json:"valid"`
	Errors []compiler.ValidationError `json:"errors,omitempty"`
}

// NewPolicyCommand creates the policy command.
func NewPolicyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PolicyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "policy [path]",
		Short: "Compile and check a CUE approval policy",
		Long: `Compile a CUE approval policy and check it for settings that compile
but cannot behave as intended, such as pending roles with no approver.

The path defaults to --policy. With --output the compiled policy is
written as canonical JSON.

Exit codes:
  0 - Policy compiled and is consistent
  1 - Policy compiled with consistency errors
  2 - Command error (file not found, CUE error, etc.)

Examples:
  anchor policy ./policy.cue
  anchor policy ./policies -o policy.json --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.Config.Policy
			if len(args) == 1 {
				path = args[0]
			}
			return runPolicy(opts, path, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runPolicy(opts *PolicyOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	if path == "" {
		return f.Fail("no policy", &LoadError{Code: ErrCodePolicy, Message: "no policy path: pass one or set --policy"}, nil)
	}

	f.VerboseLog("Compiling policy %s", path)
	p, err := compiler.LoadPolicy(path)
	if err != nil {
		return f.Fail("failed to compile policy", &LoadError{Code: ErrCodePolicy, Message: path, Err: err}, compileErrorPosition(err))
	}

	result := PolicyResult{
		Path:   path,
		Policy: summarizePolicy(p),
		Errors: compiler.ValidatePolicy(p),
	}
	result.Valid = len(result.Errors) == 0

	if opts.Output != "" {
		if err := writePolicyFile(result.Policy, opts.Output); err != nil {
			return f.Fail("failed to write output", &LoadError{Code: ErrCodeWriteFailed, Message: opts.Output, Err: err}, nil)
		}
	}

	if f.Format == "json" {
		if !result.Valid {
			if err := f.encode(CLIResponse{
				Status: "error",
				Data:   result,
				Error: &CLIError{
					Code:    ErrCodePolicyInvalid,
					Message: fmt.Sprintf("policy has %d error(s)", len(result.Errors)),
				},
			}); err != nil {
				return err
			}
			return policyInvalid(result)
		}
		return f.Success(result)
	}

	return outputPolicyText(f, result, opts.Output)
}

func summarizePolicy(p *policy.Policy) PolicySummary {
	s := PolicySummary{
		ApprovalRequired:   make([]string, 0, len(p.RequireApproval)),
		Approvers:          map[string]string{},
		OpenApproval:       p.OpenApproval,
		ForbidSelfApproval: p.ForbidSelfApproval,
	}
	for _, role := range p.RequireApproval {
		s.ApprovalRequired = append(s.ApprovalRequired, role.String())
	}
	if p.Registry != nil {
		for _, id := range p.Registry.Identities() {
			role, _ := p.Registry.RoleOf(id)
			s.Approvers[id.String()] = role.String()
		}
	}
	return s
}

// Canonical returns the summary as canonical JSON.
func (s PolicySummary) Canonical() ([]byte, error) {
	approvers := make(map[string]any, len(s.Approvers))
	for id, role := range s.Approvers {
		approvers[id] = role
	}
	return ir.MarshalCanonical(map[string]any{
		"approval_required":    s.ApprovalRequired,
		"approvers":            approvers,
		"open_approval":        s.OpenApproval,
		"forbid_self_approval": s.ForbidSelfApproval,
	})
}

// writePolicyFile writes the compiled policy to a file in canonical JSON format.
func writePolicyFile(s PolicySummary, filename string) error {
	data, err := s.Canonical()
	if err != nil {
		return fmt.Errorf("marshaling policy: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}

func outputPolicyText(f *OutputFormatter, result PolicyResult, outputFile string) error {
	w := f.Writer
	s := result.Policy

	required := "none"
	if len(s.ApprovalRequired) > 0 {
		required = fmt.Sprint(s.ApprovalRequired)
	}
	fmt.Fprintf(w, "Policy %s\n", result.Path)
	fmt.Fprintf(w, "  approval required:    %s\n", required)
	fmt.Fprintf(w, "  open approval:        %v\n", s.OpenApproval)
	fmt.Fprintf(w, "  forbid self-approval: %v\n", s.ForbidSelfApproval)

	ids := make([]string, 0, len(s.Approvers))
	for id := range s.Approvers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Fprintf(w, "  approvers:            %d\n", len(ids))
	for _, id := range ids {
		fmt.Fprintf(w, "    %s %s\n", id, s.Approvers[id])
	}
	fmt.Fprintln(w)

	if outputFile != "" {
		fmt.Fprintf(w, "Wrote canonical policy to %s\n", outputFile)
	}

	if !result.Valid {
		fmt.Fprintf(w, "✗ %d error(s)\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Fprintf(w, "  %s\n", e.Error())
		}
		return policyInvalid(result)
	}

	fmt.Fprintln(w, "✓ Policy is consistent")
	return nil
}

func policyInvalid(result PolicyResult) error {
	exitErr := NewExitError(ExitFailure, fmt.Sprintf("policy has %d error(s)", len(result.Errors)))
	exitErr.Reported = true
	return exitErr
}

// compileErrorPosition returns file:line:column for CUE errors, or nil.
func compileErrorPosition(err error) interface{} {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) && compileErr.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d", compileErr.Pos.Filename(), compileErr.Pos.Line(), compileErr.Pos.Column())
	}
	return nil
}
