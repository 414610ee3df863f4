package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/anchor/internal/policy"
)

// LoadPolicy compiles the top-level `policy` struct from a CUE file or
// from every CUE file in a directory.
func LoadPolicy(path string) (*policy.Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("policy: %w", err)
		}
		return CompilePolicySource(path, data)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: path})
	if len(instances) == 0 {
		return nil, fmt.Errorf("policy: no CUE instances loaded from %s", path)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fromCUE(inst.Err)
	}
	return compileRoot(ctx.BuildInstance(inst))
}

// CompilePolicySource compiles CUE source held in memory. filename is used
// for error positions only.
func CompilePolicySource(filename string, src []byte) (*policy.Policy, error) {
	ctx := cuecontext.New()
	return compileRoot(ctx.CompileBytes(src, cue.Filename(filename)))
}

func compileRoot(root cue.Value) (*policy.Policy, error) {
	if err := root.Err(); err != nil {
		return nil, fromCUE(err)
	}
	v := root.LookupPath(cue.ParsePath("policy"))
	if !v.Exists() {
		return nil, &CompileError{
			Field:   "policy",
			Message: "policy is required",
			Pos:     root.Pos(),
		}
	}
	return CompilePolicy(v)
}
