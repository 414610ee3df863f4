package compiler

import (
	"fmt"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// CompileError is a policy that could not be compiled. Field is the dotted
// policy path at fault ("approvers.<hex>", "approval_required", ...).
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if !e.Pos.IsValid() {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("%s:%d:%d: %s: %s",
		e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
}

// fromCUE converts an evaluation or load error from CUE into a
// CompileError anchored at the first reported problem. Later problems are
// counted in the message only.
func fromCUE(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := cueerrors.Positions(first)
	if len(positions) == 0 {
		return err
	}

	ce := &CompileError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	if path := first.Path(); len(path) > 0 {
		ce.Field = strings.Join(path, ".")
	}
	if len(errs) > 1 {
		ce.Message = fmt.Sprintf("%s (and %d more)", ce.Message, len(errs)-1)
	}
	return ce
}
