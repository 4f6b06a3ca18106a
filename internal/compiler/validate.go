package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/quantflow/internal/ir"
)

// Verification error codes (E100-E199)
const (
	// Module structure errors (E100-E109)
	ErrUnknownDialect     = "E100" // dialect is neither tf nor stablehlo
	ErrNoEntryFunction    = "E101" // module exports no signature
	ErrDuplicateFunction  = "E102" // two functions share a name
	ErrDuplicateExport    = "E103" // two functions export the same key
	ErrDuplicateVariable  = "E104" // two variables share a name
	ErrRecursiveCallChain = "E105" // call graph contains a cycle

	// Function body errors (E110-E119)
	ErrDuplicateValue    = "E110" // value defined twice in one function
	ErrUndefinedOperand  = "E111" // operand used before definition
	ErrUndefinedResult   = "E112" // function result never defined
	ErrUnknownCallee     = "E113" // call to a function not in the module
	ErrConstWithoutValue = "E114" // constant op carries no tensor
	ErrUnknownVariable   = "E115" // variable op names an undeclared variable
)

// ValidationError represents a module verification error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// VerificationError bundles every problem found by a verify pass.
type VerificationError struct {
	Errors []ValidationError
}

func (e *VerificationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("module verification failed: %s", strings.Join(msgs, "; "))
}

// Validate checks structural well-formedness of a module.
// Returns all errors found (does not fail-fast).
func Validate(m *ir.Module) []ValidationError {
	var errs []ValidationError

	if m.Dialect != ir.DialectTF && m.Dialect != ir.DialectStableHLO {
		errs = append(errs, ValidationError{
			Field:   "dialect",
			Message: fmt.Sprintf("unknown dialect %q", m.Dialect),
			Code:    ErrUnknownDialect,
		})
	}

	if len(m.EntryFunctions()) == 0 {
		errs = append(errs, ValidationError{
			Field:   "functions",
			Message: "module exports no signature",
			Code:    ErrNoEntryFunction,
		})
	}

	variables := make(map[string]bool, len(m.Variables))
	for i, v := range m.Variables {
		if variables[v.Name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("variables[%d]", i),
				Message: fmt.Sprintf("duplicate variable %q", v.Name),
				Code:    ErrDuplicateVariable,
			})
		}
		variables[v.Name] = true
	}

	functions := make(map[string]bool, len(m.Functions))
	exports := make(map[string]string)
	for i, f := range m.Functions {
		if functions[f.Name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("functions[%d]", i),
				Message: fmt.Sprintf("duplicate function %q", f.Name),
				Code:    ErrDuplicateFunction,
			})
		}
		functions[f.Name] = true

		for _, key := range f.ExportedNames {
			if prev, ok := exports[key]; ok {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("functions[%d].exported_names", i),
					Message: fmt.Sprintf("signature %q exported by both %s and %s", key, prev, f.Name),
					Code:    ErrDuplicateExport,
				})
			}
			exports[key] = f.Name
		}
	}

	for _, f := range m.Functions {
		errs = append(errs, validateFunction(m, f, variables)...)
	}

	for _, c := range AnalyzeCallCycles(m) {
		errs = append(errs, ValidationError{
			Field:   "functions",
			Message: c.Message,
			Code:    ErrRecursiveCallChain,
		})
	}

	return errs
}

func validateFunction(m *ir.Module, f *ir.Function, variables map[string]bool) []ValidationError {
	var errs []ValidationError
	defined := make(map[string]bool, len(f.Args)+len(f.Ops))
	for _, a := range f.Args {
		defined[a.Name] = true
	}

	for i, op := range f.Ops {
		field := fmt.Sprintf("%s.ops[%d]", f.Name, i)

		for _, operand := range op.Operands {
			if !defined[operand] {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("%s uses undefined value %q", op.Kind, operand),
					Code:    ErrUndefinedOperand,
				})
			}
		}

		if op.Result != "" {
			if defined[op.Result] {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("value %q defined twice", op.Result),
					Code:    ErrDuplicateValue,
				})
			}
			defined[op.Result] = true
		}

		switch {
		case ir.IsConst(op.Kind):
			if op.Value == nil {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: "constant has no value",
					Code:    ErrConstWithoutValue,
				})
			}
		case ir.IsCall(op.Kind):
			if callee := op.Callee(); callee == "" || m.Function(callee) == nil {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("call to unknown function %q", callee),
					Code:    ErrUnknownCallee,
				})
			}
		case op.Kind == ir.KindReadVariable || op.Kind == ir.KindAssignVariable:
			name, _ := op.Attrs.GetString(ir.AttrSharedName)
			if !variables[name] {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("%s names undeclared variable %q", op.Kind, name),
					Code:    ErrUnknownVariable,
				})
			}
		}
	}

	for _, r := range f.Results {
		if !defined[r] {
			errs = append(errs, ValidationError{
				Field:   f.Name + ".results",
				Message: fmt.Sprintf("result %q is never defined", r),
				Code:    ErrUndefinedResult,
			})
		}
	}

	return errs
}

// VerifyPass fails when Validate reports any error.
func VerifyPass() Pass {
	return NewPass("verify", func(_ *Context, m *ir.Module) error {
		if errs := Validate(m); len(errs) > 0 {
			return &VerificationError{Errors: errs}
		}
		return nil
	})
}
