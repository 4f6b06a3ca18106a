package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/quantflow/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes the entry op listing to help debug the failure.
type AssertionError struct {
	Type     string              // Assertion type for categorization
	Expected string              // Human-readable expected outcome
	Actual   string              // Human-readable actual outcome
	EntryOps map[string][]string // Entry functions for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.EntryOps) > 0 {
		fmt.Fprintf(&buf, "\nEntry functions:\n")
		keys := make([]string, 0, len(e.EntryOps))
		for k := range e.EntryOps {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(&buf, "  %s: %s\n", k, strings.Join(e.EntryOps[k], ", "))
		}
	}
	return buf.String()
}

// countOps counts ops of kind in the signature's entry function, or in the
// whole graph when signature is empty.
func countOps(result *Result, signature, kind string) (int, error) {
	if signature != "" {
		kinds, ok := result.EntryOps[signature]
		if !ok {
			return 0, fmt.Errorf("no entry function for signature %q", signature)
		}
		n := 0
		for _, k := range kinds {
			if k == kind {
				n++
			}
		}
		return n, nil
	}

	n := 0
	result.Graph.Walk(func(_ *ir.Function, op *ir.Op) {
		if op.Kind == kind {
			n++
		}
	})
	return n, nil
}

func where(signature string) string {
	if signature == "" {
		return "graph"
	}
	return signature
}

// assertOpCount checks op_present, op_absent and op_count.
func assertOpCount(result *Result, a Assertion) error {
	n, err := countOps(result, a.Signature, a.Kind)
	if err != nil {
		return &AssertionError{Type: a.Type, Expected: a.Kind, Actual: err.Error(), EntryOps: result.EntryOps}
	}

	var ok bool
	var expected string
	switch a.Type {
	case AssertOpPresent:
		ok, expected = n > 0, fmt.Sprintf("%s in %s", a.Kind, where(a.Signature))
	case AssertOpAbsent:
		ok, expected = n == 0, fmt.Sprintf("no %s in %s", a.Kind, where(a.Signature))
	default:
		ok, expected = n == a.Count, fmt.Sprintf("%d %s in %s", a.Count, a.Kind, where(a.Signature))
	}
	if ok {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: expected,
		Actual:   fmt.Sprintf("found %d", n),
		EntryOps: result.EntryOps,
	}
}

// assertOpSequence checks the entry function's op kinds exactly.
func assertOpSequence(result *Result, a Assertion) error {
	got := result.EntryOps[a.Signature]
	if slices.Equal(got, a.Kinds) {
		return nil
	}
	return &AssertionError{
		Type:     AssertOpSequence,
		Expected: fmt.Sprintf("%s: %v", a.Signature, a.Kinds),
		Actual:   fmt.Sprintf("%v", got),
		EntryOps: result.EntryOps,
	}
}

// assertCallsResolved checks that every remaining call targets an aliased
// function or a lifted composite.
func assertCallsResolved(result *Result) error {
	var unresolved []string
	result.Graph.Walk(func(f *ir.Function, op *ir.Op) {
		callee := op.Callee()
		if callee == "" {
			return
		}
		if _, ok := result.FunctionAliases[callee]; ok {
			return
		}
		if target := result.Graph.Function(callee); target != nil && target.Attrs.GetBool(ir.AttrCompositeFunction) {
			return
		}
		unresolved = append(unresolved, f.Name+" -> "+callee)
	})
	if len(unresolved) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertCallsResolved,
		Expected: "every call inlined, aliased or composite",
		Actual:   "unresolved calls: " + strings.Join(unresolved, ", "),
		EntryOps: result.EntryOps,
	}
}

func assertMissingStatistics(result *Result, a Assertion) error {
	got := slices.Clone(result.MissingStatistics)
	want := slices.Clone(a.IDs)
	slices.Sort(got)
	slices.Sort(want)
	if slices.Equal(got, want) {
		return nil
	}
	return &AssertionError{
		Type:     AssertMissingStatistics,
		Expected: fmt.Sprintf("%v", want),
		Actual:   fmt.Sprintf("%v", got),
	}
}

func assertAliasPreserved(result *Result, a Assertion) error {
	for _, alias := range result.FunctionAliases {
		if alias == a.Alias {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertAliasPreserved,
		Expected: fmt.Sprintf("alias %q", a.Alias),
		Actual:   fmt.Sprintf("aliases %v", result.FunctionAliases),
	}
}

func assertStatistic(result *Result, a Assertion) error {
	stat, ok := result.Statistics[a.ID]
	if !ok {
		return &AssertionError{
			Type:     AssertStatistic,
			Expected: fmt.Sprintf("statistic %s", a.ID),
			Actual:   "not calibrated",
		}
	}
	if stat.Min != a.Min || stat.Max != a.Max {
		return &AssertionError{
			Type:     AssertStatistic,
			Expected: fmt.Sprintf("%s in [%g, %g]", a.ID, a.Min, a.Max),
			Actual:   fmt.Sprintf("[%g, %g]", stat.Min, stat.Max),
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertOpPresent, AssertOpAbsent, AssertOpCount:
			err = assertOpCount(result, a)
		case AssertOpSequence:
			err = assertOpSequence(result, a)
		case AssertCallsResolved:
			err = assertCallsResolved(result)
		case AssertMissingStatistics:
			err = assertMissingStatistics(result, a)
		case AssertAliasPreserved:
			err = assertAliasPreserved(result, a)
		case AssertStatistic:
			err = assertStatistic(result, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}
