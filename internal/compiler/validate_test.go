package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quantflow/internal/ir"
)

func codesOf(errs []ValidationError) map[string]bool {
	codes := make(map[string]bool, len(errs))
	for _, e := range errs {
		codes[e.Code] = true
	}
	return codes
}

func TestValidateValidModule(t *testing.T) {
	errs := Validate(newTestModule())
	assert.Empty(t, errs, "valid module should have no errors")
}

func TestValidateReportsBodyErrors(t *testing.T) {
	m := newTestModule()
	m.Functions[0].Ops[1].Operands = []string{"x", "missing"}
	m.Functions[0].Ops[2].Attrs[ir.AttrCallee] = ir.IRString("nowhere")
	m.Functions[1].Results = []string{"never"}

	codes := codesOf(Validate(m))
	assert.True(t, codes[ErrUndefinedOperand], "should have undefined operand error")
	assert.True(t, codes[ErrUnknownCallee], "should have unknown callee error")
	assert.True(t, codes[ErrUndefinedResult], "should have undefined result error")
}

func TestValidateNoEntry(t *testing.T) {
	m := newTestModule()
	m.Functions[0].ExportedNames = nil

	errs := Validate(m)
	require.NotEmpty(t, errs)
	assert.Equal(t, ErrNoEntryFunction, errs[0].Code)
}

func TestValidateUnknownDialect(t *testing.T) {
	m := newTestModule()
	m.Dialect = "onnx"

	assert.True(t, codesOf(Validate(m))[ErrUnknownDialect])
}

func TestValidateDuplicates(t *testing.T) {
	m := newTestModule()
	m.Functions[1].Name = "main"
	m.Variables = append(m.Variables, &ir.Variable{Name: "w", DType: ir.DTypeF32})
	m.Functions[0].Ops = append(m.Functions[0].Ops, &ir.Op{Result: "h", Kind: ir.KindRelu, Operands: []string{"x"}})

	codes := codesOf(Validate(m))
	assert.True(t, codes[ErrDuplicateFunction], "should have duplicate function error")
	assert.True(t, codes[ErrDuplicateVariable], "should have duplicate variable error")
	assert.True(t, codes[ErrDuplicateValue], "should have duplicate value error")
}

func TestValidateDuplicateExport(t *testing.T) {
	m := newTestModule()
	m.Functions[1].ExportedNames = []string{"serving_default"}

	assert.True(t, codesOf(Validate(m))[ErrDuplicateExport])
}

func TestValidateRecursion(t *testing.T) {
	m := newTestModule()
	helper := m.Functions[1]
	helper.Ops = append(helper.Ops, callOp("again", "helper", "r"))

	codes := codesOf(Validate(m))
	assert.True(t, codes[ErrRecursiveCallChain])
}

func TestValidateConstAndVariableOps(t *testing.T) {
	m := newTestModule()
	main := m.Functions[0]
	main.Ops = append([]*ir.Op{
		{Result: "c", Kind: ir.KindConst, Operands: []string{}},
		{Result: "v", Kind: ir.KindReadVariable, Operands: []string{}, Attrs: ir.IRObject{ir.AttrSharedName: ir.IRString("ghost")}},
	}, main.Ops...)

	codes := codesOf(Validate(m))
	assert.True(t, codes[ErrConstWithoutValue], "should have const without value error")
	assert.True(t, codes[ErrUnknownVariable], "should have unknown variable error")
}

func TestValidateCollectsAllErrors(t *testing.T) {
	m := newTestModule()
	m.Dialect = ""
	m.Functions[0].Ops[1].Operands = []string{"x", "missing"}
	m.Functions[1].Results = []string{"never"}

	assert.GreaterOrEqual(t, len(Validate(m)), 3)
}

func TestValidationErrorFormat(t *testing.T) {
	err := ValidationError{
		Field:   "main.ops[1]",
		Message: `tf.MatMul uses undefined value "missing"`,
		Code:    ErrUndefinedOperand,
	}

	assert.Equal(t, `[E111] main.ops[1]: tf.MatMul uses undefined value "missing"`, err.Error())
}

func TestVerifyPassReturnsVerificationError(t *testing.T) {
	m := newTestModule()
	m.Functions[1].Results = []string{"never"}

	err := runPass(t, VerifyPass(), m)
	require.Error(t, err)
	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrUndefinedResult, verr.Errors[0].Code)
	assert.Contains(t, err.Error(), "module verification failed")
}
