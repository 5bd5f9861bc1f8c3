package sandbox

import (
	"context"
	"strings"
	"testing"

	"github.com/rlmrun/rlmrun/internal/orcherr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noQuery(_ *Interp, _ []Value) (Value, error) {
	return Value{}, orcherr.New(orcherr.ProgramRuntimeError, "llm_query not expected in this test")
}

func TestEvalTrivialFinal(t *testing.T) {
	out, _ := Eval(context.Background(), `FINAL("hello")`, "ctx", nil, noQuery)
	require.Nil(t, out.Err)
	assert.False(t, out.Timeout)
	assert.Equal(t, "hello", out.Final)
}

func TestEvalFinalStringifiesNonString(t *testing.T) {
	out, _ := Eval(context.Background(), `FINAL(1 + 2)`, "ctx", nil, noQuery)
	require.Nil(t, out.Err)
	assert.Equal(t, "3", out.Final)
}

func TestEvalNoFinalIsAnError(t *testing.T) {
	out, _ := Eval(context.Background(), `x = 1 + 1`, "ctx", nil, noQuery)
	require.NotNil(t, out.Err)
	assert.Equal(t, orcherr.NoFinal, out.Err.Kind)
}

func TestEvalSandboxViolationNamesOffendingIdentifier(t *testing.T) {
	out, _ := Eval(context.Background(), `FINAL(os_system("rm -rf /"))`, "ctx", nil, noQuery)
	require.NotNil(t, out.Err)
	assert.Equal(t, orcherr.SandboxViolation, out.Err.Kind)
	assert.Equal(t, "os_system", out.Err.Name)
}

func TestEvalArithmeticAndComparison(t *testing.T) {
	src := `
if (10 % 3) == 1 and (7 // 2) == 3 {
    FINAL("ok")
} else {
    FINAL("bad")
}
`
	out, _ := Eval(context.Background(), src, "ctx", nil, noQuery)
	require.Nil(t, out.Err)
	assert.Equal(t, "ok", out.Final)
}

func TestEvalStringSlicingAndConcat(t *testing.T) {
	src := `
s = "hello world"
FINAL(s[0:5] + "!")
`
	out, _ := Eval(context.Background(), src, "ctx", nil, noQuery)
	require.Nil(t, out.Err)
	assert.Equal(t, "hello!", out.Final)
}

func TestEvalForLoopAccumulatesSum(t *testing.T) {
	src := `
total = 0
for n in range(5) {
    total = total + n
}
FINAL(total)
`
	out, _ := Eval(context.Background(), src, "ctx", nil, noQuery)
	require.Nil(t, out.Err)
	assert.Equal(t, "10", out.Final)
}

func TestEvalUserFunctionReturn(t *testing.T) {
	src := `
function double(n) {
    return n * 2
}
FINAL(double(21))
`
	out, _ := Eval(context.Background(), src, "ctx", nil, noQuery)
	require.Nil(t, out.Err)
	assert.Equal(t, "42", out.Final)
}

func TestEvalMapReduceViaMockedLLMQuery(t *testing.T) {
	var calls []string
	mockQuery := func(_ *Interp, args []Value) (Value, error) {
		require.Len(t, args, 1)
		calls = append(calls, args[0].Str)
		return Str("summary of: " + args[0].Str), nil
	}

	src := `
chunks = split(context, "|")
summaries = []
for chunk in chunks {
    summaries = summaries + [llm_query(chunk)]
}
FINAL(join(summaries, " / "))
`
	out, _ := Eval(context.Background(), src, "alpha|beta|gamma", nil, mockQuery)
	require.Nil(t, out.Err)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, calls)
	assert.Equal(t, "summary of: alpha / summary of: beta / summary of: gamma", out.Final)
}

func TestEvalMemoryPersistsAcrossKeys(t *testing.T) {
	src := `
memory["count"] = 1
FINAL(memory["count"])
`
	out, mem := Eval(context.Background(), src, "ctx", NewDict(), noQuery)
	require.Nil(t, out.Err)
	assert.Equal(t, "1", out.Final)
	v, ok := mem.Get("count")
	require.True(t, ok)
	assert.Equal(t, int64(1), v.Int)
}

func TestEvalProviderErrorTerminatesProgram(t *testing.T) {
	failingQuery := func(_ *Interp, _ []Value) (Value, error) {
		return Value{}, orcherr.New(orcherr.ProviderError, "upstream unavailable")
	}
	src := `
x = llm_query("anything")
FINAL(x)
`
	out, _ := Eval(context.Background(), src, "ctx", nil, failingQuery)
	require.NotNil(t, out.Err)
	assert.Equal(t, orcherr.ProviderError, out.Err.Kind)
}

func TestEvalTimeoutWhenContextAlreadyExpired(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := `
for n in range(1000000) {
    x = n
}
FINAL("unreachable")
`
	out, _ := Eval(ctx, src, "ctx", nil, noQuery)
	assert.True(t, out.Timeout)
	assert.Nil(t, out.Err)
}

func TestEvalDictAndListLiterals(t *testing.T) {
	src := `
d = {"a": 1, "b": 2}
l = [d["a"], d["b"]]
FINAL(str(sum(l)))
`
	out, _ := Eval(context.Background(), src, "ctx", nil, noQuery)
	require.Nil(t, out.Err)
	assert.Equal(t, "3", out.Final)
}

func TestEvalSyntaxErrorIsProgramRuntimeError(t *testing.T) {
	out, _ := Eval(context.Background(), `FINAL(`, "ctx", nil, noQuery)
	require.NotNil(t, out.Err)
	assert.Equal(t, orcherr.ProgramRuntimeError, out.Err.Kind)
}

func TestEvalStringHelpers(t *testing.T) {
	src := `
parts = split("a,b,c", ",")
joined = join(parts, "-")
FINAL(upper(joined) + " " + str(startswith(joined, "a")))
`
	out, _ := Eval(context.Background(), src, "ctx", nil, noQuery)
	require.Nil(t, out.Err)
	assert.True(t, strings.HasPrefix(out.Final, "A-B-C"))
}
