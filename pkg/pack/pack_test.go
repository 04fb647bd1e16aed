package pack

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kartiknair/sumir/pkg/interp"
	"github.com/kartiknair/sumir/pkg/sum"
	"github.com/llir/llvm/asm"
	"github.com/llir/llvm/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseModule(t *testing.T, src string) *ir.Module {
	t.Helper()

	m, err := asm.ParseString("test.ll", src)
	require.NoError(t, err)
	return m
}

func lastFunc(m *ir.Module) *ir.Func {
	return m.Funcs[len(m.Funcs)-1]
}

const pairsSource = `
declare void @observe(i32)

define i32 @pairs(i32 %a, i32 %b, i32 %c, i32 %d) {
entry:
	%x = add i32 %a, %b
	%y = add i32 %c, %d
	call void @observe(i32 %x)
	%z = add i32 %x, %y
	ret i32 %z
}
`

func TestPacksIndependentAdditionsBeforeCall(t *testing.T) {
	m := parseModule(t, pairsSource)
	f := lastFunc(m)

	before, err := interp.Eval(f, 1, 2, 3, 4)
	require.NoError(t, err)

	var trace bytes.Buffer
	p := &Pass{Trace: &trace}
	require.True(t, p.Run(f))

	require.Len(t, p.Groups, 1)
	assert.Equal(t, Group{
		Function: "pairs",
		Block:    "entry",
		Start:    0,
		End:      1,
		Lanes:    2,
		Type:     "i32",
	}, p.Groups[0])

	after, err := interp.Eval(f, 1, 2, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, int64(10), after)

	out := m.String()
	assert.Contains(t, out, "insertelement <2 x i32> zeroinitializer")
	assert.Contains(t, out, "add <2 x i32>")
	assert.Contains(t, out, "extractelement <2 x i32>")
	assert.NotContains(t, out, "%x = add")
	assert.NotContains(t, out, "%y = add")

	// The call now observes the extracted lane rather than the removed add.
	assert.NotContains(t, out, "call void @observe(i32 %x)")

	assert.Equal(t, 2, strings.Count(trace.String(), "Function body:"))
	assert.Contains(t, trace.String(), "0 1\n")

	// The transformed module must still be well-formed IR.
	reparsed := parseModule(t, out)
	result, err := interp.Eval(lastFunc(reparsed), 1, 2, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, before, result)
}

func TestPacksThreeLanes(t *testing.T) {
	m := parseModule(t, `
define i64 @triple(i64 %a, i64 %b, i64 %c) {
entry:
	%x = add i64 %a, 1
	%y = add i64 %b, 2
	%w = add i64 %c, 3
	%m = mul i64 %x, %y
	%r = sub i64 %m, %w
	ret i64 %r
}
`)
	f := lastFunc(m)

	before, err := interp.Eval(f, 5, -6, 7)
	require.NoError(t, err)

	p := &Pass{}
	require.True(t, p.Run(f))
	require.Len(t, p.Groups, 1)
	assert.Equal(t, 3, p.Groups[0].Lanes)
	assert.Equal(t, "i64", p.Groups[0].Type)
	assert.Equal(t, 0, p.Groups[0].Start)
	assert.Equal(t, 2, p.Groups[0].End)

	after, err := interp.Eval(f, 5, -6, 7)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, err = asm.ParseString("triple.ll", m.String())
	require.NoError(t, err)
}

func TestDependentAdditionsAreLeftAlone(t *testing.T) {
	ctx := sum.NewContext()
	defer ctx.Dispose()

	m, err := sum.Construct(ctx, sum.DefaultConfig())
	require.NoError(t, err)
	original := m.String()

	p := &Pass{}
	assert.Equal(t, 0, p.RunModule(m.IR))
	assert.Empty(t, p.Groups)
	assert.Equal(t, original, m.String())
}

func TestMixedWidthsAreNotPacked(t *testing.T) {
	m := parseModule(t, `
define i32 @mixed(i32 %a, i64 %b, i32 %c) {
entry:
	%x = add i32 %a, 1
	%y = add i64 %b, 1
	%w = add i32 %c, 1
	%t = trunc i64 %y to i32
	%s = sub i32 %x, %w
	%r = sub i32 %s, %t
	ret i32 %r
}
`)

	p := &Pass{}
	assert.False(t, p.Run(lastFunc(m)))
	assert.Empty(t, p.Groups)
}

func TestRepeatedStoreSkipsBlock(t *testing.T) {
	m := parseModule(t, `
define void @stores(i32* %p, i32 %a, i32 %b, i32 %c, i32 %d) {
entry:
	%x = add i32 %a, %b
	%y = add i32 %c, %d
	store i32 %x, i32* %p
	store i32 %y, i32* %p
	ret void
}
`)
	original := m.String()

	p := &Pass{}
	assert.False(t, p.Run(lastFunc(m)))
	assert.Equal(t, original, m.String())
}

func TestDeclarationsAreSkipped(t *testing.T) {
	m := parseModule(t, pairsSource)

	p := &Pass{}
	assert.False(t, p.Run(m.Funcs[0]))
	assert.Equal(t, 1, p.RunModule(m))
}

func TestGroupFlushedBeforeDependentAddition(t *testing.T) {
	m := parseModule(t, `
define i32 @chain(i32 %a, i32 %b, i32 %c, i32 %d) {
entry:
	%x = add i32 %a, %b
	%y = add i32 %c, %d
	%w = add i32 %x, %y
	%v = add i32 %a, %d
	%r = mul i32 %w, %v
	ret i32 %r
}
`)
	f := lastFunc(m)

	args := []int64{3, -9, 14, 27}
	before, err := interp.Eval(f, args...)
	require.NoError(t, err)

	p := &Pass{}
	require.True(t, p.Run(f))
	require.Len(t, p.Groups, 2)
	assert.Equal(t, 0, p.Groups[0].Start)
	assert.Equal(t, 1, p.Groups[0].End)
	assert.Equal(t, 2, p.Groups[1].Start)
	assert.Equal(t, 3, p.Groups[1].End)

	after, err := interp.Eval(f, args...)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	reparsed := parseModule(t, m.String())
	result, err := interp.Eval(lastFunc(reparsed), args...)
	require.NoError(t, err)
	assert.Equal(t, before, result)
}

func TestUsesInLaterBlocksAreRewritten(t *testing.T) {
	m := parseModule(t, `
define i32 @split(i32 %a, i32 %b, i32 %c, i32 %d) {
entry:
	%x = add i32 %a, %b
	%y = add i32 %c, %d
	br label %next

next:
	%z = mul i32 %x, %y
	ret i32 %z
}
`)
	f := lastFunc(m)

	p := &Pass{}
	require.True(t, p.Run(f))
	require.Len(t, p.Groups, 1)
	assert.Equal(t, "entry", p.Groups[0].Block)

	out := m.String()
	assert.NotContains(t, out, "mul i32 %x, %y")

	reparsed := parseModule(t, out)
	next := lastFunc(reparsed).Blocks[1]
	mul, ok := next.Insts[0].(*ir.InstMul)
	require.True(t, ok)
	_, ok = mul.X.(*ir.InstExtractElement)
	assert.True(t, ok)
	_, ok = mul.Y.(*ir.InstExtractElement)
	assert.True(t, ok)
}

func TestUnsupportedInstructionKindsSkipFunction(t *testing.T) {
	m := parseModule(t, `
define i32 @choose(i1 %c, i32 %a, i32 %b) {
entry:
	%x = add i32 %a, 1
	%y = add i32 %b, 2
	%s = select i1 %c, i32 %x, i32 %y
	ret i32 %s
}
`)
	original := m.String()

	var trace bytes.Buffer
	p := &Pass{Trace: &trace}
	assert.False(t, p.Run(lastFunc(m)))
	assert.Empty(t, p.Groups)
	assert.Equal(t, original, m.String())
	assert.Contains(t, trace.String(), "Skipping @choose")
}

func TestPackedSumModuleStaysValid(t *testing.T) {
	ctx := sum.NewContext()
	defer ctx.Dispose()

	m, err := sum.Construct(ctx, sum.DefaultConfig())
	require.NoError(t, err)

	p := &Pass{}
	p.RunModule(m.IR)

	reparsed, err := asm.ParseString("sum.ll", m.String())
	require.NoError(t, err)
	result, err := interp.Eval(lastFunc(reparsed), 8, -3, 77)
	require.NoError(t, err)
	assert.Zero(t, result)
}
