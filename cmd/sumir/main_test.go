package main

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/kartiknair/sumir/pkg/config"
	"github.com/kartiknair/sumir/pkg/interp"
	"github.com/llir/llvm/asm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withSettings(t *testing.T, cfg config.Config) {
	t.Helper()

	previous := settings
	settings = cfg
	t.Cleanup(func() { settings = previous })
}

func TestDump(t *testing.T) {
	withSettings(t, config.Default())

	var out bytes.Buffer
	require.NoError(t, dump(&out, false))
	assert.Contains(t, out.String(), "; ModuleID = 'sum'")
	assert.Contains(t, out.String(), "%mul = mul i64 %diff, %sum.2")
}

func TestDumpPackedStaysValid(t *testing.T) {
	withSettings(t, config.Default())

	var out bytes.Buffer
	require.NoError(t, dump(&out, true))
	assert.Contains(t, out.String(), "; ModuleID = 'sum'")

	m, err := asm.ParseString("sum.ll", out.String())
	require.NoError(t, err)
	require.Len(t, m.Funcs, 1)

	for _, args := range [][]int64{{0, 0, 0}, {1, 2, 3}, {-7, 1 << 40, 99}} {
		result, err := interp.Eval(m.Funcs[0], args...)
		require.NoError(t, err)
		assert.Zero(t, result)
	}
}

func TestEval(t *testing.T) {
	cfg := config.Default()
	cfg.Sum.BitWidth = 8
	withSettings(t, cfg)

	result, err := eval([]int64{100, 100, 100})
	require.NoError(t, err)
	assert.Zero(t, result)
}

func TestEmitC(t *testing.T) {
	withSettings(t, config.Default())

	var out bytes.Buffer
	require.NoError(t, emitC(&out))
	assert.Contains(t, out.String(), "int64_t sum(int64_t v0, int64_t v1, int64_t v2)")
}

func TestPackFile(t *testing.T) {
	withSettings(t, config.Default())

	src := `
define i32 @pairs(i32 %a, i32 %b, i32 %c, i32 %d) {
entry:
	%x = add i32 %a, %b
	%y = add i32 %c, %d
	%w = add i32 %x, %y
	%v = add i32 %a, %d
	%z = mul i32 %w, %v
	ret i32 %z
}
`
	path := filepath.Join(t.TempDir(), "pairs.ll")
	require.NoError(t, ioutil.WriteFile(path, []byte(src), 0644))

	original, err := asm.ParseString("pairs.ll", src)
	require.NoError(t, err)
	args := []int64{5, -11, 40, 2}
	expected, err := interp.Eval(original.Funcs[0], args...)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, packFile(&out, path))
	assert.Contains(t, out.String(), "add <2 x i32>")

	packed, err := asm.ParseString("packed.ll", out.String())
	require.NoError(t, err)
	result, err := interp.Eval(packed.Funcs[0], args...)
	require.NoError(t, err)
	assert.Equal(t, expected, result)

	assert.Error(t, packFile(&out, filepath.Join(t.TempDir(), "missing.ll")))
}
