package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/kartiknair/sumir/pkg/sum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, ioutil.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
module-name = "arith"
function-name = "add3"
bit-width = 32
target-triple = "x86_64-unknown-linux-gnu"
clang = "clang-14"
debug = true
`))
	require.NoError(t, err)

	assert.Equal(t, sum.Config{
		ModuleName:   "arith",
		FunctionName: "add3",
		BitWidth:     32,
		TargetTriple: "x86_64-unknown-linux-gnu",
	}, cfg.Sum)
	assert.Equal(t, "clang-14", cfg.Clang)
	assert.True(t, cfg.Debug)
}

func TestParseKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`debug = false`))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejectsInvalid(t *testing.T) {
	_, err := Parse([]byte(`bit-width = 96`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bit width")

	_, err = Parse([]byte(`module-name = `))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	t.Setenv(ClangEnvVar, "")

	t.Run("missing default file", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), DefaultFileName), false)
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.toml"), true)
		assert.Error(t, err)
	})

	t.Run("file", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, `function-name = "total"`), true)
		require.NoError(t, err)
		assert.Equal(t, "total", cfg.Sum.FunctionName)
		assert.Equal(t, uint64(64), cfg.Sum.BitWidth)
	})

	t.Run("invalid file", func(t *testing.T) {
		_, err := Load(writeConfig(t, `bit-width = 0x`), false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid config file")
	})
}

func TestLoadClangOverride(t *testing.T) {
	t.Setenv(ClangEnvVar, "/opt/llvm/bin/clang")

	cfg, err := Load(writeConfig(t, `clang = "clang-14"`), true)
	require.NoError(t, err)
	assert.Equal(t, "/opt/llvm/bin/clang", cfg.Clang)
}

func TestEncodeRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Sum.ModuleName = "arith"
	cfg.Sum.BitWidth = 16
	cfg.Debug = true

	buff, err := Encode(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(buff), "module-name")

	decoded, err := Parse(buff)
	require.NoError(t, err)
	assert.Equal(t, cfg, decoded)
}
