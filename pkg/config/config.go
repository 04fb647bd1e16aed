package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/kartiknair/sumir/pkg/sum"
	"github.com/pelletier/go-toml"
)

const (
	DefaultFileName = "sumir.toml"
	DefaultClang    = "clang"
	// ClangEnvVar overrides the clang executable from any other source.
	ClangEnvVar = "SUMIR_CC"
)

// tomlConfig is the configuration file as it is encoded in TOML.
type tomlConfig struct {
	ModuleName     string `toml:"module-name,omitempty"`
	FunctionName   string `toml:"function-name,omitempty"`
	BitWidth       uint64 `toml:"bit-width,omitempty"`
	SourceFilename string `toml:"source-filename,omitempty"`
	TargetTriple   string `toml:"target-triple,omitempty"`
	Clang          string `toml:"clang,omitempty"`
	Debug          bool   `toml:"debug"`
}

type Config struct {
	Sum   sum.Config
	Clang string
	// Debug enables timing and trace output.
	Debug bool
}

func Default() Config {
	return Config{
		Sum:   sum.DefaultConfig(),
		Clang: DefaultClang,
	}
}

// Parse decodes a configuration file on top of the defaults.
func Parse(buff []byte) (Config, error) {
	tc := &tomlConfig{}
	if err := toml.Unmarshal(buff, tc); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if tc.ModuleName != "" {
		cfg.Sum.ModuleName = tc.ModuleName
	}
	if tc.FunctionName != "" {
		cfg.Sum.FunctionName = tc.FunctionName
	}
	if tc.BitWidth != 0 {
		cfg.Sum.BitWidth = tc.BitWidth
	}
	cfg.Sum.SourceFilename = tc.SourceFilename
	cfg.Sum.TargetTriple = tc.TargetTriple
	if tc.Clang != "" {
		cfg.Clang = tc.Clang
	}
	cfg.Debug = tc.Debug

	if err := cfg.Sum.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads the configuration at path. When the file does not exist the
// defaults are returned, unless the path was given explicitly. The clang
// environment override is applied last.
func Load(path string, explicit bool) (Config, error) {
	cfg := Default()

	buff, err := ioutil.ReadFile(path)
	switch {
	case err == nil:
		cfg, err = Parse(buff)
		if err != nil {
			return Config{}, fmt.Errorf("invalid config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	if cc := os.Getenv(ClangEnvVar); cc != "" {
		cfg.Clang = cc
	}
	return cfg, nil
}

// Encode returns the TOML form of cfg.
func Encode(cfg Config) ([]byte, error) {
	return toml.Marshal(tomlConfig{
		ModuleName:     cfg.Sum.ModuleName,
		FunctionName:   cfg.Sum.FunctionName,
		BitWidth:       cfg.Sum.BitWidth,
		SourceFilename: cfg.Sum.SourceFilename,
		TargetTriple:   cfg.Sum.TargetTriple,
		Clang:          cfg.Clang,
		Debug:          cfg.Debug,
	})
}
