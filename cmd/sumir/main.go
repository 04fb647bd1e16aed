package main

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kartiknair/sumir/pkg/config"
	"github.com/kartiknair/sumir/pkg/gen"
	"github.com/kartiknair/sumir/pkg/interp"
	"github.com/kartiknair/sumir/pkg/logging"
	"github.com/kartiknair/sumir/pkg/pack"
	"github.com/kartiknair/sumir/pkg/sum"
	"github.com/kr/pretty"
	"github.com/llir/llvm/asm"
	"github.com/urfave/cli/v2"
)

var settings = config.Default()

func loadSettings(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"), c.IsSet("config"))
	if err != nil {
		return err
	}

	if c.IsSet("width") {
		cfg.Sum.BitWidth = c.Uint64("width")
	}
	if c.IsSet("name") {
		cfg.Sum.FunctionName = c.String("name")
	}
	if c.IsSet("debug") {
		cfg.Debug = c.Bool("debug")
	}
	if err := cfg.Sum.Validate(); err != nil {
		return err
	}

	settings = cfg
	logging.Debug = cfg.Debug
	if cfg.Debug {
		logging.PrintInfoMessage("config", pretty.Sprint(cfg))
	}
	return nil
}

func parseArgs(c *cli.Context) ([]int64, error) {
	if c.Args().Len() != 3 {
		return nil, fmt.Errorf("expected 3 integer arguments, got %d", c.Args().Len())
	}

	args := make([]int64, 0, 3)
	for _, raw := range c.Args().Slice() {
		a, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer argument %q: %w", raw, err)
		}
		args = append(args, a)
	}
	return args, nil
}

func newPass() *pack.Pass {
	p := &pack.Pass{}
	if settings.Debug {
		p.Trace = logging.Writer{Tag: "pack"}
	}
	return p
}

func dump(w io.Writer, packed bool) error {
	start := time.Now()

	ctx := sum.NewContext()
	defer ctx.Dispose()

	m, err := sum.Construct(ctx, settings.Sum)
	if err != nil {
		return err
	}
	logging.PrintTiming("to build the module", start)

	if packed {
		changed := newPass().RunModule(m.IR)
		logging.PrintTiming(fmt.Sprintf("to pack additions (%d function(s) changed)", changed), start)
	}

	return m.Dump(w)
}

func packFile(w io.Writer, filename string) error {
	start := time.Now()

	m, err := asm.ParseFile(filename)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	logging.PrintTiming("to parse IR", start)

	p := newPass()
	changed := p.RunModule(m)
	for _, g := range p.Groups {
		logging.PrintInfoMessage("packed", fmt.Sprintf(
			"@%s %%%s: %d x %s (instructions %d-%d)",
			g.Function, g.Block, g.Lanes, g.Type, g.Start, g.End,
		))
	}
	if changed == 0 {
		logging.PrintWarningMessage("pack", "no additions could be packed")
	}
	logging.PrintTiming("to pack additions", start)

	_, err = io.WriteString(w, m.String())
	return err
}

func eval(args []int64) (int64, error) {
	ctx := sum.NewContext()
	defer ctx.Dispose()

	m, err := sum.Construct(ctx, settings.Sum)
	if err != nil {
		return 0, err
	}
	return interp.Eval(m.Function(settings.Sum.FunctionName), args...)
}

func emitC(w io.Writer) error {
	ctx := sum.NewContext()
	defer ctx.Dispose()

	m, err := sum.Construct(ctx, settings.Sum)
	if err != nil {
		return err
	}
	src, err := gen.C(m.Function(settings.Sum.FunctionName))
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, src)
	return err
}

func compileIRToExecutable(ir string) (string, error) {
	tmpDir, err := ioutil.TempDir("", "sumir-tmp--*")
	if err != nil {
		return "", fmt.Errorf("failed while creating temp directory: %w", err)
	}

	exeFilePath := filepath.Join(tmpDir, "sumir-exe.out")

	compileCommand := exec.Command(
		settings.Clang,
		"-x",
		"ir",
		"-o",
		exeFilePath,
		"-",
	)

	if settings.Debug {
		logging.PrintInfoMessage("exec", compileCommand.String())
		compileCommand.Stdout = os.Stderr
	}
	compileCommand.Stderr = os.Stderr
	compileCommand.Stdin = strings.NewReader(ir)

	start := time.Now()

	if err := compileCommand.Run(); err != nil {
		return "", fmt.Errorf("failed while compiling LLVM IR to executable: %w", err)
	}

	logging.PrintTiming("for clang to compile and link", start)

	return exeFilePath, nil
}

func genDriver(args []int64) (string, error) {
	start := time.Now()
	ir, err := gen.Driver(settings.Sum, args)
	if err != nil {
		return "", err
	}
	logging.PrintTiming("to generate LLVM IR", start)
	return ir, nil
}

func run(args []int64) error {
	ir, err := genDriver(args)
	if err != nil {
		return err
	}

	exePath, err := compileIRToExecutable(ir)
	if err != nil {
		return err
	}
	defer os.RemoveAll(filepath.Dir(exePath))

	runCmd := exec.Command(exePath)
	runCmd.Stdout = os.Stdout
	runCmd.Stderr = os.Stderr

	if err := runCmd.Run(); err != nil {
		return fmt.Errorf("failed to run compiled binary: %w", err)
	}
	return nil
}

func copyFile(srcPath string, dstPath string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dstPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0755)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	if err != nil {
		return err
	}
	return out.Close()
}

func build(args []int64, executableName string) error {
	ir, err := genDriver(args)
	if err != nil {
		return err
	}

	exePath, err := compileIRToExecutable(ir)
	if err != nil {
		return err
	}
	defer os.RemoveAll(filepath.Dir(exePath))

	if err := copyFile(exePath, executableName); err != nil {
		return err
	}
	logging.PrintSuccessMessage("build", "wrote "+executableName)
	return nil
}

func openOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	return os.Create(path)
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func main() {
	var (
		outputFile           string
		executableOutputFile string
		packAdditions        bool
	)

	app := &cli.App{
		Name:  "sumir",
		Usage: "Builds the LLVM IR of a three-argument sum function and dumps it.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Value: config.DefaultFileName,
				Usage: "Path of the TOML configuration file.",
			},
			&cli.Uint64Flag{
				Name:  "width",
				Value: 64,
				Usage: "Bit width of the integer parameters.",
			},
			&cli.StringFlag{
				Name:  "name",
				Value: "sum",
				Usage: "Name of the generated function.",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Print timing and pass traces to stderr.",
			},
		},
		Before: loadSettings,
		Action: func(c *cli.Context) error {
			if c.Args().Len() > 0 {
				return fmt.Errorf("unknown command %q", c.Args().First())
			}
			return sum.Run(os.Stdout, settings.Sum)
		},
		Commands: []*cli.Command{
			{
				Name:  "dump",
				Usage: "Dumps the module, optionally after packing additions.",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "output",
						Aliases:     []string{"o"},
						Value:       "-",
						Usage:       "File to write the IR to.",
						Destination: &outputFile,
					},
					&cli.BoolFlag{
						Name:        "pack",
						Usage:       "Run the addition packing pass before dumping.",
						Destination: &packAdditions,
					},
				},
				Action: func(c *cli.Context) error {
					out, err := openOutput(outputFile)
					if err != nil {
						return err
					}
					if err := dump(out, packAdditions); err != nil {
						out.Close()
						return err
					}
					return out.Close()
				},
			},
			{
				Name:      "pack",
				Usage:     "Packs independent additions of an IR file into vector additions.",
				ArgsUsage: "<file.ll>",
				Action: func(c *cli.Context) error {
					if c.Args().Len() != 1 {
						return errors.New("pack takes exactly one IR file")
					}
					return packFile(os.Stdout, c.Args().First())
				},
			},
			{
				Name:      "eval",
				Usage:     "Evaluates the function on three integers.",
				ArgsUsage: "<x> <y> <z>",
				Action: func(c *cli.Context) error {
					args, err := parseArgs(c)
					if err != nil {
						return err
					}
					result, err := eval(args)
					if err != nil {
						return err
					}
					fmt.Println(result)
					return nil
				},
			},
			{
				Name:  "emit-c",
				Usage: "Prints the function lowered to C.",
				Action: func(c *cli.Context) error {
					return emitC(os.Stdout)
				},
			},
			{
				Name:      "run",
				Usage:     "Compiles a program printing the function's result and runs it.",
				ArgsUsage: "<x> <y> <z>",
				Action: func(c *cli.Context) error {
					args, err := parseArgs(c)
					if err != nil {
						return err
					}
					return run(args)
				},
			},
			{
				Name:      "build",
				Usage:     "Compiles a program printing the function's result to an executable.",
				ArgsUsage: "<x> <y> <z>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "output",
						Aliases:     []string{"o"},
						Value:       "a.out",
						Usage:       "Name of the executable.",
						Destination: &executableOutputFile,
					},
				},
				Action: func(c *cli.Context) error {
					args, err := parseArgs(c)
					if err != nil {
						return errors.New(err.Error() + `

If you've provided flags make sure they go before the arguments.
    Wrong: $ sumir build 1 2 3 -o foo
    Right: $ sumir build -o foo 1 2 3
`)
					}
					return build(args, executableOutputFile)
				},
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		logging.PrintErrorMessage("error", err)
		os.Exit(1)
	}
}
