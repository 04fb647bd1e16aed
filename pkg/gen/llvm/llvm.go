package llvmgen

import (
	"fmt"

	"github.com/kartiknair/sumir/pkg/sum"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

var (
	module            *ir.Module
	block             *ir.Block
	printfDeclaration *ir.Func
)

type llvmStr struct {
	raw string
	def *ir.Global
}

func (l *llvmStr) gep() value.Value {
	return constant.NewGetElementPtr(
		types.NewArray(uint64(len(l.raw)), types.I8),
		l.def,
		constant.NewInt(types.I32, 0),
		constant.NewInt(types.I32, 0),
	)
}

func createLLVMStr(raw string) *llvmStr {
	l := llvmStr{raw: raw}
	l.def = module.NewGlobalDef("", constant.NewCharArrayFromString(raw))
	l.def.Linkage = enum.LinkagePrivate
	return &l
}

// Gen returns the textual module holding the sum function.
func Gen(cfg sum.Config) (string, error) {
	ctx := sum.NewContext()
	defer ctx.Dispose()

	m, err := sum.Construct(ctx, cfg)
	if err != nil {
		return "", err
	}
	return m.String(), nil
}

// genMain adds a main function that calls callee with args and prints the
// result as a signed 64-bit integer.
func genMain(callee *ir.Func, args []int64) {
	printfDeclaration = module.NewFunc("printf", types.I32, ir.NewParam("", types.I8Ptr))
	printfDeclaration.Sig.Variadic = true

	format := createLLVMStr("%lld\n\x00")

	mainFunc := module.NewFunc("main", types.I32)
	block = mainFunc.NewBlock("entry")

	intType := callee.Sig.RetType.(*types.IntType)
	callArgs := make([]value.Value, 0, len(args))
	for _, a := range args {
		callArgs = append(callArgs, constant.NewInt(intType, a))
	}

	var result value.Value = block.NewCall(callee, callArgs...)
	if intType.BitSize < 64 {
		result = block.NewSExt(result, types.I64)
	}

	block.NewCall(printfDeclaration, format.gep(), result)
	block.NewRet(constant.NewInt(types.I32, 0))
}

// GenDriver returns a complete program: the sum module plus a main that
// prints sum(args...). The result can be compiled and linked by clang.
func GenDriver(cfg sum.Config, args []int64) (string, error) {
	if len(args) != 3 {
		return "", fmt.Errorf("sum takes 3 arguments, got %d", len(args))
	}
	if cfg.FunctionName == "main" {
		return "", fmt.Errorf("function name %q clashes with the driver's entry point", cfg.FunctionName)
	}

	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if cfg.BitWidth < 64 {
		lo, hi := -(int64(1) << (cfg.BitWidth - 1)), int64(1)<<(cfg.BitWidth-1)-1
		for _, a := range args {
			if a < lo || a > hi {
				return "", fmt.Errorf("argument %d does not fit in i%d (%d to %d)", a, cfg.BitWidth, lo, hi)
			}
		}
	}

	ctx := sum.NewContext()
	defer ctx.Dispose()

	m, err := sum.Construct(ctx, cfg)
	if err != nil {
		return "", err
	}

	module = m.IR
	genMain(m.Function(cfg.FunctionName), args)
	module = nil
	block = nil

	return m.String(), nil
}
