package gen

import (
	cgen "github.com/kartiknair/sumir/pkg/gen/c"
	llvmgen "github.com/kartiknair/sumir/pkg/gen/llvm"
	"github.com/kartiknair/sumir/pkg/sum"
	"github.com/llir/llvm/ir"
)

func C(f *ir.Func) (string, error) {
	return cgen.Gen(f)
}

func LLVM(cfg sum.Config) (string, error) {
	return llvmgen.Gen(cfg)
}

func Driver(cfg sum.Config, args []int64) (string, error) {
	return llvmgen.GenDriver(cfg, args)
}
