package main

import (
	"fmt"
	"log"
	"os"

	"github.com/alecthomas/repr"
	"github.com/kartiknair/sumir/pkg/interp"
	"github.com/kartiknair/sumir/pkg/pack"
	"github.com/kartiknair/sumir/pkg/sum"
	"github.com/llir/llvm/asm"
)

type report struct {
	Function string
	Args     []int64
	Before   int64
	After    int64
	Groups   []pack.Group
}

func main() {
	code := `
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
	m, err := asm.ParseString("playground.ll", code)
	if err != nil {
		log.Fatal(err.Error())
	}

	args := []int64{1, 2, 3, 4}
	f := m.Funcs[1]

	before, err := interp.Eval(f, args...)
	if err != nil {
		log.Fatal(err.Error())
	}

	p := &pack.Pass{Trace: os.Stderr}
	p.Run(f)

	after, err := interp.Eval(f, args...)
	if err != nil {
		log.Fatal(err.Error())
	}

	repr.Println(report{
		Function: f.Name(),
		Args:     args,
		Before:   before,
		After:    after,
		Groups:   p.Groups,
	})
	fmt.Println(m.String())

	// sum(x, y, z) is zero whatever the inputs.
	if err := sum.Run(os.Stdout, sum.DefaultConfig()); err != nil {
		log.Fatal(err.Error())
	}
}
