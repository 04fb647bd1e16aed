package sum

import (
	"errors"
	"fmt"
	"io"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

// Config describes the module built by Construct. The zero value is not
// usable, start from DefaultConfig.
type Config struct {
	ModuleName     string
	FunctionName   string
	SourceFilename string
	TargetTriple   string
	// Width of the integer parameters and return value, in bits.
	BitWidth uint64
}

func DefaultConfig() Config {
	return Config{
		ModuleName:   "sum",
		FunctionName: "sum",
		BitWidth:     64,
	}
}

func (c Config) Validate() error {
	if c.ModuleName == "" {
		return errors.New("module name must not be empty")
	}
	if c.FunctionName == "" {
		return errors.New("function name must not be empty")
	}
	if c.BitWidth == 0 || c.BitWidth > 64 {
		return fmt.Errorf("bit width must be between 1 and 64, got %d", c.BitWidth)
	}
	return nil
}

// Context owns everything created in it. It must outlive its modules and
// every builder created from it must be disposed before the context is.
type Context struct {
	intTypes map[uint64]*types.IntType
	modules  []*Module
	builders int
	disposed bool
}

func NewContext() *Context {
	return &Context{intTypes: make(map[uint64]*types.IntType)}
}

func (ctx *Context) ensureAlive() {
	if ctx.disposed {
		panic("Context used after it was disposed.")
	}
}

// IntType returns the integer type of the given width. Types are interned
// per context so the same width always yields the same type.
func (ctx *Context) IntType(bits uint64) *types.IntType {
	ctx.ensureAlive()

	if t, ok := ctx.intTypes[bits]; ok {
		return t
	}

	var t *types.IntType
	switch bits {
	case 1:
		t = types.I1
	case 8:
		t = types.I8
	case 16:
		t = types.I16
	case 32:
		t = types.I32
	case 64:
		t = types.I64
	default:
		t = types.NewInt(bits)
	}
	ctx.intTypes[bits] = t
	return t
}

func (ctx *Context) NewModule(name string) *Module {
	ctx.ensureAlive()

	m := &Module{Name: name, IR: ir.NewModule(), ctx: ctx}
	m.IR.SourceFilename = name
	ctx.modules = append(ctx.modules, m)
	return m
}

func (ctx *Context) NewBuilder() *Builder {
	ctx.ensureAlive()
	ctx.builders++
	return &Builder{ctx: ctx}
}

// Dispose releases the context. Disposing with live builders is a
// programming error.
func (ctx *Context) Dispose() {
	ctx.ensureAlive()
	if ctx.builders != 0 {
		panic(fmt.Sprintf("Context disposed with %d live builder(s).", ctx.builders))
	}
	ctx.modules = nil
	ctx.intTypes = nil
	ctx.disposed = true
}

type Module struct {
	Name string
	IR   *ir.Module

	ctx *Context
}

func (m *Module) AddFunction(name string, sig *types.FuncType) *ir.Func {
	m.ctx.ensureAlive()

	params := make([]*ir.Param, 0, len(sig.Params))
	for _, p := range sig.Params {
		params = append(params, ir.NewParam("", p))
	}
	f := m.IR.NewFunc(name, sig.RetType, params...)
	f.Sig.Variadic = sig.Variadic
	return f
}

func (m *Module) Function(name string) *ir.Func {
	for _, f := range m.IR.Funcs {
		if f.Name() == name {
			return f
		}
	}
	return nil
}

// Dump writes the textual IR of the module, headed by its module ID.
func (m *Module) Dump(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "; ModuleID = '%s'\n", m.Name); err != nil {
		return err
	}
	_, err := io.WriteString(w, m.IR.String())
	return err
}

func (m *Module) String() string {
	return fmt.Sprintf("; ModuleID = '%s'\n%s", m.Name, m.IR.String())
}

// Builder appends instructions at the end of the block it is positioned at.
type Builder struct {
	ctx      *Context
	block    *ir.Block
	disposed bool
}

func (b *Builder) insertBlock() *ir.Block {
	if b.disposed {
		panic("Builder used after it was disposed.")
	}
	if b.block == nil {
		panic("Builder has not been positioned.")
	}
	return b.block
}

func (b *Builder) PositionAtEnd(block *ir.Block) {
	if b.disposed {
		panic("Builder used after it was disposed.")
	}
	b.block = block
}

func (b *Builder) Add(x, y value.Value, name string) *ir.InstAdd {
	inst := b.insertBlock().NewAdd(x, y)
	inst.SetName(name)
	return inst
}

func (b *Builder) Sub(x, y value.Value, name string) *ir.InstSub {
	inst := b.insertBlock().NewSub(x, y)
	inst.SetName(name)
	return inst
}

func (b *Builder) Mul(x, y value.Value, name string) *ir.InstMul {
	inst := b.insertBlock().NewMul(x, y)
	inst.SetName(name)
	return inst
}

func (b *Builder) Ret(x value.Value) *ir.TermRet {
	return b.insertBlock().NewRet(x)
}

func (b *Builder) Dispose() {
	if b.disposed {
		panic("Builder disposed twice.")
	}
	b.disposed = true
	b.block = nil
	b.ctx.builders--
}

// AppendBlock adds a named basic block at the end of f.
func AppendBlock(f *ir.Func, name string) *ir.Block {
	return f.NewBlock(name)
}

// Construct builds the sum module in ctx:
//
//	sum.1 = x + y
//	sum.2 = sum.1 + z
//	diff  = sum.2 - sum.2
//	mul   = diff * sum.2
//	ret mul
//
// The function therefore returns zero for every input.
func Construct(ctx *Context, cfg Config) (*Module, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := ctx.NewModule(cfg.ModuleName)
	if cfg.SourceFilename != "" {
		m.IR.SourceFilename = cfg.SourceFilename
	}
	m.IR.TargetTriple = cfg.TargetTriple
	builder := ctx.NewBuilder()

	intType := ctx.IntType(cfg.BitWidth)
	sig := types.NewFunc(intType, intType, intType, intType)

	f := m.AddFunction(cfg.FunctionName, sig)

	entry := AppendBlock(f, "entry")
	builder.PositionAtEnd(entry)

	x := f.Params[0]
	y := f.Params[1]
	z := f.Params[2]

	partial := builder.Add(x, y, "sum.1")
	total := builder.Add(partial, z, "sum.2")

	diff := builder.Sub(total, total, "diff")
	mul := builder.Mul(diff, total, "mul")

	builder.Ret(mul)

	builder.Dispose()

	return m, nil
}

// Run performs the whole construction, writes the module dump to w and
// releases the context.
func Run(w io.Writer, cfg Config) error {
	ctx := NewContext()

	m, err := Construct(ctx, cfg)
	if err != nil {
		ctx.Dispose()
		return err
	}

	err = m.Dump(w)
	ctx.Dispose()
	if err != nil {
		return fmt.Errorf("dumping module %q: %w", cfg.ModuleName, err)
	}
	return nil
}
