package cgen

import (
	"fmt"
	"strings"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

func genType(t types.Type) (string, error) {
	it, ok := t.(*types.IntType)
	if !ok {
		return "", fmt.Errorf("type %s has no C equivalent", t)
	}
	switch it.BitSize {
	case 8, 16, 32, 64:
		return fmt.Sprintf("int%d_t", it.BitSize), nil
	}
	return "", fmt.Errorf("integer width %d has no C equivalent", it.BitSize)
}

// sanitize turns an IR identifier into a C identifier: `sum.1` becomes
// `sum_1` and `0` becomes `v0`.
func sanitize(ident string) string {
	ident = strings.Trim(ident, `"`)

	var sb strings.Builder
	for i, r := range ident {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			sb.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				sb.WriteRune('v')
			}
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	if sb.Len() == 0 {
		return "v"
	}
	return sb.String()
}

// namer hands out distinct C identifiers for the locals of one function.
// Locals whose sanitized names collide get a numeric suffix.
type namer struct {
	names map[value.Value]string
	used  map[string]bool
}

func newNamer(reserved ...string) *namer {
	n := &namer{
		names: make(map[value.Value]string),
		used:  make(map[string]bool),
	}
	for _, r := range reserved {
		n.used[r] = true
	}
	return n
}

func (n *namer) name(v value.Value) string {
	if name, ok := n.names[v]; ok {
		return name
	}

	base := sanitize(strings.TrimPrefix(v.Ident(), "%"))
	name := base
	for i := 1; n.used[name]; i++ {
		name = fmt.Sprintf("%s_%d", base, i)
	}
	n.used[name] = true
	n.names[v] = name
	return name
}

func (n *namer) value(v value.Value) string {
	if c, ok := v.(*constant.Int); ok {
		return c.X.String()
	}
	return n.name(v)
}

// arith emits a wrapping operation by computing in an unsigned type. Types
// narrower than int would be promoted to signed int, so they go through
// uint32_t instead.
func (n *namer) arith(t *types.IntType, typ string, op string, x, y value.Value) string {
	utyp := "u" + typ
	if t.BitSize < 32 {
		utyp = "uint32_t"
	}
	return fmt.Sprintf(
		"(%s)((%s)%s %s (%s)%s)",
		typ, utyp, n.value(x), op, utyp, n.value(y),
	)
}

func (n *namer) instruction(inst ir.Instruction) (string, error) {
	var (
		result value.Value
		op     string
		x, y   value.Value
	)

	switch inst := inst.(type) {
	case *ir.InstAdd:
		result, op, x, y = inst, "+", inst.X, inst.Y
	case *ir.InstSub:
		result, op, x, y = inst, "-", inst.X, inst.Y
	case *ir.InstMul:
		result, op, x, y = inst, "*", inst.X, inst.Y
	default:
		return "", fmt.Errorf("instruction %T cannot be lowered to C", inst)
	}

	typ, err := genType(result.Type())
	if err != nil {
		return "", err
	}
	t := result.Type().(*types.IntType)
	return fmt.Sprintf("\t%s %s = %s;\n", typ, n.name(result), n.arith(t, typ, op, x, y)), nil
}

// Gen lowers a single block integer function to C source.
func Gen(f *ir.Func) (string, error) {
	if len(f.Blocks) != 1 {
		return "", fmt.Errorf("function %s must have exactly one block, has %d", f.Ident(), len(f.Blocks))
	}

	// IDs of unnamed parameters are only assigned when the function is printed.
	if err := f.AssignIDs(); err != nil {
		return "", err
	}

	retType, err := genType(f.Sig.RetType)
	if err != nil {
		return "", err
	}

	funcName := sanitize(f.Name())
	n := newNamer(funcName)

	gennedParameters := ""
	if len(f.Params) == 0 {
		gennedParameters = "void"
	}
	for i, param := range f.Params {
		typ, err := genType(param.Type())
		if err != nil {
			return "", err
		}
		gennedParameters += typ + " " + n.name(param)
		if i != len(f.Params)-1 {
			gennedParameters += ", "
		}
	}

	var sb strings.Builder
	sb.WriteString("#include <stdint.h>\n\n")
	fmt.Fprintf(&sb, "%s %s(%s) {\n", retType, funcName, gennedParameters)

	b := f.Blocks[0]
	for _, inst := range b.Insts {
		line, err := n.instruction(inst)
		if err != nil {
			return "", err
		}
		sb.WriteString(line)
	}

	ret, ok := b.Term.(*ir.TermRet)
	if !ok || ret.X == nil {
		return "", fmt.Errorf("function %s must end in a value return", f.Ident())
	}
	fmt.Fprintf(&sb, "\treturn %s;\n}\n", n.value(ret.X))

	return sb.String(), nil
}
