// Package interp evaluates straight-line integer IR functions. It is the
// reference used to check that generated and transformed functions compute
// what they should.
package interp

import (
	"fmt"
	"math/big"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

// Every runtime value is a list of lanes, one for scalars. Lanes are kept
// truncated to the element width.
type lanes []uint64

type frame struct {
	values map[value.Value]lanes
}

func mask(bits uint64) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << bits) - 1
}

func signExtend(v uint64, bits uint64) int64 {
	if bits >= 64 {
		return int64(v)
	}
	if v&(uint64(1)<<(bits-1)) != 0 {
		return int64(v | ^mask(bits))
	}
	return int64(v)
}

// shape returns the element width and lane count of an integer or integer
// vector type.
func shape(t types.Type) (bits uint64, count int, err error) {
	switch t := t.(type) {
	case *types.IntType:
		if t.BitSize == 0 || t.BitSize > 64 {
			return 0, 0, fmt.Errorf("unsupported integer width %d", t.BitSize)
		}
		return t.BitSize, 1, nil
	case *types.VectorType:
		bits, _, err := shape(t.ElemType)
		if err != nil {
			return 0, 0, err
		}
		return bits, int(t.Len), nil
	}
	return 0, 0, fmt.Errorf("unsupported type %s", t)
}

func bigToLane(x *big.Int, bits uint64) uint64 {
	if x.IsInt64() {
		return uint64(x.Int64()) & mask(bits)
	}
	return x.Uint64() & mask(bits)
}

func (fr *frame) operand(v value.Value) (lanes, error) {
	if l, ok := fr.values[v]; ok {
		return l, nil
	}

	switch c := v.(type) {
	case *constant.Int:
		return lanes{bigToLane(c.X, c.Typ.BitSize)}, nil
	case *constant.ZeroInitializer, *constant.Undef:
		_, count, err := shape(v.Type())
		if err != nil {
			return nil, err
		}
		return make(lanes, count), nil
	case *constant.Vector:
		out := make(lanes, 0, len(c.Elems))
		for _, e := range c.Elems {
			l, err := fr.operand(e)
			if err != nil {
				return nil, err
			}
			out = append(out, l[0])
		}
		return out, nil
	}

	return nil, fmt.Errorf("unknown operand %s", v.Ident())
}

func (fr *frame) binary(result value.Value, x, y value.Value, op func(a, b uint64) uint64) error {
	bits, _, err := shape(result.Type())
	if err != nil {
		return err
	}
	xl, err := fr.operand(x)
	if err != nil {
		return err
	}
	yl, err := fr.operand(y)
	if err != nil {
		return err
	}
	if len(xl) != len(yl) {
		return fmt.Errorf("lane count mismatch in %s", result.Ident())
	}

	out := make(lanes, len(xl))
	for i := range xl {
		out[i] = op(xl[i], yl[i]) & mask(bits)
	}
	fr.values[result] = out
	return nil
}

func (fr *frame) index(v value.Value, count int) (int, error) {
	l, err := fr.operand(v)
	if err != nil {
		return 0, err
	}
	idx := l[0]
	if idx >= uint64(count) {
		return 0, fmt.Errorf("vector index %d out of range for %d lanes", idx, count)
	}
	return int(idx), nil
}

func (fr *frame) exec(inst ir.Instruction) error {
	switch inst := inst.(type) {
	case *ir.InstAdd:
		return fr.binary(inst, inst.X, inst.Y, func(a, b uint64) uint64 { return a + b })
	case *ir.InstSub:
		return fr.binary(inst, inst.X, inst.Y, func(a, b uint64) uint64 { return a - b })
	case *ir.InstMul:
		return fr.binary(inst, inst.X, inst.Y, func(a, b uint64) uint64 { return a * b })
	case *ir.InstInsertElement:
		vec, err := fr.operand(inst.X)
		if err != nil {
			return err
		}
		elem, err := fr.operand(inst.Elem)
		if err != nil {
			return err
		}
		i, err := fr.index(inst.Index, len(vec))
		if err != nil {
			return err
		}
		out := append(lanes(nil), vec...)
		out[i] = elem[0]
		fr.values[inst] = out
		return nil
	case *ir.InstExtractElement:
		vec, err := fr.operand(inst.X)
		if err != nil {
			return err
		}
		i, err := fr.index(inst.Index, len(vec))
		if err != nil {
			return err
		}
		fr.values[inst] = lanes{vec[i]}
		return nil
	case *ir.InstCall:
		// Calls to void functions have no effect on the evaluated value.
		if _, ok := inst.Type().(*types.VoidType); ok {
			return nil
		}
		return fmt.Errorf("unsupported call with result %s", inst.Ident())
	}

	return fmt.Errorf("unsupported instruction %T", inst)
}

// Eval runs f on args and returns the sign-extended result. Only single
// block functions over integers of at most 64 bits are supported.
func Eval(f *ir.Func, args ...int64) (int64, error) {
	if len(f.Blocks) == 0 {
		return 0, fmt.Errorf("function %s has no body", f.Ident())
	}
	if len(f.Blocks) != 1 {
		return 0, fmt.Errorf("function %s has %d blocks, only straight-line functions can be evaluated", f.Ident(), len(f.Blocks))
	}
	if len(args) != len(f.Params) {
		return 0, fmt.Errorf("function %s takes %d arguments, got %d", f.Ident(), len(f.Params), len(args))
	}

	fr := &frame{values: make(map[value.Value]lanes)}
	for i, p := range f.Params {
		bits, count, err := shape(p.Type())
		if err != nil {
			return 0, fmt.Errorf("parameter %d: %w", i, err)
		}
		if count != 1 {
			return 0, fmt.Errorf("parameter %d: vector parameters are not supported", i)
		}
		fr.values[p] = lanes{uint64(args[i]) & mask(bits)}
	}

	block := f.Blocks[0]
	for _, inst := range block.Insts {
		if err := fr.exec(inst); err != nil {
			return 0, fmt.Errorf("evaluating %s: %w", f.Ident(), err)
		}
	}

	ret, ok := block.Term.(*ir.TermRet)
	if !ok {
		return 0, fmt.Errorf("unsupported terminator %T", block.Term)
	}
	if ret.X == nil {
		return 0, fmt.Errorf("function %s returns void", f.Ident())
	}

	bits, _, err := shape(ret.X.Type())
	if err != nil {
		return 0, err
	}
	result, err := fr.operand(ret.X)
	if err != nil {
		return 0, err
	}
	return signExtend(result[0], bits), nil
}
