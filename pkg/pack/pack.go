// Package pack implements a function pass that packs independent scalar
// integer additions into a single vector addition.
//
// Within a basic block, instructions between calls form a run. Additions of
// the same type inside a run are collected into a group until an instruction
// uses one of them, a call or an addition of another type is reached, or the
// block ends. A group of at least two additions is then replaced, right
// before that point, by
//
//	%l = insertelement ... (one per lane, starting from zeroinitializer)
//	%r = insertelement ...
//	%v = add <k x iN> %l, %r
//	%e = extractelement <k x iN> %v, i64 lane
//
// and every use of an original addition is rewritten to its extracted lane.
package pack

import (
	"fmt"
	"io"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

// Group records one packed set of additions.
type Group struct {
	Function string
	Block    string
	// Start and End are the positions of the first and last packed addition
	// in the block before the pass ran.
	Start int
	End   int
	Lanes int
	Type  string
}

type Pass struct {
	// Trace receives the function body before and after packing, and the
	// packed ranges. Nil disables tracing.
	Trace io.Writer

	Groups []Group
}

func (p *Pass) tracef(format string, args ...interface{}) {
	if p.Trace != nil {
		fmt.Fprintf(p.Trace, format, args...)
	}
}

type renamable interface {
	IsUnnamed() bool
	SetID(id int64)
}

func binaryOperands(x, y *value.Value) []*value.Value {
	return []*value.Value{x, y}
}

// operands returns pointers to the value operands of an instruction or
// terminator. ok is false for kinds the pass does not know how to inspect.
func operands(v interface{}) (ops []*value.Value, ok bool) {
	switch v := v.(type) {
	case *ir.InstAdd:
		return binaryOperands(&v.X, &v.Y), true
	case *ir.InstSub:
		return binaryOperands(&v.X, &v.Y), true
	case *ir.InstMul:
		return binaryOperands(&v.X, &v.Y), true
	case *ir.InstUDiv:
		return binaryOperands(&v.X, &v.Y), true
	case *ir.InstSDiv:
		return binaryOperands(&v.X, &v.Y), true
	case *ir.InstURem:
		return binaryOperands(&v.X, &v.Y), true
	case *ir.InstSRem:
		return binaryOperands(&v.X, &v.Y), true
	case *ir.InstShl:
		return binaryOperands(&v.X, &v.Y), true
	case *ir.InstLShr:
		return binaryOperands(&v.X, &v.Y), true
	case *ir.InstAShr:
		return binaryOperands(&v.X, &v.Y), true
	case *ir.InstAnd:
		return binaryOperands(&v.X, &v.Y), true
	case *ir.InstOr:
		return binaryOperands(&v.X, &v.Y), true
	case *ir.InstXor:
		return binaryOperands(&v.X, &v.Y), true
	case *ir.InstICmp:
		return binaryOperands(&v.X, &v.Y), true
	case *ir.InstInsertElement:
		return []*value.Value{&v.X, &v.Elem, &v.Index}, true
	case *ir.InstExtractElement:
		return []*value.Value{&v.X, &v.Index}, true
	case *ir.InstTrunc:
		return []*value.Value{&v.From}, true
	case *ir.InstZExt:
		return []*value.Value{&v.From}, true
	case *ir.InstSExt:
		return []*value.Value{&v.From}, true
	case *ir.InstLoad:
		return []*value.Value{&v.Src}, true
	case *ir.InstStore:
		return []*value.Value{&v.Src, &v.Dst}, true
	case *ir.InstGetElementPtr:
		ops = []*value.Value{&v.Src}
		for i := range v.Indices {
			ops = append(ops, &v.Indices[i])
		}
		return ops, true
	case *ir.InstCall:
		ops = []*value.Value{&v.Callee}
		for i := range v.Args {
			ops = append(ops, &v.Args[i])
		}
		return ops, true
	case *ir.InstPhi:
		for _, inc := range v.Incs {
			ops = append(ops, &inc.X)
		}
		return ops, true
	case *ir.TermRet:
		return []*value.Value{&v.X}, true
	case *ir.TermBr, *ir.TermUnreachable:
		return nil, true
	case *ir.TermCondBr:
		return []*value.Value{&v.Cond}, true
	case *ir.TermSwitch:
		return []*value.Value{&v.X}, true
	}
	return nil, false
}

// inspectable reports whether every instruction and terminator of f is of
// a kind whose operands can be rewritten.
func inspectable(f *ir.Func) bool {
	for _, block := range f.Blocks {
		for _, inst := range block.Insts {
			if _, ok := operands(inst); !ok {
				return false
			}
		}
		if _, ok := operands(block.Term); !ok {
			return false
		}
	}
	return true
}

// usesAny reports whether inst may use a value of set. Unknown kinds are
// assumed to.
func usesAny(inst interface{}, set map[value.Value]bool) bool {
	ops, ok := operands(inst)
	if !ok {
		return true
	}
	for _, op := range ops {
		if set[*op] {
			return true
		}
	}
	return false
}

// scalarAdd returns the integer type of inst if it is a scalar integer
// addition.
func scalarAdd(inst ir.Instruction) (*ir.InstAdd, *types.IntType) {
	add, ok := inst.(*ir.InstAdd)
	if !ok {
		return nil, nil
	}
	t, ok := add.Type().(*types.IntType)
	if !ok {
		return nil, nil
	}
	return add, t
}

func hasRepeatedStore(block *ir.Block) bool {
	seen := make(map[value.Value]bool)
	for _, inst := range block.Insts {
		if store, ok := inst.(*ir.InstStore); ok {
			if seen[store.Dst] {
				return true
			}
			seen[store.Dst] = true
		}
	}
	return false
}

// resetIDs clears the IDs of unnamed locals so they are renumbered when the
// function is printed again.
func resetIDs(f *ir.Func) {
	reset := func(v interface{}) {
		if n, ok := v.(renamable); ok && n.IsUnnamed() {
			n.SetID(0)
		}
	}
	for _, param := range f.Params {
		reset(param)
	}
	for _, block := range f.Blocks {
		reset(block)
		for _, inst := range block.Insts {
			reset(inst)
		}
		reset(block.Term)
	}
}

type blockPacker struct {
	pass  *Pass
	fun   *ir.Func
	block *ir.Block

	group     []*ir.InstAdd
	positions []int
	members   map[value.Value]bool
	elemType  *types.IntType

	replacements map[value.Value]value.Value
}

func (bp *blockPacker) reset() {
	bp.group = nil
	bp.positions = nil
	bp.members = make(map[value.Value]bool)
	bp.elemType = nil
}

// flush packs the current group at the end of the block being rebuilt.
func (bp *blockPacker) flush() {
	defer bp.reset()

	if len(bp.group) < 2 {
		return
	}

	kept := bp.block.Insts[:0]
	for _, inst := range bp.block.Insts {
		if v, ok := inst.(value.Value); ok && bp.members[v] {
			continue
		}
		kept = append(kept, inst)
	}
	bp.block.Insts = kept

	vecType := types.NewVector(uint64(len(bp.group)), bp.elemType)
	var left, right value.Value = constant.NewZeroInitializer(vecType), constant.NewZeroInitializer(vecType)
	for i, add := range bp.group {
		lane := constant.NewInt(types.I64, int64(i))
		left = bp.block.NewInsertElement(left, add.X, lane)
		right = bp.block.NewInsertElement(right, add.Y, lane)
	}
	packed := bp.block.NewAdd(left, right)

	for i, add := range bp.group {
		extracted := bp.block.NewExtractElement(packed, constant.NewInt(types.I64, int64(i)))
		bp.replacements[add] = extracted
	}

	g := Group{
		Function: bp.fun.Name(),
		Block:    bp.block.Name(),
		Start:    bp.positions[0],
		End:      bp.positions[len(bp.positions)-1],
		Lanes:    len(bp.group),
		Type:     bp.elemType.String(),
	}
	bp.pass.Groups = append(bp.pass.Groups, g)
	bp.pass.tracef("%d %d\n", g.Start, g.End)
}

func (bp *blockPacker) run() bool {
	original := append([]ir.Instruction(nil), bp.block.Insts...)
	bp.block.Insts = make([]ir.Instruction, 0, len(original))
	bp.reset()

	before := len(bp.pass.Groups)
	for pos, inst := range original {
		if _, isCall := inst.(*ir.InstCall); isCall {
			bp.flush()
		} else if usesAny(inst, bp.members) {
			bp.flush()
		}

		if add, t := scalarAdd(inst); add != nil {
			if bp.elemType != nil && bp.elemType.BitSize != t.BitSize {
				bp.flush()
			}
			bp.elemType = t
			bp.group = append(bp.group, add)
			bp.positions = append(bp.positions, pos)
			bp.members[add] = true
		}

		bp.block.Insts = append(bp.block.Insts, inst)
	}
	bp.flush()

	return len(bp.pass.Groups) > before
}

// Run packs the additions of f and reports whether f changed.
func (p *Pass) Run(f *ir.Func) bool {
	if len(f.Blocks) == 0 {
		return false
	}
	if !inspectable(f) {
		p.tracef("Skipping @%s: unsupported instruction kinds\n", f.Name())
		return false
	}

	if p.Trace != nil {
		p.tracef("Function body:\n%s\n", f.LLString())
	}

	replacements := make(map[value.Value]value.Value)
	changed := false
	for _, block := range f.Blocks {
		if hasRepeatedStore(block) {
			continue
		}
		bp := &blockPacker{pass: p, fun: f, block: block, replacements: replacements}
		if bp.run() {
			changed = true
		}
	}

	if !changed {
		return false
	}

	for _, block := range f.Blocks {
		for _, inst := range block.Insts {
			replaceUses(inst, replacements)
		}
		replaceUses(block.Term, replacements)
	}
	resetIDs(f)

	if p.Trace != nil {
		p.tracef("Function body:\n%s\n", f.LLString())
	}
	return true
}

func replaceUses(user interface{}, replacements map[value.Value]value.Value) {
	ops, _ := operands(user)
	for _, op := range ops {
		if repl, ok := replacements[*op]; ok {
			*op = repl
		}
	}
}

// RunModule runs the pass over every function defined in m and returns the
// number of functions that changed.
func (p *Pass) RunModule(m *ir.Module) int {
	changed := 0
	for _, f := range m.Funcs {
		if p.Run(f) {
			changed++
		}
	}
	return changed
}
