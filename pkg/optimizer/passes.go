package optimizer

import (
	"math/bits"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/xplshn/vibec/pkg/ast"
	"github.com/xplshn/vibec/pkg/ir"
)

// foldConstants evaluates arithmetic, shifts and comparisons whose operands
// are both numeric literals. Division by zero is left for run time.
func foldConstants(instrs []*ir.Instruction) ([]*ir.Instruction, bool) {
	changed := false
	for i, in := range instrs {
		if !in.Op.IsBinary() {
			continue
		}
		a, ok1 := in.Arg(0).(*ir.Const)
		b, ok2 := in.Arg(1).(*ir.Const)
		if !ok1 || !ok2 {
			continue
		}
		v, ok := evalConst(in.Op, a, b)
		if !ok {
			continue
		}
		instrs[i] = &ir.Instruction{Op: ir.OpAssign, Typ: in.Typ, Result: in.Result, Args: []ir.Value{v}}
		changed = true
	}
	return instrs, changed
}

func evalConst(op ir.Op, a, b *ir.Const) (ir.Value, bool) {
	if op.IsLogical() {
		if a.Kind != ir.ConstBool || b.Kind != ir.ConstBool {
			return nil, false
		}
		x, y := a.Text == "true", b.Text == "true"
		if op == ir.OpAnd {
			return ir.BoolConst(x && y), true
		}
		return ir.BoolConst(x || y), true
	}
	if a.Kind == ir.ConstBool && b.Kind == ir.ConstBool && (op == ir.OpEq || op == ir.OpNeq) {
		return ir.BoolConst((a.Text == b.Text) == (op == ir.OpEq)), true
	}
	if !a.IsNumeric() || !b.IsNumeric() {
		return nil, false
	}

	if a.Kind == ir.ConstInt && b.Kind == ir.ConstInt {
		x, ok1 := a.Int()
		y, ok2 := b.Int()
		if !ok1 || !ok2 {
			return nil, false
		}
		switch op {
		case ir.OpAdd:
			return ir.IntConst(x + y), true
		case ir.OpSub:
			return ir.IntConst(x - y), true
		case ir.OpMul:
			return ir.IntConst(x * y), true
		case ir.OpDiv:
			if y == 0 {
				return nil, false
			}
			return ir.IntConst(ir.FloorDiv(x, y)), true
		case ir.OpShl:
			if y < 0 || y > 63 {
				return nil, false
			}
			return ir.IntConst(x << uint(y)), true
		case ir.OpShr:
			if y < 0 || y > 63 {
				return nil, false
			}
			return ir.IntConst(x >> uint(y)), true
		}
		return compare(op, cmpInt(x, y))
	}

	if op.IsShift() {
		return nil, false
	}
	x, ok1 := a.Float()
	y, ok2 := b.Float()
	if !ok1 || !ok2 {
		return nil, false
	}
	switch op {
	case ir.OpAdd:
		return ir.FloatConst(x + y), true
	case ir.OpSub:
		return ir.FloatConst(x - y), true
	case ir.OpMul:
		return ir.FloatConst(x * y), true
	case ir.OpDiv:
		if y == 0 {
			return nil, false
		}
		return ir.FloatConst(x / y), true
	}
	if x != x || y != y {
		return nil, false
	}
	switch {
	case x < y:
		return compare(op, -1)
	case x > y:
		return compare(op, 1)
	}
	return compare(op, 0)
}

func cmpInt(x, y int64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func compare(op ir.Op, c int) (ir.Value, bool) {
	switch op {
	case ir.OpEq:
		return ir.BoolConst(c == 0), true
	case ir.OpNeq:
		return ir.BoolConst(c != 0), true
	case ir.OpLt:
		return ir.BoolConst(c < 0), true
	case ir.OpGt:
		return ir.BoolConst(c > 0), true
	case ir.OpLte:
		return ir.BoolConst(c <= 0), true
	case ir.OpGte:
		return ir.BoolConst(c >= 0), true
	}
	return nil, false
}

// eliminateDeadCode drops pure instructions whose destination is never read
// afterwards. A read inside an enclosing loop counts as afterwards, and so
// does any read inside a function body, since calls reach it from anywhere.
func eliminateDeadCode(instrs []*ir.Instruction) ([]*ir.Instruction, bool) {
	labels := make(map[string]int)
	for i, in := range instrs {
		if in.Op == ir.OpLabel {
			labels[in.Arg(0).String()] = i
		}
	}

	type span struct{ from, to int }
	var loops []span
	for j, in := range instrs {
		if !in.Op.IsJump() {
			continue
		}
		if l, ok := labels[in.Target()]; ok && l <= j {
			loops = append(loops, span{l, j})
		}
	}
	loopReads := make([]map[string]bool, len(loops))
	for k, s := range loops {
		loopReads[k] = make(map[string]bool)
		for _, in := range instrs[s.from : s.to+1] {
			for _, r := range in.Reads() {
				loopReads[k][r] = true
			}
		}
	}

	funcReads := make(map[string]bool)
	depth := 0
	for _, in := range instrs {
		switch in.Op {
		case ir.OpFunction:
			depth++
		case ir.OpEndFunction:
			depth--
		}
		if depth > 0 {
			for _, r := range in.Reads() {
				funcReads[r] = true
			}
		}
	}

	live := make(map[string]bool)
	keep := make([]bool, len(instrs))
	changed := false
	for i := len(instrs) - 1; i >= 0; i-- {
		in := instrs[i]
		if dst := in.Defines(); dst != "" && in.IsPure() && !live[dst] && !funcReads[dst] {
			readInLoop := false
			for k, s := range loops {
				if s.from <= i && i <= s.to && loopReads[k][dst] {
					readInLoop = true
					break
				}
			}
			if !readInLoop {
				changed = true
				continue
			}
		}
		keep[i] = true
		for _, r := range in.Reads() {
			live[r] = true
		}
	}
	if !changed {
		return instrs, false
	}

	out := instrs[:0]
	for i, in := range instrs {
		if keep[i] {
			out = append(out, in)
		}
	}
	return out, true
}

type cseEntry struct {
	key  string
	dest ir.Value
	args []string
}

// cseTable maps a hashed (op, a1, a2) key to the names holding its value.
// Collisions are resolved by comparing the full key.
type cseTable map[uint64][]cseEntry

func cseKey(in *ir.Instruction) string {
	var sb strings.Builder
	sb.WriteString(in.Op.String())
	for _, a := range in.Args {
		sb.WriteByte('|')
		if c, ok := a.(*ir.Const); ok {
			sb.WriteByte(byte('0' + c.Kind))
		}
		sb.WriteString(a.String())
	}
	return sb.String()
}

func (t cseTable) lookup(key string) (ir.Value, bool) {
	for _, e := range t[xxhash.Sum64String(key)] {
		if e.key == key {
			return e.dest, true
		}
	}
	return nil, false
}

func (t cseTable) add(key string, dest ir.Value, args []string) {
	h := xxhash.Sum64String(key)
	t[h] = append(t[h], cseEntry{key: key, dest: dest, args: args})
}

// invalidate forgets every entry that reads or holds name.
func (t cseTable) invalidate(name string) {
	for h, entries := range t {
		kept := entries[:0]
		for _, e := range entries {
			if e.dest.String() == name || contains(e.args, name) {
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(t, h)
		} else {
			t[h] = kept
		}
	}
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// eliminateCommonSubexpressions replaces a repeated computation with a copy
// of the earlier result while that result and its operands are unchanged.
func eliminateCommonSubexpressions(instrs []*ir.Instruction) ([]*ir.Instruction, bool) {
	table := make(cseTable)
	changed := false
	for i, in := range instrs {
		switch in.Op {
		case ir.OpLabel, ir.OpCall, ir.OpFunction, ir.OpEndFunction, ir.OpParam:
			table = make(cseTable)
		}
		if in.Op.IsBinary() {
			key := cseKey(in)
			if earlier, ok := table.lookup(key); ok {
				instrs[i] = &ir.Instruction{Op: ir.OpAssign, Typ: in.Typ, Result: in.Result, Args: []ir.Value{earlier}}
				changed = true
			}
		}
		dst := instrs[i].Defines()
		if dst == "" {
			continue
		}
		table.invalidate(dst)
		if cur := instrs[i]; cur.Op.IsBinary() {
			args := cur.Reads()
			if !contains(args, dst) {
				table.add(cseKey(cur), cur.Result, args)
			}
		}
	}
	return instrs, changed
}

// reduceStrength rewrites int multiplication and division by a power of two
// as shifts and collapses algebraic identities on numeric instructions.
func reduceStrength(instrs []*ir.Instruction) ([]*ir.Instruction, bool) {
	changed := false
	for i, in := range instrs {
		if out := reduce(in); out != nil {
			instrs[i] = out
			changed = true
		}
	}
	return instrs, changed
}

func reduce(in *ir.Instruction) *ir.Instruction {
	if !in.Typ.IsNumeric() || !in.Op.IsArithmetic() {
		return nil
	}
	a, b := in.Arg(0), in.Arg(1)
	copyOf := func(v ir.Value) *ir.Instruction {
		return &ir.Instruction{Op: ir.OpAssign, Typ: in.Typ, Result: in.Result, Args: []ir.Value{v}}
	}
	zero := func() ir.Value {
		if in.Typ == ast.TypeFloat {
			return ir.FloatConst(0)
		}
		return ir.IntConst(0)
	}
	isInt := in.Typ == ast.TypeInt

	switch in.Op {
	case ir.OpMul:
		switch {
		case isOne(b):
			return copyOf(a)
		case isOne(a):
			return copyOf(b)
		case isInt && isZero(a) && ir.IsAtom(b), isInt && isZero(b) && ir.IsAtom(a):
			return copyOf(zero())
		}
		if !isInt {
			return nil
		}
		if k, ok := log2(b); ok && ir.IsName(a) {
			return &ir.Instruction{Op: ir.OpShl, Typ: in.Typ, Result: in.Result, Args: []ir.Value{a, ir.IntConst(int64(k))}}
		}
		if k, ok := log2(a); ok && ir.IsName(b) {
			return &ir.Instruction{Op: ir.OpShl, Typ: in.Typ, Result: in.Result, Args: []ir.Value{b, ir.IntConst(int64(k))}}
		}
	case ir.OpDiv:
		if isOne(b) {
			return copyOf(a)
		}
		if k, ok := log2(b); ok && isInt && ir.IsName(a) {
			return &ir.Instruction{Op: ir.OpShr, Typ: in.Typ, Result: in.Result, Args: []ir.Value{a, ir.IntConst(int64(k))}}
		}
	case ir.OpAdd:
		switch {
		case isZero(b):
			return copyOf(a)
		case isZero(a):
			return copyOf(b)
		}
	case ir.OpSub:
		switch {
		case isZero(b):
			return copyOf(a)
		case isInt && ir.IsName(a) && ir.IsName(b) && a.String() == b.String():
			return copyOf(zero())
		}
	}
	return nil
}

func isOne(v ir.Value) bool {
	c, ok := v.(*ir.Const)
	if !ok || !c.IsNumeric() {
		return false
	}
	f, ok := c.Float()
	return ok && f == 1
}

func isZero(v ir.Value) bool {
	c, ok := v.(*ir.Const)
	if !ok || !c.IsNumeric() {
		return false
	}
	f, ok := c.Float()
	return ok && f == 0
}

// log2 returns k when v is the int literal 2^k with k >= 1.
func log2(v ir.Value) (int, bool) {
	c, ok := v.(*ir.Const)
	if !ok {
		return 0, false
	}
	n, ok := c.Int()
	if !ok || n < 2 || n&(n-1) != 0 {
		return 0, false
	}
	return bits.TrailingZeros64(uint64(n)), true
}
