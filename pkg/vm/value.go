package vm

import (
	"strconv"
	"strings"

	"github.com/xplshn/vibec/pkg/ir"
	"github.com/xplshn/vibec/pkg/token"
)

type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindString
	KindBool
	KindArray
)

// kindMarkers spells each kind the way programs name it.
var kindMarkers = [...]token.Type{
	KindNull:   token.Null,
	KindInt:    token.IntType,
	KindFloat:  token.FloatType,
	KindString: token.StringType,
	KindBool:   token.BoolType,
	KindArray:  token.ArrayType,
}

func (k Kind) String() string { return token.TypeStrings[kindMarkers[k]] }

// Value is a runtime value. Arrays are immutable once built.
type Value struct {
	Kind  Kind
	Int   int64
	Float float64
	Str   string
	Bool  bool
	Elems []Value
}

func Int(i int64) Value     { return Value{Kind: KindInt, Int: i} }
func Float(f float64) Value { return Value{Kind: KindFloat, Float: f} }
func String(s string) Value { return Value{Kind: KindString, Str: s} }
func Bool(b bool) Value     { return Value{Kind: KindBool, Bool: b} }
func Null() Value           { return Value{} }
func Array(e []Value) Value { return Value{Kind: KindArray, Elems: e} }

func (v Value) IsNumeric() bool {
	return v.Kind == KindInt || v.Kind == KindFloat
}

func (v Value) asFloat() float64 {
	if v.Kind == KindInt {
		return float64(v.Int)
	}
	return v.Float
}

// String renders v the way print shows it.
func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return ir.FormatFloat(v.Float)
	case KindString:
		return v.Str
	case KindBool:
		if v.Bool {
			return token.TypeStrings[token.True]
		}
		return token.TypeStrings[token.False]
	case KindArray:
		parts := make([]string, len(v.Elems))
		for i, e := range v.Elems {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return token.TypeStrings[token.Null]
}

func (v Value) truthy() bool {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int != 0
	case KindFloat:
		return v.Float != 0
	case KindString:
		return v.Str != ""
	case KindArray:
		return len(v.Elems) > 0
	}
	return false
}

func equal(a, b Value) bool {
	if a.IsNumeric() && b.IsNumeric() {
		if a.Kind == KindInt && b.Kind == KindInt {
			return a.Int == b.Int
		}
		return a.asFloat() == b.asFloat()
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindString:
		return a.Str == b.Str
	case KindBool:
		return a.Bool == b.Bool
	case KindArray:
		if len(a.Elems) != len(b.Elems) {
			return false
		}
		for i := range a.Elems {
			if !equal(a.Elems[i], b.Elems[i]) {
				return false
			}
		}
	}
	return true
}

func fromConst(c *ir.Const) (Value, bool) {
	switch c.Kind {
	case ir.ConstInt:
		i, ok := c.Int()
		return Int(i), ok
	case ir.ConstFloat:
		f, ok := c.Float()
		return Float(f), ok
	case ir.ConstString:
		return String(c.Text), true
	case ir.ConstBool:
		return Bool(c.Text == "true"), true
	}
	return Null(), true
}
