package sandbox

import (
	"fmt"

	"github.com/rlmrun/rlmrun/internal/orcherr"
)

func (in *Interp) evalBinary(env *Env, e BinaryExpr) (Value, error) {
	if e.Op == "and" {
		left, err := in.evalExpr(env, e.Left)
		if err != nil {
			return Value{}, err
		}
		if !left.Truthy() {
			return left, nil
		}
		return in.evalExpr(env, e.Right)
	}
	if e.Op == "or" {
		left, err := in.evalExpr(env, e.Left)
		if err != nil {
			return Value{}, err
		}
		if left.Truthy() {
			return left, nil
		}
		return in.evalExpr(env, e.Right)
	}

	left, err := in.evalExpr(env, e.Left)
	if err != nil {
		return Value{}, err
	}
	right, err := in.evalExpr(env, e.Right)
	if err != nil {
		return Value{}, err
	}

	if isComparisonOp(e.Op) {
		return compareValues(e.Op, left, right)
	}
	return arith(e.Op, left, right)
}

func isComparisonOp(op string) bool {
	switch op {
	case "==", "!=", "<", "<=", ">", ">=":
		return true
	default:
		return false
	}
}

func isNumeric(v Value) bool { return v.Tag == TagInt || v.Tag == TagFloat }

func asFloat(v Value) float64 {
	if v.Tag == TagInt {
		return float64(v.Int)
	}
	return v.Float
}

func arith(op string, l, r Value) (Value, error) {
	if op == "+" && l.Tag == TagString && r.Tag == TagString {
		return Str(l.Str + r.Str), nil
	}
	if op == "+" && l.Tag == TagList && r.Tag == TagList {
		out := append(append([]Value(nil), l.List...), r.List...)
		return List(out), nil
	}

	if !isNumeric(l) || !isNumeric(r) {
		return Value{}, orcherr.New(orcherr.ProgramRuntimeError,
			fmt.Sprintf("unsupported operand types for %s: %s and %s", op, l.TypeName(), r.TypeName()))
	}

	bothInt := l.Tag == TagInt && r.Tag == TagInt
	switch op {
	case "+":
		if bothInt {
			return Int(l.Int + r.Int), nil
		}
		return Float(asFloat(l) + asFloat(r)), nil
	case "-":
		if bothInt {
			return Int(l.Int - r.Int), nil
		}
		return Float(asFloat(l) - asFloat(r)), nil
	case "*":
		if bothInt {
			return Int(l.Int * r.Int), nil
		}
		return Float(asFloat(l) * asFloat(r)), nil
	case "/":
		if asFloat(r) == 0 {
			return Value{}, orcherr.New(orcherr.ProgramRuntimeError, "division by zero")
		}
		return Float(asFloat(l) / asFloat(r)), nil
	case "//":
		if asFloat(r) == 0 {
			return Value{}, orcherr.New(orcherr.ProgramRuntimeError, "division by zero")
		}
		if bothInt {
			q := l.Int / r.Int
			if (l.Int%r.Int != 0) && ((l.Int < 0) != (r.Int < 0)) {
				q--
			}
			return Int(q), nil
		}
		return Float(float64(int64(asFloat(l) / asFloat(r)))), nil
	case "%":
		if bothInt {
			if r.Int == 0 {
				return Value{}, orcherr.New(orcherr.ProgramRuntimeError, "division by zero")
			}
			m := l.Int % r.Int
			if m != 0 && (m < 0) != (r.Int < 0) {
				m += r.Int
			}
			return Int(m), nil
		}
		return Value{}, orcherr.New(orcherr.ProgramRuntimeError, "%% requires integer operands")
	default:
		return Value{}, orcherr.New(orcherr.ProgramRuntimeError, fmt.Sprintf("unknown operator %q", op))
	}
}

func compareValues(op string, l, r Value) (Value, error) {
	if op == "==" {
		return Bool(valuesEqual(l, r)), nil
	}
	if op == "!=" {
		return Bool(!valuesEqual(l, r)), nil
	}

	var cmp int
	switch {
	case isNumeric(l) && isNumeric(r):
		lf, rf := asFloat(l), asFloat(r)
		switch {
		case lf < rf:
			cmp = -1
		case lf > rf:
			cmp = 1
		default:
			cmp = 0
		}
	case l.Tag == TagString && r.Tag == TagString:
		switch {
		case l.Str < r.Str:
			cmp = -1
		case l.Str > r.Str:
			cmp = 1
		default:
			cmp = 0
		}
	default:
		return Value{}, orcherr.New(orcherr.ProgramRuntimeError,
			fmt.Sprintf("cannot compare %s and %s", l.TypeName(), r.TypeName()))
	}

	switch op {
	case "<":
		return Bool(cmp < 0), nil
	case "<=":
		return Bool(cmp <= 0), nil
	case ">":
		return Bool(cmp > 0), nil
	case ">=":
		return Bool(cmp >= 0), nil
	default:
		return Value{}, orcherr.New(orcherr.ProgramRuntimeError, fmt.Sprintf("unknown comparator %q", op))
	}
}

func valuesEqual(l, r Value) bool {
	if isNumeric(l) && isNumeric(r) {
		return asFloat(l) == asFloat(r)
	}
	if l.Tag != r.Tag {
		return false
	}
	switch l.Tag {
	case TagNull:
		return true
	case TagBool:
		return l.Bool == r.Bool
	case TagString:
		return l.Str == r.Str
	case TagList:
		if len(l.List) != len(r.List) {
			return false
		}
		for i := range l.List {
			if !valuesEqual(l.List[i], r.List[i]) {
				return false
			}
		}
		return true
	case TagDict:
		if l.Dict.Len() != r.Dict.Len() {
			return false
		}
		for _, k := range l.Dict.Keys() {
			lv, _ := l.Dict.Get(k)
			rv, ok := r.Dict.Get(k)
			if !ok || !valuesEqual(lv, rv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// indexAsInt resolves a would-be index into a collection of length n,
// supporting negative indices (Python-style, -1 == last element).
func indexAsInt(idx Value, n int) (int, error) {
	if idx.Tag != TagInt {
		return 0, orcherr.New(orcherr.ProgramRuntimeError, "index must be an int")
	}
	i := int(idx.Int)
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, orcherr.New(orcherr.ProgramRuntimeError, fmt.Sprintf("index %d out of range", idx.Int))
	}
	return i, nil
}

func evalIndex(coll, idx Value) (Value, error) {
	switch coll.Tag {
	case TagList:
		i, err := indexAsInt(idx, len(coll.List))
		if err != nil {
			return Value{}, err
		}
		return coll.List[i], nil
	case TagString:
		runes := []rune(coll.Str)
		i, err := indexAsInt(idx, len(runes))
		if err != nil {
			return Value{}, err
		}
		return Str(string(runes[i])), nil
	case TagDict:
		if idx.Tag != TagString {
			return Value{}, orcherr.New(orcherr.ProgramRuntimeError, "dict keys must be strings")
		}
		v, ok := coll.Dict.Get(idx.Str)
		if !ok {
			return Value{}, orcherr.New(orcherr.ProgramRuntimeError, fmt.Sprintf("key %q not found", idx.Str))
		}
		return v, nil
	default:
		return Value{}, orcherr.New(orcherr.ProgramRuntimeError, fmt.Sprintf("cannot index %s", coll.TypeName()))
	}
}

func (in *Interp) evalSlice(env *Env, e SliceExpr) (Value, error) {
	coll, err := in.evalExpr(env, e.Collection)
	if err != nil {
		return Value{}, err
	}

	var length int
	switch coll.Tag {
	case TagList:
		length = len(coll.List)
	case TagString:
		length = len([]rune(coll.Str))
	default:
		return Value{}, orcherr.New(orcherr.ProgramRuntimeError, fmt.Sprintf("cannot slice %s", coll.TypeName()))
	}

	lo, hi := 0, length
	if e.Low != nil {
		v, err := in.evalExpr(env, e.Low)
		if err != nil {
			return Value{}, err
		}
		lo = clampSliceBound(v, length)
	}
	if e.High != nil {
		v, err := in.evalExpr(env, e.High)
		if err != nil {
			return Value{}, err
		}
		hi = clampSliceBound(v, length)
	}
	if hi < lo {
		hi = lo
	}

	if coll.Tag == TagString {
		runes := []rune(coll.Str)
		return Str(string(runes[lo:hi])), nil
	}
	out := append([]Value(nil), coll.List[lo:hi]...)
	return List(out), nil
}

func clampSliceBound(v Value, length int) int {
	if v.Tag != TagInt {
		return length
	}
	i := int(v.Int)
	if i < 0 {
		i += length
	}
	if i < 0 {
		i = 0
	}
	if i > length {
		i = length
	}
	return i
}
