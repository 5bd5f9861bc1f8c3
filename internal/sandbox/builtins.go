package sandbox

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rlmrun/rlmrun/internal/orcherr"
)

// newGlobalEnv builds the fixed, explicit binding set a program may see.
// Every name MSL can reference is defined here; any Ident lookup miss at
// evaluation time raises SandboxViolation rather than falling through to
// a general-purpose language surface (spec.md §4.1, §9).
func newGlobalEnv(contextVal string, memory *Dict, llmQuery NativeFunc) *Env {
	env := NewEnv(nil)

	env.Define("context", Str(contextVal))
	if memory == nil {
		memory = NewDict()
	}
	env.Define("memory", DictVal(memory))

	env.Define("llm_query", NativeVal(llmQuery))
	env.Define("FINAL", NativeVal(builtinFinal))

	env.Define("len", NativeVal(builtinLen))
	env.Define("range", NativeVal(builtinRange))
	env.Define("enumerate", NativeVal(builtinEnumerate))
	env.Define("min", NativeVal(builtinMin))
	env.Define("max", NativeVal(builtinMax))
	env.Define("sum", NativeVal(builtinSum))
	env.Define("sorted", NativeVal(builtinSorted))

	env.Define("str", NativeVal(builtinStr))
	env.Define("int", NativeVal(builtinInt))
	env.Define("float", NativeVal(builtinFloat))
	env.Define("bool", NativeVal(builtinBool))
	env.Define("list", NativeVal(builtinList))
	env.Define("dict", NativeVal(builtinDict))

	env.Define("split", NativeVal(builtinSplit))
	env.Define("join", NativeVal(builtinJoin))
	env.Define("strip", NativeVal(builtinStrip))
	env.Define("upper", NativeVal(builtinUpper))
	env.Define("lower", NativeVal(builtinLower))
	env.Define("find", NativeVal(builtinFind))
	env.Define("replace", NativeVal(builtinReplace))
	env.Define("startswith", NativeVal(builtinStartswith))
	env.Define("endswith", NativeVal(builtinEndswith))

	return env
}

func argErr(name, msg string) error {
	return orcherr.New(orcherr.ProgramRuntimeError, fmt.Sprintf("%s: %s", name, msg))
}

func requireArgs(name string, args []Value, n int) error {
	if len(args) != n {
		return argErr(name, fmt.Sprintf("expects %d argument(s), got %d", n, len(args)))
	}
	return nil
}

// builtinFinal implements the FINAL(value) primitive (spec.md §4.1):
// terminating the program immediately, independent of call depth, by
// returning finalSignal — which every evaluator in this package already
// propagates as an ordinary error.
func builtinFinal(_ *Interp, args []Value) (Value, error) {
	if err := requireArgs("FINAL", args, 1); err != nil {
		return Value{}, err
	}
	return Value{}, finalSignal{value: args[0]}
}

func builtinLen(_ *Interp, args []Value) (Value, error) {
	if err := requireArgs("len", args, 1); err != nil {
		return Value{}, err
	}
	switch args[0].Tag {
	case TagString:
		return Int(int64(len([]rune(args[0].Str)))), nil
	case TagList:
		return Int(int64(len(args[0].List))), nil
	case TagDict:
		return Int(int64(args[0].Dict.Len())), nil
	default:
		return Value{}, argErr("len", "argument has no length")
	}
}

func builtinRange(_ *Interp, args []Value) (Value, error) {
	var start, stop, step int64 = 0, 0, 1
	switch len(args) {
	case 1:
		if args[0].Tag != TagInt {
			return Value{}, argErr("range", "arguments must be int")
		}
		stop = args[0].Int
	case 2:
		if args[0].Tag != TagInt || args[1].Tag != TagInt {
			return Value{}, argErr("range", "arguments must be int")
		}
		start, stop = args[0].Int, args[1].Int
	case 3:
		if args[0].Tag != TagInt || args[1].Tag != TagInt || args[2].Tag != TagInt {
			return Value{}, argErr("range", "arguments must be int")
		}
		start, stop, step = args[0].Int, args[1].Int, args[2].Int
		if step == 0 {
			return Value{}, argErr("range", "step must not be zero")
		}
	default:
		return Value{}, argErr("range", "expects 1 to 3 arguments")
	}

	var out []Value
	if step > 0 {
		for i := start; i < stop; i += step {
			out = append(out, Int(i))
		}
	} else {
		for i := start; i > stop; i += step {
			out = append(out, Int(i))
		}
	}
	return List(out), nil
}

func builtinEnumerate(_ *Interp, args []Value) (Value, error) {
	if err := requireArgs("enumerate", args, 1); err != nil {
		return Value{}, err
	}
	items, err := iterableItems(args[0])
	if err != nil {
		return Value{}, err
	}
	out := make([]Value, len(items))
	for i, item := range items {
		out[i] = List([]Value{Int(int64(i)), item})
	}
	return List(out), nil
}

func numericList(name string, v Value) ([]Value, error) {
	if v.Tag != TagList {
		return nil, argErr(name, "expects a list argument")
	}
	for _, item := range v.List {
		if !isNumeric(item) {
			return nil, argErr(name, "all elements must be numeric")
		}
	}
	return v.List, nil
}

func builtinMin(_ *Interp, args []Value) (Value, error) {
	if err := requireArgs("min", args, 1); err != nil {
		return Value{}, err
	}
	items, err := numericList("min", args[0])
	if err != nil {
		return Value{}, err
	}
	if len(items) == 0 {
		return Value{}, argErr("min", "empty list")
	}
	best := items[0]
	for _, item := range items[1:] {
		if asFloat(item) < asFloat(best) {
			best = item
		}
	}
	return best, nil
}

func builtinMax(_ *Interp, args []Value) (Value, error) {
	if err := requireArgs("max", args, 1); err != nil {
		return Value{}, err
	}
	items, err := numericList("max", args[0])
	if err != nil {
		return Value{}, err
	}
	if len(items) == 0 {
		return Value{}, argErr("max", "empty list")
	}
	best := items[0]
	for _, item := range items[1:] {
		if asFloat(item) > asFloat(best) {
			best = item
		}
	}
	return best, nil
}

func builtinSum(_ *Interp, args []Value) (Value, error) {
	if err := requireArgs("sum", args, 1); err != nil {
		return Value{}, err
	}
	items, err := numericList("sum", args[0])
	if err != nil {
		return Value{}, err
	}
	allInt := true
	var fsum float64
	var isum int64
	for _, item := range items {
		if item.Tag != TagInt {
			allInt = false
		}
		fsum += asFloat(item)
		isum += item.Int
	}
	if allInt {
		return Int(isum), nil
	}
	return Float(fsum), nil
}

func builtinSorted(_ *Interp, args []Value) (Value, error) {
	if err := requireArgs("sorted", args, 1); err != nil {
		return Value{}, err
	}
	if args[0].Tag != TagList {
		return Value{}, argErr("sorted", "expects a list argument")
	}
	out := append([]Value(nil), args[0].List...)
	var sortErr error
	sort.SliceStable(out, func(i, j int) bool {
		v, err := compareValues("<", out[i], out[j])
		if err != nil {
			sortErr = err
			return false
		}
		return v.Bool
	})
	if sortErr != nil {
		return Value{}, sortErr
	}
	return List(out), nil
}

func builtinStr(_ *Interp, args []Value) (Value, error) {
	if err := requireArgs("str", args, 1); err != nil {
		return Value{}, err
	}
	return Str(args[0].String()), nil
}

func builtinInt(_ *Interp, args []Value) (Value, error) {
	if err := requireArgs("int", args, 1); err != nil {
		return Value{}, err
	}
	switch args[0].Tag {
	case TagInt:
		return args[0], nil
	case TagFloat:
		return Int(int64(args[0].Float)), nil
	case TagBool:
		if args[0].Bool {
			return Int(1), nil
		}
		return Int(0), nil
	case TagString:
		n, err := strconv.ParseInt(strings.TrimSpace(args[0].Str), 10, 64)
		if err != nil {
			return Value{}, argErr("int", fmt.Sprintf("cannot convert %q to int", args[0].Str))
		}
		return Int(n), nil
	default:
		return Value{}, argErr("int", fmt.Sprintf("cannot convert %s to int", args[0].TypeName()))
	}
}

func builtinFloat(_ *Interp, args []Value) (Value, error) {
	if err := requireArgs("float", args, 1); err != nil {
		return Value{}, err
	}
	switch args[0].Tag {
	case TagFloat:
		return args[0], nil
	case TagInt:
		return Float(float64(args[0].Int)), nil
	case TagString:
		f, err := strconv.ParseFloat(strings.TrimSpace(args[0].Str), 64)
		if err != nil {
			return Value{}, argErr("float", fmt.Sprintf("cannot convert %q to float", args[0].Str))
		}
		return Float(f), nil
	default:
		return Value{}, argErr("float", fmt.Sprintf("cannot convert %s to float", args[0].TypeName()))
	}
}

func builtinBool(_ *Interp, args []Value) (Value, error) {
	if err := requireArgs("bool", args, 1); err != nil {
		return Value{}, err
	}
	return Bool(args[0].Truthy()), nil
}

func builtinList(_ *Interp, args []Value) (Value, error) {
	if err := requireArgs("list", args, 1); err != nil {
		return Value{}, err
	}
	items, err := iterableItems(args[0])
	if err != nil {
		return Value{}, err
	}
	return List(append([]Value(nil), items...)), nil
}

func builtinDict(_ *Interp, args []Value) (Value, error) {
	if err := requireArgs("dict", args, 0); err != nil {
		return Value{}, err
	}
	return DictVal(NewDict()), nil
}

func stringArg(name string, args []Value, i int) (string, error) {
	if i >= len(args) || args[i].Tag != TagString {
		return "", argErr(name, "expects string arguments")
	}
	return args[i].Str, nil
}

func builtinSplit(_ *Interp, args []Value) (Value, error) {
	if len(args) != 1 && len(args) != 2 {
		return Value{}, argErr("split", "expects 1 or 2 arguments")
	}
	s, err := stringArg("split", args, 0)
	if err != nil {
		return Value{}, err
	}
	var parts []string
	if len(args) == 2 {
		sep, err := stringArg("split", args, 1)
		if err != nil {
			return Value{}, err
		}
		parts = strings.Split(s, sep)
	} else {
		parts = strings.Fields(s)
	}
	out := make([]Value, len(parts))
	for i, p := range parts {
		out[i] = Str(p)
	}
	return List(out), nil
}

func builtinJoin(_ *Interp, args []Value) (Value, error) {
	if err := requireArgs("join", args, 2); err != nil {
		return Value{}, err
	}
	sep, err := stringArg("join", args, 1)
	if err != nil {
		return Value{}, err
	}
	if args[0].Tag != TagList {
		return Value{}, argErr("join", "first argument must be a list")
	}
	parts := make([]string, len(args[0].List))
	for i, item := range args[0].List {
		if item.Tag != TagString {
			return Value{}, argErr("join", "all list elements must be strings")
		}
		parts[i] = item.Str
	}
	return Str(strings.Join(parts, sep)), nil
}

func builtinStrip(_ *Interp, args []Value) (Value, error) {
	s, err := stringArg("strip", args, 0)
	if err != nil {
		return Value{}, err
	}
	return Str(strings.TrimSpace(s)), nil
}

func builtinUpper(_ *Interp, args []Value) (Value, error) {
	s, err := stringArg("upper", args, 0)
	if err != nil {
		return Value{}, err
	}
	return Str(strings.ToUpper(s)), nil
}

func builtinLower(_ *Interp, args []Value) (Value, error) {
	s, err := stringArg("lower", args, 0)
	if err != nil {
		return Value{}, err
	}
	return Str(strings.ToLower(s)), nil
}

func builtinFind(_ *Interp, args []Value) (Value, error) {
	if err := requireArgs("find", args, 2); err != nil {
		return Value{}, err
	}
	s, err := stringArg("find", args, 0)
	if err != nil {
		return Value{}, err
	}
	sub, err := stringArg("find", args, 1)
	if err != nil {
		return Value{}, err
	}
	return Int(int64(strings.Index(s, sub))), nil
}

func builtinReplace(_ *Interp, args []Value) (Value, error) {
	if err := requireArgs("replace", args, 3); err != nil {
		return Value{}, err
	}
	s, err := stringArg("replace", args, 0)
	if err != nil {
		return Value{}, err
	}
	old, err := stringArg("replace", args, 1)
	if err != nil {
		return Value{}, err
	}
	replacement, err := stringArg("replace", args, 2)
	if err != nil {
		return Value{}, err
	}
	return Str(strings.ReplaceAll(s, old, replacement)), nil
}

func builtinStartswith(_ *Interp, args []Value) (Value, error) {
	if err := requireArgs("startswith", args, 2); err != nil {
		return Value{}, err
	}
	s, err := stringArg("startswith", args, 0)
	if err != nil {
		return Value{}, err
	}
	prefix, err := stringArg("startswith", args, 1)
	if err != nil {
		return Value{}, err
	}
	return Bool(strings.HasPrefix(s, prefix)), nil
}

func builtinEndswith(_ *Interp, args []Value) (Value, error) {
	if err := requireArgs("endswith", args, 2); err != nil {
		return Value{}, err
	}
	s, err := stringArg("endswith", args, 0)
	if err != nil {
		return Value{}, err
	}
	suffix, err := stringArg("endswith", args, 1)
	if err != nil {
		return Value{}, err
	}
	return Bool(strings.HasSuffix(s, suffix)), nil
}
