// Package sandbox implements the Minimal Scripting Language (MSL) of
// spec.md §4.1/§6: a hand-rolled lexer, recursive-descent parser, and
// tree-walking evaluator over a tiny AST. spec.md §9's "Dynamic code
// execution" design note requires exactly this shape — an explicit
// allow-list AST evaluator rather than an embedded general-purpose
// scripting engine — because a blacklist over a full language runtime
// is not reliably escape-proof.
//
// The runtime Value model and the Env/closure shape are grounded on
// other_examples/daios-ai-msg__interpreter.go (the "MindScript" public
// interpreter API): a tagged Value union and a parent-chained
// environment for lexical scoping, trimmed down from that language's
// broader surface (no types, no modules, no bytecode) to MSL's smaller
// one. The capability allow-list discipline — a fixed, explicit set of
// bindable names with no path for an omitted feature to be smuggled in —
// follows the teacher's internal/lua.Runtime sandboxing in spirit:
// where the teacher subtracts dangerous names from gopher-lua's base
// library, this interpreter's dispatch table simply never contains them.
package sandbox

import (
	"fmt"
	"sort"
)

// ValueTag discriminates the cases of Value.
type ValueTag int

const (
	TagNull ValueTag = iota
	TagBool
	TagInt
	TagFloat
	TagString
	TagList
	TagDict
	TagFunc
	TagNative
)

// Value is the universal runtime carrier for MSL, mirroring the tagged
// Value union of other_examples/daios-ai-msg__interpreter.go.
type Value struct {
	Tag    ValueTag
	Bool   bool
	Int    int64
	Float  float64
	Str    string
	List   []Value
	Dict   *Dict
	Func   *Function
	Native NativeFunc
}

// NativeFunc is a Go-implemented primitive exposed to MSL programs, e.g.
// llm_query, FINAL, or a string helper.
type NativeFunc func(interp *Interp, args []Value) (Value, error)

// Dict is an insertion-ordered string-keyed map, mirroring MindScript's
// MapObject (Entries + Keys) so that iteration order is predictable.
type Dict struct {
	entries map[string]Value
	keys    []string
}

func NewDict() *Dict {
	return &Dict{entries: make(map[string]Value)}
}

func (d *Dict) Get(key string) (Value, bool) {
	v, ok := d.entries[key]
	return v, ok
}

func (d *Dict) Set(key string, v Value) {
	if _, exists := d.entries[key]; !exists {
		d.keys = append(d.keys, key)
	}
	d.entries[key] = v
}

func (d *Dict) Delete(key string) {
	if _, exists := d.entries[key]; !exists {
		return
	}
	delete(d.entries, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

func (d *Dict) Keys() []string {
	return append([]string(nil), d.keys...)
}

func (d *Dict) Len() int { return len(d.keys) }

// Clone deep-copies the dict, used for memory snapshots (spec.md §3's
// memory_before/memory_after).
func (d *Dict) Clone() *Dict {
	out := NewDict()
	for _, k := range d.keys {
		out.Set(k, cloneValue(d.entries[k]))
	}
	return out
}

func cloneValue(v Value) Value {
	switch v.Tag {
	case TagList:
		out := make([]Value, len(v.List))
		for i, item := range v.List {
			out[i] = cloneValue(item)
		}
		return Value{Tag: TagList, List: out}
	case TagDict:
		return Value{Tag: TagDict, Dict: v.Dict.Clone()}
	default:
		return v
	}
}

// Function is a user-defined closure: parameters, body, and the
// environment it closed over.
type Function struct {
	Name   string
	Params []string
	Body   []Stmt
	Env    *Env
}

func Null() Value             { return Value{Tag: TagNull} }
func Bool(b bool) Value       { return Value{Tag: TagBool, Bool: b} }
func Int(n int64) Value       { return Value{Tag: TagInt, Int: n} }
func Float(f float64) Value   { return Value{Tag: TagFloat, Float: f} }
func Str(s string) Value      { return Value{Tag: TagString, Str: s} }
func List(items []Value) Value { return Value{Tag: TagList, List: items} }
func DictVal(d *Dict) Value   { return Value{Tag: TagDict, Dict: d} }
func FuncVal(f *Function) Value { return Value{Tag: TagFunc, Func: f} }
func NativeVal(f NativeFunc) Value { return Value{Tag: TagNative, Native: f} }

func (v Value) IsNull() bool { return v.Tag == TagNull }

func (v Value) Truthy() bool {
	switch v.Tag {
	case TagNull:
		return false
	case TagBool:
		return v.Bool
	case TagInt:
		return v.Int != 0
	case TagFloat:
		return v.Float != 0
	case TagString:
		return v.Str != ""
	case TagList:
		return len(v.List) > 0
	case TagDict:
		return v.Dict.Len() > 0
	default:
		return true
	}
}

// TypeName returns the MSL-visible name of v's type, used in error
// messages and by the str/int/float/bool/list/dict builtins.
func (v Value) TypeName() string {
	switch v.Tag {
	case TagNull:
		return "null"
	case TagBool:
		return "bool"
	case TagInt:
		return "int"
	case TagFloat:
		return "float"
	case TagString:
		return "string"
	case TagList:
		return "list"
	case TagDict:
		return "dict"
	case TagFunc, TagNative:
		return "function"
	default:
		return "unknown"
	}
}

// String renders v the way FINAL(value) stringifies a non-string result
// and the way str() renders any value (spec.md §4.1: "value is
// stringified (if not already a string)").
func (v Value) String() string {
	switch v.Tag {
	case TagNull:
		return "null"
	case TagBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case TagInt:
		return fmt.Sprintf("%d", v.Int)
	case TagFloat:
		return fmt.Sprintf("%g", v.Float)
	case TagString:
		return v.Str
	case TagList:
		parts := make([]string, len(v.List))
		for i, item := range v.List {
			parts[i] = item.reprString()
		}
		return "[" + joinStrings(parts, ", ") + "]"
	case TagDict:
		keys := v.Dict.Keys()
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range v.Dict.Keys() {
			val, _ := v.Dict.Get(k)
			parts = append(parts, fmt.Sprintf("%q: %s", k, val.reprString()))
		}
		return "{" + joinStrings(parts, ", ") + "}"
	case TagFunc:
		return "<function " + v.Func.Name + ">"
	case TagNative:
		return "<native function>"
	default:
		return "<unknown>"
	}
}

// reprString is String() but quotes strings, used inside list/dict
// rendering so "[\"a\", \"b\"]" prints distinguishably from [a, b].
func (v Value) reprString() string {
	if v.Tag == TagString {
		return fmt.Sprintf("%q", v.Str)
	}
	return v.String()
}

func joinStrings(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

// Env is a lexically-scoped variable frame chained to its parent, the
// same shape as MindScript's Env.
type Env struct {
	parent *Env
	vars   map[string]Value
}

func NewEnv(parent *Env) *Env {
	return &Env{parent: parent, vars: make(map[string]Value)}
}

func (e *Env) Get(name string) (Value, bool) {
	for env := e; env != nil; env = env.parent {
		if v, ok := env.vars[name]; ok {
			return v, true
		}
	}
	return Value{}, false
}

// Set assigns name in the nearest enclosing scope that already defines
// it, or in the current scope if no enclosing scope does — ordinary
// lexical assignment semantics, not global-by-default.
func (e *Env) Set(name string, v Value) {
	for env := e; env != nil; env = env.parent {
		if _, ok := env.vars[name]; ok {
			env.vars[name] = v
			return
		}
	}
	e.vars[name] = v
}

// Define binds name in the current scope only, used for function
// parameters and loop variables.
func (e *Env) Define(name string, v Value) {
	e.vars[name] = v
}
