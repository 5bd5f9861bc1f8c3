package sandbox

import (
	"context"
	"fmt"

	"github.com/rlmrun/rlmrun/internal/orcherr"
)

// Outcome is exactly one of Final, Error, or Timeout, per spec.md §4.1.
type Outcome struct {
	Final   string
	Err     *orcherr.Error
	Timeout bool
}

// Interp holds the state of one program execution: its global
// environment (which binds the llm_query callback) and the context whose
// deadline bounds the run.
type Interp struct {
	Global *Env
	ctx    context.Context
}

// returnSignal unwinds evaluation back to the nearest enclosing
// user-function call. It is never visible outside this package: CallExpr
// evaluation for user functions catches it and converts it back into an
// ordinary Value.
type returnSignal struct{ value Value }

func (returnSignal) Error() string { return "return" }

// finalSignal unwinds evaluation all the way back to Eval, implementing
// FINAL's "terminates execution" semantics (spec.md §4.1) by riding the
// same error-propagation path every other native-call failure already
// uses — no special-casing of loops, ifs, or call frames is needed.
type finalSignal struct{ value Value }

func (finalSignal) Error() string { return "final" }

// timeoutSignal is raised when the deadline is found to have expired at
// a statement or loop-iteration boundary.
type timeoutSignal struct{}

func (timeoutSignal) Error() string { return "timeout" }

// Eval parses and runs src to completion, returning exactly one Outcome
// per spec.md §4.1. contextVal and memory are bound as the `context` and
// `memory` globals; llmQuery services the llm_query primitive.
func Eval(ctx context.Context, src string, contextVal string, memory *Dict, llmQuery NativeFunc) (Outcome, *Dict) {
	program, err := Parse(src)
	if err != nil {
		return Outcome{Err: orcherr.New(orcherr.ProgramRuntimeError, err.Error())}, memory
	}

	global := newGlobalEnv(contextVal, memory, llmQuery)
	interp := &Interp{Global: global, ctx: ctx}

	runErr := interp.evalBlock(global, program.Stmts)

	memAfter := memory
	if v, ok := global.Get("memory"); ok && v.Tag == TagDict {
		memAfter = v.Dict
	}

	switch e := runErr.(type) {
	case nil:
		return Outcome{Err: orcherr.New(orcherr.NoFinal, "program terminated without FINAL")}, memAfter
	case finalSignal:
		return Outcome{Final: e.value.String()}, memAfter
	case returnSignal:
		return Outcome{Err: orcherr.New(orcherr.NoFinal, "program terminated without FINAL")}, memAfter
	case timeoutSignal:
		return Outcome{Timeout: true}, memAfter
	case *orcherr.Error:
		return Outcome{Err: e}, memAfter
	default:
		return Outcome{Err: orcherr.Wrap(orcherr.ProgramRuntimeError, runErr.Error(), runErr)}, memAfter
	}
}

func (in *Interp) checkDeadline() error {
	if in.ctx != nil {
		select {
		case <-in.ctx.Done():
			return timeoutSignal{}
		default:
		}
	}
	return nil
}

func (in *Interp) evalBlock(env *Env, stmts []Stmt) error {
	for _, stmt := range stmts {
		if err := in.checkDeadline(); err != nil {
			return err
		}
		if err := in.evalStmt(env, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (in *Interp) evalStmt(env *Env, stmt Stmt) error {
	switch s := stmt.(type) {
	case AssignStmt:
		val, err := in.evalExpr(env, s.Value)
		if err != nil {
			return err
		}
		return in.assign(env, s.Target, val)

	case FuncDefStmt:
		fn := &Function{Name: s.Name, Params: s.Params, Body: s.Body, Env: env}
		env.Define(s.Name, FuncVal(fn))
		return nil

	case IfStmt:
		cond, err := in.evalExpr(env, s.Cond)
		if err != nil {
			return err
		}
		if cond.Truthy() {
			return in.evalBlock(NewEnv(env), s.Then)
		}
		if s.Else != nil {
			return in.evalBlock(NewEnv(env), s.Else)
		}
		return nil

	case ForStmt:
		return in.evalFor(env, s)

	case ReturnStmt:
		if s.Value == nil {
			return returnSignal{value: Null()}
		}
		val, err := in.evalExpr(env, s.Value)
		if err != nil {
			return err
		}
		return returnSignal{value: val}

	case ExprStmt:
		_, err := in.evalExpr(env, s.Value)
		return err

	default:
		return orcherr.New(orcherr.ProgramRuntimeError, fmt.Sprintf("unknown statement type %T", s))
	}
}

func (in *Interp) assign(env *Env, target Expr, val Value) error {
	switch t := target.(type) {
	case Ident:
		env.Set(t.Name, val)
		return nil
	case IndexExpr:
		coll, err := in.evalExpr(env, t.Collection)
		if err != nil {
			return err
		}
		idx, err := in.evalExpr(env, t.Index)
		if err != nil {
			return err
		}
		return assignIndex(coll, idx, val)
	default:
		return orcherr.New(orcherr.ProgramRuntimeError, "invalid assignment target")
	}
}

func assignIndex(coll, idx, val Value) error {
	switch coll.Tag {
	case TagList:
		i, err := indexAsInt(idx, len(coll.List))
		if err != nil {
			return err
		}
		coll.List[i] = val
		return nil
	case TagDict:
		if idx.Tag != TagString {
			return orcherr.New(orcherr.ProgramRuntimeError, "dict keys must be strings")
		}
		coll.Dict.Set(idx.Str, val)
		return nil
	default:
		return orcherr.New(orcherr.ProgramRuntimeError, fmt.Sprintf("cannot index assign into %s", coll.TypeName()))
	}
}

func (in *Interp) evalFor(env *Env, s ForStmt) error {
	iterVal, err := in.evalExpr(env, s.Iter)
	if err != nil {
		return err
	}

	items, err := iterableItems(iterVal)
	if err != nil {
		return err
	}

	for _, item := range items {
		if err := in.checkDeadline(); err != nil {
			return err
		}
		loopEnv := NewEnv(env)
		if len(s.Vars) == 2 {
			if item.Tag != TagList || len(item.List) != 2 {
				return orcherr.New(orcherr.ProgramRuntimeError, "for k, v in ... requires pairs")
			}
			loopEnv.Define(s.Vars[0], item.List[0])
			loopEnv.Define(s.Vars[1], item.List[1])
		} else {
			loopEnv.Define(s.Var, item)
		}
		if err := in.evalBlock(loopEnv, s.Body); err != nil {
			return err
		}
	}
	return nil
}

func iterableItems(v Value) ([]Value, error) {
	switch v.Tag {
	case TagList:
		return v.List, nil
	case TagString:
		out := make([]Value, 0, len(v.Str))
		for _, r := range v.Str {
			out = append(out, Str(string(r)))
		}
		return out, nil
	case TagDict:
		out := make([]Value, 0, v.Dict.Len())
		for _, k := range v.Dict.Keys() {
			out = append(out, Str(k))
		}
		return out, nil
	default:
		return nil, orcherr.New(orcherr.ProgramRuntimeError, fmt.Sprintf("cannot iterate over %s", v.TypeName()))
	}
}

func (in *Interp) evalExpr(env *Env, expr Expr) (Value, error) {
	switch e := expr.(type) {
	case NullLit:
		return Null(), nil
	case BoolLit:
		return Bool(e.Value), nil
	case IntLit:
		return Int(e.Value), nil
	case FloatLit:
		return Float(e.Value), nil
	case StringLit:
		return Str(e.Value), nil

	case Ident:
		v, ok := env.Get(e.Name)
		if !ok {
			return Value{}, orcherr.Named(orcherr.SandboxViolation, "reference to undefined or disallowed name", e.Name)
		}
		return v, nil

	case ListLit:
		items := make([]Value, len(e.Items))
		for i, it := range e.Items {
			v, err := in.evalExpr(env, it)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return List(items), nil

	case DictLit:
		d := NewDict()
		for _, entry := range e.Entries {
			k, err := in.evalExpr(env, entry.Key)
			if err != nil {
				return Value{}, err
			}
			if k.Tag != TagString {
				return Value{}, orcherr.New(orcherr.ProgramRuntimeError, "dict keys must be strings")
			}
			v, err := in.evalExpr(env, entry.Value)
			if err != nil {
				return Value{}, err
			}
			d.Set(k.Str, v)
		}
		return DictVal(d), nil

	case UnaryExpr:
		return in.evalUnary(env, e)

	case BinaryExpr:
		return in.evalBinary(env, e)

	case IndexExpr:
		coll, err := in.evalExpr(env, e.Collection)
		if err != nil {
			return Value{}, err
		}
		idx, err := in.evalExpr(env, e.Index)
		if err != nil {
			return Value{}, err
		}
		return evalIndex(coll, idx)

	case SliceExpr:
		return in.evalSlice(env, e)

	case CallExpr:
		return in.evalCall(env, e)

	default:
		return Value{}, orcherr.New(orcherr.ProgramRuntimeError, fmt.Sprintf("unknown expression type %T", e))
	}
}

func (in *Interp) evalUnary(env *Env, e UnaryExpr) (Value, error) {
	v, err := in.evalExpr(env, e.Operand)
	if err != nil {
		return Value{}, err
	}
	switch e.Op {
	case "not":
		return Bool(!v.Truthy()), nil
	case "-":
		switch v.Tag {
		case TagInt:
			return Int(-v.Int), nil
		case TagFloat:
			return Float(-v.Float), nil
		default:
			return Value{}, orcherr.New(orcherr.ProgramRuntimeError, fmt.Sprintf("cannot negate %s", v.TypeName()))
		}
	default:
		return Value{}, orcherr.New(orcherr.ProgramRuntimeError, fmt.Sprintf("unknown unary operator %q", e.Op))
	}
}

func (in *Interp) evalCall(env *Env, e CallExpr) (Value, error) {
	ident, isIdent := e.Callee.(Ident)
	if !isIdent {
		return Value{}, orcherr.New(orcherr.ProgramRuntimeError, "only direct calls to named functions are supported")
	}
	callee, ok := env.Get(ident.Name)
	if !ok {
		return Value{}, orcherr.Named(orcherr.SandboxViolation, "call to undefined or disallowed name", ident.Name)
	}

	args := make([]Value, len(e.Args))
	for i, a := range e.Args {
		v, err := in.evalExpr(env, a)
		if err != nil {
			return Value{}, err
		}
		args[i] = v
	}

	switch callee.Tag {
	case TagNative:
		return callee.Native(in, args)
	case TagFunc:
		return in.callFunction(callee.Func, args)
	default:
		return Value{}, orcherr.New(orcherr.ProgramRuntimeError, fmt.Sprintf("%q is not callable", ident.Name))
	}
}

func (in *Interp) callFunction(fn *Function, args []Value) (Value, error) {
	callEnv := NewEnv(fn.Env)
	for i, param := range fn.Params {
		var v Value
		if i < len(args) {
			v = args[i]
		} else {
			v = Null()
		}
		callEnv.Define(param, v)
	}

	err := in.evalBlock(callEnv, fn.Body)
	if err == nil {
		return Null(), nil
	}
	if rs, ok := err.(returnSignal); ok {
		return rs.value, nil
	}
	return Value{}, err
}
