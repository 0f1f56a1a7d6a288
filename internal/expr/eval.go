package expr

import (
	"errors"
	"fmt"
)

// ErrUnbound is returned when evaluation meets a variable or parameter the
// environment does not define.
var ErrUnbound = errors.New("unbound name")

// Env supplies values to Eval.
type Env interface {
	// Lookup resolves a variable or parameter.
	Lookup(name string) (int64, bool)
	// Load reads a stage or buffer element.
	Load(c *Call, args []int64) (int64, error)
}

// Eval computes the value of e in env.
func Eval(e Expr, env Env) (int64, error) {
	switch n := e.(type) {
	case *Const:
		return n.Value, nil
	case *Var:
		if v, ok := env.Lookup(n.Name); ok {
			return v, nil
		}
		return 0, fmt.Errorf("variable %q: %w", n.Name, ErrUnbound)
	case *Param:
		if v, ok := env.Lookup(n.Name); ok {
			return v, nil
		}
		return 0, fmt.Errorf("parameter %q: %w", n.Name, ErrUnbound)
	case *Binary:
		a, err := Eval(n.A, env)
		if err != nil {
			return 0, err
		}
		// Logical operators short-circuit so guarded loads stay in bounds.
		switch n.Op {
		case OpAnd:
			if a == 0 {
				return 0, nil
			}
		case OpOr:
			if a != 0 {
				return 1, nil
			}
		}
		b, err := Eval(n.B, env)
		if err != nil {
			return 0, err
		}
		return Fold(n.Op, a, b), nil
	case *Not:
		a, err := Eval(n.A, env)
		if err != nil {
			return 0, err
		}
		return boolInt(a == 0), nil
	case *Select:
		c, err := Eval(n.Cond, env)
		if err != nil {
			return 0, err
		}
		if c != 0 {
			return Eval(n.True, env)
		}
		return Eval(n.False, env)
	case *Call:
		args := make([]int64, len(n.Args))
		for i, a := range n.Args {
			v, err := Eval(a, env)
			if err != nil {
				return 0, err
			}
			args[i] = v
		}
		return env.Load(n, args)
	}
	return 0, fmt.Errorf("expr: cannot evaluate %T", e)
}

// MapEnv is an Env over a fixed set of names with no loads.
type MapEnv map[string]int64

// Lookup implements Env.
func (m MapEnv) Lookup(name string) (int64, bool) {
	v, ok := m[name]
	return v, ok
}

// Load implements Env; MapEnv has no storage.
func (m MapEnv) Load(c *Call, _ []int64) (int64, error) {
	return 0, fmt.Errorf("load of %s: %w", c.Name, ErrUnbound)
}
