package policy

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Expr is a node of a transition guard expression.
// Guards are declared in service configuration as JSON-logic style documents:
//
//	{"and": [{"==": [{"var": "documents.verified"}, true]}, {"!=": [{"var": "fee.status"}, "PENDING"]}]}
type Expr interface {
	eval(vars map[string]interface{}) (interface{}, error)
}

// Var resolves a dotted path in the evaluation context.
type Var struct {
	Path    string
	Default interface{}
}

// Literal is a constant value.
type Literal struct {
	Value interface{}
}

// Eq compares two operands for equality.
type Eq struct {
	Left, Right Expr
}

// NotEq is the negation of Eq.
type NotEq struct {
	Left, Right Expr
}

// And is true when every operand is truthy. An empty And is true.
type And struct {
	Args []Expr
}

// Or is true when any operand is truthy. An empty Or is false.
type Or struct {
	Args []Expr
}

// Not negates the truthiness of its operand.
type Not struct {
	Arg Expr
}

func (v Var) eval(vars map[string]interface{}) (interface{}, error) {
	if v.Path == "" {
		return vars, nil
	}
	var cur interface{} = vars
	for _, part := range strings.Split(v.Path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return v.Default, nil
		}
		next, found := m[part]
		if !found {
			return v.Default, nil
		}
		cur = next
	}
	if cur == nil {
		return v.Default, nil
	}
	return cur, nil
}

func (l Literal) eval(map[string]interface{}) (interface{}, error) {
	return l.Value, nil
}

func (e Eq) eval(vars map[string]interface{}) (interface{}, error) {
	l, r, err := evalPair(e.Left, e.Right, vars)
	if err != nil {
		return nil, err
	}
	return looseEqual(l, r), nil
}

func (e NotEq) eval(vars map[string]interface{}) (interface{}, error) {
	l, r, err := evalPair(e.Left, e.Right, vars)
	if err != nil {
		return nil, err
	}
	return !looseEqual(l, r), nil
}

func (a And) eval(vars map[string]interface{}) (interface{}, error) {
	for _, arg := range a.Args {
		v, err := arg.eval(vars)
		if err != nil {
			return nil, err
		}
		if !truthy(v) {
			return false, nil
		}
	}
	return true, nil
}

func (o Or) eval(vars map[string]interface{}) (interface{}, error) {
	for _, arg := range o.Args {
		v, err := arg.eval(vars)
		if err != nil {
			return nil, err
		}
		if truthy(v) {
			return true, nil
		}
	}
	return false, nil
}

func (n Not) eval(vars map[string]interface{}) (interface{}, error) {
	v, err := n.Arg.eval(vars)
	if err != nil {
		return nil, err
	}
	return !truthy(v), nil
}

// Evaluate runs expr against vars and reports whether the result is truthy.
// A nil expression always passes.
func Evaluate(expr Expr, vars map[string]interface{}) (bool, error) {
	if expr == nil {
		return true, nil
	}
	if vars == nil {
		vars = map[string]interface{}{}
	}
	v, err := expr.eval(vars)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// ParseJSON decodes a guard document from raw JSON.
func ParseJSON(raw []byte) (Expr, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode guard: %w", err)
	}
	return Parse(doc)
}

// Parse builds an expression tree from a decoded JSON or YAML document.
// A nil document yields a nil expression.
func Parse(doc interface{}) (Expr, error) {
	if doc == nil {
		return nil, nil
	}
	return parseNode(doc)
}

func parseNode(node interface{}) (Expr, error) {
	m, ok := asMap(node)
	if !ok {
		switch node.(type) {
		case []interface{}:
			return nil, fmt.Errorf("guard: bare array is not an expression")
		}
		return Literal{Value: node}, nil
	}
	if len(m) != 1 {
		return nil, fmt.Errorf("guard: operator object must have exactly one key, got %d", len(m))
	}

	for op, rawArgs := range m {
		switch op {
		case "var":
			return parseVar(rawArgs)
		case "==", "!=":
			args, err := parseArgs(rawArgs)
			if err != nil {
				return nil, err
			}
			if len(args) != 2 {
				return nil, fmt.Errorf("guard: %q takes 2 operands, got %d", op, len(args))
			}
			if op == "==" {
				return Eq{Left: args[0], Right: args[1]}, nil
			}
			return NotEq{Left: args[0], Right: args[1]}, nil
		case "and":
			args, err := parseArgs(rawArgs)
			if err != nil {
				return nil, err
			}
			return And{Args: args}, nil
		case "or":
			args, err := parseArgs(rawArgs)
			if err != nil {
				return nil, err
			}
			return Or{Args: args}, nil
		case "!", "not":
			args, err := parseArgs(rawArgs)
			if err != nil {
				return nil, err
			}
			if len(args) != 1 {
				return nil, fmt.Errorf("guard: %q takes 1 operand, got %d", op, len(args))
			}
			return Not{Arg: args[0]}, nil
		default:
			return nil, fmt.Errorf("guard: unsupported operator %q", op)
		}
	}
	return nil, nil // unreachable
}

func parseVar(raw interface{}) (Expr, error) {
	switch v := raw.(type) {
	case string:
		return Var{Path: v}, nil
	case []interface{}:
		if len(v) == 0 || len(v) > 2 {
			return nil, fmt.Errorf("guard: var takes a path and an optional default")
		}
		path, ok := v[0].(string)
		if !ok {
			return nil, fmt.Errorf("guard: var path must be a string")
		}
		out := Var{Path: path}
		if len(v) == 2 {
			out.Default = v[1]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("guard: var path must be a string")
	}
}

// parseArgs accepts either an operand list or a single operand.
func parseArgs(raw interface{}) ([]Expr, error) {
	list, ok := raw.([]interface{})
	if !ok {
		list = []interface{}{raw}
	}
	out := make([]Expr, 0, len(list))
	for _, item := range list {
		e, err := parseNode(item)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func evalPair(left, right Expr, vars map[string]interface{}) (interface{}, interface{}, error) {
	l, err := left.eval(vars)
	if err != nil {
		return nil, nil, err
	}
	r, err := right.eval(vars)
	if err != nil {
		return nil, nil, err
	}
	return l, r, nil
}

// asMap accepts both JSON (map[string]interface{}) and YAML-decoded maps.
func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// looseEqual compares scalars, treating all numeric types as one.
func looseEqual(a, b interface{}) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

func truthy(v interface{}) bool {
	if f, ok := toFloat(v); ok {
		return f != 0 && !math.IsNaN(f)
	}
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []interface{}:
		return len(t) > 0
	}
	return true
}
