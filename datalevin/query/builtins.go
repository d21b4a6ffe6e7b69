package query

import (
	"fmt"
	"strings"

	"github.com/rk-forks/datalevin/datalevin"
)

// PredFn filters rows; FuncFn computes a bindable value.
type PredFn func(args []datalevin.Value) (bool, error)
type FuncFn func(args []datalevin.Value) (datalevin.Value, error)

// TextSearcher is implemented by the full-text engine, letting the
// fulltext built-in bridge ranked search results into a query relation.
type TextSearcher interface {
	SearchTuples(query string) ([]datalevin.Tuple, error)
}

func arity(args []datalevin.Value, n int, fn string) error {
	if len(args) != n {
		return syntaxErr("%s expects %d arguments, got %d", fn, n, len(args))
	}
	return nil
}

func cmpPred(want func(int) bool) PredFn {
	return func(args []datalevin.Value) (bool, error) {
		for i := 0; i+1 < len(args); i++ {
			if !want(datalevin.CompareValues(args[i], args[i+1])) {
				return false, nil
			}
		}
		return true, nil
	}
}

var builtinPredicates = map[string]PredFn{
	"=":  cmpPred(func(c int) bool { return c == 0 }),
	"==": cmpPred(func(c int) bool { return c == 0 }),
	"!=": cmpPred(func(c int) bool { return c != 0 }),
	"<":  cmpPred(func(c int) bool { return c < 0 }),
	"<=": cmpPred(func(c int) bool { return c <= 0 }),
	">":  cmpPred(func(c int) bool { return c > 0 }),
	">=": cmpPred(func(c int) bool { return c >= 0 }),
	"even?": func(args []datalevin.Value) (bool, error) {
		if err := arity(args, 1, "even?"); err != nil {
			return false, err
		}
		n, ok := asEID(args[0])
		if !ok {
			return false, syntaxErr("even? expects an integer, got %v", args[0])
		}
		return n%2 == 0, nil
	},
	"odd?": func(args []datalevin.Value) (bool, error) {
		if err := arity(args, 1, "odd?"); err != nil {
			return false, err
		}
		n, ok := asEID(args[0])
		if !ok {
			return false, syntaxErr("odd? expects an integer, got %v", args[0])
		}
		return n%2 != 0, nil
	},
	"nil?": func(args []datalevin.Value) (bool, error) {
		if err := arity(args, 1, "nil?"); err != nil {
			return false, err
		}
		return args[0] == nil, nil
	},
	"some?": func(args []datalevin.Value) (bool, error) {
		if err := arity(args, 1, "some?"); err != nil {
			return false, err
		}
		return args[0] != nil, nil
	},
	"starts-with?": func(args []datalevin.Value) (bool, error) {
		if err := arity(args, 2, "starts-with?"); err != nil {
			return false, err
		}
		s, ok1 := args[0].(string)
		p, ok2 := args[1].(string)
		return ok1 && ok2 && strings.HasPrefix(s, p), nil
	},
	"ends-with?": func(args []datalevin.Value) (bool, error) {
		if err := arity(args, 2, "ends-with?"); err != nil {
			return false, err
		}
		s, ok1 := args[0].(string)
		p, ok2 := args[1].(string)
		return ok1 && ok2 && strings.HasSuffix(s, p), nil
	},
	"includes?": func(args []datalevin.Value) (bool, error) {
		if err := arity(args, 2, "includes?"); err != nil {
			return false, err
		}
		s, ok1 := args[0].(string)
		p, ok2 := args[1].(string)
		return ok1 && ok2 && strings.Contains(s, p), nil
	},
}

func numericFold(name string, f func(a, b float64) float64, g func(a, b int64) int64) FuncFn {
	return func(args []datalevin.Value) (datalevin.Value, error) {
		if len(args) == 0 {
			return nil, syntaxErr("%s expects at least one argument", name)
		}
		allInt := true
		for _, a := range args {
			if _, ok := asEID(a); !ok {
				allInt = false
				break
			}
		}
		if allInt {
			acc, _ := asEID(args[0])
			for _, a := range args[1:] {
				n, _ := asEID(a)
				acc = g(acc, n)
			}
			return acc, nil
		}
		acc, ok := asFloat(args[0])
		if !ok {
			return nil, syntaxErr("%s expects numbers, got %v", name, args[0])
		}
		for _, a := range args[1:] {
			n, ok := asFloat(a)
			if !ok {
				return nil, syntaxErr("%s expects numbers, got %v", name, a)
			}
			acc = f(acc, n)
		}
		return acc, nil
	}
}

func asFloat(v datalevin.Value) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case datalevin.EID:
		return float64(n), true
	}
	return 0, false
}

var builtinFunctions = map[string]FuncFn{
	"+": numericFold("+", func(a, b float64) float64 { return a + b }, func(a, b int64) int64 { return a + b }),
	"-": numericFold("-", func(a, b float64) float64 { return a - b }, func(a, b int64) int64 { return a - b }),
	"*": numericFold("*", func(a, b float64) float64 { return a * b }, func(a, b int64) int64 { return a * b }),
	"/": func(args []datalevin.Value) (datalevin.Value, error) {
		if err := arity(args, 2, "/"); err != nil {
			return nil, err
		}
		a, ok1 := asFloat(args[0])
		b, ok2 := asFloat(args[1])
		if !ok1 || !ok2 {
			return nil, syntaxErr("/ expects numbers")
		}
		if b == 0 {
			return nil, syntaxErr("Division by zero")
		}
		if ai, ok := asEID(args[0]); ok {
			if bi, ok2 := asEID(args[1]); ok2 && ai%bi == 0 {
				return ai / bi, nil
			}
		}
		return a / b, nil
	},
	"str": func(args []datalevin.Value) (datalevin.Value, error) {
		var sb strings.Builder
		for _, a := range args {
			if a == nil {
				continue
			}
			sb.WriteString(fmt.Sprintf("%v", a))
		}
		return sb.String(), nil
	},
	"count": func(args []datalevin.Value) (datalevin.Value, error) {
		if err := arity(args, 1, "count"); err != nil {
			return nil, err
		}
		switch c := args[0].(type) {
		case string:
			return int64(len(c)), nil
		case datalevin.Tuple:
			return int64(len(c)), nil
		}
		return nil, syntaxErr("count expects a string or collection, got %v", args[0])
	},
	"ground": func(args []datalevin.Value) (datalevin.Value, error) {
		if err := arity(args, 1, "ground"); err != nil {
			return nil, err
		}
		return args[0], nil
	},
	// tuple packs its arguments into a tuple value; untuple unpacks one.
	"tuple": func(args []datalevin.Value) (datalevin.Value, error) {
		return datalevin.Tuple(append([]datalevin.Value{}, args...)), nil
	},
	"untuple": func(args []datalevin.Value) (datalevin.Value, error) {
		if err := arity(args, 1, "untuple"); err != nil {
			return nil, err
		}
		t, ok := args[0].(datalevin.Tuple)
		if !ok {
			return nil, syntaxErr("untuple expects a tuple, got %v", args[0])
		}
		return t, nil
	},
	"get-else": func(args []datalevin.Value) (datalevin.Value, error) {
		if err := arity(args, 2, "get-else"); err != nil {
			return nil, err
		}
		if args[0] == nil {
			return args[1], nil
		}
		return args[0], nil
	},
	"fulltext": func(args []datalevin.Value) (datalevin.Value, error) {
		if err := arity(args, 2, "fulltext"); err != nil {
			return nil, err
		}
		engine, ok := args[0].(TextSearcher)
		if !ok {
			return nil, syntaxErr("fulltext expects a search engine as first argument")
		}
		q, ok := args[1].(string)
		if !ok {
			return nil, syntaxErr("fulltext expects a query string")
		}
		rows, err := engine.SearchTuples(q)
		if err != nil {
			return nil, err
		}
		out := make(datalevin.Tuple, len(rows))
		for i, r := range rows {
			out[i] = r
		}
		return out, nil
	},
}

// RegisterPredicate installs a custom predicate under name.
func RegisterPredicate(name string, fn PredFn) { builtinPredicates[name] = fn }

// RegisterFunction installs a custom function under name.
func RegisterFunction(name string, fn FuncFn) { builtinFunctions[name] = fn }
