package edn

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rk-forks/datalevin/datalevin"
)

// ToValue converts a parsed node into a runtime value. Symbols convert to
// datalevin.Symbol; vectors and lists to Tuple; tagged #uuid and #inst
// literals to their native types.
func ToValue(n Node) (datalevin.Value, error) {
	switch n.Type {
	case NodeNil:
		return nil, nil
	case NodeBool:
		return n.Value == "true", nil
	case NodeInt:
		i, err := strconv.ParseInt(n.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q at %d:%d", n.Value, n.Line, n.Col)
		}
		return i, nil
	case NodeFloat:
		f, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float %q at %d:%d", n.Value, n.Line, n.Col)
		}
		return f, nil
	case NodeString:
		return n.Value, nil
	case NodeKeyword:
		return datalevin.NewKeyword(n.Value), nil
	case NodeSymbol:
		return datalevin.Symbol(n.Value), nil
	case NodeVector, NodeList:
		t := make(datalevin.Tuple, 0, len(n.Nodes))
		for _, child := range n.Nodes {
			v, err := ToValue(child)
			if err != nil {
				return nil, err
			}
			t = append(t, v)
		}
		return t, nil
	case NodeTagged:
		return taggedValue(n)
	}
	return nil, fmt.Errorf("cannot convert %s at %d:%d to a value", n.String(), n.Line, n.Col)
}

func taggedValue(n Node) (datalevin.Value, error) {
	if len(n.Nodes) == 0 {
		return nil, fmt.Errorf("tag #%s without a form at %d:%d", n.Value, n.Line, n.Col)
	}
	form := n.Nodes[0]
	switch n.Value {
	case "uuid":
		u, err := uuid.Parse(form.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid #uuid %q at %d:%d", form.Value, n.Line, n.Col)
		}
		return u, nil
	case "inst":
		t, err := time.Parse(time.RFC3339, form.Value)
		if err != nil {
			t, err = time.Parse("2006-01-02", form.Value)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid #inst %q at %d:%d", form.Value, n.Line, n.Col)
		}
		return t.UTC().Truncate(time.Millisecond), nil
	}
	return nil, fmt.Errorf("unknown tag #%s at %d:%d", n.Value, n.Line, n.Col)
}
