// Package conn is the user-facing handle on one database directory: the
// datom store, the transactor, the query engine and the full-text engine
// behind a single open/close lifecycle.
package conn

import (
	"github.com/rk-forks/datalevin/datalevin"
	"github.com/rk-forks/datalevin/datalevin/edn"
	"github.com/rk-forks/datalevin/datalevin/kv"
	"github.com/rk-forks/datalevin/datalevin/query"
	"github.com/rk-forks/datalevin/datalevin/schema"
	"github.com/rk-forks/datalevin/datalevin/search"
	"github.com/rk-forks/datalevin/datalevin/store"
	"github.com/rk-forks/datalevin/datalevin/transact"
)

// Conn is one open database.
type Conn struct {
	DB     *store.DB
	Search *search.Engine
}

// Open opens the database at dir with the given options and schema. A
// second open of the same directory in this process is an error.
func Open(dir string, opts store.Options, defs []schema.Attribute) (*Conn, error) {
	db, err := store.Open(dir, opts, defs)
	if err != nil {
		return nil, err
	}
	engine, err := search.NewEngine(db.Env(), search.Options{})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Conn{DB: db, Search: engine}, nil
}

// Close releases the database.
func (c *Conn) Close() error {
	return c.DB.Close()
}

// TransactItems applies native tx items.
func (c *Conn) TransactItems(items []interface{}) (*transact.Report, error) {
	return transact.Transact(c.DB, items)
}

// Transact parses EDN tx-data and applies it.
func (c *Conn) Transact(input string) (*transact.Report, error) {
	items, err := ParseTxData(input)
	if err != nil {
		return nil, err
	}
	return transact.Transact(c.DB, items)
}

// Q runs a query with this database bound as the first source; extra
// inputs follow in :in order.
func (c *Conn) Q(input string, extra ...interface{}) (*query.Result, error) {
	inputs := append([]interface{}{c.DB}, extra...)
	return query.Q(input, inputs...)
}

// Entity returns the attribute map of one entity.
func (c *Conn) Entity(eid int64) (map[datalevin.Keyword]datalevin.Value, error) {
	var out map[datalevin.Keyword]datalevin.Value
	err := c.DB.View(func(txn *kv.Txn) error {
		var ierr error
		out, ierr = c.DB.Entity(txn, eid)
		return ierr
	})
	return out, err
}

// ParseTxData converts EDN tx-data (a vector of items) into transactor
// input: vectors become slices, maps become keyword-keyed maps, leaves
// become values.
func ParseTxData(input string) ([]interface{}, error) {
	node, err := edn.Parse(input)
	if err != nil {
		return nil, datalevin.WrapError(datalevin.CodeTransactSyntax, err, "Cannot parse tx-data")
	}
	if node.Type != edn.NodeVector && node.Type != edn.NodeList {
		return nil, datalevin.NewError(datalevin.CodeTransactSyntax,
			"tx-data should be a vector of items")
	}
	items := make([]interface{}, 0, len(node.Nodes))
	for _, n := range node.Nodes {
		item, err := txItemFromNode(n)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func txItemFromNode(n edn.Node) (interface{}, error) {
	switch n.Type {
	case edn.NodeNil:
		return nil, nil
	case edn.NodeMap:
		m := map[datalevin.Keyword]interface{}{}
		for i := 0; i+1 < len(n.Nodes); i += 2 {
			k := n.Nodes[i]
			if k.Type != edn.NodeKeyword {
				return nil, datalevin.NewError(datalevin.CodeTransactSyntax,
					"Entity map keys must be keywords, got "+k.String())
			}
			v, err := txItemFromNode(n.Nodes[i+1])
			if err != nil {
				return nil, err
			}
			m[datalevin.NewKeyword(k.Value)] = v
		}
		return m, nil
	case edn.NodeVector, edn.NodeList:
		out := make([]interface{}, len(n.Nodes))
		for i, child := range n.Nodes {
			v, err := txItemFromNode(child)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	default:
		return edn.ToValue(n)
	}
}
