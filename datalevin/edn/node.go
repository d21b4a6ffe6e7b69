package edn

import (
	"strings"
)

// NodeType classifies a parsed form.
type NodeType int

const (
	NodeNil NodeType = iota
	NodeBool
	NodeInt
	NodeFloat
	NodeString
	NodeKeyword
	NodeSymbol
	NodeList
	NodeVector
	NodeMap
	NodeSet
	NodeTagged
)

// Node is one parsed form. Atoms keep their text in Value; collections hold
// their children in Nodes. A tagged literal stores the tag name (without
// '#') in Value and the tagged form as its single child.
type Node struct {
	Type  NodeType
	Value string
	Nodes []Node
	Line  int
	Col   int
}

// IsColl reports whether the node is a list, vector, map or set.
func (n Node) IsColl() bool {
	switch n.Type {
	case NodeList, NodeVector, NodeMap, NodeSet:
		return true
	}
	return false
}

// IsSymbol reports whether the node is the named symbol.
func (n Node) IsSymbol(name string) bool {
	return n.Type == NodeSymbol && n.Value == name
}

// IsKeyword reports whether the node is the named keyword (without colon).
func (n Node) IsKeyword(name string) bool {
	return n.Type == NodeKeyword && strings.TrimPrefix(n.Value, ":") == name
}

// String renders the node back to EDN text.
func (n Node) String() string {
	var b strings.Builder
	n.writeTo(&b)
	return b.String()
}

var stringEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\t", `\t`)

func (n Node) writeTo(b *strings.Builder) {
	switch n.Type {
	case NodeNil:
		b.WriteString("nil")
	case NodeString:
		b.WriteByte('"')
		stringEscaper.WriteString(b, n.Value)
		b.WriteByte('"')
	case NodeList:
		n.writeColl(b, "(", ")")
	case NodeVector:
		n.writeColl(b, "[", "]")
	case NodeMap:
		n.writeColl(b, "{", "}")
	case NodeSet:
		n.writeColl(b, "#{", "}")
	case NodeTagged:
		b.WriteByte('#')
		b.WriteString(n.Value)
		if len(n.Nodes) > 0 {
			b.WriteByte(' ')
			n.Nodes[0].writeTo(b)
		}
	default:
		b.WriteString(n.Value)
	}
}

func (n Node) writeColl(b *strings.Builder, open, closer string) {
	b.WriteString(open)
	for i, child := range n.Nodes {
		if i > 0 {
			b.WriteByte(' ')
		}
		child.writeTo(b)
	}
	b.WriteString(closer)
}
