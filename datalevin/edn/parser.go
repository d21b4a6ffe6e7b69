// Package edn reads the EDN subset that forms this database's surface
// syntax: queries, tx-data and schema literals.
package edn

import (
	"fmt"
)

// atomNodes maps atom token kinds straight to node types.
var atomNodes = map[TokenKind]NodeType{
	TokNil:     NodeNil,
	TokBool:    NodeBool,
	TokInt:     NodeInt,
	TokFloat:   NodeFloat,
	TokString:  NodeString,
	TokKeyword: NodeKeyword,
	TokSymbol:  NodeSymbol,
}

// Parse reads a single form from input.
func Parse(input string) (*Node, error) {
	l := NewLexer(input)
	n, err := readForm(l)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fmt.Errorf("no form in input")
	}
	return n, nil
}

// ParseAll reads all forms until EOF.
func ParseAll(input string) ([]Node, error) {
	l := NewLexer(input)
	var nodes []Node
	for {
		tok, err := l.Peek()
		if err != nil {
			return nil, err
		}
		if tok.Kind == TokEOF {
			return nodes, nil
		}
		n, err := readForm(l)
		if err != nil {
			return nil, err
		}
		if n != nil { // discarded forms read as nil
			nodes = append(nodes, *n)
		}
	}
}

// readForm reads one form, returning nil for a discarded (#_) form.
func readForm(l *Lexer) (*Node, error) {
	tok, err := l.Next()
	if err != nil {
		return nil, err
	}
	if nt, ok := atomNodes[tok.Kind]; ok {
		return &Node{Type: nt, Value: tok.Text, Line: tok.Line, Col: tok.Col}, nil
	}
	switch tok.Kind {
	case TokEOF:
		return nil, fmt.Errorf("unexpected EOF at %d:%d", tok.Line, tok.Col)
	case TokOpenList:
		return readColl(l, tok, NodeList, TokCloseList)
	case TokOpenVector:
		return readColl(l, tok, NodeVector, TokCloseVector)
	case TokOpenMap:
		n, err := readColl(l, tok, NodeMap, TokCloseBrace)
		if err != nil {
			return nil, err
		}
		if len(n.Nodes)%2 != 0 {
			return nil, fmt.Errorf("map at %d:%d needs an even number of forms", tok.Line, tok.Col)
		}
		return n, nil
	case TokOpenSet:
		return readColl(l, tok, NodeSet, TokCloseBrace)
	case TokDiscard:
		if _, err := requireForm(l, tok); err != nil {
			return nil, err
		}
		return nil, nil
	case TokTag:
		inner, err := requireForm(l, tok)
		if err != nil {
			return nil, err
		}
		return &Node{Type: NodeTagged, Value: tok.Text, Nodes: []Node{*inner}, Line: tok.Line, Col: tok.Col}, nil
	}
	return nil, fmt.Errorf("unexpected token at %d:%d", tok.Line, tok.Col)
}

// requireForm reads the next form, rejecting EOF and discards; used where a
// form is mandatory (after a tag or a discard marker).
func requireForm(l *Lexer, at Token) (*Node, error) {
	n, err := readForm(l)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fmt.Errorf("missing form after %d:%d", at.Line, at.Col)
	}
	return n, nil
}

// readColl accumulates children until the closing token.
func readColl(l *Lexer, open Token, nt NodeType, closer TokenKind) (*Node, error) {
	node := &Node{Type: nt, Line: open.Line, Col: open.Col}
	for {
		tok, err := l.Peek()
		if err != nil {
			return nil, err
		}
		switch tok.Kind {
		case closer:
			l.Next()
			return node, nil
		case TokEOF:
			return nil, fmt.Errorf("unclosed collection opened at %d:%d", open.Line, open.Col)
		}
		child, err := readForm(l)
		if err != nil {
			return nil, err
		}
		if child != nil {
			node.Nodes = append(node.Nodes, *child)
		}
	}
}
