// Package parse turns Java source into an owned syntax tree using the
// tree-sitter Java grammar.
package parse

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
)

// Point is a zero-based row/column position.
type Point struct {
	Row    uint32
	Column uint32
}

// Node is a syntax tree node copied out of tree-sitter, so it stays valid
// after the tree-sitter tree is released.
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	HasError   bool
	Children   []*Node
}

// Tree is a parsed source file.
type Tree struct {
	Root   *Node
	Source []byte
}

// Parser wraps a tree-sitter parser configured for Java.
// A Parser is not safe for concurrent use; create one per goroutine.
type Parser struct {
	parser *sitter.Parser
}

// NewParser creates a Java parser.
func NewParser() *Parser {
	p := sitter.NewParser()
	p.SetLanguage(java.GetLanguage())
	return &Parser{parser: p}
}

// Parse parses Java source. Syntax errors do not fail the parse; they are
// marked with HasError on the affected nodes.
func (p *Parser) Parse(ctx context.Context, source []byte) (*Tree, error) {
	tsTree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse source: %w", err)
	}
	if tsTree == nil {
		return nil, fmt.Errorf("failed to parse source: nil tree")
	}
	defer tsTree.Close()

	return &Tree{
		Root:   convertNode(tsTree.RootNode()),
		Source: source,
	}, nil
}

// Close releases parser resources.
func (p *Parser) Close() {
	if p.parser != nil {
		p.parser.Close()
	}
}

func convertNode(tsNode *sitter.Node) *Node {
	if tsNode == nil {
		return nil
	}

	node := &Node{
		Type:      tsNode.Type(),
		StartByte: tsNode.StartByte(),
		EndByte:   tsNode.EndByte(),
		StartPoint: Point{
			Row:    tsNode.StartPoint().Row,
			Column: tsNode.StartPoint().Column,
		},
		HasError: tsNode.HasError(),
		Children: make([]*Node, 0, int(tsNode.ChildCount())),
	}
	for i := 0; i < int(tsNode.ChildCount()); i++ {
		if child := tsNode.Child(i); child != nil {
			node.Children = append(node.Children, convertNode(child))
		}
	}
	return node
}

// Content returns the source text covered by the node.
func (n *Node) Content(source []byte) string {
	if n.StartByte >= n.EndByte || int(n.EndByte) > len(source) {
		return ""
	}
	return string(source[n.StartByte:n.EndByte])
}

// FindChildByType finds the first direct child with the given type.
func (n *Node) FindChildByType(nodeType string) *Node {
	for _, child := range n.Children {
		if child.Type == nodeType {
			return child
		}
	}
	return nil
}

// Walk traverses the tree depth-first; returning false skips a subtree.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, child := range n.Children {
		child.Walk(fn)
	}
}
