package minify

import (
	"strings"
	"unicode"
)

type nodeID int

type nodeKind uint8

const (
	elementNode nodeKind = iota
	textNode
)

type attr struct {
	key string
	val string
}

// node lives in a tree's arena and refers to its children by index.
type node struct {
	kind     nodeKind
	tag      string
	text     string
	attrs    []attr
	children []nodeID
}

// tree is an arena of nodes with an ordered list of top-level nodes.
// Passes never mutate a tree; they build the next one.
type tree struct {
	nodes []node
	roots []nodeID
}

func (t *tree) add(n node) nodeID {
	t.nodes = append(t.nodes, n)
	return nodeID(len(t.nodes) - 1)
}

// visitFunc receives a source node and the ids its children were rewritten
// to in dst, and returns the ids that replace the node in dst: none to drop
// it, its children to splice them into the parent, or a new node.
type visitFunc func(src *tree, id nodeID, kids []nodeID, dst *tree) []nodeID

// rewrite walks src in post-order and returns the tree built by visit.
func rewrite(src *tree, visit visitFunc) *tree {
	dst := &tree{nodes: make([]node, 0, len(src.nodes))}

	var walk func(id nodeID) []nodeID
	walk = func(id nodeID) []nodeID {
		var kids []nodeID
		for _, c := range src.nodes[id].children {
			kids = append(kids, walk(c)...)
		}
		return visit(src, id, kids, dst)
	}

	for _, r := range src.roots {
		dst.roots = append(dst.roots, walk(r)...)
	}
	return dst
}

func copyWithChildren(src *tree, id nodeID, kids []nodeID, dst *tree) nodeID {
	n := src.nodes[id]
	n.children = kids
	return dst.add(n)
}

// removeEmpty drops elements that carry no text once their children have
// been processed.
func removeEmpty(src *tree) *tree {
	return rewrite(src, func(src *tree, id nodeID, kids []nodeID, dst *tree) []nodeID {
		n := src.nodes[id]
		if n.kind == textNode {
			return []nodeID{dst.add(n)}
		}
		for _, k := range kids {
			child := dst.nodes[k]
			if child.kind == elementNode || strings.TrimFunc(child.text, unicode.IsSpace) != "" {
				return []nodeID{copyWithChildren(src, id, kids, dst)}
			}
		}
		return nil
	})
}

// collapse replaces elements outside the allow-list with their children
// when they wrap at most one element.
func collapse(src *tree) *tree {
	return rewrite(src, func(src *tree, id nodeID, kids []nodeID, dst *tree) []nodeID {
		n := src.nodes[id]
		if n.kind == textNode || allowed[n.tag] {
			return []nodeID{copyWithChildren(src, id, kids, dst)}
		}
		elements := 0
		for _, k := range kids {
			if dst.nodes[k].kind == elementNode {
				elements++
			}
		}
		if elements <= 1 {
			return kids
		}
		return []nodeID{copyWithChildren(src, id, kids, dst)}
	})
}
