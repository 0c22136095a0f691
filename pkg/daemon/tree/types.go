// Package tree provides types for hierarchical directory/file tree display
// built from flat index entries.
package tree

import "time"

// Node represents a directory or file in the tree.
type Node struct {
	// Identity
	Path    string `json:"path"`
	RelPath string `json:"rel_path"`
	Name    string `json:"name"`

	// Type
	IsDir bool `json:"is_dir"`

	// For files
	Size     int64     `json:"size,omitempty"`
	ModTime  time.Time `json:"mod_time,omitempty"`
	FileType string    `json:"file_type,omitempty"`

	// For directories - aggregates of the files underneath
	TotalSize int64 `json:"total_size,omitempty"`
	FileCount int   `json:"file_count,omitempty"`

	// Tree structure
	Children []*Node `json:"children,omitempty"`
	Parent   *Node   `json:"-"` // Exclude from JSON to avoid cycles
}

// AddChild adds a child node and sets this node as the child's parent.
func (n *Node) AddChild(child *Node) {
	child.Parent = n
	n.Children = append(n.Children, child)
}

// IsLeaf returns true if the node is a file or an empty directory.
func (n *Node) IsLeaf() bool {
	return !n.IsDir || len(n.Children) == 0
}

// Depth returns the depth of this node from the root (root = 0).
func (n *Node) Depth() int {
	depth := 0
	current := n.Parent
	for current != nil {
		depth++
		current = current.Parent
	}
	return depth
}

// Walk visits n and its descendants depth-first in child order.
// Returning false from fn skips the node's children.
func (n *Node) Walk(fn func(node *Node, depth int) bool) {
	n.walk(fn, 0)
}

func (n *Node) walk(fn func(*Node, int) bool, depth int) {
	if !fn(n, depth) {
		return
	}
	for _, child := range n.Children {
		child.walk(fn, depth+1)
	}
}

// Find returns the descendant with the given relative path, or nil.
func (n *Node) Find(relPath string) *Node {
	var found *Node
	n.Walk(func(node *Node, _ int) bool {
		if found != nil {
			return false
		}
		if node.RelPath == relPath {
			found = node
			return false
		}
		return node.IsDir
	})
	return found
}

// Flatten returns the node and its descendants in display order, down to
// maxDepth levels below n (0 means unlimited).
func (n *Node) Flatten(maxDepth int) []*Node {
	var result []*Node
	n.Walk(func(node *Node, depth int) bool {
		result = append(result, node)
		return maxDepth <= 0 || depth < maxDepth
	})
	return result
}
