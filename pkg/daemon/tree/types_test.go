package tree_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jamesainslie/docsweep/pkg/daemon/tree"
)

func TestTreeNode(t *testing.T) {
	t.Run("AddChild establishes parent-child relationship", func(t *testing.T) {
		parent := &tree.Node{Name: "docs", IsDir: true}
		child := &tree.Node{Name: "a.md"}

		parent.AddChild(child)

		assert.Same(t, parent, child.Parent)
		assert.Len(t, parent.Children, 1)
	})

	t.Run("Depth returns correct values", func(t *testing.T) {
		root := &tree.Node{IsDir: true}
		dir := &tree.Node{IsDir: true}
		file := &tree.Node{}
		root.AddChild(dir)
		dir.AddChild(file)

		assert.Equal(t, 0, root.Depth())
		assert.Equal(t, 1, dir.Depth())
		assert.Equal(t, 2, file.Depth())
	})

	t.Run("IsLeaf", func(t *testing.T) {
		dir := &tree.Node{IsDir: true}
		assert.True(t, (&tree.Node{}).IsLeaf(), "files are leaves")
		assert.True(t, dir.IsLeaf(), "empty directories are leaves")

		dir.AddChild(&tree.Node{})
		assert.False(t, dir.IsLeaf())
	})

	t.Run("Walk can skip subtrees", func(t *testing.T) {
		root := &tree.Node{Name: "root", IsDir: true}
		a := &tree.Node{Name: "a", IsDir: true}
		root.AddChild(a)
		a.AddChild(&tree.Node{Name: "hidden"})
		root.AddChild(&tree.Node{Name: "b"})

		var seen []string
		root.Walk(func(n *tree.Node, _ int) bool {
			seen = append(seen, n.Name)
			return n.Name != "a"
		})
		assert.Equal(t, []string{"root", "a", "b"}, seen)
	})
}
