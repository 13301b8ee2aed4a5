package accessibility

import "github.com/docugen/platform/internal/element"

// Node is one element in a platform accessibility tree, abstracted so
// the hit-test walk can be exercised without a live tree.
type Node interface {
	// Bounds returns the node's screen rectangle. ok is false when
	// position or size cannot be read; such nodes are discarded
	// outright rather than treated as zero-sized.
	Bounds() (r element.Rect, ok bool)
	Children() []Node
}

// DeepestAt walks the tree from root and returns the deepest node
// whose bounds contain the point. A container whose children all miss
// the point is itself returned when it contains the point. Returns
// nil when root misses the point or has unreadable bounds.
func DeepestAt(root Node, x, y int) Node {
	n, _ := deepestAt(root, x, y, 0)
	return n
}

func deepestAt(n Node, x, y, depth int) (Node, int) {
	bounds, ok := n.Bounds()
	if !ok || !bounds.Contains(x, y) {
		return nil, 0
	}

	best, bestDepth := n, depth
	for _, child := range n.Children() {
		if hit, hitDepth := deepestAt(child, x, y, depth+1); hit != nil && hitDepth > bestDepth {
			best, bestDepth = hit, hitDepth
		}
	}
	return best, bestDepth
}
