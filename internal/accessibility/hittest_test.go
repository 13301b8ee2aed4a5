package accessibility

import (
	"testing"

	"github.com/docugen/platform/internal/element"
)

type fakeNode struct {
	name      string
	rect      element.Rect
	unbounded bool
	children  []Node
}

func (f *fakeNode) Bounds() (element.Rect, bool) {
	if f.unbounded {
		return element.Rect{}, false
	}
	return f.rect, true
}

func (f *fakeNode) Children() []Node { return f.children }

func TestDeepestAtPrefersInnermost(t *testing.T) {
	button := &fakeNode{name: "button", rect: element.Rect{X: 40, Y: 40, Width: 20, Height: 10}}
	toolbar := &fakeNode{name: "toolbar", rect: element.Rect{X: 0, Y: 30, Width: 200, Height: 30}, children: []Node{button}}
	window := &fakeNode{name: "window", rect: element.Rect{X: 0, Y: 0, Width: 200, Height: 200}, children: []Node{toolbar}}

	got := DeepestAt(window, 45, 45)
	if got != Node(button) {
		t.Errorf("DeepestAt = %v, want button", got)
	}
}

func TestDeepestAtContainerFallback(t *testing.T) {
	child := &fakeNode{name: "child", rect: element.Rect{X: 100, Y: 100, Width: 10, Height: 10}}
	container := &fakeNode{name: "container", rect: element.Rect{X: 0, Y: 0, Width: 200, Height: 200}, children: []Node{child}}

	// The point is in the container but misses every child.
	if got := DeepestAt(container, 5, 5); got != Node(container) {
		t.Errorf("DeepestAt = %v, want container", got)
	}
}

func TestDeepestAtMiss(t *testing.T) {
	root := &fakeNode{name: "root", rect: element.Rect{X: 0, Y: 0, Width: 50, Height: 50}}
	if got := DeepestAt(root, 100, 100); got != nil {
		t.Errorf("DeepestAt outside root = %v, want nil", got)
	}
}

func TestDeepestAtDiscardsUnreadableBounds(t *testing.T) {
	broken := &fakeNode{name: "broken", unbounded: true}
	if got := DeepestAt(broken, 10, 10); got != nil {
		t.Errorf("DeepestAt on unreadable root = %v, want nil", got)
	}

	// A broken child is skipped; its sibling still wins.
	sibling := &fakeNode{name: "sibling", rect: element.Rect{X: 0, Y: 0, Width: 100, Height: 100}}
	root := &fakeNode{name: "root", rect: element.Rect{X: 0, Y: 0, Width: 100, Height: 100}, children: []Node{broken, sibling}}
	if got := DeepestAt(root, 10, 10); got != Node(sibling) {
		t.Errorf("DeepestAt with broken child = %v, want sibling", got)
	}
}

func TestDeepestAtTieBrokenByDepth(t *testing.T) {
	grandchild := &fakeNode{name: "grandchild", rect: element.Rect{X: 10, Y: 10, Width: 80, Height: 80}}
	deep := &fakeNode{name: "deep", rect: element.Rect{X: 0, Y: 0, Width: 100, Height: 100}, children: []Node{grandchild}}
	shallow := &fakeNode{name: "shallow", rect: element.Rect{X: 0, Y: 0, Width: 100, Height: 100}}
	root := &fakeNode{name: "root", rect: element.Rect{X: 0, Y: 0, Width: 100, Height: 100}, children: []Node{shallow, deep}}

	if got := DeepestAt(root, 50, 50); got != Node(grandchild) {
		t.Errorf("DeepestAt = %v, want grandchild", got)
	}
}

func TestDeepestAtEdgeExclusive(t *testing.T) {
	root := &fakeNode{name: "root", rect: element.Rect{X: 0, Y: 0, Width: 50, Height: 50}}
	if got := DeepestAt(root, 50, 25); got != nil {
		t.Error("right edge should be exclusive")
	}
	if got := DeepestAt(root, 0, 0); got != Node(root) {
		t.Error("top-left corner should be inclusive")
	}
}
