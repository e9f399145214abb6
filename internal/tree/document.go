// Package tree holds an in-memory document: a title plus a body of element
// and text nodes addressed by stable ids. Structural insertions are published
// to subscribers as batches.
package tree

import (
	"context"
	"fmt"
	"sync"
)

// RootTag is the tag of the document root element.
const RootTag = "body"

// Document is safe for concurrent use. Callers address nodes by NodeID so a
// node removed concurrently simply stops resolving.
type Document struct {
	mu     sync.Mutex
	title  string
	root   *node
	nodes  map[NodeID]*node
	nextID NodeID

	subs    map[uint64]*subscription
	nextSub uint64
}

// NewDocument returns a document with an empty body.
func NewDocument(title string) *Document {
	d := &Document{
		title: title,
		nodes: make(map[NodeID]*node),
		subs:  make(map[uint64]*subscription),
	}
	d.root = d.newNode(ElementNode)
	d.root.tag = RootTag
	return d
}

func (d *Document) newNode(kind Kind) *node {
	d.nextID++
	n := &node{id: d.nextID, kind: kind}
	d.nodes[n.id] = n
	return n
}

// Root returns the id of the body element.
func (d *Document) Root() NodeID {
	return d.root.id
}

// Title returns the document title.
func (d *Document) Title() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.title
}

// SetTitle replaces the document title.
func (d *Document) SetTitle(title string) {
	d.mu.Lock()
	d.title = title
	d.mu.Unlock()
}

// Len returns the number of nodes including the root.
func (d *Document) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.nodes)
}

// Kind returns the kind of a node.
func (d *Document) Kind(id NodeID) (Kind, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[id]
	if !ok {
		return 0, false
	}
	return n.kind, true
}

// Parent returns the parent of a node; the root has none.
func (d *Document) Parent(id NodeID) (NodeID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[id]
	if !ok || n.parent == nil {
		return 0, false
	}
	return n.parent.id, true
}

// Children returns the direct children of a node.
func (d *Document) Children(id NodeID) []NodeID {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[id]
	if !ok {
		return nil
	}
	out := make([]NodeID, len(n.children))
	for i, c := range n.children {
		out[i] = c.id
	}
	return out
}

// Leaves returns the text nodes under id, id included, in document order.
func (d *Document) Leaves(id NodeID) []NodeID {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[id]
	if !ok {
		return nil
	}
	var out []NodeID
	var visit func(*node)
	visit = func(n *node) {
		if n.kind == TextNode {
			out = append(out, n.id)
			return
		}
		for _, c := range n.children {
			visit(c)
		}
	}
	visit(n)
	return out
}

// Text returns the content of a text node.
func (d *Document) Text(id NodeID) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[id]
	if !ok || n.kind != TextNode {
		return "", false
	}
	return n.text, true
}

// SetText replaces the content of a text node.
func (d *Document) SetText(id NodeID, text string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[id]
	if !ok || n.kind != TextNode {
		return false
	}
	n.text = text
	return true
}

// Mark returns the mark of a text node. Unknown nodes report Untouched.
func (d *Document) Mark(id NodeID) Mark {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[id]
	if !ok {
		return Untouched
	}
	return n.mark
}

// SetMark sets the mark of a text node.
func (d *Document) SetMark(id NodeID, mark Mark) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[id]
	if !ok || n.kind != TextNode {
		return false
	}
	n.mark = mark
	return true
}

// Insert appends the subtrees described by specs under parent and publishes
// one batch listing their roots.
func (d *Document) Insert(parent NodeID, specs ...Spec) ([]NodeID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.nodes[parent]
	if !ok {
		return nil, fmt.Errorf("insert under %d: %w", parent, ErrNodeNotFound)
	}
	if p.kind != ElementNode {
		return nil, fmt.Errorf("insert under %d: %w", parent, ErrNotElement)
	}
	if len(specs) == 0 {
		return nil, nil
	}
	ids := make([]NodeID, 0, len(specs))
	for _, spec := range specs {
		n := d.build(spec)
		n.parent = p
		p.children = append(p.children, n)
		ids = append(ids, n.id)
	}
	d.publishLocked(ids)
	return ids, nil
}

func (d *Document) build(spec Spec) *node {
	if spec.IsText() {
		n := d.newNode(TextNode)
		n.text = spec.Text
		return n
	}
	n := d.newNode(ElementNode)
	n.tag = spec.Tag
	if len(spec.Attrs) > 0 {
		n.attrs = append([]Attr(nil), spec.Attrs...)
	}
	for _, child := range spec.Children {
		c := d.build(child)
		c.parent = n
		n.children = append(n.children, c)
	}
	return n
}

// Move re-attaches an existing node as the last child of parent. The node
// keeps its id, content and mark and is published as an insertion.
func (d *Document) Move(id, parent NodeID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[id]
	if !ok {
		return fmt.Errorf("move %d: %w", id, ErrNodeNotFound)
	}
	p, ok := d.nodes[parent]
	if !ok {
		return fmt.Errorf("move %d under %d: %w", id, parent, ErrNodeNotFound)
	}
	if p.kind != ElementNode {
		return fmt.Errorf("move %d under %d: %w", id, parent, ErrNotElement)
	}
	if n == d.root || n.contains(p) {
		return fmt.Errorf("move %d under %d: %w", id, parent, ErrInvalidMove)
	}
	n.detach()
	n.parent = p
	p.children = append(p.children, n)
	d.publishLocked([]NodeID{n.id})
	return nil
}

// Remove detaches a node and forgets its subtree.
func (d *Document) Remove(id NodeID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[id]
	if !ok {
		return fmt.Errorf("remove %d: %w", id, ErrNodeNotFound)
	}
	if n == d.root {
		return fmt.Errorf("remove root: %w", ErrInvalidMove)
	}
	n.detach()
	var forget func(*node)
	forget = func(n *node) {
		delete(d.nodes, n.id)
		for _, c := range n.children {
			forget(c)
		}
	}
	forget(n)
	return nil
}

// Export returns a deep copy of the body children.
func (d *Document) Export() []Spec {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.root.children) == 0 {
		return nil
	}
	out := make([]Spec, len(d.root.children))
	for i, c := range d.root.children {
		out[i] = c.spec()
	}
	return out
}

// Subscribe streams insertion batches until ctx is cancelled, then closes
// the channel. Batches are queued per subscriber and never dropped.
func (d *Document) Subscribe(ctx context.Context) <-chan Batch {
	sub := &subscription{notify: make(chan struct{}, 1)}
	d.mu.Lock()
	key := d.nextSub
	d.nextSub++
	d.subs[key] = sub
	d.mu.Unlock()

	out := make(chan Batch)
	go func() {
		defer close(out)
		defer d.unsubscribe(key)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.notify:
			}
			for _, batch := range sub.drain() {
				select {
				case out <- batch:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (d *Document) unsubscribe(key uint64) {
	d.mu.Lock()
	delete(d.subs, key)
	d.mu.Unlock()
}

func (d *Document) publishLocked(ids []NodeID) {
	for _, sub := range d.subs {
		sub.push(Batch{Inserted: append([]NodeID(nil), ids...)})
	}
}

type subscription struct {
	mu     sync.Mutex
	queue  []Batch
	notify chan struct{}
}

func (s *subscription) push(b Batch) {
	s.mu.Lock()
	s.queue = append(s.queue, b)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscription) drain() []Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queue
	s.queue = nil
	return out
}
