package tree

// NodeID uniquely identifies a node within a Document. Zero is never assigned.
type NodeID uint64

// Kind distinguishes element nodes from text leaves.
type Kind int

const (
	ElementNode Kind = iota
	TextNode
)

func (k Kind) String() string {
	switch k {
	case ElementNode:
		return "element"
	case TextNode:
		return "text"
	default:
		return "unknown"
	}
}

// Mark records whether a text leaf holds rewritten content.
type Mark int

const (
	// Untouched leaves are eligible for a forward pass.
	Untouched Mark = iota
	// Replaced leaves hold produced text and are skipped until reverted.
	Replaced
)

func (m Mark) String() string {
	switch m {
	case Untouched:
		return "untouched"
	case Replaced:
		return "replaced"
	default:
		return "unknown"
	}
}

// Attr is an element attribute.
type Attr struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

// Spec describes a detached subtree. An empty Tag makes a text node. Mark is
// filled by Export for text nodes and ignored by Insert.
type Spec struct {
	Tag      string `json:"tag,omitempty"`
	Attrs    []Attr `json:"attrs,omitempty"`
	Text     string `json:"text,omitempty"`
	Mark     Mark   `json:"mark,omitempty"`
	Children []Spec `json:"children,omitempty"`
}

// Text returns a text node spec.
func Text(s string) Spec {
	return Spec{Text: s}
}

// Element returns an element spec.
func Element(tag string, children ...Spec) Spec {
	return Spec{Tag: tag, Children: children}
}

// IsText reports whether the spec describes a text node.
func (s Spec) IsText() bool {
	return s.Tag == ""
}

// Batch is one structural-change notification. Inserted holds the roots of
// the subtrees attached by a single operation, in document order.
type Batch struct {
	Inserted []NodeID
}

type node struct {
	id       NodeID
	kind     Kind
	tag      string
	attrs    []Attr
	text     string
	mark     Mark
	parent   *node
	children []*node
}

func (n *node) detach() {
	p := n.parent
	if p == nil {
		return
	}
	for i, c := range p.children {
		if c == n {
			p.children = append(p.children[:i:i], p.children[i+1:]...)
			break
		}
	}
	n.parent = nil
}

func (n *node) contains(other *node) bool {
	for cur := other; cur != nil; cur = cur.parent {
		if cur == n {
			return true
		}
	}
	return false
}

func (n *node) spec() Spec {
	if n.kind == TextNode {
		return Spec{Text: n.text, Mark: n.mark}
	}
	s := Spec{Tag: n.tag}
	if len(n.attrs) > 0 {
		s.Attrs = append([]Attr(nil), n.attrs...)
	}
	if len(n.children) > 0 {
		s.Children = make([]Spec, len(n.children))
		for i, c := range n.children {
			s.Children[i] = c.spec()
		}
	}
	return s
}
