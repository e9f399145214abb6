package tree

import "errors"

var (
	// ErrNodeNotFound indicates that a node id does not exist in the document.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNotElement indicates that an operation needs an element node.
	ErrNotElement = errors.New("node is not an element")

	// ErrInvalidMove indicates a move of the root or into the node's own subtree.
	ErrInvalidMove = errors.New("invalid move")
)
