package tree

import (
	"context"
	"fmt"
)

// Tool is a unit of work the decision node can select. Run produces a lazy,
// finite, non-restartable sequence of events on out; the executor drains it
// fully before returning to the decision step, forwarding each event to the
// caller as it arrives. Implementations must not close out.
type Tool interface {
	Name() string
	Description() string

	// EndsTurn marks tools whose completion terminates the turn (e.g. a
	// final answer).
	EndsTurn() bool

	// Available reports whether the tool can run given the current
	// conversation state. Predicates may inspect the environment, e.g.
	// "at least one retrieval has occurred".
	Available(td *TreeData) bool

	Run(ctx context.Context, td *TreeData, out chan<- Event) error
}

// Node is one choice point of the decision tree. Each node offers concrete
// tools plus child branches to descend into.
type Node struct {
	ID          string
	Instruction string
	Tools       []Tool
	Children    []*Node
}

// Tool returns the named tool offered at this node.
func (n *Node) Tool(name string) (Tool, bool) {
	for _, t := range n.Tools {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// Child returns the named child branch.
func (n *Node) Child(id string) (*Node, bool) {
	for _, c := range n.Children {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// AvailableTools returns the node's tools whose predicate currently holds.
func (n *Node) AvailableTools(td *TreeData) []Tool {
	var out []Tool
	for _, t := range n.Tools {
		if t.Available(td) {
			out = append(out, t)
		}
	}
	return out
}

// Validate checks node and tool identifiers are unique within the tree.
func (n *Node) Validate() error {
	seen := map[string]bool{}
	var walk func(node *Node) error
	walk = func(node *Node) error {
		if node.ID == "" {
			return fmt.Errorf("node with empty id")
		}
		if seen[node.ID] {
			return fmt.Errorf("duplicate node id: %s", node.ID)
		}
		seen[node.ID] = true
		names := map[string]bool{}
		for _, t := range node.Tools {
			if names[t.Name()] {
				return fmt.Errorf("node %s: duplicate tool name: %s", node.ID, t.Name())
			}
			names[t.Name()] = true
		}
		for _, c := range node.Children {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(n)
}
