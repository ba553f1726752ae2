package doctree

import (
	"fmt"
	"slices"
	"strings"
)

// Leaves returns the leaf nodes in depth-first, left-to-right order.
func (t Tree) Leaves() []Node {
	var out []Node
	for _, c := range t.Children {
		out = appendLeaves(out, c)
	}
	return out
}

func appendLeaves(out []Node, n Node) []Node {
	if n.IsLeaf() {
		return append(out, n)
	}
	for _, c := range n.Children {
		out = appendLeaves(out, c)
	}
	return out
}

// CountLeaves counts leaves without materializing them.
func (t Tree) CountLeaves() int {
	return countLeaves(t.Children)
}

func countLeaves(nodes []Node) int {
	total := 0
	for _, n := range nodes {
		if n.IsLeaf() {
			total++
			continue
		}
		total += countLeaves(n.Children)
	}
	return total
}

// Predecessor returns the leaf immediately before the leaf with the given ID.
// It reports false when the target is the first leaf or is not found.
func (t Tree) Predecessor(id string) (Node, bool) {
	leaves := t.Leaves()
	for i, l := range leaves {
		if l.ID != id {
			continue
		}
		if i == 0 {
			return Node{}, false
		}
		return leaves[i-1], true
	}
	return Node{}, false
}

// Leaf returns the leaf with the given ID.
func (t Tree) Leaf(id string) (Node, bool) {
	for _, l := range t.Leaves() {
		if l.ID == id {
			return l, true
		}
	}
	return Node{}, false
}

// ReplaceLeaf returns a copy of t with the leaf whose ID equals updated.ID
// replaced by updated. Only the path from the root to that leaf is copied;
// every other subtree is shared with t. Exactly one leaf must match.
func (t Tree) ReplaceLeaf(updated Node) (Tree, error) {
	if updated.ID == "" {
		return t, fmt.Errorf("replace leaf: empty id: %w", ErrLeafNotFound)
	}
	if !updated.IsLeaf() {
		return t, fmt.Errorf("replace leaf %s: %w", updated.ID, ErrNotLeaf)
	}
	switch n := countID(t.Children, updated.ID); {
	case n == 0:
		return t, fmt.Errorf("replace leaf %s: %w", updated.ID, ErrLeafNotFound)
	case n > 1:
		return t, fmt.Errorf("replace leaf %s: %w", updated.ID, ErrAmbiguousKey)
	}
	children, ok := replaceIn(t.Children, updated)
	if !ok {
		return t, fmt.Errorf("replace leaf %s: %w", updated.ID, ErrNotLeaf)
	}
	t.Children = children
	return t, nil
}

func countID(nodes []Node, id string) int {
	total := 0
	for _, n := range nodes {
		if n.ID == id {
			total++
		}
		total += countID(n.Children, id)
	}
	return total
}

func replaceIn(nodes []Node, updated Node) ([]Node, bool) {
	for i, n := range nodes {
		if n.IsLeaf() {
			if n.ID != updated.ID {
				continue
			}
			out := slices.Clone(nodes)
			out[i] = updated
			return out, true
		}
		children, ok := replaceIn(n.Children, updated)
		if !ok {
			continue
		}
		out := slices.Clone(nodes)
		n.Children = children
		out[i] = n
		return out, true
	}
	return nil, false
}

// Rebuild walks the shape of t and fills each leaf position with the next
// element of leaves. len(leaves) must equal t.CountLeaves(); anything else is
// a programming error and panics.
func (t Tree) Rebuild(leaves []Node) Tree {
	if want := t.CountLeaves(); len(leaves) != want {
		panic(fmt.Sprintf("doctree: rebuild with %d leaves, tree has %d", len(leaves), want))
	}
	next := 0
	t.Children = rebuildNodes(t.Children, leaves, &next)
	return t
}

func rebuildNodes(nodes, leaves []Node, next *int) []Node {
	if nodes == nil {
		return nil
	}
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		if n.IsLeaf() {
			out[i] = leaves[*next]
			*next++
			continue
		}
		n.Children = rebuildNodes(n.Children, leaves, next)
		out[i] = n
	}
	return out
}

// Leaves returns a copy of the sections; a sequence is already its own leaf order.
func (s Sequence) Leaves() []Section {
	return slices.Clone(s.Sections)
}

// CountLeaves returns the number of sections.
func (s Sequence) CountLeaves() int { return len(s.Sections) }

// Predecessor returns the section before the one numbered number.
func (s Sequence) Predecessor(number int) (Section, bool) {
	for i, sec := range s.Sections {
		if sec.SectionNumber != number {
			continue
		}
		if i == 0 {
			return Section{}, false
		}
		return s.Sections[i-1], true
	}
	return Section{}, false
}

// Section returns the section numbered number.
func (s Sequence) Section(number int) (Section, bool) {
	for _, sec := range s.Sections {
		if sec.SectionNumber == number {
			return sec, true
		}
	}
	return Section{}, false
}

// ReplaceSection returns a copy of s with the section sharing updated's
// number replaced. Exactly one section must match.
func (s Sequence) ReplaceSection(updated Section) (Sequence, error) {
	idx, matches := -1, 0
	for i, sec := range s.Sections {
		if sec.SectionNumber == updated.SectionNumber {
			idx = i
			matches++
		}
	}
	switch {
	case matches == 0:
		return s, fmt.Errorf("replace section %d: %w", updated.SectionNumber, ErrLeafNotFound)
	case matches > 1:
		return s, fmt.Errorf("replace section %d: %w", updated.SectionNumber, ErrAmbiguousKey)
	}
	s.Sections = slices.Clone(s.Sections)
	s.Sections[idx] = updated
	return s, nil
}

// Rebuild replaces the sections with sections. The lengths must match.
func (s Sequence) Rebuild(sections []Section) Sequence {
	if len(sections) != len(s.Sections) {
		panic(fmt.Sprintf("doctree: rebuild with %d sections, sequence has %d", len(sections), len(s.Sections)))
	}
	s.Sections = slices.Clone(sections)
	return s
}

// CountLeaves dispatches to the active variant.
func (d Document) CountLeaves() int {
	switch d.Kind {
	case KindTree:
		return d.Tree.CountLeaves()
	case KindSequence:
		return d.Sequence.CountLeaves()
	}
	return 0
}

// LeafKeys returns every leaf key in document order.
func (d Document) LeafKeys() []string {
	var keys []string
	switch d.Kind {
	case KindTree:
		for _, l := range d.Tree.Leaves() {
			keys = append(keys, l.ID)
		}
	case KindSequence:
		for _, s := range d.Sequence.Sections {
			keys = append(keys, s.Key())
		}
	}
	return keys
}

// FirstEmptyLeaf returns the key of the first leaf with no content, or ""
// when every leaf has been written.
func (d Document) FirstEmptyLeaf() string {
	switch d.Kind {
	case KindTree:
		for _, l := range d.Tree.Leaves() {
			if strings.TrimSpace(l.Content) == "" {
				return l.ID
			}
		}
	case KindSequence:
		for _, s := range d.Sequence.Sections {
			if strings.TrimSpace(s.Content) == "" {
				return s.Key()
			}
		}
	}
	return ""
}
