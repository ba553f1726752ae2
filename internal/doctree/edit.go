package doctree

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// newID is swapped in tests that need deterministic identifiers.
var newID = uuid.NewString

// Normalize returns a copy of d that satisfies the model invariants:
// every tree node carries a unique non-empty ID, needsSubdivision agrees
// with the presence of children, internal nodes hold no content, and
// section numbers are unique and positive (otherwise renumbered 1..n).
func Normalize(d Document) Document {
	switch d.Kind {
	case KindTree:
		t := *d.Tree
		seen := make(map[string]bool)
		t.Children = normalizeNodes(t.Children, seen)
		return FromTree(t)
	case KindSequence:
		s := *d.Sequence
		s.Sections = normalizeSections(s.Sections)
		return FromSequence(s)
	}
	return d
}

func normalizeNodes(nodes []Node, seen map[string]bool) []Node {
	if nodes == nil {
		return nil
	}
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		if n.ID == "" || seen[n.ID] {
			n.ID = newID()
		}
		seen[n.ID] = true
		n.Children = normalizeNodes(n.Children, seen)
		n.NeedsSubdivision = len(n.Children) > 0
		if !n.IsLeaf() {
			n.Content = ""
		}
		out[i] = n
	}
	return out
}

func normalizeSections(sections []Section) []Section {
	out := slices.Clone(sections)
	seen := make(map[int]bool)
	renumber := false
	for _, s := range out {
		if s.SectionNumber <= 0 || seen[s.SectionNumber] {
			renumber = true
			break
		}
		seen[s.SectionNumber] = true
	}
	for i := range out {
		if renumber {
			out[i].SectionNumber = i + 1
		}
		if out[i].KeyEvents == nil {
			out[i].KeyEvents = []string{}
		}
	}
	return out
}

// Outline returns a copy of d with all generated content removed.
func Outline(d Document) Document {
	switch d.Kind {
	case KindTree:
		t := *d.Tree
		t.Children = stripNodes(t.Children)
		return FromTree(t)
	case KindSequence:
		s := *d.Sequence
		s.Sections = slices.Clone(s.Sections)
		for i := range s.Sections {
			s.Sections[i].Content = ""
		}
		return FromSequence(s)
	}
	return d
}

func stripNodes(nodes []Node) []Node {
	if nodes == nil {
		return nil
	}
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		n.Content = ""
		n.Children = stripNodes(n.Children)
		out[i] = n
	}
	return out
}

// Validate checks the invariants Normalize establishes.
func Validate(d Document) error {
	if d.IsZero() {
		return ErrEmptyDoc
	}
	var errs []error
	switch d.Kind {
	case KindTree:
		seen := make(map[string]bool)
		validateNodes(d.Tree.Children, "", seen, &errs)
	case KindSequence:
		seen := make(map[int]bool)
		for i, s := range d.Sequence.Sections {
			if s.SectionNumber <= 0 {
				errs = append(errs, fmt.Errorf("section %d: non-positive sectionNumber %d", i, s.SectionNumber))
			}
			if seen[s.SectionNumber] {
				errs = append(errs, fmt.Errorf("section %d: duplicate sectionNumber %d", i, s.SectionNumber))
			}
			seen[s.SectionNumber] = true
		}
	}
	return errors.Join(errs...)
}

func validateNodes(nodes []Node, path string, seen map[string]bool, errs *[]error) {
	for _, n := range nodes {
		where := path + "/" + n.Title
		switch {
		case n.ID == "":
			*errs = append(*errs, fmt.Errorf("%s: missing id", where))
		case seen[n.ID]:
			*errs = append(*errs, fmt.Errorf("%s: duplicate id %s", where, n.ID))
		}
		seen[n.ID] = true
		if n.NeedsSubdivision && n.IsLeaf() {
			*errs = append(*errs, fmt.Errorf("%s: needsSubdivision without children", where))
		}
		if !n.IsLeaf() && n.Content != "" {
			*errs = append(*errs, fmt.Errorf("%s: content on internal node", where))
		}
		validateNodes(n.Children, where, seen, errs)
	}
}

// Lookup resolves a user reference to a leaf key. The reference may be a
// node ID, a section number or a title that names exactly one leaf.
func Lookup(d Document, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	var titles []string
	switch d.Kind {
	case KindTree:
		for _, l := range d.Tree.Leaves() {
			if l.ID == ref {
				return l.ID, nil
			}
			if l.Title == ref {
				titles = append(titles, l.ID)
			}
		}
	case KindSequence:
		if n, err := strconv.Atoi(ref); err == nil {
			if s, ok := d.Sequence.Section(n); ok {
				return s.Key(), nil
			}
		}
		for _, s := range d.Sequence.Sections {
			if s.Title == ref {
				titles = append(titles, s.Key())
			}
		}
	default:
		return "", ErrEmptyDoc
	}
	switch len(titles) {
	case 0:
		return "", fmt.Errorf("lookup %q: %w", ref, ErrLeafNotFound)
	case 1:
		return titles[0], nil
	}
	return "", fmt.Errorf("lookup %q: %w", ref, ErrAmbiguousKey)
}

// Patch holds the editable fields of a node or section. Nil fields are left alone.
type Patch struct {
	Title   *string `json:"title,omitempty"`
	Summary *string `json:"summary,omitempty"`
	Content *string `json:"content,omitempty"`
}

// UpdateNode applies p to the node (any depth) or section identified by key.
// Content can only be set on leaves.
func UpdateNode(d Document, key string, p Patch) (Document, error) {
	switch d.Kind {
	case KindTree:
		t := *d.Tree
		children, err := patchNodes(t.Children, key, p)
		if err != nil {
			return d, err
		}
		t.Children = children
		return FromTree(t), nil
	case KindSequence:
		n, err := strconv.Atoi(key)
		if err != nil {
			return d, fmt.Errorf("update %q: %w", key, ErrLeafNotFound)
		}
		sec, ok := d.Sequence.Section(n)
		if !ok {
			return d, fmt.Errorf("update %q: %w", key, ErrLeafNotFound)
		}
		applyPatch(&sec.Title, &sec.Summary, &sec.Content, p)
		s, err := d.Sequence.ReplaceSection(sec)
		if err != nil {
			return d, err
		}
		return FromSequence(s), nil
	}
	return d, ErrEmptyDoc
}

func patchNodes(nodes []Node, id string, p Patch) ([]Node, error) {
	for i, n := range nodes {
		if n.ID == id {
			if p.Content != nil && !n.IsLeaf() {
				return nil, fmt.Errorf("update %s: %w", id, ErrNotLeaf)
			}
			applyPatch(&n.Title, &n.Summary, &n.Content, p)
			out := slices.Clone(nodes)
			out[i] = n
			return out, nil
		}
		children, err := patchNodes(n.Children, id, p)
		if errors.Is(err, ErrLeafNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out := slices.Clone(nodes)
		n.Children = children
		out[i] = n
		return out, nil
	}
	return nil, fmt.Errorf("update %s: %w", id, ErrLeafNotFound)
}

func applyPatch(title, summary, content *string, p Patch) {
	if p.Title != nil {
		*title = *p.Title
	}
	if p.Summary != nil {
		*summary = *p.Summary
	}
	if p.Content != nil {
		*content = *p.Content
	}
}
