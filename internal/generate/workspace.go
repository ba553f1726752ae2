package generate

import (
	"fmt"
	"strconv"

	"github.com/dgallion1/novelgen/internal/budget"
	"github.com/dgallion1/novelgen/internal/doctree"
	"github.com/dgallion1/novelgen/internal/gencontext"
)

// workspace owns the working document of one run. It is the only place the
// document changes, and every change swaps in a new immutable value.
type workspace interface {
	keys() []string
	leaf(key string) (title string, expected int, ok bool)
	context(key string) (gencontext.Context, error)
	setContent(key, content string) error
	document() doctree.Document
}

func newWorkspace(doc doctree.Document) (workspace, error) {
	if doc.IsZero() {
		return nil, doctree.ErrEmptyDoc
	}
	doc = doctree.Normalize(doc)
	switch doc.Kind {
	case doctree.KindTree:
		return &treeWorkspace{tree: *doc.Tree}, nil
	case doctree.KindSequence:
		return &sequenceWorkspace{seq: *doc.Sequence}, nil
	}
	return nil, doctree.ErrEmptyDoc
}

type treeWorkspace struct {
	tree doctree.Tree
}

func (w *treeWorkspace) keys() []string {
	return doctree.FromTree(w.tree).LeafKeys()
}

func (w *treeWorkspace) leaf(key string) (string, int, bool) {
	n, ok := w.tree.Leaf(key)
	if !ok {
		return "", 0, false
	}
	return n.Title, budget.ExpectedChars(n.Pages), true
}

func (w *treeWorkspace) context(key string) (gencontext.Context, error) {
	return gencontext.ForNode(w.tree, key)
}

func (w *treeWorkspace) setContent(key, content string) error {
	n, ok := w.tree.Leaf(key)
	if !ok {
		return fmt.Errorf("set content %s: %w", key, doctree.ErrLeafNotFound)
	}
	n.Content = content
	t, err := w.tree.ReplaceLeaf(n)
	if err != nil {
		return err
	}
	w.tree = t
	return nil
}

func (w *treeWorkspace) document() doctree.Document { return doctree.FromTree(w.tree) }

type sequenceWorkspace struct {
	seq doctree.Sequence
}

func (w *sequenceWorkspace) keys() []string {
	return doctree.FromSequence(w.seq).LeafKeys()
}

func (w *sequenceWorkspace) section(key string) (doctree.Section, bool) {
	n, err := strconv.Atoi(key)
	if err != nil {
		return doctree.Section{}, false
	}
	return w.seq.Section(n)
}

func (w *sequenceWorkspace) leaf(key string) (string, int, bool) {
	s, ok := w.section(key)
	if !ok {
		return "", 0, false
	}
	expected := s.TargetLength
	if expected <= 0 {
		expected = budget.ExpectedChars(0)
	}
	return s.Title, expected, true
}

func (w *sequenceWorkspace) context(key string) (gencontext.Context, error) {
	s, ok := w.section(key)
	if !ok {
		return gencontext.Context{}, fmt.Errorf("context for section %s: %w", key, doctree.ErrLeafNotFound)
	}
	return gencontext.ForSection(w.seq, s.SectionNumber)
}

func (w *sequenceWorkspace) setContent(key, content string) error {
	s, ok := w.section(key)
	if !ok {
		return fmt.Errorf("set content %s: %w", key, doctree.ErrLeafNotFound)
	}
	s.Content = content
	seq, err := w.seq.ReplaceSection(s)
	if err != nil {
		return err
	}
	w.seq = seq
	return nil
}

func (w *sequenceWorkspace) document() doctree.Document { return doctree.FromSequence(w.seq) }
