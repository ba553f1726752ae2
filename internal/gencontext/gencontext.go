// Package gencontext builds the context handed to the backend for one leaf:
// the target, its predecessor, the document plan and, for sequences, the
// continuity facts established so far.
package gencontext

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dgallion1/novelgen/internal/budget"
	"github.com/dgallion1/novelgen/internal/doctree"
)

// TailLength is how much of the predecessor's prose a sequence section sees.
const TailLength = 150

// Predecessor is the leaf generated immediately before the target.
// Content may be empty if that leaf has not been generated yet.
type Predecessor struct {
	Key     string
	Title   string
	Summary string
	Content string
}

// Continuity carries what earlier sections of a sequence established.
type Continuity struct {
	PreviousSummary  string
	CurrentMood      string
	TimeProgression  string
	EstablishedFacts []string
	PreviousTail     string
}

// Context is built immediately before one generation call and discarded
// after its result is merged. It holds values only, never references into
// the caller's working document.
type Context struct {
	Kind        doctree.Kind
	Node        doctree.Node    // target, tree documents
	Section     doctree.Section // target, sequence documents
	Sequence    doctree.Sequence
	Predecessor *Predecessor
	Continuity  *Continuity // sequence documents only
	Plan        string      // whole structure as JSON, without content
}

// Title returns the target's title.
func (c Context) Title() string {
	if c.Kind == doctree.KindSequence {
		return c.Section.Title
	}
	return c.Node.Title
}

// Build dispatches on the document variant.
func Build(doc doctree.Document, key string) (Context, error) {
	switch doc.Kind {
	case doctree.KindTree:
		return ForNode(*doc.Tree, key)
	case doctree.KindSequence:
		n, err := strconv.Atoi(key)
		if err != nil {
			return Context{}, fmt.Errorf("section key %q: %w", key, doctree.ErrLeafNotFound)
		}
		return ForSection(*doc.Sequence, n)
	}
	return Context{}, doctree.ErrEmptyDoc
}

// ForNode builds the context for the leaf with the given ID.
func ForNode(t doctree.Tree, id string) (Context, error) {
	target, ok := t.Leaf(id)
	if !ok {
		return Context{}, fmt.Errorf("context for %s: %w", id, doctree.ErrLeafNotFound)
	}
	plan, err := planJSON(doctree.FromTree(t))
	if err != nil {
		return Context{}, err
	}
	c := Context{Kind: doctree.KindTree, Node: target, Plan: plan}
	if prev, ok := t.Predecessor(id); ok {
		c.Predecessor = &Predecessor{Key: prev.ID, Title: prev.Title, Summary: prev.Summary, Content: prev.Content}
	}
	return c, nil
}

// ForSection builds the context for the section numbered number, folding
// continuity over every earlier section that already has content.
func ForSection(s doctree.Sequence, number int) (Context, error) {
	target, ok := s.Section(number)
	if !ok {
		return Context{}, fmt.Errorf("context for section %d: %w", number, doctree.ErrLeafNotFound)
	}
	plan, err := planJSON(doctree.FromSequence(s))
	if err != nil {
		return Context{}, err
	}
	c := Context{Kind: doctree.KindSequence, Section: target, Sequence: s, Plan: plan}

	cont := Continuity{TimeProgression: s.Timespan, EstablishedFacts: []string{}}
	for _, sec := range s.Sections {
		if sec.SectionNumber == number {
			break
		}
		if sec.Content == "" {
			continue
		}
		cont = Fold(cont, sec)
	}
	if prev, ok := s.Predecessor(number); ok {
		c.Predecessor = &Predecessor{Key: prev.Key(), Title: prev.Title, Summary: prev.Summary, Content: prev.Content}
		cont.PreviousTail = budget.TailRunes(prev.Content, TailLength)
	}
	c.Continuity = &cont
	return c, nil
}

// Fold advances continuity past one generated section.
func Fold(c Continuity, sec doctree.Section) Continuity {
	next := Continuity{
		PreviousSummary:  sec.Summary,
		CurrentMood:      sec.EmotionalTone,
		TimeProgression:  c.TimeProgression,
		EstablishedFacts: append(append([]string{}, c.EstablishedFacts...), sec.KeyEvents...),
		PreviousTail:     c.PreviousTail,
	}
	if sec.TimeOfDay != "" {
		next.TimeProgression = sec.TimeOfDay
	}
	return next
}

// planJSON serializes the document outline the model sees as the global
// plan. Content and node IDs are left out.
func planJSON(doc doctree.Document) (string, error) {
	out := doctree.Outline(doc)
	if out.Kind == doctree.KindTree {
		t := *out.Tree
		t.Children = withoutIDs(t.Children)
		out = doctree.FromTree(t)
	}
	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal plan: %w", err)
	}
	return string(raw), nil
}

func withoutIDs(nodes []doctree.Node) []doctree.Node {
	if nodes == nil {
		return nil
	}
	out := make([]doctree.Node, len(nodes))
	for i, n := range nodes {
		n.ID = ""
		n.Children = withoutIDs(n.Children)
		out[i] = n
	}
	return out
}
