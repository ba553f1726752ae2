package doctree

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Kind discriminates the two document shapes.
type Kind string

const (
	KindTree     Kind = "tree"     // arbitrary-depth chapters and sections
	KindSequence Kind = "sequence" // one ordered list of sections
)

// Genre is the kind of work being written. It selects the document shape and
// the prompt set used to generate it.
type Genre string

const (
	GenreNovel      Genre = "novel"
	GenreTextbook   Genre = "textbook"
	GenreShortStory Genre = "short-story"
)

// Genres lists every supported genre.
var Genres = []Genre{GenreNovel, GenreTextbook, GenreShortStory}

// ParseGenre validates a user-supplied genre name.
func ParseGenre(s string) (Genre, error) {
	for _, g := range Genres {
		if string(g) == s {
			return g, nil
		}
	}
	return "", fmt.Errorf("unknown genre %q", s)
}

// Kind returns the document shape the genre is written in.
func (g Genre) Kind() Kind {
	if g == GenreShortStory {
		return KindSequence
	}
	return KindTree
}

var (
	ErrLeafNotFound = errors.New("leaf not found")
	ErrAmbiguousKey = errors.New("key matches more than one leaf")
	ErrNotLeaf      = errors.New("node is not a leaf")
	ErrEmptyDoc     = errors.New("document has no variant set")
)

// Document is a tagged union: exactly one of Tree or Sequence is set,
// selected by Kind.
type Document struct {
	Kind     Kind
	Tree     *Tree
	Sequence *Sequence
}

// Tree is a work whose internal structure is a variable-depth tree.
type Tree struct {
	Title    string `json:"title"`
	Summary  string `json:"summary"`
	Children []Node `json:"children"`
}

// Node is a chapter or section of a Tree. A node with no children is a leaf.
type Node struct {
	ID               string  `json:"id,omitempty"`
	Title            string  `json:"title"`
	Summary          string  `json:"summary"`
	Pages            float64 `json:"n_pages"`
	NeedsSubdivision bool    `json:"needsSubdivision"`
	Content          string  `json:"content,omitempty"`
	Children         []Node  `json:"children,omitempty"`
}

// IsLeaf reports whether n directly holds content.
func (n Node) IsLeaf() bool { return len(n.Children) == 0 }

// Sequence is a work made of one ordered list of sections.
type Sequence struct {
	Title             string    `json:"title"`
	TotalTargetLength int       `json:"totalTargetLength"`
	Timespan          string    `json:"timespan"`
	Premise           string    `json:"premise"`
	ClimaxPoint       string    `json:"climaxPoint"`
	Resolution        string    `json:"resolution"`
	Sections          []Section `json:"sections"`
}

// Section is one element of a Sequence. Its identity is SectionNumber.
type Section struct {
	SectionNumber  int      `json:"sectionNumber"`
	Title          string   `json:"title"`
	Summary        string   `json:"summary"`
	TargetLength   int      `json:"targetLength"`
	TimeOfDay      string   `json:"timeOfDay,omitempty"`
	Location       string   `json:"location,omitempty"`
	KeyEvents      []string `json:"keyEvents"`
	EmotionalTone  string   `json:"emotionalTone"`
	PurposeInStory string   `json:"purposeInStory"`
	TransitionNote string   `json:"transitionNote"`
	Content        string   `json:"content,omitempty"`
}

// Key is the section's identity within its sequence.
func (s Section) Key() string { return strconv.Itoa(s.SectionNumber) }

// FromTree wraps t as a Document.
func FromTree(t Tree) Document { return Document{Kind: KindTree, Tree: &t} }

// FromSequence wraps s as a Document.
func FromSequence(s Sequence) Document { return Document{Kind: KindSequence, Sequence: &s} }

// Title returns the work's title for either variant.
func (d Document) Title() string {
	switch d.Kind {
	case KindTree:
		return d.Tree.Title
	case KindSequence:
		return d.Sequence.Title
	}
	return ""
}

// IsZero reports whether no variant is set.
func (d Document) IsZero() bool {
	switch d.Kind {
	case KindTree:
		return d.Tree == nil
	case KindSequence:
		return d.Sequence == nil
	}
	return true
}

// MarshalJSON encodes the active variant only, so the wire shape is exactly
// the composite-tree or flat-sequence document. A zero Document encodes as null.
func (d Document) MarshalJSON() ([]byte, error) {
	switch {
	case d.Kind == KindTree && d.Tree != nil:
		return json.Marshal(d.Tree)
	case d.Kind == KindSequence && d.Sequence != nil:
		return json.Marshal(d.Sequence)
	}
	return []byte("null"), nil
}

// UnmarshalJSON picks the variant: a document carrying "sections" is a
// sequence, anything else is a tree.
func (d *Document) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe == nil {
		*d = Document{}
		return nil
	}
	if _, ok := probe["sections"]; ok {
		var s Sequence
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode sequence: %w", err)
		}
		*d = FromSequence(s)
		return nil
	}
	var t Tree
	if err := json.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("decode tree: %w", err)
	}
	*d = FromTree(t)
	return nil
}
