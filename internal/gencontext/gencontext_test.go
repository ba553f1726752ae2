package gencontext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/novelgen/internal/doctree"
)

func TestForNodePredecessor(t *testing.T) {
	tree := doctree.Tree{Title: "T", Children: []doctree.Node{
		{ID: "a", Title: "A", Summary: "first", Content: "A's prose"},
		{ID: "b", Title: "B", Summary: "second"},
	}}

	c, err := ForNode(tree, "b")
	require.NoError(t, err)
	assert.Equal(t, "B", c.Title())
	require.NotNil(t, c.Predecessor)
	assert.Equal(t, doctree.KindTree, c.Kind)
	assert.Equal(t, Predecessor{Key: "a", Title: "A", Summary: "first", Content: "A's prose"}, *c.Predecessor)
	assert.Nil(t, c.Continuity)

	assert.Contains(t, c.Plan, `"title": "A"`)
	assert.NotContains(t, c.Plan, "A's prose", "plan carries structure only")
	assert.NotContains(t, c.Plan, `"id"`)

	first, err := ForNode(tree, "a")
	require.NoError(t, err)
	assert.Nil(t, first.Predecessor)

	_, err = ForNode(tree, "zz")
	assert.ErrorIs(t, err, doctree.ErrLeafNotFound)
}

func story() doctree.Sequence {
	return doctree.Sequence{
		Title:    "S",
		Timespan: "one winter",
		Sections: []doctree.Section{
			{SectionNumber: 1, Title: "One", Summary: "s1", TimeOfDay: "morning", EmotionalTone: "calm", KeyEvents: []string{"arrives"}, Content: "The snow fell on the quiet town all morning long."},
			{SectionNumber: 2, Title: "Two", Summary: "s2", EmotionalTone: "tense", KeyEvents: []string{"letter", "argument"}, Content: "She tore the letter open."},
			{SectionNumber: 3, Title: "Three", Summary: "s3", EmotionalTone: "grief", KeyEvents: []string{"departure"}},
		},
	}
}

func TestForSectionContinuity(t *testing.T) {
	c, err := ForSection(story(), 3)
	require.NoError(t, err)
	require.NotNil(t, c.Continuity)

	cont := *c.Continuity
	assert.Equal(t, "s2", cont.PreviousSummary)
	assert.Equal(t, "tense", cont.CurrentMood)
	assert.Equal(t, "morning", cont.TimeProgression, "section 2 has no time of day, so the marker carries over")
	assert.Equal(t, []string{"arrives", "letter", "argument"}, cont.EstablishedFacts)
	assert.Equal(t, "She tore the letter open.", cont.PreviousTail)
	assert.Equal(t, "Two", c.Predecessor.Title)
}

func TestForSectionFirst(t *testing.T) {
	c, err := ForSection(story(), 1)
	require.NoError(t, err)
	assert.Nil(t, c.Predecessor)
	assert.Equal(t, "one winter", c.Continuity.TimeProgression)
	assert.Empty(t, c.Continuity.EstablishedFacts)
	assert.Empty(t, c.Continuity.PreviousTail)
}

func TestForSectionSkipsUngenerated(t *testing.T) {
	s := story()
	s.Sections[1].Content = ""

	c, err := ForSection(s, 3)
	require.NoError(t, err)
	assert.Equal(t, "s1", c.Continuity.PreviousSummary)
	assert.Equal(t, []string{"arrives"}, c.Continuity.EstablishedFacts)
	assert.Empty(t, c.Continuity.PreviousTail, "predecessor has no prose yet")
}

func TestForSectionTailIsBounded(t *testing.T) {
	s := story()
	long := ""
	for i := 0; i < 50; i++ {
		long += "雪が降る。"
	}
	s.Sections[1].Content = long

	c, err := ForSection(s, 3)
	require.NoError(t, err)
	assert.Len(t, []rune(c.Continuity.PreviousTail), TailLength)
}

func TestFoldDoesNotAlias(t *testing.T) {
	base := Continuity{EstablishedFacts: make([]string, 1, 8)}
	base.EstablishedFacts[0] = "x"
	a := Fold(base, doctree.Section{KeyEvents: []string{"a"}})
	b := Fold(base, doctree.Section{KeyEvents: []string{"b"}})
	assert.Equal(t, []string{"x", "a"}, a.EstablishedFacts)
	assert.Equal(t, []string{"x", "b"}, b.EstablishedFacts)
}

func TestBuildDispatch(t *testing.T) {
	c, err := Build(doctree.FromSequence(story()), "2")
	require.NoError(t, err)
	assert.Equal(t, "Two", c.Title())

	_, err = Build(doctree.FromSequence(story()), "two")
	assert.ErrorIs(t, err, doctree.ErrLeafNotFound)

	_, err = Build(doctree.Document{}, "x")
	assert.ErrorIs(t, err, doctree.ErrEmptyDoc)
}
