package doctree

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withCountingIDs(t *testing.T) {
	t.Helper()
	prev := newID
	n := 0
	newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	t.Cleanup(func() { newID = prev })
}

func TestNormalizeTree(t *testing.T) {
	withCountingIDs(t)

	doc := FromTree(Tree{Title: "T", Children: []Node{
		{Title: "A", NeedsSubdivision: true},
		{Title: "B", NeedsSubdivision: false, Content: "stray", Children: []Node{
			{ID: "dup", Title: "B1"},
			{ID: "dup", Title: "B2"},
		}},
	}})

	out := Normalize(doc)
	require.NoError(t, Validate(out))

	a := out.Tree.Children[0]
	assert.False(t, a.NeedsSubdivision, "leaf cannot need subdivision")
	assert.NotEmpty(t, a.ID)

	b := out.Tree.Children[1]
	assert.True(t, b.NeedsSubdivision)
	assert.Empty(t, b.Content)
	assert.Equal(t, "dup", b.Children[0].ID)
	assert.NotEqual(t, "dup", b.Children[1].ID)

	// The input is not modified.
	assert.Empty(t, doc.Tree.Children[0].ID)
}

func TestNormalizeSequenceRenumbers(t *testing.T) {
	doc := FromSequence(Sequence{Sections: []Section{
		{SectionNumber: 1, Title: "One"},
		{SectionNumber: 1, Title: "Two"},
		{Title: "Three"},
	}})
	out := Normalize(doc)
	require.NoError(t, Validate(out))
	for i, s := range out.Sequence.Sections {
		assert.Equal(t, i+1, s.SectionNumber)
		assert.NotNil(t, s.KeyEvents)
	}

	kept := Normalize(FromSequence(Sequence{Sections: []Section{{SectionNumber: 4}, {SectionNumber: 7}}}))
	assert.Equal(t, 4, kept.Sequence.Sections[0].SectionNumber)
	assert.Equal(t, 7, kept.Sequence.Sections[1].SectionNumber)
}

func TestValidateReportsViolations(t *testing.T) {
	doc := FromTree(Tree{Children: []Node{
		{ID: "a", Title: "A", NeedsSubdivision: true},
		{ID: "a", Title: "B"},
		{Title: "C"},
	}})
	err := Validate(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needsSubdivision without children")
	assert.Contains(t, err.Error(), "duplicate id")
	assert.Contains(t, err.Error(), "missing id")

	assert.ErrorIs(t, Validate(Document{}), ErrEmptyDoc)
}

func TestOutlineStripsContent(t *testing.T) {
	tree := mixedTree()
	leaves := tree.Leaves()
	for i := range leaves {
		leaves[i].Content = "text"
	}
	doc := FromTree(tree.Rebuild(leaves))

	out := Outline(doc)
	for _, l := range out.Tree.Leaves() {
		assert.Empty(t, l.Content)
	}
	assert.Equal(t, "text", doc.Tree.Leaves()[0].Content)
}

func TestLookup(t *testing.T) {
	doc := FromTree(mixedTree())

	key, err := Lookup(doc, "d")
	require.NoError(t, err)
	assert.Equal(t, "d", key)

	key, err = Lookup(doc, "C")
	require.NoError(t, err)
	assert.Equal(t, "c", key)

	_, err = Lookup(doc, "Part")
	assert.ErrorIs(t, err, ErrLeafNotFound, "internal nodes are not leaves")

	dup := FromTree(Tree{Children: []Node{leaf("x", "Same"), leaf("y", "Same")}})
	_, err = Lookup(dup, "Same")
	assert.ErrorIs(t, err, ErrAmbiguousKey)

	seq := FromSequence(Sequence{Sections: []Section{{SectionNumber: 1, Title: "Dawn"}, {SectionNumber: 2, Title: "Dusk"}}})
	key, err = Lookup(seq, "2")
	require.NoError(t, err)
	assert.Equal(t, "2", key)
	key, err = Lookup(seq, "Dawn")
	require.NoError(t, err)
	assert.Equal(t, "1", key)
}

func TestUpdateNode(t *testing.T) {
	doc := FromTree(mixedTree())
	summary := "rewritten"
	content := "prose"

	out, err := UpdateNode(doc, "q", Patch{Summary: &summary})
	require.NoError(t, err)
	assert.Equal(t, "rewritten", out.Tree.Children[1].Children[1].Summary)

	_, err = UpdateNode(doc, "q", Patch{Content: &content})
	assert.ErrorIs(t, err, ErrNotLeaf)

	out, err = UpdateNode(doc, "e", Patch{Content: &content})
	require.NoError(t, err)
	assert.Equal(t, "prose", out.Tree.Children[2].Content)

	_, err = UpdateNode(doc, "nope", Patch{Summary: &summary})
	assert.ErrorIs(t, err, ErrLeafNotFound)

	seq := FromSequence(Sequence{Sections: []Section{{SectionNumber: 1, Title: "Dawn"}}})
	out, err = UpdateNode(seq, "1", Patch{Content: &content})
	require.NoError(t, err)
	assert.Equal(t, "prose", out.Sequence.Sections[0].Content)
}

func TestParseGenre(t *testing.T) {
	g, err := ParseGenre("short-story")
	require.NoError(t, err)
	assert.Equal(t, KindSequence, g.Kind())
	assert.Equal(t, KindTree, GenreTextbook.Kind())

	_, err = ParseGenre("poem")
	assert.Error(t, err)
}
