package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/novelgen/internal/doctree"
)

const outlineMD = `# The Lighthouse

A keeper and a storm.

## Arrival

The keeper arrives.

## Storm

### Night

Wind rises.

### Dawn

Calm returns.
`

func TestImportTree(t *testing.T) {
	doc, err := Import(strings.NewReader(outlineMD), "plan.md", doctree.GenreNovel, 0)
	require.NoError(t, err)
	require.NoError(t, doctree.Validate(doc))

	assert.Equal(t, "The Lighthouse", doc.Title())
	assert.Equal(t, "A keeper and a storm.", doc.Tree.Summary)
	require.Len(t, doc.Tree.Children, 2)

	storm := doc.Tree.Children[1]
	assert.True(t, storm.NeedsSubdivision)
	assert.InDelta(t, 2.0, storm.Pages, 0.001)
	assert.Equal(t, []string{"The keeper arrives.", "Wind rises.", "Calm returns."}, summaries(doc.Tree.Leaves()))
}

func summaries(nodes []doctree.Node) []string {
	var out []string
	for _, n := range nodes {
		out = append(out, n.Summary)
	}
	return out
}

func TestImportSequence(t *testing.T) {
	doc, err := Import(strings.NewReader(outlineMD), "plan.md", doctree.GenreShortStory, 3000)
	require.NoError(t, err)
	require.Equal(t, doctree.KindSequence, doc.Kind)

	secs := doc.Sequence.Sections
	require.Len(t, secs, 3)
	assert.Equal(t, "Arrival", secs[0].Title)
	assert.Equal(t, 3, secs[2].SectionNumber)
	assert.Equal(t, 1000, secs[1].TargetLength)
	assert.Equal(t, 3000, doc.Sequence.TotalTargetLength)
}

func TestImportPlainTextTitles(t *testing.T) {
	doc, err := Import(strings.NewReader("Chapter one\nthings happen\n\nChapter two"), "ideas.txt", doctree.GenreNovel, 0)
	require.NoError(t, err)
	leaves := doc.Tree.Leaves()
	require.Len(t, leaves, 2)
	assert.Equal(t, "Chapter one", leaves[0].Title)
	assert.Equal(t, "Chapter two", leaves[1].Title)
}

func TestImportEmpty(t *testing.T) {
	_, err := Import(strings.NewReader("   "), "blank.md", doctree.GenreNovel, 0)
	assert.ErrorIs(t, err, ErrEmptyOutline)

	_, err = Import(strings.NewReader("x"), "book.epub", doctree.GenreNovel, 0)
	assert.Error(t, err)
}

func TestReadSettings(t *testing.T) {
	text, tokens, err := ReadSettings(strings.NewReader(outlineMD), "settings.md")
	require.NoError(t, err)
	assert.Contains(t, text, "The Lighthouse\n\nA keeper and a storm.\n\nArrival")
	assert.Positive(t, tokens)

	_, _, err = ReadSettings(strings.NewReader(""), "empty.txt")
	assert.ErrorIs(t, err, ErrEmptyOutline)
}
