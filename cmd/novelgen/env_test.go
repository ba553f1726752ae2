package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/novelgen/internal/doctree"
	"github.com/dgallion1/novelgen/internal/generate"
)

func TestDocRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	doc := doctree.FromSequence(doctree.Sequence{Title: "Night Train", Sections: []doctree.Section{
		{SectionNumber: 1, Title: "Boarding", Content: "Steam."},
	}})
	require.NoError(t, writeDoc(path, doc))

	got, err := readDoc(path)
	require.NoError(t, err)
	assert.Equal(t, doctree.KindSequence, got.Kind)
	assert.Equal(t, "Steam.", got.Sequence.Sections[0].Content)
	assert.NotNil(t, got.Sequence.Sections[0].KeyEvents, "documents are normalized on read")
}

func TestReadDocRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, []byte("null"), 0o644))
	_, err := readDoc(path)
	assert.ErrorIs(t, err, doctree.ErrEmptyDoc)

	_, err = readDoc("")
	assert.Error(t, err)
}

func TestReadContentTrimsTrailingNewlines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leaf.txt")
	require.NoError(t, os.WriteFile(path, []byte("Fog on the platform.\n\n"), 0o644))
	got, err := readContent(path)
	require.NoError(t, err)
	assert.Equal(t, "Fog on the platform.", got)
}

func TestPrinter(t *testing.T) {
	var out, status bytes.Buffer
	p := newPrinter(&out, &status)

	p.observe(generate.Event{Type: generate.EventLeafStarted, Title: "Boarding", Completed: 0, Total: 2})
	p.observe(generate.Event{Type: generate.EventChunk, Fragment: "Steam ", Accumulated: "Steam "})
	p.observe(generate.Event{Type: generate.EventChunk, Fragment: "rises.", Accumulated: "Steam rises."})
	p.observe(generate.Event{Type: generate.EventComplete, Title: "Boarding", Content: "Steam rises.", Refusal: true})
	p.observe(generate.Event{Type: generate.EventError, Title: "Arrival", Message: "Generation failed. Please try again."})

	assert.Equal(t, "\n\n## Boarding\n\nSteam rises.", out.String())
	assert.Contains(t, status.String(), "1/2 Boarding")
	assert.Contains(t, status.String(), "reads like a refusal")
	assert.Contains(t, status.String(), `failed at "Arrival"`)
}

func TestPrinterRecoversDroppedChunks(t *testing.T) {
	var out, status bytes.Buffer
	p := newPrinter(&out, &status)

	p.observe(generate.Event{Type: generate.EventLeafStarted, Title: "Boarding", Total: 2})
	p.observe(generate.Event{Type: generate.EventChunk, Fragment: " Steam ", Accumulated: " Steam "})
	// "rises " was dropped; the next chunk still carries it.
	p.observe(generate.Event{Type: generate.EventChunk, Fragment: "over ", Accumulated: " Steam rises over "})
	// The last two chunks were dropped.
	p.observe(generate.Event{Type: generate.EventComplete, Title: "Boarding", Content: "Steam rises over the platform."})

	p.observe(generate.Event{Type: generate.EventLeafStarted, Title: "Arrival", Completed: 1, Total: 2})
	p.observe(generate.Event{Type: generate.EventComplete, Title: "Arrival", Content: "Fog."})

	assert.Equal(t, "\n\n## Boarding\n\n Steam rises over the platform.\n\n## Arrival\n\nFog.", out.String())
}

func TestParseGenre(t *testing.T) {
	g, err := parseGenre("", doctree.GenreTextbook)
	require.NoError(t, err)
	assert.Equal(t, doctree.GenreTextbook, g)

	_, err = parseGenre("poem", doctree.GenreNovel)
	assert.Error(t, err)
}
