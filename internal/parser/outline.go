package parser

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/novelgen/internal/budget"
	"github.com/dgallion1/novelgen/internal/doctree"
)

// ErrEmptyOutline is returned when a document holds nothing to import.
var ErrEmptyOutline = errors.New("document has no headings or text")

const maxTitleRunes = 60

// Import parses r and turns its outline into an empty work of genre.
// For short stories, target is split evenly across the sections.
func Import(r io.Reader, filename string, genre doctree.Genre, target int) (doctree.Document, error) {
	p, err := ForFile(filename)
	if err != nil {
		return doctree.Document{}, err
	}
	o, err := p.Parse(r, filename)
	if err != nil {
		return doctree.Document{}, err
	}
	return ToDocument(o, genre, target)
}

// ToDocument converts o into a document skeleton. Heading text becomes the
// summary of its node. A single top-level heading is taken as the work's own
// title when it has subheadings.
func ToDocument(o *Outline, genre doctree.Genre, target int) (doctree.Document, error) {
	title, summary, headings := o.Title, o.Text, o.Headings
	if len(headings) == 1 && len(headings[0].Children) > 0 {
		top := headings[0]
		title, headings = titleOf(top), top.Children
		summary = strings.TrimSpace(summary + "\n\n" + top.Text)
	}
	if len(headings) == 0 {
		if strings.TrimSpace(summary) == "" {
			return doctree.Document{}, ErrEmptyOutline
		}
		headings = []*Heading{{Title: title, Text: summary}}
	}

	var doc doctree.Document
	if genre.Kind() == doctree.KindSequence {
		var leaves []*Heading
		for _, h := range headings {
			leaves = appendLeafHeadings(leaves, h)
		}
		per := 0
		if target > 0 {
			per = target / len(leaves)
		}
		seq := doctree.Sequence{Title: title, Premise: summary, TotalTargetLength: target}
		for i, h := range leaves {
			seq.Sections = append(seq.Sections, doctree.Section{
				SectionNumber: i + 1,
				Title:         titleOf(h),
				Summary:       h.Text,
				TargetLength:  per,
			})
		}
		doc = doctree.FromSequence(seq)
	} else {
		doc = doctree.FromTree(doctree.Tree{Title: title, Summary: summary, Children: toNodes(headings)})
	}
	return doctree.Normalize(doc), nil
}

func appendLeafHeadings(out []*Heading, h *Heading) []*Heading {
	if len(h.Children) == 0 {
		return append(out, h)
	}
	for _, c := range h.Children {
		out = appendLeafHeadings(out, c)
	}
	return out
}

func toNodes(headings []*Heading) []doctree.Node {
	nodes := make([]doctree.Node, 0, len(headings))
	for _, h := range headings {
		n := doctree.Node{Title: titleOf(h), Summary: h.Text, Pages: 1}
		if len(h.Children) > 0 {
			n.Children = toNodes(h.Children)
			n.Pages = 0
			for _, c := range n.Children {
				n.Pages += c.Pages
			}
		}
		nodes = append(nodes, n)
	}
	return nodes
}

func titleOf(h *Heading) string {
	if t := strings.TrimSpace(h.Title); t != "" {
		return t
	}
	first, _, _ := strings.Cut(strings.TrimSpace(h.Text), "\n")
	r := []rune(first)
	if len(r) > maxTitleRunes {
		return string(r[:maxTitleRunes]) + "..."
	}
	return first
}

// Flatten renders o as plain text with each heading on its own line.
func Flatten(o *Outline) string {
	var parts []string
	if o.Text != "" {
		parts = append(parts, o.Text)
	}
	var walk func([]*Heading)
	walk = func(hs []*Heading) {
		for _, h := range hs {
			if h.Title != "" {
				parts = append(parts, h.Title)
			}
			if h.Text != "" {
				parts = append(parts, h.Text)
			}
			walk(h.Children)
		}
	}
	walk(o.Headings)
	return strings.Join(parts, "\n\n")
}

// ReadSettings returns the text of any supported document for use as basic
// settings, with the estimated token count so callers can warn about
// oversized input.
func ReadSettings(r io.Reader, filename string) (string, int, error) {
	p, err := ForFile(filename)
	if err != nil {
		return "", 0, err
	}
	o, err := p.Parse(r, filename)
	if err != nil {
		return "", 0, fmt.Errorf("read settings %s: %w", filename, err)
	}
	text := Flatten(o)
	if strings.TrimSpace(text) == "" {
		return "", 0, ErrEmptyOutline
	}
	return text, budget.EstimateTokens(text), nil
}
