// Package parser reads uploaded documents into an outline of headings and
// text. An outline becomes either the skeleton of a new work or the flattened
// basic settings for one.
package parser

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Outline is the heading structure of a document. Text holds anything that
// appeared before the first heading.
type Outline struct {
	Title    string
	Text     string
	Headings []*Heading
}

// Heading is one titled block. Page is set only by paginated formats.
type Heading struct {
	Title    string
	Text     string
	Page     int
	Children []*Heading
}

// Parser converts raw document bytes into an Outline.
type Parser interface {
	Parse(r io.Reader, filename string) (*Outline, error)
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
}

// ForFile returns the appropriate parser for a filename.
func ForFile(filename string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return &TextParser{}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	case ".csv":
		return &CSVParser{}, nil
	case ".html", ".htm":
		return &HTMLParser{}, nil
	case ".pdf":
		return &PDFParser{}, nil
	case ".docx":
		return &DOCXParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

func baseTitle(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// builder nests headings by level as they are encountered and attaches the
// text between headings to the most recent one.
type builder struct {
	root  Heading
	stack []entry
	text  strings.Builder
}

type entry struct {
	h     *Heading
	level int
}

func newBuilder() *builder {
	b := &builder{}
	b.stack = []entry{{h: &b.root, level: 0}}
	return b
}

func (b *builder) heading(level int, title string) {
	b.flush()
	h := &Heading{Title: title}
	for len(b.stack) > 1 && b.stack[len(b.stack)-1].level >= level {
		b.stack = b.stack[:len(b.stack)-1]
	}
	parent := b.stack[len(b.stack)-1].h
	parent.Children = append(parent.Children, h)
	b.stack = append(b.stack, entry{h: h, level: level})
}

func (b *builder) paragraph(t string) {
	t = strings.TrimSpace(t)
	if t == "" {
		return
	}
	if b.text.Len() > 0 {
		b.text.WriteString("\n\n")
	}
	b.text.WriteString(t)
}

func (b *builder) flush() {
	t := strings.TrimSpace(b.text.String())
	b.text.Reset()
	if t == "" {
		return
	}
	top := b.stack[len(b.stack)-1].h
	if top.Text != "" {
		top.Text += "\n\n" + t
	} else {
		top.Text = t
	}
}

func (b *builder) outline(title string) *Outline {
	b.flush()
	return &Outline{Title: title, Text: b.root.Text, Headings: b.root.Children}
}
