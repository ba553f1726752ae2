// Package render exports a document as plain text, Markdown or HTML.
package render

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/muesli/reflow/wordwrap"
	"github.com/yuin/goldmark"

	"github.com/dgallion1/novelgen/internal/doctree"
)

// Format names an export format.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
	FormatHTML     Format = "html"
)

// ParseFormat validates a format name. "md" and "txt" are accepted as aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "markdown", "md":
		return FormatMarkdown, nil
	case "text", "txt", "plain":
		return FormatText, nil
	case "html":
		return FormatHTML, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// Extension returns the file extension for f, with the dot.
func (f Format) Extension() string {
	switch f {
	case FormatText:
		return ".txt"
	case FormatHTML:
		return ".html"
	}
	return ".md"
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatText:
		return "text/plain; charset=utf-8"
	case FormatHTML:
		return "text/html; charset=utf-8"
	}
	return "text/markdown; charset=utf-8"
}

// Options tune an export. Wrap > 0 hard-wraps plain text at that width.
type Options struct {
	Wrap int
}

// Render exports doc in format f.
func Render(doc doctree.Document, f Format, opts Options) ([]byte, error) {
	switch f {
	case FormatText:
		text := PlainText(doc)
		if opts.Wrap > 0 {
			text = wordwrap.String(text, opts.Wrap)
		}
		return []byte(text), nil
	case FormatHTML:
		return HTML(doc)
	case FormatMarkdown:
		return []byte(Markdown(doc)), nil
	}
	return nil, fmt.Errorf("unknown export format %q", f)
}

// PlainText is the title followed by every leaf's content in document order,
// separated by blank lines. Leaves without content are skipped.
func PlainText(doc doctree.Document) string {
	parts := []string{doc.Title()}
	switch doc.Kind {
	case doctree.KindTree:
		for _, l := range doc.Tree.Leaves() {
			if c := strings.TrimSpace(l.Content); c != "" {
				parts = append(parts, c)
			}
		}
	case doctree.KindSequence:
		for _, s := range doc.Sequence.Sections {
			if c := strings.TrimSpace(s.Content); c != "" {
				parts = append(parts, c)
			}
		}
	}
	return strings.Join(parts, "\n\n") + "\n"
}

// Markdown renders the title as a level-one heading and each node as a
// heading one level deeper than its parent, capped at level six.
func Markdown(doc doctree.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", doc.Title())
	switch doc.Kind {
	case doctree.KindTree:
		if s := strings.TrimSpace(doc.Tree.Summary); s != "" {
			fmt.Fprintf(&b, "\n> %s\n", strings.ReplaceAll(s, "\n", "\n> "))
		}
		writeNodes(&b, doc.Tree.Children, 2)
	case doctree.KindSequence:
		for _, s := range doc.Sequence.Sections {
			fmt.Fprintf(&b, "\n## %s\n", s.Title)
			if c := strings.TrimSpace(s.Content); c != "" {
				fmt.Fprintf(&b, "\n%s\n", c)
			}
		}
	}
	return b.String()
}

func writeNodes(b *strings.Builder, nodes []doctree.Node, depth int) {
	level := min(depth, 6)
	for _, n := range nodes {
		fmt.Fprintf(b, "\n%s %s\n", strings.Repeat("#", level), n.Title)
		if c := strings.TrimSpace(n.Content); c != "" {
			fmt.Fprintf(b, "\n%s\n", c)
		}
		writeNodes(b, n.Children, depth+1)
	}
}

// HTML converts the Markdown export to a standalone HTML page.
func HTML(doc doctree.Document) ([]byte, error) {
	var body bytes.Buffer
	if err := goldmark.Convert([]byte(Markdown(doc)), &body); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	var out bytes.Buffer
	out.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>")
	out.WriteString(htmlEscaper.Replace(doc.Title()))
	out.WriteString("</title>\n</head>\n<body>\n")
	out.Write(body.Bytes())
	out.WriteString("</body>\n</html>\n")
	return out.Bytes(), nil
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&#34;")

var (
	slugInvalid = regexp.MustCompile(`[^a-z0-9-]`)
	slugDashes  = regexp.MustCompile(`-+`)
)

// Slug converts a title to a file-name-safe slug. It returns "untitled" when
// nothing usable remains.
func Slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugInvalid.ReplaceAllString(s, "-")
	s = slugDashes.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 50 {
		s = strings.TrimRight(s[:50], "-")
	}
	if s == "" {
		return "untitled"
	}
	return s
}

// Filename is the suggested download name for doc in format f.
func Filename(doc doctree.Document, f Format) string {
	return Slug(doc.Title()) + f.Extension()
}
