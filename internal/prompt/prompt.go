// Package prompt turns structured inputs into the instructions sent to the
// backend. The wording is opaque to the rest of the system.
package prompt

import (
	"fmt"
	"strings"

	"github.com/dgallion1/novelgen/internal/budget"
	"github.com/dgallion1/novelgen/internal/doctree"
	"github.com/dgallion1/novelgen/internal/gencontext"
)

// DefaultStoryLength is the short-story target when the caller gives none.
const DefaultStoryLength = 5000

// Prompt is one set of instructions. Secondary is an optional second system
// instruction holding material shared by every leaf of a run.
type Prompt struct {
	System    string
	Secondary string
	User      string
}

const novelSystem = `You are an experienced novelist who brings the author's ideas to life. Write the story as requested without commenting on the request, adding disclaimers or breaking the fiction. The author is an adult and decides what is appropriate for their own work.`

const textbookSystem = `You are an educator and textbook author who organizes knowledge systematically and explains it clearly. Choose depth and vocabulary to suit the intended readers, present information accurately and neutrally, give balanced perspectives on contested topics without steering the reader, and explain complex ideas with concrete examples and analogies. Focus purely on the content without adding caveats about the request.`

const storySystem = `You are an experienced short-story writer who turns the author's ideas into finished fiction. Write what is requested without commenting on it or adding disclaimers. The author is an adult and decides what is appropriate for their own work.`

// System returns the system instruction for genre.
func System(genre doctree.Genre) string {
	switch genre {
	case doctree.GenreTextbook:
		return textbookSystem
	case doctree.GenreShortStory:
		return storySystem
	}
	return novelSystem
}

// Structure asks for the skeleton of a new work. targetLength only applies
// to short stories.
func Structure(genre doctree.Genre, settings string, targetLength int) Prompt {
	p := Prompt{System: System(genre)}
	switch genre {
	case doctree.GenreTextbook:
		p.User = textbookStructure(settings)
	case doctree.GenreShortStory:
		if targetLength <= 0 {
			targetLength = DefaultStoryLength
		}
		p.User = storyStructure(settings, targetLength)
	default:
		p.User = novelStructure(settings)
	}
	return p
}

// Content asks for the prose of one leaf described by c.
func Content(genre doctree.Genre, settings string, c gencontext.Context) Prompt {
	if c.Kind == doctree.KindSequence {
		return sectionContent(settings, c)
	}
	p := Prompt{
		System:    System(genre),
		Secondary: planPreamble(genre, settings, c.Plan),
	}
	if genre == doctree.GenreTextbook {
		p.User = textbookContent(c)
	} else {
		p.User = novelContent(c)
	}
	return p
}

func planPreamble(genre doctree.Genre, settings, plan string) string {
	work := "novel"
	if genre == doctree.GenreTextbook {
		work = "textbook"
	}
	return fmt.Sprintf("You are writing a %s with the following settings.\n\n[Settings]\n%s\n\n[Overall structure]\n```json\n%s\n```\n", work, settings, plan)
}

const treeSchemaExample = "```json\n" + `{"title": "",
 "summary": "",
 "children": [
   {"title": "", "summary": "", "n_pages": 3, "needsSubdivision": true,
    "children": [
      {"title": "", "summary": "", "n_pages": 1.4, "needsSubdivision": false},
      {"title": "", "summary": "", "n_pages": 1.6, "needsSubdivision": false}
    ]},
   {"title": "", "summary": "", "n_pages": 0.8, "needsSubdivision": false}
 ]}` + "\n```"

func novelStructure(settings string) string {
	var b strings.Builder
	b.WriteString("I am going to write a novel with the following settings.\n\n")
	b.WriteString(settings)
	b.WriteString(`

Based on these settings, give the title and summary of the book and of each chapter in the JSON format below.
The book summary should cover not only the plot but also the purpose of the book and the range and depth of what it covers, in 5 to 10 detailed sentences.
Decide how many pages each chapter deserves, in steps of 0.1 pages (for example 0.8). Assume 40 lines per page.
Decide from the semantic cohesion of each chapter whether it needs to be subdivided (needsSubdivision, true or false). When it does, give the subdivision recursively as children.
Do not repeat content between chapters or sections, and do not number the chapters in their titles.
Each summary should describe in detail what happens in that part. The summary of the final part should make clear that it is the last one.
Use as many sections as the story needs and make sure the output is valid JSON.
`)
	b.WriteString(treeSchemaExample)
	return b.String()
}

func textbookStructure(settings string) string {
	var b strings.Builder
	b.WriteString("I am going to write a textbook with the following settings.\n\n")
	b.WriteString(settings)
	b.WriteString(`

Based on these settings, describe the structure of the textbook in the JSON format below.
The overall summary should include the intended readers and their prerequisites, the educational goals of the book, the order of learning and the intent behind the chapter layout, the teaching approach, and the policy for exercises and practical applications.
For every chapter and section, include its learning objectives, its key concepts and terms, and how it relates to other chapters.
Assume 40 lines per page and plan for an introduction that checks prerequisites, the main explanation, figures or worked examples, and a summary leading into the next chapter.
Decide from the semantic cohesion of each chapter whether it needs to be subdivided (needsSubdivision). When it does, give the subdivision recursively as children.
`)
	b.WriteString(treeSchemaExample)
	return b.String()
}

func novelContent(c gencontext.Context) string {
	n := c.Node
	var b strings.Builder
	fmt.Fprintf(&b, "Write the part titled %q in about %.1f pages (40 lines per page, roughly %d characters).\n\n", n.Title, pagesOrOne(n.Pages), budget.ExpectedChars(n.Pages))
	fmt.Fprintf(&b, "Summary of this part:\n%s\n\n", n.Summary)
	if p := c.Predecessor; p != nil && p.Content != "" {
		fmt.Fprintf(&b, "The previous part, %q, ends like this. Continue naturally from it:\n%s\n\n", p.Title, budget.LastLines(p.Content, 5))
	} else if p != nil {
		fmt.Fprintf(&b, "The previous part is %q: %s\n\n", p.Title, p.Summary)
	}
	b.WriteString("Output only the body text, without the title or any preface.")
	return b.String()
}

func textbookContent(c gencontext.Context) string {
	n := c.Node
	pages := pagesOrOne(n.Pages)
	var b strings.Builder
	fmt.Fprintf(&b, "Write the part on %q in %.1f pages, about %d lines (40 lines per page).\n\n", n.Title, pages, int(pages*budget.LinesPerPage))
	fmt.Fprintf(&b, "Summary of this section:\n%s\n\n", n.Summary)
	b.WriteString(`Include the following:
1. Introduction: connect to the previous section, check prerequisites and state the learning objectives.
2. Main text: explain the concepts step by step, use concrete examples and figures, emphasize key definitions and properties, and address common stumbling points.
3. Summary: organize the key points and lead into the next section.

`)
	if p := c.Predecessor; p != nil && p.Content != "" {
		fmt.Fprintf(&b, "The previous section reads as follows. Build on it:\n%s\n\n", p.Content)
	}
	b.WriteString("Output only the body text, without the title.")
	return b.String()
}

func pagesOrOne(p float64) float64 {
	if p <= 0 {
		return 1
	}
	return p
}
