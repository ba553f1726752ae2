package prompt

import (
	"fmt"
	"strings"

	"github.com/dgallion1/novelgen/internal/budget"
	"github.com/dgallion1/novelgen/internal/doctree"
	"github.com/dgallion1/novelgen/internal/gencontext"
)

func storyStructure(settings string, target int) string {
	return fmt.Sprintf(`You design the structure of short stories. Create the structure of a story with the following settings.

[Settings]
%s

[Instructions]
1. Divide the story into 4 to 8 sections.
2. Each section should be 1000 to 4000 characters, and together they must add up to the target of %d characters.
3. Build an effective arc with an introduction, development, a turn and a conclusion.
4. Keep a natural chronological flow.

Output the structure in this JSON format:

`+"```json"+`
{
  "title": "Story title",
  "totalTargetLength": %d,
  "timespan": "present day",
  "premise": "the premise of the story in 3 or 4 sentences",
  "climaxPoint": "the moment of climax",
  "resolution": "the direction of the ending",
  "sections": [
    {
      "sectionNumber": 1,
      "title": "Section title",
      "summary": "what happens in this section",
      "targetLength": 2000,
      "timeOfDay": "morning/noon/evening/night/late night",
      "location": "a concrete place",
      "keyEvents": ["event 1", "event 2"],
      "emotionalTone": "tension/calm/unease/hope/despair",
      "purposeInStory": "introduction/development/turning point/climax/ending",
      "transitionNote": "how this section leads into the next"
    }
  ]
}
`+"```"+`

Notes:
- The targetLength values must add up to %d.
- Key events should be focused and memorable.
- Show the passage of time and changes of place naturally.
- Aim for the resonance and suggestion that short fiction does best.
`, settings, target, target, target)
}

func sectionContent(settings string, c gencontext.Context) Prompt {
	sec := c.Section
	cont := c.Continuity
	if cont == nil {
		cont = &gencontext.Continuity{}
	}

	secondary := fmt.Sprintf("You are writing a short story with the following settings.\n\n[Settings]\n%s\n\n[Overall structure]\n```json\n%s\n```\n", settings, c.Plan)

	var b strings.Builder
	fmt.Fprintf(&b, "Now write section %d.\n\n", sec.SectionNumber)
	b.WriteString("[Section]\n")
	fmt.Fprintf(&b, "Title: %s\n", sec.Title)
	fmt.Fprintf(&b, "Target length: %d characters (strict)\n", sec.TargetLength)
	fmt.Fprintf(&b, "Summary: %s\n", sec.Summary)
	fmt.Fprintf(&b, "Time of day: %s\n", orDefault(sec.TimeOfDay, "unspecified"))
	fmt.Fprintf(&b, "Location: %s\n", orDefault(sec.Location, "continues from the previous section"))
	fmt.Fprintf(&b, "Role in the story: %s\n\n", sec.PurposeInStory)

	b.WriteString("[What happens in this section]\n")
	for _, e := range sec.KeyEvents {
		fmt.Fprintf(&b, "- %s\n", e)
	}
	fmt.Fprintf(&b, "\n[Emotional tone]\n%s\n\n", sec.EmotionalTone)

	b.WriteString("[Current situation]\n")
	if cont.PreviousSummary != "" {
		fmt.Fprintf(&b, "Summary of the previous section: %s\n", cont.PreviousSummary)
	}
	fmt.Fprintf(&b, "Current mood: %s\n", orDefault(cont.CurrentMood, "not yet established"))
	fmt.Fprintf(&b, "Time progression: %s\n\n", orDefault(cont.TimeProgression, "not yet established"))
	b.WriteString("Established facts:\n")
	for _, f := range cont.EstablishedFacts {
		fmt.Fprintf(&b, "- %s\n", f)
	}

	fmt.Fprintf(&b, `
[Writing instructions]
1. Write %d characters (within 30 characters either way).
2. Include every event that must happen in this section.
3. Convey the emotional tone.
4. Keep the description dense.
5. Show the passage of time and changes of place naturally.
6. Favor readability over poetic flourish.
7. Keep continuity with the previous section.
8. In key scenes, render bodily movement, momentary sensation and the flow of time in close detail.
`, sec.TargetLength)

	if cont.PreviousTail != "" {
		fmt.Fprintf(&b, "\n[Preceding text]\nContinue directly from this:\n\"%s...\"\n", cont.PreviousTail)
	}
	b.WriteString("\nOutput only the body text, with no section title or recap.")

	return Prompt{System: storySystem, Secondary: secondary, User: b.String()}
}

// Consistency asks for a JSON review of a finished work.
func Consistency(genre doctree.Genre, settings, fullText string, targetLength int) Prompt {
	if targetLength <= 0 {
		targetLength = budget.Length(fullText)
	}
	user := fmt.Sprintf(`Review the following work for consistency and quality.

[Settings]
%s

[Work]
%s

[Checks]
1. Length against the target
2. Consistency of time and period
3. Expression of the theme
4. Consistency of characters
5. Logical flow of places and time
6. Overall completeness

Output the review in this JSON format:
`+"```json"+`
{
  "lengthCheck": {"target": %d, "actual": %d, "withinRange": true},
  "consistencyCheck": {
    "timeConsistency": {"score": 1, "issues": []},
    "characterConsistency": {"score": 1, "issues": []},
    "locationFlow": {"score": 1, "issues": []},
    "themeExpression": {"score": 1, "notes": ""}
  },
  "quality": {
    "density": {"score": 1, "comment": ""},
    "ending": {"score": 1, "comment": ""},
    "atmosphere": {"score": 1, "comment": ""},
    "impact": {"score": 1, "comment": ""}
  },
  "overallAssessment": {
    "score": 1,
    "recommendation": "accept/minor_revise/major_revise/rewrite",
    "keyStrengths": [],
    "priorityImprovements": []
  }
}
`+"```", settings, fullText, targetLength, budget.Length(fullText))
	return Prompt{System: System(genre), User: user}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
