package extract

import (
	"fmt"
	"math"
	"regexp"

	"github.com/dgallion1/novelgen/internal/doctree"
)

const (
	minSections = 3
	maxSections = 6
)

// LintSequence reports advisory problems with a generated short-story plan.
// None of them prevents generation.
func LintSequence(s doctree.Sequence, targetLength int) []string {
	var issues []string
	if n := len(s.Sections); n < minSections {
		issues = append(issues, fmt.Sprintf("too few sections: %d (at least %d recommended)", n, minSections))
	} else if n > maxSections {
		issues = append(issues, fmt.Sprintf("too many sections: %d (at most %d recommended)", n, maxSections))
	}
	if targetLength > 0 {
		total := 0
		for _, sec := range s.Sections {
			total += sec.TargetLength
		}
		if math.Abs(float64(total-targetLength)) > float64(targetLength)*0.05 {
			issues = append(issues, fmt.Sprintf("section lengths sum to %d, target is %d", total, targetLength))
		}
	}
	return issues
}

var refusalPattern = regexp.MustCompile(
	`(?i)^\s*(i'm sorry|i am sorry|i apologi[sz]e|as an ai\b|i can(?:'t|not) (?:help|write|assist|continue|comply|create)|` +
		`申し訳(?:ありません|ございません))`,
)

// LooksLikeRefusal reports whether generated prose opens with a refusal or
// apology instead of the requested text.
func LooksLikeRefusal(text string) bool {
	return refusalPattern.MatchString(truncate(text, 200))
}
