// Package generr classifies generation failures by the phase in which they
// occurred and derives the short message shown to end users.
package generr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Phase is the generation phase a failure belongs to.
type Phase string

const (
	PhaseStructure Phase = "structure_generation"
	PhaseContent   Phase = "content_generation"
	PhaseBackend   Phase = "backend_invocation"
	PhaseParsing   Phase = "response_parsing"
	PhaseUnknown   Phase = "unknown"
)

// Error wraps a cause with its phase and the data of the step that failed
// (leaf title, attempted payload, provider).
type Error struct {
	Phase   Phase
	Message string
	Context map[string]any
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Phase))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" [")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error without a cause.
func New(phase Phase, msg string, ctx map[string]any) *Error {
	return &Error{Phase: phase, Message: msg, Context: ctx}
}

// Wrap classifies err under phase. An err that is already classified is
// returned unchanged so the innermost classification wins. Wrap(nil) is nil.
func Wrap(err error, phase Phase, msg string, ctx map[string]any) error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return err
	}
	return &Error{Phase: phase, Message: msg, Context: ctx, Err: err}
}

// PhaseOf returns the phase of the outermost classified error in err's
// chain, or PhaseUnknown.
func PhaseOf(err error) Phase {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Phase
	}
	return PhaseUnknown
}

// UserMessage maps err to a short non-technical message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return "Generation was stopped."
	}
	switch PhaseOf(err) {
	case PhaseBackend:
		return "The text generation service failed. Please retry after a while."
	case PhaseParsing:
		return "The generated structure could not be read. Please contact the administrator."
	}
	return "Generation failed. Please try again."
}
