// Package llmtest provides a scripted llm.Backend for tests.
package llmtest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/dgallion1/novelgen/internal/llm"
)

// Reply scripts one call. A stream yields Fragments in order and then Err,
// if set. A whole-result call returns Text (or the joined fragments) or Err.
type Reply struct {
	Text      string
	Fragments []string
	Err       error
}

// Backend replays scripted replies in call order. When the script runs out
// it falls back to Respond, and failing that to an error.
type Backend struct {
	name    string
	Respond func(req llm.Request) Reply

	mu       sync.Mutex
	replies  []Reply
	requests []llm.Request
}

// New returns a backend named name that answers with replies in order.
func New(name string, replies ...Reply) *Backend {
	return &Backend{name: name, replies: replies}
}

// Fragments is a shorthand for a streamed reply.
func Fragments(parts ...string) Reply { return Reply{Fragments: parts} }

func (b *Backend) Name() string { return b.name }

// Requests returns every request received so far.
func (b *Backend) Requests() []llm.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]llm.Request(nil), b.requests...)
}

func (b *Backend) next(req llm.Request) Reply {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	if len(b.replies) > 0 {
		r := b.replies[0]
		b.replies = b.replies[1:]
		return r
	}
	if b.Respond != nil {
		return b.Respond(req)
	}
	return Reply{Err: errors.New("llmtest: no scripted reply")}
}

func (b *Backend) Generate(ctx context.Context, req llm.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r := b.next(req)
	if r.Err != nil {
		return "", r.Err
	}
	if r.Text != "" {
		return r.Text, nil
	}
	return strings.Join(r.Fragments, ""), nil
}

func (b *Backend) Stream(ctx context.Context, req llm.Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		r := b.next(req)
		frags := r.Fragments
		if len(frags) == 0 && r.Text != "" {
			frags = []string{r.Text}
		}
		for _, f := range frags {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(f, nil) {
				return
			}
		}
		if r.Err != nil {
			yield("", r.Err)
		}
	}
}

// Resolver maps provider names to backends.
type Resolver map[string]llm.Backend

func (r Resolver) Backend(name string) (llm.Backend, error) {
	if _, err := llm.ParseProvider(name); err != nil {
		return nil, err
	}
	b, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", llm.ErrProviderNotConfigured, name)
	}
	return b, nil
}
