package llm

import (
	"context"
	"iter"
	"time"
)

type instrumented struct {
	Backend
	stats *Stats
}

// Instrument wraps b so every call is recorded in stats. A stream is timed
// from the request to its last fragment.
func Instrument(b Backend, stats *Stats) Backend {
	return &instrumented{Backend: b, stats: stats}
}

func (i *instrumented) Generate(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	text, err := i.Backend.Generate(ctx, req)
	i.stats.Record(i.Name(), time.Since(start).Milliseconds(), err != nil)
	return text, err
}

func (i *instrumented) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	inner := i.Backend.Stream(ctx, req)
	return func(yield func(string, error) bool) {
		start := time.Now()
		failed := false
		for frag, err := range inner {
			if err != nil {
				failed = true
			}
			if !yield(frag, err) {
				break
			}
		}
		i.stats.Record(i.Name(), time.Since(start).Milliseconds(), failed)
	}
}
