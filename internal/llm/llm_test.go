package llm

import (
	"context"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProvider(t *testing.T) {
	for _, name := range []string{"claude", "deepseek", "xai"} {
		p, err := ParseProvider(name)
		require.NoError(t, err)
		assert.Equal(t, name, string(p))
	}
	_, err := ParseProvider("gemini")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(Config{Provider: Claude})
	assert.ErrorIs(t, err, ErrProviderNotConfigured)

	_, err = New(Config{Provider: "other", APIKey: "k"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry([]Config{
		{Provider: Claude, APIKey: "a"},
		{Provider: DeepSeek},
		{Provider: XAI, APIKey: "x"},
	}, NewStats(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"claude", "xai"}, r.Names())

	b, err := r.Backend("xai")
	require.NoError(t, err)
	assert.Equal(t, "xai", b.Name())

	_, err = r.Backend("deepseek")
	assert.ErrorIs(t, err, ErrProviderNotConfigured)

	_, err = r.Backend("nope")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

type fakeBackend struct {
	frags []string
	err   error
}

func (f fakeBackend) Name() string { return "fake" }

func (f fakeBackend) Generate(context.Context, Request) (string, error) { return "x", f.err }

func (f fakeBackend) Stream(context.Context, Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, s := range f.frags {
			if !yield(s, nil) {
				return
			}
		}
		if f.err != nil {
			yield("", f.err)
		}
	}
}

func TestInstrumentRecordsCalls(t *testing.T) {
	stats := NewStats(time.Hour)
	b := Instrument(fakeBackend{frags: []string{"a", "b"}}, stats)

	_, err := b.Generate(context.Background(), Request{})
	require.NoError(t, err)
	for range b.Stream(context.Background(), Request{}) {
	}
	failing := Instrument(fakeBackend{err: &BackendError{Provider: "fake", StatusCode: 500}}, stats)
	_, _ = failing.Generate(context.Background(), Request{})

	snap := stats.Snapshot()
	assert.Equal(t, 2, snap.Count)
	assert.Equal(t, 1, snap.Errors)
	assert.Contains(t, stats.ByProvider(), "fake")
}
