// Package llm adapts the supported text-generation providers to one
// interface with a whole-result call and an incremental call.
package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"sort"
	"sync/atomic"
	"time"
)

const defaultHTTPTimeout = 5 * time.Minute

// Provider names a supported text-generation service.
type Provider string

const (
	Claude   Provider = "claude"
	DeepSeek Provider = "deepseek"
	XAI      Provider = "xai"
)

// Providers is the fixed set of names callers may select.
var Providers = []Provider{Claude, DeepSeek, XAI}

var (
	ErrUnknownProvider       = errors.New("unknown provider")
	ErrProviderNotConfigured = errors.New("provider not configured")
	ErrStreamConsumed        = errors.New("stream already consumed")
)

// ParseProvider validates a provider name.
func ParseProvider(s string) (Provider, error) {
	for _, p := range Providers {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

// Request carries the inputs of one generation call.
type Request struct {
	System      string
	Secondary   string // optional second system instruction
	User        string
	MaxTokens   int
	Temperature float64
}

// Backend is one provider. Stream returns a lazy, finite sequence of text
// fragments that ends when the provider signals completion. A stream can be
// ranged over once; a second range yields ErrStreamConsumed. Breaking out of
// the range releases the underlying connection.
type Backend interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request) iter.Seq2[string, error]
}

// Resolver looks a backend up by provider name.
type Resolver interface {
	Backend(name string) (Backend, error)
}

// Config configures one provider client.
type Config struct {
	Provider   Provider
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// New builds the client for cfg.Provider, filling in the provider's
// default endpoint and model.
func New(cfg Config) (Backend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: %s has no api key", ErrProviderNotConfigured, cfg.Provider)
	}
	hc := pickHTTPClient(cfg.HTTPClient, cfg.Timeout)
	switch cfg.Provider {
	case Claude:
		return &anthropicClient{
			name:    string(Claude),
			baseURL: orDefault(cfg.BaseURL, "https://api.anthropic.com"),
			apiKey:  cfg.APIKey,
			model:   orDefault(cfg.Model, "claude-3-5-sonnet-latest"),
			client:  hc,
			timeout: orDefaultTimeout(cfg.Timeout),
		}, nil
	case XAI:
		return &anthropicClient{
			name:    string(XAI),
			baseURL: orDefault(cfg.BaseURL, "https://api.x.ai"),
			apiKey:  cfg.APIKey,
			model:   orDefault(cfg.Model, "grok-4"),
			client:  hc,
			timeout: orDefaultTimeout(cfg.Timeout),
		}, nil
	case DeepSeek:
		return &openAIClient{
			name:    string(DeepSeek),
			baseURL: orDefault(cfg.BaseURL, "https://api.deepseek.com"),
			apiKey:  cfg.APIKey,
			model:   orDefault(cfg.Model, "deepseek-chat"),
			client:  hc,
			timeout: orDefaultTimeout(cfg.Timeout),
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
}

// pickHTTPClient bounds only the wait for response headers, so a long stream
// is never cut off. Generate adds its own deadline over the whole call.
func pickHTTPClient(custom *http.Client, timeout time.Duration) *http.Client {
	if custom != nil {
		return custom
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = orDefaultTimeout(timeout)
	return &http.Client{Transport: tr}
}

func orDefaultTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultHTTPTimeout
	}
	return d
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Registry holds the configured backends, each instrumented with stats.
type Registry struct {
	backends map[Provider]Backend
	stats    *Stats
}

// NewRegistry builds a backend for every config. Providers without an API
// key are skipped so a deployment can enable a subset.
func NewRegistry(cfgs []Config, stats *Stats) (*Registry, error) {
	r := &Registry{backends: make(map[Provider]Backend), stats: stats}
	for _, cfg := range cfgs {
		if cfg.APIKey == "" {
			continue
		}
		b, err := New(cfg)
		if err != nil {
			return nil, err
		}
		r.Register(b)
	}
	return r, nil
}

// Register adds or replaces a backend under its own name.
func (r *Registry) Register(b Backend) {
	if r.stats != nil {
		b = Instrument(b, r.stats)
	}
	r.backends[Provider(b.Name())] = b
}

// Backend resolves a provider name. An unknown name or a known provider
// without credentials is a configuration error.
func (r *Registry) Backend(name string) (Backend, error) {
	p, err := ParseProvider(name)
	if err != nil {
		return nil, err
	}
	b, ok := r.backends[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, p)
	}
	return b, nil
}

// Names lists the configured providers in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.backends))
	for p := range r.backends {
		names = append(names, string(p))
	}
	sort.Strings(names)
	return names
}

// Stats returns the shared latency tracker, or nil.
func (r *Registry) Stats() *Stats { return r.stats }

// once guards a stream so it is consumed at most once.
func once(seq iter.Seq2[string, error]) iter.Seq2[string, error] {
	var used atomic.Bool
	return func(yield func(string, error) bool) {
		if used.Swap(true) {
			yield("", ErrStreamConsumed)
			return
		}
		seq(yield)
	}
}
