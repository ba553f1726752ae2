package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnthropic(t *testing.T, h http.HandlerFunc) Backend {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	b, err := New(Config{Provider: Claude, APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)
	return b
}

func collect(t *testing.T, b Backend, req Request) ([]string, error) {
	t.Helper()
	var frags []string
	for frag, err := range b.Stream(context.Background(), req) {
		if err != nil {
			return frags, err
		}
		frags = append(frags, frag)
	}
	return frags, nil
}

func TestAnthropicGenerate(t *testing.T) {
	var got anthropicRequest
	b := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"content":[{"type":"text","text":"Hello"},{"type":"text","text":" world"}]}`)
	})

	text, err := b.Generate(context.Background(), Request{
		System: "sys", Secondary: "sys2", User: "write", MaxTokens: 100, Temperature: 0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", text)

	assert.Equal(t, "claude-3-5-sonnet-latest", got.Model)
	assert.Equal(t, 100, got.MaxTokens)
	require.Len(t, got.System, 2)
	assert.Equal(t, "sys2", got.System[1].Text)
	assert.Equal(t, "write", got.Messages[0].Content)
	assert.False(t, got.Stream)
}

func TestAnthropicStream(t *testing.T) {
	b := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\"}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Once \"}}\n\n")
		fmt.Fprint(w, "event: ping\ndata: {\"type\":\"ping\"}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"upon\"}}\n\n")
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	})

	frags, err := collect(t, b, Request{User: "go"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Once ", "upon"}, frags)
}

func TestAnthropicStreamTruncated(t *testing.T) {
	b := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"half\"}}\n\n")
	})

	frags, err := collect(t, b, Request{User: "go"})
	assert.Equal(t, []string{"half"}, frags)
	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.True(t, be.Retryable())
}

func TestAnthropicStreamErrorEvent(t *testing.T) {
	b := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n")
	})

	_, err := collect(t, b, Request{User: "go"})
	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.Contains(t, be.Message, "overloaded_error")
}

func TestAnthropicStatusErrors(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusUnauthorized, false},
		{http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			b := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":{"type":"x","message":"nope"}}`, tt.status)
			})

			_, err := b.Generate(context.Background(), Request{User: "x"})
			var be *BackendError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, tt.status, be.StatusCode)
			assert.Equal(t, tt.retryable, IsRetryable(err))

			_, err = collect(t, b, Request{User: "x"})
			require.ErrorAs(t, err, &be)
			assert.Equal(t, tt.status, be.StatusCode)
		})
	}
}

func TestStreamIsSingleUse(t *testing.T) {
	b := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"a\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"message_stop\"}\n\n")
	})

	stream := b.Stream(context.Background(), Request{User: "x"})
	for range stream {
	}
	for _, err := range stream {
		assert.ErrorIs(t, err, ErrStreamConsumed)
	}
}

func TestStreamBreakStopsEarly(t *testing.T) {
	b := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 5; i++ {
			fmt.Fprintf(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"%d\"}}\n\n", i)
		}
		fmt.Fprint(w, "data: {\"type\":\"message_stop\"}\n\n")
	})

	var got []string
	for frag, err := range b.Stream(context.Background(), Request{User: "x"}) {
		require.NoError(t, err)
		got = append(got, frag)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"0", "1"}, got)
}

func TestXAIUsesAnthropicProtocol(t *testing.T) {
	var path, model string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		var req anthropicRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		model = req.Model
		fmt.Fprint(w, `{"content":[{"type":"text","text":"ok"}]}`)
	}))
	defer srv.Close()

	b, err := New(Config{Provider: XAI, APIKey: "k", BaseURL: srv.URL + "/"})
	require.NoError(t, err)
	assert.Equal(t, "xai", b.Name())

	_, err = b.Generate(context.Background(), Request{User: "x"})
	require.NoError(t, err)
	assert.Equal(t, "/v1/messages", path)
	assert.Equal(t, "grok-4", model)
}

func TestTransportErrorIsRetryableUnlessCancelled(t *testing.T) {
	b, err := New(Config{Provider: Claude, APIKey: "k", BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	_, err = b.Generate(context.Background(), Request{User: "x"})
	assert.True(t, IsRetryable(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Generate(ctx, Request{User: "x"})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, IsRetryable(err))
	assert.False(t, strings.Contains(err.Error(), "status"))
}

func pause(r *http.Request, d time.Duration) {
	select {
	case <-time.After(d):
	case <-r.Context().Done():
	}
}

func newTimedAnthropic(t *testing.T, timeout time.Duration, h http.HandlerFunc) Backend {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	b, err := New(Config{Provider: Claude, APIKey: "k", BaseURL: srv.URL, Timeout: timeout})
	require.NoError(t, err)
	return b
}

func TestTimeoutDoesNotCutOffStream(t *testing.T) {
	b := newTimedAnthropic(t, 100*time.Millisecond, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"slow \"}}\n\n")
		w.(http.Flusher).Flush()
		pause(r, 300*time.Millisecond)
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"leaf\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"message_stop\"}\n\n")
	})

	frags, err := collect(t, b, Request{User: "go"})
	require.NoError(t, err)
	assert.Equal(t, []string{"slow ", "leaf"}, frags)
}

func TestTimeoutBoundsHeadersAndGenerate(t *testing.T) {
	silent := newTimedAnthropic(t, 100*time.Millisecond, func(w http.ResponseWriter, r *http.Request) {
		pause(r, 2*time.Second)
	})
	_, err := collect(t, silent, Request{User: "go"})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))

	slowBody := newTimedAnthropic(t, 100*time.Millisecond, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		pause(r, 2*time.Second)
		fmt.Fprint(w, `{"content":[{"type":"text","text":"late"}]}`)
	})
	_, err = slowBody.Generate(context.Background(), Request{User: "go"})
	assert.Error(t, err)
}

func TestStatusErrorTruncatesByRune(t *testing.T) {
	be := statusError("claude", 500, []byte(strings.Repeat("é", 300)))
	msg := be.Error()
	assert.True(t, utf8.ValidString(msg))
	assert.Contains(t, msg, strings.Repeat("é", 200)+"...")
	assert.NotContains(t, msg, strings.Repeat("é", 201))
}
