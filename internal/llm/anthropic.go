package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"
)

// anthropicClient speaks the Anthropic Messages API. xAI exposes the same
// protocol, so both providers share this client.
type anthropicClient struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	timeout time.Duration
}

type textBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	System      []textBlock        `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type anthropicResponse struct {
	Content []textBlock     `json:"content"`
	Error   *anthropicError `json:"error"`
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *anthropicError `json:"error"`
}

func (c *anthropicClient) Name() string { return c.name }

func (c *anthropicClient) body(req Request, stream bool) anthropicRequest {
	body := anthropicRequest{
		Model:       c.model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Messages:    []anthropicMessage{{Role: "user", Content: req.User}},
		Stream:      stream,
	}
	for _, s := range []string{req.System, req.Secondary} {
		if s != "" {
			body.System = append(body.System, textBlock{Type: "text", Text: s})
		}
	}
	return body
}

func (c *anthropicClient) post(ctx context.Context, body anthropicRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.baseURL, "/")+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, transportError(c.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, statusError(c.name, resp.StatusCode, respBody)
	}
	return resp, nil
}

func (c *anthropicClient) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.post(ctx, c.body(req, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", transportError(c.name, err)
	}
	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", &BackendError{Provider: c.name, StatusCode: resp.StatusCode, Message: "decode response: " + err.Error(), Err: err}
	}
	if apiResp.Error != nil {
		return "", &BackendError{Provider: c.name, StatusCode: resp.StatusCode, Message: apiResp.Error.Type + ": " + apiResp.Error.Message}
	}
	var b strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", &BackendError{Provider: c.name, StatusCode: resp.StatusCode, Message: "empty response"}
	}
	return b.String(), nil
}

func (c *anthropicClient) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return once(func(yield func(string, error) bool) {
		resp, err := c.post(ctx, c.body(req, true))
		if err != nil {
			yield("", err)
			return
		}
		defer resp.Body.Close()

		stopped := false
		err = scanSSE(ctx, resp.Body, func(data []byte) (bool, error) {
			var ev anthropicEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				return false, nil
			}
			switch ev.Type {
			case "content_block_delta":
				if ev.Delta == nil || ev.Delta.Type != "text_delta" || ev.Delta.Text == "" {
					return false, nil
				}
				if !yield(ev.Delta.Text, nil) {
					stopped = true
					return true, nil
				}
			case "message_stop":
				return true, nil
			case "error":
				msg := "stream error"
				if ev.Error != nil {
					msg = ev.Error.Type + ": " + ev.Error.Message
				}
				return true, &BackendError{Provider: c.name, StatusCode: http.StatusOK, Message: msg}
			}
			return false, nil
		})
		if err != nil && !stopped {
			if _, ok := err.(*BackendError); !ok {
				err = transportError(c.name, err)
			}
			yield("", err)
		}
	})
}
