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

// openAIClient speaks the OpenAI-compatible chat completions protocol
// served by DeepSeek.
type openAIClient struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	timeout time.Duration
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		Delta        chatMessage `json:"delta"`
		FinishReason *string     `json:"finish_reason"`
	} `json:"choices"`
	Error *chatError `json:"error"`
}

func (c *openAIClient) Name() string { return c.name }

func (c *openAIClient) body(req Request, stream bool) chatRequest {
	var msgs []chatMessage
	for _, s := range []string{req.System, req.Secondary} {
		if s != "" {
			msgs = append(msgs, chatMessage{Role: "system", Content: s})
		}
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.User})
	return chatRequest{
		Model:       c.model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

func (c *openAIClient) post(ctx context.Context, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.baseURL, "/")+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

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

func (c *openAIClient) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.post(ctx, c.body(req, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&out); err != nil {
		return "", &BackendError{Provider: c.name, StatusCode: resp.StatusCode, Message: "decode response: " + err.Error(), Err: err}
	}
	if out.Error != nil {
		return "", &BackendError{Provider: c.name, StatusCode: resp.StatusCode, Message: out.Error.Message}
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", &BackendError{Provider: c.name, StatusCode: resp.StatusCode, Message: "empty response"}
	}
	return out.Choices[0].Message.Content, nil
}

func (c *openAIClient) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return once(func(yield func(string, error) bool) {
		resp, err := c.post(ctx, c.body(req, true))
		if err != nil {
			yield("", err)
			return
		}
		defer resp.Body.Close()

		stopped := false
		err = scanSSE(ctx, resp.Body, func(data []byte) (bool, error) {
			if string(data) == "[DONE]" {
				return true, nil
			}
			var chunk chatResponse
			if err := json.Unmarshal(data, &chunk); err != nil {
				return false, nil
			}
			if chunk.Error != nil {
				return true, &BackendError{Provider: c.name, StatusCode: http.StatusOK, Message: chunk.Error.Message}
			}
			if len(chunk.Choices) == 0 {
				return false, nil
			}
			if text := chunk.Choices[0].Delta.Content; text != "" {
				if !yield(text, nil) {
					stopped = true
					return true, nil
				}
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
