package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lumeo-app/lumeo/internal/config"
	"github.com/lumeo-app/lumeo/internal/domain"
)

// TokenSource supplies the bearer credential for each inference call.
// Token issuance and refresh belong to the auth service.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource backed by a fixed API key.
type StaticToken string

func (t StaticToken) Token(_ context.Context) (string, error) {
	return string(t), nil
}

// HTTPError is a non-2xx response from the inference endpoint.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("inference request failed (%d): %s", e.Status, e.Message)
}

// TokenUsage is the token accounting the provider reports on the final frame.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// StreamResult carries per-turn metadata collected while streaming.
type StreamResult struct {
	Usage *TokenUsage
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages []chatMessage `json:"messages"`
}

type InferenceClient struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

// NewInferenceClient creates a client for the coaching inference endpoint.
// No overall request timeout is set: the response is an open-ended stream
// and is bounded by context cancellation instead.
func NewInferenceClient(baseURL string, tokens TokenSource) *InferenceClient {
	return &InferenceClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{},
	}
}

// Stream sends the full ordered history and invokes onDelta for every
// content fragment, in arrival order. It returns nil after `data: [DONE]`
// or a clean end of stream, the context error if the caller cancelled, an
// *HTTPError for non-2xx responses, and a wrapped transport error
// otherwise. A finished stream is not restartable.
func (c *InferenceClient) Stream(ctx context.Context, history []domain.Message, onDelta func(string)) (*StreamResult, error) {
	msgs := make([]chatMessage, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, chatMessage{Role: m.Role, Content: m.Content})
	}

	payload, err := json.Marshal(chatRequest{Messages: msgs})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve credential: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, readHTTPError(resp)
	}

	parser := &EventParser{}
	buf := make([]byte, config.StreamReadBufferSize)
	result := &StreamResult{}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, frame := range parser.Feed(buf[:n]) {
				if frame.Usage != nil {
					result.Usage = frame.Usage
				}
				if frame.Done {
					return result, nil
				}
				if frame.Delta != "" {
					onDelta(frame.Delta)
				}
			}
		}

		if readErr == io.EOF {
			return result, nil
		}
		if readErr != nil {
			// A cancelled context closes the connection; report it as
			// the distinguished cancellation outcome, not a read failure.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read stream: %w", readErr)
		}
	}
}

// readHTTPError builds an HTTPError, taking the message from the response
// body's `error` field when it parses, either as a bare string or as an
// object with a message.
func readHTTPError(resp *http.Response) *HTTPError {
	httpErr := &HTTPError{
		Status:  resp.StatusCode,
		Message: fmt.Sprintf("request failed with status %d", resp.StatusCode),
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, config.MaxErrorBodySize))
	if err != nil {
		return httpErr
	}

	var parsed struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &parsed) != nil || len(parsed.Error) == 0 {
		return httpErr
	}

	var msg string
	if json.Unmarshal(parsed.Error, &msg) == nil && msg != "" {
		httpErr.Message = msg
		return httpErr
	}

	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(parsed.Error, &obj) == nil && obj.Message != "" {
		httpErr.Message = obj.Message
	}
	return httpErr
}
