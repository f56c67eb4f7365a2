package databricks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// ServingClient asks questions against a model-serving chat endpoint. The
// endpoint is stateless; the session id returned from Ask is a client-side
// handle minted on the first turn so the dispatcher can stay agnostic to
// which backend it holds.
type ServingClient struct {
	host         string
	endpointName string
	systemPrompt string
	maxTokens    int
	temperature  float64
	auth         AuthProvider
	httpClient   *http.Client
}

// NewServingClient creates a client for the named endpoint. systemPrompt,
// maxTokens and temperature are optional; zero values are omitted from the
// request.
func NewServingClient(host, endpointName, systemPrompt string, maxTokens int, temperature float64, auth AuthProvider) *ServingClient {
	return &ServingClient{
		host:         normalizeHost(host),
		endpointName: strings.TrimSpace(endpointName),
		systemPrompt: systemPrompt,
		maxTokens:    maxTokens,
		temperature:  temperature,
		auth:         auth,
		httpClient:   &http.Client{},
	}
}

// Name returns the backend name.
func (c *ServingClient) Name() string { return "endpoint" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type servingResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Ask sends text as a single-turn chat completion and returns the first
// choice. A fresh session id is minted when sessionID is empty; otherwise
// it is echoed back unchanged.
func (c *ServingClient) Ask(ctx context.Context, sessionID, text string) (string, string, error) {
	op := "serving invocation"

	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(c.systemPrompt) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: c.systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: text})

	body := map[string]any{"messages": messages}
	if c.maxTokens > 0 {
		body["max_tokens"] = c.maxTokens
	}
	if c.temperature > 0 {
		body["temperature"] = c.temperature
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/serving-endpoints/%s/invocations", c.host, c.endpointName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	token, err := c.auth.Token(ctx)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", wrapTransportError(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", "", classifyHTTPError(op, resp.StatusCode)
	}

	var out servingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", &UpstreamError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(out.Choices) == 0 {
		return "", "", &UpstreamError{Op: op, Err: fmt.Errorf("response carried no choices")}
	}

	newSessionID := sessionID
	if strings.TrimSpace(newSessionID) == "" {
		newSessionID = uuid.NewString()
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), newSessionID, nil
}
