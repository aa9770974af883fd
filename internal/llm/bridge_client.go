package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const bridgeUserAgent = "lead-concierge/0.1"

// BridgeClient talks to the secondary chat backend, which speaks a
// bridge-style JSON schema rather than the OpenAI one.
type BridgeClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// BridgeConfig controls how the bridge client behaves.
type BridgeConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewBridgeClient creates a configured client with sane defaults.
func NewBridgeClient(cfg BridgeConfig) (*BridgeClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("llm: bridge base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &BridgeClient{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: httpClient,
	}, nil
}

func (c *BridgeClient) Provider() string { return "bridge" }

type bridgeMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type bridgeTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type bridgeRequest struct {
	Model       string          `json:"model,omitempty"`
	Messages    []bridgeMessage `json:"messages"`
	Tools       []bridgeTool    `json:"tools,omitempty"`
	OutputMode  string          `json:"output_mode,omitempty"`
	Temperature float32         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type bridgeResponse struct {
	Output    string `json:"output"`
	ToolCalls []struct {
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"tool_calls"`
	Error string `json:"error,omitempty"`
}

// Complete sends one chat completion request to the bridge endpoint.
func (c *BridgeClient) Complete(ctx context.Context, req Request) (Result, error) {
	payload := bridgeRequest{
		Model:       c.model,
		Messages:    make([]bridgeMessage, 0, len(req.Messages)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, bridgeMessage{Role: m.Role, Text: m.Content})
	}
	for _, tool := range req.Tools {
		payload.Tools = append(payload.Tools, bridgeTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		})
	}
	if req.ResponseFormat == FormatJSON {
		payload.OutputMode = "json"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("llm: failed to encode bridge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("llm: failed to build bridge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", bridgeUserAgent)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("llm: bridge request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("llm: failed to read bridge response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("llm: bridge returned status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var decoded bridgeResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{}, fmt.Errorf("llm: malformed bridge response: %w", err)
	}
	if decoded.Error != "" {
		return Result{}, fmt.Errorf("llm: bridge error: %s", decoded.Error)
	}

	result := Result{Content: strings.TrimSpace(decoded.Output)}
	for _, tc := range decoded.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Name,
			Arguments: string(tc.Input),
		})
	}
	if result.Content == "" && len(result.ToolCalls) == 0 {
		return Result{}, errors.New("llm: bridge returned empty completion")
	}
	return result, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
