// Package calendar posts confirmed viewing appointments to the external
// scheduling service.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Event is a viewing appointment to create on the operator calendar.
type Event struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"account_id"`
	CounterpartyID string    `json:"counterparty_id"`
	PropertyID     string    `json:"property_id,omitempty"`
	Title          string    `json:"title"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	Timezone       string    `json:"timezone"`
	Notes          string    `json:"notes,omitempty"`
}

// Client is a thin JSON client for the calendar service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a calendar client. An empty base URL yields a nil
// client; callers treat that as calendar integration disabled.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		return nil
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// CreateEvent posts the appointment to the calendar service.
func (c *Client) CreateEvent(ctx context.Context, ev Event) error {
	if c == nil {
		return nil
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("calendar: failed to encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/events", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("calendar: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calendar: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("calendar: unexpected status %d: %s", resp.StatusCode, string(snippet))
	}
	return nil
}
