// Package channel implements the outbound chat API client used for replies,
// notifications, and digests.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/matsurihq/taskbot/internal/config"
)

// Client is a chat platform API client
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new chat API client from the channel configuration.
func NewClient(cfg *config.ChannelConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// sendMessageRequest is the wire format for posting a message
type sendMessageRequest struct {
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
}

// sendMessageResponse is the platform's reply envelope
type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
	ErrorCode   int    `json:"error_code,omitempty"`
}

// SendMessage posts a text message into a channel.
func (c *Client) SendMessage(ctx context.Context, channelID, text string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChannelID: channelID,
		Text:      text,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("chat API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result sendMessageResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("chat API error: %s (code: %d)", result.Description, result.ErrorCode)
	}

	return nil
}
