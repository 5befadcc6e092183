package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxListedFailures caps the documents listed in one alert
const maxListedFailures = 10

// Client represents a Telegram bot client
type Client struct {
	botToken   string
	channelID  string
	httpClient *http.Client
	apiURL     string
}

// NewClient creates a new Telegram bot client
func NewClient(botToken, channelID string) *Client {
	return &Client{
		botToken:  botToken,
		channelID: channelID,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		apiURL: "https://api.telegram.org",
	}
}

// SendMessageRequest represents a Telegram sendMessage request
type SendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// TelegramResponse represents a Telegram API response
type TelegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// SendMessage sends a message to the configured Telegram channel
func (c *Client) SendMessage(ctx context.Context, text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", c.apiURL, c.botToken)

	req := SendMessageRequest{
		ChatID:    c.channelID,
		Text:      text,
		ParseMode: "HTML",
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var tgResp TelegramResponse
	if err := json.Unmarshal(body, &tgResp); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !tgResp.OK {
		return fmt.Errorf("telegram API error: %s", tgResp.Description)
	}

	return nil
}

// FailedDocument is one rejected document listed in an alert
type FailedDocument struct {
	ID     string
	Reason string
}

// FormatIndexFailureMessage formats a failed indexing pass as a Telegram message
func FormatIndexFailureMessage(nextOperation uint64, lastBlock uint32, cause error, failed []FailedDocument, at time.Time) string {
	var builder strings.Builder

	fmt.Fprintf(&builder, "<b>⚠️ Indexing failed</b>\n\n")
	fmt.Fprintf(&builder, "<b>Checkpoint:</b> <code>1.11.%d</code>\n", nextOperation)
	fmt.Fprintf(&builder, "<b>Last block:</b> <code>%d</code>\n", lastBlock)
	fmt.Fprintf(&builder, "<b>Time:</b> <code>%s</code>\n", at.UTC().Format("2006-01-02 15:04:05 UTC"))
	if cause != nil {
		fmt.Fprintf(&builder, "<b>Error:</b> <code>%s</code>\n", escapeHTML(truncate(cause.Error(), 300)))
	}

	if len(failed) > 0 {
		fmt.Fprintf(&builder, "\n<b>Rejected documents (%d):</b>\n", len(failed))
		for i, doc := range failed {
			if i == maxListedFailures {
				fmt.Fprintf(&builder, "  … and %d more\n", len(failed)-maxListedFailures)
				break
			}
			fmt.Fprintf(&builder, "  • <code>%s</code>: %s\n", escapeHTML(doc.ID), escapeHTML(truncate(doc.Reason, 100)))
		}
	}

	return builder.String()
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// escapeHTML escapes HTML special characters
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
