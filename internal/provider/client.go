// Package provider implements the outbound messaging provider API client.
// Clients are built per send through New and never stored, so plaintext
// credentials live only for the duration of one call chain.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// DefaultTimeout bounds each provider call when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider: api status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the response indicates a transient condition:
// a server error or a rate-limit signal.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsRetryable classifies a send failure. Network errors and timeouts are
// retryable; provider 4xx responses (other than rate limits) are not.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	// Anything that never produced an HTTP status is a transport problem.
	return true
}

// Button is one interactive reply option.
type Button struct {
	ID    string
	Title string
}

// Client talks to the provider's message API for a single channel number.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New builds a Client for the given channel number and decrypted token.
func New(apiURL, providerNumberID, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: fmt.Sprintf("%s/%s", apiURL, providerNumberID),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// SendText sends a plain text message and returns the provider message id.
func (c *Client) SendText(ctx context.Context, to, text string) (string, error) {
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text":              map[string]interface{}{"preview_url": false, "body": text},
	}
	return c.postMessage(ctx, payload)
}

// SendTemplate sends a provider-approved template message.
func (c *Client) SendTemplate(ctx context.Context, to, name, language string) (string, error) {
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "template",
		"template": map[string]interface{}{
			"name":     name,
			"language": map[string]string{"code": language},
		},
	}
	return c.postMessage(ctx, payload)
}

// SendMedia sends a previously uploaded media object.
func (c *Client) SendMedia(ctx context.Context, to, mediaType, mediaID, caption string) (string, error) {
	media := map[string]interface{}{"id": mediaID}
	if caption != "" {
		media["caption"] = caption
	}
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              mediaType,
		mediaType:           media,
	}
	return c.postMessage(ctx, payload)
}

// SendButtons sends an interactive button prompt. The provider caps button
// titles at 20 characters and three buttons per message.
func (c *Client) SendButtons(ctx context.Context, to, body string, buttons []Button) (string, error) {
	if len(buttons) > 3 {
		buttons = buttons[:3]
	}
	reply := make([]map[string]interface{}, 0, len(buttons))
	for _, b := range buttons {
		title := b.Title
		if len(title) > 20 {
			title = title[:20]
		}
		reply = append(reply, map[string]interface{}{
			"type":  "button",
			"reply": map[string]string{"id": b.ID, "title": title},
		})
	}
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]interface{}{
			"type":   "button",
			"body":   map[string]string{"text": body},
			"action": map[string]interface{}{"buttons": reply},
		},
	}
	return c.postMessage(ctx, payload)
}

// MarkRead reports an inbound message as read. Best-effort; callers may
// ignore the error.
func (c *Client) MarkRead(ctx context.Context, providerMessageID string) error {
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        providerMessageID,
	}
	_, err := c.do(ctx, c.baseURL+"/messages", "application/json", mustJSON(payload))
	return err
}

// UploadMedia uploads a locally staged file and returns the provider media
// id to reference in a later send.
func (c *Client) UploadMedia(ctx context.Context, path, mimeType string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("provider: open media %s: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("provider: multipart: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("provider: read media: %w", err)
	}
	w.WriteField("messaging_product", "whatsapp")
	w.WriteField("type", mimeType)
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("provider: multipart: %w", err)
	}

	body, err := c.do(ctx, c.baseURL+"/media", w.FormDataContentType(), buf.Bytes())
	if err != nil {
		return "", err
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.ID == "" {
		return "", fmt.Errorf("provider: upload response missing media id")
	}
	return resp.ID, nil
}

// postMessage POSTs a message payload and extracts the assigned message id.
func (c *Client) postMessage(ctx context.Context, payload map[string]interface{}) (string, error) {
	body, err := c.do(ctx, c.baseURL+"/messages", "application/json", mustJSON(payload))
	if err != nil {
		return "", err
	}
	var resp struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Messages) == 0 {
		return "", fmt.Errorf("provider: response missing message id")
	}
	return resp.Messages[0].ID, nil
}

func (c *Client) do(ctx context.Context, url, contentType string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("provider: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("provider: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

func mustJSON(v interface{}) []byte {
	data, _ := json.Marshal(v)
	return data
}
