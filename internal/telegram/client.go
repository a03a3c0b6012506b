// Package telegram is a minimal Bot API client: long-polled updates,
// text messages and photo uploads. Only the methods the bot actually
// uses.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *zap.Logger
}

// New builds a client for the given bot token. apiURL is normally
// https://api.telegram.org and overridable for tests.
func New(apiURL, token string, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(apiURL, "/"),
		token:   token,
		// long polling holds the request open for up to 30s server-side
		http: &http.Client{Timeout: 40 * time.Second},
		log:  log,
	}
}

type Chat struct {
	ID int64 `json:"id"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	Chat      Chat   `json:"chat"`
}

type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

// GetUpdates long-polls for new updates past the given offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	body := map[string]any{
		"offset":          offset,
		"timeout":         30,
		"allowed_updates": []string{"message"},
	}
	raw, err := c.call(ctx, "getUpdates", body)
	if err != nil {
		return nil, err
	}
	var updates []Update
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, fmt.Errorf("telegram: malformed updates: %w", err)
	}
	return updates, nil
}

// SendMessage sends Markdown-formatted text to a chat. Falls back to
// plain text when Telegram rejects the markup.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) error {
	body := map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "Markdown",
		"disable_web_page_preview": true,
	}
	if _, err := c.call(ctx, "sendMessage", body); err != nil {
		c.log.Warn("markdown send failed, retrying plain", zap.String("chat_id", chatID), zap.Error(err))
		delete(body, "parse_mode")
		_, err = c.call(ctx, "sendMessage", body)
		return err
	}
	return nil
}

// SendPhoto uploads a PNG with an optional caption.
func (c *Client) SendPhoto(ctx context.Context, chatID string, png []byte, caption string) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("chat_id", chatID); err != nil {
		return err
	}
	if caption != "" {
		if err := mw.WriteField("caption", caption); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("photo", "qr.png")
	if err != nil {
		return err
	}
	if _, err := part.Write(png); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendPhoto", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram unavailable: %w", err)
	}
	defer resp.Body.Close()
	return decodeAPIResponse(resp.Body, nil)
}

func (c *Client) call(ctx context.Context, method string, body any) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram unavailable: %w", err)
	}
	defer resp.Body.Close()

	var result json.RawMessage
	if err := decodeAPIResponse(resp.Body, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func decodeAPIResponse(r io.Reader, out *json.RawMessage) error {
	var parsed apiResponse
	if err := json.NewDecoder(r).Decode(&parsed); err != nil {
		return fmt.Errorf("telegram: malformed response: %w", err)
	}
	if !parsed.OK {
		return fmt.Errorf("telegram: api error: %s", parsed.Description)
	}
	if out != nil {
		*out = parsed.Result
	}
	return nil
}

// ChatIDString renders a numeric chat id the way it is stored and
// passed through redirect links.
func ChatIDString(id int64) string {
	return strconv.FormatInt(id, 10)
}
