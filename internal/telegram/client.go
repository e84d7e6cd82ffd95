package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrorKind classifies a failed send_message call per spec.md §6.
type ErrorKind string

const (
	KindRateLimited    ErrorKind = "rate_limited"
	KindUnauthorized   ErrorKind = "unauthorized"
	KindChatNotFound   ErrorKind = "chat_not_found"
	KindPayloadTooLarge ErrorKind = "payload_too_large"
	KindTransient      ErrorKind = "transient"
	KindOther          ErrorKind = "other"
)

// SendResult is the outcome of one send_message call.
type SendResult struct {
	OK        bool
	MessageID string
	Kind      ErrorKind
}

// TelegramClient defines the transport contract consumed by the Scheduler
// and the on-demand command dispatcher.
type TelegramClient interface {
	SendMessage(ctx context.Context, chatID string, text string, markdown bool) (SendResult, error)
	GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error)
}

// Client wraps the Telegram Bot API over raw HTTP.
type Client struct {
	token  string
	client *http.Client
	apiURL string
}

var _ TelegramClient = (*Client)(nil)

// NewClient builds a Client. token is required.
func NewClient(token string) *Client {
	return &Client{
		token: token,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		apiURL: fmt.Sprintf("https://api.telegram.org/bot%s", token),
	}
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

// SendMessage sends one message and classifies failure into the error
// taxonomy of spec.md §6. It never returns a Go error for ordinary
// transport-level rejections (rate limit, bad chat, etc.) — those surface
// through Kind so callers can decide whether to retry.
func (c *Client) SendMessage(ctx context.Context, chatID string, text string, markdown bool) (SendResult, error) {
	payload := map[string]string{
		"chat_id": chatID,
		"text":    text,
	}
	if markdown {
		payload["parse_mode"] = "Markdown"
	}

	resp, err := c.postRaw(ctx, "sendMessage", payload)
	if err != nil {
		return SendResult{Kind: KindTransient}, err
	}

	if resp.OK {
		return SendResult{OK: true, MessageID: fmt.Sprintf("%d", resp.Result.MessageID)}, nil
	}
	return SendResult{Kind: classifyDescription(resp.ErrorCode, resp.Description)}, nil
}

func classifyDescription(code int, description string) ErrorKind {
	desc := strings.ToLower(description)
	switch {
	case code == 429 || strings.Contains(desc, "too many requests"):
		return KindRateLimited
	case code == 401 || strings.Contains(desc, "unauthorized") || strings.Contains(desc, "bot was blocked"):
		return KindUnauthorized
	case code == 400 && (strings.Contains(desc, "chat not found") || strings.Contains(desc, "user is deactivated")):
		return KindChatNotFound
	case strings.Contains(desc, "message is too long") || strings.Contains(desc, "too large"):
		return KindPayloadTooLarge
	case code >= 500:
		return KindTransient
	default:
		return KindOther
	}
}

// GetUpdates fetches incoming updates starting at offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	params := url.Values{}
	if offset > 0 {
		params.Set("offset", fmt.Sprintf("%d", offset))
	}
	if timeout <= 0 {
		timeout = 5
	}
	params.Set("timeout", fmt.Sprintf("%d", timeout))

	var resp GetUpdatesResponse
	if err := c.get(ctx, "getUpdates", params, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("telegram getUpdates not ok")
	}
	return resp.Result, nil
}

// postRaw posts to method and decodes the envelope regardless of ok/error,
// so callers can classify API-level rejections without a Go error.
func (c *Client) postRaw(ctx context.Context, method string, body interface{}) (apiResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return apiResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/"+method, bytes.NewReader(data))
	if err != nil {
		return apiResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return apiResponse{}, err
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return apiResponse{}, fmt.Errorf("decode telegram response: %w", err)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, method string, params url.Values, out interface{}) error {
	u := c.apiURL + "/" + method
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("telegram api status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
