package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/C4T-BuT-S4D/hokd/internal/config"
	"github.com/go-resty/resty/v2"
	"gopkg.in/telebot.v4"
)

type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

type response[T any] struct {
	OK          bool   `json:"ok"`
	Result      T      `json:"result"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Client talks to the Bot API over plain HTTPS.
type Client struct {
	token          string
	requestTimeout time.Duration
	attempts       int
	client         *resty.Client
}

func New(cfg *config.Config) *Client {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}

	client := resty.New().
		SetBaseURL(fmt.Sprintf("%s/bot%s", strings.TrimRight(cfg.TelegramAPIURL, "/"), cfg.TelegramToken)).
		SetTransport(transport).
		SetRetryCount(cfg.RequestRetries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(shouldRetry)

	return &Client{
		token:          cfg.TelegramToken,
		requestTimeout: cfg.RequestTimeout,
		attempts:       cfg.RequestRetries + 1,
		client:         client,
	}
}

func shouldRetry(r *resty.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// call performs one Bot API method. The deadline allows timeout for every attempt.
func call[T any](ctx context.Context, c *Client, method string, timeout time.Duration, form map[string]string) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.attempts)*timeout)
	defer cancel()

	result := &response[T]{}
	resp, err := c.client.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(result).
		SetError(result).
		Post("/" + method)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("calling %s: %s", method, c.redact(err.Error()))
	}

	if !result.OK {
		var zero T
		apiErr := &APIError{
			Method:      method,
			Code:        result.ErrorCode,
			Description: result.Description,
		}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode()
		}
		if apiErr.Description == "" {
			apiErr.Description = c.redact(string(resp.Body()))
		}
		return zero, apiErr
	}

	return result.Result, nil
}

func (c *Client) redact(s string) string {
	if c.token == "" {
		return s
	}
	return strings.ReplaceAll(s, c.token, "<token>")
}

// GetUpdates long-polls for updates starting at offset.
func (c *Client) GetUpdates(ctx context.Context, offset int, timeout time.Duration) ([]telebot.Update, error) {
	return call[[]telebot.Update](ctx, c, "getUpdates", timeout+c.requestTimeout, map[string]string{
		"offset":          strconv.Itoa(offset),
		"timeout":         strconv.Itoa(int(timeout / time.Second)),
		"allowed_updates": `["message"]`,
	})
}

func (c *Client) GetChat(ctx context.Context, chatID int64) (*telebot.Chat, error) {
	return call[*telebot.Chat](ctx, c, "getChat", c.requestTimeout, map[string]string{
		"chat_id": strconv.FormatInt(chatID, 10),
	})
}

// SendMessage sends text to chatID. A nil markup leaves the client's keyboard as is.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, markup *telebot.ReplyMarkup) error {
	form := map[string]string{
		"chat_id": strconv.FormatInt(chatID, 10),
		"text":    text,
	}
	if markup != nil {
		raw, err := json.Marshal(markup)
		if err != nil {
			return fmt.Errorf("marshalling reply markup: %w", err)
		}
		form["reply_markup"] = string(raw)
	}

	if _, err := call[*telebot.Message](ctx, c, "sendMessage", c.requestTimeout, form); err != nil {
		return err
	}
	return nil
}
