package notifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

// TelegramConfig configures the bot transport.
type TelegramConfig struct {
	Token      string
	ChatID     string
	ProxyURL   string
	Attempts   int // total tries per message, at least 1
	RetryDelay time.Duration
	BaseURL    string // overrides the public API, used in tests
}

type TelegramNotifier struct {
	cfg    TelegramConfig
	client *http.Client
}

func NewTelegramNotifier(cfg TelegramConfig) (*TelegramNotifier, error) {
	if cfg.Token == "" || cfg.ChatID == "" {
		return nil, errors.New("telegram token and chat id are required")
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = telegramAPI
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}
	return &TelegramNotifier{
		cfg:    cfg,
		client: &http.Client{Transport: transport, Timeout: 15 * time.Second},
	}, nil
}

func (t *TelegramNotifier) Send(ctx context.Context, text string) error {
	return t.SendTo(ctx, t.cfg.ChatID, text)
}

// SendTo posts text to chatID. Client errors (4xx other than 429) are not
// retried.
func (t *TelegramNotifier) SendTo(ctx context.Context, chatID, text string) error {
	var err error
	for attempt := 1; attempt <= t.cfg.Attempts; attempt++ {
		var retryable bool
		retryable, err = t.post(ctx, chatID, text)
		if err == nil || !retryable || attempt == t.cfg.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.cfg.RetryDelay):
		}
	}
	return err
}

func (t *TelegramNotifier) post(ctx context.Context, chatID, text string) (bool, error) {
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", t.cfg.BaseURL, t.cfg.Token)
	form := url.Values{
		"chat_id": {chatID},
		"text":    {text},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return retryable, fmt.Errorf("telegram send failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return false, nil
}
