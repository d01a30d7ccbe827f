package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/time/rate"

	"trading-engine/internal/events"
)

const telegramAPI = "https://api.telegram.org"

// Telegram posts alerts to one chat through the Bot API.
type Telegram struct {
	baseURL    string
	token      string
	chatID     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewTelegram builds a sender for chatID. baseURL may be empty.
func NewTelegram(baseURL, token, chatID string) *Telegram {
	if baseURL == "" {
		baseURL = telegramAPI
	}
	return &Telegram{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		chatID:  chatID,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		// The Bot API allows about one message per second per chat.
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
	}
}

type telegramMessage struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type telegramReply struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *Telegram) Send(ctx context.Context, a events.Alert) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := sonic.Marshal(telegramMessage{ChatID: t.chatID, Text: Format(a)})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var reply telegramReply
	_ = sonic.Unmarshal(raw, &reply)
	if resp.StatusCode != http.StatusOK || !reply.OK {
		return fmt.Errorf("telegram returned status %d: %s", resp.StatusCode, reply.Description)
	}
	return nil
}

// Format renders an alert as one line of text.
func Format(a events.Alert) string {
	return fmt.Sprintf("[%s] %s %s", strings.ToUpper(string(a.Severity)), a.At.UTC().Format(time.RFC3339), a.Message)
}
