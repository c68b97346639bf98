package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MaxMessageLength is the Telegram per-message limit.
const MaxMessageLength = 4096

// Telegram implements Client against the Telegram Bot API. Sends go through
// the tgbotapi client; polling uses a hand-rolled getUpdates request because
// tgbotapi's update channel cannot be aborted per request.
type Telegram struct {
	bot         *tgbotapi.BotAPI
	httpClient  *http.Client
	token       string
	endpoint    string // two-verb format string: token, method
	pollTimeout int    // server-side long-poll wait, seconds
}

// NewTelegram connects to the Telegram Bot API. pollTimeout bounds the
// server-side long-poll wait.
func NewTelegram(token string, pollTimeout time.Duration) (*Telegram, error) {
	return NewTelegramWithEndpoint(token, tgbotapi.APIEndpoint, pollTimeout)
}

// NewTelegramWithEndpoint is NewTelegram with a custom API endpoint,
// used by tests to point at a local fake server.
func NewTelegramWithEndpoint(token, endpoint string, pollTimeout time.Duration) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram init failed: %w", err)
	}

	seconds := int(pollTimeout / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	return &Telegram{
		bot:   bot,
		token: token,
		// Client-side timeout leaves headroom over the server-side wait so
		// a healthy long poll is never cut short locally.
		httpClient:  &http.Client{Timeout: pollTimeout + 10*time.Second},
		endpoint:    endpoint,
		pollTimeout: seconds,
	}, nil
}

// PollUpdates long-polls getUpdates from the given cursor offset. A 409
// response surfaces as ErrConflict; context cancellation aborts the request
// immediately.
func (t *Telegram) PollUpdates(ctx context.Context, offset int) ([]Update, error) {
	params := url.Values{}
	params.Set("offset", strconv.Itoa(offset))
	params.Set("timeout", strconv.Itoa(t.pollTimeout))
	params.Set("allowed_updates", `["message"]`)

	endpoint := fmt.Sprintf(t.endpoint, t.token, "getUpdates") + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build getUpdates request: %w", err)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getUpdates request failed: %w", err)
	}
	defer resp.Body.Close()

	var apiResp tgbotapi.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode getUpdates response: %w", err)
	}

	if !apiResp.Ok {
		if apiResp.ErrorCode == http.StatusConflict {
			return nil, fmt.Errorf("%w: %s", ErrConflict, apiResp.Description)
		}
		return nil, fmt.Errorf("getUpdates failed: %s (code %d)", apiResp.Description, apiResp.ErrorCode)
	}

	var raw []tgbotapi.Update
	if err := json.Unmarshal(apiResp.Result, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse updates: %w", err)
	}

	updates := make([]Update, 0, len(raw))
	for _, u := range raw {
		out := Update{ID: u.UpdateID}
		if u.Message != nil {
			out.ChatID = u.Message.Chat.ID
			out.Text = u.Message.Text
		}
		updates = append(updates, out)
	}
	return updates, nil
}

// SendMessage splits text into chunks under the Telegram limit and sends
// them sequentially. A formatting rejection retries the same chunk with
// formatting disabled rather than failing the whole send.
func (t *Telegram) SendMessage(chatID int64, text string, opts SendOptions) error {
	for _, chunk := range SplitMessage(text, MaxMessageLength) {
		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.DisableNotification = opts.Silent
		if opts.Markdown {
			msg.ParseMode = tgbotapi.ModeMarkdown
		}

		if _, err := t.bot.Send(msg); err != nil {
			if !opts.Markdown || !isFormattingError(err) {
				return fmt.Errorf("failed to send message: %w", err)
			}
			plain := tgbotapi.NewMessage(chatID, chunk)
			plain.DisableNotification = opts.Silent
			if _, err := t.bot.Send(plain); err != nil {
				return fmt.Errorf("failed to send message without formatting: %w", err)
			}
		}
	}
	return nil
}

// isFormattingError reports whether the API rejected a message over its
// formatting entities, e.g. unbalanced Markdown markers in command output.
func isFormattingError(err error) bool {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusBadRequest &&
		strings.Contains(strings.ToLower(apiErr.Message), "parse")
}

// SplitMessage splits text into chunks of at most limit bytes, preferring
// line boundaries. When no newline falls within the last 30% of the window
// the chunk is hard-split at the nearest rune boundary at or below the
// limit, so no chunk is ever invalid UTF-8.
func SplitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut < limit*7/10 {
			// No usable boundary; hard split on a rune boundary.
			end := limit
			for end > 0 && !utf8.RuneStart(text[end]) {
				end--
			}
			if end == 0 {
				end = limit
			}
			chunks = append(chunks, text[:end])
			text = text[end:]
			continue
		}
		chunks = append(chunks, text[:cut])
		text = text[cut+1:]
	}
	if len(text) > 0 {
		chunks = append(chunks, text)
	}
	return chunks
}
