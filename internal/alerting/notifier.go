package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Reason names why a corridor alert fired.
type Reason string

const (
	ReasonAdjustmentCap Reason = "adjustment_cap"
	ReasonRiskThreshold Reason = "risk_threshold"
)

// Notification carries the alert context for one corridor.
type Notification struct {
	Pair          string
	At            time.Time
	Reason        Reason
	BaseFeeBps    int
	AdjustmentBps int
	CeilingBps    int
	TotalFeeBps   int
	RiskScore     float64
	RiskThreshold float64
	WindowLabel   string
	ActiveSignals int
	Channels      []string
	AdditionalMsg string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with the rendered text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram responded with status %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false: %s", result.Description)
	}

	n.logger.Info().Str("pair", note.Pair).
		Str("reason", string(note.Reason)).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("alert delivered")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Corridor Alert] %s\n", note.Pair))
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
	switch note.Reason {
	case ReasonAdjustmentCap:
		builder.WriteString(fmt.Sprintf("Adjustment at ceiling: %d/%d bps\n", note.AdjustmentBps, note.CeilingBps))
	case ReasonRiskThreshold:
		builder.WriteString(fmt.Sprintf("Risk score %.3f above threshold %.3f\n", note.RiskScore, note.RiskThreshold))
	}
	builder.WriteString(fmt.Sprintf("Fee: %d bps base + %d bps = %d bps\n", note.BaseFeeBps, note.AdjustmentBps, note.TotalFeeBps))
	builder.WriteString(fmt.Sprintf("Risk score: %.3f, active signals: %d\n", note.RiskScore, note.ActiveSignals))
	if note.WindowLabel != "" {
		builder.WriteString(fmt.Sprintf("Window: %s\n", note.WindowLabel))
	}
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
