package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Discord webhook limits.
const (
	discordMaxFields     = 25
	discordMaxFieldValue = 1024
)

var discordColors = map[Level]int{
	LevelInfo:    0x3498db,
	LevelSuccess: 0x2ecc71,
	LevelWarning: 0xf1c40f,
}

// DiscordSender posts each message as one embed to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type discordPayload struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title     string         `json:"title"`
	Color     int            `json:"color"`
	Fields    []discordField `json:"fields,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

func discordEmbedFor(msg Message, now time.Time) discordEmbed {
	e := discordEmbed{
		Title:     msg.Title,
		Color:     discordColors[msg.Level],
		Timestamp: now.UTC().Format(time.RFC3339),
	}
	for i, f := range msg.Fields {
		if i == discordMaxFields {
			break
		}
		v := f.Value
		if r := []rune(v); len(r) > discordMaxFieldValue {
			v = string(r[:discordMaxFieldValue-1]) + "…"
		}
		// Short values such as amounts sit side by side.
		e.Fields = append(e.Fields, discordField{Name: f.Name, Value: v, Inline: len(v) <= 24})
	}
	return e
}

// Send posts msg. A 429 reply is reported with its retry hint.
func (d *DiscordSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(discordPayload{
		Username: "pricebet",
		Embeds:   []discordEmbed{discordEmbedFor(msg, time.Now())},
	})
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retry, _ := strconv.ParseFloat(resp.Header.Get("Retry-After"), 64)
		return fmt.Errorf("discord: rate limited, retry after %.1fs", retry)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string { return "discord" }
