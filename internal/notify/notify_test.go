package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

type recordSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordSender) Send(_ context.Context, msg Message) error {
	r.titles = append(r.titles, msg.Title)
	return r.err
}

func (r *recordSender) Name() string { return r.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0"},
		{1_000_000, "1"},
		{1_500_000, "1.5"},
		{100_000_000, "100"},
		{1, "0.000001"},
	}
	for _, tt := range tests {
		if got := FormatAmount(tt.in); got != tt.want {
			t.Errorf("FormatAmount(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatEvent(t *testing.T) {
	ev := domain.Event{
		Type:     domain.EventMarketResolved,
		MarketID: uuid.MustParse("5b0c9c1e-0d4f-4c55-9a63-1f3b2a7c8d90"),
		Amount:   2_000_000,
		Detail:   map[string]any{"outcome": "yes", "final_price": 101},
	}
	msg := FormatEvent(ev)
	if msg.Title != "Market resolved YES" || msg.Level != LevelSuccess {
		t.Errorf("title = %q level = %d", msg.Title, msg.Level)
	}
	text := msg.Text()
	for _, want := range []string{"5b0c9c1e", "amount: 2", "final_price: 101", "outcome: yes"} {
		if !strings.Contains(text, want) {
			t.Errorf("message %q missing %q", text, want)
		}
	}
	if msg.Fields[len(msg.Fields)-1].Name != "outcome" {
		t.Errorf("detail keys not sorted: %+v", msg.Fields)
	}
}

func TestTelegramTextEscapes(t *testing.T) {
	got := telegramText(Message{
		Title:  "Market resolved YES",
		Fields: []Field{{Name: "final_price", Value: "101.5"}},
	})
	want := "*Market resolved YES*\nfinal\\_price: `101.5`"
	if got != want {
		t.Fatalf("telegramText = %q, want %q", got, want)
	}
}

func TestNotifierFilter(t *testing.T) {
	s := &recordSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"market_resolved"}, discardLogger())
	ctx := context.Background()

	if err := n.NotifyEvent(ctx, domain.Event{Type: domain.EventBetPlaced}); err != nil {
		t.Fatal(err)
	}
	if err := n.NotifyEvent(ctx, domain.Event{Type: domain.EventMarketResolved}); err != nil {
		t.Fatal(err)
	}
	if len(s.titles) != 1 {
		t.Fatalf("sent %d, want 1", len(s.titles))
	}
}

func TestNotifierCollectsFailures(t *testing.T) {
	bad := &recordSender{name: "bad", err: errors.New("boom")}
	good := &recordSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.NotifyAll(context.Background(), Message{Title: "t"})
	if err == nil || !strings.Contains(err.Error(), "bad: boom") {
		t.Fatalf("err = %v", err)
	}
	if len(good.titles) != 1 {
		t.Fatal("healthy sender was skipped")
	}
}

func TestDiscordSender(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	msg := Message{Title: "Winnings claimed", Level: LevelSuccess, Fields: []Field{
		{Name: "amount", Value: "1.9"},
		{Name: "market", Value: strings.Repeat("m", 40)},
	}}
	if err := d.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(got.Embeds) != 1 {
		t.Fatalf("embeds = %+v", got.Embeds)
	}
	e := got.Embeds[0]
	if e.Title != "Winnings claimed" || e.Color != discordColors[LevelSuccess] {
		t.Fatalf("embed = %+v", e)
	}
	if len(e.Fields) != 2 || !e.Fields[0].Inline || e.Fields[1].Inline {
		t.Fatalf("fields = %+v", e.Fields)
	}
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if err := NewDiscordSender(srv.URL).Send(context.Background(), Message{Title: "t"}); err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestNewTelegramSenderChatID(t *testing.T) {
	if _, err := NewTelegramSender("token", "not-a-number"); err == nil {
		t.Fatal("expected error for bad chat id")
	}
	s, err := NewTelegramSender("token", "-100123")
	if err != nil {
		t.Fatal(err)
	}
	if s.chatID != -100123 {
		t.Fatalf("chatID = %d", s.chatID)
	}
}
