package notify

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

// AmountDecimals is the number of fractional digits in one display unit of
// ledger value. One unit equals the minimum bet.
const AmountDecimals = 6

// Level colours a message.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
)

// Field is one labelled line of a message.
type Field struct {
	Name  string
	Value string
}

// Message is a channel-independent notification.
type Message struct {
	Title  string
	Level  Level
	Fields []Field
}

// Text renders m as plain "name: value" lines under the title.
func (m Message) Text() string {
	var b strings.Builder
	for _, f := range m.Fields {
		fmt.Fprintf(&b, "%s: %s\n", f.Name, f.Value)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatAmount renders base units as a fixed-point decimal string.
func FormatAmount(amount uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -AmountDecimals).String()
}

// FormatEvent builds the notification for ev. Detail keys are listed in
// sorted order after the market, actor and amount.
func FormatEvent(ev domain.Event) Message {
	m := Message{Title: eventTitle(ev), Level: eventLevel(ev.Type)}
	if ev.MarketID != uuid.Nil {
		m.Fields = append(m.Fields, Field{Name: "market", Value: ev.MarketID.String()})
	}
	if ev.Actor != "" {
		m.Fields = append(m.Fields, Field{Name: "by", Value: ev.Actor})
	}
	if ev.Amount > 0 {
		m.Fields = append(m.Fields, Field{Name: "amount", Value: FormatAmount(ev.Amount)})
	}

	keys := make([]string, 0, len(ev.Detail))
	for k := range ev.Detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m.Fields = append(m.Fields, Field{Name: k, Value: fmt.Sprint(ev.Detail[k])})
	}
	return m
}

func eventTitle(ev domain.Event) string {
	switch ev.Type {
	case domain.EventMarketCreated:
		return "Market created"
	case domain.EventMarketResolved:
		if o, ok := ev.Detail["outcome"]; ok {
			return fmt.Sprintf("Market resolved %v", strings.ToUpper(fmt.Sprint(o)))
		}
		return "Market resolved"
	case domain.EventClaimed:
		return "Winnings claimed"
	case domain.EventFeeWithdrawn:
		return "Protocol fee withdrawn"
	case domain.EventMarketArchived:
		return "Market archived"
	default:
		return strings.ReplaceAll(string(ev.Type), "_", " ")
	}
}

func eventLevel(t domain.EventType) Level {
	switch t {
	case domain.EventMarketResolved, domain.EventClaimed:
		return LevelSuccess
	case domain.EventFeeWithdrawn, domain.EventBetCancelled:
		return LevelWarning
	default:
		return LevelInfo
	}
}
