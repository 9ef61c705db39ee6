package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a committed settlement operation.
type EventType string

const (
	EventMarketCreated  EventType = "market_created"
	EventPositionOpened EventType = "position_opened"
	EventBetPlaced      EventType = "bet_placed"
	EventBetCancelled   EventType = "bet_cancelled"
	EventMarketResolved EventType = "market_resolved"
	EventClaimed        EventType = "winnings_claimed"
	EventFeeWithdrawn   EventType = "fee_withdrawn"
	EventFeedRegistered EventType = "feed_registered"
	EventDeposit        EventType = "deposit"
	EventMarketArchived EventType = "market_archived"
)

// Event is published after the transaction that produced it commits.
type Event struct {
	ID       uuid.UUID      `json:"id"`
	Type     EventType      `json:"type"`
	MarketID uuid.UUID      `json:"market_id,omitempty"`
	Actor    string         `json:"actor,omitempty"`
	Amount   uint64         `json:"amount,omitempty"`
	Detail   map[string]any `json:"detail,omitempty"`
	At       time.Time      `json:"at"`
}
