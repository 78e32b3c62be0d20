package domain

import "time"

// Event channel names on the signal bus. The WebSocket hub fans these out to
// UI subscribers.
const (
	ChannelMarkets = "markets"
	ChannelStakes  = "stakes"
	ChannelRounds  = "rounds"
	ChannelPrices  = "prices"
	ChannelOps     = "ops"
)

// Event types carried in the envelope.
const (
	EventMarketCreated     = "market_created"
	EventMarketClosed      = "market_closed"
	EventMarketResolved    = "market_resolved"
	EventResolutionBlocked = "resolution_blocked"
	EventStakePlaced       = "stake_placed"
	EventStakeCancelled    = "stake_cancelled"
	EventStakeCashedOut    = "stake_cashed_out"
	EventRoundOpened       = "round_opened"
	EventRoundLocked       = "round_locked"
	EventRoundResolved     = "round_resolved"
)

// Event is the JSON envelope published on the signal bus.
type Event struct {
	Type    string         `json:"type"`
	At      time.Time      `json:"at"`
	Payload map[string]any `json:"payload,omitempty"`
}
