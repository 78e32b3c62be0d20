package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/poolbet/poolbet/internal/domain"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// tickMessage is the wire shape of one upstream price tick. Prices arrive as
// decimal strings and are converted to fixed-point on ingest.
type tickMessage struct {
	Type  string `json:"type"`
	Asset string `json:"asset"`
	Price string `json:"price"`
	TS    string `json:"ts"`
}

// WSSource streams reference prices for a set of assets from an upstream
// WebSocket endpoint. It subscribes on connect and reconnects with
// exponential backoff on disconnect.
type WSSource struct {
	wsURL  string
	assets []string
	logger *slog.Logger
}

// NewWSSource creates a WSSource for the given endpoint and assets.
func NewWSSource(wsURL string, assets []string, logger *slog.Logger) *WSSource {
	return &WSSource{
		wsURL:  wsURL,
		assets: assets,
		logger: logger.With(slog.String("component", "pricefeed_ws")),
	}
}

// Run connects and delivers ticks to h until the context is cancelled.
func (s *WSSource) Run(ctx context.Context, h TickHandler) error {
	if len(s.assets) == 0 {
		s.logger.Info("no assets configured, ws source exiting")
		return nil
	}

	delay := reconnectDelay
	for {
		err := s.runConnection(ctx, h)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("price ws disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection dials, subscribes, and reads until the connection breaks or
// the context ends. A healthy read resets the backoff via its caller.
func (s *WSSource) runConnection(ctx context.Context, h TickHandler) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("pricefeed: dial %s: %w", s.wsURL, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	sub := struct {
		Type   string   `json:"type"`
		Assets []string `json:"assets"`
	}{Type: "subscribe", Assets: s.assets}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("pricefeed: subscribe: %w", err)
	}

	// Close the connection when the context ends so the blocked read returns,
	// and keep the peer alive with pings meanwhile.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("pricefeed: read: %w", err)
		}
		if p, ok := s.parseTick(raw); ok {
			h(p)
		}
	}
}

// parseTick decodes one upstream message. Non-tick and malformed messages are
// dropped.
func (s *WSSource) parseTick(raw []byte) (domain.PricePoint, bool) {
	var msg tickMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.PricePoint{}, false
	}
	if msg.Type != "tick" || msg.Asset == "" {
		return domain.PricePoint{}, false
	}

	price, err := ParsePrice(msg.Price)
	if err != nil {
		s.logger.Debug("bad tick price",
			slog.String("asset", msg.Asset),
			slog.String("price", msg.Price),
		)
		return domain.PricePoint{}, false
	}

	ts := time.Now().UTC()
	if msg.TS != "" {
		if t, err := time.Parse(time.RFC3339Nano, msg.TS); err == nil {
			ts = t
		}
	}

	return domain.PricePoint{Asset: msg.Asset, Price: price, At: ts}, true
}
