package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// subscribeCommand is sent after every (re)connect.
type subscribeCommand struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

// WSFeed connects to an upstream price WebSocket, subscribes to the
// configured symbols and submits each observation it receives. It
// reconnects with exponential backoff until ctx is cancelled.
type WSFeed struct {
	url     string
	symbols []string
	sink    Submitter
	logger  *slog.Logger
	now     func() time.Time
	dialer  websocket.Dialer
}

// NewWSFeed creates a WSFeed.
func NewWSFeed(url string, symbols []string, sink Submitter, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:     url,
		symbols: symbols,
		sink:    sink,
		logger:  logger.With(slog.String("component", "ws_feed")),
		now:     time.Now,
		dialer:  websocket.Dialer{HandshakeTimeout: 15 * time.Second},
	}
}

// Run connects and reads until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	if f.url == "" {
		f.logger.Info("no upstream url, feed disabled")
		return nil
	}
	delay := reconnectDelay
	for {
		connected, err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			delay = reconnectDelay
		}
		f.logger.Warn("upstream ws disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

// runConnection serves one connection. connected reports whether the dial
// and subscribe succeeded.
func (f *WSFeed) runConnection(ctx context.Context) (connected bool, err error) {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return false, fmt.Errorf("feed/ws: connect: %w", err)
	}
	defer conn.Close()

	if len(f.symbols) > 0 {
		data, err := json.Marshal(subscribeCommand{Type: "subscribe", Symbols: f.symbols})
		if err != nil {
			return false, fmt.Errorf("feed/ws: marshal subscribe: %w", err)
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return false, fmt.Errorf("feed/ws: subscribe: %w", err)
		}
	}
	f.logger.Info("upstream ws subscribed", slog.Int("symbols", len(f.symbols)))

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Closing the connection unblocks ReadMessage when ctx ends.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("feed/ws: read: %w", err)
		}
		obs, err := Decode(message, f.now())
		if err != nil {
			// Control and heartbeat frames from the upstream are not
			// observations.
			continue
		}
		for _, o := range obs {
			f.sink.Submit(o)
		}
	}
}
