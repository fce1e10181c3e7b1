// Package stream implements a single auto-reconnecting WebSocket
// connection carrying a broker's order lifecycle events: exponential
// backoff on disconnect, a read deadline that forces reconnection on
// silent server failure, and re-sending the subscribe message after
// every reconnect.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradecore/pkg/money"
)

// Event mirrors broker.Event's shape. It is declared independently (not
// imported) so this package stays free of a dependency on the broker
// package that composes it, avoiding an import cycle; live.go converts
// between the two one-for-one.
type Event struct {
	Type          string
	BrokerOrderID string
	Sequence      int64
	FillQty       int64
	FillPrice     money.Amount
	CumulativeQty int64
	Reason        string
}

const (
	pingInterval     = 50 * time.Second
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	eventBufferSize  = 256
)

// wireEvent is the broker's JSON envelope for one event-stream message.
type wireEvent struct {
	EventType     string `json:"event_type"`
	BrokerOrderID string `json:"broker_order_id"`
	Sequence      int64  `json:"sequence"`
	FillQty       int64  `json:"fill_qty"`
	FillPrice     string `json:"fill_price"`
	CumulativeQty int64  `json:"cumulative_qty"`
	Reason        string `json:"reason"`
}

// Feed manages one broker's order event WebSocket connection.
type Feed struct {
	url    string
	apiKey string

	connMu sync.Mutex
	conn   *websocket.Conn

	eventCh chan Event
	logger  *slog.Logger
}

// New creates a Feed for the given broker WebSocket URL.
func New(wsURL, apiKey string, logger *slog.Logger) *Feed {
	return &Feed{
		url:     wsURL,
		apiKey:  apiKey,
		eventCh: make(chan Event, eventBufferSize),
		logger:  logger.With("component", "broker_stream"),
	}
}

// Events returns the channel events are delivered on.
func (f *Feed) Events() <-chan Event { return f.eventCh }

// Run connects and maintains the connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("event stream disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.writeJSON(map[string]string{"op": "subscribe", "api_key": f.apiKey}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("event stream connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatch(msg)
	}
}

func (f *Feed) dispatch(data []byte) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		f.logger.Debug("ignoring non-json stream message", "data", string(data))
		return
	}

	evt := Event{
		Type:          w.EventType,
		BrokerOrderID: w.BrokerOrderID,
		Sequence:      w.Sequence,
		FillQty:       w.FillQty,
		CumulativeQty: w.CumulativeQty,
		Reason:        w.Reason,
	}
	if w.FillPrice != "" {
		if p, err := money.NewFromString(w.FillPrice); err == nil {
			evt.FillPrice = p
		}
	}

	select {
	case f.eventCh <- evt:
	default:
		f.logger.Warn("event channel full, dropping event", "broker_order_id", evt.BrokerOrderID, "sequence", evt.Sequence)
	}
}

func (f *Feed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *Feed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("stream not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *Feed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("stream not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}

// Close gracefully closes the connection.
func (f *Feed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}
