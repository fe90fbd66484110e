package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// feedChannel is the DXLink channel number used for the quote feed.
	// Channel 0 is reserved for the control plane.
	feedChannel = 1

	defaultSnapshotWindow = 5 * time.Second
	dialTimeout           = 10 * time.Second
	keepaliveTimeout      = 60
)

// TokenFunc resolves the websocket endpoint and auth token for a streamer
// connection. The REST client provides this.
type TokenFunc func(ctx context.Context) (wsURL, token string, err error)

// DXLinkClient takes point-in-time quote snapshots over a DXLink websocket.
// Each snapshot opens a fresh connection, subscribes to the requested
// symbols, collects events until every symbol has reported or the snapshot
// window lapses, then disconnects. Symbols that never report are simply
// absent from the result.
type DXLinkClient struct {
	tokenFunc TokenFunc
	window    time.Duration
	logger    *log.Logger
}

// NewDXLinkClient creates a snapshot streamer. window <= 0 selects the
// default snapshot window.
func NewDXLinkClient(tokenFunc TokenFunc, window time.Duration) *DXLinkClient {
	if window <= 0 {
		window = defaultSnapshotWindow
	}
	return &DXLinkClient{
		tokenFunc: tokenFunc,
		window:    window,
		logger:    log.Default(),
	}
}

// SetLogger overrides the destination for connection lifecycle logs.
func (d *DXLinkClient) SetLogger(logger *log.Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// dxMessage is the envelope shared by every DXLink frame. Payload fields
// beyond the envelope are decoded per message type.
type dxMessage struct {
	Type    string          `json:"type"`
	Channel int             `json:"channel"`
	State   string          `json:"state,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// quoteEvent is one Quote event in FULL data format.
type quoteEvent struct {
	EventSymbol string   `json:"eventSymbol"`
	BidPrice    *float64 `json:"bidPrice"`
	AskPrice    *float64 `json:"askPrice"`
}

// QuoteSnapshot subscribes to Quote events for the given symbols and
// returns whatever arrived inside the snapshot window. A partial result is
// not an error; connection and protocol failures are.
func (d *DXLinkClient) QuoteSnapshot(ctx context.Context, symbols []string) (map[string]models.Quote, error) {
	if len(symbols) == 0 {
		return map[string]models.Quote{}, nil
	}

	wsURL, token, err := d.tokenFunc(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtaining streamer token: %w", err)
	}

	// One id per connection so interleaved snapshot logs stay attributable.
	sessionID := uuid.NewString()[:8]

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("dxlink dial [%s]: %w", sessionID, err)}
	}
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(d.window)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("dxlink deadline [%s]: %w", sessionID, err)}
	}

	if err := d.handshake(conn, token, symbols); err != nil {
		return nil, fmt.Errorf("dxlink handshake [%s]: %w", sessionID, err)
	}

	quotes := make(map[string]models.Quote, len(symbols))
	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[s] = true
	}

	for len(quotes) < len(wanted) {
		var msg dxMessage
		if err := conn.ReadJSON(&msg); err != nil {
			// The deadline lapsing mid-read is the normal end of a partial
			// snapshot, not a failure.
			if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
				break
			}
			return nil, &NetworkError{Err: fmt.Errorf("dxlink read [%s]: %w", sessionID, err)}
		}

		switch msg.Type {
		case "FEED_DATA":
			for _, ev := range decodeQuoteEvents(msg.Data) {
				if !wanted[ev.EventSymbol] {
					continue
				}
				q := models.Quote{Symbol: ev.EventSymbol}
				if ev.BidPrice != nil {
					q.Bid = *ev.BidPrice
				}
				if ev.AskPrice != nil {
					q.Ask = *ev.AskPrice
				}
				quotes[ev.EventSymbol] = q
			}
		case "KEEPALIVE":
			_ = conn.WriteJSON(map[string]any{"type": "KEEPALIVE", "channel": 0})
		case "ERROR":
			return nil, &NetworkError{Err: fmt.Errorf("dxlink error [%s]: %s %s", sessionID, msg.Error, msg.Message)}
		case "AUTH_STATE":
			if msg.State == "UNAUTHORIZED" {
				return nil, &AuthError{Err: fmt.Errorf("dxlink rejected token [%s]", sessionID)}
			}
		}
	}

	if len(quotes) < len(wanted) {
		d.logger.Printf("dxlink snapshot [%s]: %d/%d symbols reported within %s",
			sessionID, len(quotes), len(wanted), d.window)
	}
	return quotes, nil
}

// handshake runs SETUP, AUTH, channel open, feed setup and subscription,
// waiting for authorization before subscribing.
func (d *DXLinkClient) handshake(conn *websocket.Conn, token string, symbols []string) error {
	setup := map[string]any{
		"type":                   "SETUP",
		"channel":                0,
		"version":                "1.0.0",
		"keepaliveTimeout":       keepaliveTimeout,
		"acceptKeepaliveTimeout": keepaliveTimeout,
	}
	if err := conn.WriteJSON(setup); err != nil {
		return &NetworkError{Err: fmt.Errorf("setup: %w", err)}
	}
	if err := conn.WriteJSON(map[string]any{"type": "AUTH", "channel": 0, "token": token}); err != nil {
		return &NetworkError{Err: fmt.Errorf("auth: %w", err)}
	}

	if err := d.awaitAuthorized(conn); err != nil {
		return err
	}

	channelReq := map[string]any{
		"type":       "CHANNEL_REQUEST",
		"channel":    feedChannel,
		"service":    "FEED",
		"parameters": map[string]any{"contract": "AUTO"},
	}
	if err := conn.WriteJSON(channelReq); err != nil {
		return &NetworkError{Err: fmt.Errorf("channel request: %w", err)}
	}

	feedSetup := map[string]any{
		"type":                    "FEED_SETUP",
		"channel":                 feedChannel,
		"acceptAggregationPeriod": 0.5,
		"acceptDataFormat":        "FULL",
		"acceptEventFields": map[string]any{
			"Quote": []string{"eventSymbol", "bidPrice", "askPrice"},
		},
	}
	if err := conn.WriteJSON(feedSetup); err != nil {
		return &NetworkError{Err: fmt.Errorf("feed setup: %w", err)}
	}

	add := make([]map[string]string, 0, len(symbols))
	for _, s := range symbols {
		add = append(add, map[string]string{"type": "Quote", "symbol": s})
	}
	sub := map[string]any{
		"type":    "FEED_SUBSCRIPTION",
		"channel": feedChannel,
		"add":     add,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return &NetworkError{Err: fmt.Errorf("feed subscription: %w", err)}
	}
	return nil
}

// awaitAuthorized consumes control messages until the server reports the
// session authorized.
func (d *DXLinkClient) awaitAuthorized(conn *websocket.Conn) error {
	for {
		var msg dxMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return &NetworkError{Err: fmt.Errorf("awaiting auth: %w", err)}
		}
		switch msg.Type {
		case "AUTH_STATE":
			switch msg.State {
			case "AUTHORIZED":
				return nil
			case "UNAUTHORIZED":
				// First UNAUTHORIZED arrives before AUTH is processed;
				// only a repeat after our AUTH means rejection. The server
				// closes the connection on a bad token, which surfaces as
				// a read error on the next loop, so ignoring this state is
				// safe.
				continue
			}
		case "ERROR":
			return &NetworkError{Err: fmt.Errorf("during auth: %s %s", msg.Error, msg.Message)}
		}
	}
}

// decodeQuoteEvents extracts Quote events from a FEED_DATA payload in FULL
// format: ["Quote", [ {event}, ... ]]. Malformed payloads yield nothing.
func decodeQuoteEvents(data json.RawMessage) []quoteEvent {
	var envelope []json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil || len(envelope) < 2 {
		return nil
	}
	var eventType string
	if err := json.Unmarshal(envelope[0], &eventType); err != nil || eventType != "Quote" {
		return nil
	}
	var events []quoteEvent
	if err := json.Unmarshal(envelope[1], &events); err != nil {
		return nil
	}
	out := events[:0]
	for _, ev := range events {
		if ev.EventSymbol != "" {
			out = append(out, ev)
		}
	}
	return out
}

// isTimeout reports whether err is a network timeout, the expected way a
// snapshot window ends.
func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	var t timeout
	return errors.As(err, &t) && t.Timeout()
}
