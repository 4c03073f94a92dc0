// Package relay speaks the relay wire protocol over websockets.
//
// Connections are opened per operation and closed afterwards. Pooling and
// long lived subscriptions are left to dedicated relay managers.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/oklog/ulid/v2"

	"github.com/MrSnakeDoc/marksync/internal/domain"
	"github.com/MrSnakeDoc/marksync/internal/logger"
	"github.com/MrSnakeDoc/marksync/internal/nostr"
	"github.com/MrSnakeDoc/marksync/internal/version"
)

const readLimit = 4 << 20

// Client talks to a single relay.
type Client struct {
	url    string
	logger logger.Logger
}

// NewClient creates a client for the relay at url (ws:// or wss://).
func NewClient(url string, log logger.Logger) *Client {
	return &Client{url: url, logger: log}
}

// URL returns the relay address.
func (c *Client) URL() string { return c.url }

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{
		HTTPHeader: http.Header{"User-Agent": []string{version.UserAgent()}},
	})
	if err != nil {
		return nil, c.wrap(ctx, fmt.Errorf("failed to dial relay: %w", err))
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}

// Ping opens and closes a connection.
func (c *Client) Ping(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	return conn.Close(websocket.StatusNormalClosure, "")
}

// Query sends a REQ and collects events until EOSE.
func (c *Client) Query(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	subID := ulid.Make().String()
	if err := wsjson.Write(ctx, conn, []any{"REQ", subID, filter}); err != nil {
		return nil, c.wrap(ctx, fmt.Errorf("failed to send REQ: %w", err))
	}

	var events []*nostr.Event
	for {
		msg, err := c.read(ctx, conn)
		if err != nil {
			return events, err
		}
		switch msg.label {
		case "EVENT":
			if len(msg.args) < 2 || msg.str(0) != subID {
				continue
			}
			var ev nostr.Event
			if err := json.Unmarshal(msg.args[1], &ev); err != nil {
				c.logger.Debug("dropping malformed event",
					logger.String("relay", c.url), logger.Error(err))
				continue
			}
			if err := nostr.Verify(&ev); err != nil {
				c.logger.Debug("dropping unverifiable event",
					logger.String("relay", c.url), logger.String("id", ev.ID), logger.Error(err))
				continue
			}
			events = append(events, &ev)
		case "EOSE":
			if msg.str(0) != subID {
				continue
			}
			_ = wsjson.Write(ctx, conn, []any{"CLOSE", subID})
			return events, nil
		case "CLOSED":
			if msg.str(0) == subID {
				return events, fmt.Errorf("relay %s closed subscription: %s", c.url, msg.str(1))
			}
		case "NOTICE":
			c.logger.Debug("relay notice",
				logger.String("relay", c.url), logger.String("message", msg.str(0)))
		}
	}
}

// Publish sends the event and waits for the relay's OK.
func (c *Client) Publish(ctx context.Context, ev *nostr.Event) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	if err := wsjson.Write(ctx, conn, []any{"EVENT", ev}); err != nil {
		return c.wrap(ctx, fmt.Errorf("failed to send EVENT: %w", err))
	}

	for {
		msg, err := c.read(ctx, conn)
		if err != nil {
			return err
		}
		if msg.label != "OK" || msg.str(0) != ev.ID {
			continue
		}
		var accepted bool
		if len(msg.args) > 1 {
			_ = json.Unmarshal(msg.args[1], &accepted)
		}
		if !accepted {
			return &domain.RejectionError{Relay: c.url, Reason: msg.str(2)}
		}
		return nil
	}
}

type envelope struct {
	label string
	args  []json.RawMessage
}

func (e envelope) str(i int) string {
	if i >= len(e.args) {
		return ""
	}
	var s string
	_ = json.Unmarshal(e.args[i], &s)
	return s
}

func (c *Client) read(ctx context.Context, conn *websocket.Conn) (envelope, error) {
	var raw []json.RawMessage
	if err := wsjson.Read(ctx, conn, &raw); err != nil {
		return envelope{}, c.wrap(ctx, fmt.Errorf("failed to read from relay: %w", err))
	}
	if len(raw) == 0 {
		return envelope{}, nil
	}
	var label string
	_ = json.Unmarshal(raw[0], &label)
	return envelope{label: label, args: raw[1:]}, nil
}

// wrap turns a deadline expiry into domain.ErrTimeout.
func (c *Client) wrap(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("relay %s: %w", c.url, domain.ErrTimeout)
	}
	return fmt.Errorf("relay %s: %w", c.url, err)
}
