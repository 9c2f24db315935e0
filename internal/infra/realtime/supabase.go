// Package realtime implements the change-stream source over the Supabase
// Realtime websocket (Phoenix channel protocol).
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"newsstand/internal/common"
	"newsstand/internal/domain/stream"

	"github.com/gorilla/websocket"
)

const heartbeatInterval = 25 * time.Second

var _ stream.Source = (*Client)(nil)

// Client opens Phoenix channels against a Supabase project.
type Client struct {
	wsURL  string
	apiKey string
	log    *slog.Logger
}

// NewClient creates a realtime client for the given project URL and anon
// key.
func NewClient(projectURL, apiKey string, log *slog.Logger) (*Client, error) {
	u, err := url.Parse(projectURL)
	if err != nil {
		return nil, fmt.Errorf("parsing project url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime/v1/websocket"
	u.RawQuery = url.Values{
		"apikey": {apiKey},
		"vsn":    {"1.0.0"},
	}.Encode()

	if log == nil {
		log = slog.Default()
	}
	return &Client{
		wsURL:  u.String(),
		apiKey: apiKey,
		log:    log.With("component", "realtime.Client"),
	}, nil
}

// phoenixMessage is the wire frame for the channel protocol.
type phoenixMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

// postgresChange mirrors the server's change config.
type postgresChange struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

// changePayload is the body of an incoming postgres_changes frame.
type changePayload struct {
	Data struct {
		Schema    string          `json:"schema"`
		Table     string          `json:"table"`
		Type      string          `json:"type"`
		Record    json.RawMessage `json:"record"`
		OldRecord json.RawMessage `json:"old_record"`
		CommitAt  time.Time       `json:"commit_timestamp"`
	} `json:"data"`
}

// Open dials the websocket, joins the channel for topic with the given
// filters, and delivers events and transport errors via the callbacks until
// the returned channel is closed.
func (c *Client) Open(ctx context.Context, topic string, filters []stream.TableFilter, onEvent func(stream.RawEvent), onError func(error)) (stream.Channel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return nil, common.NewTransportError("dial", err)
	}

	ch := &channel{
		conn:    conn,
		topic:   "realtime:" + topic,
		onEvent: onEvent,
		onError: onError,
		done:    make(chan struct{}),
		log:     c.log.With("topic", topic),
	}

	if err := ch.join(filters); err != nil {
		_ = conn.Close()
		return nil, common.NewTransportError("join", err)
	}

	go ch.readLoop()
	go ch.heartbeatLoop()
	return ch, nil
}

// channel is one live Phoenix channel.
type channel struct {
	conn    *websocket.Conn
	topic   string
	onEvent func(stream.RawEvent)
	onError func(error)
	log     *slog.Logger

	writeMu   sync.Mutex
	refMu     sync.Mutex
	ref       int
	closeOnce sync.Once
	done      chan struct{}
}

func (ch *channel) nextRef() string {
	ch.refMu.Lock()
	defer ch.refMu.Unlock()
	ch.ref++
	return strconv.Itoa(ch.ref)
}

func (ch *channel) send(topic, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", event, err)
	}
	msg := phoenixMessage{
		Topic:   topic,
		Event:   event,
		Payload: raw,
		Ref:     ch.nextRef(),
	}

	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	return ch.conn.WriteJSON(msg)
}

func (ch *channel) join(filters []stream.TableFilter) error {
	changes := make([]postgresChange, 0, len(filters))
	for _, f := range filters {
		changes = append(changes, postgresChange{
			Event:  string(f.Event),
			Schema: f.Schema,
			Table:  f.Table,
			Filter: f.Filter,
		})
	}

	return ch.send(ch.topic, "phx_join", map[string]any{
		"config": map[string]any{
			"postgres_changes": changes,
		},
	})
}

func (ch *channel) readLoop() {
	for {
		var msg phoenixMessage
		if err := ch.conn.ReadJSON(&msg); err != nil {
			select {
			case <-ch.done:
				// Intentional close, not a transport failure.
			default:
				ch.onError(common.NewTransportError("read", err))
			}
			return
		}

		switch msg.Event {
		case "postgres_changes":
			var p changePayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				ch.log.Warn("undecodable change payload", "error", err)
				continue
			}
			ch.onEvent(stream.RawEvent{
				Schema:    p.Data.Schema,
				Table:     p.Data.Table,
				Type:      p.Data.Type,
				Record:    p.Data.Record,
				OldRecord: p.Data.OldRecord,
				CommitAt:  p.Data.CommitAt,
			})

		case "phx_error", "phx_close":
			select {
			case <-ch.done:
			default:
				ch.onError(common.NewTransportError("channel", fmt.Errorf("server sent %s", msg.Event)))
			}
			return

		case "phx_reply", "presence_state", "system":
			// Acknowledgements and presence frames are not change events.

		default:
			ch.log.Debug("ignoring frame", "event", msg.Event)
		}
	}
}

func (ch *channel) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ch.done:
			return
		case <-ticker.C:
			if err := ch.send("phoenix", "heartbeat", map[string]any{}); err != nil {
				// The read loop will observe the broken connection.
				ch.log.Debug("heartbeat write failed", "error", err)
				return
			}
		}
	}
}

// Close tears down the websocket. Safe to call multiple times.
func (ch *channel) Close() error {
	var err error
	ch.closeOnce.Do(func() {
		close(ch.done)
		ch.writeMu.Lock()
		_ = ch.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		ch.writeMu.Unlock()
		err = ch.conn.Close()
	})
	return err
}
