package backend

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"xevivu-client/internal/logger"
)

const (
	realtimeWriteWait    = 10 * time.Second
	realtimeHeartbeat    = 30 * time.Second
	realtimePongWait     = 70 * time.Second
	realtimeMaxFrameSize = 512 * 1024
)

// ChangeEvent is one insert/update/delete notification for a collection.
type ChangeEvent struct {
	Type  string // INSERT, UPDATE, DELETE
	Table string
}

// Realtime subscribes to change notifications on named collections in the
// public schema over the backend's websocket endpoint.
type Realtime struct {
	wsURL   string
	anonKey string
}

func NewRealtime(baseURL, anonKey string) *Realtime {
	ws := strings.Replace(strings.TrimRight(baseURL, "/"), "http", "ws", 1)
	return &Realtime{wsURL: ws + "/realtime/v1/websocket", anonKey: anonKey}
}

// realtimeMessage is the channel-protocol frame: a topic, an event name and
// an opaque payload, correlated by ref.
type realtimeMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

// Subscription is one live listener on a collection. Events are dropped,
// not queued, when the consumer lags: a change notification only means
// "refetch", so the newest one is all that matters.
type Subscription struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	events  chan ChangeEvent
	done    chan struct{}
	once    sync.Once
}

// Subscribe opens a websocket, joins the collection's topic and starts
// delivering change events. The caller owns the subscription and must call
// Unsubscribe to release the connection.
func (r *Realtime) Subscribe(table string) (*Subscription, error) {
	u := fmt.Sprintf("%s?apikey=%s&vsn=1.0.0", r.wsURL, url.QueryEscape(r.anonKey))
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open realtime connection: %w", err)
	}

	sub := &Subscription{
		conn:   conn,
		events: make(chan ChangeEvent, 4),
		done:   make(chan struct{}),
	}

	topic := "realtime:public:" + table
	join := realtimeMessage{Topic: topic, Event: "phx_join", Payload: json.RawMessage("{}"), Ref: uuid.NewString()}
	if err := sub.write(join); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to join %s: %w", topic, err)
	}

	go sub.readLoop(table, topic)
	go sub.heartbeatLoop()

	logger.Info("Realtime subscription opened", "table", table)
	return sub, nil
}

// Events delivers change notifications until Unsubscribe closes it.
func (s *Subscription) Events() <-chan ChangeEvent { return s.events }

func (s *Subscription) write(msg realtimeMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(realtimeWriteWait))
	return s.conn.WriteJSON(msg)
}

func (s *Subscription) readLoop(table, topic string) {
	defer s.Unsubscribe()
	s.conn.SetReadLimit(realtimeMaxFrameSize)
	s.conn.SetReadDeadline(time.Now().Add(realtimePongWait))

	for {
		var msg realtimeMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			select {
			case <-s.done:
			default:
				logger.Warn("Realtime connection closed", "table", table, "error", err)
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(realtimePongWait))

		if msg.Topic != topic {
			continue
		}
		switch msg.Event {
		case "INSERT", "UPDATE", "DELETE":
			select {
			case s.events <- ChangeEvent{Type: msg.Event, Table: table}:
			default:
				// Consumer is mid-reload; the pending event already covers this change.
			}
		}
	}
}

func (s *Subscription) heartbeatLoop() {
	ticker := time.NewTicker(realtimeHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			hb := realtimeMessage{Topic: "phoenix", Event: "heartbeat", Payload: json.RawMessage("{}"), Ref: uuid.NewString()}
			if err := s.write(hb); err != nil {
				logger.Warn("Realtime heartbeat failed", "error", err)
				s.Unsubscribe()
				return
			}
		}
	}
}

// Unsubscribe tears the listener down. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
		close(s.events)
	})
}
