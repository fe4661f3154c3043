package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket subscription endpoint for progressive rate updates, speaking a
// graphql-transport-ws-like message protocol.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsSubscribePayload struct {
	Events []string `json:"events"` // rates.updated, quote.settled; empty = all
}

// RatesWSHandler handles /v1/rates/ws
func (s *Server) RatesWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()
	_, tenant := s.withTenant(r)

	// Track subscriptions: id -> event channel
	subs := map[string]chan SSEEvent{}
	defer func() {
		for _, ch := range subs {
			s.Broker.Unsubscribe(tenant, ch)
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	var writeMu sync.Mutex
	write := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "connection_init":
			_ = write(wsMessage{Type: "connection_ack"})
			// keepalive
			go func() {
				ticker := time.NewTicker(20 * time.Second)
				defer ticker.Stop()
				for range ticker.C {
					if err := write(wsMessage{Type: "ping"}); err != nil {
						return
					}
				}
			}()
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "subscribe":
			var pl wsSubscribePayload
			_ = json.Unmarshal(msg.Payload, &pl)
			ch := s.Broker.Subscribe(tenant)
			subs[msg.ID] = ch
			go func(id string, ch chan SSEEvent, wanted []string) {
				for evt := range ch {
					if len(wanted) > 0 && !contains(wanted, evt.Type) {
						continue
					}
					data, _ := json.Marshal(map[string]any{"event": evt.Type, "data": evt.Data})
					if err := write(wsMessage{Type: "next", ID: id, Payload: data}); err != nil {
						return
					}
				}
				_ = write(wsMessage{Type: "complete", ID: id})
			}(msg.ID, ch, pl.Events)
		case "complete":
			if ch, ok := subs[msg.ID]; ok {
				delete(subs, msg.ID)
				s.Broker.Unsubscribe(tenant, ch)
			}
		}
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
