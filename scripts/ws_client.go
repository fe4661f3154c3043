// Package main runs a demo WebSocket client for progressive rate updates.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Enable a couple of carriers for the demo tenant
	cfg := []byte(`{"carriers":["swiftparcel","roadlink"]}`)
	cfgReq, _ := http.NewRequest(http.MethodPut, base+"/v1/carriers", bytes.NewReader(cfg))
	cfgReq.Header.Set("Content-Type", "application/json")
	cfgReq.Header.Set("X-Tenant-Id", "t_demo")
	if _, err := http.DefaultClient.Do(cfgReq); err != nil {
		log.Fatal(err)
	}

	// Connect WS
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/rates/ws"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", "t_demo")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	// connection_init
	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	// subscribe to all rate events
	pl, _ := json.Marshal(map[string]any{"events": []string{}})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}()

	// Trigger a quote fetch
	time.Sleep(500 * time.Millisecond)
	body := []byte(`{"shipment":{"type":"parcel","origin":{"city":"Memphis","state":"TN","postalCode":"38118"},"destination":{"city":"Louisville","state":"KY","postalCode":"40213"},"packages":[{"weightLb":12,"packaging":"box"}]}}`)
	qReq, _ := http.NewRequest(http.MethodPost, base+"/v1/quotes", bytes.NewReader(body))
	qReq.Header.Set("Content-Type", "application/json")
	qReq.Header.Set("X-Tenant-Id", "t_demo")
	_, _ = http.DefaultClient.Do(qReq)

	// Wait briefly to receive progressive updates
	select {
	case <-time.After(5 * time.Second):
	case <-done:
	}
}
