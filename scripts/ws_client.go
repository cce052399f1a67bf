// Package main runs a demo WebSocket client: it subscribes to allocation events,
// triggers one allocation run and prints what arrives.
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

type nextPayload struct {
	Type string `json:"type"`
	Data struct {
		RunID            string  `json:"runId"`
		GrandTotalProfit float64 `json:"grandTotalProfit"`
	} `json:"data"`
}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const demoRequest = `{"fuelUnitPrice":750,"strategy":"exact","contracts":[
 {"id":"demo-1","origin":"Jita","destination":"UALX","volume":200000,"reward":450000000,"distanceLy":52.276,"direction":"inbound"},
 {"id":"demo-2","origin":"Jita","destination":"UALX","volume":150000,"reward":300000000,"distanceLy":52.276,"direction":"inbound"},
 {"id":"demo-3","origin":"UALX","destination":"Jita","volume":90000,"reward":120000000,"distanceLy":35.357,"direction":"outbound"}]}`

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/events/ws"}
	hdr := http.Header{}
	hdr.Set("X-Role", "dispatcher")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	pl, _ := json.Marshal(map[string]any{"topic": "allocations", "types": []string{"allocation.completed"}})
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
			if m.Type != "next" {
				log.Printf("WS <- %s", m.Type)
				continue
			}
			var ev nextPayload
			if err := json.Unmarshal(m.Payload, &ev); err != nil {
				log.Printf("decode next: %v", err)
				continue
			}
			log.Printf("WS <- %s run=%s profit=%.2f", ev.Type, ev.Data.RunID, ev.Data.GrandTotalProfit)
			return
		}
	}()

	// Trigger an allocation run
	time.Sleep(500 * time.Millisecond)
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/allocations?format=text", bytes.NewReader([]byte(demoRequest)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Role", "dispatcher")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	var manifest bytes.Buffer
	_, _ = manifest.ReadFrom(resp.Body)
	_ = resp.Body.Close()
	log.Printf("POST /v1/allocations -> %s\n%s", resp.Status, manifest.String())

	// Wait briefly to receive the event
	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
