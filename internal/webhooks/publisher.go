// Package webhooks notifies external endpoints (desk bots, spreadsheets) when
// allocation runs complete. Deliveries are queued in memory and retried by Worker.
package webhooks

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Target is one receiving endpoint. Secret may be empty for unsigned delivery.
type Target struct {
	URL    string
	Secret string
}

// Event is the JSON envelope posted to every target.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	TS   string `json:"ts"`
	Data any    `json:"data"`
}

type delivery struct {
	target   Target
	event    string
	body     []byte
	attempts int
	due      time.Time
}

type Publisher struct {
	Targets []Target
	queue   chan delivery
}

const defaultQueueSize = 256

func NewPublisher(targets []Target, queueSize int) *Publisher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Publisher{Targets: targets, queue: make(chan delivery, queueSize)}
}

// NewPublisherFromEnv reads WEBHOOK_URLS (comma separated) and WEBHOOK_SECRET.
func NewPublisherFromEnv() *Publisher {
	secret := os.Getenv("WEBHOOK_SECRET")
	var targets []Target
	for _, u := range strings.Split(os.Getenv("WEBHOOK_URLS"), ",") {
		if u = strings.TrimSpace(u); u != "" {
			targets = append(targets, Target{URL: u, Secret: secret})
		}
	}
	return NewPublisher(targets, defaultQueueSize)
}

// Enabled reports whether any target is configured.
func (p *Publisher) Enabled() bool { return p != nil && len(p.Targets) > 0 }

// Emit queues eventType for every target and returns how many deliveries were
// queued. A full queue drops the delivery rather than blocking the caller.
func (p *Publisher) Emit(ctx context.Context, eventType string, data any) int {
	if !p.Enabled() {
		return 0
	}
	body, err := json.Marshal(Event{
		ID:   "evt_" + uuid.NewString(),
		Type: eventType,
		TS:   time.Now().UTC().Format(time.RFC3339),
		Data: data,
	})
	if err != nil {
		log.Printf("webhook event=%s marshal err=%v", eventType, err)
		return 0
	}
	n := 0
	for _, t := range p.Targets {
		select {
		case p.queue <- delivery{target: t, event: eventType, body: body}:
			n++
		case <-ctx.Done():
			return n
		default:
			log.Printf("webhook event=%s url=%s dropped: queue full", eventType, t.URL)
		}
	}
	return n
}
