package webhooks

import (
	"bytes"
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"freightalloc/internal/metrics"
)

// Stats counts delivery outcomes since the worker started.
type Stats struct {
	Delivered int `json:"delivered"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

type Worker struct {
	Pub         *Publisher
	HTTP        *http.Client
	Stop        chan struct{}
	MaxAttempts int

	mu      sync.Mutex
	pending []delivery
	stats   Stats
}

func NewWorker(p *Publisher) *Worker {
	max := 5
	if v := os.Getenv("WEBHOOK_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			max = n
		}
	}
	return &Worker{Pub: p, HTTP: &http.Client{Timeout: 5 * time.Second}, Stop: make(chan struct{}), MaxAttempts: max}
}

func (w *Worker) Start() {
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-w.Stop:
				return
			case <-ticker.C:
				w.processOnce(time.Now())
			}
		}
	}()
}

func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	s.Pending = len(w.pending)
	return s
}

// processOnce drains the publisher queue and attempts every delivery that is due.
func (w *Worker) processOnce(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
drain:
	for {
		select {
		case d := <-w.Pub.queue:
			d.due = now
			w.pending = append(w.pending, d)
		default:
			break drain
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	keep := w.pending[:0]
	for _, d := range w.pending {
		if d.due.After(now) {
			keep = append(keep, d)
			continue
		}
		code, err := w.send(ctx, d, now)
		if err == nil && code >= 200 && code < 300 {
			w.stats.Delivered++
			continue
		}
		d.attempts++
		if d.attempts >= w.MaxAttempts {
			w.stats.Failed++
			log.Printf("webhook event=%s url=%s gave up after %d attempts code=%d err=%v", d.event, d.target.URL, d.attempts, code, err)
			continue
		}
		w.stats.Retried++
		d.due = now.Add(nextBackoff(d.attempts))
		keep = append(keep, d)
	}
	w.pending = keep
}

func (w *Worker) send(ctx context.Context, d delivery, now time.Time) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.target.URL, bytes.NewReader(d.body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", d.event)
	if d.target.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(d.target.Secret, now.Unix(), d.body))
	}
	start := time.Now()
	resp, err := w.HTTP.Do(req)
	latency := float64(time.Since(start).Milliseconds())
	status := "error"
	code := 0
	if err == nil {
		code = resp.StatusCode
		_ = resp.Body.Close()
		status = strconv.Itoa(code)
	}
	metrics.WebhookDeliveries.WithLabelValues(d.event, status).Inc()
	metrics.WebhookLatency.WithLabelValues(d.event, status).Observe(latency)
	return code, err
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
