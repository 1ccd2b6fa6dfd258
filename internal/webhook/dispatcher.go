package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openlit/ruleengine/internal/telemetry"
)

const (
	// queueSize is the buffer size for the event queue
	queueSize = 1000

	// maxResponseBodySize limits how much of a failed response body is logged
	maxResponseBodySize = 1024
)

// Options tunes delivery.
type Options struct {
	MaxRetries int           // retries after the first attempt
	Timeout    time.Duration // per attempt
}

// Dispatcher delivers events to endpoints on a background goroutine.
type Dispatcher struct {
	endpoints  []Endpoint
	client     *http.Client
	maxRetries int
	backoff    func(attempt int) time.Duration

	queue   chan Event
	done    chan struct{}
	mu      sync.RWMutex // guards sends against Close
	closed  bool
	dropped atomic.Int64
}

// NewDispatcher creates a dispatcher and starts its worker.
func NewDispatcher(endpoints []Endpoint, opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	d := &Dispatcher{
		endpoints:  endpoints,
		client:     &http.Client{Timeout: opts.Timeout},
		maxRetries: opts.MaxRetries,
		backoff:    func(attempt int) time.Duration { return time.Duration(1<<attempt) * time.Second },
		queue:      make(chan Event, queueSize),
		done:       make(chan struct{}),
	}
	go d.worker()
	return d
}

// Close stops accepting events and waits for queued deliveries, retries
// included. Safe to call more than once.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	<-d.done
	return nil
}

// Dispatch queues an event. It never blocks; a full queue drops the event.
func (d *Dispatcher) Dispatch(event Event) {
	if len(d.endpoints) == 0 {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}

	select {
	case d.queue <- event:
	default:
		d.dropped.Add(1)
		telemetry.RecordWebhookDelivery(telemetry.DeliveryDropped)
		log.Error().
			Str("event", event.Type).
			Str("rule_id", event.Resource.ID).
			Int("queue_size", queueSize).
			Msg("webhook queue full, dropping event")
	}
}

// Dropped returns the number of events discarded because the queue was full.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

func (d *Dispatcher) worker() {
	defer close(d.done)

	for event := range d.queue {
		payload, err := json.Marshal(event)
		if err != nil {
			log.Error().Err(err).Str("event", event.Type).Msg("webhook payload")
			continue
		}
		for _, ep := range d.endpoints {
			if ep.wants(event.Type) {
				d.deliverWithRetry(ep, event.Type, payload)
			}
		}
	}
}

// deliverWithRetry posts payload to ep with exponential backoff between
// attempts. Any 2xx status is a success.
func (d *Dispatcher) deliverWithRetry(ep Endpoint, eventType string, payload []byte) bool {
	signature := Sign(payload, ep.Secret)
	deliveryID := uuid.NewString()

	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		start := time.Now()
		status, body, err := d.post(ep.URL, eventType, deliveryID, signature, payload)
		logger := log.With().
			Str("url", ep.URL).
			Str("event", eventType).
			Str("delivery_id", deliveryID).
			Int("attempt", attempt+1).
			Dur("duration", time.Since(start)).
			Logger()

		if err == nil && status >= 200 && status < 300 {
			telemetry.RecordWebhookDelivery(telemetry.DeliverySucceeded)
			logger.Debug().Int("status", status).Msg("webhook delivered")
			return true
		}

		ev := logger.Warn().Int("status", status).Str("response", body)
		if err != nil {
			ev = ev.Err(err)
		}
		if attempt < d.maxRetries {
			wait := d.backoff(attempt)
			ev.Dur("retry_in", wait).Msg("webhook delivery failed")
			time.Sleep(wait)
			continue
		}
		ev.Msg("webhook delivery failed permanently")
	}

	telemetry.RecordWebhookDelivery(telemetry.DeliveryFailed)
	return false
}

func (d *Dispatcher) post(url, eventType, deliveryID, signature string, payload []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(HeaderSignature, signature)
	}
	req.Header.Set(HeaderEvent, eventType)
	req.Header.Set(HeaderDelivery, deliveryID)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	return resp.StatusCode, string(b), nil
}
