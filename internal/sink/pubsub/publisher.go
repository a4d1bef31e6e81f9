// Package pubsub publishes crawl result events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/humancrawl/internal/crawler"
)

// Event is the JSON payload published for each crawl result. Bodies are
// never published.
type Event struct {
	URL                  string    `json:"url"`
	SessionID            string    `json:"session_id"`
	Success              bool      `json:"success"`
	Status               int       `json:"status"`
	Error                string    `json:"error,omitempty"`
	ProtectionSystem     string    `json:"protection_system,omitempty"`
	ProtectionConfidence float64   `json:"protection_confidence,omitempty"`
	DurationMs           int64     `json:"duration_ms"`
	SizeBytes            int       `json:"size_bytes"`
	ContentHash          string    `json:"content_sha256,omitempty"`
	FetchedAt            time.Time `json:"fetched_at"`
}

// NewEvent converts a crawl result into its published form.
func NewEvent(result crawler.Result) Event {
	ev := Event{
		URL:         result.URL,
		SessionID:   result.SessionID,
		Success:     result.Success,
		Status:      result.Status,
		Error:       result.Error,
		DurationMs:  result.Metrics.DurationMs,
		SizeBytes:   result.Metrics.SizeBytes,
		ContentHash: result.ContentHash,
		FetchedAt:   result.FetchedAt,
	}
	if result.Protection != nil && result.Protection.Detected() {
		ev.ProtectionSystem = string(result.Protection.System)
		ev.ProtectionConfidence = result.Protection.Confidence
	}
	return ev
}

type topic interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
	Stop()
}

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	topic topic
}

// New creates a Publisher for the provided topic.
func New(t *pubsub.Topic) *Publisher {
	if t == nil {
		return &Publisher{}
	}
	return &Publisher{topic: t}
}

// Save implements crawler.ResultSink by publishing the result event and
// waiting for the server ack.
func (p *Publisher) Save(ctx context.Context, result crawler.Result) error {
	_, err := p.Publish(ctx, NewEvent(result))
	return err
}

// Publish marshals the event to JSON and publishes it to the topic.
func (p *Publisher) Publish(ctx context.Context, ev Event) (string, error) {
	if p == nil || p.topic == nil {
		return "", fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	msg := &pubsub.Message{Data: data}
	msg.Attributes = map[string]string{
		"session_id": ev.SessionID,
		"success":    strconv.FormatBool(ev.Success),
		"status":     strconv.Itoa(ev.Status),
	}
	if ev.ProtectionSystem != "" {
		msg.Attributes["protection_system"] = ev.ProtectionSystem
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages.
func (p *Publisher) Close() {
	if p == nil || p.topic == nil {
		return
	}
	p.topic.Stop()
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
