// Package pagerduty raises incidents for stuck finalizations through the Events API v2.
package pagerduty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/target/reclaim/internal/observability/notify"
)

// DefaultEndpoint is the PagerDuty Events API v2 ingest URL.
const DefaultEndpoint = "https://events.pagerduty.com/v2/enqueue"

// Config captures runtime configuration for the PagerDuty sink.
type Config struct {
	RoutingKey string
	Source     string
	Component  string
	// Endpoint overrides DefaultEndpoint (tests, proxies).
	Endpoint   string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
	// Backoff is the base wait between attempts; attempt n waits n*Backoff.
	Backoff time.Duration
}

// Client publishes trigger events. One incident is kept per stuck entity.
type Client struct {
	routingKey string
	source     string
	component  string
	endpoint   string
	retryLimit int
	backoff    time.Duration
	http       *http.Client
}

var _ notify.Sink = (*Client)(nil)

// Event is the Events API v2 request body.
type Event struct {
	RoutingKey  string       `json:"routing_key"`
	EventAction string       `json:"event_action"`
	DedupKey    string       `json:"dedup_key"`
	Payload     EventPayload `json:"payload"`
}

// EventPayload is the "payload" section of an Event.
type EventPayload struct {
	Summary       string         `json:"summary"`
	Severity      string         `json:"severity"`
	Source        string         `json:"source"`
	Component     string         `json:"component"`
	Group         string         `json:"group,omitempty"`
	Class         string         `json:"class,omitempty"`
	Timestamp     string         `json:"timestamp"`
	CustomDetails map[string]any `json:"custom_details"`
}

// NewClient validates cfg and builds a client. A routing key is required.
func NewClient(cfg Config) (*Client, error) {
	key := strings.TrimSpace(cfg.RoutingKey)
	if key == "" {
		return nil, errors.New("pagerduty routing key is required")
	}
	return &Client{
		routingKey: key,
		source:     orDefault(cfg.Source, "reclaim"),
		component:  orDefault(cfg.Component, "finalizer"),
		endpoint:   orDefault(cfg.Endpoint, DefaultEndpoint),
		retryLimit: max(cfg.RetryLimit, 0),
		backoff:    cfg.Backoff,
		http:       notify.HTTPClient(cfg.Client, cfg.Timeout),
	}, nil
}

// SendJobFailure triggers (or folds into) the incident for the payload's entity.
// Client errors (4xx other than 429) are not retried.
func (c *Client) SendJobFailure(ctx context.Context, payload notify.JobFailurePayload) error {
	body, err := json.Marshal(c.buildEvent(payload))
	if err != nil {
		return fmt.Errorf("encode pagerduty event: %w", err)
	}
	return notify.Deliver(ctx, c.retryLimit, c.backoff, func(ctx context.Context) (bool, error) {
		return notify.PostJSON(ctx, c.http, "pagerduty api", c.endpoint, body)
	})
}

func (c *Client) buildEvent(p notify.JobFailurePayload) Event {
	details := make(map[string]any, len(p.Metadata)+8)
	for k, v := range p.Metadata {
		details[k] = v
	}
	for _, f := range p.Fields() {
		details[f.Key] = f.Value
	}
	if p.Attempt > 0 {
		details["attempt"] = p.Attempt
	}

	dedup := p.EntityKey()
	if dedup == "" {
		dedup = strings.Trim(p.JobType+":"+p.JobID, ":")
	}

	return Event{
		RoutingKey:  c.routingKey,
		EventAction: "trigger",
		DedupKey:    dedup,
		Payload: EventPayload{
			Summary:       p.Summary(),
			Severity:      p.SeverityOrDefault(),
			Source:        c.source,
			Component:     c.component,
			Group:         p.EntityType,
			Class:         p.ErrorClass,
			Timestamp:     p.Timestamp().Format(time.RFC3339),
			CustomDetails: details,
		},
	}
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
