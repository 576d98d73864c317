// Package slack posts finalize failures to a Slack incoming webhook as Block Kit messages.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/target/reclaim/internal/observability/notify"
)

// Config captures the Slack webhook settings.
type Config struct {
	WebhookURL string
	Channel    string
	Username   string
	Timeout    time.Duration
	RetryLimit int
	Backoff    time.Duration
	Client     *http.Client
	// EntityURLPrefix links entity ids, e.g. "https://reclaim.example/api/entities".
	EntityURLPrefix string
}

// Client delivers job failure notifications to a Slack webhook.
type Client struct {
	webhookURL string
	channel    string
	username   string
	retryLimit int
	backoff    time.Duration
	entityURL  *url.URL
	http       *http.Client
}

var _ notify.Sink = (*Client)(nil)

// Message is the webhook request body. Text is the fallback shown in notifications.
type Message struct {
	Channel  string  `json:"channel,omitempty"`
	Username string  `json:"username,omitempty"`
	Text     string  `json:"text"`
	Blocks   []Block `json:"blocks"`
}

// Block is a Block Kit layout block.
type Block struct {
	Type     string       `json:"type"`
	Text     *TextObject  `json:"text,omitempty"`
	Fields   []TextObject `json:"fields,omitempty"`
	Elements []TextObject `json:"elements,omitempty"`
}

// TextObject is a Block Kit text element.
type TextObject struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config) (*Client, error) {
	webhookURL := strings.TrimSpace(cfg.WebhookURL)
	if webhookURL == "" {
		return nil, errors.New("slack webhook url is required")
	}

	c := &Client{
		webhookURL: webhookURL,
		channel:    strings.TrimSpace(cfg.Channel),
		username:   strings.TrimSpace(cfg.Username),
		retryLimit: max(cfg.RetryLimit, 0),
		backoff:    cfg.Backoff,
		http:       notify.HTTPClient(cfg.Client, cfg.Timeout),
	}
	if c.username == "" {
		c.username = "reclaim"
	}
	if prefix := strings.TrimSpace(cfg.EntityURLPrefix); prefix != "" {
		if u, err := url.Parse(prefix); err == nil && u.Scheme != "" && u.Host != "" {
			c.entityURL = u
		}
	}
	return c, nil
}

// SendJobFailure posts the payload, retrying 429 and 5xx answers.
func (c *Client) SendJobFailure(ctx context.Context, payload notify.JobFailurePayload) error {
	body, err := json.Marshal(c.buildMessage(payload))
	if err != nil {
		return fmt.Errorf("encode slack payload: %w", err)
	}
	return notify.Deliver(ctx, c.retryLimit, c.backoff, func(ctx context.Context) (bool, error) {
		return notify.PostJSON(ctx, c.http, "slack webhook", c.webhookURL, body)
	})
}

func (c *Client) buildMessage(p notify.JobFailurePayload) Message {
	summary := p.Summary()
	blocks := []Block{
		{Type: "header", Text: &TextObject{Type: "plain_text", Text: summary}},
	}

	var fields []TextObject
	if entity := c.entityLink(p.EntityType, p.EntityID); entity != "" {
		fields = append(fields, mrkdwn("*Entity*\n"+entity))
	}
	fields = append(fields, mrkdwn("*Severity*\n"+p.SeverityOrDefault()))
	for _, f := range p.Fields() {
		switch f.Key {
		case "entity_type", "entity_id", "error":
			continue
		case "job_id":
			fields = append(fields, mrkdwn("*"+f.Label+"*\n`"+escape(f.Value)+"`"))
		default:
			fields = append(fields, mrkdwn("*"+f.Label+"*\n"+escape(f.Value)))
		}
	}
	// Slack caps a section at ten fields.
	if len(fields) > 10 {
		fields = fields[:10]
	}
	blocks = append(blocks, Block{Type: "section", Fields: fields})

	if p.Error != "" {
		blocks = append(blocks, Block{Type: "section", Text: ptr(mrkdwn("```" + escape(p.Error) + "```"))})
	}

	footer := []TextObject{mrkdwn("<!date^" + fmt.Sprint(p.Timestamp().Unix()) +
		"^{date_short_pretty} {time_secs}|" + p.Timestamp().Format(time.RFC3339) + ">")}
	if meta := formatMetadata(p.Metadata); meta != "" {
		footer = append(footer, mrkdwn(meta))
	}
	blocks = append(blocks, Block{Type: "context", Elements: footer})

	return Message{
		Channel:  c.channel,
		Username: c.username,
		Text:     summary,
		Blocks:   blocks,
	}
}

// entityLink renders "type/id", linked when an entity URL prefix is configured.
func (c *Client) entityLink(entityType, entityID string) string {
	entityType, entityID = strings.TrimSpace(entityType), strings.TrimSpace(entityID)
	if entityType == "" || entityID == "" {
		return escape(entityType + entityID)
	}
	label := escape(entityType + "/" + entityID)
	if c.entityURL == nil {
		return label
	}
	return "<" + c.entityURL.JoinPath(entityType, entityID).String() + "|" + label + ">"
}

func formatMetadata(md map[string]string) string {
	if len(md) == 0 {
		return ""
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, escape(k)+"="+escape(md[k]))
	}
	return strings.Join(parts, " · ")
}

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escape(s string) string { return escaper.Replace(s) }

func mrkdwn(s string) TextObject { return TextObject{Type: "mrkdwn", Text: s} }

func ptr[T any](v T) *T { return &v }
