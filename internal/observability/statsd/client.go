// Package statsd writes DogStatsD lines over UDP for the finalize workers, the job queue
// and the reaper.
package statsd

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Sink receives metrics. Implementations must be safe for concurrent use.
type Sink interface {
	Count(name string, value int64, tags map[string]string)
	Gauge(name string, value float64, tags map[string]string)
	Timing(name string, value time.Duration, tags map[string]string)
}

// Config configures NewClient.
type Config struct {
	Enabled bool
	// Address is host:port of the agent.
	Address string
	// Prefix is joined to every metric name with a dot.
	Prefix string
	// GlobalTags ride on every metric; per-call tags win on conflict.
	GlobalTags  map[string]string
	DialTimeout time.Duration
	Logger      *slog.Logger
}

// Client is a UDP Sink. The zero value, a nil *Client and a disabled or closed Client all
// drop metrics silently.
type Client struct {
	prefix string
	tags   map[string]string
	logger *slog.Logger

	mu   sync.Mutex
	conn net.Conn
}

var _ Sink = (*Client)(nil)

// NewClient dials the agent when cfg is enabled with an address. UDP dialing only
// resolves the address; nothing is sent until the first metric.
func NewClient(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		prefix: strings.Trim(strings.TrimSpace(cfg.Prefix), "."),
		tags:   normalizeTags(cfg.GlobalTags),
		logger: logger.With("component", "statsd"),
	}

	addr := strings.TrimSpace(cfg.Address)
	if !cfg.Enabled || addr == "" {
		return c, nil
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("statsd dial %s: %w", addr, err)
	}
	c.conn = conn
	return c, nil
}

// Enabled reports whether metrics are actually sent.
func (c *Client) Enabled() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Count sends a counter increment.
func (c *Client) Count(name string, value int64, tags map[string]string) {
	c.emit(name, strconv.FormatInt(value, 10), "c", tags)
}

// Gauge sends an absolute value.
func (c *Client) Gauge(name string, value float64, tags map[string]string) {
	c.emit(name, strconv.FormatFloat(value, 'f', -1, 64), "g", tags)
}

// Timing sends value in fractional milliseconds.
func (c *Client) Timing(name string, value time.Duration, tags map[string]string) {
	ms := float64(value) / float64(time.Millisecond)
	c.emit(name, strconv.FormatFloat(ms, 'f', -1, 64), "ms", tags)
}

// Close closes the socket. Later metrics are dropped.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	conn := c.conn
	c.conn = nil
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *Client) emit(name, value, kind string, tags map[string]string) {
	if c == nil {
		return
	}
	line, ok := FormatLine(c.prefix, name, value, kind, c.tags, tags)
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	if _, err := c.conn.Write([]byte(line)); err != nil {
		c.logger.Debug("dropped metric", "metric", name, "error", err)
	}
}

// FormatLine renders "prefix.name:value|kind|#k:v,..." with tags sorted by key. Local tags
// override global ones. ok is false when the name is empty after cleanup.
func FormatLine(prefix, name, value, kind string, global, local map[string]string) (line string, ok bool) {
	metric := qualify(prefix, name)
	if metric == "" {
		return "", false
	}

	tags := normalizeTags(global)
	maps.Copy(tags, normalizeTags(local))

	var b strings.Builder
	fmt.Fprintf(&b, "%s:%s|%s", metric, value, kind)
	for i, k := range slices.Sorted(maps.Keys(tags)) {
		if i == 0 {
			b.WriteString("|#")
		} else {
			b.WriteByte(',')
		}
		b.WriteString(k + ":" + tags[k])
	}
	return b.String(), true
}

var nameReplacer = strings.NewReplacer(" ", "_", "/", "_")

// qualify cleans name (spaces and slashes to underscores, no empty segments) and joins
// it to prefix.
func qualify(prefix, name string) string {
	var parts []string
	for seg := range strings.SplitSeq(nameReplacer.Replace(strings.TrimSpace(name)), ".") {
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	if prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return strings.Join(parts, ".")
}

// normalizeTags trims keys and values and drops empty keys. It always returns a new map.
func normalizeTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		if k = strings.TrimSpace(k); k != "" {
			out[k] = strings.TrimSpace(v)
		}
	}
	return out
}
