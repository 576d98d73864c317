package config

import (
	"fmt"
	"strings"
	"time"
)

const defaultSinkName = "reclaim"

// ObservabilityConfig covers StatsD metrics and the sinks that hear about fatal finalize
// failures.
//
// Environment variables:
//   - OBSERVABILITY_METRICS_ENABLED, _ADDRESS, _PREFIX, _TAGS (k:v,k:v)
//   - OBSERVABILITY_METRICS_PROMETHEUS serves the same metrics on GET /metrics
//   - OBSERVABILITY_NOTIFY_ENABLED, _TIMEOUT, _RETRIES, _DEDUP_WINDOW
//   - OBSERVABILITY_NOTIFY_SLACK_{ENABLED,WEBHOOK_URL,CHANNEL,USERNAME,ENTITY_URL_PREFIX}
//   - OBSERVABILITY_NOTIFY_PAGERDUTY_{ENABLED,ROUTING_KEY,SOURCE,COMPONENT}
type ObservabilityConfig struct {
	Metrics MetricsConfig `envPrefix:"OBSERVABILITY_METRICS_"`
	Notify  NotifyConfig  `envPrefix:"OBSERVABILITY_NOTIFY_"`

	// warnings collects sinks switched off by Sanitize.
	warnings []string
}

// Sanitize trims values and switches off sinks that cannot work.
func (c *ObservabilityConfig) Sanitize() {
	c.warnings = c.warnings[:0]
	if w := c.Metrics.sanitize(); w != "" {
		c.warnings = append(c.warnings, w)
	}
	c.warnings = append(c.warnings, c.Notify.sanitize()...)
}

// Warnings lists the sinks Sanitize disabled and why. Bootstrap logs them at startup.
func (c *ObservabilityConfig) Warnings() []string {
	return c.warnings
}

// MetricsConfig controls the StatsD client and the Prometheus endpoint. Enabled only
// concerns StatsD; Prometheus is switched on by its own flag.
type MetricsConfig struct {
	Enabled    bool              `env:"ENABLED"    envDefault:"false"`
	Address    string            `env:"ADDRESS"    envDefault:"127.0.0.1:8125"`
	Prefix     string            `env:"PREFIX"     envDefault:"reclaim"`
	Tags       map[string]string `env:"TAGS"       envKeyValSeparator:":"`
	Prometheus bool              `env:"PROMETHEUS" envDefault:"false"`
}

// Namespace is Prefix made safe for Prometheus metric names.
func (c *MetricsConfig) Namespace() string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, c.Prefix)
}

func (c *MetricsConfig) sanitize() string {
	c.Address = strings.TrimSpace(c.Address)
	c.Prefix = strings.Trim(strings.TrimSpace(c.Prefix), ".")
	if c.Enabled && c.Address == "" {
		c.Enabled = false
		return "metrics disabled: no statsd address"
	}
	return ""
}

// NotifyConfig controls failure notification fan-out.
type NotifyConfig struct {
	Enabled bool          `env:"ENABLED" envDefault:"false"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"5s"`
	// Retries is the number of extra delivery attempts per sink.
	Retries int `env:"RETRIES" envDefault:"3"`
	// DedupWindow suppresses repeat notifications for one entity. Zero disables it.
	DedupWindow time.Duration   `env:"DEDUP_WINDOW" envDefault:"15m"`
	Slack       SlackConfig     `envPrefix:"SLACK_"`
	PagerDuty   PagerDutyConfig `envPrefix:"PAGERDUTY_"`
}

// Sinks names the sinks that will receive notifications.
func (c *NotifyConfig) Sinks() []string {
	if !c.Enabled {
		return nil
	}
	var out []string
	if c.Slack.Enabled {
		out = append(out, "slack")
	}
	if c.PagerDuty.Enabled {
		out = append(out, "pagerduty")
	}
	return out
}

func (c *NotifyConfig) sanitize() []string {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	c.Retries = max(c.Retries, 0)
	c.DedupWindow = max(c.DedupWindow, 0)

	c.Slack.WebhookURL = strings.TrimSpace(c.Slack.WebhookURL)
	c.Slack.Channel = strings.TrimSpace(c.Slack.Channel)
	c.Slack.EntityURLPrefix = strings.TrimSpace(c.Slack.EntityURLPrefix)
	c.Slack.Username = orDefault(c.Slack.Username, defaultSinkName)
	c.PagerDuty.RoutingKey = strings.TrimSpace(c.PagerDuty.RoutingKey)
	c.PagerDuty.Source = orDefault(c.PagerDuty.Source, defaultSinkName)
	c.PagerDuty.Component = orDefault(c.PagerDuty.Component, "finalizer")

	if !c.Enabled {
		c.Slack.Enabled = false
		c.PagerDuty.Enabled = false
		return nil
	}

	var warnings []string
	disable := func(enabled *bool, sink, missing string) {
		if *enabled {
			*enabled = false
			warnings = append(warnings, fmt.Sprintf("%s notifications disabled: %s is empty", sink, missing))
		}
	}
	if c.Slack.WebhookURL == "" {
		disable(&c.Slack.Enabled, "slack", "webhook url")
	}
	if c.PagerDuty.RoutingKey == "" {
		disable(&c.PagerDuty.Enabled, "pagerduty", "routing key")
	}
	return warnings
}

// SlackConfig is the Slack incoming webhook sink.
type SlackConfig struct {
	Enabled    bool   `env:"ENABLED"`
	WebhookURL string `env:"WEBHOOK_URL"`
	Channel    string `env:"CHANNEL"`
	Username   string `env:"USERNAME"`
	// EntityURLPrefix, when set, links the entity from the message.
	EntityURLPrefix string `env:"ENTITY_URL_PREFIX"`
}

// PagerDutyConfig is the PagerDuty Events v2 sink.
type PagerDutyConfig struct {
	Enabled    bool   `env:"ENABLED"`
	RoutingKey string `env:"ROUTING_KEY"`
	Source     string `env:"SOURCE"`
	Component  string `env:"COMPONENT"`
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
