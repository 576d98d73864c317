package service

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

const (
	// webhookSnippetReadLimit bounds how much of a response body is read.
	webhookSnippetReadLimit = 4096
	// webhookSnippetMaxLen caps the snippet recorded on the entity.
	webhookSnippetMaxLen = 300
)

// WebhookStatusError reports a webhook that answered with a status outside its success set.
// Snippet is a single-line, truncated copy of the response body.
type WebhookStatusError struct {
	Webhook string
	Status  int
	Snippet string
}

// Error implements the error interface.
func (e *WebhookStatusError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("webhook %s: unexpected status %d", e.Webhook, e.Status)
	if e.Snippet != "" {
		msg += ": " + e.Snippet
	}
	return msg
}

// readSnippet reads the head of a response body and flattens it for error messages.
func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, webhookSnippetReadLimit))
	return sanitizeSnippet(string(b), webhookSnippetMaxLen)
}

func sanitizeSnippet(raw string, limit int) string {
	normalized := strings.Join(strings.Fields(raw), " ")
	if !utf8.ValidString(normalized) {
		normalized = strings.ToValidUTF8(normalized, "?")
	}
	return truncate(normalized, limit)
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	var b strings.Builder
	count := 0
	for _, r := range s {
		if count >= limit {
			break
		}
		b.WriteRune(r)
		count++
	}
	b.WriteString("…")
	return b.String()
}
