package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBackoff is the base wait between delivery attempts.
const DefaultBackoff = 200 * time.Millisecond

// Attempt performs one delivery and reports whether a failure may be retried.
type Attempt func(ctx context.Context) (retry bool, err error)

// Deliver runs attempt up to retries+1 times. Attempt n waits n*backoff first.
// A non-retryable failure or a done context ends the loop.
func Deliver(ctx context.Context, retries int, backoff time.Duration, attempt Attempt) error {
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	var lastErr error
	for n := 0; n <= max(retries, 0); n++ {
		if n > 0 {
			if err := wait(ctx, time.Duration(n)*backoff); err != nil {
				return err
			}
		}
		retry, err := attempt(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return lastErr
}

// PostJSON sends body to url. 429 and 5xx answers, and transport errors while ctx is
// live, are retryable. name prefixes error messages.
func PostJSON(ctx context.Context, hc *http.Client, name, url string, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create %s request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("%s request: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return retry, fmt.Errorf("%s %s: %s", name, resp.Status, strings.TrimSpace(string(snippet)))
}

// HTTPClient returns hc, or a client with the given timeout (5s when unset).
func HTTPClient(hc *http.Client, timeout time.Duration) *http.Client {
	if hc != nil {
		return hc
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
