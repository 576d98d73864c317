package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/target/reclaim/internal/domain/lifecycle"
)

// JMESPathEvaluator abstracts JMESPath operations for testability.
type JMESPathEvaluator interface {
	Validate(expr string) error
	Evaluate(expr string, data any) (any, error)
}

// jmespathLibEvaluator implements JMESPathEvaluator using go-jmespath.
type jmespathLibEvaluator struct{}

func (j jmespathLibEvaluator) Validate(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	_, err := jmespath.Compile(expr)
	return err
}

func (j jmespathLibEvaluator) Evaluate(expr string, data any) (any, error) {
	return jmespath.Search(expr, data)
}

// DefaultJMESPathEvaluator returns the go-jmespath backed evaluator.
func DefaultJMESPathEvaluator() JMESPathEvaluator {
	return jmespathLibEvaluator{}
}

// errRedirectNotAllowed stops a webhook call that is redirected off the allowlist.
var errRedirectNotAllowed = errors.New("redirect target is not in the allowed domains")

// maxWebhookRedirects matches the net/http default.
const maxWebhookRedirects = 10

// allowlistRedirects checks every redirect hop against allow before handing it to next, or
// to the default hop limit when next is nil.
func allowlistRedirects(allow *HostAllowlist, next func(*http.Request, []*http.Request) error) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if !allow.Allowed(req.URL.Host) {
			return fmt.Errorf("%w: %q", errRedirectNotAllowed, req.URL.Hostname())
		}
		if next != nil {
			return next(req, via)
		}
		if len(via) >= maxWebhookRedirects {
			return fmt.Errorf("stopped after %d redirects", maxWebhookRedirects)
		}
		return nil
	}
}

// AttributeWriter persists entity attributes. core.EntityStore implements it.
type AttributeWriter interface {
	UpdateAttributes(ctx context.Context, ref lifecycle.Ref, attrs map[string]any) error
}

// WebhookSpec declares one remote cleanup call.
//
// URL, header values and query parameters may reference __ENTITY_TYPE__, __ENTITY_ID__ and
// __PROGRESS__ (the current value of ProgressAttribute); values are URL-escaped in the URL.
type WebhookSpec struct {
	Name    string
	URL     string
	Method  string
	Headers map[string]string
	// OkStatus is accepted as success in addition to 2xx and 404.
	OkStatus int
	// Body is a JMESPath projection of the entity document; empty sends the whole document.
	Body string
	// ProgressAttribute marks pending remote work. The call is skipped when the attribute is
	// null or absent and the attribute is cleared after a successful call.
	ProgressAttribute string
}

// Validate checks the webhook fields without resolving placeholders.
func (s WebhookSpec) Validate(eval JMESPathEvaluator) error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("webhook name is required")
	}
	raw := strings.NewReplacer("__ENTITY_TYPE__", "t", "__ENTITY_ID__", "i", "__PROGRESS__", "p").Replace(s.URL)
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("webhook %s: invalid url: %w", s.Name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook %s: invalid url scheme: %q", s.Name, u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return fmt.Errorf("webhook %s: url is missing a host", s.Name)
	}
	if s.OkStatus != 0 && (s.OkStatus < 100 || s.OkStatus > 599) {
		return fmt.Errorf("webhook %s: invalid ok_status %d", s.Name, s.OkStatus)
	}
	if strings.TrimSpace(s.Body) != "" {
		if err := eval.Validate(s.Body); err != nil {
			return fmt.Errorf("webhook %s: invalid body JMESPath: %w", s.Name, err)
		}
	}
	return nil
}

// WebhookFinalizerOptions groups dependencies for WebhookFinalizers.
type WebhookFinalizerOptions struct {
	Store     AttributeWriter   // Required: persists cleared progress attributes
	Client    *http.Client      // Optional: defaults to a client with Timeout; redirects are always allowlist-checked
	Timeout   time.Duration     // Optional: per-call timeout (default 10s)
	Allowlist *HostAllowlist    // Optional: outbound host restriction
	Evaluator JMESPathEvaluator // Optional: defaults to go-jmespath
	Logger    *slog.Logger      // Optional: structured logger
}

// WebhookFinalizers builds finalizers that call remote HTTP endpoints.
type WebhookFinalizers struct {
	store     AttributeWriter
	client    *http.Client
	timeout   time.Duration
	allowlist *HostAllowlist
	eval      JMESPathEvaluator
	logger    *slog.Logger
}

// NewWebhookFinalizers constructs a WebhookFinalizers factory.
func NewWebhookFinalizers(opts WebhookFinalizerOptions) (*WebhookFinalizers, error) {
	if opts.Store == nil {
		return nil, errors.New("AttributeWriter is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	if opts.Client != nil {
		copied := *opts.Client
		client = &copied
	}
	client.CheckRedirect = allowlistRedirects(opts.Allowlist, client.CheckRedirect)
	eval := opts.Evaluator
	if eval == nil {
		eval = jmespathLibEvaluator{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookFinalizers{
		store:     opts.Store,
		client:    client,
		timeout:   timeout,
		allowlist: opts.Allowlist,
		eval:      eval,
		logger:    logger.With("component", "webhook_finalizer"),
	}, nil
}

// Evaluator exposes the JMESPath evaluator used for bodies.
func (w *WebhookFinalizers) Evaluator() JMESPathEvaluator {
	return w.eval
}

// Build validates spec and returns the finalizer for it.
func (w *WebhookFinalizers) Build(spec WebhookSpec) (lifecycle.FinalizerFunc, error) {
	if err := spec.Validate(w.eval); err != nil {
		return nil, err
	}
	spec.Method = strings.ToUpper(strings.TrimSpace(spec.Method))
	if spec.Method == "" {
		spec.Method = http.MethodDelete
	}
	return func(ctx context.Context, e *lifecycle.Entity) lifecycle.Result {
		return w.run(ctx, spec, e)
	}, nil
}

func (w *WebhookFinalizers) run(ctx context.Context, spec WebhookSpec, e *lifecycle.Entity) lifecycle.Result {
	progress := ""
	if spec.ProgressAttribute != "" {
		v, ok := e.Attribute(spec.ProgressAttribute)
		if !ok || v == nil {
			return lifecycle.Continue()
		}
		progress = fmt.Sprint(v)
	}

	req, err := w.prepare(ctx, spec, e, progress)
	if err != nil {
		return lifecycle.Fatal(err)
	}
	if !w.allowlist.Allowed(req.URL.Host) {
		return lifecycle.Fatal(fmt.Errorf("webhook %s: host %q is not in the allowed domains", spec.Name, req.URL.Hostname()))
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	resp, err := w.client.Do(req.WithContext(ctx))
	if errors.Is(err, errRedirectNotAllowed) {
		return lifecycle.Fatal(fmt.Errorf("webhook %s: %w", spec.Name, err))
	}
	if err != nil {
		return lifecycle.Retry(fmt.Sprintf("webhook %s: %v", spec.Name, err))
	}
	defer resp.Body.Close()
	snippet := readSnippet(resp.Body)

	res := classifyWebhookStatus(spec, resp.StatusCode, snippet)
	w.logger.DebugContext(ctx, "webhook finalizer called",
		"webhook", spec.Name,
		"entity", e.Key(),
		"status", resp.StatusCode,
		"outcome", res.Outcome,
	)
	if !res.Proceed() || spec.ProgressAttribute == "" {
		return res
	}

	e.SetAttribute(spec.ProgressAttribute, nil)
	if err := w.store.UpdateAttributes(ctx, e.Ref(), e.Attributes); err != nil {
		return lifecycle.Retry(fmt.Sprintf("webhook %s: persist progress: %v", spec.Name, err))
	}
	return res
}

func (w *WebhookFinalizers) prepare(ctx context.Context, spec WebhookSpec, e *lifecycle.Entity, progress string) (*http.Request, error) {
	escaped := strings.NewReplacer(
		"__ENTITY_TYPE__", url.PathEscape(e.Type),
		"__ENTITY_ID__", url.PathEscape(e.ID),
		"__PROGRESS__", url.PathEscape(progress),
	)
	plain := strings.NewReplacer(
		"__ENTITY_TYPE__", e.Type,
		"__ENTITY_ID__", e.ID,
		"__PROGRESS__", progress,
	)

	target := escaped.Replace(spec.URL)
	if _, err := url.Parse(target); err != nil {
		return nil, fmt.Errorf("webhook %s: invalid URL after resolution: %w", spec.Name, err)
	}

	var body io.Reader
	hasBody := spec.Method != http.MethodGet && spec.Method != http.MethodHead
	if hasBody {
		b, err := w.deriveBody(spec.Body, e)
		if err != nil {
			return nil, fmt.Errorf("webhook %s: %w", spec.Name, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, spec.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("webhook %s: build request: %w", spec.Name, err)
	}
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range spec.Headers {
		if k = strings.TrimSpace(k); k != "" {
			req.Header.Set(k, plain.Replace(v))
		}
	}
	return req, nil
}

func (w *WebhookFinalizers) deriveBody(expr string, e *lifecycle.Entity) ([]byte, error) {
	if strings.TrimSpace(expr) == "" {
		return json.Marshal(e.Document())
	}
	data, err := JSONDocument(e)
	if err != nil {
		return nil, err
	}
	res, err := w.eval.Evaluate(expr, data)
	if err != nil {
		return nil, fmt.Errorf("evaluate body JMESPath: %w", err)
	}
	b, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("marshal derived body: %w", err)
	}
	return b, nil
}

// JSONDocument returns e.Document() after a JSON round trip, so numbers are float64 and
// nested values are plain maps and slices the way JMESPath expects them.
func JSONDocument(e *lifecycle.Entity) (any, error) {
	raw, err := json.Marshal(e.Document())
	if err != nil {
		return nil, fmt.Errorf("encode entity document: %w", err)
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode entity document: %w", err)
	}
	return data, nil
}

// classifyWebhookStatus maps an HTTP status to a finalizer result.
func classifyWebhookStatus(spec WebhookSpec, status int, snippet string) lifecycle.Result {
	switch {
	case status == spec.OkStatus && spec.OkStatus != 0,
		status >= 200 && status < 300,
		status == http.StatusNotFound:
		return lifecycle.Continue()
	case status == http.StatusLocked:
		return lifecycle.Abort(fmt.Sprintf("webhook %s: remote resource is locked", spec.Name))
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= 500:
		return lifecycle.Retry(fmt.Sprintf("webhook %s: status %d %s", spec.Name, status, snippet))
	default:
		return lifecycle.Fatal(&WebhookStatusError{Webhook: spec.Name, Status: status, Snippet: snippet})
	}
}
