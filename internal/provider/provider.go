// Package provider holds what the outbound API adapters share: error types,
// payload schema validation, HTML flattening and the retry policy.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrAuthExpired is returned when a provider rejects the stored credential.
// The caller should forget the credential and ask the user to reconnect.
var ErrAuthExpired = errors.New("provider: authentication expired")

// HTTPError is a non-2xx response from a provider.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.URL, e.StatusCode)
}

// Is makes a 401 response match ErrAuthExpired.
func (e *HTTPError) Is(target error) bool {
	return target == ErrAuthExpired && e.StatusCode == http.StatusUnauthorized
}

// Temporary reports whether retrying the request may succeed.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Schema validates provider payloads before they are decoded.
type Schema struct {
	name   string
	schema *jsonschema.Schema
}

// CompileSchema compiles a JSON Schema document registered under name.
func CompileSchema(name, src string) (*Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	s, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Schema{name: name, schema: s}, nil
}

// MustCompileSchema is like CompileSchema but panics on error. It is meant
// for schemas embedded as package constants.
func MustCompileSchema(name, src string) *Schema {
	s, err := CompileSchema(name, src)
	if err != nil {
		panic(err)
	}
	return s
}

// Decode validates data against the schema and unmarshals it into dst.
func (s *Schema) Decode(data []byte, dst any) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parse %s payload: %w", s.name, err)
	}
	if err := s.schema.Validate(inst); err != nil {
		return fmt.Errorf("validate %s payload: %w", s.name, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", s.name, err)
	}
	return nil
}

// PlainText flattens an HTML fragment into single-spaced text.
func PlainText(html string) string {
	if !strings.Contains(html, "<") {
		return strings.Join(strings.Fields(html), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.Join(strings.Fields(html), " ")
	}
	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// Truncate shortens s to at most n runes, appending an ellipsis when cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// RetryPolicy controls how adapters retry transient failures.
type RetryPolicy struct {
	Attempts uint
	Delay    time.Duration
	MaxDelay time.Duration
}

// DefaultRetry is the policy used when an adapter is not configured otherwise.
var DefaultRetry = RetryPolicy{Attempts: 3, Delay: 500 * time.Millisecond, MaxDelay: 5 * time.Second}

// Do runs fn under the policy. Authentication failures, client errors and
// errors wrapped with retry.Unrecoverable are returned immediately.
func (p RetryPolicy) Do(ctx context.Context, log *slog.Logger, op string, fn func() error) error {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}
	return retry.Do(
		fn,
		retry.Attempts(attempts),
		retry.Delay(p.Delay),
		retry.MaxDelay(p.MaxDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Debug("retrying request", "op", op, "attempt", n, "error", err)
		}),
		retry.RetryIf(Retryable),
	)
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	if errors.Is(err, ErrAuthExpired) || errors.Is(err, context.Canceled) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Temporary()
	}
	return true
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Permanent wraps err so the retry loop gives up on it.
func Permanent(err error) error {
	return retry.Unrecoverable(err)
}
