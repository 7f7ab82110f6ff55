package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPProber sends a HEAD request and treats any response as reachable.
type HTTPProber struct {
	client HTTPClient
}

// NewHTTPProber creates a prober using client.
func NewHTTPProber(client HTTPClient) *HTTPProber {
	return &HTTPProber{client: client}
}

// Probe reports an error only when no response could be obtained.
func (p *HTTPProber) Probe(ctx context.Context, url string) error {
	if !hasProtocol(url) {
		url = "https://" + url
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "homedash/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("head %s: %w", url, err)
	}
	_ = resp.Body.Close()
	return nil
}

func hasProtocol(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}
