// Package wordpress talks to the dashboard plugin installed on monitored sites.
package wordpress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"homedash/internal/model"
	"homedash/internal/provider"
)

const (
	statsPath     = "/wp-json/dashboard/v1/stats"
	formsPath     = "/wp-json/dashboard/v1/forms"
	secretHeader  = "X-Dashboard-Secret"
	formsTimeout  = 5 * time.Second
	maxBodyBytes  = 2 * 1024 * 1024
	maxBodyLength = 2000
)

var statsSchema = provider.MustCompileSchema("wordpress-stats.json", `{
	"type": "object",
	"required": ["online", "monthly"],
	"properties": {
		"online":  {"type": "integer", "minimum": 0},
		"monthly": {"type": "integer", "minimum": 0}
	}
}`)

var formSchema = provider.MustCompileSchema("wordpress-form.json", `{
	"type": "object",
	"required": ["id"],
	"properties": {
		"id":      {"type": ["integer", "string"]},
		"form":    {"type": "string"},
		"name":    {"type": "string"},
		"email":   {"type": "string"},
		"subject": {"type": "string"},
		"message": {"type": "string"},
		"date":    {"type": "string"},
		"read":    {"type": "boolean"}
	}
}`)

// Client fetches stats and form submissions from WordPress sites.
type Client struct {
	client provider.HTTPClient
	retry  provider.RetryPolicy
	log    *slog.Logger
}

// New creates a Client.
func New(client provider.HTTPClient, policy provider.RetryPolicy, log *slog.Logger) *Client {
	return &Client{client: client, retry: policy, log: log}
}

type statsPayload struct {
	Online  int `json:"online"`
	Monthly int `json:"monthly"`
}

// FetchSiteStats returns the visitor counts reported by site. It returns nil
// without error when the site does not expose stats: any 4xx answer or an
// empty body.
func (c *Client) FetchSiteStats(ctx context.Context, site model.MonitoredSite) (*model.SiteStats, error) {
	body, status, err := c.get(ctx, site, statsPath)
	if err != nil {
		return nil, err
	}
	if (status >= 400 && status < 500) || len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, &provider.HTTPError{URL: site.URL + statsPath, StatusCode: status}
	}

	var p statsPayload
	if err := statsSchema.Decode(body, &p); err != nil {
		// A reachable site with an unexpected payload still answered.
		c.log.Debug("site stats payload rejected", "site", site.ID, "error", err)
		return nil, nil
	}
	return &model.SiteStats{Online: p.Online, Monthly: p.Monthly}, nil
}

type formPayload struct {
	ID      json.RawMessage `json:"id"`
	Form    string          `json:"form"`
	Name    string          `json:"name"`
	Email   string          `json:"email"`
	Subject string          `json:"subject"`
	Message string          `json:"message"`
	Date    string          `json:"date"`
	Read    bool            `json:"read"`
}

// FetchForms returns the form submissions stored on site. Items that fail
// validation are dropped; the whole call fails only when the site cannot be
// reached or answers with something other than a JSON array.
func (c *Client) FetchForms(ctx context.Context, site model.MonitoredSite) ([]model.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, formsTimeout)
	defer cancel()

	var items []json.RawMessage
	err := c.retry.Do(ctx, c.log, "fetch forms", func() error {
		body, status, err := c.get(ctx, site, formsPath)
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return &provider.HTTPError{URL: site.URL + formsPath, StatusCode: status}
		}
		if err := json.Unmarshal(body, &items); err != nil {
			return provider.Permanent(fmt.Errorf("decode forms: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch forms %s: %w", site.ID, err)
	}

	records := make([]model.Record, 0, len(items))
	for i, raw := range items {
		var p formPayload
		if err := formSchema.Decode(raw, &p); err != nil {
			c.log.Debug("form item rejected", "site", site.ID, "index", i, "error", err)
			continue
		}
		records = append(records, toRecord(site, p))
	}
	return records, nil
}

func toRecord(site model.MonitoredSite, p formPayload) model.Record {
	sender := p.Name
	if p.Email != "" {
		if sender != "" {
			sender += " <" + p.Email + ">"
		} else {
			sender = p.Email
		}
	}
	subject := p.Subject
	if subject == "" {
		subject = p.Form
	}
	return model.Record{
		ID:         site.ID + ":" + rawID(p.ID),
		Domain:     model.DomainForms,
		Origin:     site.ID,
		OriginName: site.Name,
		Sender:     sender,
		Subject:    subject,
		Body:       provider.Truncate(provider.PlainText(p.Message), maxBodyLength),
		Link:       strings.TrimRight(site.URL, "/") + "/wp-admin/",
		Timestamp:  parseDate(p.Date),
		Read:       p.Read,
	}
}

func rawID(raw json.RawMessage) string {
	s := string(bytes.TrimSpace(raw))
	if unq, err := strconv.Unquote(s); err == nil {
		return unq
	}
	return s
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseDate returns the zero time for values it cannot read; such records
// are dropped during reconciliation.
func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (c *Client) get(ctx context.Context, site model.MonitoredSite, path string) ([]byte, int, error) {
	url := strings.TrimRight(site.URL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, 0, provider.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "homedash/1.0")
	if site.Secret != "" {
		req.Header.Set(secretHeader, site.Secret)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, nil
}
