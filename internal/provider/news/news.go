// Package news downloads the configured news feeds and filters their items
// by topic rules.
package news

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/mmcdole/gofeed"

	"homedash/internal/filter"
	"homedash/internal/model"
	"homedash/internal/provider"
)

const (
	maxFeedBytes   = 5 * 1024 * 1024
	maxDescription = 300
	defaultLimit   = 30
)

// Fetcher downloads and parses RSS and Atom feeds.
type Fetcher struct {
	client  provider.HTTPClient
	matcher *filter.Matcher
	log     *slog.Logger
	timeout time.Duration
	limit   int
}

// New creates a Fetcher. A nil matcher keeps every item.
func New(client provider.HTTPClient, matcher *filter.Matcher, log *slog.Logger) *Fetcher {
	return &Fetcher{
		client:  client,
		matcher: matcher,
		log:     log,
		timeout: 30 * time.Second,
		limit:   defaultLimit,
	}
}

// Fetch downloads and parses the feed at url.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "homedash/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &provider.HTTPError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// FetchNews returns the matching items of every feed, newest first. A feed
// that fails is skipped; the call fails only when every feed fails.
func (f *Fetcher) FetchNews(ctx context.Context, urls []string) ([]model.NewsItem, error) {
	var (
		items []model.NewsItem
		errs  []error
	)
	seen := make(map[string]bool)
	for _, url := range urls {
		feed, err := f.Fetch(ctx, url)
		if err != nil {
			f.log.Warn("fetch news feed", "url", url, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
			continue
		}
		for _, it := range Filter(feed, f.matcher) {
			if seen[it.GUID] {
				continue
			}
			seen[it.GUID] = true
			items = append(items, it)
		}
	}
	if len(urls) > 0 && len(errs) == len(urls) {
		return nil, errors.Join(errs...)
	}

	slices.SortStableFunc(items, func(a, b model.NewsItem) int {
		return b.Published.Compare(a.Published)
	})
	if f.limit > 0 && len(items) > f.limit {
		items = items[:f.limit]
	}
	return items, nil
}

// Filter applies matcher to the items of feed and converts the survivors.
func Filter(feed *gofeed.Feed, matcher *filter.Matcher) []model.NewsItem {
	var matched []model.NewsItem
	for _, item := range feed.Items {
		desc := provider.PlainText(item.Description)
		if !matcher.Match(filter.Item{Title: item.Title, Description: desc}) {
			continue
		}
		matched = append(matched, model.NewsItem{
			GUID:        ItemGUID(item),
			Source:      feed.Title,
			Title:       item.Title,
			Description: provider.Truncate(desc, maxDescription),
			Link:        item.Link,
			Published:   published(item),
		})
	}
	return matched
}

// ItemGUID returns the GUID for a feed item.
// If the item has no GUID, a SHA-256 hash of title+link is used.
func ItemGUID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	h := sha256.Sum256([]byte(item.Title + "|" + item.Link))
	return fmt.Sprintf("sha256:%x", h[:16])
}

func published(item *gofeed.Item) time.Time {
	switch {
	case item.PublishedParsed != nil:
		return item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		return item.UpdatedParsed.UTC()
	}
	return time.Time{}
}
