// Package trello reads boards, lists and cards from the Trello REST API.
package trello

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"homedash/internal/model"
	"homedash/internal/provider"
)

// DefaultBaseURL is the Trello REST API root.
const DefaultBaseURL = "https://api.trello.com/1"

const maxBodyBytes = 5 * 1024 * 1024

var namedSchema = provider.MustCompileSchema("trello-named.json", `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["id", "name"],
		"properties": {"id": {"type": "string"}, "name": {"type": "string"}}
	}
}`)

var cardsSchema = provider.MustCompileSchema("trello-cards.json", `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["id", "name"],
		"properties": {
			"id":               {"type": "string"},
			"name":             {"type": "string"},
			"desc":             {"type": "string"},
			"dateLastActivity": {"type": "string"},
			"dueComplete":      {"type": "boolean"},
			"shortUrl":         {"type": "string"},
			"idList":           {"type": "string"}
		}
	}
}`)

// Client calls the Trello API.
type Client struct {
	client  provider.HTTPClient
	baseURL string
	retry   provider.RetryPolicy
	log     *slog.Logger
}

// New creates a Client against baseURL (DefaultBaseURL when empty).
func New(client provider.HTTPClient, baseURL string, policy provider.RetryPolicy, log *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{client: client, baseURL: strings.TrimRight(baseURL, "/"), retry: policy, log: log}
}

type named struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type card struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Desc             string `json:"desc"`
	DateLastActivity string `json:"dateLastActivity"`
	DueComplete      bool   `json:"dueComplete"`
	ShortURL         string `json:"shortUrl"`
	IDList           string `json:"idList"`
}

// FetchBoards returns the open boards of the token's owner.
func (c *Client) FetchBoards(ctx context.Context, cfg model.TrelloConfig) ([]model.Board, error) {
	var items []named
	if err := c.get(ctx, cfg, "/members/me/boards", url.Values{"filter": {"open"}, "fields": {"name"}}, namedSchema, &items); err != nil {
		return nil, fmt.Errorf("fetch boards: %w", err)
	}
	boards := make([]model.Board, 0, len(items))
	for _, it := range items {
		boards = append(boards, model.Board{ID: it.ID, Name: it.Name})
	}
	return boards, nil
}

// FetchLists returns the open lists of a board.
func (c *Client) FetchLists(ctx context.Context, cfg model.TrelloConfig, boardID string) ([]model.BoardList, error) {
	var items []named
	path := "/boards/" + url.PathEscape(boardID) + "/lists"
	if err := c.get(ctx, cfg, path, url.Values{"filter": {"open"}, "fields": {"name"}}, namedSchema, &items); err != nil {
		return nil, fmt.Errorf("fetch lists: %w", err)
	}
	lists := make([]model.BoardList, 0, len(items))
	for _, it := range items {
		lists = append(lists, model.BoardList{ID: it.ID, BoardID: boardID, Name: it.Name})
	}
	return lists, nil
}

// FetchCards returns the cards on a list. Cards marked due-complete are read.
func (c *Client) FetchCards(ctx context.Context, cfg model.TrelloConfig, listID string) ([]model.Record, error) {
	var items []card
	path := "/lists/" + url.PathEscape(listID) + "/cards"
	fields := url.Values{"fields": {"name,desc,dateLastActivity,dueComplete,shortUrl,idList"}}
	if err := c.get(ctx, cfg, path, fields, cardsSchema, &items); err != nil {
		return nil, fmt.Errorf("fetch cards: %w", err)
	}
	records := make([]model.Record, 0, len(items))
	for _, it := range items {
		ts, _ := time.Parse(time.RFC3339, it.DateLastActivity)
		records = append(records, model.Record{
			ID:        it.ID,
			Domain:    model.DomainCards,
			Origin:    listID,
			Subject:   it.Name,
			Body:      provider.Truncate(strings.TrimSpace(it.Desc), 500),
			Link:      it.ShortURL,
			Timestamp: ts,
			Read:      it.DueComplete,
		})
	}
	return records, nil
}

func (c *Client) get(ctx context.Context, cfg model.TrelloConfig, path string, q url.Values, schema *provider.Schema, dst any) error {
	if !cfg.Authorized() {
		return provider.ErrAuthExpired
	}
	q.Set("key", cfg.Key)
	q.Set("token", cfg.Token)
	endpoint := c.baseURL + path + "?" + q.Encode()

	return c.retry.Do(ctx, c.log, "trello "+path, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
		if err != nil {
			return provider.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			var urlErr *url.Error
			if errors.As(err, &urlErr) {
				err = urlErr.Err
			}
			return fmt.Errorf("http get %s: %w", path, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			// The query string carries credentials; keep it out of errors.
			return &provider.HTTPError{URL: c.baseURL + path, StatusCode: resp.StatusCode}
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		if err := schema.Decode(body, dst); err != nil {
			return provider.Permanent(err)
		}
		return nil
	})
}
