// Package gmail reads the inbox of the connected Gmail account.
package gmail

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"homedash/internal/model"
	"homedash/internal/provider"
)

const (
	user          = "me"
	defaultQuery  = "in:inbox"
	fetchParallel = 5
	webLink       = "https://mail.google.com/mail/u/0/#inbox/"
)

// Client fetches messages with a user-supplied OAuth access token.
type Client struct {
	retry provider.RetryPolicy
	log   *slog.Logger
	opts  []option.ClientOption
}

// New creates a Client. Extra options are appended to every service, which
// lets tests point the client at a local endpoint.
func New(policy provider.RetryPolicy, log *slog.Logger, opts ...option.ClientOption) *Client {
	return &Client{retry: policy, log: log, opts: opts}
}

// FetchMessages lists up to limit inbox messages, newest first as returned
// by Gmail. A rejected token yields provider.ErrAuthExpired.
func (c *Client) FetchMessages(ctx context.Context, token string, limit int) ([]model.Record, error) {
	if token == "" {
		return nil, provider.ErrAuthExpired
	}
	svc, err := c.service(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	var list *gmailapi.ListMessagesResponse
	err = c.retry.Do(ctx, c.log, "list messages", func() error {
		var err error
		list, err = svc.Users.Messages.List(user).
			Q(defaultQuery).
			MaxResults(int64(limit)).
			Context(ctx).
			Do()
		return classify(err)
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	records := make([]model.Record, len(list.Messages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchParallel)
	for i, m := range list.Messages {
		g.Go(func() error {
			var msg *gmailapi.Message
			err := c.retry.Do(gctx, c.log, "get message", func() error {
				var err error
				msg, err = svc.Users.Messages.Get(user, m.Id).
					Format("metadata").
					MetadataHeaders("From", "Subject").
					Context(gctx).
					Do()
				return classify(err)
			})
			if err != nil {
				return fmt.Errorf("get message %s: %w", m.Id, err)
			}
			records[i] = toRecord(msg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Client) service(ctx context.Context, token string) (*gmailapi.Service, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, c.opts...)
	return gmailapi.NewService(ctx, opts...)
}

// classify maps a 401 from the API onto provider.ErrAuthExpired.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusUnauthorized {
			return fmt.Errorf("%w: %s", provider.ErrAuthExpired, apiErr.Message)
		}
		return &provider.HTTPError{URL: "gmail", StatusCode: apiErr.Code}
	}
	return err
}

func toRecord(msg *gmailapi.Message) model.Record {
	r := model.Record{
		ID:        msg.Id,
		Domain:    model.DomainMail,
		Origin:    "inbox",
		Body:      html.UnescapeString(msg.Snippet),
		Link:      webLink + msg.Id,
		Read:      !slices.Contains(msg.LabelIds, "UNREAD"),
		Timestamp: time.UnixMilli(msg.InternalDate).UTC(),
	}
	if msg.InternalDate == 0 {
		r.Timestamp = time.Time{}
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "From":
				r.Sender = h.Value
			case "Subject":
				r.Subject = h.Value
			}
		}
	}
	if r.Subject == "" {
		r.Subject = "(no subject)"
	}
	return r
}
