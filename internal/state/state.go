// Package state provides typed read-through accessors over the persisted store.
//
// Every accessor hits the store on each call. Callers that run on a timer must
// use these accessors at the start of each step instead of caching values, so
// that a read or dismiss performed from the bot between ticks is always seen.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"homedash/internal/model"
	"homedash/internal/storage"
)

// Persisted keys.
const (
	keyGmailToken = "gmail:token"
	keyTrello     = "trello:config"
	keyNotifyChat = "notify:chat_id"
	keyPermission = "notify:permission"
)

func readSet(d model.Domain) string    { return "read:" + string(d) }
func deletedSet(d model.Domain) string { return "deleted:" + string(d) }

// State wraps a Storage with typed accessors.
type State struct {
	store storage.Storage
	log   *slog.Logger
}

// New creates a State over store.
func New(store storage.Storage, log *slog.Logger) *State {
	return &State{store: store, log: log}
}

// Load decodes the JSON value under key into dst. It reports false when the
// key is missing, unreadable or malformed; dst is left untouched in that case.
func (s *State) Load(ctx context.Context, key string, dst any) bool {
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.Warn("load state", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		s.log.Warn("malformed state value, using default", "key", key, "error", err)
		return false
	}
	return true
}

// Save encodes v as JSON under key.
func (s *State) Save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.store.Put(ctx, key, string(data))
}

// Remove deletes key.
func (s *State) Remove(ctx context.Context, key string) error {
	return s.store.Delete(ctx, key)
}

// ReadIDs returns the persisted read set of a domain. Errors yield an empty set.
func (s *State) ReadIDs(ctx context.Context, d model.Domain) model.IDSet {
	return s.ids(ctx, readSet(d))
}

// DeletedIDs returns the persisted deleted set of a domain. Errors yield an empty set.
func (s *State) DeletedIDs(ctx context.Context, d model.Domain) model.IDSet {
	return s.ids(ctx, deletedSet(d))
}

func (s *State) ids(ctx context.Context, set string) model.IDSet {
	ids, err := s.store.IDs(ctx, set)
	if err != nil {
		s.log.Warn("load id set", "set", set, "error", err)
		return model.IDSet{}
	}
	return ids
}

// AddRead persists ids as read.
func (s *State) AddRead(ctx context.Context, d model.Domain, ids ...string) error {
	return s.store.AddIDs(ctx, readSet(d), ids...)
}

// AddDeleted persists ids as soft-deleted.
func (s *State) AddDeleted(ctx context.Context, d model.Domain, ids ...string) error {
	return s.store.AddIDs(ctx, deletedSet(d), ids...)
}

// Prune drops read and deleted ids recorded before cutoff for every domain.
func (s *State) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, d := range []model.Domain{model.DomainForms, model.DomainMail, model.DomainCards} {
		for _, set := range []string{readSet(d), deletedSet(d)} {
			n, err := s.store.PruneIDs(ctx, set, cutoff)
			if err != nil {
				return total, err
			}
			total += n
		}
	}
	return total, nil
}

// GmailToken returns the stored Gmail access token, or "" when not connected.
func (s *State) GmailToken(ctx context.Context) string {
	var token string
	s.Load(ctx, keyGmailToken, &token)
	return strings.TrimSpace(token)
}

// SetGmailToken stores a Gmail access token.
func (s *State) SetGmailToken(ctx context.Context, token string) error {
	return s.Save(ctx, keyGmailToken, strings.TrimSpace(token))
}

// ClearGmailToken forgets the Gmail token, forcing re-authentication.
func (s *State) ClearGmailToken(ctx context.Context) error {
	return s.Remove(ctx, keyGmailToken)
}

// Trello returns the stored Trello configuration.
func (s *State) Trello(ctx context.Context) model.TrelloConfig {
	var cfg model.TrelloConfig
	s.Load(ctx, keyTrello, &cfg)
	return cfg
}

// SetTrelloCredentials stores a key and token, keeping any board selection.
func (s *State) SetTrelloCredentials(ctx context.Context, key, token string) error {
	cfg := s.Trello(ctx)
	cfg.Key = strings.TrimSpace(key)
	cfg.Token = strings.TrimSpace(token)
	return s.Save(ctx, keyTrello, cfg)
}

// SelectBoard stores the chosen board and resets the list selection.
func (s *State) SelectBoard(ctx context.Context, boardID string) error {
	cfg := s.Trello(ctx)
	if cfg.BoardID != boardID {
		cfg.ListIDs = nil
	}
	cfg.BoardID = boardID
	return s.Save(ctx, keyTrello, cfg)
}

// SelectLists stores the lists whose cards are reconciled.
func (s *State) SelectLists(ctx context.Context, listIDs []string) error {
	cfg := s.Trello(ctx)
	cfg.ListIDs = listIDs
	return s.Save(ctx, keyTrello, cfg)
}

// ClearTrelloToken forgets the Trello token but keeps the key and selection.
func (s *State) ClearTrelloToken(ctx context.Context) error {
	cfg := s.Trello(ctx)
	cfg.Token = ""
	return s.Save(ctx, keyTrello, cfg)
}

// NotifyChat returns the chat that receives notifications.
func (s *State) NotifyChat(ctx context.Context) (int64, bool) {
	var chatID int64
	if !s.Load(ctx, keyNotifyChat, &chatID) || chatID == 0 {
		return 0, false
	}
	return chatID, true
}

// SetNotifyChat stores the chat that receives notifications.
func (s *State) SetNotifyChat(ctx context.Context, chatID int64) error {
	return s.Save(ctx, keyNotifyChat, chatID)
}

// Permission returns the stored notification permission.
func (s *State) Permission(ctx context.Context) model.Permission {
	var p model.Permission
	s.Load(ctx, keyPermission, &p)
	switch p {
	case model.PermissionGranted, model.PermissionDenied:
		return p
	}
	return model.PermissionDefault
}

// SetPermission stores the notification permission.
func (s *State) SetPermission(ctx context.Context, p model.Permission) error {
	return s.Save(ctx, keyPermission, p)
}
