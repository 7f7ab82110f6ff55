package bot

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"homedash/internal/model"
	"homedash/internal/provider"
	"homedash/internal/scheduler"
)

func (b *Bot) handleStart(ctx context.Context, chatID int64) {
	if err := b.state.SetNotifyChat(ctx, chatID); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if err := b.state.SetPermission(ctx, model.PermissionGranted); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, `Welcome to your dashboard!

Notifications for new form submissions, emails, cards and site outages will be sent to this chat.

Quick start:
1. /status — overview
2. /gmail <token> — connect Gmail
3. /trello <key> <token> — connect Trello

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Overview:
/status — unread counts and connections
/sites — site health
/weather — current conditions
/news — latest headlines
/refresh — synchronize now

Inbox:
/forms — form submissions
/mail — inbox messages
/cards — board cards
/read <forms|mail|cards> <id> — mark as read
/dismiss <id> — dismiss a form submission
/clearread — dismiss every read form submission

Connections:
/gmail <token> — connect Gmail
/trello <key> <token> — connect Trello
/boards — pick a Trello board
/board <id> — select a board
/lists <id,id,...> — select lists to follow

Notifications:
/mute — stop notifications
/unmute — resume notifications`)
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	st := Status{
		LastTick:   b.dash.LastTick(),
		Sites:      b.dash.Sites(),
		Gmail:      b.state.GmailToken(ctx) != "",
		Trello:     b.state.Trello(ctx),
		Permission: b.state.Permission(ctx),
		Unread: map[model.Domain]int{
			model.DomainForms: b.dash.Unread(model.DomainForms),
			model.DomainMail:  b.dash.Unread(model.DomainMail),
			model.DomainCards: b.dash.Unread(model.DomainCards),
		},
	}
	b.reply(chatID, FormatStatus(st))
}

func (b *Bot) handleSites(chatID int64) {
	b.reply(chatID, FormatSites(b.dash.Sites()))
}

func (b *Bot) handleRecords(chatID int64, d model.Domain) {
	records := b.dash.Records(d)
	b.replyWithKeyboard(chatID, FormatRecords(d, records), RecordKeyboard(d, records))
}

func (b *Bot) handleRead(ctx context.Context, chatID int64, args string) {
	d, id, err := ParseReadArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	b.markRead(ctx, chatID, d, id)
}

func (b *Bot) markRead(ctx context.Context, chatID int64, d model.Domain, id string) {
	err := b.dash.MarkRead(ctx, d, id)
	switch {
	case errors.Is(err, scheduler.ErrNotFound):
		b.reply(chatID, fmt.Sprintf("Item %s not found.", id))
	case err != nil:
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
	default:
		b.reply(chatID, fmt.Sprintf("Marked %s as read.", id))
	}
}

func (b *Bot) handleDismiss(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /dismiss <id>")
		return
	}
	b.dismiss(ctx, chatID, id)
}

func (b *Bot) dismiss(ctx context.Context, chatID int64, id string) {
	err := b.dash.Dismiss(ctx, model.DomainForms, id)
	switch {
	case errors.Is(err, scheduler.ErrNotFound):
		b.reply(chatID, fmt.Sprintf("Form submission %s not found.", id))
	case err != nil:
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
	default:
		b.reply(chatID, fmt.Sprintf("Dismissed %s.", id))
	}
}

func (b *Bot) handleClearRead(ctx context.Context, chatID int64) {
	n, err := b.dash.ClearRead(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if n == 0 {
		b.reply(chatID, "No read form submissions to clear.")
		return
	}
	b.reply(chatID, fmt.Sprintf("Dismissed %d read form submission(s).", n))
}

func (b *Bot) handleRefresh(ctx context.Context, chatID int64) {
	b.dash.SyncNow(ctx)
	b.reply(chatID, fmt.Sprintf("Refreshed. Unread: %d forms, %d mail, %d cards.",
		b.dash.Unread(model.DomainForms), b.dash.Unread(model.DomainMail), b.dash.Unread(model.DomainCards)))
}

func (b *Bot) handleWeather(chatID int64) {
	snap, loc := b.dash.Weather()
	b.reply(chatID, FormatWeather(snap, loc))
}

func (b *Bot) handleNews(chatID int64) {
	b.reply(chatID, FormatNews(b.dash.News(), newsLimit))
}

func (b *Bot) handlePermission(ctx context.Context, chatID int64, p model.Permission) {
	if err := b.state.SetPermission(ctx, p); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if p == model.PermissionGranted {
		if err := b.state.SetNotifyChat(ctx, chatID); err != nil {
			b.reply(chatID, fmt.Sprintf("Error: %v", err))
			return
		}
		b.reply(chatID, "Notifications resumed.")
		return
	}
	b.reply(chatID, "Notifications muted. Use /unmute to resume.")
}

func (b *Bot) handleGmail(ctx context.Context, chatID int64, args string) {
	token, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /gmail <access_token>")
		return
	}
	if err := b.state.SetGmailToken(ctx, token); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, "Gmail connected. Messages appear after the next refresh.")
}

func (b *Bot) handleTrello(ctx context.Context, chatID int64, args string) {
	key, token, err := ParseTrelloArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	if err := b.state.SetTrelloCredentials(ctx, key, token); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	boards, err := b.boards.FetchBoards(ctx, b.state.Trello(ctx))
	if errors.Is(err, provider.ErrAuthExpired) {
		if err := b.state.ClearTrelloToken(ctx); err != nil {
			b.log.Error("clear trello token", "error", err)
		}
		b.reply(chatID, "Trello rejected these credentials.")
		return
	}
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Trello connected, but listing boards failed: %v", err))
		return
	}
	b.replyWithKeyboard(chatID, "Trello connected.\n\n"+FormatBoards(boards), BoardKeyboard(boards))
}

func (b *Bot) trelloConfig(ctx context.Context, chatID int64) (model.TrelloConfig, bool) {
	cfg := b.state.Trello(ctx)
	if !cfg.Authorized() {
		b.reply(chatID, "Trello is not connected. Use /trello <key> <token> first.")
		return cfg, false
	}
	return cfg, true
}

func (b *Bot) handleBoards(ctx context.Context, chatID int64) {
	cfg, ok := b.trelloConfig(ctx, chatID)
	if !ok {
		return
	}
	boards, err := b.boards.FetchBoards(ctx, cfg)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to list boards: %v", err))
		return
	}
	b.replyWithKeyboard(chatID, FormatBoards(boards), BoardKeyboard(boards))
}

func (b *Bot) handleBoard(ctx context.Context, chatID int64, args string) {
	boardID, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /board <id>")
		return
	}
	cfg, ok := b.trelloConfig(ctx, chatID)
	if !ok {
		return
	}
	lists, err := b.boards.FetchLists(ctx, cfg, boardID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to list board %s: %v", boardID, err))
		return
	}
	if err := b.state.SelectBoard(ctx, boardID); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatLists(boardID, lists))
}

func (b *Bot) handleLists(ctx context.Context, chatID int64, args string) {
	ids := ParseListIDs(args)
	if len(ids) == 0 {
		b.reply(chatID, "Usage: /lists <id,id,...>")
		return
	}
	cfg, ok := b.trelloConfig(ctx, chatID)
	if !ok {
		return
	}
	if cfg.BoardID == "" {
		b.reply(chatID, "No board selected. Use /boards first.")
		return
	}
	lists, err := b.boards.FetchLists(ctx, cfg, cfg.BoardID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to list board %s: %v", cfg.BoardID, err))
		return
	}
	for _, id := range ids {
		if !slices.ContainsFunc(lists, func(l model.BoardList) bool { return l.ID == id }) {
			b.reply(chatID, fmt.Sprintf("List %s is not on the selected board.", id))
			return
		}
	}
	if err := b.state.SelectLists(ctx, ids); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Following %d list(s). Cards appear after the next refresh.", len(ids)))
}
