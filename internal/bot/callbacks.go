package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"homedash/internal/model"
)

const (
	cmdRead    = "read"
	cmdDismiss = "dismiss"
	cmdBoard   = "board"
	cmdGmail   = "gmail"
	cmdTrello  = "trello"
)

// Callback data layouts. Record ids may themselves contain ':'.
//
//	read:<domain>:<id>
//	dismiss:<id>
//	board:<id>
func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	chatID := cb.Message.Chat.ID

	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, rest, ok := strings.Cut(cb.Data, ":")
	if !ok || rest == "" {
		return
	}

	b.log.Info("callback",
		"action", action,
		"data", rest,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch action {
	case cmdRead:
		domain, id, ok := strings.Cut(rest, ":")
		d, valid := model.ParseDomain(domain)
		if !ok || !valid || id == "" {
			return
		}
		b.markRead(ctx, chatID, d, id)
	case cmdDismiss:
		b.dismiss(ctx, chatID, rest)
	case cmdBoard:
		b.handleBoard(ctx, chatID, rest)
	}
}
