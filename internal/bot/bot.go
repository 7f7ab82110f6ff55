package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"homedash/internal/config"
	"homedash/internal/model"
	"homedash/internal/scheduler"
	"homedash/internal/state"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Dashboard is the view and action surface of the polling orchestrator.
type Dashboard interface {
	SyncNow(ctx context.Context)
	MarkRead(ctx context.Context, d model.Domain, id string) error
	Dismiss(ctx context.Context, d model.Domain, id string) error
	ClearRead(ctx context.Context) (int, error)
	Records(d model.Domain) []model.Record
	Unread(d model.Domain) int
	Sites() []model.MonitoredSite
	Weather() (*model.WeatherSnapshot, *scheduler.Location)
	News() []model.NewsItem
	LastTick() time.Time
}

// BoardsClient lists Trello boards and lists while the user picks a selection.
type BoardsClient interface {
	FetchBoards(ctx context.Context, cfg model.TrelloConfig) ([]model.Board, error)
	FetchLists(ctx context.Context, cfg model.TrelloConfig, boardID string) ([]model.BoardList, error)
}

// NewAPI connects to the Telegram Bot API.
func NewAPI(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return api, nil
}

// Bot is the Telegram bot that renders the dashboard and handles user commands.
type Bot struct {
	api    telegramAPI
	state  *state.State
	dash   Dashboard
	boards BoardsClient
	cfg    *config.Config
	log    *slog.Logger
}

// New creates a Bot.
func New(api telegramAPI, st *state.State, dash Dashboard, boards BoardsClient, cfg *config.Config, log *slog.Logger) *Bot {
	return &Bot{
		api:    api,
		state:  st,
		dash:   dash,
		boards: boards,
		cfg:    cfg,
		log:    log,
	}
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if cb := update.CallbackQuery; cb != nil {
		if cb.From == nil || cb.Message == nil || !b.cfg.IsUserAllowed(cb.From.ID) {
			return
		}
		b.handleCallback(ctx, cb)
		return
	}
	msg := update.Message
	if msg == nil || !msg.IsCommand() || msg.From == nil {
		return
	}
	if !b.cfg.IsUserAllowed(msg.From.ID) {
		b.reply(msg.Chat.ID, "Access denied.")
		return
	}
	b.handleCommand(ctx, msg)
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) replyWithKeyboard(chatID int64, text string, kb *tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if kb != nil {
		msg.ReplyMarkup = *kb
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	// Credentials must not end up in debug logs.
	logged := args
	if cmd == cmdGmail || cmd == cmdTrello {
		logged = "<redacted>"
	}
	b.log.Debug("command", "cmd", cmd, "args", logged, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(ctx, chatID)
	case "help":
		b.handleHelp(chatID)
	case "status":
		b.handleStatus(ctx, chatID)
	case "sites":
		b.handleSites(chatID)
	case "forms":
		b.handleRecords(chatID, model.DomainForms)
	case "mail":
		b.handleRecords(chatID, model.DomainMail)
	case "cards":
		b.handleRecords(chatID, model.DomainCards)
	case cmdRead:
		b.handleRead(ctx, chatID, args)
	case cmdDismiss:
		b.handleDismiss(ctx, chatID, args)
	case "clearread":
		b.handleClearRead(ctx, chatID)
	case "refresh":
		b.handleRefresh(ctx, chatID)
	case "weather":
		b.handleWeather(chatID)
	case "news":
		b.handleNews(chatID)
	case "mute":
		b.handlePermission(ctx, chatID, model.PermissionDenied)
	case "unmute":
		b.handlePermission(ctx, chatID, model.PermissionGranted)
	case cmdGmail:
		b.forget(chatID, msg.MessageID)
		b.handleGmail(ctx, chatID, args)
	case cmdTrello:
		b.forget(chatID, msg.MessageID)
		b.handleTrello(ctx, chatID, args)
	case "boards":
		b.handleBoards(ctx, chatID)
	case cmdBoard:
		b.handleBoard(ctx, chatID, args)
	case "lists":
		b.handleLists(ctx, chatID, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}

// forget deletes a message that carried a credential.
func (b *Bot) forget(chatID int64, messageID int) {
	if messageID == 0 {
		return
	}
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		b.log.Warn("delete credential message", "chat_id", chatID, "error", err)
	}
}

// ErrNoChat is returned by Sink.Deliver before any chat ran /start.
var ErrNoChat = errors.New("no notification chat registered")

// Sink delivers dispatcher notifications to the chat registered with /start.
type Sink struct {
	api   telegramAPI
	state *state.State
}

// NewSink creates a Sink.
func NewSink(api telegramAPI, st *state.State) *Sink {
	return &Sink{api: api, state: st}
}

// Deliver sends one notification message.
func (s *Sink) Deliver(ctx context.Context, title, body string) error {
	chatID, ok := s.state.NotifyChat(ctx)
	if !ok {
		return ErrNoChat
	}
	msg := tgbotapi.NewMessage(chatID, FormatNotification(title, body))
	msg.DisableWebPagePreview = true
	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}
