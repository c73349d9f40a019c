package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"places_bot/internal/checker"
	"places_bot/internal/config"
	"places_bot/internal/places"
	"places_bot/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// checkRunner is the slice of the check engine driven by user commands.
type checkRunner interface {
	RunManual(ctx context.Context, chatID int64) (*checker.Report, error)
	RunJustAdded(ctx context.Context, chatID, watchID int64) (*checker.Report, error)
}

// Bot is the Telegram bot that handles user commands and sends notifications.
type Bot struct {
	api     telegramAPI
	store   storage.Storage
	cfg     *config.Config
	places  *places.Client
	checker checkRunner
	log     *slog.Logger
}

// New creates a Bot with the given Telegram token, storage, and directory
// client. The check engine is attached separately, see SetChecker.
func New(token string, store storage.Storage, dir *places.Client, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:    api,
		store:  store,
		cfg:    cfg,
		places: dir,
		log:    log,
	}, nil
}

// SetChecker attaches the check engine. The bot sends what the checker
// produces and the checker runs on the bot's commands, so one side of that
// loop has to be wired in after construction.
func (b *Bot) SetChecker(c checkRunner) {
	b.checker = c
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
			if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if !b.cfg.IsUserAllowed(update.Message.From.ID) {
				b.reply(update.Message.Chat.ID, "Access denied.")
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
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

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(ctx, chatID)
	case "help":
		b.handleHelp(chatID)
	case "watch":
		b.handleWatch(ctx, chatID, args)
	case "area":
		b.handleArea(ctx, chatID, args)
	case "list":
		b.handleList(ctx, chatID)
	case "remove":
		b.handleRemove(ctx, chatID, args)
	case "interval":
		b.handleInterval(ctx, chatID, args)
	case "notify":
		b.handleNotify(ctx, chatID, args)
	case "pause":
		b.handlePause(ctx, chatID)
	case "resume":
		b.handleResume(ctx, chatID)
	case "check":
		b.handleCheck(ctx, chatID)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
