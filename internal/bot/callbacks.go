package bot

import (
	"context"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"places_bot/internal/places"
)

// maxCallbackData is Telegram's hard limit on callback payloads.
const maxCallbackData = 64

// watchCallbackData encodes a place pick for the ambiguous-search keyboard.
// A name that would push the payload past the limit is cut, rune by rune;
// the watch then carries the shortened name.
func watchCallbackData(p places.Place) string {
	data := "watch:" + p.ID + ":" + p.Name
	for len(data) > maxCallbackData {
		_, size := utf8.DecodeLastRuneInString(data)
		data = data[:len(data)-size]
	}
	return data
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	data := cb.Data
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	parts := strings.SplitN(data, ":", 3)
	if len(parts) < 2 {
		return
	}

	b.log.Info("callback",
		"action", parts[0],
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch parts[0] {
	case "watch":
		if len(parts) != 3 || parts[1] == "" {
			return
		}
		name := parts[2]
		if name == "" {
			name = parts[1]
		}
		b.addPlaceWatch(ctx, chatID, places.Place{ID: parts[1], Name: name})
	}
}
