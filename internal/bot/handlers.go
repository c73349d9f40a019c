package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"places_bot/internal/model"
	"places_bot/internal/notifier"
	"places_bot/internal/places"
)

// defaultIntervalMinutes seeds new subscribers; /interval changes it later.
const defaultIntervalMinutes = 60

// maxPlaceChoices caps the inline keyboard sent for an ambiguous search.
const maxPlaceChoices = 5

func (b *Bot) handleStart(ctx context.Context, chatID int64) {
	if _, err := b.ensureSubscriber(ctx, chatID); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	b.reply(chatID, `Welcome to Places Watch Bot!

Watch places from the community directory and get notified about changes and comments.

Quick start:
1. /watch <name> — watch a place by name
2. /area <lat> <lon> <radius_km> — watch everything inside a circle
3. /check — see what is new right now

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Watch management:
/watch <name> — watch a place from the directory
/area <lat> <lon> <radius_km> [name] — watch everything inside a circle
/list — show all watches
/remove <id> — delete a watch
/interval <id|default> <minutes|default> — set check cadence (1-1440)
/notify <id|default> <changes|comments|all|default> — pick what you hear about

Subscription:
/check — check all watches now
/pause — stop notifications
/resume — start notifications again

Classes: changes = additions and removals, comments = comments only, all = everything.`)
}

func (b *Bot) handleWatch(ctx context.Context, chatID int64, args string) {
	if args == "" {
		b.reply(chatID, "Usage: /watch <name>")
		return
	}

	found, err := b.places.SearchPlaces(ctx, args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to search the directory: %v", err))
		return
	}

	switch len(found) {
	case 0:
		b.reply(chatID, fmt.Sprintf("No places match %q.", args))
	case 1:
		b.addPlaceWatch(ctx, chatID, found[0])
	default:
		b.offerPlaceChoice(chatID, args, found)
	}
}

// offerPlaceChoice sends an inline keyboard when a search is ambiguous.
// The pick comes back as a callback query.
func (b *Bot) offerPlaceChoice(chatID int64, query string, found []places.Place) {
	if len(found) > maxPlaceChoices {
		found = found[:maxPlaceChoices]
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(found))
	for _, p := range found {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(p.Name, watchCallbackData(p))))
	}

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Several places match %q. Pick one:", query))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) addPlaceWatch(ctx context.Context, chatID int64, p places.Place) {
	b.addWatch(ctx, chatID, &model.Watch{
		ChatID:  chatID,
		Kind:    model.KindPlace,
		Name:    p.Name,
		PlaceID: p.ID,
	})
}

func (b *Bot) handleArea(ctx context.Context, chatID int64, args string) {
	area, err := ParseAreaArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	b.addWatch(ctx, chatID, &model.Watch{
		ChatID:   chatID,
		Kind:     model.KindArea,
		Name:     area.Name,
		Lat:      area.Lat,
		Lon:      area.Lon,
		RadiusKM: area.RadiusKM,
	})
}

// addWatch registers the chat if needed, stores the watch and runs the first
// check so the user sees recent activity right away.
func (b *Bot) addWatch(ctx context.Context, chatID int64, w *model.Watch) {
	if _, err := b.ensureSubscriber(ctx, chatID); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	if err := b.store.CreateWatch(ctx, w); err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to save watch: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Watch #%d \"%s\" added.", w.ID, w.Name))

	rep, err := b.checker.RunJustAdded(ctx, chatID, w.ID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Could not check \"%s\" right away: %v", w.Name, err))
		return
	}
	if len(rep.Events) == 0 {
		b.reply(chatID, "Nothing happened there in the last day.")
		return
	}
	for _, e := range rep.Events {
		b.reply(chatID, notifier.FormatEvent(e))
	}
}

// ensureSubscriber registers the chat with default settings if it is not
// registered yet, re-activating it if it was paused.
func (b *Bot) ensureSubscriber(ctx context.Context, chatID int64) (*model.Subscriber, error) {
	sub := &model.Subscriber{
		ChatID:          chatID,
		IntervalMinutes: defaultIntervalMinutes,
		Class:           model.NotifyAll,
	}
	if err := b.store.UpsertSubscriber(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (b *Bot) handleList(ctx context.Context, chatID int64) {
	sub, err := b.store.GetSubscriber(ctx, chatID)
	if err != nil {
		b.reply(chatID, "You are not subscribed yet. Use /start first.")
		return
	}

	watches, err := b.store.ListWatches(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	b.reply(chatID, FormatWatchList(sub, watches))
}

func (b *Bot) handleRemove(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /remove <id>")
		return
	}

	w, err := b.store.GetWatch(ctx, id)
	if err != nil || w.ChatID != chatID {
		b.reply(chatID, fmt.Sprintf("Watch #%d not found.", id))
		return
	}

	if err := b.store.DeleteWatch(ctx, id); err != nil {
		b.reply(chatID, fmt.Sprintf("Error deleting watch: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Watch #%d \"%s\" deleted.", id, w.Name))
}

func (b *Bot) handleInterval(ctx context.Context, chatID int64, args string) {
	parsed, err := ParseIntervalArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	if parsed.Default {
		if _, err := b.store.GetSubscriber(ctx, chatID); err != nil {
			b.reply(chatID, "You are not subscribed yet. Use /start first.")
			return
		}
		if err := b.store.SetDefaultInterval(ctx, chatID, *parsed.Minutes); err != nil {
			b.reply(chatID, fmt.Sprintf("Error: %v", err))
			return
		}
		b.reply(chatID, fmt.Sprintf("Default interval set to %d min.", *parsed.Minutes))
		return
	}

	w, err := b.store.GetWatch(ctx, parsed.WatchID)
	if err != nil || w.ChatID != chatID {
		b.reply(chatID, fmt.Sprintf("Watch #%d not found.", parsed.WatchID))
		return
	}

	if err := b.store.SetWatchInterval(ctx, w.ID, parsed.Minutes); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if parsed.Minutes == nil {
		b.reply(chatID, fmt.Sprintf("Watch #%d follows the default interval again.", w.ID))
		return
	}
	b.reply(chatID, fmt.Sprintf("Watch #%d interval set to %d min.", w.ID, *parsed.Minutes))
}

func (b *Bot) handleNotify(ctx context.Context, chatID int64, args string) {
	parsed, err := ParseNotifyArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	if parsed.Default {
		if _, err := b.store.GetSubscriber(ctx, chatID); err != nil {
			b.reply(chatID, "You are not subscribed yet. Use /start first.")
			return
		}
		if err := b.store.SetDefaultClass(ctx, chatID, *parsed.Class); err != nil {
			b.reply(chatID, fmt.Sprintf("Error: %v", err))
			return
		}
		b.reply(chatID, fmt.Sprintf("Default notifications set to %s.", *parsed.Class))
		return
	}

	w, err := b.store.GetWatch(ctx, parsed.WatchID)
	if err != nil || w.ChatID != chatID {
		b.reply(chatID, fmt.Sprintf("Watch #%d not found.", parsed.WatchID))
		return
	}

	if err := b.store.SetWatchClass(ctx, w.ID, parsed.Class); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if parsed.Class == nil {
		b.reply(chatID, fmt.Sprintf("Watch #%d follows the default notifications again.", w.ID))
		return
	}
	b.reply(chatID, fmt.Sprintf("Watch #%d notifications set to %s.", w.ID, *parsed.Class))
}

func (b *Bot) handlePause(ctx context.Context, chatID int64) {
	if _, err := b.store.GetSubscriber(ctx, chatID); err != nil {
		b.reply(chatID, "You are not subscribed yet. Use /start first.")
		return
	}

	if err := b.store.SetSubscriberActive(ctx, chatID, false); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, "Notifications paused. Use /resume to turn them back on.")
}

func (b *Bot) handleResume(ctx context.Context, chatID int64) {
	if _, err := b.store.GetSubscriber(ctx, chatID); err != nil {
		b.reply(chatID, "You are not subscribed yet. Use /start first.")
		return
	}

	if err := b.store.SetSubscriberActive(ctx, chatID, true); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, "Notifications resumed.")
}

func (b *Bot) handleCheck(ctx context.Context, chatID int64) {
	watches, err := b.store.ListWatches(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if len(watches) == 0 {
		b.reply(chatID, "You have no watches yet. Use /watch or /area to add one.")
		return
	}

	rep, err := b.checker.RunManual(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Check failed: %v", err))
		return
	}
	if len(rep.Events) == 0 {
		b.reply(chatID, "Nothing new across your watches.")
		return
	}

	for _, e := range rep.Events {
		b.reply(chatID, notifier.FormatEvent(e))
	}
	b.reply(chatID, fmt.Sprintf("Found %d new record(s).", len(rep.Events)))
}
