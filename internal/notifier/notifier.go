// Package notifier hands finished event lists to the messaging side, pacing
// sends so a large batch cannot trip Telegram's flood limits.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"places_bot/internal/model"
)

// Sender is the interface for sending Telegram messages.
type Sender interface {
	SendMessage(chatID int64, text string)
}

// Dispatcher delivers events to a chat, one message per event. Delivery is
// best-effort: the seen marks behind a batch are never rolled back, so a
// dropped send stays dropped rather than being retried later.
type Dispatcher struct {
	sender  Sender
	limiter *rate.Limiter
}

// New creates a Dispatcher sending at most msgsPerSec messages per second.
func New(sender Sender, msgsPerSec float64) *Dispatcher {
	return &Dispatcher{
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(msgsPerSec), 1),
	}
}

// Deliver sends one message per event, in the given order.
func (d *Dispatcher) Deliver(ctx context.Context, chatID int64, events []model.Event) error {
	var errs []error
	for _, e := range events {
		if err := d.limiter.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("deliver %s: %w", e.ID, err))
			break
		}
		d.sender.SendMessage(chatID, FormatEvent(e))
	}
	return errors.Join(errs...)
}

// FormatEvent renders one directory event as a Telegram notification message.
func FormatEvent(e model.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n\n", e.PlaceName, categoryLabel(e.Category))
	b.WriteString(e.Title)
	if e.Link != "" {
		b.WriteString("\n\n")
		b.WriteString(e.Link)
	}
	return b.String()
}

func categoryLabel(c model.EventCategory) string {
	switch c {
	case model.CategoryAddition:
		return "new place"
	case model.CategoryRemoval:
		return "place removed"
	case model.CategoryComment:
		return "new comment"
	default:
		return "update"
	}
}
