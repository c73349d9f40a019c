package bot

import (
	"fmt"
	"strings"

	"places_bot/internal/model"
)

const (
	statusActive = "active"
	statusPaused = "paused"
)

// FormatWatchList formats the subscriber's watches with their effective
// check cadence and notification class.
func FormatWatchList(sub *model.Subscriber, watches []model.Watch) string {
	if len(watches) == 0 {
		return "You have no watches yet. Use /watch <name> or /area <lat> <lon> <radius_km> to add one."
	}

	status := statusActive
	if !sub.IsActive {
		status = statusPaused
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Your watches [%s], default: every %d min, %s\n", status, sub.IntervalMinutes, sub.Class)
	for _, w := range watches {
		fmt.Fprintf(&b, "\n#%d %s  [%s]\n", w.ID, w.Name, kindLabel(w))
		fmt.Fprintf(&b, "   %s, %s\n", intervalLabel(w, sub), classLabel(w, sub))
		if w.LastCheckedAt != nil {
			fmt.Fprintf(&b, "   last check: %s\n", w.LastCheckedAt.Format("2006-01-02 15:04 UTC"))
		}
	}
	return b.String()
}

func kindLabel(w model.Watch) string {
	if w.Kind == model.KindArea {
		return fmt.Sprintf("area %.3f,%.3f r=%.1fkm", w.Lat, w.Lon, w.RadiusKM)
	}
	return "place"
}

func intervalLabel(w model.Watch, sub *model.Subscriber) string {
	if w.IntervalMinutes != nil {
		return fmt.Sprintf("every %d min", *w.IntervalMinutes)
	}
	return fmt.Sprintf("every %d min (default)", sub.IntervalMinutes)
}

func classLabel(w model.Watch, sub *model.Subscriber) string {
	if w.Class != nil {
		return string(*w.Class)
	}
	return fmt.Sprintf("%s (default)", sub.Class)
}
