package bot

import (
	"fmt"
	"strconv"
	"strings"

	"places_bot/internal/model"
)

// AreaArgs holds the parsed arguments of the /area command.
type AreaArgs struct {
	Lat      float64
	Lon      float64
	RadiusKM float64
	Name     string
}

// ParseAreaArgs parses arguments for /area.
// Format: <lat> <lon> <radius_km> [name...]
func ParseAreaArgs(args string) (AreaArgs, error) {
	parts := strings.Fields(args)
	if len(parts) < 3 {
		return AreaArgs{}, fmt.Errorf("usage: /area <lat> <lon> <radius_km> [name]")
	}

	lat, err := strconv.ParseFloat(parts[0], 64)
	if err != nil || lat < -90 || lat > 90 {
		return AreaArgs{}, fmt.Errorf("invalid latitude %q", parts[0])
	}
	lon, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || lon < -180 || lon > 180 {
		return AreaArgs{}, fmt.Errorf("invalid longitude %q", parts[1])
	}
	radius, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || radius <= 0 || radius > 100 {
		return AreaArgs{}, fmt.Errorf("radius must be between 0 and 100 km")
	}

	name := strings.Join(parts[3:], " ")
	if name == "" {
		name = fmt.Sprintf("area %.3f,%.3f", lat, lon)
	}

	return AreaArgs{Lat: lat, Lon: lon, RadiusKM: radius, Name: name}, nil
}

// ParseIDArg extracts a numeric ID from a command argument string.
func ParseIDArg(args string) (int64, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, fmt.Errorf("watch ID is required")
	}
	id, err := strconv.ParseInt(strings.Fields(s)[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid watch ID %q", s)
	}
	return id, nil
}

// IntervalArgs holds the parsed arguments of the /interval command.
type IntervalArgs struct {
	// Default targets the subscriber default instead of a single watch.
	Default bool
	WatchID int64
	// Minutes is nil when the watch should follow the default again.
	Minutes *int
}

// ParseIntervalArgs parses arguments for /interval.
// Format: <id|default> <minutes|default>
func ParseIntervalArgs(args string) (IntervalArgs, error) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		return IntervalArgs{}, fmt.Errorf("usage: /interval <id|default> <minutes|default>")
	}

	var out IntervalArgs
	if parts[0] == "default" {
		out.Default = true
	} else {
		id, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return IntervalArgs{}, fmt.Errorf("invalid watch ID %q", parts[0])
		}
		out.WatchID = id
	}

	if parts[1] == "default" {
		if out.Default {
			return IntervalArgs{}, fmt.Errorf("the default interval needs a number of minutes")
		}
		return out, nil
	}

	mins, err := strconv.Atoi(parts[1])
	if err != nil || mins < 1 || mins > 1440 {
		return IntervalArgs{}, fmt.Errorf("interval must be between 1 and 1440 minutes")
	}
	out.Minutes = &mins
	return out, nil
}

// NotifyArgs holds the parsed arguments of the /notify command.
type NotifyArgs struct {
	// Default targets the subscriber default instead of a single watch.
	Default bool
	WatchID int64
	// Class is nil when the watch should follow the default again.
	Class *model.NotifyClass
}

// ParseNotifyArgs parses arguments for /notify.
// Format: <id|default> <changes|comments|all|default>
func ParseNotifyArgs(args string) (NotifyArgs, error) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		return NotifyArgs{}, fmt.Errorf("usage: /notify <id|default> <changes|comments|all|default>")
	}

	var out NotifyArgs
	if parts[0] == "default" {
		out.Default = true
	} else {
		id, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return NotifyArgs{}, fmt.Errorf("invalid watch ID %q", parts[0])
		}
		out.WatchID = id
	}

	if parts[1] == "default" {
		if out.Default {
			return NotifyArgs{}, fmt.Errorf("the default class cannot be cleared, pick one of: changes, comments, all")
		}
		return out, nil
	}

	if !model.ValidNotifyClass(parts[1]) {
		return NotifyArgs{}, fmt.Errorf("invalid class %q, use: changes, comments, all", parts[1])
	}
	class := model.NotifyClass(parts[1])
	out.Class = &class
	return out, nil
}
