package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"nexus_bot/internal/model"
)

// ParseEntity validates and canonicalizes the entity argument of a
// track command for the given item type.
func ParseEntity(typ model.ItemType, raw string) (string, error) {
	entity := strings.TrimSpace(strings.ToLower(raw))
	if entity == "" {
		return "", fmt.Errorf("entity is required")
	}
	switch typ {
	case model.TypeGame:
		if strings.ContainsAny(entity, " /") {
			return "", fmt.Errorf("game domain %q must be a bare domain like skyrimspecialedition", raw)
		}
		return entity, nil
	case model.TypeMod:
		domain, id, ok := strings.Cut(entity, "/")
		if !ok || domain == "" {
			return "", fmt.Errorf("mod must be given as <game-domain>/<mod-id>, got %q", raw)
		}
		if _, err := strconv.ParseInt(id, 10, 64); err != nil {
			return "", fmt.Errorf("invalid mod id %q", id)
		}
		return entity, nil
	case model.TypeCollection, model.TypeUser:
		if _, err := strconv.ParseInt(entity, 10, 64); err != nil {
			return "", fmt.Errorf("invalid %s id %q", typ, raw)
		}
		return entity, nil
	}
	return "", fmt.Errorf("unknown type %q", typ)
}

// ParseInstant builds the backdating instant for a trigger command from
// optional date, clock-time and timezone arguments. Omitted parts
// default to today / midnight / UTC; if all three are omitted the
// result is now.
func ParseInstant(dateArg, timeArg, tzArg string, now time.Time) (time.Time, error) {
	if dateArg == "" && timeArg == "" && tzArg == "" {
		return now, nil
	}

	loc := time.UTC
	if tzArg != "" {
		offset, err := parseOffset(tzArg)
		if err != nil {
			return time.Time{}, err
		}
		loc = time.FixedZone("", offset)
	}

	ref := now.In(loc)
	year, month, day := ref.Date()
	if dateArg != "" {
		d, err := time.Parse("2006-01-02", dateArg)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", dateArg)
		}
		year, month, day = d.Date()
	}

	hour, minute := 0, 0
	if timeArg != "" {
		t, err := time.Parse("15:04", timeArg)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid time %q, expected HH:MM", timeArg)
		}
		hour, minute = t.Hour(), t.Minute()
	}

	return time.Date(year, month, day, hour, minute, 0, 0, loc), nil
}

// parseOffset turns a "+HH:MM" / "-HH:MM" timezone argument into a
// seconds-east offset.
func parseOffset(s string) (int, error) {
	if len(s) != 6 || (s[0] != '+' && s[0] != '-') || s[3] != ':' {
		return 0, fmt.Errorf("invalid timezone %q, expected ±HH:MM", s)
	}
	hours, err := strconv.Atoi(s[1:3])
	if err != nil || hours > 14 {
		return 0, fmt.Errorf("invalid timezone %q, expected ±HH:MM", s)
	}
	minutes, err := strconv.Atoi(s[4:6])
	if err != nil || minutes > 59 {
		return 0, fmt.Errorf("invalid timezone %q, expected ±HH:MM", s)
	}
	offset := hours*3600 + minutes*60
	if s[0] == '-' {
		offset = -offset
	}
	return offset, nil
}
