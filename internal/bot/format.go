package bot

import (
	"fmt"
	"strings"

	"nexus_bot/internal/model"
)

// FormatItemList renders the channel's subscriptions for /subs.
func FormatItemList(items []model.Item) string {
	if len(items) == 0 {
		return "This channel has no subscriptions yet. Use /track to add one."
	}
	var b strings.Builder
	b.WriteString("Subscriptions in this channel:\n")
	for _, it := range items {
		fmt.Fprintf(&b, "\n#%d %s %s", it.ID, it.Type, it.Entity)
		var notes []string
		if it.Type == model.TypeGame {
			if it.Game.ShowNew && !it.Game.ShowUpdates {
				notes = append(notes, "new only")
			}
			if !it.Game.ShowNew && it.Game.ShowUpdates {
				notes = append(notes, "updates only")
			}
			if !it.Game.ShowNew && !it.Game.ShowUpdates {
				notes = append(notes, "muted")
			}
		}
		if it.Compact {
			notes = append(notes, "compact")
		}
		if !it.IsActive {
			notes = append(notes, fmt.Sprintf("disabled after %d failures", it.ErrorCount))
		}
		if len(notes) > 0 {
			fmt.Fprintf(&b, "  (%s)", strings.Join(notes, ", "))
		}
		fmt.Fprintf(&b, "\n   last update %s", it.LastUpdate.Format("2006-01-02 15:04 UTC"))
	}
	return b.String()
}

// FormatTrackReply renders the confirmation for a successful /track.
func FormatTrackReply(it *model.Item) string {
	return fmt.Sprintf("Now tracking %s %s (#%d). Updates newer than %s will be posted here.",
		it.Type, it.Entity, it.ID, it.LastUpdate.Format("2006-01-02 15:04 UTC"))
}

// FormatTriggerReply renders the result of a forced update.
func FormatTriggerReply(touched int, err error) string {
	if err != nil {
		return fmt.Sprintf("Refreshed %d subscriptions, but the forced cycle hit an error: %v", touched, err)
	}
	return fmt.Sprintf("Refreshed %d subscriptions.", touched)
}
