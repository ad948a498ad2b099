package resolver

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"nexus_bot/internal/nexus"
)

const (
	colorNew      = 0x57F287
	colorUpdated  = 0x5865F2
	colorRevision = 0xEB459E
)

func kindTitle(kind Kind, name string) string {
	switch kind {
	case KindNewMod:
		return "New mod: " + name
	case KindUpdatedMod:
		return "Updated: " + name
	case KindAuthorActivity:
		return "Author activity: " + name
	default:
		return name
	}
}

func kindColor(kind Kind) int {
	if kind == KindNewMod {
		return colorNew
	}
	return colorUpdated
}

func renderMod(kind Kind, m *nexus.Mod, file *nexus.ModFile, occurred time.Time, compact bool) Update {
	embed := &discordgo.MessageEmbed{
		Title:     kindTitle(kind, m.Name),
		URL:       m.URL(),
		Color:     kindColor(kind),
		Timestamp: occurred.UTC().Format(time.RFC3339),
		Footer:    &discordgo.MessageEmbedFooter{Text: m.GameDomain},
	}
	if !compact {
		embed.Description = m.Summary
		embed.Fields = []*discordgo.MessageEmbedField{
			{Name: "Version", Value: orDash(m.Version), Inline: true},
			{Name: "Author", Value: orDash(m.Author), Inline: true},
		}
		if m.PictureURL != "" {
			embed.Image = &discordgo.MessageEmbedImage{URL: m.PictureURL}
		}
		if file != nil && len(file.Changelog) > 0 {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
				Name:  "Changelog " + file.Version,
				Value: truncate(strings.Join(file.Changelog, "\n"), 1024),
			})
		}
	}

	plain := fmt.Sprintf("%s\n%s", kindTitle(kind, m.Name), m.URL())
	if file != nil && file.Version != "" {
		plain += "\nversion " + file.Version
	}
	return Update{Kind: kind, OccurredAt: occurred, Embed: embed, Plain: plain}
}

func renderCollection(col *nexus.Collection, compact bool) Update {
	embed := &discordgo.MessageEmbed{
		Title:     fmt.Sprintf("Collection updated: %s (revision %d)", col.Name, col.Revision),
		URL:       col.URL(),
		Color:     colorRevision,
		Timestamp: col.UpdatedAt.UTC().Format(time.RFC3339),
		Footer:    &discordgo.MessageEmbedFooter{Text: col.GameDomain},
	}
	if !compact {
		embed.Description = col.Summary
	}
	plain := fmt.Sprintf("Collection updated: %s (revision %d)\n%s", col.Name, col.Revision, col.URL())
	return Update{Kind: KindNewRevision, OccurredAt: col.UpdatedAt, Embed: embed, Plain: plain}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
