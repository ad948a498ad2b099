// Package delivery posts resolved updates through channel webhooks and
// advances the persisted watermark.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"

	"nexus_bot/internal/model"
	"nexus_bot/internal/resolver"
	"nexus_bot/internal/storage"
)

// Discord allows at most this many embeds per webhook execute.
const embedsPerMessage = 10

// Webhook is the slice of the Discord session the pipeline uses.
type Webhook interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageCrosspost(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// ErrUnreachable marks a terminal destination failure: the webhook is
// gone or the bot lost access. The channel has already been flagged when
// this is returned.
var ErrUnreachable = errors.New("destination unreachable")

// Pipeline delivers updates and persists watermark advancement.
type Pipeline struct {
	session Webhook
	store   storage.Storage
	log     *slog.Logger
}

// New creates a delivery Pipeline.
func New(session Webhook, store storage.Storage, log *slog.Logger) *Pipeline {
	return &Pipeline{session: session, store: store, log: log}
}

// Deliver posts updates to the channel's webhook in order and advances
// the item's watermark to the occurrence time of the last update that
// actually landed. An empty update list is a strict no-op: no network
// call, no watermark write.
//
// Updates must already be sorted ascending by occurrence time; the
// watermark is advanced after each successfully posted batch, so a
// mid-delivery failure re-resolves only the unsent tail next cycle.
func (p *Pipeline) Deliver(ctx context.Context, ch *model.Channel, it *model.Item, updates []resolver.Update) error {
	if len(updates) == 0 {
		return nil
	}

	for start := 0; start < len(updates); start += embedsPerMessage {
		end := min(start+embedsPerMessage, len(updates))
		batch := updates[start:end]

		msg, err := p.post(ch, it, batch)
		if err != nil {
			if terminal(err) {
				if derr := p.store.SetUnreachable(ctx, ch.ID, true); derr != nil {
					p.log.Error("flag unreachable", "channel_id", ch.ID, "error", derr)
				}
				p.log.Warn("channel unreachable",
					"guild_id", ch.GuildID, "channel_id", ch.ChannelID, "error", err)
				return fmt.Errorf("%w: %v", ErrUnreachable, err)
			}
			return fmt.Errorf("webhook execute: %w", err)
		}

		if it.Crosspost && msg != nil {
			if _, err := p.session.ChannelMessageCrosspost(ch.ChannelID, msg.ID); err != nil {
				p.log.Warn("crosspost failed", "channel_id", ch.ChannelID, "error", err)
			}
		}

		last := batch[len(batch)-1].OccurredAt
		if err := p.store.SetWatermark(ctx, it.ID, last); err != nil {
			return fmt.Errorf("advance watermark: %w", err)
		}
		it.LastUpdate = last
		it.ErrorCount = 0
	}
	return nil
}

// post executes the webhook once with rich embeds, degrading to a
// plain-text body when the payload itself is rejected.
func (p *Pipeline) post(ch *model.Channel, it *model.Item, batch []resolver.Update) (*discordgo.Message, error) {
	embeds := make([]*discordgo.MessageEmbed, 0, len(batch))
	for _, u := range batch {
		embeds = append(embeds, u.Embed)
	}
	params := &discordgo.WebhookParams{Embeds: embeds}
	if it.Message != nil {
		params.Content = *it.Message
	}

	msg, err := p.session.WebhookExecute(ch.WebhookID, ch.WebhookToken, true, params)
	if err == nil {
		return msg, nil
	}
	if !rejectedPayload(err) {
		return nil, err
	}

	p.log.Warn("rich payload rejected, falling back to plain text",
		"channel_id", ch.ChannelID, "error", err)
	var b strings.Builder
	if it.Message != nil {
		b.WriteString(*it.Message)
		b.WriteString("\n\n")
	}
	for i, u := range batch {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(u.Plain)
	}
	return p.session.WebhookExecute(ch.WebhookID, ch.WebhookToken, true, &discordgo.WebhookParams{
		Content: b.String(),
	})
}

// terminal reports whether the destination rejected us for reasons that
// will not heal on their own: deleted webhook or revoked access.
func terminal(err error) bool {
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return false
	}
	if rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeUnknownWebhook,
			discordgo.ErrCodeUnknownChannel,
			discordgo.ErrCodeMissingAccess,
			discordgo.ErrCodeMissingPermissions:
			return true
		}
	}
	if rest.Response != nil {
		switch rest.Response.StatusCode {
		case 401, 403, 404:
			return true
		}
	}
	return false
}

// Transient reports whether a delivery failure is likely to heal on its
// own: rate limits, Discord 5xx, and network-level errors that never
// reached the API.
func Transient(err error) bool {
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) || rest.Response == nil {
		return true
	}
	code := rest.Response.StatusCode
	return code == http.StatusTooManyRequests || code >= 500
}

// rejectedPayload reports a structural 400 that a plain-text retry might
// survive.
func rejectedPayload(err error) bool {
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return false
	}
	return rest.Response != nil && rest.Response.StatusCode == 400 && !terminal(err)
}
