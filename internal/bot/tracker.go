package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"nexus_bot/internal/model"
	"nexus_bot/internal/nexus"
	"nexus_bot/internal/storage"
)

// Upstream is the slice of the Nexus client used to validate entities
// before a subscription is saved.
type Upstream interface {
	Game(ctx context.Context, domain string) (*nexus.Game, error)
	Mod(ctx context.Context, domain, modID string) (*nexus.Mod, error)
	CollectionByID(ctx context.Context, id string) (*nexus.Collection, error)
}

// webhookSession is the slice of the Discord session the tracker uses to
// manage delivery credentials.
type webhookSession interface {
	WebhookCreate(channelID, name, avatar string, options ...discordgo.RequestOption) (*discordgo.Webhook, error)
	WebhookDelete(webhookID string, options ...discordgo.RequestOption) error
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// Forcer triggers immediate polling cycles.
type Forcer interface {
	ForceCycle(ctx context.Context) error
	ForceChannelSince(ctx context.Context, guildID, channelID string, since time.Time) (int, error)
}

// TrackRequest carries the arguments of a track command.
type TrackRequest struct {
	GuildID    string
	ChannelID  string
	Type       model.ItemType
	Entity     string
	Compact    bool
	Crosspost  bool
	Message    *string
	ShowAdult  *bool
	ShowSFW    *bool
	GameConfig model.GameConfig
}

// Tracker implements the administrative surface: tracking, untracking
// and forced updates. It is the only writer of channel/item rows outside
// the polling engine.
type Tracker struct {
	session  webhookSession
	store    storage.Storage
	upstream Upstream
	forcer   Forcer
	log      *slog.Logger
}

// NewTracker creates a Tracker.
func NewTracker(session webhookSession, store storage.Storage, upstream Upstream, forcer Forcer, log *slog.Logger) *Tracker {
	return &Tracker{session: session, store: store, upstream: upstream, forcer: forcer, log: log}
}

// Track subscribes a channel to an entity, creating the channel row and
// its webhook on first use. Re-tracking an unreachable channel re-links
// it with a fresh webhook.
func (t *Tracker) Track(ctx context.Context, req TrackRequest) (*model.Item, error) {
	entity, err := ParseEntity(req.Type, req.Entity)
	if err != nil {
		return nil, err
	}
	if err := t.validateEntity(ctx, req.Type, entity); err != nil {
		return nil, err
	}

	ch, err := t.ensureChannel(ctx, req.GuildID, req.ChannelID)
	if err != nil {
		return nil, err
	}

	item := &model.Item{
		ChannelID:  ch.ID,
		Type:       req.Type,
		Entity:     entity,
		Compact:    req.Compact,
		Crosspost:  req.Crosspost,
		Message:    req.Message,
		ShowAdult:  req.ShowAdult,
		ShowSFW:    req.ShowSFW,
		Game:       req.GameConfig,
		LastUpdate: time.Now().UTC(),
		IsActive:   true,
	}
	if err := t.store.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("save subscription: %w", err)
	}
	t.log.Info("tracked", "guild_id", req.GuildID, "channel_id", req.ChannelID,
		"type", string(req.Type), "entity", entity)
	return item, nil
}

// validateEntity checks the entity exists upstream before persisting a
// subscription to it.
func (t *Tracker) validateEntity(ctx context.Context, typ model.ItemType, entity string) error {
	switch typ {
	case model.TypeGame:
		if _, err := t.upstream.Game(ctx, entity); err != nil {
			return fmt.Errorf("game %q not found upstream: %w", entity, err)
		}
	case model.TypeMod:
		domain, modID, _ := strings.Cut(entity, "/")
		if _, err := t.upstream.Mod(ctx, domain, modID); err != nil {
			return fmt.Errorf("mod %q not found upstream: %w", entity, err)
		}
	case model.TypeCollection:
		col, err := t.upstream.CollectionByID(ctx, entity)
		if err != nil {
			return fmt.Errorf("collection %q not reachable upstream: %w", entity, err)
		}
		if col == nil {
			return fmt.Errorf("collection %q not found", entity)
		}
	case model.TypeUser:
		// Author activity queries cannot distinguish "no uploads yet"
		// from "no such user", so accept any well-formed id.
	}
	return nil
}

// ensureChannel returns the channel row for (guild, channel), creating
// it with a fresh webhook when absent and re-linking it when flagged
// unreachable.
func (t *Tracker) ensureChannel(ctx context.Context, guildID, channelID string) (*model.Channel, error) {
	ch, err := t.store.GetChannel(ctx, guildID, channelID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		hook, nsfw, err := t.createWebhook(channelID)
		if err != nil {
			return nil, err
		}
		ch = &model.Channel{
			GuildID:      guildID,
			ChannelID:    channelID,
			WebhookID:    hook.ID,
			WebhookToken: hook.Token,
			NSFW:         nsfw,
		}
		if err := t.store.CreateChannel(ctx, ch); err != nil {
			return nil, fmt.Errorf("save channel: %w", err)
		}
		return ch, nil
	case err != nil:
		return nil, fmt.Errorf("load channel: %w", err)
	}

	if ch.Unreachable {
		hook, nsfw, err := t.createWebhook(channelID)
		if err != nil {
			return nil, err
		}
		ch.WebhookID = hook.ID
		ch.WebhookToken = hook.Token
		ch.NSFW = nsfw
		ch.Unreachable = false
		if err := t.store.UpdateChannel(ctx, ch); err != nil {
			return nil, fmt.Errorf("re-link channel: %w", err)
		}
		t.log.Info("re-linked channel", "guild_id", guildID, "channel_id", channelID)
	}
	return ch, nil
}

func (t *Tracker) createWebhook(channelID string) (*discordgo.Webhook, bool, error) {
	hook, err := t.session.WebhookCreate(channelID, "Nexus Mods Updates", "")
	if err != nil {
		return nil, false, fmt.Errorf("failed to create delivery credential: %w", err)
	}
	nsfw := false
	if dch, err := t.session.Channel(channelID); err == nil {
		nsfw = dch.NSFW
	}
	return hook, nsfw, nil
}

// Untrack removes one item from the invoking channel. Deleting the last
// item cascades to the channel and its webhook.
func (t *Tracker) Untrack(ctx context.Context, guildID, channelID string, itemID int64) error {
	ch, err := t.store.GetChannel(ctx, guildID, channelID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("this channel has no subscriptions")
		}
		return fmt.Errorf("load channel: %w", err)
	}

	item, err := t.store.GetItem(ctx, itemID)
	if err != nil || item.ChannelID != ch.ID {
		return fmt.Errorf("subscription #%d not found in this channel", itemID)
	}
	if err := t.store.DeleteItem(ctx, itemID); err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}

	remaining, err := t.store.ListItems(ctx, ch.ID)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	if len(remaining) == 0 {
		if err := t.store.DeleteChannel(ctx, ch.ID); err != nil {
			return fmt.Errorf("delete channel: %w", err)
		}
		if err := t.session.WebhookDelete(ch.WebhookID); err != nil {
			t.log.Warn("delete webhook", "webhook_id", ch.WebhookID, "error", err)
		}
	}
	t.log.Info("untracked", "guild_id", guildID, "channel_id", channelID, "item_id", itemID)
	return nil
}

// List returns the invoking channel's subscriptions.
func (t *Tracker) List(ctx context.Context, guildID, channelID string) ([]model.Item, error) {
	ch, err := t.store.GetChannel(ctx, guildID, channelID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load channel: %w", err)
	}
	return t.store.ListItems(ctx, ch.ID)
}

// Trigger backdates every item of the invoking channel to the supplied
// instant and forces an immediate cycle. It returns how many items were
// refreshed; the error is the forced cycle's first failure, if any.
func (t *Tracker) Trigger(ctx context.Context, guildID, channelID string, since time.Time) (int, error) {
	return t.forcer.ForceChannelSince(ctx, guildID, channelID, since)
}

// TriggerNow forces an immediate cycle without touching any watermark.
func (t *Tracker) TriggerNow(ctx context.Context) error {
	return t.forcer.ForceCycle(ctx)
}
