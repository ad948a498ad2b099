// Package bot is the Discord command surface: slash commands for
// tracking, untracking, listing and forcing updates.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"nexus_bot/internal/model"
	"nexus_bot/internal/storage"
)

var (
	manageChannels int64 = discordgo.PermissionManageChannels
	commands             = []*discordgo.ApplicationCommand{
		{
			Name:                     "track",
			Description:              "Subscribe this channel to a Nexus Mods entity",
			DefaultMemberPermissions: &manageChannels,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "type",
					Description: "what to track",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "game", Value: "game"},
						{Name: "mod", Value: "mod"},
						{Name: "collection", Value: "collection"},
						{Name: "author", Value: "user"},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "entity",
					Description: "game domain, <domain>/<mod-id>, collection id or author id",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "compact",
					Description: "post compact embeds",
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "crosspost",
					Description: "publish posts in announcement channels",
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "message",
					Description: "text to prepend to every post",
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "adult",
					Description: "override: show adult content",
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "non_adult",
					Description: "override: show non-adult content",
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "new",
					Description: "games only: post newly added mods (default on)",
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "updates",
					Description: "games only: post updated mods (default on)",
				},
			},
		},
		{
			Name:                     "untrack",
			Description:              "Remove a subscription from this channel",
			DefaultMemberPermissions: &manageChannels,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "id",
					Description: "subscription id (see /subs)",
					Required:    true,
				},
			},
		},
		{
			Name:        "subs",
			Description: "List this channel's subscriptions",
		},
		{
			Name:                     "trigger",
			Description:              "Force an update cycle, optionally redelivering everything since an instant",
			DefaultMemberPermissions: &manageChannels,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "date",
					Description: "YYYY-MM-DD",
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "time",
					Description: "HH:MM",
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "timezone",
					Description: "±HH:MM offset",
				},
			},
		},
	}
)

// responder is the slice of the Discord session used to answer
// interactions.
type responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Bot owns the Discord session and routes slash commands to the Tracker.
type Bot struct {
	session *discordgo.Session
	respond responder
	tracker *Tracker
	log     *slog.Logger
	clock   func() time.Time
}

// New opens a Discord session and registers the slash commands.
func New(token string, store storage.Storage, upstream Upstream, forcer Forcer, log *slog.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	b := &Bot{
		session: session,
		respond: session,
		log:     log,
		clock:   func() time.Time { return time.Now().UTC() },
	}
	b.tracker = NewTracker(session, store, upstream, forcer, log)

	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		log.Info("discord session ready", "user", r.User.Username)
	})
	session.AddHandler(b.handleInteraction)

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	for _, cmd := range commands {
		if _, err := session.ApplicationCommandCreate(session.State.User.ID, "", cmd); err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("register command %s: %w", cmd.Name, err)
		}
	}
	return b, nil
}

// Session exposes the underlying Discord session for the delivery
// pipeline.
func (b *Bot) Session() *discordgo.Session {
	return b.session
}

// Close shuts down the Discord session.
func (b *Bot) Close() error {
	return b.session.Close()
}

func (b *Bot) handleInteraction(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	opts := optionMap(data.Options)
	ctx := context.Background()

	var content string
	switch data.Name {
	case "track":
		content = b.handleTrack(ctx, i, opts)
	case "untrack":
		content = b.handleUntrack(ctx, i, opts)
	case "subs":
		content = b.handleSubs(ctx, i)
	case "trigger":
		// A forced cycle can outlive the interaction token's deadline,
		// so acknowledge first and deliver the result as a follow-up.
		b.deferredReply(i, func() string { return b.handleTrigger(ctx, i, opts) })
		return
	default:
		return
	}

	err := b.respond.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags:   discordgo.MessageFlagsEphemeral,
			Content: content,
		},
	})
	if err != nil {
		b.log.Error("interaction respond", "command", data.Name, "error", err)
	}
}

// deferredReply acknowledges the interaction immediately, runs the
// handler, and posts its result as an ephemeral follow-up.
func (b *Bot) deferredReply(i *discordgo.InteractionCreate, run func() string) {
	err := b.respond.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		b.log.Error("interaction ack", "error", err)
		return
	}
	content := run()
	if _, err := b.respond.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	}); err != nil {
		b.log.Error("interaction followup", "error", err)
	}
}

func (b *Bot) handleTrack(ctx context.Context, i *discordgo.InteractionCreate, opts options) string {
	req := TrackRequest{
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
		Type:      model.ItemType(opts.str("type")),
		Entity:    opts.str("entity"),
		Compact:   opts.boolOr("compact", false),
		Crosspost: opts.boolOr("crosspost", false),
		Message:   opts.strPtr("message"),
		ShowAdult: opts.boolPtr("adult"),
		ShowSFW:   opts.boolPtr("non_adult"),
		GameConfig: model.GameConfig{
			ShowNew:     opts.boolOr("new", true),
			ShowUpdates: opts.boolOr("updates", true),
		},
	}
	item, err := b.tracker.Track(ctx, req)
	if err != nil {
		return "Failed to track: " + err.Error()
	}
	return FormatTrackReply(item)
}

func (b *Bot) handleUntrack(ctx context.Context, i *discordgo.InteractionCreate, opts options) string {
	id, ok := opts.integer("id")
	if !ok {
		return "Usage: /untrack id:<subscription id>"
	}
	if err := b.tracker.Untrack(ctx, i.GuildID, i.ChannelID, id); err != nil {
		return "Failed to untrack: " + err.Error()
	}
	return "Subscription removed."
}

func (b *Bot) handleSubs(ctx context.Context, i *discordgo.InteractionCreate) string {
	items, err := b.tracker.List(ctx, i.GuildID, i.ChannelID)
	if err != nil {
		return "Failed to list subscriptions: " + err.Error()
	}
	return FormatItemList(items)
}

func (b *Bot) handleTrigger(ctx context.Context, i *discordgo.InteractionCreate, opts options) string {
	dateArg, timeArg, tzArg := opts.str("date"), opts.str("time"), opts.str("timezone")
	if dateArg == "" && timeArg == "" && tzArg == "" {
		// No instant given: run a cycle early without moving any
		// watermark, so pending updates are neither skipped nor resent.
		if err := b.tracker.TriggerNow(ctx); err != nil {
			return "Failed to trigger: " + err.Error()
		}
		return "Forced an update cycle."
	}

	since, err := ParseInstant(dateArg, timeArg, tzArg, b.clock())
	if err != nil {
		return "Failed to trigger: " + err.Error()
	}
	touched, err := b.tracker.Trigger(ctx, i.GuildID, i.ChannelID, since)
	if err != nil && touched == 0 {
		return "Failed to trigger: " + err.Error()
	}
	return FormatTriggerReply(touched, err)
}

type options map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionMap(list []*discordgo.ApplicationCommandInteractionDataOption) options {
	m := make(options, len(list))
	for _, o := range list {
		m[o.Name] = o
	}
	return m
}

func (o options) str(name string) string {
	if opt, ok := o[name]; ok {
		return opt.StringValue()
	}
	return ""
}

func (o options) strPtr(name string) *string {
	if opt, ok := o[name]; ok {
		v := opt.StringValue()
		return &v
	}
	return nil
}

func (o options) boolOr(name string, def bool) bool {
	if opt, ok := o[name]; ok {
		return opt.BoolValue()
	}
	return def
}

func (o options) boolPtr(name string) *bool {
	if opt, ok := o[name]; ok {
		v := opt.BoolValue()
		return &v
	}
	return nil
}

func (o options) integer(name string) (int64, bool) {
	if opt, ok := o[name]; ok {
		return opt.IntValue(), true
	}
	return 0, false
}
