// Package model defines the domain types used across the application.
package model

import "time"

// ItemType identifies the kind of Nexus Mods entity a subscription tracks.
type ItemType string

// The closed set of trackable entity types. Resolution dispatches on this
// with an exhaustive switch; adding a type means touching every switch.
const (
	TypeGame       ItemType = "game"
	TypeMod        ItemType = "mod"
	TypeCollection ItemType = "collection"
	TypeUser       ItemType = "user"
)

// Valid reports whether t is one of the known item types.
func (t ItemType) Valid() bool {
	switch t {
	case TypeGame, TypeMod, TypeCollection, TypeUser:
		return true
	}
	return false
}

// Channel is a Discord channel subscribed to one or more items.
// Delivery goes through the channel's webhook credential.
type Channel struct {
	ID           int64
	GuildID      string
	ChannelID    string
	WebhookID    string
	WebhookToken string
	// NSFW is the channel-level content policy; items with unset
	// adult/non-adult flags defer to it.
	NSFW        bool
	Unreachable bool
	CreatedAt   time.Time
}

// GameConfig holds the flags that only apply to game subscriptions.
type GameConfig struct {
	ShowNew     bool
	ShowUpdates bool
}

// Item is one tracked entity owned by a channel.
//
// Entity is the type-dependent identifier: a domain string for games
// ("skyrimspecialedition"), a decimal numeric id for mods, collections
// and users.
type Item struct {
	ID        int64
	ChannelID int64
	Type      ItemType
	Entity    string

	// Display configuration.
	Compact   bool
	Crosspost bool
	Message   *string

	// Content policy overrides. nil defers to the channel: a nil
	// ShowAdult means "adult content iff the channel is NSFW", a nil
	// ShowSFW means "non-adult content always".
	ShowAdult *bool
	ShowSFW   *bool

	Game GameConfig

	// LastUpdate is the delivery watermark: entries at or before this
	// instant are considered already delivered. Monotonically
	// non-decreasing.
	LastUpdate time.Time
	ErrorCount int
	IsActive   bool
	CreatedAt  time.Time
}

// AdultAllowed resolves the effective adult-content policy for the item
// within its owning channel.
func (it *Item) AdultAllowed(ch *Channel) bool {
	if it.ShowAdult != nil {
		return *it.ShowAdult
	}
	return ch.NSFW
}

// SFWAllowed resolves the effective non-adult-content policy.
func (it *Item) SFWAllowed() bool {
	if it.ShowSFW != nil {
		return *it.ShowSFW
	}
	return true
}
