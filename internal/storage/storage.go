// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"nexus_bot/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateChannel(ctx context.Context, ch *model.Channel) error
	GetChannel(ctx context.Context, guildID, channelID string) (*model.Channel, error)
	ListChannels(ctx context.Context) ([]model.Channel, error)
	UpdateChannel(ctx context.Context, ch *model.Channel) error
	// DeleteChannel removes a channel and, cascading, all its items.
	DeleteChannel(ctx context.Context, id int64) error

	CreateItem(ctx context.Context, it *model.Item) error
	GetItem(ctx context.Context, id int64) (*model.Item, error)
	ListItems(ctx context.Context, channelID int64) ([]model.Item, error)
	DeleteItem(ctx context.Context, id int64) error

	// SetWatermark persists a new last_update for an item and resets
	// its error count.
	SetWatermark(ctx context.Context, itemID int64, t time.Time) error
	// BackdateChannel sets last_update for every item of a channel,
	// returning the number of items touched.
	BackdateChannel(ctx context.Context, channelID int64, t time.Time) (int, error)
	BumpErrorCount(ctx context.Context, itemID int64) (int, error)
	// ResetErrorCount clears an item's consecutive-failure counter
	// without touching its watermark.
	ResetErrorCount(ctx context.Context, itemID int64) error
	SetItemActive(ctx context.Context, itemID int64, active bool) error
	SetUnreachable(ctx context.Context, channelID int64, unreachable bool) error

	Close() error
}
