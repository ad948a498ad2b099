package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"nexus_bot/internal/model"
	"nexus_bot/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateChannel inserts a new channel and populates its ID and CreatedAt.
func (s *SQLite) CreateChannel(ctx context.Context, ch *model.Channel) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO channels (guild_id, channel_id, webhook_id, webhook_token, nsfw, unreachable, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ch.GuildID, ch.ChannelID, ch.WebhookID, ch.WebhookToken,
		boolToInt(ch.NSFW), boolToInt(ch.Unreachable), now,
	)
	if err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	ch.ID = id
	ch.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetChannel returns the channel for a (guild, channel) pair.
func (s *SQLite) GetChannel(ctx context.Context, guildID, channelID string) (*model.Channel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, guild_id, channel_id, webhook_id, webhook_token, nsfw, unreachable, created_at
		 FROM channels WHERE guild_id = ? AND channel_id = ?`, guildID, channelID,
	)
	ch, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ch, err
}

// ListChannels returns every subscribed channel.
func (s *SQLite) ListChannels(ctx context.Context) ([]model.Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, guild_id, channel_id, webhook_id, webhook_token, nsfw, unreachable, created_at
		 FROM channels ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var channels []model.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, *ch)
	}
	return channels, rows.Err()
}

// UpdateChannel persists changes to an existing channel.
func (s *SQLite) UpdateChannel(ctx context.Context, ch *model.Channel) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE channels SET webhook_id = ?, webhook_token = ?, nsfw = ?, unreachable = ?
		 WHERE id = ?`,
		ch.WebhookID, ch.WebhookToken, boolToInt(ch.NSFW), boolToInt(ch.Unreachable), ch.ID,
	)
	if err != nil {
		return fmt.Errorf("update channel: %w", err)
	}
	return nil
}

// DeleteChannel removes a channel and all items it owns.
func (s *SQLite) DeleteChannel(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE channel_id = ?`, id); err != nil {
		return fmt.Errorf("delete items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	return tx.Commit()
}

// CreateItem inserts a new item and populates its ID and CreatedAt.
// An existing (channel, type, entity) row is replaced, which doubles as
// re-tracking an item that was deactivated.
func (s *SQLite) CreateItem(ctx context.Context, it *model.Item) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO items
		 (channel_id, type, entity, compact, crosspost, message, show_adult, show_sfw,
		  show_new, show_updates, last_update, error_count, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ChannelID, string(it.Type), it.Entity,
		boolToInt(it.Compact), boolToInt(it.Crosspost), it.Message,
		nullableBool(it.ShowAdult), nullableBool(it.ShowSFW),
		boolToInt(it.Game.ShowNew), boolToInt(it.Game.ShowUpdates),
		it.LastUpdate.UTC().Format(timeLayout), it.ErrorCount, boolToInt(it.IsActive), now,
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	it.ID = id
	it.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetItem returns a single item by its ID.
func (s *SQLite) GetItem(ctx context.Context, id int64) (*model.Item, error) {
	row := s.db.QueryRowContext(ctx, itemSelect+` WHERE id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return it, err
}

// ListItems returns all items belonging to the given channel.
func (s *SQLite) ListItems(ctx context.Context, channelID int64) ([]model.Item, error) {
	rows, err := s.db.QueryContext(ctx, itemSelect+` WHERE channel_id = ? ORDER BY id`, channelID)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// DeleteItem removes an item by its ID.
func (s *SQLite) DeleteItem(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// SetWatermark advances an item's last_update and clears its error count.
// The watermark never regresses: a timestamp at or before the current
// value leaves the column unchanged.
func (s *SQLite) SetWatermark(ctx context.Context, itemID int64, t time.Time) error {
	v := t.UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`UPDATE items SET last_update = MAX(last_update, ?), error_count = 0 WHERE id = ?`,
		v, itemID,
	)
	if err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	return nil
}

// BackdateChannel sets last_update for every item of a channel. Unlike
// SetWatermark this may move items backwards; it exists for the forced
// "redeliver everything since T" administrative path.
func (s *SQLite) BackdateChannel(ctx context.Context, channelID int64, t time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET last_update = ?, error_count = 0 WHERE channel_id = ?`,
		t.UTC().Format(timeLayout), channelID,
	)
	if err != nil {
		return 0, fmt.Errorf("backdate channel: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// BumpErrorCount increments an item's consecutive-failure counter and
// returns the new value.
func (s *SQLite) BumpErrorCount(ctx context.Context, itemID int64) (int, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE items SET error_count = error_count + 1 WHERE id = ?`, itemID,
	)
	if err != nil {
		return 0, fmt.Errorf("bump error count: %w", err)
	}
	var count int
	err = s.db.QueryRowContext(ctx, `SELECT error_count FROM items WHERE id = ?`, itemID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("read error count: %w", err)
	}
	return count, nil
}

// ResetErrorCount clears an item's consecutive-failure counter.
func (s *SQLite) ResetErrorCount(ctx context.Context, itemID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE items SET error_count = 0 WHERE id = ?`, itemID,
	)
	if err != nil {
		return fmt.Errorf("reset error count: %w", err)
	}
	return nil
}

// SetItemActive toggles whether the poller considers an item.
func (s *SQLite) SetItemActive(ctx context.Context, itemID int64, active bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE items SET is_active = ? WHERE id = ?`, boolToInt(active), itemID,
	)
	if err != nil {
		return fmt.Errorf("set item active: %w", err)
	}
	return nil
}

// SetUnreachable flags or clears a channel's unreachable marker.
func (s *SQLite) SetUnreachable(ctx context.Context, channelID int64, unreachable bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE channels SET unreachable = ? WHERE id = ?`, boolToInt(unreachable), channelID,
	)
	if err != nil {
		return fmt.Errorf("set unreachable: %w", err)
	}
	return nil
}

const itemSelect = `SELECT id, channel_id, type, entity, compact, crosspost, message,
	show_adult, show_sfw, show_new, show_updates, last_update, error_count, is_active, created_at
	FROM items`

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableBool(b *bool) any {
	if b == nil {
		return nil
	}
	return boolToInt(*b)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanChannel(row scannable) (*model.Channel, error) {
	var ch model.Channel
	var nsfw, unreachable int
	var created sql.NullString
	err := row.Scan(&ch.ID, &ch.GuildID, &ch.ChannelID, &ch.WebhookID, &ch.WebhookToken,
		&nsfw, &unreachable, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan channel: %w", err)
	}
	ch.NSFW = nsfw == 1
	ch.Unreachable = unreachable == 1
	if created.Valid {
		ch.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &ch, nil
}

func scanItem(row scannable) (*model.Item, error) {
	var it model.Item
	var typ string
	var compact, crosspost, showNew, showUpdates, isActive int
	var message sql.NullString
	var showAdult, showSFW sql.NullInt64
	var lastUpdate, created sql.NullString
	err := row.Scan(&it.ID, &it.ChannelID, &typ, &it.Entity, &compact, &crosspost, &message,
		&showAdult, &showSFW, &showNew, &showUpdates, &lastUpdate, &it.ErrorCount, &isActive, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan item: %w", err)
	}
	it.Type = model.ItemType(typ)
	it.Compact = compact == 1
	it.Crosspost = crosspost == 1
	it.Game.ShowNew = showNew == 1
	it.Game.ShowUpdates = showUpdates == 1
	it.IsActive = isActive == 1
	if message.Valid {
		it.Message = &message.String
	}
	if showAdult.Valid {
		v := showAdult.Int64 == 1
		it.ShowAdult = &v
	}
	if showSFW.Valid {
		v := showSFW.Int64 == 1
		it.ShowSFW = &v
	}
	if lastUpdate.Valid {
		it.LastUpdate, _ = time.Parse(timeLayout, lastUpdate.String)
	}
	if created.Valid {
		it.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &it, nil
}
