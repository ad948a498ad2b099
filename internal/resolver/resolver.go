// Package resolver turns one subscribed item into its list of unseen,
// render-ready updates.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"nexus_bot/internal/cache"
	"nexus_bot/internal/model"
	"nexus_bot/internal/nexus"
)

// Kind labels what change an update describes.
type Kind string

// Update kinds.
const (
	KindNewMod         Kind = "new_mod"
	KindUpdatedMod     Kind = "updated_mod"
	KindNewRevision    Kind = "new_revision"
	KindAuthorActivity Kind = "author_activity"
)

// Update is one postable change: ephemeral, produced by Resolve and
// consumed by the delivery pipeline within the same cycle.
type Update struct {
	Kind       Kind
	OccurredAt time.Time
	Embed      *discordgo.MessageEmbed
	// Plain is the degraded text representation used when the rich
	// payload is rejected.
	Plain string
}

// Upstream is the slice of the Nexus client the resolver needs for
// cache-miss fallbacks and enrichment.
type Upstream interface {
	NewMods(ctx context.Context, domain string, since time.Time) ([]nexus.Mod, error)
	UpdatedMods(ctx context.Context, domain string, since time.Time) ([]nexus.Mod, error)
	UserMods(ctx context.Context, uploaderID string, since time.Time) ([]nexus.Mod, error)
	Mod(ctx context.Context, domain, modID string) (*nexus.Mod, error)
	ModFiles(ctx context.Context, domain, modID string) ([]nexus.ModFile, error)
	CollectionByID(ctx context.Context, id string) (*nexus.Collection, error)
}

// Resolver computes unseen updates for items.
type Resolver struct {
	upstream Upstream
}

// New creates a Resolver over the given upstream.
func New(upstream Upstream) *Resolver {
	return &Resolver{upstream: upstream}
}

// Resolve produces the item's unseen updates, sorted ascending by
// occurrence time. A failure in one category does not abort the others:
// partial results are returned together with the joined error.
func (r *Resolver) Resolve(ctx context.Context, ch *model.Channel, it *model.Item, cyc *cache.Cache) ([]Update, error) {
	var (
		updates []Update
		errs    []error
	)

	switch it.Type {
	case model.TypeGame:
		if it.Game.ShowNew {
			ups, err := r.gameCategory(ctx, ch, it, cyc, cache.NewMods)
			updates = append(updates, ups...)
			if err != nil {
				errs = append(errs, fmt.Errorf("new mods for %s: %w", it.Entity, err))
			}
		}
		if it.Game.ShowUpdates {
			ups, err := r.gameCategory(ctx, ch, it, cyc, cache.UpdatedMods)
			updates = append(updates, ups...)
			if err != nil {
				errs = append(errs, fmt.Errorf("updated mods for %s: %w", it.Entity, err))
			}
		}
	case model.TypeMod:
		ups, err := r.modItem(ctx, ch, it, cyc)
		updates = append(updates, ups...)
		if err != nil {
			errs = append(errs, err)
		}
	case model.TypeCollection:
		ups, err := r.collectionItem(ctx, ch, it)
		updates = append(updates, ups...)
		if err != nil {
			errs = append(errs, err)
		}
	case model.TypeUser:
		ups, err := r.userItem(ctx, ch, it, cyc)
		updates = append(updates, ups...)
		if err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("unknown item type %q", it.Type))
	}

	sort.SliceStable(updates, func(i, j int) bool {
		return updates[i].OccurredAt.Before(updates[j].OccurredAt)
	})
	return updates, errors.Join(errs...)
}

// gameCategory resolves one batched category of a game item: cache hit
// filtered to the item's own watermark, or a direct scoped query on miss.
func (r *Resolver) gameCategory(ctx context.Context, ch *model.Channel, it *model.Item, cyc *cache.Cache, cat cache.Category) ([]Update, error) {
	var (
		mods []nexus.Mod
		err  error
	)
	if cached, ok := cyc.Lookup(cat, it.Entity); ok {
		mods = cached
	} else {
		switch cat {
		case cache.NewMods:
			mods, err = r.upstream.NewMods(ctx, it.Entity, it.LastUpdate)
		case cache.UpdatedMods:
			mods, err = r.upstream.UpdatedMods(ctx, it.Entity, it.LastUpdate)
		}
		if err != nil {
			return nil, err
		}
	}

	var updates []Update
	for _, m := range mods {
		occurred := m.CreatedAt
		kind := KindNewMod
		if cat == cache.UpdatedMods {
			occurred = m.UpdatedAt
			kind = KindUpdatedMod
		}
		if !occurred.After(it.LastUpdate) {
			continue
		}
		if !contentAllowed(m.Adult, ch, it) {
			continue
		}

		var files []nexus.ModFile
		if kind == KindUpdatedMod {
			files, err = r.files(ctx, cyc, m.GameDomain, fmt.Sprint(m.ModID))
			if err != nil {
				return updates, err
			}
		}
		updates = append(updates, renderMod(kind, &m, latestFile(files), occurred, it.Compact))
	}
	return updates, nil
}

// modItem resolves a single-mod subscription. The entity is
// "domain/modID" since the per-resource lookup addresses mods by path.
func (r *Resolver) modItem(ctx context.Context, ch *model.Channel, it *model.Item, cyc *cache.Cache) ([]Update, error) {
	domain, modID, ok := strings.Cut(it.Entity, "/")
	if !ok {
		return nil, fmt.Errorf("malformed mod entity %q", it.Entity)
	}
	m, err := r.upstream.Mod(ctx, domain, modID)
	if err != nil {
		return nil, fmt.Errorf("mod %s: %w", it.Entity, err)
	}
	if !m.UpdatedAt.After(it.LastUpdate) {
		return nil, nil
	}
	if !contentAllowed(m.Adult, ch, it) {
		return nil, nil
	}
	files, err := r.files(ctx, cyc, domain, modID)
	if err != nil {
		return nil, fmt.Errorf("mod %s: %w", it.Entity, err)
	}
	return []Update{renderMod(KindUpdatedMod, m, latestFile(files), m.UpdatedAt, it.Compact)}, nil
}

func (r *Resolver) collectionItem(ctx context.Context, ch *model.Channel, it *model.Item) ([]Update, error) {
	col, err := r.upstream.CollectionByID(ctx, it.Entity)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", it.Entity, err)
	}
	if col == nil {
		return nil, fmt.Errorf("collection %s: not found", it.Entity)
	}
	if !col.UpdatedAt.After(it.LastUpdate) {
		return nil, nil
	}
	if !contentAllowed(col.Adult, ch, it) {
		return nil, nil
	}
	return []Update{renderCollection(col, it.Compact)}, nil
}

func (r *Resolver) userItem(ctx context.Context, ch *model.Channel, it *model.Item, cyc *cache.Cache) ([]Update, error) {
	mods, err := r.upstream.UserMods(ctx, it.Entity, it.LastUpdate)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", it.Entity, err)
	}
	var updates []Update
	for _, m := range mods {
		if !m.UpdatedAt.After(it.LastUpdate) {
			continue
		}
		if !contentAllowed(m.Adult, ch, it) {
			continue
		}
		updates = append(updates, renderMod(KindAuthorActivity, &m, nil, m.UpdatedAt, it.Compact))
	}
	return updates, nil
}

// files fetches a mod's file list through the cycle memo so several
// items needing the same mod's details share one upstream call.
func (r *Resolver) files(ctx context.Context, cyc *cache.Cache, domain, modID string) ([]nexus.ModFile, error) {
	if files, ok := cyc.Files(domain, modID); ok {
		return files, nil
	}
	files, err := r.upstream.ModFiles(ctx, domain, modID)
	if err != nil {
		return nil, err
	}
	cyc.PutFiles(domain, modID, files)
	return files, nil
}

// contentAllowed applies the two independent content-policy gates: adult
// entries need the adult gate open, non-adult entries the non-adult one.
func contentAllowed(adult bool, ch *model.Channel, it *model.Item) bool {
	if adult {
		return it.AdultAllowed(ch)
	}
	return it.SFWAllowed()
}

func latestFile(files []nexus.ModFile) *nexus.ModFile {
	var latest *nexus.ModFile
	for i := range files {
		if latest == nil || files[i].UploadedAt.After(latest.UploadedAt) {
			latest = &files[i]
		}
	}
	return latest
}
