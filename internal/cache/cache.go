// Package cache implements the cycle-scoped query memo that collapses
// duplicate upstream queries when many subscriptions track the same game.
//
// A Cache is built fresh at the start of every polling cycle, prepared
// once, read during item resolution, and dropped with the cycle. After
// Prepare returns the cache is read-only, so lookups need no locking.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"nexus_bot/internal/model"
	"nexus_bot/internal/nexus"
)

// Category identifies which batched query a cached result set came from.
type Category string

// Batchable categories. Only game subscriptions batch; other item types
// always query directly.
const (
	NewMods     Category = "new_mods"
	UpdatedMods Category = "updated_mods"
)

// Querier is the subset of the upstream client the cache needs.
type Querier interface {
	NewMods(ctx context.Context, domain string, since time.Time) ([]nexus.Mod, error)
	UpdatedMods(ctx context.Context, domain string, since time.Time) ([]nexus.Mod, error)
}

type resultKey struct {
	category Category
	domain   string
}

// Cache memoizes upstream results for one polling cycle.
type Cache struct {
	upstream Querier

	mu      sync.Mutex
	results map[resultKey][]nexus.Mod
	files   map[string][]nexus.ModFile
}

// New creates an empty cache backed by the given upstream.
func New(upstream Querier) *Cache {
	return &Cache{
		upstream: upstream,
		results:  make(map[resultKey][]nexus.Mod),
		files:    make(map[string][]nexus.ModFile),
	}
}

// group is one batched query: a (category, domain) pair and the earliest
// watermark among the items that share it.
type group struct {
	key   resultKey
	since time.Time
}

// Prepare issues one upstream query per (category, game domain) group
// found in items, using the group's earliest watermark as the time floor
// so every member's unseen entries are included. Groups run concurrently;
// a failed group is skipped (its members fall back to direct queries)
// and reported in the joined error.
func (c *Cache) Prepare(ctx context.Context, items []model.Item) error {
	groups := collectGroups(items)
	if len(groups) == 0 {
		return nil
	}

	var (
		errMu sync.Mutex
		errs  []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, grp := range groups {
		grp := grp
		g.Go(func() error {
			var (
				mods []nexus.Mod
				err  error
			)
			switch grp.key.category {
			case NewMods:
				mods, err = c.upstream.NewMods(gctx, grp.key.domain, grp.since)
			case UpdatedMods:
				mods, err = c.upstream.UpdatedMods(gctx, grp.key.domain, grp.since)
			}
			if err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
				return nil
			}
			c.mu.Lock()
			c.results[grp.key] = mods
			c.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// collectGroups buckets active game items into batch groups, tracking
// the low-water mark of each.
func collectGroups(items []model.Item) []group {
	byKey := make(map[resultKey]time.Time)
	for _, it := range items {
		if it.Type != model.TypeGame || !it.IsActive {
			continue
		}
		if it.Game.ShowNew {
			mergeFloor(byKey, resultKey{NewMods, it.Entity}, it.LastUpdate)
		}
		if it.Game.ShowUpdates {
			mergeFloor(byKey, resultKey{UpdatedMods, it.Entity}, it.LastUpdate)
		}
	}
	groups := make([]group, 0, len(byKey))
	for k, since := range byKey {
		groups = append(groups, group{key: k, since: since})
	}
	return groups
}

func mergeFloor(byKey map[resultKey]time.Time, k resultKey, t time.Time) {
	if cur, ok := byKey[k]; !ok || t.Before(cur) {
		byKey[k] = t
	}
}

// Lookup returns the batched result set for a (category, domain) pair.
// A miss is expected, not an error: the caller falls back to a direct
// upstream query.
func (c *Cache) Lookup(category Category, domain string) ([]nexus.Mod, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mods, ok := c.results[resultKey{category, domain}]
	return mods, ok
}

// PutFiles memoizes a mod's file list for reuse by other items within
// the same cycle.
func (c *Cache) PutFiles(domain, modID string, files []nexus.ModFile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[domain+"/"+modID] = files
}

// Files returns a memoized file list, if any item already fetched it
// this cycle.
func (c *Cache) Files(domain, modID string) ([]nexus.ModFile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	files, ok := c.files[domain+"/"+modID]
	return files, ok
}
