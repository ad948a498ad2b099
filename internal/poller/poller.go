// Package poller drives the polling cadence: it owns the cycle timer,
// builds the per-cycle cache, and walks every channel and item through
// resolution and delivery.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"nexus_bot/internal/cache"
	"nexus_bot/internal/delivery"
	"nexus_bot/internal/model"
	"nexus_bot/internal/nexus"
	"nexus_bot/internal/resolver"
	"nexus_bot/internal/storage"
)

// An item that fails this many consecutive cycles is deactivated until
// it is re-tracked.
const maxConsecutiveErrors = 10

// forceRequest asks the loop for an immediate cycle, optionally
// backdating one channel first.
type forceRequest struct {
	backdate *backdate
	done     chan forceResult
}

type backdate struct {
	guildID   string
	channelID string
	since     time.Time
}

type forceResult struct {
	touched int
	err     error
}

// Poller orchestrates polling cycles.
type Poller struct {
	store    storage.Storage
	upstream resolver.Upstream
	resolver *resolver.Resolver
	pipeline *delivery.Pipeline
	log      *slog.Logger
	interval time.Duration
	force    chan forceRequest
}

// New creates a Poller. upstream must satisfy both the resolver's and
// the cache's query needs, which *nexus.Client does.
func New(store storage.Storage, upstream resolver.Upstream, pipeline *delivery.Pipeline, interval time.Duration, log *slog.Logger) *Poller {
	return &Poller{
		store:    store,
		upstream: upstream,
		resolver: resolver.New(upstream),
		pipeline: pipeline,
		log:      log,
		interval: interval,
		force:    make(chan forceRequest),
	}
}

// SetPipeline wires in the delivery pipeline. The pipeline depends on
// the Discord session, which is only opened after the poller exists, so
// it is attached here; must be called before Run.
func (p *Poller) SetPipeline(pipeline *delivery.Pipeline) {
	p.pipeline = pipeline
}

// Run starts the polling loop, blocking until ctx is cancelled. The
// first cycle runs immediately. A failed cycle never stops the loop; the
// next tick retries from scratch. A forced cycle resets the timer, so
// the next scheduled cycle is a full interval after the forced one.
func (p *Poller) Run(ctx context.Context) {
	p.runCycle(ctx)

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			p.runCycle(ctx)
			timer.Reset(p.interval)
		case req := <-p.force:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			req.done <- p.runForced(ctx, req.backdate)
			timer.Reset(p.interval)
		}
	}
}

// ForceCycle cancels the pending tick and runs one cycle immediately.
func (p *Poller) ForceCycle(ctx context.Context) error {
	res, err := p.submit(ctx, nil)
	if err != nil {
		return err
	}
	return res.err
}

// ForceChannelSince backdates every item of one channel to since and
// then runs an immediate cycle, redelivering everything after that
// instant. It returns the number of items backdated and the first error
// the forced cycle hit, if any.
func (p *Poller) ForceChannelSince(ctx context.Context, guildID, channelID string, since time.Time) (int, error) {
	res, err := p.submit(ctx, &backdate{guildID: guildID, channelID: channelID, since: since})
	if err != nil {
		return 0, err
	}
	return res.touched, res.err
}

func (p *Poller) submit(ctx context.Context, bd *backdate) (forceResult, error) {
	req := forceRequest{backdate: bd, done: make(chan forceResult, 1)}
	select {
	case p.force <- req:
	case <-ctx.Done():
		return forceResult{}, ctx.Err()
	}
	select {
	case res := <-req.done:
		return res, nil
	case <-ctx.Done():
		return forceResult{}, ctx.Err()
	}
}

func (p *Poller) runForced(ctx context.Context, bd *backdate) forceResult {
	var res forceResult
	if bd != nil {
		ch, err := p.store.GetChannel(ctx, bd.guildID, bd.channelID)
		if err != nil {
			return forceResult{err: err}
		}
		res.touched, err = p.store.BackdateChannel(ctx, ch.ID, bd.since)
		if err != nil {
			return forceResult{err: err}
		}
	}
	res.err = p.runCycle(ctx)
	return res
}

// runCycle executes one poll-resolve-deliver pass. Per-item failures are
// contained; the returned error is the first failure, kept for forced
// cycles to report.
func (p *Poller) runCycle(ctx context.Context) error {
	started := time.Now()
	channels, err := p.store.ListChannels(ctx)
	if err != nil {
		p.log.Error("reload channels", "error", err)
		return err
	}

	// One cache per cycle: prepared before resolution, dropped with
	// the cycle.
	cyc := cache.New(p.upstream)
	if err := cyc.Prepare(ctx, p.collectItems(ctx, channels)); err != nil {
		// Failed groups fall back to per-item direct queries.
		p.log.Warn("cache preparation incomplete", "error", err)
	}

	var firstErr error
	for i := range channels {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.processChannel(ctx, &channels[i], cyc); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	p.log.Info("cycle complete", "channels", len(channels), "took", time.Since(started))
	return firstErr
}

// collectItems gathers every active item of every reachable channel for
// cache preparation.
func (p *Poller) collectItems(ctx context.Context, channels []model.Channel) []model.Item {
	var all []model.Item
	for _, ch := range channels {
		if ch.Unreachable {
			continue
		}
		items, err := p.store.ListItems(ctx, ch.ID)
		if err != nil {
			p.log.Error("list items", "channel_id", ch.ID, "error", err)
			continue
		}
		all = append(all, items...)
	}
	return all
}

func (p *Poller) processChannel(ctx context.Context, ch *model.Channel, cyc *cache.Cache) error {
	if ch.Unreachable {
		p.log.Debug("skipping unreachable channel", "guild_id", ch.GuildID, "channel_id", ch.ChannelID)
		return nil
	}

	items, err := p.store.ListItems(ctx, ch.ID)
	if err != nil {
		p.log.Error("list items", "channel_id", ch.ID, "error", err)
		return err
	}

	var firstErr error
	for i := range items {
		it := &items[i]
		if !it.IsActive {
			continue
		}
		if err := p.processItem(ctx, ch, it, cyc); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			// A dead webhook fails every remaining item the same way.
			if ch.Unreachable {
				break
			}
		}
	}
	return firstErr
}

func (p *Poller) processItem(ctx context.Context, ch *model.Channel, it *model.Item, cyc *cache.Cache) error {
	updates, rerr := p.resolver.Resolve(ctx, ch, it, cyc)
	if rerr != nil {
		p.log.Error("resolve item",
			"item_id", it.ID, "type", string(it.Type), "entity", it.Entity, "error", rerr)
	}

	derr := p.pipeline.Deliver(ctx, ch, it, updates)
	if derr != nil {
		p.log.Error("deliver updates",
			"item_id", it.ID, "channel_id", ch.ChannelID, "count", len(updates), "error", derr)
		if errors.Is(derr, delivery.ErrUnreachable) {
			ch.Unreachable = true
		}
	}

	if rerr == nil && derr == nil {
		if len(updates) > 0 {
			p.log.Info("delivered updates",
				"item_id", it.ID, "entity", it.Entity, "count", len(updates))
		}
		// A delivery already clears the counter through the watermark
		// write; a clean but quiet cycle clears it here so stale
		// failures never count toward deactivation.
		if it.ErrorCount > 0 {
			if err := p.store.ResetErrorCount(ctx, it.ID); err != nil {
				p.log.Error("reset error count", "item_id", it.ID, "error", err)
			} else {
				it.ErrorCount = 0
			}
		}
		return nil
	}

	// Only structural failures count toward deactivation. Transient
	// upstream or destination errors heal on their own next cycle, and
	// an unreachable channel is the channel's fault, not the item's.
	structural := (rerr != nil && !nexus.IsTransient(rerr)) ||
		(derr != nil && !errors.Is(derr, delivery.ErrUnreachable) && !delivery.Transient(derr))
	if structural {
		p.recordFailure(ctx, it)
	}
	if derr != nil {
		return derr
	}
	return rerr
}

// recordFailure bumps the item's consecutive-failure counter and
// deactivates it once the threshold is reached.
func (p *Poller) recordFailure(ctx context.Context, it *model.Item) {
	count, err := p.store.BumpErrorCount(ctx, it.ID)
	if err != nil {
		p.log.Error("bump error count", "item_id", it.ID, "error", err)
		return
	}
	if count >= maxConsecutiveErrors {
		p.log.Warn("deactivating item after repeated failures",
			"item_id", it.ID, "entity", it.Entity, "failures", count)
		if err := p.store.SetItemActive(ctx, it.ID, false); err != nil {
			p.log.Error("deactivate item", "item_id", it.ID, "error", err)
		}
	}
}
