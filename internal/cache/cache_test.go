package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"nexus_bot/internal/model"
	"nexus_bot/internal/nexus"
)

type queryCall struct {
	Category Category
	Domain   string
	Since    time.Time
}

type mockQuerier struct {
	mu    sync.Mutex
	calls []queryCall
	mods  map[string][]nexus.Mod
	fail  map[string]error
}

func (m *mockQuerier) record(cat Category, domain string, since time.Time) ([]nexus.Mod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, queryCall{Category: cat, Domain: domain, Since: since})
	key := string(cat) + "/" + domain
	if err, ok := m.fail[key]; ok {
		return nil, err
	}
	return m.mods[key], nil
}

func (m *mockQuerier) NewMods(_ context.Context, domain string, since time.Time) ([]nexus.Mod, error) {
	return m.record(NewMods, domain, since)
}

func (m *mockQuerier) UpdatedMods(_ context.Context, domain string, since time.Time) ([]nexus.Mod, error) {
	return m.record(UpdatedMods, domain, since)
}

func (m *mockQuerier) getCalls() []queryCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]queryCall, len(m.calls))
	copy(cp, m.calls)
	return cp
}

func gameItem(id int64, domain string, watermark time.Time) model.Item {
	return model.Item{
		ID: id, Type: model.TypeGame, Entity: domain,
		Game:       model.GameConfig{ShowNew: true, ShowUpdates: false},
		LastUpdate: watermark, IsActive: true,
	}
}

func TestPrepareBatchesSharedDomains(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	// Two items in different channels track the same domain with
	// different watermarks: one query, floored at the earliest.
	items := []model.Item{
		gameItem(1, "fallout4", t0),
		gameItem(2, "fallout4", t0.Add(-10*time.Minute)),
	}

	q := &mockQuerier{mods: map[string][]nexus.Mod{
		"new_mods/fallout4": {{ModID: 1, GameDomain: "fallout4"}},
	}}
	c := New(q)
	if err := c.Prepare(context.Background(), items); err != nil {
		t.Fatalf("prepare: %v", err)
	}

	calls := q.getCalls()
	want := []queryCall{{Category: NewMods, Domain: "fallout4", Since: t0.Add(-10 * time.Minute)}}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Errorf("call mismatch (-want +got):\n%s", diff)
	}

	mods, ok := c.Lookup(NewMods, "fallout4")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if diff := cmp.Diff(1, len(mods)); diff != "" {
		t.Errorf("cached mods mismatch (-want +got):\n%s", diff)
	}
}

func TestPrepareSplitsCategories(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []model.Item{
		{
			ID: 1, Type: model.TypeGame, Entity: "skyrimspecialedition",
			Game:       model.GameConfig{ShowNew: true, ShowUpdates: true},
			LastUpdate: t0, IsActive: true,
		},
	}

	q := &mockQuerier{}
	c := New(q)
	if err := c.Prepare(context.Background(), items); err != nil {
		t.Fatalf("prepare: %v", err)
	}

	calls := q.getCalls()
	if diff := cmp.Diff(2, len(calls)); diff != "" {
		t.Fatalf("expected one call per category (-want +got):\n%s", diff)
	}
	seen := map[Category]bool{}
	for _, call := range calls {
		seen[call.Category] = true
	}
	if !seen[NewMods] || !seen[UpdatedMods] {
		t.Errorf("expected both categories queried, got %v", calls)
	}
}

func TestPrepareSkipsNonGameAndInactive(t *testing.T) {
	t0 := time.Now().UTC()
	items := []model.Item{
		{ID: 1, Type: model.TypeMod, Entity: "fallout4/12", LastUpdate: t0, IsActive: true},
		{ID: 2, Type: model.TypeUser, Entity: "55", LastUpdate: t0, IsActive: true},
		func() model.Item {
			it := gameItem(3, "fallout4", t0)
			it.IsActive = false
			return it
		}(),
	}

	q := &mockQuerier{}
	c := New(q)
	if err := c.Prepare(context.Background(), items); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if diff := cmp.Diff(0, len(q.getCalls())); diff != "" {
		t.Errorf("expected no batched queries (-want +got):\n%s", diff)
	}
}

func TestPrepareFailedGroupIsReportedNotFatal(t *testing.T) {
	t0 := time.Now().UTC()
	items := []model.Item{
		gameItem(1, "fallout4", t0),
		gameItem(2, "skyrimspecialedition", t0),
	}

	boom := errors.New("upstream down")
	q := &mockQuerier{
		mods: map[string][]nexus.Mod{
			"new_mods/skyrimspecialedition": {{ModID: 9}},
		},
		fail: map[string]error{"new_mods/fallout4": boom},
	}
	c := New(q)

	err := c.Prepare(context.Background(), items)
	if !errors.Is(err, boom) {
		t.Errorf("expected group error to be reported, got %v", err)
	}

	// The healthy group is still cached; the failed one is a miss.
	if _, ok := c.Lookup(NewMods, "skyrimspecialedition"); !ok {
		t.Error("expected healthy group to be cached")
	}
	if _, ok := c.Lookup(NewMods, "fallout4"); ok {
		t.Error("expected failed group to be a cache miss")
	}
}

func TestLookupMiss(t *testing.T) {
	c := New(&mockQuerier{})
	if _, ok := c.Lookup(UpdatedMods, "nowhere"); ok {
		t.Error("expected miss on empty cache")
	}
}

func TestFilesMemo(t *testing.T) {
	c := New(&mockQuerier{})

	if _, ok := c.Files("fallout4", "12"); ok {
		t.Error("expected miss before put")
	}
	files := []nexus.ModFile{{FileID: 1, Version: "2.0"}}
	c.PutFiles("fallout4", "12", files)

	got, ok := c.Files("fallout4", "12")
	if !ok {
		t.Fatal("expected hit after put")
	}
	if diff := cmp.Diff(files, got); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
}

func TestPrepareManyGroups(t *testing.T) {
	// More groups than the fan-out limit still all land.
	t0 := time.Now().UTC()
	var items []model.Item
	for i := 0; i < 12; i++ {
		items = append(items, gameItem(int64(i), fmt.Sprintf("game%d", i), t0))
	}

	q := &mockQuerier{}
	c := New(q)
	if err := c.Prepare(context.Background(), items); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if diff := cmp.Diff(12, len(q.getCalls())); diff != "" {
		t.Errorf("call count mismatch (-want +got):\n%s", diff)
	}
	for i := 0; i < 12; i++ {
		if _, ok := c.Lookup(NewMods, fmt.Sprintf("game%d", i)); !ok {
			t.Errorf("expected group game%d cached", i)
		}
	}
}
