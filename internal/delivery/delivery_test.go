package delivery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/go-cmp/cmp"

	"nexus_bot/internal/model"
	"nexus_bot/internal/resolver"
	"nexus_bot/internal/storage"
)

type executeCall struct {
	WebhookID string
	Token     string
	Params    *discordgo.WebhookParams
}

type mockSession struct {
	calls      []executeCall
	crossposts []string
	// errs are consumed one per call; nil means success.
	errs []error
}

func (m *mockSession) WebhookExecute(webhookID, token string, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.calls = append(m.calls, executeCall{WebhookID: webhookID, Token: token, Params: data})
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &discordgo.Message{ID: "msg-1"}, nil
}

func (m *mockSession) ChannelMessageCrosspost(channelID, messageID string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.crossposts = append(m.crossposts, channelID+"/"+messageID)
	return &discordgo.Message{ID: messageID}, nil
}

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixtures(t *testing.T) (*storage.SQLite, *model.Channel, *model.Item) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	ch := &model.Channel{
		GuildID: "g", ChannelID: "c", WebhookID: "wh", WebhookToken: "tok",
	}
	if err := store.CreateChannel(ctx, ch); err != nil {
		t.Fatalf("create channel: %v", err)
	}
	item := &model.Item{
		ChannelID: ch.ID, Type: model.TypeGame, Entity: "fallout4",
		Game: model.GameConfig{ShowNew: true}, LastUpdate: t0, IsActive: true,
	}
	if err := store.CreateItem(ctx, item); err != nil {
		t.Fatalf("create item: %v", err)
	}
	return store, ch, item
}

func update(at time.Time) resolver.Update {
	return resolver.Update{
		Kind:       resolver.KindNewMod,
		OccurredAt: at,
		Embed:      &discordgo.MessageEmbed{Title: "Mod"},
		Plain:      "Mod",
	}
}

func TestDeliverEmptyIsNoop(t *testing.T) {
	store, ch, item := newFixtures(t)
	session := &mockSession{}
	p := New(session, store, testLogger())

	if err := p.Deliver(context.Background(), ch, item, nil); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if diff := cmp.Diff(0, len(session.calls)); diff != "" {
		t.Errorf("expected no destination call (-want +got):\n%s", diff)
	}
	got, err := store.GetItem(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if diff := cmp.Diff(t0, got.LastUpdate); diff != "" {
		t.Errorf("watermark must be untouched (-want +got):\n%s", diff)
	}
}

func TestDeliverAdvancesWatermarkToLast(t *testing.T) {
	store, ch, item := newFixtures(t)
	session := &mockSession{}
	p := New(session, store, testLogger())

	updates := []resolver.Update{
		update(t0.Add(1 * time.Minute)),
		update(t0.Add(2 * time.Minute)),
		update(t0.Add(3 * time.Minute)),
	}
	if err := p.Deliver(context.Background(), ch, item, updates); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if diff := cmp.Diff(1, len(session.calls)); diff != "" {
		t.Fatalf("expected one webhook execute (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(3, len(session.calls[0].Params.Embeds)); diff != "" {
		t.Errorf("embed count mismatch (-want +got):\n%s", diff)
	}

	got, err := store.GetItem(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if diff := cmp.Diff(t0.Add(3*time.Minute), got.LastUpdate); diff != "" {
		t.Errorf("watermark mismatch (-want +got):\n%s", diff)
	}
}

func TestDeliverChunksLargeBatches(t *testing.T) {
	store, ch, item := newFixtures(t)
	session := &mockSession{}
	p := New(session, store, testLogger())

	var updates []resolver.Update
	for i := 1; i <= 23; i++ {
		updates = append(updates, update(t0.Add(time.Duration(i)*time.Minute)))
	}
	if err := p.Deliver(context.Background(), ch, item, updates); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if diff := cmp.Diff(3, len(session.calls)); diff != "" {
		t.Fatalf("expected 3 chunked executes (-want +got):\n%s", diff)
	}
	sizes := []int{
		len(session.calls[0].Params.Embeds),
		len(session.calls[1].Params.Embeds),
		len(session.calls[2].Params.Embeds),
	}
	if diff := cmp.Diff([]int{10, 10, 3}, sizes); diff != "" {
		t.Errorf("chunk sizes mismatch (-want +got):\n%s", diff)
	}
}

func TestDeliverTransientFailureKeepsWatermark(t *testing.T) {
	store, ch, item := newFixtures(t)
	session := &mockSession{errs: []error{errors.New("rate limited")}}
	p := New(session, store, testLogger())

	err := p.Deliver(context.Background(), ch, item, []resolver.Update{update(t0.Add(time.Minute))})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrUnreachable) {
		t.Error("transient failure must not be terminal")
	}

	got, gerr := store.GetItem(context.Background(), item.ID)
	if gerr != nil {
		t.Fatalf("get item: %v", gerr)
	}
	if diff := cmp.Diff(t0, got.LastUpdate); diff != "" {
		t.Errorf("watermark must not advance on failure (-want +got):\n%s", diff)
	}
}

func TestDeliverTerminalFlagsUnreachable(t *testing.T) {
	store, ch, item := newFixtures(t)
	restErr := &discordgo.RESTError{
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownWebhook},
		Response: &http.Response{StatusCode: 404},
	}
	session := &mockSession{errs: []error{restErr}}
	p := New(session, store, testLogger())

	err := p.Deliver(context.Background(), ch, item, []resolver.Update{update(t0.Add(time.Minute))})
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}

	// Watermark untouched, channel flagged.
	got, gerr := store.GetItem(context.Background(), item.ID)
	if gerr != nil {
		t.Fatalf("get item: %v", gerr)
	}
	if diff := cmp.Diff(t0, got.LastUpdate); diff != "" {
		t.Errorf("watermark mismatch (-want +got):\n%s", diff)
	}
	chGot, gerr := store.GetChannel(context.Background(), ch.GuildID, ch.ChannelID)
	if gerr != nil {
		t.Fatalf("get channel: %v", gerr)
	}
	if !chGot.Unreachable {
		t.Error("expected channel flagged unreachable")
	}
}

func TestDeliverFallsBackToPlainText(t *testing.T) {
	store, ch, item := newFixtures(t)
	restErr := &discordgo.RESTError{
		Message:  &discordgo.APIErrorMessage{Code: 50035}, // invalid form body
		Response: &http.Response{StatusCode: 400},
	}
	session := &mockSession{errs: []error{restErr, nil}}
	p := New(session, store, testLogger())

	if err := p.Deliver(context.Background(), ch, item, []resolver.Update{update(t0.Add(time.Minute))}); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if diff := cmp.Diff(2, len(session.calls)); diff != "" {
		t.Fatalf("expected embed attempt then plain retry (-want +got):\n%s", diff)
	}
	fallback := session.calls[1].Params
	if len(fallback.Embeds) != 0 {
		t.Error("fallback must not carry embeds")
	}
	if fallback.Content == "" {
		t.Error("fallback must carry plain text")
	}

	got, err := store.GetItem(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if diff := cmp.Diff(t0.Add(time.Minute), got.LastUpdate); diff != "" {
		t.Errorf("watermark mismatch after fallback (-want +got):\n%s", diff)
	}
}

func TestDeliverMidBatchFailureKeepsDeliveredPrefix(t *testing.T) {
	store, ch, item := newFixtures(t)
	// First chunk lands, second fails.
	session := &mockSession{errs: []error{nil, errors.New("timeout")}}
	p := New(session, store, testLogger())

	var updates []resolver.Update
	for i := 1; i <= 15; i++ {
		updates = append(updates, update(t0.Add(time.Duration(i)*time.Minute)))
	}
	if err := p.Deliver(context.Background(), ch, item, updates); err == nil {
		t.Fatal("expected error from second chunk")
	}

	got, err := store.GetItem(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	// Watermark covers the delivered prefix only; the tail re-resolves
	// next cycle.
	if diff := cmp.Diff(t0.Add(10*time.Minute), got.LastUpdate); diff != "" {
		t.Errorf("watermark mismatch (-want +got):\n%s", diff)
	}
}

func TestDeliverCrosspost(t *testing.T) {
	store, ch, item := newFixtures(t)
	item.Crosspost = true
	session := &mockSession{}
	p := New(session, store, testLogger())

	if err := p.Deliver(context.Background(), ch, item, []resolver.Update{update(t0.Add(time.Minute))}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if diff := cmp.Diff([]string{"c/msg-1"}, session.crossposts); diff != "" {
		t.Errorf("crosspost mismatch (-want +got):\n%s", diff)
	}
}

func TestDeliverMessageOverride(t *testing.T) {
	store, ch, item := newFixtures(t)
	msg := "Heads up @Modders!"
	item.Message = &msg
	session := &mockSession{}
	p := New(session, store, testLogger())

	if err := p.Deliver(context.Background(), ch, item, []resolver.Update{update(t0.Add(time.Minute))}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if diff := cmp.Diff(msg, session.calls[0].Params.Content); diff != "" {
		t.Errorf("override content mismatch (-want +got):\n%s", diff)
	}
}
