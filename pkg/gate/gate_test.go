package gate

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/capylabs/capybot/pkg/platform"
)

func testOptions() Options {
	return Options{
		Keywords:            []string{"capybot"},
		OverhearProbability: 0.02,
		MinOverhearLength:   12,
		HotWindow:           10 * time.Second,
		ReactionWindow:      2 * time.Second,
		RecentWindow:        5,
	}
}

func staticRecent(messages []platform.Message) RecentMessagesFunc {
	return func(ctx context.Context, channelID string, limit int) ([]platform.Message, error) {
		return messages, nil
	}
}

func newTestEngine(store *StateStore, recent RecentMessagesFunc) *Engine {
	e := NewEngine(store, testOptions(), "bot", recent)
	e.randHit = func(probability float64) bool { return false }
	return e
}

func msg(id, channel, author, content string) platform.Message {
	return platform.Message{
		ID: id, ChannelID: channel,
		Author:  platform.User{ID: author, Username: author},
		Content: content,
	}
}

func TestDecide_ExplicitPingBeatsEverything(t *testing.T) {
	store := NewStateStore()
	e := newTestEngine(store, staticRecent(nil))

	// Even a busy channel yields to an explicit address.
	if !store.BeginGeneration("ch1") {
		t.Fatalf("BeginGeneration failed")
	}
	d := e.Decide(context.Background(), msg("m1", "ch1", "alice", "hey"), true)
	if !d.Process || d.Reason != ReasonExplicitPing {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestDecide_KeywordTriggerCaseInsensitive(t *testing.T) {
	e := newTestEngine(NewStateStore(), staticRecent(nil))
	d := e.Decide(context.Background(), msg("m1", "ch1", "alice", "hey CapyBot, what's up"), false)
	if !d.Process || d.Reason != ReasonKeywordTrigger {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestDecide_ColdChannelWhenNeverEngaged(t *testing.T) {
	e := newTestEngine(NewStateStore(), staticRecent(nil))
	d := e.Decide(context.Background(), msg("m1", "ch1", "alice", "lol"), false)
	if d.Process || d.Reason != ReasonColdChannel {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestDecide_BusyGenerating(t *testing.T) {
	store := NewStateStore()
	e := newTestEngine(store, staticRecent(nil))
	store.BeginGeneration("ch1")

	d := e.Decide(context.Background(), msg("m1", "ch1", "alice", "another message"), false)
	if d.Process || d.Reason != ReasonBusyGenerating {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestDecide_HotWindowBranches(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	withOwnMessage := staticRecent([]platform.Message{
		{ID: "r1", Author: platform.User{ID: "bot"}},
		{ID: "r2", Author: platform.User{ID: "alice"}},
	})

	setup := func(recent RecentMessagesFunc, elapsed time.Duration) *Engine {
		store := NewStateStore()
		store.MarkEngaged("ch1", "alice", now.Add(-elapsed))
		e := newTestEngine(store, recent)
		e.now = func() time.Time { return now }
		return e
	}

	// Last addressed user follows up within the hot window.
	d := setup(withOwnMessage, 3*time.Second).Decide(context.Background(), msg("m1", "ch1", "alice", "and then?"), false)
	if !d.Process || d.Reason != ReasonDirectFollowup {
		t.Fatalf("follow-up: %+v", d)
	}

	// Someone else chimes in within the reaction window.
	d = setup(withOwnMessage, time.Second).Decide(context.Background(), msg("m1", "ch1", "bob", "haha nice"), false)
	if !d.Process || d.Reason != ReasonQuickReaction {
		t.Fatalf("quick reaction: %+v", d)
	}

	// Someone else, but past the reaction window.
	d = setup(withOwnMessage, 3*time.Second).Decide(context.Background(), msg("m1", "ch1", "bob", "anyway"), false)
	if d.Process || d.Reason != ReasonInterruption {
		t.Fatalf("interruption: %+v", d)
	}

	// Bot's own output has scrolled out of the recent window.
	withoutOwn := staticRecent([]platform.Message{
		{ID: "r1", Author: platform.User{ID: "alice"}},
		{ID: "r2", Author: platform.User{ID: "bob"}},
	})
	d = setup(withoutOwn, 3*time.Second).Decide(context.Background(), msg("m1", "ch1", "alice", "and then?"), false)
	if d.Process || d.Reason != ReasonColdChannelDistance {
		t.Fatalf("distance: %+v", d)
	}

	// Past the hot window entirely.
	d = setup(withOwnMessage, time.Minute).Decide(context.Background(), msg("m1", "ch1", "alice", "still there?"), false)
	if d.Process || d.Reason != ReasonColdChannel {
		t.Fatalf("expired window: %+v", d)
	}
}

func TestDecide_RecentFetchFailureCountsAsAbsent(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	store := NewStateStore()
	store.MarkEngaged("ch1", "alice", now.Add(-3*time.Second))

	failing := func(ctx context.Context, channelID string, limit int) ([]platform.Message, error) {
		return nil, errors.New("rate limited")
	}
	e := newTestEngine(store, failing)
	e.now = func() time.Time { return now }

	d := e.Decide(context.Background(), msg("m1", "ch1", "alice", "hello?"), false)
	if d.Process || d.Reason != ReasonColdChannelDistance {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestDecide_RecentWindowExcludesCurrentMessage(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	store := NewStateStore()
	store.MarkEngaged("ch1", "alice", now.Add(-3*time.Second))

	// The bot's message is 6th once the current message is excluded, so a
	// window of 5 still sees it.
	recent := staticRecent([]platform.Message{
		{ID: "m1", Author: platform.User{ID: "alice"}},
		{ID: "r1", Author: platform.User{ID: "alice"}},
		{ID: "r2", Author: platform.User{ID: "bob"}},
		{ID: "r3", Author: platform.User{ID: "alice"}},
		{ID: "r4", Author: platform.User{ID: "bob"}},
		{ID: "r5", Author: platform.User{ID: "bot"}},
	})
	e := newTestEngine(store, recent)
	e.now = func() time.Time { return now }

	d := e.Decide(context.Background(), msg("m1", "ch1", "alice", "so?"), false)
	if !d.Process || d.Reason != ReasonDirectFollowup {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestDecide_RandomOverhearConvergence(t *testing.T) {
	e := NewEngine(NewStateStore(), testOptions(), "bot", staticRecent(nil))
	rng := rand.New(rand.NewSource(42))
	e.randHit = func(probability float64) bool { return rng.Float64() < probability }

	const samples = 20000
	hits := 0
	for i := 0; i < samples; i++ {
		d := e.Decide(context.Background(), msg("m1", "ch1", "alice", "a sufficiently long unrelated message"), false)
		if d.Process {
			if d.Reason != ReasonRandomOverhear {
				t.Fatalf("unexpected reason: %s", d.Reason)
			}
			hits++
		}
	}

	rate := float64(hits) / samples
	if rate < 0.015 || rate > 0.025 {
		t.Fatalf("overhear rate %f outside tolerance of 0.02", rate)
	}
}

func TestDecide_ShortMessagesNeverOverheard(t *testing.T) {
	e := NewEngine(NewStateStore(), testOptions(), "bot", staticRecent(nil))
	e.randHit = func(probability float64) bool { return true }

	d := e.Decide(context.Background(), msg("m1", "ch1", "alice", "lol"), false)
	if d.Process {
		t.Fatalf("short message overheard: %+v", d)
	}
}

func TestBeginGeneration_SingleSlot(t *testing.T) {
	store := NewStateStore()
	if !store.BeginGeneration("ch1") {
		t.Fatalf("first claim failed")
	}
	if store.BeginGeneration("ch1") {
		t.Fatalf("second claim succeeded while slot held")
	}
	// A different channel is unaffected.
	if !store.BeginGeneration("ch2") {
		t.Fatalf("other channel blocked")
	}
	store.EndGeneration("ch1")
	if !store.BeginGeneration("ch1") {
		t.Fatalf("claim after release failed")
	}
}
