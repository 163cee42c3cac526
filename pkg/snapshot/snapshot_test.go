package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/capylabs/capybot/pkg/audit"
	"github.com/capylabs/capybot/pkg/platform"
)

type fakeClient struct {
	self       platform.User
	messages   map[string]platform.Message
	recent     []platform.Message
	recentErr  error
	channels   map[string]platform.ChannelInfo
	channelErr error
	guilds     map[string]platform.Guild
	roles      map[string]platform.Role
}

func (f *fakeClient) Self() platform.User { return f.self }

func (f *fakeClient) Message(ctx context.Context, channelID, messageID string) (*platform.Message, error) {
	if m, ok := f.messages[messageID]; ok {
		return &m, nil
	}
	return nil, errors.New("message not found")
}

func (f *fakeClient) RecentMessages(ctx context.Context, channelID string, limit int, beforeID string) ([]platform.Message, error) {
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	return f.recent, nil
}

func (f *fakeClient) Channel(ctx context.Context, channelID string) (*platform.ChannelInfo, error) {
	if f.channelErr != nil {
		return nil, f.channelErr
	}
	if c, ok := f.channels[channelID]; ok {
		return &c, nil
	}
	return nil, errors.New("channel not found")
}

func (f *fakeClient) Guild(ctx context.Context, guildID string) (*platform.Guild, error) {
	if g, ok := f.guilds[guildID]; ok {
		return &g, nil
	}
	return nil, errors.New("guild not found")
}

func (f *fakeClient) Role(ctx context.Context, guildID, roleID string) (*platform.Role, error) {
	if r, ok := f.roles[roleID]; ok {
		return &r, nil
	}
	return nil, errors.New("role not found")
}

func (f *fakeClient) User(ctx context.Context, userID string) (*platform.User, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) Send(ctx context.Context, channelID, content string) (*platform.Message, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) React(ctx context.Context, channelID, messageID, emoji string) error {
	return errors.New("not implemented")
}

type fakeStore struct {
	calls map[string][]audit.ToolCall
}

func (f *fakeStore) SaveCalls(messageID string, calls []audit.ToolCall) error { return nil }
func (f *fakeStore) Calls(messageID string) []audit.ToolCall                  { return f.calls[messageID] }
func (f *fakeStore) AppendPart(messageID string, part audit.ResponsePart) error {
	return nil
}
func (f *fakeStore) Parts(messageID string) []audit.ResponsePart { return nil }
func (f *fakeStore) Prune(retentionDays int) (int, error)        { return 0, nil }
func (f *fakeStore) Close() error                                { return nil }

func baseClient() *fakeClient {
	return &fakeClient{
		self:     platform.User{ID: "bot", Username: "capybot", Bot: true},
		messages: map[string]platform.Message{},
		channels: map[string]platform.ChannelInfo{
			"ch1": {ID: "ch1", GuildID: "g1", Name: "general", Topic: "chat"},
		},
		guilds: map[string]platform.Guild{
			"g1": {ID: "g1", Name: "Capy Server"},
		},
		roles: map[string]platform.Role{},
	}
}

func TestRegistry_FirstRegistrationWins(t *testing.T) {
	r := NewRegistry()
	if !r.Register(Entity{ID: "u1", Kind: KindUser, DisplayName: "Alice"}) {
		t.Fatalf("first registration rejected")
	}
	if r.Register(Entity{ID: "u1", Kind: KindUser, DisplayName: "Alice (rich)", IsBot: true}) {
		t.Fatalf("duplicate registration accepted")
	}
	all := r.All()
	if len(all) != 1 || all[0].DisplayName != "Alice" || all[0].IsBot {
		t.Fatalf("first-registered representation lost: %+v", all)
	}
}

func TestRegistry_InsertionOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(Entity{ID: "b", Kind: KindUser, DisplayName: "B"})
	r.Register(Entity{ID: "a", Kind: KindUser, DisplayName: "A"})
	all := r.All()
	if all[0].ID != "b" || all[1].ID != "a" {
		t.Fatalf("insertion order lost: %+v", all)
	}
}

func TestBuild_ChannelFetchFailureIsTotal(t *testing.T) {
	client := baseClient()
	client.channelErr = errors.New("api down")
	asm := NewAssembler(client, &fakeStore{}, 50)

	_, err := asm.Build(context.Background(), platform.Message{ID: "m1", ChannelID: "ch1"})
	var be *BuildError
	if !errors.As(err, &be) {
		t.Fatalf("expected BuildError, got %v", err)
	}
	if be.ChannelID != "ch1" {
		t.Fatalf("wrong channel in error: %s", be.ChannelID)
	}
}

func TestBuild_HistoryExcludesCurrentAndSystem(t *testing.T) {
	now := time.Now()
	alice := platform.User{ID: "u1", Username: "alice"}
	client := baseClient()
	client.recent = []platform.Message{
		{ID: "cur", ChannelID: "ch1", Author: alice, Content: "newest", Timestamp: now},
		{ID: "h2", ChannelID: "ch1", Author: alice, Content: "second", Timestamp: now.Add(-time.Minute)},
		{ID: "sys", ChannelID: "ch1", Author: alice, System: true, Timestamp: now.Add(-2 * time.Minute)},
		{ID: "h1", ChannelID: "ch1", Author: alice, Content: "first", Timestamp: now.Add(-3 * time.Minute)},
	}
	asm := NewAssembler(client, &fakeStore{calls: map[string][]audit.ToolCall{}}, 50)

	snap, err := asm.Build(context.Background(), platform.Message{
		ID: "cur", ChannelID: "ch1", GuildID: "g1", Author: alice, Content: "newest", Timestamp: now,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(snap.History) != 2 {
		t.Fatalf("expected 2 history messages, got %d", len(snap.History))
	}
	if snap.History[0].ID != "h1" || snap.History[1].ID != "h2" {
		t.Fatalf("history not oldest-first: %s, %s", snap.History[0].ID, snap.History[1].ID)
	}
	if snap.Current.ID != "cur" {
		t.Fatalf("current message lost: %+v", snap.Current)
	}
	if snap.Guild == nil || snap.Guild.Name != "Capy Server" {
		t.Fatalf("guild metadata missing: %+v", snap.Guild)
	}
}

func TestBuild_ResolvesOutOfWindowReference(t *testing.T) {
	alice := platform.User{ID: "u1", Username: "alice"}
	bob := platform.User{ID: "u2", Username: "bob"}
	client := baseClient()
	client.messages["old"] = platform.Message{
		ID: "old", ChannelID: "ch1", Author: bob, Content: "the original question",
	}
	asm := NewAssembler(client, &fakeStore{}, 50)

	snap, err := asm.Build(context.Background(), platform.Message{
		ID: "cur", ChannelID: "ch1", Author: alice, Content: "replying", ReferencedID: "old",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(snap.Referenced) != 1 || snap.Referenced[0].ID != "old" {
		t.Fatalf("referenced message not resolved: %+v", snap.Referenced)
	}

	// Bob only appears through the resolved reference.
	found := false
	for _, e := range snap.Entities {
		if e.ID == "u2" {
			found = true
		}
	}
	if !found {
		t.Fatalf("referenced author not folded into registry: %+v", snap.Entities)
	}
}

func TestBuild_UnresolvableReferenceIsOmitted(t *testing.T) {
	client := baseClient()
	asm := NewAssembler(client, &fakeStore{}, 50)

	snap, err := asm.Build(context.Background(), platform.Message{
		ID: "cur", ChannelID: "ch1",
		Author:       platform.User{ID: "u1", Username: "alice"},
		ReferencedID: "gone",
	})
	if err != nil {
		t.Fatalf("expected soft failure, got %v", err)
	}
	if len(snap.Referenced) != 0 {
		t.Fatalf("unresolvable reference should be omitted: %+v", snap.Referenced)
	}
}

func TestBuild_HistoryFetchFailureIsSoft(t *testing.T) {
	client := baseClient()
	client.recentErr = errors.New("rate limited")
	asm := NewAssembler(client, &fakeStore{}, 50)

	snap, err := asm.Build(context.Background(), platform.Message{
		ID: "cur", ChannelID: "ch1", Author: platform.User{ID: "u1", Username: "alice"},
	})
	if err != nil {
		t.Fatalf("history failure must not abort: %v", err)
	}
	if len(snap.History) != 0 {
		t.Fatalf("expected empty history, got %d", len(snap.History))
	}
}

func TestBuild_AnnotatesHistoryWithToolCalls(t *testing.T) {
	alice := platform.User{ID: "u1", Username: "alice"}
	client := baseClient()
	client.recent = []platform.Message{
		{ID: "h1", ChannelID: "ch1", Author: alice, Content: "earlier"},
	}
	store := &fakeStore{calls: map[string][]audit.ToolCall{
		"h1": {{ID: "c1", ToolName: "lookup_user"}},
	}}
	asm := NewAssembler(client, store, 50)

	snap, err := asm.Build(context.Background(), platform.Message{
		ID: "cur", ChannelID: "ch1", Author: alice,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(snap.History) != 1 || len(snap.History[0].ToolCalls) != 1 {
		t.Fatalf("history tool calls missing: %+v", snap.History)
	}
	if snap.History[0].ToolCalls[0].ToolName != "lookup_user" {
		t.Fatalf("wrong annotation: %+v", snap.History[0].ToolCalls[0])
	}
}

func TestBuild_AnnotatesCurrentMessageWithPriorToolCalls(t *testing.T) {
	alice := platform.User{ID: "u1", Username: "alice"}
	client := baseClient()
	store := &fakeStore{calls: map[string][]audit.ToolCall{
		"cur": {{ID: "c1", ToolName: "lookup_user"}},
	}}
	asm := NewAssembler(client, store, 50)

	snap, err := asm.Build(context.Background(), platform.Message{
		ID: "cur", ChannelID: "ch1", Author: alice, Content: "retry please",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(snap.Current.ToolCalls) != 1 || snap.Current.ToolCalls[0].ToolName != "lookup_user" {
		t.Fatalf("current message tool calls missing: %+v", snap.Current)
	}

	// The prior work must survive serialization so a retry sees it.
	markup := snap.Markup()
	if !strings.Contains(markup, `<tool_call name="lookup_user"`) {
		t.Fatalf("tool call not rendered in markup:\n%s", markup)
	}
}

func TestMarkup_EscapesAngleBrackets(t *testing.T) {
	snap := &Snapshot{
		Channel: platform.ChannelInfo{ID: "ch1", Name: "general"},
		Current: MessageView{
			ID: "m1", AuthorName: "alice",
			Content: "use <script>alert(1)</script> carefully",
		},
	}
	markup := snap.Markup()
	if strings.Contains(markup, "<script>") {
		t.Fatalf("content brackets leaked into markup:\n%s", markup)
	}
	if !strings.Contains(markup, "&lt;script&gt;") {
		t.Fatalf("expected escaped content, got:\n%s", markup)
	}
}

func TestJSON_RoundTripsContentUnchanged(t *testing.T) {
	content := `tricky <tags> and "quotes" and \backslashes\`
	snap := &Snapshot{
		Channel: platform.ChannelInfo{ID: "ch1", Name: "general"},
		Current: MessageView{ID: "m1", Content: content},
	}
	out, err := snap.JSON()
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	var decoded Snapshot
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Current.Content != content {
		t.Fatalf("content mangled: %q != %q", decoded.Current.Content, content)
	}
}
