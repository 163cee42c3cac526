package gate

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/capylabs/capybot/pkg/logger"
	"github.com/capylabs/capybot/pkg/platform"
)

// Engagement reasons, in the order the policy evaluates them.
const (
	ReasonExplicitPing        = "explicit_ping"
	ReasonKeywordTrigger      = "keyword_trigger"
	ReasonRandomOverhear      = "random_overhear"
	ReasonBusyGenerating      = "busy_generating"
	ReasonColdChannelDistance = "cold_channel_distance"
	ReasonDirectFollowup      = "direct_followup"
	ReasonQuickReaction       = "quick_reaction_from_other"
	ReasonInterruption        = "interruption_outside_window"
	ReasonColdChannel         = "cold_channel"
)

// Decision is the gate's verdict for one message. The gate has no failure
// mode; it always produces a decision.
type Decision struct {
	Process bool
	Reason  string
}

// RecentMessagesFunc fetches the latest messages in a channel, newest first.
type RecentMessagesFunc func(ctx context.Context, channelID string, limit int) ([]platform.Message, error)

type Options struct {
	// Keywords trigger engagement on case-insensitive substring match.
	Keywords []string
	// OverhearProbability is the chance of engaging with an unaddressed
	// message whose content is long enough.
	OverhearProbability float64
	// MinOverhearLength is the minimum content length for the random draw.
	MinOverhearLength int
	// HotWindow is how long after an engagement the channel counts as warm.
	HotWindow time.Duration
	// ReactionWindow is the shorter window in which anyone's message counts
	// as a quick reaction.
	ReactionWindow time.Duration
	// RecentWindow is how many recent messages to inspect for the bot's own
	// output when the channel is warm.
	RecentWindow int
}

type Engine struct {
	store   *StateStore
	opts    Options
	selfID  string
	recent  RecentMessagesFunc
	randHit func(probability float64) bool
	now     func() time.Time
}

func NewEngine(store *StateStore, opts Options, selfID string, recent RecentMessagesFunc) *Engine {
	if opts.RecentWindow <= 0 {
		opts.RecentWindow = 5
	}
	return &Engine{
		store:  store,
		opts:   opts,
		selfID: selfID,
		recent: recent,
		randHit: func(probability float64) bool {
			return rand.Float64() < probability
		},
		now: time.Now,
	}
}

// Decide evaluates the engagement policy in strict priority order.
// isExplicitlyAddressed covers direct mentions and replies to the bot's own
// messages; the caller determines it from the platform event.
func (e *Engine) Decide(ctx context.Context, msg platform.Message, isExplicitlyAddressed bool) Decision {
	if isExplicitlyAddressed {
		return Decision{Process: true, Reason: ReasonExplicitPing}
	}

	content := strings.ToLower(msg.Content)
	for _, keyword := range e.opts.Keywords {
		if keyword != "" && strings.Contains(content, strings.ToLower(keyword)) {
			return Decision{Process: true, Reason: ReasonKeywordTrigger}
		}
	}

	if len(msg.Content) > e.opts.MinOverhearLength && e.randHit(e.opts.OverhearProbability) {
		return Decision{Process: true, Reason: ReasonRandomOverhear}
	}

	state, ok := e.store.get(msg.ChannelID)
	if !ok {
		return Decision{Process: false, Reason: ReasonColdChannel}
	}

	if state.generating.Load() {
		return Decision{Process: false, Reason: ReasonBusyGenerating}
	}

	lastEngagement, lastAddressed := state.snapshot()
	if lastEngagement.IsZero() {
		return Decision{Process: false, Reason: ReasonColdChannel}
	}
	elapsed := e.now().Sub(lastEngagement)
	if elapsed > e.opts.HotWindow {
		return Decision{Process: false, Reason: ReasonColdChannel}
	}

	if !e.ownMessageNearby(ctx, msg) {
		return Decision{Process: false, Reason: ReasonColdChannelDistance}
	}
	if lastAddressed == msg.Author.ID {
		return Decision{Process: true, Reason: ReasonDirectFollowup}
	}
	if elapsed <= e.opts.ReactionWindow {
		return Decision{Process: true, Reason: ReasonQuickReaction}
	}
	return Decision{Process: false, Reason: ReasonInterruption}
}

// ownMessageNearby checks whether the bot's own output appears among the
// most recent messages, excluding the current one. A fetch failure counts as
// absent; the gate never errors.
func (e *Engine) ownMessageNearby(ctx context.Context, msg platform.Message) bool {
	recent, err := e.recent(ctx, msg.ChannelID, e.opts.RecentWindow+1)
	if err != nil {
		logger.DebugCF("gate", "Recent message fetch failed", map[string]interface{}{
			"channelId": msg.ChannelID, "error": err.Error(),
		})
		return false
	}
	seen := 0
	for _, m := range recent {
		if m.ID == msg.ID {
			continue
		}
		if seen >= e.opts.RecentWindow {
			break
		}
		seen++
		if m.Author.ID == e.selfID {
			return true
		}
	}
	return false
}

// MarkEngaged records a completed engagement; call after the reply is sent.
func (e *Engine) MarkEngaged(channelID, userID string) {
	e.store.MarkEngaged(channelID, userID, e.now())
}

// BeginGeneration claims the channel's generation slot; EndGeneration must
// follow once the loop finishes, success or not.
func (e *Engine) BeginGeneration(channelID string) bool {
	return e.store.BeginGeneration(channelID)
}

func (e *Engine) EndGeneration(channelID string) {
	e.store.EndGeneration(channelID)
}
