// Package gate decides, per inbound message, whether the bot should engage.
// It holds the only cross-message mutable state in the process: one entry per
// channel, created lazily and never destroyed.
package gate

import (
	"sync"
	"sync/atomic"
	"time"
)

// ChannelState tracks the bot's recent involvement in one channel.
type ChannelState struct {
	mu                sync.Mutex
	lastEngagement    time.Time
	lastAddressedUser string
	generating        atomic.Bool
}

func (s *ChannelState) snapshot() (time.Time, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEngagement, s.lastAddressedUser
}

// StateStore maps channel id to its state. Entries are keyed disjointly, so
// per-channel locking suffices.
type StateStore struct {
	mu       sync.RWMutex
	channels map[string]*ChannelState
}

func NewStateStore() *StateStore {
	return &StateStore{channels: make(map[string]*ChannelState)}
}

// get returns the state for a channel without creating it.
func (s *StateStore) get(channelID string) (*ChannelState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.channels[channelID]
	return state, ok
}

func (s *StateStore) getOrCreate(channelID string) *ChannelState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.channels[channelID]
	if !ok {
		state = &ChannelState{}
		s.channels[channelID] = state
	}
	return state
}

// MarkEngaged records a completed engagement with the given user.
func (s *StateStore) MarkEngaged(channelID, userID string, at time.Time) {
	state := s.getOrCreate(channelID)
	state.mu.Lock()
	state.lastEngagement = at
	state.lastAddressedUser = userID
	state.mu.Unlock()
}

// BeginGeneration claims the channel's single generation slot atomically.
// It reports false when another generation already holds the slot.
func (s *StateStore) BeginGeneration(channelID string) bool {
	state := s.getOrCreate(channelID)
	return state.generating.CompareAndSwap(false, true)
}

func (s *StateStore) EndGeneration(channelID string) {
	if state, ok := s.get(channelID); ok {
		state.generating.Store(false)
	}
}

// Generating reports whether a generation is in flight for the channel.
func (s *StateStore) Generating(channelID string) bool {
	state, ok := s.get(channelID)
	return ok && state.generating.Load()
}
