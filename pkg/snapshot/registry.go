// Package snapshot assembles the situational context handed to the generation
// loop: a deduplicated entity registry, bounded channel history, resolved
// reply references, and any prior tool activity recorded for those messages.
package snapshot

import "github.com/capylabs/capybot/pkg/platform"

type EntityKind string

const (
	KindUser    EntityKind = "user"
	KindChannel EntityKind = "channel"
	KindRole    EntityKind = "role"
)

type Entity struct {
	ID          string     `json:"id"`
	Kind        EntityKind `json:"kind"`
	DisplayName string     `json:"displayName"`
	IsBot       bool       `json:"isBot,omitempty"`
	IsSelf      bool       `json:"isSelf,omitempty"`
}

// Registry deduplicates entities referenced while building one snapshot.
// First registration wins; later registrations of the same id are ignored
// even when they carry richer data. Built fresh per Build call, so no locking.
type Registry struct {
	byID  map[string]int
	order []Entity
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]int)}
}

// Register records the entity unless its id is already present. It reports
// whether the entity was added.
func (r *Registry) Register(e Entity) bool {
	if e.ID == "" {
		return false
	}
	if _, ok := r.byID[e.ID]; ok {
		return false
	}
	r.byID[e.ID] = len(r.order)
	r.order = append(r.order, e)
	return true
}

func (r *Registry) RegisterUser(u platform.User, selfID string) bool {
	return r.Register(Entity{
		ID:          u.ID,
		Kind:        KindUser,
		DisplayName: u.Name(),
		IsBot:       u.Bot,
		IsSelf:      u.ID == selfID,
	})
}

func (r *Registry) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// All returns the registered entities in insertion order.
func (r *Registry) All() []Entity {
	out := make([]Entity, len(r.order))
	copy(out, r.order)
	return out
}
