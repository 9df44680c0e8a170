package realtime

import (
	"sync"

	"github.com/rs/zerolog"
)

// Member is anything that can sit in a group and accept frames. Offer must
// not block; it returns false when the frame was not queued.
type Member interface {
	ID() string
	Offer(frame []byte) bool
}

// Registry tracks which live members belong to which group in this process.
type Registry struct {
	mu     sync.RWMutex
	groups map[Group]map[string]Member
	log    zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		groups: make(map[Group]map[string]Member),
		log:    log.With().Str("component", "registry").Logger(),
	}
}

// Join adds m to g. Joining twice is the same as joining once.
func (r *Registry) Join(g Group, m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.groups[g]
	if !ok {
		members = make(map[string]Member)
		r.groups[g] = members
	}
	members[m.ID()] = m
}

// Leave removes m from g. Leaving a group m is not in is a no-op.
func (r *Registry) Leave(g Group, m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.groups[g]
	if !ok {
		return
	}
	delete(members, m.ID())
	if len(members) == 0 {
		delete(r.groups, g)
	}
}

// Publish offers frame to every member of g at the time of the call and
// returns how many accepted it. Members with a full queue miss the frame.
func (r *Registry) Publish(g Group, frame []byte) int {
	r.mu.RLock()
	members := make([]Member, 0, len(r.groups[g]))
	for _, m := range r.groups[g] {
		members = append(members, m)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, m := range members {
		if m.Offer(frame) {
			delivered++
			continue
		}
		r.log.Warn().Str("group", g.String()).Str("member", m.ID()).Msg("member queue full, dropping frame")
	}
	return delivered
}

// Members returns the current member count of g.
func (r *Registry) Members(g Group) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups[g])
}

// Groups returns the number of non-empty groups.
func (r *Registry) Groups() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}
