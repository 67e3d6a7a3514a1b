package jobs

import (
	"sync"
	"time"
)

const (
	DefaultTTL = 1 * time.Minute
)

// Killable is anything that can be told to stop because its job was killed.
// Kill must not block.
type Killable interface {
	Kill(reason string)
}

// Registry tracks the killable components running on this node, grouped by
// the phase they belong to, and delivers kill messages to them.
// It also remembers recently killed jobs, so that components registering
// after the kill are stopped as well.
type Registry struct {
	sync.RWMutex
	entries map[PhaseKey]map[Killable]struct{}
	killed  map[JobID]tombstone
	ttl     time.Duration
}

type tombstone struct {
	reason     string
	expiration time.Time
}

// NewRegistry creates a new Registry. Tombstones of killed jobs are kept for ttl.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		entries: make(map[PhaseKey]map[Killable]struct{}),
		killed:  make(map[JobID]tombstone),
		ttl:     ttl,
	}
}

// Size returns the number of registered components.
func (r *Registry) Size() int {
	r.RLock()
	defer r.RUnlock()
	n := 0
	for _, set := range r.entries {
		n += len(set)
	}
	return n
}

// Register adds k under key. If the job was killed recently, k is killed
// right away and not registered; false is returned in that case.
func (r *Registry) Register(key PhaseKey, k Killable) bool {
	r.Lock()
	if t, ok := r.killed[key.jobID]; ok && time.Now().Before(t.expiration) {
		r.Unlock()
		k.Kill(t.reason)
		return false
	}
	set, ok := r.entries[key]
	if !ok {
		set = make(map[Killable]struct{})
		r.entries[key] = set
	}
	set[k] = struct{}{}
	r.Unlock()
	return true
}

// Unregister removes k from key.
func (r *Registry) Unregister(key PhaseKey, k Killable) {
	r.Lock()
	defer r.Unlock()
	set, ok := r.entries[key]
	if !ok {
		return
	}
	delete(set, k)
	if len(set) == 0 {
		delete(r.entries, key)
	}
}

// KillJob delivers a kill message to every component registered for jobID
// and returns how many were notified.
func (r *Registry) KillJob(jobID JobID, reason string) int {
	r.Lock()
	r.killed[jobID] = tombstone{reason: reason, expiration: time.Now().Add(r.ttl)}
	var targets []Killable
	for key, set := range r.entries {
		if key.jobID != jobID {
			continue
		}
		for k := range set {
			targets = append(targets, k)
		}
		delete(r.entries, key)
	}
	r.Unlock()

	for _, k := range targets {
		k.Kill(reason)
	}
	return len(targets)
}

// KillAll delivers a kill message to every registered component.
func (r *Registry) KillAll(reason string) int {
	r.Lock()
	var targets []Killable
	for _, set := range r.entries {
		for k := range set {
			targets = append(targets, k)
		}
	}
	r.entries = make(map[PhaseKey]map[Killable]struct{})
	r.Unlock()

	for _, k := range targets {
		k.Kill(reason)
	}
	return len(targets)
}

// IsKilled reports whether jobID was killed within the tombstone TTL.
func (r *Registry) IsKilled(jobID JobID) bool {
	r.RLock()
	defer r.RUnlock()
	t, ok := r.killed[jobID]
	return ok && time.Now().Before(t.expiration)
}

// CleanExpired removes all expired tombstones.
func (r *Registry) CleanExpired() {
	r.Lock()
	defer r.Unlock()
	now := time.Now()
	for jobID, t := range r.killed {
		if now.After(t.expiration) {
			delete(r.killed, jobID)
		}
	}
}
