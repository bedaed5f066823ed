package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"troops/internal/domain"
)

var (
	ErrNotFound          = errors.New("subordinate not found")
	ErrAlreadyRegistered = errors.New("subordinate already registered")
)

// Registry holds the direct subordinates of one actor. Request handlers
// mutate it; heartbeat watchers and emitters read and evict concurrently.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]domain.SubordinateInfo
}

func New() *Registry {
	return &Registry{subs: make(map[string]domain.SubordinateInfo)}
}

func (r *Registry) Check(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subs[id]
	return ok
}

func (r *Registry) Get(id string) (domain.SubordinateInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.subs[id]
	if !ok {
		return domain.SubordinateInfo{}, ErrNotFound
	}
	return clone(info), nil
}

// Add inserts a new subordinate. The assignment list of the stored snapshot
// belongs to the superior, so whatever the joiner sent is discarded.
func (r *Registry) Add(info domain.SubordinateInfo) error {
	if info.ID == "" {
		return errors.New("subordinate id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[info.ID]; ok {
		return ErrAlreadyRegistered
	}
	info.Assignments = nil
	r.subs[info.ID] = clone(info)
	return nil
}

// Replace overwrites the public info of a known subordinate wholesale and
// keeps the assignments derived for it.
func (r *Registry) Replace(info domain.SubordinateInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.subs[info.ID]
	if !ok {
		return ErrNotFound
	}
	info.Assignments = cur.Assignments
	r.subs[info.ID] = clone(info)
	return nil
}

// Update applies fn to the stored snapshot under the write lock.
func (r *Registry) Update(id string, fn func(*domain.SubordinateInfo)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.subs[id]
	if !ok {
		return ErrNotFound
	}
	fn(&info)
	r.subs[id] = info
	return nil
}

// Remove deletes a subordinate and reports whether it was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[id]; !ok {
		return false
	}
	delete(r.subs, id)
	return true
}

// List returns snapshots sorted by id.
func (r *Registry) List() []domain.SubordinateInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.SubordinateInfo, 0, len(r.subs))
	for _, info := range r.subs {
		out = append(out, clone(info))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// ETag returns the current snapshot and its content-derived validator.
func (r *Registry) ETag(id string) (domain.SubordinateInfo, string, error) {
	info, err := r.Get(id)
	if err != nil {
		return info, "", err
	}
	return info, Fingerprint(info), nil
}

// Fingerprint hashes the canonical JSON form of v.
func Fingerprint(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:16])
}

func clone(info domain.SubordinateInfo) domain.SubordinateInfo {
	out := info
	out.Weapons = append([]string(nil), info.Weapons...)
	if info.Assignments != nil {
		out.Assignments = make([]domain.Assignment, len(info.Assignments))
		for i, a := range info.Assignments {
			a.Requirement.Values = append([]string(nil), a.Requirement.Values...)
			out.Assignments[i] = a
		}
	}
	return out
}
