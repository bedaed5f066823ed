// Package directory resolves where an actor sits in the hierarchy and where
// its superior can be reached. Membership is static; endpoints are learned
// from the actors themselves as they come online.
package directory

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"troops/internal/config"
	"troops/internal/domain"
)

var (
	// ErrNotFound means the id is not part of the configured membership.
	ErrNotFound = errors.New("not found in membership")
	// ErrOffline means the id is a member but its instance has not registered.
	ErrOffline = errors.New("member is not registered")
	// ErrUnsupportedRole is returned for roles that never register endpoints.
	ErrUnsupportedRole = errors.New("role does not register with the directory")
)

type key struct {
	role domain.Role
	id   string
}

type entry struct {
	member   domain.Member
	superior string
	children []string
}

// Directory is safe for concurrent use.
type Directory struct {
	mu      sync.RWMutex
	static  map[key]entry
	live    map[key]domain.Member
	ordered map[domain.Role][]string
}

// New indexes a validated membership document.
func New(m *config.Membership) *Directory {
	d := &Directory{
		static:  make(map[key]entry),
		live:    make(map[key]domain.Member),
		ordered: make(map[domain.Role][]string),
	}
	if m == nil {
		return d
	}
	add := func(role domain.Role, e entry) {
		d.static[key{role, e.member.ID}] = e
		d.ordered[role] = append(d.ordered[role], e.member.ID)
	}
	for _, tr := range m.Troops {
		com := entry{member: domain.Member{ID: tr.ID, Name: tr.Name, Place: tr.Place}}
		for _, sq := range tr.Leaders {
			com.children = append(com.children, sq.ID)
			lea := entry{member: domain.Member{ID: sq.ID, Name: sq.Name, Place: sq.Place}, superior: tr.ID}
			for _, s := range sq.Soldiers {
				lea.children = append(lea.children, s.ID)
				add(domain.RoleSoldier, entry{member: domain.Member{ID: s.ID, Name: s.Name, Place: s.Place}, superior: sq.ID})
			}
			add(domain.RoleLeader, lea)
		}
		add(domain.RoleCommander, com)
	}
	for role := range d.ordered {
		sort.Strings(d.ordered[role])
	}
	return d
}

// Members lists every configured id of a role, sorted.
func (d *Directory) Members(role domain.Role) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.ordered[role]...)
}

// Member returns the static membership record for an id.
func (d *Directory) Member(role domain.Role, id string) (domain.Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.static[key{role, id}]
	if !ok {
		return domain.Member{}, fmt.Errorf("%s %s: %w", role, id, ErrNotFound)
	}
	return e.member, nil
}

// Register records the live endpoint of a commander or leader. The stored
// record keeps the configured place; an empty name falls back to the
// configured one.
func (d *Directory) Register(role domain.Role, id string, info domain.Member) (domain.Member, error) {
	if role != domain.RoleCommander && role != domain.RoleLeader {
		return domain.Member{}, ErrUnsupportedRole
	}
	if info.ID != "" && info.ID != id {
		return domain.Member{}, fmt.Errorf("invalid %s info: id %q does not match %q", role, info.ID, id)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.static[key{role, id}]
	if !ok {
		return domain.Member{}, fmt.Errorf("%s %s: %w", role, id, ErrNotFound)
	}
	info.ID = id
	info.Place = e.member.Place
	if info.Name == "" {
		info.Name = e.member.Name
	}
	d.live[key{role, id}] = info
	return info, nil
}

// Unregister drops a live endpoint and reports whether one was present.
func (d *Directory) Unregister(role domain.Role, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.live[key{role, id}]; !ok {
		return false
	}
	delete(d.live, key{role, id})
	return true
}

// Lookup returns the live record of a member. Known but unregistered
// members yield ErrOffline, unknown ids ErrNotFound.
func (d *Directory) Lookup(role domain.Role, id string) (domain.Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lookupLocked(role, id)
}

func (d *Directory) lookupLocked(role domain.Role, id string) (domain.Member, error) {
	if _, ok := d.static[key{role, id}]; !ok {
		return domain.Member{}, fmt.Errorf("%s %s: %w", role, id, ErrNotFound)
	}
	m, ok := d.live[key{role, id}]
	if !ok {
		return domain.Member{}, fmt.Errorf("%s %s: %w", role, id, ErrOffline)
	}
	return m, nil
}

// Registered lists the ids of a role with a live endpoint, sorted.
func (d *Directory) Registered(role domain.Role) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var ids []string
	for k := range d.live {
		if k.role == role {
			ids = append(ids, k.id)
		}
	}
	sort.Strings(ids)
	return ids
}

// SquadLeader resolves the leader of a soldier. place is the soldier's own
// configured place.
func (d *Directory) SquadLeader(soldierID string) (domain.Member, string, error) {
	return d.superior(domain.RoleSoldier, domain.RoleLeader, soldierID)
}

// TroopCommander resolves the commander of a leader.
func (d *Directory) TroopCommander(leaderID string) (domain.Member, string, error) {
	return d.superior(domain.RoleLeader, domain.RoleCommander, leaderID)
}

func (d *Directory) superior(role, superiorRole domain.Role, id string) (domain.Member, string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.static[key{role, id}]
	if !ok {
		return domain.Member{}, "", fmt.Errorf("%s %s: %w", role, id, ErrNotFound)
	}
	m, err := d.lookupLocked(superiorRole, e.superior)
	if err != nil {
		return domain.Member{}, e.member.Place, err
	}
	return m, e.member.Place, nil
}

// Squad lists the configured soldiers of a leader.
func (d *Directory) Squad(leaderID string) ([]domain.Member, error) {
	return d.children(domain.RoleLeader, domain.RoleSoldier, leaderID)
}

// Troop lists the configured leaders of a commander.
func (d *Directory) Troop(commanderID string) ([]domain.Member, error) {
	return d.children(domain.RoleCommander, domain.RoleLeader, commanderID)
}

func (d *Directory) children(role, childRole domain.Role, id string) ([]domain.Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.static[key{role, id}]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", role, id, ErrNotFound)
	}
	out := make([]domain.Member, 0, len(e.children))
	for _, cid := range e.children {
		m := d.static[key{childRole, cid}].member
		if live, ok := d.live[key{childRole, cid}]; ok {
			m.Endpoint = live.Endpoint
		}
		out = append(out, m)
	}
	return out, nil
}
