package directory

import (
	"errors"
	"testing"

	"troops/internal/config"
	"troops/internal/domain"
)

func newTestDirectory(t *testing.T) *Directory {
	t.Helper()
	m, err := config.FromYAML([]byte(config.GenerateDefault()))
	if err != nil {
		t.Fatalf("membership: %v", err)
	}
	return New(m)
}

func TestSuperiorResolutionDistinguishesOffline(t *testing.T) {
	d := newTestDirectory(t)

	if _, _, err := d.SquadLeader("nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, place, err := d.SquadLeader("soldier-1")
	if !errors.Is(err, ErrOffline) {
		t.Fatalf("expected ErrOffline, got %v", err)
	}
	if place != "S101" {
		t.Fatalf("place should be resolved even when offline, got %q", place)
	}

	if _, err := d.Register(domain.RoleLeader, "leader-1", domain.Member{Endpoint: "http://l1/leader"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	leader, place, err := d.SquadLeader("soldier-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if leader.Endpoint != "http://l1/leader" || leader.Name != "leader" || place != "S101" {
		t.Fatalf("unexpected resolution %+v %q", leader, place)
	}
}

func TestRegisterStampsPlaceAndRejectsUnknown(t *testing.T) {
	d := newTestDirectory(t)
	got, err := d.Register(domain.RoleCommander, "commander-1", domain.Member{Name: "hq", Place: "elsewhere", Endpoint: "http://c1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if got.Place != "headquarters" || got.Name != "hq" || got.ID != "commander-1" {
		t.Fatalf("unexpected stored record %+v", got)
	}
	if _, err := d.Register(domain.RoleCommander, "ghost", domain.Member{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := d.Register(domain.RoleCommander, "commander-1", domain.Member{ID: "other"}); err == nil {
		t.Fatalf("expected id mismatch error")
	}
	if _, err := d.Register(domain.RoleSoldier, "soldier-1", domain.Member{}); !errors.Is(err, ErrUnsupportedRole) {
		t.Fatalf("expected ErrUnsupportedRole, got %v", err)
	}
}

func TestUnregister(t *testing.T) {
	d := newTestDirectory(t)
	_, _ = d.Register(domain.RoleCommander, "commander-1", domain.Member{Endpoint: "http://c1"})
	if got := d.Registered(domain.RoleCommander); len(got) != 1 {
		t.Fatalf("registered = %v", got)
	}
	if !d.Unregister(domain.RoleCommander, "commander-1") {
		t.Fatalf("first unregister should succeed")
	}
	if d.Unregister(domain.RoleCommander, "commander-1") {
		t.Fatalf("second unregister should report false")
	}
	if _, err := d.Lookup(domain.RoleCommander, "commander-1"); !errors.Is(err, ErrOffline) {
		t.Fatalf("expected ErrOffline after unregister, got %v", err)
	}
}

func TestMembershipLists(t *testing.T) {
	d := newTestDirectory(t)
	if got := d.Members(domain.RoleLeader); len(got) != 2 || got[0] != "leader-1" {
		t.Fatalf("leaders = %v", got)
	}
	squad, err := d.Squad("leader-1")
	if err != nil || len(squad) != 2 {
		t.Fatalf("squad = %v %v", squad, err)
	}
	troop, err := d.Troop("commander-1")
	if err != nil || len(troop) != 2 {
		t.Fatalf("troop = %v %v", troop, err)
	}
	if _, err := d.Troop("leader-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("leader is not a commander: %v", err)
	}
}
