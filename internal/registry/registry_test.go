package registry_test

import (
	"errors"
	"testing"

	"troops/internal/domain"
	"troops/internal/registry"
)

func TestAddRejectsDuplicate(t *testing.T) {
	r := registry.New()
	if err := r.Add(domain.SubordinateInfo{ID: "s1", Name: "one"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	err := r.Add(domain.SubordinateInfo{ID: "s1", Name: "again"})
	if !errors.Is(err, registry.ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
	info, err := r.Get("s1")
	if err != nil || info.Name != "one" {
		t.Fatalf("duplicate add must not overwrite: %+v %v", info, err)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := registry.New()
	_ = r.Add(domain.SubordinateInfo{ID: "s1", Name: "one"})
	if !r.Remove("s1") {
		t.Fatalf("first remove should report true")
	}
	if r.Remove("s1") {
		t.Fatalf("second remove should report false")
	}
	if r.Check("s1") {
		t.Fatalf("s1 still present")
	}
}

func TestETagChangesOnMutation(t *testing.T) {
	r := registry.New()
	_ = r.Add(domain.SubordinateInfo{ID: "s1", Name: "one", Weapons: []string{"zero"}})
	_, first, err := r.ETag("s1")
	if err != nil {
		t.Fatalf("etag: %v", err)
	}
	_, again, _ := r.ETag("s1")
	if first != again {
		t.Fatalf("etag not stable: %s vs %s", first, again)
	}
	err = r.Update("s1", func(info *domain.SubordinateInfo) {
		info.Assignments = append(info.Assignments, domain.Assignment{Purpose: "p", Place: domain.PlaceAll})
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	_, changed, _ := r.ETag("s1")
	if changed == first {
		t.Fatalf("etag did not change after mutation")
	}
}

func TestReplaceKeepsAssignments(t *testing.T) {
	r := registry.New()
	_ = r.Add(domain.SubordinateInfo{ID: "l1", Name: "leader"})
	_ = r.Update("l1", func(info *domain.SubordinateInfo) {
		info.Assignments = []domain.Assignment{{Purpose: "p", Place: domain.PlaceAll}}
	})
	if err := r.Replace(domain.SubordinateInfo{ID: "l1", Name: "renamed", Weapons: []string{"zero"}}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	info, _ := r.Get("l1")
	if info.Name != "renamed" || len(info.Assignments) != 1 {
		t.Fatalf("unexpected snapshot %+v", info)
	}
	if err := r.Replace(domain.SubordinateInfo{ID: "ghost"}); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	r := registry.New()
	_ = r.Add(domain.SubordinateInfo{ID: "s1", Name: "one", Weapons: []string{"zero"}})
	info, _ := r.Get("s1")
	info.Weapons[0] = "mutated"
	again, _ := r.Get("s1")
	if again.Weapons[0] != "zero" {
		t.Fatalf("registry leaked internal slice")
	}
}
