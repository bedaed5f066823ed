package engine

import (
	"testing"

	"troops/internal/domain"
)

func TestCacheDrainIsExclusive(t *testing.T) {
	var c Cache
	c.Add("s1", domain.Report{Purpose: "a"})
	c.Add("s2", domain.Report{Purpose: "b"})
	c.Add("s1", domain.Report{Purpose: "a"})
	if got := c.Drain("a"); len(got) != 2 {
		t.Fatalf("drained %d", len(got))
	}
	if got := c.Drain("a"); len(got) != 0 {
		t.Fatalf("second drain returned %d", len(got))
	}
	if c.Len() != 1 {
		t.Fatalf("len = %d", c.Len())
	}
	if n := c.DropAuthor("s2"); n != 1 || c.Len() != 0 {
		t.Fatalf("drop = %d len = %d", n, c.Len())
	}
}

func TestBundleKeepsExplicitStamps(t *testing.T) {
	items := []Artifact{
		{Author: "s1", Report: domain.Report{Time: "t1", Values: []domain.Value{{Type: "zero"}, {Type: "random", Author: "inner", Time: "t0"}}}},
	}
	r := Bundle(items, "now", "S101", "campaign")
	if r.Time != "now" || r.Place != "S101" || r.Purpose != "campaign" {
		t.Fatalf("header = %+v", r)
	}
	if r.Values[0].Author != "s1" || r.Values[0].Time != "t1" {
		t.Fatalf("first value = %+v", r.Values[0])
	}
	if r.Values[1].Author != "inner" || r.Values[1].Time != "t0" {
		t.Fatalf("second value = %+v", r.Values[1])
	}
}
