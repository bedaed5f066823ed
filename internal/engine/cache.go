package engine

import (
	"sync"

	"troops/internal/domain"
)

// Artifact is an upward item held until the emitter of its assignment drains it.
type Artifact struct {
	Author string
	Report domain.Report
}

// Cache is the inbound work/report buffer of a node. Items are consumed
// exactly once by Drain.
type Cache struct {
	mu    sync.Mutex
	items []Artifact
}

func (c *Cache) Add(author string, r domain.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, Artifact{Author: author, Report: r})
}

// Drain removes and returns the items tagged with purpose, oldest first.
func (c *Cache) Drain(purpose string) []Artifact {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Artifact
	kept := c.items[:0]
	for _, it := range c.items {
		if it.Report.Purpose == purpose {
			out = append(out, it)
			continue
		}
		kept = append(kept, it)
	}
	clear(c.items[len(kept):])
	c.items = kept
	return out
}

// DropAuthor discards everything a subordinate sent and returns the count.
func (c *Cache) DropAuthor(author string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.items[:0]
	for _, it := range c.items {
		if it.Author != author {
			kept = append(kept, it)
		}
	}
	n := len(c.items) - len(kept)
	clear(c.items[len(kept):])
	c.items = kept
	return n
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Bundle folds drained items into one report. Values inherit the time and
// author of the item that carried them unless they already name their own.
func Bundle(items []Artifact, now, place, purpose string) domain.Report {
	r := domain.Report{Time: now, Place: place, Purpose: purpose, Values: []domain.Value{}}
	for _, it := range items {
		for _, v := range it.Report.Values {
			if v.Time == "" {
				v.Time = it.Report.Time
			}
			if v.Author == "" {
				v.Author = it.Author
			}
			r.Values = append(r.Values, v)
		}
	}
	return r
}
