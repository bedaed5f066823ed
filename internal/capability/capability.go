// Package capability defines the named readings ("weapons") a soldier can take.
package capability

import (
	"math/rand/v2"
	"sort"
)

// Capability yields one reading. ok is false when no value can be produced,
// which ends the order that asked for it.
type Capability interface {
	Name() string
	Read() (value float64, unit string, ok bool)
}

// Set maps capability names to implementations. It is fixed once a soldier
// is constructed.
type Set map[string]Capability

// NewSet indexes caps by name; a later duplicate replaces an earlier one.
func NewSet(caps ...Capability) Set {
	s := make(Set, len(caps))
	for _, c := range caps {
		s[c.Name()] = c
	}
	return s
}

// Names returns the sorted capability names.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Func adapts a plain function into a Capability.
type Func struct {
	ID   string
	Unit string
	Fn   func() (float64, bool)
}

func (f Func) Name() string { return f.ID }

func (f Func) Read() (float64, string, bool) {
	v, ok := f.Fn()
	return v, f.Unit, ok
}

// Zero always reads 0.
func Zero() Capability {
	return Func{ID: "zero", Unit: "-", Fn: func() (float64, bool) { return 0, true }}
}

// Random reads a uniform value in [0, 1).
func Random() Capability {
	return Func{ID: "random", Unit: "-", Fn: func() (float64, bool) { return rand.Float64(), true }}
}

// Builtins returns the capabilities every soldier carries unless configured
// otherwise.
func Builtins() Set {
	return NewSet(Zero(), Random())
}

// Select keeps the named built-ins. Unknown names are returned separately.
func Select(names []string) (Set, []string) {
	all := Builtins()
	if len(names) == 0 {
		return all, nil
	}
	out := Set{}
	var unknown []string
	for _, n := range names {
		c, ok := all[n]
		if !ok {
			unknown = append(unknown, n)
			continue
		}
		out[n] = c
	}
	return out, unknown
}
