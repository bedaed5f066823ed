package capability

import "testing"

func TestBuiltins(t *testing.T) {
	s := Builtins()
	names := s.Names()
	if len(names) != 2 || names[0] != "random" || names[1] != "zero" {
		t.Fatalf("names = %v", names)
	}
	v, unit, ok := s["zero"].Read()
	if !ok || v != 0 || unit != "-" {
		t.Fatalf("zero read = %v %q %v", v, unit, ok)
	}
	for i := 0; i < 50; i++ {
		v, _, ok := s["random"].Read()
		if !ok || v < 0 || v >= 1 {
			t.Fatalf("random read out of range: %v", v)
		}
	}
}

func TestSelect(t *testing.T) {
	s, unknown := Select([]string{"zero", "humidity"})
	if len(s) != 1 || s["zero"] == nil {
		t.Fatalf("selected = %v", s.Names())
	}
	if len(unknown) != 1 || unknown[0] != "humidity" {
		t.Fatalf("unknown = %v", unknown)
	}
	all, _ := Select(nil)
	if len(all) != 2 {
		t.Fatalf("empty selection should return builtins")
	}
}
