package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultTemplateIsValid(t *testing.T) {
	m, err := FromYAML([]byte(GenerateDefault()))
	if err != nil {
		t.Fatalf("default template: %v", err)
	}
	if len(m.Troops) != 1 || len(m.Troops[0].Leaders) != 2 {
		t.Fatalf("unexpected shape: %+v", m)
	}
}

func TestValidateRejectsDuplicates(t *testing.T) {
	doc := `troops:
  - id: c1
    leaders:
      - id: x
        soldiers:
          - id: x
`
	_, err := FromYAML([]byte(doc))
	if err == nil || !strings.Contains(err.Error(), "duplicate id x") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestValidateRejectsEmpty(t *testing.T) {
	if _, err := FromYAML([]byte("troops: []\n")); err == nil {
		t.Fatalf("expected error for empty membership")
	}
	if _, err := FromYAML([]byte("troops:\n  - name: nameless\n")); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

func TestTimingDefaultsPerRole(t *testing.T) {
	if DefaultTiming("soldier").MaxPollFailures != 1 {
		t.Fatalf("soldiers should fail closed")
	}
	if DefaultTiming("leader").MaxPollFailures != 0 {
		t.Fatalf("leaders should retry forever")
	}
	got := Timing{PollInterval: time.Second}.Normalize("leader")
	if got.PollInterval != time.Second || got.HeartbeatWindow != 120*time.Second {
		t.Fatalf("normalize: %+v", got)
	}
}
