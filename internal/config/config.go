package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultMembershipFile is read by the recruiter when no path is given.
const DefaultMembershipFile = "recruit.yml"

// Membership models recruit.yml: the static hierarchy the recruiter serves.
type Membership struct {
	Troops []Troop `yaml:"troops"`
}

type Troop struct {
	ID      string  `yaml:"id"`
	Name    string  `yaml:"name"`
	Place   string  `yaml:"place"`
	Leaders []Squad `yaml:"leaders"`
}

type Squad struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Place    string   `yaml:"place"`
	Soldiers []Member `yaml:"soldiers"`
}

type Member struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Place string `yaml:"place"`
}

// Validate ensures ids are present and unique across the whole hierarchy.
func (m *Membership) Validate() error {
	if len(m.Troops) == 0 {
		return fmt.Errorf("membership.troops is required")
	}
	seen := map[string]string{}
	claim := func(kind, id string) error {
		if id == "" {
			return fmt.Errorf("%s with empty id", kind)
		}
		if prev, ok := seen[id]; ok {
			return fmt.Errorf("duplicate id %s (%s and %s)", id, prev, kind)
		}
		seen[id] = kind
		return nil
	}
	for _, tr := range m.Troops {
		if err := claim("commander", tr.ID); err != nil {
			return err
		}
		for _, sq := range tr.Leaders {
			if err := claim("leader", sq.ID); err != nil {
				return err
			}
			for _, s := range sq.Soldiers {
				if err := claim("soldier", s.ID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// FromYAML parses and validates membership from raw YAML bytes.
func FromYAML(data []byte) (*Membership, error) {
	var m Membership
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid membership yaml: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// FromFile reads membership YAML from the given path.
func FromFile(path string) (*Membership, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("membership %s not found; generate one with troops membership template", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns a starter membership document.
func GenerateDefault() string {
	return defaultTemplate
}

// Timing holds the tunables shared by every actor role.
type Timing struct {
	HeartbeatWindow time.Duration `yaml:"heartbeat_window" mapstructure:"heartbeat-window"`
	PollInterval    time.Duration `yaml:"poll_interval" mapstructure:"poll-interval"`
	RequestTimeout  time.Duration `yaml:"request_timeout" mapstructure:"request-timeout"`
	AwakeRetries    int           `yaml:"awake_retries" mapstructure:"awake-retries"`
	AwakeInterval   time.Duration `yaml:"awake_interval" mapstructure:"awake-interval"`
	// MaxPollFailures stops the poller after this many consecutive
	// unreachable polls; zero retries forever.
	MaxPollFailures int `yaml:"max_poll_failures" mapstructure:"max-poll-failures"`
}

// DefaultTiming returns the defaults for a role. Leaders ride out a
// partitioned commander; soldiers give up on the first failed poll.
func DefaultTiming(role string) Timing {
	t := Timing{
		HeartbeatWindow: 120 * time.Second,
		PollInterval:    5 * time.Second,
		RequestTimeout:  10 * time.Second,
		AwakeRetries:    10,
		AwakeInterval:   20 * time.Second,
	}
	if role == "soldier" {
		t.MaxPollFailures = 1
	}
	return t
}

// Normalize fills zero values from the role defaults.
func (t Timing) Normalize(role string) Timing {
	def := DefaultTiming(role)
	if t.HeartbeatWindow <= 0 {
		t.HeartbeatWindow = def.HeartbeatWindow
	}
	if t.PollInterval <= 0 {
		t.PollInterval = def.PollInterval
	}
	if t.RequestTimeout <= 0 {
		t.RequestTimeout = def.RequestTimeout
	}
	if t.AwakeRetries <= 0 {
		t.AwakeRetries = 1
	}
	if t.AwakeInterval <= 0 {
		t.AwakeInterval = def.AwakeInterval
	}
	if t.MaxPollFailures < 0 {
		t.MaxPollFailures = 0
	}
	return t
}

const defaultTemplate = `troops:
  - id: commander-1
    name: commander
    place: headquarters
    leaders:
      - id: leader-1
        name: leader
        place: S101
        soldiers:
          - id: soldier-1
            name: soldier
            place: S101
          - id: soldier-2
            name: soldier
            place: S101
      - id: leader-2
        name: leader
        place: S102
        soldiers:
          - id: soldier-3
            name: soldier
            place: S102
`
