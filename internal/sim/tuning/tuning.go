package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion uint16 `yaml:"protocol_version"`

	TickRateHz        int `yaml:"tick_rate_hz"`
	PacketBudgetBytes int `yaml:"packet_budget_bytes"`
	SnapshotEverySecs int `yaml:"snapshot_every_secs"`

	MaxActionDataBytes     int `yaml:"max_action_data_bytes"`
	ActionTombstoneTTLSecs int `yaml:"action_tombstone_ttl_secs"`
	DeletedTTLSecs         int `yaml:"deleted_ttl_secs"`

	RateLimits RateLimits `yaml:"rate_limits"`
}

type RateLimits struct {
	EditWindowSecs  int `yaml:"edit_window_secs"`
	EditMax         int `yaml:"edit_max"`
	EraseWindowSecs int `yaml:"erase_window_secs"`
	EraseMax        int `yaml:"erase_max"`
}

// Defaults is the tuning used when no file is given.
func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:        3,
		TickRateHz:             30,
		PacketBudgetBytes:      1200,
		SnapshotEverySecs:      60,
		MaxActionDataBytes:     800,
		ActionTombstoneTTLSecs: 20,
		DeletedTTLSecs:         60,
		RateLimits: RateLimits{
			EditWindowSecs:  1,
			EditMax:         120,
			EraseWindowSecs: 1,
			EraseMax:        30,
		},
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}
