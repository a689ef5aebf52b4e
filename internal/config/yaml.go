package config

import (
	"bytes"
	"encoding/json"

	"gopkg.in/yaml.v3"
)

type timeoutsYAML struct {
	SpawnConfirm      string `yaml:"spawn_confirm" json:"spawn_confirm"`
	HeartbeatStale    string `yaml:"heartbeat_stale" json:"heartbeat_stale"`
	HeartbeatInterval string `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	SweepInterval     string `yaml:"sweep_interval" json:"sweep_interval"`
	PollInterval      string `yaml:"poll_interval" json:"poll_interval"`
	WatchdogInterval  string `yaml:"watchdog_interval" json:"watchdog_interval"`
	FocusSettle       string `yaml:"focus_settle" json:"focus_settle"`
	RecordStale       string `yaml:"record_stale" json:"record_stale"`
	LockSafety        string `yaml:"lock_safety" json:"lock_safety"`
}

// MarshalYAML writes durations as Go duration strings so the file reads back
// through Load.
func (t TimeoutsConfig) MarshalYAML() (interface{}, error) {
	return timeoutsYAML{
		SpawnConfirm:      t.SpawnConfirm.String(),
		HeartbeatStale:    t.HeartbeatStale.String(),
		HeartbeatInterval: t.HeartbeatInterval.String(),
		SweepInterval:     t.SweepInterval.String(),
		PollInterval:      t.PollInterval.String(),
		WatchdogInterval:  t.WatchdogInterval.String(),
		FocusSettle:       t.FocusSettle.String(),
		RecordStale:       t.RecordStale.String(),
		LockSafety:        t.LockSafety.String(),
	}, nil
}

// MarshalJSON matches the YAML form.
func (t TimeoutsConfig) MarshalJSON() ([]byte, error) {
	v, _ := t.MarshalYAML()
	return json.Marshal(v)
}

// YAML renders the configuration as a config file.
func (c *Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("# heirlock configuration\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
