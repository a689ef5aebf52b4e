package cli

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"

	"github.com/vburojevic/heirlock/internal/config"
)

// ConfigCmd groups the configuration subcommands
type ConfigCmd struct {
	Show     ConfigShowCmd     `cmd:"" default:"1" help:"Show the effective configuration"`
	Path     ConfigPathCmd     `cmd:"" help:"Show which config file is in use"`
	Generate ConfigGenerateCmd `cmd:"" help:"Write a config file with the current values"`
}

// ConfigOutput is the NDJSON form of config show
type ConfigOutput struct {
	Type          string         `json:"type"`
	SchemaVersion int            `json:"schemaVersion"`
	ConfigFile    string         `json:"config_file,omitempty"`
	Config        *config.Config `json:"config"`
}

// ConfigShowCmd prints the effective configuration
type ConfigShowCmd struct{}

// Run executes config show
func (c *ConfigShowCmd) Run(globals *Globals) error {
	cfg := globals.Config
	if globals.Format == "ndjson" {
		return writeJSON(globals.Stdout, ConfigOutput{
			Type:          "config",
			SchemaVersion: 1,
			ConfigFile:    config.ConfigFile(),
			Config:        cfg,
		})
	}

	table := tablewriter.NewWriter(globals.Stdout)
	table.Header("Setting", "Value")
	rows := [][]string{
		{"config_file", orNone(config.ConfigFile())},
		{"format", cfg.Format},
		{"namespace", cfg.Namespace},
		{"store_dir", orNone(cfg.StoreDir)},
		{"spawner", cfg.Spawner},
		{"spawn_command", fmt.Sprint(cfg.SpawnCommand)},
		{"allowed_schemes", fmt.Sprint(cfg.AllowedSchemes)},
		{"bias", cfg.Bias},
		{"listen_addr", cfg.ListenAddr},
		{"broadcast_dir", orNone(cfg.BroadcastDir)},
		{"timeouts.spawn_confirm", cfg.Timeouts.SpawnConfirm.String()},
		{"timeouts.heartbeat_interval", cfg.Timeouts.HeartbeatInterval.String()},
		{"timeouts.heartbeat_stale", cfg.Timeouts.HeartbeatStale.String()},
		{"timeouts.sweep_interval", cfg.Timeouts.SweepInterval.String()},
		{"timeouts.poll_interval", cfg.Timeouts.PollInterval.String()},
		{"timeouts.watchdog_interval", cfg.Timeouts.WatchdogInterval.String()},
		{"timeouts.focus_settle", cfg.Timeouts.FocusSettle.String()},
		{"timeouts.record_stale", cfg.Timeouts.RecordStale.String()},
		{"timeouts.lock_safety", cfg.Timeouts.LockSafety.String()},
	}
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// ConfigPathCmd prints the config file path
type ConfigPathCmd struct{}

// Run executes config path
func (c *ConfigPathCmd) Run(globals *Globals) error {
	path := config.ConfigFile()
	if globals.Format == "ndjson" {
		return writeJSON(globals.Stdout, map[string]interface{}{
			"type":          "config_path",
			"schemaVersion": 1,
			"path":          path,
			"found":         path != "",
		})
	}
	if path == "" {
		fmt.Fprintln(globals.Stdout, "no config file found; using defaults")
		return nil
	}
	fmt.Fprintln(globals.Stdout, path)
	return nil
}

// ConfigGenerateCmd writes the effective configuration as YAML
type ConfigGenerateCmd struct {
	Output string `short:"o" help:"Write to this file instead of stdout"`
	Force  bool   `help:"Overwrite an existing file"`
}

// Run executes config generate
func (c *ConfigGenerateCmd) Run(globals *Globals) error {
	data, err := globals.Config.YAML()
	if err != nil {
		return outputErrorCommon(globals, codeConfigError, err.Error())
	}
	if c.Output == "" {
		_, err := globals.Stdout.Write(data)
		return err
	}
	if _, err := os.Stat(c.Output); err == nil && !c.Force {
		return outputErrorCommon(globals, codeConfigError, "file exists: "+c.Output, "pass --force to overwrite")
	}
	if err := os.WriteFile(c.Output, data, 0o644); err != nil {
		return outputErrorCommon(globals, codeConfigError, err.Error())
	}
	globals.Debug("wrote config to %s", c.Output)
	return nil
}
