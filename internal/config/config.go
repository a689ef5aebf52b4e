package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	// Global settings
	Format  string `mapstructure:"format" yaml:"format" json:"format"`
	Verbose bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Session handling
	Namespace      string   `mapstructure:"namespace" yaml:"namespace" json:"namespace"`
	StoreDir       string   `mapstructure:"store_dir" yaml:"store_dir" json:"store_dir"`
	Spawner        string   `mapstructure:"spawner" yaml:"spawner" json:"spawner"`
	SpawnCommand   []string `mapstructure:"spawn_command" yaml:"spawn_command" json:"spawn_command"`
	AllowedSchemes []string `mapstructure:"allowed_schemes" yaml:"allowed_schemes" json:"allowed_schemes"`
	Bias           string   `mapstructure:"bias" yaml:"bias" json:"bias"`

	// Cross-context messaging
	ListenAddr   string `mapstructure:"listen_addr" yaml:"listen_addr" json:"listen_addr"`
	BroadcastDir string `mapstructure:"broadcast_dir" yaml:"broadcast_dir" json:"broadcast_dir"`

	Timeouts TimeoutsConfig `mapstructure:"timeouts" yaml:"timeouts" json:"timeouts"`
}

// TimeoutsConfig holds every timing knob. Values are Go duration strings in
// files and env vars.
type TimeoutsConfig struct {
	SpawnConfirm      time.Duration `mapstructure:"spawn_confirm" yaml:"spawn_confirm" json:"spawn_confirm"`
	HeartbeatStale    time.Duration `mapstructure:"heartbeat_stale" yaml:"heartbeat_stale" json:"heartbeat_stale"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval" json:"heartbeat_interval"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval" json:"sweep_interval"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" json:"poll_interval"`
	WatchdogInterval  time.Duration `mapstructure:"watchdog_interval" yaml:"watchdog_interval" json:"watchdog_interval"`
	FocusSettle       time.Duration `mapstructure:"focus_settle" yaml:"focus_settle" json:"focus_settle"`
	RecordStale       time.Duration `mapstructure:"record_stale" yaml:"record_stale" json:"record_stale"`
	LockSafety        time.Duration `mapstructure:"lock_safety" yaml:"lock_safety" json:"lock_safety"`
}

// Spawner kinds.
const (
	SpawnerTmux = "tmux"
	SpawnerExec = "exec"
)

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		Format:         "ndjson",
		Verbose:        false,
		Namespace:      "default",
		Spawner:        SpawnerTmux,
		AllowedSchemes: []string{"http", "https", "file"},
		Bias:           "eager",
		ListenAddr:     "127.0.0.1:7717",
		Timeouts: TimeoutsConfig{
			SpawnConfirm:      500 * time.Millisecond,
			HeartbeatStale:    5 * time.Second,
			HeartbeatInterval: 2 * time.Second,
			SweepInterval:     3 * time.Second,
			PollInterval:      2 * time.Second,
			WatchdogInterval:  10 * time.Second,
			FocusSettle:       time.Second,
			RecordStale:       10 * time.Minute,
			LockSafety:        10 * time.Minute,
		},
	}
}

// Validate checks enumerated values and timing relations.
func (c *Config) Validate() error {
	var errs []error
	if !lo.Contains([]string{"ndjson", "text"}, c.Format) {
		errs = append(errs, fmt.Errorf("format must be ndjson or text, got %q", c.Format))
	}
	if !lo.Contains([]string{SpawnerTmux, SpawnerExec}, c.Spawner) {
		errs = append(errs, fmt.Errorf("spawner must be tmux or exec, got %q", c.Spawner))
	}
	if !lo.Contains([]string{"eager", "strict"}, strings.ToLower(c.Bias)) {
		errs = append(errs, fmt.Errorf("bias must be eager or strict, got %q", c.Bias))
	}
	if c.Spawner == SpawnerExec && len(c.SpawnCommand) == 0 {
		errs = append(errs, errors.New("spawn_command is required for the exec spawner"))
	}
	t := c.Timeouts
	if t.HeartbeatInterval >= t.HeartbeatStale {
		errs = append(errs, fmt.Errorf("timeouts.heartbeat_interval (%s) must be shorter than timeouts.heartbeat_stale (%s)",
			t.HeartbeatInterval, t.HeartbeatStale))
	}
	if t.LockSafety <= 0 {
		errs = append(errs, errors.New("timeouts.lock_safety must be positive"))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	cfg := Default()
	v.SetDefault("format", cfg.Format)
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("namespace", cfg.Namespace)
	v.SetDefault("store_dir", cfg.StoreDir)
	v.SetDefault("spawner", cfg.Spawner)
	v.SetDefault("spawn_command", cfg.SpawnCommand)
	v.SetDefault("allowed_schemes", cfg.AllowedSchemes)
	v.SetDefault("bias", cfg.Bias)
	v.SetDefault("listen_addr", cfg.ListenAddr)
	v.SetDefault("broadcast_dir", cfg.BroadcastDir)
	v.SetDefault("timeouts.spawn_confirm", cfg.Timeouts.SpawnConfirm)
	v.SetDefault("timeouts.heartbeat_stale", cfg.Timeouts.HeartbeatStale)
	v.SetDefault("timeouts.heartbeat_interval", cfg.Timeouts.HeartbeatInterval)
	v.SetDefault("timeouts.sweep_interval", cfg.Timeouts.SweepInterval)
	v.SetDefault("timeouts.poll_interval", cfg.Timeouts.PollInterval)
	v.SetDefault("timeouts.watchdog_interval", cfg.Timeouts.WatchdogInterval)
	v.SetDefault("timeouts.focus_settle", cfg.Timeouts.FocusSettle)
	v.SetDefault("timeouts.record_stale", cfg.Timeouts.RecordStale)
	v.SetDefault("timeouts.lock_safety", cfg.Timeouts.LockSafety)
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("HEIRLOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// Load loads configuration from files and environment
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path := findConfigFile(); path != "" {
		v.SetConfigFile(path)
	} else {
		// Add config paths (in order of precedence, lowest first)
		v.SetConfigName("heirlock")
		v.AddConfigPath("/etc/heirlock/")
		if configDir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(configDir, "heirlock"))
		}
	}

	bindEnv(v)
	setDefaults(v)

	// Try to read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a specific file
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigFile returns the path to the config file Load would read, or "".
func ConfigFile() string {
	if path := findConfigFile(); path != "" {
		return path
	}
	dirs := []string{"/etc/heirlock"}
	if configDir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(configDir, "heirlock"))
	}
	for _, dir := range dirs {
		for _, name := range []string{"heirlock.yaml", "heirlock.yml"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// findConfigFile looks for a project or home config: the current directory
// first, then the home directory.
func findConfigFile() string {
	var dirs []string
	if wd, err := os.Getwd(); err == nil {
		dirs = append(dirs, wd)
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, home)
	}
	names := []string{".heirlock.yaml", ".heirlock.yml", "heirlock.yaml"}
	for _, dir := range dirs {
		for _, name := range names {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path
			}
		}
	}
	return ""
}
