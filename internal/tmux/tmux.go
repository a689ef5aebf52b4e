// Package tmux opens external sessions as detached tmux sessions, so a
// terminal-only host can still hand a transaction off to a separate surface.
package tmux

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/GianlucaP106/gotmux/gotmux"
	"go.uber.org/zap"

	"github.com/vburojevic/heirlock/internal/session"
)

// DefaultSessionPrefix names tmux sessions created by heirlock.
const DefaultSessionPrefix = "heirlock"

// ErrTmuxUnavailable is returned when tmux is not installed.
var ErrTmuxUnavailable = errors.New("tmux is not available")

// Runner issues raw tmux commands. *gotmux.Tmux satisfies it.
type Runner interface {
	Command(req ...string) (string, error)
}

// Config for the tmux spawner.
type Config struct {
	SessionPrefix string
	// Viewer is run inside the session with {url} and {session} expanded.
	// When empty the session shows the locator and waits for Enter.
	Viewer []string
}

// Spawner implements session.Spawner on top of tmux.
type Spawner struct {
	config  Config
	logger  *zap.Logger
	connect func() (Runner, error)
}

// NewSpawner creates a spawner that talks to the default tmux server.
func NewSpawner(cfg Config, logger *zap.Logger) *Spawner {
	if cfg.SessionPrefix == "" {
		cfg.SessionPrefix = DefaultSessionPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Spawner{
		config: cfg,
		logger: logger,
		connect: func() (Runner, error) {
			if !IsTmuxAvailable() {
				return nil, ErrTmuxUnavailable
			}
			t, err := gotmux.DefaultTmux()
			if err != nil {
				return nil, err
			}
			return t, nil
		},
	}
}

// IsTmuxAvailable checks if tmux is installed
func IsTmuxAvailable() bool {
	_, err := exec.LookPath("tmux")
	return err == nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// SessionName derives the tmux session name for a session id. tmux rejects
// '.' and ':' in names, so anything outside [A-Za-z0-9_-] becomes '-'.
func SessionName(prefix, sessionID string) string {
	id := sessionID
	if len(id) > 8 {
		id = id[:8]
	}
	name := fmt.Sprintf("%s-%s", prefix, id)
	return strings.Trim(unsafeName.ReplaceAllString(name, "-"), "-")
}

// Spawn creates a detached tmux session showing locator.
func (s *Spawner) Spawn(_ context.Context, locator, sessionID string) (session.Handle, error) {
	runner, err := s.connect()
	if err != nil {
		return nil, err
	}
	name := SessionName(s.config.SessionPrefix, sessionID)
	script := ShellCommand(s.config.Viewer, locator, sessionID)
	if _, err := runner.Command("new-session", "-d", "-s", name, script); err != nil {
		return nil, fmt.Errorf("failed to create tmux session %s: %w", name, err)
	}
	s.logger.Debug("tmux session created", zap.String("tmux_session", name), zap.String("session_id", sessionID))
	return &Window{runner: runner, name: name}, nil
}

// ShellCommand builds the script run inside the tmux session: a banner
// followed by the viewer, or a prompt when there is no viewer.
func ShellCommand(viewer []string, locator, sessionID string) string {
	banner := []string{
		"═══════════════════════════════════════════════════════════",
		"  heirlock external session " + sessionID,
		"  " + locator,
		"═══════════════════════════════════════════════════════════",
	}
	parts := make([]string, 0, len(banner)+1)
	for _, line := range banner {
		parts = append(parts, "printf '%s\\n' "+quote(line))
	}
	if len(viewer) == 0 {
		parts = append(parts, "printf '%s' "+quote("Press Enter to finish... "), "read _")
	} else {
		argv := session.ExpandCommand(viewer, locator, sessionID)
		quoted := make([]string, len(argv))
		for i, a := range argv {
			quoted[i] = quote(a)
		}
		parts = append(parts, "exec "+strings.Join(quoted, " "))
	}
	return strings.Join(parts, "; ")
}

// quote wraps s in single quotes for sh.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// Window is the handle of a spawned tmux session.
type Window struct {
	runner Runner
	name   string
}

// Name returns the tmux session name.
func (w *Window) Name() string { return w.name }

// AttachCommand returns the command to attach to the session.
func (w *Window) AttachCommand() string {
	return fmt.Sprintf("tmux attach -t %s", w.name)
}

// Alive reports whether the tmux session still exists.
func (w *Window) Alive() bool {
	_, err := w.runner.Command("has-session", "-t", "="+w.name)
	return err == nil
}

// Close kills the tmux session.
func (w *Window) Close() error {
	if !w.Alive() {
		return nil
	}
	if _, err := w.runner.Command("kill-session", "-t", "="+w.name); err != nil {
		return fmt.Errorf("failed to kill tmux session %s: %w", w.name, err)
	}
	return nil
}
