package session

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Placeholders substituted in an exec spawn command.
const (
	PlaceholderURL     = "{url}"
	PlaceholderSession = "{session}"
)

// ErrEmptyCommand is returned when an ExecSpawner has no command.
var ErrEmptyCommand = errors.New("spawn command is empty")

// ExecSpawner opens an external session by running a viewer command. The
// session lives as long as the process does.
type ExecSpawner struct {
	Command []string
	Logger  *zap.Logger
}

// NewExecSpawner returns a spawner for the given command template.
func NewExecSpawner(command []string, logger *zap.Logger) *ExecSpawner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecSpawner{Command: command, Logger: logger}
}

// ExpandCommand substitutes placeholders in the template. When the template
// mentions no {url}, the locator is appended as the final argument.
func ExpandCommand(template []string, locator, sessionID string) []string {
	out := make([]string, 0, len(template)+1)
	sawURL := false
	for _, arg := range template {
		if strings.Contains(arg, PlaceholderURL) {
			sawURL = true
		}
		arg = strings.ReplaceAll(arg, PlaceholderURL, locator)
		arg = strings.ReplaceAll(arg, PlaceholderSession, sessionID)
		out = append(out, arg)
	}
	if !sawURL {
		out = append(out, locator)
	}
	return out
}

// Spawn starts the viewer process. The process is not tied to ctx: it
// outlives the call.
func (s *ExecSpawner) Spawn(_ context.Context, locator, sessionID string) (Handle, error) {
	if len(s.Command) == 0 {
		return nil, ErrEmptyCommand
	}
	argv := ExpandCommand(s.Command, locator, sessionID)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), "HEIRLOCK_SESSION="+sessionID)
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	h := &processHandle{cmd: cmd, done: make(chan struct{})}
	go func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	}()
	s.Logger.Debug("viewer started",
		zap.String("session_id", sessionID),
		zap.Int("pid", cmd.Process.Pid),
		zap.Strings("argv", argv))
	return h, nil
}

type processHandle struct {
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
	once    sync.Once
}

func (h *processHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *processHandle) Close() error {
	if !h.Alive() {
		return nil
	}
	var err error
	h.once.Do(func() {
		if sigErr := h.cmd.Process.Signal(os.Interrupt); sigErr != nil {
			err = h.cmd.Process.Kill()
		}
	})
	return err
}
