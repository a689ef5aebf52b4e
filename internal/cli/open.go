package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"

	"github.com/vburojevic/heirlock/internal/domain"
	"github.com/vburojevic/heirlock/internal/messenger"
	"github.com/vburojevic/heirlock/internal/output"
	"github.com/vburojevic/heirlock/internal/tui"
)

// OpenCmd opens an external session and holds the lock while it lives.
type OpenCmd struct {
	Locator string `arg:"" optional:"" help:"Resource locator to open (URL with an allowed scheme)"`
	Tx      string `name:"tx" help:"Transaction id the session belongs to (random when empty)"`
	Resume  bool   `help:"Watch a recovered session instead of opening a new one"`
	NoUI    bool   `name:"no-ui" help:"Stream lock events instead of running the monitor"`
	Listen  string `default:"${config_listen}" help:"Address for the participant websocket link"`
}

// Run executes the open command
func (c *OpenCmd) Run(globals *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	terminal := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	if err := validateOpenFlags(globals, c.NoUI, terminal); err != nil {
		return err
	}
	if c.Locator == "" && !c.Resume {
		return outputErrorCommon(globals, codeInvalidFlags, "a resource locator is required", "pass a URL, or --resume to watch a recovered session")
	}

	rt, err := newRuntime(globals, true)
	if err != nil {
		return outputErrorCommon(globals, codeStoreError, err.Error())
	}
	defer rt.Close()

	emitter := newEmitter(globals)
	if c.NoUI {
		rt.orch.OnSessionOpened(func(ev *domain.SessionOpened) { emitter.WriteSessionOpened(ev) })
		rt.orch.OnSessionClosed(func(ev *domain.SessionClosed) { emitter.WriteSessionClosed(ev) })
		if globals.Verbose {
			rt.orch.OnDetection(func(ev *domain.DetectionDebug) { emitter.WriteDetection(ev) })
		}
	}

	go func() {
		if err := rt.link.Serve(ctx, c.Listen); err != nil {
			rt.logger.Warn("participant link stopped", zap.String("addr", c.Listen), zap.Error(err))
		}
	}()

	st := rt.orch.Session()
	var id string
	switch {
	case c.Resume:
		if st.Status != domain.StatusRecovered {
			return outputErrorCommon(globals, codeStoreError, "no recoverable session record", "run 'heirlock status' to inspect the record")
		}
		id = st.SessionID
		if c.NoUI {
			emitter.WriteSessionOpened(domain.NewSessionOpened(st, rt.clock.Now()))
		}
	default:
		tx := c.Tx
		if tx == "" {
			tx = uuid.NewString()[:8]
		}
		id, err = rt.orch.Open(ctx, tx, c.Locator)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return outputDomainError(globals, err)
		}
	}

	ready := &output.ReadyOutput{
		SessionID:      id,
		ParticipantURL: fmt.Sprintf("ws://%s%s?session=%s", c.Listen, messenger.ParticipantPath, id),
		Attach:         rt.attachCommand(),
		Timestamp:      rt.clock.Now().UTC().Format(time.RFC3339Nano),
	}

	if c.NoUI {
		emitter.WriteReady(ready)
		return c.stream(ctx, globals, rt, emitter)
	}
	return c.monitor(ctx, globals, rt, emitter, ready)
}

// stream writes lock changes until the lock is released or the process is signalled.
func (c *OpenCmd) stream(ctx context.Context, globals *Globals, rt *runtime, emitter output.Emitter) error {
	released := make(chan struct{})
	var once sync.Once
	unsub := rt.orch.OnLockChange(func(v domain.LockView) {
		emitter.WriteLock(v, rt.clock.Now())
		if !v.Locked {
			once.Do(func() { close(released) })
		}
	})
	defer unsub()

	view := rt.orch.LockState()
	emitter.WriteLock(view, rt.clock.Now())
	if !view.Locked {
		return nil
	}

	select {
	case <-released:
		globals.Debug("lock released, exiting")
	case <-ctx.Done():
		globals.Debug("signal received, tearing down")
		rt.orch.Teardown()
	}
	return nil
}

// runProgram runs the monitor program; tests replace it.
var runProgram = func(p *tea.Program) (tea.Model, error) { return p.Run() }

// monitor runs the interactive lock monitor. The ready object goes to stdout
// first; the monitor draws on stderr.
func (c *OpenCmd) monitor(ctx context.Context, globals *Globals, rt *runtime, emitter output.Emitter, ready *output.ReadyOutput) error {
	emitter.WriteReady(ready)

	model := tui.New(rt.orch).WithAccess(ready.Attach, ready.ParticipantURL)
	p := tea.NewProgram(model, tea.WithContext(ctx), tea.WithReportFocus(), tea.WithOutput(globals.Stderr))
	unsub := rt.orch.OnLockChange(func(v domain.LockView) { p.Send(tui.LockMsg(v)) })
	final, err := runProgram(p)
	unsub()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		rt.orch.Teardown()
		return outputErrorCommon(globals, codeInternalError, err.Error())
	}

	exit := tui.ExitQuit
	if m, ok := final.(tui.Model); ok && err == nil {
		exit = m.Exit()
	}
	if exit != tui.ExitReleased {
		rt.orch.Teardown()
	}

	emitter.WriteLock(rt.orch.LockState(), rt.clock.Now())
	return nil
}
