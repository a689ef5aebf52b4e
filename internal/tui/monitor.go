// Package tui is the interactive lock monitor. It shows the lock while an
// external session is open and turns terminal focus changes into focus
// signals for the orchestrator.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vburojevic/heirlock/internal/domain"
)

// Source is what the monitor needs from the orchestrator.
type Source interface {
	LockState() domain.LockView
	Session() domain.SessionState
	FocusLost()
	FocusReturned()
	Close()
}

// LockMsg delivers a lock change to the running program.
type LockMsg domain.LockView

// ExitReason says why the monitor stopped.
type ExitReason int

const (
	ExitNone ExitReason = iota
	ExitReleased
	ExitQuit
)

type tickMsg time.Time

type closedMsg struct{}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	lockedStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	unlockedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Model is the bubbletea model of the lock monitor.
type Model struct {
	src     Source
	lock    domain.LockView
	session domain.SessionState
	focused bool
	closing bool
	exit    ExitReason

	attach      string
	participant string

	keys    keyMap
	help    help.Model
	spinner spinner.Model
	tick    time.Duration
}

// New creates a monitor over src.
func New(src Source) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		src:     src,
		lock:    src.LockState(),
		session: src.Session(),
		focused: true,
		keys:    defaultKeys,
		help:    help.New(),
		spinner: sp,
		tick:    time.Second,
	}
}

// WithAccess shows how to reach the external session: the attach command and
// the participant link URL. Either may be empty.
func (m Model) WithAccess(attach, participant string) Model {
	m.attach = attach
	m.participant = participant
	return m
}

// Exit reports why the program ended.
func (m Model) Exit() ExitReason { return m.exit }

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.tickCmd())
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.tick, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.FocusMsg:
		m.focused = true
		m.src.FocusReturned()
		return m, nil
	case tea.BlurMsg:
		m.focused = false
		m.src.FocusLost()
		return m, nil
	case LockMsg:
		m.lock = domain.LockView(msg)
		m.session = m.src.Session()
		if !m.lock.Locked {
			m.exit = ExitReleased
			return m, tea.Quit
		}
		return m, nil
	case tickMsg:
		m.lock = m.src.LockState()
		m.session = m.src.Session()
		if !m.lock.Locked {
			m.exit = ExitReleased
			return m, tea.Quit
		}
		return m, m.tickCmd()
	case closedMsg:
		m.closing = false
		return m, nil
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		return m, nil
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.exit = ExitQuit
			return m, tea.Quit
		case key.Matches(msg, m.keys.Close):
			if m.closing {
				return m, nil
			}
			m.closing = true
			src := m.src
			return m, func() tea.Msg {
				src.Close()
				return closedMsg{}
			}
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("heirlock"))
	b.WriteString("\n\n")

	if m.lock.Locked {
		fmt.Fprintf(&b, "%s %s %s\n", m.spinner.View(), lockedStyle.Render("LOCKED"), m.lock.Reason)
		fmt.Fprintf(&b, "%s\n", dimStyle.Render("held "+formatHeld(m.lock.Duration)))
	} else {
		fmt.Fprintf(&b, "%s\n", unlockedStyle.Render("UNLOCKED"))
	}

	if m.session.SessionID != "" {
		fmt.Fprintf(&b, "\nsession  %s (%s)\n", m.session.SessionID, m.session.Status)
		if m.session.ResourceLocator != "" {
			fmt.Fprintf(&b, "resource %s\n", m.session.ResourceLocator)
		}
	}
	if m.attach != "" {
		fmt.Fprintf(&b, "attach   %s\n", m.attach)
	}
	if m.participant != "" {
		fmt.Fprintf(&b, "link     %s\n", dimStyle.Render(m.participant))
	}
	if !m.focused {
		fmt.Fprintf(&b, "%s\n", dimStyle.Render("waiting for you to come back..."))
	}
	if m.closing {
		fmt.Fprintf(&b, "%s\n", dimStyle.Render("closing..."))
	}

	return boxStyle.Render(strings.TrimRight(b.String(), "\n")) + "\n" + m.help.View(m.keys) + "\n"
}

func formatHeld(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
