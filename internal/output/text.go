package output

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"

	"github.com/vburojevic/heirlock/internal/domain"
)

var (
	lockedStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	unlockedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// TextWriter writes human-readable lines.
type TextWriter struct {
	mu sync.Mutex
	w  io.Writer
}

var _ Emitter = (*TextWriter)(nil)

// NewTextWriter creates a text writer
func NewTextWriter(w io.Writer) *TextWriter {
	return &TextWriter{w: w}
}

func (t *TextWriter) printf(format string, args ...any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintf(t.w, format, args...)
	return err
}

// WriteError prints the error and an optional hint.
func (t *TextWriter) WriteError(code, message string, hint ...string) error {
	line := fmt.Sprintf("Error [%s]: %s", code, message)
	if len(hint) > 0 && hint[0] != "" {
		line += fmt.Sprintf(" (hint: %s)", hint[0])
	}
	return t.printf("%s\n", line)
}

// WriteLock prints a lock change.
func (t *TextWriter) WriteLock(view domain.LockView, now time.Time) error {
	ts := dimStyle.Render(now.Format("15:04:05"))
	if view.Locked {
		return t.printf("%s %s %s\n", ts, lockedStyle.Render("LOCKED"), view.Reason)
	}
	return t.printf("%s %s\n", ts, unlockedStyle.Render("UNLOCKED"))
}

// WriteSessionOpened prints the opened session.
func (t *TextWriter) WriteSessionOpened(ev *domain.SessionOpened) error {
	prefix := "Session opened"
	if ev.Alert != "" {
		prefix = warnStyle.Render("Session recovered")
	}
	return t.printf("%s: %s -> %s\n", prefix, ev.SessionID, ev.ResourceLocator)
}

// WriteSessionClosed prints the closed session.
func (t *TextWriter) WriteSessionClosed(ev *domain.SessionClosed) error {
	return t.printf("Session closed: %s (by %s after %.1fs)\n", ev.SessionID, ev.Source, ev.DurationSeconds)
}

// WriteDetection prints a reconciled detector signal.
func (t *TextWriter) WriteDetection(ev *domain.DetectionDebug) error {
	line := fmt.Sprintf("detector %s (%s): %s", ev.Source, ev.Confidence, ev.Decision)
	if ev.Ambiguous {
		line = warnStyle.Render(line + " [ambiguous]")
	}
	if ev.Reason != "" {
		line += dimStyle.Render(" " + ev.Reason)
	}
	return t.printf("%s\n", line)
}

// WriteReady prints how to reach the running session.
func (t *TextWriter) WriteReady(ev *ReadyOutput) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s is open\n", ev.SessionID)
	if ev.ParticipantURL != "" {
		fmt.Fprintf(&b, "  participant: %s\n", ev.ParticipantURL)
	}
	if ev.Attach != "" {
		fmt.Fprintf(&b, "  attach with: %s\n", ev.Attach)
	}
	return t.printf("%s", b.String())
}

// WriteStatus renders the record as a table.
func (t *TextWriter) WriteStatus(st *StatusOutput) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !st.Present {
		_, err := fmt.Fprintf(t.w, "No session record for namespace %q (%s)\n", st.Namespace, st.Path)
		return err
	}
	table := tablewriter.NewWriter(t.w)
	table.Header("Field", "Value")
	rows := [][]string{
		{"namespace", st.Namespace},
		{"session", st.SessionID},
		{"transaction", st.TransactionID},
		{"locator", st.ResourceLocator},
		{"created", st.CreatedAt},
		{"age", (time.Duration(st.AgeSeconds * float64(time.Second))).Round(time.Second).String()},
		{"recoverable", fmt.Sprintf("%t", st.Recoverable)},
		{"path", st.Path},
	}
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}
