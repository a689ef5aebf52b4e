package output

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/vburojevic/heirlock/internal/domain"
)

// SchemaVersion is stamped on every NDJSON object.
const SchemaVersion = 1

// ErrorOutput is the NDJSON error object.
type ErrorOutput struct {
	Type          string `json:"type"` // "error"
	SchemaVersion int    `json:"schemaVersion"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	Hint          string `json:"hint,omitempty"`
}

// LockOutput reports a lock change.
type LockOutput struct {
	Type          string  `json:"type"` // "lock"
	SchemaVersion int     `json:"schemaVersion"`
	Locked        bool    `json:"locked"`
	Reason        string  `json:"reason,omitempty"`
	HeldSeconds   float64 `json:"held_seconds,omitempty"`
	Timestamp     string  `json:"timestamp"`
}

// ReadyOutput is written once the open command is serving.
type ReadyOutput struct {
	Type           string `json:"type"` // "ready"
	SchemaVersion  int    `json:"schemaVersion"`
	SessionID      string `json:"session_id"`
	ParticipantURL string `json:"participant_url,omitempty"`
	Attach         string `json:"attach,omitempty"`
	Timestamp      string `json:"timestamp"`
}

// StatusOutput describes the persisted recovery record.
type StatusOutput struct {
	Type            string  `json:"type"` // "status"
	SchemaVersion   int     `json:"schemaVersion"`
	Namespace       string  `json:"namespace"`
	Path            string  `json:"path"`
	Present         bool    `json:"present"`
	SessionID       string  `json:"session_id,omitempty"`
	TransactionID   string  `json:"transaction_id,omitempty"`
	ResourceLocator string  `json:"resource_locator,omitempty"`
	CreatedAt       string  `json:"created_at,omitempty"`
	AgeSeconds      float64 `json:"age_seconds,omitempty"`
	Recoverable     bool    `json:"recoverable"`
}

// NDJSONWriter writes one JSON object per line. It is safe for concurrent use.
type NDJSONWriter struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

var _ Emitter = (*NDJSONWriter)(nil)

// NewNDJSONWriter creates a new NDJSON writer
func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	return &NDJSONWriter{encoder: json.NewEncoder(w)}
}

// Write encodes any value as one line.
func (w *NDJSONWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.encoder.Encode(v)
}

// WriteError writes an error object
func (w *NDJSONWriter) WriteError(code, message string, hint ...string) error {
	out := &ErrorOutput{
		Type:          "error",
		SchemaVersion: SchemaVersion,
		Code:          code,
		Message:       message,
	}
	if len(hint) > 0 {
		out.Hint = hint[0]
	}
	return w.Write(out)
}

// WriteLock writes a lock change.
func (w *NDJSONWriter) WriteLock(view domain.LockView, now time.Time) error {
	return w.Write(NewLockOutput(view, now))
}

// WriteSessionOpened writes a session_opened event.
func (w *NDJSONWriter) WriteSessionOpened(ev *domain.SessionOpened) error {
	return w.Write(ev)
}

// WriteSessionClosed writes a session_closed event.
func (w *NDJSONWriter) WriteSessionClosed(ev *domain.SessionClosed) error {
	return w.Write(ev)
}

// WriteDetection writes a detection_debug event.
func (w *NDJSONWriter) WriteDetection(ev *domain.DetectionDebug) error {
	return w.Write(ev)
}

// WriteReady writes the ready event.
func (w *NDJSONWriter) WriteReady(ev *ReadyOutput) error {
	ev.Type = "ready"
	ev.SchemaVersion = SchemaVersion
	return w.Write(ev)
}

// WriteStatus writes the status object.
func (w *NDJSONWriter) WriteStatus(st *StatusOutput) error {
	st.Type = "status"
	st.SchemaVersion = SchemaVersion
	return w.Write(st)
}

// NewLockOutput converts a lock view to its NDJSON form.
func NewLockOutput(view domain.LockView, now time.Time) *LockOutput {
	return &LockOutput{
		Type:          "lock",
		SchemaVersion: SchemaVersion,
		Locked:        view.Locked,
		Reason:        view.Reason,
		HeldSeconds:   view.Duration.Seconds(),
		Timestamp:     now.UTC().Format(time.RFC3339Nano),
	}
}
