package output

import (
	"time"

	"github.com/vburojevic/heirlock/internal/domain"
)

// Emitter is implemented by every output format.
type Emitter interface {
	WriteError(code, message string, hint ...string) error
	WriteLock(view domain.LockView, now time.Time) error
	WriteSessionOpened(ev *domain.SessionOpened) error
	WriteSessionClosed(ev *domain.SessionClosed) error
	WriteDetection(ev *domain.DetectionDebug) error
	WriteReady(ev *ReadyOutput) error
	WriteStatus(st *StatusOutput) error
}
