package cli

import (
	"encoding/json"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vburojevic/heirlock/internal/domain"
	"github.com/vburojevic/heirlock/internal/store"
)

// CloseCmd releases the recorded session from outside the host. A running
// host sees the sibling close and tears its session down.
type CloseCmd struct{}

// Run executes the close command
func (c *CloseCmd) Run(globals *Globals) error {
	cfg := globals.Config
	logger := globals.Logger()
	st, err := store.New(cfg.StoreDir, cfg.Namespace, logger)
	if err != nil {
		return outputErrorCommon(globals, codeStoreError, err.Error())
	}
	emitter := newEmitter(globals)

	rec := st.Load()
	if rec == nil {
		return emitter.WriteStatus(statusOf(st, cfg.Namespace, cfg.Timeouts.RecordStale, time.Now()))
	}

	msgr, _, err := newMessenger(cfg, clock.New(), logger, false)
	if err != nil {
		return outputErrorCommon(globals, codeMessaging, err.Error())
	}
	defer msgr.Close()
	if err := msgr.Start(); err != nil {
		return outputErrorCommon(globals, codeMessaging, err.Error())
	}

	payload, _ := json.Marshal(map[string]string{"source": string(domain.SourceManual)})
	if err := msgr.Broadcast(domain.Message{Type: domain.MsgSessionClosed, SessionID: rec.SessionID, Payload: payload}); err != nil {
		return outputErrorCommon(globals, codeMessaging, err.Error(), "the record was left in place")
	}
	st.Clear()
	return emitter.WriteSessionClosed(domain.NewSessionClosed(rec.SessionID, domain.SourceManual, rec.CreatedAt, time.Now()))
}
