package cli

import (
	"time"

	"github.com/vburojevic/heirlock/internal/output"
	"github.com/vburojevic/heirlock/internal/store"
)

// StatusCmd shows the persisted session record for the namespace.
type StatusCmd struct{}

// Run executes the status command
func (c *StatusCmd) Run(globals *Globals) error {
	cfg := globals.Config
	st, err := store.New(cfg.StoreDir, cfg.Namespace, globals.Logger())
	if err != nil {
		return outputErrorCommon(globals, codeStoreError, err.Error())
	}
	return newEmitter(globals).WriteStatus(statusOf(st, cfg.Namespace, cfg.Timeouts.RecordStale, time.Now()))
}

func statusOf(st *store.Store, namespace string, stale time.Duration, now time.Time) *output.StatusOutput {
	out := &output.StatusOutput{Namespace: namespace, Path: st.Path()}
	rec := st.Load()
	if rec == nil {
		return out
	}
	age := rec.Age(now)
	out.Present = true
	out.SessionID = rec.SessionID
	out.TransactionID = rec.TransactionID
	out.ResourceLocator = rec.ResourceLocator
	out.CreatedAt = rec.CreatedAt.UTC().Format(time.RFC3339)
	out.AgeSeconds = age.Seconds()
	out.Recoverable = age < stale
	return out
}
