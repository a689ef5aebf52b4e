package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vburojevic/heirlock/internal/messenger"
)

// ParticipantCmd runs the cooperating side of the heartbeat protocol. It is
// meant to live inside the external session; exiting it announces closing.
type ParticipantCmd struct {
	Session  string        `required:"" env:"HEIRLOCK_SESSION" help:"Session id to report for"`
	URL      string        `name:"url" default:"ws://${config_listen}/participant" help:"Host participant link URL"`
	ID       string        `name:"id" help:"Participant id (random when empty)"`
	Interval time.Duration `default:"${config_heartbeat_interval}" help:"Heartbeat interval"`
}

// ParticipantOutput is the NDJSON line written once connected.
type ParticipantOutput struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	ParticipantID string `json:"participant_id"`
	SessionID     string `json:"session_id"`
	URL           string `json:"url"`
}

// Run executes the participant command
func (c *ParticipantCmd) Run(globals *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	p, err := messenger.DialParticipant(ctx, c.URL, c.Session, messenger.ParticipantOptions{
		ParticipantID: c.ID,
		Interval:      c.Interval,
		Logger:        globals.Logger(),
	})
	if err != nil {
		return outputErrorCommon(globals, codeParticipant, err.Error(), "is 'heirlock open' running and listening on this address?")
	}

	if globals.Format == "ndjson" {
		writeJSON(globals.Stdout, ParticipantOutput{
			Type:          "participant",
			SchemaVersion: 1,
			ParticipantID: p.ID(),
			SessionID:     c.Session,
			URL:           c.URL,
		})
	} else {
		globals.Debug("participant %s connected for session %s", p.ID(), c.Session)
	}

	select {
	case <-ctx.Done():
		return p.Close()
	case <-p.Done():
		globals.Debug("host link closed")
		return nil
	}
}
