package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/heirlock/internal/domain"
)

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyEager, p)

	p, err = ParsePolicy(" Strict ")
	require.NoError(t, err)
	assert.Equal(t, PolicyStrict, p)

	_, err = ParsePolicy("lazy")
	assert.Error(t, err)
}

func TestReconcilerDecide(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	open := domain.SessionState{Status: domain.StatusOpen, SessionID: "S1"}
	recovered := domain.SessionState{Status: domain.StatusRecovered, SessionID: "S1"}
	closed := domain.SessionState{Status: domain.StatusClosed, SessionID: "S1"}

	heartbeat := domain.NewEvidence(domain.SourceHeartbeat, "S1", now, "p1")
	closing := domain.NewEvidence(domain.SourceClosing, "S1", now, "p1")
	liveness := domain.NewEvidence(domain.SourceLiveness, "S1", now, "poll")

	tests := []struct {
		name      string
		policy    Policy
		ev        domain.Evidence
		obs       Observation
		close     bool
		ambiguous bool
	}{
		{"eager heartbeat, dead handle", PolicyEager, heartbeat, Observation{State: open, HasHandle: true}, true, false},
		{"eager heartbeat, live handle", PolicyEager, heartbeat, Observation{State: open, HasHandle: true, HandleAlive: true}, true, true},
		{"strict heartbeat, live handle", PolicyStrict, heartbeat, Observation{State: open, HasHandle: true, HandleAlive: true}, false, true},
		{"eager heartbeat, recovered", PolicyEager, heartbeat, Observation{State: recovered}, false, false},
		{"strict heartbeat, recovered", PolicyStrict, heartbeat, Observation{State: recovered}, false, false},
		{"closing, recovered", PolicyStrict, closing, Observation{State: recovered}, true, false},
		{"strict closing, live handle", PolicyStrict, closing, Observation{State: open, HasHandle: true, HandleAlive: true}, true, true},
		{"liveness after manager closed", PolicyStrict, liveness, Observation{State: closed}, true, false},
		{"closing after close", PolicyEager, closing, Observation{State: closed}, false, false},
		{"other session", PolicyEager, domain.NewEvidence(domain.SourceClosing, "S0", now, ""), Observation{State: open}, false, false},
		{"no session", PolicyEager, closing, Observation{State: domain.SessionState{Status: domain.StatusIdle}}, false, false},
		{"unscoped evidence", PolicyEager, domain.NewEvidence(domain.SourceSafetyValve, "", now, ""), Observation{State: recovered}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Reconciler{Policy: tt.policy}.Decide(tt.ev, tt.obs)
			assert.Equal(t, tt.close, d.Close, d.Reason)
			assert.Equal(t, tt.ambiguous, d.Ambiguous, d.Reason)
		})
	}
}

func TestDecisionDebug(t *testing.T) {
	ev := domain.NewEvidence(domain.SourceHeartbeat, "S1", time.Now(), "p1")
	dbg := Decision{Ambiguous: true, Reason: "handle still alive"}.Debug(ev)
	assert.Equal(t, "detection_debug", dbg.Type)
	assert.Equal(t, "ignore", dbg.Decision)
	assert.Equal(t, "medium", dbg.Confidence)
	assert.True(t, dbg.Ambiguous)
}
