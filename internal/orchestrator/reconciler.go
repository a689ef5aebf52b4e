package orchestrator

import (
	"fmt"
	"strings"

	"github.com/vburojevic/heirlock/internal/domain"
)

// Policy controls how the reconciler trades false closes against missed closes.
type Policy string

const (
	// PolicyEager closes on any evidence. A stuck lock is worse than a premature unlock.
	PolicyEager Policy = "eager"
	// PolicyStrict needs high-confidence evidence, or lower-confidence evidence
	// that no live handle contradicts.
	PolicyStrict Policy = "strict"
)

// ParsePolicy parses a configured bias. Empty means eager.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyEager:
		return PolicyEager, nil
	case PolicyStrict:
		return PolicyStrict, nil
	}
	return "", fmt.Errorf("unknown bias %q (want eager or strict)", s)
}

// Observation is what the orchestrator knows about the session when evidence arrives.
type Observation struct {
	State       domain.SessionState
	HasHandle   bool
	HandleAlive bool
}

// Decision is the reconciler's verdict on one piece of evidence.
type Decision struct {
	Close     bool
	Ambiguous bool
	Reason    string
}

// Reconciler folds closure evidence into a close/ignore decision. It holds no
// timers and no state.
type Reconciler struct {
	Policy Policy
}

// Decide evaluates ev against obs.
func (r Reconciler) Decide(ev domain.Evidence, obs Observation) Decision {
	st := obs.State
	if st.SessionID == "" {
		return Decision{Reason: "no session"}
	}
	if ev.SessionID != "" && ev.SessionID != st.SessionID {
		return Decision{Reason: "evidence for another session"}
	}
	// liveness evidence is raised by the manager after it has already moved to closed
	committed := ev.Source == domain.SourceLiveness && st.Status == domain.StatusClosed
	if !st.Status.Active() && !committed {
		return Decision{Reason: fmt.Sprintf("session is %s", st.Status)}
	}

	if ev.Source == domain.SourceHeartbeat && st.Status == domain.StatusRecovered {
		return Decision{Reason: "heartbeat detector disarmed for recovered session"}
	}

	contradicted := obs.HasHandle && obs.HandleAlive && ev.Source != domain.SourceLiveness
	switch {
	case r.Policy == PolicyStrict && ev.Confidence < domain.ConfidenceHigh && contradicted:
		return Decision{Ambiguous: true, Reason: "handle still alive"}
	case contradicted:
		return Decision{Close: true, Ambiguous: true, Reason: "closing despite live handle"}
	}
	return Decision{Close: true, Reason: string(ev.Source)}
}

// Debug renders a decision as a verbose event.
func (d Decision) Debug(ev domain.Evidence) *domain.DetectionDebug {
	decision := "ignore"
	if d.Close {
		decision = "close"
	}
	return &domain.DetectionDebug{
		Type:          "detection_debug",
		SchemaVersion: 1,
		SessionID:     ev.SessionID,
		Source:        string(ev.Source),
		Confidence:    ev.Confidence.String(),
		Decision:      decision,
		Ambiguous:     d.Ambiguous,
		Reason:        d.Reason,
	}
}
