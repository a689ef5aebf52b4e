package domain

import "time"

// EvidenceSource names the detector that produced a closure signal.
type EvidenceSource string

const (
	SourceLiveness    EvidenceSource = "liveness"
	SourceHeartbeat   EvidenceSource = "heartbeat"
	SourceFocus       EvidenceSource = "focus"
	SourceClosing     EvidenceSource = "closing"
	SourceSibling     EvidenceSource = "sibling"
	SourceSafetyValve EvidenceSource = "safety-valve"
	SourceManual      EvidenceSource = "manual"
)

// Confidence is how much a detector signal is trusted.
type Confidence int

const (
	ConfidenceLow Confidence = iota
	ConfidenceMedium
	ConfidenceHigh
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceHigh:
		return "high"
	case ConfidenceMedium:
		return "medium"
	default:
		return "low"
	}
}

// DefaultConfidence returns the trust level assigned to a source.
func DefaultConfidence(src EvidenceSource) Confidence {
	switch src {
	case SourceLiveness, SourceClosing, SourceSibling, SourceSafetyValve, SourceManual:
		return ConfidenceHigh
	case SourceHeartbeat:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Evidence is a tagged detector signal that the external session has closed.
type Evidence struct {
	Source     EvidenceSource
	Confidence Confidence
	At         time.Time
	SessionID  string
	Detail     string
}

// NewEvidence builds evidence with the source's default confidence.
func NewEvidence(src EvidenceSource, sessionID string, at time.Time, detail string) Evidence {
	return Evidence{
		Source:     src,
		Confidence: DefaultConfidence(src),
		At:         at,
		SessionID:  sessionID,
		Detail:     detail,
	}
}
