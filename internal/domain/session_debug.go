package domain

// DetectionDebug is an optional verbose event describing how a detector signal
// was reconciled.
type DetectionDebug struct {
	Type          string `json:"type"` // detection_debug
	SchemaVersion int    `json:"schemaVersion"`
	SessionID     string `json:"session_id,omitempty"`
	Source        string `json:"source"`
	Confidence    string `json:"confidence"`
	Decision      string `json:"decision"` // close, ignore
	Ambiguous     bool   `json:"ambiguous,omitempty"`
	Reason        string `json:"reason,omitempty"`
}
