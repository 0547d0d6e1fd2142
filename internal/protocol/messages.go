package protocol

import (
	"strings"
	"time"

	"github.com/loqalabs/loqa-sign/internal/landmark"
)

// LandmarkFrame is one tracker frame streamed from a capture client.
type LandmarkFrame struct {
	SessionID string           `json:"session_id"`
	Sequence  int              `json:"sequence"`
	Pose      []landmark.Point `json:"pose,omitempty"`
	Face      []landmark.Point `json:"face,omitempty"`
	LeftHand  []landmark.Point `json:"left_hand,omitempty"`
	RightHand []landmark.Point `json:"right_hand,omitempty"`
}

// Sample strips transport fields from the frame.
func (f LandmarkFrame) Sample() landmark.Sample {
	return landmark.Sample{
		Pose:      f.Pose,
		Face:      f.Face,
		LeftHand:  f.LeftHand,
		RightHand: f.RightHand,
	}
}

// TranscriptUpdate is broadcast whenever a session transcript changes.
type TranscriptUpdate struct {
	SessionID  string    `json:"session_id"`
	Kind       string    `json:"kind"`
	Text       string    `json:"text"`
	Fragment   string    `json:"fragment,omitempty"`
	Confidence float64   `json:"confidence"`
	Language   string    `json:"language"`
	Generation uint64    `json:"generation"`
	Revision   uint64    `json:"revision"`
	Timestamp  time.Time `json:"timestamp"`
}

// Control actions accepted on the control subject.
const (
	ActionReset    = "reset"
	ActionReplace  = "replace"
	ActionStop     = "stop"
	ActionLanguage = "language"
	ActionImprove  = "improve"
)

// Control carries a user-triggered action for one session.
type Control struct {
	SessionID string `json:"session_id"`
	Action    string `json:"action"`
	Text      string `json:"text,omitempty"`
	Language  string `json:"language,omitempty"`
}

// GateStatus reports dispatch readiness so clients can disable controls.
type GateStatus struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Until     time.Time `json:"until,omitzero"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectLandmarkFramePrefix = "landmark.frame"
	SubjectTranscriptPrefix    = "sign.text"
	SubjectControlPrefix       = "sign.control"
	SubjectGatePrefix          = "sign.gate"
)

// SessionSubject joins prefix and session ID into a concrete subject.
func SessionSubject(prefix, sessionID string) string {
	return prefix + "." + sessionID
}

// ValidSessionID reports whether id can be used as a single subject token.
func ValidSessionID(id string) bool {
	return id != "" && !strings.ContainsAny(id, ".*> \t\r\n")
}

// SessionFromSubject returns the trailing session token of subject, or "" if
// subject does not start with prefix.
func SessionFromSubject(prefix, subject string) string {
	rest, ok := strings.CutPrefix(subject, prefix+".")
	if !ok || !ValidSessionID(rest) {
		return ""
	}
	return rest
}
