package gateway

import (
	"net/url"
	"strconv"
)

// SessionState holds the mutable per-connection session facts. It is owned by
// the manager loop and needs no locking.
type SessionState struct {
	SessionID    string
	ResumeURL    string
	LastSequence *int64
	ShouldResume bool
}

// CanResume reports whether the next connection should send RESUME
func (s *SessionState) CanResume() bool {
	return s.SessionID != "" && s.ShouldResume
}

// Observe records the sequence number of an inbound frame, if any
func (s *SessionState) Observe(seq *int64) {
	if seq == nil {
		return
	}
	v := *seq
	s.LastSequence = &v
}

// Establish records a new session from a READY dispatch
func (s *SessionState) Establish(sessionID, resumeURL string) {
	s.SessionID = sessionID
	s.ResumeURL = resumeURL
	s.ShouldResume = false
}

// Reset forgets everything; used when the session cannot be resumed
func (s *SessionState) Reset() {
	*s = SessionState{}
}

// resumeTarget appends the protocol version and encoding to the stored resume url
func resumeTarget(base string, version int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("v", strconv.Itoa(version))
	q.Set("encoding", "json")
	u.RawQuery = q.Encode()
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}
