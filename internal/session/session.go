// Package session manages per-user conversation state for the intake flow.
package session

import "time"

// Session captures one user's in-progress conversation. Step 0 means the
// conversation has not started; step i in 1..N means the session is waiting
// for the answer to step i.
type Session struct {
	UserID    string            `json:"user_id"`
	Step      int               `json:"step"`
	Fields    map[string]string `json:"fields"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// New returns an unstarted session for the given user.
func New(userID string) *Session {
	return &Session{
		UserID: userID,
		Step:   0,
		Fields: make(map[string]string),
	}
}

// Clone returns a deep copy so stored sessions never share a fields map
// with callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}

	copied := *s
	if s.Fields != nil {
		fields := make(map[string]string, len(s.Fields))
		for k, v := range s.Fields {
			fields[k] = v
		}
		copied.Fields = fields
	}

	return &copied
}
