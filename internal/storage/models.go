package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// User is a known wearer whose device uid maps webhook traffic to an account.
type User struct {
	ID        string
	UID       string
	Email     string
	Timezone  string
	CreatedAt time.Time
}

// Session is one raw webhook delivery, kept verbatim for auditing.
type Session struct {
	ID        string
	UserID    string
	SessionID string
	Host      string
	RawJSON   string
	CreatedAt time.Time
}

// Segment is the permanent transcript record. The pipeline only ever flips
// Processed and SummaryID; segments are created at ingest time and never
// deleted.
type Segment struct {
	ID        string
	SessionID string
	UserID    string
	Text      string
	Speaker   string
	SpeakerID int
	IsUser    bool
	StartTime float64
	EndTime   float64
	Timestamp time.Time
	SummaryID string // empty until folded into a summary
	Processed bool
}

// Fragment is the staging copy of a segment awaiting summarization. It is
// deleted on successful commit or after exhausting its attempt budget.
type Fragment struct {
	ID                 string
	UserID             string
	SegmentID          string
	Speaker            string
	Text               string
	Timestamp          time.Time
	CreatedAt          time.Time
	Locked             bool
	LockTimestamp      time.Time // zero unless Locked
	ProcessedAt        time.Time // zero while pending
	ProcessingAttempts int
}

// Summary is a generated recap of one chunk of conversation. Timestamp is
// the arrival time of the earliest fragment in the chunk, not the creation
// time, so recaps sort by when the conversation happened.
type Summary struct {
	ID           string
	UserID       string
	Headline     string
	BulletPoints []string
	Tag          string // empty when the model declined to classify
	FactChecks   []string
	Timestamp    time.Time
	CreatedAt    time.Time
}

// UserBacklog is a per-user pending fragment count for diagnostics.
type UserBacklog struct {
	UserID  string
	Pending int
}
