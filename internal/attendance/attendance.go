package attendance

import (
	"time"
)

// Mark statuses. CANCELLED is only ever derived from the overlay; students
// mark OCCURRED or MISSED.
const (
	StatusOccurred  = "OCCURRED"
	StatusMissed    = "MISSED"
	StatusCancelled = "CANCELLED"
)

// Record is one user's mark for one concrete class instance, unique per
// (userID, streamID, subject, classDate, subjectIndex, isReplacement).
type Record struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	StreamID      string    `json:"stream_id"`
	Subject       string    `json:"subject_name"`
	ClassDate     time.Time `json:"class_date"`
	SubjectIndex  int       `json:"subject_index"`
	IsReplacement bool      `json:"is_replacement"`
	Status        string    `json:"status"`
	MarkedAt      time.Time `json:"marked_at"`
	// Display fields for replacement/added slots.
	OriginalSubject string `json:"original_subject,omitempty"`
	OriginalStart   string `json:"original_start,omitempty"`
	OriginalEnd     string `json:"original_end,omitempty"`
}

// BulkEntry is an append-only self-reported aggregate snapshot. It is never
// reconciled against daily records.
type BulkEntry struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	StreamID   string    `json:"stream_id"`
	Subject    string    `json:"subject_name"`
	Attended   int       `json:"attended"`
	Held       int       `json:"held"`
	RangeStart time.Time `json:"range_start"`
	RangeEnd   time.Time `json:"range_end"`
	CreatedAt  time.Time `json:"created_at"`
}
