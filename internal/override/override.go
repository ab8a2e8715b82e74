package override

import (
	"fmt"
	"sort"
	"time"

	"classtrack/internal/apperrors"
	"classtrack/internal/dates"
	"classtrack/internal/timetable"
)

// Type discriminates the override union.
type Type string

const (
	TypeCancelled Type = "CANCELLED"
	TypeReplaced  Type = "REPLACED"
	TypeAdded     Type = "ADDED"
)

// Replacement carries the synthesized slot's subject and optional fields.
// Present exactly when Type is REPLACED or ADDED.
type Replacement struct {
	Subject    string `json:"subject_name"`
	CourseCode string `json:"course_code,omitempty"`
	StartTime  string `json:"start_time,omitempty"`
	EndTime    string `json:"end_time,omitempty"`
}

// Override is one admin-authored dated exception to the recurring schedule,
// unique per (streamID, classDate, subject, entryIndex).
type Override struct {
	ID          string       `json:"id"`
	StreamID    string       `json:"stream_id"`
	ClassDate   time.Time    `json:"class_date"`
	Subject     string       `json:"subject_name"` // original subject of the keyed slot
	EntryIndex  int          `json:"entry_index"`
	Type        Type         `json:"override_type"`
	Replacement *Replacement `json:"replacement,omitempty"`
	CreatedBy   string       `json:"created_by"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Validate enforces the tagged union: CANCELLED carries no replacement
// fields, REPLACED and ADDED require a replacement subject.
func (o Override) Validate() error {
	switch o.Type {
	case TypeCancelled:
		if o.Replacement != nil {
			return apperrors.NewValidation("CANCELLED override must not carry replacement fields",
				apperrors.FieldError{Field: "replacement", Error: "not allowed for CANCELLED"})
		}
	case TypeReplaced, TypeAdded:
		if o.Replacement == nil || o.Replacement.Subject == "" {
			return apperrors.NewValidation(string(o.Type)+" override requires a replacement subject",
				apperrors.FieldError{Field: "replacement.subject_name", Error: "required"})
		}
	default:
		return apperrors.NewValidation("unknown override type",
			apperrors.FieldError{Field: "override_type", Error: "must be CANCELLED, REPLACED or ADDED"})
	}
	if o.Subject == "" {
		return apperrors.NewValidation("original subject required",
			apperrors.FieldError{Field: "subject_name", Error: "required"})
	}
	if o.EntryIndex < 0 {
		return apperrors.NewValidation("entry index must not be negative",
			apperrors.FieldError{Field: "entry_index", Error: "must be >= 0"})
	}
	return nil
}

// SlotKey identifies one effective slot within a stream: date, subject and
// the deterministic per-day index.
func SlotKey(date time.Time, subject string, index int) string {
	return fmt.Sprintf("%s|%s|%d", dates.FormatDay(date), subject, index)
}

// EffectiveEntry is a per-date class instance after the overlay: the base
// schedule with cancellations applied and replacement/added slots synthesized.
type EffectiveEntry struct {
	timetable.ScheduleEntry
	IsReplacement   bool   `json:"is_replacement,omitempty"`
	IsAdded         bool   `json:"is_added,omitempty"`
	IsCancelled     bool   `json:"is_cancelled,omitempty"`
	OriginalSubject string `json:"original_subject,omitempty"`
	OriginalIndex   int    `json:"original_index,omitempty"` // entry index of the overridden slot
	OriginalStart   string `json:"original_start,omitempty"`
	OriginalEnd     string `json:"original_end,omitempty"`
}

// Apply overlays overrides onto an expanded schedule. Cancelled and replaced
// originals stay in the output flagged IsCancelled; every REPLACED or ADDED
// override contributes one synthesized slot. A replacement's SubjectIndex is
// one past the highest index already used by its subject that day, so it never
// collides with naturally scheduled occurrences; an added slot uses the
// override's entry index directly.
func Apply(entries []timetable.ScheduleEntry, overrides []Override) []EffectiveEntry {
	byKey := make(map[string]Override, len(overrides))
	for _, ov := range overrides {
		byKey[SlotKey(ov.ClassDate, ov.Subject, ov.EntryIndex)] = ov
	}

	maxIdx := make(map[string]int) // date|subject -> highest index seen
	bump := func(date time.Time, subject string, idx int) {
		k := dates.FormatDay(date) + "|" + subject
		if cur, ok := maxIdx[k]; !ok || idx > cur {
			maxIdx[k] = idx
		}
	}

	out := make([]EffectiveEntry, 0, len(entries))
	for _, e := range entries {
		eff := EffectiveEntry{ScheduleEntry: e}
		if ov, ok := byKey[SlotKey(e.Date, e.Subject, e.SubjectIndex)]; ok {
			switch ov.Type {
			case TypeCancelled, TypeReplaced:
				eff.IsCancelled = true
			}
		}
		bump(e.Date, e.Subject, e.SubjectIndex)
		out = append(out, eff)
	}

	// Synthesize replacement and added slots in a deterministic order.
	synth := make([]Override, 0, len(overrides))
	for _, ov := range overrides {
		if ov.Type == TypeReplaced || ov.Type == TypeAdded {
			synth = append(synth, ov)
		}
	}
	sort.Slice(synth, func(i, j int) bool {
		a, b := synth[i], synth[j]
		if !a.ClassDate.Equal(b.ClassDate) {
			return a.ClassDate.Before(b.ClassDate)
		}
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		return a.EntryIndex < b.EntryIndex
	})

	for _, ov := range synth {
		repl := *ov.Replacement
		day := dates.Day(ov.ClassDate)
		eff := EffectiveEntry{
			ScheduleEntry: timetable.ScheduleEntry{
				Date:       day,
				DayOfWeek:  dates.ISOWeekday(day),
				Subject:    repl.Subject,
				CourseCode: repl.CourseCode,
				StartTime:  repl.StartTime,
				EndTime:    repl.EndTime,
			},
			OriginalSubject: ov.Subject,
			OriginalIndex:   ov.EntryIndex,
		}
		switch ov.Type {
		case TypeReplaced:
			eff.IsReplacement = true
			// Inherit the original slot's time window unless explicit
			// replacement times are given.
			if orig := findSlot(entries, day, ov.Subject, ov.EntryIndex); orig != nil {
				eff.OriginalStart = orig.StartTime
				eff.OriginalEnd = orig.EndTime
				if eff.StartTime == "" {
					eff.StartTime = orig.StartTime
				}
				if eff.EndTime == "" {
					eff.EndTime = orig.EndTime
				}
			}
			k := dates.FormatDay(day) + "|" + repl.Subject
			if cur, ok := maxIdx[k]; ok {
				eff.SubjectIndex = cur + 1
			}
			bump(day, repl.Subject, eff.SubjectIndex)
		case TypeAdded:
			eff.IsAdded = true
			eff.SubjectIndex = ov.EntryIndex
			bump(day, repl.Subject, eff.SubjectIndex)
		}
		out = append(out, eff)
	}
	return out
}

func findSlot(entries []timetable.ScheduleEntry, day time.Time, subject string, index int) *timetable.ScheduleEntry {
	for i := range entries {
		e := &entries[i]
		if e.Subject == subject && e.SubjectIndex == index && dates.Day(e.Date).Equal(day) {
			return e
		}
	}
	return nil
}

// Counts is the canonical override classification used by every counting
// path: cancelled per original subject, replacements per replacement subject.
type Counts struct {
	Cancelled    map[string]int
	Replacements map[string]int
	CourseCodes  map[string]string // replacement subject -> course code, first seen
}

// Classify tallies overrides once per key: CANCELLED and REPLACED increment
// the original subject's cancelled count; REPLACED and ADDED increment the
// replacement subject's replacement count.
func Classify(overrides []Override) Counts {
	c := Counts{
		Cancelled:    make(map[string]int),
		Replacements: make(map[string]int),
		CourseCodes:  make(map[string]string),
	}
	for _, ov := range overrides {
		switch ov.Type {
		case TypeCancelled:
			c.Cancelled[ov.Subject]++
		case TypeReplaced:
			c.Cancelled[ov.Subject]++
			c.Replacements[ov.Replacement.Subject]++
			if _, ok := c.CourseCodes[ov.Replacement.Subject]; !ok && ov.Replacement.CourseCode != "" {
				c.CourseCodes[ov.Replacement.Subject] = ov.Replacement.CourseCode
			}
		case TypeAdded:
			c.Replacements[ov.Replacement.Subject]++
			if _, ok := c.CourseCodes[ov.Replacement.Subject]; !ok && ov.Replacement.CourseCode != "" {
				c.CourseCodes[ov.Replacement.Subject] = ov.Replacement.CourseCode
			}
		}
	}
	return c
}
