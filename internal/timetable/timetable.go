package timetable

import (
	"sort"
	"time"

	"classtrack/internal/dates"
)

// Timetable is one version of a stream's weekly recurring schedule. Versions
// never overlap: at most one timetable is active on any given day.
type Timetable struct {
	ID         string     `json:"id"`
	StreamID   string     `json:"stream_id"`
	ValidFrom  time.Time  `json:"valid_from"`            // inclusive day
	ValidUntil *time.Time `json:"valid_until,omitempty"` // inclusive day, nil = open-ended
	Entries    []Entry    `json:"entries"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Entry is one weekly recurring slot. Entries are immutable once created.
type Entry struct {
	ID         string `json:"id"`
	DayOfWeek  int    `json:"day_of_week"` // ISO: 1=Monday .. 7=Sunday
	Subject    string `json:"subject_name"`
	CourseCode string `json:"course_code,omitempty"`
	StartTime  string `json:"start_time,omitempty"` // HH:MM, empty = unset
	EndTime    string `json:"end_time,omitempty"`
}

// ScheduleEntry is one concrete per-date class instance produced by expansion.
type ScheduleEntry struct {
	Date         time.Time `json:"date"`
	DayOfWeek    int       `json:"day_of_week"`
	Subject      string    `json:"subject_name"`
	CourseCode   string    `json:"course_code,omitempty"`
	StartTime    string    `json:"start_time,omitempty"`
	EndTime      string    `json:"end_time,omitempty"`
	SubjectIndex int       `json:"subject_index"`
}

// ActiveOn resolves the timetable active on date from a candidate set: the one
// with maximal validFrom <= date, provided its validUntil (if any) has not
// passed. Returns nil when no version is active that day.
func ActiveOn(candidates []Timetable, date time.Time) *Timetable {
	date = dates.Day(date)
	var best *Timetable
	for i := range candidates {
		tt := &candidates[i]
		from := dates.Day(tt.ValidFrom)
		if from.After(date) {
			continue
		}
		if best == nil || from.After(dates.Day(best.ValidFrom)) {
			best = tt
		}
	}
	if best == nil {
		return nil
	}
	if best.ValidUntil != nil && dates.Day(*best.ValidUntil).Before(date) {
		return nil
	}
	return best
}

// ExpandRange expands the candidate timetables into concrete per-date
// instances for every day in [start, end]. Within one date, entries are
// ordered by (subject, start time) with missing start times last, and each
// entry's SubjectIndex is the count of same-subject instances already
// assigned that day. The assignment depends only on the entry set, never on
// input order.
func ExpandRange(candidates []Timetable, start, end time.Time) []ScheduleEntry {
	var out []ScheduleEntry
	for _, day := range dates.DaysBetween(start, end) {
		tt := ActiveOn(candidates, day)
		if tt == nil {
			continue
		}
		out = append(out, expandDay(tt, day)...)
	}
	return out
}

func expandDay(tt *Timetable, day time.Time) []ScheduleEntry {
	dow := dates.ISOWeekday(day)
	var todays []Entry
	for _, e := range tt.Entries {
		if e.DayOfWeek == dow {
			todays = append(todays, e)
		}
	}
	sort.Slice(todays, func(i, j int) bool {
		a, b := todays[i], todays[j]
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		if a.StartTime != b.StartTime {
			// Entries without a start time sort last.
			if a.StartTime == "" {
				return false
			}
			if b.StartTime == "" {
				return true
			}
			return a.StartTime < b.StartTime
		}
		if a.EndTime != b.EndTime {
			return a.EndTime < b.EndTime
		}
		return a.CourseCode < b.CourseCode
	})

	seen := make(map[string]int)
	out := make([]ScheduleEntry, 0, len(todays))
	for _, e := range todays {
		idx := seen[e.Subject]
		seen[e.Subject]++
		out = append(out, ScheduleEntry{
			Date:         day,
			DayOfWeek:    dow,
			Subject:      e.Subject,
			CourseCode:   e.CourseCode,
			StartTime:    e.StartTime,
			EndTime:      e.EndTime,
			SubjectIndex: idx,
		})
	}
	return out
}
