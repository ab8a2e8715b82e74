package analytics

import (
	"context"
	"math"
	"sort"
	"time"

	"classtrack/internal/apperrors"
	"classtrack/internal/attendance"
	"classtrack/internal/dates"
	"classtrack/internal/override"
	"classtrack/internal/timetable"
)

// AccessChecker guards engine calls with stream membership checks.
type AccessChecker interface {
	RequireMember(ctx context.Context, userID, streamID string) error
}

// Engine aggregates scheduled/held/cancelled/replaced counts and attendance
// percentages, and computes forward projections.
type Engine struct {
	timetables timetable.Repository
	overrides  override.Repository
	records    attendance.Repository
	access     AccessChecker
}

func NewEngine(tts timetable.Repository, ovs override.Repository, recs attendance.Repository, access AccessChecker) *Engine {
	return &Engine{timetables: tts, overrides: ovs, records: recs, access: access}
}

// SubjectStats is the per-subject aggregate over a range.
type SubjectStats struct {
	Subject      string   `json:"subject_name"`
	CourseCode   string   `json:"course_code,omitempty"`
	Scheduled    int      `json:"scheduled"`
	Cancelled    int      `json:"cancelled"`
	Replacements int      `json:"replacements"`
	Held         int      `json:"held"`
	Attended     int      `json:"attended"`
	Percentage   *float64 `json:"percentage"` // nil when held == 0, never NaN
}

// StreamStats is the full per-user aggregate for a stream and range.
type StreamStats struct {
	StreamID          string         `json:"stream_id"`
	UserID            string         `json:"user_id"`
	RangeStart        time.Time      `json:"range_start"`
	RangeEnd          time.Time      `json:"range_end"`
	Subjects          []SubjectStats `json:"subjects"`
	TotalHeld         int            `json:"total_held"`
	TotalAttended     int            `json:"total_attended"`
	OverallPercentage *float64       `json:"overall_percentage"`
}

// rangeCounts walks [start, end] once: scheduled occurrences per subject from
// a single batched timetable fetch, override classification from a single
// batched override fetch. subjectFilter narrows everything to one subject.
type rangeCounts struct {
	scheduled    map[string]int
	cancelled    map[string]int
	replacements map[string]int
	courseCodes  map[string]string
	// cancelledSlots holds the slot keys whose original instance is overlaid
	// CANCELLED or REPLACED; marks stored against them no longer count.
	cancelledSlots map[string]struct{}
}

func (e *Engine) countRange(ctx context.Context, streamID string, start, end time.Time, subjectFilter string) (rangeCounts, error) {
	rc := rangeCounts{
		scheduled:      make(map[string]int),
		cancelled:      make(map[string]int),
		replacements:   make(map[string]int),
		courseCodes:    make(map[string]string),
		cancelledSlots: make(map[string]struct{}),
	}
	if end.Before(start) {
		return rc, nil
	}
	candidates, err := e.timetables.ListIntersecting(ctx, streamID, start, end)
	if err != nil {
		return rc, err
	}
	for _, entry := range timetable.ExpandRange(candidates, start, end) {
		if subjectFilter != "" && entry.Subject != subjectFilter {
			continue
		}
		rc.scheduled[entry.Subject]++
		if _, ok := rc.courseCodes[entry.Subject]; !ok && entry.CourseCode != "" {
			rc.courseCodes[entry.Subject] = entry.CourseCode
		}
	}

	ovs, err := e.overrides.ListRange(ctx, streamID, start, end)
	if err != nil {
		return rc, err
	}
	for _, ov := range ovs {
		if ov.Type == override.TypeCancelled || ov.Type == override.TypeReplaced {
			rc.cancelledSlots[override.SlotKey(ov.ClassDate, ov.Subject, ov.EntryIndex)] = struct{}{}
		}
	}
	counts := override.Classify(ovs)
	for subject, n := range counts.Cancelled {
		if subjectFilter != "" && subject != subjectFilter {
			continue
		}
		rc.cancelled[subject] = n
	}
	for subject, n := range counts.Replacements {
		if subjectFilter != "" && subject != subjectFilter {
			continue
		}
		rc.replacements[subject] = n
		if _, ok := rc.courseCodes[subject]; !ok {
			if code, ok := counts.CourseCodes[subject]; ok {
				rc.courseCodes[subject] = code
			}
		}
	}
	return rc, nil
}

// attendedCounts tallies the user's OCCURRED records per subject over the
// range. A mark stored before its slot was overlaid CANCELLED or REPLACED is
// superseded: it stays in the ledger but no longer counts. Replacement and
// added instances carry their own slot keys and are never superseded by the
// override that created them.
func (e *Engine) attendedCounts(ctx context.Context, userID, streamID string, start, end time.Time, subjectFilter string, cancelledSlots map[string]struct{}) (map[string]int, error) {
	recs, err := e.records.ListUserRange(ctx, userID, streamID, start, end)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, rec := range recs {
		if rec.Status != attendance.StatusOccurred {
			continue
		}
		if subjectFilter != "" && rec.Subject != subjectFilter {
			continue
		}
		if !rec.IsReplacement {
			if _, gone := cancelledSlots[override.SlotKey(rec.ClassDate, rec.Subject, rec.SubjectIndex)]; gone {
				continue
			}
		}
		counts[rec.Subject]++
	}
	return counts, nil
}

// resolveRange applies the default range policy: start falls back to the
// stream's earliest timetable validFrom, then epoch; end falls back to today.
func (e *Engine) resolveRange(ctx context.Context, streamID string, from, to *time.Time) (time.Time, time.Time, error) {
	var start, end time.Time
	if from != nil {
		start = dates.Day(*from)
	} else {
		earliest, err := e.timetables.EarliestTimetable(ctx, streamID)
		switch {
		case err == nil:
			start = dates.Day(earliest.ValidFrom)
		case apperrors.IsNotFound(err):
			start = time.Unix(0, 0).UTC()
		default:
			return start, end, err
		}
	}
	if to != nil {
		end = dates.Day(*to)
	} else {
		end = dates.Today()
	}
	return start, end, nil
}

// StreamStats reconciles per-user attendance against the effective schedule
// over a range. Every counting path shares countRange, so held counts agree
// with the overlay by construction.
func (e *Engine) StreamStats(ctx context.Context, callerID, streamID, targetUser string, from, to *time.Time) (StreamStats, error) {
	if err := e.access.RequireMember(ctx, callerID, streamID); err != nil {
		return StreamStats{}, err
	}
	if targetUser == "" {
		targetUser = callerID
	}
	start, end, err := e.resolveRange(ctx, streamID, from, to)
	if err != nil {
		return StreamStats{}, err
	}

	rc, err := e.countRange(ctx, streamID, start, end, "")
	if err != nil {
		return StreamStats{}, err
	}
	attended, err := e.attendedCounts(ctx, targetUser, streamID, start, end, "", rc.cancelledSlots)
	if err != nil {
		return StreamStats{}, err
	}

	// Union of subjects that were scheduled or used as replacement target.
	subjects := make(map[string]struct{})
	for s := range rc.scheduled {
		subjects[s] = struct{}{}
	}
	for s := range rc.replacements {
		subjects[s] = struct{}{}
	}

	stats := StreamStats{
		StreamID:   streamID,
		UserID:     targetUser,
		RangeStart: start,
		RangeEnd:   end,
	}
	for subject := range subjects {
		held := heldCount(rc.scheduled[subject], rc.cancelled[subject], rc.replacements[subject])
		ss := SubjectStats{
			Subject:      subject,
			CourseCode:   rc.courseCodes[subject],
			Scheduled:    rc.scheduled[subject],
			Cancelled:    rc.cancelled[subject],
			Replacements: rc.replacements[subject],
			Held:         held,
			Attended:     attended[subject],
			Percentage:   percentage(attended[subject], held),
		}
		stats.TotalHeld += ss.Held
		stats.TotalAttended += ss.Attended
		stats.Subjects = append(stats.Subjects, ss)
	}
	sort.Slice(stats.Subjects, func(i, j int) bool {
		return stats.Subjects[i].Subject < stats.Subjects[j].Subject
	})
	stats.OverallPercentage = percentage(stats.TotalAttended, stats.TotalHeld)
	return stats, nil
}

// heldCount is the derived invariant shared by every computation path:
// held = max(0, scheduled - cancelled) + replacements.
func heldCount(scheduled, cancelled, replacements int) int {
	base := scheduled - cancelled
	if base < 0 {
		base = 0
	}
	return base + replacements
}

// percentage returns attended/held as a percentage rounded to 2 decimals, or
// nil when held is zero. Callers must not conflate nil with a true 0%.
func percentage(attended, held int) *float64 {
	if held == 0 {
		return nil
	}
	p := round2(float64(attended) / float64(held) * 100)
	return &p
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
