package attendance

import (
	"context"
	"log"
	"strconv"
	"time"

	"classtrack/internal/apperrors"
	"classtrack/internal/dates"
	"classtrack/internal/metrics"
	"classtrack/internal/override"
	"classtrack/internal/stream"
	"classtrack/internal/timetable"
)

// Repository persists attendance records and bulk snapshots.
type Repository interface {
	// UpsertRecord writes a mark; re-marking the same key updates status and
	// markedAt only, never duplicates.
	UpsertRecord(ctx context.Context, rec Record) (Record, error)
	// CreateIfAbsent inserts a record unless its key already exists; an
	// existing key reports created=false with no error.
	CreateIfAbsent(ctx context.Context, rec Record) (created bool, err error)
	// ListUserRange fetches the user's records with classDate in [start, end].
	ListUserRange(ctx context.Context, userID, streamID string, start, end time.Time) ([]Record, error)
	AppendBulk(ctx context.Context, be BulkEntry) (BulkEntry, error)
	ListBulk(ctx context.Context, userID, streamID string) ([]BulkEntry, error)
}

// AccessChecker guards engine calls with stream membership checks.
type AccessChecker interface {
	RequireMember(ctx context.Context, userID, streamID string) error
}

// MemberLister enumerates stream members for pre-seed fan-out.
type MemberLister interface {
	ListMembers(ctx context.Context, streamID string) ([]stream.Member, error)
}

// Ledger validates and stores marks against the effective schedule.
type Ledger struct {
	repo       Repository
	timetables timetable.Repository
	overrides  override.Repository
	members    MemberLister
	access     AccessChecker
}

func NewLedger(repo Repository, tts timetable.Repository, ovs override.Repository, members MemberLister, access AccessChecker) *Ledger {
	return &Ledger{repo: repo, timetables: tts, overrides: ovs, members: members, access: access}
}

// effectiveDay expands one day and applies its overrides.
func (l *Ledger) effectiveDay(ctx context.Context, streamID string, day time.Time) ([]override.EffectiveEntry, error) {
	candidates, err := l.timetables.ListIntersecting(ctx, streamID, day, day)
	if err != nil {
		return nil, err
	}
	ovs, err := l.overrides.ListRange(ctx, streamID, day, day)
	if err != nil {
		return nil, err
	}
	return override.Apply(timetable.ExpandRange(candidates, day, day), ovs), nil
}

// Mark records a user's attendance for one effective slot. Marking a
// cancelled or replaced slot fails: the replacement instance must be marked
// instead, under its own subject index.
func (l *Ledger) Mark(ctx context.Context, userID, streamID, subject string, classDate time.Time, subjectIndex int, status string) (Record, error) {
	if err := l.access.RequireMember(ctx, userID, streamID); err != nil {
		return Record{}, err
	}
	if status != StatusOccurred && status != StatusMissed {
		return Record{}, apperrors.NewValidation("status must be OCCURRED or MISSED",
			apperrors.FieldError{Field: "status", Error: "must be OCCURRED or MISSED"})
	}
	day := dates.Day(classDate)
	slots, err := l.effectiveDay(ctx, streamID, day)
	if err != nil {
		return Record{}, err
	}
	var slot *override.EffectiveEntry
	for i := range slots {
		s := &slots[i]
		if s.Subject == subject && s.SubjectIndex == subjectIndex {
			slot = s
			break
		}
	}
	if slot == nil {
		return Record{}, apperrors.NewValidation("no class for this subject, date and index",
			apperrors.FieldError{Field: "subject_name", Error: "no effective slot matches"})
	}
	if slot.IsCancelled {
		return Record{}, apperrors.NewValidation("class was cancelled or replaced; mark the replacement instance instead")
	}

	rec, err := l.repo.UpsertRecord(ctx, Record{
		UserID:          userID,
		StreamID:        streamID,
		Subject:         subject,
		ClassDate:       day,
		SubjectIndex:    subjectIndex,
		IsReplacement:   slot.IsReplacement || slot.IsAdded,
		Status:          status,
		MarkedAt:        time.Now().UTC(),
		OriginalSubject: slot.OriginalSubject,
		OriginalStart:   slot.OriginalStart,
		OriginalEnd:     slot.OriginalEnd,
	})
	if err != nil {
		return Record{}, err
	}
	metrics.MarksRecorded.WithLabelValues(status).Inc()
	return rec, nil
}

// PreSeedResult summarizes a pre-seed batch.
type PreSeedResult struct {
	Seeded int `json:"seeded"`
	Failed int `json:"failed"`
}

// PreSeedOverride writes a MISSED record for every stream member for the
// slot a REPLACED or ADDED override synthesizes, so held counting is correct
// before any student marks. Existing records count as success; any other
// per-member failure is logged and skipped, never aborting the batch.
func (l *Ledger) PreSeedOverride(ctx context.Context, ov override.Override) (PreSeedResult, error) {
	var res PreSeedResult
	if ov.Type != override.TypeReplaced && ov.Type != override.TypeAdded {
		return res, nil
	}
	day := dates.Day(ov.ClassDate)
	slots, err := l.effectiveDay(ctx, ov.StreamID, day)
	if err != nil {
		return res, err
	}
	var slot *override.EffectiveEntry
	for i := range slots {
		s := &slots[i]
		if (s.IsReplacement || s.IsAdded) && s.OriginalSubject == ov.Subject && s.OriginalIndex == ov.EntryIndex {
			slot = s
			break
		}
	}
	if slot == nil {
		return res, apperrors.NewNotFound("override %s has no synthesized slot on %s", ov.ID, dates.FormatDay(day))
	}

	members, err := l.members.ListMembers(ctx, ov.StreamID)
	if err != nil {
		return res, err
	}
	for _, m := range members {
		created, err := l.repo.CreateIfAbsent(ctx, Record{
			UserID:          m.UserID,
			StreamID:        ov.StreamID,
			Subject:         slot.Subject,
			ClassDate:       day,
			SubjectIndex:    slot.SubjectIndex,
			IsReplacement:   true,
			Status:          StatusMissed,
			MarkedAt:        time.Now().UTC(),
			OriginalSubject: slot.OriginalSubject,
			OriginalStart:   slot.OriginalStart,
			OriginalEnd:     slot.OriginalEnd,
		})
		if err != nil {
			log.Printf("preseed stream=%s date=%s subject=%s user=%s failed: %v",
				ov.StreamID, dates.FormatDay(day), slot.Subject, m.UserID, err)
			res.Failed++
			continue
		}
		if created {
			metrics.PreseedRecords.Inc()
		}
		res.Seeded++
	}
	return res, nil
}

// SlotView is one effective slot with the calling user's status resolved.
type SlotView struct {
	override.EffectiveEntry
	Status string `json:"status"`
}

// WeeklyView resolves the effective schedule for the week starting at
// weekStart with the user's own status per slot: CANCELLED for overlaid
// cancellations, otherwise the stored mark, otherwise the implicit MISSED.
func (l *Ledger) WeeklyView(ctx context.Context, userID, streamID string, weekStart time.Time) ([]SlotView, error) {
	if err := l.access.RequireMember(ctx, userID, streamID); err != nil {
		return nil, err
	}
	start := dates.Day(weekStart)
	end := start.AddDate(0, 0, 6)

	candidates, err := l.timetables.ListIntersecting(ctx, streamID, start, end)
	if err != nil {
		return nil, err
	}
	ovs, err := l.overrides.ListRange(ctx, streamID, start, end)
	if err != nil {
		return nil, err
	}
	recs, err := l.repo.ListUserRange(ctx, userID, streamID, start, end)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]Record, len(recs))
	for _, rec := range recs {
		byKey[recordKey(rec.Subject, rec.ClassDate, rec.SubjectIndex, rec.IsReplacement)] = rec
	}

	slots := override.Apply(timetable.ExpandRange(candidates, start, end), ovs)
	out := make([]SlotView, 0, len(slots))
	for _, s := range slots {
		view := SlotView{EffectiveEntry: s, Status: StatusMissed}
		if s.IsCancelled {
			view.Status = StatusCancelled
		} else if rec, ok := byKey[recordKey(s.Subject, s.Date, s.SubjectIndex, s.IsReplacement || s.IsAdded)]; ok {
			view.Status = rec.Status
		}
		out = append(out, view)
	}
	return out, nil
}

func recordKey(subject string, date time.Time, index int, isReplacement bool) string {
	k := subject + "|" + dates.FormatDay(date) + "|" + strconv.Itoa(index)
	if isReplacement {
		k += "|r"
	}
	return k
}

// AddBulk appends a self-reported aggregate snapshot.
func (l *Ledger) AddBulk(ctx context.Context, userID, streamID, subject string, attended, held int, rangeStart, rangeEnd time.Time) (BulkEntry, error) {
	if err := l.access.RequireMember(ctx, userID, streamID); err != nil {
		return BulkEntry{}, err
	}
	if subject == "" {
		return BulkEntry{}, apperrors.NewValidation("subject required",
			apperrors.FieldError{Field: "subject_name", Error: "required"})
	}
	if attended < 0 || held < 0 || attended > held {
		return BulkEntry{}, apperrors.NewValidation("attended must be within [0, held]",
			apperrors.FieldError{Field: "attended", Error: "must satisfy 0 <= attended <= held"})
	}
	if dates.Day(rangeEnd).Before(dates.Day(rangeStart)) {
		return BulkEntry{}, apperrors.NewValidation("range end before start",
			apperrors.FieldError{Field: "range_end", Error: "must not precede range_start"})
	}
	return l.repo.AppendBulk(ctx, BulkEntry{
		UserID:     userID,
		StreamID:   streamID,
		Subject:    subject,
		Attended:   attended,
		Held:       held,
		RangeStart: dates.Day(rangeStart),
		RangeEnd:   dates.Day(rangeEnd),
		CreatedAt:  time.Now().UTC(),
	})
}

// Bulk lists the user's snapshots, newest first.
func (l *Ledger) Bulk(ctx context.Context, userID, streamID string) ([]BulkEntry, error) {
	if err := l.access.RequireMember(ctx, userID, streamID); err != nil {
		return nil, err
	}
	return l.repo.ListBulk(ctx, userID, streamID)
}
