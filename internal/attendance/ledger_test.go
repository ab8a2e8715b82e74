package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classtrack/internal/apperrors"
	"classtrack/internal/dates"
	"classtrack/internal/override"
	"classtrack/internal/stream"
	"classtrack/internal/timetable"
)

func day(s string) time.Time {
	d, err := dates.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fixture struct {
	ledger   *Ledger
	records  *MemoryRepository
	tts      *timetable.MemoryRepository
	ovs      *override.MemoryRepository
	streams  *stream.Service
	streamID string
}

// newFixture builds a stream with an admin and two students, plus a
// timetable with two Monday Math sessions and one Wednesday Physics session.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	streamRepo := stream.NewMemoryRepository()
	streams := stream.NewService(streamRepo)
	s, err := streams.Create(ctx, "CS-2025", "admin")
	require.NoError(t, err)
	require.NoError(t, streams.AddMember(ctx, "admin", s.ID, "alice", stream.RoleStudent))
	require.NoError(t, streams.AddMember(ctx, "admin", s.ID, "bob", stream.RoleStudent))

	tts := timetable.NewMemoryRepository()
	_, err = tts.CreateTimetable(ctx, timetable.Timetable{
		StreamID:  s.ID,
		ValidFrom: day("2025-01-01"),
		Entries: []timetable.Entry{
			{DayOfWeek: 1, Subject: "Math", StartTime: "09:00", EndTime: "10:00"},
			{DayOfWeek: 1, Subject: "Math", StartTime: "14:00", EndTime: "15:00"},
			{DayOfWeek: 3, Subject: "Physics", StartTime: "11:00", EndTime: "12:00"},
		},
	})
	require.NoError(t, err)

	ovs := override.NewMemoryRepository()
	records := NewMemoryRepository()
	return &fixture{
		ledger:   NewLedger(records, tts, ovs, streamRepo, streams),
		records:  records,
		tts:      tts,
		ovs:      ovs,
		streams:  streams,
		streamID: s.ID,
	}
}

func TestMarkAndRemark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.ledger.Mark(ctx, "alice", f.streamID, "Math", day("2025-01-06"), 0, StatusOccurred)
	require.NoError(t, err)
	assert.Equal(t, StatusOccurred, rec.Status)
	assert.False(t, rec.IsReplacement)

	// Re-marking the same key flips the status without duplicating.
	rec2, err := f.ledger.Mark(ctx, "alice", f.streamID, "Math", day("2025-01-06"), 0, StatusMissed)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, rec2.ID)
	assert.Equal(t, StatusMissed, rec2.Status)

	all, err := f.records.ListUserRange(ctx, "alice", f.streamID, day("2025-01-01"), day("2025-01-31"))
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, StatusMissed, all[0].Status)
}

func TestMarkValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// CANCELLED is not a student-assignable status.
	_, err := f.ledger.Mark(ctx, "alice", f.streamID, "Math", day("2025-01-06"), 0, StatusCancelled)
	assert.True(t, apperrors.IsValidation(err))

	// No such slot that day.
	_, err = f.ledger.Mark(ctx, "alice", f.streamID, "Math", day("2025-01-07"), 0, StatusOccurred)
	assert.True(t, apperrors.IsValidation(err))

	// Index out of range for the subject.
	_, err = f.ledger.Mark(ctx, "alice", f.streamID, "Math", day("2025-01-06"), 2, StatusOccurred)
	assert.True(t, apperrors.IsValidation(err))

	// Non-members are rejected before any lookup.
	_, err = f.ledger.Mark(ctx, "mallory", f.streamID, "Math", day("2025-01-06"), 0, StatusOccurred)
	assert.True(t, apperrors.IsForbidden(err))
}

func TestMarkCancelledSlotFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ovs.Upsert(ctx, override.Override{
		StreamID: f.streamID, ClassDate: day("2025-01-06"),
		Subject: "Math", EntryIndex: 0, Type: override.TypeCancelled,
	})
	require.NoError(t, err)

	_, err = f.ledger.Mark(ctx, "alice", f.streamID, "Math", day("2025-01-06"), 0, StatusOccurred)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err), "marking a cancelled slot is a validation error")

	// The sibling session is unaffected.
	_, err = f.ledger.Mark(ctx, "alice", f.streamID, "Math", day("2025-01-06"), 1, StatusOccurred)
	assert.NoError(t, err)
}

func TestMarkReplacedSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ovs.Upsert(ctx, override.Override{
		StreamID: f.streamID, ClassDate: day("2025-01-06"),
		Subject: "Math", EntryIndex: 0, Type: override.TypeReplaced,
		Replacement: &override.Replacement{Subject: "Physics"},
	})
	require.NoError(t, err)

	// The replaced original rejects marks.
	_, err = f.ledger.Mark(ctx, "alice", f.streamID, "Math", day("2025-01-06"), 0, StatusOccurred)
	assert.True(t, apperrors.IsValidation(err))

	// The replacement instance accepts them under its own index.
	rec, err := f.ledger.Mark(ctx, "alice", f.streamID, "Physics", day("2025-01-06"), 0, StatusOccurred)
	require.NoError(t, err)
	assert.True(t, rec.IsReplacement)
	assert.Equal(t, "Math", rec.OriginalSubject)
	assert.Equal(t, "09:00", rec.OriginalStart)
}

func TestPreSeedOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ov, err := f.ovs.Upsert(ctx, override.Override{
		StreamID: f.streamID, ClassDate: day("2025-01-06"),
		Subject: "Math", EntryIndex: 1, Type: override.TypeReplaced,
		Replacement: &override.Replacement{Subject: "Chemistry"},
	})
	require.NoError(t, err)

	res, err := f.ledger.PreSeedOverride(ctx, ov)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Seeded, "admin and both students")
	assert.Equal(t, 0, res.Failed)

	recs, err := f.records.ListUserRange(ctx, "alice", f.streamID, day("2025-01-01"), day("2025-01-31"))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Chemistry", recs[0].Subject)
	assert.Equal(t, StatusMissed, recs[0].Status)
	assert.True(t, recs[0].IsReplacement)
	assert.Equal(t, "14:00", recs[0].OriginalStart)

	// Re-running is idempotent: existing records count as success.
	res, err = f.ledger.PreSeedOverride(ctx, ov)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Seeded)

	recs, err = f.records.ListUserRange(ctx, "alice", f.streamID, day("2025-01-01"), day("2025-01-31"))
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestWeeklyView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ovs.Upsert(ctx, override.Override{
		StreamID: f.streamID, ClassDate: day("2025-01-08"),
		Subject: "Physics", EntryIndex: 0, Type: override.TypeCancelled,
	})
	require.NoError(t, err)
	_, err = f.ledger.Mark(ctx, "alice", f.streamID, "Math", day("2025-01-06"), 0, StatusOccurred)
	require.NoError(t, err)

	view, err := f.ledger.WeeklyView(ctx, "alice", f.streamID, day("2025-01-06"))
	require.NoError(t, err)
	require.Len(t, view, 3)

	assert.Equal(t, StatusOccurred, view[0].Status)
	assert.Equal(t, StatusMissed, view[1].Status, "unmarked slots default to MISSED")
	assert.Equal(t, StatusCancelled, view[2].Status)
}

func TestBulkEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.AddBulk(ctx, "alice", f.streamID, "Math", 10, 8, day("2024-09-01"), day("2024-12-20"))
	assert.True(t, apperrors.IsValidation(err), "attended above held is rejected")

	be, err := f.ledger.AddBulk(ctx, "alice", f.streamID, "Math", 8, 10, day("2024-09-01"), day("2024-12-20"))
	require.NoError(t, err)
	assert.Equal(t, 8, be.Attended)

	list, err := f.ledger.Bulk(ctx, "alice", f.streamID)
	require.NoError(t, err)
	require.Len(t, list, 1)
}
