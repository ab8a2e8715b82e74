package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classtrack/internal/attendance"
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

func ptrTime(t time.Time) *time.Time { return &t }

type world struct {
	engine   *Engine
	tts      *timetable.MemoryRepository
	ovs      *override.MemoryRepository
	records  *attendance.MemoryRepository
	streams  *stream.Service
	streamID string
}

func newWorld(t *testing.T) *world {
	t.Helper()
	ctx := context.Background()

	streamRepo := stream.NewMemoryRepository()
	streams := stream.NewService(streamRepo)
	s, err := streams.Create(ctx, "CS-2025", "admin")
	require.NoError(t, err)
	require.NoError(t, streams.AddMember(ctx, "admin", s.ID, "alice", stream.RoleStudent))

	tts := timetable.NewMemoryRepository()
	ovs := override.NewMemoryRepository()
	records := attendance.NewMemoryRepository()
	return &world{
		engine:   NewEngine(tts, ovs, records, streams),
		tts:      tts,
		ovs:      ovs,
		records:  records,
		streams:  streams,
		streamID: s.ID,
	}
}

// addWeeklyMath installs a timetable with two Monday Math sessions.
func (w *world) addWeeklyMath(t *testing.T, validFrom time.Time) {
	t.Helper()
	_, err := w.tts.CreateTimetable(context.Background(), timetable.Timetable{
		StreamID:  w.streamID,
		ValidFrom: validFrom,
		Entries: []timetable.Entry{
			{DayOfWeek: 1, Subject: "Math", CourseCode: "MA101", StartTime: "09:00", EndTime: "10:00"},
			{DayOfWeek: 1, Subject: "Math", CourseCode: "MA101", StartTime: "14:00", EndTime: "15:00"},
		},
	})
	require.NoError(t, err)
}

func (w *world) mark(t *testing.T, user, subject string, d time.Time, index int, isRepl bool) {
	t.Helper()
	_, err := w.records.UpsertRecord(context.Background(), attendance.Record{
		UserID: user, StreamID: w.streamID, Subject: subject,
		ClassDate: d, SubjectIndex: index, IsReplacement: isRepl,
		Status: attendance.StatusOccurred, MarkedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestStreamStatsHeldInvariant(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.addWeeklyMath(t, day("2025-01-01"))

	// Two Mondays in range: Jan 6 and Jan 13 -> scheduled Math = 4.
	// Cancel one session, replace another with Physics.
	_, err := w.ovs.Upsert(ctx, override.Override{
		StreamID: w.streamID, ClassDate: day("2025-01-06"),
		Subject: "Math", EntryIndex: 0, Type: override.TypeCancelled,
	})
	require.NoError(t, err)
	_, err = w.ovs.Upsert(ctx, override.Override{
		StreamID: w.streamID, ClassDate: day("2025-01-13"),
		Subject: "Math", EntryIndex: 1, Type: override.TypeReplaced,
		Replacement: &override.Replacement{Subject: "Physics", CourseCode: "PH101"},
	})
	require.NoError(t, err)

	// Alice attended one surviving Math session and the Physics replacement.
	w.mark(t, "alice", "Math", day("2025-01-06"), 1, false)
	w.mark(t, "alice", "Physics", day("2025-01-13"), 0, true)

	stats, err := w.engine.StreamStats(ctx, "alice", w.streamID, "",
		ptrTime(day("2025-01-06")), ptrTime(day("2025-01-19")))
	require.NoError(t, err)
	require.Len(t, stats.Subjects, 2)

	math := stats.Subjects[0]
	assert.Equal(t, "Math", math.Subject)
	assert.Equal(t, "MA101", math.CourseCode)
	assert.Equal(t, 4, math.Scheduled)
	assert.Equal(t, 2, math.Cancelled)
	assert.Equal(t, 2, math.Held, "held = max(0, scheduled - cancelled) + replacements")
	assert.Equal(t, 1, math.Attended)
	require.NotNil(t, math.Percentage)
	assert.Equal(t, 50.0, *math.Percentage)

	physics := stats.Subjects[1]
	assert.Equal(t, "Physics", physics.Subject)
	assert.Equal(t, "PH101", physics.CourseCode)
	assert.Equal(t, 0, physics.Scheduled)
	assert.Equal(t, 1, physics.Replacements)
	assert.Equal(t, 1, physics.Held)
	assert.Equal(t, 1, physics.Attended)
	require.NotNil(t, physics.Percentage)
	assert.Equal(t, 100.0, *physics.Percentage)

	assert.Equal(t, 3, stats.TotalHeld)
	assert.Equal(t, 2, stats.TotalAttended)
	require.NotNil(t, stats.OverallPercentage)
	assert.Equal(t, 66.67, *stats.OverallPercentage)
}

func TestStreamStatsCancelledBelowZero(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.addWeeklyMath(t, day("2025-01-01"))

	// Cancel more than is scheduled in the one-day range: held clamps at 0.
	for idx := 0; idx < 2; idx++ {
		_, err := w.ovs.Upsert(ctx, override.Override{
			StreamID: w.streamID, ClassDate: day("2025-01-06"),
			Subject: "Math", EntryIndex: idx, Type: override.TypeCancelled,
		})
		require.NoError(t, err)
	}
	_, err := w.ovs.Upsert(ctx, override.Override{
		StreamID: w.streamID, ClassDate: day("2025-01-06"),
		Subject: "Math", EntryIndex: 2, Type: override.TypeCancelled,
	})
	require.NoError(t, err)

	stats, err := w.engine.StreamStats(ctx, "alice", w.streamID, "",
		ptrTime(day("2025-01-06")), ptrTime(day("2025-01-06")))
	require.NoError(t, err)
	require.Len(t, stats.Subjects, 1)
	assert.Equal(t, 2, stats.Subjects[0].Scheduled)
	assert.Equal(t, 3, stats.Subjects[0].Cancelled)
	assert.Equal(t, 0, stats.Subjects[0].Held)
	assert.Nil(t, stats.Subjects[0].Percentage, "held == 0 reports nil, never NaN or 0")
	assert.Nil(t, stats.OverallPercentage)
}

func TestStreamStatsSupersededMarks(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.addWeeklyMath(t, day("2025-01-01"))

	// Marks land first; the cancellations arrive later.
	w.mark(t, "alice", "Math", day("2025-01-06"), 0, false)
	w.mark(t, "alice", "Math", day("2025-01-06"), 1, false)
	for idx := 0; idx < 2; idx++ {
		_, err := w.ovs.Upsert(ctx, override.Override{
			StreamID: w.streamID, ClassDate: day("2025-01-06"),
			Subject: "Math", EntryIndex: idx, Type: override.TypeCancelled,
		})
		require.NoError(t, err)
	}

	stats, err := w.engine.StreamStats(ctx, "alice", w.streamID, "",
		ptrTime(day("2025-01-06")), ptrTime(day("2025-01-06")))
	require.NoError(t, err)
	require.Len(t, stats.Subjects, 1)
	assert.Equal(t, 0, stats.Subjects[0].Held)
	assert.Equal(t, 0, stats.Subjects[0].Attended, "marks on cancelled slots are superseded, not counted")
	assert.Nil(t, stats.Subjects[0].Percentage)

	// The same marks still count on a day the cancellations do not touch.
	w.mark(t, "alice", "Math", day("2025-01-13"), 0, false)
	stats, err = w.engine.StreamStats(ctx, "alice", w.streamID, "",
		ptrTime(day("2025-01-06")), ptrTime(day("2025-01-13")))
	require.NoError(t, err)
	require.Len(t, stats.Subjects, 1)
	assert.Equal(t, 2, stats.Subjects[0].Held)
	assert.Equal(t, 1, stats.Subjects[0].Attended)
}

func TestStreamStatsEmptyStream(t *testing.T) {
	w := newWorld(t)
	stats, err := w.engine.StreamStats(context.Background(), "alice", w.streamID, "", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, stats.Subjects)
	assert.Nil(t, stats.OverallPercentage)
}

func TestStreamStatsForbidden(t *testing.T) {
	w := newWorld(t)
	_, err := w.engine.StreamStats(context.Background(), "mallory", w.streamID, "", nil, nil)
	require.Error(t, err)
}
