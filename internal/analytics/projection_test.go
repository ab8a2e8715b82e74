package analytics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classtrack/internal/apperrors"
	"classtrack/internal/dates"
	"classtrack/internal/timetable"
)

func ptrInt(n int) *int { return &n }

// addDailyClass installs a timetable with one session per subject every day
// of the week, so a span of N days holds exactly N future classes per subject.
func (w *world) addDailyClass(t *testing.T, subjects ...string) {
	t.Helper()
	entries := make([]timetable.Entry, 0, 7*len(subjects))
	for dow := 1; dow <= 7; dow++ {
		for _, subject := range subjects {
			entries = append(entries, timetable.Entry{
				DayOfWeek: dow, Subject: subject, StartTime: "09:00", EndTime: "10:00",
			})
		}
	}
	_, err := w.tts.CreateTimetable(context.Background(), timetable.Timetable{
		StreamID:  w.streamID,
		ValidFrom: dates.Today().AddDate(0, 0, -30),
		Entries:   entries,
	})
	require.NoError(t, err)
}

func TestProjectAttendPlan(t *testing.T) {
	w := newWorld(t)
	w.addDailyClass(t, "Math")

	// 10 future days inclusive, one class per day. 18/20 so far, target 85%:
	// ceil(0.85*30 - 18) = 8 of the next 10.
	p, err := w.engine.Project(context.Background(), "alice", w.streamID, ProjectionInput{
		TargetPercent:  85,
		TargetDate:     dates.Today().AddDate(0, 0, 9),
		ManualAttended: ptrInt(18),
		ManualHeld:     ptrInt(20),
	})
	require.NoError(t, err)
	assert.Equal(t, ProjectionAttendPlan, p.Status)
	assert.Equal(t, 10, p.FutureHeld)
	assert.Equal(t, 30, p.TotalPotential)
	assert.Equal(t, 8, p.NeededToAttend)
	assert.Equal(t, 2, p.CanSkip)
	require.NotNil(t, p.CurrentPercentage)
	assert.Equal(t, 90.0, *p.CurrentPercentage)
	assert.Nil(t, p.MaxAchievable)
}

func TestProjectUnreachable(t *testing.T) {
	w := newWorld(t)
	w.addDailyClass(t, "Math")

	// 2/20 with only 5 classes left: even a perfect run ends at 7/25 = 28%.
	p, err := w.engine.Project(context.Background(), "alice", w.streamID, ProjectionInput{
		TargetPercent:  90,
		TargetDate:     dates.Today().AddDate(0, 0, 4),
		ManualAttended: ptrInt(2),
		ManualHeld:     ptrInt(20),
	})
	require.NoError(t, err)
	assert.Equal(t, ProjectionUnreachable, p.Status)
	assert.Equal(t, 5, p.FutureHeld)
	assert.Equal(t, 0, p.CanSkip)
	require.NotNil(t, p.MaxAchievable)
	assert.Equal(t, 28.0, *p.MaxAchievable)
}

func TestProjectAlreadyMet(t *testing.T) {
	w := newWorld(t)
	w.addDailyClass(t, "Math")

	// 18/20 = 90% against a 50% target: nothing more required.
	p, err := w.engine.Project(context.Background(), "alice", w.streamID, ProjectionInput{
		TargetPercent:  50,
		TargetDate:     dates.Today().AddDate(0, 0, 9),
		ManualAttended: ptrInt(18),
		ManualHeld:     ptrInt(20),
	})
	require.NoError(t, err)
	assert.Equal(t, ProjectionAlreadyMet, p.Status)
	assert.Equal(t, 0, p.NeededToAttend)
	assert.Equal(t, p.FutureHeld, p.CanSkip)
}

func TestProjectNoClasses(t *testing.T) {
	w := newWorld(t)

	// No timetable and no history at all.
	p, err := w.engine.Project(context.Background(), "alice", w.streamID, ProjectionInput{
		TargetPercent: 75,
		TargetDate:    dates.Today().AddDate(0, 0, 7),
	})
	require.NoError(t, err)
	assert.Equal(t, ProjectionNoClasses, p.Status)
	assert.Equal(t, 0, p.TotalPotential)
	assert.Equal(t, 0, p.NeededToAttend)
	assert.Nil(t, p.CurrentPercentage)
}

func TestProjectSubjectFilter(t *testing.T) {
	w := newWorld(t)
	w.addDailyClass(t, "Math", "Physics")

	p, err := w.engine.Project(context.Background(), "alice", w.streamID, ProjectionInput{
		TargetPercent:  75,
		TargetDate:     dates.Today().AddDate(0, 0, 3),
		Subject:        "Physics",
		ManualAttended: ptrInt(3),
		ManualHeld:     ptrInt(4),
	})
	require.NoError(t, err)
	assert.Equal(t, "Physics", p.Subject)
	assert.Equal(t, 4, p.FutureHeld, "only the filtered subject's future classes count")
}

func TestProjectValidation(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   ProjectionInput
	}{
		{"zero target", ProjectionInput{TargetPercent: 0, TargetDate: dates.Today()}},
		{"target above 100", ProjectionInput{TargetPercent: 101, TargetDate: dates.Today()}},
		{"past target date", ProjectionInput{TargetPercent: 75, TargetDate: dates.Today().AddDate(0, 0, -1)}},
		{"manual attended above held", ProjectionInput{
			TargetPercent: 75, TargetDate: dates.Today(),
			ManualAttended: ptrInt(5), ManualHeld: ptrInt(4),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := w.engine.Project(ctx, "alice", w.streamID, tc.in)
			assert.True(t, apperrors.IsValidation(err))
		})
	}
}

func TestProjectForbidden(t *testing.T) {
	w := newWorld(t)
	_, err := w.engine.Project(context.Background(), "mallory", w.streamID, ProjectionInput{
		TargetPercent: 75, TargetDate: dates.Today(),
	})
	assert.True(t, apperrors.IsForbidden(err))
}
