package timetable

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classtrack/internal/apperrors"
)

type allowAll struct{}

func (allowAll) RequireMember(context.Context, string, string) error { return nil }
func (allowAll) RequireAdmin(context.Context, string, string) error  { return nil }

func newTestService() (*Service, *MemoryRepository) {
	repo := NewMemoryRepository()
	return NewService(repo, allowAll{}), repo
}

func TestCreateVersioning(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	v1, err := svc.Create(ctx, "admin", "s1", NewTimetable{
		ValidFrom: day("2025-01-01"),
		Entries:   []Entry{{DayOfWeek: 1, Subject: "Math", StartTime: "09:00"}},
	})
	require.NoError(t, err)
	assert.Nil(t, v1.ValidUntil)

	// Same validFrom is rejected: versions never overlap.
	_, err = svc.Create(ctx, "admin", "s1", NewTimetable{
		ValidFrom: day("2025-01-01"),
		Entries:   []Entry{{DayOfWeek: 2, Subject: "Math"}},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	v2, err := svc.Create(ctx, "admin", "s1", NewTimetable{
		ValidFrom: day("2025-02-01"),
		Entries:   []Entry{{DayOfWeek: 2, Subject: "Physics"}},
	})
	require.NoError(t, err)

	// The open-ended v1 was auto-closed to the day before v2 starts.
	active, err := svc.Active(ctx, "u", "s1", day("2025-01-31"))
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, v1.ID, active.ID)
	require.NotNil(t, active.ValidUntil)
	assert.Equal(t, day("2025-01-31"), *active.ValidUntil)

	active, err = svc.Active(ctx, "u", "s1", day("2025-02-01"))
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, v2.ID, active.ID)
}

func TestCreateEntryValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	cases := []struct {
		name    string
		entries []Entry
	}{
		{"empty", nil},
		{"bad weekday", []Entry{{DayOfWeek: 8, Subject: "Math"}}},
		{"missing subject", []Entry{{DayOfWeek: 1}}},
		{"bad start time", []Entry{{DayOfWeek: 1, Subject: "Math", StartTime: "25:00"}}},
		{"bad end time", []Entry{{DayOfWeek: 1, Subject: "Math", EndTime: "9am"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, "admin", "s1", NewTimetable{
				ValidFrom: day("2025-01-01"),
				Entries:   tc.entries,
			})
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
		})
	}
}

func TestActiveNone(t *testing.T) {
	svc, _ := newTestService()
	active, err := svc.Active(context.Background(), "u", "empty-stream", day("2025-01-01"))
	require.NoError(t, err)
	assert.Nil(t, active, "no timetable is 'none', not an error")
}
