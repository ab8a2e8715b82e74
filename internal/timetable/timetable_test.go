package timetable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classtrack/internal/dates"
)

func day(s string) time.Time {
	d, err := dates.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

func ptr(t time.Time) *time.Time { return &t }

func TestActiveOn(t *testing.T) {
	v1 := Timetable{ID: "v1", StreamID: "s", ValidFrom: day("2025-01-01")}
	v2 := Timetable{ID: "v2", StreamID: "s", ValidFrom: day("2025-02-01")}
	candidates := []Timetable{v2, v1} // input order must not matter

	got := ActiveOn(candidates, day("2025-01-15"))
	require.NotNil(t, got)
	assert.Equal(t, "v1", got.ID)

	got = ActiveOn(candidates, day("2025-02-02"))
	require.NotNil(t, got)
	assert.Equal(t, "v2", got.ID)

	assert.Nil(t, ActiveOn(candidates, day("2024-12-31")))
}

func TestActiveOnClosedVersion(t *testing.T) {
	v1 := Timetable{ID: "v1", ValidFrom: day("2025-01-01"), ValidUntil: ptr(day("2025-01-20"))}
	v2 := Timetable{ID: "v2", ValidFrom: day("2025-02-01")}
	candidates := []Timetable{v1, v2}

	// v1 has expired and v2 has not started: a gap day has no active version.
	assert.Nil(t, ActiveOn(candidates, day("2025-01-25")))

	got := ActiveOn(candidates, day("2025-01-20"))
	require.NotNil(t, got)
	assert.Equal(t, "v1", got.ID, "validUntil is inclusive")
}

func TestExpandRangeIndexingDeterministic(t *testing.T) {
	entries := []Entry{
		{DayOfWeek: 1, Subject: "Lab", StartTime: "10:00", EndTime: "12:00"},
		{DayOfWeek: 1, Subject: "Lab", StartTime: "08:00", EndTime: "10:00"},
		{DayOfWeek: 1, Subject: "Lab"}, // no start time sorts last
		{DayOfWeek: 1, Subject: "Algebra", StartTime: "09:00"},
	}
	perms := [][]int{{0, 1, 2, 3}, {3, 2, 1, 0}, {2, 0, 3, 1}}

	var first []ScheduleEntry
	for _, perm := range perms {
		permuted := make([]Entry, len(entries))
		for i, j := range perm {
			permuted[i] = entries[j]
		}
		tt := Timetable{ValidFrom: day("2025-01-01"), Entries: permuted}
		got := ExpandRange([]Timetable{tt}, day("2025-01-06"), day("2025-01-06"))
		require.Len(t, got, 4)
		if first == nil {
			first = got
			continue
		}
		assert.Equal(t, first, got, "index assignment must not depend on input order")
	}

	assert.Equal(t, "Algebra", first[0].Subject)
	assert.Equal(t, 0, first[0].SubjectIndex)
	assert.Equal(t, "08:00", first[1].StartTime)
	assert.Equal(t, 0, first[1].SubjectIndex)
	assert.Equal(t, "10:00", first[2].StartTime)
	assert.Equal(t, 1, first[2].SubjectIndex)
	assert.Equal(t, "", first[3].StartTime)
	assert.Equal(t, 2, first[3].SubjectIndex)
}

func TestExpandRangeAcrossVersions(t *testing.T) {
	v1 := Timetable{
		ValidFrom:  day("2025-01-01"),
		ValidUntil: ptr(day("2025-01-07")),
		Entries:    []Entry{{DayOfWeek: 1, Subject: "Math"}},
	}
	v2 := Timetable{
		ValidFrom: day("2025-01-08"),
		Entries:   []Entry{{DayOfWeek: 1, Subject: "Physics"}},
	}
	got := ExpandRange([]Timetable{v1, v2}, day("2025-01-06"), day("2025-01-19"))
	// Mondays: Jan 6 (v1, Math), Jan 13 (v2, Physics).
	require.Len(t, got, 2)
	assert.Equal(t, "Math", got[0].Subject)
	assert.Equal(t, "2025-01-06", dates.FormatDay(got[0].Date))
	assert.Equal(t, "Physics", got[1].Subject)
	assert.Equal(t, "2025-01-13", dates.FormatDay(got[1].Date))
}
