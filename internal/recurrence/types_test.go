package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeekdaySet(t *testing.T) {
	s := NewWeekdaySet(time.Sunday, time.Tuesday, time.Tuesday, time.Weekday(9))

	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Has(time.Sunday))
	assert.True(t, s.Has(time.Tuesday))
	assert.False(t, s.Has(time.Monday))
	assert.False(t, s.Has(time.Weekday(-1)))
	assert.False(t, s.Empty())
	assert.True(t, WeekdaySet(0).Empty())

	assert.Equal(t, []time.Weekday{time.Tuesday, time.Sunday}, s.Days(MondayFirst))
	assert.Equal(t, []time.Weekday{time.Sunday, time.Tuesday}, s.Days(SundayFirst))
	assert.Equal(t, "TU,SU", s.String())
}

func TestParseWeekday(t *testing.T) {
	for _, in := range []string{"TU", "tu", "Tue", "tuesday", " TUESDAY "} {
		d, err := ParseWeekday(in)
		require.NoError(t, err, in)
		assert.Equal(t, time.Tuesday, d, in)
	}

	_, err := ParseWeekday("tues")
	assert.ErrorIs(t, err, ErrInvalidSpec)

	set, err := ParseWeekdaySet([]string{"SU", "mon"})
	require.NoError(t, err)
	assert.Equal(t, NewWeekdaySet(time.Sunday, time.Monday), set)

	_, err = ParseWeekdaySet([]string{"SU", "xx"})
	assert.Error(t, err)
}

func TestParseFrequency(t *testing.T) {
	tests := map[string]Frequency{
		"":          None,
		"no-repeat": None,
		"none":      None,
		"Daily":     Daily,
		"WEEKLY":    Weekly,
	}
	for in, want := range tests {
		got, err := ParseFrequency(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFrequency("monthly")
	assert.ErrorIs(t, err, ErrInvalidSpec)
}

func TestParseWeekStart(t *testing.T) {
	ws, err := ParseWeekStart("Sunday")
	require.NoError(t, err)
	assert.Equal(t, SundayFirst, ws)
	assert.Equal(t, time.Sunday, ws.Weekday())

	ws, err = ParseWeekStart("")
	require.NoError(t, err)
	assert.Equal(t, MondayFirst, ws)

	_, err = ParseWeekStart("friday")
	assert.Error(t, err)
}

func TestBounded(t *testing.T) {
	start := time.Date(2023, 9, 24, 17, 0, 0, 0, time.UTC)
	assert.True(t, Single(start).Bounded())
	assert.True(t, Spec{Start: start}.Bounded())
	assert.False(t, Spec{Frequency: Daily, Start: start}.Bounded())
}
