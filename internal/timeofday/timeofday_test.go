package timeofday

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want TimeOfDay
		err  bool
	}{
		{"00:00", 0, false},
		{"09:00", 540, false},
		{"12:30", 750, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"9:00", 0, true},
		{"09:60", 0, true},
		{"0900", 0, true},
		{"", 0, true},
		{"ab:cd", 0, true},
		{" 09:00", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.err {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidTimeFormat))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormat(t *testing.T) {
	s, err := Format(545)
	require.NoError(t, err)
	assert.Equal(t, "09:05", s)

	s, err = Format(0)
	require.NoError(t, err)
	assert.Equal(t, "00:00", s)

	_, err = Format(1440)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = Format(-1)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestParseFormatRoundTripAllMinutes(t *testing.T) {
	for m := 0; m < MinutesPerDay; m++ {
		s, err := Format(m)
		require.NoError(t, err)
		parsed, err := Parse(s)
		require.NoError(t, err)
		require.Equal(t, TimeOfDay(m), parsed)
	}
}

func TestOverlaps(t *testing.T) {
	nine, ten, eleven := MustParse("09:00"), MustParse("10:00"), MustParse("11:00")

	assert.True(t, Overlaps(nine, eleven, ten, eleven))
	assert.False(t, Overlaps(nine, ten, ten, eleven), "touching intervals do not overlap")
	assert.False(t, Overlaps(ten, eleven, nine, ten))
	assert.True(t, Overlaps(nine, eleven, nine.Add(30), ten))
	assert.False(t, Overlaps(ten, ten, nine, eleven), "zero-duration never overlaps")
	assert.False(t, Overlaps(nine, eleven, ten, ten))
}

func TestIntervalHelpers(t *testing.T) {
	day := Interval{Start: MustParse("09:00"), End: MustParse("17:00")}
	session := Span(MustParse("16:00"), 60)

	assert.Equal(t, 60, session.Duration())
	assert.True(t, day.Contains(session))
	assert.False(t, day.Contains(Span(MustParse("16:30"), 60)))
	assert.Equal(t, "16:00-17:00", session.String())
	assert.Equal(t, "24:00", TimeOfDay(1440).String())
}

func TestTimeOfDayJSON(t *testing.T) {
	var payload struct {
		Start TimeOfDay `json:"start"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"start":"10:15"}`), &payload))
	assert.Equal(t, MustParse("10:15"), payload.Start)

	out, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"10:15"}`, string(out))

	err = json.Unmarshal([]byte(`{"start":"25:00"}`), &payload)
	assert.ErrorIs(t, err, ErrInvalidTimeFormat)
	err = json.Unmarshal([]byte(`{"start":600}`), &payload)
	assert.ErrorIs(t, err, ErrInvalidTimeFormat)
}

func TestDateHelpers(t *testing.T) {
	d, err := ParseDate("2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, time.Monday, WeekdayOf(d))

	_, err = ParseDate("2024-02-30")
	assert.ErrorIs(t, err, ErrInvalidDate)
	_, err = ParseDate("01/02/2024")
	assert.ErrorIs(t, err, ErrInvalidDate)

	at := At(d, MustParse("09:30"), time.UTC)
	assert.Equal(t, time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC), at)
}

func TestMonthDaySkipsShortMonths(t *testing.T) {
	jan := civil.Date{Year: 2024, Month: time.January, Day: 31}

	got, ok := MonthDay(jan, 0, 31)
	require.True(t, ok)
	assert.Equal(t, jan, got)

	_, ok = MonthDay(jan, 1, 31)
	assert.False(t, ok, "February has no 31st")

	got, ok = MonthDay(jan, 2, 31)
	require.True(t, ok)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.March, Day: 31}, got)

	got, ok = MonthDay(jan, 12, 15)
	require.True(t, ok)
	assert.Equal(t, civil.Date{Year: 2025, Month: time.January, Day: 15}, got)
}

func TestWeekdayJSON(t *testing.T) {
	var days []Weekday
	require.NoError(t, json.Unmarshal([]byte(`["MONDAY","wednesday","Fri",0]`), &days))
	assert.Equal(t, []Weekday{Weekday(time.Monday), Weekday(time.Wednesday), Weekday(time.Friday), Weekday(time.Sunday)}, days)

	out, err := json.Marshal(days[:2])
	require.NoError(t, err)
	assert.JSONEq(t, `["MONDAY","WEDNESDAY"]`, string(out))

	var bad Weekday
	assert.ErrorIs(t, json.Unmarshal([]byte(`"funday"`), &bad), ErrInvalidWeekday)
	assert.ErrorIs(t, json.Unmarshal([]byte(`9`), &bad), ErrInvalidWeekday)
}
