package pattern

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/esoto/expense-tracker/internal/model"
)

var clockRangePattern = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*-\s*(\d{1,2}):(\d{2})\s*$`)

// Minute-of-day bounds of the named time-of-day windows.
var windowBounds = map[model.TimeWindow][2]int{
	model.WindowMorning:   {6 * 60, 11*60 + 59},
	model.WindowAfternoon: {12 * 60, 16*60 + 59},
	model.WindowEvening:   {17 * 60, 20*60 + 59},
	model.WindowNight:     {21 * 60, 5*60 + 59},
}

// TimeSpec is a parsed time pattern: either a named window or an explicit
// clock range. Explicit ranges include both ends and wrap midnight when the
// start is later than the end.
type TimeSpec struct {
	Window model.TimeWindow
	Start  int
	End    int
}

// ParseTimeSpec parses a time pattern value.
func ParseTimeSpec(value string) (TimeSpec, error) {
	if w, ok := model.ParseTimeWindow(value); ok {
		return TimeSpec{Window: w}, nil
	}

	m := clockRangePattern.FindStringSubmatch(value)
	if m == nil {
		return TimeSpec{}, formatError("pattern_value", value,
			`time must be morning, afternoon, evening, night, weekend, weekday or "HH:MM-HH:MM"`)
	}

	start, err := clockMinutes(m[1], m[2])
	if err != nil {
		return TimeSpec{}, formatError("pattern_value", value, err.Error())
	}
	end, err := clockMinutes(m[3], m[4])
	if err != nil {
		return TimeSpec{}, formatError("pattern_value", value, err.Error())
	}
	if start == end {
		return TimeSpec{}, formatError("pattern_value", value, "start and end must differ")
	}

	return TimeSpec{Start: start, End: end}, nil
}

func clockMinutes(hh, mm string) (int, error) {
	h, _ := strconv.Atoi(hh)
	m, _ := strconv.Atoi(mm)
	if h > 23 || m > 59 {
		return 0, fmt.Errorf("%s:%s is not a valid time of day", hh, mm)
	}
	return h*60 + m, nil
}

// Contains reports whether ts falls inside the spec. The timestamp is read in
// its own location; no timezone conversion happens.
func (s TimeSpec) Contains(ts time.Time) bool {
	switch s.Window {
	case model.WindowWeekend:
		day := ts.Weekday()
		return day == time.Saturday || day == time.Sunday
	case model.WindowWeekday:
		day := ts.Weekday()
		return day != time.Saturday && day != time.Sunday
	case "":
		return inClockRange(minuteOfDay(ts), s.Start, s.End)
	default:
		bounds := windowBounds[s.Window]
		return inClockRange(minuteOfDay(ts), bounds[0], bounds[1])
	}
}

func minuteOfDay(ts time.Time) int {
	return ts.Hour()*60 + ts.Minute()
}

func inClockRange(minute, start, end int) bool {
	if start <= end {
		return minute >= start && minute <= end
	}
	return minute >= start || minute <= end
}
