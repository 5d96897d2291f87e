package schedule

import (
	"slices"
	"time"

	"famcal/internal/model"
)

// DaysInSchedule is the fixed length of the rolling schedule.
const DaysInSchedule = 7

// EmptyWeek returns seven empty days starting at today's midnight in
// today's location.
func EmptyWeek(today time.Time) []model.DaySchedule {
	return Bucket(nil, today)
}

// Bucket partitions events into the seven days [today, today+6] in today's
// location. Timed events land on the date of their start; all-day events on
// every day their [Start, End) range overlaps. Each day lists all-day events
// first, then timed events by ascending start.
func Bucket(events []model.Event, today time.Time) []model.DaySchedule {
	loc := today.Location()
	y, m, d := today.Date()

	days := make([]model.DaySchedule, DaysInSchedule)
	for i := range days {
		date := time.Date(y, m, d+i, 0, 0, 0, 0, loc)
		next := time.Date(y, m, d+i+1, 0, 0, 0, 0, loc)

		dayEvents := make([]model.Event, 0)
		for _, ev := range events {
			if ev.AllDay {
				if ev.Start.Before(next) && ev.End.After(date) {
					dayEvents = append(dayEvents, ev)
				}
				continue
			}
			if sameDate(ev.Start.In(loc), date) {
				dayEvents = append(dayEvents, ev)
			}
		}

		slices.SortStableFunc(dayEvents, compareInDay)

		days[i] = model.DaySchedule{
			Date:    date,
			DateStr: date.Format(time.DateOnly),
			Events:  dayEvents,
		}
	}
	return days
}

func compareInDay(a, b model.Event) int {
	switch {
	case a.AllDay && b.AllDay:
		return 0
	case a.AllDay:
		return -1
	case b.AllDay:
		return 1
	}
	return a.Start.Compare(b.Start)
}

func sameDate(t, date time.Time) bool {
	ty, tm, td := t.Date()
	dy, dm, dd := date.Date()
	return ty == dy && tm == dm && td == dd
}
