package finance

import "time"

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DaysBetween counts the days from start to end under the given convention.
//
// Under 30/360 (US) the start day 31 becomes 30, and the end day 31 becomes 30
// only when the start day is 30 after that adjustment. Any other convention
// counts calendar days.
func DaysBetween(start, end time.Time, convention int) int {
	if convention != Convention30360 {
		return calendarDays(start, end)
	}

	y1, m1, d1 := start.Date()
	y2, m2, d2 := end.Date()

	if d1 == 31 {
		d1 = 30
	}
	if d2 == 31 && d1 == 30 {
		d2 = 30
	}

	return 360*(y2-y1) + 30*(int(m2)-int(m1)) + (d2 - d1)
}

// calendarDays ignores time of day and DST by comparing UTC dates.
func calendarDays(start, end time.Time) int {
	y1, m1, d1 := start.Date()
	y2, m2, d2 := end.Date()
	a := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	b := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// CalendarDays is the signed number of calendar days from start to end.
func CalendarDays(start, end time.Time) int {
	return calendarDays(start, end)
}

// IsWeekday reports whether t falls Monday through Friday.
func IsWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// AddWeekdays moves forward n business days. A weekend date advanced by one
// lands on the following Monday.
func AddWeekdays(t time.Time, n int) time.Time {
	for n > 0 {
		t = t.AddDate(0, 0, 1)
		if IsWeekday(t) {
			n--
		}
	}
	return t
}

// WeekdaysBetween counts business days in [from, to). It returns 0 when to
// does not come after from.
func WeekdaysBetween(from, to time.Time) int {
	from, to = StartOfDay(from), StartOfDay(to)
	count := 0
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		if IsWeekday(d) {
			count++
		}
	}
	return count
}

// DaysInPeriod is the interest length of one installment period.
func DaysInPeriod(modality Modality, convention int) int {
	switch modality {
	case ModalityDaily:
		return 1
	case ModalityWeekly:
		return 7
	case ModalityBiweekly:
		return 15
	default:
		return convention
	}
}

// AdvanceDue returns the next due date after t. Monthly steps use calendar
// months, so Jan 31 advances to Mar 2 or 3 the way time.AddDate normalizes.
func AdvanceDue(t time.Time, modality Modality) time.Time {
	switch modality {
	case ModalityDaily:
		return t.AddDate(0, 0, 1)
	case ModalityWeekly:
		return t.AddDate(0, 0, 7)
	case ModalityBiweekly:
		return t.AddDate(0, 0, 14)
	default:
		return t.AddDate(0, 1, 0)
	}
}

// DueDatesBefore lists installment due dates strictly before limit. The first
// due date is one period after start.
func DueDatesBefore(start time.Time, modality Modality, limit time.Time) []time.Time {
	var dates []time.Time
	for d := AdvanceDue(start, modality); d.Before(limit); d = AdvanceDue(d, modality) {
		dates = append(dates, d)
	}
	return dates
}
