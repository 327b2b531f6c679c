package catalog

import (
	"fmt"
	"strconv"
	"time"

	v1 "github.com/peanutgallery/catalog/internal/api/v1"
)

// WeekBucket returns the ISO-8601 week label of a day, e.g. 2024-01-01 -> "2024-W01".
// Days around New Year belong to the ISO week-year, not the calendar year.
func WeekBucket(d v1.Date) string {
	year, week := d.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// ParseWeekBucket validates a "YYYY-Www" label and returns the Monday it starts on.
func ParseWeekBucket(s string) (v1.Date, error) {
	if len(s) != 8 || s[4] != '-' || s[5] != 'W' {
		return v1.Date{}, fmt.Errorf("invalid week bucket %q (expected YYYY-Www)", s)
	}
	year, err := strconv.Atoi(s[:4])
	if err != nil {
		return v1.Date{}, fmt.Errorf("invalid week bucket %q: %w", s, err)
	}
	week, err := strconv.Atoi(s[6:])
	if err != nil {
		return v1.Date{}, fmt.Errorf("invalid week bucket %q: %w", s, err)
	}
	if week < 1 || week > 53 {
		return v1.Date{}, fmt.Errorf("invalid week bucket %q: week out of range", s)
	}

	// Jan 4th is always in ISO week 1.
	jan4 := v1.NewDate(time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC))
	monday := WeekStart(jan4).AddDays((week - 1) * 7)
	if WeekBucket(monday) != s {
		return v1.Date{}, fmt.Errorf("invalid week bucket %q: year has no such week", s)
	}
	return monday, nil
}

// WeekStart returns the Monday of d's ISO week.
func WeekStart(d v1.Date) v1.Date {
	offset := (int(d.Weekday()) + 6) % 7 // Monday=0 ... Sunday=6
	return d.AddDays(-offset)
}

// WeekEnd returns the Sunday of d's ISO week.
func WeekEnd(d v1.Date) v1.Date {
	return WeekStart(d).AddDays(6)
}

// SplitByWeek cuts the inclusive range [start, end] into ISO-week-aligned
// sub-ranges, each lying inside exactly one week bucket. start == end yields
// one sub-range; end < start yields none.
func SplitByWeek(start, end v1.Date) []v1.DateRange {
	var ranges []v1.DateRange
	for cur := start; !cur.After(end); {
		last := WeekEnd(cur)
		if last.After(end) {
			last = end
		}
		ranges = append(ranges, v1.DateRange{Start: cur, End: last})
		cur = last.AddDays(1)
	}
	return ranges
}
