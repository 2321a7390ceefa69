package attendance

import (
	"fmt"
	"time"
)

// DateLayout is the calendar date format used for records.
const DateLayout = "2006-01-02"

// weeklyDays is the number of school days, starting Monday, in a weekly period.
const weeklyDays = 4

// Calendar computes periods in a fixed location.
type Calendar struct {
	Mode     Mode
	Location *time.Location
}

// NewCalendar returns a calendar; a nil location means time.Local.
func NewCalendar(mode Mode, loc *time.Location) Calendar {
	if loc == nil {
		loc = time.Local
	}
	return Calendar{Mode: mode, Location: loc}
}

func (c Calendar) loc() *time.Location {
	if c.Location == nil {
		return time.Local
	}
	return c.Location
}

// Today formats the calendar date of now.
func (c Calendar) Today(now time.Time) string {
	return now.In(c.loc()).Format(DateLayout)
}

// Period returns the ordered dates of the cycle containing now.
//
// In weekly mode this is Monday through Thursday of now's week. Weeks start
// on Monday, so a Sunday belongs to the week that began six days earlier and
// Friday and Saturday still report the Monday just past.
func (c Calendar) Period(now time.Time) []string {
	n := now.In(c.loc())
	if c.Mode != ModeWeekly {
		return []string{n.Format(DateLayout)}
	}
	monday := c.PeriodStart(now)
	dates := make([]string, 0, weeklyDays)
	for i := 0; i < weeklyDays; i++ {
		dates = append(dates, monday.AddDate(0, 0, i).Format(DateLayout))
	}
	return dates
}

// PeriodStart is midnight of the first day of the period containing now.
func (c Calendar) PeriodStart(now time.Time) time.Time {
	n := now.In(c.loc())
	offset := 0
	if c.Mode == ModeWeekly {
		// Monday=0 ... Sunday=6
		offset = (int(n.Weekday()) + 6) % 7
	}
	return time.Date(n.Year(), n.Month(), n.Day()-offset, 0, 0, 0, 0, c.loc())
}

// ResetSpec is the default cron expression for the mode's reset.
func (c Calendar) ResetSpec() string {
	if c.Mode == ModeWeekly {
		return "0 0 * * 1"
	}
	return "0 0 * * *"
}

// Policy classifies a mark-in against a daily cutoff.
type Policy struct {
	Hour, Minute, Second int
	Location             *time.Location
}

// DefaultCutoff is 07:30:00.
const DefaultCutoff = "07:30:00"

// ParseCutoff reads "HH:MM" or "HH:MM:SS".
func ParseCutoff(raw string, loc *time.Location) (Policy, error) {
	var t time.Time
	var err error
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err = time.Parse(layout, raw); err == nil {
			break
		}
	}
	if err != nil {
		return Policy{}, fmt.Errorf("attendance: invalid cutoff %q", raw)
	}
	if loc == nil {
		loc = time.Local
	}
	return Policy{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second(), Location: loc}, nil
}

// Cutoff anchors the cutoff to now's calendar day.
func (p Policy) Cutoff(now time.Time) time.Time {
	loc := p.Location
	if loc == nil {
		loc = time.Local
	}
	n := now.In(loc)
	return time.Date(n.Year(), n.Month(), n.Day(), p.Hour, p.Minute, p.Second, 0, loc)
}

// Classify returns StatusPresent up to and including the cutoff, StatusLate after.
func (p Policy) Classify(now time.Time) Status {
	if now.After(p.Cutoff(now)) {
		return StatusLate
	}
	return StatusPresent
}
