package clinic

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// ClockTime is a wall-clock time of day expressed in minutes since local midnight.
type ClockTime int

// ParseClock accepts "HH:MM" and "HH.MM".
func ParseClock(s string) (ClockTime, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ".", ":"))
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return ClockTime(h*60 + m), nil
}

func (c ClockTime) Hour() int   { return int(c) / 60 }
func (c ClockTime) Minute() int { return int(c) % 60 }

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// On returns the instant at which this wall-clock time occurs on the given
// local day. day is only used for its calendar date and location.
func (c ClockTime) On(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour(), c.Minute(), 0, 0, day.Location())
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Schedule is the validated scheduling configuration of a clinic. It is built
// once from raw settings and is read-only afterwards.
type Schedule struct {
	ClinicID      int64          `json:"clinic_id"`
	WorkingDays   []time.Weekday `json:"-"`
	WorkStart     ClockTime      `json:"work_start"`
	WorkEnd       ClockTime      `json:"work_end"`
	HasLunchBreak bool           `json:"has_lunch_break"`
	LunchStart    ClockTime      `json:"lunch_start,omitempty"`
	LunchEnd      ClockTime      `json:"lunch_end,omitempty"`
	Timezone      string         `json:"timezone"`

	loc *time.Location
}

// MarshalJSON renders working days by name so API consumers do not depend on
// Go's weekday numbering.
func (s *Schedule) MarshalJSON() ([]byte, error) {
	type alias Schedule
	days := make([]string, 0, len(s.WorkingDays))
	for _, d := range s.WorkingDays {
		days = append(days, strings.ToLower(d.String()))
	}
	return json.Marshal(struct {
		*alias
		WorkingDays []string `json:"working_days"`
	}{alias: (*alias)(s), WorkingDays: days})
}

// Location returns the clinic's time zone. Validate must have succeeded first.
func (s *Schedule) Location() *time.Location {
	if s.loc == nil {
		return time.UTC
	}
	return s.loc
}

// Validate checks the schedule invariants and resolves the time zone.
func (s *Schedule) Validate() error {
	tz := s.Timezone
	if tz == "" {
		return &ConfigError{ClinicID: s.ClinicID, Field: "timezone", Reason: "is required"}
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return &ConfigError{ClinicID: s.ClinicID, Field: "timezone", Reason: fmt.Sprintf("unknown zone %q", tz)}
	}
	if len(s.WorkingDays) == 0 {
		return &ConfigError{ClinicID: s.ClinicID, Field: "workingDays", Reason: "must list at least one day"}
	}
	if s.WorkStart >= s.WorkEnd {
		return &ConfigError{ClinicID: s.ClinicID, Field: "workingHours",
			Reason: fmt.Sprintf("start %s must be before end %s", s.WorkStart, s.WorkEnd)}
	}
	if s.HasLunchBreak {
		if s.LunchStart >= s.LunchEnd {
			return &ConfigError{ClinicID: s.ClinicID, Field: "lunchBreak",
				Reason: fmt.Sprintf("start %s must be before end %s", s.LunchStart, s.LunchEnd)}
		}
		if s.LunchStart < s.WorkStart || s.LunchEnd > s.WorkEnd {
			return &ConfigError{ClinicID: s.ClinicID, Field: "lunchBreak",
				Reason: fmt.Sprintf("%s-%s lies outside working hours %s-%s", s.LunchStart, s.LunchEnd, s.WorkStart, s.WorkEnd)}
		}
	}
	s.loc = loc
	return nil
}

// IsWorkingDay reports whether the local weekday of t is a working day.
func (s *Schedule) IsWorkingDay(t time.Time) bool {
	wd := t.In(s.Location()).Weekday()
	for _, d := range s.WorkingDays {
		if d == wd {
			return true
		}
	}
	return false
}

// ParseDate interprets a YYYY-MM-DD date in the clinic time zone and returns
// local midnight of that day.
func (s *Schedule) ParseDate(date string) (time.Time, error) {
	d, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(date), s.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", date)
	}
	return d, nil
}

// DayOf returns local midnight of the day containing t.
func (s *Schedule) DayOf(t time.Time) time.Time {
	lt := t.In(s.Location())
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, s.Location())
}

// WorkingWindow returns the working-hours interval on the given local day.
func (s *Schedule) WorkingWindow(day time.Time) (time.Time, time.Time) {
	day = s.DayOf(day)
	return s.WorkStart.On(day), s.WorkEnd.On(day)
}

// LunchWindow returns the lunch interval on the given local day, if any.
func (s *Schedule) LunchWindow(day time.Time) (time.Time, time.Time, bool) {
	if !s.HasLunchBreak {
		return time.Time{}, time.Time{}, false
	}
	day = s.DayOf(day)
	return s.LunchStart.On(day), s.LunchEnd.On(day), true
}
