package clinic

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Settings is the loosely-typed clinic configuration as stored by clinic
// administration. It is only ever consumed through ParseSettings.
type Settings struct {
	Timezone      string        `json:"timezone"`
	WorkingDays   []string      `json:"workingDays"`
	WorkingHours  *HoursSetting `json:"workingHours"`
	HasLunchBreak bool          `json:"hasLunchBreak"`
	LunchBreak    *HoursSetting `json:"lunchBreak,omitempty"`
}

// HoursSetting is a start/end pair of wall-clock strings.
type HoursSetting struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ParseSettings decodes raw clinic settings and builds a validated Schedule.
// Malformed or inconsistent settings yield a *ConfigError; no defaults are
// substituted for missing values.
func ParseSettings(clinicID int64, raw []byte) (*Schedule, error) {
	if len(raw) == 0 {
		return nil, &ConfigError{ClinicID: clinicID, Field: "settings", Reason: "are empty"}
	}
	var st Settings
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, &ConfigError{ClinicID: clinicID, Field: "settings", Reason: "malformed JSON: " + err.Error()}
	}
	return FromSettings(clinicID, &st)
}

// FromSettings builds a validated Schedule from decoded settings.
func FromSettings(clinicID int64, st *Settings) (*Schedule, error) {
	s := &Schedule{ClinicID: clinicID, Timezone: strings.TrimSpace(st.Timezone)}

	days, err := parseWorkingDays(st.WorkingDays)
	if err != nil {
		return nil, &ConfigError{ClinicID: clinicID, Field: "workingDays", Reason: err.Error()}
	}
	s.WorkingDays = days

	if st.WorkingHours == nil {
		return nil, &ConfigError{ClinicID: clinicID, Field: "workingHours", Reason: "is required"}
	}
	if s.WorkStart, err = ParseClock(st.WorkingHours.Start); err != nil {
		return nil, &ConfigError{ClinicID: clinicID, Field: "workingHours.start", Reason: err.Error()}
	}
	if s.WorkEnd, err = ParseClock(st.WorkingHours.End); err != nil {
		return nil, &ConfigError{ClinicID: clinicID, Field: "workingHours.end", Reason: err.Error()}
	}

	if st.HasLunchBreak {
		if st.LunchBreak == nil {
			return nil, &ConfigError{ClinicID: clinicID, Field: "lunchBreak", Reason: "is required when hasLunchBreak is set"}
		}
		s.HasLunchBreak = true
		if s.LunchStart, err = ParseClock(st.LunchBreak.Start); err != nil {
			return nil, &ConfigError{ClinicID: clinicID, Field: "lunchBreak.start", Reason: err.Error()}
		}
		if s.LunchEnd, err = ParseClock(st.LunchBreak.End); err != nil {
			return nil, &ConfigError{ClinicID: clinicID, Field: "lunchBreak.end", Reason: err.Error()}
		}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func parseWorkingDays(tokens []string) ([]time.Weekday, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("must list at least one day")
	}
	seen := make(map[time.Weekday]bool, len(tokens))
	var days []time.Weekday
	for _, tok := range tokens {
		wd, ok := weekdayFromToken(tok)
		if !ok {
			return nil, fmt.Errorf("unknown day %q", tok)
		}
		if !seen[wd] {
			seen[wd] = true
			days = append(days, wd)
		}
	}
	// Monday first, Sunday last.
	sort.Slice(days, func(i, j int) bool {
		return (days[i]+6)%7 < (days[j]+6)%7
	})
	return days, nil
}

func weekdayFromToken(s string) (time.Weekday, bool) {
	t := strings.ToLower(strings.TrimSpace(s))
	t = strings.TrimSuffix(t, "-feira")
	switch t {
	case "mon", "monday", "segunda":
		return time.Monday, true
	case "tue", "tues", "tuesday", "terca", "terça":
		return time.Tuesday, true
	case "wed", "wednesday", "quarta":
		return time.Wednesday, true
	case "thu", "thur", "thurs", "thursday", "quinta":
		return time.Thursday, true
	case "fri", "friday", "sexta":
		return time.Friday, true
	case "sat", "saturday", "sabado", "sábado":
		return time.Saturday, true
	case "sun", "sunday", "domingo":
		return time.Sunday, true
	}
	return 0, false
}
