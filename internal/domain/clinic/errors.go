package clinic

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a clinic has no configuration record.
var ErrNotFound = errors.New("clinic not found")

// ConfigError reports a clinic configuration that violates the schedule
// invariants. Callers must treat such a clinic as having no availability.
type ConfigError struct {
	ClinicID int64
	Field    string
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("clinic %d: %s %s", e.ClinicID, e.Field, e.Reason)
}
