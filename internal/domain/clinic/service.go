package clinic

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// RuleProvider resolves clinic scheduling rules. Every call reads the current
// configuration, so rule changes apply to the next query or booking.
type RuleProvider struct {
	src    ConfigSource
	logger zerolog.Logger
}

func NewRuleProvider(src ConfigSource, logger zerolog.Logger) *RuleProvider {
	return &RuleProvider{src: src, logger: logger.With().Str("component", "clinic_rules").Logger()}
}

// GetSchedule returns the validated schedule of a clinic. It fails with
// ErrNotFound for unknown clinics and *ConfigError for invalid settings.
func (p *RuleProvider) GetSchedule(ctx context.Context, clinicID int64) (*Schedule, error) {
	raw, err := p.src.GetClinicSettings(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	sched, err := ParseSettings(clinicID, raw)
	if err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			p.logger.Warn().Int64("clinic_id", clinicID).Str("field", cfgErr.Field).
				Str("reason", cfgErr.Reason).Msg("rejecting invalid clinic schedule")
		}
		return nil, err
	}
	return sched, nil
}

// IsWorkingDay reports whether date falls on one of the clinic's working days,
// judged in the clinic time zone.
func (p *RuleProvider) IsWorkingDay(ctx context.Context, date time.Time, clinicID int64) (bool, error) {
	sched, err := p.GetSchedule(ctx, clinicID)
	if err != nil {
		return false, err
	}
	return sched.IsWorkingDay(date), nil
}
