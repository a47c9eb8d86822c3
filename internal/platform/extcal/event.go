// Package extcal reads professionals' busy time from external calendars.
// Blocks are read-only: the scheduler never writes back to a calendar.
package extcal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// maxOccurrences bounds the expansion of one recurring event per lookup.
const maxOccurrences = 500

// ErrTooManyOccurrences is returned when a recurring event expands to more
// than maxOccurrences blocks in one lookup. Dropping the excess would hide
// busy time, so the whole lookup fails instead.
var ErrTooManyOccurrences = errors.New("recurring event expands to too many occurrences")

// Block is a busy interval on a professional's external calendar.
type Block struct {
	ProfessionalID int64     `json:"professional_id"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	Title          string    `json:"title,omitempty"`
	Source         string    `json:"source,omitempty"`
}

// Event is a calendar entry as published by a feed. RRule, when set, is an
// RFC 5545 recurrence rule ("FREQ=WEEKLY;BYDAY=MO,WE") anchored at Start.
// Recurrences are expanded in Timezone so wall-clock times survive DST.
type Event struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Start       time.Time   `json:"start"`
	End         time.Time   `json:"end"`
	Timezone    string      `json:"timezone,omitempty"`
	RRule       string      `json:"rrule,omitempty"`
	ExDates     []time.Time `json:"exdates,omitempty"`
	Status      string      `json:"status,omitempty"`
	Transparent bool        `json:"transparent,omitempty"`
}

// Source lists the busy blocks of a professional intersecting [from, to).
type Source interface {
	ListBusyBlocks(ctx context.Context, professionalID int64, from, to time.Time) ([]Block, error)
}

// Expand turns events into the blocks intersecting [from, to), sorted by
// start. Cancelled and transparent (free) events are skipped.
func Expand(professionalID int64, source string, events []Event, from, to time.Time) ([]Block, error) {
	var out []Block
	for _, ev := range events {
		if strings.EqualFold(ev.Status, "cancelled") || ev.Transparent {
			continue
		}
		if !ev.Start.Before(ev.End) {
			continue
		}
		starts, err := occurrences(ev, from, to)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", ev.ID, err)
		}
		dur := ev.End.Sub(ev.Start)
		for _, s := range starts {
			e := s.Add(dur)
			if s.Before(to) && e.After(from) {
				out = append(out, Block{ProfessionalID: professionalID, Start: s, End: e, Title: ev.Title, Source: source})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func occurrences(ev Event, from, to time.Time) ([]time.Time, error) {
	if ev.RRule == "" {
		return []time.Time{ev.Start}, nil
	}
	start := ev.Start
	if ev.Timezone != "" {
		loc, err := time.LoadLocation(ev.Timezone)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", ev.Timezone)
		}
		start = start.In(loc)
	}
	r, err := rrule.StrToRRule(strings.TrimPrefix(ev.RRule, "RRULE:"))
	if err != nil {
		return nil, fmt.Errorf("parse rrule: %w", err)
	}
	r.DTStart(start)

	set := &rrule.Set{}
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(start.Location()))
	}
	// Occurrences starting up to one duration before from can still overlap it.
	starts := set.Between(from.Add(-ev.End.Sub(ev.Start)), to, true)
	if len(starts) > maxOccurrences {
		return nil, fmt.Errorf("%w: %d in range, limit %d", ErrTooManyOccurrences, len(starts), maxOccurrences)
	}
	return starts, nil
}
