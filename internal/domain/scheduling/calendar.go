package scheduling

import (
	"context"

	"github.com/clinicore/scheduler/internal/platform/extcal"
)

type externalCalendar struct{ src extcal.Source }

// NewExternalCalendar exposes an extcal source as the detector's calendar.
func NewExternalCalendar(src extcal.Source) ExternalCalendar {
	return externalCalendar{src: src}
}

func (c externalCalendar) ListBusyBlocks(ctx context.Context, professionalID int64, r DateRange) ([]BusyBlock, error) {
	blocks, err := c.src.ListBusyBlocks(ctx, professionalID, r.From, r.To)
	if err != nil {
		return nil, err
	}
	out := make([]BusyBlock, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, BusyBlock{ProfessionalID: b.ProfessionalID, Start: b.Start, End: b.End, Title: b.Title, Source: b.Source})
	}
	return out, nil
}
