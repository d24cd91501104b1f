package usage

import (
	"context"
	"fmt"
	"time"
)

// Periods lists the names accepted by [PeriodRange].
var Periods = []string{"today", "yesterday", "week", "month", "all"}

// PeriodRange converts a period name to a [start, end) range relative
// to now. The end of open periods sits one minute past now so records
// written during the query are included.
func PeriodRange(name string, now time.Time) (time.Time, time.Time, error) {
	end := now.Add(time.Minute)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch name {
	case "today":
		return midnight, end, nil
	case "yesterday":
		return midnight.AddDate(0, 0, -1), midnight, nil
	case "week":
		return now.AddDate(0, 0, -7), end, nil
	case "month":
		return now.AddDate(0, -1, 0), end, nil
	case "all":
		return time.Time{}, end, nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown period %q (valid: today, yesterday, week, month, all)", name)
	}
}

// Grouped returns totals grouped by "purpose" or "model".
func (s *Store) Grouped(ctx context.Context, by string, start, end time.Time) (map[string]*Summary, error) {
	switch by {
	case "purpose":
		return s.SummaryByPurpose(ctx, start, end)
	case "model":
		return s.SummaryByModel(ctx, start, end)
	default:
		return nil, fmt.Errorf("unknown grouping %q (valid: purpose, model)", by)
	}
}
