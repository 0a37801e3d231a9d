package domain

import (
	"fmt"
	"time"
)

const PeriodLayout = "2006-01-02"

// Period is one business day in the business time zone. Start is inclusive,
// End exclusive.
type Period struct {
	Key   string
	Start time.Time
	End   time.Time
}

func ParsePeriod(key string, loc *time.Location) (Period, error) {
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation(PeriodLayout, key, loc)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q: %w", key, err)
	}
	return PeriodOf(day, loc), nil
}

// PeriodOf returns the business day containing t.
func PeriodOf(t time.Time, loc *time.Location) Period {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return Period{
		Key:   start.Format(PeriodLayout),
		Start: start,
		End:   start.AddDate(0, 0, 1),
	}
}

func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}
