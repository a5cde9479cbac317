package billing

import "time"

// =============================================================================
// DATE RANGE - Reporting window
// =============================================================================

// DateRange is the half-open reporting window [Start, End).
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange returns an InvalidRangeError unless start < end.
func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: start, End: end}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r, nil
}

func (r DateRange) Validate() error {
	if !r.Start.Before(r.End) {
		return &InvalidRangeError{Start: r.Start, End: r.End}
	}
	return nil
}

// Contains reports whether t lies in [Start, End).
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Months returns the first day of every calendar month that overlaps the range,
// in chronological order.
func (r DateRange) Months() []time.Time {
	var months []time.Time
	for m := StartOfMonth(r.Start); m.Before(r.End); m = m.AddDate(0, 1, 0) {
		months = append(months, m)
	}
	return months
}

func (r DateRange) String() string {
	return "[" + r.Start.UTC().Format(time.RFC3339) + ", " + r.End.UTC().Format(time.RFC3339) + ")"
}
