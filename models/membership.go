package models

import "time"

// MembershipInterval is one raw index-membership span for a stable internal
// key. A zero End means the membership is still open. Overlapping or
// adjacent intervals for the same key are kept as-is at this layer.
type MembershipInterval struct {
	PermNo int
	Start  time.Time
	End    time.Time
}

// Active reports whether the interval covers the given day.
func (m MembershipInterval) Active(day time.Time) bool {
	if day.Before(m.Start) {
		return false
	}
	return m.End.IsZero() || !day.After(m.End)
}

// SymbolMapping binds a stable internal key to a date-varying external
// symbol. A zero ValidTo means the mapping is still current.
type SymbolMapping struct {
	PermNo    int
	Symbol    string
	ValidFrom time.Time
	ValidTo   time.Time
}

// Overlaps reports whether the mapping's validity intersects [start, end].
// A zero end on either side is treated as open-ended.
func (s SymbolMapping) Overlaps(start, end time.Time) bool {
	if !s.ValidTo.IsZero() && s.ValidTo.Before(start) {
		return false
	}
	if !end.IsZero() && s.ValidFrom.After(end) {
		return false
	}
	return true
}

// Gap is a membership span with no overlapping symbol mapping. Gaps are
// reported rather than silently dropped; the affected key falls back to its
// numeric form for fetch scheduling.
type Gap struct {
	PermNo int
	Start  time.Time
	End    time.Time
}
