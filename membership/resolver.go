// Package membership expands raw index-membership intervals into a daily
// roster and resolves the dated external symbol for each appearance.
package membership

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"quantflow/logger"
	"quantflow/models"
)

const dayFormat = "2006-01-02"

// Roster is the resolved output of a membership expansion: the daily
// appearances kept for audit, the deduplicated symbol list that drives
// fetch scheduling, and the membership spans with no symbol coverage.
type Roster struct {
	Rows    []models.RosterRow
	Symbols []string
	Gaps    []models.Gap
}

// Resolver joins membership intervals against the dated symbol history.
type Resolver struct {
	log *logger.Log
}

// NewResolver creates a resolver.
func NewResolver() *Resolver {
	return &Resolver{log: logger.GetLogger()}
}

// Resolve expands every membership interval into daily appearances between
// start and end, then attaches the symbol whose validity covers each day.
// Appearances with no covering mapping fall back to the numeric internal
// key and the uncovered span is reported as a gap.
func (r *Resolver) Resolve(intervals []models.MembershipInterval, mappings []models.SymbolMapping, start, end time.Time) (*Roster, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("roster window end %s precedes start %s", end.Format(dayFormat), start.Format(dayFormat))
	}
	log := r.log.WithComponent("membership").WithFields(logger.Fields{"operation": "resolve"})

	sorted := make([]models.MembershipInterval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].PermNo != sorted[j].PermNo {
			return sorted[i].PermNo < sorted[j].PermNo
		}
		return sorted[i].Start.Before(sorted[j].Start)
	})

	byPermno := make(map[int][]models.SymbolMapping)
	for _, m := range mappings {
		byPermno[m.PermNo] = append(byPermno[m.PermNo], m)
	}

	roster := &Roster{}
	seen := make(map[string]bool)
	openGaps := make(map[int]*models.Gap)

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		for _, interval := range sorted {
			if !interval.Active(day) {
				continue
			}
			symbol, covered := coveringSymbol(byPermno[interval.PermNo], day)
			if !covered {
				symbol = strconv.Itoa(interval.PermNo)
				extendGap(openGaps, roster, interval.PermNo, day)
			} else {
				closeGap(openGaps, roster, interval.PermNo)
			}
			if models.IsNAToken(symbol) {
				continue
			}
			roster.Rows = append(roster.Rows, models.RosterRow{
				Date:   day.Format(dayFormat),
				Ticker: symbol,
				PermNo: int64(interval.PermNo),
			})
			if !seen[symbol] {
				seen[symbol] = true
				roster.Symbols = append(roster.Symbols, symbol)
			}
		}
	}
	for permno := range openGaps {
		closeGap(openGaps, roster, permno)
	}
	sort.Strings(roster.Symbols)
	sort.Slice(roster.Gaps, func(i, j int) bool {
		if roster.Gaps[i].PermNo != roster.Gaps[j].PermNo {
			return roster.Gaps[i].PermNo < roster.Gaps[j].PermNo
		}
		return roster.Gaps[i].Start.Before(roster.Gaps[j].Start)
	})

	log.WithFields(logger.Fields{
		"appearances": len(roster.Rows),
		"symbols":     len(roster.Symbols),
		"gaps":        len(roster.Gaps),
	}).Info("resolved membership roster")
	for _, gap := range roster.Gaps {
		log.WithFields(logger.Fields{
			"permno": gap.PermNo,
			"from":   gap.Start.Format(dayFormat),
			"to":     gap.End.Format(dayFormat),
		}).Warn("membership span has no symbol coverage")
	}
	return roster, nil
}

// coveringSymbol returns the symbol whose validity interval covers the day.
// When several cover it, the latest-starting mapping wins.
func coveringSymbol(mappings []models.SymbolMapping, day time.Time) (string, bool) {
	best := models.SymbolMapping{}
	found := false
	for _, m := range mappings {
		if m.Symbol == "" || models.IsNAToken(m.Symbol) {
			continue
		}
		if day.Before(m.ValidFrom) {
			continue
		}
		if !m.ValidTo.IsZero() && day.After(m.ValidTo) {
			continue
		}
		if !found || m.ValidFrom.After(best.ValidFrom) {
			best = m
			found = true
		}
	}
	return best.Symbol, found
}

// extendGap grows the open uncovered span for a key, starting one when the
// previous day was covered.
func extendGap(open map[int]*models.Gap, roster *Roster, permno int, day time.Time) {
	if gap, ok := open[permno]; ok && gap.End.AddDate(0, 0, 1).Equal(day) {
		gap.End = day
		return
	}
	if _, ok := open[permno]; ok {
		closeGap(open, roster, permno)
	}
	open[permno] = &models.Gap{PermNo: permno, Start: day, End: day}
}

// closeGap finalizes an open span into the roster's gap list.
func closeGap(open map[int]*models.Gap, roster *Roster, permno int) {
	gap, ok := open[permno]
	if !ok {
		return
	}
	roster.Gaps = append(roster.Gaps, *gap)
	delete(open, permno)
}
