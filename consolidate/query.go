package consolidate

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"quantflow/logger"
	"quantflow/models"
	"quantflow/rawstore"
)

// Read returns a filtered view of one final table as a header plus string
// records, ready for CSV output. An empty ticker list selects everything;
// zero times leave that side of the window open. For the economic table
// the ticker filter applies to the indicator column.
func (c *Consolidator) Read(dataset string, tickers []string, start, end time.Time) ([]string, [][]string, error) {
	want := tickerSet(tickers)
	lo, hi := windowBounds(start, end)
	path := c.store.FinalPath(dataset)

	switch dataset {
	case "price_daily", "price_weekly":
		var rows []models.PriceRow
		if err := rawstore.ReadParquet(path, &rows); err != nil {
			return nil, nil, err
		}
		header := []string{"ticker", "date", "open", "high", "low", "close", "adjusted_close", "volume", "dividend_amount", "split_coefficient"}
		var records [][]string
		for _, r := range rows {
			if !selected(want, r.Ticker) || !inWindow(r.Date, lo, hi) {
				continue
			}
			records = append(records, []string{
				r.Ticker, r.Date,
				formatValue(r.Open), formatValue(r.High), formatValue(r.Low), formatValue(r.Close),
				formatValue(r.AdjustedClose), formatValue(r.Volume), formatValue(r.DividendAmount), formatValue(r.SplitCoefficient),
			})
		}
		return header, records, nil

	case "fundamentals":
		var rows []models.FundamentalRow
		if err := rawstore.ReadParquet(path, &rows); err != nil {
			return nil, nil, err
		}
		header := []string{"ticker", "date", "statement", "period_type", "metric", "value"}
		var records [][]string
		for _, r := range rows {
			if !selected(want, r.Ticker) || !inWindow(r.Date, lo, hi) {
				continue
			}
			records = append(records, []string{r.Ticker, r.Date, r.Statement, r.PeriodType, r.Metric, r.Value})
		}
		return header, records, nil

	case "company_overview":
		var rows []models.OverviewRow
		if err := rawstore.ReadParquet(path, &rows); err != nil {
			return nil, nil, err
		}
		header := []string{"ticker", "source", "metric", "value"}
		var records [][]string
		for _, r := range rows {
			if !selected(want, r.Ticker) {
				continue
			}
			records = append(records, []string{r.Ticker, r.Source, r.Metric, r.Value})
		}
		return header, records, nil

	case "economic":
		var rows []models.EconomicRow
		if err := rawstore.ReadParquet(path, &rows); err != nil {
			return nil, nil, err
		}
		header := []string{"indicator", "date", "value"}
		var records [][]string
		for _, r := range rows {
			if !selected(want, r.Indicator) || !inWindow(r.Date, lo, hi) {
				continue
			}
			records = append(records, []string{r.Indicator, r.Date, r.Value})
		}
		return header, records, nil

	case "factor_returns":
		var rows []models.FactorRow
		if err := rawstore.ReadParquet(path, &rows); err != nil {
			return nil, nil, err
		}
		header := []string{"date", "mktrf", "smb", "hml", "rmw", "cma", "rf", "umd"}
		var records [][]string
		for _, r := range rows {
			if !inWindow(r.Date, lo, hi) {
				continue
			}
			records = append(records, []string{
				r.Date,
				formatValue(r.MktRF), formatValue(r.SMB), formatValue(r.HML), formatValue(r.RMW),
				formatValue(r.CMA), formatValue(r.RF), formatValue(r.UMD),
			})
		}
		return header, records, nil
	}
	return nil, nil, fmt.Errorf("unknown dataset %s", dataset)
}

// CleanInvalid strips rows carrying the provider's invalid-call text from
// a final table. Tables written by the current builder never contain them,
// so this mostly repairs tables inherited from earlier tooling.
func (c *Consolidator) CleanInvalid(dataset string) (int, error) {
	path := c.store.FinalPath(dataset)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return 0, nil
	}

	var removed int
	var err error
	switch dataset {
	case "price_daily", "price_weekly":
		removed, err = cleanRows(c.store, dataset, func(r models.PriceRow) bool {
			return containsInvalid(r.Ticker, r.Date)
		})
	case "fundamentals":
		removed, err = cleanRows(c.store, dataset, func(r models.FundamentalRow) bool {
			return containsInvalid(r.Ticker, r.Date, r.Metric, r.Value)
		})
	case "company_overview":
		removed, err = cleanRows(c.store, dataset, func(r models.OverviewRow) bool {
			return containsInvalid(r.Ticker, r.Metric, r.Value)
		})
	case "economic":
		removed, err = cleanRows(c.store, dataset, func(r models.EconomicRow) bool {
			return containsInvalid(r.Indicator, r.Date, r.Value)
		})
	default:
		return 0, fmt.Errorf("unknown dataset %s", dataset)
	}
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		c.log.WithComponent("consolidate").WithFields(logger.Fields{
			"operation": "clean",
			"dataset":   dataset,
			"removed":   removed,
		}).Info("Removed invalid rows from final table")
	}
	return removed, nil
}

// cleanRows rewrites one final table without the rows the predicate flags.
func cleanRows[T any](store *rawstore.Store, dataset string, invalid func(T) bool) (int, error) {
	var rows []T
	if err := rawstore.ReadParquet(store.FinalPath(dataset), &rows); err != nil {
		return 0, err
	}
	kept := make([]T, 0, len(rows))
	for _, row := range rows {
		if invalid(row) {
			continue
		}
		kept = append(kept, row)
	}
	removed := len(rows) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := store.WriteFinal(dataset, kept); err != nil {
		return 0, err
	}
	return removed, nil
}

func containsInvalid(fields ...string) bool {
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), models.InvalidCallPattern) {
			return true
		}
	}
	return false
}

func tickerSet(tickers []string) map[string]bool {
	if len(tickers) == 0 {
		return nil
	}
	set := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		if norm := models.NormalizeSymbol(t); norm != "" {
			set[norm] = true
		}
	}
	return set
}

func selected(want map[string]bool, value string) bool {
	return want == nil || want[value]
}

func windowBounds(start, end time.Time) (string, string) {
	lo, hi := "", ""
	if !start.IsZero() {
		lo = start.Format("2006-01-02")
	}
	if !end.IsZero() {
		hi = end.Format("2006-01-02")
	}
	return lo, hi
}

func inWindow(date, lo, hi string) bool {
	if lo != "" && date < lo {
		return false
	}
	if hi != "" && date > hi {
		return false
	}
	return true
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
