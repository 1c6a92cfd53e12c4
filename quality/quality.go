// Package quality runs read-only checks over final tables. Violations are
// reported and logged, never corrected: the checker has no write path.
package quality

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"quantflow/logger"
	"quantflow/models"
	"quantflow/rawstore"
)

// Rule classes.
const (
	RuleCompleteness = "completeness"
	RuleConsistency  = "consistency"
	RuleBounds       = "bounds"
)

// Percentage-style metrics must stay inside this range.
const (
	percentMin = -100
	percentMax = 10000
)

// Violation is one finding against a final table row or entity.
type Violation struct {
	Dataset string
	Rule    string
	Key     string
	Detail  string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s [%s] %s: %s", v.Dataset, v.Rule, v.Key, v.Detail)
}

// Checker validates final tables against the roster and per-metric rules.
type Checker struct {
	store *rawstore.Store
	log   *logger.Log
}

func NewChecker(store *rawstore.Store) *Checker {
	return &Checker{store: store, log: logger.GetLogger()}
}

// Check runs every rule class that applies to the dataset.
func (c *Checker) Check(dataset string) ([]Violation, error) {
	var violations []Violation
	var err error

	switch dataset {
	case "price_daily", "price_weekly":
		violations, err = c.checkPrices(dataset)
	case "fundamentals":
		violations, err = c.checkFundamentals()
	case "company_overview":
		violations, err = c.checkOverview()
	case "economic":
		violations, err = c.checkEconomic()
	default:
		return nil, fmt.Errorf("unknown dataset %s", dataset)
	}
	if err != nil {
		return nil, err
	}

	log := c.log.WithComponent("quality").WithFields(logger.Fields{
		"operation": "check",
		"dataset":   dataset,
	})
	for _, v := range violations {
		log.WithFields(logger.Fields{
			"rule":   v.Rule,
			"key":    v.Key,
			"detail": v.Detail,
		}).Warn("Quality violation")
	}
	log.WithFields(logger.Fields{"violations": len(violations)}).Info("Quality check complete")
	return violations, nil
}

func (c *Checker) checkPrices(dataset string) ([]Violation, error) {
	var rows []models.PriceRow
	if err := rawstore.ReadParquet(c.store.FinalPath(dataset), &rows); err != nil {
		return nil, err
	}

	var violations []Violation
	seen := make(map[string]bool, len(rows))
	covered := make(map[string]bool)

	for _, r := range rows {
		key := r.Ticker + " " + r.Date
		covered[r.Ticker] = true

		if seen[key] {
			violations = append(violations, Violation{dataset, RuleConsistency, key, "duplicate natural key"})
		}
		seen[key] = true

		if r.High < r.Low {
			violations = append(violations, Violation{dataset, RuleConsistency, key,
				fmt.Sprintf("high %v below low %v", r.High, r.Low)})
		}
		if r.Open > r.High || r.Open < r.Low {
			violations = append(violations, Violation{dataset, RuleConsistency, key,
				fmt.Sprintf("open %v outside [low, high]", r.Open)})
		}
		if r.Close > r.High || r.Close < r.Low {
			violations = append(violations, Violation{dataset, RuleConsistency, key,
				fmt.Sprintf("close %v outside [low, high]", r.Close)})
		}

		for metric, value := range map[string]float64{
			"open": r.Open, "high": r.High, "low": r.Low, "close": r.Close,
			"adjusted_close": r.AdjustedClose, "volume": r.Volume,
		} {
			if !math.IsNaN(value) && value < 0 {
				violations = append(violations, Violation{dataset, RuleBounds, key,
					fmt.Sprintf("negative %s %v", metric, value)})
			}
		}
	}

	completeness, err := c.checkCoverage(dataset, covered)
	if err != nil {
		return nil, err
	}
	return append(violations, completeness...), nil
}

// checkCoverage flags roster entities with no rows at all in the final
// table. Day-by-day comparison against the roster would flag every market
// holiday, so coverage is judged per entity, not per calendar day.
func (c *Checker) checkCoverage(dataset string, covered map[string]bool) ([]Violation, error) {
	roster, err := c.store.ReadRoster()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	expected := make(map[string]bool)
	for _, r := range roster {
		expected[r.Ticker] = true
	}

	var violations []Violation
	for ticker := range expected {
		if !covered[ticker] {
			violations = append(violations, Violation{dataset, RuleCompleteness, ticker,
				"roster entity has no rows in final table"})
		}
	}
	sort.Slice(violations, func(i, j int) bool { return violations[i].Key < violations[j].Key })
	return violations, nil
}

func (c *Checker) checkFundamentals() ([]Violation, error) {
	var rows []models.FundamentalRow
	if err := rawstore.ReadParquet(c.store.FinalPath("fundamentals"), &rows); err != nil {
		return nil, err
	}

	var violations []Violation
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		key := strings.Join([]string{r.Ticker, r.Date, r.Statement, r.PeriodType, r.Metric}, " ")
		if seen[key] {
			violations = append(violations, Violation{"fundamentals", RuleConsistency, key, "duplicate natural key"})
		}
		seen[key] = true

		violations = appendPercentBound(violations, "fundamentals", key, r.Metric, r.Value)
	}
	return violations, nil
}

func (c *Checker) checkOverview() ([]Violation, error) {
	var rows []models.OverviewRow
	if err := rawstore.ReadParquet(c.store.FinalPath("company_overview"), &rows); err != nil {
		return nil, err
	}

	var violations []Violation
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		key := r.Ticker + " " + r.Metric
		if seen[key] {
			violations = append(violations, Violation{"company_overview", RuleConsistency, key, "duplicate natural key"})
		}
		seen[key] = true

		violations = appendPercentBound(violations, "company_overview", key, r.Metric, r.Value)
	}
	return violations, nil
}

// rateIndicators are economic series quoted in percent.
var rateIndicators = map[string]bool{
	"TREASURY_YIELD":     true,
	"FEDERAL_FUNDS_RATE": true,
	"INFLATION":          true,
	"UNEMPLOYMENT":       true,
}

func (c *Checker) checkEconomic() ([]Violation, error) {
	var rows []models.EconomicRow
	if err := rawstore.ReadParquet(c.store.FinalPath("economic"), &rows); err != nil {
		return nil, err
	}

	var violations []Violation
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		key := r.Indicator + " " + r.Date
		if seen[key] {
			violations = append(violations, Violation{"economic", RuleConsistency, key, "duplicate natural key"})
		}
		seen[key] = true

		if !rateIndicators[r.Indicator] {
			continue
		}
		value, ok := parseNumeric(r.Value)
		if !ok {
			continue
		}
		if value < percentMin || value > percentMax {
			violations = append(violations, Violation{"economic", RuleBounds, key,
				fmt.Sprintf("rate %v outside [%d, %d]", value, percentMin, percentMax)})
		}
	}
	return violations, nil
}

// appendPercentBound applies the percentage range to metrics whose name
// marks them as percentages.
func appendPercentBound(violations []Violation, dataset, key, metric, raw string) []Violation {
	if !strings.Contains(strings.ToLower(metric), "percent") {
		return violations
	}
	value, ok := parseNumeric(raw)
	if !ok {
		return violations
	}
	if value < percentMin || value > percentMax {
		violations = append(violations, Violation{dataset, RuleBounds, key,
			fmt.Sprintf("percentage %v outside [%d, %d]", value, percentMin, percentMax)})
	}
	return violations
}

// parseNumeric tolerates the provider's textual missing-value markers.
func parseNumeric(raw string) (float64, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "." || strings.EqualFold(trimmed, "none") {
		return 0, false
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

