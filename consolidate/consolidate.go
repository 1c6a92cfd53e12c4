// Package consolidate turns raw per-(entity, endpoint) records into the
// deduplicated final tables. Builds are side-effect-free up to the single
// atomic replace of the output file, so datasets can build in parallel.
package consolidate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"quantflow/logger"
	"quantflow/models"
	"quantflow/rawstore"
)

// Consolidator builds final tables from the raw store.
type Consolidator struct {
	store *rawstore.Store
	log   *logger.Log
}

func NewConsolidator(store *rawstore.Store) *Consolidator {
	return &Consolidator{store: store, log: logger.GetLogger()}
}

// BuildResult summarizes one dataset build.
type BuildResult struct {
	Dataset   string
	RawRows   int
	Sentinels int
	Conflicts int
	FinalRows int
}

// candidate is one raw row competing for a natural key, carrying the
// precedence inputs of the tie-break: endpoint rank within the dataset,
// then file modification order, then arrival order within the file.
type candidate struct {
	row      models.FieldRow
	endpoint string
	priority int
	modTime  time.Time
}

// beats reports whether the newly seen candidate displaces the held one.
// Equal priority and equal mod time means both came from the same file,
// where the earlier occurrence stays: raw payloads preserve provider rank
// order and a single file is a single write.
func (c candidate) beats(held candidate) bool {
	if c.priority != held.priority {
		return c.priority < held.priority
	}
	if !c.modTime.Equal(held.modTime) {
		return c.modTime.After(held.modTime)
	}
	return false
}

// Build consolidates one dataset and atomically replaces its final table.
func (c *Consolidator) Build(ctx context.Context, dataset string) (BuildResult, error) {
	if err := ctx.Err(); err != nil {
		return BuildResult{}, err
	}
	ds, ok := models.DatasetByName(dataset)
	if !ok {
		return BuildResult{}, fmt.Errorf("unknown dataset %s", dataset)
	}

	log := c.log.WithComponent("consolidate").WithFields(logger.Fields{
		"operation": "build",
		"dataset":   ds.Name,
	})
	start := time.Now()

	chosen, result, err := c.selectRows(ds)
	if err != nil {
		return result, err
	}

	switch ds.Name {
	case "price_daily", "price_weekly":
		rows := pivotPrices(chosen)
		result.FinalRows = len(rows)
		err = c.store.WriteFinal(ds.Name, rows)
	case "fundamentals":
		rows := fundamentalRows(chosen)
		result.FinalRows = len(rows)
		err = c.store.WriteFinal(ds.Name, rows)
	case "company_overview":
		rows := overviewRows(chosen)
		result.FinalRows = len(rows)
		err = c.store.WriteFinal(ds.Name, rows)
	case "economic":
		rows := economicRows(chosen)
		result.FinalRows = len(rows)
		err = c.store.WriteFinal(ds.Name, rows)
	default:
		err = fmt.Errorf("dataset %s has no final table shape", ds.Name)
	}
	if err != nil {
		return result, err
	}

	duration := time.Since(start)
	log.WithFields(logger.Fields{
		"raw_rows":   result.RawRows,
		"sentinels":  result.Sentinels,
		"conflicts":  result.Conflicts,
		"final_rows": result.FinalRows,
		"duration":   duration.String(),
	}).Info("Dataset consolidated")

	logger.LogPerformanceEntry(log, "consolidate", "build", duration, logger.Fields{
		"dataset":    ds.Name,
		"raw_rows":   result.RawRows,
		"final_rows": result.FinalRows,
	})
	logger.LogDataFlowEntry(log, "data-raw", "final", result.FinalRows, "final_rows")
	c.log.LogMetric("consolidate", "final_rows", result.FinalRows, "counter", logger.Fields{"dataset": ds.Name})
	return result, nil
}

// BuildAll consolidates every dataset. Datasets own disjoint endpoint sets
// and disjoint final files, so they build concurrently.
func (c *Consolidator) BuildAll(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make([]error, len(models.Datasets))

	for i, ds := range models.Datasets {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			if _, err := c.Build(ctx, name); err != nil {
				errs[i] = fmt.Errorf("build %s: %w", name, err)
			}
		}(i, ds.Name)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// selectRows reads every raw record of the dataset's endpoints, drops
// sentinel rows and resolves natural-key collisions.
func (c *Consolidator) selectRows(ds models.Dataset) (map[string]candidate, BuildResult, error) {
	log := c.log.WithComponent("consolidate").WithFields(logger.Fields{"dataset": ds.Name})
	result := BuildResult{Dataset: ds.Name}
	chosen := make(map[string]candidate)

	for _, epName := range ds.Endpoints {
		records, err := c.store.ReadAll(epName)
		if err != nil {
			return nil, result, err
		}
		priority := ds.EndpointPriority(epName)

		for _, rec := range records {
			for _, row := range rec.Rows {
				result.RawRows++
				if row.IsError() {
					result.Sentinels++
					continue
				}
				key := naturalKey(ds.Name, epName, row)
				cand := candidate{row: row, endpoint: epName, priority: priority, modTime: rec.ModTime}

				held, exists := chosen[key]
				if !exists {
					chosen[key] = cand
					continue
				}
				if held.row.Value != cand.row.Value {
					result.Conflicts++
					log.WithFields(logger.Fields{
						"key":  key,
						"held": held.row.Value,
						"seen": cand.row.Value,
					}).Debug("Conflicting values for natural key")
				}
				if cand.beats(held) {
					chosen[key] = cand
				}
			}
		}
	}
	return chosen, result, nil
}

const keySep = "\x1f"

// naturalKey builds the dedup key for one raw row within a dataset.
func naturalKey(dataset, endpoint string, row models.FieldRow) string {
	switch dataset {
	case "price_daily", "price_weekly":
		return row.Symbol + keySep + row.Date + keySep + row.Metric
	case "fundamentals":
		return row.Symbol + keySep + row.Date + keySep + endpoint + keySep + row.PeriodType + keySep + row.Metric
	case "company_overview":
		return row.Symbol + keySep + row.Metric
	case "economic":
		return endpoint + keySep + row.Date
	default:
		return endpoint + keySep + row.Symbol + keySep + row.Date + keySep + row.PeriodType + keySep + row.Metric
	}
}

// pivotPrices folds long (ticker, date, metric, value) rows into the wide
// price schema. Metrics the payload never carried stay NaN.
func pivotPrices(chosen map[string]candidate) []models.PriceRow {
	grouped := make(map[string]*models.PriceRow)
	for _, cand := range chosen {
		key := cand.row.Symbol + keySep + cand.row.Date
		row, ok := grouped[key]
		if !ok {
			row = emptyPriceRow(cand.row.Symbol, cand.row.Date)
			grouped[key] = row
		}
		setPriceMetric(row, cand.row.Metric, parseValue(cand.row.Value))
	}

	rows := make([]models.PriceRow, 0, len(grouped))
	for _, row := range grouped {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Ticker != rows[j].Ticker {
			return rows[i].Ticker < rows[j].Ticker
		}
		return rows[i].Date < rows[j].Date
	})
	return rows
}

func emptyPriceRow(ticker, date string) *models.PriceRow {
	nan := math.NaN()
	return &models.PriceRow{
		Ticker:           ticker,
		Date:             date,
		Open:             nan,
		High:             nan,
		Low:              nan,
		Close:            nan,
		AdjustedClose:    nan,
		Volume:           nan,
		DividendAmount:   nan,
		SplitCoefficient: nan,
	}
}

func setPriceMetric(row *models.PriceRow, metric string, value float64) {
	switch metric {
	case "open":
		row.Open = value
	case "high":
		row.High = value
	case "low":
		row.Low = value
	case "close":
		row.Close = value
	case "adjusted_close", "adjusted close":
		row.AdjustedClose = value
	case "volume":
		row.Volume = value
	case "dividend_amount", "dividend amount":
		row.DividendAmount = value
	case "split_coefficient", "split coefficient":
		row.SplitCoefficient = value
	}
}

// parseValue interprets a raw textual value as a float; the provider marks
// missing points with "." or "None", which come back as NaN.
func parseValue(value string) float64 {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

func fundamentalRows(chosen map[string]candidate) []models.FundamentalRow {
	rows := make([]models.FundamentalRow, 0, len(chosen))
	for _, cand := range chosen {
		rows = append(rows, models.FundamentalRow{
			Ticker:     cand.row.Symbol,
			Date:       cand.row.Date,
			Statement:  cand.endpoint,
			PeriodType: cand.row.PeriodType,
			Metric:     cand.row.Metric,
			Value:      cand.row.Value,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Ticker != b.Ticker {
			return a.Ticker < b.Ticker
		}
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Statement != b.Statement {
			return a.Statement < b.Statement
		}
		if a.PeriodType != b.PeriodType {
			return a.PeriodType < b.PeriodType
		}
		return a.Metric < b.Metric
	})
	return rows
}

func overviewRows(chosen map[string]candidate) []models.OverviewRow {
	rows := make([]models.OverviewRow, 0, len(chosen))
	for _, cand := range chosen {
		rows = append(rows, models.OverviewRow{
			Ticker: cand.row.Symbol,
			Source: cand.endpoint,
			Metric: cand.row.Metric,
			Value:  cand.row.Value,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Ticker != rows[j].Ticker {
			return rows[i].Ticker < rows[j].Ticker
		}
		return rows[i].Metric < rows[j].Metric
	})
	return rows
}

func economicRows(chosen map[string]candidate) []models.EconomicRow {
	rows := make([]models.EconomicRow, 0, len(chosen))
	for _, cand := range chosen {
		rows = append(rows, models.EconomicRow{
			Indicator: cand.endpoint,
			Date:      cand.row.Date,
			Value:     cand.row.Value,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Indicator != rows[j].Indicator {
			return rows[i].Indicator < rows[j].Indicator
		}
		return rows[i].Date < rows[j].Date
	})
	return rows
}
