package consolidate

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"quantflow/config"
	"quantflow/logger"
	"quantflow/models"
	"quantflow/rawstore"
)

func testConsolidator(t *testing.T) (*Consolidator, *rawstore.Store) {
	t.Helper()
	store := rawstore.NewStore(t.TempDir(), config.StorageConfig{Compression: "snappy"})
	return NewConsolidator(store), store
}

// priceRows builds one day of long price rows per date, eight metrics each.
func priceRows(symbol string, dates []string, base float64) []models.FieldRow {
	metrics := []string{"open", "high", "low", "close", "adjusted_close", "volume", "dividend_amount", "split_coefficient"}
	var rows []models.FieldRow
	for i, date := range dates {
		for j, metric := range metrics {
			value := base + float64(i) + float64(j)/10
			rows = append(rows, models.FieldRow{
				Symbol: symbol,
				Date:   date,
				Metric: metric,
				Value:  fmt.Sprintf("%.2f", value),
			})
		}
	}
	return rows
}

var testDates = []string{"2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05", "2024-01-08"}

func TestBuildPriceWithSentinel(t *testing.T) {
	c, store := testConsolidator(t)

	if err := store.Write("AAA", "TIME_SERIES_DAILY_ADJUSTED", priceRows("AAA", testDates, 100)); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}
	if err := store.Write("BBB", "TIME_SERIES_DAILY_ADJUSTED", []models.FieldRow{
		models.ErrorRow("BBB", "Invalid API call. Please retry or visit the documentation."),
	}); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}

	result, err := c.Build(context.Background(), "price_daily")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if result.FinalRows != 5 {
		t.Errorf("expected 5 final rows, got %d", result.FinalRows)
	}
	if result.Sentinels != 1 {
		t.Errorf("expected 1 sentinel dropped, got %d", result.Sentinels)
	}

	var rows []models.PriceRow
	if err := rawstore.ReadParquet(store.FinalPath("price_daily"), &rows); err != nil {
		t.Fatalf("read final failed: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows in final table, got %d", len(rows))
	}
	for i, row := range rows {
		if row.Ticker != "AAA" {
			t.Errorf("row %d: unexpected ticker %s", i, row.Ticker)
		}
		if row.Date != testDates[i] {
			t.Errorf("row %d: expected date %s, got %s", i, testDates[i], row.Date)
		}
	}
	if rows[0].Open != 100 {
		t.Errorf("expected pivoted open 100, got %v", rows[0].Open)
	}
	if rows[0].Close != 100.3 {
		t.Errorf("expected pivoted close 100.3, got %v", rows[0].Close)
	}
}

func TestBuildRecoversAfterRefetch(t *testing.T) {
	c, store := testConsolidator(t)

	if err := store.Write("AAA", "TIME_SERIES_DAILY_ADJUSTED", priceRows("AAA", testDates, 100)); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}
	if err := store.Write("BBB", "TIME_SERIES_DAILY_ADJUSTED", []models.FieldRow{
		models.ErrorRow("BBB", "Invalid API call."),
	}); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}

	if _, err := c.Build(context.Background(), "price_daily"); err != nil {
		t.Fatalf("first Build failed: %v", err)
	}

	// The sentinel is replaced by real data, as a refetch would do.
	if err := store.Write("BBB", "TIME_SERIES_DAILY_ADJUSTED", priceRows("BBB", testDates, 50)); err != nil {
		t.Fatalf("refetch write failed: %v", err)
	}
	result, err := c.Build(context.Background(), "price_daily")
	if err != nil {
		t.Fatalf("second Build failed: %v", err)
	}
	if result.FinalRows != 10 {
		t.Errorf("expected 10 final rows after recovery, got %d", result.FinalRows)
	}
}

func TestBuildDeterministic(t *testing.T) {
	c, store := testConsolidator(t)

	if err := store.Write("AAA", "TIME_SERIES_DAILY_ADJUSTED", priceRows("AAA", testDates, 100)); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}
	if err := store.Write("BBB", "TIME_SERIES_DAILY_ADJUSTED", priceRows("BBB", testDates, 50)); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}

	if _, err := c.Build(context.Background(), "price_daily"); err != nil {
		t.Fatalf("first Build failed: %v", err)
	}
	first, err := os.ReadFile(store.FinalPath("price_daily"))
	if err != nil {
		t.Fatalf("read first build: %v", err)
	}

	if _, err := c.Build(context.Background(), "price_daily"); err != nil {
		t.Fatalf("second Build failed: %v", err)
	}
	second, err := os.ReadFile(store.FinalPath("price_daily"))
	if err != nil {
		t.Fatalf("read second build: %v", err)
	}

	if string(first) != string(second) {
		t.Error("rebuilding unchanged raw input should produce an identical final table")
	}
}

func TestBuildFirstOccurrenceWinsWithinFile(t *testing.T) {
	c, store := testConsolidator(t)

	rows := []models.FieldRow{
		{Symbol: "AAA", Date: "2024-01-02", Metric: "close", Value: "100.0"},
		{Symbol: "AAA", Date: "2024-01-02", Metric: "close", Value: "999.0"},
	}
	if err := store.Write("AAA", "TIME_SERIES_DAILY_ADJUSTED", rows); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}

	result, err := c.Build(context.Background(), "price_daily")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if result.Conflicts != 1 {
		t.Errorf("expected 1 recorded conflict, got %d", result.Conflicts)
	}

	var final []models.PriceRow
	if err := rawstore.ReadParquet(store.FinalPath("price_daily"), &final); err != nil {
		t.Fatalf("read final failed: %v", err)
	}
	if len(final) != 1 {
		t.Fatalf("expected 1 final row, got %d", len(final))
	}
	if final[0].Close != 100.0 {
		t.Errorf("expected first occurrence to win, got close %v", final[0].Close)
	}
	if !math.IsNaN(final[0].Open) {
		t.Errorf("expected absent metric to stay NaN, got %v", final[0].Open)
	}
}

func TestBuildOverviewEndpointPrecedence(t *testing.T) {
	c, store := testConsolidator(t)

	if err := store.Write("AAA", "SYMBOL_SEARCH", []models.FieldRow{
		{Symbol: "AAA", Metric: "name", Value: "Alpha Company Ltd"},
		{Symbol: "AAA", Metric: "region", Value: "United States"},
	}); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}
	if err := store.Write("AAA", "COMPANY_OVERVIEW", []models.FieldRow{
		{Symbol: "AAA", Metric: "name", Value: "Alpha Co"},
		{Symbol: "AAA", Metric: "Sector", Value: "Technology"},
	}); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}

	result, err := c.Build(context.Background(), "company_overview")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if result.Conflicts != 1 {
		t.Errorf("expected 1 conflict on the shared metric, got %d", result.Conflicts)
	}

	var rows []models.OverviewRow
	if err := rawstore.ReadParquet(store.FinalPath("company_overview"), &rows); err != nil {
		t.Fatalf("read final failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 final rows, got %d", len(rows))
	}

	byMetric := make(map[string]models.OverviewRow)
	for _, row := range rows {
		byMetric[row.Metric] = row
	}
	name, ok := byMetric["name"]
	if !ok {
		t.Fatal("missing name metric")
	}
	if name.Value != "Alpha Co" || name.Source != "COMPANY_OVERVIEW" {
		t.Errorf("expected the primary endpoint to win: %+v", name)
	}
	if region := byMetric["region"]; region.Source != "SYMBOL_SEARCH" {
		t.Errorf("uncontested search metric should survive: %+v", region)
	}
}

func TestBuildFundamentals(t *testing.T) {
	c, store := testConsolidator(t)

	if err := store.Write("AAA", "INCOME_STATEMENT", []models.FieldRow{
		{Symbol: "AAA", Date: "2023-12-31", PeriodType: "annual", Metric: "totalRevenue", Value: "1000"},
		{Symbol: "AAA", Date: "2023-12-31", PeriodType: "quarterly", Metric: "totalRevenue", Value: "260"},
	}); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}
	if err := store.Write("AAA", "EARNINGS", []models.FieldRow{
		{Symbol: "AAA", Date: "2023-12-31", PeriodType: "annual", Metric: "reportedEPS", Value: "4.10"},
	}); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}

	result, err := c.Build(context.Background(), "fundamentals")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if result.FinalRows != 3 {
		t.Errorf("expected 3 final rows, got %d", result.FinalRows)
	}

	var rows []models.FundamentalRow
	if err := rawstore.ReadParquet(store.FinalPath("fundamentals"), &rows); err != nil {
		t.Fatalf("read final failed: %v", err)
	}
	if rows[0].Statement != "EARNINGS" {
		t.Errorf("expected statement-sorted rows, got %s first", rows[0].Statement)
	}
	for _, row := range rows {
		if row.PeriodType == "" {
			t.Errorf("fundamental row missing period type: %+v", row)
		}
	}
}

func TestBuildEconomic(t *testing.T) {
	c, store := testConsolidator(t)

	if err := store.Write(models.GlobalEntity, "CPI", []models.FieldRow{
		{Symbol: models.GlobalEntity, Date: "2024-01-01", Metric: "value", Value: "308.417"},
		{Symbol: models.GlobalEntity, Date: "2024-01-01", Metric: "value", Value: "999.0"},
		{Symbol: models.GlobalEntity, Date: "2024-02-01", Metric: "value", Value: "310.326"},
	}); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}
	if err := store.Write(models.GlobalEntity, "TREASURY_YIELD", []models.FieldRow{
		{Symbol: models.GlobalEntity, Date: "2024-01-02", Metric: "value", Value: "3.95"},
	}); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}

	result, err := c.Build(context.Background(), "economic")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if result.FinalRows != 3 {
		t.Errorf("expected 3 final rows, got %d", result.FinalRows)
	}
	if result.Conflicts != 1 {
		t.Errorf("expected duplicate CPI date to record a conflict, got %d", result.Conflicts)
	}

	var rows []models.EconomicRow
	if err := rawstore.ReadParquet(store.FinalPath("economic"), &rows); err != nil {
		t.Fatalf("read final failed: %v", err)
	}
	if rows[0].Indicator != "CPI" || rows[0].Value != "308.417" {
		t.Errorf("expected first CPI observation to win: %+v", rows[0])
	}
	if rows[2].Indicator != "TREASURY_YIELD" {
		t.Errorf("expected indicator-sorted rows, got %+v", rows[2])
	}
}

func TestCandidatePrecedence(t *testing.T) {
	base := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)

	primary := candidate{priority: 0, modTime: base}
	secondary := candidate{priority: 1, modTime: base.Add(time.Hour)}
	if !primary.beats(secondary) {
		t.Error("lower endpoint rank should win regardless of mod time")
	}
	if secondary.beats(primary) {
		t.Error("higher endpoint rank should never displace a lower one")
	}

	older := candidate{priority: 0, modTime: base}
	newer := candidate{priority: 0, modTime: base.Add(time.Minute)}
	if !newer.beats(older) {
		t.Error("newer file should win at equal rank")
	}

	same := candidate{priority: 0, modTime: base}
	if same.beats(older) {
		t.Error("same file must keep the first occurrence")
	}
}

func TestBuildAll(t *testing.T) {
	c, store := testConsolidator(t)

	if err := store.Write("AAA", "TIME_SERIES_DAILY_ADJUSTED", priceRows("AAA", testDates, 100)); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}
	if err := store.Write(models.GlobalEntity, "CPI", []models.FieldRow{
		{Symbol: models.GlobalEntity, Date: "2024-01-01", Metric: "value", Value: "308.417"},
	}); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}

	if err := c.BuildAll(context.Background()); err != nil {
		t.Fatalf("BuildAll failed: %v", err)
	}

	for _, name := range models.DatasetNames() {
		if _, err := os.Stat(store.FinalPath(name)); err != nil {
			t.Errorf("expected final table for %s: %v", name, err)
		}
	}
}

func TestBuildUnknownDataset(t *testing.T) {
	c, _ := testConsolidator(t)

	if _, err := c.Build(context.Background(), "no_such_dataset"); err == nil {
		t.Fatal("expected error for unknown dataset")
	}
}

func TestReadFiltersTickersAndWindow(t *testing.T) {
	c, store := testConsolidator(t)

	if err := store.Write("AAA", "TIME_SERIES_DAILY_ADJUSTED", priceRows("AAA", testDates, 100)); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}
	if err := store.Write("BBB", "TIME_SERIES_DAILY_ADJUSTED", priceRows("BBB", testDates, 50)); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}
	if _, err := c.Build(context.Background(), "price_daily"); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	start := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	header, records, err := c.Read("price_daily", []string{"aaa"}, start, end)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if header[0] != "ticker" || header[1] != "date" {
		t.Errorf("unexpected header: %v", header)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 filtered records, got %d", len(records))
	}
	for _, rec := range records {
		if rec[0] != "AAA" {
			t.Errorf("ticker filter leaked %s", rec[0])
		}
		if rec[1] < "2024-01-03" || rec[1] > "2024-01-05" {
			t.Errorf("window filter leaked %s", rec[1])
		}
	}
}

func TestReadMissingFinalTable(t *testing.T) {
	c, _ := testConsolidator(t)

	if _, _, err := c.Read("price_daily", nil, time.Time{}, time.Time{}); err == nil {
		t.Fatal("expected error when final table absent")
	}
}

func TestCleanInvalid(t *testing.T) {
	c, store := testConsolidator(t)

	rows := []models.OverviewRow{
		{Ticker: "AAA", Source: "COMPANY_OVERVIEW", Metric: "Name", Value: "Alpha Co"},
		{Ticker: "BBB", Source: "COMPANY_OVERVIEW", Metric: "Name", Value: "Invalid API call. Please retry."},
	}
	if err := store.WriteFinal("company_overview", rows); err != nil {
		t.Fatalf("seed final write failed: %v", err)
	}

	removed, err := c.CleanInvalid("company_overview")
	if err != nil {
		t.Fatalf("CleanInvalid failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 row removed, got %d", removed)
	}

	var kept []models.OverviewRow
	if err := rawstore.ReadParquet(store.FinalPath("company_overview"), &kept); err != nil {
		t.Fatalf("read final failed: %v", err)
	}
	if len(kept) != 1 || kept[0].Ticker != "AAA" {
		t.Errorf("expected only the clean row to survive, got %+v", kept)
	}

	removed, err = c.CleanInvalid("company_overview")
	if err != nil {
		t.Fatalf("second CleanInvalid failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("expected clean table to remove nothing, got %d", removed)
	}
}

func TestCleanInvalidMissingTable(t *testing.T) {
	c, _ := testConsolidator(t)

	removed, err := c.CleanInvalid("economic")
	if err != nil {
		t.Fatalf("CleanInvalid failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("expected nothing to clean, got %d", removed)
	}
}

func TestBuildLogsPerformanceAndFlow(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := logger.GetLogger()
	if err := log.Configure("info", "json", "stdout", 0); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	c, store := testConsolidator(t)
	if err := store.Write("AAA", "TIME_SERIES_DAILY_ADJUSTED", priceRows("AAA", testDates, 100)); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}

	if _, err := c.Build(context.Background(), "price_daily"); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `"message":"performance metric"`) || !strings.Contains(out, `"operation":"build"`) {
		t.Errorf("expected build performance entry, got %s", out)
	}
	if !strings.Contains(out, `"flow_type":"data_flow"`) || !strings.Contains(out, `"destination":"final"`) {
		t.Errorf("expected raw to final flow entry, got %s", out)
	}
	if !strings.Contains(out, `"metric":"final_rows"`) || !strings.Contains(out, `"value":5`) {
		t.Errorf("expected final_rows counter, got %s", out)
	}
}
