package ingest

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"quantflow/config"
	"quantflow/logger"
	"quantflow/models"
	"quantflow/provider"
	"quantflow/rawstore"
)

// fakeSource scripts provider responses per endpoint/entity key and
// records the order of calls.
type fakeSource struct {
	results map[string]*provider.Result
	calls   []string
}

func sourceKey(endpoint, entity string) string {
	return endpoint + "/" + entity
}

func (f *fakeSource) Fetch(ctx context.Context, endpoint models.Endpoint, symbol string) (*provider.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := sourceKey(endpoint.Name, symbol)
	f.calls = append(f.calls, key)
	if res, ok := f.results[key]; ok {
		return res, nil
	}
	return &provider.Result{Rows: []models.FieldRow{
		{Symbol: symbol, Date: "2024-01-03", Metric: "close", Value: "100.0"},
	}}, nil
}

type fakeWarehouse struct {
	intervals []models.MembershipInterval
	mappings  []models.SymbolMapping
	factors   []models.FactorRow
	factorErr error
}

func (f *fakeWarehouse) FetchMemberships(ctx context.Context) ([]models.MembershipInterval, error) {
	return f.intervals, nil
}

func (f *fakeWarehouse) FetchSymbolMappings(ctx context.Context) ([]models.SymbolMapping, error) {
	return f.mappings, nil
}

func (f *fakeWarehouse) FetchFactorReturns(ctx context.Context, start, end time.Time) ([]models.FactorRow, error) {
	return f.factors, f.factorErr
}

func testOrchestrator(t *testing.T, source provider.Source) (*Orchestrator, *rawstore.Store) {
	t.Helper()
	store := rawstore.NewStore(t.TempDir(), config.StorageConfig{Compression: "snappy"})
	cfg := &config.Config{}
	return NewOrchestrator(cfg, store, source, nil), store
}

func day(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		t.Fatalf("bad test date %q: %v", value, err)
	}
	return parsed
}

func testSpec(symbols []string, endpoints []models.Endpoint) RunSpec {
	return RunSpec{
		Symbols:   symbols,
		Endpoints: endpoints,
		Resume:    true,
		Pacing:    time.Millisecond,
	}
}

func mustEndpoint(t *testing.T, name string) models.Endpoint {
	t.Helper()
	ep, ok := models.EndpointByName(name)
	if !ok {
		t.Fatalf("unknown endpoint %s", name)
	}
	return ep
}

func TestRunFetchesPairsInDeterministicOrder(t *testing.T) {
	source := &fakeSource{}
	orch, store := testOrchestrator(t, source)

	endpoints := []models.Endpoint{
		mustEndpoint(t, "TIME_SERIES_DAILY_ADJUSTED"),
		mustEndpoint(t, "COMPANY_OVERVIEW"),
		mustEndpoint(t, "CPI"),
	}
	if err := orch.Run(context.Background(), testSpec([]string{"AAA", "BBB"}, endpoints)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []string{
		"TIME_SERIES_DAILY_ADJUSTED/AAA",
		"COMPANY_OVERVIEW/AAA",
		"TIME_SERIES_DAILY_ADJUSTED/BBB",
		"COMPANY_OVERVIEW/BBB",
		"CPI/global",
	}
	if len(source.calls) != len(want) {
		t.Fatalf("expected %d calls, got %d: %v", len(want), len(source.calls), source.calls)
	}
	for i, call := range source.calls {
		if call != want[i] {
			t.Errorf("call %d: expected %s, got %s", i, want[i], call)
		}
	}

	for _, key := range want {
		parts := strings.SplitN(key, "/", 2)
		if !store.Exists(parts[1], parts[0]) {
			t.Errorf("expected stored payload for %s", key)
		}
	}
}

func TestRunResumeSkipsExistingKeys(t *testing.T) {
	source := &fakeSource{}
	orch, _ := testOrchestrator(t, source)

	endpoints := []models.Endpoint{mustEndpoint(t, "TIME_SERIES_DAILY_ADJUSTED")}
	spec := testSpec([]string{"AAA", "BBB"}, endpoints)

	if err := orch.Run(context.Background(), spec); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	firstCalls := len(source.calls)

	if err := orch.Run(context.Background(), spec); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if len(source.calls) != firstCalls {
		t.Errorf("resumed run should make zero calls, made %d", len(source.calls)-firstCalls)
	}
}

func TestRunStoresSentinelAndContinues(t *testing.T) {
	source := &fakeSource{results: map[string]*provider.Result{
		sourceKey("COMPANY_OVERVIEW", "AAA"): {ErrMessage: "connection refused"},
	}}
	orch, store := testOrchestrator(t, source)

	endpoints := []models.Endpoint{mustEndpoint(t, "COMPANY_OVERVIEW")}
	if err := orch.Run(context.Background(), testSpec([]string{"AAA", "BBB"}, endpoints)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	aaa, err := store.Read("AAA", "COMPANY_OVERVIEW")
	if err != nil {
		t.Fatalf("Read AAA failed: %v", err)
	}
	if !models.HasError(aaa.Rows) {
		t.Error("expected sentinel rows for failed key")
	}
	if got := models.FirstError(aaa.Rows); got != "connection refused" {
		t.Errorf("expected stored error message, got %q", got)
	}

	bbb, err := store.Read("BBB", "COMPANY_OVERVIEW")
	if err != nil {
		t.Fatalf("Read BBB failed: %v", err)
	}
	if models.HasError(bbb.Rows) {
		t.Error("healthy key should not carry a sentinel")
	}
}

func TestRunSentinelCountsAsFetchedOnResume(t *testing.T) {
	source := &fakeSource{results: map[string]*provider.Result{
		sourceKey("EARNINGS", "AAA"): {ErrMessage: "Invalid API call"},
	}}
	orch, _ := testOrchestrator(t, source)

	endpoints := []models.Endpoint{mustEndpoint(t, "EARNINGS")}
	spec := testSpec([]string{"AAA"}, endpoints)

	if err := orch.Run(context.Background(), spec); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	if err := orch.Run(context.Background(), spec); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if len(source.calls) != 1 {
		t.Errorf("sentinel key should not be refetched on resume, got %d calls", len(source.calls))
	}
}

func TestRunAbortsOnStorageFailure(t *testing.T) {
	root := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(root, []byte("not a directory"), 0o644); err != nil {
		t.Fatalf("failed to create blocking file: %v", err)
	}
	store := rawstore.NewStore(root, config.StorageConfig{Compression: "snappy"})
	orch := NewOrchestrator(&config.Config{}, store, &fakeSource{}, nil)

	endpoints := []models.Endpoint{mustEndpoint(t, "COMPANY_OVERVIEW")}
	err := orch.Run(context.Background(), testSpec([]string{"AAA"}, endpoints))
	if err == nil {
		t.Fatal("expected storage failure to abort the run")
	}
}

func TestRunFiltersTimeSeriesWindow(t *testing.T) {
	rows := []models.FieldRow{
		{Symbol: "AAA", Date: "2023-12-29", Metric: "close", Value: "95.0"},
		{Symbol: "AAA", Date: "2024-01-03", Metric: "close", Value: "100.0"},
		{Symbol: "AAA", Date: "2024-02-09", Metric: "close", Value: "105.0"},
	}
	source := &fakeSource{results: map[string]*provider.Result{
		sourceKey("TIME_SERIES_DAILY_ADJUSTED", "AAA"): {Rows: rows},
	}}
	orch, store := testOrchestrator(t, source)

	spec := testSpec([]string{"AAA"}, []models.Endpoint{mustEndpoint(t, "TIME_SERIES_DAILY_ADJUSTED")})
	spec.Start = day(t, "2024-01-01")
	spec.End = day(t, "2024-01-31")

	if err := orch.Run(context.Background(), spec); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	rec, err := store.Read("AAA", "TIME_SERIES_DAILY_ADJUSTED")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(rec.Rows) != 1 {
		t.Fatalf("expected 1 in-window row, got %d", len(rec.Rows))
	}
	if rec.Rows[0].Date != "2024-01-03" {
		t.Errorf("expected the in-window row, got %s", rec.Rows[0].Date)
	}
}

func TestRunKeepsPayloadWhenWindowEmptiesIt(t *testing.T) {
	rows := []models.FieldRow{
		{Symbol: "AAA", Date: "2019-06-03", Metric: "close", Value: "50.0"},
		{Symbol: "AAA", Date: "2019-06-04", Metric: "close", Value: "51.0"},
	}
	source := &fakeSource{results: map[string]*provider.Result{
		sourceKey("TIME_SERIES_DAILY_ADJUSTED", "AAA"): {Rows: rows},
	}}
	orch, store := testOrchestrator(t, source)

	spec := testSpec([]string{"AAA"}, []models.Endpoint{mustEndpoint(t, "TIME_SERIES_DAILY_ADJUSTED")})
	spec.Start = day(t, "2024-01-01")
	spec.End = day(t, "2024-01-31")

	if err := orch.Run(context.Background(), spec); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	rec, err := store.Read("AAA", "TIME_SERIES_DAILY_ADJUSTED")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(rec.Rows) != len(rows) {
		t.Errorf("expected unfiltered payload to be kept, got %d rows", len(rec.Rows))
	}
}

func TestRunFundamentalsBypassWindow(t *testing.T) {
	rows := []models.FieldRow{
		{Symbol: "AAA", Date: "2019-12-31", PeriodType: "annual", Metric: "totalRevenue", Value: "1000"},
		{Symbol: "AAA", Date: "2024-01-15", PeriodType: "annual", Metric: "totalRevenue", Value: "2000"},
	}
	source := &fakeSource{results: map[string]*provider.Result{
		sourceKey("INCOME_STATEMENT", "AAA"): {Rows: rows},
	}}
	orch, store := testOrchestrator(t, source)

	spec := testSpec([]string{"AAA"}, []models.Endpoint{mustEndpoint(t, "INCOME_STATEMENT")})
	spec.Start = day(t, "2024-01-01")
	spec.End = day(t, "2024-01-31")

	if err := orch.Run(context.Background(), spec); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	rec, err := store.Read("AAA", "INCOME_STATEMENT")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(rec.Rows) != len(rows) {
		t.Errorf("fundamental payload should bypass the window, got %d rows", len(rec.Rows))
	}
}

func TestRunResolvesSymbolsFromWarehouse(t *testing.T) {
	warehouse := &fakeWarehouse{
		intervals: []models.MembershipInterval{
			{PermNo: 10001, Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)},
		},
		mappings: []models.SymbolMapping{
			{PermNo: 10001, Symbol: "AAA", ValidFrom: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
		factors: []models.FactorRow{{Date: "2024-01-02", MktRF: 0.001}},
	}
	source := &fakeSource{}
	store := rawstore.NewStore(t.TempDir(), config.StorageConfig{Compression: "snappy"})
	orch := NewOrchestrator(&config.Config{}, store, source, warehouse)

	spec := RunSpec{
		Endpoints: []models.Endpoint{mustEndpoint(t, "COMPANY_OVERVIEW")},
		Start:     day(t, "2024-01-01"),
		End:       day(t, "2024-01-03"),
		Resume:    true,
		Pacing:    time.Millisecond,
	}
	if err := orch.Run(context.Background(), spec); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	symbols, err := store.ReadTickers()
	if err != nil {
		t.Fatalf("ReadTickers failed: %v", err)
	}
	if len(symbols) != 1 || symbols[0] != "AAA" {
		t.Errorf("expected resolved symbol list [AAA], got %v", symbols)
	}

	roster, err := store.ReadRoster()
	if err != nil {
		t.Fatalf("ReadRoster failed: %v", err)
	}
	if len(roster) != 3 {
		t.Errorf("expected 3 roster rows, got %d", len(roster))
	}

	if !store.Exists("AAA", "COMPANY_OVERVIEW") {
		t.Error("expected fetch loop to run over resolved symbols")
	}

	count, err := rawstore.RowCount(filepath.Join(store.FinalDir(), "factor_returns.parquet"))
	if err != nil {
		t.Fatalf("factor returns not stored: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 factor row, got %d", count)
	}
}

func TestRunContinuesWhenFactorsUnavailable(t *testing.T) {
	warehouse := &fakeWarehouse{
		intervals: []models.MembershipInterval{
			{PermNo: 10001, Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
		mappings: []models.SymbolMapping{
			{PermNo: 10001, Symbol: "AAA", ValidFrom: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
		factorErr: fmt.Errorf("login failed"),
	}
	store := rawstore.NewStore(t.TempDir(), config.StorageConfig{Compression: "snappy"})
	orch := NewOrchestrator(&config.Config{}, store, &fakeSource{}, warehouse)

	spec := RunSpec{
		Endpoints: []models.Endpoint{mustEndpoint(t, "COMPANY_OVERVIEW")},
		Start:     day(t, "2024-01-01"),
		End:       day(t, "2024-01-01"),
		Resume:    true,
		Pacing:    time.Millisecond,
	}
	if err := orch.Run(context.Background(), spec); err != nil {
		t.Fatalf("Run should not fail on factor errors: %v", err)
	}
}

func TestRunRequiresSymbolsOrWarehouse(t *testing.T) {
	orch, _ := testOrchestrator(t, &fakeSource{})

	err := orch.Run(context.Background(), testSpec(nil, []models.Endpoint{mustEndpoint(t, "CPI")}))
	if err == nil {
		t.Fatal("expected error when no symbols and no warehouse")
	}
}

func TestRunCancelledContext(t *testing.T) {
	orch, _ := testOrchestrator(t, &fakeSource{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	endpoints := []models.Endpoint{mustEndpoint(t, "COMPANY_OVERVIEW")}
	if err := orch.Run(ctx, testSpec([]string{"AAA"}, endpoints)); err == nil {
		t.Fatal("expected cancelled context to abort the run")
	}
}

func TestFetchKeysTouchesOnlyListedKeys(t *testing.T) {
	source := &fakeSource{results: map[string]*provider.Result{
		sourceKey("COMPANY_OVERVIEW", "AAA"): {ErrMessage: "Invalid API call"},
	}}
	orch, store := testOrchestrator(t, source)

	endpoints := []models.Endpoint{mustEndpoint(t, "COMPANY_OVERVIEW")}
	if err := orch.Run(context.Background(), testSpec([]string{"AAA", "BBB"}, endpoints)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// The provider recovers; replay only the failed key.
	source.results = map[string]*provider.Result{}
	callsBefore := len(source.calls)

	keys := []Key{{Entity: "AAA", Endpoint: mustEndpoint(t, "COMPANY_OVERVIEW")}}
	if err := orch.FetchKeys(context.Background(), keys, time.Millisecond); err != nil {
		t.Fatalf("FetchKeys failed: %v", err)
	}

	if got := len(source.calls) - callsBefore; got != 1 {
		t.Fatalf("expected exactly 1 refetch call, got %d", got)
	}
	if source.calls[len(source.calls)-1] != "COMPANY_OVERVIEW/AAA" {
		t.Errorf("refetch hit the wrong key: %s", source.calls[len(source.calls)-1])
	}

	rec, err := store.Read("AAA", "COMPANY_OVERVIEW")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if models.HasError(rec.Rows) {
		t.Error("refetched key should hold fresh rows, not the old sentinel")
	}
}

func TestRunLogsPerformanceAndFlow(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := logger.GetLogger()
	if err := log.Configure("info", "json", "stdout", 0); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	orch, _ := testOrchestrator(t, &fakeSource{})
	endpoints := []models.Endpoint{mustEndpoint(t, "COMPANY_OVERVIEW")}
	if err := orch.Run(context.Background(), testSpec([]string{"AAA"}, endpoints)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `"message":"performance metric"`) {
		t.Error("expected a performance entry for the run")
	}
	if !strings.Contains(out, `"duration_ms"`) {
		t.Error("performance entry should carry duration_ms")
	}
	if !strings.Contains(out, `"flow_type":"data_flow"`) || !strings.Contains(out, `"destination":"data-raw"`) {
		t.Errorf("expected a data flow entry for the stored payload, got %s", out)
	}
	for _, metric := range []string{"pairs_fetched", "pairs_skipped", "pairs_failed"} {
		if !strings.Contains(out, `"metric":"`+metric+`"`) {
			t.Errorf("expected %s counter in run output", metric)
		}
	}
	if got := strings.Count(out, `"message":"metric"`); got != 3 {
		t.Errorf("expected one line per run counter, got %d", got)
	}
}
