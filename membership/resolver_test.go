package membership

import (
	"testing"
	"time"

	"quantflow/models"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatalf("parse day %s: %v", s, err)
	}
	return d
}

func TestResolveDailyExpansion(t *testing.T) {
	intervals := []models.MembershipInterval{
		{PermNo: 10001, Start: day(t, "2024-01-01"), End: day(t, "2024-01-03")},
	}
	mappings := []models.SymbolMapping{
		{PermNo: 10001, Symbol: "AAA", ValidFrom: day(t, "2020-01-01")},
	}

	roster, err := NewResolver().Resolve(intervals, mappings, day(t, "2024-01-01"), day(t, "2024-01-03"))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(roster.Rows) != 3 {
		t.Fatalf("expected 3 daily rows, got %d", len(roster.Rows))
	}
	for _, row := range roster.Rows {
		if row.Ticker != "AAA" || row.PermNo != 10001 {
			t.Errorf("unexpected row: %+v", row)
		}
	}
	if len(roster.Symbols) != 1 || roster.Symbols[0] != "AAA" {
		t.Errorf("unexpected symbols: %v", roster.Symbols)
	}
	if len(roster.Gaps) != 0 {
		t.Errorf("unexpected gaps: %+v", roster.Gaps)
	}
}

func TestResolveSymbolChange(t *testing.T) {
	intervals := []models.MembershipInterval{
		{PermNo: 10001, Start: day(t, "2024-01-01")},
	}
	mappings := []models.SymbolMapping{
		{PermNo: 10001, Symbol: "OLD", ValidFrom: day(t, "2020-01-01"), ValidTo: day(t, "2024-01-02")},
		{PermNo: 10001, Symbol: "NEW", ValidFrom: day(t, "2024-01-03")},
	}

	roster, err := NewResolver().Resolve(intervals, mappings, day(t, "2024-01-01"), day(t, "2024-01-04"))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(roster.Rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(roster.Rows))
	}
	want := []string{"OLD", "OLD", "NEW", "NEW"}
	for i, row := range roster.Rows {
		if row.Ticker != want[i] {
			t.Errorf("day %d ticker = %s, want %s", i, row.Ticker, want[i])
		}
	}
	if len(roster.Symbols) != 2 {
		t.Errorf("unexpected symbols: %v", roster.Symbols)
	}
}

func TestResolveGapFallsBackToKey(t *testing.T) {
	intervals := []models.MembershipInterval{
		{PermNo: 14593, Start: day(t, "2024-01-01"), End: day(t, "2024-01-02")},
	}

	roster, err := NewResolver().Resolve(intervals, nil, day(t, "2024-01-01"), day(t, "2024-01-02"))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(roster.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(roster.Rows))
	}
	for _, row := range roster.Rows {
		if row.Ticker != "14593" {
			t.Errorf("expected numeric fallback ticker, got %s", row.Ticker)
		}
	}
	if len(roster.Gaps) != 1 {
		t.Fatalf("expected 1 gap, got %d", len(roster.Gaps))
	}
	gap := roster.Gaps[0]
	if gap.PermNo != 14593 || !gap.Start.Equal(day(t, "2024-01-01")) || !gap.End.Equal(day(t, "2024-01-02")) {
		t.Errorf("unexpected gap: %+v", gap)
	}
}

func TestResolveSplitGaps(t *testing.T) {
	intervals := []models.MembershipInterval{
		{PermNo: 10001, Start: day(t, "2024-01-01"), End: day(t, "2024-01-03")},
	}
	// Coverage only on the middle day splits the uncovered span in two.
	mappings := []models.SymbolMapping{
		{PermNo: 10001, Symbol: "AAA", ValidFrom: day(t, "2024-01-02"), ValidTo: day(t, "2024-01-02")},
	}

	roster, err := NewResolver().Resolve(intervals, mappings, day(t, "2024-01-01"), day(t, "2024-01-03"))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(roster.Gaps) != 2 {
		t.Fatalf("expected 2 gaps, got %+v", roster.Gaps)
	}
	if !roster.Gaps[0].Start.Equal(day(t, "2024-01-01")) || !roster.Gaps[0].End.Equal(day(t, "2024-01-01")) {
		t.Errorf("unexpected first gap: %+v", roster.Gaps[0])
	}
	if !roster.Gaps[1].Start.Equal(day(t, "2024-01-03")) || !roster.Gaps[1].End.Equal(day(t, "2024-01-03")) {
		t.Errorf("unexpected second gap: %+v", roster.Gaps[1])
	}
}

func TestResolveOpenEndedMembership(t *testing.T) {
	intervals := []models.MembershipInterval{
		{PermNo: 10001, Start: day(t, "2020-06-15")},
	}
	mappings := []models.SymbolMapping{
		{PermNo: 10001, Symbol: "AAA", ValidFrom: day(t, "2020-01-01")},
	}

	roster, err := NewResolver().Resolve(intervals, mappings, day(t, "2024-01-01"), day(t, "2024-01-05"))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(roster.Rows) != 5 {
		t.Errorf("open-ended membership should cover whole window, got %d rows", len(roster.Rows))
	}
}

func TestResolveRejectsInvertedWindow(t *testing.T) {
	if _, err := NewResolver().Resolve(nil, nil, day(t, "2024-01-02"), day(t, "2024-01-01")); err == nil {
		t.Fatal("expected error for inverted window")
	}
}

func TestResolveSkipsNATokenSymbols(t *testing.T) {
	intervals := []models.MembershipInterval{
		{PermNo: 10001, Start: day(t, "2024-01-01"), End: day(t, "2024-01-01")},
	}
	mappings := []models.SymbolMapping{
		{PermNo: 10001, Symbol: "NAN", ValidFrom: day(t, "2020-01-01")},
	}

	roster, err := NewResolver().Resolve(intervals, mappings, day(t, "2024-01-01"), day(t, "2024-01-01"))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(roster.Rows) != 1 || roster.Rows[0].Ticker != "10001" {
		t.Fatalf("NA-token mapping should fall back to key, got %+v", roster.Rows)
	}
	if len(roster.Gaps) != 1 {
		t.Errorf("NA-token coverage should report a gap, got %+v", roster.Gaps)
	}
}
