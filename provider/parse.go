package provider

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"quantflow/models"
)

// errorKeys are the top-level fields the provider uses to report call-level
// errors inside an HTTP 200 body. Error bodies carry exactly one of them.
var errorKeys = []string{"Error Message", "Information", "Note"}

// dateKeys are the per-record fields that carry the observation date in
// list payloads, in lookup order.
var dateKeys = []string{"date", "ex_dividend_date", "effective_date", "fiscalDateEnding"}

// periodPairs are the paired annual/quarterly collections returned by
// periodized report endpoints.
var periodPairs = []struct {
	annual    string
	quarterly string
}{
	{"annualReports", "quarterlyReports"},
	{"annualEarnings", "quarterlyEarnings"},
	{"annualEarningsEstimates", "quarterlyEarningsEstimates"},
}

// listKeys are the top-level collections flattened by the generic JSON path.
var listKeys = []string{"data", "bestMatches"}

// ParseTimeSeriesCSV normalizes a full-history CSV body into field rows, one
// row per (date, column). The provider answers rejected CSV calls with a
// JSON error body, so those are classified here as well.
func ParseTimeSeriesCSV(body []byte, symbol string) *Result {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return &Result{ErrMessage: "empty response body"}
	}
	if trimmed[0] == '{' {
		var payload map[string]interface{}
		if err := json.Unmarshal(trimmed, &payload); err == nil {
			if msg, ok := classifyError(payload); ok {
				return &Result{ErrMessage: msg}
			}
		}
		return &Result{ErrMessage: string(trimmed)}
	}

	records, err := csv.NewReader(bytes.NewReader(trimmed)).ReadAll()
	if err != nil {
		return &Result{ErrMessage: fmt.Sprintf("failed to parse CSV response: %v", err)}
	}
	if len(records) == 0 {
		return &Result{}
	}

	header := records[0]
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}
	dateIdx := 0
	for i, h := range header {
		if h == "timestamp" || h == "date" || h == "datetime" {
			dateIdx = i
			break
		}
	}

	rows := make([]models.FieldRow, 0, (len(records)-1)*(len(header)-1))
	for _, record := range records[1:] {
		if dateIdx >= len(record) {
			continue
		}
		date := strings.TrimSpace(record[dateIdx])
		for i, cell := range record {
			if i == dateIdx || i >= len(header) {
				continue
			}
			rows = append(rows, models.FieldRow{
				Symbol: symbol,
				Date:   date,
				Metric: header[i],
				Value:  strings.TrimSpace(cell),
			})
		}
	}
	return &Result{Rows: rows}
}

// ParseJSONPayload normalizes a JSON body into field rows. Periodized
// endpoints fold their annual/quarterly collections into the period_type
// column; list payloads become one row per (record, field); flat payloads
// become one dateless row per field.
func ParseJSONPayload(body []byte, endpoint models.Endpoint, symbol string) *Result {
	var payload map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(body), &payload); err != nil {
		return &Result{ErrMessage: fmt.Sprintf("failed to decode provider response: %v", err)}
	}
	if msg, ok := classifyError(payload); ok {
		return &Result{ErrMessage: msg}
	}

	if endpoint.Periodized {
		for _, pair := range periodPairs {
			annual, aok := payload[pair.annual].([]interface{})
			quarterly, qok := payload[pair.quarterly].([]interface{})
			if !aok && !qok {
				continue
			}
			rows := listRows(annual, symbol, "annual")
			rows = append(rows, listRows(quarterly, symbol, "quarterly")...)
			return &Result{Rows: rows}
		}
	}

	for _, key := range listKeys {
		if items, ok := payload[key].([]interface{}); ok {
			return &Result{Rows: listRows(items, symbol, "")}
		}
	}

	// Any remaining list value, by sorted key for determinism.
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if items, ok := payload[k].([]interface{}); ok {
			return &Result{Rows: listRows(items, symbol, "")}
		}
	}

	// Flat key/value payload, e.g. a company overview.
	rows := make([]models.FieldRow, 0, len(payload))
	for _, k := range keys {
		rows = append(rows, models.FieldRow{
			Symbol: symbol,
			Metric: stripRankPrefix(k),
			Value:  stringifyJSON(payload[k]),
		})
	}
	return &Result{Rows: rows}
}

// listRows flattens a collection of record objects. Each record contributes
// one row per non-date field; the first recognised date field becomes the
// row date. Record order is preserved so provider ranking survives into
// dedup, where the first occurrence of a key wins.
func listRows(items []interface{}, symbol, periodType string) []models.FieldRow {
	var rows []models.FieldRow
	for _, item := range items {
		record, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		date := ""
		dateKey := ""
		for _, dk := range dateKeys {
			if v, present := record[dk]; present {
				date = stringifyJSON(v)
				dateKey = dk
				break
			}
		}
		keys := make([]string, 0, len(record))
		for k := range record {
			if k == dateKey {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			rows = append(rows, models.FieldRow{
				Symbol:     symbol,
				Date:       date,
				PeriodType: periodType,
				Metric:     stripRankPrefix(k),
				Value:      stringifyJSON(record[k]),
			})
		}
	}
	return rows
}

// classifyError detects a provider error body: a single-field object keyed
// by one of the known error fields.
func classifyError(payload map[string]interface{}) (string, bool) {
	if len(payload) != 1 {
		return "", false
	}
	for _, key := range errorKeys {
		if v, ok := payload[key].(string); ok {
			return v, true
		}
	}
	return "", false
}

// stripRankPrefix removes the "N. " ordering prefix the provider puts on
// search match fields, so "1. symbol" becomes "symbol".
func stripRankPrefix(key string) string {
	i := strings.Index(key, ". ")
	if i <= 0 {
		return key
	}
	if _, err := strconv.Atoi(strings.ReplaceAll(key[:i], ".", "")); err != nil {
		return key
	}
	return key[i+2:]
}

// stringifyJSON renders a decoded JSON value the way it appeared on the
// wire. The provider sends most values as strings already.
func stringifyJSON(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(encoded)
	}
}
