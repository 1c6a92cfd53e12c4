package models

import "strings"

// ErrorMetric marks a raw row holding a provider error body instead of data.
const ErrorMetric = "error_message"

// InvalidCallPattern is the provider's own wording for a rejected call; raw
// payloads are matched against it case-insensitively.
const InvalidCallPattern = "invalid api call"

// FieldRow is the single row shape every raw record is normalized into at
// landing time. Time-series and report payloads become one row per
// (date, metric); key/value payloads leave Date empty; periodized report
// collections tag rows with annual or quarterly.
type FieldRow struct {
	Symbol     string `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Date       string `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8"`
	PeriodType string `parquet:"name=period_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Metric     string `parquet:"name=metric, type=BYTE_ARRAY, convertedtype=UTF8"`
	Value      string `parquet:"name=value, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ErrorRow builds the sentinel row stored when the provider answers a call
// with an error body. The body is kept verbatim so failures stay replayable.
func ErrorRow(symbol, message string) FieldRow {
	return FieldRow{Symbol: symbol, Metric: ErrorMetric, Value: message}
}

// IsError reports whether the row is a stored provider failure.
func (r FieldRow) IsError() bool {
	if r.Metric == ErrorMetric {
		return true
	}
	return strings.Contains(strings.ToLower(r.Value), InvalidCallPattern)
}

// HasError reports whether any row in a raw payload is a failure sentinel.
func HasError(rows []FieldRow) bool {
	for _, r := range rows {
		if r.IsError() {
			return true
		}
	}
	return false
}

// FirstError returns the first sentinel row's message, or an empty string.
func FirstError(rows []FieldRow) string {
	for _, r := range rows {
		if r.IsError() {
			return r.Value
		}
	}
	return ""
}
