package provider

import (
	"context"

	"quantflow/models"
)

// Result is the outcome of a single provider call. Either Rows carries the
// parsed payload or ErrMessage carries the provider's error text; transport
// failures that survive the retry budget land in ErrMessage as well so the
// caller can persist them like any other failed call.
type Result struct {
	Rows       []models.FieldRow
	ErrMessage string
}

// Failed reports whether the call produced an error instead of data.
func (r *Result) Failed() bool {
	return r.ErrMessage != ""
}

// StorageRows returns the rows to persist for this result. Failed calls
// yield a single error sentinel row so the failure stays replayable.
func (r *Result) StorageRows(symbol string) []models.FieldRow {
	if r.Failed() {
		return []models.FieldRow{models.ErrorRow(symbol, r.ErrMessage)}
	}
	return r.Rows
}

// Source fetches one endpoint for one symbol. Implementations return an
// error only when the context is cancelled or the request cannot be built;
// every other failure is reported through the Result.
type Source interface {
	Fetch(ctx context.Context, endpoint models.Endpoint, symbol string) (*Result, error)
}
