package models

// FailureEntry is one replayable failed call, derived purely from scanning
// raw records for the error sentinel. Entries are recomputed on every scan,
// never hand-edited.
type FailureEntry struct {
	Ticker      string
	Endpoint    string
	Path        string
	APIURL      string
	ErrorSample string
}

// FailureCSVHeader is the column order of exported failure files. The
// function column carries the endpoint name so exports stay replayable.
var FailureCSVHeader = []string{"ticker", "function", "path", "api_url", "error_sample"}
