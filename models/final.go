package models

// PriceRow is the wide per-day (or per-week) row of the price final tables.
// Metrics absent from a payload are stored as NaN.
type PriceRow struct {
	Ticker           string  `parquet:"name=ticker, type=BYTE_ARRAY, convertedtype=UTF8"`
	Date             string  `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8"`
	Open             float64 `parquet:"name=open, type=DOUBLE"`
	High             float64 `parquet:"name=high, type=DOUBLE"`
	Low              float64 `parquet:"name=low, type=DOUBLE"`
	Close            float64 `parquet:"name=close, type=DOUBLE"`
	AdjustedClose    float64 `parquet:"name=adjusted_close, type=DOUBLE"`
	Volume           float64 `parquet:"name=volume, type=DOUBLE"`
	DividendAmount   float64 `parquet:"name=dividend_amount, type=DOUBLE"`
	SplitCoefficient float64 `parquet:"name=split_coefficient, type=DOUBLE"`
}

// FundamentalRow is the long row of the fundamentals final table. Statement
// names the endpoint the value came from.
type FundamentalRow struct {
	Ticker     string `parquet:"name=ticker, type=BYTE_ARRAY, convertedtype=UTF8"`
	Date       string `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8"`
	Statement  string `parquet:"name=statement, type=BYTE_ARRAY, convertedtype=UTF8"`
	PeriodType string `parquet:"name=period_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Metric     string `parquet:"name=metric, type=BYTE_ARRAY, convertedtype=UTF8"`
	Value      string `parquet:"name=value, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// OverviewRow is the key/value row of the company overview final table.
// Source records which endpoint won the tie-break for the metric.
type OverviewRow struct {
	Ticker string `parquet:"name=ticker, type=BYTE_ARRAY, convertedtype=UTF8"`
	Source string `parquet:"name=source, type=BYTE_ARRAY, convertedtype=UTF8"`
	Metric string `parquet:"name=metric, type=BYTE_ARRAY, convertedtype=UTF8"`
	Value  string `parquet:"name=value, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// EconomicRow is one observation of a global indicator series. Values stay
// textual because the provider reports missing points as ".".
type EconomicRow struct {
	Indicator string `parquet:"name=indicator, type=BYTE_ARRAY, convertedtype=UTF8"`
	Date      string `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8"`
	Value     string `parquet:"name=value, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// FactorRow is one day of research factor returns, landed straight into the
// final directory as a reference series.
type FactorRow struct {
	Date  string  `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8"`
	MktRF float64 `parquet:"name=mktrf, type=DOUBLE"`
	SMB   float64 `parquet:"name=smb, type=DOUBLE"`
	HML   float64 `parquet:"name=hml, type=DOUBLE"`
	RMW   float64 `parquet:"name=rmw, type=DOUBLE"`
	CMA   float64 `parquet:"name=cma, type=DOUBLE"`
	RF    float64 `parquet:"name=rf, type=DOUBLE"`
	UMD   float64 `parquet:"name=umd, type=DOUBLE"`
}

// RosterRow is one day of index membership, retained for audit.
type RosterRow struct {
	Date   string `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8"`
	Ticker string `parquet:"name=ticker, type=BYTE_ARRAY, convertedtype=UTF8"`
	PermNo int64  `parquet:"name=permno, type=INT64"`
}

// TickerRow is one entry of the deduplicated entity list driving ingestion.
type TickerRow struct {
	Ticker string `parquet:"name=ticker, type=BYTE_ARRAY, convertedtype=UTF8"`
}
