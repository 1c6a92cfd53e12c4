package models

// EndpointKind distinguishes how an endpoint is called and parsed.
type EndpointKind string

const (
	TimeSeriesKind  EndpointKind = "time_series"
	FundamentalKind EndpointKind = "fundamental"
	EconomicKind    EndpointKind = "economic"
)

// Endpoint describes one provider data product: the directory its raw
// records land under, the function name sent on the wire and the payload
// shape to expect back.
type Endpoint struct {
	Name       string
	Function   string
	Kind       EndpointKind
	Periodized bool
}

// SymbolParam returns the query parameter that carries the entity for this
// endpoint, or an empty string for endpoints called without one.
func (e Endpoint) SymbolParam() string {
	switch {
	case e.Kind == EconomicKind:
		return ""
	case e.Name == "SYMBOL_SEARCH":
		return "keywords"
	default:
		return "symbol"
	}
}

// TimeSeriesEndpoints are fetched in CSV mode with full history.
var TimeSeriesEndpoints = []Endpoint{
	{Name: "TIME_SERIES_DAILY_ADJUSTED", Function: "TIME_SERIES_DAILY_ADJUSTED", Kind: TimeSeriesKind},
	{Name: "TIME_SERIES_WEEKLY_ADJUSTED", Function: "TIME_SERIES_WEEKLY_ADJUSTED", Kind: TimeSeriesKind},
}

// FundamentalEndpoints are fetched as JSON function calls, one per entity.
// Periodized endpoints return paired annual/quarterly report collections.
var FundamentalEndpoints = []Endpoint{
	{Name: "COMPANY_OVERVIEW", Function: "OVERVIEW", Kind: FundamentalKind},
	{Name: "INCOME_STATEMENT", Function: "INCOME_STATEMENT", Kind: FundamentalKind, Periodized: true},
	{Name: "BALANCE_SHEET", Function: "BALANCE_SHEET", Kind: FundamentalKind, Periodized: true},
	{Name: "CASH_FLOW", Function: "CASH_FLOW", Kind: FundamentalKind, Periodized: true},
	{Name: "EARNINGS", Function: "EARNINGS", Kind: FundamentalKind, Periodized: true},
	{Name: "EARNINGS_ESTIMATES", Function: "EARNINGS_ESTIMATES", Kind: FundamentalKind, Periodized: true},
	{Name: "DIVIDENDS", Function: "DIVIDENDS", Kind: FundamentalKind},
	{Name: "SPLITS", Function: "SPLITS", Kind: FundamentalKind},
	{Name: "SYMBOL_SEARCH", Function: "SYMBOL_SEARCH", Kind: FundamentalKind},
}

// EconomicEndpoints are global series fetched once per run without a symbol.
var EconomicEndpoints = []Endpoint{
	{Name: "REAL_GDP", Function: "REAL_GDP", Kind: EconomicKind},
	{Name: "REAL_GDP_PER_CAPITA", Function: "REAL_GDP_PER_CAPITA", Kind: EconomicKind},
	{Name: "TREASURY_YIELD", Function: "TREASURY_YIELD", Kind: EconomicKind},
	{Name: "FEDERAL_FUNDS_RATE", Function: "FEDERAL_FUNDS_RATE", Kind: EconomicKind},
	{Name: "CPI", Function: "CPI", Kind: EconomicKind},
	{Name: "INFLATION", Function: "INFLATION", Kind: EconomicKind},
	{Name: "RETAIL_SALES", Function: "RETAIL_SALES", Kind: EconomicKind},
	{Name: "DURABLES", Function: "DURABLES", Kind: EconomicKind},
	{Name: "UNEMPLOYMENT", Function: "UNEMPLOYMENT", Kind: EconomicKind},
	{Name: "NONFARM_PAYROLL", Function: "NONFARM_PAYROLL", Kind: EconomicKind},
}

// EndpointByName resolves an endpoint from its storage name.
func EndpointByName(name string) (Endpoint, bool) {
	for _, set := range [][]Endpoint{TimeSeriesEndpoints, FundamentalEndpoints, EconomicEndpoints} {
		for _, e := range set {
			if e.Name == name {
				return e, true
			}
		}
	}
	return Endpoint{}, false
}

// AllEndpoints returns every known endpoint in fetch order.
func AllEndpoints() []Endpoint {
	out := make([]Endpoint, 0, len(TimeSeriesEndpoints)+len(FundamentalEndpoints)+len(EconomicEndpoints))
	out = append(out, TimeSeriesEndpoints...)
	out = append(out, FundamentalEndpoints...)
	out = append(out, EconomicEndpoints...)
	return out
}
