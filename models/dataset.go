package models

// Dataset groups the endpoints whose raw records consolidate into one final
// table. Endpoint order doubles as the tie-break precedence when two
// endpoints supply a value for the same natural key.
type Dataset struct {
	Name      string
	Endpoints []string
}

var Datasets = []Dataset{
	{Name: "price_daily", Endpoints: []string{"TIME_SERIES_DAILY_ADJUSTED"}},
	{Name: "price_weekly", Endpoints: []string{"TIME_SERIES_WEEKLY_ADJUSTED"}},
	{Name: "fundamentals", Endpoints: []string{
		"INCOME_STATEMENT",
		"BALANCE_SHEET",
		"CASH_FLOW",
		"EARNINGS",
		"EARNINGS_ESTIMATES",
		"DIVIDENDS",
		"SPLITS",
	}},
	{Name: "company_overview", Endpoints: []string{"COMPANY_OVERVIEW", "SYMBOL_SEARCH"}},
	{Name: "economic", Endpoints: []string{
		"REAL_GDP",
		"REAL_GDP_PER_CAPITA",
		"TREASURY_YIELD",
		"FEDERAL_FUNDS_RATE",
		"CPI",
		"INFLATION",
		"RETAIL_SALES",
		"DURABLES",
		"UNEMPLOYMENT",
		"NONFARM_PAYROLL",
	}},
}

// DatasetByName resolves a dataset definition from its final table name.
func DatasetByName(name string) (Dataset, bool) {
	for _, d := range Datasets {
		if d.Name == name {
			return d, true
		}
	}
	return Dataset{}, false
}

// DatasetForEndpoint returns the dataset an endpoint's raw records belong to.
func DatasetForEndpoint(endpoint string) (Dataset, bool) {
	for _, d := range Datasets {
		for _, e := range d.Endpoints {
			if e == endpoint {
				return d, true
			}
		}
	}
	return Dataset{}, false
}

// DatasetNames lists every final table name in definition order.
func DatasetNames() []string {
	names := make([]string, len(Datasets))
	for i, d := range Datasets {
		names[i] = d.Name
	}
	return names
}

// EndpointPriority returns the tie-break rank of an endpoint within its
// dataset; lower ranks win. Unknown endpoints sort last.
func (d Dataset) EndpointPriority(endpoint string) int {
	for i, e := range d.Endpoints {
		if e == endpoint {
			return i
		}
	}
	return len(d.Endpoints)
}
