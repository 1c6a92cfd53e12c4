package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DatalistDefaults carries the fallback ingestion window used when no dates
// are passed on the command line.
type DatalistDefaults struct {
	StartDate string `yaml:"start_date"`
	EndDate   string `yaml:"end_date"`
}

// EndpointLists overrides the built-in endpoint sets per payload family.
// Empty lists keep the defaults.
type EndpointLists struct {
	TimeSeries         []string `yaml:"time_series"`
	Fundamentals       []string `yaml:"fundamentals"`
	EconomicIndicators []string `yaml:"economic_indicators"`
}

// Datalist represents the full data selection file.
type Datalist struct {
	Defaults  DatalistDefaults `yaml:"defaults"`
	Endpoints EndpointLists    `yaml:"endpoints"`
}

// LoadDatalist loads the data selection file from the given path. A missing
// path yields an empty selection so built-in defaults apply.
func LoadDatalist(path string) (*Datalist, error) {
	if path == "" {
		return &Datalist{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Datalist{}, nil
		}
		return nil, fmt.Errorf("failed to read datalist file: %w", err)
	}
	var dl Datalist
	if err := yaml.Unmarshal(data, &dl); err != nil {
		return nil, fmt.Errorf("failed to parse datalist file: %w", err)
	}
	return &dl, nil
}
