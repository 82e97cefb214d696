package planner

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Prices is the economy table quoted to the model so its cost estimate
// lines up with what the requester is charged.
type Prices struct {
	LandPerBlock int64 `yaml:"land_per_block"`
	Diamond      int64 `yaml:"diamond"`
	Log          int64 `yaml:"log"`
	Stone        int64 `yaml:"stone"`
	Potato       int64 `yaml:"potato"`
}

// DefaultPrices returns the stock economy table.
func DefaultPrices() Prices {
	return Prices{
		LandPerBlock: 5000,
		Diamond:      15000,
		Log:          20,
		Stone:        10,
		Potato:       30,
	}
}

// LoadPrices reads a price table from a YAML file. Missing fields keep
// their defaults.
func LoadPrices(path string) (Prices, error) {
	prices := DefaultPrices()
	data, err := os.ReadFile(path)
	if err != nil {
		return Prices{}, fmt.Errorf("read price table: %w", err)
	}
	if err := yaml.Unmarshal(data, &prices); err != nil {
		return Prices{}, fmt.Errorf("parse price table: %w", err)
	}
	return prices, nil
}
