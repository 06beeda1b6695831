package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// SheetOverride replaces the sheet/range a dataset reads from
type SheetOverride struct {
	Name     string `mapstructure:"name"`
	Range    string `mapstructure:"range"`
	Optional bool   `mapstructure:"optional"`
}

// DatasetOverride customizes one dataset
type DatasetOverride struct {
	Sheets []SheetOverride `mapstructure:"sheets"`
	Submit *bool           `mapstructure:"submit"`
}

// LookupOverrides replaces the normalizer's lookup tables. Keys are matched
// case-insensitively, so viper's key lowercasing is harmless.
type LookupOverrides struct {
	Warehouses       map[string]string `mapstructure:"warehouses"`
	Locations        map[string]string `mapstructure:"locations"`
	DefaultWarehouse string            `mapstructure:"default_warehouse"`
	ItemGroups       []string          `mapstructure:"item_groups"`
	DefaultItemGroup string            `mapstructure:"default_item_group"`
	CompanyKeywords  []string          `mapstructure:"company_keywords"`
	DefaultCountry   string            `mapstructure:"default_country"`
}

// DatasetOverrides is the parsed DATASETS_FILE
type DatasetOverrides struct {
	Datasets map[string]DatasetOverride `mapstructure:"datasets"`
	Lookups  LookupOverrides            `mapstructure:"lookups"`
}

// LoadDatasetOverrides reads a YAML/JSON/TOML overrides file. An empty path
// yields empty overrides.
func LoadDatasetOverrides(path string) (*DatasetOverrides, error) {
	out := &DatasetOverrides{Datasets: map[string]DatasetOverride{}}
	if path == "" {
		return out, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read datasets file %s: %w", path, err)
	}

	if err := v.Unmarshal(out); err != nil {
		return nil, fmt.Errorf("failed to decode datasets file %s: %w", path, err)
	}

	if out.Datasets == nil {
		out.Datasets = map[string]DatasetOverride{}
	}

	for name, ds := range out.Datasets {
		for i, s := range ds.Sheets {
			if s.Name == "" || s.Range == "" {
				return nil, fmt.Errorf("dataset %s sheet %d: name and range are required", name, i)
			}
		}
	}

	return out, nil
}
