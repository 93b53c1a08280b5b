package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FieldSelectors maps listing fields to CSS selectors inside one row node.
// Attr entries name the attribute to read instead of the node text
// (e.g. img -> src, a -> href).
type FieldSelectors struct {
	Title        string `yaml:"title"`
	Price        string `yaml:"price"`
	Mileage      string `yaml:"mileage"`
	Transmission string `yaml:"transmission"`
	Image        string `yaml:"image"`
	ImageAttr    string `yaml:"image_attr"`
	Link         string `yaml:"link"`
	LinkAttr     string `yaml:"link_attr"`
}

// DetailSelectors locate fields that only exist on a listing's detail page
// and require a second fetch per row.
type DetailSelectors struct {
	VIN          string `yaml:"vin"`
	Transmission string `yaml:"transmission"`
	FuelType     string `yaml:"fuel_type"`
	Description  string `yaml:"description"`
}

// Any reports whether a detail fetch is configured at all.
func (d DetailSelectors) Any() bool {
	return d.VIN != "" || d.Transmission != "" || d.FuelType != "" || d.Description != ""
}

// SourceConfig describes one scraped site: where to fetch, how to paginate,
// and where each field lives in the page.
type SourceConfig struct {
	Name      string `yaml:"name"`
	Kind      string `yaml:"kind"` // "static" or "browser"
	BaseURL   string `yaml:"base_url"`
	PageParam string `yaml:"page_param"`

	RowSelector string         `yaml:"row_selector"`
	Fields      FieldSelectors `yaml:"fields"`

	// Browser-rendered sources only.
	WaitSelector    string          `yaml:"wait_selector"`
	SettleMs        int             `yaml:"settle_ms"`
	ScrollPasses    int             `yaml:"scroll_passes"`
	DetailRequired  bool            `yaml:"detail_required"` // drop rows whose detail fetch fails
	DetailLinkParam string          `yaml:"detail_link_param"`
	Detail          DetailSelectors `yaml:"detail"`

	PriceMandatory bool   `yaml:"price_mandatory"`
	State          string `yaml:"state"`
	City           string `yaml:"city"`
	CityName       string `yaml:"city_name"`
	Phone          string `yaml:"phone"`

	// Per-source overrides; zero means use the global config value.
	PageCap     int `yaml:"page_cap"`
	RowsPerPage int `yaml:"rows_per_page"`
	DelayMs     int `yaml:"delay_ms"`
}

// SourcesFile is the on-disk registry of scraped sites.
type SourcesFile struct {
	Sources []SourceConfig `yaml:"sources"`
}

// LoadSources reads the YAML source registry.
func LoadSources(path string) ([]SourceConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file %q: %w", path, err)
	}

	var f SourcesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse sources file %q: %w", path, err)
	}

	for i, s := range f.Sources {
		if s.Name == "" || s.BaseURL == "" {
			return nil, fmt.Errorf("sources file %q: entry %d missing name or base_url", path, i)
		}
		if s.Kind != "static" && s.Kind != "browser" {
			return nil, fmt.Errorf("sources file %q: entry %q has unknown kind %q", path, s.Name, s.Kind)
		}
	}
	return f.Sources, nil
}
