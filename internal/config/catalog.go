package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"plantdash/internal/domain"
)

// Catalog is the default dataset written by a first boot. Times are offsets
// from the moment of seeding so the dashboard always shows recent data.
type Catalog struct {
	Config          map[string]any      `yaml:"config"`
	Orders          []SeedOrder         `yaml:"orders"`
	NonConformances []SeedNC            `yaml:"non_conformances"`
	Collections     []SeedCollection    `yaml:"collections"`
	Inspections     []SeedInspection    `yaml:"inspections"`
	Production      []SeedProduction    `yaml:"production"`
	Sensors         []SeedSensorReading `yaml:"sensors"`
	Alerts          []SeedAlert         `yaml:"alerts"`
	Reports         []SeedReport        `yaml:"reports"`
}

type SeedOrder struct {
	ID       string `yaml:"id"`
	Product  string `yaml:"product"`
	Quantity int    `yaml:"quantity"`
	Status   string `yaml:"status"`
	Priority string `yaml:"priority"`
	Progress int    `yaml:"progress"`
	// DaysAgo is when the order started; DeadlineDays is relative to seeding.
	DaysAgo      int `yaml:"days_ago"`
	DeadlineDays int `yaml:"deadline_days"`
}

type SeedNC struct {
	ID               string `yaml:"id"`
	Type             string `yaml:"type"`
	Description      string `yaml:"description"`
	Severity         string `yaml:"severity"`
	Status           string `yaml:"status"`
	Lot              string `yaml:"lot"`
	Responsible      string `yaml:"responsible"`
	HoursAgo         int    `yaml:"hours_ago"`
	ResolvedAfter    int    `yaml:"resolved_after_hours"`
	AffectedQuantity int    `yaml:"affected_quantity"`
}

type SeedCollection struct {
	HoursAgo  int     `yaml:"hours_ago"`
	Status    string  `yaml:"status"`
	Produced  float64 `yaml:"produced"`
	Material  float64 `yaml:"material"`
	Applicant string  `yaml:"applicant"`
}

type SeedInspection struct {
	ID        string `yaml:"id"`
	Lot       string `yaml:"lot"`
	Inspector string `yaml:"inspector"`
	Approved  int    `yaml:"approved"`
	Rejected  int    `yaml:"rejected"`
	HoursAgo  int    `yaml:"hours_ago"`
}

type SeedProduction struct {
	Line     string `yaml:"line"`
	Produced int    `yaml:"produced"`
	Rejected int    `yaml:"rejected"`
	HoursAgo int    `yaml:"hours_ago"`
}

type SeedSensorReading struct {
	Sensor   string  `yaml:"sensor"`
	Value    float64 `yaml:"value"`
	Unit     string  `yaml:"unit"`
	HoursAgo int     `yaml:"hours_ago"`
}

type SeedAlert struct {
	Level   string `yaml:"level"`
	Message string `yaml:"message"`
}

type SeedReport struct {
	ID       string   `yaml:"id"`
	Title    string   `yaml:"title"`
	Type     string   `yaml:"type"`
	Days     int      `yaml:"period_days"`
	OrderIDs []string `yaml:"order_ids"`
}

//go:embed seed.yml
var defaultCatalog []byte

// DefaultCatalog returns the built-in seed catalog.
func DefaultCatalog() *Catalog {
	c, err := CatalogFromYAML(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded seed catalog: %v", err))
	}
	return c
}

// CatalogFromYAML parses and validates a seed catalog.
func CatalogFromYAML(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("invalid seed catalog yaml: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// CatalogFromFile reads a seed catalog from path.
func CatalogFromFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return CatalogFromYAML(data)
}

// Validate checks structure and enum values; the remaining entity rules are
// enforced when seeding.
func (c *Catalog) Validate() error {
	if len(c.Config) == 0 {
		return fmt.Errorf("seed catalog needs at least one config value")
	}
	for key := range c.Config {
		if key == "" {
			return fmt.Errorf("seed catalog has an empty config key")
		}
	}
	seen := map[string]bool{}
	for _, o := range c.Orders {
		if o.ID == "" {
			return fmt.Errorf("seed order without id")
		}
		if seen[o.ID] {
			return fmt.Errorf("seed order %s listed twice", o.ID)
		}
		seen[o.ID] = true
		if o.Status != "" && !domain.OrderStatus(o.Status).Valid() {
			return fmt.Errorf("seed order %s: unknown status %q", o.ID, o.Status)
		}
		if o.Priority != "" && !domain.Priority(o.Priority).Valid() {
			return fmt.Errorf("seed order %s: unknown priority %q", o.ID, o.Priority)
		}
	}
	for _, n := range c.NonConformances {
		if n.ID == "" {
			return fmt.Errorf("seed non-conformance without id")
		}
		if n.Severity != "" && !domain.Severity(n.Severity).Valid() {
			return fmt.Errorf("seed non-conformance %s: unknown severity %q", n.ID, n.Severity)
		}
		if n.Status != "" && !domain.NCStatus(n.Status).Valid() {
			return fmt.Errorf("seed non-conformance %s: unknown status %q", n.ID, n.Status)
		}
	}
	for i, s := range c.Collections {
		if s.Status != "" && !domain.CollectionStatus(s.Status).Valid() {
			return fmt.Errorf("seed collection %d: unknown status %q", i, s.Status)
		}
	}
	for _, a := range c.Alerts {
		if !domain.AlertLevel(a.Level).Valid() {
			return fmt.Errorf("seed alert %q: unknown level %q", a.Message, a.Level)
		}
	}
	return nil
}
