package rates

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Tier applies Factor to prepay requests of at least MinM3.
type Tier struct {
	MinM3  int64   `yaml:"min_m3"`
	Factor float64 `yaml:"factor"`
}

// Table defines the currency-per-m3 conversion factors.
type Table struct {
	Postpay     float64            `yaml:"postpay"`
	Prepay      float64            `yaml:"prepay"`
	PrepayTiers []Tier             `yaml:"prepay_tiers"`
	Accounts    map[string]float64 `yaml:"accounts"`
}

// LoadTable overlays the YAML file at path on base. An empty path returns base.
func LoadTable(path string, base Table) (Table, error) {
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("failed to read rates file: %w", err)
	}
	var file Table
	if err := yaml.Unmarshal(data, &file); err != nil {
		return base, fmt.Errorf("failed to parse rates file: %w", err)
	}

	if file.Postpay != 0 {
		base.Postpay = file.Postpay
	}
	if file.Prepay != 0 {
		base.Prepay = file.Prepay
	}
	if len(file.PrepayTiers) > 0 {
		base.PrepayTiers = file.PrepayTiers
	}
	if len(file.Accounts) > 0 {
		base.Accounts = file.Accounts
	}
	return base, nil
}

// Static serves factors from a fixed Table.
type Static struct {
	table Table
}

// NewStatic validates table and returns a rate source for it.
func NewStatic(table Table) (*Static, error) {
	if table.Postpay <= 0 {
		return nil, errors.New("rates: postpay factor must be positive")
	}
	if table.Prepay <= 0 {
		return nil, errors.New("rates: prepay factor must be positive")
	}
	for _, t := range table.PrepayTiers {
		if t.Factor <= 0 {
			return nil, fmt.Errorf("rates: tier min_m3=%d has non-positive factor", t.MinM3)
		}
	}
	for account, f := range table.Accounts {
		if f <= 0 {
			return nil, fmt.Errorf("rates: account %s has non-positive factor", account)
		}
	}

	tiers := append([]Tier(nil), table.PrepayTiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinM3 < tiers[j].MinM3 })
	table.PrepayTiers = tiers
	return &Static{table: table}, nil
}

// PostpayFactor returns the billing factor for a meter.
func (s *Static) PostpayFactor(_ context.Context, accountNumber string) (float64, error) {
	if f, ok := s.table.Accounts[accountNumber]; ok {
		return f, nil
	}
	return s.table.Postpay, nil
}

// PrepayFactor returns the factor of the highest tier whose min_m3 <= m3, or the base prepay factor.
func (s *Static) PrepayFactor(_ context.Context, m3 int64) (float64, error) {
	if m3 <= 0 {
		return 0, fmt.Errorf("rates: prepay quantity must be positive, got %d", m3)
	}
	factor := s.table.Prepay
	for _, t := range s.table.PrepayTiers {
		if t.MinM3 > m3 {
			break
		}
		factor = t.Factor
	}
	return factor, nil
}
