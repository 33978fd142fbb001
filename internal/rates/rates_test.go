package rates

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestPrepayFactor_Tiers(t *testing.T) {
	src, err := NewStatic(Table{
		Postpay: 10,
		Prepay:  9,
		PrepayTiers: []Tier{
			{MinM3: 50, Factor: 7},
			{MinM3: 20, Factor: 8},
		},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	cases := []struct {
		m3   int64
		want float64
	}{
		{1, 9},
		{19, 9},
		{20, 8},
		{49, 8},
		{50, 7},
		{500, 7},
	}
	for _, tc := range cases {
		got, err := src.PrepayFactor(context.Background(), tc.m3)
		if err != nil {
			t.Fatalf("Unexpected error for %d: %v", tc.m3, err)
		}
		if got != tc.want {
			t.Errorf("PrepayFactor(%d) = %v, want %v", tc.m3, got, tc.want)
		}
	}
}

func TestPrepayFactor_RejectsNonPositive(t *testing.T) {
	src, _ := NewStatic(Table{Postpay: 1, Prepay: 1})

	if _, err := src.PrepayFactor(context.Background(), 0); err == nil {
		t.Error("Expected error for zero m3")
	}
}

func TestPostpayFactor_AccountOverride(t *testing.T) {
	src, _ := NewStatic(Table{Postpay: 10, Prepay: 9, Accounts: map[string]float64{"A1": 12.5}})

	f, _ := src.PostpayFactor(context.Background(), "A1")
	if f != 12.5 {
		t.Errorf("Expected override 12.5, got %v", f)
	}
	f, _ = src.PostpayFactor(context.Background(), "B2")
	if f != 10 {
		t.Errorf("Expected base 10, got %v", f)
	}
}

func TestNewStatic_Validation(t *testing.T) {
	if _, err := NewStatic(Table{Postpay: 0, Prepay: 1}); err == nil {
		t.Error("Expected error for zero postpay factor")
	}
	if _, err := NewStatic(Table{Postpay: 1, Prepay: 1, PrepayTiers: []Tier{{MinM3: 5, Factor: -1}}}); err == nil {
		t.Error("Expected error for negative tier factor")
	}
}

func TestLoadTable_Overlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rates.yaml")
	content := `
prepay: 8.5
prepay_tiers:
  - min_m3: 30
    factor: 7.25
accounts:
  A1: 11
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write rates file: %v", err)
	}

	table, err := LoadTable(path, Table{Postpay: 10, Prepay: 9})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if table.Postpay != 10 {
		t.Errorf("Expected postpay to keep base 10, got %v", table.Postpay)
	}
	if table.Prepay != 8.5 {
		t.Errorf("Expected prepay 8.5, got %v", table.Prepay)
	}
	if len(table.PrepayTiers) != 1 || table.PrepayTiers[0].Factor != 7.25 {
		t.Errorf("Unexpected tiers: %+v", table.PrepayTiers)
	}
	if table.Accounts["A1"] != 11 {
		t.Errorf("Expected account override 11, got %v", table.Accounts["A1"])
	}
}

func TestLoadTable_MissingFile(t *testing.T) {
	if _, err := LoadTable(filepath.Join(t.TempDir(), "nope.yaml"), Table{}); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestLoadTable_EmptyPath(t *testing.T) {
	base := Table{Postpay: 3, Prepay: 4}
	table, err := LoadTable("", base)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if table.Postpay != 3 || table.Prepay != 4 {
		t.Errorf("Expected base table back, got %+v", table)
	}
}
