package services

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hkipo/hkex-ipo-backend/models"
	"github.com/hkipo/hkex-ipo-backend/shared"
)

func TestOverrideLoadMissingFile(t *testing.T) {
	service := NewOverrideService(filepath.Join(t.TempDir(), "missing.json"), NewUtilityService())

	if err := service.Load(); err != nil {
		t.Fatalf("missing overrides file should not be an error, got %v", err)
	}
	if service.Count() != 0 {
		t.Errorf("expected empty override set, got %d", service.Count())
	}
}

func TestOverrideLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	service := NewOverrideService(path, NewUtilityService())
	err := service.Load()
	if err == nil {
		t.Fatal("malformed overrides file must be a fatal configuration error")
	}

	var serviceErr *shared.ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected *shared.ServiceError, got %T", err)
	}
	if serviceErr.Category != shared.ErrorCategoryConfiguration {
		t.Errorf("category = %v, want configuration", serviceErr.Category)
	}
	if !shared.IsFatal(err) {
		t.Error("configuration errors must be fatal")
	}
}

func TestOverrideLoadValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.json")
	content := `{
		"alphabiotechholdings": {
			"raise_amount_usd": 250000000,
			"unknown_future_field": "ignored"
		}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	service := NewOverrideService(path, NewUtilityService())
	if err := service.Load(); err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if service.Count() != 1 {
		t.Fatalf("expected 1 override, got %d", service.Count())
	}

	override, ok := service.Lookup("alphabiotechholdings")
	if !ok {
		t.Fatal("expected lookup hit")
	}
	if override.RaiseAmountUSD == nil || *override.RaiseAmountUSD != 250_000_000 {
		t.Errorf("raise amount = %v, want 250000000", override.RaiseAmountUSD)
	}
}

func TestOverrideLookupKeyOrder(t *testing.T) {
	service := NewOverrideService("", NewUtilityService())
	value := 1.0
	service.SetOverrides(map[string]Override{
		"02768": {IPOValueUSD: &value},
	})

	if _, ok := service.Lookup("alphabiotechholdings", "02768"); !ok {
		t.Error("expected stock code fallback lookup to hit")
	}
	if _, ok := service.Lookup("", ""); ok {
		t.Error("empty keys must not match")
	}
}

func TestOverrideApplyFieldOverlay(t *testing.T) {
	service := NewOverrideService("", NewUtilityService())

	ipoValue := 1_200_000_000.0
	raise := 180_000_000.0
	multiple := "18x"
	record := models.IPORecord{
		CompanyName:    "Alpha Biotech Holdings",
		IPOValueUSD:    &ipoValue,
		RaiseAmountUSD: &raise,
	}

	newRaise := 250_000_000.0
	applied := service.Apply(&record, Override{
		RaiseAmountUSD:    &newRaise,
		ValuationMultiple: &multiple,
	})

	if !applied {
		t.Fatal("expected override application to report changes")
	}
	if *record.RaiseAmountUSD != 250_000_000 {
		t.Errorf("raise amount = %v, want overridden 250000000", *record.RaiseAmountUSD)
	}
	if *record.IPOValueUSD != 1_200_000_000 {
		t.Errorf("IPO value = %v, absent override field must not change it", *record.IPOValueUSD)
	}
	if record.ValuationMultiple == nil || *record.ValuationMultiple != "18x" {
		t.Errorf("valuation multiple = %v, want 18x", record.ValuationMultiple)
	}
}

func TestOverrideApplyFilingsReplaceWholly(t *testing.T) {
	service := NewOverrideService("", NewUtilityService())

	record := models.IPORecord{
		CompanyName: "Harbour Logistics Group",
		Filings: []models.Filing{
			{Title: "Live filing one", URL: "https://example.hk/1.pdf", Source: "hkexnews"},
			{Title: "Live filing two", URL: "https://example.hk/2.pdf", Source: "hkexnews"},
		},
	}

	applied := service.Apply(&record, Override{
		Filings: []OverrideFiling{
			{Title: "Withdrawal announcement", URL: "https://example.hk/w.pdf", PublishedDate: "2025-03-10"},
		},
	})

	if !applied {
		t.Fatal("expected override application to report changes")
	}
	if len(record.Filings) != 1 {
		t.Fatalf("manual filings must replace the live list, got %d filings", len(record.Filings))
	}
	filing := record.Filings[0]
	if filing.Title != "Withdrawal announcement" {
		t.Errorf("title = %q", filing.Title)
	}
	if filing.Source != "manual" {
		t.Errorf("source = %q, want default manual", filing.Source)
	}
	if filing.PublishedDate == nil || filing.PublishedDate.Format("2006-01-02") != "2025-03-10" {
		t.Errorf("published date = %v, want 2025-03-10", filing.PublishedDate)
	}
}

func TestOverrideApplyStatus(t *testing.T) {
	service := NewOverrideService("", NewUtilityService())

	record := models.IPORecord{CompanyName: "Harbour Logistics Group"}
	status := "withdrawn"
	if !service.Apply(&record, Override{Status: &status}) {
		t.Fatal("expected status override to apply")
	}
	if record.Status != models.StatusWithdrawn {
		t.Errorf("status = %v, want withdrawn", record.Status)
	}
}

func TestOverrideApplyEmpty(t *testing.T) {
	service := NewOverrideService("", NewUtilityService())

	record := models.IPORecord{CompanyName: "Alpha Biotech Holdings"}
	if service.Apply(&record, Override{}) {
		t.Error("empty override must not report changes")
	}
}
