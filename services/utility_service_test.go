package services

import (
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestNormalizeCompanyKey(t *testing.T) {
	service := NewUtilityService()

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain name", "Alpha Biotech Holdings", "alphabiotechholdings"},
		{"punctuation and suffix", "Harbour Logistics Group Co., Ltd.", "harbourlogisticsgroupcoltd"},
		{"mixed case with digits", "NextGen 21 Capital", "nextgen21capital"},
		{"unicode characters stripped", "Mingwah 明華 Brands", "mingwahbrands"},
		{"empty input", "", ""},
		{"only punctuation", "***---", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := service.NormalizeCompanyKey(tc.input); got != tc.expected {
				t.Errorf("NormalizeCompanyKey(%q) = %q, want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestNormalizeCompanyKeyProperties(t *testing.T) {
	service := NewUtilityService()
	properties := gopter.NewProperties(nil)

	properties.Property("normalization is idempotent for any company name", prop.ForAll(
		func(name string) bool {
			once := service.NormalizeCompanyKey(name)
			twice := service.NormalizeCompanyKey(once)
			return once == twice
		},
		gen.AnyString(),
	))

	properties.Property("normalized keys only contain lowercase letters and digits", prop.ForAll(
		func(name string) bool {
			for _, r := range service.NormalizeCompanyKey(name) {
				if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') {
					return false
				}
			}
			return true
		},
		gen.AnyString(),
	))

	properties.Property("casing and surrounding whitespace never change the key", prop.ForAll(
		func(name string) bool {
			base := service.NormalizeCompanyKey(name)
			return service.NormalizeCompanyKey(strings.ToUpper(name)) == base &&
				service.NormalizeCompanyKey("  "+name+"  ") == base
		},
		gen.OneConstOf("Alpha Biotech", "HARBOUR logistics", "Mingwah", "NextGen 21 Capital"),
	))

	properties.TestingRun(t)
}

func TestNormalizeStockCode(t *testing.T) {
	service := NewUtilityService()

	testCases := []struct {
		input    string
		expected string
	}{
		{"700", "00700"},
		{"2768", "02768"},
		{"00700", "00700"},
		{"700.HK", "00700"},
		{"  9988 ", "09988"},
		{"-", ""},
		{"", ""},
		{"ABCD", "ABCD"},
	}

	for _, tc := range testCases {
		if got := service.NormalizeStockCode(tc.input); got != tc.expected {
			t.Errorf("NormalizeStockCode(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}

func TestParseDate(t *testing.T) {
	service := NewUtilityService()

	testCases := []struct {
		input    string
		expected string
	}{
		{"12 August 2025", "2025-08-12"},
		{"12 Aug 2025", "2025-08-12"},
		{"2025-08-12", "2025-08-12"},
		{"12/08/2025", "2025-08-12"},
		{"20250812", "2025-08-12"},
		{"Aug 12, 2025", "2025-08-12"},
	}

	for _, tc := range testCases {
		got := service.ParseDate(tc.input)
		if got == nil {
			t.Errorf("ParseDate(%q) = nil, want %s", tc.input, tc.expected)
			continue
		}
		if got.Format("2006-01-02") != tc.expected {
			t.Errorf("ParseDate(%q) = %s, want %s", tc.input, got.Format("2006-01-02"), tc.expected)
		}
	}

	for _, input := range []string{"", "N/A", "TBD", "not a date", "-"} {
		if got := service.ParseDate(input); got != nil {
			t.Errorf("ParseDate(%q) = %v, want nil", input, got)
		}
	}
}

func TestExtractDateRange(t *testing.T) {
	service := NewUtilityService()

	t.Run("compact range", func(t *testing.T) {
		start, end := service.ExtractDateRange("12 - 15 Aug 2025")
		if start == nil || end == nil {
			t.Fatal("expected both endpoints for compact range")
		}
		if start.Day() != 12 || end.Day() != 15 || start.Month() != time.August {
			t.Errorf("got %v - %v, want 12-15 Aug 2025", start, end)
		}
	})

	t.Run("two full dates", func(t *testing.T) {
		start, end := service.ExtractDateRange("from 3 March 2025 to 6 March 2025")
		if start == nil || end == nil {
			t.Fatal("expected both endpoints")
		}
		if start.Day() != 3 || end.Day() != 6 {
			t.Errorf("got days %d-%d, want 3-6", start.Day(), end.Day())
		}
	})

	t.Run("single date collapses range", func(t *testing.T) {
		start, end := service.ExtractDateRange("listing on 19 Mar 2025")
		if start == nil || end == nil {
			t.Fatal("expected collapsed range")
		}
		if !start.Equal(*end) {
			t.Errorf("single date should yield equal endpoints, got %v and %v", start, end)
		}
	})

	t.Run("no dates", func(t *testing.T) {
		start, end := service.ExtractDateRange("to be announced")
		if start != nil || end != nil {
			t.Errorf("expected nil endpoints, got %v and %v", start, end)
		}
	})
}

func TestParseMoney(t *testing.T) {
	service := NewUtilityService()

	testCases := []struct {
		value            string
		currency         string
		unit             string
		expectedAmount   float64
		expectedCurrency string
		expectedOK       bool
	}{
		{"500", "HK$", "million", 500_000_000, "HKD", true},
		{"1.2", "US$", "billion", 1_200_000_000, "USD", true},
		{"2,500", "", "", 2500, "USD", true},
		{"96", "HKD", "mn", 96_000_000, "HKD", true},
		{"3", "", "bn", 3_000_000_000, "USD", true},
		{"N/A", "HK$", "million", 0, "", false},
		{"-", "", "", 0, "", false},
	}

	for _, tc := range testCases {
		amount, currency, ok := service.ParseMoney(tc.value, tc.currency, tc.unit)
		if ok != tc.expectedOK {
			t.Errorf("ParseMoney(%q, %q, %q) ok = %v, want %v", tc.value, tc.currency, tc.unit, ok, tc.expectedOK)
			continue
		}
		if !ok {
			continue
		}
		if amount != tc.expectedAmount || currency != tc.expectedCurrency {
			t.Errorf("ParseMoney(%q, %q, %q) = (%v, %q), want (%v, %q)",
				tc.value, tc.currency, tc.unit, amount, currency, tc.expectedAmount, tc.expectedCurrency)
		}
	}
}

func TestFormatMoney(t *testing.T) {
	service := NewUtilityService()
	value := func(v float64) *float64 { return &v }

	testCases := []struct {
		input    *float64
		expected string
	}{
		{value(1_200_000_000), "$1.20B"},
		{value(64_000_000), "$64.00M"},
		{value(999), "$999"},
		{nil, "N/A"},
	}

	for _, tc := range testCases {
		if got := service.FormatMoney(tc.input); got != tc.expected {
			t.Errorf("FormatMoney = %q, want %q", got, tc.expected)
		}
	}
}

func TestCleanDocumentText(t *testing.T) {
	service := NewUtilityService()

	got := service.CleanDocumentText("<p>Gross   proceeds of\nHK$500 million</p>")
	want := "Gross proceeds of HK$500 million"
	if got != want {
		t.Errorf("CleanDocumentText = %q, want %q", got, want)
	}
}
