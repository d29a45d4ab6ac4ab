package services

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hkipo/hkex-ipo-backend/shared"
)

// UtilityService provides text normalization, date parsing and money parsing
// used across the pipeline. Every component that needs a company lookup key
// goes through NormalizeCompanyKey here; a second normalization rule anywhere
// else would silently break override and filing matching.
type UtilityService struct {
	serviceMetrics *shared.ServiceMetrics
}

// NewUtilityService creates a new utility service instance
func NewUtilityService() *UtilityService {
	return &UtilityService{
		serviceMetrics: shared.NewServiceMetrics("Utility_Service"),
	}
}

var (
	companyKeyRegex    = regexp.MustCompile(`[^a-z0-9]+`)
	whitespaceRegex    = regexp.MustCompile(`\s+`)
	htmlTagRegex       = regexp.MustCompile(`<[^>]*>`)
	compactRangeRegex  = regexp.MustCompile(`(\d{1,2})\s*-\s*(\d{1,2})\s+([A-Za-z]{3,9})\s+(\d{4})`)
	longFormDateRegex  = regexp.MustCompile(`\d{1,2}\s+[A-Za-z]{3,9}\s+\d{4}`)
	nonPrintableRegex  = regexp.MustCompile(`[^\x20-\x7E\p{L}\p{N}\p{P}\p{S}]`)
	sentenceSplitRegex = regexp.MustCompile(`[.!?]\s+`)
)

// NormalizeCompanyKey canonicalizes a company name into the lookup key used
// by overrides, filing search and caching: lowercased with everything outside
// [a-z0-9] stripped. Deterministic and idempotent.
func (s *UtilityService) NormalizeCompanyKey(name string) string {
	return companyKeyRegex.ReplaceAllString(strings.ToLower(name), "")
}

// NormalizeStockCode canonicalizes HKEX stock codes to their zero-padded
// five digit form ("700" -> "00700"). Placeholder cells become empty.
func (s *UtilityService) NormalizeStockCode(value string) string {
	text := strings.TrimSpace(value)
	if text == "" || text == `"` || text == "-" {
		return ""
	}
	text = strings.ReplaceAll(text, ".HK", "")
	text = strings.ReplaceAll(text, "HK", "")
	text = strings.TrimSpace(text)
	if numeric, err := strconv.Atoi(text); err == nil {
		padded := strconv.Itoa(numeric)
		for len(padded) < 5 {
			padded = "0" + padded
		}
		return padded
	}
	return text
}

// NormalizeTextContent cleans and standardizes text content for consistent processing
func (s *UtilityService) NormalizeTextContent(text string) string {
	if text == "" {
		return ""
	}
	text = strings.TrimSpace(text)
	text = whitespaceRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// CleanDocumentText strips leftover HTML tags and non-printable characters
// from extracted document text.
func (s *UtilityService) CleanDocumentText(text string) string {
	if text == "" {
		return ""
	}
	text = htmlTagRegex.ReplaceAllString(text, "")
	text = whitespaceRegex.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)
	return nonPrintableRegex.ReplaceAllString(text, "")
}

// ParseDate parses a date string using the formats HKEX pages and filings use.
// Day-first forms are tried before month-first, matching the source market.
func (s *UtilityService) ParseDate(dateStr string) *time.Time {
	dateStr = s.NormalizeTextContent(dateStr)
	if dateStr == "" || s.isNotAvailable(dateStr) {
		return nil
	}

	formats := []string{
		"2 January 2006",
		"2 Jan 2006",
		"02/01/2006",
		"2/1/2006",
		"02-01-2006",
		"2006-01-02",
		"2006/01/02",
		"02 Jan 2006",
		"Jan 2, 2006",
		"January 2, 2006",
		"20060102",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, dateStr); err == nil {
			return &t
		}
	}
	return nil
}

// ExtractFirstDate finds the first long-form date ("12 Aug 2025") inside a
// larger chunk of text, falling back to parsing the whole string.
func (s *UtilityService) ExtractFirstDate(text string) *time.Time {
	if text == "" {
		return nil
	}
	if match := longFormDateRegex.FindString(text); match != "" {
		return s.ParseDate(match)
	}
	return s.ParseDate(text)
}

// ExtractDateRange parses a bookbuilding window expressed either compactly
// ("12 - 15 Aug 2025") or as two full dates. A single date collapses the
// range to one day.
func (s *UtilityService) ExtractDateRange(text string) (*time.Time, *time.Time) {
	if text == "" {
		return nil, nil
	}
	if groups := compactRangeRegex.FindStringSubmatch(text); groups != nil {
		start := s.ParseDate(groups[1] + " " + groups[3] + " " + groups[4])
		end := s.ParseDate(groups[2] + " " + groups[3] + " " + groups[4])
		if start != nil && end != nil {
			return start, end
		}
	}

	var dates []*time.Time
	for _, match := range longFormDateRegex.FindAllString(text, -1) {
		if parsed := s.ParseDate(match); parsed != nil {
			dates = append(dates, parsed)
		}
	}
	switch {
	case len(dates) >= 2:
		return dates[0], dates[1]
	case len(dates) == 1:
		return dates[0], dates[0]
	}
	return nil, nil
}

// ParseFloat parses numeric text with thousands separators. Placeholder
// values ("-", "N/A") become nil.
func (s *UtilityService) ParseFloat(value string) *float64 {
	text := strings.ReplaceAll(strings.TrimSpace(value), ",", "")
	if text == "" || text == "-" || s.isNotAvailable(text) {
		return nil
	}
	parsed, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil
	}
	return &parsed
}

// NormalizeCurrency maps the currency spellings found in filings to ISO
// codes. Absent currency markers default to USD.
func (s *UtilityService) NormalizeCurrency(currency string) string {
	currency = strings.ToUpper(strings.ReplaceAll(currency, " ", ""))
	switch currency {
	case "":
		return "USD"
	case "US$", "USD":
		return "USD"
	case "HK$", "HKD":
		return "HKD"
	}
	return currency
}

// UnitMultiplier converts textual magnitude suffixes to their numeric scale.
func (s *UtilityService) UnitMultiplier(unit string) float64 {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "b", "bn", "billion":
		return 1_000_000_000.0
	case "m", "mn", "million":
		return 1_000_000.0
	}
	return 1.0
}

// ParseMoney parses an amount string with optional currency and magnitude
// unit, returning the scaled amount and normalized currency code.
func (s *UtilityService) ParseMoney(value, currency, unit string) (float64, string, bool) {
	parsed := s.ParseFloat(value)
	if parsed == nil {
		return 0, "", false
	}
	return *parsed * s.UnitMultiplier(unit), s.NormalizeCurrency(currency), true
}

// SplitSentences breaks document text into sentences for summary scanning.
func (s *UtilityService) SplitSentences(text string) []string {
	if text == "" {
		return nil
	}
	parts := sentenceSplitRegex.Split(text, -1)
	sentences := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			sentences = append(sentences, part)
		}
	}
	return sentences
}

// FormatMoney renders a USD amount compactly for logs and API summaries.
func (s *UtilityService) FormatMoney(amount *float64) string {
	if amount == nil {
		return "N/A"
	}
	value := *amount
	switch {
	case value >= 1_000_000_000:
		return "$" + strconv.FormatFloat(value/1_000_000_000, 'f', 2, 64) + "B"
	case value >= 1_000_000:
		return "$" + strconv.FormatFloat(value/1_000_000, 'f', 2, 64) + "M"
	}
	return "$" + strconv.FormatFloat(value, 'f', 0, 64)
}

func (s *UtilityService) isNotAvailable(text string) bool {
	lowered := strings.ToLower(strings.TrimSpace(text))
	switch lowered {
	case "n/a", "na", "tbd", "tba", "not available", "--":
		return true
	}
	return false
}
