package services

import (
	"encoding/json"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hkipo/hkex-ipo-backend/models"
	"github.com/hkipo/hkex-ipo-backend/shared"
)

// sampleItem mirrors the on-disk sample calendar schema.
type sampleItem struct {
	Company           string   `json:"company"`
	StockCode         string   `json:"stock_code,omitempty"`
	Industry          string   `json:"industry,omitempty"`
	BookbuildingStart string   `json:"bookbuilding_start,omitempty"`
	BookbuildingEnd   string   `json:"bookbuilding_end,omitempty"`
	TradeDate         string   `json:"trade_date,omitempty"`
	TermSheetURL      string   `json:"term_sheet_url,omitempty"`
	IPOValueUSD       *float64 `json:"ipo_value_usd,omitempty"`
	RaiseAmountUSD    *float64 `json:"raise_amount_usd,omitempty"`
	ValuationMultiple string   `json:"valuation_multiple,omitempty"`
	BusinessModel     string   `json:"business_model,omitempty"`
	FinancialTrend    string   `json:"financial_trend,omitempty"`
}

// SampleService provides the static fallback dataset used when live
// acquisition fails or yields nothing usable. The dataset's dates are shifted
// forward by whole months when stale, so a demo deployment always shows
// activity near today.
type SampleService struct {
	samplePath     string
	utilityService *UtilityService
	now            func() time.Time
}

// NewSampleService creates a sample provider reading from the given path.
func NewSampleService(samplePath string, utilityService *UtilityService) *SampleService {
	return &SampleService{
		samplePath:     samplePath,
		utilityService: utilityService,
		now:            time.Now,
	}
}

// SetClock injects a fixed clock for deterministic tests.
func (s *SampleService) SetClock(now func() time.Time) {
	s.now = now
}

// LoadSampleCalendar returns the fallback entries. A missing or unreadable
// file degrades to the built-in dataset; this provider never fails.
func (s *SampleService) LoadSampleCalendar() []CalendarEntry {
	items := s.readSampleFile()
	if len(items) == 0 {
		items = builtinSampleItems()
	}

	entries := make([]CalendarEntry, 0, len(items))
	for _, item := range items {
		record := models.IPORecord{
			CompanyName:       item.Company,
			StockCode:         s.utilityService.NormalizeStockCode(item.StockCode),
			Industry:          item.Industry,
			BookbuildingStart: s.utilityService.ParseDate(item.BookbuildingStart),
			BookbuildingEnd:   s.utilityService.ParseDate(item.BookbuildingEnd),
			ListingDate:       s.utilityService.ParseDate(item.TradeDate),
			IPOValueUSD:       item.IPOValueUSD,
			RaiseAmountUSD:    item.RaiseAmountUSD,
		}
		if item.TermSheetURL != "" {
			termSheetURL := item.TermSheetURL
			record.TermSheetURL = &termSheetURL
		}
		if item.ValuationMultiple != "" {
			multiple := item.ValuationMultiple
			record.ValuationMultiple = &multiple
		}
		if item.BusinessModel != "" {
			business := item.BusinessModel
			record.BusinessModel = &business
		}
		if item.FinancialTrend != "" {
			trend := item.FinancialTrend
			record.FinancialTrend = &trend
		}
		entries = append(entries, CalendarEntry{Record: record})
	}

	return s.shiftToRecent(entries)
}

func (s *SampleService) readSampleFile() []sampleItem {
	data, err := os.ReadFile(s.samplePath)
	if err != nil {
		if !os.IsNotExist(err) {
			shared.LogDegraded("Sample_Service", "read_sample_file", err)
		}
		return nil
	}
	var items []sampleItem
	if err := json.Unmarshal(data, &items); err != nil {
		shared.LogDegraded("Sample_Service", "parse_sample_file",
			shared.NewParseError("Sample_Service", "parse_sample_file", "sample calendar file is malformed", err))
		return nil
	}
	return items
}

// shiftToRecent moves all dates forward by whole months when the newest
// sample date has fallen more than sixty days behind today. Whole-month
// shifts keep weekday-agnostic layouts intact.
func (s *SampleService) shiftToRecent(entries []CalendarEntry) []CalendarEntry {
	if len(entries) == 0 {
		return entries
	}

	var earliest, latest *time.Time
	consider := func(value *time.Time) {
		if value == nil {
			return
		}
		if earliest == nil || value.Before(*earliest) {
			earliest = value
		}
		if latest == nil || value.After(*latest) {
			latest = value
		}
	}
	for i := range entries {
		consider(entries[i].Record.BookbuildingStart)
		consider(entries[i].Record.BookbuildingEnd)
		consider(entries[i].Record.ListingDate)
	}
	if latest == nil {
		return entries
	}

	today := s.now()
	if !latest.Before(today.AddDate(0, 0, -60)) {
		return entries
	}

	deltaMonths := monthIndex(today) - monthIndex(*earliest)
	if deltaMonths == 0 {
		return entries
	}

	logrus.WithFields(logrus.Fields{
		"component":    "SampleService",
		"delta_months": deltaMonths,
	}).Debug("Shifting stale sample dates forward")

	for i := range entries {
		entries[i].Record.BookbuildingStart = addMonthsClamped(entries[i].Record.BookbuildingStart, deltaMonths)
		entries[i].Record.BookbuildingEnd = addMonthsClamped(entries[i].Record.BookbuildingEnd, deltaMonths)
		entries[i].Record.ListingDate = addMonthsClamped(entries[i].Record.ListingDate, deltaMonths)
	}
	return entries
}

func monthIndex(value time.Time) int {
	return value.Year()*12 + int(value.Month())
}

// addMonthsClamped adds months while clamping the day to the target month's
// length, so 31 Jan plus one month lands on 28/29 Feb instead of rolling over.
func addMonthsClamped(value *time.Time, months int) *time.Time {
	if value == nil {
		return nil
	}
	year := value.Year() + (int(value.Month())-1+months)/12
	month := time.Month((int(value.Month())-1+months)%12 + 1)
	day := value.Day()
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, value.Location()).Day()
	if day > lastDay {
		day = lastDay
	}
	shifted := time.Date(year, month, day, 0, 0, 0, 0, value.Location())
	return &shifted
}

// builtinSampleItems is the dataset of last resort when no sample file is
// deployed alongside the binary.
func builtinSampleItems() []sampleItem {
	value := func(v float64) *float64 { return &v }
	return []sampleItem{
		{
			Company:           "Alpha Biotech Holdings",
			StockCode:         "02768",
			Industry:          "Healthcare",
			BookbuildingStart: "2025-03-03",
			BookbuildingEnd:   "2025-03-06",
			TradeDate:         "2025-03-12",
			IPOValueUSD:       value(1_200_000_000),
			RaiseAmountUSD:    value(180_000_000),
			ValuationMultiple: "18x",
			BusinessModel:     "Clinical-stage biotech developing oncology therapies for the Greater China market.",
			FinancialTrend:    "Revenue grew from licensing milestones while R&D spend widened losses.",
		},
		{
			Company:           "Harbour Logistics Group",
			StockCode:         "01980",
			Industry:          "Industrials",
			BookbuildingStart: "2025-03-10",
			BookbuildingEnd:   "2025-03-13",
			TradeDate:         "2025-03-19",
			IPOValueUSD:       value(650_000_000),
			RaiseAmountUSD:    value(95_000_000),
			ValuationMultiple: "11x",
			BusinessModel:     "Cross-border freight forwarding and bonded warehousing across the Greater Bay Area.",
			FinancialTrend:    "Steady revenue growth with margin pressure from fuel costs.",
		},
		{
			Company:           "Mingwah Consumer Brands",
			StockCode:         "02355",
			Industry:          "Consumer",
			BookbuildingStart: "2025-03-17",
			BookbuildingEnd:   "2025-03-20",
			TradeDate:         "2025-03-26",
			IPOValueUSD:       value(420_000_000),
			RaiseAmountUSD:    value(60_000_000),
			BusinessModel:     "Own-brand household goods sold through mainland e-commerce channels.",
			FinancialTrend:    "Profit roughly flat as marketing spend offset top-line growth.",
		},
	}
}
