package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hkipo/hkex-ipo-backend/models"
)

// --- fixtures ---

type fixtureCalendar struct {
	entries []CalendarEntry
}

func (f *fixtureCalendar) FetchCalendar(ctx context.Context) []CalendarEntry {
	copied := make([]CalendarEntry, len(f.entries))
	copy(copied, f.entries)
	return copied
}

type fixtureSearcher struct {
	filings map[string][]models.Filing
}

func (f *fixtureSearcher) SearchFilings(companyName string) []models.Filing {
	return f.filings[companyName]
}

type fixtureExtractor struct {
	terms map[string]ExtractedTerms
}

func (f *fixtureExtractor) ExtractTerms(ctx context.Context, filing models.Filing) ExtractedTerms {
	return f.terms[filing.URL]
}

type fixtureSamples struct {
	entries []CalendarEntry
}

func (f *fixtureSamples) LoadSampleCalendar() []CalendarEntry {
	copied := make([]CalendarEntry, len(f.entries))
	copy(copied, f.entries)
	return copied
}

func newFixtureReconciler(calendar CalendarSource, searcher FilingSearcher, extractor TermsExtractor, samples SampleProvider, overrides map[string]Override) *ReconcileService {
	utilityService := NewUtilityService()
	overrideService := NewOverrideService("", utilityService)
	if overrides != nil {
		overrideService.SetOverrides(overrides)
	}
	if searcher == nil {
		searcher = &fixtureSearcher{}
	}
	if extractor == nil {
		extractor = &fixtureExtractor{}
	}
	if samples == nil {
		samples = &fixtureSamples{}
	}

	service := NewReconcileService(
		nil,
		calendar,
		searcher,
		extractor,
		overrideService,
		samples,
		utilityService,
		NewCurrencyConverter(7.80),
	)
	service.SetClock(fixedClock("2025-03-05"))
	return service
}

func liveEntry(company, code, listing string) CalendarEntry {
	return CalendarEntry{
		Record: models.IPORecord{
			CompanyName: company,
			StockCode:   code,
			ListingDate: day(listing),
		},
	}
}

// --- tests ---

func TestRefreshFallsBackToSample(t *testing.T) {
	samples := &fixtureSamples{entries: []CalendarEntry{
		liveEntry("Alpha Biotech Holdings", "02768", "2025-03-12"),
		liveEntry("Harbour Logistics Group", "01980", "2025-03-19"),
	}}
	service := newFixtureReconciler(&fixtureCalendar{}, nil, nil, samples, nil)

	records := service.Refresh(context.Background())

	if len(records) != 2 {
		t.Fatalf("expected 2 sample records, got %d", len(records))
	}
	for _, record := range records {
		if record.DataOrigin != models.OriginSample {
			t.Errorf("record %q origin = %v, want sample", record.CompanyName, record.DataOrigin)
		}
		if record.Filings == nil {
			t.Errorf("record %q filings must be empty, not nil", record.CompanyName)
		}
		if record.NormalizedKey == "" {
			t.Errorf("record %q missing normalized key", record.CompanyName)
		}
	}
	if records[0].Status != models.StatusUpcoming {
		t.Errorf("status = %v, want upcoming for future listing", records[0].Status)
	}
}

func TestRefreshLivePipeline(t *testing.T) {
	multiple := "18x"
	calendar := &fixtureCalendar{entries: []CalendarEntry{
		{
			Record: models.IPORecord{
				CompanyName: "Alpha Biotech Holdings",
				StockCode:   "02768",
				ListingDate: day("2025-03-12"),
			},
			ProspectusURL:  "https://example.hk/02768_prospectus.pdf",
			ProspectusDate: day("2025-02-28"),
		},
	}}
	searcher := &fixtureSearcher{filings: map[string][]models.Filing{
		"Alpha Biotech Holdings": {
			{Title: "Announcement of Offer Price", URL: "https://example.hk/02768_offer.pdf", PublishedDate: day("2025-03-04"), Source: "servlet"},
		},
	}}
	proceeds := 500_000_000.0
	raiseUSD := proceeds / 7.80
	extractor := &fixtureExtractor{terms: map[string]ExtractedTerms{
		"https://example.hk/02768_prospectus.pdf": {
			RaiseAmountUSD:    &raiseUSD,
			ValuationMultiple: &multiple,
		},
	}}

	service := newFixtureReconciler(calendar, searcher, extractor, nil, nil)
	records := service.Refresh(context.Background())

	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	record := records[0]

	if record.DataOrigin != models.OriginLive {
		t.Errorf("origin = %v, want live", record.DataOrigin)
	}
	if record.NormalizedKey != "alphabiotechholdings" {
		t.Errorf("normalized key = %q", record.NormalizedKey)
	}
	if len(record.Filings) != 2 {
		t.Fatalf("expected seeded plus searched filings, got %d", len(record.Filings))
	}
	// Prospectus title wins term sheet selection over the newer announcement.
	if record.TermSheetURL == nil || *record.TermSheetURL != "https://example.hk/02768_prospectus.pdf" {
		t.Errorf("term sheet = %v, want the prospectus", record.TermSheetURL)
	}
	if record.RaiseAmountUSD == nil || *record.RaiseAmountUSD != raiseUSD {
		t.Errorf("raise amount = %v, want %v", record.RaiseAmountUSD, raiseUSD)
	}
	if record.ValuationMultiple == nil || *record.ValuationMultiple != "18x" {
		t.Errorf("valuation multiple = %v", record.ValuationMultiple)
	}
}

func TestRefreshAppliesOverrides(t *testing.T) {
	calendar := &fixtureCalendar{entries: []CalendarEntry{
		liveEntry("Alpha Biotech Holdings", "02768", "2025-03-12"),
	}}
	ipoValue := 1_200_000_000.0
	extractor := &fixtureExtractor{terms: map[string]ExtractedTerms{}}

	newRaise := 250_000_000.0
	overrides := map[string]Override{
		"alphabiotechholdings": {RaiseAmountUSD: &newRaise},
	}

	service := newFixtureReconciler(calendar, nil, extractor, nil, overrides)

	// Seed the fetched value through the calendar record itself.
	service.calendarSource.(*fixtureCalendar).entries[0].Record.IPOValueUSD = &ipoValue

	records := service.Refresh(context.Background())
	record := records[0]

	if record.DataOrigin != models.OriginOverride {
		t.Errorf("origin = %v, want override", record.DataOrigin)
	}
	if record.RaiseAmountUSD == nil || *record.RaiseAmountUSD != 250_000_000 {
		t.Errorf("raise amount = %v, want overridden 250000000", record.RaiseAmountUSD)
	}
	if record.IPOValueUSD == nil || *record.IPOValueUSD != 1_200_000_000 {
		t.Errorf("ipo value = %v, fields absent from the override must survive", record.IPOValueUSD)
	}
}

func TestRefreshIdempotent(t *testing.T) {
	calendar := &fixtureCalendar{entries: []CalendarEntry{
		liveEntry("Harbour Logistics Group", "01980", "2025-03-19"),
		liveEntry("Alpha Biotech Holdings", "02768", "2025-03-12"),
		{Record: models.IPORecord{CompanyName: "Undated Newcomer"}},
	}}
	searcher := &fixtureSearcher{filings: map[string][]models.Filing{
		"Alpha Biotech Holdings": {
			{Title: "Prospectus", URL: "https://example.hk/a.pdf", PublishedDate: day("2025-02-28")},
		},
	}}

	service := newFixtureReconciler(calendar, searcher, nil, nil, nil)

	first := service.Refresh(context.Background())
	second := service.Refresh(context.Background())

	firstJSON, err := json.Marshal(first)
	if err != nil {
		t.Fatal(err)
	}
	secondJSON, err := json.Marshal(second)
	if err != nil {
		t.Fatal(err)
	}
	if string(firstJSON) != string(secondJSON) {
		t.Error("two runs over identical inputs must serialize identically")
	}
}

func TestExtractionKeepsCalendarSeededFields(t *testing.T) {
	ipoValue := 1_200_000_000.0
	multiple := "18x"
	calendar := &fixtureCalendar{entries: []CalendarEntry{
		{
			Record: models.IPORecord{
				CompanyName: "Alpha Biotech Holdings",
				StockCode:   "02768",
				ListingDate: day("2025-03-12"),
				IPOValueUSD: &ipoValue,
			},
			ProspectusURL: "https://example.hk/02768_prospectus.pdf",
		},
	}}
	// The document yields a multiple but nothing about valuation.
	extractor := &fixtureExtractor{terms: map[string]ExtractedTerms{
		"https://example.hk/02768_prospectus.pdf": {ValuationMultiple: &multiple},
	}}

	service := newFixtureReconciler(calendar, nil, extractor, nil, nil)
	record := service.Refresh(context.Background())[0]

	if record.ValuationMultiple == nil || *record.ValuationMultiple != "18x" {
		t.Errorf("valuation multiple = %v, want extracted 18x", record.ValuationMultiple)
	}
	if record.IPOValueUSD == nil || *record.IPOValueUSD != ipoValue {
		t.Errorf("ipo value = %v, calendar value must survive a partial extraction", record.IPOValueUSD)
	}
}

func TestSeedSnapshotServesBeforeFirstRefresh(t *testing.T) {
	calendar := &fixtureCalendar{entries: []CalendarEntry{
		liveEntry("Alpha Biotech Holdings", "02768", "2025-03-12"),
	}}
	service := newFixtureReconciler(calendar, nil, nil, nil, nil)

	seeded := []models.IPORecord{
		{
			ID:            RecordID("harbourlogisticsgroup", "01980"),
			CompanyName:   "Harbour Logistics Group",
			StockCode:     "01980",
			NormalizedKey: "harbourlogisticsgroup",
			ListingDate:   day("2025-03-19"),
			Status:        models.StatusUpcoming,
			DataOrigin:    models.OriginLive,
			Filings:       []models.Filing{},
		},
	}
	savedAt := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)
	service.SeedSnapshot(seeded, savedAt)

	// Reads serve the seed without triggering a refresh.
	records := service.GetCalendar(context.Background())
	if len(records) != 1 || records[0].CompanyName != "Harbour Logistics Group" {
		t.Fatalf("expected the seeded record, got %v", records)
	}
	if !service.LastRefresh().Equal(savedAt) {
		t.Errorf("last refresh = %v, want snapshot save time", service.LastRefresh())
	}
	events := service.GetEvents(context.Background(), *day("2025-03-19"))
	if len(events) != 1 {
		t.Errorf("expected the seeded listing day to be indexed, got %d events", len(events))
	}

	// A real refresh replaces the seed.
	service.Refresh(context.Background())
	records = service.GetCalendar(context.Background())
	if len(records) != 1 || records[0].CompanyName != "Alpha Biotech Holdings" {
		t.Fatalf("expected the refreshed record, got %v", records)
	}

	// Seeding after a refresh is a no-op.
	service.SeedSnapshot(seeded, savedAt)
	if service.LastRefresh().Equal(savedAt) {
		t.Error("a seed must not displace an existing snapshot")
	}
}

func TestSeedSnapshotIgnoresEmpty(t *testing.T) {
	service := newFixtureReconciler(&fixtureCalendar{}, nil, nil, nil, nil)
	service.SeedSnapshot(nil, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	if !service.LastRefresh().IsZero() {
		t.Error("an empty seed must leave the service unrefreshed")
	}
}

func TestRefreshFundsRaisedFallback(t *testing.T) {
	funds := 748_800_000.0
	calendar := &fixtureCalendar{entries: []CalendarEntry{
		{
			Record: models.IPORecord{
				CompanyName:    "Harbour Logistics Group",
				StockCode:      "01980",
				ListingDate:    day("2025-03-01"),
				FundsRaisedHKD: &funds,
			},
		},
	}}

	service := newFixtureReconciler(calendar, nil, nil, nil, nil)
	record := service.Refresh(context.Background())[0]

	if record.RaiseAmountUSD == nil {
		t.Fatal("expected HKD funds raised to convert when extraction found nothing")
	}
	if *record.RaiseAmountUSD != funds/7.80 {
		t.Errorf("raise amount = %v, want %v", *record.RaiseAmountUSD, funds/7.80)
	}
}

func TestRefreshCapsFilings(t *testing.T) {
	var searched []models.Filing
	for _, suffix := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		searched = append(searched, models.Filing{
			Title: "Announcement " + suffix,
			URL:   "https://example.hk/" + suffix + ".pdf",
		})
	}
	calendar := &fixtureCalendar{entries: []CalendarEntry{
		liveEntry("Alpha Biotech Holdings", "02768", "2025-03-12"),
	}}
	searcher := &fixtureSearcher{filings: map[string][]models.Filing{
		"Alpha Biotech Holdings": searched,
	}}

	service := newFixtureReconciler(calendar, searcher, nil, nil, nil)
	record := service.Refresh(context.Background())[0]

	if len(record.Filings) != 6 {
		t.Errorf("filings = %d, want capped at 6", len(record.Filings))
	}
}

func TestRefreshWorkerPoolPreservesOrder(t *testing.T) {
	var entries []CalendarEntry
	listings := []string{"2025-03-12", "2025-03-19", "2025-03-26", "2025-04-02", "2025-04-09", "2025-04-16", "2025-04-23", "2025-04-30"}
	names := []string{"Alpha", "Bravo", "Charlie", "Delta", "Echo", "Foxtrot", "Golf", "Hotel"}
	for i := range names {
		entries = append(entries, liveEntry(names[i]+" Holdings", "", listings[i]))
	}
	calendar := &fixtureCalendar{entries: entries}

	service := newFixtureReconciler(calendar, nil, nil, nil, nil)
	records := service.Refresh(context.Background())

	if len(records) != len(names) {
		t.Fatalf("expected %d records, got %d", len(names), len(records))
	}
	for i, name := range names {
		if records[i].CompanyName != name+" Holdings" {
			t.Errorf("position %d = %q, want %q", i, records[i].CompanyName, name+" Holdings")
		}
	}
}

func TestSortRecords(t *testing.T) {
	records := []models.IPORecord{
		{CompanyName: "Zulu Undated"},
		{CompanyName: "Late Lister", ListingDate: day("2025-03-26")},
		{CompanyName: "Alpha Undated"},
		{CompanyName: "Early Lister", ListingDate: day("2025-03-12")},
	}

	SortRecords(records)

	expected := []string{"Early Lister", "Late Lister", "Alpha Undated", "Zulu Undated"}
	for i, name := range expected {
		if records[i].CompanyName != name {
			t.Errorf("position %d = %q, want %q", i, records[i].CompanyName, name)
		}
	}
}

func TestSelectTermSheet(t *testing.T) {
	filings := []models.Filing{
		{Title: "Monthly Return", URL: "https://example.hk/1.pdf"},
		{Title: "Global Offering Prospectus", URL: "https://example.hk/2.pdf"},
		{Title: "Application Proof", URL: "https://example.hk/3.pdf"},
	}

	selected := SelectTermSheet(filings)
	if selected == nil || selected.URL != "https://example.hk/2.pdf" {
		t.Errorf("selected = %v, want the prospectus", selected)
	}

	noKeywords := []models.Filing{
		{Title: "Monthly Return", URL: "https://example.hk/1.pdf"},
	}
	if selected = SelectTermSheet(noKeywords); selected == nil || selected.URL != "https://example.hk/1.pdf" {
		t.Error("without keyword matches the top-ranked filing wins")
	}

	if SelectTermSheet(nil) != nil {
		t.Error("no filings means no term sheet")
	}
}

func TestDeriveStatus(t *testing.T) {
	today := time.Date(2025, time.March, 5, 12, 30, 0, 0, time.UTC)

	testCases := []struct {
		name     string
		record   models.IPORecord
		expected models.IPOStatus
	}{
		{
			"listing in the past",
			models.IPORecord{ListingDate: day("2025-03-01")},
			models.StatusListed,
		},
		{
			"listing today counts as listed",
			models.IPORecord{ListingDate: day("2025-03-05")},
			models.StatusListed,
		},
		{
			"inside the bookbuilding window",
			models.IPORecord{BookbuildingStart: day("2025-03-03"), BookbuildingEnd: day("2025-03-06"), ListingDate: day("2025-03-12")},
			models.StatusBookbuilding,
		},
		{
			"before bookbuilding",
			models.IPORecord{BookbuildingStart: day("2025-03-10"), BookbuildingEnd: day("2025-03-13"), ListingDate: day("2025-03-19")},
			models.StatusUpcoming,
		},
		{
			"no dates at all",
			models.IPORecord{},
			models.StatusUpcoming,
		},
		{
			"withdrawn stays withdrawn",
			models.IPORecord{Status: models.StatusWithdrawn, ListingDate: day("2025-03-01")},
			models.StatusWithdrawn,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveStatus(&tc.record, today); got != tc.expected {
				t.Errorf("DeriveStatus = %v, want %v", got, tc.expected)
			}
		})
	}
}

func TestRecordIDDeterministic(t *testing.T) {
	first := RecordID("alphabiotechholdings", "02768")
	second := RecordID("alphabiotechholdings", "02768")
	if first != second {
		t.Error("identical keys must yield identical IDs")
	}
	if RecordID("alphabiotechholdings", "02768") == RecordID("harbourlogisticsgroup", "01980") {
		t.Error("different keys must yield different IDs")
	}
}

func TestGetEventsAndRecordByDate(t *testing.T) {
	calendar := &fixtureCalendar{entries: []CalendarEntry{
		{
			Record: models.IPORecord{
				CompanyName:       "Alpha Biotech Holdings",
				BookbuildingStart: day("2025-03-03"),
				BookbuildingEnd:   day("2025-03-06"),
				ListingDate:       day("2025-03-12"),
			},
		},
	}}

	service := newFixtureReconciler(calendar, nil, nil, nil, nil)

	ctx := context.Background()
	events := service.GetEvents(ctx, *day("2025-03-04"))
	if len(events) != 1 || events[0].Type != models.EventBookbuilding {
		t.Errorf("events on bookbuilding day = %v", events)
	}

	events = service.GetEvents(ctx, *day("2025-03-12"))
	if len(events) != 1 || events[0].Type != models.EventTrade {
		t.Errorf("events on listing day = %v", events)
	}

	if record := service.GetRecord(ctx, *day("2025-03-04")); record == nil || record.CompanyName != "Alpha Biotech Holdings" {
		t.Errorf("record on active day = %v", record)
	}
	if record := service.GetRecord(ctx, *day("2025-03-20")); record != nil {
		t.Errorf("record on empty day = %v, want nil", record)
	}
}

func TestGetCalendarLazyRefresh(t *testing.T) {
	calendar := &fixtureCalendar{entries: []CalendarEntry{
		liveEntry("Alpha Biotech Holdings", "02768", "2025-03-12"),
	}}
	service := newFixtureReconciler(calendar, nil, nil, nil, nil)

	if !service.LastRefresh().IsZero() {
		t.Fatal("no refresh should have run yet")
	}
	records := service.GetCalendar(context.Background())
	if len(records) != 1 {
		t.Fatalf("expected lazy refresh to produce 1 record, got %d", len(records))
	}
	if service.LastRefresh().IsZero() {
		t.Error("lazy refresh must stamp the snapshot time")
	}
}
