package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hkipo/hkex-ipo-backend/models"
	"github.com/hkipo/hkex-ipo-backend/shared"
)

// CalendarSource yields partial records from the live exchange calendar.
// Empty means "try fallback", never a hard error.
type CalendarSource interface {
	FetchCalendar(ctx context.Context) []CalendarEntry
}

// FilingSearcher returns ranked candidate filings for a company. Empty is a
// normal outcome.
type FilingSearcher interface {
	SearchFilings(companyName string) []models.Filing
}

// TermsExtractor recovers deal terms from one filing, best effort.
type TermsExtractor interface {
	ExtractTerms(ctx context.Context, filing models.Filing) ExtractedTerms
}

// SampleProvider supplies the always-available fallback dataset.
type SampleProvider interface {
	LoadSampleCalendar() []CalendarEntry
}

// ReconcileConfiguration tunes the reconciliation run.
type ReconcileConfiguration struct {
	// WorkerCount bounds the per-company resolve pool. One worker keeps the
	// run fully sequential.
	WorkerCount int
	// MaxFilings caps how many candidates a record keeps.
	MaxFilings int
}

// NewDefaultReconcileConfiguration returns production settings.
func NewDefaultReconcileConfiguration() *ReconcileConfiguration {
	return &ReconcileConfiguration{
		WorkerCount: 4,
		MaxFilings:  6,
	}
}

// termSheetKeywords pick the document worth extracting terms from, in
// preference order, before falling back to the top-ranked filing.
var termSheetKeywords = []string{
	"prospectus",
	"application proof",
	"hearing information pack",
	"term sheet",
	"offering circular",
}

// ReconcileService assembles the final IPO calendar: live fetch, per-company
// filings resolution and term extraction, override overlay, status
// derivation, deterministic ordering. Records are rebuilt from scratch on
// every run; the only mutable state is the published snapshot.
type ReconcileService struct {
	configuration   *ReconcileConfiguration
	calendarSource  CalendarSource
	filingSearcher  FilingSearcher
	termsExtractor  TermsExtractor
	overrideService *OverrideService
	sampleProvider  SampleProvider
	utilityService  *UtilityService
	converter       *CurrencyConverter
	serviceMetrics  *shared.ServiceMetrics

	now func() time.Time

	mutex       sync.RWMutex
	lastRecords []models.IPORecord
	lastIndex   models.EventIndex
	lastRefresh time.Time
}

// NewReconcileService wires the pipeline together. All collaborators are
// injected so tests can run the engine against fixtures. A nil configuration
// selects defaults.
func NewReconcileService(
	configuration *ReconcileConfiguration,
	calendarSource CalendarSource,
	filingSearcher FilingSearcher,
	termsExtractor TermsExtractor,
	overrideService *OverrideService,
	sampleProvider SampleProvider,
	utilityService *UtilityService,
	converter *CurrencyConverter,
) *ReconcileService {
	if configuration == nil {
		configuration = NewDefaultReconcileConfiguration()
	}
	if configuration.WorkerCount < 1 {
		configuration.WorkerCount = 1
	}
	if configuration.MaxFilings < 1 {
		configuration.MaxFilings = 6
	}
	return &ReconcileService{
		configuration:   configuration,
		calendarSource:  calendarSource,
		filingSearcher:  filingSearcher,
		termsExtractor:  termsExtractor,
		overrideService: overrideService,
		sampleProvider:  sampleProvider,
		utilityService:  utilityService,
		converter:       converter,
		serviceMetrics:  shared.NewServiceMetrics("Reconcile_Service"),
		now:             time.Now,
	}
}

// SetClock injects a fixed clock for deterministic tests.
func (s *ReconcileService) SetClock(now func() time.Time) {
	s.now = now
}

// Refresh runs the full reconciliation and publishes the new snapshot.
func (s *ReconcileService) Refresh(ctx context.Context) []models.IPORecord {
	logger := logrus.WithFields(logrus.Fields{
		"component": "ReconcileService",
		"method":    "Refresh",
	})
	startTime := time.Now()

	entries := s.calendarSource.FetchCalendar(ctx)

	var records []models.IPORecord
	if len(entries) == 0 {
		logger.Warn("Live calendar empty, substituting sample dataset")
		records = s.reconcileSample(s.sampleProvider.LoadSampleCalendar())
	} else {
		records = s.reconcileLive(ctx, entries)
	}

	SortRecords(records)
	index := models.BuildEventIndex(records)

	s.mutex.Lock()
	s.lastRecords = records
	s.lastIndex = index
	s.lastRefresh = s.now()
	s.mutex.Unlock()

	s.serviceMetrics.RecordRequest(true, time.Since(startTime))
	logger.WithFields(logrus.Fields{
		"record_count": len(records),
		"duration":     time.Since(startTime),
	}).Info("Reconciliation run complete")
	return records
}

// reconcileSample tags the fallback dataset. Filing search, extraction and
// overrides are all skipped: what the sample provider ships is what the user
// sees. Status stays derived because the provider only supplies dates.
func (s *ReconcileService) reconcileSample(entries []CalendarEntry) []models.IPORecord {
	today := s.now()
	records := make([]models.IPORecord, 0, len(entries))
	for _, entry := range entries {
		record := entry.Record
		record.NormalizedKey = s.utilityService.NormalizeCompanyKey(record.CompanyName)
		record.ID = RecordID(record.NormalizedKey, record.StockCode)
		record.Status = DeriveStatus(&record, today)
		record.DataOrigin = models.OriginSample
		if record.Filings == nil {
			record.Filings = []models.Filing{}
		}
		records = append(records, record)
	}
	return records
}

// reconcileLive resolves every live entry. Resolution per company is
// independent and read-only against shared state, so entries fan out over a
// bounded worker pool; results land in their input slot so execution order
// never shows up in output ordering.
func (s *ReconcileService) reconcileLive(ctx context.Context, entries []CalendarEntry) []models.IPORecord {
	records := make([]models.IPORecord, len(entries))

	workerCount := s.configuration.WorkerCount
	if workerCount > len(entries) {
		workerCount = len(entries)
	}

	jobs := make(chan int)
	var waitGroup sync.WaitGroup
	for worker := 0; worker < workerCount; worker++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			for index := range jobs {
				records[index] = s.resolveEntry(ctx, entries[index])
			}
		}()
	}
	for index := range entries {
		jobs <- index
	}
	close(jobs)
	waitGroup.Wait()

	return records
}

// resolveEntry runs steps 2 through 5 of the reconciliation for one company.
func (s *ReconcileService) resolveEntry(ctx context.Context, entry CalendarEntry) models.IPORecord {
	record := entry.Record
	record.NormalizedKey = s.utilityService.NormalizeCompanyKey(record.CompanyName)
	record.ID = RecordID(record.NormalizedKey, record.StockCode)

	filings := s.collectFilings(entry)
	record.Filings = filings

	termSheet := SelectTermSheet(filings)
	if termSheet != nil {
		termSheetURL := termSheet.URL
		record.TermSheetURL = &termSheetURL
	}

	s.extractFromCandidates(ctx, &record, termSheet)

	// Raise amount fallback: the new-listing report states funds raised in
	// HKD even when no document was extractable.
	if record.RaiseAmountUSD == nil && record.FundsRaisedHKD != nil {
		converted := s.converter.ToUSD(*record.FundsRaisedHKD, "HKD")
		record.RaiseAmountUSD = &converted
	}

	overrideApplied := false
	if override, ok := s.overrideService.Lookup(record.NormalizedKey, record.StockCode); ok {
		overrideApplied = s.overrideService.Apply(&record, override)
	}

	record.Status = DeriveStatus(&record, s.now())

	if overrideApplied {
		record.DataOrigin = models.OriginOverride
	} else {
		record.DataOrigin = models.OriginLive
	}
	if record.Filings == nil {
		record.Filings = []models.Filing{}
	}
	return record
}

// collectFilings seeds filings from the calendar entry's document links, adds
// search results, then dedupes, orders and caps the list.
func (s *ReconcileService) collectFilings(entry CalendarEntry) []models.Filing {
	var filings []models.Filing

	if entry.AnnouncementURL != "" {
		filings = append(filings, models.Filing{
			Title:         "New listing announcement",
			URL:           entry.AnnouncementURL,
			PublishedDate: entry.ProspectusDate,
			Source:        "hkexnews",
		})
	}
	if entry.ProspectusURL != "" {
		filings = append(filings, models.Filing{
			Title:         "Prospectus",
			URL:           entry.ProspectusURL,
			PublishedDate: entry.ProspectusDate,
			Source:        "hkexnews",
		})
	}
	if entry.AllotmentURL != "" {
		filings = append(filings, models.Filing{
			Title:         "Allotment results",
			URL:           entry.AllotmentURL,
			PublishedDate: entry.Record.ListingDate,
			Source:        "hkexnews",
		})
	}

	if entry.Record.CompanyName != "" {
		filings = append(filings, s.filingSearcher.SearchFilings(entry.Record.CompanyName)...)
	}

	filings = SortFilings(DedupeFilings(filings))
	if len(filings) > s.configuration.MaxFilings {
		filings = filings[:s.configuration.MaxFilings]
	}
	return filings
}

// extractFromCandidates walks candidates in ranked order, preferring the
// selected term sheet, and stops at the first filing that yields any field.
func (s *ReconcileService) extractFromCandidates(ctx context.Context, record *models.IPORecord, termSheet *models.Filing) {
	candidates := make([]models.Filing, 0, len(record.Filings))
	if termSheet != nil {
		candidates = append(candidates, *termSheet)
	}
	for _, filing := range record.Filings {
		if termSheet != nil && filing.URL == termSheet.URL {
			continue
		}
		candidates = append(candidates, filing)
	}

	for _, candidate := range candidates {
		terms := s.termsExtractor.ExtractTerms(ctx, candidate)
		if terms.IsEmpty() {
			continue
		}
		// Only recovered fields land on the record; calendar-seeded values
		// stay when extraction comes back partial.
		if terms.IPOValueUSD != nil {
			record.IPOValueUSD = terms.IPOValueUSD
		}
		if terms.RaiseAmountUSD != nil {
			record.RaiseAmountUSD = terms.RaiseAmountUSD
		}
		if terms.ValuationMultiple != nil {
			record.ValuationMultiple = terms.ValuationMultiple
		}
		if terms.BusinessModel != nil {
			record.BusinessModel = terms.BusinessModel
		}
		if terms.FinancialTrend != nil {
			record.FinancialTrend = terms.FinancialTrend
		}
		return
	}
}

// RecordID derives a stable identifier from the record's lookup keys, so
// repeated runs over the same inputs produce identical records.
func RecordID(normalizedKey, stockCode string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("hkipo:"+normalizedKey+":"+stockCode))
}

// SelectTermSheet picks the most promising document for extraction: keyword
// match on the title first, otherwise the top-ranked filing.
func SelectTermSheet(filings []models.Filing) *models.Filing {
	for _, keyword := range termSheetKeywords {
		for i := range filings {
			if strings.Contains(strings.ToLower(filings[i].Title), keyword) {
				return &filings[i]
			}
		}
	}
	if len(filings) > 0 {
		return &filings[0]
	}
	return nil
}

// DeriveStatus computes the lifecycle stage from the record's dates relative
// to today. A withdrawn status set by an override is left alone.
func DeriveStatus(record *models.IPORecord, today time.Time) models.IPOStatus {
	if record.Status == models.StatusWithdrawn {
		return models.StatusWithdrawn
	}
	day := models.DayKey(today)

	if record.ListingDate != nil && !models.DayKey(*record.ListingDate).After(day) {
		return models.StatusListed
	}
	if record.BookbuildingStart != nil && record.BookbuildingEnd != nil {
		start := models.DayKey(*record.BookbuildingStart)
		end := models.DayKey(*record.BookbuildingEnd)
		if !day.Before(start) && !day.After(end) {
			return models.StatusBookbuilding
		}
	}
	return models.StatusUpcoming
}

// SortRecords orders the calendar by listing date ascending; undated records
// sort last, by company name, then normalized key for full determinism.
func SortRecords(records []models.IPORecord) {
	sort.SliceStable(records, func(i, j int) bool {
		left, right := records[i], records[j]
		switch {
		case left.ListingDate != nil && right.ListingDate == nil:
			return true
		case left.ListingDate == nil && right.ListingDate != nil:
			return false
		case left.ListingDate != nil && right.ListingDate != nil:
			if !left.ListingDate.Equal(*right.ListingDate) {
				return left.ListingDate.Before(*right.ListingDate)
			}
		}
		if left.CompanyName != right.CompanyName {
			return left.CompanyName < right.CompanyName
		}
		return left.NormalizedKey < right.NormalizedKey
	})
}

// SeedSnapshot publishes a previously persisted calendar so reads work before
// the first live refresh completes. A snapshot that already exists wins; the
// seed is only for cold starts.
func (s *ReconcileService) SeedSnapshot(records []models.IPORecord, savedAt time.Time) {
	if len(records) == 0 {
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.lastRefresh.IsZero() {
		return
	}
	s.lastRecords = records
	s.lastIndex = models.BuildEventIndex(records)
	s.lastRefresh = savedAt

	logrus.WithFields(logrus.Fields{
		"component":    "ReconcileService",
		"record_count": len(records),
		"saved_at":     savedAt,
	}).Info("Seeded calendar from persisted snapshot")
}

// GetCalendar returns the current reconciled calendar, refreshing lazily on
// first use.
func (s *ReconcileService) GetCalendar(ctx context.Context) []models.IPORecord {
	s.mutex.RLock()
	refreshed := !s.lastRefresh.IsZero()
	records := s.lastRecords
	s.mutex.RUnlock()

	if !refreshed {
		return s.Refresh(ctx)
	}
	return records
}

// GetRecord returns the record active on the given date, or nil when the
// calendar has nothing for that day. Bookbuilding days and the listing day
// both count as active.
func (s *ReconcileService) GetRecord(ctx context.Context, date time.Time) *models.IPORecord {
	events := s.GetEvents(ctx, date)
	if len(events) == 0 {
		return nil
	}
	return events[0].Record
}

// GetEvents returns every calendar event on the given date.
func (s *ReconcileService) GetEvents(ctx context.Context, date time.Time) []models.CalendarEvent {
	s.GetCalendar(ctx)

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lastIndex[models.DayKey(date)]
}

// LastRefresh reports when the snapshot was last rebuilt.
func (s *ReconcileService) LastRefresh() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lastRefresh
}

// Metrics exposes reconciliation counters for reporting.
func (s *ReconcileService) Metrics() *shared.ServiceMetrics {
	return s.serviceMetrics
}
