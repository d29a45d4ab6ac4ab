package services

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/hkipo/hkex-ipo-backend/models"
	"github.com/hkipo/hkex-ipo-backend/shared"
)

// CalendarEntry is one partially populated record straight off a live HKEX
// source, before filings resolution and override overlay. Document links from
// the new-listing page ride along so the reconciler can seed filings without
// a second fetch.
type CalendarEntry struct {
	Record models.IPORecord

	AnnouncementURL string
	ProspectusURL   string
	AllotmentURL    string
	ProspectusDate  *time.Time
}

// BoardIndex names one application-proof consolidated index document.
type BoardIndex struct {
	Board string
	URL   string
}

// CalendarSourceConfiguration holds every page-structure assumption about the
// HKEX calendar endpoints. Endpoint changes should require edits here and in
// the parsing helpers only.
type CalendarSourceConfiguration struct {
	CalendarURLs           []string
	NewListingMainURL      string
	NewsBaseURL            string
	ReportLinkSegment      string
	ApplicationProofURL    string
	ApplicationIndexURLs   []BoardIndex
	RequestTimeout         time.Duration
	MaxDocumentBytes       int64
	EnableHeadlessFallback bool
}

// NewDefaultCalendarSourceConfiguration returns production endpoints for the
// main board and GEM.
func NewDefaultCalendarSourceConfiguration() *CalendarSourceConfiguration {
	return &CalendarSourceConfiguration{
		CalendarURLs: []string{
			"https://www.hkex.com.hk/Market-Data/IPO-Activity/IPO-Calendar?sc_lang=en",
		},
		NewListingMainURL:   "https://www2.hkexnews.hk/New-Listings/New-Listing-Information/Main-Board?sc_lang=en",
		NewsBaseURL:         "https://www2.hkexnews.hk",
		ReportLinkSegment:   "/new-listing-report/main/",
		ApplicationProofURL: "https://www1.hkexnews.hk/app/appindex.html",
		ApplicationIndexURLs: []BoardIndex{
			{Board: "Main Board", URL: "https://www1.hkexnews.hk/app/documents/sehkconsolidatedindex.xlsx"},
			{Board: "GEM", URL: "https://www1.hkexnews.hk/app/documents/gemconsolidatedindex.xlsx"},
		},
		RequestTimeout:   25 * time.Second,
		MaxDocumentBytes: 12_000_000,
	}
}

// CalendarService retrieves the raw list of upcoming and recent IPOs from the
// exchange. Failures never escape: every error path degrades to an empty
// slice so the caller can decide to fall back to sample data.
type CalendarService struct {
	configuration  *CalendarSourceConfiguration
	clientFactory  *shared.HTTPClientFactory
	rateLimiter    *shared.HTTPRequestRateLimiter
	utilityService *UtilityService
	serviceMetrics *shared.ServiceMetrics
}

// NewCalendarService creates a calendar source with the given endpoint
// configuration. A nil configuration selects production defaults.
func NewCalendarService(configuration *CalendarSourceConfiguration, clientFactory *shared.HTTPClientFactory, rateLimiter *shared.HTTPRequestRateLimiter, utilityService *UtilityService) *CalendarService {
	if configuration == nil {
		configuration = NewDefaultCalendarSourceConfiguration()
	}
	return &CalendarService{
		configuration:  configuration,
		clientFactory:  clientFactory,
		rateLimiter:    rateLimiter,
		utilityService: utilityService,
		serviceMetrics: shared.NewServiceMetrics("Calendar_Service"),
	}
}

// FetchCalendar collects calendar entries from the live HKEX sources in
// preference order: the new-listing report, the application proof indices,
// then the IPO calendar page itself. An empty result means "try fallback",
// never a hard error.
func (s *CalendarService) FetchCalendar(ctx context.Context) []CalendarEntry {
	logger := logrus.WithFields(logrus.Fields{
		"component": "CalendarService",
		"method":    "FetchCalendar",
	})
	startTime := time.Now()

	var entries []CalendarEntry

	reportEntries, err := s.fetchNewListingReportCalendar(ctx)
	if err != nil {
		shared.LogDegraded("Calendar_Service", "fetch_new_listing_report", err)
	} else {
		entries = append(entries, reportEntries...)
	}

	proofEntries, err := s.fetchApplicationProofItems(ctx)
	if err != nil {
		shared.LogDegraded("Calendar_Service", "fetch_application_proofs", err)
	} else {
		entries = append(entries, proofEntries...)
	}

	if len(entries) == 0 {
		pageEntries, err := s.fetchCalendarPage(ctx)
		if err != nil {
			shared.LogDegraded("Calendar_Service", "fetch_calendar_page", err)
		} else {
			entries = append(entries, pageEntries...)
		}
	}

	s.serviceMetrics.RecordRequest(len(entries) > 0, time.Since(startTime))
	logger.WithField("entry_count", len(entries)).Info("Fetched IPO calendar entries")
	return entries
}

// fetchNewListingReportCalendar reads the new-listing main board page,
// follows its xlsx report links and merges the per-code document links
// (announcement, prospectus, allotment) found in the listing table.
func (s *CalendarService) fetchNewListingReportCalendar(ctx context.Context) ([]CalendarEntry, error) {
	html, err := s.fetchPage(ctx, s.configuration.NewListingMainURL)
	if err != nil {
		return nil, err
	}

	document, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, shared.NewParseError("Calendar_Service", "fetch_new_listing_report", "unreadable new-listing page", err)
	}

	reportLinks := s.extractListingReportLinks(document)
	documents := s.extractNewListingDocuments(document)

	var entries []CalendarEntry
	for _, link := range reportLinks {
		reportEntries, err := s.parseListingReport(ctx, link)
		if err != nil {
			shared.LogDegraded("Calendar_Service", "parse_listing_report", err)
			continue
		}
		entries = append(entries, reportEntries...)
	}

	for i := range entries {
		code := entries[i].Record.StockCode
		doc, ok := documents[code]
		if !ok {
			continue
		}
		entries[i].AnnouncementURL = doc.announcementURL
		entries[i].ProspectusURL = doc.prospectusURL
		entries[i].AllotmentURL = doc.allotmentURL
		if entries[i].Record.CompanyName == "" && doc.company != "" {
			entries[i].Record.CompanyName = doc.company
		}
		if entries[i].Record.CompanyPageURL == nil {
			pageURL := doc.prospectusURL
			if pageURL == "" {
				pageURL = doc.announcementURL
			}
			if pageURL == "" {
				pageURL = s.configuration.NewListingMainURL
			}
			entries[i].Record.CompanyPageURL = &pageURL
		}
	}

	return entries, nil
}

type listingDocuments struct {
	company         string
	announcementURL string
	prospectusURL   string
	allotmentURL    string
}

// extractListingReportLinks finds xlsx new-listing-report links, newest year
// first.
func (s *CalendarService) extractListingReportLinks(document *goquery.Document) []string {
	yearRegex := regexp.MustCompile(`(\d{4})`)
	seen := make(map[string]bool)
	var links []string

	document.Find("a[href]").Each(func(_ int, anchor *goquery.Selection) {
		href, _ := anchor.Attr("href")
		lowered := strings.ToLower(href)
		if !strings.HasSuffix(lowered, ".xlsx") {
			return
		}
		if !strings.Contains(lowered, s.configuration.ReportLinkSegment) {
			return
		}
		absolute := s.resolveURL(s.configuration.NewsBaseURL, href)
		if !seen[absolute] {
			seen[absolute] = true
			links = append(links, absolute)
		}
	})

	sort.Slice(links, func(i, j int) bool {
		yearOf := func(link string) string {
			if match := yearRegex.FindString(link); match != "" {
				return match
			}
			return "0"
		}
		return yearOf(links[i]) > yearOf(links[j])
	})
	return links
}

// extractNewListingDocuments parses the listing table keyed by stock code.
// The table is identified by its header cells rather than position so minor
// page reshuffles keep working.
func (s *CalendarService) extractNewListingDocuments(document *goquery.Document) map[string]listingDocuments {
	documents := make(map[string]listingDocuments)

	document.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		headers := table.Find("th").Map(func(_ int, cell *goquery.Selection) string {
			return strings.TrimSpace(cell.Text())
		})
		hasCode := false
		hasName := false
		for _, header := range headers {
			if header == "Stock Code" {
				hasCode = true
			}
			if header == "Stock Name" {
				hasName = true
			}
		}
		if !hasCode || !hasName {
			return true
		}

		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td")
			if cells.Length() < 5 {
				return
			}
			stockCode := s.utilityService.NormalizeStockCode(cells.Eq(0).Text())
			if stockCode == "" {
				return
			}
			documents[stockCode] = listingDocuments{
				company:         s.utilityService.NormalizeTextContent(cells.Eq(1).Text()),
				announcementURL: s.firstLink(cells.Eq(2)),
				prospectusURL:   s.firstLink(cells.Eq(3)),
				allotmentURL:    s.firstLink(cells.Eq(4)),
			}
		})
		return false
	})

	return documents
}

func (s *CalendarService) firstLink(cell *goquery.Selection) string {
	href, exists := cell.Find("a[href]").First().Attr("href")
	if !exists {
		return ""
	}
	return s.resolveURL(s.configuration.NewsBaseURL, href)
}

// parseListingReport downloads one xlsx new-listing report and converts its
// rows to calendar entries. The header row is located by content because the
// report carries a variable-height preamble.
func (s *CalendarService) parseListingReport(ctx context.Context, reportURL string) ([]CalendarEntry, error) {
	data, err := s.fetchBinary(ctx, reportURL)
	if err != nil {
		return nil, err
	}

	workbook, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, shared.NewParseError("Calendar_Service", "parse_listing_report", "unreadable listing report workbook", err)
	}
	defer workbook.Close()

	rows, err := workbook.GetRows(workbook.GetSheetName(0))
	if err != nil {
		return nil, shared.NewParseError("Calendar_Service", "parse_listing_report", "unreadable listing report sheet", err)
	}

	headerIndex := -1
	for index, row := range rows {
		joined := strings.Join(row, " ")
		if strings.Contains(joined, "Stock Code") && strings.Contains(joined, "Company Name") {
			headerIndex = index
			break
		}
	}
	if headerIndex < 0 {
		return nil, shared.NewParseError("Calendar_Service", "parse_listing_report", "listing report header row not found", nil)
	}

	var entries []CalendarEntry
	for _, row := range rows[headerIndex+1:] {
		if len(row) < 5 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		stockCode := s.utilityService.NormalizeStockCode(cellAt(row, 1))
		if stockCode == "" {
			continue
		}
		companyName := s.utilityService.NormalizeTextContent(strings.ReplaceAll(cellAt(row, 2), "\n", " "))
		prospectusDate := s.utilityService.ParseDate(cellAt(row, 3))
		listingDate := s.utilityService.ParseDate(cellAt(row, 4))
		fundsRaisedHKD := s.utilityService.ParseFloat(cellAt(row, 8))

		pageURL := s.configuration.NewListingMainURL
		entry := CalendarEntry{
			Record: models.IPORecord{
				CompanyName:       companyName,
				StockCode:         stockCode,
				BookbuildingStart: prospectusDate,
				BookbuildingEnd:   prospectusDate,
				ListingDate:       listingDate,
				FundsRaisedHKD:    fundsRaisedHKD,
				CompanyPageURL:    &pageURL,
			},
			ProspectusDate: prospectusDate,
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func cellAt(row []string, index int) string {
	if index < len(row) {
		return row[index]
	}
	return ""
}

// fetchApplicationProofItems reads the consolidated application proof indices
// for each board. Applicants without a posting date are skipped; their
// bookbuilding window collapses to the posting day.
func (s *CalendarService) fetchApplicationProofItems(ctx context.Context) ([]CalendarEntry, error) {
	var entries []CalendarEntry
	var lastError error

	for _, boardIndex := range s.configuration.ApplicationIndexURLs {
		data, err := s.fetchBinary(ctx, boardIndex.URL)
		if err != nil {
			lastError = err
			continue
		}

		workbook, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			lastError = shared.NewParseError("Calendar_Service", "fetch_application_proofs", "unreadable application proof index", err)
			continue
		}

		rows, err := workbook.GetRows(workbook.GetSheetName(0))
		workbook.Close()
		if err != nil {
			lastError = shared.NewParseError("Calendar_Service", "fetch_application_proofs", "unreadable application proof sheet", err)
			continue
		}
		if len(rows) == 0 {
			continue
		}

		dateColumn := findColumn(rows[0], "Date of First Posting")
		applicantColumn := findColumn(rows[0], "Applicant")
		if dateColumn < 0 || applicantColumn < 0 {
			continue
		}

		for _, row := range rows[1:] {
			postingDate := s.utilityService.ParseDate(cellAt(row, dateColumn))
			applicant := s.utilityService.NormalizeTextContent(cellAt(row, applicantColumn))
			if applicant == "" || postingDate == nil {
				continue
			}
			pageURL := s.configuration.ApplicationProofURL
			entries = append(entries, CalendarEntry{
				Record: models.IPORecord{
					CompanyName:       applicant,
					BookbuildingStart: postingDate,
					BookbuildingEnd:   postingDate,
					CompanyPageURL:    &pageURL,
				},
			})
		}
	}

	if len(entries) == 0 && lastError != nil {
		return nil, lastError
	}
	return entries, nil
}

func findColumn(header []string, name string) int {
	target := strings.ToLower(strings.TrimSpace(name))
	for index, cell := range header {
		if strings.ToLower(strings.TrimSpace(cell)) == target {
			return index
		}
	}
	return -1
}

// fetchCalendarPage scrapes the IPO calendar page itself, optionally through
// a headless browser when static HTML yields nothing. The page embeds its
// data in script state on some deployments and plain tables on others.
func (s *CalendarService) fetchCalendarPage(ctx context.Context) ([]CalendarEntry, error) {
	var lastError error
	for _, calendarURL := range s.configuration.CalendarURLs {
		html, err := s.fetchPage(ctx, calendarURL)
		if err != nil {
			lastError = err
			continue
		}

		entries, err := s.extractCalendarFromHTML(html)
		if err == nil && len(entries) > 0 {
			return entries, nil
		}

		if s.configuration.EnableHeadlessFallback {
			rendered, renderErr := s.renderCalendarWithBrowser(ctx, calendarURL)
			if renderErr != nil {
				shared.LogDegraded("Calendar_Service", "render_calendar_page", renderErr)
			} else if entries, err := s.extractCalendarFromHTML(rendered); err == nil && len(entries) > 0 {
				return entries, nil
			}
		}

		lastError = shared.NewParseError("Calendar_Service", "fetch_calendar_page", "calendar page yielded no entries", nil)
	}
	if lastError == nil {
		lastError = shared.NewParseError("Calendar_Service", "fetch_calendar_page", "calendar endpoint list is empty", nil)
	}
	return nil, lastError
}

// renderCalendarWithBrowser loads the calendar page in headless Chrome so
// script-rendered tables become visible to the same HTML extractor.
func (s *CalendarService) renderCalendarWithBrowser(ctx context.Context, pageURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-images", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.UserAgent("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	browserCtx, cancelTimeout := context.WithTimeout(browserCtx, s.configuration.RequestTimeout)
	defer cancelTimeout()

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.EmulateViewport(1920, 1080),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(3*time.Second),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", shared.NewNetworkError("Calendar_Service", "render_calendar_page", err)
	}
	return html, nil
}

// extractCalendarFromHTML pulls calendar entries out of page HTML, trying
// embedded script state first and falling back to table scanning.
func (s *CalendarService) extractCalendarFromHTML(html string) ([]CalendarEntry, error) {
	document, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, shared.NewParseError("Calendar_Service", "extract_calendar", "unreadable calendar page", err)
	}

	if entries := s.extractCalendarFromScripts(document); len(entries) > 0 {
		return entries, nil
	}
	return s.extractCalendarFromTables(document), nil
}

var (
	initialStateRegex = regexp.MustCompile(`(?s)__INITIAL_STATE__\s*=\s*(\{.*\});`)
	jsonArrayRegex    = regexp.MustCompile(`(?s)\[\{.*?\}\]`)
)

// extractCalendarFromScripts scans inline scripts for embedded JSON listing
// data, either a full state object or a bare array of entries.
func (s *CalendarService) extractCalendarFromScripts(document *goquery.Document) []CalendarEntry {
	var entries []CalendarEntry

	document.Find("script").EachWithBreak(func(_ int, script *goquery.Selection) bool {
		text := script.Text()
		lowered := strings.ToLower(text)
		if !strings.Contains(lowered, "ipo") || !strings.Contains(lowered, "calendar") {
			return true
		}

		if groups := initialStateRegex.FindStringSubmatch(text); groups != nil {
			var state interface{}
			if err := json.Unmarshal([]byte(groups[1]), &state); err == nil {
				if items := findCalendarItemsInState(state); len(items) > 0 {
					entries = s.entriesFromScriptItems(items)
					return false
				}
			}
		}

		for _, candidate := range jsonArrayRegex.FindAllString(text, -1) {
			var items []map[string]interface{}
			if err := json.Unmarshal([]byte(candidate), &items); err != nil {
				continue
			}
			if len(items) == 0 {
				continue
			}
			if _, ok := items[0]["company"]; !ok {
				if _, ok := items[0]["issuer"]; !ok {
					continue
				}
			}
			entries = s.entriesFromScriptItems(items)
			return false
		}
		return true
	})

	return entries
}

// findCalendarItemsInState walks embedded page state looking for a list of
// objects that carries company and listing date keys.
func findCalendarItemsInState(payload interface{}) []map[string]interface{} {
	switch node := payload.(type) {
	case map[string]interface{}:
		for _, value := range node {
			if list, ok := value.([]interface{}); ok && len(list) > 0 {
				if first, ok := list[0].(map[string]interface{}); ok {
					keys := make(map[string]bool, len(first))
					for key := range first {
						keys[strings.ToLower(key)] = true
					}
					if keys["company"] || keys["listingdate"] {
						items := make([]map[string]interface{}, 0, len(list))
						for _, element := range list {
							if item, ok := element.(map[string]interface{}); ok {
								items = append(items, item)
							}
						}
						return items
					}
				}
			}
			if nested := findCalendarItemsInState(value); len(nested) > 0 {
				return nested
			}
		}
	case []interface{}:
		for _, element := range node {
			if nested := findCalendarItemsInState(element); len(nested) > 0 {
				return nested
			}
		}
	}
	return nil
}

func (s *CalendarService) entriesFromScriptItems(items []map[string]interface{}) []CalendarEntry {
	var entries []CalendarEntry
	for _, item := range items {
		companyName := s.utilityService.NormalizeTextContent(stringField(item, "company", "issuer", "applicant"))
		if companyName == "" {
			continue
		}
		bookStart, bookEnd := s.utilityService.ExtractDateRange(stringField(item, "bookbuilding", "offerPeriod"))
		listingDate := s.utilityService.ExtractFirstDate(stringField(item, "listingDate", "tradeDate"))

		entries = append(entries, CalendarEntry{
			Record: models.IPORecord{
				CompanyName:       companyName,
				StockCode:         s.utilityService.NormalizeStockCode(stringField(item, "stockCode", "code")),
				Industry:          s.utilityService.NormalizeTextContent(stringField(item, "industry", "sector")),
				BookbuildingStart: bookStart,
				BookbuildingEnd:   bookEnd,
				ListingDate:       listingDate,
			},
		})
	}
	return entries
}

func stringField(item map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		for itemKey, value := range item {
			if !strings.EqualFold(itemKey, key) {
				continue
			}
			if text, ok := value.(string); ok && text != "" {
				return text
			}
		}
	}
	return ""
}

// extractCalendarFromTables scans listing tables, locating columns by header
// text so the extractor survives column reordering.
func (s *CalendarService) extractCalendarFromTables(document *goquery.Document) []CalendarEntry {
	headerCandidates := map[string][]string{
		"company":      {"company", "issuer", "applicant", "company name"},
		"stock_code":   {"stock code", "code"},
		"bookbuilding": {"bookbuilding", "offer period", "book building"},
		"trade_date":   {"listing date", "trade date", "listing"},
		"industry":     {"industry", "sector"},
	}

	var entries []CalendarEntry
	document.Find("table").Each(func(_ int, table *goquery.Selection) {
		headers := table.Find("th").Map(func(_ int, cell *goquery.Selection) string {
			return strings.ToLower(s.utilityService.NormalizeTextContent(cell.Text()))
		})
		if len(headers) == 0 {
			return
		}
		hasListing := false
		for _, header := range headers {
			if strings.Contains(header, "listing") || strings.Contains(header, "trade") {
				hasListing = true
				break
			}
		}
		if !hasListing {
			return
		}

		columnMap := make(map[string]int)
		for field, candidates := range headerCandidates {
			for index, header := range headers {
				matched := false
				for _, candidate := range candidates {
					if strings.Contains(header, candidate) {
						matched = true
						break
					}
				}
				if matched {
					columnMap[field] = index
					break
				}
			}
		}

		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td")
			if cells.Length() == 0 {
				return
			}
			textAt := func(field string) string {
				index, ok := columnMap[field]
				if !ok || index >= cells.Length() {
					return ""
				}
				return s.utilityService.NormalizeTextContent(cells.Eq(index).Text())
			}

			companyIndex := columnMap["company"]
			companyName := textAt("company")
			if companyName == "" && cells.Length() > 0 {
				companyName = s.utilityService.NormalizeTextContent(cells.Eq(0).Text())
			}
			if companyName == "" {
				return
			}

			record := models.IPORecord{
				CompanyName: companyName,
				StockCode:   s.utilityService.NormalizeStockCode(textAt("stock_code")),
				Industry:    textAt("industry"),
			}
			record.BookbuildingStart, record.BookbuildingEnd = s.utilityService.ExtractDateRange(textAt("bookbuilding"))
			record.ListingDate = s.utilityService.ExtractFirstDate(textAt("trade_date"))

			if companyIndex < cells.Length() {
				if href, exists := cells.Eq(companyIndex).Find("a[href]").First().Attr("href"); exists {
					record.CompanyPageURL = &href
				}
			}

			entries = append(entries, CalendarEntry{Record: record})
		})
	})

	return entries
}

// fetchPage retrieves one HTML page with rate limiting and browser headers.
func (s *CalendarService) fetchPage(ctx context.Context, pageURL string) (string, error) {
	data, err := s.fetch(ctx, pageURL, "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// fetchBinary retrieves one binary document (xlsx reports and indices).
func (s *CalendarService) fetchBinary(ctx context.Context, documentURL string) ([]byte, error) {
	return s.fetch(ctx, documentURL, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet,*/*;q=0.8")
}

func (s *CalendarService) fetch(ctx context.Context, requestURL, acceptHeader string) ([]byte, error) {
	s.rateLimiter.EnforceRateLimit()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, shared.NewNetworkError("Calendar_Service", "fetch", err)
	}
	shared.SetBrowserLikeHeaders(request, acceptHeader)

	client := s.clientFactory.CreateOptimizedHTTPClient(s.configuration.RequestTimeout)
	response, err := shared.ExecuteHTTPRequestWithRetry(client, request, 2)
	if err != nil {
		return nil, shared.NewNetworkError("Calendar_Service", "fetch", err)
	}
	defer response.Body.Close()

	return shared.ReadBodyBounded(response.Body, s.configuration.MaxDocumentBytes)
}

func (s *CalendarService) resolveURL(base, href string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	resolved, err := baseURL.Parse(href)
	if err != nil {
		return href
	}
	return resolved.String()
}

// Metrics exposes the calendar source counters for reporting.
func (s *CalendarService) Metrics() *shared.ServiceMetrics {
	return s.serviceMetrics
}
