package services

import (
	"encoding/json"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"

	"github.com/hkipo/hkex-ipo-backend/models"
	"github.com/hkipo/hkex-ipo-backend/shared"
)

// SearchEndpoint describes one HKEX news title-search endpoint. The servlet
// answers JSON to a POST; the xhtml page answers HTML to a GET. Both shapes
// are handled by the same candidate extraction.
type SearchEndpoint struct {
	Source string
	URL    string
	Method string
}

// FilingSearchConfiguration isolates the filings-repository page-structure
// assumptions.
type FilingSearchConfiguration struct {
	Endpoints      []SearchEndpoint
	NewsHostURL    string
	SearchWindow   time.Duration
	RequestTimeout time.Duration
}

// NewDefaultFilingSearchConfiguration returns the production HKEX news search
// endpoints with a two year lookback.
func NewDefaultFilingSearchConfiguration() *FilingSearchConfiguration {
	return &FilingSearchConfiguration{
		Endpoints: []SearchEndpoint{
			{Source: "servlet", URL: "https://www1.hkexnews.hk/search/titleSearchServlet.do", Method: "POST"},
			{Source: "xhtml", URL: "https://www1.hkexnews.hk/search/titlesearch.xhtml", Method: "GET"},
		},
		NewsHostURL:    "https://www1.hkexnews.hk",
		SearchWindow:   730 * 24 * time.Hour,
		RequestTimeout: 25 * time.Second,
	}
}

// FilingSearchService queries the exchange's filings repository for documents
// matching a company. An empty result is a normal outcome, not a failure;
// network and parse errors never escape this service.
type FilingSearchService struct {
	configuration  *FilingSearchConfiguration
	rateLimiter    *shared.HTTPRequestRateLimiter
	utilityService *UtilityService
	serviceMetrics *shared.ServiceMetrics
}

// NewFilingSearchService creates a filing search service. A nil configuration
// selects production endpoints.
func NewFilingSearchService(configuration *FilingSearchConfiguration, rateLimiter *shared.HTTPRequestRateLimiter, utilityService *UtilityService) *FilingSearchService {
	if configuration == nil {
		configuration = NewDefaultFilingSearchConfiguration()
	}
	return &FilingSearchService{
		configuration:  configuration,
		rateLimiter:    rateLimiter,
		utilityService: utilityService,
		serviceMetrics: shared.NewServiceMetrics("Filing_Search_Service"),
	}
}

// SearchFilings returns candidate filings for a company, most relevant first.
// Ties are broken by published date descending, undated candidates sort after
// all dated ones, and equal dates fall back to title order so the result is
// fully deterministic.
func (s *FilingSearchService) SearchFilings(companyName string) []models.Filing {
	logger := logrus.WithFields(logrus.Fields{
		"component": "FilingSearchService",
		"method":    "SearchFilings",
		"company":   companyName,
	})
	startTime := time.Now()

	if strings.TrimSpace(companyName) == "" {
		return nil
	}

	normalizedKey := s.utilityService.NormalizeCompanyKey(companyName)
	params := s.buildSearchParams(companyName)

	for _, endpoint := range s.configuration.Endpoints {
		filings, err := s.queryEndpoint(endpoint, params)
		if err != nil {
			shared.LogDegraded("Filing_Search_Service", "query_"+endpoint.Source, err)
			continue
		}
		filings = s.filterByCompany(filings, normalizedKey)
		if len(filings) > 0 {
			filings = SortFilings(DedupeFilings(filings))
			s.serviceMetrics.RecordRequest(true, time.Since(startTime))
			logger.WithFields(logrus.Fields{
				"source":       endpoint.Source,
				"filing_count": len(filings),
			}).Info("Filing search yielded candidates")
			return filings
		}
	}

	s.serviceMetrics.RecordRequest(false, time.Since(startTime))
	logger.Debug("Filing search yielded no candidates")
	return nil
}

// buildSearchParams constructs the title-search form values HKEX expects,
// windowed back from today.
func (s *FilingSearchService) buildSearchParams(companyName string) map[string]string {
	today := time.Now()
	start := today.Add(-s.configuration.SearchWindow)
	return map[string]string{
		"lang":           "EN",
		"searchType":     "SEHK",
		"searchMethod":   "TITLE",
		"market":         "SEHK",
		"title":          companyName,
		"searchFromDate": start.Format("20060102"),
		"searchToDate":   today.Format("20060102"),
		"sortDir":        "0",
		"sortByOptions":  "DateTime",
	}
}

// queryEndpoint runs one search request through a colly collector and parses
// whichever response shape comes back.
func (s *FilingSearchService) queryEndpoint(endpoint SearchEndpoint, params map[string]string) ([]models.Filing, error) {
	s.rateLimiter.EnforceRateLimit()

	collector := colly.NewCollector()
	collector.SetRequestTimeout(s.configuration.RequestTimeout)

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})

	var filings []models.Filing
	var collectorError error

	collector.OnResponse(func(r *colly.Response) {
		body := strings.TrimSpace(string(r.Body))
		if body == "" {
			return
		}
		if strings.HasPrefix(body, "{") || strings.HasPrefix(body, "[") {
			var payload interface{}
			if err := json.Unmarshal([]byte(body), &payload); err == nil {
				filings = s.extractFilingsFromJSON(payload, endpoint.Source)
				if len(filings) > 0 {
					return
				}
			}
		}
		filings = s.extractFilingsFromHTML(body, endpoint.Source)
	})

	collector.OnError(func(r *colly.Response, err error) {
		collectorError = shared.NewNetworkError("Filing_Search_Service", "query_"+endpoint.Source, err)
	})

	var visitError error
	if endpoint.Method == "POST" {
		visitError = collector.Post(endpoint.URL, params)
	} else {
		visitError = collector.Visit(appendQuery(endpoint.URL, params))
	}
	collector.Wait()

	if collectorError != nil {
		return nil, collectorError
	}
	if visitError != nil {
		return nil, shared.NewNetworkError("Filing_Search_Service", "query_"+endpoint.Source, visitError)
	}
	return filings, nil
}

// appendQuery builds the GET form of a search request. Values.Encode handles
// escaping, so company names carrying "&" or "%" survive the round trip.
func appendQuery(endpointURL string, params map[string]string) string {
	values := url.Values{}
	for key, value := range params {
		values.Set(key, value)
	}
	separator := "?"
	if strings.Contains(endpointURL, "?") {
		separator = "&"
	}
	return endpointURL + separator + values.Encode()
}

// extractFilingsFromJSON walks an arbitrary JSON payload collecting anything
// that looks like a document node. HKEX has shuffled key names between
// deployments, so several spellings are accepted.
func (s *FilingSearchService) extractFilingsFromJSON(payload interface{}, source string) []models.Filing {
	var filings []models.Filing
	stack := []interface{}{payload}

	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch typed := node.(type) {
		case map[string]interface{}:
			title := pickFirst(typed, "title", "docTitle", "headline", "documentTitle")
			documentURL := pickFirst(typed, "url", "docUrl", "fileLink", "documentUrl")
			published := pickFirst(typed, "publishedDate", "date", "publishDate")
			if title != "" && documentURL != "" {
				filings = append(filings, models.Filing{
					Title:         s.utilityService.NormalizeTextContent(title),
					URL:           s.normalizeNewsURL(documentURL),
					PublishedDate: s.utilityService.ExtractFirstDate(published),
					Source:        source,
				})
			}
			for _, value := range typed {
				stack = append(stack, value)
			}
		case []interface{}:
			stack = append(stack, typed...)
		}
	}

	return DedupeFilings(filings)
}

func pickFirst(node map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if value, ok := node[key]; ok {
			if text, ok := value.(string); ok && text != "" {
				return text
			}
		}
	}
	return ""
}

// extractFilingsFromHTML collects document links from a search result page.
// The published date is sniffed from the link's surrounding text.
func (s *FilingSearchService) extractFilingsFromHTML(html, source string) []models.Filing {
	document, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		shared.LogDegraded("Filing_Search_Service", "parse_search_html",
			shared.NewParseError("Filing_Search_Service", "parse_search_html", "unreadable search result page", err))
		return nil
	}

	var filings []models.Filing
	document.Find("a[href]").Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		if !isFilingLink(href) {
			return
		}
		title := s.utilityService.NormalizeTextContent(link.Text())
		parentText := s.utilityService.NormalizeTextContent(link.Parent().Text())
		if title == "" {
			title = parentText
		}
		filings = append(filings, models.Filing{
			Title:         title,
			URL:           s.normalizeNewsURL(href),
			PublishedDate: s.utilityService.ExtractFirstDate(parentText),
			Source:        source,
		})
	})

	return DedupeFilings(filings)
}

func isFilingLink(href string) bool {
	lowered := strings.ToLower(href)
	return strings.HasSuffix(lowered, ".pdf") ||
		strings.HasSuffix(lowered, ".htm") ||
		strings.HasSuffix(lowered, ".html")
}

func (s *FilingSearchService) normalizeNewsURL(documentURL string) string {
	if strings.HasPrefix(documentURL, "http") {
		return documentURL
	}
	if strings.HasPrefix(documentURL, "/") {
		return s.configuration.NewsHostURL + documentURL
	}
	return s.configuration.NewsHostURL + "/" + documentURL
}

// filterByCompany keeps candidates whose title matches the normalized company
// key, trying whole-key containment first and falling back to token overlap
// for names the search endpoint abbreviates.
func (s *FilingSearchService) filterByCompany(filings []models.Filing, normalizedKey string) []models.Filing {
	if normalizedKey == "" {
		return filings
	}

	var matched []models.Filing
	for _, filing := range filings {
		titleKey := s.utilityService.NormalizeCompanyKey(filing.Title)
		if strings.Contains(titleKey, normalizedKey) {
			matched = append(matched, filing)
		}
	}
	if len(matched) > 0 {
		return matched
	}

	// Loose pass: a long-enough shared prefix still counts as a match.
	prefix := normalizedKey
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	if len(prefix) < 4 {
		return nil
	}
	for _, filing := range filings {
		titleKey := s.utilityService.NormalizeCompanyKey(filing.Title)
		if strings.Contains(titleKey, prefix) {
			matched = append(matched, filing)
		}
	}
	return matched
}

// DedupeFilings removes candidates sharing a URL, keeping first occurrence.
func DedupeFilings(filings []models.Filing) []models.Filing {
	seen := make(map[string]bool, len(filings))
	unique := make([]models.Filing, 0, len(filings))
	for _, filing := range filings {
		if seen[filing.URL] {
			continue
		}
		seen[filing.URL] = true
		unique = append(unique, filing)
	}
	return unique
}

// SortFilings orders candidates by published date descending with undated
// entries last, then by title, then URL. Stable output regardless of the
// order responses arrived in.
func SortFilings(filings []models.Filing) []models.Filing {
	sorted := make([]models.Filing, len(filings))
	copy(sorted, filings)

	sort.SliceStable(sorted, func(i, j int) bool {
		left, right := sorted[i], sorted[j]
		switch {
		case left.PublishedDate != nil && right.PublishedDate == nil:
			return true
		case left.PublishedDate == nil && right.PublishedDate != nil:
			return false
		case left.PublishedDate != nil && right.PublishedDate != nil:
			if !left.PublishedDate.Equal(*right.PublishedDate) {
				return left.PublishedDate.After(*right.PublishedDate)
			}
		}
		if left.Title != right.Title {
			return left.Title < right.Title
		}
		return left.URL < right.URL
	})
	return sorted
}

// Metrics exposes the filing search counters for reporting.
func (s *FilingSearchService) Metrics() *shared.ServiceMetrics {
	return s.serviceMetrics
}
