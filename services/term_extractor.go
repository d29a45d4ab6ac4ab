package services

import (
	"bytes"
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/sirupsen/logrus"

	"github.com/hkipo/hkex-ipo-backend/models"
	"github.com/hkipo/hkex-ipo-backend/shared"
)

// MoneyAmount is a parsed monetary figure before USD conversion.
type MoneyAmount struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// ExtractedTerms holds whatever deal terms the heuristics recovered from one
// filing. Every field is independently optional; partial success is the
// expected outcome, not an error.
type ExtractedTerms struct {
	OfferPrice        *MoneyAmount `json:"offer_price,omitempty"`
	GrossProceeds     *MoneyAmount `json:"gross_proceeds,omitempty"`
	MarketCap         *MoneyAmount `json:"market_cap,omitempty"`
	ValuationMultiple *string      `json:"valuation_multiple,omitempty"`
	BusinessModel     *string      `json:"business_model,omitempty"`
	FinancialTrend    *string      `json:"financial_trend,omitempty"`

	IPOValueUSD    *float64 `json:"ipo_value_usd,omitempty"`
	RaiseAmountUSD *float64 `json:"raise_amount_usd,omitempty"`
}

// IsEmpty reports whether no heuristic recovered anything.
func (t *ExtractedTerms) IsEmpty() bool {
	return t.OfferPrice == nil && t.GrossProceeds == nil && t.MarketCap == nil &&
		t.ValuationMultiple == nil && t.BusinessModel == nil && t.FinancialTrend == nil
}

// TermPattern is one heuristic in the extraction chain. Apply sets its field
// only when the field is still empty and the pattern finds a plausible match,
// so chain order decides precedence and new patterns can be appended without
// touching existing ones.
type TermPattern interface {
	FieldName() string
	Apply(text string, terms *ExtractedTerms) bool
}

// TermExtractorConfiguration bounds document downloads.
type TermExtractorConfiguration struct {
	RequestTimeout time.Duration
	MaxPDFBytes    int64
	MaxPages       int
}

// NewDefaultTermExtractorConfiguration returns production limits. Five pages
// cover the summary section where HKEX prospectuses state their terms.
func NewDefaultTermExtractorConfiguration() *TermExtractorConfiguration {
	return &TermExtractorConfiguration{
		RequestTimeout: 25 * time.Second,
		MaxPDFBytes:    12_000_000,
		MaxPages:       5,
	}
}

// TermExtractorService downloads a candidate filing and applies the heuristic
// chain to its text. Download and parse failures are absorbed into an empty
// result, preserving best-effort semantics end to end.
type TermExtractorService struct {
	configuration  *TermExtractorConfiguration
	clientFactory  *shared.HTTPClientFactory
	rateLimiter    *shared.HTTPRequestRateLimiter
	utilityService *UtilityService
	converter      *CurrencyConverter
	patterns       []TermPattern
	serviceMetrics *shared.ServiceMetrics
}

// NewTermExtractorService creates a term extractor with the default pattern
// chain. A nil configuration selects production limits.
func NewTermExtractorService(configuration *TermExtractorConfiguration, clientFactory *shared.HTTPClientFactory, rateLimiter *shared.HTTPRequestRateLimiter, utilityService *UtilityService, converter *CurrencyConverter) *TermExtractorService {
	if configuration == nil {
		configuration = NewDefaultTermExtractorConfiguration()
	}
	service := &TermExtractorService{
		configuration:  configuration,
		clientFactory:  clientFactory,
		rateLimiter:    rateLimiter,
		utilityService: utilityService,
		converter:      converter,
		serviceMetrics: shared.NewServiceMetrics("Term_Extractor_Service"),
	}
	service.patterns = DefaultTermPatterns(utilityService)
	return service
}

// ExtractTerms downloads the filing and runs the heuristic chain over its
// text. Only PDF documents are attempted; anything unreadable yields empty
// terms, never an error.
func (s *TermExtractorService) ExtractTerms(ctx context.Context, filing models.Filing) ExtractedTerms {
	logger := logrus.WithFields(logrus.Fields{
		"component": "TermExtractorService",
		"method":    "ExtractTerms",
		"url":       filing.URL,
	})
	startTime := time.Now()

	var terms ExtractedTerms
	if !strings.HasSuffix(strings.ToLower(filing.URL), ".pdf") {
		return terms
	}

	data, err := s.downloadDocument(ctx, filing.URL)
	if err != nil {
		shared.LogDegraded("Term_Extractor_Service", "download_document", err)
		s.serviceMetrics.RecordRequest(false, time.Since(startTime))
		return terms
	}

	text, err := s.extractText(data)
	if err != nil {
		shared.LogDegraded("Term_Extractor_Service", "extract_text", err)
		s.serviceMetrics.RecordRequest(false, time.Since(startTime))
		return terms
	}
	if text == "" {
		s.serviceMetrics.RecordRequest(false, time.Since(startTime))
		return terms
	}

	terms = s.ApplyPatterns(text)
	s.serviceMetrics.RecordRequest(!terms.IsEmpty(), time.Since(startTime))
	logger.WithFields(logrus.Fields{
		"has_terms": !terms.IsEmpty(),
		"duration":  time.Since(startTime),
	}).Debug("Term extraction finished")
	return terms
}

// ApplyPatterns runs the heuristic chain over already extracted text and
// derives the USD figures. Exposed separately so tests and alternate document
// sources can reuse the chain without a download.
func (s *TermExtractorService) ApplyPatterns(text string) ExtractedTerms {
	text = s.utilityService.NormalizeTextContent(text)

	var terms ExtractedTerms
	for _, pattern := range s.patterns {
		if pattern.Apply(text, &terms) {
			s.serviceMetrics.IncrementCounter("matched_" + pattern.FieldName())
		}
	}

	if terms.MarketCap != nil {
		converted := s.converter.ToUSD(terms.MarketCap.Amount, terms.MarketCap.Currency)
		terms.IPOValueUSD = &converted
	}
	if terms.GrossProceeds != nil {
		converted := s.converter.ToUSD(terms.GrossProceeds.Amount, terms.GrossProceeds.Currency)
		terms.RaiseAmountUSD = &converted
	}
	return terms
}

// downloadDocument fetches the filing body up to the configured byte limit.
func (s *TermExtractorService) downloadDocument(ctx context.Context, documentURL string) ([]byte, error) {
	s.rateLimiter.EnforceRateLimit()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, documentURL, nil)
	if err != nil {
		return nil, shared.NewNetworkError("Term_Extractor_Service", "download_document", err)
	}
	shared.SetBrowserLikeHeaders(request, "application/pdf,*/*;q=0.8")

	client := s.clientFactory.CreateOptimizedHTTPClient(s.configuration.RequestTimeout)
	response, err := shared.ExecuteHTTPRequestWithRetry(client, request, 2)
	if err != nil {
		return nil, shared.NewNetworkError("Term_Extractor_Service", "download_document", err)
	}
	defer response.Body.Close()

	return shared.ReadBodyBounded(response.Body, s.configuration.MaxPDFBytes)
}

// extractText pulls plain text from the leading pages of a PDF document.
// Individual unreadable pages are skipped.
func (s *TermExtractorService) extractText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", shared.NewParseError("Term_Extractor_Service", "extract_text", "unreadable PDF document", err)
	}

	pageLimit := reader.NumPage()
	if pageLimit > s.configuration.MaxPages {
		pageLimit = s.configuration.MaxPages
	}

	var builder strings.Builder
	for pageNumber := 1; pageNumber <= pageLimit; pageNumber++ {
		page := reader.Page(pageNumber)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		builder.WriteString(pageText)
		builder.WriteString(" ")
	}
	return s.utilityService.CleanDocumentText(builder.String()), nil
}

// Metrics exposes extraction counters for reporting.
func (s *TermExtractorService) Metrics() *shared.ServiceMetrics {
	return s.serviceMetrics
}

// --- pattern chain ---

// DefaultTermPatterns returns the production heuristic chain in precedence
// order.
func DefaultTermPatterns(utilityService *UtilityService) []TermPattern {
	return []TermPattern{
		&moneyPattern{
			field:   "gross_proceeds",
			pattern: regexp.MustCompile(`(?i)(?:gross proceeds|net proceeds|raised?(?: approximately)?)\D*?(HK\$|US\$|USD|HKD)?\s*([0-9.,]+)\s*(million|billion|mn|bn)?`),
			assign: func(terms *ExtractedTerms, amount MoneyAmount) bool {
				if terms.GrossProceeds != nil {
					return false
				}
				terms.GrossProceeds = &amount
				return true
			},
			utilityService: utilityService,
		},
		&moneyPattern{
			field:   "market_cap",
			pattern: regexp.MustCompile(`(?i)market capitali[sz]ation\D*?(HK\$|US\$|USD|HKD)?\s*([0-9.,]+)\s*(million|billion|mn|bn)?`),
			assign: func(terms *ExtractedTerms, amount MoneyAmount) bool {
				if terms.MarketCap != nil {
					return false
				}
				terms.MarketCap = &amount
				return true
			},
			utilityService: utilityService,
		},
		&moneyPattern{
			field:   "offer_price",
			pattern: regexp.MustCompile(`(?i)offer price(?: range)?\D*?(HK\$|US\$|USD|HKD)?\s*([0-9.,]+)()`),
			assign: func(terms *ExtractedTerms, amount MoneyAmount) bool {
				if terms.OfferPrice != nil {
					return false
				}
				terms.OfferPrice = &amount
				return true
			},
			utilityService: utilityService,
		},
		&valuationMultiplePattern{},
		&summaryPattern{
			field:          "business_model",
			keywords:       []string{"our business", "we are", "we provide"},
			maxSentences:   2,
			utilityService: utilityService,
			assign: func(terms *ExtractedTerms, summary string) bool {
				if terms.BusinessModel != nil {
					return false
				}
				terms.BusinessModel = &summary
				return true
			},
		},
		&summaryPattern{
			field:          "financial_trend",
			keywords:       []string{"revenue", "profit", "loss", "gross"},
			maxSentences:   2,
			utilityService: utilityService,
			assign: func(terms *ExtractedTerms, summary string) bool {
				if terms.FinancialTrend != nil {
					return false
				}
				terms.FinancialTrend = &summary
				return true
			},
		},
	}
}

// moneyPattern matches a currency amount near a keyword. The regex must
// expose three groups: currency, value, magnitude unit.
type moneyPattern struct {
	field          string
	pattern        *regexp.Regexp
	assign         func(*ExtractedTerms, MoneyAmount) bool
	utilityService *UtilityService
}

func (p *moneyPattern) FieldName() string { return p.field }

func (p *moneyPattern) Apply(text string, terms *ExtractedTerms) bool {
	groups := p.pattern.FindStringSubmatch(text)
	if groups == nil {
		return false
	}
	amount, currency, ok := p.utilityService.ParseMoney(groups[2], groups[1], groups[3])
	if !ok {
		return false
	}
	return p.assign(terms, MoneyAmount{Amount: amount, Currency: currency})
}

// valuationMultiplePattern matches price-to-earnings style multiples and
// renders them as "NNx".
type valuationMultiplePattern struct{}

var multipleRegex = regexp.MustCompile(`(?i)(?:P/E|price[- ]to[- ]earnings|valuation)[^\d]*([0-9]+(?:\.[0-9]+)?)\s*(?:x|times)?`)

func (p *valuationMultiplePattern) FieldName() string { return "valuation_multiple" }

func (p *valuationMultiplePattern) Apply(text string, terms *ExtractedTerms) bool {
	if terms.ValuationMultiple != nil {
		return false
	}
	groups := multipleRegex.FindStringSubmatch(text)
	if groups == nil {
		return false
	}
	multiple := groups[1] + "x"
	terms.ValuationMultiple = &multiple
	return true
}

// summaryPattern selects the first sentences containing any of its keywords.
// When keywords appear but no sentence boundary is found, the leading chunk
// of the document is used instead.
type summaryPattern struct {
	field          string
	keywords       []string
	maxSentences   int
	utilityService *UtilityService
	assign         func(*ExtractedTerms, string) bool
}

func (p *summaryPattern) FieldName() string { return p.field }

func (p *summaryPattern) Apply(text string, terms *ExtractedTerms) bool {
	lowered := strings.ToLower(text)

	var selected []string
	for _, sentence := range p.utilityService.SplitSentences(text) {
		if len(selected) >= p.maxSentences {
			break
		}
		sentenceLowered := strings.ToLower(sentence)
		for _, keyword := range p.keywords {
			if strings.Contains(sentenceLowered, keyword) {
				selected = append(selected, sentence)
				break
			}
		}
	}

	if len(selected) > 0 {
		return p.assign(terms, strings.Join(selected, ". "))
	}

	for _, keyword := range p.keywords {
		if strings.Contains(lowered, keyword) {
			chunk := text
			if len(chunk) > 400 {
				chunk = chunk[:400]
			}
			return p.assign(terms, strings.TrimSpace(chunk))
		}
	}
	return false
}
