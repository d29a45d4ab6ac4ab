package services

import (
	"encoding/json"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/hkipo/hkex-ipo-backend/models"
	"github.com/hkipo/hkex-ipo-backend/shared"
)

// OverrideFiling is one manually supplied filing entry.
type OverrideFiling struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	PublishedDate string `json:"published_date,omitempty"`
	Source        string `json:"source,omitempty"`
}

// Override is a partial-field correction for one record. Nil fields were not
// present in the file and leave the fetched value untouched; a present
// filings list wholly replaces the live-fetched one. Unknown keys in the file
// are ignored for forward compatibility.
type Override struct {
	TermSheetURL      *string          `json:"term_sheet_url,omitempty"`
	IPOValueUSD       *float64         `json:"ipo_value_usd,omitempty"`
	RaiseAmountUSD    *float64         `json:"raise_amount_usd,omitempty"`
	ValuationMultiple *string          `json:"valuation_multiple,omitempty"`
	BusinessModel     *string          `json:"business_model,omitempty"`
	FinancialTrend    *string          `json:"financial_trend,omitempty"`
	Status            *string          `json:"status,omitempty"`
	Filings           []OverrideFiling `json:"filings,omitempty"`
}

// OverrideService loads manual corrections keyed by normalized company key
// (or normalized stock code) and applies them as a field-level overlay.
// Loaded once per refresh; read-only afterwards.
type OverrideService struct {
	overridesPath  string
	utilityService *UtilityService
	overrides      map[string]Override
}

// NewOverrideService creates an override store reading from the given path.
func NewOverrideService(overridesPath string, utilityService *UtilityService) *OverrideService {
	return &OverrideService{
		overridesPath:  overridesPath,
		utilityService: utilityService,
		overrides:      make(map[string]Override),
	}
}

// Load reads the overrides file. A missing file is an empty override set; a
// structurally invalid file is the one fatal configuration error in the
// pipeline and must surface at startup.
func (s *OverrideService) Load() error {
	logger := logrus.WithFields(logrus.Fields{
		"component": "OverrideService",
		"method":    "Load",
		"path":      s.overridesPath,
	})

	data, err := os.ReadFile(s.overridesPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("Overrides file not found, using empty override set")
			s.overrides = make(map[string]Override)
			return nil
		}
		return shared.NewConfigError("load_overrides", "overrides file unreadable", err)
	}

	var parsed map[string]Override
	if err := json.Unmarshal(data, &parsed); err != nil {
		return shared.NewConfigError("load_overrides", "overrides file is malformed", err)
	}

	s.overrides = parsed
	logger.WithField("override_count", len(parsed)).Info("Loaded manual overrides")
	return nil
}

// SetOverrides replaces the loaded set. Used by tests and fixtures.
func (s *OverrideService) SetOverrides(overrides map[string]Override) {
	if overrides == nil {
		overrides = make(map[string]Override)
	}
	s.overrides = overrides
}

// Lookup finds an override by any of the supplied keys, in order.
func (s *OverrideService) Lookup(keys ...string) (Override, bool) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if override, ok := s.overrides[key]; ok {
			return override, true
		}
	}
	return Override{}, false
}

// Apply overlays override fields onto a record. Fields present in the
// override replace the fetched value; absent fields stay as they were.
// Returns whether any field was applied.
func (s *OverrideService) Apply(record *models.IPORecord, override Override) bool {
	applied := false

	if override.TermSheetURL != nil {
		record.TermSheetURL = override.TermSheetURL
		applied = true
	}
	if override.IPOValueUSD != nil {
		record.IPOValueUSD = override.IPOValueUSD
		applied = true
	}
	if override.RaiseAmountUSD != nil {
		record.RaiseAmountUSD = override.RaiseAmountUSD
		applied = true
	}
	if override.ValuationMultiple != nil {
		record.ValuationMultiple = override.ValuationMultiple
		applied = true
	}
	if override.BusinessModel != nil {
		record.BusinessModel = override.BusinessModel
		applied = true
	}
	if override.FinancialTrend != nil {
		record.FinancialTrend = override.FinancialTrend
		applied = true
	}
	if override.Status != nil {
		record.Status = models.IPOStatus(*override.Status)
		applied = true
	}
	if override.Filings != nil {
		// Replacement, not merge: a manual filings list is authoritative.
		filings := make([]models.Filing, 0, len(override.Filings))
		for _, entry := range override.Filings {
			source := entry.Source
			if source == "" {
				source = "manual"
			}
			filings = append(filings, models.Filing{
				Title:         entry.Title,
				URL:           entry.URL,
				PublishedDate: s.utilityService.ParseDate(entry.PublishedDate),
				Source:        source,
			})
		}
		record.Filings = filings
		applied = true
	}

	return applied
}

// Count returns the number of loaded overrides.
func (s *OverrideService) Count() int {
	return len(s.overrides)
}
