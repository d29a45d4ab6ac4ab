package models

import (
	"time"

	"github.com/google/uuid"
)

// IPOStatus represents the lifecycle stage of a listing, derived from its
// dates relative to the current day.
type IPOStatus string

const (
	StatusUpcoming     IPOStatus = "upcoming"
	StatusBookbuilding IPOStatus = "bookbuilding"
	StatusListed       IPOStatus = "listed"
	StatusWithdrawn    IPOStatus = "withdrawn"
)

// DataOrigin tags where a record's data ultimately came from.
type DataOrigin string

const (
	OriginLive     DataOrigin = "live"
	OriginOverride DataOrigin = "override"
	OriginSample   DataOrigin = "sample"
)

// Filing is a single document published for a listing (announcement,
// prospectus, application proof, ...). Immutable once created.
type Filing struct {
	Title         string     `json:"title"`
	URL           string     `json:"url"`
	PublishedDate *time.Time `json:"published_date,omitempty"`
	Source        string     `json:"source"`
}

// IPORecord is one company/listing event on the reconciled calendar.
// Every field beyond the company name is optional; consumers must render
// around absent values.
type IPORecord struct {
	ID            uuid.UUID `json:"id"`
	CompanyName   string    `json:"company_name"`
	NormalizedKey string    `json:"normalized_key"`
	StockCode     string    `json:"stock_code,omitempty"`
	Industry      string    `json:"industry,omitempty"`

	BookbuildingStart *time.Time `json:"bookbuilding_start,omitempty"`
	BookbuildingEnd   *time.Time `json:"bookbuilding_end,omitempty"`
	ListingDate       *time.Time `json:"listing_date,omitempty"`

	Status IPOStatus `json:"status"`

	TermSheetURL      *string  `json:"term_sheet_url,omitempty"`
	IPOValueUSD       *float64 `json:"ipo_value_usd,omitempty"`
	RaiseAmountUSD    *float64 `json:"raise_amount_usd,omitempty"`
	ValuationMultiple *string  `json:"valuation_multiple,omitempty"`
	BusinessModel     *string  `json:"business_model,omitempty"`
	FinancialTrend    *string  `json:"financial_trend,omitempty"`

	// Filings are ordered by search relevance; each record owns its list.
	Filings []Filing `json:"filings"`

	DataOrigin DataOrigin `json:"data_origin"`

	CompanyPageURL *string `json:"company_page_url,omitempty"`

	// FundsRaisedHKD carries the calendar-reported raise for records sourced
	// from the new-listing report, before any USD conversion.
	FundsRaisedHKD *float64 `json:"funds_raised_hkd,omitempty"`
}

// HasTerms reports whether term extraction (or an override) populated at
// least one deal-term field.
func (r *IPORecord) HasTerms() bool {
	return r.RaiseAmountUSD != nil || r.IPOValueUSD != nil ||
		r.ValuationMultiple != nil || r.BusinessModel != nil || r.FinancialTrend != nil
}
