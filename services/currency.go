package services

import "github.com/sirupsen/logrus"

// CurrencyConverter is the single HKD to USD conversion point. The rate is
// injected from configuration; extraction code never touches it directly, so
// a rate change never requires touching pattern logic.
type CurrencyConverter struct {
	usdHKDRate float64
}

// NewCurrencyConverter creates a converter for the given HKD-per-USD rate.
// Non-positive rates fall back to the long-standing peg midpoint.
func NewCurrencyConverter(usdHKDRate float64) *CurrencyConverter {
	if usdHKDRate <= 0 {
		logrus.WithFields(logrus.Fields{
			"component": "CurrencyConverter",
			"rate":      usdHKDRate,
		}).Warn("Invalid FX rate supplied, using default 7.80")
		usdHKDRate = 7.80
	}
	return &CurrencyConverter{usdHKDRate: usdHKDRate}
}

// ToUSD converts an amount in the given currency to USD. Unknown currencies
// pass through unchanged, matching the best-effort posture of extraction.
func (c *CurrencyConverter) ToUSD(amount float64, currency string) float64 {
	switch currency {
	case "USD":
		return amount
	case "HKD":
		return amount / c.usdHKDRate
	}
	return amount
}

// Rate returns the configured HKD-per-USD rate.
func (c *CurrencyConverter) Rate() float64 {
	return c.usdHKDRate
}
