package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config carries all process-wide settings. Services receive the values they
// need through their constructors instead of reading the environment
// themselves, so the pipeline stays testable with injected fixtures.
type Config struct {
	ServerPort  string
	DatabaseURL string
	LogLevel    string

	// FXRateUSDHKD is HKD per USD. Every HKD amount crossing into a record
	// is divided by this rate in exactly one place (services.CurrencyConverter).
	FXRateUSDHKD float64

	OverridesPath      string
	SampleCalendarPath string

	CalendarURL        string
	RequestTimeout     time.Duration
	MaxPDFBytes        int64
	WorkerCount        int
	EnableHeadless     bool
	RefreshInterval    time.Duration
	FilingSearchWindow time.Duration
}

func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		logrus.Warn("Error loading .env file, using system environment variables")
	}

	return &Config{
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		FXRateUSDHKD:       getEnvFloat("FX_RATE_USDHKD", 7.80),
		OverridesPath:      getEnv("OVERRIDES_PATH", "data/overrides.json"),
		SampleCalendarPath: getEnv("SAMPLE_CALENDAR_PATH", "data/sample_ipo_calendar.json"),
		CalendarURL:        getEnv("HKEX_IPO_CALENDAR_URL", ""),
		RequestTimeout:     getEnvDuration("REQUEST_TIMEOUT_SECONDS", 25*time.Second),
		MaxPDFBytes:        getEnvInt64("MAX_PDF_BYTES", 12_000_000),
		WorkerCount:        getEnvInt("RESOLVE_WORKERS", 4),
		EnableHeadless:     getEnvBool("ENABLE_HEADLESS_FALLBACK", false),
		RefreshInterval:    time.Duration(getEnvInt("REFRESH_INTERVAL_HOURS", 8)) * time.Hour,
		FilingSearchWindow: time.Duration(getEnvInt("FILING_SEARCH_WINDOW_DAYS", 730)) * 24 * time.Hour,
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		logrus.Warnf("Invalid %s value: %s, using default %v", key, value, fallback)
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		logrus.Warnf("Invalid %s value: %s, using default %d", key, value, fallback)
		return fallback
	}
	return parsed
}

func getEnvInt64(key string, fallback int64) int64 {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		logrus.Warnf("Invalid %s value: %s, using default %d", key, value, fallback)
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logrus.Warnf("Invalid %s value: %s, using default %v", key, value, fallback)
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		logrus.Warnf("Invalid %s value: %s, using default %v", key, value, fallback)
		return fallback
	}
	return time.Duration(parsed) * time.Second
}
