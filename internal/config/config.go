package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	Port           string
	DrugAPIBaseURL string
	DefaultTaxRate decimal.Decimal
	SessionTTL     time.Duration
	AllowedOrigins []string
}

func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8081"),
		DrugAPIBaseURL: getEnv("DRUG_API_BASE_URL", "http://localhost:8000"),
		DefaultTaxRate: getRate("DEFAULT_TAX_RATE", "0.10"),
		SessionTTL:     time.Duration(getInt("SESSION_TTL_MINUTES", 120)) * time.Minute,
		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:5173"), ","),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getRate(key, fallback string) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		v = fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil || d.IsNegative() {
		log.Printf("invalid %s=%q, using %s", key, v, fallback)
		d, _ = decimal.NewFromString(fallback)
	}
	return d
}
