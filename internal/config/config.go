package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	HTTPAddr string

	DBDriver string
	DBDSN    string

	AuthSecret string

	CORSOrigins []string

	// AtRiskThreshold is the weighted-average ratio below which a student
	// is flagged.
	AtRiskThreshold float64

	// RecalcMaxAttempts bounds retries of a failed recompute commit.
	RecalcMaxAttempts int

	// ImportMaxParallel bounds concurrent per-student recompute passes
	// after a bulk import.
	ImportMaxParallel int
}

func FromEnv() Config {
	return Config{
		HTTPAddr:          envOr("HTTP_ADDR", ":8080"),
		DBDriver:          envOr("DB_DRIVER", "sqlite"),
		DBDSN:             envOr("DB_DSN", ""),
		AuthSecret:        envOr("AUTH_HMAC_SECRET", "supersecret-dev-key"),
		CORSOrigins:       csvOr("CORS_ORIGINS", "http://localhost:3000"),
		AtRiskThreshold:   envFloat("AT_RISK_THRESHOLD", 0.60),
		RecalcMaxAttempts: envInt("RECALC_MAX_ATTEMPTS", 3),
		ImportMaxParallel: envInt("IMPORT_MAX_PARALLEL", 4),
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
