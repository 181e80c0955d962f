package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseURL string
	RedisAddr   string

	DefaultEstimateMinutes int
	PeakHours              []int
	PeakMultiplier         float64
	WeekendMultiplier      float64
	EstimateCacheTTL       time.Duration

	RateLimitPerMinute         int
	RateLimitBurst             int
	BusinessRateLimitPerMinute int
	BusinessRateLimitBurst     int
}

func Load() Config {
	// Local development only; in deployment the environment is authoritative.
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:                       port,
		DatabaseURL:                os.Getenv("DB_DSN"),
		RedisAddr:                  os.Getenv("REDIS_ADDR"),
		DefaultEstimateMinutes:     readInt("ETA_DEFAULT_MINUTES", 15),
		PeakHours:                  readHours("ETA_PEAK_HOURS", []int{12, 13, 17, 18}),
		PeakMultiplier:             readFloat("ETA_PEAK_MULTIPLIER", 1.3),
		WeekendMultiplier:          readFloat("ETA_WEEKEND_MULTIPLIER", 0.8),
		EstimateCacheTTL:           readDurationSeconds("ETA_CACHE_TTL_SECONDS", 300),
		RateLimitPerMinute:         readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:             readInt("RATE_LIMIT_BURST", 30),
		BusinessRateLimitPerMinute: readInt("BUSINESS_RATE_LIMIT_PER_MIN", 600),
		BusinessRateLimitBurst:     readInt("BUSINESS_RATE_LIMIT_BURST", 120),
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

func readHours(key string, fallback []int) []int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	var hours []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		value, err := strconv.Atoi(part)
		if err != nil || value < 0 || value > 23 {
			return fallback
		}
		hours = append(hours, value)
	}
	if len(hours) == 0 {
		return fallback
	}
	return hours
}
