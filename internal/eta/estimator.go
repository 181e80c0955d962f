// Package eta predicts customer wait times from historical service
// durations. Predictions are advisory: every failure path degrades to a
// fixed default rather than surfacing an error to the admission flow.
package eta

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/NorhanGamalY/Queue-Management-System-Backend/internal/store"
)

const (
	lookbackWindow   = 30 * 24 * time.Hour
	minSamples       = 10
	minHourlySamples = 5

	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"

	MethodDefault    = "default"
	MethodHistorical = "historical"
	MethodHourly     = "hourly"
)

// History is the slice of the store the estimator reads from.
type History interface {
	ServiceDurationStats(ctx context.Context, businessID string, since time.Time) (store.DurationStats, error)
	ServiceDurationStatsByHour(ctx context.Context, businessID string, hour int, since time.Time) (store.DurationStats, error)
	WaitingCount(ctx context.Context, queueID string) (int, error)
}

// Cache holds per-customer estimates keyed by business and hour of day so
// repeated admissions in the same hour skip the aggregation queries. A nil
// Cache disables caching.
type Cache interface {
	Get(ctx context.Context, key string) (float64, bool, error)
	Set(ctx context.Context, key string, value float64, ttl time.Duration) error
}

type Estimate struct {
	Minutes            int     `json:"minutes"`
	PerCustomerMinutes float64 `json:"per_customer_minutes"`
	Confidence         string  `json:"confidence"`
	Method             string  `json:"method"`
}

type Config struct {
	DefaultMinutes         float64
	ServiceTypeMultipliers map[string]float64
	PeakHours              []int
	PeakMultiplier         float64
	WeekendMultiplier      float64
	CacheTTL               time.Duration
}

func DefaultConfig() Config {
	return Config{
		DefaultMinutes: 15,
		ServiceTypeMultipliers: map[string]float64{
			"consultation": 1.5,
			"express":      0.5,
		},
		PeakHours:         []int{12, 13, 17, 18},
		PeakMultiplier:    1.3,
		WeekendMultiplier: 0.8,
		CacheTTL:          5 * time.Minute,
	}
}

type Estimator struct {
	history History
	cache   Cache
	cfg     Config
	now     func() time.Time
}

func NewEstimator(history History, cache Cache, cfg Config) *Estimator {
	if cfg.DefaultMinutes <= 0 {
		cfg.DefaultMinutes = 15
	}
	if cfg.PeakMultiplier <= 0 {
		cfg.PeakMultiplier = 1
	}
	if cfg.WeekendMultiplier <= 0 {
		cfg.WeekendMultiplier = 1
	}
	return &Estimator{history: history, cache: cache, cfg: cfg, now: time.Now}
}

// Estimate returns the predicted total wait for a new admission: the queue's
// current waiting depth times the per-customer service time.
func (e *Estimator) Estimate(ctx context.Context, businessID, queueID, serviceType string) Estimate {
	now := e.now().UTC()
	perCustomer, confidence, method := e.perCustomerBase(ctx, businessID, now)
	perCustomer = e.applyMultipliers(perCustomer, serviceType, now)

	waiting, err := e.history.WaitingCount(ctx, queueID)
	if err != nil {
		log.Printf("eta: waiting count queue_id=%s err=%v", queueID, err)
		waiting = 0
	}
	total := float64(waiting+1) * perCustomer

	return Estimate{
		Minutes:            int(math.Ceil(total)),
		PerCustomerMinutes: perCustomer,
		Confidence:         confidence,
		Method:             method,
	}
}

// PerCustomer returns the adjusted per-customer service time, used when
// redistributing estimates over a queue's remaining waiting tickets.
func (e *Estimator) PerCustomer(ctx context.Context, businessID, serviceType string) float64 {
	now := e.now().UTC()
	base, _, _ := e.perCustomerBase(ctx, businessID, now)
	return e.applyMultipliers(base, serviceType, now)
}

func (e *Estimator) perCustomerBase(ctx context.Context, businessID string, now time.Time) (float64, string, string) {
	cacheKey := cacheKey(businessID, now.Hour())
	if e.cache != nil {
		if cached, ok, err := e.cache.Get(ctx, cacheKey); err == nil && ok {
			return cached, ConfidenceMedium, MethodHistorical
		}
	}

	since := now.Add(-lookbackWindow)
	overall, err := e.history.ServiceDurationStats(ctx, businessID, since)
	if err != nil {
		log.Printf("eta: duration stats business_id=%s err=%v", businessID, err)
		return e.cfg.DefaultMinutes, ConfidenceLow, MethodDefault
	}
	if overall.Samples < minSamples {
		return e.cfg.DefaultMinutes, ConfidenceLow, MethodDefault
	}

	base := overall.MeanMinutes
	confidence := ConfidenceMedium
	method := MethodHistorical

	hourly, err := e.history.ServiceDurationStatsByHour(ctx, businessID, now.Hour(), since)
	if err != nil {
		log.Printf("eta: hourly stats business_id=%s err=%v", businessID, err)
	} else if hourly.Samples >= minHourlySamples {
		base = hourly.MeanMinutes
		confidence = ConfidenceHigh
		method = MethodHourly
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, cacheKey, base, e.cfg.CacheTTL); err != nil {
			log.Printf("eta: cache set key=%s err=%v", cacheKey, err)
		}
	}
	return base, confidence, method
}

func (e *Estimator) applyMultipliers(minutes float64, serviceType string, now time.Time) float64 {
	if m, ok := e.cfg.ServiceTypeMultipliers[serviceType]; ok && m > 0 {
		minutes *= m
	}
	for _, h := range e.cfg.PeakHours {
		if now.Hour() == h {
			minutes *= e.cfg.PeakMultiplier
			break
		}
	}
	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		minutes *= e.cfg.WeekendMultiplier
	}
	return minutes
}

func cacheKey(businessID string, hour int) string {
	return fmt.Sprintf("eta:%s:%02d", businessID, hour)
}
