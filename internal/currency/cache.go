// Package currency converts receipt totals using historical exchange rates.
//
// Rates are cached forever under the date that was asked for, even when the
// value came from an earlier day.
package currency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/zombor/trip-ledger/internal/kvstore"
	"github.com/zombor/trip-ledger/internal/receipt"
)

// Slot names in the key-value store
const (
	SlotHomeCurrency     = "homeCurrency"
	SlotRatesCache       = "ratesCache"
	SlotRatesLastUpdated = "ratesLastUpdated"
)

// DefaultFloorYear stops the fallback walk; no source has data before it
const DefaultFloorYear = 1999

// ErrUnsupportedCurrency is returned for a home currency outside the supported list
var ErrUnsupportedCurrency = errors.New("unsupported currency")

var (
	lookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trip_ledger_rate_lookups_total",
		Help: "Rate lookups by outcome",
	}, []string{"result"})

	fetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trip_ledger_rate_fetches_total",
		Help: "Calls to the rate source by outcome",
	}, []string{"result"})
)

// Cache memoizes rates in the key-value store
type Cache struct {
	source    RateSource
	rates     *kvstore.Slot[map[string]float64]
	updated   *kvstore.Slot[string]
	home      *kvstore.Slot[string]
	floorYear int
	group     singleflight.Group
	now       func() time.Time
}

// NewCache creates a cache backed by store. floorYear <= 0 uses DefaultFloorYear.
func NewCache(store *kvstore.Store, source RateSource, floorYear int) *Cache {
	if floorYear <= 0 {
		floorYear = DefaultFloorYear
	}
	return &Cache{
		source:    source,
		rates:     kvstore.NewSlot(store, SlotRatesCache, map[string]float64{}),
		updated:   kvstore.NewSlot(store, SlotRatesLastUpdated, ""),
		home:      kvstore.NewSlot(store, SlotHomeCurrency, ""),
		floorYear: floorYear,
		now:       time.Now,
	}
}

// Key is the cache key of a lookup
func Key(date receipt.Date, from, to string) string {
	return fmt.Sprintf("%s_%s_%s", date, from, to)
}

type lookup struct {
	rate float64
	ok   bool
}

// GetRate returns the rate from→to on date. The second result is false when
// no rate is available; fetch failures are never returned as errors.
func (c *Cache) GetRate(ctx context.Context, date receipt.Date, from, to string) (float64, bool) {
	from = strings.ToUpper(from)
	to = strings.ToUpper(to)
	if from == to {
		lookups.WithLabelValues("identity").Inc()
		return 1, true
	}

	key := Key(date, from, to)
	cached, err := c.rates.Get()
	if err != nil {
		slog.WarnContext(ctx, "Failed to read rate cache", "error", err)
	} else if rate, ok := cached[key]; ok {
		lookups.WithLabelValues("hit").Inc()
		return rate, true
	}
	lookups.WithLabelValues("miss").Inc()

	// shared by every caller waiting on key
	shared := context.WithoutCancel(ctx)
	v, _, _ := c.group.Do(key, func() (any, error) {
		rate, ok := c.walk(shared, date, from, to)
		if ok {
			c.store(shared, key, rate)
		}
		return lookup{rate: rate, ok: ok}, nil
	})
	res := v.(lookup)
	return res.rate, res.ok
}

// walk asks the source for date and then each earlier day until it answers
// or the floor year is passed
func (c *Cache) walk(ctx context.Context, date receipt.Date, from, to string) (float64, bool) {
	for d := date; ; {
		rate, err := c.source.Rate(ctx, d, from, to)
		if err == nil {
			fetches.WithLabelValues("ok").Inc()
			return rate, true
		}
		if !errors.Is(err, ErrNoData) {
			fetches.WithLabelValues("error").Inc()
			slog.WarnContext(ctx, "Failed to fetch exchange rate", "date", d, "from", from, "to", to, "error", err)
			return 0, false
		}
		fetches.WithLabelValues("no_data").Inc()

		prev := d.AddDays(-1)
		if prev.Year() < c.floorYear {
			slog.WarnContext(ctx, "No exchange rate before floor year", "date", date, "from", from, "to", to)
			return 0, false
		}
		slog.DebugContext(ctx, "No exchange rate data, trying previous day", "date", d)
		d = prev
	}
}

func (c *Cache) store(ctx context.Context, key string, rate float64) {
	_, err := c.rates.Update(func(prev map[string]float64) (map[string]float64, error) {
		if prev == nil {
			prev = map[string]float64{}
		}
		prev[key] = rate
		return prev, nil
	})
	if err != nil {
		slog.WarnContext(ctx, "Failed to cache exchange rate", "key", key, "error", err)
		return
	}
	if err := c.updated.Set(c.now().UTC().Format(time.RFC3339)); err != nil {
		slog.WarnContext(ctx, "Failed to stamp rate cache", "error", err)
	}
}

// LastUpdated returns when a rate was last cached
func (c *Cache) LastUpdated() (time.Time, bool, error) {
	raw, err := c.updated.Get()
	if err != nil {
		return time.Time{}, false, err
	}
	if raw == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing %s: %w", SlotRatesLastUpdated, err)
	}
	return t, true, nil
}

// HomeCurrency returns the preferred currency, empty if unset
func (c *Cache) HomeCurrency() (string, error) {
	return c.home.Get()
}

// SetHomeCurrency stores the preferred currency. An empty code clears it.
func (c *Cache) SetHomeCurrency(code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code != "" && !receipt.IsSupportedCurrency(code) {
		return fmt.Errorf("%q: %w", code, ErrUnsupportedCurrency)
	}
	return c.home.Set(code)
}
