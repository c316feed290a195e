// Package budget meters provider consumption against daily and monthly caps.
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/voicerag/internal/domain"
	"github.com/kailas-cloud/voicerag/internal/metrics"
)

// Action defines behavior when a meter is over its cap.
type Action string

const (
	// ActionWarn logs and lets the call through.
	ActionWarn Action = "warn"
	// ActionReject refuses the call with domain.ErrBudgetExceeded.
	ActionReject Action = "reject"
)

// Limits caps one meter per UTC day and month. Zero means unlimited.
type Limits struct {
	Daily   int64
	Monthly int64
}

// Store persists period counters shared across replicas.
type Store interface {
	Add(ctx context.Context, key string, n int64, ttl time.Duration) error
	Load(ctx context.Context, key string) (int64, error)
}

const (
	dailyTTL       = 48 * time.Hour
	monthlyTTL     = 62 * 24 * time.Hour
	persistTimeout = 2 * time.Second
)

type counter struct {
	limits  Limits
	daily   int64
	monthly int64
}

func (c *counter) exceeded() bool {
	return (c.limits.Daily > 0 && c.daily >= c.limits.Daily) ||
		(c.limits.Monthly > 0 && c.monthly >= c.limits.Monthly)
}

// remaining returns -1 for an unlimited period.
func remaining(limit, used int64) int64 {
	if limit <= 0 {
		return -1
	}
	return max(limit-used, 0)
}

// Ledger tracks every meter for the current UTC day and month.
// Check never leaves the process. Record updates memory, then writes behind to the store.
type Ledger struct {
	mu       sync.Mutex
	counters map[domain.Meter]*counter
	action   Action
	day      time.Time
	month    time.Time
	store    Store
	now      func() time.Time
	logger   *zap.Logger
}

// New creates a ledger. Meters missing from limits are tracked without a cap.
func New(limits map[domain.Meter]Limits, action Action, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		counters: make(map[domain.Meter]*counter, len(domain.Meters())),
		action:   action,
		now:      time.Now,
		logger:   logger,
	}
	for _, m := range domain.Meters() {
		l.counters[m] = &counter{limits: limits[m]}
	}
	l.day, l.month = periodStarts(l.now())
	return l
}

// WithStore attaches persistence and loads this period's counters from it.
// Load failures are logged; the ledger then starts from zero.
func (l *Ledger) WithStore(ctx context.Context, s Store) *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.store = s
	now := l.now().UTC()
	l.rollover(now)

	for _, m := range domain.Meters() {
		c := l.counters[m]
		if v, err := s.Load(ctx, dailyKey(m, now)); err == nil {
			c.daily = v
		} else {
			l.logger.Warn("Failed to load daily budget", zap.String("meter", string(m)), zap.Error(err))
		}
		if v, err := s.Load(ctx, monthlyKey(m, now)); err == nil {
			c.monthly = v
		} else {
			l.logger.Warn("Failed to load monthly budget", zap.String("meter", string(m)), zap.Error(err))
		}
		l.logger.Info("Budget loaded",
			zap.String("meter", string(m)),
			zap.Int64("daily_used", c.daily),
			zap.Int64("monthly_used", c.monthly),
		)
	}
	return l
}

// Check reports whether m may be spent. In-memory only.
func (l *Ledger) Check(_ context.Context, m domain.Meter) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollover(l.now().UTC())
	c, ok := l.counters[m]
	if !ok || !c.exceeded() {
		return nil
	}

	if l.action == ActionReject {
		metrics.BudgetRejectionsTotal.WithLabelValues(string(m)).Inc()
		return fmt.Errorf("%s: %w", m, domain.ErrBudgetExceeded)
	}

	l.logger.Warn("Budget exceeded",
		zap.String("meter", string(m)),
		zap.Int64("daily_used", c.daily),
		zap.Int64("daily_limit", c.limits.Daily),
		zap.Int64("monthly_used", c.monthly),
		zap.Int64("monthly_limit", c.limits.Monthly),
	)
	return nil
}

// Record charges n units to m. Non-positive n is ignored.
func (l *Ledger) Record(m domain.Meter, n int64) {
	if n <= 0 {
		return
	}

	l.mu.Lock()
	now := l.now().UTC()
	l.rollover(now)
	c, ok := l.counters[m]
	if !ok {
		l.mu.Unlock()
		return
	}
	c.daily += n
	c.monthly += n
	dailyLeft := remaining(c.limits.Daily, c.daily)
	monthlyLeft := remaining(c.limits.Monthly, c.monthly)
	store := l.store
	l.mu.Unlock()

	metrics.BudgetConsumedTotal.WithLabelValues(string(m)).Add(float64(n))
	metrics.BudgetRemaining.WithLabelValues(string(m), "daily").Set(float64(dailyLeft))
	metrics.BudgetRemaining.WithLabelValues(string(m), "monthly").Set(float64(monthlyLeft))

	if store == nil {
		return
	}

	// detached from the request so a cancelled query still gets charged
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := store.Add(ctx, dailyKey(m, now), n, dailyTTL); err != nil {
		l.logger.Warn("Failed to persist daily budget", zap.String("meter", string(m)), zap.Error(err))
	}
	if err := store.Add(ctx, monthlyKey(m, now), n, monthlyTTL); err != nil {
		l.logger.Warn("Failed to persist monthly budget", zap.String("meter", string(m)), zap.Error(err))
	}
}

// Daily returns the cap and consumption of m for the current UTC day.
func (l *Ledger) Daily(m domain.Meter) (limit, used int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollover(l.now().UTC())
	if c, ok := l.counters[m]; ok {
		return c.limits.Daily, c.daily
	}
	return 0, 0
}

// Monthly returns the cap and consumption of m for the current UTC month.
func (l *Ledger) Monthly(m domain.Meter) (limit, used int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollover(l.now().UTC())
	if c, ok := l.counters[m]; ok {
		return c.limits.Monthly, c.monthly
	}
	return 0, 0
}

// rollover zeroes counters whose period ended. Caller holds mu.
func (l *Ledger) rollover(now time.Time) {
	day, month := periodStarts(now)
	if day.After(l.day) {
		for _, c := range l.counters {
			c.daily = 0
		}
		l.day = day
	}
	if month.After(l.month) {
		for _, c := range l.counters {
			c.monthly = 0
		}
		l.month = month
	}
}

func periodStarts(t time.Time) (day, month time.Time) {
	t = t.UTC()
	day = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	month = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return day, month
}

func dailyKey(m domain.Meter, t time.Time) string {
	return fmt.Sprintf("%sbudget:%s:daily:%s", domain.KeyPrefix, m, t.Format(time.DateOnly))
}

func monthlyKey(m domain.Meter, t time.Time) string {
	return fmt.Sprintf("%sbudget:%s:monthly:%s", domain.KeyPrefix, m, t.Format("2006-01"))
}
