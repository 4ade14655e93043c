package quality

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/wonny/aqiguard/internal/contracts"
	"github.com/wonny/aqiguard/internal/stats"
	"github.com/wonny/aqiguard/pkg/metrics"
)

// topUpFactor bounds lookups per check to topUpFactor × SampleSize
const topUpFactor = 3

// Config holds one consistency check's parameters
type Config struct {
	Area          string        // empty or city-wide alias: every district
	SampleSize    int           // records to validate
	RecentDays    int           // window ending at the latest stored day; 0 means all records
	Limit         float64       // pass when error rate <= Limit
	VacuousPass   bool          // treat valid == 0 as pass instead of undetermined
	LookupTimeout time.Duration // per lookup; a timeout is an invalid sample
	Concurrency   int           // parallel lookups
	RatePerSec    float64       // lookup pacing; 0 disables
}

// DefaultConfig returns the per-call defaults of the standalone route
func DefaultConfig() Config {
	return Config{
		SampleSize:    5,
		RecentDays:    7,
		Limit:         0.05,
		LookupTimeout: 20 * time.Second,
		Concurrency:   4,
	}
}

// Checker compares randomly sampled stored records with the authoritative source
// ⭐ SSOT: stored-vs-source consistency is measured here only
type Checker struct {
	store   contracts.HistoryStore
	source  contracts.ExternalSource
	metrics *metrics.Manager
	log     zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Checker
type Option func(*Checker)

// WithRand fixes the sampling source (tests, reproducible audits)
func WithRand(rng *rand.Rand) Option {
	return func(c *Checker) {
		if rng != nil {
			c.rng = rng
		}
	}
}

// WithMetrics records lookup outcomes
func WithMetrics(m *metrics.Manager) Option {
	return func(c *Checker) {
		c.metrics = m
	}
}

// NewChecker creates a new consistency checker
func NewChecker(store contracts.HistoryStore, source contracts.ExternalSource, log zerolog.Logger, opts ...Option) *Checker {
	c := &Checker{
		store:  store,
		source: source,
		log:    log.With().Str("component", "quality.checker").Logger(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// lookupOutcome is written by exactly one lookup goroutine
type lookupOutcome struct {
	done      bool
	cancelled bool
	item      contracts.ConsistencyItem
}

// =============================================================================
// Check
// =============================================================================

// Check draws SampleSize recent records and validates each against the source.
// Invalid lookups are left out of the error rate. When fewer than SampleSize
// lookups are valid, more distinct records are drawn, up to 3 × SampleSize.
// On cancellation the report covers only the lookups that completed.
func (c *Checker) Check(ctx context.Context, config Config) (*contracts.ConsistencyReport, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	area := config.Area
	if contracts.IsCityWide(area) {
		area = ""
	}

	pool, err := c.samplingPool(ctx, area, config.RecentDays)
	if err != nil {
		return nil, err
	}

	order := c.shuffle(len(pool))
	maxAttempts := topUpFactor * config.SampleSize

	var limiter *rate.Limiter
	if config.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RatePerSec), 1)
	}

	report := &contracts.ConsistencyReport{Limit: config.Limit, Items: []contracts.ConsistencyItem{}}
	next := 0

	for next < len(order) && report.SampleSize < maxAttempts && report.Valid < config.SampleSize {
		if ctx.Err() != nil {
			break
		}

		want := config.SampleSize - report.Valid
		if rest := maxAttempts - report.SampleSize; want > rest {
			want = rest
		}
		if rest := len(order) - next; want > rest {
			want = rest
		}

		batch := make([]contracts.DailyRecord, want)
		for i := range batch {
			batch[i] = pool[order[next+i]]
		}
		next += want

		outcomes := c.lookupBatch(ctx, batch, config, limiter)
		report.SampleSize += len(batch)

		for _, o := range outcomes {
			if o.cancelled || !o.done {
				report.Cancelled++
				continue
			}
			report.Evaluated++
			report.Items = append(report.Items, o.item)
			if o.item.Valid {
				report.Valid++
				if o.item.OK {
					report.PassCount++
				} else {
					report.FailCount++
				}
			}
		}
	}

	c.finish(report, config)

	c.log.Info().
		Str("area", config.Area).
		Int("samples", report.SampleSize).
		Int("evaluated", report.Evaluated).
		Int("cancelled", report.Cancelled).
		Int("valid", report.Valid).
		Float64("error_rate", report.ErrorRate).
		Str("status", string(report.Status)).
		Msg("consistency check finished")

	return report, nil
}

// samplingPool returns the recent window, or every record when the window is empty
func (c *Checker) samplingPool(ctx context.Context, area string, recentDays int) ([]contracts.DailyRecord, error) {
	latest, err := c.store.LatestDate(ctx, area)
	if err != nil {
		return nil, err
	}
	if latest.IsZero() {
		return nil, &contracts.InsufficientDataError{Area: area, What: "stored records", Have: 0, Need: 1}
	}

	if recentDays > 0 {
		recent, err := c.store.Read(ctx, area, latest.AddDays(-(recentDays - 1)), latest)
		if err != nil {
			return nil, err
		}
		if len(recent) > 0 {
			return recent, nil
		}
		c.log.Warn().Str("area", area).Int("recent_days", recentDays).Msg("recent window empty, sampling all records")
	}

	return c.store.Read(ctx, area, contracts.Date{}, contracts.Date{})
}

func (c *Checker) shuffle(n int) []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng.Perm(n)
}

// lookupBatch runs the lookups of one batch with bounded concurrency.
// Lookup failures never fail the batch.
func (c *Checker) lookupBatch(ctx context.Context, batch []contracts.DailyRecord, config Config, limiter *rate.Limiter) []lookupOutcome {
	outcomes := make([]lookupOutcome, len(batch))

	var g errgroup.Group
	if config.Concurrency > 0 {
		g.SetLimit(config.Concurrency)
	}

	for i := range batch {
		if ctx.Err() != nil {
			outcomes[i].cancelled = true
			continue
		}
		i := i
		g.Go(func() error {
			outcomes[i] = c.lookupOne(ctx, batch[i], config.LookupTimeout, limiter)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (c *Checker) lookupOne(ctx context.Context, record contracts.DailyRecord, timeout time.Duration, limiter *rate.Limiter) lookupOutcome {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			c.metrics.RecordLookup(metrics.LookupCancelled)
			return lookupOutcome{cancelled: true}
		}
	}

	lookupCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	web, err := c.source.Lookup(lookupCtx, record.Area, record.Date)

	switch {
	case err == nil && web != nil:
		c.metrics.RecordLookup(metrics.LookupValid)
		return lookupOutcome{done: true, item: Compare(record, web)}

	case ctx.Err() != nil:
		// caller gave up; this lookup did not complete
		c.metrics.RecordLookup(metrics.LookupCancelled)
		return lookupOutcome{cancelled: true}

	case errors.Is(err, context.DeadlineExceeded):
		c.metrics.RecordLookup(metrics.LookupTimeout)
		item := Compare(record, nil)
		item.Reason = "timeout"
		c.log.Warn().Str("area", record.Area).Str("date", record.Date.String()).Msg("lookup timed out")
		return lookupOutcome{done: true, item: item}

	default:
		c.metrics.RecordLookup(metrics.LookupUnavailable)
		item := Compare(record, nil)
		item.Reason = unavailableReason(err)
		c.log.Warn().Err(err).Str("area", record.Area).Str("date", record.Date.String()).Msg("lookup unavailable")
		return lookupOutcome{done: true, item: item}
	}
}

// finish computes the error rate and the three-valued status
func (c *Checker) finish(report *contracts.ConsistencyReport, config Config) {
	rate, defined := stats.ErrorRate(report.PassCount, report.Valid)
	report.ErrorRate = rate

	switch {
	case !defined && config.VacuousPass:
		report.Status = contracts.ConsistencyPass
	case !defined:
		report.Status = contracts.ConsistencyUndetermined
	case rate <= config.Limit:
		report.Status = contracts.ConsistencyPass
	default:
		report.Status = contracts.ConsistencyFail
	}
	report.Pass = report.Status == contracts.ConsistencyPass
}

func validateConfig(config Config) error {
	if config.SampleSize < 1 {
		return contracts.Invalid("sample_size", "must be >= 1, got %d", config.SampleSize)
	}
	if config.RecentDays < 0 {
		return contracts.Invalid("recent_days", "must be >= 0, got %d", config.RecentDays)
	}
	if config.Limit < 0 || config.Limit > 1 {
		return contracts.Invalid("web_error_rate_limit", "must be within [0, 1], got %v", config.Limit)
	}
	return nil
}

func unavailableReason(err error) string {
	var lookupErr *contracts.LookupUnavailableError
	if errors.As(err, &lookupErr) && lookupErr.Reason != "" {
		return lookupErr.Reason
	}
	if err == nil {
		return "not found"
	}
	return err.Error()
}
