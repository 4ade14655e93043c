package quality

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aqiguard/internal/contracts"
	"github.com/wonny/aqiguard/internal/history"
	"github.com/wonny/aqiguard/pkg/metrics"
)

// fakeSource answers lookups from a table; missing keys are unavailable
type fakeSource struct {
	mu      sync.Mutex
	answers map[string]contracts.DailyRecord
	calls   int32
	block   bool // wait for ctx instead of answering
	onCall  func(n int32)
}

func newFakeSource() *fakeSource {
	return &fakeSource{answers: make(map[string]contracts.DailyRecord)}
}

func key(area string, date contracts.Date) string {
	return area + "|" + date.String()
}

func (f *fakeSource) set(r contracts.DailyRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers[key(r.Area, r.Date)] = r
}

func (f *fakeSource) Lookup(ctx context.Context, area string, date contracts.Date) (*contracts.DailyRecord, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if f.onCall != nil {
		f.onCall(n)
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.answers[key(area, date)]
	if !ok {
		return nil, &contracts.LookupUnavailableError{Area: area, Date: date, Reason: "row not found"}
	}
	return &r, nil
}

func days(area string, start string, n int, aqi float64) []contracts.DailyRecord {
	first := contracts.MustParseDate(start)
	out := make([]contracts.DailyRecord, n)
	for i := range out {
		out[i] = contracts.DailyRecord{Area: area, Date: first.AddDays(i), AQI: aqi, TempMax: 30.2, TempMin: 20.0, WindSpeed: 2}
	}
	return out
}

func newTestChecker(store contracts.HistoryStore, source contracts.ExternalSource, opts ...Option) *Checker {
	opts = append([]Option{WithRand(rand.New(rand.NewSource(1)))}, opts...)
	return NewChecker(store, source, zerolog.Nop(), opts...)
}

func TestCheckAllMatching(t *testing.T) {
	records := days("天河区", "2024-05-01", 10, 42)
	store := history.NewMemoryStore(records...)
	source := newFakeSource()
	for _, r := range records {
		web := r
		web.TempMax = 30.6
		web.TempMin = 20.1
		source.set(web)
	}

	cfg := DefaultConfig()
	cfg.Area = "天河区"

	report, err := newTestChecker(store, source).Check(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 5, report.SampleSize)
	assert.Equal(t, 5, report.Valid)
	assert.Equal(t, 5, report.PassCount)
	assert.Equal(t, 0.0, report.ErrorRate)
	assert.Equal(t, contracts.ConsistencyPass, report.Status)
	assert.True(t, report.Pass)

	// sampled from the 7 most recent days only
	earliest := contracts.MustParseDate("2024-05-04")
	for _, item := range report.Items {
		assert.False(t, item.Date.Before(earliest), "sampled %s outside the recent window", item.Date)
	}
}

func TestCheckMismatchFails(t *testing.T) {
	records := days("天河区", "2024-05-01", 4, 42)
	store := history.NewMemoryStore(records...)
	source := newFakeSource()
	for i, r := range records {
		web := r
		if i == 0 {
			web.AQI = 43
		}
		source.set(web)
	}

	cfg := DefaultConfig()
	cfg.Area = "天河区"
	cfg.SampleSize = 4

	report, err := newTestChecker(store, source).Check(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Valid)
	assert.Equal(t, 1, report.FailCount)
	assert.Equal(t, 0.25, report.ErrorRate)
	assert.Equal(t, contracts.ConsistencyFail, report.Status)
	assert.False(t, report.Pass)
}

func TestCheckAllUnavailableIsUndetermined(t *testing.T) {
	store := history.NewMemoryStore(days("天河区", "2024-05-01", 10, 42)...)
	source := newFakeSource()

	cfg := DefaultConfig()
	cfg.Area = "天河区"

	report, err := newTestChecker(store, source).Check(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Valid)
	assert.Equal(t, 0.0, report.ErrorRate)
	assert.Equal(t, contracts.ConsistencyUndetermined, report.Status)
	assert.False(t, report.Pass)
	for _, item := range report.Items {
		assert.False(t, item.Valid)
		assert.Equal(t, "row not found", item.Reason)
	}

	cfg.VacuousPass = true
	report, err = newTestChecker(store, source).Check(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, contracts.ConsistencyPass, report.Status)
	assert.True(t, report.Pass)
}

func TestCheckTopUpIsBounded(t *testing.T) {
	records := days("天河区", "2024-05-01", 30, 42)
	store := history.NewMemoryStore(records...)
	source := newFakeSource()
	// only two records can be confirmed
	source.set(records[29])
	source.set(records[28])

	cfg := DefaultConfig()
	cfg.Area = "天河区"
	cfg.SampleSize = 5
	cfg.RecentDays = 0

	report, err := newTestChecker(store, source).Check(context.Background(), cfg)
	require.NoError(t, err)

	assert.LessOrEqual(t, report.SampleSize, 15)
	assert.Equal(t, int(atomic.LoadInt32(&source.calls)), report.SampleSize)
	assert.LessOrEqual(t, report.Valid, 2)
	assert.Len(t, report.Items, report.SampleSize)

	seen := make(map[string]bool)
	for _, item := range report.Items {
		k := key(item.Area, item.Date)
		assert.False(t, seen[k], "record %s drawn twice", k)
		seen[k] = true
	}
}

func TestCheckTopUpReachesSampleSize(t *testing.T) {
	records := days("天河区", "2024-05-01", 7, 42)
	store := history.NewMemoryStore(records...)
	source := newFakeSource()
	for _, r := range records[:5] {
		source.set(r)
	}

	cfg := DefaultConfig()
	cfg.Area = "天河区"
	cfg.SampleSize = 5

	report, err := newTestChecker(store, source).Check(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 5, report.Valid)
	assert.Equal(t, contracts.ConsistencyPass, report.Status)
	assert.LessOrEqual(t, report.SampleSize, 7)
}

func TestCheckRecentWindowFallsBackToAll(t *testing.T) {
	// a stale window: latest day exists but the store's Read of the window is empty
	store := &windowlessStore{MemoryStore: history.NewMemoryStore(days("天河区", "2024-01-01", 3, 42)...)}
	source := newFakeSource()

	cfg := DefaultConfig()
	cfg.Area = "天河区"
	cfg.SampleSize = 2

	report, err := newTestChecker(store, source).Check(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, store.windowReads)
	assert.Greater(t, report.SampleSize, 0)
}

// windowlessStore returns nothing for bounded reads
type windowlessStore struct {
	*history.MemoryStore
	windowReads int
}

func (s *windowlessStore) Read(ctx context.Context, area string, start, end contracts.Date) ([]contracts.DailyRecord, error) {
	s.windowReads++
	if !start.IsZero() {
		return nil, nil
	}
	return s.MemoryStore.Read(ctx, area, start, end)
}

func TestCheckCityWideSamplesEveryDistrict(t *testing.T) {
	records := append(days("天河区", "2024-05-01", 3, 42), days("海珠区", "2024-05-01", 3, 50)...)
	store := history.NewMemoryStore(records...)
	source := newFakeSource()
	for _, r := range records {
		source.set(r)
	}

	cfg := DefaultConfig()
	cfg.Area = "广州"
	cfg.SampleSize = 6

	report, err := newTestChecker(store, source).Check(context.Background(), cfg)
	require.NoError(t, err)

	areas := make(map[string]int)
	for _, item := range report.Items {
		areas[item.Area]++
	}
	assert.Equal(t, 3, areas["天河区"])
	assert.Equal(t, 3, areas["海珠区"])
	assert.Equal(t, contracts.ConsistencyPass, report.Status)
}

func TestCheckLookupTimeoutIsInvalid(t *testing.T) {
	store := history.NewMemoryStore(days("天河区", "2024-05-01", 2, 42)...)
	source := newFakeSource()
	source.block = true

	cfg := DefaultConfig()
	cfg.Area = "天河区"
	cfg.SampleSize = 2
	cfg.LookupTimeout = 20 * time.Millisecond

	report, err := newTestChecker(store, source).Check(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Evaluated)
	assert.Equal(t, 0, report.Valid)
	assert.Equal(t, contracts.ConsistencyUndetermined, report.Status)
	for _, item := range report.Items {
		assert.Equal(t, "timeout", item.Reason)
	}
}

func TestCheckCancellationKeepsCompletedLookups(t *testing.T) {
	records := days("天河区", "2024-05-01", 7, 42)
	store := history.NewMemoryStore(records...)
	source := newFakeSource()
	for _, r := range records {
		source.set(r)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source.onCall = func(n int32) {
		if n == 2 {
			cancel()
		}
	}

	cfg := DefaultConfig()
	cfg.Area = "天河区"
	cfg.SampleSize = 5
	cfg.Concurrency = 1

	report, err := newTestChecker(store, source).Check(ctx, cfg)
	require.NoError(t, err)

	assert.Equal(t, report.SampleSize, report.Evaluated+report.Cancelled)
	assert.Greater(t, report.Cancelled, 0)
	assert.Len(t, report.Items, report.Evaluated)
	assert.Equal(t, report.Valid, report.PassCount+report.FailCount)
}

func TestCheckEmptyStore(t *testing.T) {
	_, err := newTestChecker(history.NewMemoryStore(), newFakeSource()).Check(context.Background(), DefaultConfig())

	var insufficient *contracts.InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.ErrorIs(t, err, contracts.ErrInsufficientData)
}

func TestCheckInvalidConfig(t *testing.T) {
	checker := newTestChecker(history.NewMemoryStore(), newFakeSource())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero sample size", func(c *Config) { c.SampleSize = 0 }},
		{"negative recent days", func(c *Config) { c.RecentDays = -1 }},
		{"limit above one", func(c *Config) { c.Limit = 1.5 }},
		{"negative limit", func(c *Config) { c.Limit = -0.1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := checker.Check(context.Background(), cfg)
			assert.ErrorIs(t, err, contracts.ErrInvalidInput)
		})
	}
}

func TestCheckRecordsLookupMetrics(t *testing.T) {
	records := days("天河区", "2024-05-01", 2, 42)
	store := history.NewMemoryStore(records...)
	source := newFakeSource()
	source.set(records[0])

	m := metrics.NewManager()
	cfg := DefaultConfig()
	cfg.Area = "天河区"
	cfg.SampleSize = 2

	_, err := newTestChecker(store, source, WithMetrics(m)).Check(context.Background(), cfg)
	require.NoError(t, err)

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	counts := make(map[string]float64)
	for _, mf := range families {
		if mf.GetName() != "aqiguard_external_lookups_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "outcome" {
					counts[label.GetValue()] = metric.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, 1.0, counts[metrics.LookupValid], fmt.Sprint(counts))
	assert.Equal(t, 1.0, counts[metrics.LookupUnavailable], fmt.Sprint(counts))
}
