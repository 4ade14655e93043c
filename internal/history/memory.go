package history

import (
	"context"
	"sort"
	"sync"

	"github.com/wonny/aqiguard/internal/contracts"
)

type recordKey struct {
	area string
	date contracts.Date
}

// MemoryStore is an in-process HistoryStore
type MemoryStore struct {
	mu      sync.RWMutex
	records map[recordKey]contracts.DailyRecord
}

// NewMemoryStore creates a store holding records (later duplicates win)
func NewMemoryStore(records ...contracts.DailyRecord) *MemoryStore {
	s := &MemoryStore{records: make(map[recordKey]contracts.DailyRecord)}
	s.Put(records...)
	return s
}

// Put inserts or replaces records by (area, date)
func (s *MemoryStore) Put(records ...contracts.DailyRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		s.records[recordKey{area: r.Area, date: r.Date}] = r
	}
}

// Read implements contracts.HistoryStore
func (s *MemoryStore) Read(ctx context.Context, area string, start, end contracts.Date) ([]contracts.DailyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := contracts.IsCityWide(area)
	out := make([]contracts.DailyRecord, 0)
	for k, r := range s.records {
		if !all && k.area != area {
			continue
		}
		if !start.IsZero() && r.Date.Before(start) {
			continue
		}
		if !end.IsZero() && r.Date.After(end) {
			continue
		}
		out = append(out, r)
	}

	sortRecords(out)
	return out, nil
}

// LatestDate implements contracts.HistoryStore
func (s *MemoryStore) LatestDate(ctx context.Context, area string) (contracts.Date, error) {
	if err := ctx.Err(); err != nil {
		return contracts.Date{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := contracts.IsCityWide(area)
	var latest contracts.Date
	for k := range s.records {
		if (all || k.area == area) && k.date.After(latest) {
			latest = k.date
		}
	}
	return latest, nil
}

func sortRecords(records []contracts.DailyRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Date != records[j].Date {
			return records[i].Date.Before(records[j].Date)
		}
		return records[i].Area < records[j].Area
	})
}
