package contracts

import (
	"context"
)

// HistoryStore reads stored daily records
// ⭐ SSOT: the engine's only read path to stored observations
type HistoryStore interface {
	// Read returns records of area within [start, end] ordered by (date, area).
	// A city-wide area returns every district. Zero start/end leave that side open.
	// An empty result is valid.
	Read(ctx context.Context, area string, start, end Date) ([]DailyRecord, error)

	// LatestDate returns the most recent stored date for area (zero if none)
	LatestDate(ctx context.Context, area string) (Date, error)
}

// ExternalSource re-reads the authoritative value of one (area, date).
// Failures are reported as *LookupUnavailableError.
type ExternalSource interface {
	Lookup(ctx context.Context, area string, date Date) (*DailyRecord, error)
}
