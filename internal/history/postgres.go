package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aqiguard/internal/contracts"
)

// DefaultTable is the observation table
const DefaultTable = "weather_data"

// PostgresStore reads daily observations from PostgreSQL
// ⭐ SSOT: the only SQL touching the observation table
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresStore creates a store over the default table
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return NewPostgresStoreWithTable(pool, DefaultTable)
}

// NewPostgresStoreWithTable creates a store over a custom table
func NewPostgresStoreWithTable(pool *pgxpool.Pool, table string) *PostgresStore {
	return &PostgresStore{pool: pool, table: pgx.Identifier(strings.Split(table, ".")).Sanitize()}
}

// EnsureSchema creates the observation table if it does not exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id       SERIAL PRIMARY KEY,
			area     VARCHAR(50) NOT NULL,
			date     DATE NOT NULL,
			max_temp REAL,
			min_temp REAL,
			weather  VARCHAR(100),
			wind     VARCHAR(100),
			aqi      INTEGER,
			UNIQUE (area, date)
		)`, s.table)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Read implements contracts.HistoryStore.
// Rows missing AQI, a temperature or a parsable wind level are skipped.
func (s *PostgresStore) Read(ctx context.Context, area string, start, end contracts.Date) ([]contracts.DailyRecord, error) {
	query := fmt.Sprintf(`
		SELECT area, date, max_temp::float8, min_temp::float8, weather, wind, aqi::int4
		FROM %s
		WHERE ($1 = '' OR area = $1)
		  AND ($2::date IS NULL OR date >= $2)
		  AND ($3::date IS NULL OR date <= $3)
		ORDER BY date, area`, s.table)

	rows, err := s.pool.Query(ctx, query, areaFilter(area), dateParam(start), dateParam(end))
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := make([]contracts.DailyRecord, 0)
	for rows.Next() {
		var (
			rowArea          string
			date             time.Time
			maxTemp, minTemp pgtype.Float8
			weather, wind    pgtype.Text
			aqi              pgtype.Int4
		)
		if err := rows.Scan(&rowArea, &date, &maxTemp, &minTemp, &weather, &wind, &aqi); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}

		if !aqi.Valid || !maxTemp.Valid || !minTemp.Valid {
			continue
		}
		speed, direction, ok := ParseWind(wind.String)
		if !ok {
			continue
		}

		records = append(records, contracts.DailyRecord{
			Date:          contracts.DateOf(date),
			Area:          rowArea,
			AQI:           float64(aqi.Int32),
			TempMax:       maxTemp.Float64,
			TempMin:       minTemp.Float64,
			WindSpeed:     speed,
			WindDirection: direction,
			Weather:       SimplifyWeather(weather.String),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	return records, nil
}

// LatestDate implements contracts.HistoryStore
func (s *PostgresStore) LatestDate(ctx context.Context, area string) (contracts.Date, error) {
	query := fmt.Sprintf(`SELECT MAX(date) FROM %s WHERE ($1 = '' OR area = $1) AND aqi IS NOT NULL`, s.table)

	var latest pgtype.Date
	if err := s.pool.QueryRow(ctx, query, areaFilter(area)).Scan(&latest); err != nil {
		return contracts.Date{}, fmt.Errorf("query latest date: %w", err)
	}
	if !latest.Valid {
		return contracts.Date{}, nil
	}
	return contracts.DateOf(latest.Time), nil
}

// SaveRecords upserts records by (area, date).
// Wind and weather are stored back in their text form.
func (s *PostgresStore) SaveRecords(ctx context.Context, records []contracts.DailyRecord) error {
	if len(records) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (area, date, max_temp, min_temp, weather, wind, aqi)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (area, date) DO UPDATE SET
			max_temp = EXCLUDED.max_temp,
			min_temp = EXCLUDED.min_temp,
			weather = EXCLUDED.weather,
			wind = EXCLUDED.wind,
			aqi = EXCLUDED.aqi`, s.table)

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(query,
			r.Area, r.Date.Time(), r.TempMax, r.TempMin,
			r.Weather, fmt.Sprintf("%s%d级", r.WindDirection, r.WindSpeed), int32(r.AQI))
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert record: %w", err)
		}
	}
	return nil
}

// areaFilter maps city-wide aliases to the empty filter
func areaFilter(area string) string {
	if contracts.IsCityWide(area) {
		return ""
	}
	return strings.TrimSpace(area)
}

func dateParam(d contracts.Date) pgtype.Date {
	if d.IsZero() {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: d.Time(), Valid: true}
}
