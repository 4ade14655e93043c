package tianqi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wonny/aqiguard/internal/contracts"
	"github.com/wonny/aqiguard/pkg/httputil"
	"github.com/wonny/aqiguard/pkg/logger"
	"github.com/wonny/aqiguard/pkg/redis"
)

// DefaultBaseURL is the authoritative history site
const DefaultBaseURL = "https://tianqi.2345.com"

// AreaCodes maps Guangzhou districts to their history page station codes
var AreaCodes = map[string]string{
	"从化区": "70077",
	"增城区": "60368",
	"花都区": "60024",
	"南沙区": "72028",
	"番禺区": "60025",
	"白云区": "72026",
	"黄埔区": "72027",
	"天河区": "72025",
	"海珠区": "72024",
	"荔湾区": "72022",
	"越秀区": "72023",
}

// Client reads daily observations from the tianqi.2345.com history pages
// ⭐ SSOT: the only reader of the authoritative source
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	baseURL    string
	codes      map[string]string

	cache    *redis.Cache
	cacheTTL time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL overrides the site root
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithCache caches parsed month pages
func WithCache(cache *redis.Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = cache
		c.cacheTTL = ttl
	}
}

// WithAreaCodes replaces the district to station code table
func WithAreaCodes(codes map[string]string) Option {
	return func(c *Client) {
		c.codes = codes
	}
}

// NewClient creates a new history page client
func NewClient(httpClient *httputil.Client, log *logger.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient: httpClient,
		logger:     log,
		baseURL:    DefaultBaseURL,
		codes:      AreaCodes,
		cacheTTL:   redis.TTLDaily,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup implements contracts.ExternalSource.
// The month page of date is tried first, then the default (recent) page.
func (c *Client) Lookup(ctx context.Context, area string, date contracts.Date) (*contracts.DailyRecord, error) {
	code, ok := c.codes[area]
	if !ok {
		return nil, c.unavailable(area, date, "unknown area", nil)
	}

	rows, err := c.monthRows(ctx, code, date.Year(), int(date.Month()))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.WithFields(map[string]interface{}{
			"area": area,
			"date": date.String(),
		}).WithError(err).Debug("month page failed, trying default page")

		rows, err = c.fetchRows(ctx, c.defaultURL(code))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, c.unavailable(area, date, "page unavailable", err)
		}
	}

	for _, row := range rows {
		if row.Date != date {
			continue
		}
		if !row.complete() {
			return nil, c.unavailable(area, date, "incomplete row", nil)
		}
		return row.record(area), nil
	}

	return nil, c.unavailable(area, date, "date not on page", nil)
}

// FetchMonth returns the parsed month page of a district
func (c *Client) FetchMonth(ctx context.Context, area string, year, month int) ([]Row, error) {
	code, ok := c.codes[area]
	if !ok {
		return nil, fmt.Errorf("unknown area %q", area)
	}
	return c.monthRows(ctx, code, year, month)
}

func (c *Client) monthRows(ctx context.Context, code string, year, month int) ([]Row, error) {
	fetch := func() (interface{}, error) {
		rows, err := c.fetchRows(ctx, c.monthURL(code, year, month))
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, errors.New("history table not found")
		}
		return rows, nil
	}

	if c.cache == nil {
		v, err := fetch()
		if err != nil {
			return nil, err
		}
		return v.([]Row), nil
	}

	var rows []Row
	if _, err := c.cache.GetOrSet(ctx, redis.MonthPageKey(code, year, month), &rows, c.ttlFor(year, month), fetch); err != nil {
		return nil, err
	}
	return rows, nil
}

// ttlFor keeps the current month short-lived since it still grows daily
func (c *Client) ttlFor(year, month int) time.Duration {
	today := contracts.Today()
	if today.Year() == year && int(today.Month()) == month {
		return redis.TTLMedium
	}
	return c.cacheTTL
}

func (c *Client) fetchRows(ctx context.Context, url string) ([]Row, error) {
	body, err := c.httpClient.GetBody(ctx, url)
	if err != nil {
		return nil, err
	}
	return ParseHistoryPage(string(body))
}

func (c *Client) monthURL(code string, year, month int) string {
	return fmt.Sprintf("%s/wea_history/%s.htm?y=%d&m=%d", c.baseURL, code, year, month)
}

func (c *Client) defaultURL(code string) string {
	return fmt.Sprintf("%s/wea_history/%s.htm", c.baseURL, code)
}

func (c *Client) unavailable(area string, date contracts.Date, reason string, err error) error {
	return &contracts.LookupUnavailableError{Area: area, Date: date, Reason: reason, Err: err}
}
