package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	v1 "github.com/peanutgallery/catalog/internal/api/v1"
	"github.com/peanutgallery/catalog/internal/core/catalog"
	"github.com/peanutgallery/catalog/internal/metrics"
)

const (
	DefaultBaseURL = "https://api.themoviedb.org/3"

	discoverPath     = "/discover/movie"
	maxErrorBodySize = 512
)

// Config configures the TMDB client.
type Config struct {
	BaseURL string

	// AccessToken is a v4 read access token sent as a bearer token.
	// APIKey is the v3 key sent as the api_key parameter. AccessToken wins
	// when both are set.
	AccessToken string
	APIKey      string

	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxPages          int
}

type discoverPage struct {
	Page         int               `json:"page"`
	Results      []json.RawMessage `json:"results"`
	TotalPages   int               `json:"total_pages"`
	TotalResults int               `json:"total_results"`
}

// statusError is a non-2xx provider response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("unexpected status %d", e.code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

// TMDBClient implements Fetcher against the TMDB discover endpoint.
// Requests are rate limited and go through a circuit breaker that opens after
// consecutive failures.
type TMDBClient struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	cb         *gobreaker.CircuitBreaker[*discoverPage]
}

// NewTMDBClient creates a client. Zero-valued limits fall back to defaults.
func NewTMDBClient(cfg Config) *TMDBClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 4
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 5
	}

	metrics.ProviderCircuitState.Set(0)

	cb := gobreaker.NewCircuitBreaker[*discoverPage](gobreaker.Settings{
		Name:        "tmdb-discover",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("[Provider] Circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
			metrics.ProviderCircuitState.Set(float64(to))
		},
	})

	return &TMDBClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		cb:         cb,
	}
}

// Fetch pages through discover results for the release-date range, up to
// MaxPages pages.
func (c *TMDBClient) Fetch(ctx context.Context, start, end v1.Date) ([]RawRecord, error) {
	var records []RawRecord

	for page := 1; page <= c.cfg.MaxPages; page++ {
		p, err := c.fetchPage(ctx, start, end, page)
		if err != nil {
			return nil, catalog.Provider(fmt.Sprintf("discover %s..%s page %d", start, end, page), err)
		}

		for _, r := range p.Results {
			records = append(records, RawRecord(r))
		}

		if page >= p.TotalPages {
			break
		}
		if page == c.cfg.MaxPages {
			metrics.ProviderFetchesTruncated.Inc()
			slog.Warn("[Provider] Page limit reached, results truncated",
				"start_date", start.String(),
				"end_date", end.String(),
				"max_pages", c.cfg.MaxPages,
				"total_pages", p.TotalPages)
		}
	}

	slog.Debug("[Provider] Fetched records",
		"start_date", start.String(),
		"end_date", end.String(),
		"records", len(records))
	return records, nil
}

func (c *TMDBClient) fetchPage(ctx context.Context, start, end v1.Date, page int) (*discoverPage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		metrics.ProviderRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	p, err := c.cb.Execute(func() (*discoverPage, error) {
		return c.doRequest(ctx, start, end, page)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.ProviderRequests.WithLabelValues("rejected").Inc()
		return nil, err
	case err != nil:
		metrics.ProviderRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.ProviderRequests.WithLabelValues("ok").Inc()
	return p, nil
}

func (c *TMDBClient) doRequest(ctx context.Context, start, end v1.Date, page int) (*discoverPage, error) {
	query := url.Values{}
	query.Set("primary_release_date.gte", start.String())
	query.Set("primary_release_date.lte", end.String())
	query.Set("sort_by", "popularity.desc")
	query.Set("include_adult", "false")
	query.Set("page", strconv.Itoa(page))
	if c.cfg.AccessToken == "" && c.cfg.APIKey != "" {
		query.Set("api_key", c.cfg.APIKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+discoverPath+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	var p discoverPage
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &p, nil
}

var _ Fetcher = (*TMDBClient)(nil)
