package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/lox/farmcast/internal/httputil"
	"github.com/lox/farmcast/internal/metrics"
	"github.com/lox/farmcast/internal/models"
)

const (
	DefaultPowerURL = "https://power.larc.nasa.gov/api/temporal/daily/point"

	// Source is the ingest_runs source name for POWER fetches.
	Source   = "nasa_power"
	Endpoint = "temporal/daily/point"

	defaultFillValue = -999.0
)

// POWER parameter names for each variable.
var powerParameters = map[models.Variable]string{
	models.Temp:     "T2M",
	models.Humidity: "RH2M",
	models.Wind:     "WS10M",
	models.Precip:   "PRECTOTCORR",
}

// ErrUpstreamDataUnavailable wraps every failure to obtain usable history
// from the upstream API.
var ErrUpstreamDataUnavailable = errors.New("upstream data unavailable")

// FetchResult describes one upstream call for the ingest_runs audit log.
type FetchResult struct {
	HTTPStatus   int
	ResponseSize int
	RecordCount  int
	Dropped      int
	Flagged      int
	Body         []byte
	Error        error
}

type PowerClient struct {
	baseURL    string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker
	newBackOff func() backoff.BackOff
}

func NewPowerClient() *PowerClient {
	return &PowerClient{
		baseURL: DefaultPowerURL,
		client:  httputil.NewClient(),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "nasa-power",
			Interval: time.Minute,
			Timeout:  30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
		}),
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = 2 * time.Minute
			return bo
		},
	}
}

// SetBaseURL overrides the API endpoint for testing.
func (p *PowerClient) SetBaseURL(u string) {
	p.baseURL = u
}

// SetHTTPClient overrides the HTTP client for testing.
func (p *PowerClient) SetHTTPClient(c *http.Client) {
	p.client = c
}

// SetBackOff overrides the retry policy.
func (p *PowerClient) SetBackOff(f func() backoff.BackOff) {
	p.newBackOff = f
}

type powerResponse struct {
	Header struct {
		FillValue *float64 `json:"fill_value"`
	} `json:"header"`
	Properties struct {
		Parameter map[string]map[string]float64 `json:"parameter"`
	} `json:"properties"`
	Messages []string `json:"messages"`
}

// FetchDaily returns the daily series for a point between start and end
// inclusive. Days carrying the fill value or missing any variable are dropped.
func (p *PowerClient) FetchDaily(ctx context.Context, lat, lon float64, start, end time.Time) (models.Series, *FetchResult, error) {
	result := &FetchResult{}

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', 4, 64))
	q.Set("start", models.FormatCompact(start))
	q.Set("end", models.FormatCompact(end))
	q.Set("parameters", "T2M,RH2M,WS10M,PRECTOTCORR")
	q.Set("community", "ag")
	q.Set("format", "JSON")
	reqURL := p.baseURL + "?" + q.Encode()

	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, p.fetch(ctx, reqURL, result)
	})
	if err != nil {
		result.Error = err
		return nil, result, fmt.Errorf("%w: fetch %s: %w", ErrUpstreamDataUnavailable, models.Location{Latitude: lat, Longitude: lon}, err)
	}

	series, dropped, err := parsePower(result.Body)
	if err != nil {
		result.Error = err
		return nil, result, fmt.Errorf("%w: %w", ErrUpstreamDataUnavailable, err)
	}
	result.RecordCount = len(series)
	result.Dropped = dropped
	metrics.RecordsIngested.Add(float64(len(series)))
	metrics.RecordsDropped.Add(float64(dropped))

	for _, r := range series {
		if flags := ValidateRecord(r); len(flags) > 0 {
			result.Flagged++
			log.Printf("ingest: %s %s flagged %s", models.Location{Latitude: lat, Longitude: lon}, models.FormatDate(r.Date), QualityFlagsToJSON(flags))
		}
	}

	return series, result, nil
}

func (p *PowerClient) fetch(ctx context.Context, reqURL string, result *FetchResult) error {
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}

		started := time.Now()
		resp, err := p.client.Do(req)
		metrics.PowerAPILatency.Observe(time.Since(started).Seconds())
		if err != nil {
			metrics.PowerAPICallsTotal.WithLabelValues("error").Inc()
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("fetch daily: %w", err)
		}
		defer resp.Body.Close()

		result.HTTPStatus = resp.StatusCode
		metrics.PowerAPICallsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		result.ResponseSize = len(body)

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("fetch daily: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("fetch daily: status %d: %s", resp.StatusCode, truncate(string(body), 200)))
		}

		result.Body = body
		return nil
	}

	return backoff.Retry(operation, backoff.WithContext(p.newBackOff(), ctx))
}

func parsePower(body []byte) (models.Series, int, error) {
	var data powerResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, 0, fmt.Errorf("unmarshal: %w", err)
	}
	if len(data.Properties.Parameter) == 0 {
		return nil, 0, fmt.Errorf("no parameters in response: %v", data.Messages)
	}

	fill := defaultFillValue
	if data.Header.FillValue != nil {
		fill = *data.Header.FillValue
	}

	// Union of dates across all parameters so a day missing one variable is counted as dropped.
	dates := make(map[string]struct{})
	for _, values := range data.Properties.Parameter {
		for d := range values {
			dates[d] = struct{}{}
		}
	}

	var series models.Series
	dropped := 0
	for d := range dates {
		date, err := models.ParseCompact(d)
		if err != nil {
			dropped++
			continue
		}
		rec := models.DailyRecord{Date: date}
		ok := true
		for _, v := range models.Variables {
			x, present := data.Properties.Parameter[powerParameters[v]][d]
			if !present || x == fill {
				ok = false
				break
			}
			rec.Set(v, x)
		}
		if !ok {
			dropped++
			continue
		}
		series = append(series, rec)
	}

	sort.Slice(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })
	return series, dropped, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
