package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PowerAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmcast_power_api_calls_total",
			Help: "Total NASA POWER API calls",
		},
		[]string{"status"},
	)

	PowerAPILatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "farmcast_power_api_latency_seconds",
			Help:    "NASA POWER API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RecordsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "farmcast_records_ingested_total",
			Help: "Total daily records parsed from upstream responses",
		},
	)

	RecordsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "farmcast_records_dropped_total",
			Help: "Daily records dropped for fill values or missing variables",
		},
	)

	BundleLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmcast_bundle_lookups_total",
			Help: "Predictor bundle lookups by the tier that served them",
		},
		[]string{"tier"}, // memory, store, trained
	)

	TrainingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "farmcast_training_duration_seconds",
			Help:    "Time to fit the four predictors for one bundle",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	ForecastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmcast_forecasts_total",
			Help: "Forecast advice requests by outcome",
		},
		[]string{"outcome"},
	)

	ForecastHorizonDays = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "farmcast_forecast_horizon_days",
			Help:    "Days simulated past the last observation",
			Buckets: []float64{0, 1, 7, 30, 90, 180, 365, 730, 1460, 2190},
		},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "farmcast_cache_evictions_total",
			Help: "Predictor bundles evicted from the in-memory cache",
		},
	)
)
