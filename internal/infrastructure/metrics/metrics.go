package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "landgrid_http_requests_total",
		Help: "Total number of API requests",
	}, []string{"method", "route", "status"})
	HTTPRequestDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "landgrid_http_request_duration_ms",
		Help:    "API request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	}, []string{"route"})
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "landgrid_rate_limited_total",
		Help: "Total number of requests rejected by the rate limiter",
	})
	PurchasesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "landgrid_purchases_total",
		Help: "Purchase attempts by outcome",
	}, []string{"outcome"})
	TreasuresRedeemedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "landgrid_treasures_redeemed_total",
		Help: "Total treasures redeemed by purchases",
	})
	IndexRebuildsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "landgrid_index_rebuilds_total",
		Help: "Ownership index rebuilds applied",
	})
	IndexStaleTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "landgrid_index_stale_total",
		Help: "Refreshes that failed and kept the last good snapshot",
	})
	IndexDiscardedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "landgrid_index_discarded_total",
		Help: "Fetch results discarded because a newer snapshot was already applied",
	})
	IntegrityViolationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "landgrid_integrity_violations_total",
		Help: "Cells found in more than one property during index rebuild",
	})
	CellsOwned = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "landgrid_cells_owned",
		Help: "Number of owned cells in the current ownership index",
	})
	GeocodeCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "landgrid_geocode_cache_hits_total",
		Help: "Reverse geocode cache hits",
	})
	GeocodeCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "landgrid_geocode_cache_misses_total",
		Help: "Reverse geocode cache misses",
	})
	EventClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "landgrid_event_clients",
		Help: "Connected change feed clients",
	})
)

func init() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDurationMs)
	prometheus.MustRegister(RateLimitedTotal)
	prometheus.MustRegister(PurchasesTotal)
	prometheus.MustRegister(TreasuresRedeemedTotal)
	prometheus.MustRegister(IndexRebuildsTotal)
	prometheus.MustRegister(IndexStaleTotal)
	prometheus.MustRegister(IndexDiscardedTotal)
	prometheus.MustRegister(IntegrityViolationsTotal)
	prometheus.MustRegister(CellsOwned)
	prometheus.MustRegister(GeocodeCacheHitsTotal)
	prometheus.MustRegister(GeocodeCacheMissesTotal)
	prometheus.MustRegister(EventClients)
}

// Handler /metrics に登録するPrometheusハンドラー
func Handler() http.Handler { return promhttp.Handler() }
