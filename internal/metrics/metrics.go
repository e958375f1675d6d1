// Package metrics provides Prometheus metrics for graphfs.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Remote API metrics
	apiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphfs_api_requests_total",
			Help: "Total number of Graph API requests by final status",
		},
		[]string{"method", "status"},
	)

	apiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graphfs_api_request_duration_seconds",
			Help:    "Graph API request duration in seconds, retries included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	apiRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphfs_api_retries_total",
			Help: "Total Graph API retries",
		},
		[]string{"reason"},
	)

	tokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphfs_token_refreshes_total",
			Help: "Total forced token refreshes after a 401",
		},
		[]string{"result"},
	)

	// Metadata cache metrics
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphfs_cache_lookups_total",
			Help: "Total metadata cache lookups",
		},
		[]string{"kind", "result"},
	)

	listingPagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "graphfs_listing_pages_total",
			Help: "Total listing pages fetched",
		},
	)

	// Content transfer metrics
	bytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "graphfs_bytes_downloaded_total",
			Help: "Total bytes read from drive content",
		},
	)

	bytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "graphfs_bytes_uploaded_total",
			Help: "Total bytes uploaded to the drive",
		},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphfs_uploads_total",
			Help: "Total uploads by terminal state",
		},
		[]string{"state"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAPIRequest records the outcome of one logical Graph API request.
// A status of 0 means the request never got a response.
func RecordAPIRequest(method string, status int, duration time.Duration) {
	apiRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	apiRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordRetry records a retry. reason is an HTTP status or "network".
func RecordRetry(reason string) {
	apiRetriesTotal.WithLabelValues(reason).Inc()
}

// RecordTokenRefresh records a forced token refresh.
func RecordTokenRefresh(success bool) {
	tokenRefreshesTotal.WithLabelValues(result(success)).Inc()
}

// RecordCacheLookup records a metadata cache lookup. kind is "record" or "listing".
func RecordCacheLookup(kind string, hit bool) {
	r := "miss"
	if hit {
		r = "hit"
	}

	cacheLookupsTotal.WithLabelValues(kind, r).Inc()
}

// RecordListingPage records one fetched listing page.
func RecordListingPage() {
	listingPagesTotal.Inc()
}

// RecordDownload records bytes read from drive content.
func RecordDownload(bytes int64) {
	bytesDownloaded.Add(float64(bytes))
}

// RecordUploadBytes records bytes accepted by the drive.
func RecordUploadBytes(bytes int64) {
	bytesUploaded.Add(float64(bytes))
}

// RecordUpload records an upload reaching a terminal state.
func RecordUpload(state string) {
	uploadsTotal.WithLabelValues(state).Inc()
}

func result(success bool) string {
	if success {
		return "success"
	}

	return "failure"
}
