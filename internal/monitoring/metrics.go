package monitoring

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "prospector"

// Job kinds used as the "kind" label.
const (
	KindDiscovery  = "discovery"
	KindCrawl      = "crawl"
	KindExtraction = "extraction"
)

var (
	// JobsClaimed counts jobs handed to a worker.
	JobsClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_claimed_total",
		Help:      "Jobs claimed by a worker, by kind.",
	}, []string{"kind"})

	// JobsFinished counts terminal transitions.
	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_finished_total",
		Help:      "Jobs that reached a terminal status, by kind and status.",
	}, []string{"kind", "status"})

	// PagesFetched counts crawl fetch attempts by outcome: saved, duplicate,
	// missing, excluded or error.
	PagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "crawl_pages_total",
		Help:      "Crawl page fetches by fetcher and outcome.",
	}, []string{"fetcher", "outcome"})

	// RegistryCalls counts registry pages requested.
	RegistryCalls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registry_calls_total",
		Help:      "Registry API pages requested.",
	})

	// RegistryResponses counts registry HTTP responses by status code; "0"
	// is a transport error.
	RegistryResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registry_responses_total",
		Help:      "Registry API responses by status code.",
	}, []string{"code"})

	// PlaceCalls counts place search and detail requests.
	PlaceCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "place_calls_total",
		Help:      "Place API requests by endpoint.",
	}, []string{"endpoint"})

	// ContactsFound counts contacts linked to a business.
	ContactsFound = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "contacts_found_total",
		Help:      "Contacts linked to businesses, by type.",
	}, []string{"type"})

	// BreakerOpen is 1 while the named breaker refuses calls.
	BreakerOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "breaker_open",
		Help:      "Whether a circuit breaker is open, by breaker name.",
	}, []string{"breaker"})

	// QueueDepth is the last sampled job count per kind and status.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Jobs per kind and status at the last sample.",
	}, []string{"kind", "status"})
)

// ObserveRegistryResponse records one registry response. It matches the
// registry client's observer signature.
func ObserveRegistryResponse(statusCode int) {
	RegistryResponses.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// ObserveBreaker records a breaker transition.
func ObserveBreaker(name string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	BreakerOpen.WithLabelValues(name).Set(v)
}
