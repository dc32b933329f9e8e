package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "styleforge_jobs_submitted_total", Help: "Provider jobs submitted"})
	JobsSucceeded     = prometheus.NewCounter(prometheus.CounterOpts{Name: "styleforge_jobs_succeeded_total", Help: "Orders reaching SUCCEEDED"})
	JobsFailed        = prometheus.NewCounter(prometheus.CounterOpts{Name: "styleforge_jobs_failed_total", Help: "Orders reaching FAILED"})
	WebhooksAccepted  = prometheus.NewCounter(prometheus.CounterOpts{Name: "styleforge_webhooks_accepted_total", Help: "Provider webhooks processed"})
	WebhooksRejected  = prometheus.NewCounter(prometheus.CounterOpts{Name: "styleforge_webhooks_rejected_total", Help: "Webhooks failing authentication"})
	WebhooksDuplicate = prometheus.NewCounter(prometheus.CounterOpts{Name: "styleforge_webhooks_duplicate_total", Help: "Commerce webhooks deduplicated by event id"})
	PollRefreshes     = prometheus.NewCounter(prometheus.CounterOpts{Name: "styleforge_poll_refreshes_total", Help: "Live provider status pulls"})
	WritebackFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "styleforge_writeback_failures_total", Help: "Best-effort commerce write-backs that failed"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsSucceeded,
			JobsFailed,
			WebhooksAccepted,
			WebhooksRejected,
			WebhooksDuplicate,
			PollRefreshes,
			WritebackFailures,
		)
	})
	return promhttp.Handler()
}
