package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobdesk_jobs_created_total",
		Help: "The total number of jobs created",
	}, []string{"priority"})

	JobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobdesk_jobs_completed_total",
		Help: "The total number of jobs that reached completed",
	})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobdesk_webhook_deliveries_total",
		Help: "Webhook delivery attempts by outcome",
	}, []string{"outcome"}) // outcome: success, failed
)
