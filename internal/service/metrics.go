package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wagate_messages_total",
		Help: "Outbound messages by kind and result (sent, failed, rate_limited).",
	}, []string{"kind", "result"})

	webhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wagate_webhook_deliveries_total",
		Help: "Webhook deliveries by result (delivered, failed, dropped, skipped).",
	}, []string{"result"})

	webhookAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wagate_webhook_attempts_total",
		Help: "Individual webhook POST attempts, retries included.",
	})

	webhookQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wagate_webhook_queue_depth",
		Help: "Events waiting in the webhook dispatch queue.",
	})
)
