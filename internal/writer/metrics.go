package writer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	irisReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "podping_iris_received_total",
		Help: "Total number of IRIs accepted by the ingress endpoint",
	})

	irisRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podping_iris_rejected_total",
		Help: "Total number of IRI candidates rejected at ingress",
	}, []string{"reason"})

	irisDeduped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "podping_iris_deduped_total",
		Help: "Total number of distinct IRIs coalesced into batches",
	})

	irisSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "podping_iris_sent_total",
		Help: "Total number of IRIs published to the chain",
	})

	batchesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "podping_batches_sent_total",
		Help: "Total number of batches published to the chain",
	})

	sendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "podping_send_failures_total",
		Help: "Total number of failed publish attempts",
	})

	inFlightIRIs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "podping_in_flight_iris",
		Help: "IRIs accepted but not yet published",
	})

	batchSendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "podping_batch_send_duration_seconds",
		Help:    "Time taken to publish a batch, including retries",
		Buckets: prometheus.DefBuckets,
	})
)
