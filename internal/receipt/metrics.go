package receipt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	receiptsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trip_ledger_receipts_created_total",
		Help: "Receipts committed to the repository",
	})

	receiptsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trip_ledger_receipts_deleted_total",
		Help: "Receipts removed from the repository",
	})

	blobFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trip_ledger_blob_failures_total",
		Help: "Image store failures by operation",
	}, []string{"op"})

	extractionResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trip_ledger_extractions_total",
		Help: "Queued extraction outcomes",
	}, []string{"result"})
)
