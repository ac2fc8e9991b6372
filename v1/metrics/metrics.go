// Package metrics exposes operational counters for the kiosk backend on
// the Prometheus default registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CheckinsRecorded counts check-ins written to the local store.
	CheckinsRecorded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kiosk_checkins_recorded_total",
		Help: "Total number of check-ins written to the local store",
	})

	// ExportRuns counts export reconciler runs by outcome
	// (ok, empty, skipped, error).
	ExportRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kiosk_export_runs_total",
		Help: "Export reconciler runs by outcome",
	}, []string{"outcome"})

	// RowsExported counts check-in rows delivered to the export sink.
	RowsExported = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kiosk_rows_exported_total",
		Help: "Check-in rows successfully exported to the log sink",
	})

	// MemberSyncRuns counts roster sync runs by outcome
	// (ok, empty, error).
	MemberSyncRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kiosk_member_sync_runs_total",
		Help: "Member roster sync runs by outcome",
	}, []string{"outcome"})
)

// Register registers all kiosk collectors with the default registry.
// Call once from main; the counters work unregistered in tests.
func Register() {
	prometheus.MustRegister(CheckinsRecorded, ExportRuns, RowsExported, MemberSyncRuns)
}

// Handler exposes the default registry for the /metrics route.
func Handler() http.Handler {
	return promhttp.Handler()
}
