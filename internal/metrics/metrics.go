package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MarksRecorded counts attendance marks accepted by the ledger.
	MarksRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classtrack_marks_recorded_total",
		Help: "Attendance marks accepted, by status.",
	}, []string{"status"})

	// OverridesUpserted counts admin override writes by override type.
	OverridesUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classtrack_overrides_upserted_total",
		Help: "Class overrides created or updated, by type.",
	}, []string{"type"})

	// PreseedRecords counts attendance records written by pre-seed batches.
	PreseedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classtrack_preseed_records_total",
		Help: "Attendance records pre-seeded for replacement/added slots.",
	})

	// ProjectionsComputed counts projection requests served.
	ProjectionsComputed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classtrack_projections_total",
		Help: "Attendance projections computed.",
	})
)
