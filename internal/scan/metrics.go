package scan

import "github.com/prometheus/client_golang/prometheus"

var (
	scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docdex_scans_total",
			Help: "Completed scans by final status.",
		},
		[]string{"status"},
	)
	scanFilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docdex_scan_files_total",
			Help: "Files handled during scans, by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(scansTotal, scanFilesTotal)
}

func observeScan(r *Result) {
	scansTotal.WithLabelValues(r.Status).Inc()
	scanFilesTotal.WithLabelValues("added").Add(float64(r.Counters.Added))
	scanFilesTotal.WithLabelValues("updated").Add(float64(r.Counters.Updated))
	scanFilesTotal.WithLabelValues("skipped").Add(float64(r.Counters.Skipped))
	scanFilesTotal.WithLabelValues("failed").Add(float64(r.Counters.Failed))
}
