package index

import "github.com/prometheus/client_golang/prometheus"

var (
	documentsIndexedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docdex_documents_indexed_total",
			Help: "Documents through the pipeline, by outcome.",
		},
		[]string{"status"},
	)
	chunksIndexedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docdex_chunks_indexed_total",
			Help: "Chunk rows inserted by the pipeline.",
		},
	)
)

func init() {
	prometheus.MustRegister(documentsIndexedTotal, chunksIndexedTotal)
}
