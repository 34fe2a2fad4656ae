package enrichd

import "github.com/prometheus/client_golang/prometheus"

const (
	MetricMessagesProcessed = "messages_processed_total"
	MetricRecordsWritten    = "records_written_total"
	MetricRecordsSkipped    = "records_skipped_total"
	MetricBatchErrors       = "batch_errors_total"
)

var CounterMessagesProcessed = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "enrichd",
		Name:      MetricMessagesProcessed,
		Help:      "Records pulled from the source, including ones later dropped.",
	},
)

var CounterRecordsWritten = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "enrichd",
		Name:      MetricRecordsWritten,
		Help:      "Merged records confirmed written to the search index.",
	},
)

var CounterRecordsSkipped = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "enrichd",
		Name:      MetricRecordsSkipped,
		Help:      "Records dropped before merge for lacking an identifier.",
	},
)

var CounterBatchErrors = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "enrichd",
		Name:      MetricBatchErrors,
		Help:      "Batches dropped because the index write failed.",
	},
)

func init() {
	prometheus.MustRegister(CounterMessagesProcessed)
	prometheus.MustRegister(CounterRecordsWritten)
	prometheus.MustRegister(CounterRecordsSkipped)
	prometheus.MustRegister(CounterBatchErrors)
}
