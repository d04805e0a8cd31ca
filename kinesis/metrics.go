package kinesis

import "github.com/prometheus/client_golang/prometheus"

var (
	producerRecordsEnqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kinesis_producer_records_enqueued_total",
		Help: "Messages accepted by Producer.Write",
	})

	producerRecordsDispatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kinesis_producer_records_dispatched_total",
		Help: "Records acknowledged by the stream service",
	})

	producerRecordsRetried = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kinesis_producer_records_retried_total",
		Help: "Records re-enqueued after a dispatch failure",
	})

	producerRecordsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kinesis_producer_records_dropped_total",
		Help: "Records dropped after exhausting their retry budget",
	})

	producerDispatchFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kinesis_producer_dispatch_failures_total",
		Help: "Failed PutRecord/PutRecords calls",
	})

	consumerRecordsFetched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kinesis_consumer_records_fetched_total",
		Help: "Records fetched by the pull loop",
	})

	consumerPullFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kinesis_consumer_pull_failures_total",
		Help: "Failed GetRecords calls",
	})

	consumerReshardRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kinesis_consumer_reshard_runs_total",
		Help: "Completed resharding passes",
	})

	consumerShardsDiscovered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kinesis_consumer_shards_discovered_total",
		Help: "New shards added to the carousel",
	})
)

// RegisterMetrics registers the SDK's collectors with reg. Call at most once
// per registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		producerRecordsEnqueued,
		producerRecordsDispatched,
		producerRecordsRetried,
		producerRecordsDropped,
		producerDispatchFailures,
		consumerRecordsFetched,
		consumerPullFailures,
		consumerReshardRuns,
		consumerShardsDiscovered,
	)
}
