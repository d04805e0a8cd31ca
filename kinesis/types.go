package kinesis

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
)

const (
	// MaxMessageSize is the maximum accepted message length, in characters.
	MaxMessageSize = 51_000

	// Default producer parameters.
	DefaultBatchSize      = 200
	DefaultRetryCount     = 5
	DefaultQueueBounds    = 10_000
	DefaultMaxConcurrency = 3

	partitionKeyLength = 25
)

// Fixed cadence of the producer and consumer loops. The kit fields of the
// same names default to these values.
const (
	defaultChunkInterval   = 5 * time.Second
	defaultDispatchStagger = 100 * time.Millisecond
	defaultDispatchBackoff = 5 * time.Second

	defaultReshardInterval      = 10 * time.Second
	defaultReshardRetryInterval = 3 * time.Second
	defaultPullActiveDelay      = 70 * time.Millisecond
	defaultPullIdleDelay        = 5 * time.Second
	defaultPullRetryDelay       = 2 * time.Second

	backpressurePollInterval = 10 * time.Millisecond
	shardWaitInterval        = 100 * time.Millisecond
	readPollInterval         = 250 * time.Millisecond
)

// Endpoint selects which service operation the producer dispatches with.
type Endpoint int

const (
	// EndpointBatch dispatches with PutRecords. BatchSize is honored.
	EndpointBatch Endpoint = iota
	// EndpointSingle dispatches each record with PutRecord.
	EndpointSingle
)

// BatchPolicy controls how the producer groups records for dispatch.
type BatchPolicy struct {
	// Records per PutRecords call. Defaults to DefaultBatchSize. Only
	// honored when Endpoint is EndpointBatch.
	BatchSize int `yaml:"batch_size"`
	// Endpoint selects PutRecords (default) or PutRecord dispatch.
	Endpoint Endpoint `yaml:"endpoint"`
}

// RetryPolicy bounds how often a record is retried after dispatch failures.
type RetryPolicy struct {
	// Number of retries after the initial attempt. Defaults to
	// DefaultRetryCount. A record is attempted at most RetryCount+1 times.
	RetryCount int `yaml:"retry_count"`
}

// ProducerKit is the construction-time configuration of a producer scope.
// It is immutable after WithProducer starts.
type ProducerKit struct {
	StreamName string      `yaml:"stream_name"`
	Batch      BatchPolicy `yaml:"batch"`
	Retry      RetryPolicy `yaml:"retry"`

	// Capacity of the producer queue. Defaults to DefaultQueueBounds.
	QueueBounds int `yaml:"queue_bounds"`
	// In-flight dispatch ceiling. Must be >= 1. Defaults to
	// DefaultMaxConcurrency.
	MaxConcurrency int `yaml:"max_concurrency"`
	// Bound on queue drain after the caller returns. When nil the drain is
	// awaited unconditionally.
	CleanupTimeout *time.Duration `yaml:"cleanup_timeout"`

	// ChunkInterval is the longest the worker waits before dispatching a
	// partial chunk. Defaults to 5s.
	ChunkInterval time.Duration `yaml:"chunk_interval"`
	// DispatchBackoff is the pause after a failed PutRecord call. Defaults
	// to 5s.
	DispatchBackoff time.Duration `yaml:"dispatch_backoff"`
	// DispatchStagger spaces the startup of concurrent dispatch tasks.
	// Defaults to 100ms.
	DispatchStagger time.Duration `yaml:"dispatch_stagger"`
}

// chunkingPolicy is derived from the batch policy and concurrency ceiling:
// the worker takes up to one full dispatch round per chunk.
type chunkingPolicy struct {
	maxChunkSize int
	interval     time.Duration
}

func newChunkingPolicy(kit ProducerKit) chunkingPolicy {
	return chunkingPolicy{
		maxChunkSize: kit.Batch.BatchSize * kit.MaxConcurrency,
		interval:     kit.ChunkInterval,
	}
}

// messageQueueItem is a producer-internal record awaiting dispatch.
type messageQueueItem struct {
	payload           string
	partitionKey      string
	remainingAttempts int
}

// eligible reports whether the item still has dispatch budget.
func (i messageQueueItem) eligible() bool {
	return i.remainingAttempts >= 1
}

// ConsumerKit is the construction-time configuration of a consumer scope.
type ConsumerKit struct {
	StreamName string `yaml:"stream_name"`

	// Records per GetRecords call, also the capacity of the consumer's
	// output queue. Defaults to DefaultBatchSize.
	BatchSize int32 `yaml:"batch_size"`

	// Iterator type used for shards that have no saved position. Defaults
	// to TRIM_HORIZON.
	IteratorType types.ShardIteratorType `yaml:"iterator_type"`

	// SavedState resumes each listed shard after its recorded sequence
	// number. Shards absent from the state start at IteratorType.
	SavedState *SavedStreamState `yaml:"saved_state"`

	// Loop cadence. Zero values take the service-calibrated defaults
	// (10s / 3s / 70ms / 5s / 2s).
	ReshardInterval      time.Duration `yaml:"reshard_interval"`
	ReshardRetryInterval time.Duration `yaml:"reshard_retry_interval"`
	PullActiveDelay      time.Duration `yaml:"pull_active_delay"`
	PullIdleDelay        time.Duration `yaml:"pull_idle_delay"`
	PullRetryDelay       time.Duration `yaml:"pull_retry_delay"`
}

// SequencedRecord is a record fetched from a shard of the stream.
type SequencedRecord struct {
	ShardID        string
	SequenceNumber string
	PartitionKey   string
	Data           []byte
	ArrivalTime    *time.Time
}

func fromServiceRecord(shardID string, rec types.Record) SequencedRecord {
	out := SequencedRecord{
		ShardID:     shardID,
		Data:        rec.Data,
		ArrivalTime: rec.ApproximateArrivalTimestamp,
	}
	if rec.SequenceNumber != nil {
		out.SequenceNumber = *rec.SequenceNumber
	}
	if rec.PartitionKey != nil {
		out.PartitionKey = *rec.PartitionKey
	}
	return out
}
