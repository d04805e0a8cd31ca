package kinesis

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/s2-streamstore/optr"
	"gopkg.in/yaml.v3"
)

const (
	envStreamName       = "KINESIS_STREAM_NAME"
	envBatchSize        = "KINESIS_PRODUCER_BATCH_SIZE"
	envEndpoint         = "KINESIS_PRODUCER_ENDPOINT"
	envRetryCount       = "KINESIS_PRODUCER_RETRY_COUNT"
	envQueueBounds      = "KINESIS_PRODUCER_QUEUE_BOUNDS"
	envMaxConcurrency   = "KINESIS_PRODUCER_MAX_CONCURRENCY"
	envCleanupTimeoutMs = "KINESIS_PRODUCER_CLEANUP_TIMEOUT_MS"
)

func applyProducerDefaults(kit ProducerKit) ProducerKit {
	if kit.Batch.BatchSize <= 0 {
		kit.Batch.BatchSize = DefaultBatchSize
	}
	if kit.Retry.RetryCount <= 0 {
		kit.Retry.RetryCount = DefaultRetryCount
	}
	if kit.QueueBounds <= 0 {
		kit.QueueBounds = DefaultQueueBounds
	}
	if kit.MaxConcurrency == 0 {
		kit.MaxConcurrency = DefaultMaxConcurrency
	}
	if kit.ChunkInterval <= 0 {
		kit.ChunkInterval = defaultChunkInterval
	}
	if kit.DispatchBackoff <= 0 {
		kit.DispatchBackoff = defaultDispatchBackoff
	}
	if kit.DispatchStagger <= 0 {
		kit.DispatchStagger = defaultDispatchStagger
	}
	return kit
}

func applyConsumerDefaults(kit ConsumerKit) ConsumerKit {
	if kit.BatchSize <= 0 {
		kit.BatchSize = DefaultBatchSize
	}
	if kit.IteratorType == "" {
		kit.IteratorType = types.ShardIteratorTypeTrimHorizon
	}
	if kit.ReshardInterval <= 0 {
		kit.ReshardInterval = defaultReshardInterval
	}
	if kit.ReshardRetryInterval <= 0 {
		kit.ReshardRetryInterval = defaultReshardRetryInterval
	}
	if kit.PullActiveDelay <= 0 {
		kit.PullActiveDelay = defaultPullActiveDelay
	}
	if kit.PullIdleDelay <= 0 {
		kit.PullIdleDelay = defaultPullIdleDelay
	}
	if kit.PullRetryDelay <= 0 {
		kit.PullRetryDelay = defaultPullRetryDelay
	}
	return kit
}

// LoadProducerKitFromEnv builds a ProducerKit from KINESIS_* environment
// variables. Unset variables keep their defaults; malformed values panic,
// matching the fail-fast posture of process-level configuration.
func LoadProducerKitFromEnv() ProducerKit {
	kit := ProducerKit{
		StreamName: os.Getenv(envStreamName),
	}

	if v, ok := lookupEnvInt(envBatchSize); ok {
		kit.Batch.BatchSize = v
	}
	if v, ok := os.LookupEnv(envEndpoint); ok {
		endpoint, err := parseEndpoint(v)
		if err != nil {
			panic(err)
		}
		kit.Batch.Endpoint = endpoint
	}
	if v, ok := lookupEnvInt(envRetryCount); ok {
		kit.Retry.RetryCount = v
	}
	if v, ok := lookupEnvInt(envQueueBounds); ok {
		kit.QueueBounds = v
	}
	if v, ok := lookupEnvInt(envMaxConcurrency); ok {
		kit.MaxConcurrency = v
	}
	if v, ok := lookupEnvInt(envCleanupTimeoutMs); ok {
		kit.CleanupTimeout = optr.Some(time.Duration(v) * time.Millisecond)
	}

	return kit
}

func lookupEnvInt(name string) (int, bool) {
	value, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		panic(fmt.Errorf("%s: %w", name, err))
	}
	return parsed, true
}

func parseEndpoint(value string) (Endpoint, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "batch", "":
		return EndpointBatch, nil
	case "single":
		return EndpointSingle, nil
	default:
		return 0, fmt.Errorf("unknown endpoint %q", value)
	}
}

// UnmarshalYAML accepts "batch" or "single".
func (e *Endpoint) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	endpoint, err := parseEndpoint(raw)
	if err != nil {
		return err
	}
	*e = endpoint
	return nil
}

func (e Endpoint) MarshalYAML() (interface{}, error) {
	if e == EndpointSingle {
		return "single", nil
	}
	return "batch", nil
}

// LoadProducerKitFromFile reads a YAML ProducerKit from path.
func LoadProducerKitFromFile(path string) (ProducerKit, error) {
	var kit ProducerKit
	raw, err := os.ReadFile(path)
	if err != nil {
		return kit, fmt.Errorf("reading producer kit: %w", err)
	}
	if err := yaml.Unmarshal(raw, &kit); err != nil {
		return kit, fmt.Errorf("parsing producer kit: %w", err)
	}
	return kit, nil
}

// LoadConsumerKitFromFile reads a YAML ConsumerKit from path.
func LoadConsumerKitFromFile(path string) (ConsumerKit, error) {
	var kit ConsumerKit
	raw, err := os.ReadFile(path)
	if err != nil {
		return kit, fmt.Errorf("reading consumer kit: %w", err)
	}
	if err := yaml.Unmarshal(raw, &kit); err != nil {
		return kit, fmt.Errorf("parsing consumer kit: %w", err)
	}
	return kit, nil
}
