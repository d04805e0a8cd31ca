package kinesis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
)

// stubAPI implements API with pluggable handlers. Nil handlers return empty
// outputs. Handlers may be swapped while holding no calls in flight; the
// call counters are safe for concurrent use.
type stubAPI struct {
	mu sync.Mutex

	putRecord        func(ctx context.Context, in *kinesis.PutRecordInput) (*kinesis.PutRecordOutput, error)
	putRecords       func(ctx context.Context, in *kinesis.PutRecordsInput) (*kinesis.PutRecordsOutput, error)
	getShardIterator func(ctx context.Context, in *kinesis.GetShardIteratorInput) (*kinesis.GetShardIteratorOutput, error)
	getRecords       func(ctx context.Context, in *kinesis.GetRecordsInput) (*kinesis.GetRecordsOutput, error)
	listShards       func(ctx context.Context, in *kinesis.ListShardsInput) (*kinesis.ListShardsOutput, error)

	putRecordCalls  int
	putRecordsCalls int
}

func (s *stubAPI) PutRecord(ctx context.Context, in *kinesis.PutRecordInput, _ ...func(*kinesis.Options)) (*kinesis.PutRecordOutput, error) {
	s.mu.Lock()
	s.putRecordCalls++
	handler := s.putRecord
	s.mu.Unlock()

	if handler == nil {
		return &kinesis.PutRecordOutput{}, nil
	}
	return handler(ctx, in)
}

func (s *stubAPI) PutRecords(ctx context.Context, in *kinesis.PutRecordsInput, _ ...func(*kinesis.Options)) (*kinesis.PutRecordsOutput, error) {
	s.mu.Lock()
	s.putRecordsCalls++
	handler := s.putRecords
	s.mu.Unlock()

	if handler == nil {
		return okPutRecordsOutput(len(in.Records)), nil
	}
	return handler(ctx, in)
}

func (s *stubAPI) GetShardIterator(ctx context.Context, in *kinesis.GetShardIteratorInput, _ ...func(*kinesis.Options)) (*kinesis.GetShardIteratorOutput, error) {
	s.mu.Lock()
	handler := s.getShardIterator
	s.mu.Unlock()

	if handler == nil {
		return &kinesis.GetShardIteratorOutput{ShardIterator: aws.String("iter-0")}, nil
	}
	return handler(ctx, in)
}

func (s *stubAPI) GetRecords(ctx context.Context, in *kinesis.GetRecordsInput, _ ...func(*kinesis.Options)) (*kinesis.GetRecordsOutput, error) {
	s.mu.Lock()
	handler := s.getRecords
	s.mu.Unlock()

	if handler == nil {
		return &kinesis.GetRecordsOutput{NextShardIterator: in.ShardIterator}, nil
	}
	return handler(ctx, in)
}

func (s *stubAPI) ListShards(ctx context.Context, in *kinesis.ListShardsInput, _ ...func(*kinesis.Options)) (*kinesis.ListShardsOutput, error) {
	s.mu.Lock()
	handler := s.listShards
	s.mu.Unlock()

	if handler == nil {
		return &kinesis.ListShardsOutput{}, nil
	}
	return handler(ctx, in)
}

func (s *stubAPI) callCounts() (putRecord, putRecords int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putRecordCalls, s.putRecordsCalls
}

func okPutRecordsOutput(n int) *kinesis.PutRecordsOutput {
	records := make([]types.PutRecordsResultEntry, n)
	for i := range records {
		records[i] = types.PutRecordsResultEntry{SequenceNumber: aws.String("1")}
	}
	return &kinesis.PutRecordsOutput{Records: records}
}

func openShard(id string) types.Shard {
	return types.Shard{
		ShardId:             aws.String(id),
		SequenceNumberRange: &types.SequenceNumberRange{StartingSequenceNumber: aws.String("0")},
	}
}

func closedShard(id string) types.Shard {
	return types.Shard{
		ShardId: aws.String(id),
		SequenceNumberRange: &types.SequenceNumberRange{
			StartingSequenceNumber: aws.String("0"),
			EndingSequenceNumber:   aws.String("99"),
		},
	}
}

func serviceRecord(seqNum string) types.Record {
	return types.Record{
		SequenceNumber: aws.String(seqNum),
		PartitionKey:   aws.String("pk"),
		Data:           []byte("payload-" + seqNum),
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not reached within %s: %s", timeout, msg)
}

// fastProducerKit returns a kit with millisecond cadence for tests.
func fastProducerKit() ProducerKit {
	return ProducerKit{
		StreamName:      "test-stream",
		Batch:           BatchPolicy{BatchSize: 2},
		Retry:           RetryPolicy{RetryCount: 2},
		QueueBounds:     100,
		MaxConcurrency:  2,
		ChunkInterval:   10 * time.Millisecond,
		DispatchBackoff: 5 * time.Millisecond,
		DispatchStagger: time.Millisecond,
	}
}

// fastConsumerKit returns a kit with millisecond cadence for tests.
func fastConsumerKit() ConsumerKit {
	return ConsumerKit{
		StreamName:           "test-stream",
		BatchSize:            10,
		ReshardInterval:      10 * time.Millisecond,
		ReshardRetryInterval: 5 * time.Millisecond,
		PullActiveDelay:      time.Millisecond,
		PullIdleDelay:        5 * time.Millisecond,
		PullRetryDelay:       5 * time.Millisecond,
	}
}
