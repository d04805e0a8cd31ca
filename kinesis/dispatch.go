package kinesis

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
)

// dispatchSink sends a chunk of items to the stream service and returns the
// leftovers that must be retried. Transport failures are recovered locally
// and reported only through the leftover slice; a non-nil error means the
// dispatch machinery itself broke (a panicking task, a dead context) and
// crashes the worker.
type dispatchSink interface {
	dispatch(ctx context.Context, items []messageQueueItem) ([]messageQueueItem, error)
}

func newDispatchSink(client *StreamClient, kit ProducerKit) dispatchSink {
	if kit.Batch.Endpoint == EndpointSingle {
		return &singleSink{client: client, kit: kit}
	}
	return &batchSink{client: client, kit: kit}
}

// singleSink dispatches each record with its own PutRecord call.
type singleSink struct {
	client *StreamClient
	kit    ProducerKit
}

func (s *singleSink) dispatch(ctx context.Context, items []messageQueueItem) ([]messageQueueItem, error) {
	results, err := mapConcurrently(ctx, s.client.clk, s.kit.MaxConcurrency, s.kit.DispatchStagger,
		items, s.dispatchOne)
	if err != nil {
		return nil, err
	}

	var leftovers []messageQueueItem
	for _, leftover := range results {
		if leftover != nil {
			leftovers = append(leftovers, *leftover)
		}
	}
	return leftovers, nil
}

// dispatchOne sends a single record. On a failed call it backs off, then
// yields the item with one attempt spent. Note the asymmetry with
// batchSink: a failed PutRecord call always costs an attempt.
func (s *singleSink) dispatchOne(ctx context.Context, item messageQueueItem) (*messageQueueItem, error) {
	if !item.eligible() {
		producerRecordsDropped.Inc()
		return nil, nil
	}

	_, err := s.client.api.PutRecord(ctx, &kinesis.PutRecordInput{
		Data:         []byte(item.payload),
		PartitionKey: aws.String(item.partitionKey),
		StreamName:   aws.String(s.client.streamName),
	})
	if err != nil {
		producerDispatchFailures.Inc()
		logWarn(s.client.logger, "kinesis put record failed",
			"stream", s.client.streamName,
			"remaining_attempts", item.remainingAttempts-1,
			"error", err)
		s.client.clk.Sleep(s.kit.DispatchBackoff)

		item.remainingAttempts--
		return &item, nil
	}

	producerRecordsDispatched.Inc()
	return nil, nil
}

// batchSink dispatches BatchSize-sized sublists with PutRecords and
// re-queues only the records the response marks as failed.
type batchSink struct {
	client *StreamClient
	kit    ProducerKit
}

func (s *batchSink) dispatch(ctx context.Context, items []messageQueueItem) ([]messageQueueItem, error) {
	batches := splitBatches(items, s.kit.Batch.BatchSize)

	results, err := mapConcurrently(ctx, s.client.clk, s.kit.MaxConcurrency, s.kit.DispatchStagger,
		batches, s.dispatchBatch)
	if err != nil {
		return nil, err
	}

	var leftovers []messageQueueItem
	for _, batchLeftovers := range results {
		leftovers = append(leftovers, batchLeftovers...)
	}
	return leftovers, nil
}

// dispatchBatch sends one PutRecords call. A failed call yields every
// eligible item back without spending an attempt; per-record errors in a
// successful call spend one attempt each. Note the asymmetry with
// singleSink, where a failed call always costs the record an attempt.
func (s *batchSink) dispatchBatch(ctx context.Context, batch []messageQueueItem) ([]messageQueueItem, error) {
	eligible := batch[:0:0]
	for _, item := range batch {
		if item.eligible() {
			eligible = append(eligible, item)
		} else {
			producerRecordsDropped.Inc()
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	entries := make([]types.PutRecordsRequestEntry, len(eligible))
	for i, item := range eligible {
		entries[i] = types.PutRecordsRequestEntry{
			Data:         []byte(item.payload),
			PartitionKey: aws.String(item.partitionKey),
		}
	}

	out, err := s.client.api.PutRecords(ctx, &kinesis.PutRecordsInput{
		Records:    entries,
		StreamName: aws.String(s.client.streamName),
	})
	if err != nil {
		producerDispatchFailures.Inc()
		logWarn(s.client.logger, "kinesis put records failed",
			"stream", s.client.streamName,
			"records", len(eligible),
			"error", err)
		return eligible, nil
	}

	// The response lists results in submission order.
	var leftovers []messageQueueItem
	for i, result := range out.Records {
		if i >= len(eligible) {
			break
		}
		if result.ErrorCode == nil || *result.ErrorCode == "" {
			producerRecordsDispatched.Inc()
			continue
		}
		item := eligible[i]
		item.remainingAttempts--
		if item.eligible() {
			leftovers = append(leftovers, item)
		} else {
			producerRecordsDropped.Inc()
		}
	}
	return leftovers, nil
}

func splitBatches(items []messageQueueItem, size int) [][]messageQueueItem {
	if size < 1 {
		size = 1
	}
	batches := make([][]messageQueueItem, 0, (len(items)+size-1)/size)
	for len(items) > size {
		batches = append(batches, items[:size])
		items = items[size:]
	}
	if len(items) > 0 {
		batches = append(batches, items)
	}
	return batches
}
