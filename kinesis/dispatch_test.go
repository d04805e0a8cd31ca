package kinesis

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/stretchr/testify/require"
)

func newTestSinkClient(api API) *StreamClient {
	return NewStreamClient(api, "test-stream", nil)
}

func testItems(n, attempts int) []messageQueueItem {
	items := make([]messageQueueItem, n)
	for i := range items {
		items[i] = messageQueueItem{
			payload:           string(rune('a' + i)),
			partitionKey:      randomPartitionKey(),
			remainingAttempts: attempts,
		}
	}
	return items
}

func TestBatchSink_PartialFailureRequeuesOnlyFailedRecords(t *testing.T) {
	stub := &stubAPI{
		putRecords: func(_ context.Context, _ *kinesis.PutRecordsInput) (*kinesis.PutRecordsOutput, error) {
			return &kinesis.PutRecordsOutput{
				FailedRecordCount: aws.Int32(2),
				Records: []types.PutRecordsResultEntry{
					{ErrorCode: aws.String("ProvisionedThroughputExceededException")},
					{SequenceNumber: aws.String("10")},
					{ErrorCode: aws.String("InternalFailure")},
				},
			}, nil
		},
	}
	kit := applyProducerDefaults(fastProducerKit())
	kit.Batch.BatchSize = 3
	sink := &batchSink{client: newTestSinkClient(stub), kit: kit}

	items := testItems(3, 6)
	leftovers, err := sink.dispatch(context.Background(), items)
	require.NoError(t, err)

	require.Len(t, leftovers, 2)
	require.Equal(t, items[0].payload, leftovers[0].payload)
	require.Equal(t, items[2].payload, leftovers[1].payload)
	for _, leftover := range leftovers {
		require.Equal(t, 5, leftover.remainingAttempts)
	}
}

func TestBatchSink_CallExceptionDoesNotSpendAttempts(t *testing.T) {
	stub := &stubAPI{
		putRecords: func(_ context.Context, _ *kinesis.PutRecordsInput) (*kinesis.PutRecordsOutput, error) {
			return nil, errors.New("connection reset")
		},
	}
	kit := applyProducerDefaults(fastProducerKit())
	sink := &batchSink{client: newTestSinkClient(stub), kit: kit}

	items := testItems(3, 4)
	leftovers, err := sink.dispatch(context.Background(), items)
	require.NoError(t, err)

	require.Len(t, leftovers, 3)
	for _, leftover := range leftovers {
		require.Equal(t, 4, leftover.remainingAttempts)
	}
}

func TestBatchSink_DropsIneligibleItems(t *testing.T) {
	var submitted int
	stub := &stubAPI{
		putRecords: func(_ context.Context, in *kinesis.PutRecordsInput) (*kinesis.PutRecordsOutput, error) {
			submitted += len(in.Records)
			return okPutRecordsOutput(len(in.Records)), nil
		},
	}
	kit := applyProducerDefaults(fastProducerKit())
	sink := &batchSink{client: newTestSinkClient(stub), kit: kit}

	items := testItems(3, 1)
	items[1].remainingAttempts = 0

	leftovers, err := sink.dispatch(context.Background(), items)
	require.NoError(t, err)
	require.Empty(t, leftovers)
	require.Equal(t, 2, submitted)
}

func TestBatchSink_ExhaustedLeftoversAreDroppedNotReturned(t *testing.T) {
	stub := &stubAPI{
		putRecords: func(_ context.Context, in *kinesis.PutRecordsInput) (*kinesis.PutRecordsOutput, error) {
			records := make([]types.PutRecordsResultEntry, len(in.Records))
			for i := range records {
				records[i] = types.PutRecordsResultEntry{ErrorCode: aws.String("InternalFailure")}
			}
			return &kinesis.PutRecordsOutput{Records: records}, nil
		},
	}
	kit := applyProducerDefaults(fastProducerKit())
	sink := &batchSink{client: newTestSinkClient(stub), kit: kit}

	// One attempt left: the per-record error spends it, leaving nothing.
	leftovers, err := sink.dispatch(context.Background(), testItems(2, 1))
	require.NoError(t, err)
	require.Empty(t, leftovers)
}

func TestBatchSink_SplitsIntoBatchSizeSublists(t *testing.T) {
	var sizes []int
	stub := &stubAPI{
		putRecords: func(_ context.Context, in *kinesis.PutRecordsInput) (*kinesis.PutRecordsOutput, error) {
			sizes = append(sizes, len(in.Records))
			return okPutRecordsOutput(len(in.Records)), nil
		},
	}
	kit := applyProducerDefaults(fastProducerKit())
	kit.Batch.BatchSize = 2
	kit.MaxConcurrency = 1 // serialize so sizes is race-free
	sink := &batchSink{client: newTestSinkClient(stub), kit: kit}

	leftovers, err := sink.dispatch(context.Background(), testItems(5, 3))
	require.NoError(t, err)
	require.Empty(t, leftovers)
	require.ElementsMatch(t, []int{2, 2, 1}, sizes)
}

func TestSingleSink_ExceptionSpendsOneAttempt(t *testing.T) {
	stub := &stubAPI{
		putRecord: func(_ context.Context, _ *kinesis.PutRecordInput) (*kinesis.PutRecordOutput, error) {
			return nil, errors.New("throttled")
		},
	}
	kit := applyProducerDefaults(fastProducerKit())
	kit.Batch.Endpoint = EndpointSingle
	sink := &singleSink{client: newTestSinkClient(stub), kit: kit}

	leftovers, err := sink.dispatch(context.Background(), testItems(2, 3))
	require.NoError(t, err)

	require.Len(t, leftovers, 2)
	for _, leftover := range leftovers {
		require.Equal(t, 2, leftover.remainingAttempts)
	}
}

func TestSingleSink_SkipsIneligibleWithoutCalling(t *testing.T) {
	stub := &stubAPI{}
	kit := applyProducerDefaults(fastProducerKit())
	kit.Batch.Endpoint = EndpointSingle
	sink := &singleSink{client: newTestSinkClient(stub), kit: kit}

	leftovers, err := sink.dispatch(context.Background(), testItems(2, 0))
	require.NoError(t, err)
	require.Empty(t, leftovers)

	putRecordCalls, _ := stub.callCounts()
	require.Zero(t, putRecordCalls)
}

func TestSingleSink_SuccessYieldsNoLeftovers(t *testing.T) {
	stub := &stubAPI{}
	kit := applyProducerDefaults(fastProducerKit())
	kit.Batch.Endpoint = EndpointSingle
	sink := &singleSink{client: newTestSinkClient(stub), kit: kit}

	leftovers, err := sink.dispatch(context.Background(), testItems(3, 3))
	require.NoError(t, err)
	require.Empty(t, leftovers)

	putRecordCalls, _ := stub.callCounts()
	require.Equal(t, 3, putRecordCalls)
}

func TestNewDispatchSink_SelectsEndpoint(t *testing.T) {
	client := newTestSinkClient(&stubAPI{})

	kit := applyProducerDefaults(fastProducerKit())
	require.IsType(t, &batchSink{}, newDispatchSink(client, kit))

	kit.Batch.Endpoint = EndpointSingle
	require.IsType(t, &singleSink{}, newDispatchSink(client, kit))
}
