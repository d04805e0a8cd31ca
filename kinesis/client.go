package kinesis

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// API is the interface the producer and consumer require of the Kinesis
// service client. It covers the operations this SDK issues; operating on an
// interface allows injecting a stub implementation for testing. The
// *kinesis.Client from aws-sdk-go-v2 satisfies it.
type API interface {
	PutRecord(ctx context.Context, params *kinesis.PutRecordInput, optFns ...func(*kinesis.Options)) (*kinesis.PutRecordOutput, error)
	PutRecords(ctx context.Context, params *kinesis.PutRecordsInput, optFns ...func(*kinesis.Options)) (*kinesis.PutRecordsOutput, error)
	GetShardIterator(ctx context.Context, params *kinesis.GetShardIteratorInput, optFns ...func(*kinesis.Options)) (*kinesis.GetShardIteratorOutput, error)
	GetRecords(ctx context.Context, params *kinesis.GetRecordsInput, optFns ...func(*kinesis.Options)) (*kinesis.GetRecordsOutput, error)
	ListShards(ctx context.Context, params *kinesis.ListShardsInput, optFns ...func(*kinesis.Options)) (*kinesis.ListShardsOutput, error)
}

// ClientOptions configures the ambient collaborators of a StreamClient.
type ClientOptions struct {
	// Logger for SDK diagnostics. A nil logger disables logging.
	Logger *slog.Logger

	// Clock drives every sleep, timer and timeout in the SDK. Defaults to
	// the wall clock.
	Clock clock.Clock
}

// StreamClient binds the transport to one named stream. Producer and
// consumer scopes are opened against it with WithProducer and WithConsumer.
type StreamClient struct {
	api        API
	streamName string
	logger     *slog.Logger
	clk        clock.Clock
	token      string
}

// NewStreamClient wraps api for operations against streamName.
func NewStreamClient(api API, streamName string, opts *ClientOptions) *StreamClient {
	if opts == nil {
		opts = &ClientOptions{}
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &StreamClient{
		api:        api,
		streamName: streamName,
		logger:     opts.Logger,
		clk:        clk,
		token:      uuid.NewString(),
	}
}

// StreamName returns the stream this client is bound to.
func (c *StreamClient) StreamName() string {
	return c.streamName
}
