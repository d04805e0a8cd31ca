package kinesis

import (
	"context"
	"errors"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// consumerItem pairs a fetched record with the shard state it came from, so
// the read path can update the right progress cell.
type consumerItem struct {
	shard  *ShardState
	record SequencedRecord
}

// Consumer continuously pulls records from every open shard of a stream,
// round-robining between shards. Two background tasks service it: a
// resharding loop that discovers shards, and a pull loop that fetches
// records into a bounded queue, one batch at a time, only after the
// previous batch has been read out. Reads may happen from any number of
// goroutines.
type Consumer struct {
	client *StreamClient
	kit    ConsumerKit

	// mu guards the carousel and the shard iterator cells. It is never held
	// across a service call.
	mu     sync.Mutex
	shards *carousel[*ShardState]

	queue    *boundedQueue[consumerItem]
	lastRead cmap.ConcurrentMap[string, string]
}

func newConsumer(client *StreamClient, kit ConsumerKit) *Consumer {
	return &Consumer{
		client:   client,
		kit:      kit,
		shards:   newCarousel((*ShardState).key),
		queue:    newBoundedQueue[consumerItem](int(kit.BatchSize), client.clk),
		lastRead: cmap.New[string](),
	}
}

// WithConsumer opens a consumer scope against client and runs inner with a
// live Consumer handle. The resharding and pull loops run for the duration
// of inner; both loops and the record queue are torn down when it returns.
// Records not yet read are discarded with the scope.
func WithConsumer(ctx context.Context, client *StreamClient, kit ConsumerKit, inner func(context.Context, *Consumer) error) error {
	kit = applyConsumerDefaults(kit)
	c := newConsumer(client, kit)

	logDebug(client.logger, "kinesis consumer scope opened",
		"stream", client.streamName,
		"client", client.token,
		"batch_size", kit.BatchSize,
		"iterator_type", kit.IteratorType)

	loopCtx, cancelLoops := context.WithCancel(ctx)
	defer cancelLoops()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.reshardLoop(loopCtx)
	}()
	go func() {
		defer wg.Done()
		c.pullLoop(loopCtx)
	}()

	err := inner(ctx, c)

	cancelLoops()
	c.queue.Close()
	wg.Wait()

	return err
}

// reshardLoop periodically reconciles the carousel with the stream's open
// shards. Failures are swallowed with a shorter retry sleep; the loop is
// self-healing.
func (c *Consumer) reshardLoop(ctx context.Context) {
	for {
		delay := c.kit.ReshardInterval
		if err := c.updateStreamState(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logWarn(c.client.logger, "kinesis reshard pass failed",
				"stream", c.client.streamName,
				"error", err)
			delay = c.kit.ReshardRetryInterval
		} else {
			consumerReshardRuns.Inc()
		}

		select {
		case <-c.client.clk.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// updateStreamState lists the stream's open shards, opens an iterator for
// every shard the carousel does not know yet, and appends the new states.
// Shards present in the kit's saved state resume after their recorded
// sequence number; others start at the kit's iterator type.
func (c *Consumer) updateStreamState(ctx context.Context) error {
	shards, err := c.listOpenShards(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	known := make(map[string]struct{}, c.shards.len())
	for _, s := range c.shards.list() {
		known[s.ShardID] = struct{}{}
	}
	c.mu.Unlock()

	var fresh []*ShardState
	for _, shard := range shards {
		if shard.ShardId == nil {
			continue
		}
		shardID := *shard.ShardId
		if _, ok := known[shardID]; ok {
			continue
		}

		input := &kinesis.GetShardIteratorInput{
			StreamName:        aws.String(c.client.streamName),
			ShardId:           aws.String(shardID),
			ShardIteratorType: c.kit.IteratorType,
		}
		if seqNum, ok := c.kit.SavedState.Get(shardID); ok {
			input.ShardIteratorType = types.ShardIteratorTypeAfterSequenceNumber
			input.StartingSequenceNumber = aws.String(seqNum)
		}

		out, err := c.client.api.GetShardIterator(ctx, input)
		if err != nil {
			return err
		}

		fresh = append(fresh, &ShardState{ShardID: shardID, iterator: out.ShardIterator})
	}

	if len(fresh) == 0 {
		return nil
	}

	logInfo(c.client.logger, "kinesis consumer discovered shards",
		"stream", c.client.streamName,
		"count", len(fresh))
	consumerShardsDiscovered.Add(float64(len(fresh)))

	c.mu.Lock()
	c.shards.appendElems(fresh...)
	c.shards.nub()
	c.mu.Unlock()

	return nil
}

// listOpenShards pages through ListShards and keeps the shards that are
// still open (no ending sequence number).
func (c *Consumer) listOpenShards(ctx context.Context) ([]types.Shard, error) {
	var (
		open      []types.Shard
		nextToken *string
	)

	for {
		input := &kinesis.ListShardsInput{}
		if nextToken != nil {
			input.NextToken = nextToken
		} else {
			input.StreamName = aws.String(c.client.streamName)
		}

		out, err := c.client.api.ListShards(ctx, input)
		if err != nil {
			return nil, err
		}

		for _, shard := range out.Shards {
			if shard.SequenceNumberRange != nil && shard.SequenceNumberRange.EndingSequenceNumber != nil {
				continue
			}
			open = append(open, shard)
		}

		if out.NextToken == nil {
			return open, nil
		}
		nextToken = out.NextToken
	}
}

// pullLoop fetches one batch at a time, pacing itself by the outcome:
// a short breath after a productive pull, a longer one when the shard was
// empty, and a retry sleep after a failure.
func (c *Consumer) pullLoop(ctx context.Context) {
	for {
		fetched, err := c.replenish(ctx)

		var delay = c.kit.PullActiveDelay
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			logWarn(c.client.logger, "kinesis pull failed",
				"stream", c.client.streamName,
				"error", err)
			consumerPullFailures.Inc()
			delay = c.kit.PullRetryDelay
		case fetched == 0:
			delay = c.kit.PullIdleDelay
		}

		select {
		case <-c.client.clk.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// replenish performs one back-pressured pull: wait for the queue to drain,
// pick the carousel's current shard, fetch a batch, and atomically store
// the advanced iterator, enqueue the records and rotate the carousel.
// Returns the number of records fetched.
func (c *Consumer) replenish(ctx context.Context) (int, error) {
	if err := c.awaitDrained(ctx); err != nil {
		return 0, err
	}

	shard, iterator, err := c.awaitCurrentShard(ctx)
	if err != nil {
		return 0, err
	}

	out, err := c.client.api.GetRecords(ctx, &kinesis.GetRecordsInput{
		ShardIterator: aws.String(iterator),
		Limit:         aws.Int32(c.kit.BatchSize),
	})
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	shard.iterator = out.NextShardIterator
	for _, rec := range out.Records {
		item := consumerItem{shard: shard, record: fromServiceRecord(shard.ShardID, rec)}
		if c.queue.TryWrite(item) != Written {
			break
		}
	}
	c.shards.moveRight()
	c.mu.Unlock()

	consumerRecordsFetched.Add(float64(len(out.Records)))

	return len(out.Records), nil
}

// awaitDrained blocks until the record queue is empty. The next batch is
// fetched only after the downstream has read the previous one out.
func (c *Consumer) awaitDrained(ctx context.Context) error {
	for c.queue.Len() > 0 {
		select {
		case <-c.client.clk.After(backpressurePollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// awaitCurrentShard blocks until the carousel has a shard with a live
// iterator, skipping past closed shards.
func (c *Consumer) awaitCurrentShard(ctx context.Context) (*ShardState, string, error) {
	for {
		c.mu.Lock()
		for range c.shards.len() {
			shard, ok := c.shards.current()
			if !ok {
				break
			}
			if shard.iterator != nil {
				iterator := *shard.iterator
				c.mu.Unlock()
				return shard, iterator, nil
			}
			c.shards.moveRight()
		}
		c.mu.Unlock()

		select {
		case <-c.client.clk.After(shardWaitInterval):
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}
}

// Read dequeues the next record, blocking until one is available, the
// context is done, or the consumer scope is torn down.
func (c *Consumer) Read(ctx context.Context) (SequencedRecord, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		if err := ctx.Err(); err != nil {
			return SequencedRecord{}, err
		}
		if items := c.queue.TakeBatch(1, readPollInterval); len(items) > 0 {
			return c.markRead(items[0]), nil
		}
		if c.queue.IsClosedAndEmpty() {
			return SequencedRecord{}, ErrConsumerClosed
		}
	}
}

// TryRead dequeues the next record without blocking. It returns false when
// no record is buffered.
func (c *Consumer) TryRead() (SequencedRecord, bool) {
	items := c.queue.TakeBatch(1, 0)
	if len(items) == 0 {
		return SequencedRecord{}, false
	}
	return c.markRead(items[0]), true
}

func (c *Consumer) markRead(item consumerItem) SequencedRecord {
	if item.record.SequenceNumber != "" {
		c.lastRead.Set(item.shard.ShardID, item.record.SequenceNumber)
	}
	return item.record
}

// StreamState snapshots the last-read sequence number of every shard that
// has had at least one record read. The snapshot is suitable for persisting
// and for seeding a later ConsumerKit.
func (c *Consumer) StreamState() *SavedStreamState {
	state := NewSavedStreamState()
	for kv := range c.lastRead.IterBuffered() {
		state.Set(kv.Key, kv.Val)
	}
	return state
}

// Source returns a lazy, unbounded record sequence backed by Read:
//
//	src := consumer.Source(ctx)
//	for src.Next() {
//		handle(src.Record())
//	}
//	return src.Err()
func (c *Consumer) Source(ctx context.Context) *RecordSource {
	return &RecordSource{consumer: c, ctx: ctx}
}

// RecordSource iterates a consumer's records. Records are not replayable;
// a fresh Source continues where the previous one stopped.
type RecordSource struct {
	consumer *Consumer
	ctx      context.Context
	current  SequencedRecord
	err      error
}

// Next blocks until a record is available. When it returns false, the
// consumer is closed or the context is done; see Err.
func (s *RecordSource) Next() bool {
	if s.err != nil {
		return false
	}
	record, err := s.consumer.Read(s.ctx)
	if err != nil {
		s.err = err
		return false
	}
	s.current = record
	return true
}

// Record returns the record fetched by the last successful Next.
func (s *RecordSource) Record() SequencedRecord {
	return s.current
}

// Err reports what stopped the iteration, nil after a clean consumer close.
func (s *RecordSource) Err() error {
	if errors.Is(s.err, ErrConsumerClosed) {
		return nil
	}
	return s.err
}
