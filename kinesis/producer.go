package kinesis

import (
	"context"
	"fmt"
	"math/rand"
	"unicode/utf8"
)

// Producer buffers messages and hands them to a background worker that
// dispatches them to the stream service in batches. Handles are only valid
// inside the WithProducer scope that created them. Write is safe for
// concurrent use.
type Producer struct {
	client *StreamClient
	kit    ProducerKit
	queue  Queue[messageQueueItem]
}

// Write enqueues msg for at-least-once dispatch under a randomly chosen
// partition key. It does not block: a full queue is reported as
// ErrQueueFull, a closed scope as ErrQueueClosed, and messages longer than
// MaxMessageSize characters as ErrMessageTooLarge.
func (p *Producer) Write(msg string) error {
	if utf8.RuneCountInString(msg) > MaxMessageSize {
		return ErrMessageTooLarge
	}

	item := messageQueueItem{
		payload:           msg,
		partitionKey:      randomPartitionKey(),
		remainingAttempts: p.kit.Retry.RetryCount + 1,
	}

	switch p.queue.TryWrite(item) {
	case Written:
		producerRecordsEnqueued.Inc()
		return nil
	case Full:
		return ErrQueueFull
	default:
		return ErrQueueClosed
	}
}

// randomPartitionKey spreads records across shards. The service only needs
// a 1..256 character key; 25 lowercase letters is plenty of entropy.
func randomPartitionKey() string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	key := make([]byte, partitionKeyLength)
	for i := range key {
		key[i] = letters[rand.Intn(len(letters))]
	}
	return string(key)
}

// WithProducer opens a producer scope against client and runs inner with a
// live Producer handle. When inner returns, the queue is closed and the
// worker drains it; with kit.CleanupTimeout set, a drain that overruns the
// timeout abandons the worker and returns ErrCleanupTimedOut. A worker that
// exits before inner does, or dies during the drain, surfaces as
// *ProducerWorkerDiedError. Otherwise inner's result is propagated.
func WithProducer(ctx context.Context, client *StreamClient, kit ProducerKit, inner func(context.Context, *Producer) error) error {
	kit = applyProducerDefaults(kit)
	if kit.MaxConcurrency < 1 {
		return ErrInvalidConcurrency
	}

	p := &Producer{
		client: client,
		kit:    kit,
		queue:  newBoundedQueue[messageQueueItem](kit.QueueBounds, client.clk),
	}

	logDebug(client.logger, "kinesis producer scope opened",
		"stream", client.streamName,
		"client", client.token,
		"queue_bounds", kit.QueueBounds,
		"max_concurrency", kit.MaxConcurrency)

	workerCtx, cancelWorker := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorker()

	workerDone := make(chan error, 1)
	go func() {
		workerDone <- p.runWorker(workerCtx)
	}()

	innerDone := make(chan error, 1)
	go func() {
		innerDone <- inner(ctx, p)
	}()

	select {
	case err := <-innerDone:
		p.queue.Close()
		if werr := p.awaitDrain(workerDone); werr != nil {
			return werr
		}
		return err

	case werr := <-workerDone:
		// The worker finishing first is always unexpected: the queue is
		// still open, so nothing can have told it to stop.
		p.queue.Close()
		return &ProducerWorkerDiedError{Cause: werr}
	}
}

// awaitDrain waits for the worker to finish flushing the closed queue,
// bounded by the kit's cleanup timeout when one is set.
func (p *Producer) awaitDrain(workerDone <-chan error) error {
	if p.kit.CleanupTimeout == nil {
		if werr := <-workerDone; werr != nil {
			return &ProducerWorkerDiedError{Cause: werr}
		}
		return nil
	}

	timer := p.client.clk.Timer(*p.kit.CleanupTimeout)
	defer timer.Stop()

	select {
	case werr := <-workerDone:
		if werr != nil {
			return &ProducerWorkerDiedError{Cause: werr}
		}
		return nil
	case <-timer.C:
		logError(p.client.logger, "kinesis producer cleanup timed out",
			"stream", p.client.streamName,
			"timeout", *p.kit.CleanupTimeout,
			"queued", p.queue.Len())
		return ErrCleanupTimedOut
	}
}

// leftoverWriter lets the worker re-enqueue retry-budgeted items past the
// capacity bound. Custom Queue implementations that do not provide it fall
// back to the bounded write.
type leftoverWriter interface {
	forceWrite(item messageQueueItem) bool
}

// requeue puts a leftover back on the queue. Returns false once the queue
// is closed.
func (p *Producer) requeue(item messageQueueItem) bool {
	if fw, ok := p.queue.(leftoverWriter); ok {
		return fw.forceWrite(item)
	}
	return p.queue.TryWrite(item) == Written
}

// runWorker supervises workerLoop, restarting it with jittered exponential
// backoff after a crash. Respawns are bounded; exhausting them reports the
// last error as worker death.
func (p *Producer) runWorker(ctx context.Context) error {
	sink := newDispatchSink(p.client, p.kit)
	policy := newChunkingPolicy(p.kit)

	for respawn := 0; ; respawn++ {
		err := p.workerLoop(ctx, sink, policy)
		if err == nil {
			return nil
		}

		logError(p.client.logger, "kinesis producer worker crashed",
			"stream", p.client.streamName,
			"respawn", respawn,
			"error", err)

		if respawn >= maxWorkerRespawns {
			return err
		}

		delay := backoffDelay(respawnMinDelay, respawnMaxDelay, respawn+1)
		select {
		case <-p.client.clk.After(delay):
		case <-ctx.Done():
			return err
		}
	}
}

// workerLoop drives chunks from the queue into the dispatch sink and
// re-enqueues leftovers. It returns nil once the queue is closed and fully
// drained, and an error when the dispatch path panics or its context is
// cancelled while a dispatch is in progress.
func (p *Producer) workerLoop(ctx context.Context, sink dispatchSink, policy chunkingPolicy) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()

	reader := newChunkReader(p.queue, policy)
	var pending []messageQueueItem

	for {
		var batch []messageQueueItem
		if len(pending) > 0 {
			batch, pending = pending, nil
		} else {
			if !reader.Next() {
				return nil
			}
			batch = reader.Batch()
		}

		leftovers, derr := sink.dispatch(ctx, batch)
		if derr != nil {
			return derr
		}
		if len(leftovers) == 0 {
			continue
		}
		producerRecordsRetried.Add(float64(len(leftovers)))

		for _, item := range leftovers {
			if p.requeue(item) {
				continue
			}
			// Queue closed mid-drain: retry locally, paced so a persistent
			// outage does not spin. The cleanup timeout bounds this.
			pending = append(pending, item)
		}
		if len(pending) > 0 {
			select {
			case <-p.client.clk.After(p.kit.DispatchBackoff):
			case <-ctx.Done():
				return nil
			}
		}
	}
}
