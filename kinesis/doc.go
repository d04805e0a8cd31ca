// Package kinesis provides a buffered, retrying client layer for a
// shard-partitioned stream service, on top of the AWS Kinesis API.
//
// Two symmetric scopes form the core. WithProducer runs the caller with a
// Producer whose Write enqueues messages into a bounded queue; a background
// worker chunks the queue into batches and dispatches them concurrently
// with PutRecords (or PutRecord), re-enqueueing failed records until their
// retry budget runs out. WithConsumer runs the caller with a Consumer fed
// by two background loops: one discovers shards and keeps a rotating
// carousel of per-shard iterators, the other pulls one back-pressured
// GetRecords batch at a time, round-robining across shards.
//
// Delivery is at-least-once with a bounded retry budget per record;
// cross-shard ordering is not preserved. Consumer progress can be
// snapshotted with Consumer.StreamState and fed back into a ConsumerKit to
// resume after a restart.
package kinesis
