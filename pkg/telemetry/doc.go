/*
Package telemetry is the in-process event bus for the orchestrator.

Events flow into four category streams (llm, operations, scheduler,
bridge), each backed by a bounded ring buffer, an aggregate counter per
event type, and a sliding latency window for events that carry a
duration. Consumers subscribe per category or to the firehose; a slow
subscriber loses events instead of blocking the publisher, and every
loss is counted.
*/
package telemetry
