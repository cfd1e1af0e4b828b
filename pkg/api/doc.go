/*
Package api is the localhost HTTP surface of the orchestrator.

All orchestrator endpoints live under /api/forge3d; /healthz and /metrics
sit at the root. Request bodies are JSON capped at 1 MiB, except raw
image uploads for mesh generation, which ride an image/* content type and
are capped at 20 MiB. Every error is the uniform {error, message,
errorId?} shape; unexpected failures get a correlation id that also lands
in errors.jsonl. The telemetry firehose streams as Server-Sent Events.
*/
package api
