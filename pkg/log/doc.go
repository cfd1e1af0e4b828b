/*
Package log provides structured logging for Forge3D built on zerolog.

Init configures the global logger once at startup; packages then derive
child loggers with WithComponent so every line carries its origin. Console
output is human-readable, file output is JSON and size-rotated.

The package also owns the two durable failure artifacts:

  - errors.jsonl: append-only, one JSON object per line, written by
    ErrorSink for every request-handler error. The errorId field matches
    the id returned to the API caller.
  - crash-report-<ts>.json: written by WriteCrashReport on fatal paths
    immediately before the process exits with code 1.
*/
package log
