/*
Package store implements the durable relational layer for Forge3D on SQLite.

The database runs in WAL journal mode: readers proceed concurrently while
writes are serialized behind a 5-second busy wait, after which operations
fail with the Busy error kind. Foreign keys are enforced, and the enum
domains (kind, status) are re-checked by CHECK constraints so a corrupted
caller cannot write an out-of-domain row.

Schema evolution is tracked in the schema_version table; Open applies every
pending migration with a number greater than the stored maximum, in order,
inside a single write transaction.

Three entity families live here:

  - projects: named containers, cascade-delete their assets
  - assets: persisted generation outputs, row + file created atomically by
    the caller (see the assets package)
  - history: one row per generation attempt; the queued subset ordered by
    created_at is the authoritative scheduler queue

RecoverOrphans is the crash-recovery step: it demotes every row stuck in
processing to failed and must run before the scheduler admits new work.
*/
package store
