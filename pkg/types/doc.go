/*
Package types defines the core data structures used throughout Forge3D.

This package contains the fundamental types that represent the orchestrator's
domain model: projects, assets, generation history, and the closed set of job
variants the scheduler admits. All other packages depend on it; it depends on
nothing inside the repository.

# Core Types

Persistence model:
  - Project: Named container that exclusively owns its assets
  - Asset: A persisted generation output (file on disk + row in the store)
  - HistoryEntry: Durable record of every generation attempt, failed ones included

Enumerations (closed domains, enforced again by CHECK constraints in the store):
  - Kind: mesh, image, full
  - Status: queued -> processing -> {complete, failed}

Work model:
  - Job: Tagged sum of ImageJob, MeshJob, FullJob with per-variant payloads

# Identifiers

Every public identifier is 12 hex characters: the prefix of a random 128-bit
value. Use NewID to mint one.

All types are designed to be:
  - Serializable (JSON for the HTTP surface)
  - Self-documenting (clear field names and comments)
  - Validated (constants for enums, validation helpers)
*/
package types
