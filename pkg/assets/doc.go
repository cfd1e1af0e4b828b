/*
Package assets persists binary generation outputs (images, meshes) under a
sandboxed root directory.

Two guarantees hold for every write:

  - Path safety: logical names are sanitized (unsafe characters become
    '_', dot and dot-dot components are rejected) and the final path is
    prefix-checked against the canonicalized root. Violations surface as
    the PathViolation error kind, which the API treats as a bug signal.
  - Atomicity: bytes land in a .part sibling, are fsynced, then renamed
    over the target. A crash mid-write leaves at worst a .part file,
    never a truncated asset.

Existing targets are never overwritten without an explicit caller opt-in.
*/
package assets
