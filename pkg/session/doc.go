/*
Package session runs one generation end-to-end.

A Session is write-once: Run drives the finite-state machine from idle
through the generating states to complete or failed, calling the worker
through the bridge for each stage. The full pipeline executes as two
staged calls so both generating states are real, observable phases.
Progress is interpolated between coarse worker milestones and is monotone
within a stage. On completion the artifact bytes are handed to the asset
store when the request named a project; otherwise they are retained in
memory for a bounded download window.

The Registry keeps the most recent sessions addressable for the status
and download endpoints.
*/
package session
