/*
Package types provides the shared enumerations and data structures of the
SMACC cache engine.

# Tiers

The engine manages two cache tiers in front of cold storage:

	┌──────────────┐   downgrade   ┌──────────────┐   write-back   ┌──────────────┐
	│ TierMemory   │ ────────────▶ │ TierDisk     │ ─────────────▶ │ TierCold     │
	│ (volatile)   │               │ (N volumes)  │                │ (S3/MinIO)   │
	└──────────────┘               └──────────────┘                └──────────────┘

A Location names the subset of cache tiers an object occupies. The same type
describes the configured topology (s3_only, disk_only, memory_only,
memory_disk) and the result of an admission decision, so a decision can be
clipped to the topology with Intersect.
*/
package types
