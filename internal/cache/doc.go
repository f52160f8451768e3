/*
Package cache provides the storage model shared by the memory and disk tiers:
volumes, files, blocks and the persisted names that let a tier rebuild itself
after a restart.

# Storage Model

	┌─────────────────────────────────────────────┐
	│                   File                      │
	│   one version of bucket/key in one tier     │
	│   state, size, access statistics            │
	└─────────────────────────────────────────────┘
	          │ sorted, non-overlapping
	┌───────────────┐ ┌───────────────┐
	│    Block      │ │    Block      │   ...
	│  [start,stop] │ │  [start,stop] │
	└───────────────┘ └───────────────┘
	          │
	┌─────────────────────────────────────────────┐
	│                  Volume                     │
	│   main backend: block data                  │
	│   state backend: one marker per block       │
	│   capacity and used bytes                   │
	└─────────────────────────────────────────────┘

# Block and State Names

Every block is stored under a main name that encodes all of its metadata:

	<version>##<hex(bucket)>#<hex(key)>-<start>-<stop>[.partial]

Its state is recorded by an empty marker in the state backend named after the
main name with a state prefix:

	INCOMPLETE$   written, not yet sealed
	COMPLETE$     sealed and durable in cold storage or not meant to be pushed
	PUSHED$       sealed, waiting for write-back (TOBEPUSHED)
	OBSOLETE$     superseded or deleted, data may still be read by open readers

A state change first writes the new marker and then removes the old one, so a
crash leaves at worst two markers for one block. Recovery keeps the most
advanced one.

# Lifecycle

	INCOMPLETE ──Close──▶ COMPLETE
	     │
	     └──Close (write-back)──▶ TOBEPUSHED ──MarkComplete──▶ COMPLETE

	any state ──Delete / supersede──▶ OBSOLETE

Writers stream into an INCOMPLETE block. A block marked obsolete while it is
written is discarded when its writer closes. Readers pin the file, and
deletion of a pinned file is deferred until the last reader closes.
*/
package cache
