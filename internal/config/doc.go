/*
Package config provides configuration management for the SMACC cache engine.

Configuration is assembled from three sources with increasing precedence:

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│             (SMACC_*)                       │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration Files                 │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	│        (NewDefault)                         │
	└─────────────────────────────────────────────┘

# Configuration Structure

	global:
	  log_level: INFO
	  log_format: text
	  metrics_port: 0
	topology: memory_disk          # s3_only | disk_only | memory_only | memory_disk
	memory:
	  capacity: 1GB
	  state_directory: /var/lib/smacc/memory-state
	disk:
	  volumes:
	    - main_directory: /var/lib/smacc/disk0/main
	      state_directory: /var/lib/smacc/disk0/state
	      capacity: 10GB
	policy:
	  admission: always            # always | exd
	  eviction_item: lru           # fifo | lru | mru | lfu | exd | life
	  placement: configured        # downgrade | delete | configured
	  trigger: threshold
	  disk_selection: round_robin  # round_robin | lowest_usage
	  exd_alpha: 0.5
	  life_window: 1h
	  trigger_threshold: 90
	write_back:
	  queue_size: 1024
	  workers: 4
	  chunk_size: 1MB
	cold_storage:
	  backend: memory              # memory | s3

# Policy Provider

Policies do not read the Configuration directly. They receive a Provider at
initialization and look up dotted keys with defaults:

	alpha := p.GetFloat64("policy.exd.alpha", 0.5)
	window := p.GetDuration("policy.life.window", time.Hour)

Configuration.Provider flattens a loaded configuration into these keys and
MapProvider lets tests build one by hand.
*/
package config
