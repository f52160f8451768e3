package types

import (
	"fmt"
	"strings"
	"time"
)

// StorageTier identifies one storage layer of the cache hierarchy
type StorageTier int

const (
	TierMemory StorageTier = iota
	TierDisk
	TierColdStorage
)

// String returns the string representation of the tier
func (t StorageTier) String() string {
	switch t {
	case TierMemory:
		return "memory"
	case TierDisk:
		return "disk"
	case TierColdStorage:
		return "cold"
	default:
		return "unknown"
	}
}

// Next returns the next lower tier in the hierarchy
func (t StorageTier) Next() StorageTier {
	switch t {
	case TierMemory:
		return TierDisk
	default:
		return TierColdStorage
	}
}

// CacheTiers lists the tiers managed by the cache engine, fastest first
var CacheTiers = []StorageTier{TierMemory, TierDisk}

// Location is the set of cache tiers an object should occupy.
// It doubles as the configured tier topology.
type Location int

const (
	LocationColdOnly Location = iota
	LocationDiskOnly
	LocationMemoryOnly
	LocationMemoryDisk
)

// String returns the configuration name of the location
func (l Location) String() string {
	switch l {
	case LocationColdOnly:
		return "s3_only"
	case LocationDiskOnly:
		return "disk_only"
	case LocationMemoryOnly:
		return "memory_only"
	case LocationMemoryDisk:
		return "memory_disk"
	default:
		return "unknown"
	}
}

// HasMemory reports whether the location includes the memory tier
func (l Location) HasMemory() bool {
	return l == LocationMemoryOnly || l == LocationMemoryDisk
}

// HasDisk reports whether the location includes the disk tier
func (l Location) HasDisk() bool {
	return l == LocationDiskOnly || l == LocationMemoryDisk
}

// Has reports whether the location includes the given tier
func (l Location) Has(tier StorageTier) bool {
	switch tier {
	case TierMemory:
		return l.HasMemory()
	case TierDisk:
		return l.HasDisk()
	default:
		return true
	}
}

// Intersect restricts a location to the tiers also present in other
func (l Location) Intersect(other Location) Location {
	return LocationOf(l.HasMemory() && other.HasMemory(), l.HasDisk() && other.HasDisk())
}

// LocationOf builds a location from per-tier flags
func LocationOf(memory, disk bool) Location {
	switch {
	case memory && disk:
		return LocationMemoryDisk
	case memory:
		return LocationMemoryOnly
	case disk:
		return LocationDiskOnly
	default:
		return LocationColdOnly
	}
}

// ParseLocation parses a location name as used in configuration files
func ParseLocation(name string) (Location, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "s3_only", "s3", "cold_only":
		return LocationColdOnly, nil
	case "disk_only", "disk":
		return LocationDiskOnly, nil
	case "memory_only", "memory":
		return LocationMemoryOnly, nil
	case "memory_disk", "":
		return LocationMemoryDisk, nil
	default:
		return LocationColdOnly, fmt.Errorf("invalid topology: %s", name)
	}
}

// ObjectInfo represents metadata about a cached or stored object
type ObjectInfo struct {
	Bucket       string      `json:"bucket"`
	Key          string      `json:"key"`
	Size         int64       `json:"size"`
	LastModified time.Time   `json:"last_modified"`
	Tier         StorageTier `json:"tier"`
	Partial      bool        `json:"partial"`
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Size        int64   `json:"size"`
	Capacity    int64   `json:"capacity"`
	HitRate     float64 `json:"hit_rate"`
	Utilization float64 `json:"utilization"`
}
