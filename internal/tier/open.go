package tier

import (
	"fmt"

	"github.com/cut-dicl/smacc-sub001/internal/cache"
	"github.com/cut-dicl/smacc-sub001/internal/config"
	"github.com/cut-dicl/smacc-sub001/internal/store"
	"github.com/cut-dicl/smacc-sub001/pkg/utils"
)

// OpenDiskVolumes opens the main and state folders of every configured disk
// volume, creating them when missing.
func OpenDiskVolumes(configs []config.VolumeConfig) ([]*cache.Volume, error) {
	volumes := make([]*cache.Volume, 0, len(configs))
	for i, vc := range configs {
		capacity, err := utils.ParseBytes(vc.Capacity)
		if err != nil {
			return nil, fmt.Errorf("failed to parse capacity of volume %d: %w", i, err)
		}
		data, err := store.NewFSBackend(vc.MainDirectory)
		if err != nil {
			return nil, fmt.Errorf("failed to open main directory of volume %d: %w", i, err)
		}
		state, err := store.NewFSBackend(vc.StateDirectory)
		if err != nil {
			return nil, fmt.Errorf("failed to open state directory of volume %d: %w", i, err)
		}
		volumes = append(volumes, cache.NewVolume(i, data, state, capacity))
	}
	return volumes, nil
}

// OpenMemoryVolume creates the memory tier volume. State markers are kept in
// stateDir when it is set, and in memory otherwise.
func OpenMemoryVolume(stateDir string, capacity int64) (*cache.Volume, error) {
	var state store.Backend = store.NewMemBackend()
	if stateDir != "" {
		fsb, err := store.NewFSBackend(stateDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open memory state directory: %w", err)
		}
		state = fsb
	}
	return cache.NewVolume(0, store.NewMemBackend(), state, capacity), nil
}
