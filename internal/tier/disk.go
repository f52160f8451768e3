package tier

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cut-dicl/smacc-sub001/internal/cache"
	"github.com/cut-dicl/smacc-sub001/internal/policy"
	"github.com/cut-dicl/smacc-sub001/pkg/errors"
	"github.com/cut-dicl/smacc-sub001/pkg/types"
)

// DiskManager is the disk tier: one or more volumes, each with a main folder
// for block data and a state folder for lifecycle markers.
type DiskManager struct {
	*manager
	selection policy.DiskSelectionPolicy
}

// NewDiskManager creates a disk tier over volumes. selection picks the volume
// of every new object.
func NewDiskManager(volumes []*cache.Volume, selection policy.DiskSelectionPolicy, opts ...Option) (*DiskManager, error) {
	if len(volumes) == 0 {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "disk tier needs at least one volume").
			WithComponent("disk").WithOperation("new")
	}
	if selection == nil {
		selection = policy.NewRoundRobin()
	}
	return &DiskManager{
		manager:   newManager(types.TierDisk, volumes, opts),
		selection: selection,
	}, nil
}

// Create registers a new INCOMPLETE file on the volume chosen by the disk
// selection policy. length may be cache.Unknown. A current file of the same
// key is deleted and returned as replaced.
func (m *DiskManager) Create(bucket, key string, length int64, opts ...CreateOption) (f, replaced *cache.File, err error) {
	idx := m.selection.SelectDisk(m.VolumeUsages())
	if idx < 0 || idx >= len(m.volumes) {
		return nil, nil, errors.Newf(errors.ErrCodeInternalError, "disk selection returned volume %d of %d", idx, len(m.volumes)).
			WithComponent("disk").WithOperation("create")
	}
	return m.create(m.volumes[idx], bucket, key, length, opts)
}

// Recover rebuilds the tier from the persisted names of every volume. Volumes
// are scanned in parallel. Entries that cannot be trusted are removed and
// reported; only cancellation of ctx makes recovery fail.
func (m *DiskManager) Recover(ctx context.Context) (*RecoveryReport, error) {
	results := make([]*volumeResult, len(m.volumes))
	g, gctx := errgroup.WithContext(ctx)
	for i, vol := range m.volumes {
		g.Go(func() error {
			res, err := m.recoverVolume(gctx, vol)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &RecoveryReport{}
	var files []*cache.File
	for _, res := range results {
		files = append(files, res.files...)
		report.Removed = append(report.Removed, res.removed...)
	}

	winners, losers := newestPerKey(files)
	for _, f := range losers {
		m.reg.seedVersion(f.Bucket(), f.Key(), f.Version())
		for _, b := range f.Blocks() {
			report.Removed = append(report.Removed, RemovedEntry{
				Volume: f.Volume().Index,
				Name:   b.Descriptor().MainName(),
				Reason: ReasonSuperseded,
			})
		}
		if err := f.Delete(); err != nil {
			m.logger.WithFields(logrus.Fields{
				"bucket":  f.Bucket(),
				"key":     f.Key(),
				"version": f.Version(),
			}).WithError(err).Warn("Failed to remove superseded version")
		}
	}
	for _, f := range winners {
		m.reg.put(f)
		if f.State() == cache.StateToBePushed {
			report.RePush = append(report.RePush, f)
		}
	}
	report.Files = winners

	m.logger.WithFields(logrus.Fields{
		"recovered": len(report.Files),
		"removed":   len(report.Removed),
		"re_push":   len(report.RePush),
	}).Info("Disk tier recovered")
	return report, nil
}

type volumeResult struct {
	files   []*cache.File
	removed []RemovedEntry
}

func (m *DiskManager) recoverVolume(ctx context.Context, vol *cache.Volume) (*volumeResult, error) {
	s := &scanner{vol: vol, logger: m.logger}

	mains := make(map[string]bool)
	names, err := vol.Data.List()
	if err != nil {
		m.logger.WithError(err).WithField("volume", vol.Index).Warn("Failed to list block data")
	}
	for _, name := range names {
		if !cache.HasVersionMarker(name) {
			s.removeData(name, ReasonNoVersionMarker)
			continue
		}
		if _, err := cache.ParseMainName(name); err != nil {
			s.removeData(name, ReasonUndecodable)
			continue
		}
		mains[name] = false
	}

	entries, err := s.states(ctx)
	if err != nil {
		return nil, err
	}

	files := make(map[fileID]*cache.File)
	var order []fileID
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		main := e.desc.MainName()
		_, hasMain := mains[main]

		if e.state == cache.StateObsolete {
			s.removeState(e.name, ReasonObsolete)
			if hasMain {
				s.removeData(main, ReasonObsolete)
				delete(mains, main)
			}
			continue
		}
		if !hasMain {
			s.removeState(e.name, ReasonOrphanState)
			continue
		}

		size, err := vol.Data.Size(main)
		if err != nil {
			s.removeState(e.name, ReasonUnreadable)
			s.removeData(main, ReasonUnreadable)
			delete(mains, main)
			continue
		}
		if !e.desc.Range.Known() || size != e.desc.Range.Length() {
			s.removeState(e.name, ReasonLengthMismatch)
			s.removeData(main, ReasonLengthMismatch)
			delete(mains, main)
			continue
		}

		state := e.state
		if state == cache.StateIncomplete {
			// every byte made it to disk before the crash
			if err := promote(vol, e.desc); err != nil {
				m.logger.WithError(err).WithField("name", e.name).Warn("Failed to promote complete block")
				s.removeState(e.name, ReasonUnreadable)
				s.removeData(main, ReasonUnreadable)
				delete(mains, main)
				continue
			}
			state = cache.StateComplete
		}

		id := idOf(e.desc)
		f, ok := files[id]
		if !ok {
			f = cache.NewFile(vol, types.TierDisk, e.desc, cache.Unknown, cache.WithClock(m.clock))
			files[id] = f
			order = append(order, id)
		}
		if _, err := f.AttachBlock(e.desc.Range, state); err != nil {
			s.removeState(e.desc.StateName(state), ReasonOverlap)
			s.removeData(main, ReasonOverlap)
			delete(mains, main)
			continue
		}
		mains[main] = true
	}

	for name, claimed := range mains {
		if !claimed {
			s.removeData(name, ReasonOrphanData)
		}
	}

	res := &volumeResult{removed: s.removed}
	for _, id := range order {
		f := files[id]
		if len(f.Blocks()) == 0 {
			continue
		}
		f.Seal()
		res.files = append(res.files, f)
	}
	return res, nil
}

// promote turns the INCOMPLETE marker of a fully written block into COMPLETE.
func promote(vol *cache.Volume, d cache.Descriptor) error {
	if err := vol.State.Touch(d.StateName(cache.StateComplete)); err != nil {
		return err
	}
	return vol.State.Remove(d.StateName(cache.StateIncomplete))
}
