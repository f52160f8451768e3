package tier

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/cut-dicl/smacc-sub001/internal/cache"
	"github.com/cut-dicl/smacc-sub001/pkg/types"
)

// Reasons recorded for entries removed during recovery.
const (
	ReasonNoVersionMarker = "missing version marker"
	ReasonUndecodable     = "undecodable name"
	ReasonDuplicateState  = "duplicate state marker"
	ReasonObsolete        = "obsolete"
	ReasonOrphanState     = "state marker without data"
	ReasonOrphanData      = "data without state marker"
	ReasonLengthMismatch  = "length does not match range"
	ReasonUnreadable      = "unreadable"
	ReasonOverlap         = "overlapping block"
	ReasonSuperseded      = "superseded version"
	ReasonNotComplete     = "not complete"
)

// RemovedEntry is a persisted name deleted during recovery.
type RemovedEntry struct {
	Volume int    `json:"volume"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// RecoveryReport describes what a disk recovery rebuilt.
type RecoveryReport struct {
	// Files are the recovered and registered files in bucket and key order.
	Files []*cache.File
	// Removed lists every name deleted because it could not be trusted.
	Removed []RemovedEntry
	// RePush are recovered files whose blocks never reached cold storage.
	RePush []*cache.File
}

// Objects returns the listing view of the recovered files.
func (r *RecoveryReport) Objects() []types.ObjectInfo {
	out := make([]types.ObjectInfo, 0, len(r.Files))
	for _, f := range r.Files {
		out = append(out, f.Info())
	}
	return out
}

// stateRank orders duplicate markers of one block; the higher rank wins.
func stateRank(s cache.State) int {
	switch s {
	case cache.StateObsolete:
		return 3
	case cache.StateComplete:
		return 2
	case cache.StateToBePushed:
		return 1
	default:
		return 0
	}
}

type stateEntry struct {
	name  string
	desc  cache.Descriptor
	state cache.State
}

type fileID struct {
	version int64
	bucket  string
	key     string
	partial bool
}

func idOf(d cache.Descriptor) fileID {
	return fileID{version: d.Version, bucket: d.Bucket, key: d.Key, partial: d.Partial}
}

// scanner removes untrusted names of one volume and records why.
type scanner struct {
	vol     *cache.Volume
	logger  *logrus.Entry
	removed []RemovedEntry
}

func (s *scanner) removeData(name, reason string) {
	s.remove(s.vol.Data.Remove, name, reason)
}

func (s *scanner) removeState(name, reason string) {
	s.remove(s.vol.State.Remove, name, reason)
}

func (s *scanner) remove(fn func(string) error, name, reason string) {
	s.removed = append(s.removed, RemovedEntry{Volume: s.vol.Index, Name: name, Reason: reason})
	entry := s.logger.WithFields(logrus.Fields{"volume": s.vol.Index, "name": name, "reason": reason})
	if err := fn(name); err != nil {
		entry.WithError(err).Warn("Failed to remove untrusted entry")
		return
	}
	entry.Warn("Removed untrusted entry")
}

// states decodes every state marker, keeping the highest ranked marker per
// block. Markers that cannot be decoded are removed.
func (s *scanner) states(ctx context.Context) ([]stateEntry, error) {
	names, err := s.vol.State.List()
	if err != nil {
		s.logger.WithError(err).WithField("volume", s.vol.Index).Warn("Failed to list state markers")
		return nil, nil
	}

	best := make(map[string]stateEntry, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		desc, state, err := cache.ParseStateName(name)
		if err != nil {
			s.removeState(name, ReasonUndecodable)
			continue
		}
		main := desc.MainName()
		cur, ok := best[main]
		switch {
		case !ok:
			best[main] = stateEntry{name: name, desc: desc, state: state}
		case stateRank(state) > stateRank(cur.state):
			s.removeState(cur.name, ReasonDuplicateState)
			best[main] = stateEntry{name: name, desc: desc, state: state}
		default:
			s.removeState(name, ReasonDuplicateState)
		}
	}

	out := make([]stateEntry, 0, len(best))
	for _, e := range best {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}

// newestPerKey keeps the highest version of every bucket and key. The
// returned losers are lower versions of a key that has a newer one.
func newestPerKey(files []*cache.File) (winners, losers []*cache.File) {
	best := make(map[string]*cache.File)
	for _, f := range files {
		cur, ok := best[f.SortKey()]
		if !ok {
			best[f.SortKey()] = f
			continue
		}
		if f.Version() > cur.Version() {
			losers = append(losers, cur)
			best[f.SortKey()] = f
		} else {
			losers = append(losers, f)
		}
	}
	for _, f := range best {
		winners = append(winners, f)
	}
	sort.Slice(winners, func(i, j int) bool { return winners[i].SortKey() < winners[j].SortKey() })
	return winners, losers
}
