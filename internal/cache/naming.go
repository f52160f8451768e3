package cache

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/cut-dicl/smacc-sub001/pkg/errors"
)

const (
	versionMarker = "##"
	partialSuffix = ".partial"
)

// Descriptor carries every feature encoded in a persisted block name.
//
// Main name:  <version>##<hex(bucket)>#<hex(key)>-<start>-<stop>[.partial]
// State name: <state prefix><main name>
type Descriptor struct {
	Version int64
	Bucket  string
	Key     string
	Range   Range
	Partial bool
}

// MainName returns the name of the data blob.
func (d Descriptor) MainName() string {
	name := fmt.Sprintf("%d%s%s#%s-%d-%d", d.Version, versionMarker,
		hex.EncodeToString([]byte(d.Bucket)), hex.EncodeToString([]byte(d.Key)),
		d.Range.Start, d.Range.Stop)
	if d.Partial {
		name += partialSuffix
	}
	return name
}

// StateName returns the name of the state marker for the given state.
func (d Descriptor) StateName(s State) string {
	return s.Prefix() + d.MainName()
}

// WithRange returns a copy of the descriptor covering r.
func (d Descriptor) WithRange(r Range) Descriptor {
	d.Range = r
	return d
}

// HasVersionMarker reports whether a main-storage name carries the version
// marker written by this package.
func HasVersionMarker(name string) bool {
	return strings.Contains(name, versionMarker)
}

// ParseMainName decodes a data blob name.
func ParseMainName(name string) (Descriptor, error) {
	var d Descriptor
	corrupt := func(reason string) (Descriptor, error) {
		return Descriptor{}, errors.Newf(errors.ErrCodeCorruptEntry, "cannot decode %q: %s", name, reason)
	}

	rest := name
	if strings.HasSuffix(rest, partialSuffix) {
		d.Partial = true
		rest = strings.TrimSuffix(rest, partialSuffix)
	}

	idx := strings.Index(rest, versionMarker)
	if idx <= 0 {
		return corrupt("missing version")
	}
	version, err := strconv.ParseInt(rest[:idx], 10, 64)
	if err != nil || version < 0 {
		return corrupt("bad version")
	}
	d.Version = version
	rest = rest[idx+len(versionMarker):]

	hash := strings.IndexByte(rest, '#')
	if hash <= 0 {
		return corrupt("missing bucket")
	}
	bucket, err := hex.DecodeString(rest[:hash])
	if err != nil {
		return corrupt("bad bucket encoding")
	}
	rest = rest[hash+1:]

	// hex never contains '-', so the first dash ends the key
	dash := strings.IndexByte(rest, '-')
	if dash <= 0 {
		return corrupt("missing key")
	}
	key, err := hex.DecodeString(rest[:dash])
	if err != nil {
		return corrupt("bad key encoding")
	}
	rest = rest[dash+1:]

	// start is never negative, stop may be -1
	dash = strings.IndexByte(rest, '-')
	if dash <= 0 {
		return corrupt("missing range")
	}
	start, err := strconv.ParseInt(rest[:dash], 10, 64)
	if err != nil {
		return corrupt("bad range start")
	}
	stop, err := strconv.ParseInt(rest[dash+1:], 10, 64)
	if err != nil {
		return corrupt("bad range stop")
	}
	d.Range = Range{Start: start, Stop: stop}
	if !d.Range.Valid() {
		return corrupt("invalid range")
	}

	d.Bucket = string(bucket)
	d.Key = string(key)
	return d, nil
}

// ParseStateName decodes a state marker name into its descriptor and state.
func ParseStateName(name string) (Descriptor, State, error) {
	for _, s := range statePrefixes {
		if strings.HasPrefix(name, s.Prefix()) {
			d, err := ParseMainName(strings.TrimPrefix(name, s.Prefix()))
			if err != nil {
				return Descriptor{}, 0, err
			}
			return d, s, nil
		}
	}
	return Descriptor{}, 0, errors.Newf(errors.ErrCodeCorruptEntry, "cannot decode %q: unknown state prefix", name)
}
