package reid

import (
	"context"
	"time"
)

// The core touches the outside world only through these narrow interfaces.
// Implementations live under storage/; tests use in-memory fakes.

// TrackletSource yields the completed tracklets for one mall and time
// window. The sequence is finite and unordered; the engine sorts
// canonically before scoring.
type TrackletSource interface {
	Fetch(ctx context.Context, mallID string, from, to time.Time) ([]Tracklet, error)
}

// TopologyRepo loads the mall's camera pin set, including adjacency and
// any measured transit overrides.
type TopologyRepo interface {
	Load(ctx context.Context, mallID string) ([]CameraPin, error)
}

// FrequentOutfitRepo supplies the outfit fingerprint counts for one hour
// bucket, accumulated by previous runs.
type FrequentOutfitRepo interface {
	Snapshot(ctx context.Context, mallID, hourBucket string) (map[string]int, error)
}

// AssociationSink persists a batch of association audit records. One call
// per batch; the write must be atomic.
type AssociationSink interface {
	WriteAssociations(ctx context.Context, mallID string, batch []Association) error
}

// JourneySink persists a batch of journeys. One call per batch; the write
// must be atomic.
type JourneySink interface {
	WriteJourneys(ctx context.Context, batch []Journey) error
}

// FrequentOutfitSink applies the fingerprint count increments observed
// during a run, feeding the statistics used by subsequent runs.
type FrequentOutfitSink interface {
	IncrementOutfit(ctx context.Context, mallID, fingerprint, hourBucket string, by int) error
}
