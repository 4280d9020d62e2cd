package reid

import (
	"crypto/sha1"
	"fmt"
	"math"
	"time"
)

// Fingerprint returns the stable hash of a discretised outfit. Colors are
// quantized to 10-unit LAB cells so small extraction jitter maps to the
// same fingerprint. The hash deliberately ignores embeddings and physique:
// it exists to spot shared outfits (uniforms, generic combos), not people.
func (o Outfit) Fingerprint() string {
	h := sha1.New()
	for _, g := range o.Slots() {
		typ := NormalizeGarmentType(g.Type)
		fmt.Fprintf(h, "%s|%d|%d|%d;", typ, quantizeLAB(g.ColorLAB.L), quantizeLAB(g.ColorLAB.A), quantizeLAB(g.ColorLAB.B))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

func quantizeLAB(v float64) int {
	return int(math.Floor(v / 10))
}

// HourBucket returns the UTC hour bucket key for frequent-outfit counting,
// e.g. "2026-08-25T14".
func HourBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02T15")
}

// FrequentOutfitTable is a read-only snapshot of outfit fingerprint counts
// per hour bucket for one mall. It is assembled before the worker pool
// starts and never mutated during scoring; deltas observed during the run
// are collected separately and published through FrequentOutfitSink.
type FrequentOutfitTable struct {
	mallID string
	counts map[string]int // key: fingerprint + "@" + hourBucket
}

// NewFrequentOutfitTable builds a snapshot table from per-bucket counts.
func NewFrequentOutfitTable(mallID string) *FrequentOutfitTable {
	return &FrequentOutfitTable{
		mallID: mallID,
		counts: make(map[string]int),
	}
}

// Merge adds one hour bucket's counts into the snapshot.
func (ft *FrequentOutfitTable) Merge(hourBucket string, counts map[string]int) {
	for fp, n := range counts {
		ft.counts[fp+"@"+hourBucket] += n
	}
}

// Count returns the observed occurrences of a fingerprint in an hour
// bucket.
func (ft *FrequentOutfitTable) Count(fingerprint, hourBucket string) int {
	return ft.counts[fingerprint+"@"+hourBucket]
}

// IsFrequent reports whether a fingerprint exceeds the threshold within
// the hour bucket of the given time.
func (ft *FrequentOutfitTable) IsFrequent(fingerprint string, at time.Time, threshold int) bool {
	return ft.Count(fingerprint, HourBucket(at)) > threshold
}

// OutfitDelta is one frequent-outfit counter increment produced by a run.
type OutfitDelta struct {
	MallID      string
	Fingerprint string
	HourBucket  string
	By          int
}

// CooldownRegistry records, per (visitor, pin), the time of the last
// accepted link. It is owned by the arbitration coordinator; workers never
// touch it.
type CooldownRegistry struct {
	last map[string]time.Time // key: visitorKey + "@" + pinID
}

// NewCooldownRegistry returns an empty registry.
func NewCooldownRegistry() *CooldownRegistry {
	return &CooldownRegistry{last: make(map[string]time.Time)}
}

// Blocked reports whether a new link for visitorKey onto pinID at linkTime
// falls inside the cooldown window of a previously accepted link.
func (c *CooldownRegistry) Blocked(visitorKey, pinID string, linkTime time.Time, cooldown time.Duration) bool {
	prev, ok := c.last[visitorKey+"@"+pinID]
	if !ok {
		return false
	}
	return linkTime.Sub(prev) < cooldown
}

// Record stores the accepted link time for (visitorKey, pinID).
func (c *CooldownRegistry) Record(visitorKey, pinID string, linkTime time.Time) {
	c.last[visitorKey+"@"+pinID] = linkTime
}
