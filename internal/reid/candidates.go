package reid

import (
	"math"
	"sort"
	"time"

	"github.com/rickyjs1955/wandr-sub001/internal/config"
)

// minTransitSec is the minimum physically possible camera-to-camera
// transit. Pairs closer in time than this are overlap, not movement.
const minTransitSec = 1.0

// frequentOutfitPenalty down-weights the pre-score of sources wearing an
// outfit that is common in the current hour (uniforms, generic combos).
// They stay in the pool, just less attractive.
const frequentOutfitPenalty = 0.8

// Candidate is one admissible source tracklet for a target, with the cheap
// quantities computed during retrieval so scoring does not repeat them.
type Candidate struct {
	Source   *Tracklet
	Hops     int
	Transit  TransitParams
	DeltaT   float64 // seconds from source t_out to target t_in
	Cosine   float64 // raw embedding cosine, not yet clipped
	PreScore float64
}

// CandidateSet is the retrieval result for one target. PoolSize counts the
// admissible candidates before top-K truncation; the decision stage raises
// its threshold when the pool exceeds the rush-hour trigger.
type CandidateSet struct {
	Target     *Tracklet
	Candidates []Candidate
	PoolSize   int
}

// RushHour reports whether this target's pool triggers the raised match
// threshold.
func (cs *CandidateSet) RushHour(cfg *config.Config) bool {
	return cs.PoolSize > cfg.GetRushHourCandidateTrigger()
}

// sourceIndex holds the batch's tracklets grouped by pin and sorted by
// t_out, for time-range scans. Read-only after construction.
type sourceIndex struct {
	byPin map[string][]*Tracklet
}

func newSourceIndex(tracklets []*Tracklet) *sourceIndex {
	idx := &sourceIndex{byPin: make(map[string][]*Tracklet)}
	for _, t := range tracklets {
		idx.byPin[t.PinID] = append(idx.byPin[t.PinID], t)
	}
	for pin := range idx.byPin {
		list := idx.byPin[pin]
		sort.Slice(list, func(i, j int) bool {
			if !list[i].TOut.Equal(list[j].TOut) {
				return list[i].TOut.Before(list[j].TOut)
			}
			return list[i].ID < list[j].ID
		})
	}
	return idx
}

// scan returns the pin's tracklets with t_out in [from, to], leaning on
// the per-pin sort order.
func (si *sourceIndex) scan(pinID string, from, to time.Time) []*Tracklet {
	list := si.byPin[pinID]
	lo := sort.Search(len(list), func(i int) bool { return !list[i].TOut.Before(from) })
	hi := sort.Search(len(list), func(i int) bool { return list[i].TOut.After(to) })
	if lo >= hi {
		return nil
	}
	return list[lo:hi]
}

// Retriever produces the small admissible candidate set for each target.
// All referenced structures are immutable snapshots, so Candidates is safe
// to call from concurrent workers.
type Retriever struct {
	topo    *TopologyIndex
	sources *sourceIndex
	outfits *FrequentOutfitTable
	cfg     *config.Config
}

// NewRetriever builds a retriever over a fixed source set.
func NewRetriever(topo *TopologyIndex, tracklets []*Tracklet, outfits *FrequentOutfitTable, cfg *config.Config) *Retriever {
	return &Retriever{
		topo:    topo,
		sources: newSourceIndex(tracklets),
		outfits: outfits,
		cfg:     cfg,
	}
}

// Candidates returns at most CandidateTopK admissible sources for the
// target, ordered by descending pre-score. An empty set is a normal
// outcome: the target is simply a new visitor.
//
// A source s is admissible when all of the following hold:
//   - s is on a different camera within two hops of the target's pin
//   - Δt = target.t_in − s.t_out is at least 1s
//   - Δt ≤ μ + 3τ for the pin pair, and Δt ≤ MaxCandidateWindowSec
//   - cosine(s.embedding, target.embedding) ≥ EmbedFloor
func (r *Retriever) Candidates(target *Tracklet) (*CandidateSet, error) {
	if !r.topo.HasPin(target.PinID) {
		return nil, dataModelErrorf(target.MallID, target.ID, target.PinID, "target pin not in topology")
	}

	maxWindow := r.cfg.GetMaxCandidateWindowSec()
	earliest := target.TIn.Add(-time.Duration(maxWindow * float64(time.Second)))
	latest := target.TIn.Add(-time.Duration(minTransitSec * float64(time.Second)))

	var pool []Candidate
	for _, pin := range r.topo.PinsWithinTwoHops(target.PinID) {
		hops := r.topo.HopDistance(pin, target.PinID)
		transit, ok := r.topo.TransitParams(pin, target.PinID)
		if !ok {
			continue
		}
		for _, s := range r.sources.scan(pin, earliest, latest) {
			if s.ID == target.ID {
				continue
			}
			dt := DeltaT(s, target)
			if dt < minTransitSec || dt > maxWindow {
				continue
			}
			if dt > transit.MuSec+3*transit.TauSec {
				continue
			}
			cos := cosine(s.Embedding, target.Embedding)
			if cos < r.cfg.GetEmbedFloor() {
				continue
			}
			pre := 0.7*cos + 0.3*math.Exp(-math.Abs(dt-transit.MuSec)/transit.TauSec)
			if r.outfits.IsFrequent(s.OutfitFingerprint, s.TOut, r.cfg.GetFrequentOutfitThreshold()) {
				pre *= frequentOutfitPenalty
			}
			pool = append(pool, Candidate{
				Source:   s,
				Hops:     hops,
				Transit:  transit,
				DeltaT:   dt,
				Cosine:   cos,
				PreScore: pre,
			})
		}
	}

	sort.Slice(pool, func(i, j int) bool {
		if pool[i].PreScore != pool[j].PreScore {
			return pool[i].PreScore > pool[j].PreScore
		}
		if !pool[i].Source.TOut.Equal(pool[j].Source.TOut) {
			return pool[i].Source.TOut.Before(pool[j].Source.TOut)
		}
		return pool[i].Source.ID < pool[j].Source.ID
	})

	set := &CandidateSet{Target: target, PoolSize: len(pool)}
	if k := r.cfg.GetCandidateTopK(); len(pool) > k {
		pool = pool[:k]
	}
	set.Candidates = pool
	return set, nil
}

// cosine computes the cosine similarity of two embedding vectors,
// accumulating in float64 in index order so results are deterministic.
// Mismatched or empty vectors yield 0.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		av := float64(a[i])
		bv := float64(b[i])
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
