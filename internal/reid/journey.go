package reid

import (
	"crypto/sha1"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/rickyjs1955/wandr-sub001/internal/config"
)

// Link is one accepted association edge consumed by the journey builder.
type Link struct {
	Source *Tracklet
	Target *Tracklet
	Score  float64
}

// journeyWeights fuse link strength, path length and timing consistency
// into the journey confidence.
const (
	confWeightLinks  = 0.6
	confWeightLength = 0.2
	confWeightTiming = 0.2
)

// buildJourneys walks the accepted-link graph and materializes journeys
// anchored at entrance pins.
//
// The linked graph must be a disjoint union of simple chains; arbitration
// guarantees at most one incoming edge per target and one outgoing edge
// per source, so a violation here is a bug and aborts the batch. Chains
// whose head is not on an entrance are discarded as orphans (counted, not
// emitted). Returns journeys in canonical order plus the orphan count.
func buildJourneys(mallID string, tracklets []*Tracklet, links []Link, topo *TopologyIndex, cfg *config.Config) ([]Journey, int, error) {
	next := make(map[string]*Link, len(links))
	prev := make(map[string]*Link, len(links))
	for i := range links {
		l := &links[i]
		if _, dup := next[l.Source.ID]; dup {
			return nil, 0, dataModelErrorf(mallID, l.Source.ID, "",
				"link graph branches: source has two outgoing links")
		}
		if _, dup := prev[l.Target.ID]; dup {
			return nil, 0, dataModelErrorf(mallID, l.Target.ID, "",
				"link graph branches: target has two incoming links")
		}
		next[l.Source.ID] = l
		prev[l.Target.ID] = l
	}

	// Chain heads in canonical order.
	heads := make([]*Tracklet, 0, len(tracklets))
	for _, t := range tracklets {
		if _, hasPrev := prev[t.ID]; !hasPrev {
			heads = append(heads, t)
		}
	}
	sort.Slice(heads, func(i, j int) bool {
		if !heads[i].TIn.Equal(heads[j].TIn) {
			return heads[i].TIn.Before(heads[j].TIn)
		}
		return heads[i].ID < heads[j].ID
	})

	idleTimeout := cfg.GetIdleTimeoutSec()

	var journeys []Journey
	orphans := 0

	for _, headTracklet := range heads {
		visited := make(map[string]bool)

		// Split the chain into segments at idle gaps and entrance
		// closures; each segment is a journey candidate.
		seg := segment{tracklets: []*Tracklet{headTracklet}}
		var segments []segment

		cur := headTracklet
		for {
			visited[cur.ID] = true
			l, ok := next[cur.ID]
			if !ok {
				seg.closed = false
				segments = append(segments, seg)
				break
			}
			nxt := l.Target
			if visited[nxt.ID] {
				return nil, 0, dataModelErrorf(mallID, nxt.ID, "", "link graph contains a cycle")
			}

			gap := nxt.TIn.Sub(cur.TOut).Seconds()
			if gap > idleTimeout {
				// Idle timeout closes the earlier half at its last pin.
				seg.closed = true
				seg.exit = cur
				segments = append(segments, seg)
				seg = segment{tracklets: []*Tracklet{nxt}}
				cur = nxt
				continue
			}

			seg.tracklets = append(seg.tracklets, nxt)
			seg.links = append(seg.links, l)

			if topo.IsEntrance(nxt.PinID) {
				// Reaching an entrance closes the journey there; anything
				// after it starts a fresh chain segment.
				seg.closed = true
				seg.exit = nxt
				segments = append(segments, seg)
				seg = segment{}
				if follow, ok := next[nxt.ID]; ok {
					seg.tracklets = []*Tracklet{follow.Target}
					visited[nxt.ID] = true
					// The edge into the new segment head is consumed by
					// the closure; the walk resumes from the follower.
					cur = follow.Target
					continue
				}
				break
			}
			cur = nxt
		}

		for _, s := range segments {
			if len(s.tracklets) == 0 {
				continue
			}
			if !topo.IsEntrance(s.tracklets[0].PinID) {
				orphans++
				continue
			}
			j, err := materializeJourney(mallID, s, topo)
			if err != nil {
				return nil, 0, err
			}
			journeys = append(journeys, j)
		}
	}

	sort.Slice(journeys, func(i, j int) bool {
		if !journeys[i].EntryTime.Equal(journeys[j].EntryTime) {
			return journeys[i].EntryTime.Before(journeys[j].EntryTime)
		}
		return journeys[i].ID < journeys[j].ID
	})
	return journeys, orphans, nil
}

type segment struct {
	tracklets []*Tracklet
	links     []*Link
	closed    bool
	exit      *Tracklet
}

func materializeJourney(mallID string, s segment, topo *TopologyIndex) (Journey, error) {
	head := s.tracklets[0]

	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%s|%s", mallID, journeyDate(head.TIn), head.ID)))
	digest := fmt.Sprintf("%x", sum)

	j := Journey{
		ID:         "j-" + digest[16:32],
		VisitorID:  "v-" + digest[:16],
		MallID:     mallID,
		EntryPoint: head.PinID,
		EntryTime:  head.TIn,
		Closed:     s.closed,
	}
	if s.closed && s.exit != nil {
		exitPin := s.exit.PinID
		exitTime := s.exit.TOut
		j.ExitPoint = &exitPin
		j.ExitTime = &exitTime
	}

	for i, t := range s.tracklets {
		pin, err := topo.Pin(t.PinID)
		if err != nil {
			return Journey{}, err
		}
		step := JourneyStep{
			PinID:       t.PinID,
			PinName:     pin.Name,
			TrackletID:  t.ID,
			TIn:         t.TIn,
			TOut:        t.TOut,
			DurationSec: t.TOut.Sub(t.TIn).Seconds(),
		}
		if i > 0 {
			score := s.links[i-1].Score
			step.LinkScore = &score
		}
		j.Path = append(j.Path, step)
	}

	j.Confidence = journeyConfidence(s, topo)
	j.Outfit = summarizeOutfit(s.tracklets)
	return j, nil
}

// journeyConfidence fuses mean link score, a saturating path-length bonus
// that favours 3+ camera paths, and timing consistency: the standard
// deviation of (Δt−μ)/τ across steps, mapped through exp(−std).
func journeyConfidence(s segment, topo *TopologyIndex) float64 {
	meanLink := 0.0
	if len(s.links) > 0 {
		scores := make([]float64, len(s.links))
		for i, l := range s.links {
			scores[i] = l.Score
		}
		meanLink = stat.Mean(scores, nil)
	}

	lengthScore := math.Min(1, float64(len(s.tracklets)-1)/2)

	timingScore := 1.0
	if len(s.links) > 0 {
		zs := make([]float64, 0, len(s.links))
		for _, l := range s.links {
			tp, ok := topo.TransitParams(l.Source.PinID, l.Target.PinID)
			if !ok || tp.TauSec <= 0 {
				continue
			}
			dt := DeltaT(l.Source, l.Target)
			zs = append(zs, (dt-tp.MuSec)/tp.TauSec)
		}
		std := 0.0
		if len(zs) >= 2 {
			std = stat.StdDev(zs, nil)
		}
		timingScore = math.Exp(-std)
	}

	return clamp01(confWeightLinks*meanLink + confWeightLength*lengthScore + confWeightTiming*timingScore)
}

// summarizeOutfit aggregates the journey's tracklets into one outfit:
// majority vote on garment type per slot, quality-weighted mean LAB color.
func summarizeOutfit(tracklets []*Tracklet) OutfitSummary {
	var slots [3]SummaryGarment
	for slot := 0; slot < 3; slot++ {
		votes := make(map[GarmentType]int)
		var wsum float64
		var mean LAB
		for _, t := range tracklets {
			g := t.Outfit.Slots()[slot]
			if !g.Visible {
				continue
			}
			votes[NormalizeGarmentType(g.Type)]++
			w := t.Quality
			if w <= 0 {
				continue
			}
			mean.L += w * g.ColorLAB.L
			mean.A += w * g.ColorLAB.A
			mean.B += w * g.ColorLAB.B
			wsum += w
		}
		if wsum > 0 {
			mean.L /= wsum
			mean.A /= wsum
			mean.B /= wsum
		}
		slots[slot] = SummaryGarment{Type: majorityType(votes), ColorLAB: mean}
	}
	return OutfitSummary{Top: slots[0], Bottom: slots[1], Shoes: slots[2]}
}

// majorityType picks the most voted garment type; ties resolve to the
// lexicographically smallest type so reruns agree.
func majorityType(votes map[GarmentType]int) GarmentType {
	best := GarmentOther
	bestCount := 0
	types := make([]GarmentType, 0, len(votes))
	for t := range votes {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, t := range types {
		if votes[t] > bestCount {
			best = t
			bestCount = votes[t]
		}
	}
	return best
}

// journeyDate is a helper kept close to the id derivation: journeys are
// bucketed by the UTC date of their entry time.
func journeyDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
