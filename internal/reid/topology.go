package reid

import (
	"fmt"
	"math"
	"sort"

	"github.com/katalvlaran/lvlath/bfs"
	"github.com/katalvlaran/lvlath/core"

	"github.com/rickyjs1955/wandr-sub001/internal/config"
)

// HopInfinite is the hop distance reported for pins more than two hops
// apart; the engine never considers such pairs.
const HopInfinite = math.MaxInt32

// defaultHopDistanceM is the nominal walking distance between adjacent
// cameras when the pin carries no measured distance. With the default
// walking speed of 1.2 m/s this yields a μ of 30s per hop.
const defaultHopDistanceM = 36.0

// TopologyIndex answers neighbourhood, hop-distance and transit-plausibility
// queries for one mall's camera graph. Built once per run from the pin set
// and immutable afterwards, so workers can query it without locks.
type TopologyIndex struct {
	mallID    string
	pins      map[string]*CameraPin
	entrances map[string]bool

	// hops and transits are keyed by directed pair "a|b" and only hold
	// entries for pairs within two hops.
	hops     map[string]int
	transits map[string]TransitParams
}

func pairKey(a, b string) string { return a + "|" + b }

// BuildTopologyIndex constructs the index from the mall's pin set,
// precomputing μ/τ for every directed pair within two hops.
//
// 1-hop μ comes from the pin's annotated transit params when present,
// otherwise from walking distance over the configured walking speed.
// 2-hop μ sums the 1-hop μ's along the shortest path; 2-hop τ is the base
// tolerance scaled by √2 (wider tolerance for blind-spot traversals, a
// tunable assumption).
func BuildTopologyIndex(mallID string, pins []CameraPin, cfg *config.Config) (*TopologyIndex, error) {
	idx := &TopologyIndex{
		mallID:    mallID,
		pins:      make(map[string]*CameraPin, len(pins)),
		entrances: make(map[string]bool),
		hops:      make(map[string]int),
		transits:  make(map[string]TransitParams),
	}

	for i := range pins {
		pin := &pins[i]
		if pin.ID == "" {
			return nil, dataModelErrorf(mallID, "", "", "camera pin with empty id")
		}
		if _, dup := idx.pins[pin.ID]; dup {
			return nil, dataModelErrorf(mallID, "", pin.ID, "duplicate camera pin")
		}
		idx.pins[pin.ID] = pin
		if pin.Kind == PinEntrance {
			idx.entrances[pin.ID] = true
		}
	}

	// Adjacency must be symmetric and closed over the pin set.
	for _, pin := range idx.pins {
		for _, nb := range pin.AdjacentTo {
			other, ok := idx.pins[nb]
			if !ok {
				return nil, dataModelErrorf(mallID, "", nb,
					"pin %s adjacent to unknown pin", pin.ID)
			}
			if !containsString(other.AdjacentTo, pin.ID) {
				return nil, dataModelErrorf(mallID, "", pin.ID,
					"asymmetric adjacency: %s lists %s but not vice versa", pin.ID, nb)
			}
		}
	}

	g, err := core.NewMixedGraph()
	if err != nil {
		return nil, fmt.Errorf("topology graph: %w", err)
	}
	for id := range idx.pins {
		if err := g.AddVertex(id); err != nil {
			return nil, fmt.Errorf("topology graph vertex %s: %w", id, err)
		}
	}
	for _, pin := range idx.pins {
		for _, nb := range pin.AdjacentTo {
			if pin.ID < nb { // undirected, add each pair once
				if _, err := g.AddEdge(pin.ID, nb, 0); err != nil {
					return nil, fmt.Errorf("topology graph edge %s-%s: %w", pin.ID, nb, err)
				}
			}
		}
	}

	// BFS from every pin, limited to two hops, records hop distances and
	// the parent links needed to sum 2-hop μ along the shortest path.
	ids := make([]string, 0, len(idx.pins))
	for id := range idx.pins {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, from := range ids {
		res, err := bfs.BFS(g, from, bfs.WithMaxDepth(2))
		if err != nil {
			return nil, fmt.Errorf("topology bfs from %s: %w", from, err)
		}
		for to, depth := range res.Depth {
			if to == from || depth == 0 || depth > 2 {
				continue
			}
			idx.hops[pairKey(from, to)] = depth
			switch depth {
			case 1:
				tp := idx.oneHopParams(from, to, cfg)
				if tp.MuSec < 0 || tp.TauSec <= 0 {
					return nil, dataModelErrorf(mallID, "", from,
						"invalid transit params %s->%s: mu=%.1f tau=%.1f", from, to, tp.MuSec, tp.TauSec)
				}
				idx.transits[pairKey(from, to)] = tp
			case 2:
				mid := res.Parent[to]
				first := idx.oneHopParams(from, mid, cfg)
				second := idx.oneHopParams(mid, to, cfg)
				idx.transits[pairKey(from, to)] = TransitParams{
					MuSec:  first.MuSec + second.MuSec,
					TauSec: cfg.GetTimeToleranceSec() * math.Sqrt2,
				}
			}
		}
	}

	return idx, nil
}

// oneHopParams resolves μ/τ for a directly adjacent pair. Annotated values
// win; either direction's annotation is accepted since walking time is
// symmetric at this granularity.
func (x *TopologyIndex) oneHopParams(a, b string, cfg *config.Config) TransitParams {
	if tp, ok := x.pins[a].Transit[b]; ok {
		return tp
	}
	if tp, ok := x.pins[b].Transit[a]; ok {
		return tp
	}
	dist := defaultHopDistanceM
	if d, ok := x.pins[a].DistanceM[b]; ok {
		dist = d
	} else if d, ok := x.pins[b].DistanceM[a]; ok {
		dist = d
	}
	return TransitParams{
		MuSec:  dist / cfg.GetWalkSpeedMS(),
		TauSec: cfg.GetTimeToleranceSec(),
	}
}

// Pin returns the pin record, or a DataModelError if the id is unknown.
// A tracklet referencing a missing pin aborts the run.
func (x *TopologyIndex) Pin(id string) (*CameraPin, error) {
	pin, ok := x.pins[id]
	if !ok {
		return nil, dataModelErrorf(x.mallID, "", id, "pin not in topology")
	}
	return pin, nil
}

// HasPin reports whether the pin id exists in the index.
func (x *TopologyIndex) HasPin(id string) bool {
	_, ok := x.pins[id]
	return ok
}

// Neighbours returns the 1-hop neighbour ids of a pin, sorted for
// deterministic iteration.
func (x *TopologyIndex) Neighbours(id string) []string {
	pin, ok := x.pins[id]
	if !ok {
		return nil
	}
	out := make([]string, len(pin.AdjacentTo))
	copy(out, pin.AdjacentTo)
	sort.Strings(out)
	return out
}

// HopDistance returns 1, 2 or HopInfinite for a pin pair. Values of three
// hops or more collapse to HopInfinite.
func (x *TopologyIndex) HopDistance(a, b string) int {
	if a == b {
		return 0
	}
	if d, ok := x.hops[pairKey(a, b)]; ok {
		return d
	}
	return HopInfinite
}

// TransitParams returns the precomputed μ/τ for a pair within two hops.
func (x *TopologyIndex) TransitParams(a, b string) (TransitParams, bool) {
	tp, ok := x.transits[pairKey(a, b)]
	return tp, ok
}

// PinsWithinTwoHops returns the pins reachable in one or two hops from id,
// sorted for deterministic scans.
func (x *TopologyIndex) PinsWithinTwoHops(id string) []string {
	var out []string
	for key, d := range x.hops {
		if d > 2 {
			continue
		}
		if len(key) > len(id) && key[:len(id)] == id && key[len(id)] == '|' {
			out = append(out, key[len(id)+1:])
		}
	}
	sort.Strings(out)
	return out
}

// IsEntrance reports whether the pin is a designated entrance.
func (x *TopologyIndex) IsEntrance(id string) bool {
	return x.entrances[id]
}

// EntranceCount returns the number of entrance pins, used in run stats.
func (x *TopologyIndex) EntranceCount() int {
	return len(x.entrances)
}

// PinCount returns the number of pins in the index.
func (x *TopologyIndex) PinCount() int {
	return len(x.pins)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
