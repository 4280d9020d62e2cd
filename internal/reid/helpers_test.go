package reid

import (
	"testing"
	"time"

	"github.com/rickyjs1955/wandr-sub001/internal/config"
)

// Shared fixtures for the reid package tests. The mall layout is a small
// star around the atrium plus a dead-end cinema corridor:
//
//	ent-north -- atrium -- food -- cinema
//	               |
//	            ent-west
const testMall = "mall-1"

func testPins() []CameraPin {
	return []CameraPin{
		{
			ID: "cam-ent-north", MallID: testMall, Name: "North Entrance", Kind: PinEntrance,
			AdjacentTo: []string{"cam-atrium"},
		},
		{
			ID: "cam-ent-west", MallID: testMall, Name: "West Entrance", Kind: PinEntrance,
			AdjacentTo: []string{"cam-atrium"},
			DistanceM:  map[string]float64{"cam-atrium": 60},
		},
		{
			ID: "cam-atrium", MallID: testMall, Name: "Atrium", Kind: PinNormal,
			AdjacentTo: []string{"cam-ent-north", "cam-ent-west", "cam-food"},
			Transit:    map[string]TransitParams{"cam-food": {MuSec: 45, TauSec: 12}},
		},
		{
			ID: "cam-food", MallID: testMall, Name: "Food Court", Kind: PinNormal,
			AdjacentTo: []string{"cam-atrium", "cam-cinema"},
		},
		{
			ID: "cam-cinema", MallID: testMall, Name: "Cinema Corridor", Kind: PinNormal,
			AdjacentTo: []string{"cam-food"},
		},
	}
}

func testTopo(t *testing.T, cfg *config.Config) *TopologyIndex {
	t.Helper()
	topo, err := BuildTopologyIndex(testMall, testPins(), cfg)
	if err != nil {
		t.Fatalf("BuildTopologyIndex: %v", err)
	}
	return topo
}

// testTracklet builds a fully observable tracklet with a distinctive but
// consistent appearance, suitable as a "same person" baseline.
func testTracklet(id, pinID string, tIn time.Time, dwell time.Duration) Tracklet {
	return Tracklet{
		ID:      id,
		MallID:  testMall,
		PinID:   pinID,
		VideoID: "vid-" + id,
		TIn:     tIn,
		TOut:    tIn.Add(dwell),
		Outfit: Outfit{
			Top:    Garment{Type: GarmentTShirt, ColorLAB: LAB{52, 40, 30}, Visible: true},
			Bottom: Garment{Type: GarmentJeans, ColorLAB: LAB{30, 5, -25}, Visible: true},
			Shoes:  Garment{Type: GarmentSneaker, ColorLAB: LAB{88, 0, 2}, Visible: true},
		},
		Embedding: []float32{0.6, 0.8, 0},
		Physique:  Physique{HeightCategory: HeightMedium, AspectRatio: 0.42},
		Quality:   0.9,
	}
}

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }
