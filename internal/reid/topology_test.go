package reid

import (
	"math"
	"testing"

	"github.com/rickyjs1955/wandr-sub001/internal/config"
)

func TestTopologyHopDistances(t *testing.T) {
	topo := testTopo(t, config.Default())

	cases := []struct {
		a, b string
		want int
	}{
		{"cam-atrium", "cam-atrium", 0},
		{"cam-ent-north", "cam-atrium", 1},
		{"cam-atrium", "cam-ent-north", 1},
		{"cam-ent-north", "cam-food", 2},
		{"cam-ent-north", "cam-ent-west", 2},
		{"cam-ent-west", "cam-food", 2},
		{"cam-ent-north", "cam-cinema", HopInfinite},
		{"cam-atrium", "cam-cinema", 2},
	}
	for _, tc := range cases {
		if got := topo.HopDistance(tc.a, tc.b); got != tc.want {
			t.Errorf("HopDistance(%s, %s) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}

	if topo.PinCount() != 5 {
		t.Errorf("PinCount = %d, want 5", topo.PinCount())
	}
	if topo.EntranceCount() != 2 {
		t.Errorf("EntranceCount = %d, want 2", topo.EntranceCount())
	}
	if !topo.IsEntrance("cam-ent-north") || topo.IsEntrance("cam-atrium") {
		t.Errorf("entrance classification wrong")
	}
}

func TestTopologyTransitParams(t *testing.T) {
	cfg := config.Default() // walk 1.2 m/s, tolerance 30s
	topo := testTopo(t, cfg)

	// Annotated edge wins in both directions.
	tp, ok := topo.TransitParams("cam-atrium", "cam-food")
	if !ok || tp.MuSec != 45 || tp.TauSec != 12 {
		t.Errorf("atrium->food = %+v, want {45 12}", tp)
	}
	tp, ok = topo.TransitParams("cam-food", "cam-atrium")
	if !ok || tp.MuSec != 45 || tp.TauSec != 12 {
		t.Errorf("food->atrium = %+v, want {45 12}", tp)
	}

	// Unannotated edge derives from the default hop distance: 36m / 1.2 m/s.
	tp, ok = topo.TransitParams("cam-ent-north", "cam-atrium")
	if !ok || tp.MuSec != 30 || tp.TauSec != 30 {
		t.Errorf("ent-north->atrium = %+v, want {30 30}", tp)
	}

	// Distance-annotated edge derives from the measured distance: 60m / 1.2.
	tp, ok = topo.TransitParams("cam-ent-west", "cam-atrium")
	if !ok || tp.MuSec != 50 || tp.TauSec != 30 {
		t.Errorf("ent-west->atrium = %+v, want {50 30}", tp)
	}

	// Two-hop params sum the per-hop μ and widen τ.
	tp, ok = topo.TransitParams("cam-ent-north", "cam-food")
	if !ok {
		t.Fatalf("no transit params for ent-north->food")
	}
	if tp.MuSec != 75 {
		t.Errorf("two-hop mu = %v, want 75", tp.MuSec)
	}
	if math.Abs(tp.TauSec-30*math.Sqrt2) > 1e-9 {
		t.Errorf("two-hop tau = %v, want 30*sqrt2", tp.TauSec)
	}

	if _, ok := topo.TransitParams("cam-ent-north", "cam-cinema"); ok {
		t.Errorf("three-hop pair should have no transit params")
	}
}

func TestTopologyNeighboursAndScan(t *testing.T) {
	topo := testTopo(t, config.Default())

	nbs := topo.Neighbours("cam-atrium")
	want := []string{"cam-ent-north", "cam-ent-west", "cam-food"}
	if len(nbs) != len(want) {
		t.Fatalf("Neighbours(atrium) = %v, want %v", nbs, want)
	}
	for i := range want {
		if nbs[i] != want[i] {
			t.Fatalf("Neighbours(atrium) = %v, want %v", nbs, want)
		}
	}

	within := topo.PinsWithinTwoHops("cam-ent-north")
	wantWithin := []string{"cam-atrium", "cam-ent-west", "cam-food"}
	if len(within) != len(wantWithin) {
		t.Fatalf("PinsWithinTwoHops = %v, want %v", within, wantWithin)
	}
	for i := range wantWithin {
		if within[i] != wantWithin[i] {
			t.Fatalf("PinsWithinTwoHops = %v, want %v", within, wantWithin)
		}
	}
}

func TestTopologyRejectsBadInputs(t *testing.T) {
	cfg := config.Default()

	t.Run("duplicate pin", func(t *testing.T) {
		pins := testPins()
		pins = append(pins, CameraPin{ID: "cam-atrium", MallID: testMall, Kind: PinNormal})
		if _, err := BuildTopologyIndex(testMall, pins, cfg); !IsDataModelError(err) {
			t.Errorf("duplicate pin: err = %v, want DataModelError", err)
		}
	})

	t.Run("empty pin id", func(t *testing.T) {
		pins := append(testPins(), CameraPin{MallID: testMall, Kind: PinNormal})
		if _, err := BuildTopologyIndex(testMall, pins, cfg); !IsDataModelError(err) {
			t.Errorf("empty pin id: err = %v, want DataModelError", err)
		}
	})

	t.Run("unknown neighbour", func(t *testing.T) {
		pins := testPins()
		pins[4].AdjacentTo = append(pins[4].AdjacentTo, "cam-ghost")
		if _, err := BuildTopologyIndex(testMall, pins, cfg); !IsDataModelError(err) {
			t.Errorf("unknown neighbour: err = %v, want DataModelError", err)
		}
	})

	t.Run("asymmetric adjacency", func(t *testing.T) {
		pins := testPins()
		// cinema lists food but food forgets cinema.
		pins[3].AdjacentTo = []string{"cam-atrium"}
		if _, err := BuildTopologyIndex(testMall, pins, cfg); !IsDataModelError(err) {
			t.Errorf("asymmetric adjacency: err = %v, want DataModelError", err)
		}
	})

	t.Run("invalid annotated transit", func(t *testing.T) {
		pins := testPins()
		pins[2].Transit["cam-food"] = TransitParams{MuSec: 45, TauSec: 0}
		if _, err := BuildTopologyIndex(testMall, pins, cfg); !IsDataModelError(err) {
			t.Errorf("zero tau: err = %v, want DataModelError", err)
		}
	})
}

func TestTopologyPinLookup(t *testing.T) {
	topo := testTopo(t, config.Default())

	pin, err := topo.Pin("cam-food")
	if err != nil {
		t.Fatalf("Pin(cam-food): %v", err)
	}
	if pin.Name != "Food Court" {
		t.Errorf("pin name = %q, want Food Court", pin.Name)
	}

	if _, err := topo.Pin("cam-ghost"); !IsDataModelError(err) {
		t.Errorf("missing pin: err = %v, want DataModelError", err)
	}
	if topo.HasPin("cam-ghost") {
		t.Errorf("HasPin(cam-ghost) = true")
	}
}
