package reid

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/rickyjs1955/wandr-sub001/internal/config"
)

// memStore is an in-memory implementation of every engine interface.
type memStore struct {
	pins      []CameraPin
	tracklets []Tracklet
	snapshots map[string]map[string]int // hour bucket -> fingerprint -> count

	associations []Association
	assocWrites  int
	journeys     []Journey
	increments   map[string]int

	// failAssocWrites makes the first n association writes fail, for
	// exercising the retry path.
	failAssocWrites int
}

func newMemStore(pins []CameraPin, tracklets []Tracklet) *memStore {
	return &memStore{
		pins:       pins,
		tracklets:  tracklets,
		snapshots:  make(map[string]map[string]int),
		increments: make(map[string]int),
	}
}

func (m *memStore) Fetch(_ context.Context, mallID string, from, to time.Time) ([]Tracklet, error) {
	var out []Tracklet
	for _, t := range m.tracklets {
		if t.MallID == mallID && !t.TIn.Before(from) && t.TIn.Before(to) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) Load(_ context.Context, mallID string) ([]CameraPin, error) {
	var out []CameraPin
	for _, p := range m.pins {
		if p.MallID == mallID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) Snapshot(_ context.Context, _ string, hourBucket string) (map[string]int, error) {
	return m.snapshots[hourBucket], nil
}

func (m *memStore) WriteAssociations(_ context.Context, _ string, batch []Association) error {
	m.assocWrites++
	if m.failAssocWrites > 0 {
		m.failAssocWrites--
		return fmt.Errorf("simulated association write failure")
	}
	m.associations = append([]Association(nil), batch...)
	return nil
}

func (m *memStore) WriteJourneys(_ context.Context, batch []Journey) error {
	m.journeys = append([]Journey(nil), batch...)
	return nil
}

func (m *memStore) IncrementOutfit(_ context.Context, _, fingerprint, hourBucket string, by int) error {
	m.increments[fingerprint+"@"+hourBucket] += by
	return nil
}

func testEngine(store *memStore, cfg *config.Config) *Engine {
	return &Engine{
		Tracklets:    store,
		Topology:     store,
		Outfits:      store,
		Associations: store,
		Journeys:     store,
		OutfitSink:   store,
		Config:       cfg,
	}
}

// chainTracklets is one person walking ent-north -> atrium -> food with
// transit gaps sitting exactly on the expected μ per hop.
func chainTracklets() []Tracklet {
	return []Tracklet{
		testTracklet("tr-1", "cam-ent-north", testT0, 20*time.Second),
		testTracklet("tr-2", "cam-atrium", testT0.Add(50*time.Second), 20*time.Second),
		testTracklet("tr-3", "cam-food", testT0.Add(115*time.Second), 30*time.Second),
	}
}

func runWindow() (time.Time, time.Time) {
	return testT0.Add(-time.Minute), testT0.Add(10 * time.Minute)
}

func TestEngineRunLinksChain(t *testing.T) {
	store := newMemStore(testPins(), chainTracklets())
	eng := testEngine(store, config.Default())

	from, to := runWindow()
	stats, err := eng.Run(context.Background(), testMall, from, to)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.TrackletCount != 3 || stats.Linked != 2 || stats.NewVisitors != 1 || stats.Ambiguous != 0 {
		t.Errorf("stats = %+v, want 3 tracklets, 2 linked, 1 new visitor", stats)
	}
	if stats.JourneysEmitted != 1 || stats.OrphanChains != 0 {
		t.Errorf("journeys = %d orphans = %d, want 1/0", stats.JourneysEmitted, stats.OrphanChains)
	}

	if len(store.associations) != 3 {
		t.Fatalf("associations written = %d, want one per target", len(store.associations))
	}
	// Canonical order: by target id.
	byTarget := map[string]Association{}
	for i, a := range store.associations {
		byTarget[a.ToTrackletID] = a
		if i > 0 && store.associations[i-1].ToTrackletID > a.ToTrackletID {
			t.Errorf("associations not in canonical order")
		}
	}
	if a := byTarget["tr-1"]; a.Decision != DecisionNewVisitor || a.FromTrackletID != "" {
		t.Errorf("tr-1 association = %+v, want new_visitor without source", a)
	}
	if a := byTarget["tr-2"]; a.Decision != DecisionLinked || a.FromTrackletID != "tr-1" {
		t.Errorf("tr-2 association = %+v, want linked from tr-1", a)
	}
	if a := byTarget["tr-3"]; a.Decision != DecisionLinked || a.FromTrackletID != "tr-2" {
		t.Errorf("tr-3 association = %+v, want linked from tr-2", a)
	}
	// tr-3 saw both tr-2 (1 hop) and tr-1 (2 hops).
	if byTarget["tr-3"].CandidateCount != 2 {
		t.Errorf("tr-3 candidate count = %d, want 2", byTarget["tr-3"].CandidateCount)
	}

	if len(store.journeys) != 1 {
		t.Fatalf("journeys written = %d, want 1", len(store.journeys))
	}
	j := store.journeys[0]
	if len(j.Path) != 3 || j.EntryPoint != "cam-ent-north" || j.Closed {
		t.Errorf("journey = %+v, want open 3-step journey from cam-ent-north", j)
	}

	// All three sightings share one outfit in one hour bucket.
	if len(store.increments) != 1 {
		t.Fatalf("outfit increments = %v, want a single fingerprint bucket", store.increments)
	}
	for _, n := range store.increments {
		if n != 3 {
			t.Errorf("increment = %d, want 3", n)
		}
	}
}

func TestEngineRunUniformCollision(t *testing.T) {
	// Two people in identical outfits enter 2s apart and reach the atrium
	// 2s apart. Neither target can separate its two near-equal candidates,
	// so both stay unmerged as ambiguous.
	tracklets := []Tracklet{
		testTracklet("tr-a1", "cam-ent-north", testT0, 5*time.Second),
		testTracklet("tr-a2", "cam-ent-north", testT0.Add(2*time.Second), 5*time.Second),
		testTracklet("tr-b1", "cam-atrium", testT0.Add(40*time.Second), 10*time.Second),
		testTracklet("tr-b2", "cam-atrium", testT0.Add(42*time.Second), 10*time.Second),
	}
	store := newMemStore(testPins(), tracklets)
	eng := testEngine(store, config.Default())

	from, to := runWindow()
	stats, err := eng.Run(context.Background(), testMall, from, to)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Linked != 0 || stats.Ambiguous != 2 {
		t.Errorf("linked = %d ambiguous = %d, want 0/2", stats.Linked, stats.Ambiguous)
	}
	// The two entrance sightings still anchor their own journeys; the
	// unattached atrium sightings are orphans.
	if stats.JourneysEmitted != 2 || stats.OrphanChains != 2 {
		t.Errorf("journeys = %d orphans = %d, want 2/2", stats.JourneysEmitted, stats.OrphanChains)
	}
	if store.journeys[0].VisitorID == store.journeys[1].VisitorID {
		t.Errorf("distinct entrants must keep distinct visitor ids")
	}
}

func TestEngineRunDeterministic(t *testing.T) {
	from, to := runWindow()

	run := func() ([]Association, []Journey) {
		store := newMemStore(testPins(), chainTracklets())
		eng := testEngine(store, config.Default())
		if _, err := eng.Run(context.Background(), testMall, from, to); err != nil {
			t.Fatalf("Run: %v", err)
		}
		return store.associations, store.journeys
	}

	assoc1, journeys1 := run()
	assoc2, journeys2 := run()

	if diff := cmp.Diff(assoc1, assoc2); diff != "" {
		t.Errorf("associations differ between identical runs:\n%s", diff)
	}
	if diff := cmp.Diff(journeys1, journeys2); diff != "" {
		t.Errorf("journeys differ between identical runs:\n%s", diff)
	}
}

func TestEngineRunEmptyWindow(t *testing.T) {
	store := newMemStore(testPins(), nil)
	eng := testEngine(store, config.Default())

	from, to := runWindow()
	stats, err := eng.Run(context.Background(), testMall, from, to)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.TrackletCount != 0 || stats.JourneysEmitted != 0 {
		t.Errorf("stats = %+v, want empty", stats)
	}
	if len(store.associations) != 0 || len(store.journeys) != 0 || len(store.increments) != 0 {
		t.Errorf("empty window must publish empty outputs")
	}
}

func TestEngineRunInvalidConfig(t *testing.T) {
	store := newMemStore(testPins(), chainTracklets())
	eng := testEngine(store, &config.Config{CooldownSec: fptr(5)})

	from, to := runWindow()
	if _, err := eng.Run(context.Background(), testMall, from, to); !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("err = %v, want ErrConfigInvalid", err)
	}
	if store.assocWrites != 0 {
		t.Errorf("invalid config must not reach the sinks")
	}
}

func TestEngineRunDataModelViolation(t *testing.T) {
	tracklets := chainTracklets()
	tracklets[1].PinID = "cam-ghost"
	store := newMemStore(testPins(), tracklets)
	eng := testEngine(store, config.Default())

	from, to := runWindow()
	if _, err := eng.Run(context.Background(), testMall, from, to); !IsDataModelError(err) {
		t.Errorf("err = %v, want DataModelError", err)
	}
	if store.assocWrites != 0 || len(store.journeys) != 0 {
		t.Errorf("aborted batch must write nothing")
	}
}

func TestEngineRunCancelled(t *testing.T) {
	store := newMemStore(testPins(), chainTracklets())
	eng := testEngine(store, config.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	from, to := runWindow()
	if _, err := eng.Run(ctx, testMall, from, to); !errors.Is(err, ErrCancelled) {
		t.Errorf("err = %v, want ErrCancelled", err)
	}
	if store.assocWrites != 0 || len(store.journeys) != 0 || len(store.increments) != 0 {
		t.Errorf("cancelled batch must write nothing")
	}
}

func TestEngineSinkRetry(t *testing.T) {
	from, to := runWindow()

	t.Run("transient failure recovers", func(t *testing.T) {
		store := newMemStore(testPins(), chainTracklets())
		store.failAssocWrites = 2
		eng := testEngine(store, config.Default())

		if _, err := eng.Run(context.Background(), testMall, from, to); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if store.assocWrites != 3 {
			t.Errorf("association write attempts = %d, want 3", store.assocWrites)
		}
		if len(store.associations) != 3 {
			t.Errorf("associations not written after recovery")
		}
	})

	t.Run("persistent failure surfaces", func(t *testing.T) {
		store := newMemStore(testPins(), chainTracklets())
		store.failAssocWrites = 3
		eng := testEngine(store, config.Default())

		if _, err := eng.Run(context.Background(), testMall, from, to); !errors.Is(err, ErrSinkFailure) {
			t.Errorf("err = %v, want ErrSinkFailure", err)
		}
		if len(store.journeys) != 0 {
			t.Errorf("journeys must not be written after an association sink failure")
		}
	})
}

func TestEngineFrequentOutfitFeedback(t *testing.T) {
	// Seed the snapshot so the chain's shared outfit is already frequent;
	// the pre-score penalty alone must not break a clean chain.
	tracklets := chainTracklets()
	fp := tracklets[0].Outfit.Fingerprint()

	store := newMemStore(testPins(), tracklets)
	store.snapshots[HourBucket(testT0)] = map[string]int{fp: 20}
	eng := testEngine(store, config.Default())

	from, to := runWindow()
	stats, err := eng.Run(context.Background(), testMall, from, to)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Linked != 2 {
		t.Errorf("linked = %d, want 2: frequency demotes pre-scores only", stats.Linked)
	}
}

func TestPrepareTrackletsValidation(t *testing.T) {
	topo := testTopo(t, config.Default())

	t.Run("embedding dimension mismatch", func(t *testing.T) {
		a := testTracklet("tr-1", "cam-atrium", testT0, 20*time.Second)
		b := testTracklet("tr-2", "cam-food", testT0.Add(60*time.Second), 20*time.Second)
		b.Embedding = []float32{1, 0}
		if _, err := prepareTracklets(testMall, []Tracklet{a, b}, topo); !IsDataModelError(err) {
			t.Errorf("err = %v, want DataModelError", err)
		}
	})

	t.Run("invalid time range", func(t *testing.T) {
		a := testTracklet("tr-1", "cam-atrium", testT0, 20*time.Second)
		a.TOut = a.TIn.Add(-time.Second)
		if _, err := prepareTracklets(testMall, []Tracklet{a}, topo); !IsDataModelError(err) {
			t.Errorf("err = %v, want DataModelError", err)
		}
	})

	t.Run("fills fingerprint and sorts", func(t *testing.T) {
		a := testTracklet("tr-2", "cam-atrium", testT0.Add(60*time.Second), 20*time.Second)
		b := testTracklet("tr-1", "cam-food", testT0, 20*time.Second)
		out, err := prepareTracklets(testMall, []Tracklet{a, b}, topo)
		if err != nil {
			t.Fatalf("prepareTracklets: %v", err)
		}
		if out[0].ID != "tr-1" || out[1].ID != "tr-2" {
			t.Errorf("order = [%s %s], want [tr-1 tr-2]", out[0].ID, out[1].ID)
		}
		if out[0].OutfitFingerprint == "" {
			t.Errorf("missing fingerprint should be filled")
		}
	})
}

func TestOutfitDeltas(t *testing.T) {
	a := testTracklet("tr-1", "cam-atrium", testT0, 20*time.Second)
	b := testTracklet("tr-2", "cam-food", testT0.Add(30*time.Second), 20*time.Second)
	c := testTracklet("tr-3", "cam-food", testT0.Add(2*time.Hour), 20*time.Second)
	for _, tr := range []*Tracklet{&a, &b, &c} {
		tr.OutfitFingerprint = tr.Outfit.Fingerprint()
	}

	deltas := outfitDeltas(testMall, []*Tracklet{&a, &b, &c})
	if len(deltas) != 2 {
		t.Fatalf("deltas = %+v, want 2 buckets", deltas)
	}
	if deltas[0].By != 2 || deltas[1].By != 1 {
		t.Errorf("counts = [%d %d], want [2 1]", deltas[0].By, deltas[1].By)
	}
	if deltas[0].HourBucket != HourBucket(testT0) {
		t.Errorf("bucket = %s, want %s", deltas[0].HourBucket, HourBucket(testT0))
	}
}
