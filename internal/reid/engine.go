package reid

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickyjs1955/wandr-sub001/internal/config"
)

// sinkRetryAttempts bounds retries on transient sink failures.
const sinkRetryAttempts = 3

// sinkRetryBackoff is the base backoff between sink retries; attempt n
// waits n times this.
const sinkRetryBackoff = 250 * time.Millisecond

// Engine runs one re-identification batch for a (mall, time window):
// candidate retrieval and scoring fan out across a worker pool, then a
// single coordinator arbitrates collisions, builds journeys and publishes
// results. The batch is all-or-nothing: on error or cancellation nothing
// is written.
type Engine struct {
	Tracklets    TrackletSource
	Topology     TopologyRepo
	Outfits      FrequentOutfitRepo
	Associations AssociationSink
	Journeys     JourneySink
	OutfitSink   FrequentOutfitSink
	Config       *config.Config
}

// RunStats summarizes one batch run.
type RunStats struct {
	RunID  string
	MallID string
	From   time.Time
	To     time.Time

	TrackletCount        int
	TargetsScored        int
	CandidatesConsidered int
	Linked               int
	Ambiguous            int
	NewVisitors          int
	ArbitrationRounds    int
	OrphanChains         int
	JourneysEmitted      int
	JourneysClosed       int

	ScoringElapsed time.Duration
	TotalElapsed   time.Duration
}

// Run executes one batch. Cancellation is honoured at target granularity:
// workers check the context between targets and the batch exits cleanly
// with ErrCancelled, discarding partial results.
func (e *Engine) Run(ctx context.Context, mallID string, from, to time.Time) (*RunStats, error) {
	started := time.Now()

	if err := e.Config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	stats := &RunStats{
		RunID:  uuid.NewString(),
		MallID: mallID,
		From:   from,
		To:     to,
	}
	log.Printf("reid: run %s mall=%s window=[%s, %s)", stats.RunID, mallID,
		from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))

	pins, err := e.Topology.Load(ctx, mallID)
	if err != nil {
		return nil, fmt.Errorf("load topology: %w", err)
	}
	topo, err := BuildTopologyIndex(mallID, pins, e.Config)
	if err != nil {
		return nil, err
	}

	fetched, err := e.Tracklets.Fetch(ctx, mallID, from, to)
	if err != nil {
		return nil, fmt.Errorf("fetch tracklets: %w", err)
	}
	tracklets, err := prepareTracklets(mallID, fetched, topo)
	if err != nil {
		return nil, err
	}
	stats.TrackletCount = len(tracklets)

	if len(tracklets) == 0 {
		// An empty window is a normal outcome: emit empty outputs.
		if err := e.publish(ctx, mallID, nil, nil, nil); err != nil {
			return nil, err
		}
		stats.TotalElapsed = time.Since(started)
		log.Printf("reid: run %s empty window, nothing to do", stats.RunID)
		return stats, nil
	}

	outfitTable, err := e.loadOutfitTable(ctx, mallID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load frequent-outfit snapshot: %w", err)
	}

	retriever := NewRetriever(topo, tracklets, outfitTable, e.Config)

	scoringStarted := time.Now()
	results, err := e.scoreTargets(ctx, tracklets, retriever)
	if err != nil {
		return nil, err
	}
	stats.ScoringElapsed = time.Since(scoringStarted)
	stats.TargetsScored = len(results)
	for _, tr := range results {
		stats.CandidatesConsidered += tr.poolSize
	}

	outcomes, rounds := arbitrate(results, e.Config)
	stats.ArbitrationRounds = rounds

	associations := make([]Association, 0, len(outcomes))
	var links []Link
	for i := range outcomes {
		o := &outcomes[i]
		associations = append(associations, outcomeAssociation(o, results[i].poolSize))
		switch o.decision {
		case DecisionLinked:
			stats.Linked++
			links = append(links, Link{Source: o.chosen.Source, Target: o.target, Score: o.chosen.FinalScore})
		case DecisionAmbiguous:
			stats.Ambiguous++
		default:
			stats.NewVisitors++
		}
	}
	sort.Slice(associations, func(i, j int) bool {
		if associations[i].ToTrackletID != associations[j].ToTrackletID {
			return associations[i].ToTrackletID < associations[j].ToTrackletID
		}
		return associations[i].FromTrackletID < associations[j].FromTrackletID
	})

	journeys, orphans, err := buildJourneys(mallID, tracklets, links, topo, e.Config)
	if err != nil {
		return nil, err
	}
	stats.OrphanChains = orphans
	stats.JourneysEmitted = len(journeys)
	for _, j := range journeys {
		if j.Closed {
			stats.JourneysClosed++
		}
	}

	deltas := outfitDeltas(mallID, tracklets)

	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
	if err := e.publish(ctx, mallID, associations, journeys, deltas); err != nil {
		return nil, err
	}

	stats.TotalElapsed = time.Since(started)
	log.Printf("reid: run %s done tracklets=%d linked=%d ambiguous=%d new=%d journeys=%d orphans=%d rounds=%d in %s",
		stats.RunID, stats.TrackletCount, stats.Linked, stats.Ambiguous, stats.NewVisitors,
		stats.JourneysEmitted, stats.OrphanChains, stats.ArbitrationRounds, stats.TotalElapsed.Round(time.Millisecond))
	return stats, nil
}

// prepareTracklets validates inputs, fills missing fingerprints and sorts
// canonically so the rest of the run is independent of source order.
func prepareTracklets(mallID string, fetched []Tracklet, topo *TopologyIndex) ([]*Tracklet, error) {
	tracklets := make([]*Tracklet, 0, len(fetched))
	embedDim := -1
	for i := range fetched {
		t := &fetched[i]
		if err := t.Validate(); err != nil {
			return nil, dataModelErrorf(mallID, t.ID, t.PinID, "%v", err)
		}
		if !topo.HasPin(t.PinID) {
			return nil, dataModelErrorf(mallID, t.ID, t.PinID, "tracklet references missing pin")
		}
		if len(t.Embedding) > 0 {
			if embedDim == -1 {
				embedDim = len(t.Embedding)
			} else if len(t.Embedding) != embedDim {
				return nil, dataModelErrorf(mallID, t.ID, t.PinID,
					"embedding length %d differs from mall-wide %d", len(t.Embedding), embedDim)
			}
		}
		if t.OutfitFingerprint == "" {
			t.OutfitFingerprint = t.Outfit.Fingerprint()
		}
		tracklets = append(tracklets, t)
	}
	sort.Slice(tracklets, func(i, j int) bool {
		if !tracklets[i].TIn.Equal(tracklets[j].TIn) {
			return tracklets[i].TIn.Before(tracklets[j].TIn)
		}
		return tracklets[i].ID < tracklets[j].ID
	})
	return tracklets, nil
}

// loadOutfitTable assembles the read-only frequent-outfit snapshot for
// every hour bucket the window touches.
func (e *Engine) loadOutfitTable(ctx context.Context, mallID string, from, to time.Time) (*FrequentOutfitTable, error) {
	table := NewFrequentOutfitTable(mallID)
	for h := from.UTC().Truncate(time.Hour); h.Before(to); h = h.Add(time.Hour) {
		bucket := HourBucket(h)
		counts, err := e.Outfits.Snapshot(ctx, mallID, bucket)
		if err != nil {
			return nil, fmt.Errorf("snapshot bucket %s: %w", bucket, err)
		}
		table.Merge(bucket, counts)
	}
	return table, nil
}

// scoreTargets fans candidate retrieval and scoring out across the worker
// pool. Workers only read immutable snapshots and write to their own slot
// of the results slice, so no locks sit on the hot path.
func (e *Engine) scoreTargets(ctx context.Context, tracklets []*Tracklet, retriever *Retriever) ([]*targetResult, error) {
	workers := e.Config.GetWorkerCount()
	if workers > len(tracklets) {
		workers = len(tracklets)
	}

	results := make([]*targetResult, len(tracklets))
	errs := make([]error, len(tracklets))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				if ctx.Err() != nil {
					return
				}
				results[idx], errs[idx] = scoreTarget(tracklets[idx], retriever, e.Config)
			}
		}()
	}

feed:
	for i := range tracklets {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// scoreTarget is the per-worker unit of work for one target.
func scoreTarget(target *Tracklet, retriever *Retriever, cfg *config.Config) (*targetResult, error) {
	set, err := retriever.Candidates(target)
	if err != nil {
		return nil, err
	}
	tr := &targetResult{
		target:   target,
		poolSize: set.PoolSize,
		rushHour: set.RushHour(cfg),
	}
	tr.scored = make([]ScoredCandidate, 0, len(set.Candidates))
	for _, c := range set.Candidates {
		sc, err := scoreCandidate(target, c)
		if err != nil {
			return nil, err
		}
		tr.scored = append(tr.scored, sc)
	}
	sortScored(tr.scored)
	return tr, nil
}

// outcomeAssociation converts a target outcome into its audit record.
func outcomeAssociation(o *targetOutcome, poolSize int) Association {
	a := Association{
		ToTrackletID:   o.target.ID,
		Decision:       o.decision,
		CandidateCount: poolSize,
	}
	if o.chosen != nil {
		a.FromTrackletID = o.chosen.Source.ID
		a.FinalScore = o.chosen.FinalScore
		a.Subscores = o.chosen.Subscores
		a.Components = o.chosen.Components
	}
	return a
}

// outfitDeltas counts the fingerprints observed this run per hour bucket,
// in canonical order for deterministic publication.
func outfitDeltas(mallID string, tracklets []*Tracklet) []OutfitDelta {
	counts := make(map[string]int)
	for _, t := range tracklets {
		counts[t.OutfitFingerprint+"@"+HourBucket(t.TIn)]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	deltas := make([]OutfitDelta, 0, len(keys))
	for _, k := range keys {
		sep := -1
		for i := len(k) - 1; i >= 0; i-- {
			if k[i] == '@' {
				sep = i
				break
			}
		}
		deltas = append(deltas, OutfitDelta{
			MallID:      mallID,
			Fingerprint: k[:sep],
			HourBucket:  k[sep+1:],
			By:          counts[k],
		})
	}
	return deltas
}

// publish writes all outputs, each sink with bounded retry. Association
// and journey writes are atomic per batch at the sink; increments follow
// only after both batches landed.
func (e *Engine) publish(ctx context.Context, mallID string, associations []Association, journeys []Journey, deltas []OutfitDelta) error {
	if err := withRetry(ctx, "associations", func() error {
		return e.Associations.WriteAssociations(ctx, mallID, associations)
	}); err != nil {
		return err
	}
	if err := withRetry(ctx, "journeys", func() error {
		return e.Journeys.WriteJourneys(ctx, journeys)
	}); err != nil {
		return err
	}
	for _, d := range deltas {
		d := d
		if err := withRetry(ctx, "outfit increment", func() error {
			return e.OutfitSink.IncrementOutfit(ctx, d.MallID, d.Fingerprint, d.HourBucket, d.By)
		}); err != nil {
			return err
		}
	}
	return nil
}

// withRetry runs a sink write with bounded backoff. On final failure the
// error surfaces wrapped in ErrSinkFailure; inputs stay untouched.
func withRetry(ctx context.Context, what string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= sinkRetryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt < sinkRetryAttempts {
			log.Printf("reid: %s write attempt %d failed, retrying: %v", what, attempt, lastErr)
			select {
			case <-time.After(time.Duration(attempt) * sinkRetryBackoff):
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
			}
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", ErrSinkFailure, what, sinkRetryAttempts, lastErr)
}
