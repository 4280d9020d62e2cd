package reid

import (
	"sort"
	"time"

	"github.com/rickyjs1955/wandr-sub001/internal/config"
)

// targetResult is one worker's output for a single target: the fully
// scored candidate list in decision order, plus the rush-hour marker.
type targetResult struct {
	target   *Tracklet
	scored   []ScoredCandidate
	poolSize int
	rushHour bool
}

// targetOutcome is the arbitrated decision for one target.
type targetOutcome struct {
	target   *Tracklet
	decision Decision
	// chosen is the candidate the decision was taken against; nil when
	// the target had no admissible candidate at all.
	chosen *ScoredCandidate
}

// sortScored orders scored candidates for decision-making: descending
// final score, then earlier source t_out, then source id. The order is
// total, so identical inputs always produce identical rankings.
func sortScored(scored []ScoredCandidate) {
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].FinalScore != scored[j].FinalScore {
			return scored[i].FinalScore > scored[j].FinalScore
		}
		if !scored[i].Source.TOut.Equal(scored[j].Source.TOut) {
			return scored[i].Source.TOut.Before(scored[j].Source.TOut)
		}
		return scored[i].Source.ID < scored[j].Source.ID
	})
}

// decide applies the per-target decision rule over the candidate ranking,
// ignoring sources in skip (lost in an earlier arbitration round).
//
// Link requires: top1 ≥ threshold, top1 outfit ≥ OutfitMin, and a margin
// of at least AmbiguityGap over top2. A candidate that clears the score
// bars but not the margin is recorded as ambiguous and treated as a new
// visitor downstream.
func decide(tr *targetResult, skip map[string]bool, cfg *config.Config) (Decision, *ScoredCandidate) {
	threshold := cfg.GetMatchThreshold()
	if tr.rushHour {
		threshold += config.RushHourThresholdRaise
	}

	var top1, top2 *ScoredCandidate
	for i := range tr.scored {
		sc := &tr.scored[i]
		if sc.GateRejected || skip[sc.Source.ID] {
			continue
		}
		if top1 == nil {
			top1 = sc
		} else if top2 == nil {
			top2 = sc
			break
		}
	}

	if top1 == nil {
		return DecisionNewVisitor, nil
	}
	if top1.FinalScore < threshold || top1.Subscores.OutfitSim < cfg.GetOutfitMin() {
		return DecisionNewVisitor, top1
	}
	if top2 != nil && top1.FinalScore-top2.FinalScore < cfg.GetAmbiguityGap() {
		return DecisionAmbiguous, top1
	}
	return DecisionLinked, top1
}

// arbitrate resolves collisions between targets that picked the same
// source. Per-source arbitration keeps the highest-scoring proposer;
// losers re-evaluate against their next candidate with unchanged
// thresholds. Rounds repeat until a fixed point; termination is guaranteed
// because every round strictly removes at least one contested edge.
//
// After the fixed point, the cooldown registry suppresses links that land
// on the same pin for the same visitor within the cooldown window
// (overlapping-camera ping-pong). Returns outcomes parallel to results and
// the number of arbitration rounds.
func arbitrate(results []*targetResult, cfg *config.Config) ([]targetOutcome, int) {
	skips := make([]map[string]bool, len(results))
	for i := range skips {
		skips[i] = make(map[string]bool)
	}

	decisions := make([]Decision, len(results))
	chosens := make([]*ScoredCandidate, len(results))
	for i, tr := range results {
		decisions[i], chosens[i] = decide(tr, skips[i], cfg)
	}

	rounds := 0
	for {
		rounds++

		// Group linked proposals by source.
		proposals := make(map[string][]int)
		for i := range results {
			if decisions[i] == DecisionLinked {
				src := chosens[i].Source.ID
				proposals[src] = append(proposals[src], i)
			}
		}

		sourceIDs := make([]string, 0, len(proposals))
		for src := range proposals {
			sourceIDs = append(sourceIDs, src)
		}
		sort.Strings(sourceIDs) // ascending source id keeps ties deterministic

		changed := false
		for _, src := range sourceIDs {
			contenders := proposals[src]
			if len(contenders) < 2 {
				continue
			}
			winner := contenders[0]
			for _, idx := range contenders[1:] {
				if betterProposal(results, chosens, idx, winner) {
					winner = idx
				}
			}
			for _, idx := range contenders {
				if idx == winner {
					continue
				}
				skips[idx][src] = true
				decisions[idx], chosens[idx] = decide(results[idx], skips[idx], cfg)
				changed = true
			}
		}

		if !changed {
			break
		}
	}

	outcomes := make([]targetOutcome, len(results))
	for i, tr := range results {
		outcomes[i] = targetOutcome{
			target:   tr.target,
			decision: decisions[i],
			chosen:   chosens[i],
		}
	}

	applyCooldown(outcomes, cfg)
	return outcomes, rounds
}

// betterProposal reports whether proposal a beats proposal b for the same
// source: higher final score wins, score ties go to the lexicographically
// smaller target id so reruns agree.
func betterProposal(results []*targetResult, chosens []*ScoredCandidate, a, b int) bool {
	if chosens[a].FinalScore != chosens[b].FinalScore {
		return chosens[a].FinalScore > chosens[b].FinalScore
	}
	return results[a].target.ID < results[b].target.ID
}

// applyCooldown demotes accepted links that re-target a pin for the same
// visitor within the cooldown window. Links are processed in target time
// order (sources always precede targets by at least the minimum transit),
// so each link's visitor chain head is known when it is checked.
func applyCooldown(outcomes []targetOutcome, cfg *config.Config) {
	cooldown := time.Duration(cfg.GetCooldownSec() * float64(time.Second))
	registry := NewCooldownRegistry()

	order := make([]int, 0, len(outcomes))
	for i := range outcomes {
		if outcomes[i].decision == DecisionLinked {
			order = append(order, i)
		}
	}
	sort.Slice(order, func(a, b int) bool {
		ta, tb := outcomes[order[a]].target, outcomes[order[b]].target
		if !ta.TIn.Equal(tb.TIn) {
			return ta.TIn.Before(tb.TIn)
		}
		return ta.ID < tb.ID
	})

	headOf := make(map[string]string)
	head := func(id string) string {
		if h, ok := headOf[id]; ok {
			return h
		}
		return id
	}

	for _, i := range order {
		o := &outcomes[i]
		src := o.chosen.Source
		visitor := head(src.ID)
		if registry.Blocked(visitor, o.target.PinID, o.target.TIn, cooldown) {
			o.decision = DecisionNewVisitor
			continue
		}
		registry.Record(visitor, o.target.PinID, o.target.TIn)
		headOf[o.target.ID] = visitor
	}
}
