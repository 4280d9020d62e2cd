package reid

import (
	"math"
)

// Fusion weights. Deliberately code constants, not configuration:
// retuning them invalidates every persisted score, so a change must be a
// code change with a model-version bump.
const (
	weightOutfit   = 0.55
	weightTime     = 0.20
	weightAdj      = 0.15
	weightPhysique = 0.10

	outfitWeightType  = 0.35
	outfitWeightColor = 0.35
	outfitWeightEmbed = 0.30

	// colorDeltaEScale converts CIEDE2000 distance into a similarity via
	// exp(−ΔE/scale); 12 puts "clearly different garment colors" near 0.3.
	colorDeltaEScale = 12.0

	// typeCloseScore is granted when garment types fall in the same
	// visually-close class (jacket/coat, pants/jeans, ...).
	typeCloseScore = 0.6

	// aspectTolerance is the aspect-ratio difference that zeroes the
	// aspect score.
	aspectTolerance = 0.3

	adjScoreOneHop  = 1.0
	adjScoreTwoHops = 0.5

	heightAdjacentScore = 0.5
)

var slotNames = [3]string{"top", "bottom", "shoes"}

// ScoredCandidate is a candidate with its full sub-score breakdown.
type ScoredCandidate struct {
	Candidate
	Subscores  Subscores
	Components Components
	FinalScore float64

	// GateRejected marks pairs outside the hard time gate; their final
	// score is forced to 0 and they can never link.
	GateRejected bool
}

// scoreCandidate computes all sub-scores for a (source, target) pair and
// fuses them in fixed coefficient order. The retriever already excludes
// gate-failing pairs, but the gate is re-checked here so the scoring layer
// is safe on its own.
func scoreCandidate(target *Tracklet, c Candidate) (ScoredCandidate, error) {
	sc := ScoredCandidate{Candidate: c}

	sc.Components.DeltaTSec = c.DeltaT
	sc.Components.ExpectedMuSec = c.Transit.MuSec
	sc.Components.TauSec = c.Transit.TauSec

	// Hard time gate: physically impossible or far beyond plausible
	// transit rejects the pair regardless of visual evidence.
	if c.DeltaT < minTransitSec || c.DeltaT > c.Transit.MuSec+3*c.Transit.TauSec {
		sc.GateRejected = true
		sc.FinalScore = 0
		return sc, nil
	}

	typeScore, colorScore, deltaEs := outfitGarmentScores(c.Source, target)
	embed := clamp01(c.Cosine)

	sc.Components.TypeScore = typeScore
	sc.Components.ColorDeltaEGarments = deltaEs
	sc.Components.EmbedCosine = embed

	sc.Subscores.OutfitSim = clamp01(outfitWeightType*typeScore +
		outfitWeightColor*colorScore +
		outfitWeightEmbed*embed)

	sc.Subscores.TimeScore = clamp01(math.Exp(-math.Max(0, math.Abs(c.DeltaT-c.Transit.MuSec)) / c.Transit.TauSec))

	switch c.Hops {
	case 1:
		sc.Subscores.AdjScore = adjScoreOneHop
	case 2:
		sc.Subscores.AdjScore = adjScoreTwoHops
	default:
		sc.Subscores.AdjScore = 0
	}

	sc.Subscores.PhysiqueScore = physiqueScore(c.Source.Physique, target.Physique)

	// Fixed summation order keeps re-runs byte-identical.
	sc.FinalScore = weightOutfit*sc.Subscores.OutfitSim +
		weightTime*sc.Subscores.TimeScore +
		weightAdj*sc.Subscores.AdjScore +
		weightPhysique*sc.Subscores.PhysiqueScore

	if math.IsNaN(sc.FinalScore) || math.IsInf(sc.FinalScore, 0) {
		return sc, dataModelErrorf(target.MallID, target.ID, target.PinID,
			"non-finite final score against source %s", c.Source.ID)
	}
	return sc, nil
}

// outfitGarmentScores computes the visibility-weighted type and color
// scores across the three garment slots, and the per-garment ΔE values for
// the audit record. A garment invisible on either side contributes zero
// weight, which reduces the aggregate rather than vetoing the pair.
func outfitGarmentScores(source, target *Tracklet) (typeScore, colorScore float64, deltaEs map[string]float64) {
	sSlots := source.Outfit.Slots()
	tSlots := target.Outfit.Slots()

	deltaEs = make(map[string]float64, len(slotNames))

	var typeSum, colorSum, weightSum float64
	for i := range slotNames {
		sg, tg := sSlots[i], tSlots[i]
		if !sg.Visible || !tg.Visible {
			continue
		}
		w := source.Quality * target.Quality
		if w <= 0 {
			continue
		}

		typeSum += w * garmentTypeScore(sg.Type, tg.Type)

		dE := ciede2000(sg.ColorLAB, tg.ColorLAB)
		deltaEs[slotNames[i]] = dE
		colorSum += w * math.Exp(-dE/colorDeltaEScale)

		weightSum += w
	}

	if weightSum == 0 {
		return 0, 0, deltaEs
	}
	return typeSum / weightSum, colorSum / weightSum, deltaEs
}

// garmentTypeScore compares two garment types: exact match 1.0, same
// visually-close class 0.6, otherwise 0. Unknown upstream types coerce to
// Other and never match.
func garmentTypeScore(a, b GarmentType) float64 {
	a = NormalizeGarmentType(a)
	b = NormalizeGarmentType(b)
	if a == GarmentOther || b == GarmentOther {
		return 0
	}
	if a == b {
		return 1
	}
	if ca, ok := visuallyClose[a]; ok {
		if cb, ok := visuallyClose[b]; ok && ca == cb {
			return typeCloseScore
		}
	}
	return 0
}

// physiqueScore fuses height-category agreement and aspect-ratio
// closeness.
func physiqueScore(s, t Physique) float64 {
	heightScore := 0.0
	sr, sOK := heightRank[s.HeightCategory]
	tr, tOK := heightRank[t.HeightCategory]
	if sOK && tOK {
		switch absInt(sr - tr) {
		case 0:
			heightScore = 1
		case 1:
			heightScore = heightAdjacentScore
		}
	}

	aspectScore := 1 - math.Min(1, math.Abs(s.AspectRatio-t.AspectRatio)/aspectTolerance)

	return 0.7*heightScore + 0.3*aspectScore
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
