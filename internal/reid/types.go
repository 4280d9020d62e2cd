package reid

import (
	"fmt"
	"time"
)

// PinKind distinguishes entrance cameras (journey start/end points) from
// normal in-mall cameras.
type PinKind string

const (
	PinEntrance PinKind = "entrance"
	PinNormal   PinKind = "normal"
)

// GarmentType is the fixed upstream vocabulary for garment classification.
// Unknown values from upstream are coerced to GarmentOther and contribute
// zero to the type score.
type GarmentType string

const (
	GarmentTShirt  GarmentType = "tshirt"
	GarmentShirt   GarmentType = "shirt"
	GarmentJacket  GarmentType = "jacket"
	GarmentCoat    GarmentType = "coat"
	GarmentSweater GarmentType = "sweater"
	GarmentDress   GarmentType = "dress"
	GarmentPants   GarmentType = "pants"
	GarmentJeans   GarmentType = "jeans"
	GarmentShorts  GarmentType = "shorts"
	GarmentSkirt   GarmentType = "skirt"
	GarmentSneaker GarmentType = "sneakers"
	GarmentLoafer  GarmentType = "loafers"
	GarmentBoot    GarmentType = "boots"
	GarmentSandal  GarmentType = "sandals"
	GarmentOther   GarmentType = "other"
)

var knownGarmentTypes = map[GarmentType]bool{
	GarmentTShirt: true, GarmentShirt: true, GarmentJacket: true,
	GarmentCoat: true, GarmentSweater: true, GarmentDress: true,
	GarmentPants: true, GarmentJeans: true, GarmentShorts: true,
	GarmentSkirt: true, GarmentSneaker: true, GarmentLoafer: true,
	GarmentBoot: true, GarmentSandal: true, GarmentOther: true,
}

// NormalizeGarmentType maps upstream values onto the fixed vocabulary.
func NormalizeGarmentType(t GarmentType) GarmentType {
	if knownGarmentTypes[t] {
		return t
	}
	return GarmentOther
}

// visuallyClose groups garment types that are hard to tell apart on CCTV.
// A cross-class pair scores 0.6 instead of the exact-match 1.0.
var visuallyClose = map[GarmentType]int{
	GarmentJacket:  1,
	GarmentCoat:    1,
	GarmentPants:   2,
	GarmentJeans:   2,
	GarmentSneaker: 3,
	GarmentLoafer:  3,
	GarmentTShirt:  4,
	GarmentShirt:   4,
}

// HeightCategory is the coarse physique bucket produced upstream.
type HeightCategory string

const (
	HeightShort  HeightCategory = "short"
	HeightMedium HeightCategory = "medium"
	HeightTall   HeightCategory = "tall"
)

var heightRank = map[HeightCategory]int{
	HeightShort:  0,
	HeightMedium: 1,
	HeightTall:   2,
}

// LAB is a color in CIELAB space.
type LAB struct {
	L float64 `json:"l"`
	A float64 `json:"a"`
	B float64 `json:"b"`
}

// Garment carries the type and quantized color of one outfit slot.
// Hist is a small per-garment color histogram; only the mean color
// participates in scoring, the histogram rides along for audit.
type Garment struct {
	Type     GarmentType `json:"type"`
	ColorLAB LAB         `json:"color_lab"`
	Hist     []float64   `json:"hist,omitempty"`
	Visible  bool        `json:"visible"`
}

// Outfit is the three-slot garment descriptor for one tracklet.
type Outfit struct {
	Top    Garment `json:"top"`
	Bottom Garment `json:"bottom"`
	Shoes  Garment `json:"shoes"`
}

// Slots returns the outfit garments in canonical slot order.
func (o Outfit) Slots() [3]Garment {
	return [3]Garment{o.Top, o.Bottom, o.Shoes}
}

// Physique carries the non-biometric body descriptors.
type Physique struct {
	HeightCategory HeightCategory `json:"height_category"`
	AspectRatio    float64        `json:"aspect_ratio"`
}

// Tracklet is a contiguous within-camera observation of one person,
// produced by upstream CV and treated as immutable input.
type Tracklet struct {
	ID      string `json:"id"`
	MallID  string `json:"mall_id"`
	PinID   string `json:"pin_id"`
	VideoID string `json:"video_id"`

	TIn  time.Time `json:"t_in"`
	TOut time.Time `json:"t_out"`

	Outfit    Outfit    `json:"outfit"`
	Embedding []float32 `json:"embedding"`
	Physique  Physique  `json:"physique"`

	// Quality is descriptor confidence in [0,1]; it scales per-garment
	// visibility in scoring, it is never a tracklet-level veto.
	Quality float64 `json:"quality"`

	// OutfitFingerprint is a stable hash of the discretised outfit,
	// computed upstream or via Fingerprint() when empty.
	OutfitFingerprint string `json:"outfit_fingerprint"`
}

// Validate checks tracklet-level invariants that are fatal when violated.
func (t *Tracklet) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("tracklet has empty id")
	}
	if t.TOut.Before(t.TIn) {
		return fmt.Errorf("tracklet %s: t_out %s before t_in %s", t.ID, t.TOut, t.TIn)
	}
	if t.Quality < 0 || t.Quality > 1 {
		return fmt.Errorf("tracklet %s: quality %.3f outside [0,1]", t.ID, t.Quality)
	}
	return nil
}

// TransitParams holds the expected transit time μ and tolerance τ between
// two camera pins, in seconds.
type TransitParams struct {
	MuSec  float64 `json:"mu_sec"`
	TauSec float64 `json:"tau_sec"`
}

// CameraPin is one camera position in the mall graph. Immutable within a
// run.
type CameraPin struct {
	ID     string  `json:"id"`
	MallID string  `json:"mall_id"`
	Name   string  `json:"name"`
	Kind   PinKind `json:"kind"`

	// AdjacentTo lists 1-hop neighbour pins. Adjacency must be symmetric.
	AdjacentTo []string `json:"adjacent_to"`

	// Transit optionally annotates measured transit parameters per
	// neighbour; missing entries fall back to walk-speed derived values.
	Transit map[string]TransitParams `json:"transit,omitempty"`

	// DistanceM optionally annotates walking distance in meters per
	// neighbour, used to derive μ when Transit has no entry.
	DistanceM map[string]float64 `json:"distance_m,omitempty"`
}

// Decision is the outcome of scoring one target against its candidates.
type Decision string

const (
	DecisionLinked     Decision = "linked"
	DecisionAmbiguous  Decision = "ambiguous"
	DecisionNewVisitor Decision = "new_visitor"
)

// Subscores are the four fused signals, each in [0,1].
type Subscores struct {
	OutfitSim     float64 `json:"outfit_sim"`
	TimeScore     float64 `json:"time_score"`
	AdjScore      float64 `json:"adj_score"`
	PhysiqueScore float64 `json:"physique_score"`
}

// Components records the raw quantities behind the subscores so every
// decision stays explainable after the fact.
type Components struct {
	TypeScore           float64            `json:"type_score"`
	ColorDeltaEGarments map[string]float64 `json:"color_deltae_per_garment,omitempty"`
	EmbedCosine         float64            `json:"embed_cosine"`
	DeltaTSec           float64            `json:"delta_t_sec"`
	ExpectedMuSec       float64            `json:"expected_mu_sec"`
	TauSec              float64            `json:"tau_sec"`
}

// Association is the immutable audit record of one link attempt. It is
// content-addressable by (FromTrackletID, ToTrackletID) and idempotent
// under re-runs with identical inputs. FromTrackletID is empty when the
// target had no admissible candidate at all.
type Association struct {
	FromTrackletID string     `json:"from_tracklet_id"`
	ToTrackletID   string     `json:"to_tracklet_id"`
	Decision       Decision   `json:"decision"`
	FinalScore     float64    `json:"final_score"`
	Subscores      Subscores  `json:"subscores"`
	Components     Components `json:"components"`
	CandidateCount int        `json:"candidate_count"`
}

// JourneyStep is one camera visit along a journey. LinkScore is nil on the
// head step.
type JourneyStep struct {
	PinID       string    `json:"pin_id"`
	PinName     string    `json:"pin_name"`
	TrackletID  string    `json:"tracklet_id"`
	TIn         time.Time `json:"t_in"`
	TOut        time.Time `json:"t_out"`
	DurationSec float64   `json:"duration_seconds"`
	LinkScore   *float64  `json:"link_score"`
}

// OutfitSummary aggregates the outfit across a journey: majority garment
// type per slot and quality-weighted mean LAB color.
type OutfitSummary struct {
	Top    SummaryGarment `json:"top"`
	Bottom SummaryGarment `json:"bottom"`
	Shoes  SummaryGarment `json:"shoes"`
}

// SummaryGarment is one aggregated outfit slot.
type SummaryGarment struct {
	Type     GarmentType `json:"type"`
	ColorLAB LAB         `json:"color_lab"`
}

// Journey is a visitor's reconstructed path through the mall. The first
// step's pin is always an entrance; ExitPoint is nil while the journey is
// open.
type Journey struct {
	ID         string        `json:"id"`
	VisitorID  string        `json:"visitor_id"`
	MallID     string        `json:"mall_id"`
	EntryPoint string        `json:"entry_point"`
	ExitPoint  *string       `json:"exit_point"`
	EntryTime  time.Time     `json:"entry_time"`
	ExitTime   *time.Time    `json:"exit_time"`
	Path       []JourneyStep `json:"path"`
	Confidence float64       `json:"confidence"`
	Outfit     OutfitSummary `json:"outfit_summary"`
	Closed     bool          `json:"closed"`
}

// DeltaT returns the transit gap in seconds from source t_out to target
// t_in. Negative values mean overlap and are never plausible transits.
func DeltaT(source, target *Tracklet) float64 {
	return target.TIn.Sub(source.TOut).Seconds()
}
