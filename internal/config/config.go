// Package config holds the numeric tuning surface of the re-identification
// core. The schema is JSON-loadable so the same file can seed batch runs
// and offline threshold experiments; fields omitted from the JSON keep
// their defaults, so partial configs are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// Config is the root tuning configuration. All fields are pointers so a
// partial JSON file only overrides what it names; the Get* accessors
// supply canonical defaults for everything else.
type Config struct {
	// Topology params
	WalkSpeedMS      *float64 `json:"walk_speed_ms,omitempty"`
	TimeToleranceSec *float64 `json:"time_tolerance_sec,omitempty"`

	// Candidate retrieval params
	MaxCandidateWindowSec    *float64 `json:"max_candidate_window_sec,omitempty"`
	EmbedFloor               *float64 `json:"embed_floor,omitempty"`
	CandidateTopK            *int     `json:"candidate_topk,omitempty"`
	FrequentOutfitThreshold  *int     `json:"frequent_outfit_threshold,omitempty"`
	RushHourCandidateTrigger *int     `json:"rush_hour_candidate_trigger,omitempty"`

	// Decision params
	MatchThreshold *float64 `json:"match_threshold,omitempty"`
	OutfitMin      *float64 `json:"outfit_min,omitempty"`
	AmbiguityGap   *float64 `json:"ambiguity_gap,omitempty"`
	CooldownSec    *float64 `json:"cooldown_sec,omitempty"`

	// Journey params
	IdleTimeoutSec *float64 `json:"idle_timeout_sec,omitempty"`

	// Run params
	WorkerCount *int `json:"worker_count,omitempty"`
}

// Default returns a Config with all fields unset, i.e. every accessor
// yields its canonical default.
func Default() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file and validates it.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// envMap maps environment variable names onto setter closures. The names
// form the operator-facing configuration surface and are stable.
func (c *Config) envMap() map[string]func(string) error {
	setF := func(dst **float64) func(string) error {
		return func(s string) error {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return err
			}
			*dst = &v
			return nil
		}
	}
	setI := func(dst **int) func(string) error {
		return func(s string) error {
			v, err := strconv.Atoi(s)
			if err != nil {
				return err
			}
			*dst = &v
			return nil
		}
	}
	return map[string]func(string) error{
		"WALK_SPEED_MS":               setF(&c.WalkSpeedMS),
		"TIME_TOLERANCE_SEC":          setF(&c.TimeToleranceSec),
		"MAX_CANDIDATE_WINDOW_SEC":    setF(&c.MaxCandidateWindowSec),
		"EMBED_FLOOR":                 setF(&c.EmbedFloor),
		"MATCH_THRESHOLD":             setF(&c.MatchThreshold),
		"OUTFIT_MIN":                  setF(&c.OutfitMin),
		"AMBIGUITY_GAP":               setF(&c.AmbiguityGap),
		"RUSH_HOUR_CANDIDATE_TRIGGER": setI(&c.RushHourCandidateTrigger),
		"COOLDOWN_SEC":                setF(&c.CooldownSec),
		"IDLE_TIMEOUT_SEC":            setF(&c.IdleTimeoutSec),
		"FREQUENT_OUTFIT_THRESHOLD":   setI(&c.FrequentOutfitThreshold),
		"CANDIDATE_TOPK":              setI(&c.CandidateTopK),
		"WORKER_COUNT":                setI(&c.WorkerCount),
	}
}

// ApplyEnv overrides fields from environment variables, then validates.
func (c *Config) ApplyEnv() error {
	for name, set := range c.envMap() {
		val, ok := os.LookupEnv(name)
		if !ok || val == "" {
			continue
		}
		if err := set(val); err != nil {
			return fmt.Errorf("invalid %s=%q: %w", name, val, err)
		}
	}
	return c.Validate()
}

// Validate checks ranges and mutual consistency. A failure here is fatal
// at startup, before any work begins.
func (c *Config) Validate() error {
	if v := c.GetWalkSpeedMS(); v <= 0 {
		return fmt.Errorf("walk_speed_ms must be positive, got %f", v)
	}
	if v := c.GetTimeToleranceSec(); v <= 0 {
		return fmt.Errorf("time_tolerance_sec must be positive, got %f", v)
	}
	if v := c.GetMaxCandidateWindowSec(); v < 1 {
		return fmt.Errorf("max_candidate_window_sec must be >= 1, got %f", v)
	}
	if v := c.GetEmbedFloor(); v < 0 || v > 1 {
		return fmt.Errorf("embed_floor must be in [0,1], got %f", v)
	}
	if v := c.GetMatchThreshold(); v < 0 || v > 1 {
		return fmt.Errorf("match_threshold must be in [0,1], got %f", v)
	}
	if v := c.GetOutfitMin(); v < 0 || v > 1 {
		return fmt.Errorf("outfit_min must be in [0,1], got %f", v)
	}
	if v := c.GetAmbiguityGap(); v < 0 || v > 1 {
		return fmt.Errorf("ambiguity_gap must be in [0,1], got %f", v)
	}
	if v := c.GetCooldownSec(); v < 10 || v > 20 {
		return fmt.Errorf("cooldown_sec must be in [10,20], got %f", v)
	}
	if v := c.GetIdleTimeoutSec(); v <= 0 {
		return fmt.Errorf("idle_timeout_sec must be positive, got %f", v)
	}
	if v := c.GetFrequentOutfitThreshold(); v < 1 {
		return fmt.Errorf("frequent_outfit_threshold must be >= 1, got %d", v)
	}
	if v := c.GetCandidateTopK(); v < 1 {
		return fmt.Errorf("candidate_topk must be >= 1, got %d", v)
	}
	if v := c.GetRushHourCandidateTrigger(); v < 1 {
		return fmt.Errorf("rush_hour_candidate_trigger must be >= 1, got %d", v)
	}
	if v := c.GetWorkerCount(); v < 1 {
		return fmt.Errorf("worker_count must be >= 1, got %d", v)
	}
	if c.GetMatchThreshold() < c.GetOutfitMin()*0.55 {
		// A match threshold below the outfit floor contribution alone
		// makes the outfit gate unreachable; treat as inconsistent.
		return fmt.Errorf("match_threshold %f inconsistent with outfit_min %f",
			c.GetMatchThreshold(), c.GetOutfitMin())
	}
	return nil
}

// GetWalkSpeedMS returns the default walking speed in m/s used to derive
// transit μ for unannotated edges.
func (c *Config) GetWalkSpeedMS() float64 {
	if c.WalkSpeedMS == nil {
		return 1.2
	}
	return *c.WalkSpeedMS
}

// GetTimeToleranceSec returns the default transit tolerance τ in seconds.
func (c *Config) GetTimeToleranceSec() float64 {
	if c.TimeToleranceSec == nil {
		return 30
	}
	return *c.TimeToleranceSec
}

// GetMaxCandidateWindowSec returns the hard ceiling on candidate Δt.
func (c *Config) GetMaxCandidateWindowSec() float64 {
	if c.MaxCandidateWindowSec == nil {
		return 480
	}
	return *c.MaxCandidateWindowSec
}

// GetEmbedFloor returns the minimum embedding cosine for admissibility.
func (c *Config) GetEmbedFloor() float64 {
	if c.EmbedFloor == nil {
		return 0.75
	}
	return *c.EmbedFloor
}

// GetMatchThreshold returns the base final-score threshold for linking.
func (c *Config) GetMatchThreshold() float64 {
	if c.MatchThreshold == nil {
		return 0.78
	}
	return *c.MatchThreshold
}

// GetOutfitMin returns the minimum outfit similarity for linking.
func (c *Config) GetOutfitMin() float64 {
	if c.OutfitMin == nil {
		return 0.70
	}
	return *c.OutfitMin
}

// GetAmbiguityGap returns the minimum top1−top2 margin for linking.
func (c *Config) GetAmbiguityGap() float64 {
	if c.AmbiguityGap == nil {
		return 0.04
	}
	return *c.AmbiguityGap
}

// GetRushHourCandidateTrigger returns the candidate-pool size above which
// the match threshold is raised for that target.
func (c *Config) GetRushHourCandidateTrigger() int {
	if c.RushHourCandidateTrigger == nil {
		return 12
	}
	return *c.RushHourCandidateTrigger
}

// GetCooldownSec returns the per-(visitor, pin) link cooldown in seconds.
func (c *Config) GetCooldownSec() float64 {
	if c.CooldownSec == nil {
		return 15
	}
	return *c.CooldownSec
}

// GetIdleTimeoutSec returns the journey idle split threshold in seconds.
func (c *Config) GetIdleTimeoutSec() float64 {
	if c.IdleTimeoutSec == nil {
		return 1800
	}
	return *c.IdleTimeoutSec
}

// GetFrequentOutfitThreshold returns the per-hour count above which an
// outfit fingerprint is treated as frequent.
func (c *Config) GetFrequentOutfitThreshold() int {
	if c.FrequentOutfitThreshold == nil {
		return 5
	}
	return *c.FrequentOutfitThreshold
}

// GetCandidateTopK returns the maximum candidate list length per target.
func (c *Config) GetCandidateTopK() int {
	if c.CandidateTopK == nil {
		return 50
	}
	return *c.CandidateTopK
}

// GetWorkerCount returns the scoring worker pool size.
func (c *Config) GetWorkerCount() int {
	if c.WorkerCount == nil {
		return runtime.GOMAXPROCS(0)
	}
	return *c.WorkerCount
}

// RushHourThresholdRaise is the fixed bump applied to the match threshold
// for targets whose candidate pool exceeds the rush-hour trigger.
const RushHourThresholdRaise = 0.05
