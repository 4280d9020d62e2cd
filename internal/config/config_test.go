package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	if got := cfg.GetWalkSpeedMS(); got != 1.2 {
		t.Errorf("walk speed = %v, want 1.2", got)
	}
	if got := cfg.GetMatchThreshold(); got != 0.78 {
		t.Errorf("match threshold = %v, want 0.78", got)
	}
	if got := cfg.GetOutfitMin(); got != 0.70 {
		t.Errorf("outfit min = %v, want 0.70", got)
	}
	if got := cfg.GetAmbiguityGap(); got != 0.04 {
		t.Errorf("ambiguity gap = %v, want 0.04", got)
	}
	if got := cfg.GetCooldownSec(); got != 15 {
		t.Errorf("cooldown = %v, want 15", got)
	}
	if got := cfg.GetIdleTimeoutSec(); got != 1800 {
		t.Errorf("idle timeout = %v, want 1800", got)
	}
	if got := cfg.GetCandidateTopK(); got != 50 {
		t.Errorf("top-k = %v, want 50", got)
	}
	if got := cfg.GetRushHourCandidateTrigger(); got != 12 {
		t.Errorf("rush-hour trigger = %v, want 12", got)
	}
	if got := cfg.GetFrequentOutfitThreshold(); got != 5 {
		t.Errorf("frequent outfit threshold = %v, want 5", got)
	}
	if got := cfg.GetMaxCandidateWindowSec(); got != 480 {
		t.Errorf("max candidate window = %v, want 480", got)
	}
	if got := cfg.GetEmbedFloor(); got != 0.75 {
		t.Errorf("embed floor = %v, want 0.75", got)
	}
	if got := cfg.GetWorkerCount(); got < 1 {
		t.Errorf("worker count = %v, want >= 1", got)
	}
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	cases := []struct {
		name string
		cfg  *Config
		frag string
	}{
		{"cooldown too short", &Config{CooldownSec: fptr(5)}, "cooldown_sec"},
		{"cooldown too long", &Config{CooldownSec: fptr(30)}, "cooldown_sec"},
		{"negative walk speed", &Config{WalkSpeedMS: fptr(-1)}, "walk_speed_ms"},
		{"zero tolerance", &Config{TimeToleranceSec: fptr(0)}, "time_tolerance_sec"},
		{"threshold above one", &Config{MatchThreshold: fptr(1.5)}, "match_threshold"},
		{"embed floor above one", &Config{EmbedFloor: fptr(1.2)}, "embed_floor"},
		{"zero top-k", &Config{CandidateTopK: iptr(0)}, "candidate_topk"},
		{"zero workers", &Config{WorkerCount: iptr(0)}, "worker_count"},
		{"window below 1s", &Config{MaxCandidateWindowSec: fptr(0.5)}, "max_candidate_window"},
		{
			"threshold inconsistent with outfit floor",
			&Config{MatchThreshold: fptr(0.10), OutfitMin: fptr(0.90)},
			"inconsistent",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if err == nil {
				t.Fatalf("Validate accepted %+v", tc.cfg)
			}
			if !strings.Contains(err.Error(), tc.frag) {
				t.Errorf("error %q does not mention %q", err, tc.frag)
			}
		})
	}
}

func TestLoadPartialJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.json")
	body := `{"match_threshold": 0.82, "worker_count": 2}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.GetMatchThreshold(); got != 0.82 {
		t.Errorf("match threshold = %v, want 0.82", got)
	}
	if got := cfg.GetWorkerCount(); got != 2 {
		t.Errorf("worker count = %v, want 2", got)
	}
	// Fields absent from the file keep their defaults.
	if got := cfg.GetOutfitMin(); got != 0.70 {
		t.Errorf("outfit min = %v, want default 0.70", got)
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	t.Run("wrong extension", func(t *testing.T) {
		if _, err := Load("tuning.yaml"); err == nil {
			t.Errorf("Load accepted a non-json extension")
		}
	})

	t.Run("invalid values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tuning.json")
		if err := os.WriteFile(path, []byte(`{"cooldown_sec": 99}`), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("Load accepted an out-of-range cooldown")
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tuning.json")
		if err := os.WriteFile(path, []byte(`{`), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("Load accepted malformed JSON")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
			t.Errorf("Load accepted a missing file")
		}
	})
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("MATCH_THRESHOLD", "0.85")
	t.Setenv("CANDIDATE_TOPK", "25")
	t.Setenv("EMBED_FLOOR", "")

	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if got := cfg.GetMatchThreshold(); got != 0.85 {
		t.Errorf("match threshold = %v, want 0.85", got)
	}
	if got := cfg.GetCandidateTopK(); got != 25 {
		t.Errorf("top-k = %v, want 25", got)
	}
	// Empty values are ignored, not parsed.
	if got := cfg.GetEmbedFloor(); got != 0.75 {
		t.Errorf("embed floor = %v, want default 0.75", got)
	}
}

func TestApplyEnvRejectsGarbage(t *testing.T) {
	t.Setenv("COOLDOWN_SEC", "soon")

	cfg := Default()
	if err := cfg.ApplyEnv(); err == nil {
		t.Errorf("ApplyEnv accepted a non-numeric cooldown")
	}
}

func TestApplyEnvValidates(t *testing.T) {
	t.Setenv("COOLDOWN_SEC", "99")

	cfg := Default()
	if err := cfg.ApplyEnv(); err == nil {
		t.Errorf("ApplyEnv accepted an out-of-range cooldown")
	}
}
