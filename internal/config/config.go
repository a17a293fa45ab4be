// Package config holds the configuration for every subsystem of the memory
// core. Configuration is loaded once into an immutable snapshot; reloads
// publish a whole new snapshot atomically (snapshot.go). Components never
// mutate a snapshot they were handed.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration snapshot.
type Config struct {
	StateDir  string          `yaml:"state_dir"`
	Logging   LoggingConfig   `yaml:"logging"`
	Salience  SalienceConfig  `yaml:"salience"`
	Attention AttentionConfig `yaml:"attention"`
	Tier      TierConfig      `yaml:"tier"`
	Pattern   PatternConfig   `yaml:"pattern"`
	Gate      GateConfig      `yaml:"gate"`
	Daemon    DaemonConfig    `yaml:"daemon"`
}

// LoggingConfig controls the categorized file logger.
type LoggingConfig struct {
	DebugMode bool   `yaml:"debug_mode"`
	Level     string `yaml:"level"`
}

// SalienceConfig controls the scorer.
type SalienceConfig struct {
	// Component weights; must sum to 1.0.
	EmotionalWeight     float64 `yaml:"emotional_weight"`
	NoveltyWeight       float64 `yaml:"novelty_weight"`
	RelevanceWeight     float64 `yaml:"relevance_weight"`
	SocialWeight        float64 `yaml:"social_weight"`
	ConsequentialWeight float64 `yaml:"consequential_weight"`

	// Adaptive weight learning.
	LearningRate       float64       `yaml:"learning_rate"`
	LearningWindow     time.Duration `yaml:"learning_window"`
	MinActionedSamples int           `yaml:"min_actioned_samples"`
	MinConfidence      float64       `yaml:"min_confidence"`
}

// AttentionConfig controls the per-owner attention window.
type AttentionConfig struct {
	Threshold      float64       `yaml:"threshold"`       // min effective salience
	Capacity       int           `yaml:"capacity"`        // max entries per owner
	WindowTTL      time.Duration `yaml:"window_ttl"`      // inactivity before rebuild
	DecayPerDay    float64       `yaml:"decay_per_day"`   // salience decay rate
	DecayFloor     float64       `yaml:"decay_floor"`     // decay never drops below
	BoostPerAccess float64       `yaml:"boost_per_access"`
	BoostCap       float64       `yaml:"boost_cap"`
}

// TierConfig controls hot/warm/cold placement.
type TierConfig struct {
	HotThreshold      float64       `yaml:"hot_threshold"`       // base salience for hot on store
	PromoteBase       float64       `yaml:"promote_base"`        // base salience earning promotion on access
	PromoteBaseWindow time.Duration `yaml:"promote_base_window"` // within this age
	PromoteAccesses   int           `yaml:"promote_accesses"`    // accesses within PromoteWindow
	PromoteWindow     time.Duration `yaml:"promote_window"`
	HotTTL            time.Duration `yaml:"hot_ttl"`            // no-access demotion to warm
	ColdAfter         time.Duration `yaml:"cold_after"`         // warm->cold idle time
	ColdMaxBase       float64       `yaml:"cold_max_base"`      // only below this base
	MaintenanceSample int           `yaml:"maintenance_sample"` // neighbors touched per get
}

// PatternConfig controls the temporal pattern detector.
type PatternConfig struct {
	WindowDays        int     `yaml:"window_days"`         // sliding detection window
	MaxLagHours       int     `yaml:"max_lag_hours"`       // lag scan bound
	MinDaysForming    float64 `yaml:"min_days_forming"`    // days of data for forming
	FormingConfidence float64 `yaml:"forming_confidence"`
	FormedConfidence  float64 `yaml:"formed_confidence"`
	StableConfidence  float64 `yaml:"stable_confidence"`
	StableDays        float64 `yaml:"stable_days"`
	NeededSamples     int     `yaml:"needed_samples"` // samples for full confidence
}

// RelationshipPolicy names the memory tags never surfaced in front of a
// participant standing in that relationship to the owner.
type RelationshipPolicy map[string][]string

// GateConfig controls the appropriateness filter stack.
type GateConfig struct {
	// Stages lists the enabled stages in evaluation order.
	Stages []string `yaml:"stages"`

	// ForbiddenTags is the per-relationship forbidden tag policy. These
	// defaults are configuration, not code; owners may override them.
	ForbiddenTags RelationshipPolicy `yaml:"forbidden_tags"`

	// DistressProsody is the prosody score below which rumination and
	// trauma tagged memories are withheld.
	DistressProsody float64 `yaml:"distress_prosody"`

	// TrajectoryOptIn gates the trajectory stage per owner; the stage
	// passes everything for owners who have not opted in.
	TrajectoryOptIn bool `yaml:"trajectory_opt_in"`

	// StageTimeout bounds each stage; a timed-out stage drops to
	// pass-through with a degraded flag.
	StageTimeout time.Duration `yaml:"stage_timeout"`
}

// DaemonConfig controls the proactive event daemon.
type DaemonConfig struct {
	ThreatConfidence   float64             `yaml:"threat_confidence"`    // below this, log only
	QueueFactor        int                 `yaml:"queue_factor"`         // drop when queue exceeds N x hourly average
	PersistEvents      bool                `yaml:"persist_events"`       // store offending events as memories
	SilenceAfter       time.Duration       `yaml:"silence_after"`        // silence check threshold
	PressureAlertAbove float64             `yaml:"pressure_alert_above"` // decayed negative pressure that alerts the circle
	CareCircle         map[string][]string `yaml:"care_circle"`          // owner -> recipients
}

// Default returns the default configuration snapshot.
func Default() *Config {
	return &Config{
		StateDir: ".memorable",
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
		Salience: SalienceConfig{
			EmotionalWeight:     0.30,
			NoveltyWeight:       0.20,
			RelevanceWeight:     0.20,
			SocialWeight:        0.15,
			ConsequentialWeight: 0.15,
			LearningRate:        0.3,
			LearningWindow:      30 * 24 * time.Hour,
			MinActionedSamples:  20,
			MinConfidence:       0.5,
		},
		Attention: AttentionConfig{
			Threshold:      40,
			Capacity:       100,
			WindowTTL:      24 * time.Hour,
			DecayPerDay:    0.01,
			DecayFloor:     0.3,
			BoostPerAccess: 0.02,
			BoostCap:       1.5,
		},
		Tier: TierConfig{
			HotThreshold:      70,
			PromoteBase:       60,
			PromoteBaseWindow: 24 * time.Hour,
			PromoteAccesses:   2,
			PromoteWindow:     time.Hour,
			HotTTL:            time.Hour,
			ColdAfter:         30 * 24 * time.Hour,
			ColdMaxBase:       40,
			MaintenanceSample: 8,
		},
		Pattern: PatternConfig{
			WindowDays:        84,
			MaxLagHours:       1008,
			MinDaysForming:    21,
			FormingConfidence: 0.4,
			FormedConfidence:  0.6,
			StableConfidence:  0.8,
			StableDays:        63,
			NeededSamples:     20,
		},
		Gate: GateConfig{
			Stages: []string{
				"privacy", "location", "device",
				"participants", "emotion", "trajectory",
			},
			ForbiddenTags: RelationshipPolicy{
				"boss":     {"career_doubts", "job_search", "salary"},
				"coworker": {"salary", "complaint", "personal"},
				"child":    {"adult_content", "finances", "medical"},
				"parent":   {"intimate"},
				"stranger": {"personal", "medical", "financial", "intimate"},
			},
			DistressProsody: -10,
			TrajectoryOptIn: false,
			StageTimeout:    200 * time.Millisecond,
		},
		Daemon: DaemonConfig{
			ThreatConfidence:   0.6,
			QueueFactor:        10,
			PersistEvents:      false,
			SilenceAfter:       12 * time.Hour,
			PressureAlertAbove: 60,
			CareCircle:         map[string][]string{},
		},
	}
}

// Load reads a YAML config file over the defaults. A missing file returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	sum := c.Salience.EmotionalWeight + c.Salience.NoveltyWeight +
		c.Salience.RelevanceWeight + c.Salience.SocialWeight +
		c.Salience.ConsequentialWeight
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("salience weights must sum to 1.0, got %.3f", sum)
	}
	if c.Attention.Capacity <= 0 {
		return fmt.Errorf("attention capacity must be positive")
	}
	if c.Pattern.WindowDays <= 0 || c.Pattern.MaxLagHours <= 0 {
		return fmt.Errorf("pattern window and lag bound must be positive")
	}
	return nil
}
