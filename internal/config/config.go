// Package config loads and resolves the detection core's configuration:
// the Learning/Drop/Tamper/Replay/GeneralRules/Throttle groups from
// spec §6, plus a per-ID override map resolved ID-specific-then-global.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/navispectra/canids/internal/model"
)

// LearningConfig controls how long the Baseline Engine accumulates
// statistics and what it takes to call an ID's baseline stable.
type LearningConfig struct {
	InitialLearningWindowSec   int `yaml:"initial_learning_window_sec"`
	MinSamplesForStableBaseline int `yaml:"min_samples_for_stable_baseline"`
	MinEntropySamples           int `yaml:"min_entropy_samples"`
	MinCounterSamples           int `yaml:"min_counter_samples"`
}

// DropConfig configures the Drop Detector (spec §4.3.a).
type DropConfig struct {
	MissingFrameSigma        float64 `yaml:"missing_frame_sigma"`
	ConsecutiveMissingAllowed int    `yaml:"consecutive_missing_allowed"`
	MaxIATFactor              float64 `yaml:"max_iat_factor"`
	TreatDLCZeroAsSpecial     bool    `yaml:"treat_dlc_zero_as_special"`
}

// CounterByteParams configures counter-byte skip tolerance for the Tamper
// Detector's byte-behavior rule (spec §4.3.b rule 4).
type CounterByteParams struct {
	DetectSimpleCounters        bool `yaml:"detect_simple_counters"`
	MaxValueBeforeRolloverGuess int  `yaml:"max_value_before_rollover_guess"`
	AllowedCounterSkips         int  `yaml:"allowed_counter_skips"`
}

// ByteBehaviorParams configures the static/counter/variable byte rules.
type ByteBehaviorParams struct {
	Enabled                     bool              `yaml:"enabled"`
	StaticByteMismatchThreshold int               `yaml:"static_byte_mismatch_threshold"`
	CounterByteParams           CounterByteParams `yaml:"counter_byte_params"`
}

// EntropyParams configures the entropy-anomaly rule.
type EntropyParams struct {
	Enabled        bool    `yaml:"enabled"`
	SigmaThreshold float64 `yaml:"sigma_threshold"`
}

// DLCLearningMode is the closed set of Tamper DLC-check modes (spec §6 and
// §9's open-question resolution: "adaptive" behaves as strict_whitelist).
type DLCLearningMode string

const (
	DLCStrictWhitelist DLCLearningMode = "strict_whitelist"
	DLCAdaptive        DLCLearningMode = "adaptive"
)

// TamperConfig configures the Tamper Detector (spec §4.3.b).
type TamperConfig struct {
	DLCLearningMode        DLCLearningMode    `yaml:"dlc_learning_mode"`
	PayloadAnalysisMinDLC  int                `yaml:"payload_analysis_min_dlc"`
	EntropyParams          EntropyParams      `yaml:"entropy_params"`
	ByteBehaviorParams     ByteBehaviorParams `yaml:"byte_behavior_params"`
}

// IdenticalPayloadParams configures the identical-payload replay rule.
type IdenticalPayloadParams struct {
	Enabled             bool `yaml:"enabled"`
	TimeWindowMs        int  `yaml:"time_window_ms"`
	RepetitionThreshold int  `yaml:"repetition_threshold"`
}

// SequenceReplayParams configures the sequence-replay rule.
type SequenceReplayParams struct {
	Enabled                        bool    `yaml:"enabled"`
	SequenceLength                 int     `yaml:"sequence_length"`
	MaxSequenceAgeSec              float64 `yaml:"max_sequence_age_sec"`
	MinIntervalBetweenSequencesSec float64 `yaml:"min_interval_between_sequences_sec"`
}

// ReplayConfig configures the Replay Detector (spec §4.3.c).
type ReplayConfig struct {
	MinIATFactorForFastReplay float64                `yaml:"min_iat_factor_for_fast_replay"`
	AbsoluteMinIATMs          float64                `yaml:"absolute_min_iat_ms"`
	IdenticalPayloadParams    IdenticalPayloadParams `yaml:"identical_payload_params"`
	SequenceReplayParams      SequenceReplayParams   `yaml:"sequence_replay_params"`
}

// GeneralRulesLearningMode is the closed set of unknown-ID handling modes.
type GeneralRulesLearningMode string

const (
	GeneralRulesStrict GeneralRulesLearningMode = "strict"
	GeneralRulesShadow GeneralRulesLearningMode = "shadow"
)

// DetectUnknownID configures the General Rules Detector (spec §4.3.d).
type DetectUnknownID struct {
	Enabled           bool                     `yaml:"enabled"`
	LearningMode      GeneralRulesLearningMode `yaml:"learning_mode"`
	ShadowDurationSec float64                  `yaml:"shadow_duration_sec"`
	AutoAddToBaseline bool                     `yaml:"auto_add_to_baseline"`
}

// GeneralRulesConfig configures the General Rules Detector.
type GeneralRulesConfig struct {
	DetectUnknownID DetectUnknownID `yaml:"detect_unknown_id"`
}

// ThrottleConfig configures the Alert Manager's rate limiting (spec §4.4).
type ThrottleConfig struct {
	MaxAlertsPerIDPerSec  float64 `yaml:"max_alerts_per_id_per_sec"`
	GlobalMaxAlertsPerSec float64 `yaml:"global_max_alerts_per_sec"`
	CooldownMs            float64 `yaml:"cooldown_ms"`
}

// MemoryConfig configures the State Manager's backpressure mechanism
// (spec §3 "Memory pressure").
type MemoryConfig struct {
	SoftLimitIDs   int     `yaml:"soft_limit_ids"`
	EvictionAgeSec float64 `yaml:"eviction_age_sec"`
	MemoryLimitMB  int     `yaml:"memory_limit_mb"`
}

// RollingLogConfig configures a size-rotated log sink.
type RollingLogConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// ClickHouseSinkConfig configures the optional archival sink.
type ClickHouseSinkConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DSN           string `yaml:"dsn"`
	Table         string `yaml:"table"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval_ms"`
}

// EmailSinkConfig configures the optional critical-alert email sink.
type EmailSinkConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// SinksConfig configures the Alert Manager's output sinks and their
// severity routing (spec §4.4).
type SinksConfig struct {
	Console    bool                 `yaml:"console"`
	TextLog    RollingLogConfig     `yaml:"text_log"`
	JSONLog    RollingLogConfig     `yaml:"json_log"`
	ClickHouse ClickHouseSinkConfig `yaml:"clickhouse"`
	Email      EmailSinkConfig      `yaml:"email"`

	// Routing maps a severity name (low/medium/high/critical) to the
	// sink names ("console","text_log","json_log","clickhouse") an
	// alert of that severity is routed to.
	Routing map[string][]string `yaml:"routing"`
}

// APIConfig configures the stats/health HTTP surface (spec's Domain
// Stack: /healthz, /metrics, /baseline/{can_id}, /stats).
type APIConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Overrides is a per-ID override of any global config group. Nil pointers
// mean "inherit the global value" (spec §6: "resolution is
// ID-specific-then-global").
type Overrides struct {
	Drop         *DropConfig         `yaml:"drop"`
	Tamper       *TamperConfig       `yaml:"tamper"`
	Replay       *ReplayConfig       `yaml:"replay"`
	GeneralRules *GeneralRulesConfig `yaml:"general_rules"`
	Throttle     *ThrottleConfig     `yaml:"throttle"`
}

// Config is the top-level, validated configuration record.
type Config struct {
	Learning     LearningConfig       `yaml:"learning"`
	Drop         DropConfig           `yaml:"drop"`
	Tamper       TamperConfig         `yaml:"tamper"`
	Replay       ReplayConfig         `yaml:"replay"`
	GeneralRules GeneralRulesConfig   `yaml:"general_rules"`
	Throttle     ThrottleConfig       `yaml:"throttle"`
	Memory       MemoryConfig         `yaml:"memory"`
	Sinks        SinksConfig          `yaml:"sinks"`
	API          APIConfig            `yaml:"api"`
	IDs          map[string]Overrides `yaml:"ids"`
}

// Default returns the Config populated with spec §6's documented defaults.
func Default() *Config {
	return &Config{
		Learning: LearningConfig{
			InitialLearningWindowSec:    300,
			MinSamplesForStableBaseline: 100,
			MinEntropySamples:           100,
			MinCounterSamples:           20,
		},
		Drop: DropConfig{
			MissingFrameSigma:         3.5,
			ConsecutiveMissingAllowed: 2,
			MaxIATFactor:              2.5,
			TreatDLCZeroAsSpecial:     false,
		},
		Tamper: TamperConfig{
			DLCLearningMode:       DLCStrictWhitelist,
			PayloadAnalysisMinDLC: 1,
			EntropyParams: EntropyParams{
				Enabled:        true,
				SigmaThreshold: 3.0,
			},
			ByteBehaviorParams: ByteBehaviorParams{
				Enabled:                     true,
				StaticByteMismatchThreshold: 1,
				CounterByteParams: CounterByteParams{
					DetectSimpleCounters:        true,
					MaxValueBeforeRolloverGuess: 255,
					AllowedCounterSkips:         0,
				},
			},
		},
		Replay: ReplayConfig{
			MinIATFactorForFastReplay: 0.3,
			AbsoluteMinIATMs:          1.0,
			IdenticalPayloadParams: IdenticalPayloadParams{
				Enabled:             true,
				TimeWindowMs:        1000,
				RepetitionThreshold: 3,
			},
			SequenceReplayParams: SequenceReplayParams{
				Enabled:                        true,
				SequenceLength:                 20,
				MaxSequenceAgeSec:               600,
				MinIntervalBetweenSequencesSec:  5,
			},
		},
		GeneralRules: GeneralRulesConfig{
			DetectUnknownID: DetectUnknownID{
				Enabled:           true,
				LearningMode:      GeneralRulesShadow,
				ShadowDurationSec: 60,
				AutoAddToBaseline: false,
			},
		},
		Throttle: ThrottleConfig{
			MaxAlertsPerIDPerSec:  5,
			GlobalMaxAlertsPerSec: 50,
			CooldownMs:            2000,
		},
		Memory: MemoryConfig{
			SoftLimitIDs:   5000,
			EvictionAgeSec: 600,
			MemoryLimitMB:  1024,
		},
		Sinks: SinksConfig{
			Console: true,
			TextLog: RollingLogConfig{Enabled: true, Path: "alerts.log", MaxSizeMB: 100, MaxBackups: 5},
			JSONLog: RollingLogConfig{Enabled: true, Path: "alerts.jsonl", MaxSizeMB: 100, MaxBackups: 5},
			ClickHouse: ClickHouseSinkConfig{
				Enabled: false, Table: "canids_alerts", BatchSize: 500, FlushInterval: 2000,
			},
			Email: EmailSinkConfig{Enabled: false, Port: 587},
			Routing: map[string][]string{
				"low":      {"json_log"},
				"medium":   {"json_log", "text_log"},
				"high":     {"console", "text_log", "json_log", "clickhouse"},
				"critical": {"console", "text_log", "json_log", "clickhouse", "email"},
			},
		},
		API: APIConfig{
			Enabled:    true,
			ListenAddr: ":9090",
		},
		IDs: map[string]Overrides{},
	}
}

// Load reads and strictly decodes a YAML config file on top of Default,
// rejecting unknown keys (spec §9: "Unknown config keys are rejected at
// load").
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", model.ErrConfigError, path, err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", model.ErrConfigError, path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configuration values outside their documented ranges.
func (c *Config) Validate() error {
	switch {
	case c.Learning.InitialLearningWindowSec <= 0:
		return fmt.Errorf("%w: initial_learning_window_sec must be positive", model.ErrConfigError)
	case c.Drop.MaxIATFactor <= 0:
		return fmt.Errorf("%w: max_iat_factor must be positive", model.ErrConfigError)
	case c.Tamper.DLCLearningMode != DLCStrictWhitelist && c.Tamper.DLCLearningMode != DLCAdaptive:
		return fmt.Errorf("%w: unknown dlc_learning_mode %q", model.ErrConfigError, c.Tamper.DLCLearningMode)
	case c.GeneralRules.DetectUnknownID.LearningMode != GeneralRulesStrict &&
		c.GeneralRules.DetectUnknownID.LearningMode != GeneralRulesShadow:
		return fmt.Errorf("%w: unknown general_rules learning_mode %q", model.ErrConfigError, c.GeneralRules.DetectUnknownID.LearningMode)
	case c.Throttle.MaxAlertsPerIDPerSec <= 0 || c.Throttle.GlobalMaxAlertsPerSec <= 0:
		return fmt.Errorf("%w: throttle rates must be positive", model.ErrConfigError)
	}
	return nil
}
