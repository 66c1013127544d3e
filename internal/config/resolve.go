package config

import "fmt"

// Effective is the fully-resolved, per-ID view of configuration: the
// global groups with any per-ID override from Config.IDs layered on top
// (spec §6: "resolution is ID-specific-then-global").
type Effective struct {
	Drop         DropConfig
	Tamper       TamperConfig
	Replay       ReplayConfig
	GeneralRules GeneralRulesConfig
	Throttle     ThrottleConfig
}

// CANIDKey renders a CAN ID the way the "ids" override map is keyed in
// YAML: a "0xNNN" hex string.
func CANIDKey(canID uint32) string {
	return fmt.Sprintf("0x%X", canID)
}

// Resolved returns the Effective configuration for canID, overlaying any
// per-ID override onto the global defaults field-by-field: spec §6 lets
// an override set "any of the above" within a group, so an override
// YAML block naming only one field (e.g. just drop.max_iat_factor) must
// not blank out the group's other fields.
func (c *Config) Resolved(canID uint32) Effective {
	eff := Effective{
		Drop:         c.Drop,
		Tamper:       c.Tamper,
		Replay:       c.Replay,
		GeneralRules: c.GeneralRules,
		Throttle:     c.Throttle,
	}

	ov, ok := c.IDs[CANIDKey(canID)]
	if !ok {
		return eff
	}
	if ov.Drop != nil {
		eff.Drop = mergeDropConfig(eff.Drop, *ov.Drop)
	}
	if ov.Tamper != nil {
		eff.Tamper = mergeTamperConfig(eff.Tamper, *ov.Tamper)
	}
	if ov.Replay != nil {
		eff.Replay = mergeReplayConfig(eff.Replay, *ov.Replay)
	}
	if ov.GeneralRules != nil {
		eff.GeneralRules = mergeGeneralRulesConfig(eff.GeneralRules, *ov.GeneralRules)
	}
	if ov.Throttle != nil {
		eff.Throttle = mergeThrottleConfig(eff.Throttle, *ov.Throttle)
	}
	return eff
}

// The merge* helpers below overlay a per-ID override struct onto a copy
// of the global group, field by field. A zero-valued override field
// (Go's zero value for its type, e.g. 0, "", or false) is indistinguishable
// from "not set in YAML" and is left inheriting the global value; an
// override cannot explicitly force a numeric field to zero or a bool
// field to false, only away from it.

func mergeDropConfig(base, ov DropConfig) DropConfig {
	if ov.MissingFrameSigma != 0 {
		base.MissingFrameSigma = ov.MissingFrameSigma
	}
	if ov.ConsecutiveMissingAllowed != 0 {
		base.ConsecutiveMissingAllowed = ov.ConsecutiveMissingAllowed
	}
	if ov.MaxIATFactor != 0 {
		base.MaxIATFactor = ov.MaxIATFactor
	}
	if ov.TreatDLCZeroAsSpecial {
		base.TreatDLCZeroAsSpecial = true
	}
	return base
}

func mergeCounterByteParams(base, ov CounterByteParams) CounterByteParams {
	if ov.DetectSimpleCounters {
		base.DetectSimpleCounters = true
	}
	if ov.MaxValueBeforeRolloverGuess != 0 {
		base.MaxValueBeforeRolloverGuess = ov.MaxValueBeforeRolloverGuess
	}
	if ov.AllowedCounterSkips != 0 {
		base.AllowedCounterSkips = ov.AllowedCounterSkips
	}
	return base
}

func mergeByteBehaviorParams(base, ov ByteBehaviorParams) ByteBehaviorParams {
	if ov.Enabled {
		base.Enabled = true
	}
	if ov.StaticByteMismatchThreshold != 0 {
		base.StaticByteMismatchThreshold = ov.StaticByteMismatchThreshold
	}
	base.CounterByteParams = mergeCounterByteParams(base.CounterByteParams, ov.CounterByteParams)
	return base
}

func mergeEntropyParams(base, ov EntropyParams) EntropyParams {
	if ov.Enabled {
		base.Enabled = true
	}
	if ov.SigmaThreshold != 0 {
		base.SigmaThreshold = ov.SigmaThreshold
	}
	return base
}

func mergeTamperConfig(base, ov TamperConfig) TamperConfig {
	if ov.DLCLearningMode != "" {
		base.DLCLearningMode = ov.DLCLearningMode
	}
	if ov.PayloadAnalysisMinDLC != 0 {
		base.PayloadAnalysisMinDLC = ov.PayloadAnalysisMinDLC
	}
	base.EntropyParams = mergeEntropyParams(base.EntropyParams, ov.EntropyParams)
	base.ByteBehaviorParams = mergeByteBehaviorParams(base.ByteBehaviorParams, ov.ByteBehaviorParams)
	return base
}

func mergeIdenticalPayloadParams(base, ov IdenticalPayloadParams) IdenticalPayloadParams {
	if ov.Enabled {
		base.Enabled = true
	}
	if ov.TimeWindowMs != 0 {
		base.TimeWindowMs = ov.TimeWindowMs
	}
	if ov.RepetitionThreshold != 0 {
		base.RepetitionThreshold = ov.RepetitionThreshold
	}
	return base
}

func mergeSequenceReplayParams(base, ov SequenceReplayParams) SequenceReplayParams {
	if ov.Enabled {
		base.Enabled = true
	}
	if ov.SequenceLength != 0 {
		base.SequenceLength = ov.SequenceLength
	}
	if ov.MaxSequenceAgeSec != 0 {
		base.MaxSequenceAgeSec = ov.MaxSequenceAgeSec
	}
	if ov.MinIntervalBetweenSequencesSec != 0 {
		base.MinIntervalBetweenSequencesSec = ov.MinIntervalBetweenSequencesSec
	}
	return base
}

func mergeReplayConfig(base, ov ReplayConfig) ReplayConfig {
	if ov.MinIATFactorForFastReplay != 0 {
		base.MinIATFactorForFastReplay = ov.MinIATFactorForFastReplay
	}
	if ov.AbsoluteMinIATMs != 0 {
		base.AbsoluteMinIATMs = ov.AbsoluteMinIATMs
	}
	base.IdenticalPayloadParams = mergeIdenticalPayloadParams(base.IdenticalPayloadParams, ov.IdenticalPayloadParams)
	base.SequenceReplayParams = mergeSequenceReplayParams(base.SequenceReplayParams, ov.SequenceReplayParams)
	return base
}

func mergeDetectUnknownID(base, ov DetectUnknownID) DetectUnknownID {
	if ov.Enabled {
		base.Enabled = true
	}
	if ov.LearningMode != "" {
		base.LearningMode = ov.LearningMode
	}
	if ov.ShadowDurationSec != 0 {
		base.ShadowDurationSec = ov.ShadowDurationSec
	}
	if ov.AutoAddToBaseline {
		base.AutoAddToBaseline = true
	}
	return base
}

func mergeGeneralRulesConfig(base, ov GeneralRulesConfig) GeneralRulesConfig {
	base.DetectUnknownID = mergeDetectUnknownID(base.DetectUnknownID, ov.DetectUnknownID)
	return base
}

func mergeThrottleConfig(base, ov ThrottleConfig) ThrottleConfig {
	if ov.MaxAlertsPerIDPerSec != 0 {
		base.MaxAlertsPerIDPerSec = ov.MaxAlertsPerIDPerSec
	}
	if ov.GlobalMaxAlertsPerSec != 0 {
		base.GlobalMaxAlertsPerSec = ov.GlobalMaxAlertsPerSec
	}
	if ov.CooldownMs != 0 {
		base.CooldownMs = ov.CooldownMs
	}
	return base
}
