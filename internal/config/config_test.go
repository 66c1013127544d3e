package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate(), "default config should validate")
}

func TestLoadOverlaysOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
drop:
  missing_frame_sigma: 4.0
ids:
  "0x316":
    replay:
      min_iat_factor_for_fast_replay: 0.1
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 4.0, cfg.Drop.MissingFrameSigma, "overridden field should take the YAML value")
	require.Equal(t, 2.5, cfg.Drop.MaxIATFactor, "untouched default fields survive the overlay")

	eff := cfg.Resolved(0x316)
	require.Equal(t, 0.1, eff.Replay.MinIATFactorForFastReplay, "per-ID override applied")

	other := cfg.Resolved(0x100)
	require.Equal(t, 0.3, other.Replay.MinIATFactorForFastReplay, "non-overridden ID sees the global default")
}

func TestResolvedMergesPerIDOverrideFieldByField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
ids:
  "0x200":
    drop:
      max_iat_factor: 9.9
    tamper:
      entropy_params:
        sigma_threshold: 5.0
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	eff := cfg.Resolved(0x200)
	require.Equal(t, 9.9, eff.Drop.MaxIATFactor, "the overridden drop field takes the YAML value")
	require.Equal(t, 3.5, eff.Drop.MissingFrameSigma, "a drop field absent from the override inherits the global default")
	require.Equal(t, 2, eff.Drop.ConsecutiveMissingAllowed, "a drop field absent from the override inherits the global default")

	require.Equal(t, 5.0, eff.Tamper.EntropyParams.SigmaThreshold, "the overridden nested tamper field takes the YAML value")
	require.True(t, eff.Tamper.EntropyParams.Enabled, "a tamper field absent from the override inherits the global default")
	require.Equal(t, DLCStrictWhitelist, eff.Tamper.DLCLearningMode, "a tamper field absent from the override inherits the global default")
	require.True(t, eff.Tamper.ByteBehaviorParams.Enabled, "an untouched tamper group survives the overlay")
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("drop:\n  totally_unknown_field: 1\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err, "Load should reject an unknown config key")
}

func TestValidateRejectsBadDLCMode(t *testing.T) {
	cfg := Default()
	cfg.Tamper.DLCLearningMode = "bogus"
	require.Error(t, cfg.Validate(), "Validate should reject an unknown dlc_learning_mode")
}
