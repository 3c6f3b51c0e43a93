package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoFileOrFlags(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	require.Equal(t, Default().DataDir, cfg.DataDir)
	require.Equal(t, 100.0, cfg.SURBBalancer.MaxSURBsPerSec)
}

func TestLoadOverlaysTomlFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relayd.toml")
	contents := `
data_dir = "/custom/data"

[surb_balancer]
max_surbs_per_sec = 42.0
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	require.Equal(t, "/custom/data", cfg.DataDir)
	require.Equal(t, 42.0, cfg.SURBBalancer.MaxSURBsPerSec)
}

func TestLoadFlagsOverrideTomlFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relayd.toml")
	require.NoError(t, os.WriteFile(path, []byte(`data_dir = "/from/toml"`), 0o600))

	cfg, err := Load(path, []string{"--datadir", "/from/flags"})
	require.NoError(t, err)
	require.Equal(t, "/from/flags", cfg.DataDir)
}

func TestValidateRejectsOutOfRangeWinProb(t *testing.T) {
	cfg := Default()
	cfg.MinWinProb = 1.5
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroMaxSURBsPerSec(t *testing.T) {
	cfg := Default()
	cfg.SURBBalancer.MaxSURBsPerSec = 0
	require.Error(t, cfg.Validate())
}
