package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"tangle-core/config"
	"tangle-core/models"
)

const testConfig = `
log:
  level: debug
leveldb:
  path: /tmp/tangle-test
server:
  port: 9090
milestones:
  min_threshold: 2
  key_ranges:
    - public_key: "1111111111111111111111111111111111111111111111111111111111111111"
      start_index: 1
    - public_key: "2222222222222222222222222222222222222222222222222222222222222222"
      start_index: 5
      end_index: 10
snapshot:
  ledger_index: 3
  solid_entry_points:
    - message_id: "abababababababababababababababababababababababababababababababab"
      index: 3
  genesis:
    - address: "0101010101010101010101010101010101010101010101010101010101010101"
      balance: 1000
`

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "/tmp/tangle-test", cfg.LevelDB.Path)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 2, cfg.Milestones.MinThreshold)
	require.Equal(t, 10, cfg.Milestones.RoundRetries, "default applies")

	ranges, err := cfg.KeyRanges()
	require.NoError(t, err)
	require.Len(t, ranges, 2)
	require.Equal(t, byte(0x22), ranges[1].PublicKey[31])
	require.Equal(t, models.MilestoneIndex(5), ranges[1].StartIndex)
	require.Equal(t, models.MilestoneIndex(10), ranges[1].EndIndex)
	require.Equal(t, models.MilestoneIndex(0), ranges[0].EndIndex)

	seps, err := cfg.SolidEntryPoints()
	require.NoError(t, err)
	var sep models.MessageID
	for i := range sep {
		sep[i] = 0xab
	}
	require.Equal(t, map[models.MessageID]models.MilestoneIndex{sep: 3}, seps)

	genesis, err := cfg.GenesisBalances()
	require.NoError(t, err)
	var addr models.Address
	for i := range addr {
		addr[i] = 0x01
	}
	require.Equal(t, map[models.Address]uint64{addr: 1000}, genesis)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	t.Setenv("TANGLE_SERVER_PORT", "7070")

	cfg, err := config.Load(writeConfig(t, testConfig))
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = config.Load(writeConfig(t, `
milestones:
  key_ranges:
    - public_key: "abcd"
      start_index: 1
`))
	require.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = config.Load(writeConfig(t, `
milestones:
  min_threshold: 0
`))
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestShippedConfig(t *testing.T) {
	cfg, err := config.Load("config.yaml")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
}
