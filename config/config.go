// Package config loads the node configuration from a YAML file with viper.
package config

import (
	"encoding/hex"
	"strings"

	"github.com/iotaledger/hive.go/ierrors"
	"github.com/spf13/viper"

	"tangle-core/milestone"
	"tangle-core/models"
)

var ErrInvalidConfig = ierrors.New("invalid configuration")

type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	LevelDB    LevelDBConfig    `mapstructure:"leveldb"`
	Server     ServerConfig     `mapstructure:"server"`
	Milestones MilestonesConfig `mapstructure:"milestones"`
	Snapshot   SnapshotConfig   `mapstructure:"snapshot"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	AppLogFile string `mapstructure:"app_log_file"`
}

type LevelDBConfig struct {
	Path string `mapstructure:"path"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MilestonesConfig struct {
	MinThreshold int              `mapstructure:"min_threshold"`
	KeyRanges    []KeyRangeConfig `mapstructure:"key_ranges"`
	// RoundRetries bounds how often a failed confirmation round is retried.
	RoundRetries int `mapstructure:"round_retries"`
	// RoundRetryDelayMs is the pause before a failed round is retried.
	RoundRetryDelayMs int `mapstructure:"round_retry_delay_ms"`
}

// KeyRangeConfig authorizes a hex encoded ed25519 public key for [start_index, end_index],
// an end_index of 0 leaves the range open.
type KeyRangeConfig struct {
	PublicKey  string `mapstructure:"public_key"`
	StartIndex uint32 `mapstructure:"start_index"`
	EndIndex   uint32 `mapstructure:"end_index"`
}

type SnapshotConfig struct {
	SolidEntryPoints []SolidEntryPointConfig `mapstructure:"solid_entry_points"`
	LedgerIndex      uint32                  `mapstructure:"ledger_index"`
	Genesis          []GenesisConfig         `mapstructure:"genesis"`
}

type SolidEntryPointConfig struct {
	MessageID string `mapstructure:"message_id"`
	Index     uint32 `mapstructure:"index"`
}

type GenesisConfig struct {
	Address string `mapstructure:"address"`
	Balance uint64 `mapstructure:"balance"`
}

// Load reads the YAML file at path. Every key can be overridden by an environment variable
// prefixed with TANGLE, e.g. TANGLE_SERVER_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TANGLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("leveldb.path", "data/tangle")
	v.SetDefault("server.port", 8080)
	v.SetDefault("milestones.min_threshold", 1)
	v.SetDefault("milestones.round_retries", 10)
	v.SetDefault("milestones.round_retry_delay_ms", 1000)

	if err := v.ReadInConfig(); err != nil {
		return nil, ierrors.Wrapf(err, "failed to read config file %s", path)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, ierrors.Wrap(err, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the values Load cannot check by type alone.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return ierrors.Wrapf(ErrInvalidConfig, "server.port %d", c.Server.Port)
	}
	if c.Milestones.MinThreshold < 1 {
		return ierrors.Wrapf(ErrInvalidConfig, "milestones.min_threshold %d", c.Milestones.MinThreshold)
	}
	if _, err := c.KeyRanges(); err != nil {
		return err
	}
	if _, err := c.SolidEntryPoints(); err != nil {
		return err
	}
	if _, err := c.GenesisBalances(); err != nil {
		return err
	}
	return nil
}

func (c *Config) KeyRanges() ([]milestone.KeyRange, error) {
	ranges := make([]milestone.KeyRange, 0, len(c.Milestones.KeyRanges))
	for i, r := range c.Milestones.KeyRanges {
		key, err := hex.DecodeString(r.PublicKey)
		if err != nil || len(key) != models.PublicKeyLength {
			return nil, ierrors.Wrapf(ErrInvalidConfig, "milestones.key_ranges[%d].public_key %q", i, r.PublicKey)
		}
		if r.EndIndex != 0 && r.EndIndex < r.StartIndex {
			return nil, ierrors.Wrapf(ErrInvalidConfig, "milestones.key_ranges[%d] ends at %d before it starts at %d", i, r.EndIndex, r.StartIndex)
		}

		keyRange := milestone.KeyRange{
			StartIndex: models.MilestoneIndex(r.StartIndex),
			EndIndex:   models.MilestoneIndex(r.EndIndex),
		}
		copy(keyRange.PublicKey[:], key)
		ranges = append(ranges, keyRange)
	}
	return ranges, nil
}

func (c *Config) SolidEntryPoints() (map[models.MessageID]models.MilestoneIndex, error) {
	seps := make(map[models.MessageID]models.MilestoneIndex, len(c.Snapshot.SolidEntryPoints))
	for i, sep := range c.Snapshot.SolidEntryPoints {
		id, err := models.MessageIDFromHex(sep.MessageID)
		if err != nil {
			return nil, ierrors.Wrapf(ErrInvalidConfig, "snapshot.solid_entry_points[%d].message_id: %s", i, err)
		}
		seps[id] = models.MilestoneIndex(sep.Index)
	}
	return seps, nil
}

func (c *Config) GenesisBalances() (map[models.Address]uint64, error) {
	balances := make(map[models.Address]uint64, len(c.Snapshot.Genesis))
	for i, entry := range c.Snapshot.Genesis {
		addr, err := models.AddressFromHex(entry.Address)
		if err != nil {
			return nil, ierrors.Wrapf(ErrInvalidConfig, "snapshot.genesis[%d].address: %s", i, err)
		}
		if _, duplicate := balances[addr]; duplicate {
			return nil, ierrors.Wrapf(ErrInvalidConfig, "snapshot.genesis[%d].address %s listed twice", i, addr)
		}
		balances[addr] = entry.Balance
	}
	return balances, nil
}
