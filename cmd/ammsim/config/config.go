// Package config loads the ammsim scenario file.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/defistate/amm-engine/fees"
	"github.com/defistate/amm-engine/pool"
	"github.com/defistate/amm-engine/types"
)

const (
	DefaultWorkers  = 4
	DefaultLogLevel = "info"

	// LogLevelEnv overrides the file's log level when set.
	LogLevelEnv = "AMMSIM_LOG_LEVEL"
)

// Step operations.
const (
	OpSwap        = "swap"
	OpDeposit     = "deposit"
	OpWithdraw    = "withdraw"
	OpWithdrawOne = "withdraw_one"
	OpFreeze      = "freeze"
	OpUnfreeze    = "unfreeze"
)

// Config is a full scenario: tokens, pools and the script each pool replays.
type Config struct {
	Admin    common.Address `yaml:"admin"`
	LogLevel string         `yaml:"logLevel"`
	// Workers caps how many pool scripts run at once.
	Workers int           `yaml:"workers"`
	Tokens  []TokenConfig `yaml:"tokens"`
	Pools   []PoolConfig  `yaml:"pools"`
}

type TokenConfig struct {
	Address  common.Address `yaml:"address"`
	Symbol   string         `yaml:"symbol"`
	Decimals uint8          `yaml:"decimals"`
}

// PoolConfig describes one pool. X and Y are token symbols.
type PoolConfig struct {
	Name          string     `yaml:"name"`
	X             string     `yaml:"x"`
	Y             string     `yaml:"y"`
	Kind          pool.Kind  `yaml:"kind"`
	Amplification uint64     `yaml:"amplification"`
	FeeSide       string     `yaml:"feeSide"`
	Fees          fees.Rates `yaml:"fees"`
	Script        []Step     `yaml:"script"`
}

// Step is one timed operation. Side is the input side of a swap or the output side of a
// single-coin withdrawal. Amount is the swap input or the shares to burn. Min bounds the
// output of a swap or single-coin withdrawal and the shares minted by a deposit; a
// proportional withdrawal reads its minimum outputs from AmountX and AmountY.
type Step struct {
	At      uint64 `yaml:"at"`
	Op      string `yaml:"op"`
	Side    string `yaml:"side"`
	Amount  uint64 `yaml:"amount"`
	AmountX uint64 `yaml:"amountX"`
	AmountY uint64 `yaml:"amountY"`
	Min     uint64 `yaml:"min"`
}

// LoadConfig reads and validates the scenario at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a scenario, applies defaults and environment overrides, and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if level := os.Getenv(LogLevelEnv); level != "" {
		c.LogLevel = level
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// Validate checks cross references between pools and tokens and every script step.
func (c *Config) Validate() error {
	if c.Admin == (common.Address{}) {
		return errors.New("config: admin address is required")
	}
	symbols := make(map[string]struct{}, len(c.Tokens))
	for _, t := range c.Tokens {
		if t.Symbol == "" {
			return fmt.Errorf("config: token %s has no symbol", t.Address.Hex())
		}
		if _, dup := symbols[t.Symbol]; dup {
			return fmt.Errorf("config: duplicate token symbol %q", t.Symbol)
		}
		symbols[t.Symbol] = struct{}{}
	}

	names := make(map[string]struct{}, len(c.Pools))
	for i, p := range c.Pools {
		if p.Name == "" {
			return fmt.Errorf("config: pool %d has no name", i)
		}
		if _, dup := names[p.Name]; dup {
			return fmt.Errorf("config: duplicate pool name %q", p.Name)
		}
		names[p.Name] = struct{}{}

		for _, sym := range []string{p.X, p.Y} {
			if _, ok := symbols[sym]; !ok {
				return fmt.Errorf("config: pool %q references unknown token %q", p.Name, sym)
			}
		}
		if p.FeeSide != "" {
			if _, err := ParseSide(p.FeeSide); err != nil {
				return fmt.Errorf("config: pool %q: %w", p.Name, err)
			}
		}
		for j, s := range p.Script {
			if err := s.validate(); err != nil {
				return fmt.Errorf("config: pool %q step %d: %w", p.Name, j, err)
			}
		}
	}
	return nil
}

func (s Step) validate() error {
	switch s.Op {
	case OpSwap, OpWithdrawOne:
		_, err := ParseSide(s.Side)
		return err
	case OpDeposit, OpWithdraw, OpFreeze, OpUnfreeze:
		return nil
	default:
		return fmt.Errorf("unknown op %q", s.Op)
	}
}

// ParseSide maps "x" and "y" to a pool side.
func ParseSide(s string) (types.Side, error) {
	switch s {
	case "x", "X":
		return types.SideX, nil
	case "y", "Y":
		return types.SideY, nil
	default:
		return 0, fmt.Errorf("side %q must be x or y", s)
	}
}

// EngineConfig returns the engine pool configuration. Decimals are filled in by the engine.
func (p PoolConfig) EngineConfig() (pool.Config, error) {
	side := types.SideX
	if p.FeeSide != "" {
		var err error
		if side, err = ParseSide(p.FeeSide); err != nil {
			return pool.Config{}, err
		}
	}
	return pool.Config{
		Kind:          p.Kind,
		Fees:          p.Fees,
		FeeSide:       side,
		Amplification: p.Amplification,
	}, nil
}
