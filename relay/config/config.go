// Package config loads the per-chain TOML configuration file, grounded on
// klaytn's cmd/ranger/config.go: the same naoina/toml
// settings object configured so TOML keys match Go struct field names
// verbatim, and the same file-plus-line-number error wrapping on parse
// failure.
package config

import (
	"bufio"
	"fmt"
	"math/big"
	"os"
	"reflect"
	"time"
	"unicode"

	"github.com/naoina/toml"
	"github.com/pkg/errors"

	"github.com/klaytn/relayer/relay"
)

var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		link := ""
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see %s#%s", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// GasLimitBuffer maps order kind ("delivery", "ack") to its gasLimit
// multiplier, with "default" as the fallback key.
type GasLimitBuffer map[string]float64

// Resolve returns the gasLimit multiplier for kind, falling back to the
// "default" entry.
func (b GasLimitBuffer) Resolve(kind relay.OrderKind) float64 {
	if v, ok := b[kind.String()]; ok {
		return v
	}
	if v, ok := b["default"]; ok {
		return v
	}
	return 1.0
}

// ChainConfig is one chain's full set of tunables.
type ChainConfig struct {
	ChainID uint64
	RPCURL  string

	Addresses []string
	Adapter   string

	// Counterpart is the chain this chain exchanges messages with,
	// registered into relay/registry so the Collector can route a MID's
	// next order to the correct chain's pending_orders queue. Every chain
	// entry in a deployment must also point JournalPath (below) at the
	// same file, so every worker resolves every chain's Counterpart.
	Counterpart uint64

	NewOrdersDelay         time.Duration
	RetryInterval          time.Duration
	ProcessingInterval     time.Duration
	StatusInterval         time.Duration
	MaxTries               int
	MaxPendingTransactions int
	Confirmations          uint64
	ConfirmationTimeout    time.Duration
	BalanceUpdateInterval  int

	GasLimitBuffer GasLimitBuffer

	MaxFeePerGas                *big.Int
	MaxPriorityFeeAdjustmentFactor float64
	MaxAllowedPriorityFeePerGas  *big.Int
	GasPriceAdjustmentFactor     float64
	MaxAllowedGasPrice           *big.Int
	PriorityAdjustmentFactor     float64

	LowBalanceWarning     *big.Int
	MinOperationalBalance *big.Int

	MinDeliveryReward         *big.Int
	RelativeMinDeliveryReward *big.Int
	MinAckReward              *big.Int
	RelativeMinAckReward      *big.Int

	BlockDelay    uint64
	Interval      time.Duration
	MaxBlocks     uint64
	StartingBlock uint64
	StoppingBlock uint64

	KeystorePath string
	KeystorePass string
	JournalPath  string
	RedisAddr    string
}

// Config is the top-level document: one entry per chain the relayer runs a
// worker for.
type Config struct {
	Chains []ChainConfig
}

// DefaultChainConfig returns the baseline defaults applied before any
// TOML overrides.
func DefaultChainConfig() ChainConfig {
	return ChainConfig{
		NewOrdersDelay:         0,
		RetryInterval:          2000 * time.Millisecond,
		ProcessingInterval:     100 * time.Millisecond,
		StatusInterval:         10 * time.Second,
		MaxTries:               3,
		MaxPendingTransactions: 1000,
		Confirmations:          1,
		ConfirmationTimeout:    600000 * time.Millisecond,
		BalanceUpdateInterval:  50,
		GasLimitBuffer:         GasLimitBuffer{"default": 0},
	}
}

// Load reads and parses a TOML document at path, applying defaults to any
// chain entry that omits a field, the same load-then-apply-flags shape
// klaytn's makeConfigRanger uses (absent the CLI-flag overlay; this
// relayer keeps to the --config file alone).
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(relay.ErrConfig, err.Error())
	}
	defer f.Close()

	cfg := &Config{}
	if err := tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg); err != nil {
		if _, ok := err.(*toml.LineError); ok {
			return nil, errors.Wrap(relay.ErrConfig, path+", "+err.Error())
		}
		return nil, errors.Wrap(relay.ErrConfig, err.Error())
	}

	for i := range cfg.Chains {
		cfg.Chains[i] = mergeDefaults(DefaultChainConfig(), cfg.Chains[i])
		if cfg.Chains[i].ChainID == 0 {
			return nil, errors.Wrapf(relay.ErrConfig, "chain entry %d missing chainId", i)
		}
		if cfg.Chains[i].RPCURL == "" {
			return nil, errors.Wrapf(relay.ErrConfig, "chain %d missing rpcUrl", cfg.Chains[i].ChainID)
		}
	}

	return cfg, nil
}

// mergeDefaults fills the zero-valued fields listed below in c with
// defaults's values. TOML decoding already leaves unset fields at their zero
// value, so this is a plain field-by-field overlay rather than a
// reflect-based merge. Confirmations is not overlaid: a zero value is kept
// as configured, since 0 confirmations is a meaningful setting.
func mergeDefaults(defaults, c ChainConfig) ChainConfig {
	if c.NewOrdersDelay == 0 {
		c.NewOrdersDelay = defaults.NewOrdersDelay
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = defaults.RetryInterval
	}
	if c.ProcessingInterval == 0 {
		c.ProcessingInterval = defaults.ProcessingInterval
	}
	if c.StatusInterval == 0 {
		c.StatusInterval = defaults.StatusInterval
	}
	if c.MaxTries == 0 {
		c.MaxTries = defaults.MaxTries
	}
	if c.MaxPendingTransactions == 0 {
		c.MaxPendingTransactions = defaults.MaxPendingTransactions
	}
	if c.ConfirmationTimeout == 0 {
		c.ConfirmationTimeout = defaults.ConfirmationTimeout
	}
	if c.BalanceUpdateInterval == 0 {
		c.BalanceUpdateInterval = defaults.BalanceUpdateInterval
	}
	if c.GasLimitBuffer == nil {
		c.GasLimitBuffer = defaults.GasLimitBuffer
	}
	return c
}
