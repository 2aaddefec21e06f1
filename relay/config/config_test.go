package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/klaytn/relayer/relay"
)

func writeTemp(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// TestLoad_AppliesDefaultsToOmittedFields checks that a chain entry
// specifying only chainId and rpcUrl comes back with every tunable that
// mergeDefaults overlays filled from DefaultChainConfig.
func TestLoad_AppliesDefaultsToOmittedFields(t *testing.T) {
	path := writeTemp(t, `
[[Chains]]
ChainID = 8217
RPCURL = "https://rpc.example/8217"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Chains, 1)

	chain := cfg.Chains[0]
	defaults := DefaultChainConfig()
	require.Equal(t, uint64(8217), chain.ChainID)
	require.Equal(t, "https://rpc.example/8217", chain.RPCURL)
	require.Equal(t, defaults.RetryInterval, chain.RetryInterval)
	require.Equal(t, defaults.ProcessingInterval, chain.ProcessingInterval)
	require.Equal(t, defaults.StatusInterval, chain.StatusInterval)
	require.Equal(t, defaults.MaxTries, chain.MaxTries)
	require.Equal(t, defaults.MaxPendingTransactions, chain.MaxPendingTransactions)
	require.Equal(t, defaults.ConfirmationTimeout, chain.ConfirmationTimeout)
	require.Equal(t, defaults.BalanceUpdateInterval, chain.BalanceUpdateInterval)
	require.Equal(t, defaults.GasLimitBuffer, chain.GasLimitBuffer)
}

// TestLoad_OverridesWinOverDefaults checks that an explicitly-set field
// survives mergeDefaults instead of being clobbered.
func TestLoad_OverridesWinOverDefaults(t *testing.T) {
	path := writeTemp(t, `
[[Chains]]
ChainID = 1
RPCURL = "https://rpc.example/1"
MaxTries = 7
RetryInterval = 5000000000
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Chains[0].MaxTries)
	require.Equal(t, 5*time.Second, cfg.Chains[0].RetryInterval)
}

// TestLoad_MissingChainIDIsConfigError checks that an entry without a
// chainId is rejected rather than silently defaulting to 0.
func TestLoad_MissingChainIDIsConfigError(t *testing.T) {
	path := writeTemp(t, `
[[Chains]]
RPCURL = "https://rpc.example/1"
`)

	_, err := Load(path)
	require.Error(t, err)
	require.True(t, errors.Is(err, relay.ErrConfig))
}

// TestLoad_MissingRPCURLIsConfigError checks that an entry without an
// rpcUrl is rejected.
func TestLoad_MissingRPCURLIsConfigError(t *testing.T) {
	path := writeTemp(t, `
[[Chains]]
ChainID = 1
`)

	_, err := Load(path)
	require.Error(t, err)
	require.True(t, errors.Is(err, relay.ErrConfig))
}

// TestLoad_UnknownFieldIsConfigError checks that the strict
// NormFieldName/MissingField settings reject TOML keys that don't match a
// struct field verbatim.
func TestLoad_UnknownFieldIsConfigError(t *testing.T) {
	path := writeTemp(t, `
[[Chains]]
ChainID = 1
RPCURL = "https://rpc.example/1"
NotARealField = 1
`)

	_, err := Load(path)
	require.Error(t, err)
	require.True(t, errors.Is(err, relay.ErrConfig))
}

// TestLoad_MissingFileIsConfigError checks that a nonexistent path is
// wrapped into ErrConfig rather than a bare *os.PathError.
func TestLoad_MissingFileIsConfigError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	require.True(t, errors.Is(err, relay.ErrConfig))
}

func TestGasLimitBuffer_ResolveFallsBackToDefault(t *testing.T) {
	b := GasLimitBuffer{"default": 1.2, "delivery": 1.5}
	require.Equal(t, 1.5, b.Resolve(relay.OrderDelivery))
	require.Equal(t, 1.2, b.Resolve(relay.OrderAck))
}

func TestGasLimitBuffer_ResolveDefaultsToOneWhenEmpty(t *testing.T) {
	var b GasLimitBuffer
	require.Equal(t, 1.0, b.Resolve(relay.OrderDelivery))
}
