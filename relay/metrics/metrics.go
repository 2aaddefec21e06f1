// Package metrics is the per-chain registered-counter/gauge surface used
// across the relayer, grounded on klaytn's metrics.NewRegisteredCounter
// pattern (node/sc/bridge_tx_pool.go's refusedTxCounter), built directly on
// rcrowley/go-metrics rather than the klaytn-forked wrapper since the
// upstream package is the one carried in this module's dependency set.
package metrics

import "github.com/rcrowley/go-metrics"

// ChainRegistry wraps a metrics.Registry scoped to one chain's worker so
// every counter/gauge name is automatically namespaced by chainId, the same
// way klaytn namespaces bridgeTxpool/* counters by subsystem.
type ChainRegistry struct {
	registry metrics.Registry
	prefix   string
}

// NewChainRegistry returns a ChainRegistry that registers metrics under
// "<prefix>/<name>" in registry.
func NewChainRegistry(registry metrics.Registry, prefix string) *ChainRegistry {
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	return &ChainRegistry{registry: registry, prefix: prefix}
}

// Counter returns a registered counter for name, creating it on first use.
func (c *ChainRegistry) Counter(name string) metrics.Counter {
	return metrics.GetOrRegisterCounter(c.prefix+"/"+name, c.registry)
}

// Gauge returns a registered gauge for name, creating it on first use.
func (c *ChainRegistry) Gauge(name string) metrics.Gauge {
	return metrics.GetOrRegisterGauge(c.prefix+"/"+name, c.registry)
}

// Registry exposes the underlying metrics.Registry for components (like
// relay/submitter.New) that register their own named metrics directly.
func (c *ChainRegistry) Registry() metrics.Registry {
	return c.registry
}
