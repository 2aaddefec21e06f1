// Package collector decodes raw logs into relay.Event values using an
// AMB-specific adapter and upserts the result into the Store. This mirrors
// klaytn's BridgeManager.loop (node/sc/bridge_manager.go), which turns
// WatchRequestValueTransfer/WatchHandleValueTransfer channel messages into
// TokenReceivedEvent/TokenTransferEvent and republishes them on an
// event.Feed — except here the sink is the shared Store, not an
// in-process feed, since cross-worker coordination goes exclusively
// through the Store rather than any hidden shared state.
package collector

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/klaytn/relayer/relay"
	"github.com/klaytn/relayer/relay/amb"
	"github.com/klaytn/relayer/relay/getter"
	"github.com/klaytn/relayer/relay/log"
	"github.com/klaytn/relayer/relay/store"
)

var logger = log.NewModuleLogger(log.Collector, 0)

// ChainResolver resolves the chain a given chain exchanges messages with.
// The Collector uses it to decide which chain's pending_orders queue a MID
// belongs on next, rather than trusting any chain field decoded off the
// event itself.
type ChainResolver interface {
	Counterpart(chainID uint64) (uint64, bool)
}

// Collector decodes logs for one chain and upserts resulting events into a
// Store, retrying the compare-and-set on version conflict via a documented
// read-modify-write with optimistic retry.
type Collector struct {
	chainID  uint64
	adapter  amb.Adapter
	store    store.Store
	resolver ChainResolver
	now      func() time.Time
}

// New returns a Collector for chainID using adapter to decode logs and
// resolver to route orders to the correct counterpart chain's queue.
func New(chainID uint64, adapter amb.Adapter, s store.Store, resolver ChainResolver) *Collector {
	return &Collector{chainID: chainID, adapter: adapter, store: s, resolver: resolver, now: time.Now}
}

// HandleBlock decodes every log in bl and upserts the resulting events. A
// log whose topic the adapter doesn't recognize is skipped; a log whose
// topic is recognized but fails to decode is logged and skipped, its event
// slot left empty, without aborting the rest of the batch.
func (c *Collector) HandleBlock(ctx context.Context, bl getter.BlockLogs) error {
	for _, rawLog := range bl.Logs {
		if err := c.handleLog(ctx, rawLog); err != nil {
			if err == relay.ErrInvalidEvent {
				logger.Warn("skipping invalid event", "chainId", c.chainID, "txHash", rawLog.TxHash, "logIndex", rawLog.Index)
				continue
			}
			return err
		}
	}
	return nil
}

func (c *Collector) handleLog(ctx context.Context, rawLog types.Log) error {
	ev, err := c.adapter.Decode(c.chainID, rawLog)
	if err != nil {
		return err
	}
	if ev == nil {
		return nil // topic not recognized by this adapter; not an error.
	}
	return c.Upsert(ctx, ev)
}

// Upsert applies ev to the RelayState for ev.MID(), retrying the
// compare-and-set write until it succeeds against the Store's latest
// version. The MID is re-enqueued onto the next-action chain's
// pending_orders queue on every status-relevant event: the first
// BountyPlaced, a BountyIncreased (which also clears Abandoned), and the
// first MessageDelivered — not only on first placement, so both the ack
// leg and a reconsideration after a bounty increase actually get evaluated.
func (c *Collector) Upsert(ctx context.Context, ev relay.Event) error {
	key := store.RelayStateKey(ev.MID())

	for {
		state, version, err := c.store.Get(ctx, key)
		if err == store.ErrNotFound {
			state = relay.NewRelayState(ev.MID())
			version = 0
		} else if err != nil {
			return err
		}
		wasPlaced := state.Placed != nil
		wasDelivered := state.Delivered != nil

		merged := relay.MergeEvent(state, ev)

		_, increased := ev.(relay.BountyIncreased)
		if increased {
			// A BountyIncreased that lifts the price above the abandonment
			// threshold must re-enable evaluation.
			merged.Abandoned = false
		}

		now := c.now()
		newlyPlaced := merged.Placed != nil && !wasPlaced
		if merged.Placed != nil && (newlyPlaced || increased) {
			merged.PlacedAt = now
		}
		newlyDelivered := merged.Delivered != nil && !wasDelivered
		if newlyDelivered {
			merged.DeliveredAt = now
		}

		newVersion, err := c.store.SetIfVersion(ctx, key, version, merged)
		if err == store.ErrVersionConflict {
			continue // another worker updated this MID concurrently; retry.
		}
		if err != nil {
			return err
		}
		_ = newVersion

		if newlyPlaced || increased {
			c.enqueueNext(ctx, ev.MID())
		}
		if newlyDelivered {
			c.enqueueNext(ctx, ev.MID())
		}
		return nil
	}
}

// enqueueNext pushes mid onto the pending_orders queue of the chain whose
// worker should act on it next: this chain's registered counterpart,
// resolved through the bridge registry rather than any chain field decoded
// off the triggering event.
func (c *Collector) enqueueNext(ctx context.Context, mid relay.MessageID) {
	target, ok := c.resolver.Counterpart(c.chainID)
	if !ok {
		logger.Error("no counterpart registered, cannot route order", "mid", mid, "chainId", c.chainID)
		return
	}
	if err := c.store.Push(ctx, store.PendingOrdersKey(target), mid); err != nil {
		logger.Error("failed to enqueue order", "mid", mid, "targetChain", target, "err", err)
	}
}
