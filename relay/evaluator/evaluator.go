// Package evaluator decides whether a pending RelayState is profitable to
// act on and, if so, produces the SubmitOrder for it. It is the Go-native
// reworking of the profitability gate klaytn leaves
// implicit in its own bridge (klaytn's value-transfer bridge relays
// unconditionally); here it is made explicit and testable as a pure
// function plus a thin RPC-backed gas estimator.
package evaluator

import (
	"context"
	"math/big"
	"time"

	"github.com/klaytn/relayer/relay"
	"github.com/klaytn/relayer/relay/amb"
	"github.com/klaytn/relayer/relay/log"
	"github.com/klaytn/relayer/relay/pricing"
	"github.com/klaytn/relayer/relay/store"
)

var logger = log.NewModuleLogger(log.Evaluator, 0)

// GasEstimator estimates gas for a not-yet-submitted transaction, falling
// back to the caller-provided maxGas*1.1 heuristic when the destination
// RPC estimate is unavailable.
type GasEstimator interface {
	EstimateGas(ctx context.Context, chainID uint64, order relay.SubmitOrder) (uint64, error)
}

// LocalGasPricer returns the destination/origin chain's current local gas
// price, used for costOut.
type LocalGasPricer interface {
	GasPrice(ctx context.Context, chainID uint64) (*big.Int, error)
}

// Config carries the per-chain profitability knobs.
type Config struct {
	MinDeliveryReward         *big.Int
	RelativeMinDeliveryReward *big.Int // scaled by 1e18, i.e. 1e18 == 100%
	MinAckReward              *big.Int
	RelativeMinAckReward      *big.Int
	NewOrdersDelay            time.Duration
}

// Evaluator scans changed RelayStates and emits profitable orders. It is
// owned by exactly one chain's Worker, and chainID is that chain: the
// Collector only ever enqueues a MID onto this chain's pending-order queue
// when this chain is the correct next-action chain for it (resolved through
// relay/registry), so chainID itself is the target/origin chain for every
// order this Evaluator produces.
type Evaluator struct {
	chainID uint64
	cfg     Config
	oracle  *pricing.Oracle
	gas     GasEstimator
	prices  LocalGasPricer
	adapter amb.Adapter
	store   store.Store
	now     func() time.Time
}

// New returns an Evaluator for chainID wired to its collaborators.
func New(chainID uint64, cfg Config, oracle *pricing.Oracle, gas GasEstimator, prices LocalGasPricer, adapter amb.Adapter, s store.Store) *Evaluator {
	return &Evaluator{chainID: chainID, cfg: cfg, oracle: oracle, gas: gas, prices: prices, adapter: adapter, store: s, now: time.Now}
}

// Evaluate inspects one RelayState and returns the order to submit, if any.
// A RelayState already Abandoned is skipped until a BountyIncreased clears
// the flag; a RelayState within newOrdersDelay of its triggering event's
// observation is skipped, giving a BountyIncreased in the same window a
// chance to be absorbed before the first attempt.
func (e *Evaluator) Evaluate(ctx context.Context, state *relay.RelayState, observedAt time.Time) (*relay.SubmitOrder, error) {
	if state.Abandoned {
		return nil, nil
	}
	if e.now().Sub(observedAt) < e.cfg.NewOrdersDelay {
		return nil, nil
	}

	switch {
	case state.Status == relay.StatusPlaced && state.Delivered == nil:
		return e.evaluateDelivery(ctx, state)
	case state.Status == relay.StatusDelivered && state.Claimed == nil:
		return e.evaluateAck(ctx, state)
	default:
		return nil, nil
	}
}

func (e *Evaluator) evaluateDelivery(ctx context.Context, state *relay.RelayState) (*relay.SubmitOrder, error) {
	placed := state.Placed
	if placed == nil {
		return nil, nil
	}
	// targetChain is this Evaluator's own chain: the Collector only routes
	// a MID here once it has resolved (via relay/registry) that this chain
	// is the message's destination. sourceChain is read off the locally
	// observed EventOrigin, never off a decoded payload field.
	targetChain := e.chainID
	sourceChain := placed.Origin().ChainID

	to, ok := e.adapter.Address(targetChain)
	if !ok {
		return nil, nil
	}
	calldata, err := e.adapter.EncodeDelivery(state.ID, placed.Payload)
	if err != nil {
		return nil, nil // adapter has no delivery leg (e.g. klaytnbridge); nothing to submit.
	}

	order := relay.SubmitOrder{
		MID:         state.ID,
		Kind:        relay.OrderDelivery,
		TargetChain: targetChain,
		Origin:      placed.Origin(),
		To:          to,
		Calldata:    calldata,
		MaxGas:      placed.MaxGasDelivery,
	}

	profitable, err := e.profitable(ctx, targetChain, sourceChain, order, state.PriceOfDeliveryGas(), placed.MaxGasDelivery, e.cfg.MinDeliveryReward, e.cfg.RelativeMinDeliveryReward)
	if err != nil {
		return nil, err
	}
	if !profitable {
		if err := e.abandon(ctx, state.ID); err != nil {
			logger.Error("failed to record abandoned order", "mid", state.ID, "err", err)
		}
		return nil, relay.ErrUnprofitable
	}
	return &order, nil
}

func (e *Evaluator) evaluateAck(ctx context.Context, state *relay.RelayState) (*relay.SubmitOrder, error) {
	placed := state.Placed
	delivered := state.Delivered
	if placed == nil || delivered == nil {
		return nil, nil
	}
	// originChain is this Evaluator's own chain: the Collector only routes
	// the ack leg here once it has resolved this chain as the delivered
	// message's origin. sourceChain (where delivery gas was actually spent)
	// is read off the locally observed EventOrigin of MessageDelivered.
	originChain := e.chainID
	sourceChain := delivered.Origin().ChainID

	to, ok := e.adapter.Address(originChain)
	if !ok {
		return nil, nil
	}
	calldata, err := e.adapter.EncodeAck(state.ID)
	if err != nil {
		return nil, nil
	}

	order := relay.SubmitOrder{
		MID:         state.ID,
		Kind:        relay.OrderAck,
		TargetChain: originChain,
		Origin:      delivered.Origin(),
		To:          to,
		Calldata:    calldata,
		MaxGas:      placed.MaxGasAck,
	}

	profitable, err := e.profitable(ctx, originChain, sourceChain, order, state.PriceOfAckGas(), placed.MaxGasAck, e.cfg.MinAckReward, e.cfg.RelativeMinAckReward)
	if err != nil {
		return nil, err
	}
	if !profitable {
		if err := e.abandon(ctx, state.ID); err != nil {
			logger.Error("failed to record abandoned order", "mid", state.ID, "err", err)
		}
		return nil, relay.ErrUnprofitable
	}
	return &order, nil
}

// abandon marks a MID's RelayState Abandoned via compare-and-set retry, so
// relay.ErrUnprofitable actually suppresses re-evaluation (relay/errors.go)
// until a BountyIncreased clears the flag (relay/collector).
func (e *Evaluator) abandon(ctx context.Context, mid relay.MessageID) error {
	key := store.RelayStateKey(mid)
	for {
		state, version, err := e.store.Get(ctx, key)
		if err != nil {
			return err
		}
		if state.Abandoned {
			return nil
		}
		updated := *state
		updated.Abandoned = true
		if _, err := e.store.SetIfVersion(ctx, key, version, &updated); err != nil {
			if err == store.ErrVersionConflict {
				continue
			}
			return err
		}
		return nil
	}
}

// profitable evaluates:
//
//	valueIn >= costOut * (1 + relativeMinReward) + minReward
//
// where valueIn = priceOfGas * min(gasEst, maxGas) converted via the
// Pricing oracle, and costOut = gasEst * localGasPrice. relativeMinReward
// is expressed in fixed-point with 1e18 == 100%, the same big.Int-only
// style node/sc/bridge_tx_pool.go uses for its own gas-related ratios.
func (e *Evaluator) profitable(ctx context.Context, targetChain, sourceChain uint64, order relay.SubmitOrder, priceOfGas *big.Int, maxGas uint64, minReward, relativeMinReward *big.Int) (bool, error) {
	gasEst, err := e.gas.EstimateGas(ctx, targetChain, order)
	if err != nil {
		gasEst = uint64(float64(maxGas) * 1.1)
	}

	billableGas := gasEst
	if uint64(maxGas) < billableGas {
		billableGas = maxGas
	}

	valueInSource := new(big.Int).Mul(priceOfGas, new(big.Int).SetUint64(billableGas))
	priceOfNative, err := e.oracle.Price(ctx, sourceChain, pricing.GasUnit("native"))
	if err != nil {
		return false, err
	}
	valueIn := new(big.Int).Mul(valueInSource, priceOfNative)

	localPrice, err := e.prices.GasPrice(ctx, targetChain)
	if err != nil {
		return false, err
	}
	costOut := new(big.Int).Mul(new(big.Int).SetUint64(gasEst), localPrice)

	scale := big.NewInt(1e18)
	factor := new(big.Int).Add(scale, relativeMinReward)
	threshold := new(big.Int).Mul(costOut, factor)
	threshold.Div(threshold, scale)
	threshold.Add(threshold, minReward)

	// The threshold is multiplied by the same source-chain native price as
	// valueIn, so both sides carry one common conversion factor. costOut is
	// taken in the target chain's gas-price units and is not converted by
	// the target chain's own native price.
	thresholdInSource := new(big.Int).Mul(threshold, priceOfNative)

	ok := valueIn.Cmp(thresholdInSource) >= 0
	if !ok {
		logger.Debug("order unprofitable", "mid", order.MID, "kind", order.Kind, "valueIn", valueIn, "threshold", thresholdInSource)
	}
	return ok, nil
}
