package evaluator

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/klaytn/relayer/relay"
	"github.com/klaytn/relayer/relay/pricing"
	"github.com/klaytn/relayer/relay/store"
	"github.com/klaytn/relayer/relay/store/memstore"
)

type fixedGasEstimator struct{ gas uint64 }

func (f fixedGasEstimator) EstimateGas(ctx context.Context, chainID uint64, order relay.SubmitOrder) (uint64, error) {
	return f.gas, nil
}

type fixedLocalPricer struct{ price *big.Int }

func (f fixedLocalPricer) GasPrice(ctx context.Context, chainID uint64) (*big.Int, error) {
	return f.price, nil
}

type fixedPriceProvider struct{ price *big.Int }

func (f fixedPriceProvider) Price(ctx context.Context, chainID uint64, unit pricing.GasUnit) (*big.Int, error) {
	return f.price, nil
}

type fakeAdapter struct{ addr common.Address }

func (a fakeAdapter) Name() string { return "fake" }
func (a fakeAdapter) Address(chainID uint64) (common.Address, bool) { return a.addr, true }
func (a fakeAdapter) Topics() []common.Hash                         { return nil }
func (a fakeAdapter) Decode(chainID uint64, log types.Log) (relay.Event, error) { return nil, nil }
func (a fakeAdapter) EncodeDelivery(id relay.MessageID, payload []byte) ([]byte, error) {
	return []byte{0x01}, nil
}
func (a fakeAdapter) EncodeAck(id relay.MessageID) ([]byte, error) { return []byte{0x02}, nil }

func testEvaluator(chainID uint64, gas uint64, localPrice, nativePrice int64, cfg Config, s store.Store) *Evaluator {
	oracle := pricing.New(fixedPriceProvider{price: big.NewInt(nativePrice)}, time.Minute, 3)
	return New(chainID, cfg, oracle, fixedGasEstimator{gas: gas}, fixedLocalPricer{price: big.NewInt(localPrice)}, fakeAdapter{addr: common.HexToAddress("0xaa")}, s)
}

// placedState builds a RelayState whose triggering BountyPlaced was
// observed on originChain (distinct from the evaluating chain in most
// tests, so a routing regression that reuses FromChainID as "the other
// chain" shows up as a wrong order.TargetChain rather than passing by
// coincidence). If s is non-nil the state is also seeded into it so
// Evaluate's abandon() write-back has something to read.
func placedState(t *testing.T, s store.Store, originChain uint64, priceOfGas int64, maxGas uint64) *relay.RelayState {
	state := relay.NewRelayState(relay.MessageID{1})
	state.Placed = &relay.BountyPlaced{
		EventOrigin:        relay.EventOrigin{ChainID: originChain},
		FromChainID:        originChain,
		MaxGasDelivery:     maxGas,
		PriceOfDeliveryGas: big.NewInt(priceOfGas),
		PriceOfAckGas:      big.NewInt(priceOfGas),
	}
	state.Status = relay.StatusPlaced

	if s != nil {
		_, err := s.SetIfVersion(context.Background(), store.RelayStateKey(state.ID), 0, state)
		require.NoError(t, err)
	}
	return state
}

// TestEvaluate_ProfitableOrderSubmitted checks the profitability
// inequality holds when valueIn comfortably exceeds costOut, and that the
// resulting order targets the Evaluator's own chain (chain 2, the
// destination) rather than the origin chain the bounty was placed on
// (chain 1).
func TestEvaluate_ProfitableOrderSubmitted(t *testing.T) {
	s := memstore.New()
	e := testEvaluator(2, 21000, 1, 1, Config{MinDeliveryReward: big.NewInt(0), RelativeMinDeliveryReward: big.NewInt(0)}, s)
	state := placedState(t, s, 1, 1000, 100000)

	order, err := e.Evaluate(context.Background(), state, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.NotNil(t, order)
	require.Equal(t, relay.OrderDelivery, order.Kind)
	require.Equal(t, uint64(2), order.TargetChain, "order must target this worker's own chain, not the bounty's origin chain")
}

// TestEvaluate_UnprofitableOrderSkipped checks that an order whose valueIn
// falls below costOut*(1+relativeMinReward)+minReward is not submitted,
// returns relay.ErrUnprofitable, and leaves the RelayState Abandoned.
func TestEvaluate_UnprofitableOrderSkipped(t *testing.T) {
	s := memstore.New()
	e := testEvaluator(2, 21000, 1000, 1, Config{MinDeliveryReward: big.NewInt(0), RelativeMinDeliveryReward: big.NewInt(0)}, s)
	state := placedState(t, s, 1, 1, 100000)

	order, err := e.Evaluate(context.Background(), state, time.Now().Add(-time.Hour))
	require.True(t, errors.Is(err, relay.ErrUnprofitable))
	require.Nil(t, order)

	stored, _, err := s.Get(context.Background(), store.RelayStateKey(state.ID))
	require.NoError(t, err)
	require.True(t, stored.Abandoned, "unprofitable order must mark the RelayState Abandoned")
}

// TestEvaluate_AbandonedStateSkipped checks that an Abandoned RelayState
// is never re-evaluated until the flag clears.
func TestEvaluate_AbandonedStateSkipped(t *testing.T) {
	e := testEvaluator(2, 21000, 1, 1, Config{MinDeliveryReward: big.NewInt(0), RelativeMinDeliveryReward: big.NewInt(0)}, nil)
	state := placedState(t, nil, 1, 1000, 100000)
	state.Abandoned = true

	order, err := e.Evaluate(context.Background(), state, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Nil(t, order)
}

// TestEvaluate_WithinNewOrdersDelaySkipped checks the grace window: a
// RelayState observed more recently than newOrdersDelay is not yet acted
// on, giving a same-window BountyIncreased a chance to land.
func TestEvaluate_WithinNewOrdersDelaySkipped(t *testing.T) {
	e := testEvaluator(2, 21000, 1, 1, Config{
		MinDeliveryReward:         big.NewInt(0),
		RelativeMinDeliveryReward: big.NewInt(0),
		NewOrdersDelay:            time.Minute,
	}, nil)
	state := placedState(t, nil, 1, 1000, 100000)

	order, err := e.Evaluate(context.Background(), state, time.Now())
	require.NoError(t, err)
	require.Nil(t, order, "order observed just now must wait out newOrdersDelay")
}
