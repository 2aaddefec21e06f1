package genericamb

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klaytn/relayer/relay"
)

func testAdapter(t *testing.T) *Adapter {
	a, err := New(map[uint64]common.Address{1: common.HexToAddress("0x1")})
	require.NoError(t, err)
	return a
}

// TestDecode_BountyPlacedRoundTrip packs a BountyPlaced event through the
// escrow ABI and checks Decode recovers every field via an encode/decode
// round trip.
func TestDecode_BountyPlacedRoundTrip(t *testing.T) {
	a := testAdapter(t)

	args := a.eventABI.Events["BountyPlaced"].Inputs.NonIndexed()
	data, err := args.Pack(
		big.NewInt(7),
		common.HexToAddress("0xaa"),
		big.NewInt(2_000_000),
		big.NewInt(200_000),
		common.HexToAddress("0xbb"),
		big.NewInt(50),
		big.NewInt(10),
		big.NewInt(0),
		[]byte("payload"),
	)
	require.NoError(t, err)

	mid := relay.MessageID{0xAB}
	logEntry := types.Log{
		Topics:      []common.Hash{a.topicPlaced, common.Hash(mid)},
		Data:        data,
		BlockNumber: 100,
		Index:       3,
	}

	ev, err := a.Decode(1, logEntry)
	require.NoError(t, err)
	placed, ok := ev.(relay.BountyPlaced)
	require.True(t, ok)

	assert.Equal(t, mid, placed.ID)
	assert.Equal(t, uint64(7), placed.FromChainID)
	assert.Equal(t, common.HexToAddress("0xaa"), placed.IncentivesAddress)
	assert.Equal(t, uint64(2_000_000), placed.MaxGasDelivery)
	assert.Equal(t, big.NewInt(50), placed.PriceOfDeliveryGas)
	assert.Equal(t, []byte("payload"), placed.Payload)
	assert.Equal(t, uint64(100), placed.BlockNumber)
	assert.Equal(t, uint(3), placed.LogIndex)
}

// TestDecode_UnrecognizedTopicIsNil checks that a log whose topic none of
// this adapter's events own is skipped, not treated as an error.
func TestDecode_UnrecognizedTopicIsNil(t *testing.T) {
	a := testAdapter(t)
	ev, err := a.Decode(1, types.Log{Topics: []common.Hash{{0xff}}})
	assert.NoError(t, err)
	assert.Nil(t, ev)
}

// TestDecode_InvalidToChainIdRejected checks that a zero toChainId is
// treated as an invalid event, not a valid delivery to chain zero.
func TestDecode_InvalidToChainIdRejected(t *testing.T) {
	a := testAdapter(t)

	args := a.eventABI.Events["MessageDelivered"].Inputs.NonIndexed()
	data, err := args.Pack(big.NewInt(0))
	require.NoError(t, err)

	logEntry := types.Log{
		Topics: []common.Hash{a.topicDelivered, common.Hash{}},
		Data:   data,
	}

	_, err = a.Decode(1, logEntry)
	assert.True(t, errors.Is(err, relay.ErrInvalidEvent))
}

// TestEncodeDelivery_PacksMessageIdentifier checks that EncodeDelivery
// produces calldata the callABI can unpack back to the same id/payload.
func TestEncodeDelivery_PacksMessageIdentifier(t *testing.T) {
	a := testAdapter(t)
	id := relay.MessageID{0x01, 0x02}
	payload := []byte("hello")

	calldata, err := a.EncodeDelivery(id, payload)
	require.NoError(t, err)

	method, err := a.callABI.MethodById(calldata[:4])
	require.NoError(t, err)
	assert.Equal(t, methodDeliver, method.Name)

	var decoded struct {
		MessageIdentifier [32]byte
		Payload           []byte
	}
	require.NoError(t, a.callABI.UnpackIntoInterface(&decoded, methodDeliver, calldata[4:]))
	assert.Equal(t, [32]byte(id), decoded.MessageIdentifier)
	assert.Equal(t, payload, decoded.Payload)
}
