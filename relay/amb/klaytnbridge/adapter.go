// Package klaytnbridge adapts klaytn's value-transfer bridge
// contract (node/sc/bridge_manager.go's RequestValueTransfer/
// HandleValueTransfer events) to the relay.Event union. The value-transfer
// bridge predates the bounty-escrow protocol this relayer targets: it
// carries no BountyIncreased/BountyClaimed concept, so this adapter only
// ever produces BountyPlaced (on request) and MessageDelivered (on
// handle), with the bounty price fields held at zero. It exists to
// demonstrate that AMB adapters can differ only in topic set and ABI
// decoding — the merge semantics downstream are identical regardless of
// which adapter produced the event.
package klaytnbridge

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/klaytn/relayer/relay"
)

// bridgeABIJSON mirrors the RequestValueTransfer/HandleValueTransfer events
// exposed by klaytn's bridge contract binding (contracts/bridge,
// referenced from node/sc/bridge_manager.go's subscribeEvent).
const bridgeABIJSON = `[
 {"type":"event","name":"RequestValueTransfer","anonymous":false,"inputs":[
   {"name":"kind","type":"uint8","indexed":false},
   {"name":"from","type":"address","indexed":false},
   {"name":"to","type":"address","indexed":false},
   {"name":"tokenAddress","type":"address","indexed":false},
   {"name":"valueOrTokenId","type":"uint256","indexed":false},
   {"name":"requestNonce","type":"uint64","indexed":false},
   {"name":"requestedBlockNumber","type":"uint256","indexed":false}
 ]},
 {"type":"event","name":"HandleValueTransfer","anonymous":false,"inputs":[
   {"name":"kind","type":"uint8","indexed":false},
   {"name":"owner","type":"address","indexed":false},
   {"name":"tokenAddress","type":"address","indexed":false},
   {"name":"value","type":"uint256","indexed":false},
   {"name":"handleNonce","type":"uint64","indexed":false}
 ]}
]`

// Adapter is the klaytn value-transfer bridge adapter.
type Adapter struct {
	addresses map[uint64]common.Address
	toChainID map[uint64]uint64 // originChain -> counterpart chain

	eventABI abi.ABI

	topicRequest common.Hash
	topicHandle  common.Hash
}

// New builds an adapter watching the given per-chain bridge contract
// addresses, with pairs describing which chain each bridge's counterpart is.
func New(addresses map[uint64]common.Address, pairs map[uint64]uint64) (*Adapter, error) {
	eventABI, err := abi.JSON(strings.NewReader(bridgeABIJSON))
	if err != nil {
		return nil, err
	}
	return &Adapter{
		addresses:    addresses,
		toChainID:    pairs,
		eventABI:     eventABI,
		topicRequest: eventABI.Events["RequestValueTransfer"].ID,
		topicHandle:  eventABI.Events["HandleValueTransfer"].ID,
	}, nil
}

func (a *Adapter) Name() string { return "klaytnbridge" }

func (a *Adapter) Address(chainID uint64) (common.Address, bool) {
	addr, ok := a.addresses[chainID]
	return addr, ok
}

func (a *Adapter) Topics() []common.Hash {
	return []common.Hash{a.topicRequest, a.topicHandle}
}

// requestNonceToMID derives a MID for a value-transfer request, which (unlike
// the generic escrow) has no contract-assigned 32-byte identifier of its
// own: the MID is instead the (chainId, requestNonce) pair, left-padded into
// the low 16 bytes, matching how klaytn keys its own handled-nonce
// bookkeeping in node/sc/bridge_tx_pool.go.
func requestNonceToMID(chainID, nonce uint64) relay.MessageID {
	var id relay.MessageID
	big.NewInt(0).SetUint64(chainID).FillBytes(id[:16])
	big.NewInt(0).SetUint64(nonce).FillBytes(id[16:])
	return id
}

func (a *Adapter) Decode(chainID uint64, log types.Log) (relay.Event, error) {
	if len(log.Topics) == 0 {
		return nil, nil
	}

	origin := relay.EventOrigin{
		ChainID:     chainID,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash,
		LogIndex:    log.Index,
		TxHash:      log.TxHash,
	}

	switch log.Topics[0] {
	case a.topicRequest:
		var decoded struct {
			Kind                 uint8
			From                 common.Address
			To                   common.Address
			TokenAddress         common.Address
			ValueOrTokenId       *big.Int
			RequestNonce         uint64
			RequestedBlockNumber *big.Int
		}
		if err := a.eventABI.UnpackIntoInterface(&decoded, "RequestValueTransfer", log.Data); err != nil {
			return nil, relay.ErrInvalidEvent
		}
		zero := big.NewInt(0)
		return relay.BountyPlaced{
			EventOrigin:        origin,
			ID:                 requestNonceToMID(chainID, decoded.RequestNonce),
			FromChainID:        chainID,
			IncentivesAddress:  decoded.TokenAddress,
			RefundGasTo:        decoded.From,
			PriceOfDeliveryGas: zero,
			PriceOfAckGas:      zero,
			Payload:            decoded.ValueOrTokenId.Bytes(),
		}, nil

	case a.topicHandle:
		var decoded struct {
			Kind         uint8
			Owner        common.Address
			TokenAddress common.Address
			Value        *big.Int
			HandleNonce  uint64
		}
		if err := a.eventABI.UnpackIntoInterface(&decoded, "HandleValueTransfer", log.Data); err != nil {
			return nil, relay.ErrInvalidEvent
		}
		toChainID, ok := a.toChainID[chainID]
		if !ok {
			return nil, relay.ErrInvalidEvent
		}
		return relay.MessageDelivered{
			EventOrigin: origin,
			ID:          requestNonceToMID(toChainID, decoded.HandleNonce),
			ToChainID:   chainID,
		}, nil

	default:
		return nil, nil
	}
}

func (a *Adapter) EncodeDelivery(id relay.MessageID, payload []byte) ([]byte, error) {
	return nil, relay.ErrInvalidEvent // not used: handled natively by the bridge contract's own relayer flow.
}

func (a *Adapter) EncodeAck(id relay.MessageID) ([]byte, error) {
	return nil, relay.ErrInvalidEvent // the value-transfer bridge has no separate ack leg.
}
