// Package genericamb implements relay/amb.Adapter against a minimal escrow
// ABI whose event shapes match the relay.Event union's BountyPlaced/
// BountyIncreased/MessageDelivered/BountyClaimed variants directly. It is
// the adapter used when no bridge-specific contract is configured,
// grounded on the ABI-decoding approach klaytn uses for its own bridge
// contract bindings (contracts/bridge, wired from node/sc/bridge_manager.go)
// but built with github.com/ethereum/go-ethereum/accounts/abi instead of a
// generated binding, since the generic escrow has no single fixed binding.
package genericamb

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/klaytn/relayer/relay"
)

const escrowABIJSON = `[
 {"type":"event","name":"BountyPlaced","anonymous":false,"inputs":[
   {"name":"messageIdentifier","type":"bytes32","indexed":true},
   {"name":"fromChainId","type":"uint256","indexed":false},
   {"name":"incentivesAddress","type":"address","indexed":false},
   {"name":"maxGasDelivery","type":"uint256","indexed":false},
   {"name":"maxGasAck","type":"uint256","indexed":false},
   {"name":"refundGasTo","type":"address","indexed":false},
   {"name":"priceOfDeliveryGas","type":"uint256","indexed":false},
   {"name":"priceOfAckGas","type":"uint256","indexed":false},
   {"name":"targetDelta","type":"uint256","indexed":false},
   {"name":"payload","type":"bytes","indexed":false}
 ]},
 {"type":"event","name":"BountyIncreased","anonymous":false,"inputs":[
   {"name":"messageIdentifier","type":"bytes32","indexed":true},
   {"name":"newPriceOfDeliveryGas","type":"uint256","indexed":false},
   {"name":"newPriceOfAckGas","type":"uint256","indexed":false}
 ]},
 {"type":"event","name":"MessageDelivered","anonymous":false,"inputs":[
   {"name":"messageIdentifier","type":"bytes32","indexed":true},
   {"name":"toChainId","type":"uint256","indexed":false}
 ]},
 {"type":"event","name":"BountyClaimed","anonymous":false,"inputs":[
   {"name":"messageIdentifier","type":"bytes32","indexed":true}
 ]}
]`

const (
	methodDeliver = "deliver"
	methodAck     = "acknowledge"
)

// deliverAckABIJSON supplies the two methods EncodeDelivery/EncodeAck pack
// calldata for; kept separate from escrowABIJSON because events and methods
// are independent concerns in the ABI.
const deliverAckABIJSON = `[
 {"type":"function","name":"deliver","stateMutability":"nonpayable","inputs":[
   {"name":"messageIdentifier","type":"bytes32"},
   {"name":"payload","type":"bytes"}
 ],"outputs":[]},
 {"type":"function","name":"acknowledge","stateMutability":"nonpayable","inputs":[
   {"name":"messageIdentifier","type":"bytes32"}
 ],"outputs":[]}
]`

// Adapter is the generic escrow AMB adapter.
type Adapter struct {
	addresses map[uint64]common.Address

	eventABI abi.ABI
	callABI  abi.ABI

	topicPlaced    common.Hash
	topicIncreased common.Hash
	topicDelivered common.Hash
	topicClaimed   common.Hash
}

// New builds a generic adapter watching the given per-chain escrow
// addresses.
func New(addresses map[uint64]common.Address) (*Adapter, error) {
	eventABI, err := abi.JSON(strings.NewReader(escrowABIJSON))
	if err != nil {
		return nil, err
	}
	callABI, err := abi.JSON(strings.NewReader(deliverAckABIJSON))
	if err != nil {
		return nil, err
	}

	a := &Adapter{
		addresses:      addresses,
		eventABI:       eventABI,
		callABI:        callABI,
		topicPlaced:    eventABI.Events["BountyPlaced"].ID,
		topicIncreased: eventABI.Events["BountyIncreased"].ID,
		topicDelivered: eventABI.Events["MessageDelivered"].ID,
		topicClaimed:   eventABI.Events["BountyClaimed"].ID,
	}
	return a, nil
}

func (a *Adapter) Name() string { return "genericamb" }

func (a *Adapter) Address(chainID uint64) (common.Address, bool) {
	addr, ok := a.addresses[chainID]
	return addr, ok
}

func (a *Adapter) Topics() []common.Hash {
	return []common.Hash{a.topicPlaced, a.topicIncreased, a.topicDelivered, a.topicClaimed}
}

func (a *Adapter) Decode(chainID uint64, log types.Log) (relay.Event, error) {
	if len(log.Topics) == 0 {
		return nil, nil
	}
	switch log.Topics[0] {
	case a.topicPlaced, a.topicIncreased, a.topicDelivered, a.topicClaimed:
	default:
		return nil, nil
	}
	if len(log.Topics) < 2 {
		return nil, relay.ErrInvalidEvent // known event without its indexed messageIdentifier.
	}

	origin := relay.EventOrigin{
		ChainID:     chainID,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash,
		LogIndex:    log.Index,
		TxHash:      log.TxHash,
	}
	var id relay.MessageID
	copy(id[:], log.Topics[1].Bytes())

	switch log.Topics[0] {
	case a.topicPlaced:
		var decoded struct {
			FromChainID        *big.Int
			IncentivesAddress  common.Address
			MaxGasDelivery     *big.Int
			MaxGasAck          *big.Int
			RefundGasTo        common.Address
			PriceOfDeliveryGas *big.Int
			PriceOfAckGas      *big.Int
			TargetDelta        *big.Int
			Payload            []byte
		}
		if err := a.eventABI.UnpackIntoInterface(&decoded, "BountyPlaced", log.Data); err != nil {
			return nil, relay.ErrInvalidEvent
		}
		return relay.BountyPlaced{
			EventOrigin:        origin,
			ID:                 id,
			FromChainID:        decoded.FromChainID.Uint64(),
			IncentivesAddress:  decoded.IncentivesAddress,
			MaxGasDelivery:     decoded.MaxGasDelivery.Uint64(),
			MaxGasAck:          decoded.MaxGasAck.Uint64(),
			RefundGasTo:        decoded.RefundGasTo,
			PriceOfDeliveryGas: decoded.PriceOfDeliveryGas,
			PriceOfAckGas:      decoded.PriceOfAckGas,
			TargetDelta:        decoded.TargetDelta.Uint64(),
			Payload:            decoded.Payload,
		}, nil

	case a.topicIncreased:
		var decoded struct {
			NewPriceOfDeliveryGas *big.Int
			NewPriceOfAckGas      *big.Int
		}
		if err := a.eventABI.UnpackIntoInterface(&decoded, "BountyIncreased", log.Data); err != nil {
			return nil, relay.ErrInvalidEvent
		}
		return relay.BountyIncreased{
			EventOrigin:           origin,
			ID:                    id,
			NewPriceOfDeliveryGas: decoded.NewPriceOfDeliveryGas,
			NewPriceOfAckGas:      decoded.NewPriceOfAckGas,
		}, nil

	case a.topicDelivered:
		var decoded struct {
			ToChainID *big.Int
		}
		if err := a.eventABI.UnpackIntoInterface(&decoded, "MessageDelivered", log.Data); err != nil {
			return nil, relay.ErrInvalidEvent
		}
		// An invalid toChainId is treated as an invalid event and skipped:
		// zero is never a valid chain id in this system.
		if decoded.ToChainID == nil || decoded.ToChainID.Sign() == 0 {
			return nil, relay.ErrInvalidEvent
		}
		return relay.MessageDelivered{
			EventOrigin: origin,
			ID:          id,
			ToChainID:   decoded.ToChainID.Uint64(),
		}, nil

	case a.topicClaimed:
		return relay.BountyClaimed{EventOrigin: origin, ID: id}, nil

	default:
		return nil, nil
	}
}

func (a *Adapter) EncodeDelivery(id relay.MessageID, payload []byte) ([]byte, error) {
	return a.callABI.Pack(methodDeliver, [32]byte(id), payload)
}

func (a *Adapter) EncodeAck(id relay.MessageID) ([]byte, error) {
	return a.callABI.Pack(methodAck, [32]byte(id))
}
