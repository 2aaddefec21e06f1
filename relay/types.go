// Package relay implements the per-chain processing pipeline shared by
// every relayer worker: the bounty/message data model, the collector
// merge rule, and the order types handed from the Evaluator to the
// Submitter. It is the Go-native reworking of klaytn's bridge event
// model (node/sc/bridge_manager.go's TokenReceivedEvent/TokenTransferEvent),
// generalized from klaytn's own bridge to an arbitrary AMB.
package relay

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MessageID is the escrow contract's opaque, globally unique handle for a
// cross-chain message.
type MessageID [32]byte

func (m MessageID) String() string { return common.Hash(m).Hex() }

// Status is the monotonic lifecycle stage of a RelayState.
type Status uint8

const (
	StatusPlaced Status = iota
	StatusDelivered
	StatusClaimed
)

func (s Status) String() string {
	switch s {
	case StatusPlaced:
		return "placed"
	case StatusDelivered:
		return "delivered"
	case StatusClaimed:
		return "claimed"
	default:
		return "unknown"
	}
}

// EventOrigin identifies where in the chain's log stream an event was
// observed, used both for the Collector's tie-break and for the
// Evaluator's FIFO ordering.
type EventOrigin struct {
	ChainID     uint64
	BlockNumber uint64
	BlockHash   common.Hash
	LogIndex    uint
	TxHash      common.Hash
}

// Less reports whether o precedes other in (blockNumber, logIndex) order.
func (o EventOrigin) Less(other EventOrigin) bool {
	if o.BlockNumber != other.BlockNumber {
		return o.BlockNumber < other.BlockNumber
	}
	return o.LogIndex < other.LogIndex
}

// Event is the tagged union of bounty lifecycle events a Collector may
// observe. Adapters return concrete variants; the Collector dispatches on
// type, never on a string name; there is no dynamic event handler
// registry to look names up in.
type Event interface {
	MID() MessageID
	Origin() EventOrigin
	statusOf() Status
}

// BountyPlaced is emitted by the escrow contract on the origin chain when a
// bounty-bearing message is first recorded.
type BountyPlaced struct {
	EventOrigin
	ID                 MessageID
	FromChainID        uint64
	IncentivesAddress  common.Address
	MaxGasDelivery     uint64
	MaxGasAck          uint64
	RefundGasTo        common.Address
	PriceOfDeliveryGas *big.Int
	PriceOfAckGas      *big.Int
	TargetDelta        uint64
	Payload            []byte
}

func (e BountyPlaced) MID() MessageID      { return e.ID }
func (e BountyPlaced) Origin() EventOrigin { return e.EventOrigin }
func (e BountyPlaced) statusOf() Status    { return StatusPlaced }

// BountyIncreased raises the gas price budget of an existing bounty.
type BountyIncreased struct {
	EventOrigin
	ID                    MessageID
	NewPriceOfDeliveryGas *big.Int
	NewPriceOfAckGas      *big.Int
}

func (e BountyIncreased) MID() MessageID      { return e.ID }
func (e BountyIncreased) Origin() EventOrigin { return e.EventOrigin }
func (e BountyIncreased) statusOf() Status    { return StatusPlaced }

// MessageDelivered is emitted on the destination chain once the message
// payload has been executed there.
type MessageDelivered struct {
	EventOrigin
	ID        MessageID
	ToChainID uint64
}

func (e MessageDelivered) MID() MessageID      { return e.ID }
func (e MessageDelivered) Origin() EventOrigin { return e.EventOrigin }
func (e MessageDelivered) statusOf() Status    { return StatusDelivered }

// BountyClaimed is emitted on the origin chain once the ack proving
// delivery has landed and the bounty has been released to the relayer.
type BountyClaimed struct {
	EventOrigin
	ID MessageID
}

func (e BountyClaimed) MID() MessageID      { return e.ID }
func (e BountyClaimed) Origin() EventOrigin { return e.EventOrigin }
func (e BountyClaimed) statusOf() Status    { return StatusClaimed }

// RelayState is the per-MID aggregate reconstructed from events observed
// across the origin and destination chains. It is never deleted: a
// RelayState exists for every MID a BountyPlaced has been persisted for,
// retained forever for audit.
type RelayState struct {
	ID MessageID

	Status Status

	Placed    *BountyPlaced
	Increased *BountyIncreased
	Delivered *MessageDelivered
	Claimed   *BountyClaimed

	DeliveryGasCost *big.Int
	AckGasCost      *big.Int

	DeliveryAttempts uint32
	AckAttempts      uint32

	// PlacedAt and DeliveredAt are stamped by the Collector the first time
	// the corresponding slot is filled (PlacedAt is also restamped on a
	// BountyIncreased, since that re-opens the newOrdersDelay grace window
	// for the delivery leg). They back the Evaluator's newOrdersDelay gate
	// and are never touched by MergeEvent itself, which stays a pure
	// function of (state, ev).
	PlacedAt    time.Time
	DeliveredAt time.Time

	// Abandoned marks an order permanently unprofitable; it is cleared once
	// a BountyIncreased event raises the economics again.
	Abandoned bool

	// Version is the Store's optimistic-concurrency token; every mutation
	// bumps it by one (relay/store.Store.SetIfVersion).
	Version uint64
}

// PriceOfDeliveryGas is max(original, latest BountyIncreased).
func (s *RelayState) PriceOfDeliveryGas() *big.Int {
	if s.Placed == nil {
		return big.NewInt(0)
	}
	price := s.Placed.PriceOfDeliveryGas
	if s.Increased != nil && s.Increased.NewPriceOfDeliveryGas.Cmp(price) > 0 {
		price = s.Increased.NewPriceOfDeliveryGas
	}
	return price
}

// PriceOfAckGas is max(original, latest BountyIncreased) for the ack leg.
func (s *RelayState) PriceOfAckGas() *big.Int {
	if s.Placed == nil {
		return big.NewInt(0)
	}
	price := s.Placed.PriceOfAckGas
	if s.Increased != nil && s.Increased.NewPriceOfAckGas.Cmp(price) > 0 {
		price = s.Increased.NewPriceOfAckGas
	}
	return price
}
