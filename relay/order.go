package relay

import "github.com/ethereum/go-ethereum/common"

// OrderKind distinguishes the two transaction kinds the Evaluator emits.
type OrderKind uint8

const (
	OrderDelivery OrderKind = iota
	OrderAck
)

func (k OrderKind) String() string {
	if k == OrderAck {
		return "ack"
	}
	return "delivery"
}

// SubmitOrder is the unit of work the Evaluator hands to the Submitter: a
// single transaction candidate targeting one chain for one MID.
type SubmitOrder struct {
	MID         MessageID
	Kind        OrderKind
	TargetChain uint64

	// Origin is the triggering event's position, used for FIFO ordering
	// and the newOrdersDelay grace period.
	Origin EventOrigin

	To       common.Address
	Calldata []byte

	MaxGas uint64
}
