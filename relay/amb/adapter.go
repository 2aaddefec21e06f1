// Package amb defines the Arbitrary Message Bridge plug-in contract: a
// chain -> incentives-contract address map, a log decoder, and calldata
// encoders for delivery/ack. All other components are adapter-agnostic;
// they only ever see relay.Event and relay.SubmitOrder values. This
// generalizes klaytn's single hard-wired bridge contract binding
// (contracts/bridge, wired directly into node/sc/bridge_manager.go) into a
// swappable interface, so a differently-shaped bridge contract can plug in
// by differing only in topic set and ABI decoding.
package amb

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/klaytn/relayer/relay"
)

// Adapter decodes raw logs into relay.Event values and encodes the calldata
// for delivery/ack transactions. Unknown topics must be ignored by Decode
// (return nil, nil), never an error — an unrecognized log is not invalid,
// just not ours.
type Adapter interface {
	// Name identifies the adapter for logging and configuration.
	Name() string

	// Address returns the escrow contract address to watch on chainID,
	// or false if this adapter has nothing to watch there.
	Address(chainID uint64) (common.Address, bool)

	// Topics returns the full set of log topics this adapter decodes, used
	// to build the Getter's eth_getLogs filter.
	Topics() []common.Hash

	// Decode converts a single raw log into a relay.Event. A nil Event with
	// a nil error means the log's topic was recognized as "not ours" and
	// should be skipped; a non-nil error means the log matched a known
	// topic but failed to decode (relay.ErrInvalidEvent).
	Decode(chainID uint64, log types.Log) (relay.Event, error)

	// EncodeDelivery builds calldata to deliver payload for id on the
	// destination chain.
	EncodeDelivery(id relay.MessageID, payload []byte) ([]byte, error)

	// EncodeAck builds calldata to acknowledge delivery of id on the
	// origin chain.
	EncodeAck(id relay.MessageID) ([]byte, error)
}
