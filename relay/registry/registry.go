// Package registry is the append-only journal of AMB contract addresses a
// chain's worker watches and submits to, grounded directly on klaytn's
// bridgeAddrJournal/BridgeJournal pair (node/sc/bridge_manager.go): a cached
// in-memory map backed by an on-disk RLP log that is replayed at startup and
// appended to on every registration, never rewritten in place.
package registry

import (
	"io"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/klaytn/relayer/relay/log"
)

var logger = log.NewModuleLogger(log.Registry, 0)

// Entry records one chain's AMB contract address, the adapter it is decoded
// with, and the paired counterpart chain it exchanges messages with, the
// Go-native equivalent of klaytn's BridgeJournal local/remote address pair
// generalized to an arbitrary chain set instead of a fixed two-chain bridge.
type Entry struct {
	ChainID     uint64
	Address     common.Address
	Adapter     string
	Counterpart uint64
}

// DecodeRLP mirrors klaytn's BridgeJournal.DecodeRLP.
func (e *Entry) DecodeRLP(s *rlp.Stream) error {
	var elem struct {
		ChainID     uint64
		Address     common.Address
		Adapter     string
		Counterpart uint64
	}
	if err := s.Decode(&elem); err != nil {
		return err
	}
	e.ChainID, e.Address, e.Adapter, e.Counterpart = elem.ChainID, elem.Address, elem.Adapter, elem.Counterpart
	return nil
}

// EncodeRLP mirrors klaytn's BridgeJournal.EncodeRLP.
func (e *Entry) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, []interface{}{e.ChainID, e.Address, e.Adapter, e.Counterpart})
}

// Registry is the in-memory cache plus append-only on-disk journal of
// Entry values, one per watched chain/adapter pair.
type Registry struct {
	mu    sync.RWMutex
	path  string
	file  *os.File
	cache map[uint64]*Entry
}

// Open loads path (creating it if absent) and replays every journaled
// Entry into the in-memory cache, the same load-then-append-only lifecycle
// as klaytn's newBridgeAddrJournal/journal.load.
func Open(path string) (*Registry, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}

	r := &Registry{path: path, file: f, cache: make(map[uint64]*Entry)}

	stream := rlp.NewStream(f, 0)
	for {
		var e Entry
		if err := stream.Decode(&e); err != nil {
			if err == io.EOF {
				break
			}
			logger.Warn("journal entry decode failed, stopping replay", "path", path, "err", err)
			break
		}
		r.cache[e.ChainID] = &e
	}

	logger.Info("loaded chain registry", "path", path, "entries", len(r.cache))
	return r, nil
}

// Register adds or replaces chainID's entry, appending it to the journal.
// counterpart is the chain chainID exchanges messages with; it is what
// Counterpart resolves for cross-chain order routing. A later Register for
// the same chainID shadows the earlier one in the in-memory cache but does
// not rewrite history on disk, matching klaytn's append-only insert().
func (r *Registry) Register(chainID uint64, address common.Address, adapter string, counterpart uint64) error {
	e := &Entry{ChainID: chainID, Address: address, Adapter: adapter, Counterpart: counterpart}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.file.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	if err := rlp.Encode(r.file, e); err != nil {
		return err
	}
	r.cache[chainID] = e
	return nil
}

// Lookup returns the registered entry for chainID, if any.
func (r *Registry) Lookup(chainID uint64) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.cache[chainID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Counterpart resolves the chain chainID is paired with, the mechanism the
// Collector uses to route a MID's next order onto the right chain's
// pending_orders queue instead of reusing a decoded event field as a stand-in
// for "the other chain".
func (r *Registry) Counterpart(chainID uint64) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.cache[chainID]
	if !ok {
		return 0, false
	}
	return e.Counterpart, true
}

// All returns every registered entry, in no particular order.
func (r *Registry) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.cache))
	for _, e := range r.cache {
		out = append(out, *e)
	}
	return out
}

// Close releases the underlying journal file.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}
