// Package store defines the persistent key-value contract the rest of the
// relayer depends on, the way klaytn's
// storage/database.DBManager is a narrow Go interface in front of a
// concrete database client rather than a concrete type threaded
// everywhere. Two implementations are provided: redisstore (the
// production backend) and memstore (an in-process fake for tests).
package store

import (
	"context"
	"errors"
	"strconv"

	"github.com/klaytn/relayer/relay"
)

// ErrVersionConflict is returned by SetIfVersion when the stored version no
// longer matches the caller's expectation; callers must re-read and retry.
var ErrVersionConflict = errors.New("store: version conflict")

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("store: not found")

// RelayStateKey is the canonical key for a MID's RelayState, matching
// a "relay_state:"+MID naming scheme.
func RelayStateKey(id relay.MessageID) string {
	return "relay_state:" + id.String()
}

// PendingOrdersKey is the canonical queue key for a chain's pending orders.
func PendingOrdersKey(chainID uint64) string {
	return "pending_orders:" + strconv.FormatUint(chainID, 10)
}

// Store is the persistent key-value contract: all mutations are single-key
// atomic; multi-key updates go through read-modify-write with optimistic
// retry via SetIfVersion. There are no cross-key transactions.
type Store interface {
	// Get returns the RelayState stored under key and its current version.
	// ErrNotFound is returned if the key does not exist.
	Get(ctx context.Context, key string) (*relay.RelayState, uint64, error)

	// SetIfVersion performs a compare-and-set write: it succeeds only if
	// the stored version still equals expectedVersion (0 means "key must
	// not exist yet"), and returns the new version on success.
	SetIfVersion(ctx context.Context, key string, expectedVersion uint64, value *relay.RelayState) (uint64, error)

	// Push appends id to the queue at queueKey.
	Push(ctx context.Context, queueKey string, id relay.MessageID) error

	// PopN removes and returns up to n MIDs from the front of the queue at
	// queueKey, in FIFO order.
	PopN(ctx context.Context, queueKey string, n int) ([]relay.MessageID, error)

	// Subscribe returns a channel of key names that changed, as a hint
	// only; correctness never depends on delivery.
	Subscribe(ctx context.Context, pattern string) (<-chan string, error)

	Close() error
}
