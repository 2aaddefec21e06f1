package relay

import "github.com/pkg/errors"

// Sentinel errors shared across components. Component-level retry
// logic wraps the underlying RPC/driver error with errors.Wrap and checks
// membership with errors.Is/errors.Cause, the same way klaytn threads
// errors through node/sc (e.g. bridge_manager.go's "fail to deploy bridge").
var (
	// ErrTransientRPC marks a call worth retrying with backoff; it must
	// never cross a worker boundary unless maxTries is exceeded.
	ErrTransientRPC = errors.New("transient rpc error")

	// ErrNonceConflict is reconciled internally by re-reading the pending
	// nonce and re-sequencing; it never reaches the Store.
	ErrNonceConflict = errors.New("nonce conflict")

	// ErrUnderpriced signals the fee bump-and-retry path at the same nonce.
	ErrUnderpriced = errors.New("underpriced")

	// ErrUnprofitable marks an order abandoned until a BountyIncreased
	// arrives; it must not be re-enqueued before then.
	ErrUnprofitable = errors.New("order permanently unprofitable")

	// ErrInvalidEvent marks a decoder failure; the event is logged and
	// skipped, its slot left empty.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrFatal marks a condition that should terminate the worker (lost
	// signing key, Store unreachable past the grace period).
	ErrFatal = errors.New("fatal worker error")

	// ErrConfig marks a configuration error that should refuse to start
	// a chain's worker.
	ErrConfig = errors.New("config error")
)
