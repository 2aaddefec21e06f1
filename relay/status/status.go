// Package status is the periodic notification feed subscribers use to
// observe worker health and chain head progress, adapted from
// klaytn's event.Feed/event.Subscription pattern used for
// TokenReceivedEvent/TokenTransferEvent in node/sc/bridge_manager.go,
// generalized from bridge token events to worker lifecycle notifications.
package status

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
)

// WorkerStatus is broadcast whenever a chain's worker transitions between
// active and inactive.
type WorkerStatus struct {
	ActiveWorkers   []uint64
	InactiveWorkers []uint64
}

// Monitor reports the latest observed chain head for one worker.
type Monitor struct {
	ChainID     uint64
	BlockNumber uint64
	BlockHash   common.Hash
	Timestamp   time.Time
}

// Feed fans out WorkerStatus and Monitor notifications to subscribers,
// mirroring BridgeManager's tokenReceived/tokenWithdraw event.Feed pair:
// one feed per notification shape rather than a single envelope type, so
// subscribers only pay for the subscription channel buffering they need.
type Feed struct {
	mu       sync.Mutex
	active   map[uint64]bool
	workerFd event.Feed
	monitorFd event.Feed
}

// NewFeed returns an empty Feed with no workers yet marked active.
func NewFeed() *Feed {
	return &Feed{active: make(map[uint64]bool)}
}

// SubscribeWorkerStatus subscribes ch to WorkerStatus notifications.
func (f *Feed) SubscribeWorkerStatus(ch chan<- WorkerStatus) event.Subscription {
	return f.workerFd.Subscribe(ch)
}

// SubscribeMonitor subscribes ch to Monitor notifications.
func (f *Feed) SubscribeMonitor(ch chan<- Monitor) event.Subscription {
	return f.monitorFd.Subscribe(ch)
}

// SetActive marks chainID's worker active or inactive and publishes the
// updated {activeWorkers, inactiveWorkers} snapshot if the set changed.
func (f *Feed) SetActive(chainID uint64, active bool) {
	f.mu.Lock()
	changed := f.active[chainID] != active
	f.active[chainID] = active
	snapshot := f.snapshotLocked()
	f.mu.Unlock()

	if changed {
		f.workerFd.Send(snapshot)
	}
}

func (f *Feed) snapshotLocked() WorkerStatus {
	var s WorkerStatus
	for chainID, active := range f.active {
		if active {
			s.ActiveWorkers = append(s.ActiveWorkers, chainID)
		} else {
			s.InactiveWorkers = append(s.InactiveWorkers, chainID)
		}
	}
	return s
}

// PublishMonitor emits a chain-head observation, the {event:'monitor', ...}
// notification.
func (f *Feed) PublishMonitor(m Monitor) {
	f.monitorFd.Send(m)
}
