package status

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

// TestSetActive_PublishesOnlyOnChange checks that repeating the same
// active state for a chain does not emit a redundant WorkerStatus.
func TestSetActive_PublishesOnlyOnChange(t *testing.T) {
	f := NewFeed()
	ch := make(chan WorkerStatus, 4)
	sub := f.SubscribeWorkerStatus(ch)
	defer sub.Unsubscribe()

	f.SetActive(1, true)
	f.SetActive(1, true)
	f.SetActive(1, true)

	select {
	case s := <-ch:
		require.Equal(t, []uint64{1}, s.ActiveWorkers)
	case <-time.After(time.Second):
		t.Fatal("expected one WorkerStatus notification")
	}

	select {
	case s := <-ch:
		t.Fatalf("unexpected second notification %+v", s)
	default:
	}
}

// TestSetActive_TransitionSplitsActiveAndInactive checks that the
// published snapshot partitions chains correctly once one flips off.
func TestSetActive_TransitionSplitsActiveAndInactive(t *testing.T) {
	f := NewFeed()
	ch := make(chan WorkerStatus, 4)
	sub := f.SubscribeWorkerStatus(ch)
	defer sub.Unsubscribe()

	f.SetActive(1, true)
	f.SetActive(2, true)
	<-ch
	<-ch

	f.SetActive(1, false)

	select {
	case s := <-ch:
		require.ElementsMatch(t, []uint64{2}, s.ActiveWorkers)
		require.ElementsMatch(t, []uint64{1}, s.InactiveWorkers)
	case <-time.After(time.Second):
		t.Fatal("expected a notification for the transition")
	}
}

// TestPublishMonitor_DeliversToSubscriber checks the Monitor feed
// delivers the exact value passed to PublishMonitor.
func TestPublishMonitor_DeliversToSubscriber(t *testing.T) {
	f := NewFeed()
	ch := make(chan Monitor, 1)
	sub := f.SubscribeMonitor(ch)
	defer sub.Unsubscribe()

	now := time.Now()
	m := Monitor{ChainID: 7, BlockNumber: 100, BlockHash: common.HexToHash("0x01"), Timestamp: now}
	f.PublishMonitor(m)

	select {
	case got := <-ch:
		require.Equal(t, m, got)
	case <-time.After(time.Second):
		t.Fatal("expected a Monitor notification")
	}
}
