package getter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu   sync.Mutex
	head uint64
	logs map[uint64][]types.Log // by block number
}

func (f *fakeClient) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Log
	from := q.FromBlock.Uint64()
	to := q.ToBlock.Uint64()
	for b := from; b <= to; b++ {
		out = append(out, f.logs[b]...)
	}
	return out, nil
}

func (f *fakeClient) setHead(h uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = h
}

// TestRun_MaxBlocksOneStillProgresses checks the boundary
// behavior: maxBlocks=1 still makes forward progress, one block per batch.
func TestRun_MaxBlocksOneStillProgresses(t *testing.T) {
	client := &fakeClient{head: 3, logs: map[uint64][]types.Log{
		1: {{BlockNumber: 1, Index: 0}},
		2: {{BlockNumber: 2, Index: 0}},
		3: {{BlockNumber: 3, Index: 0}},
	}}
	g := New(client, Config{
		MaxBlocks:     1,
		Interval:      time.Millisecond,
		RetryInterval: time.Millisecond,
		StartingBlock: 1,
		StoppingBlock: 3,
	})

	var seen []uint64
	err := g.Run(context.Background(), func(bl BlockLogs) error {
		seen = append(seen, bl.BlockNumber)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, seen)
	assert.Equal(t, uint64(4), g.Cursor())
}

// TestRun_BlockDelayGreaterThanHeadStalls checks the boundary
// behavior: blockDelay >= head stalls without error until ctx is cancelled.
func TestRun_BlockDelayGreaterThanHeadStalls(t *testing.T) {
	client := &fakeClient{head: 2}
	g := New(client, Config{
		BlockDelay:    10,
		Interval:      time.Millisecond,
		RetryInterval: time.Millisecond,
		StartingBlock: 1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	called := false
	err := g.Run(ctx, func(bl BlockLogs) error {
		called = true
		return nil
	})

	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, called, "no batch should ever be emitted while delay exceeds head")
}

// TestRun_StoppingBlockHaltsCleanly checks that Run returns nil (not an
// error) once the cursor passes stoppingBlock.
func TestRun_StoppingBlockHaltsCleanly(t *testing.T) {
	client := &fakeClient{head: 5, logs: map[uint64][]types.Log{
		1: {{BlockNumber: 1, Index: 0}},
	}}
	g := New(client, Config{
		Interval:      time.Millisecond,
		RetryInterval: time.Millisecond,
		StartingBlock: 1,
		StoppingBlock: 1,
	})

	var seen []uint64
	err := g.Run(context.Background(), func(bl BlockLogs) error {
		seen = append(seen, bl.BlockNumber)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, seen)
}
