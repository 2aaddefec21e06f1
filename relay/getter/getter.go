// Package getter implements the block-range log fetcher with backpressure
// and reorg tolerance. It is modeled on klaytn's
// RPC-wrapping client (client/bridge_client.go's CallContext-based methods)
// but targets the standard ethclient.Client surface instead of a bespoke
// bridge RPC namespace, since the Getter must work against any EVM chain.
package getter

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/klaytn/relayer/relay/log"
)

var logger = log.NewModuleLogger(log.Getter, 0)

// Client is the subset of *ethclient.Client the Getter depends on, narrowed
// to a local interface klaytn's style favors (storage/database.DBManager
// is likewise a narrow interface in front of a concrete client) so tests can
// supply a fake.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Config carries the per-chain tunables.
type Config struct {
	Addresses []common.Address
	Topics    []common.Hash

	BlockDelay    uint64
	Interval      time.Duration
	MaxBlocks     uint64 // 0 means unbounded (archive-node only)
	RetryInterval time.Duration
	StartingBlock uint64
	StoppingBlock uint64 // 0 means run forever
}

// BlockLogs groups the logs observed in a single block, emitted in
// ascending (blockNumber, logIndex) order within the block.
type BlockLogs struct {
	BlockNumber uint64
	BlockHash   common.Hash
	Logs        []types.Log
}

// Getter polls a chain head and fetches logs in bounded ranges, advancing
// its cursor only after a batch has been handed to the caller.
type Getter struct {
	client Client
	cfg    Config
	cursor uint64
}

// New returns a Getter whose cursor starts at cfg.StartingBlock.
func New(client Client, cfg Config) *Getter {
	return &Getter{client: client, cfg: cfg, cursor: cfg.StartingBlock}
}

// Cursor returns the next block the Getter will read, used by callers that
// persist a checkpoint alongside emission.
func (g *Getter) Cursor() uint64 { return g.cursor }

// SetCursor rewinds or fast-forwards the cursor, e.g. to resume from a
// persisted checkpoint at startup.
func (g *Getter) SetCursor(block uint64) { g.cursor = block }

// Run polls until ctx is cancelled or cfg.StoppingBlock is reached,
// invoking emit for every block containing logs, in ascending order. emit
// is expected to persist a checkpoint atomically with whatever it does with
// the batch: advance cursor, persist checkpoint atomically
// with emission downstream").
func (g *Getter) Run(ctx context.Context, emit func(BlockLogs) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if g.cfg.StoppingBlock != 0 && g.cursor > g.cfg.StoppingBlock {
			return nil
		}

		head, err := g.headAfterDelay(ctx)
		if err != nil {
			return err
		}

		if head < g.cursor {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(g.cfg.Interval):
			}
			continue
		}

		upper := head
		if g.cfg.MaxBlocks > 0 && g.cursor+g.cfg.MaxBlocks-1 < upper {
			upper = g.cursor + g.cfg.MaxBlocks - 1
		}
		if g.cfg.StoppingBlock != 0 && upper > g.cfg.StoppingBlock {
			upper = g.cfg.StoppingBlock
		}

		logsByBlock, err := g.fetchLogs(ctx, g.cursor, upper)
		if err != nil {
			return err
		}

		for _, bl := range logsByBlock {
			if err := emit(bl); err != nil {
				return err
			}
		}

		g.cursor = upper + 1
	}
}

func (g *Getter) headAfterDelay(ctx context.Context) (uint64, error) {
	var head uint64
	op := func() error {
		h, err := g.client.BlockNumber(ctx)
		if err != nil {
			logger.Warn("eth_blockNumber failed, retrying", "err", err)
			return err
		}
		head = h
		return nil
	}
	if err := g.retry(ctx, op); err != nil {
		return 0, err
	}
	if head < g.cfg.BlockDelay {
		return 0, nil
	}
	return head - g.cfg.BlockDelay, nil
}

// fetchLogs retrieves eth_getLogs(fromBlock=from, toBlock=to, filters) and
// groups the result by block in ascending (blockNumber, logIndex) order.
func (g *Getter) fetchLogs(ctx context.Context, from, to uint64) ([]BlockLogs, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: g.cfg.Addresses,
		Topics:    [][]common.Hash{g.cfg.Topics},
	}

	var logs []types.Log
	op := func() error {
		l, err := g.client.FilterLogs(ctx, q)
		if err != nil {
			logger.Warn("eth_getLogs failed, retrying", "from", from, "to", to, "err", err)
			return err
		}
		logs = l
		return nil
	}
	if err := g.retry(ctx, op); err != nil {
		return nil, err
	}
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	byBlock := make(map[uint64]*BlockLogs)
	var order []uint64
	for _, l := range logs {
		bl, ok := byBlock[l.BlockNumber]
		if !ok {
			bl = &BlockLogs{BlockNumber: l.BlockNumber, BlockHash: l.BlockHash}
			byBlock[l.BlockNumber] = bl
			order = append(order, l.BlockNumber)
		}
		bl.Logs = append(bl.Logs, l)
	}

	out := make([]BlockLogs, 0, len(order))
	for _, num := range order {
		out = append(out, *byBlock[num])
	}
	return out, nil
}

// retry runs op with exponential backoff capped at retryInterval*2^5, per
// using the klaytn-adjacent cenkalti/backoff/v4
// dependency (carried over from the nitro example's dependency set) instead
// of a hand-rolled sleep loop.
func (g *Getter) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.RetryInterval
	b.MaxInterval = g.cfg.RetryInterval << 5
	b.MaxElapsedTime = 0 // caller controls overall lifetime via ctx
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}
