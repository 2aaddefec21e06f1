// Package orchestrator drives one chain's worker: a tick loop pulling new
// logs through the Getter/Collector, evaluating changed RelayStates, and
// feeding profitable orders to the Submitter, plus a periodic status
// report. It is modeled on klaytn's SubBridge.loop/Start/Stop
// (node/sc/subbridge.go): a select over a ticker and a done channel, with a
// sync.WaitGroup tracking the loop goroutine for graceful shutdown.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/klaytn/relayer/relay"
	"github.com/klaytn/relayer/relay/collector"
	"github.com/klaytn/relayer/relay/evaluator"
	"github.com/klaytn/relayer/relay/getter"
	"github.com/klaytn/relayer/relay/log"
	"github.com/klaytn/relayer/relay/status"
	"github.com/klaytn/relayer/relay/store"
	"github.com/klaytn/relayer/relay/submitter"
)

var logger = log.NewModuleLogger(log.Orchestrator, 0)

// Config carries the tick cadence and drain timeout for one chain's
// worker.
type Config struct {
	ProcessingInterval time.Duration
	StatusInterval     time.Duration
	ConfirmationTimeout time.Duration
	PendingOrdersBatch int
}

// Worker owns one chain's full pipeline: Getter feeds Collector, Collector
// writes the Store, and on every tick the Evaluator is run over that
// chain's pending-order queue with results handed to the Submitter.
type Worker struct {
	chainID uint64
	cfg     Config

	g   *getter.Getter
	c   *collector.Collector
	e   *evaluator.Evaluator
	sub *submitter.Submitter
	s   store.Store
	fd  *status.Feed

	checkpoint func(block uint64) error

	wg   sync.WaitGroup
	done chan struct{}
}

// New returns a Worker for chainID wired to its pipeline stages.
func New(chainID uint64, cfg Config, g *getter.Getter, c *collector.Collector, e *evaluator.Evaluator, sub *submitter.Submitter, s store.Store, fd *status.Feed, checkpoint func(block uint64) error) *Worker {
	return &Worker{
		chainID:    chainID,
		cfg:        cfg,
		g:          g,
		c:          c,
		e:          e,
		sub:        sub,
		s:          s,
		fd:         fd,
		checkpoint: checkpoint,
		done:       make(chan struct{}),
	}
}

// Start launches the Getter loop and the processing/status tickers as
// separate goroutines, returning immediately. Stop must be called to shut
// them down; each worker owns its own cancellation token.
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.runGetter(ctx)
	}()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()

	go func() {
		<-w.done
		cancel()
	}()

	if w.fd != nil {
		w.fd.SetActive(w.chainID, true)
	}
}

// Stop signals shutdown: (1) stop the Getter and the processing loop and
// wait up to confirmationTimeout for both goroutines to exit, (2) keep
// ticking the Submitter until no order is in flight, for at most
// confirmationTimeout or until ctx is done, (3) persist the checkpoint.
func (w *Worker) Stop(ctx context.Context) error {
	close(w.done)

	drained := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(w.cfg.ConfirmationTimeout):
		logger.Warn("worker shutdown exceeded confirmationTimeout, exiting regardless", "chainId", w.chainID)
	}

	if w.sub != nil {
		deadline := time.After(w.cfg.ConfirmationTimeout)
	drain:
		for w.sub.PendingCount() > 0 {
			if err := w.sub.Tick(ctx); err != nil {
				logger.Warn("drain tick failed", "chainId", w.chainID, "err", err)
			}
			select {
			case <-deadline:
				break drain
			case <-ctx.Done():
				break drain
			case <-time.After(w.cfg.ProcessingInterval):
			}
		}
	}

	if w.fd != nil {
		w.fd.SetActive(w.chainID, false)
	}
	if w.checkpoint != nil {
		return w.checkpoint(w.g.Cursor())
	}
	return nil
}

func (w *Worker) runGetter(ctx context.Context) {
	err := w.g.Run(ctx, func(bl getter.BlockLogs) error {
		if err := w.c.HandleBlock(ctx, bl); err != nil {
			return err
		}
		if w.checkpoint != nil {
			if err := w.checkpoint(bl.BlockNumber + 1); err != nil {
				logger.Error("checkpoint persist failed", "chainId", w.chainID, "block", bl.BlockNumber, "err", err)
			}
		}
		if w.fd != nil {
			w.fd.PublishMonitor(status.Monitor{
				ChainID:     w.chainID,
				BlockNumber: bl.BlockNumber,
				BlockHash:   bl.BlockHash,
				Timestamp:   time.Now(),
			})
		}
		return nil
	})
	if err != nil && err != context.Canceled {
		logger.Error("getter stopped with error", "chainId", w.chainID, "err", err)
	}
}

// loop is the tick/select body, the direct analogue of klaytn's
// SubBridge.loop: a ticker for periodic processing plus a status ticker,
// selected alongside the done channel instead of klaytn's chain-head
// and tx-pool event channels (this worker has no local blockchain/txpool;
// both are remote, reached only through the Getter and Wallet).
func (w *Worker) loop(ctx context.Context) {
	processing := time.NewTicker(w.cfg.ProcessingInterval)
	defer processing.Stop()

	statusTick := time.NewTicker(w.cfg.StatusInterval)
	defer statusTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-processing.C:
			if err := w.processTick(ctx); err != nil {
				logger.Error("process tick failed", "chainId", w.chainID, "err", err)
			}
		case <-statusTick.C:
			if w.fd != nil {
				w.fd.SetActive(w.chainID, true)
			}
		}
	}
}

// processTick pops a batch of MIDs queued by the Collector, evaluates each
// changed RelayState, and submits any resulting order, then drives the
// Submitter's confirmation/replacement pass.
func (w *Worker) processTick(ctx context.Context) error {
	ids, err := w.s.PopN(ctx, store.PendingOrdersKey(w.chainID), w.cfg.PendingOrdersBatch)
	if err != nil {
		return err
	}

	for _, id := range ids {
		state, _, err := w.s.Get(ctx, store.RelayStateKey(id))
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			logger.Error("failed to read relay state", "mid", id, "err", err)
			continue
		}

		observedAt := eventObservedAt(state)
		order, err := w.e.Evaluate(ctx, state, observedAt)
		if err != nil {
			if errors.Is(err, relay.ErrUnprofitable) {
				logger.Debug("order abandoned as unprofitable", "chainId", w.chainID, "mid", id)
			} else {
				logger.Error("evaluate failed", "mid", id, "err", err)
			}
			continue
		}
		if order == nil {
			continue
		}

		if err := w.sub.Submit(ctx, *order); err != nil {
			logger.Error("submit failed", "mid", id, "err", err)
		}
	}

	return w.sub.Tick(ctx)
}

// eventObservedAt returns the wall-clock time the Collector stamped the
// triggering event for state's current action, used for the Evaluator's
// newOrdersDelay grace window. PlacedAt/DeliveredAt are written once by the
// Collector (relay/collector.Upsert), not on every tick, so the grace
// window actually elapses instead of being perpetually reset to now.
func eventObservedAt(state *relay.RelayState) time.Time {
	switch state.Status {
	case relay.StatusPlaced:
		return state.PlacedAt
	case relay.StatusDelivered:
		return state.DeliveredAt
	default:
		return time.Time{}
	}
}
