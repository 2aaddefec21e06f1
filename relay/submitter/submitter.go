// Package submitter owns the bounded per-chain pending set and the gas
// policy for turning a relay.SubmitOrder into a signed, broadcast, and
// eventually confirmed transaction. It is modeled directly on klaytn's
// node/sc/bridge_tx_pool.go (BridgeTxPool): the same
// pending/queue split, the same big.Int-everywhere fee arithmetic, and the
// same "refuse beyond a bound, replace on staleness" control flow,
// generalized from klaytn's fixed value-transfer call to an arbitrary
// (to, calldata, gasLimit) order.
package submitter

import (
	"context"
	"math/big"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"

	"github.com/klaytn/relayer/relay"
	"github.com/klaytn/relayer/relay/log"
	"github.com/klaytn/relayer/relay/store"
	"github.com/klaytn/relayer/relay/wallet"
)

var logger = log.NewModuleLogger(log.Submitter, 0)

// replacementBumpNum/replacementBumpDen express the >=12.5% fee bump the EVM
// mempool requires to replace a same-nonce transaction.
const (
	replacementBumpNum = 9
	replacementBumpDen = 8
)

// FeeSource is the RPC surface the gas policy reads current network fee
// levels from, narrowed from *ethclient.Client the same way relay/getter and
// relay/wallet narrow their own Client interfaces.
type FeeSource interface {
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// GasLimitPolicy resolves the gasLimit buffer for an order, keyed by kind
// with a "default" fallback: delivery and ack transactions have
// structurally different calldata shapes, so gasLimitBuffer is a
// per-order-kind map rather than a single chain-wide scalar.
type GasLimitPolicy struct {
	PerKind map[relay.OrderKind]float64
	Default float64
}

// Buffer returns the multiplier to apply to an order's MaxGas when deriving
// the transaction's gasLimit.
func (p GasLimitPolicy) Buffer(kind relay.OrderKind) float64 {
	if v, ok := p.PerKind[kind]; ok {
		return v
	}
	if p.Default != 0 {
		return p.Default
	}
	return 1.0
}

// Config carries the per-chain submission tunables.
type Config struct {
	MaxPendingTransactions int
	GasPriceAdjustment     float64 // applied to SuggestGasPrice before capping
	PriorityAdjustment     float64
	MaxAllowedGasPrice     *big.Int
	MaxAllowedPriorityFee  *big.Int
	GasLimit               GasLimitPolicy

	// MaxTries bounds how many times a single broadcast is retried on
	// relay.ErrTransientRPC before the order is declared Failed. <= 0 means
	// a single attempt, no retry.
	MaxTries int
}

// orderState is the lifecycle of a single submitted order:
// New -> Signed -> Broadcast -> {Confirmed | Replaced | Failed}.
type orderState int

const (
	stateNew orderState = iota
	stateSigned
	stateBroadcast
	stateConfirmed
	stateReplaced
	stateFailed
)

// inFlight tracks one order's nonce and last fee params for replacement.
type inFlight struct {
	order relay.SubmitOrder
	nonce uint64
	fees  wallet.FeeParams
	state orderState
}

// Submitter maintains chainID's pending set and drives orders through the
// wallet. Like klaytn's BridgeTxPool, a single mutex guards the pending
// map; broadcasting and confirmation polling may still overlap since the
// Wallet serializes only nonce allocation.
type Submitter struct {
	chainID uint64
	cfg     Config
	fees    FeeSource
	w       *wallet.Wallet
	s       store.Store

	mu      sync.Mutex
	pending map[relay.MessageID]*inFlight

	refusedCounter metrics.Counter
	failedCounter  metrics.Counter
}

// New returns a Submitter for chainID.
func New(chainID uint64, cfg Config, fees FeeSource, w *wallet.Wallet, s store.Store, registry metrics.Registry) *Submitter {
	sub := &Submitter{
		chainID:        chainID,
		cfg:            cfg,
		fees:           fees,
		w:              w,
		s:              s,
		pending:        make(map[relay.MessageID]*inFlight),
		refusedCounter: metrics.NewCounter(),
		failedCounter:  metrics.NewCounter(),
	}
	if registry != nil {
		registry.Register("submitter/refused", sub.refusedCounter)
		registry.Register("submitter/failed", sub.failedCounter)
	}
	return sub
}

// Submit accepts a profitable order from the Evaluator. If the chain's
// pending set is already at maxPendingTransactions, the order is refused
// rather than queued, and the caller is expected to re-offer it on a
// later tick.
func (s *Submitter) Submit(ctx context.Context, order relay.SubmitOrder) error {
	s.mu.Lock()
	if len(s.pending) >= s.cfg.MaxPendingTransactions {
		s.mu.Unlock()
		s.refusedCounter.Inc(1)
		logger.Debug("pending set full, refusing order", "chainId", s.chainID, "mid", order.MID, "pending", len(s.pending))
		return nil
	}
	if _, exists := s.pending[order.MID]; exists {
		s.mu.Unlock()
		return nil // already in flight for this MID; avoid duplicate submission.
	}
	s.mu.Unlock()

	fees, err := s.gasPolicy(ctx)
	if err != nil {
		return errors.Wrap(err, "submitter: gas policy")
	}
	fees.GasLimit = applyBuffer(order.MaxGas, s.cfg.GasLimit.Buffer(order.Kind))

	p, err := s.submitWithRetry(ctx, order, fees)
	if err != nil {
		if recErr := s.recordFailure(ctx, order); recErr != nil {
			logger.Error("failed to record submit failure", "mid", order.MID, "err", recErr)
		}
		s.failedCounter.Inc(1)
		return errors.Wrap(err, "submitter: wallet submit")
	}

	s.mu.Lock()
	s.pending[order.MID] = &inFlight{order: order, nonce: p.Nonce, fees: fees, state: stateBroadcast}
	s.mu.Unlock()

	logger.Info("order broadcast", "chainId", s.chainID, "mid", order.MID, "kind", order.Kind, "nonce", p.Nonce)
	return nil
}

// submitWithRetry retries the wallet broadcast up to maxTries attempts,
// backing off only on relay.ErrTransientRPC (the same retryable-sentinel
// convention relay/getter.go uses with this package); any other failure is
// permanent and stops the retry immediately. maxTries <= 0 is a single
// attempt.
func (s *Submitter) submitWithRetry(ctx context.Context, order relay.SubmitOrder, fees wallet.FeeParams) (*wallet.PendingTx, error) {
	maxTries := s.cfg.MaxTries
	if maxTries <= 0 {
		maxTries = 1
	}

	var p *wallet.PendingTx
	attempt := 0
	op := func() error {
		attempt++
		var err error
		p, err = s.w.Submit(ctx, order.MID, order.To, order.Calldata, fees)
		if err == nil {
			return nil
		}
		if errors.Is(err, relay.ErrTransientRPC) {
			logger.Debug("submit attempt failed, retrying", "chainId", s.chainID, "mid", order.MID, "attempt", attempt, "err", err)
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(maxTries-1))
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if perm, ok := err.(*backoff.PermanentError); ok {
			return nil, perm.Err
		}
		return nil, err
	}
	return p, nil
}

// recordFailure increments the RelayState's delivery/ack attempt counter
// once submitWithRetry is exhausted, so a permanently-failing order still
// shows up in its attempt history even though no transaction was confirmed.
func (s *Submitter) recordFailure(ctx context.Context, order relay.SubmitOrder) error {
	key := store.RelayStateKey(order.MID)
	for {
		state, version, err := s.s.Get(ctx, key)
		if err != nil {
			return err
		}
		updated := *state
		switch order.Kind {
		case relay.OrderDelivery:
			updated.DeliveryAttempts++
		case relay.OrderAck:
			updated.AckAttempts++
		}
		if _, err := s.s.SetIfVersion(ctx, key, version, &updated); err != nil {
			if err == store.ErrVersionConflict {
				continue
			}
			return err
		}
		return nil
	}
}

// Tick drives confirmation polling and stall handling for one chain,
// meant to be called once per processingInterval alongside the Getter.
func (s *Submitter) Tick(ctx context.Context) error {
	confirmed, err := s.w.PollConfirmations(ctx)
	if err != nil {
		return errors.Wrap(err, "submitter: poll confirmations")
	}
	for _, c := range confirmed {
		s.mu.Lock()
		f, ok := s.pending[c.MID]
		if ok {
			f.state = stateConfirmed
			delete(s.pending, c.MID)
		}
		s.mu.Unlock()
		if !ok {
			continue
		}
		if err := s.recordConfirmation(ctx, f, c); err != nil {
			logger.Error("failed to record confirmation", "mid", c.MID, "err", err)
		}
	}

	for _, p := range s.w.StalledTxs() {
		s.mu.Lock()
		f, ok := s.pending[p.MID]
		s.mu.Unlock()
		if !ok {
			continue
		}

		if s.w.IsPersistentlyStalled(p) {
			s.cancel(ctx, f, p)
			continue
		}
		s.replace(ctx, f, p)
	}

	return nil
}

func (s *Submitter) replace(ctx context.Context, f *inFlight, p *wallet.PendingTx) {
	bumped := bumpFees(f.fees)
	replaced, err := s.w.Replace(ctx, p, f.order.To, f.order.Calldata, bumped)
	if err != nil {
		if err == relay.ErrUnderpriced {
			// retry again next tick with a larger bump; the wallet already
			// discarded the rejected attempt.
			return
		}
		logger.Error("replace failed", "mid", f.order.MID, "err", err)
		return
	}
	s.mu.Lock()
	f.fees = bumped
	f.nonce = replaced.Nonce
	f.state = stateBroadcast
	s.mu.Unlock()
	logger.Info("order replaced with bumped fees", "chainId", s.chainID, "mid", f.order.MID, "nonce", replaced.Nonce)
}

func (s *Submitter) cancel(ctx context.Context, f *inFlight, p *wallet.PendingTx) {
	bumped := bumpFees(f.fees)
	if _, err := s.w.Cancel(ctx, p, bumped); err != nil {
		logger.Error("cancel failed", "mid", f.order.MID, "err", err)
		return
	}
	s.mu.Lock()
	f.state = stateFailed
	delete(s.pending, f.order.MID)
	s.mu.Unlock()
	s.failedCounter.Inc(1)
	logger.Warn("order persistently stalled, cancelled by self-send", "chainId", s.chainID, "mid", f.order.MID)
}

// recordConfirmation merges the confirmed order's gas cost back into the
// RelayState so the Evaluator's next pass sees accurate DeliveryGasCost/
// AckGasCost.
func (s *Submitter) recordConfirmation(ctx context.Context, f *inFlight, c wallet.Confirmation) error {
	key := store.RelayStateKey(f.order.MID)
	for {
		state, version, err := s.s.Get(ctx, key)
		if err != nil {
			return err
		}

		cost := new(big.Int).Mul(new(big.Int).SetUint64(c.Receipt.GasUsed), f.fees.MaxFeePerGas)
		updated := *state
		switch f.order.Kind {
		case relay.OrderDelivery:
			updated.DeliveryGasCost = cost
			updated.DeliveryAttempts++
		case relay.OrderAck:
			updated.AckGasCost = cost
			updated.AckAttempts++
		}

		if _, err := s.s.SetIfVersion(ctx, key, version, &updated); err != nil {
			if err == store.ErrVersionConflict {
				continue
			}
			return err
		}
		return nil
	}
}

// gasPolicy computes EIP-1559 fee caps from the chain's current suggested
// fees, adjusted and capped, mirroring the adjustment/cap factor pair
// klaytn applies to gas price in bridge_tx_pool.go's CheckNonceAndGasPrice.
func (s *Submitter) gasPolicy(ctx context.Context) (wallet.FeeParams, error) {
	tip, err := s.fees.SuggestGasTipCap(ctx)
	if err != nil {
		return wallet.FeeParams{}, err
	}
	base, err := s.fees.SuggestGasPrice(ctx)
	if err != nil {
		return wallet.FeeParams{}, err
	}

	priorityFee := scaleFloat(tip, s.cfg.PriorityAdjustment)
	if s.cfg.MaxAllowedPriorityFee != nil && priorityFee.Cmp(s.cfg.MaxAllowedPriorityFee) > 0 {
		priorityFee = s.cfg.MaxAllowedPriorityFee
	}

	maxFee := scaleFloat(base, s.cfg.GasPriceAdjustment)
	maxFee.Add(maxFee, priorityFee)
	if s.cfg.MaxAllowedGasPrice != nil && maxFee.Cmp(s.cfg.MaxAllowedGasPrice) > 0 {
		maxFee = s.cfg.MaxAllowedGasPrice
	}

	return wallet.FeeParams{MaxFeePerGas: maxFee, MaxPriorityFeePerGas: priorityFee}, nil
}

func bumpFees(prev wallet.FeeParams) wallet.FeeParams {
	return wallet.FeeParams{
		GasLimit:             prev.GasLimit,
		MaxFeePerGas:         bump(prev.MaxFeePerGas),
		MaxPriorityFeePerGas: bump(prev.MaxPriorityFeePerGas),
	}
}

func bump(v *big.Int) *big.Int {
	bumped := new(big.Int).Mul(v, big.NewInt(replacementBumpNum))
	bumped.Div(bumped, big.NewInt(replacementBumpDen))
	if bumped.Cmp(v) == 0 {
		bumped.Add(bumped, big.NewInt(1))
	}
	return bumped
}

func scaleFloat(v *big.Int, factor float64) *big.Int {
	if factor == 0 {
		factor = 1
	}
	scaled := new(big.Float).Mul(new(big.Float).SetInt(v), big.NewFloat(factor))
	out, _ := scaled.Int(nil)
	return out
}

func applyBuffer(maxGas uint64, factor float64) uint64 {
	if factor == 0 {
		factor = 1
	}
	return uint64(float64(maxGas) * factor)
}

// PendingCount reports the chain's current in-flight order count, used by
// the orchestrator to drain in-flight orders on Stop.
func (s *Submitter) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
