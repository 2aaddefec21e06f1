// Package wallet is the sole owner of the signing key and of nonce
// allocation for its chain. It is modeled on klaytn's
// deployBridge/MakeTransactOpts pattern (node/sc/bridge_manager.go) for
// building signed transactions, and on the go-batch-submitter driver's use
// of bind.TransactOpts with an explicit Nonce for fee-bumped replacement
// (other_examples/...l2output-driver.go.go's SubmitBatchTx), generalized
// from a single hard-coded contract call to an arbitrary (to, calldata,
// gasLimit) triple.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/klaytn/relayer/relay"
	rlog "github.com/klaytn/relayer/relay/log"
)

var logger = rlog.NewModuleLogger(rlog.Wallet, 0)

// Client is the RPC surface the Wallet depends on, narrowed to what nonce
// management, broadcast, and confirmation tracking actually need.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Config carries the per-chain tunables.
type Config struct {
	ConfirmationTimeout    time.Duration
	Confirmations          uint64
	BalanceUpdateInterval  int // in Submit calls, checked inside Submit
	LowBalanceWarning      *big.Int
	MinOperationalBalance  *big.Int
	MaxAllowedGasPrice     *big.Int
	MaxAllowedPriorityFee  *big.Int
}

// PendingTx is a transaction the Wallet has broadcast but not yet confirmed,
// carrying everything needed to rebroadcast or cancel it.
type PendingTx struct {
	Nonce          uint64
	MID            relay.MessageID
	SignedTx       *types.Transaction
	FirstSubmitted time.Time
	LastSubmitted  time.Time
	Attempt        int

	stallCount int
}

// Wallet serializes nonce allocation for one chain; broadcasts may overlap,
// but nonce assignment and the pending set are guarded by a single mutex.
type Wallet struct {
	client  Client
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	cfg     Config

	mu         sync.Mutex
	nextNonce  uint64
	pending    map[uint64]*PendingTx
	balance    *big.Int
	warnedLow  bool
	tickCount  int
}

// New initializes a Wallet and reads the initial pending nonce from the
// chain (eth_getTransactionCount(account, pending)).
func New(ctx context.Context, client Client, key *ecdsa.PrivateKey, cfg Config) (*Wallet, error) {
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "wallet: fetch chain id")
	}
	address := crypto.PubkeyToAddress(key.PublicKey)

	nonce, err := client.PendingNonceAt(ctx, address)
	if err != nil {
		return nil, errors.Wrap(err, "wallet: fetch initial nonce")
	}

	return &Wallet{
		client:    client,
		key:       key,
		address:   address,
		chainID:   chainID,
		cfg:       cfg,
		nextNonce: nonce,
		pending:   make(map[uint64]*PendingTx),
	}, nil
}

// Address returns the wallet's signing address.
func (w *Wallet) Address() common.Address { return w.address }

// PendingCount returns the number of in-flight transactions.
func (w *Wallet) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// FeeParams is the gas price policy result the Submitter computes (in its
// gasPolicy method) and hands to the Wallet for signing.
type FeeParams struct {
	GasLimit             uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// Submit allocates the next nonce, signs an EIP-1559 transaction to (to,
// calldata) with the given fee params, and broadcasts it. Broadcasts may
// run concurrently with each other; only nonce allocation is serialized.
func (w *Wallet) Submit(ctx context.Context, mid relay.MessageID, to common.Address, calldata []byte, fees FeeParams) (*PendingTx, error) {
	if blocked, err := w.checkOperational(ctx); err != nil {
		return nil, err
	} else if blocked {
		return nil, errors.New("wallet: balance below minOperationalBalance, refusing new submissions")
	}

	w.mu.Lock()
	nonce := w.nextNonce
	w.nextNonce++
	w.mu.Unlock()

	return w.signAndBroadcast(ctx, mid, nonce, to, calldata, fees, 0)
}

func (w *Wallet) signAndBroadcast(ctx context.Context, mid relay.MessageID, nonce uint64, to common.Address, calldata []byte, fees FeeParams, attempt int) (*PendingTx, error) {
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   w.chainID,
		Nonce:     nonce,
		GasTipCap: fees.MaxPriorityFeePerGas,
		GasFeeCap: fees.MaxFeePerGas,
		Gas:       fees.GasLimit,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      calldata,
	})

	signer := types.NewLondonSigner(w.chainID)
	signedTx, err := types.SignTx(tx, signer, w.key)
	if err != nil {
		return nil, errors.Wrap(err, "wallet: sign tx")
	}

	if err := w.client.SendTransaction(ctx, signedTx); err != nil {
		switch {
		case isNonceTooLowOrKnown(err):
			logger.Debug("broadcast reported nonce-too-low/already-known, treating as success", "nonce", nonce, "err", err)
		case strings.Contains(err.Error(), "underpriced"):
			return nil, relay.ErrUnderpriced
		default:
			return nil, errors.Wrap(relay.ErrTransientRPC, err.Error())
		}
	}

	now := time.Now()
	p := &PendingTx{
		Nonce:          nonce,
		MID:            mid,
		SignedTx:       signedTx,
		FirstSubmitted: now,
		LastSubmitted:  now,
		Attempt:        attempt,
	}

	w.mu.Lock()
	w.pending[nonce] = p
	w.mu.Unlock()

	return p, nil
}

// Replace rebroadcasts an existing PendingTx at the same nonce with fees
// bumped by at least 12.5%, the EVM replacement-transaction floor. The
// caller (Submitter) is responsible for computing bumpedFees >= 1.125x
// the prior fee.
func (w *Wallet) Replace(ctx context.Context, p *PendingTx, to common.Address, calldata []byte, bumpedFees FeeParams) (*PendingTx, error) {
	replaced, err := w.signAndBroadcast(ctx, p.MID, p.Nonce, to, calldata, bumpedFees, p.Attempt+1)
	if err != nil {
		return nil, err
	}
	replaced.FirstSubmitted = p.FirstSubmitted
	w.mu.Lock()
	w.pending[p.Nonce] = replaced
	w.mu.Unlock()
	return replaced, nil
}

// Cancel replaces a persistently stalled transaction with a minimum-value
// self-send at the same nonce and bumped fees.
func (w *Wallet) Cancel(ctx context.Context, p *PendingTx, bumpedFees FeeParams) (*PendingTx, error) {
	return w.Replace(ctx, p, w.address, nil, bumpedFees)
}

// PollConfirmations checks every pending transaction's receipt and returns
// those confirmed (currentBlock - txBlock + 1 >= confirmations), releasing
// their nonce slot. Results are surfaced in nonce order: a later nonce is
// never reported confirmed while an earlier one is still pending, so the
// Store observes a monotone view.
func (w *Wallet) PollConfirmations(ctx context.Context) ([]Confirmation, error) {
	currentBlock, err := w.client.BlockNumber(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "wallet: fetch current block")
	}

	w.mu.Lock()
	nonces := make([]uint64, 0, len(w.pending))
	for n := range w.pending {
		nonces = append(nonces, n)
	}
	w.mu.Unlock()
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })

	var confirmed []Confirmation
	for _, n := range nonces {
		w.mu.Lock()
		p, ok := w.pending[n]
		w.mu.Unlock()
		if !ok {
			continue
		}

		receipt, err := w.client.TransactionReceipt(ctx, p.SignedTx.Hash())
		if err == ethereum.NotFound || receipt == nil {
			if time.Since(p.FirstSubmitted) >= w.cfg.ConfirmationTimeout {
				p.stallCount++
			}
			// A later nonce cannot be confirmed ahead of an unconfirmed
			// earlier one; stop here to preserve the nonce-ordered view.
			break
		}
		if err != nil {
			return confirmed, errors.Wrap(err, "wallet: fetch receipt")
		}

		confs := currentBlock - receipt.BlockNumber.Uint64() + 1
		if w.cfg.Confirmations == 0 || confs >= w.cfg.Confirmations {
			confirmed = append(confirmed, Confirmation{
				Nonce:   n,
				MID:     p.MID,
				Receipt: receipt,
			})
			w.mu.Lock()
			delete(w.pending, n)
			w.mu.Unlock()
		} else {
			// Confirmed on-chain but awaiting depth; still blocks later
			// nonces from reporting out of order.
			break
		}
	}

	return confirmed, nil
}

// StalledTxs returns pending transactions whose confirmation has not
// arrived within confirmationTimeout, for the Submitter to rebroadcast
// with a fee bump.
func (w *Wallet) StalledTxs() []*PendingTx {
	w.mu.Lock()
	defer w.mu.Unlock()

	var stalled []*PendingTx
	for _, p := range w.pending {
		if time.Since(p.LastSubmitted) >= w.cfg.ConfirmationTimeout {
			stalled = append(stalled, p)
		}
	}
	return stalled
}

// IsPersistentlyStalled reports whether p has stalled enough times (3x
// confirmationTimeout) to warrant cancellation instead of another
// replacement attempt.
func (w *Wallet) IsPersistentlyStalled(p *PendingTx) bool {
	return time.Since(p.FirstSubmitted) >= 3*w.cfg.ConfirmationTimeout
}

// Confirmation is a (nonce, MID, receipt) tuple merged back into the Store.
type Confirmation struct {
	Nonce   uint64
	MID     relay.MessageID
	Receipt *types.Receipt
}

// checkOperational is called by every Submit; it refreshes the balance every
// balanceUpdateInterval calls (and whenever none is known yet) and reports
// whether new submissions should be refused.
func (w *Wallet) checkOperational(ctx context.Context) (bool, error) {
	w.mu.Lock()
	w.tickCount++
	due := w.tickCount%w.cfg.BalanceUpdateInterval == 0 || w.balance == nil
	w.mu.Unlock()

	if !due {
		w.mu.Lock()
		blocked := w.balance != nil && w.cfg.MinOperationalBalance != nil && w.balance.Cmp(w.cfg.MinOperationalBalance) < 0
		w.mu.Unlock()
		return blocked, nil
	}

	balance, err := w.client.BalanceAt(ctx, w.address, nil)
	if err != nil {
		return false, errors.Wrap(err, "wallet: fetch balance")
	}

	w.mu.Lock()
	crossedLow := w.cfg.LowBalanceWarning != nil && balance.Cmp(w.cfg.LowBalanceWarning) < 0 && !w.warnedLow
	w.warnedLow = w.cfg.LowBalanceWarning != nil && balance.Cmp(w.cfg.LowBalanceWarning) < 0
	w.balance = balance
	blocked := w.cfg.MinOperationalBalance != nil && balance.Cmp(w.cfg.MinOperationalBalance) < 0
	w.mu.Unlock()

	if crossedLow {
		logger.Warn("wallet balance below lowBalanceWarning", "address", w.address, "balance", balance)
	}
	return blocked, nil
}

func isNonceTooLowOrKnown(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "nonce too low") || strings.Contains(msg, "already known")
}
