package wallet

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu          sync.Mutex
	chainID     *big.Int
	nonce       uint64
	sent        []*types.Transaction
	receipts    map[common.Hash]*types.Receipt
	blockNumber uint64
	balance     *big.Int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		chainID:  big.NewInt(1337),
		receipts: make(map[common.Hash]*types.Receipt),
		balance:  big.NewInt(0).Mul(big.NewInt(1e18), big.NewInt(100)),
	}
}

func (f *fakeClient) ChainID(ctx context.Context) (*big.Int, error) { return f.chainID, nil }

func (f *fakeClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeClient) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blockNumber, nil
}

func (f *fakeClient) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{}, nil
}

func (f *fakeClient) confirm(txHash common.Hash, blockNumber uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[txHash] = &types.Receipt{BlockNumber: big.NewInt(0).SetUint64(blockNumber), GasUsed: 21000, Status: 1}
}

func testKey(t *testing.T) *ecdsa.PrivateKey {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func testConfig() Config {
	return Config{
		ConfirmationTimeout:   50 * time.Millisecond,
		Confirmations:         1,
		BalanceUpdateInterval: 50,
		MinOperationalBalance: big.NewInt(0),
	}
}

// TestSubmit_AssignsContiguousNonces checks the property that broadcast
// nonces form a contiguous increasing sequence starting at the initial
// pending nonce.
func TestSubmit_AssignsContiguousNonces(t *testing.T) {
	client := newFakeClient()
	client.nonce = 5
	key := testKey(t)
	w, err := New(context.Background(), client, key, testConfig())
	require.NoError(t, err)

	fees := FeeParams{GasLimit: 21000, MaxFeePerGas: big.NewInt(10), MaxPriorityFeePerGas: big.NewInt(1)}
	for i := 0; i < 3; i++ {
		_, err := w.Submit(context.Background(), [32]byte{byte(i)}, common.Address{}, nil, fees)
		require.NoError(t, err)
	}

	require.Len(t, client.sent, 3)
	for i, tx := range client.sent {
		require.Equal(t, uint64(5+i), tx.Nonce())
	}
}

// TestPollConfirmations_StopsAtFirstUnconfirmedNonce checks the
// ordering guarantee: confirmations are surfaced in nonce order, never
// reporting a later nonce confirmed while an earlier one is still pending.
func TestPollConfirmations_StopsAtFirstUnconfirmedNonce(t *testing.T) {
	client := newFakeClient()
	key := testKey(t)
	w, err := New(context.Background(), client, key, testConfig())
	require.NoError(t, err)

	fees := FeeParams{GasLimit: 21000, MaxFeePerGas: big.NewInt(10), MaxPriorityFeePerGas: big.NewInt(1)}
	p0, err := w.Submit(context.Background(), [32]byte{0}, common.Address{}, nil, fees)
	require.NoError(t, err)
	p1, err := w.Submit(context.Background(), [32]byte{1}, common.Address{}, nil, fees)
	require.NoError(t, err)

	client.blockNumber = 100
	client.confirm(p1.SignedTx.Hash(), 99) // nonce 1 confirms, nonce 0 does not.

	confirmed, err := w.PollConfirmations(context.Background())
	require.NoError(t, err)
	require.Empty(t, confirmed, "nonce 1 must not surface while nonce 0 is unconfirmed")

	client.confirm(p0.SignedTx.Hash(), 99)
	confirmed, err = w.PollConfirmations(context.Background())
	require.NoError(t, err)
	require.Len(t, confirmed, 2)
	require.Equal(t, uint64(0), confirmed[0].Nonce)
	require.Equal(t, uint64(1), confirmed[1].Nonce)
}

// TestPollConfirmations_ZeroConfirmationsConfirmsImmediately checks the
// §8's boundary behavior: confirmations=0 confirms in the submitted block.
func TestPollConfirmations_ZeroConfirmationsConfirmsImmediately(t *testing.T) {
	client := newFakeClient()
	key := testKey(t)
	cfg := testConfig()
	cfg.Confirmations = 0
	w, err := New(context.Background(), client, key, cfg)
	require.NoError(t, err)

	fees := FeeParams{GasLimit: 21000, MaxFeePerGas: big.NewInt(10), MaxPriorityFeePerGas: big.NewInt(1)}
	p0, err := w.Submit(context.Background(), [32]byte{0}, common.Address{}, nil, fees)
	require.NoError(t, err)

	client.blockNumber = 50
	client.confirm(p0.SignedTx.Hash(), 50)

	confirmed, err := w.PollConfirmations(context.Background())
	require.NoError(t, err)
	require.Len(t, confirmed, 1)
}
