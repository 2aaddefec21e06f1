package pricing

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	price *big.Int
	err   error
	calls int
}

func (p *fakeProvider) Price(ctx context.Context, chainID uint64, unit GasUnit) (*big.Int, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.price, nil
}

// TestPrice_CachesWithinDuration checks that a second call inside
// cacheDuration is served from the cache without hitting the provider.
func TestPrice_CachesWithinDuration(t *testing.T) {
	p := &fakeProvider{price: big.NewInt(100)}
	o := New(p, time.Minute, 3)

	price, err := o.Price(context.Background(), 1, "native")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), price)

	price, err = o.Price(context.Background(), 1, "native")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), price)
	require.Equal(t, 1, p.calls, "second call within cacheDuration must not hit the provider")
}

// TestPrice_FallsBackToLastKnownValueOnFailure checks that a single
// provider failure, with fewer than maxTries consecutive failures, returns
// the last successfully fetched price rather than an error.
func TestPrice_FallsBackToLastKnownValueOnFailure(t *testing.T) {
	p := &fakeProvider{price: big.NewInt(100)}
	o := New(p, 0, 3) // cacheDuration 0: every call re-fetches.

	price, err := o.Price(context.Background(), 1, "native")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), price)

	p.err = errTest
	price, err = o.Price(context.Background(), 1, "native")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), price, "must fall back to the last-known value")
}

// TestPrice_UnavailableAfterMaxTriesWithNoCache checks that with no prior
// successful fetch, ErrUnavailable is returned on the first failure, before
// the streak reaches maxTries, since there is no cached value to fall back on.
func TestPrice_UnavailableAfterMaxTriesWithNoCache(t *testing.T) {
	p := &fakeProvider{err: errTest}
	o := New(p, time.Minute, 2)

	_, err := o.Price(context.Background(), 1, "native")
	require.Error(t, err)
	var unavailable *ErrUnavailable
	require.True(t, errors.As(err, &unavailable))
}

// TestPrice_UnavailableOnceFailureStreakReachesMaxTries checks that the
// failure streak, not the cache presence alone, gates ErrUnavailable: once
// maxTries consecutive failures accumulate, even a chain with a stale
// cached value stops being served it.
func TestPrice_UnavailableOnceFailureStreakReachesMaxTries(t *testing.T) {
	p := &fakeProvider{price: big.NewInt(100)}
	o := New(p, 0, 2)

	_, err := o.Price(context.Background(), 1, "native")
	require.NoError(t, err)

	p.err = errTest
	_, err = o.Price(context.Background(), 1, "native")
	require.NoError(t, err, "first failure must still fall back to the cached value")

	_, err = o.Price(context.Background(), 1, "native")
	require.Error(t, err, "second consecutive failure reaches maxTries and must surface ErrUnavailable")
}

// TestPrice_SuccessResetsFailureStreak checks that a successful fetch
// zeroes the failure counter, so a single subsequent failure falls back to
// the cache again instead of immediately surfacing ErrUnavailable.
func TestPrice_SuccessResetsFailureStreak(t *testing.T) {
	p := &fakeProvider{price: big.NewInt(100)}
	o := New(p, 0, 2)

	_, err := o.Price(context.Background(), 1, "native")
	require.NoError(t, err)

	p.err = errTest
	_, err = o.Price(context.Background(), 1, "native")
	require.NoError(t, err)

	p.err = nil
	_, err = o.Price(context.Background(), 1, "native")
	require.NoError(t, err)

	p.err = errTest
	_, err = o.Price(context.Background(), 1, "native")
	require.NoError(t, err, "success must reset the failure streak")
}

// TestPrice_KeysCachePerChainAndUnit checks that distinct (chainID, unit)
// pairs are priced and cached independently.
func TestPrice_KeysCachePerChainAndUnit(t *testing.T) {
	p := &fakeProvider{price: big.NewInt(100)}
	o := New(p, time.Minute, 3)

	_, err := o.Price(context.Background(), 1, "native")
	require.NoError(t, err)
	_, err = o.Price(context.Background(), 2, "native")
	require.NoError(t, err)
	_, err = o.Price(context.Background(), 1, "usdc")
	require.NoError(t, err)

	require.Equal(t, 3, p.calls, "each distinct (chainID, unit) pair must fetch independently")
}

var errTest = &staticError{"pricing: test provider failure"}

type staticError struct{ msg string }

func (e *staticError) Error() string { return e.msg }
