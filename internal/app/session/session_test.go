package session

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confquest/confquest/internal/app/economy"
	"github.com/confquest/confquest/internal/app/energy"
	"github.com/confquest/confquest/internal/app/timewindow"
	"github.com/confquest/confquest/internal/domain"
	"github.com/confquest/confquest/internal/infra/kvstore"
	"github.com/confquest/confquest/internal/retry"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

// fakeBalances is an idempotent remote balance store.
type fakeBalances struct {
	mu       sync.Mutex
	balances map[domain.BalanceField]int64
	refs     map[string]domain.JournalEntry
	fail     int
	lose     int // applies, then reports a transient failure
	calls    int
	block    chan struct{}
}

func newFakeBalances() *fakeBalances {
	return &fakeBalances{
		balances: make(map[domain.BalanceField]int64),
		refs:     make(map[string]domain.JournalEntry),
	}
}

func (f *fakeBalances) IncrementBalance(_ context.Context, g domain.Grant) (domain.JournalEntry, bool, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail > 0 {
		f.fail--
		return domain.JournalEntry{}, false, fmt.Errorf("timeout: %w", domain.ErrTransient)
	}
	e, ok := f.refs[g.Ref]
	applied := !ok
	if applied {
		f.balances[g.Field] += g.Delta
		e = domain.JournalEntry{UserID: g.UserID, Field: g.Field, Delta: g.Delta, Balance: f.balances[g.Field], Ref: g.Ref}
		f.refs[g.Ref] = e
	}
	if f.lose > 0 {
		f.lose--
		return domain.JournalEntry{}, false, fmt.Errorf("reply lost: %w", domain.ErrTransient)
	}
	return e, applied, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Energy = energy.Config{MaxEnergy: 3, RegenPerSecond: 0.1, Cost: 1}
	cfg.Conversion = economy.ConversionRate{Ratio: 10, PointsPerUnit: 1}
	cfg.Retry = retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	return cfg
}

func open(t *testing.T, kv domain.KVStore, remote domain.BalanceStore, clock timewindow.Clock) *Session {
	t.Helper()
	s, err := Open("u1", testConfig(), Deps{
		KV:     kv,
		Remote: remote,
		Clock:  clock,
		Rand:   rand.New(rand.NewSource(7)),
	})
	require.NoError(t, err)
	return s
}

func TestOpen_DefaultsToFullPoolLevelOne(t *testing.T) {
	s := open(t, kvstore.NewMemStore(), nil, timewindow.NewFixedClock(t0))
	st := s.State()
	assert.Equal(t, 3.0, st.Energy.Amount)
	assert.Equal(t, 1, st.Coins.Level)
	assert.Zero(t, st.Coins.Coins)
}

func TestClick_SpendsAndRewards(t *testing.T) {
	clock := timewindow.NewFixedClock(t0)
	s := open(t, nil, nil, clock)

	res, err := s.Click(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Reward, int64(1))
	assert.LessOrEqual(t, res.Reward, int64(3))
	assert.Equal(t, 2.0, res.State.Energy.Amount)
	assert.Equal(t, res.Reward, res.State.Coins.Coins)
	assert.Equal(t, res.Reward, res.State.Coins.TotalCoinsEarned)
	assert.Equal(t, res.Reward, res.State.Coins.Experience)
	assert.Equal(t, res.Reward, res.State.Unmirrored)
}

func TestClick_InsufficientEnergyIsExpected(t *testing.T) {
	clock := timewindow.NewFixedClock(t0)
	s := open(t, nil, nil, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Click(ctx)
		require.NoError(t, err)
	}
	before := s.State()

	res, err := s.Click(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientEnergy)
	assert.True(t, domain.IsExpected(err))
	r, ok := domain.RejectionOf(err)
	require.True(t, ok)
	assert.Equal(t, t0.Add(10*time.Second), r.RetryAt)
	assert.Equal(t, before.Coins, res.State.Coins, "nothing changes")

	// Regeneration is recomputed, not ticked.
	clock.Advance(10 * time.Second)
	_, err = s.Click(ctx)
	assert.NoError(t, err)
}

func TestSnapshot_RestoresAcrossOpen(t *testing.T) {
	kv := kvstore.NewMemStore()
	clock := timewindow.NewFixedClock(t0)
	s := open(t, kv, nil, clock)

	res, err := s.Click(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Snapshot())

	clock.Advance(5 * time.Second)
	restored := open(t, kv, nil, clock)
	st := restored.State()
	assert.Equal(t, res.State.Coins, st.Coins)
	assert.InDelta(t, 2.5, st.Energy.Amount, 1e-9, "regenerated from the persisted timestamp")
	assert.Equal(t, res.Reward, st.Unmirrored)
}

func TestFlush_MirrorsCoinsEarnedOnce(t *testing.T) {
	remote := newFakeBalances()
	clock := timewindow.NewFixedClock(t0)
	s := open(t, kvstore.NewMemStore(), remote, clock)
	ctx := context.Background()

	var earned int64
	for i := 0; i < 3; i++ {
		res, err := s.Click(ctx)
		require.NoError(t, err)
		earned += res.Reward
	}

	remote.fail = 5
	require.Error(t, s.Flush(ctx))
	assert.Equal(t, earned, s.State().Unmirrored, "failed batch is kept")

	remote.fail = 0
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, earned, remote.balances[domain.FieldCoinsEarned])
	assert.Zero(t, s.State().Unmirrored)
}

func TestConvert_DeductsAfterConfirmation(t *testing.T) {
	remote := newFakeBalances()
	clock := timewindow.NewFixedClock(t0)
	s := open(t, kvstore.NewMemStore(), remote, clock)
	s.coins.Coins = 25

	res, err := s.Convert(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Conversion.PointsAwarded)
	assert.Equal(t, int64(20), res.Conversion.CoinsSpent)
	assert.Equal(t, int64(5), res.State.Coins.Coins)
	assert.Equal(t, int64(2), remote.balances[domain.FieldPoints])
}

func TestConvert_BelowThreshold(t *testing.T) {
	remote := newFakeBalances()
	s := open(t, nil, remote, timewindow.NewFixedClock(t0))
	s.coins.Coins = 9

	res, err := s.Convert(context.Background())
	assert.ErrorIs(t, err, domain.ErrBelowConversionThreshold)
	assert.Equal(t, int64(9), res.Conversion.CoinsRemaining)
	assert.Zero(t, remote.calls)
}

func TestConvert_FailureKeepsCoins(t *testing.T) {
	remote := newFakeBalances()
	remote.fail = 5
	s := open(t, nil, remote, timewindow.NewFixedClock(t0))
	s.coins.Coins = 30

	_, err := s.Convert(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	assert.Equal(t, int64(30), s.State().Coins.Coins)
	assert.False(t, s.State().Converting)
}

func TestConvert_LostReplyResendsSameRef(t *testing.T) {
	remote := newFakeBalances()
	remote.lose = 2
	kv := kvstore.NewMemStore()
	clock := timewindow.NewFixedClock(t0)
	s := open(t, kv, remote, clock)
	s.coins.Coins = 10

	_, err := s.Convert(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	assert.Equal(t, int64(10), s.State().Coins.Coins, "unconfirmed coins stay")
	assert.Equal(t, int64(1), remote.balances[domain.FieldPoints], "the server applied it")

	// The pending conversion survives a restart and is resent as is.
	restored := open(t, kv, remote, clock)
	res, err := restored.Convert(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Conversion.PointsAwarded)
	assert.Zero(t, res.State.Coins.Coins)
	assert.Equal(t, int64(1), remote.balances[domain.FieldPoints], "granted once")
	assert.Len(t, remote.refs, 1)

	var p persisted
	ok, err := kv.Get(storeKey("u1"), &p)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, p.Conversion)

	// With nothing pending, a fresh conversion is below threshold again.
	_, err = restored.Convert(context.Background())
	assert.ErrorIs(t, err, domain.ErrBelowConversionThreshold)
}

func TestConvert_RefusedConversionIsDropped(t *testing.T) {
	remote := &refusingBalances{}
	s := open(t, kvstore.NewMemStore(), remote, timewindow.NewFixedClock(t0))
	s.coins.Coins = 10

	_, err := s.Convert(context.Background())
	assert.ErrorIs(t, err, domain.ErrRejected)
	assert.Nil(t, s.conversion)
	assert.Equal(t, int64(10), s.State().Coins.Coins)
}

type refusingBalances struct{}

func (refusingBalances) IncrementBalance(context.Context, domain.Grant) (domain.JournalEntry, bool, error) {
	return domain.JournalEntry{}, false, domain.Reject(domain.ErrRejected, "not covered by coins earned", time.Time{})
}

func TestConvert_MirrorsCoinsFirst(t *testing.T) {
	remote := newFakeBalances()
	s := open(t, nil, remote, timewindow.NewFixedClock(t0))
	s.coins.Coins = 20
	s.pending = 20

	_, err := s.Convert(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(20), remote.balances[domain.FieldCoinsEarned])
	assert.Equal(t, int64(2), remote.balances[domain.FieldPoints])
}

func TestConvert_SingleInFlight(t *testing.T) {
	remote := newFakeBalances()
	remote.block = make(chan struct{})
	s := open(t, nil, remote, timewindow.NewFixedClock(t0))
	s.coins.Coins = 30

	done := make(chan error, 1)
	go func() {
		_, err := s.Convert(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return s.State().Converting }, time.Second, time.Millisecond)

	_, err := s.Convert(context.Background())
	assert.ErrorIs(t, err, domain.ErrOperationInFlight)

	close(remote.block)
	require.NoError(t, <-done)
	assert.Equal(t, int64(3), remote.balances[domain.FieldPoints], "granted once")
	assert.Zero(t, s.State().Coins.Coins)
}

func TestRun_StopsAndSnapshots(t *testing.T) {
	kv := kvstore.NewMemStore()
	remote := newFakeBalances()
	s := open(t, kv, remote, timewindow.NewFixedClock(t0))
	_, err := s.Click(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ticks := make(chan State, 16)
	s.cfg.DisplayInterval = time.Millisecond
	done := make(chan struct{})
	go func() {
		s.Run(ctx, func(st State) {
			select {
			case ticks <- st:
			default:
			}
		})
		close(done)
	}()

	<-ticks
	cancel()
	<-done

	var p persisted
	ok, err := kv.Get(storeKey("u1"), &p)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, p.Pending, "final flush mirrored the coins")
	assert.Nil(t, p.InFlight)
}
