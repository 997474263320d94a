package energy

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confquest/confquest/internal/domain"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	p, err := NewPool(DefaultConfig())
	require.NoError(t, err)
	return p
}

var t0 = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func TestRegenerate_Linear(t *testing.T) {
	p := newTestPool(t)
	s := domain.EnergyState{Amount: 10, LastUpdateAt: t0}

	got := p.Regenerate(s, t0.Add(50*time.Second))
	assert.InDelta(t, 15.0, got.Amount, 1e-9)
	assert.Equal(t, t0.Add(50*time.Second), got.LastUpdateAt)
}

func TestRegenerate_ZeroElapsedIsIdempotent(t *testing.T) {
	p := newTestPool(t)
	s := domain.EnergyState{Amount: 42.5, LastUpdateAt: t0}

	once := p.Regenerate(s, t0)
	twice := p.Regenerate(once, t0)
	assert.Equal(t, s.Amount, once.Amount)
	assert.Equal(t, once, twice)
}

func TestRegenerate_RepeatedReadsDoNotDoubleCredit(t *testing.T) {
	p := newTestPool(t)
	s := domain.EnergyState{Amount: 0, LastUpdateAt: t0}

	direct := p.Regenerate(s, t0.Add(100*time.Second))
	stepped := s
	for i := 1; i <= 100; i++ {
		stepped = p.Regenerate(stepped, t0.Add(time.Duration(i)*time.Second))
	}
	assert.InDelta(t, direct.Amount, stepped.Amount, 1e-9)
}

func TestRegenerate_CapsAfterHugeAbsence(t *testing.T) {
	p := newTestPool(t)
	s := domain.EnergyState{Amount: 3, LastUpdateAt: t0}

	got := p.Regenerate(s, t0.Add(100*365*24*time.Hour))
	assert.Equal(t, 100.0, got.Amount)
}

func TestRegenerate_ClockSkewCreditsNothing(t *testing.T) {
	p := newTestPool(t)
	s := domain.EnergyState{Amount: 20, LastUpdateAt: t0}

	got := p.Regenerate(s, t0.Add(-time.Hour))
	assert.Equal(t, 20.0, got.Amount)
	assert.Equal(t, t0, got.LastUpdateAt, "last update never moves backwards")
}

func TestRegenerate_ClampsCorruptSnapshot(t *testing.T) {
	p := newTestPool(t)
	got := p.Regenerate(domain.EnergyState{Amount: 500, LastUpdateAt: t0}, t0)
	assert.Equal(t, 100.0, got.Amount)

	got = p.Regenerate(domain.EnergyState{Amount: -7, LastUpdateAt: t0}, t0)
	assert.Equal(t, 0.0, got.Amount)
}

func TestSpend_Deducts(t *testing.T) {
	p := newTestPool(t)
	got, err := p.Spend(domain.EnergyState{Amount: 5, LastUpdateAt: t0}, t0)
	require.NoError(t, err)
	assert.Equal(t, 4.0, got.Amount)
}

func TestSpend_ThenRegenerateSameInstantUnchanged(t *testing.T) {
	p := newTestPool(t)
	spent, err := p.Spend(domain.EnergyState{Amount: 5, LastUpdateAt: t0.Add(-30 * time.Second)}, t0)
	require.NoError(t, err)

	again := p.Regenerate(spent, t0)
	assert.Equal(t, spent.Amount, again.Amount)
}

func TestSpend_InsufficientIsRejectedNotClamped(t *testing.T) {
	p := newTestPool(t)
	s := domain.EnergyState{Amount: 0.5, LastUpdateAt: t0}

	got, err := p.Spend(s, t0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientEnergy))
	assert.Equal(t, 0.5, got.Amount, "state must not be charged")

	rej, ok := domain.RejectionOf(err)
	require.True(t, ok)
	assert.Equal(t, t0.Add(5*time.Second), rej.RetryAt)
}

func TestTimeToFull(t *testing.T) {
	p := newTestPool(t)
	assert.Equal(t, 1000*time.Second, p.TimeToFull(domain.EnergyState{LastUpdateAt: t0}, t0))
	assert.Equal(t, time.Duration(0), p.TimeToFull(p.Full(t0), t0))
}

func TestClickReward_Range(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		r := ClickReward(rng, 1.0)
		assert.GreaterOrEqual(t, r, int64(1))
		assert.LessOrEqual(t, r, int64(3))
	}
}

func TestClickReward_Multiplied(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		r := ClickReward(rng, 2.0)
		assert.Contains(t, []int64{2, 4, 6}, r)
	}
}

func TestNewPool_InvalidConfig(t *testing.T) {
	_, err := NewPool(Config{MaxEnergy: 10, RegenPerSecond: 0, Cost: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
