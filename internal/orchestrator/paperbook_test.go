package orchestrator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lp_sentinel/internal/capital"
	"lp_sentinel/internal/confidence"
	"lp_sentinel/internal/core"
	"lp_sentinel/internal/reversal"
)

func newTestBook(t *testing.T) (*paperBook, *capital.Manager, *reversal.Guard) {
	t.Helper()
	logger := &mockLogger{}
	mgr := capital.NewManager(capital.DefaultParams(), decimal.NewFromInt(10_000), logger, harnessStart)
	guard := reversal.NewGuard(reversal.Params{}, logger)
	tracker := confidence.NewTracker(confidence.Params{}, logger)
	return newPaperBook(mgr, guard, tracker, logger), mgr, guard
}

func TestPaperBook_AccruesFees(t *testing.T) {
	book, mgr, _ := newTestBook(t)
	book.Open("orca-sol-usdc", decimal.NewFromInt(400), harnessStart)
	require.True(t, book.Has("orca-sol-usdc"))
	require.True(t, mgr.PoolDeployment("orca-sol-usdc").Equal(decimal.NewFromInt(400)))

	book.Tick([]core.PoolSnapshot{healthyPool("orca-sol-usdc")}, harnessStart.Add(2*time.Hour))

	// 400 USD at 45% APR for two hours.
	assert.InDelta(t, 400*0.45*2/8760, book.PnlUSD().InexactFloat64(), 1e-6)
	assert.Equal(t, 1, book.OpenCount())
	executed, forced := book.ExitStats()
	assert.Zero(t, executed)
	assert.Zero(t, forced)
}

func TestPaperBook_HardHealthExitIsImmediate(t *testing.T) {
	book, mgr, guard := newTestBook(t)
	book.Open("orca-sol-usdc", decimal.NewFromInt(400), harnessStart)

	collapsed := healthyPool("orca-sol-usdc")
	collapsed.HealthScore = 0.15
	book.Tick([]core.PoolSnapshot{collapsed}, harnessStart.Add(30*time.Second))

	assert.Equal(t, 0, book.OpenCount())
	executed, forced := book.ExitStats()
	assert.Equal(t, 1, executed)
	assert.Equal(t, 0, forced)
	assert.True(t, mgr.PoolDeployment("orca-sol-usdc").IsZero())

	inCooldown, remaining := guard.IsInCooldown("orca-sol-usdc", harnessStart.Add(30*time.Second))
	assert.True(t, inCooldown)
	assert.Greater(t, remaining.Seconds(), 0.0)
}

func TestPaperBook_SoftExitNeedsTwoSignals(t *testing.T) {
	book, _, _ := newTestBook(t)
	book.Open("orca-sol-usdc", decimal.NewFromInt(400), harnessStart)

	decayed := healthyPool("orca-sol-usdc")
	decayed.HealthScore = 0.30

	book.Tick([]core.PoolSnapshot{decayed}, harnessStart.Add(30*time.Second))
	assert.Equal(t, 1, book.OpenCount(), "first signal is held")

	book.Tick([]core.PoolSnapshot{decayed}, harnessStart.Add(time.Minute))
	assert.Equal(t, 0, book.OpenCount())
	executed, forced := book.ExitStats()
	assert.Equal(t, 1, executed)
	assert.Equal(t, 0, forced)
}

func TestPaperBook_RecoveryResetsPatience(t *testing.T) {
	book, _, _ := newTestBook(t)
	book.Open("orca-sol-usdc", decimal.NewFromInt(400), harnessStart)

	decayed := healthyPool("orca-sol-usdc")
	decayed.HealthScore = 0.30

	book.Tick([]core.PoolSnapshot{decayed}, harnessStart.Add(30*time.Second))
	book.Tick([]core.PoolSnapshot{healthyPool("orca-sol-usdc")}, harnessStart.Add(time.Minute))
	book.Tick([]core.PoolSnapshot{decayed}, harnessStart.Add(90*time.Second))

	assert.Equal(t, 1, book.OpenCount(), "non-consecutive signals do not exit")
}

func TestPaperBook_MissingPoolForcesExit(t *testing.T) {
	book, mgr, _ := newTestBook(t)
	book.Open("ray-bonk-sol", decimal.NewFromInt(400), harnessStart)

	book.Tick(nil, harnessStart.Add(30*time.Second))
	assert.Equal(t, 1, book.OpenCount(), "one dark cycle is tolerated")

	book.Tick(nil, harnessStart.Add(time.Minute))
	assert.Equal(t, 0, book.OpenCount())
	executed, forced := book.ExitStats()
	assert.Equal(t, 0, executed)
	assert.Equal(t, 1, forced)
	assert.True(t, mgr.PoolDeployment("ray-bonk-sol").IsZero())
}
