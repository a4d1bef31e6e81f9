package timing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/humancrawl/internal/behavior"
	"github.com/JakeFAU/humancrawl/internal/learning"
	"github.com/JakeFAU/humancrawl/internal/stats"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newModel(t *testing.T, seed uint64, withLearner bool) *Model {
	t.Helper()
	sampler := stats.NewSampler(stats.NewSeededSource(seed, seed+1))
	clock := fixedClock{t: time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)}
	session := behavior.NewSession(sampler, clock.Now())
	var learner *learning.Learner
	if withLearner {
		learner = learning.NewLearner(learning.DefaultConfig(), sampler)
	}
	return New(DefaultConfig(), session, sampler, learner, clock)
}

func TestReadingTimeStaysWithinAttentionBounds(t *testing.T) {
	t.Parallel()

	m := newModel(t, 11, true)
	cfg := DefaultConfig()
	pages := []PageMetrics{
		{},
		{WordCount: 50},
		{WordCount: 1200, ImageCount: 4, Complexity: 0.5},
		{WordCount: 200000, ImageCount: 300, Complexity: 1},
	}
	for i := 0; i < 1000; i++ {
		if i%10 == 0 {
			m.ResetSession()
		}
		mult := m.Session().Profile().AttentionSpanMult
		lo := time.Duration(cfg.MinAttention.Seconds() * mult * 0.65 * float64(time.Second))
		hi := time.Duration(cfg.MaxAttention.Seconds() * mult * 1.25 * float64(time.Second))
		got := m.ReadingTime(pages[i%len(pages)])
		require.GreaterOrEqual(t, got, lo)
		require.LessOrEqual(t, got, hi)
	}
}

func TestReadingTimeAdvancesFatigue(t *testing.T) {
	t.Parallel()

	m := newModel(t, 3, false)
	require.Zero(t, m.Session().Fatigue())
	m.ReadingTime(PageMetrics{WordCount: 300})
	require.InDelta(t, behavior.FatigueStep, m.Session().Fatigue(), 1e-9)
	for i := 0; i < 20; i++ {
		m.ReadingTime(PageMetrics{WordCount: 300})
	}
	require.Equal(t, 1.0, m.Session().Fatigue())

	m.ResetSession()
	require.Zero(t, m.Session().Fatigue())
}

func TestInterRequestDelayFloor(t *testing.T) {
	t.Parallel()

	m := newModel(t, 5, true)
	actions := []Action{Navigate, Search, Click, Scroll, Form, Action("unknown")}
	for i := 0; i < 2000; i++ {
		d := m.InterRequestDelay(actions[i%len(actions)])
		require.GreaterOrEqual(t, d, 200*time.Millisecond)
	}
}

func TestInterRequestDelayFloorSurvivesLowScale(t *testing.T) {
	t.Parallel()

	m := newModel(t, 11, true)
	m.SetScale(0.25)
	actions := []Action{Navigate, Click, Scroll}
	for i := 0; i < 3000; i++ {
		d := m.InterRequestDelay(actions[i%len(actions)])
		require.GreaterOrEqual(t, d, 200*time.Millisecond)
	}
}

func TestScaleZeroDisablesPacing(t *testing.T) {
	t.Parallel()

	m := newModel(t, 9, false)
	m.SetScale(0)
	require.Zero(t, m.InterRequestDelay(Navigate))
	require.Zero(t, m.ReadingTime(PageMetrics{WordCount: 500}))

	m.SetScale(-1)
	require.Zero(t, m.Scale())
}

func TestScaleMultipliesDelay(t *testing.T) {
	t.Parallel()

	a := newModel(t, 21, false)
	b := newModel(t, 21, false)
	b.SetScale(2)
	for i := 0; i < 50; i++ {
		da := a.InterRequestDelay(Form)
		db := b.InterRequestDelay(Form)
		require.InDelta(t, 2*da.Seconds(), db.Seconds(), 1e-6)
	}
}

func TestShouldContinueBrowsingBeforeFirstPage(t *testing.T) {
	t.Parallel()

	m := newModel(t, 1, true)
	require.True(t, m.ShouldContinueBrowsing())
}

func TestShouldContinueBrowsingEventuallyStops(t *testing.T) {
	t.Parallel()

	m := newModel(t, 17, true)
	stopped := false
	for i := 0; i < 200; i++ {
		m.Session().RecordPage(time.Second)
		if !m.ShouldContinueBrowsing() {
			stopped = true
			break
		}
	}
	require.True(t, stopped)
}

func TestLastDecisionRecorded(t *testing.T) {
	t.Parallel()

	m := newModel(t, 4, true)
	require.Empty(t, m.LastDecision().State)
	m.InterRequestDelay(Navigate)
	require.Equal(t, m.StateKey(), m.LastDecision().State)
}
