package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/safestride/internal/metrics"
	"github.com/hed1ad/safestride/internal/profile"
	"github.com/hed1ad/safestride/pkg/detectors"
	"github.com/hed1ad/safestride/pkg/detectors/signal"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestEngine(t *testing.T, factory detectors.Factory, opts ...Option) (*Engine, *profile.Store) {
	t.Helper()
	if factory == nil {
		factory = func() detectors.SignalDetector { return signal.New() }
	}
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := profile.NewStore(factory, profile.WithClock(clock.Now))
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(store, opts...), store
}

func typingValues(t *testing.T, store *profile.Store, userID string) []float64 {
	t.Helper()
	p, ok := store.Get(userID)
	require.True(t, ok)
	p.Lock()
	defer p.Unlock()
	return p.History(profile.SignalTyping).Values()
}

func TestAnalyzeUntrainedBaseline(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	var res Result
	var err error
	for i := 0; i < 9; i++ {
		res, err = e.Analyze(ctx, "alice", Sample{TypingInterval: 250})
		require.NoError(t, err)
	}

	a := res.Analysis
	assert.Equal(t, 50.0, a.TypingScore)
	assert.Equal(t, 50.0, a.MouseScore)
	assert.Equal(t, 50.0, a.ScrollScore)
	assert.Equal(t, 50.0, a.OverallScore)
	// The neutral default lands in the middle tier.
	assert.Equal(t, RecommendReauthenticate, a.Recommendation)
	assert.Equal(t, 0.6, a.Confidence)
	assert.Equal(t, []string{
		"Typing anomaly: 50.0%",
		"Mouse activity anomaly: 50.0%",
		"Scroll pattern anomaly: 50.0%",
	}, a.Factors)
	assert.Equal(t, 9, res.Profile.DataPoints)
	assert.Equal(t, "alice", res.Profile.UserID)
}

func TestAnalyzeTrainsAtThreshold(t *testing.T) {
	e, store := newTestEngine(t, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		interval := 100.0
		if i%2 == 1 {
			interval = 400
		}
		_, err := e.Analyze(ctx, "bob", Sample{TypingInterval: interval})
		require.NoError(t, err)
	}

	p, ok := store.Get("bob")
	require.True(t, ok)
	p.Lock()
	assert.True(t, p.Detector(profile.SignalTyping).Trained())
	assert.Equal(t, profile.StateActive, p.State())
	p.Unlock()

	res, err := e.Analyze(ctx, "bob", Sample{TypingInterval: 100})
	require.NoError(t, err)

	a := res.Analysis
	assert.GreaterOrEqual(t, a.TypingScore, 0.0)
	assert.LessOrEqual(t, a.TypingScore, 100.0)
	assert.NotEqual(t, detectors.NeutralScore, a.TypingScore)
	// Batch normalization over a single value always yields the maximum.
	assert.Equal(t, 100.0, a.TypingScore)
	assert.Equal(t, 100.0, a.OverallScore)
	assert.Equal(t, RecommendLock, a.Recommendation)
}

func TestAnalyzeTrainingPolicy(t *testing.T) {
	factory, err := signal.NewFactory(detectors.Config{
		Trees:         100,
		SampleSize:    256,
		Contamination: 0.1,
		RandomSeed:    42,
		Normalization: "training",
	})
	require.NoError(t, err)
	e, _ := newTestEngine(t, factory)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		_, err := e.Analyze(ctx, "carol", Sample{
			TypingInterval: 240 + float64(i%5)*5,
			MouseCount:     10 + i%3,
			ScrollCount:    2 + i%2,
		})
		require.NoError(t, err)
	}

	res, err := e.Analyze(ctx, "carol", Sample{TypingInterval: 250, MouseCount: 11, ScrollCount: 2})
	require.NoError(t, err)
	for _, s := range []float64{res.Analysis.TypingScore, res.Analysis.MouseScore, res.Analysis.ScrollScore, res.Analysis.OverallScore} {
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 100.0)
	}
	assert.Equal(t, Recommend(res.Analysis.OverallScore), res.Analysis.Recommendation)
}

func TestAnalyzeWindowEviction(t *testing.T) {
	e, store := newTestEngine(t, nil)
	ctx := context.Background()

	for i := 1; i <= 150; i++ {
		_, err := e.Analyze(ctx, "dave", Sample{TypingInterval: float64(i)})
		require.NoError(t, err)
	}

	got := typingValues(t, store, "dave")
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, float64(51+i), v)
	}
}

func TestAnalyzeConfidence(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	var res Result
	var err error
	for i := 0; i < 19; i++ {
		res, err = e.Analyze(ctx, "erin", Sample{TypingInterval: 200})
		require.NoError(t, err)
	}
	assert.Equal(t, 0.6, res.Analysis.Confidence)

	res, err = e.Analyze(ctx, "erin", Sample{TypingInterval: 200})
	require.NoError(t, err)
	assert.Equal(t, 0.85, res.Analysis.Confidence)
}

func TestAnalyzeValidation(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		sample Sample
		code   string
	}{
		{name: "missing user_id", userID: "", sample: Sample{TypingInterval: 250}, code: "USER_ID_REQUIRED"},
		{name: "blank user_id", userID: "  ", sample: Sample{TypingInterval: 250}, code: "USER_ID_REQUIRED"},
		{name: "negative typing", userID: "x", sample: Sample{TypingInterval: -1}, code: "INVALID_SAMPLE"},
		{name: "negative mouse", userID: "x", sample: Sample{MouseCount: -3}, code: "INVALID_SAMPLE"},
		{name: "negative scroll", userID: "x", sample: Sample{ScrollCount: -1}, code: "INVALID_SAMPLE"},
		{name: "nan typing", userID: "x", sample: Sample{TypingInterval: math.NaN()}, code: "INVALID_SAMPLE"},
		{name: "infinite typing", userID: "x", sample: Sample{TypingInterval: math.Inf(1)}, code: "INVALID_SAMPLE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, store := newTestEngine(t, nil)
			ctx := context.Background()
			before := len(e.ListProfiles(ctx))

			_, err := e.Analyze(ctx, tt.userID, tt.sample)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Equal(t, KindValidation, KindOf(err))

			var engErr *Error
			require.True(t, errors.As(err, &engErr))
			assert.Equal(t, tt.code, engErr.Code)

			assert.Len(t, e.ListProfiles(ctx), before)
			assert.Equal(t, 0, store.Len())
		})
	}
}

func TestAnalyzeValidationMessage(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	_, err := e.Analyze(context.Background(), "", Sample{})
	assert.EqualError(t, err, "user_id is required")

	_, err = e.Analyze(context.Background(), "u", Sample{MouseCount: -1})
	assert.EqualError(t, err, "mouse_count must be >= 0")
}

type brokenDetector struct{}

func (brokenDetector) Train([]float64) (bool, error) { return false, errors.New("boom") }
func (brokenDetector) Predict(float64) (float64, error) { return detectors.NeutralScore, nil }
func (brokenDetector) Trained() bool                    { return false }

func TestAnalyzeInternalErrorKeepsHistory(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	e, store := newTestEngine(t, func() detectors.SignalDetector { return brokenDetector{} }, WithMetrics(m))
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		_, err := e.Analyze(ctx, "frank", Sample{TypingInterval: 250})
		require.NoError(t, err)
	}

	_, err := e.Analyze(ctx, "frank", Sample{TypingInterval: 250})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInternal)
	assert.ErrorContains(t, err, "boom")

	assert.Len(t, typingValues(t, store, "frank"), 10)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("internal")))
}

type fixedDetector struct{ score float64 }

func (d fixedDetector) Train([]float64) (bool, error)    { return true, nil }
func (d fixedDetector) Predict(float64) (float64, error) { return d.score, nil }
func (d fixedDetector) Trained() bool                    { return true }

type panickingDetector struct{}

func (panickingDetector) Train([]float64) (bool, error)    { return false, nil }
func (panickingDetector) Predict(float64) (float64, error) { panic("detector exploded") }
func (panickingDetector) Trained() bool                    { return false }

func TestAnalyzeFaultsReleaseProfile(t *testing.T) {
	tests := []struct {
		name    string
		factory detectors.Factory
		wantMsg string
	}{
		{
			name:    "positive infinity",
			factory: func() detectors.SignalDetector { return fixedDetector{score: math.Inf(1)} },
			wantMsg: "non-finite score",
		},
		{
			name:    "negative infinity",
			factory: func() detectors.SignalDetector { return fixedDetector{score: math.Inf(-1)} },
			wantMsg: "non-finite score",
		},
		{
			name:    "NaN",
			factory: func() detectors.SignalDetector { return fixedDetector{score: math.NaN()} },
			wantMsg: "non-finite score",
		},
		{
			name:    "panic",
			factory: func() detectors.SignalDetector { return panickingDetector{} },
			wantMsg: "detector exploded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := prometheus.NewRegistry()
			m := metrics.New(reg)
			e, _ := newTestEngine(t, tt.factory, WithMetrics(m))
			ctx := context.Background()

			_, err := e.Analyze(ctx, "hank", Sample{TypingInterval: 250})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInternal)
			assert.ErrorContains(t, err, tt.wantMsg)
			assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("internal")))

			// The profile lock must have been released.
			done := make(chan struct{})
			go func() {
				defer close(done)
				_, _ = e.ProfileSummary(ctx, "hank")
				_ = e.ListProfiles(ctx)
				_, _ = e.Analyze(ctx, "hank", Sample{TypingInterval: 250})
			}()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("profile stayed locked after a failed analysis")
			}
		})
	}
}

func TestAnalyzeCountsOutliers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	e, _ := newTestEngine(t, nil, WithMetrics(m))
	ctx := context.Background()

	for i := 0; i < 40; i++ {
		_, err := e.Analyze(ctx, "ivy", Sample{TypingInterval: 240 + float64(i%5)*5, MouseCount: 10, ScrollCount: 2})
		require.NoError(t, err)
	}
	before := testutil.ToFloat64(m.Outliers.WithLabelValues("typing"))

	_, err := e.Analyze(ctx, "ivy", Sample{TypingInterval: 5000, MouseCount: 10, ScrollCount: 2})
	require.NoError(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(m.Outliers.WithLabelValues("typing")))
}

func TestAnalyzeCanceledContext(t *testing.T) {
	e, store := newTestEngine(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Analyze(ctx, "gina", Sample{})
	assert.ErrorIs(t, err, ErrInternal)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, store.Len())
}

func TestAnalyzeConcurrentSameUser(t *testing.T) {
	e, store := newTestEngine(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Analyze(ctx, "hank", Sample{TypingInterval: float64(200 + i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Len(t, typingValues(t, store, "hank"), 40)

	p, _ := store.Get("hank")
	p.Lock()
	defer p.Unlock()
	for _, s := range profile.Signals {
		assert.Equal(t, 40, p.History(s).Len(), s.String())
	}
}

func TestAnalyzeConcurrentUsers(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for u := 0; u < 8; u++ {
		wg.Add(1)
		go func(u int) {
			defer wg.Done()
			for i := 0; i < 12; i++ {
				_, err := e.Analyze(ctx, fmt.Sprintf("user-%d", u), Sample{TypingInterval: 200, MouseCount: i})
				assert.NoError(t, err)
			}
		}(u)
	}
	wg.Wait()

	list := e.ListProfiles(ctx)
	assert.Len(t, list, 8)
	for _, s := range list {
		assert.Equal(t, 12, s.DataPoints)
	}
}

func TestLastUpdatedMonotonic(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	first, err := e.Analyze(ctx, "ivy", Sample{})
	require.NoError(t, err)
	second, err := e.Analyze(ctx, "ivy", Sample{})
	require.NoError(t, err)

	assert.True(t, second.Profile.LastUpdated.After(first.Profile.LastUpdated))

	detail, err := e.ProfileSummary(ctx, "ivy")
	require.NoError(t, err)
	assert.Equal(t, second.Profile.LastUpdated, detail.LastUpdated)
	assert.True(t, detail.CreatedAt.Before(detail.LastUpdated))
}

func TestProfileOperations(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := e.ProfileSummary(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, e.DeleteProfile(ctx, "nobody"), ErrNotFound)
	assert.Empty(t, e.ListProfiles(ctx), "reads never create profiles")

	for _, id := range []string{"u1", "u2", "u3"} {
		_, err := e.Analyze(ctx, id, Sample{TypingInterval: 100, MouseCount: 4, ScrollCount: 2})
		require.NoError(t, err)
	}
	_, err = e.Analyze(ctx, "u2", Sample{TypingInterval: 300, MouseCount: 6, ScrollCount: 2})
	require.NoError(t, err)

	detail, err := e.ProfileSummary(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 2, detail.DataPoints)
	assert.Equal(t, profile.Stats{Mean: 200, Std: 100, Count: 2}, detail.Baseline["typing_intervals"])
	assert.Equal(t, profile.Stats{Mean: 5, Std: 1, Count: 2}, detail.Baseline["mouse_movements"])

	assert.Equal(t, 3, e.Health(ctx).ActiveUsers)

	require.NoError(t, e.DeleteProfile(ctx, "u2"))
	var ids []string
	for _, s := range e.ListProfiles(ctx) {
		ids = append(ids, s.UserID)
	}
	assert.Equal(t, []string{"u1", "u3"}, ids)

	h := e.Health(ctx)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, ServiceName, h.Service)
	assert.Equal(t, 2, h.ActiveUsers)
}

func TestAnalyzeRecreatesDeletedProfile(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := e.Analyze(ctx, "jo", Sample{})
		require.NoError(t, err)
	}
	require.NoError(t, e.DeleteProfile(ctx, "jo"))

	res, err := e.Analyze(ctx, "jo", Sample{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Profile.DataPoints)
}

func BenchmarkAnalyzeActiveProfile(b *testing.B) {
	store := profile.NewStore(func() detectors.SignalDetector { return signal.New() })
	e := New(store)
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		_, _ = e.Analyze(ctx, "bench", Sample{TypingInterval: float64(200 + i%50), MouseCount: i % 7})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Analyze(ctx, "bench", Sample{TypingInterval: 230, MouseCount: 3})
	}
}
