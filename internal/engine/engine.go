// Package engine scores user sessions against per-user behavior baselines.
//
// Every Analyze call appends the sample to the user's baseline windows,
// refits each detector whose window has reached the training threshold,
// scores the sample per signal and fuses the scores into a recommendation.
// Calls for the same user are serialized; different users run in parallel.
package engine

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hed1ad/safestride/internal/metrics"
	"github.com/hed1ad/safestride/internal/profile"
	"github.com/hed1ad/safestride/pkg/detectors"
)

// ServiceName identifies the service in health reports.
const ServiceName = "SafeStride ML Service"

// Sample is one session's raw behavior counters.
type Sample struct {
	TypingInterval float64 `json:"typing_interval" validate:"gte=0"`
	MouseCount     int     `json:"mouse_count" validate:"gte=0"`
	ScrollCount    int     `json:"scroll_count" validate:"gte=0"`
}

func (s Sample) observation() profile.Observation {
	return profile.Observation{
		profile.SignalTyping: s.TypingInterval,
		profile.SignalMouse:  float64(s.MouseCount),
		profile.SignalScroll: float64(s.ScrollCount),
	}
}

// Analysis is the scored outcome of one sample. Scores are rounded to two
// decimals.
type Analysis struct {
	OverallScore   float64        `json:"overall_score"`
	TypingScore    float64        `json:"typing_score"`
	MouseScore     float64        `json:"mouse_score"`
	ScrollScore    float64        `json:"scroll_score"`
	Recommendation Recommendation `json:"recommendation"`
	Confidence     float64        `json:"confidence"`
	Factors        []string       `json:"factors"`
}

// ProfileInfo is the short profile view returned alongside an Analysis.
type ProfileInfo struct {
	UserID      string    `json:"user_id"`
	DataPoints  int       `json:"data_points"`
	LastUpdated time.Time `json:"last_updated"`
}

// Result is the output of Analyze.
type Result struct {
	Analysis Analysis    `json:"analysis"`
	Profile  ProfileInfo `json:"profile"`
}

// Health reports liveness and the number of tracked users.
type Health struct {
	Status      string    `json:"status"`
	Service     string    `json:"service"`
	Timestamp   time.Time `json:"timestamp"`
	ActiveUsers int       `json:"active_users"`
}

// Engine orchestrates per-user scoring over an injected profile store.
type Engine struct {
	store    *profile.Store
	logger   *zap.Logger
	metrics  *metrics.Metrics
	validate *validator.Validate
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock overrides the time source used for last_updated and health.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an Engine over store.
func New(store *profile.Store, opts ...Option) *Engine {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})

	e := &Engine{
		store:    store,
		logger:   zap.NewNop(),
		validate: v,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Analyze ingests sample into userID's baseline and scores it.
//
// Validation failures leave all state untouched. If retraining or scoring
// fails, the sample stays in the baseline and an internal error is returned.
func (e *Engine) Analyze(ctx context.Context, userID string, sample Sample) (res Result, err error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("analysis panicked", zap.String("user_id", userID), zap.Any("panic", r))
			res, err = Result{}, e.fail(internalError("analysis panicked", fmt.Errorf("%v", r)))
		}
	}()

	if err := ctx.Err(); err != nil {
		return Result{}, e.fail(internalError("request aborted", err))
	}
	if err := e.checkInput(userID, sample); err != nil {
		return Result{}, e.fail(err)
	}

	for {
		p, created := e.store.GetOrCreate(userID)
		if created {
			e.metrics.SetActiveProfiles(e.store.Len())
			e.logger.Info("profile created", zap.String("user_id", userID))
		}

		out, ok, aerr := e.analyzeProfile(p, sample)
		if !ok {
			// Deleted between lookup and lock; resolve a fresh profile.
			continue
		}
		if aerr != nil {
			e.logger.Error("analysis failed", zap.String("user_id", userID), zap.Error(aerr))
			return Result{}, e.fail(aerr)
		}

		e.metrics.ObserveAnalysis(time.Since(start), string(out.Analysis.Recommendation))
		e.logger.Debug("sample analyzed",
			zap.String("user_id", userID),
			zap.Float64("overall_score", out.Analysis.OverallScore),
			zap.String("recommendation", string(out.Analysis.Recommendation)),
			zap.Int("data_points", out.Profile.DataPoints))
		return out, nil
	}
}

// analyzeProfile runs analyzeLocked under p's lock. It reports false when p
// was deleted before the lock was taken.
func (e *Engine) analyzeProfile(p *profile.Profile, sample Sample) (Result, bool, *Error) {
	p.Lock()
	defer p.Unlock()

	if p.Deleted() {
		return Result{}, false, nil
	}
	res, err := e.analyzeLocked(p, sample)
	return res, true, err
}

func (e *Engine) analyzeLocked(p *profile.Profile, sample Sample) (Result, *Error) {
	obs := sample.observation()
	p.Append(obs)

	var scores profile.Observation
	for _, s := range profile.Signals {
		history := p.History(s)
		detector := p.Detector(s)

		if history.Len() >= detectors.MinTrainingSamples {
			trained, err := detector.Train(history.Values())
			if err != nil {
				return Result{}, internalError(fmt.Sprintf("train %s detector", s), err)
			}
			if trained {
				e.metrics.RecordTraining(s.String())
			}
		}

		score, outlier, err := scoreSignal(detector, obs[s])
		if err != nil {
			return Result{}, internalError(fmt.Sprintf("score %s signal", s), err)
		}
		if math.IsNaN(score) || math.IsInf(score, 0) {
			return Result{}, internalError(fmt.Sprintf("score %s signal", s), fmt.Errorf("non-finite score %v", score))
		}
		if outlier {
			e.metrics.RecordOutlier(s.String())
		}
		scores[s] = score
	}

	overall := Fuse(scores)
	dataPoints := p.DataPoints()
	lastUpdated := p.Touch(e.now())

	return Result{
		Analysis: Analysis{
			OverallScore:   round2(overall),
			TypingScore:    round2(scores[profile.SignalTyping]),
			MouseScore:     round2(scores[profile.SignalMouse]),
			ScrollScore:    round2(scores[profile.SignalScroll]),
			Recommendation: Recommend(overall),
			Confidence:     Confidence(p.History(profile.SignalTyping).Len()),
			Factors:        Factors(scores),
		},
		Profile: ProfileInfo{
			UserID:      p.ID(),
			DataPoints:  dataPoints,
			LastUpdated: lastUpdated,
		},
	}, nil
}

func scoreSignal(d detectors.SignalDetector, v float64) (float64, bool, error) {
	if scorer, ok := d.(detectors.OutlierScorer); ok {
		return scorer.Score(v)
	}
	score, err := d.Predict(v)
	return score, false, err
}

func (e *Engine) checkInput(userID string, sample Sample) *Error {
	if strings.TrimSpace(userID) == "" {
		return validationError("USER_ID_REQUIRED", "user_id is required")
	}
	if math.IsInf(sample.TypingInterval, 0) || math.IsNaN(sample.TypingInterval) {
		return validationError("INVALID_SAMPLE", "typing_interval must be a finite number")
	}
	if err := e.validate.Struct(sample); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			return validationError("INVALID_SAMPLE",
				fmt.Sprintf("%s must be >= %s", errs[0].Field(), errs[0].Param()))
		}
		return validationError("INVALID_SAMPLE", err.Error())
	}
	return nil
}

// ProfileSummary returns the detailed view of userID's profile.
func (e *Engine) ProfileSummary(ctx context.Context, userID string) (profile.Detail, error) {
	if err := ctx.Err(); err != nil {
		return profile.Detail{}, e.fail(internalError("request aborted", err))
	}
	p, ok := e.store.Get(userID)
	if !ok {
		return profile.Detail{}, e.fail(notFoundError(userID))
	}
	return p.Detail(), nil
}

// DeleteProfile removes userID's profile.
func (e *Engine) DeleteProfile(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return e.fail(internalError("request aborted", err))
	}
	if !e.store.Delete(userID) {
		return e.fail(notFoundError(userID))
	}
	e.metrics.SetActiveProfiles(e.store.Len())
	e.logger.Info("profile deleted", zap.String("user_id", userID))
	return nil
}

// ListProfiles summarizes every profile in insertion order.
func (e *Engine) ListProfiles(ctx context.Context) []profile.Summary {
	profiles := e.store.List()
	out := make([]profile.Summary, 0, len(profiles))
	for _, p := range profiles {
		if ctx.Err() != nil {
			break
		}
		sum := p.Summary()
		if sum.State == profile.StateDeleted.String() {
			continue
		}
		out = append(out, sum)
	}
	return out
}

// Health reports service status.
func (e *Engine) Health(_ context.Context) Health {
	return Health{
		Status:      "healthy",
		Service:     ServiceName,
		Timestamp:   e.now(),
		ActiveUsers: e.store.Len(),
	}
}

func (e *Engine) fail(err *Error) error {
	e.metrics.RecordError(string(err.Kind))
	return err
}
