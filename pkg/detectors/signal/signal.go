// Package signal scores scalar behavior signals with a standardized
// Isolation Forest that is refit on the full baseline window.
package signal

import (
	"errors"
	"fmt"
	"math"

	"github.com/hed1ad/safestride/pkg/detectors"
	"github.com/hed1ad/safestride/pkg/detectors/iforest"
	"github.com/hed1ad/safestride/pkg/preprocessing"
)

// epsilon keeps min-max normalization finite on a zero range.
const epsilon = 1e-8

// Policy selects the reference range used to map raw scores to [0, 100].
type Policy string

const (
	// PolicyBatch normalizes against the batch being scored. A single
	// prediction is its own min and max, so every trained score is 100.
	PolicyBatch Policy = "batch"
	// PolicyTraining normalizes against the raw scores of the last fit's
	// training window and clamps to [0, 100].
	PolicyTraining Policy = "training"
)

// ParsePolicy converts a configuration string into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyBatch, PolicyTraining:
		return p, nil
	case "":
		return PolicyBatch, nil
	}
	return "", fmt.Errorf("unknown normalization policy %q", s)
}

// ErrNonFinite is returned when a history or value is NaN or infinite.
var ErrNonFinite = errors.New("non-finite value")

var _ detectors.OutlierScorer = (*Detector)(nil)

// Detector is a univariate anomaly detector for one behavior signal.
type Detector struct {
	minSamples int
	policy     Policy
	forestOpts []iforest.Option

	scaler  *preprocessing.StandardScaler
	forest  *iforest.IsolationForest
	trained bool

	// Raw score range of the training window, used by PolicyTraining.
	trainMin float64
	trainMax float64
}

// Option configures a Detector.
type Option func(*Detector)

// WithPolicy sets the normalization policy.
func WithPolicy(p Policy) Option {
	return func(d *Detector) {
		d.policy = p
	}
}

// WithMinSamples overrides the training threshold.
func WithMinSamples(n int) Option {
	return func(d *Detector) {
		d.minSamples = n
	}
}

// WithForestOptions passes options through to the underlying forest.
func WithForestOptions(opts ...iforest.Option) Option {
	return func(d *Detector) {
		d.forestOpts = append(d.forestOpts, opts...)
	}
}

// New creates an untrained Detector. The forest defaults to 100 trees,
// contamination 0.1 and seed 42.
func New(opts ...Option) *Detector {
	d := &Detector{
		minSamples: detectors.MinTrainingSamples,
		policy:     PolicyBatch,
		forestOpts: []iforest.Option{
			iforest.WithTrees(100),
			iforest.WithContamination(0.1),
			iforest.WithSeed(42),
		},
		scaler: preprocessing.NewStandardScaler(),
	}

	for _, opt := range opts {
		opt(d)
	}

	d.forest = iforest.New(d.forestOpts...)
	return d
}

// NewFactory returns a Factory building detectors from cfg.
func NewFactory(cfg detectors.Config) (detectors.Factory, error) {
	policy, err := ParsePolicy(cfg.Normalization)
	if err != nil {
		return nil, err
	}

	return func() detectors.SignalDetector {
		return New(
			WithPolicy(policy),
			WithForestOptions(
				iforest.WithTrees(cfg.Trees),
				iforest.WithSampleSize(cfg.SampleSize),
				iforest.WithContamination(cfg.Contamination),
				iforest.WithSeed(cfg.RandomSeed),
			),
		)
	}, nil
}

// Train refits the scaler and forest from scratch on history.
func (d *Detector) Train(history []float64) (bool, error) {
	if len(history) < d.minSamples {
		d.reset()
		return false, nil
	}

	rows := make([][]float64, len(history))
	for i, v := range history {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			d.reset()
			return false, fmt.Errorf("history[%d]: %w", i, ErrNonFinite)
		}
		rows[i] = []float64{v}
	}

	scaled, err := d.scaler.FitTransform(rows)
	if err != nil {
		d.reset()
		return false, fmt.Errorf("fit scaler: %w", err)
	}

	if err := d.forest.Fit(scaled); err != nil {
		d.reset()
		return false, fmt.Errorf("fit forest: %w", err)
	}

	d.trainMin, d.trainMax = minMax(d.forest.TrainingScores())
	d.trained = true

	return true, nil
}

// Predict returns the anomaly score of value in [0, 100].
func (d *Detector) Predict(value float64) (float64, error) {
	score, _, err := d.Score(value)
	return score, err
}

// Score returns the anomaly score of value in [0, 100] and whether the
// forest's contamination threshold flags it.
func (d *Detector) Score(value float64) (float64, bool, error) {
	if !d.trained {
		return detectors.NeutralScore, false, nil
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false, ErrNonFinite
	}

	scaled, err := d.scaler.Transform([][]float64{{value}})
	if err != nil {
		return 0, false, fmt.Errorf("scale value: %w", err)
	}

	raw, err := d.forest.ScoreSamples(scaled)
	if err != nil {
		return 0, false, fmt.Errorf("score value: %w", err)
	}

	var lo, hi float64
	switch d.policy {
	case PolicyTraining:
		lo, hi = d.trainMin, d.trainMax
	default:
		lo, hi = minMax(raw)
	}

	score := 100 * (1 - (raw[0]-lo)/(hi-lo+epsilon))
	return math.Max(0, math.Min(100, score)), d.forest.IsOutlier(raw[0]), nil
}

// Trained reports whether the detector holds a fitted model.
func (d *Detector) Trained() bool {
	return d.trained
}

// Policy returns the configured normalization policy.
func (d *Detector) Policy() Policy {
	return d.policy
}

func (d *Detector) reset() {
	d.trained = false
	d.trainMin, d.trainMax = 0, 0
	d.scaler.Reset()
}

func minMax(values []float64) (float64, float64) {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}
