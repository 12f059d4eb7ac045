// Package detectors provides unsupervised anomaly detection algorithms.
package detectors

// SignalDetector scores a single scalar behavior signal against a baseline
// window. Implementations own their own scaling and model state.
type SignalDetector interface {
	// Train refits the detector on the full history. It reports false and
	// leaves the detector untrained when the history is too short.
	Train(history []float64) (bool, error)

	// Predict maps a raw value to an anomaly score in [0, 100].
	// Untrained detectors return NeutralScore.
	Predict(value float64) (float64, error)

	// Trained reports whether the last Train call produced a model.
	Trained() bool
}

// OutlierScorer is a SignalDetector that can also flag a value against the
// contamination cut-off of its last fit, in the same scoring pass.
type OutlierScorer interface {
	SignalDetector

	// Score returns what Predict would, plus whether the value is an
	// outlier. Untrained detectors never flag.
	Score(value float64) (score float64, outlier bool, err error)
}

// Factory builds a fresh SignalDetector for a new user profile.
type Factory func() SignalDetector

const (
	// NeutralScore is returned by untrained signal detectors.
	NeutralScore = 50.0
	// MinTrainingSamples is the shortest history a signal detector trains on.
	MinTrainingSamples = 10
)

// Config holds common configuration for detectors.
type Config struct {
	// Trees is the ensemble size.
	Trees int `koanf:"trees" validate:"gte=1"`
	// SampleSize caps the subsample drawn for each tree.
	SampleSize int `koanf:"sample_size" validate:"gte=2"`
	// Contamination is the expected proportion of anomalies in training data.
	Contamination float64 `koanf:"contamination" validate:"gte=0,lt=0.5"`
	// RandomSeed for reproducibility.
	RandomSeed int64 `koanf:"seed"`
	// Normalization selects how raw scores are mapped to [0, 100].
	Normalization string `koanf:"normalization" validate:"oneof=batch training"`
}

// DefaultConfig returns the detector configuration used for behavior signals.
func DefaultConfig() Config {
	return Config{
		Trees:         100,
		SampleSize:    256,
		Contamination: 0.1,
		RandomSeed:    42,
		Normalization: "batch",
	}
}
