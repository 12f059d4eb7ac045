// Package iforest implements the Isolation Forest algorithm for anomaly detection.
package iforest

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"
)

// eulerGamma is the Euler-Mascheroni constant used by the harmonic approximation.
const eulerGamma = 0.5772156649015329

var (
	// ErrEmptyData is returned when Fit receives no samples.
	ErrEmptyData = errors.New("empty training data")
	// ErrNotTrained is returned when scoring before a successful Fit.
	ErrNotTrained = errors.New("model not trained")
	// ErrFeatureMismatch is returned when a sample has the wrong width.
	ErrFeatureMismatch = errors.New("feature count mismatch")
	// ErrNoTrees is returned when the forest is configured with fewer than one tree.
	ErrNoTrees = errors.New("forest needs at least one tree")
)

// IsolationForest implements unsupervised anomaly detection using isolation trees.
type IsolationForest struct {
	mu sync.RWMutex

	// Configuration
	nTrees        int
	sampleSize    int
	contamination float64
	seed          int64

	// Trained model
	trees     []*iTree
	nFeatures int
	trained   bool
	threshold float64

	// trainScores are the raw scores of the last training set.
	trainScores []float64

	// avgPathLength is c(psi) for the subsample size used in the last fit.
	avgPathLength float64
}

// iTree represents a single isolation tree.
type iTree struct {
	root *node
}

// node is a node in the isolation tree.
type node struct {
	splitFeature int
	splitValue   float64

	left  *node
	right *node

	// size is the number of training samples that reached this leaf.
	size int
}

func (n *node) isLeaf() bool {
	return n.left == nil && n.right == nil
}

// Option configures an IsolationForest.
type Option func(*IsolationForest)

// WithTrees sets the number of isolation trees.
func WithTrees(n int) Option {
	return func(f *IsolationForest) {
		f.nTrees = n
	}
}

// WithSampleSize sets the maximum subsample size for each tree.
func WithSampleSize(n int) Option {
	return func(f *IsolationForest) {
		f.sampleSize = n
	}
}

// WithContamination sets the expected proportion of anomalies.
func WithContamination(c float64) Option {
	return func(f *IsolationForest) {
		f.contamination = c
	}
}

// WithSeed sets the random seed. Every Fit restarts from this seed.
func WithSeed(seed int64) Option {
	return func(f *IsolationForest) {
		f.seed = seed
	}
}

// New creates a new IsolationForest with the given options.
func New(opts ...Option) *IsolationForest {
	f := &IsolationForest{
		nTrees:        100,
		sampleSize:    256,
		contamination: 0.1,
		seed:          42,
		threshold:     0.5,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fit trains the Isolation Forest on the provided data, discarding any
// previous model.
func (f *IsolationForest) Fit(data [][]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.nTrees < 1 {
		return ErrNoTrees
	}
	if len(data) == 0 {
		return ErrEmptyData
	}

	nSamples := len(data)
	nFeatures := len(data[0])
	for _, row := range data {
		if len(row) != nFeatures {
			return ErrFeatureMismatch
		}
	}

	psi := f.sampleSize
	if psi > nSamples || psi <= 0 {
		psi = nSamples
	}
	maxDepth := int(math.Ceil(math.Log2(math.Max(float64(psi), 2))))

	rng := rand.New(rand.NewSource(f.seed))

	f.trees = make([]*iTree, f.nTrees)
	for i := 0; i < f.nTrees; i++ {
		// Sample without replacement
		indices := rng.Perm(nSamples)[:psi]
		sample := make([][]float64, psi)
		for j, idx := range indices {
			sample[j] = data[idx]
		}

		f.trees[i] = &iTree{root: buildNode(rng, sample, nFeatures, 0, maxDepth)}
	}

	f.nFeatures = nFeatures
	f.avgPathLength = averagePathLength(float64(psi))
	f.trained = true

	anomaly := f.anomalyScores(data)
	f.threshold = 0.5
	if f.contamination > 0 {
		f.threshold = percentile(anomaly, 100*(1-f.contamination))
	}
	for i := range anomaly {
		anomaly[i] = -anomaly[i]
	}
	f.trainScores = anomaly

	return nil
}

func buildNode(rng *rand.Rand, data [][]float64, nFeatures, depth, maxDepth int) *node {
	n := len(data)

	if depth >= maxDepth || n <= 1 {
		return &node{size: n}
	}

	feature := rng.Intn(nFeatures)

	minVal, maxVal := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		if row[feature] < minVal {
			minVal = row[feature]
		}
		if row[feature] > maxVal {
			maxVal = row[feature]
		}
	}

	// Nothing left to isolate on this feature
	if minVal == maxVal {
		return &node{size: n}
	}

	splitValue := minVal + rng.Float64()*(maxVal-minVal)

	var leftData, rightData [][]float64
	for _, row := range data {
		if row[feature] < splitValue {
			leftData = append(leftData, row)
		} else {
			rightData = append(rightData, row)
		}
	}

	return &node{
		splitFeature: feature,
		splitValue:   splitValue,
		left:         buildNode(rng, leftData, nFeatures, depth+1, maxDepth),
		right:        buildNode(rng, rightData, nFeatures, depth+1, maxDepth),
	}
}

// ScoreSamples returns the raw score of each sample: the negated anomaly
// score, so lower values are more anomalous.
func (f *IsolationForest) ScoreSamples(data [][]float64) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := f.check(data); err != nil {
		return nil, err
	}

	scores := f.anomalyScores(data)
	for i := range scores {
		scores[i] = -scores[i]
	}
	return scores, nil
}

func (f *IsolationForest) check(data [][]float64) error {
	if !f.trained {
		return ErrNotTrained
	}
	for _, row := range data {
		if len(row) != f.nFeatures {
			return ErrFeatureMismatch
		}
	}
	return nil
}

func (f *IsolationForest) anomalyScores(data [][]float64) []float64 {
	scores := make([]float64, len(data))
	for i, sample := range data {
		scores[i] = f.anomalyScore(sample)
	}
	return scores
}

// anomalyScore computes 2^(-E[h(x)] / c(psi)).
func (f *IsolationForest) anomalyScore(sample []float64) float64 {
	if f.avgPathLength == 0 {
		// A single-sample subsample carries no isolation information.
		return 0.5
	}

	var totalPath float64
	for _, tree := range f.trees {
		totalPath += pathLength(sample, tree.root, 0)
	}
	avgPath := totalPath / float64(len(f.trees))

	return math.Pow(2, -avgPath/f.avgPathLength)
}

// pathLength calculates the path length for a sample in a tree.
func pathLength(sample []float64, n *node, currentDepth int) float64 {
	if n.isLeaf() {
		// Leaf node: add expected path length for remaining isolation
		return float64(currentDepth) + averagePathLength(float64(n.size))
	}

	if sample[n.splitFeature] < n.splitValue {
		return pathLength(sample, n.left, currentDepth+1)
	}
	return pathLength(sample, n.right, currentDepth+1)
}

// averagePathLength returns c(n), the average path length of an unsuccessful
// search in a binary search tree of n nodes.
func averagePathLength(n float64) float64 {
	switch {
	case n <= 1:
		return 0
	case n <= 2:
		return 1
	}
	return 2*(math.Log(n-1)+eulerGamma) - 2*(n-1)/n
}

// Trained reports whether Fit has completed at least once.
func (f *IsolationForest) Trained() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.trained
}

// TrainingScores returns a copy of the raw scores the last Fit computed for
// its own training set, in input order.
func (f *IsolationForest) TrainingScores() []float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]float64, len(f.trainScores))
	copy(out, f.trainScores)
	return out
}

// Threshold returns the anomaly score, in [0, 1], at or above which a sample
// is an outlier. With contamination c it is the (1-c) quantile of the
// training set's anomaly scores; with zero contamination it is 0.5.
func (f *IsolationForest) Threshold() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.threshold
}

// IsOutlier reports whether a raw score from ScoreSamples falls at or beyond
// the threshold.
func (f *IsolationForest) IsOutlier(raw float64) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return -raw >= f.threshold
}

// percentile returns the p-th percentile of data using nearest-rank on the
// sorted copy.
func percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}

	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	idx := int(float64(len(sorted)-1) * p / 100)
	return sorted[idx]
}
