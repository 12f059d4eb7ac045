// Package preprocessing provides feature transforms applied before model fitting.
package preprocessing

import (
	"errors"
	"math"
)

// ErrNotFitted is returned when transforming with an unfitted scaler.
var ErrNotFitted = errors.New("scaler not fitted")

// StandardScaler standardizes each feature to zero mean and unit variance.
// Features with zero variance keep a scale of 1 so they map to 0.
type StandardScaler struct {
	mean   []float64
	scale  []float64
	fitted bool
}

// NewStandardScaler returns an unfitted scaler.
func NewStandardScaler() *StandardScaler {
	return &StandardScaler{}
}

// Fit computes per-feature mean and population standard deviation.
func (s *StandardScaler) Fit(data [][]float64) error {
	if len(data) == 0 {
		return errors.New("empty data")
	}

	nFeatures := len(data[0])
	mean := make([]float64, nFeatures)
	scale := make([]float64, nFeatures)

	for _, row := range data {
		if len(row) != nFeatures {
			return errors.New("feature count mismatch")
		}
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(len(data))
	for j := range mean {
		mean[j] /= n
	}

	for _, row := range data {
		for j, v := range row {
			d := v - mean[j]
			scale[j] += d * d
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / n)
		if scale[j] == 0 {
			scale[j] = 1
		}
	}

	s.mean, s.scale, s.fitted = mean, scale, true
	return nil
}

// Transform returns a standardized copy of data.
func (s *StandardScaler) Transform(data [][]float64) ([][]float64, error) {
	if !s.fitted {
		return nil, ErrNotFitted
	}

	out := make([][]float64, len(data))
	for i, row := range data {
		if len(row) != len(s.mean) {
			return nil, errors.New("feature count mismatch")
		}
		out[i] = make([]float64, len(row))
		for j, v := range row {
			out[i][j] = (v - s.mean[j]) / s.scale[j]
		}
	}
	return out, nil
}

// FitTransform fits the scaler and transforms data in one step.
func (s *StandardScaler) FitTransform(data [][]float64) ([][]float64, error) {
	if err := s.Fit(data); err != nil {
		return nil, err
	}
	return s.Transform(data)
}

// Reset discards the fitted statistics.
func (s *StandardScaler) Reset() {
	s.mean, s.scale, s.fitted = nil, nil, false
}

// Mean returns the fitted per-feature means.
func (s *StandardScaler) Mean() []float64 {
	return append([]float64(nil), s.mean...)
}

// Scale returns the fitted per-feature scales.
func (s *StandardScaler) Scale() []float64 {
	return append([]float64(nil), s.scale...)
}
