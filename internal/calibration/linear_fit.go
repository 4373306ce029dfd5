package calibration

import (
	"errors"

	"gonum.org/v1/gonum/stat"
)

// ErrInsufficientPoints is returned when fewer than two distinct fixation
// pairs have been collected on an axis.
var ErrInsufficientPoints = errors.New("at least two distinct fixation points are required")

// LinearFit collects (raw, pixel) fixation pairs and solves
//
//	pixel = a0 + a1 * raw
//
// per axis by ordinary least squares. The solution is reported for
// inspection only; Apply does not use it.
type LinearFit struct {
	rawX, pixX []float64
	rawY, pixY []float64
}

// LinearModel holds the per-axis intercept and slope of a fit.
type LinearModel struct {
	InterceptX float64 `json:"intercept_x"`
	SlopeX     float64 `json:"slope_x"`
	InterceptY float64 `json:"intercept_y"`
	SlopeY     float64 `json:"slope_y"`
	Points     int     `json:"points"`
}

// Add records one fixation pair.
func (f *LinearFit) Add(raw Point, target Target) {
	f.rawX = append(f.rawX, raw.X)
	f.pixX = append(f.pixX, target.FixateX)
	f.rawY = append(f.rawY, raw.Y)
	f.pixY = append(f.pixY, target.FixateY)
}

// Len returns the number of collected pairs.
func (f *LinearFit) Len() int { return len(f.rawX) }

// Clone returns a copy of f with its own storage.
func (f *LinearFit) Clone() LinearFit {
	return LinearFit{
		rawX: append([]float64(nil), f.rawX...),
		pixX: append([]float64(nil), f.pixX...),
		rawY: append([]float64(nil), f.rawY...),
		pixY: append([]float64(nil), f.pixY...),
	}
}

// Reset discards all collected pairs.
func (f *LinearFit) Reset() {
	f.rawX, f.pixX = nil, nil
	f.rawY, f.pixY = nil, nil
}

// Solve fits both axes.
func (f *LinearFit) Solve() (LinearModel, error) {
	if !distinct(f.rawX) || !distinct(f.rawY) {
		return LinearModel{}, ErrInsufficientPoints
	}
	ax, bx := stat.LinearRegression(f.rawX, f.pixX, nil, false)
	ay, by := stat.LinearRegression(f.rawY, f.pixY, nil, false)
	return LinearModel{
		InterceptX: ax,
		SlopeX:     bx,
		InterceptY: ay,
		SlopeY:     by,
		Points:     len(f.rawX),
	}, nil
}

func distinct(v []float64) bool {
	for i := 1; i < len(v); i++ {
		if v[i] != v[0] {
			return true
		}
	}
	return false
}
