package syncstream

import (
	"fmt"

	"gonum.org/v1/gonum/interp"

	"github.com/streamlab-io/instream/internal/stream"
)

// channelInterpolator maps one secondary channel onto arbitrary points of
// the primary time base. Queries outside the fitted span clamp to the
// first/last sampled value instead of extrapolating.
type channelInterpolator struct {
	pl     interp.PiecewiseLinear
	lo, hi float64
}

// fitChannel fits a piecewise-linear predictor to one channel's samples.
// xs must be strictly increasing and hold at least two points.
func fitChannel(xs, ys []float64) (*channelInterpolator, error) {
	if len(xs) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 samples to interpolate, got %d",
			stream.ErrSynchronization, len(xs))
	}
	ci := &channelInterpolator{lo: xs[0], hi: xs[len(xs)-1]}
	if err := ci.pl.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("%w: %v", stream.ErrSynchronization, err)
	}
	return ci, nil
}

// at returns the interpolated value at x, clamped into the fitted span.
func (ci *channelInterpolator) at(x float64) float64 {
	if x < ci.lo {
		x = ci.lo
	} else if x > ci.hi {
		x = ci.hi
	}
	return ci.pl.Predict(x)
}
