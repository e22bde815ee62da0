// This file derives traffic rates from cumulative counters and keeps a
// bounded history for visualization.

package vpn

import "github.com/yllada/ovpn3-manager/common"

// RateTracker turns cumulative byte counters into per-interval rate
// samples and holds a fixed-depth rolling history per direction. It
// knows nothing about how the samples are drawn.
type RateTracker struct {
	depth   int
	prevIn  uint64
	prevOut uint64
	in      []uint64
	out     []uint64
	scale   float64
}

// NewRateTracker creates a tracker keeping depth samples per direction.
// A non-positive depth falls back to the default history depth.
func NewRateTracker(depth int) *RateTracker {
	if depth <= 0 {
		depth = common.RateHistoryDepth
	}
	return &RateTracker{
		depth: depth,
		in:    make([]uint64, 0, depth),
		out:   make([]uint64, 0, depth),
	}
}

// Update records one observation of the cumulative counters and returns
// the derived rates. A zero previous counter is the "no prior sample"
// sentinel and a decreased counter means a new underlying session;
// both yield rate zero instead of a negative or inflated value.
func (t *RateTracker) Update(bytesIn, bytesOut uint64) (rateIn, rateOut uint64) {
	rateIn = delta(t.prevIn, bytesIn)
	rateOut = delta(t.prevOut, bytesOut)
	t.prevIn = bytesIn
	t.prevOut = bytesOut

	t.in = push(t.in, rateIn, t.depth)
	t.out = push(t.out, rateOut, t.depth)

	t.rescale()
	return rateIn, rateOut
}

func delta(prev, cur uint64) uint64 {
	if prev == 0 || cur < prev {
		return 0
	}
	return cur - prev
}

// push appends a sample, evicting the oldest when the buffer is full.
func push(buf []uint64, v uint64, depth int) []uint64 {
	if len(buf) == depth {
		copy(buf, buf[1:])
		buf[len(buf)-1] = v
		return buf
	}
	return append(buf, v)
}

// rescale recomputes the drawing scale as 1.2x the buffered maximum
// across both directions. A transient all-zero window keeps the prior
// scale so the graph does not collapse.
func (t *RateTracker) rescale() {
	var max uint64
	for _, v := range t.in {
		if v > max {
			max = v
		}
	}
	for _, v := range t.out {
		if v > max {
			max = v
		}
	}
	if max > 0 {
		t.scale = 1.2 * float64(max)
	}
}

// Reset clears the previous counters and sample history; the next
// Update starts a fresh session baseline.
func (t *RateTracker) Reset() {
	t.prevIn = 0
	t.prevOut = 0
	t.in = t.in[:0]
	t.out = t.out[:0]
	t.scale = 0
}

// History returns copies of the buffered samples, oldest first.
func (t *RateTracker) History() (in, out []uint64) {
	in = make([]uint64, len(t.in))
	copy(in, t.in)
	out = make([]uint64, len(t.out))
	copy(out, t.out)
	return in, out
}

// Scale returns the current drawing scale.
func (t *RateTracker) Scale() float64 {
	return t.scale
}
