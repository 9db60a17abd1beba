package solar

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

// NormalizeRing returns a closed, counter-clockwise copy of ring. Rings with
// fewer than three distinct points are rejected.
func NormalizeRing(ring orb.Ring) (orb.Ring, error) {
	out := make(orb.Ring, 0, len(ring)+1)
	for _, p := range ring {
		if len(out) > 0 && out[len(out)-1] == p {
			continue
		}
		out = append(out, p)
	}
	if len(out) > 1 && out[0] == out[len(out)-1] {
		out = out[:len(out)-1]
	}
	if len(out) < 3 {
		return nil, fmt.Errorf("%w: ring has %d distinct points, need at least 3", ErrInvalidGeometry, len(out))
	}
	for _, p := range out {
		if p.Lat() < -90 || p.Lat() > 90 || p.Lon() < -180 || p.Lon() > 180 {
			return nil, fmt.Errorf("%w: point %v outside WGS84 range", ErrInvalidGeometry, p)
		}
	}
	out = append(out, out[0])

	switch out.Orientation() {
	case orb.CW:
		out.Reverse()
	case orb.CCW:
	default:
		return nil, fmt.Errorf("%w: ring is degenerate", ErrInvalidGeometry)
	}
	return out, nil
}

// RingArea returns the geodesic area of ring in square metres.
func RingArea(ring orb.Ring) float64 {
	return math.Abs(geo.Area(ring))
}

// RingContains reports whether pt lies inside ring.
func RingContains(ring orb.Ring, pt orb.Point) bool {
	return planar.RingContains(ring, pt)
}

// DistanceToRing returns the distance in metres from pt to the ring centroid.
func DistanceToRing(ring orb.Ring, pt orb.Point) float64 {
	c, _ := planar.CentroidArea(ring)
	return geo.Distance(c, pt)
}
