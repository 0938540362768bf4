package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	tcases := []struct {
		name     string
		lat1     float64
		lon1     float64
		lat2     float64
		lon2     float64
		expected float64
		delta    float64
	}{
		{
			name:     "same point",
			lat1:     40.7128,
			lon1:     -74.0060,
			lat2:     40.7128,
			lon2:     -74.0060,
			expected: 0,
			delta:    0,
		},
		{
			name:     "nearby point on broadway",
			lat1:     40.7128,
			lon1:     -74.0060,
			lat2:     40.7130,
			lon2:     -74.0061,
			expected: 23.8,
			delta:    1,
		},
		{
			name:     "a few kilometers north",
			lat1:     40.7128,
			lon1:     -74.0060,
			lat2:     40.7500,
			lon2:     -74.0060,
			expected: 4136,
			delta:    5,
		},
		{
			name:     "one degree of longitude on the equator",
			lat1:     0,
			lon1:     0,
			lat2:     0,
			lon2:     1,
			expected: 111195,
			delta:    1,
		},
		{
			name:     "antipodal points",
			lat1:     0,
			lon1:     0,
			lat2:     0,
			lon2:     180,
			expected: math.Pi * EarthRadius,
			delta:    1e-6,
		},
		{
			name:     "pole to pole",
			lat1:     90,
			lon1:     0,
			lat2:     -90,
			lon2:     0,
			expected: math.Pi * EarthRadius,
			delta:    1e-6,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			d := Distance(tc.lat1, tc.lon1, tc.lat2, tc.lon2)
			assert.GreaterOrEqual(t, d, 0.0, "expected distance to be non-negative")
			assert.InDelta(t, tc.expected, d, tc.delta, "unexpected distance")
		})
	}
}

func TestDistanceSymmetric(t *testing.T) {
	a := Distance(40.7128, -74.0060, 51.5074, -0.1278)
	b := Distance(51.5074, -0.1278, 40.7128, -74.0060)
	assert.InDelta(t, a, b, 1e-6, "expected distance to be symmetric")
}
