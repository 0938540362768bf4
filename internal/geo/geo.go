// Package geo holds the spherical geometry used for room discovery.
package geo

import "math"

// EarthRadius is the mean earth radius in meters.
const EarthRadius = 6371000.0

func radians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// Distance returns the great-circle distance in meters between two points
// given in degrees, using the haversine formula.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := radians(lat1)
	phi2 := radians(lat2)
	dPhi := radians(lat2 - lat1)
	dLambda := radians(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	// rounding can push a marginally past 1 for antipodal points
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadius * c
}
