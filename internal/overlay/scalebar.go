package overlay

import (
	"fmt"
	"math"

	"fleetmap/internal/projection"
)

const metersPerMile = 1609.34

// ScaleBar is a round distance and the pixel length it covers at the
// current centre latitude and zoom.
type ScaleBar struct {
	Meters float64
	Pixels float64
	Label  string
}

// NewScaleBar picks a round distance close to targetPixels on screen:
// below a kilometre to the nearest 100 m (10 m when that would be zero),
// below a mile in whole kilometres, above that in whole miles.
func NewScaleBar(lat, zoom, targetPixels float64) ScaleBar {
	mpp := projection.MetersPerPixel(lat, zoom)
	raw := targetPixels * mpp

	var sb ScaleBar
	switch {
	case raw >= metersPerMile:
		miles := math.Max(1, math.Round(raw/metersPerMile))
		sb.Meters = miles * metersPerMile
		sb.Label = fmt.Sprintf("%.0f mi", miles)
	case raw >= 1000:
		km := math.Round(raw / 1000)
		sb.Meters = km * 1000
		sb.Label = fmt.Sprintf("%.0f km", km)
	default:
		m := math.Round(raw/100) * 100
		if m == 0 {
			m = math.Max(10, math.Round(raw/10)*10)
		}
		sb.Meters = m
		if m >= 1000 {
			sb.Label = fmt.Sprintf("%.0f km", m/1000)
		} else {
			sb.Label = fmt.Sprintf("%.0f m", m)
		}
	}
	sb.Pixels = BarPixels(sb.Meters, mpp)
	return sb
}

// BarPixels is the on-screen length of meters at a ground resolution.
func BarPixels(meters, metersPerPixel float64) float64 {
	return meters / metersPerPixel
}
