// Package projection holds the spherical Mercator math shared by the tile
// layer, the overlays and the input handling. Every function is pure.
//
// Latitudes must stay inside (-85.05, 85.05); nothing here guards against the
// projection singularity at the poles.
package projection

import "math"

const (
	// TileSize is the edge length in pixels of one raster tile.
	TileSize = 256

	// groundResolution is the equatorial metres-per-pixel at zoom 0.
	groundResolution = 156543.034

	earthRadiusMeters = 6371000.0
)

// LngLat is a geographic coordinate in degrees.
type LngLat struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// worldXY returns the position of (lng, lat) in world pixel space at the given
// continuous zoom, where the whole world spans 2^zoom * TileSize pixels.
func worldXY(lng, lat, zoom float64) (float64, float64) {
	scale := math.Pow(2, zoom) * TileSize
	latRad := lat * math.Pi / 180
	x := (lng + 180) / 360 * scale
	y := (1 - math.Asinh(math.Tan(latRad))/math.Pi) / 2 * scale
	return x, y
}

func fromWorldXY(x, y, zoom float64) (lng, lat float64) {
	scale := math.Pow(2, zoom) * TileSize
	lng = x/scale*360 - 180
	lat = math.Atan(math.Sinh(math.Pi*(1-2*y/scale))) * 180 / math.Pi
	return lng, lat
}

// LngLatToTileIndex returns the slippy-map tile containing (lng, lat) at an
// integer zoom level.
func LngLatToTileIndex(lng, lat float64, zoom int) (int, int) {
	n := math.Pow(2, float64(zoom))
	latRad := lat * math.Pi / 180
	x := math.Floor((lng + 180) / 360 * n)
	y := math.Floor((1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * n)
	return int(x), int(y)
}

// TileIndexToLngLat returns the north-west corner of tile (x, y).
func TileIndexToLngLat(x, y, zoom int) (float64, float64) {
	n := math.Pow(2, float64(zoom))
	lng := float64(x)/n*360 - 180
	lat := math.Atan(math.Sinh(math.Pi*(1-2*float64(y)/n))) * 180 / math.Pi
	return lng, lat
}

// LngLatToPixel maps (lng, lat) onto a width x height surface whose centre
// shows (centerLng, centerLat). Both points are projected into the same world
// pixel space so fractional zoom stays stable.
func LngLatToPixel(lng, lat, zoom, centerLng, centerLat float64, width, height int) (float64, float64) {
	wx, wy := worldXY(lng, lat, zoom)
	cx, cy := worldXY(centerLng, centerLat, zoom)
	return wx - cx + float64(width)/2, wy - cy + float64(height)/2
}

// PixelToLngLat is the inverse of LngLatToPixel.
func PixelToLngLat(px, py, zoom, centerLng, centerLat float64, width, height int) (float64, float64) {
	cx, cy := worldXY(centerLng, centerLat, zoom)
	wx := px - float64(width)/2 + cx
	wy := py - float64(height)/2 + cy
	return fromWorldXY(wx, wy, zoom)
}

// WorldPixel exposes the world pixel position of (lng, lat); the compositor
// uses it to place tiles relative to the viewport centre.
func WorldPixel(lng, lat, zoom float64) (float64, float64) {
	return worldXY(lng, lat, zoom)
}

// MetersPerPixel is the Web-Mercator ground resolution at a latitude.
func MetersPerPixel(lat, zoom float64) float64 {
	return groundResolution * math.Cos(lat*math.Pi/180) / math.Pow(2, zoom)
}

// Distance returns the great-circle distance in metres.
func Distance(a, b LngLat) float64 {
	lat1 := a.Lat * math.Pi / 180
	lon1 := a.Lng * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	lon2 := b.Lng * math.Pi / 180

	dLat := lat2 - lat1
	dLon := lon2 - lon1

	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusMeters * c
}

// Fit returns the centre and the largest zoom at which the rectangle from
// sw to ne fits inside a width x height surface with padding pixels on every
// side. A degenerate rectangle yields maxZoom.
func Fit(sw, ne LngLat, width, height int, padding, maxZoom float64) (LngLat, float64) {
	x0, y0 := worldXY(sw.Lng, sw.Lat, 0)
	x1, y1 := worldXY(ne.Lng, ne.Lat, 0)
	cx, cy := (x0+x1)/2, (y0+y1)/2
	lng, lat := fromWorldXY(cx, cy, 0)
	center := LngLat{Lng: lng, Lat: lat}

	dx, dy := math.Abs(x1-x0), math.Abs(y1-y0)
	w := math.Max(1, float64(width)-2*padding)
	h := math.Max(1, float64(height)-2*padding)
	if dx == 0 && dy == 0 {
		return center, maxZoom
	}
	zoom := math.Log2(math.Min(w/dx, h/dy))
	return center, math.Min(zoom, maxZoom)
}
