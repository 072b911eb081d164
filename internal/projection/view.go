package projection

// View bundles the parameters every projection call needs for one frame.
type View struct {
	Center LngLat
	Zoom   float64
	Width  int
	Height int
}

func (v View) ToPixel(lng, lat float64) (float64, float64) {
	return LngLatToPixel(lng, lat, v.Zoom, v.Center.Lng, v.Center.Lat, v.Width, v.Height)
}

func (v View) ToLngLat(px, py float64) (float64, float64) {
	return PixelToLngLat(px, py, v.Zoom, v.Center.Lng, v.Center.Lat, v.Width, v.Height)
}

// Contains reports whether a projected point lies on the surface, allowing
// margin pixels outside each edge.
func (v View) Contains(px, py, margin float64) bool {
	return px >= -margin && px <= float64(v.Width)+margin &&
		py >= -margin && py <= float64(v.Height)+margin
}
