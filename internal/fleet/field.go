package fleet

import (
	"math"

	"github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"

	"fleetmap/internal/projection"
)

// Field is a managed or completed field outline.
type Field struct {
	ID       string              `json:"id"`
	Name     string              `json:"name"`
	Boundary []projection.LngLat `json:"boundary"`
}

// Ring returns the outline as a closed ring of lng/lat coordinates.
func (f Field) Ring() geom.LineString {
	n := len(f.Boundary)
	flat := make([]float64, 0, 2*(n+1))
	for _, p := range f.Boundary {
		flat = append(flat, p.Lng, p.Lat)
	}
	if n > 0 && f.Boundary[0] != f.Boundary[n-1] {
		flat = append(flat, f.Boundary[0].Lng, f.Boundary[0].Lat)
	}
	return geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
}

func (f Field) Polygon() geom.Polygon {
	return geom.NewPolygon([]geom.LineString{f.Ring()})
}

// Centroid is where the field label goes.
func (f Field) Centroid() (projection.LngLat, bool) {
	if len(f.Boundary) < 3 {
		return projection.LngLat{}, false
	}
	xy, ok := f.Polygon().Centroid().XY()
	if !ok {
		return projection.LngLat{}, false
	}
	return projection.LngLat{Lng: xy.X, Lat: xy.Y}, true
}

// AreaHectares projects the outline to EPSG:3857 and corrects the planar
// area by the Mercator scale factor at the centroid latitude.
func (f Field) AreaHectares() float64 {
	c, ok := f.Centroid()
	if !ok {
		return 0
	}
	toMercator := wgs84.EPSG().Transform(4326, 3857)

	ring := f.Ring().Coordinates()
	flat := make([]float64, 0, 2*ring.Length())
	for i := 0; i < ring.Length(); i++ {
		xy := ring.GetXY(i)
		x, y, _ := toMercator(xy.X, xy.Y, 0)
		flat = append(flat, x, y)
	}
	projected := geom.NewPolygon([]geom.LineString{
		geom.NewLineString(geom.NewSequence(flat, geom.DimXY)),
	})

	k := math.Cos(c.Lat * math.Pi / 180)
	return projected.Area() * k * k / 10000
}
