package projection

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wroge/wgs84"
)

const (
	farmCenterLng = 131.85
	farmCenterLat = 46.85
)

func TestLngLatToTileIndex_FarmCentre(t *testing.T) {
	x, y := LngLatToTileIndex(farmCenterLng, farmCenterLat, 14)

	assert.Equal(t, 14192, x)
	assert.Equal(t, 5772, y)
}

func TestTileIndexToLngLat_CornerContainsPoint(t *testing.T) {
	x, y := LngLatToTileIndex(farmCenterLng, farmCenterLat, 15)
	west, north := TileIndexToLngLat(x, y, 15)
	east, south := TileIndexToLngLat(x+1, y+1, 15)

	assert.LessOrEqual(t, west, farmCenterLng)
	assert.Greater(t, east, farmCenterLng)
	assert.GreaterOrEqual(t, north, farmCenterLat)
	assert.Less(t, south, farmCenterLat)
}

func TestLngLatToPixel_CentreMapsToSurfaceCentre(t *testing.T) {
	px, py := LngLatToPixel(farmCenterLng, farmCenterLat, 12.5, farmCenterLng, farmCenterLat, 800, 600)

	assert.InDelta(t, 400, px, 1e-9)
	assert.InDelta(t, 300, py, 1e-9)
}

func TestPixelToLngLat_RoundTrip(t *testing.T) {
	zooms := []float64{10, 11, 12, 12.5, 13, 14, 15, 15.75, 16, 17, 18}
	for _, z := range zooms {
		for lng := 131.69; lng <= 132.01; lng += 0.04 {
			for lat := 46.72; lat <= 46.98; lat += 0.03 {
				px, py := LngLatToPixel(lng, lat, z, farmCenterLng, farmCenterLat, 1024, 768)
				gotLng, gotLat := PixelToLngLat(px, py, z, farmCenterLng, farmCenterLat, 1024, 768)

				require.InDelta(t, lng, gotLng, 1e-6, "lng at zoom %v", z)
				require.InDelta(t, lat, gotLat, 1e-6, "lat at zoom %v", z)
			}
		}
	}
}

func TestWorldPixel_MatchesEPSG3857(t *testing.T) {
	const halfWorld = 20037508.342789244
	transform := wgs84.EPSG().Transform(4326, 3857)

	for _, zoom := range []float64{0, 12, 14.5} {
		scale := math.Pow(2, zoom) * TileSize
		mx, my, _ := transform(farmCenterLng, farmCenterLat, 0)

		wantX := (mx + halfWorld) / (2 * halfWorld) * scale
		wantY := (halfWorld - my) / (2 * halfWorld) * scale
		gotX, gotY := WorldPixel(farmCenterLng, farmCenterLat, zoom)

		assert.InDelta(t, wantX, gotX, 1e-6*scale)
		assert.InDelta(t, wantY, gotY, 1e-6*scale)
	}
}

func TestMetersPerPixel_Zoom14(t *testing.T) {
	mpp := MetersPerPixel(farmCenterLat, 14)

	assert.InDelta(t, 6.55, mpp, 0.03)
	assert.InDelta(t, 15.3, 100/mpp, 0.1)
}

func TestDistance_OneDegreeLatitude(t *testing.T) {
	d := Distance(LngLat{Lng: farmCenterLng, Lat: 46}, LngLat{Lng: farmCenterLng, Lat: 47})

	assert.InDelta(t, 111195, d, 50)
}

func TestView_ToPixelToLngLat(t *testing.T) {
	v := View{Center: LngLat{Lng: farmCenterLng, Lat: farmCenterLat}, Zoom: 14, Width: 640, Height: 480}

	px, py := v.ToPixel(131.9, 46.9)
	lng, lat := v.ToLngLat(px, py)

	assert.InDelta(t, 131.9, lng, 1e-9)
	assert.InDelta(t, 46.9, lat, 1e-9)
	assert.True(t, v.Contains(320, 240, 0))
	assert.False(t, v.Contains(-60, 240, 50))
	assert.True(t, v.Contains(-40, 240, 50))
}

func TestFit(t *testing.T) {
	sw := LngLat{Lng: 131.80, Lat: 46.80}
	ne := LngLat{Lng: 131.90, Lat: 46.90}

	center, zoom := Fit(sw, ne, 800, 600, 20, 18)

	v := View{Center: center, Zoom: zoom, Width: 800, Height: 600}
	x0, y0 := v.ToPixel(sw.Lng, sw.Lat)
	x1, y1 := v.ToPixel(ne.Lng, ne.Lat)
	assert.GreaterOrEqual(t, x0, 20-1e-6)
	assert.LessOrEqual(t, x1, 780+1e-6)
	assert.LessOrEqual(t, y0, 580+1e-6)
	assert.GreaterOrEqual(t, y1, 20-1e-6)
	// One side is tight.
	assert.True(t, math.Abs(y0-y1-560) < 1e-6 || math.Abs(x1-x0-760) < 1e-6)

	_, zoom = Fit(sw, sw, 800, 600, 20, 16)
	assert.Equal(t, 16.0, zoom)
}
