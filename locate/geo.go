package locate

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// GeoProjection maps geographic station coordinates onto the flat local
// frame the engine solves in, using an equirectangular projection around an
// origin. Good to well under a meter for the few-kilometer extents radio
// localization deals with.
type GeoProjection struct {
	origin       orb.Point // lon, lat
	metersPerLat float64
	metersPerLon float64
}

// NewGeoProjection builds a projection centered on origin. Scale factors are
// calibrated with haversine distances at the origin latitude rather than
// fixed constants, so high latitudes stay accurate.
func NewGeoProjection(origin orb.Point) *GeoProjection {
	const probe = 0.01 // degrees
	latScale := geo.DistanceHaversine(origin, orb.Point{origin[0], origin[1] + probe}) / probe
	lonScale := geo.DistanceHaversine(origin, orb.Point{origin[0] + probe, origin[1]}) / probe
	return &GeoProjection{
		origin:       origin,
		metersPerLat: latScale,
		metersPerLon: lonScale,
	}
}

// Origin returns the projection origin (lon, lat).
func (g *GeoProjection) Origin() orb.Point { return g.origin }

// ToLocal projects a geographic point into local meters (east, north).
func (g *GeoProjection) ToLocal(p orb.Point) Point {
	return Point{
		(p[0] - g.origin[0]) * g.metersPerLon,
		(p[1] - g.origin[1]) * g.metersPerLat,
	}
}

// ToGeo lifts a local estimate back to geographic coordinates. Only the
// first two components are used; a 3D estimate's height rides along
// unchanged elsewhere.
func (g *GeoProjection) ToGeo(p Point) orb.Point {
	return orb.Point{
		g.origin[0] + p[0]/g.metersPerLon,
		g.origin[1] + p[1]/g.metersPerLat,
	}
}
