package locate

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/stretchr/testify/assert"
)

func TestGeoProjection_RoundTrip(t *testing.T) {
	origin := orb.Point{13.4050, 52.5200} // Berlin
	proj := NewGeoProjection(origin)
	assert.Equal(t, origin, proj.Origin())

	geoPoint := orb.Point{13.4125, 52.5233}
	local := proj.ToLocal(geoPoint)
	back := proj.ToGeo(local)

	assert.InDelta(t, geoPoint[0], back[0], 1e-9)
	assert.InDelta(t, geoPoint[1], back[1], 1e-9)
}

func TestGeoProjection_MatchesHaversine(t *testing.T) {
	origin := orb.Point{13.4050, 52.5200}
	proj := NewGeoProjection(origin)

	// A point ~500 m away; the flat distance must agree with the great-circle
	// distance to well under a meter at this extent.
	p := orb.Point{13.4112, 52.5221}
	local := proj.ToLocal(p)
	flat := Point{0, 0}.DistanceTo(local)
	great := geo.DistanceHaversine(origin, p)
	assert.InDelta(t, great, flat, 0.5)
}

func TestGeoProjection_OriginMapsToZero(t *testing.T) {
	origin := orb.Point{-73.9857, 40.7484}
	proj := NewGeoProjection(origin)

	local := proj.ToLocal(origin)
	assert.InDelta(t, 0.0, local[0], 1e-12)
	assert.InDelta(t, 0.0, local[1], 1e-12)
}

func TestGeoProjection_AxesOrientation(t *testing.T) {
	origin := orb.Point{13.4050, 52.5200}
	proj := NewGeoProjection(origin)

	east := proj.ToLocal(orb.Point{origin[0] + 0.001, origin[1]})
	assert.Greater(t, east[0], 0.0)
	assert.InDelta(t, 0.0, east[1], 1e-9)

	north := proj.ToLocal(orb.Point{origin[0], origin[1] + 0.001})
	assert.Greater(t, north[1], 0.0)
	// One degree of longitude shrinks with latitude; the north axis scale
	// must exceed the east axis scale here.
	assert.Greater(t, north[1], east[0])
}
