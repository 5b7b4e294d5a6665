package marker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": "cafe-1", "geometry": {"type": "Point", "coordinates": [-73.57, 45.50]},
     "properties": {"name": "Café Olimpico", "z": 3}},
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [-73.60, 45.52]},
     "properties": {"label": "Parc", "reactive": false}},
    {"type": "Feature", "id": 7, "geometry": {"type": "MultiPoint", "coordinates": [[1, 2], [3, 4]]},
     "properties": {}},
    {"type": "Feature", "geometry": {"type": "LineString", "coordinates": [[0, 0], [1, 1]]},
     "properties": {"name": "ignored"}}
  ]
}`

func TestFromGeoJSON(t *testing.T) {
	markers, err := FromGeoJSON([]byte(sampleGeoJSON))
	require.NoError(t, err)
	require.Len(t, markers, 4)

	assert.Equal(t, "cafe-1", markers[0].ID)
	assert.Equal(t, "Café Olimpico", markers[0].Label)
	assert.Equal(t, 3, markers[0].ZOrder)
	assert.True(t, markers[0].Reactive)
	assert.InDelta(t, 45.50, markers[0].Position.Lat, 1e-9)
	assert.InDelta(t, -73.57, markers[0].Position.Lon, 1e-9)

	assert.Equal(t, "Parc", markers[1].Label)
	assert.False(t, markers[1].Reactive)
	assert.Empty(t, markers[1].ID)

	assert.Equal(t, "7#0", markers[2].ID)
	assert.Equal(t, "7#1", markers[3].ID)
	assert.InDelta(t, 4.0, markers[3].Position.Lat, 1e-9)
}

func TestFromGeoJSON_Invalid(t *testing.T) {
	_, err := FromGeoJSON([]byte(`{"type": "nope"`))
	assert.Error(t, err)

	_, err = FromGeoJSON([]byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{"type":"Point","coordinates":[10, 95]},"properties":{}}]}`))
	assert.Error(t, err)
}

func TestToGeoJSON_RoundTrip(t *testing.T) {
	l := NewLayer("poi", SelectionSingle)
	m := New(montreal, "Montréal")
	m.ID = "mtl"
	m.ZOrder = 2
	l.Add(m)
	l.Select("mtl")

	fc := ToGeoJSON(l.Markers())
	data, err := json.Marshal(fc)
	require.NoError(t, err)

	back, err := FromGeoJSON(data)
	require.NoError(t, err)
	require.Len(t, back, 1)
	assert.Equal(t, "mtl", back[0].ID)
	assert.Equal(t, "Montréal", back[0].Label)
	assert.Equal(t, 2, back[0].ZOrder)
	assert.Equal(t, true, back[0].Properties["selected"])
}
