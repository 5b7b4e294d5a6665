package marker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/slippymap/internal/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBounds = geo.Bounds{
	Min: geo.Coordinate{Lat: 45.40, Lon: -73.80},
	Max: geo.Coordinate{Lat: 45.60, Lon: -73.50},
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		filter string
		want   string
	}{
		{"amenity=cafe", `node["amenity"="cafe"](45.400000,-73.800000,45.600000,-73.500000);`},
		{`["tourism"="museum"]`, `node["tourism"="museum"](45.400000`},
		{"shop", `node["shop"](45.4`},
		{"", "node(45.4"},
	}
	for _, tt := range tests {
		q := BuildQuery(testBounds, tt.filter)
		assert.Contains(t, q, tt.want, tt.filter)
		assert.True(t, strings.HasPrefix(q, "[out:json]"))
	}
}

func TestOverpassImporter_Import(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotQuery = r.Form.Get("data")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
  "version": 0.6,
  "osm3s": {"timestamp_osm_base": "2024-01-01T00:00:00Z"},
  "elements": [
    {"type": "node", "id": 20, "lat": 45.51, "lon": -73.55, "tags": {"amenity": "cafe"}},
    {"type": "node", "id": 10, "lat": 45.50, "lon": -73.57, "tags": {"amenity": "cafe", "name": "Olimpico"}}
  ]
}`))
	}))
	defer srv.Close()

	imp := NewOverpassImporter(srv.URL, srv.Client(), nil)
	markers, err := imp.Import(context.Background(), testBounds, "amenity=cafe")
	require.NoError(t, err)

	assert.Contains(t, gotQuery, `node["amenity"="cafe"]`)
	require.Len(t, markers, 2)
	assert.Equal(t, "node/10", markers[0].ID)
	assert.Equal(t, "Olimpico", markers[0].Label)
	assert.True(t, markers[0].Reactive)
	assert.InDelta(t, 45.50, markers[0].Position.Lat, 1e-9)
	assert.Equal(t, "cafe", markers[1].Properties["amenity"])
}

func TestOverpassImporter_ContextCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`{"elements": []}`))
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	imp := NewOverpassImporter(srv.URL, srv.Client(), nil)
	_, err := imp.Import(ctx, testBounds, "amenity=cafe")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
