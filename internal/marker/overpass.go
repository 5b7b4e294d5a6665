package marker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/MeKo-Christian/go-overpass"
	"github.com/MeKo-Tech/slippymap/internal/geo"
)

// DefaultOverpassEndpoint is the public Overpass API interpreter.
const DefaultOverpassEndpoint = "https://overpass-api.de/api/interpreter"

// OverpassImporter turns OSM nodes returned by the Overpass API into markers.
type OverpassImporter struct {
	client overpass.Client
	logger *slog.Logger
}

// NewOverpassImporter creates an importer for endpoint. A nil httpClient
// uses http.DefaultClient.
func NewOverpassImporter(endpoint string, httpClient *http.Client, logger *slog.Logger) *OverpassImporter {
	if endpoint == "" {
		endpoint = DefaultOverpassEndpoint
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	// Only 1 parallel request (API etiquette)
	client := overpass.NewWithSettings(endpoint, 1, httpClient)

	return &OverpassImporter{client: client, logger: logger}
}

func (i *OverpassImporter) log() *slog.Logger {
	if i.logger != nil {
		return i.logger
	}
	return slog.Default()
}

// BuildQuery returns the Overpass QL query for nodes matching filter inside
// bounds. filter is either a raw tag filter such as ["amenity"="cafe"] or a
// key=value shorthand.
func BuildQuery(bounds geo.Bounds, filter string) string {
	bbox := fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", bounds.Min.Lat, bounds.Min.Lon, bounds.Max.Lat, bounds.Max.Lon)
	return fmt.Sprintf("[out:json][timeout:25];\nnode%s(%s);\nout body;\n", tagFilter(filter), bbox)
}

func tagFilter(filter string) string {
	filter = strings.TrimSpace(filter)
	switch {
	case filter == "":
		return ""
	case strings.HasPrefix(filter, "["):
		return filter
	case strings.Contains(filter, "="):
		k, v, _ := strings.Cut(filter, "=")
		return fmt.Sprintf("[%q=%q]", strings.TrimSpace(k), strings.TrimSpace(v))
	default:
		return fmt.Sprintf("[%q]", filter)
	}
}

// Import queries nodes inside bounds and returns them as reactive markers
// ordered by OSM id. The node's name tag becomes the label and all tags are
// kept as properties.
func (i *OverpassImporter) Import(ctx context.Context, bounds geo.Bounds, filter string) ([]*Marker, error) {
	query := BuildQuery(bounds, filter)

	type queryResult struct {
		result overpass.Result
		err    error
	}
	done := make(chan queryResult, 1)

	// The client has no context support, so abandon the call on cancellation
	go func() {
		res, err := i.client.Query(query)
		done <- queryResult{result: res, err: err}
	}()

	var res overpass.Result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("overpass query cancelled: %w", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("overpass query failed: %w", r.err)
		}
		res = r.result
	}

	ids := make([]int64, 0, len(res.Nodes))
	for id := range res.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	markers := make([]*Marker, 0, len(ids))
	for _, id := range ids {
		node := res.Nodes[id]
		m := New(geo.Coordinate{Lat: node.Lat, Lon: node.Lon}, node.Tags["name"])
		m.ID = fmt.Sprintf("node/%d", node.ID)
		if len(node.Tags) > 0 {
			m.Properties = make(map[string]any, len(node.Tags))
			for k, v := range node.Tags {
				m.Properties[k] = v
			}
		}
		markers = append(markers, m)
	}

	i.log().Info("imported overpass markers", "count", len(markers), "bounds", bounds.String())
	return markers, nil
}
