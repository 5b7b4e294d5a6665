package marker

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/slippymap/internal/geo"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// FromGeoJSON converts the Point and MultiPoint features of a feature
// collection into markers. The "name" (or "label") property becomes the
// label; "reactive" and "z" properties are honoured when present.
func FromGeoJSON(data []byte) ([]*Marker, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse geojson: %w", err)
	}

	var markers []*Marker
	for i, f := range fc.Features {
		var points []orb.Point
		switch g := f.Geometry.(type) {
		case orb.Point:
			points = []orb.Point{g}
		case orb.MultiPoint:
			points = g
		default:
			continue
		}

		id := featureID(f.ID)
		for j, p := range points {
			m := markerFromProperties(geo.FromPoint(p), f.Properties)
			if id != "" {
				m.ID = id
				if len(points) > 1 {
					m.ID = id + "#" + strconv.Itoa(j)
				}
			}
			if !m.Position.Valid() {
				return nil, fmt.Errorf("feature %d: invalid coordinate %s", i, m.Position)
			}
			markers = append(markers, m)
		}
	}
	return markers, nil
}

func markerFromProperties(c geo.Coordinate, props geojson.Properties) *Marker {
	label := props.MustString("name", "")
	if label == "" {
		label = props.MustString("label", "")
	}

	m := New(c, label)
	m.Reactive = props.MustBool("reactive", true)
	m.ZOrder = props.MustInt("z", 0)
	if len(props) > 0 {
		m.Properties = map[string]any(props.Clone())
	}
	return m
}

func featureID(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// ToGeoJSON converts markers to a feature collection of points.
func ToGeoJSON(markers []*Marker) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, m := range markers {
		f := geojson.NewFeature(m.Position.Point())
		f.ID = m.ID
		for k, v := range m.Properties {
			f.Properties[k] = v
		}
		if m.Label != "" {
			f.Properties["name"] = m.Label
		}
		f.Properties["reactive"] = m.Reactive
		f.Properties["selected"] = m.Selected()
		if m.ZOrder != 0 {
			f.Properties["z"] = m.ZOrder
		}
		fc.Append(f)
	}
	return fc
}

// PathsFromGeoJSON converts the LineString, MultiLineString and Polygon
// features of a feature collection into path layers. Polygons use their
// outer ring and are closed and filled. The simplestyle properties "stroke",
// "stroke-width", "stroke-opacity", "fill" and "fill-opacity" set the style.
func PathsFromGeoJSON(data []byte) ([]*PathLayer, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse geojson: %w", err)
	}

	var paths []*PathLayer
	for i, f := range fc.Features {
		var (
			lines  []orb.LineString
			closed bool
		)
		switch g := f.Geometry.(type) {
		case orb.LineString:
			lines = []orb.LineString{g}
		case orb.MultiLineString:
			lines = g
		case orb.Polygon:
			if len(g) == 0 {
				continue
			}
			ring := g[0]
			if len(ring) > 1 && ring[0] == ring[len(ring)-1] {
				ring = ring[:len(ring)-1]
			}
			lines = []orb.LineString{orb.LineString(ring)}
			closed = true
		default:
			continue
		}

		name := featureID(f.ID)
		if name == "" {
			name = f.Properties.MustString("name", "path-"+strconv.Itoa(i))
		}
		style, err := pathStyle(f.Properties, closed)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}

		for j, line := range lines {
			p := NewPathLayer(name)
			if len(lines) > 1 {
				p = NewPathLayer(name + "#" + strconv.Itoa(j))
			}
			for _, pt := range line {
				c := geo.FromPoint(pt)
				if !c.Valid() {
					return nil, fmt.Errorf("feature %d: invalid coordinate %s", i, c)
				}
				p.AddNode(c)
			}
			p.SetStyle(style)
			paths = append(paths, p)
		}
	}
	return paths, nil
}

func pathStyle(props geojson.Properties, closed bool) (PathStyle, error) {
	style := DefaultPathStyle()
	style.Closed = closed
	style.Fill = closed

	var err error
	if v := props.MustString("stroke", ""); v != "" {
		if style.StrokeColor, err = parseHexColor(v); err != nil {
			return style, err
		}
	}
	if v := props.MustString("fill", ""); v != "" {
		if style.FillColor, err = parseHexColor(v); err != nil {
			return style, err
		}
	}
	if v, ok := props["stroke-opacity"].(float64); ok {
		style.StrokeColor.A = uint8(min(max(v, 0), 1) * 255)
	}
	if v, ok := props["fill-opacity"].(float64); ok {
		style.FillColor.A = uint8(min(max(v, 0), 1) * 255)
	}
	style.StrokeWidth = props.MustFloat64("stroke-width", style.StrokeWidth)
	return style, nil
}

// parseHexColor parses #rgb and #rrggbb.
func parseHexColor(s string) (color.NRGBA, error) {
	h := strings.TrimPrefix(s, "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid color: %s", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color: %s", s)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

// PathToGeoJSON converts a path to a LineString feature, or a Polygon when
// it is closed. Paths with fewer than two nodes yield nil.
func PathToGeoJSON(p *PathLayer) *geojson.Feature {
	nodes := p.Nodes()
	if len(nodes) < 2 {
		return nil
	}
	style := p.Style()

	line := make(orb.LineString, 0, len(nodes)+1)
	for _, n := range nodes {
		line = append(line, n.Point())
	}

	var f *geojson.Feature
	if style.Closed {
		f = geojson.NewFeature(orb.Polygon{orb.Ring(append(line, line[0]))})
		f.Properties["fill"] = hexColor(style.FillColor)
	} else {
		f = geojson.NewFeature(line)
	}
	f.ID = p.Name()
	f.Properties["stroke"] = hexColor(style.StrokeColor)
	f.Properties["stroke-width"] = style.StrokeWidth
	return f
}

func hexColor(c color.NRGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}
