// Package mbtiles reads and writes MBTiles 1.3 tile databases.
package mbtiles

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/slippymap/internal/geo"
)

// ErrTileNotFound is returned when the database has no row for a tile.
var ErrTileNotFound = errors.New("mbtiles: tile not found")

// Metadata is the content of the metadata table.
type Metadata struct {
	Name        string
	Format      string // png, jpg or webp
	Attribution string
	Description string
	Type        string // baselayer or overlay
	Version     string
	Bounds      geo.Bounds
	Center      geo.Coordinate
	CenterZoom  int
	MinZoom     int
	MaxZoom     int
}

// ToMap returns the non-empty fields keyed by their metadata names.
func (m Metadata) ToMap() map[string]string {
	out := map[string]string{
		"name":        m.Name,
		"format":      m.Format,
		"attribution": m.Attribution,
		"description": m.Description,
		"type":        m.Type,
		"version":     m.Version,
	}
	for k, v := range out {
		if v == "" {
			delete(out, k)
		}
	}

	if m.MinZoom > 0 || m.MaxZoom > 0 {
		out["minzoom"] = strconv.Itoa(m.MinZoom)
		out["maxzoom"] = strconv.Itoa(m.MaxZoom)
	}
	if m.Bounds != (geo.Bounds{}) {
		out["bounds"] = m.Bounds.String()
	}
	if m.Center != (geo.Coordinate{}) {
		out["center"] = fmt.Sprintf("%.6f,%.6f,%d", m.Center.Lon, m.Center.Lat, m.CenterZoom)
	}
	return out
}

func metadataFromMap(values map[string]string) Metadata {
	m := Metadata{
		Name:        values["name"],
		Format:      values["format"],
		Attribution: values["attribution"],
		Description: values["description"],
		Type:        values["type"],
		Version:     values["version"],
	}
	m.MinZoom, _ = strconv.Atoi(values["minzoom"])
	m.MaxZoom, _ = strconv.Atoi(values["maxzoom"])

	if v, ok := values["bounds"]; ok {
		if b, err := geo.ParseBounds(v); err == nil {
			m.Bounds = b
		}
	}

	// center is "lon,lat,zoom"
	if parts := strings.Split(values["center"], ","); len(parts) == 3 {
		lon, errLon := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		zoom, errZoom := strconv.Atoi(strings.TrimSpace(parts[2]))
		if errLon == nil && errLat == nil && errZoom == nil {
			m.Center = geo.Coordinate{Lat: lat, Lon: lon}
			m.CenterZoom = zoom
		}
	}
	return m
}
