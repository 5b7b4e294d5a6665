package source

import (
	"sort"
	"strings"
)

// Descriptor describes a well-known raster tile server.
type Descriptor struct {
	ID          string
	Name        string
	License     string
	LicenseURI  string
	MinZoom     int
	MaxZoom     int
	TileSize    int
	URLTemplate string
}

const (
	osmLicense    = "Map Data ODBL OpenStreetMap Contributors, Map Imagery CC-BY-SA 2.0 OpenStreetMap"
	osmCCLicense  = "Map data is CC-BY-SA 2.0 OpenStreetMap contributors"
	osmLicenseURI = "http://creativecommons.org/licenses/by-sa/2.0/"
	owmLicense    = "Map data is CC-BY-SA 2.0 OpenWeatherMap contributors"
)

var registry = map[string]Descriptor{
	"osm-mapnik": {
		ID: "osm-mapnik", Name: "OpenStreetMap Mapnik",
		License: osmLicense, LicenseURI: osmLicenseURI,
		MinZoom: 0, MaxZoom: 18, TileSize: 256,
		URLTemplate: "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
	},
	"osm-cyclemap": {
		ID: "osm-cyclemap", Name: "OpenStreetMap Cycle Map",
		License: osmCCLicense, LicenseURI: osmLicenseURI,
		MinZoom: 0, MaxZoom: 18, TileSize: 256,
		URLTemplate: "http://tile.opencyclemap.org/cycle/{z}/{x}/{y}.png",
	},
	"osm-transportmap": {
		ID: "osm-transportmap", Name: "OpenStreetMap Transport Map",
		License: osmCCLicense, LicenseURI: osmLicenseURI,
		MinZoom: 0, MaxZoom: 18, TileSize: 256,
		URLTemplate: "http://tile.xn--pnvkarte-m4a.de/tilegen/{z}/{x}/{y}.png",
	},
	"mff-relief": {
		ID: "mff-relief", Name: "Maps for Free Relief",
		License:    "Map data available under GNU Free Documentation license, Version 1.2 or later",
		LicenseURI: "http://www.gnu.org/copyleft/fdl.html",
		MinZoom:    0, MaxZoom: 11, TileSize: 256,
		URLTemplate: "http://maps-for-free.com/layer/relief/z{z}/row{y}/{z}_{x}-{y}.jpg",
	},
	"owm-clouds": {
		ID: "owm-clouds", Name: "OpenWeatherMap cloud layer",
		License: owmLicense, LicenseURI: osmLicenseURI,
		MinZoom: 0, MaxZoom: 18, TileSize: 256,
		URLTemplate: "http://tile.openweathermap.org/map/clouds/{z}/{x}/{y}.png",
	},
	"owm-wind": {
		ID: "owm-wind", Name: "OpenWeatherMap wind layer",
		License: owmLicense, LicenseURI: osmLicenseURI,
		MinZoom: 0, MaxZoom: 18, TileSize: 256,
		URLTemplate: "http://tile.openweathermap.org/map/wind/{z}/{x}/{y}.png",
	},
	"owm-temperature": {
		ID: "owm-temperature", Name: "OpenWeatherMap temperature layer",
		License: owmLicense, LicenseURI: osmLicenseURI,
		MinZoom: 0, MaxZoom: 18, TileSize: 256,
		URLTemplate: "http://tile.openweathermap.org/map/temp/{z}/{x}/{y}.png",
	},
	"owm-precipitation": {
		ID: "owm-precipitation", Name: "OpenWeatherMap precipitation layer",
		License: owmLicense, LicenseURI: osmLicenseURI,
		MinZoom: 0, MaxZoom: 18, TileSize: 256,
		URLTemplate: "http://tile.openweathermap.org/map/precipitation/{z}/{x}/{y}.png",
	},
	"owm-pressure": {
		ID: "owm-pressure", Name: "OpenWeatherMap sea level pressure layer",
		License: owmLicense, LicenseURI: osmLicenseURI,
		MinZoom: 0, MaxZoom: 18, TileSize: 256,
		URLTemplate: "http://tile.openweathermap.org/map/pressure/{z}/{x}/{y}.png",
	},
}

// Lookup returns the registered server with the given id.
func Lookup(id string) (Descriptor, bool) {
	d, ok := registry[strings.ToLower(strings.TrimSpace(id))]
	return d, ok
}

// Registered lists all registered servers sorted by id.
func Registered() []Descriptor {
	out := make([]Descriptor, 0, len(registry))
	for _, d := range registry {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func registeredIDs() string {
	ids := make([]string, 0, len(registry))
	for _, d := range Registered() {
		ids = append(ids, d.ID)
	}
	return strings.Join(ids, ", ")
}
