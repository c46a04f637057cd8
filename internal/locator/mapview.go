package locator

import (
	"fmt"
	"math"
	"strconv"

	"github.com/clrevo/clrevo/internal/geo"
	"github.com/clrevo/clrevo/internal/stations"
)

// Map framing defaults.
const (
	FallbackZoom  = 12
	RecenterZoom  = 13
	FitPadding    = 0.1
	minFitZoom    = 2
	maxFitZoom    = 18
	worldSpanDegs = 360.0
)

// FallbackCenter is where the map opens before any location is known.
var FallbackCenter = geo.Coordinate{Lat: 37.7749, Lon: -122.4194}

// Framing records which operation last positioned the viewport.
type Framing string

const (
	FramingFallback Framing = "fallback"
	FramingCenter   Framing = "center"
	FramingFit      Framing = "fit"
)

// Viewport is the visible region of the map.
// Bounds is set only when the viewport was fitted to markers.
type Viewport struct {
	Center geo.Coordinate `json:"center"`
	Zoom   int            `json:"zoom"`
	Bounds *geo.Bounds    `json:"bounds,omitempty"`
}

// Popup is the text shown when a marker is opened.
type Popup struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Distance string `json:"distance,omitempty"`
	Status   string `json:"status"`
	Power    string `json:"power,omitempty"`
}

// Marker is one station pin on the map.
type Marker struct {
	StationID   string         `json:"stationId"`
	Coordinate  geo.Coordinate `json:"coordinate"`
	Popup       Popup          `json:"popup"`
	Highlighted bool           `json:"highlighted"`
}

// MapView is the map surface owned by a session.
// A session never holds more than one.
type MapView struct {
	Mounted  bool     `json:"mounted"`
	Viewport Viewport `json:"viewport"`
	Framing  Framing  `json:"framing"`
	Markers  []Marker `json:"markers"`
}

// NewMapView creates a mounted map centred on the fallback view.
func NewMapView() *MapView {
	return &MapView{
		Mounted: true,
		Viewport: Viewport{
			Center: FallbackCenter,
			Zoom:   FallbackZoom,
		},
		Framing: FramingFallback,
		Markers: []Marker{},
	}
}

// CenterOn moves the viewport to c at the recenter zoom.
func (m *MapView) CenterOn(c geo.Coordinate) {
	if !m.Mounted {
		return
	}
	m.Viewport = Viewport{Center: c, Zoom: RecenterZoom}
	m.Framing = FramingCenter
}

// Render replaces every marker with one per station.
// The viewport is fitted to the markers only when there is at least one.
func (m *MapView) Render(coll stations.Collection) {
	if !m.Mounted {
		return
	}

	markers := make([]Marker, 0, len(coll))
	for i := range coll {
		markers = append(markers, Marker{
			StationID:  coll[i].ID,
			Coordinate: coll[i].Coordinate,
			Popup:      popupFor(&coll[i]),
		})
	}
	m.Markers = markers

	bounds, ok := geo.BoundsOf(coll.Coordinates())
	if !ok {
		return
	}
	padded := bounds.Pad(FitPadding)
	m.Viewport = Viewport{
		Center: padded.Center(),
		Zoom:   zoomFor(padded),
		Bounds: &padded,
	}
	m.Framing = FramingFit
}

// Highlight marks the marker for stationID and unmarks the rest.
// An empty id clears the highlight.
func (m *MapView) Highlight(stationID string) {
	for i := range m.Markers {
		m.Markers[i].Highlighted = stationID != "" && m.Markers[i].StationID == stationID
	}
}

// Release clears the markers and unmounts the surface.
func (m *MapView) Release() {
	m.Markers = []Marker{}
	m.Mounted = false
}

func popupFor(s *stations.Station) Popup {
	p := Popup{
		Name:    s.Name,
		Address: s.Address,
		Status:  string(s.Status),
	}
	if s.DistanceMiles != nil {
		p.Distance = fmt.Sprintf("%.1f mi", *s.DistanceMiles)
	}
	if s.PowerKW != nil && *s.PowerKW != 0 {
		p.Power = strconv.FormatFloat(*s.PowerKW, 'f', -1, 64) + " kW"
	}
	return p
}

// zoomFor approximates the web-map zoom level at which b fills a single tile.
func zoomFor(b geo.Bounds) int {
	span := math.Max(b.MaxLat-b.MinLat, b.MaxLon-b.MinLon)
	if span <= 0 {
		return maxFitZoom
	}
	z := int(math.Floor(math.Log2(worldSpanDegs / span)))
	return max(minFitZoom, min(maxFitZoom, z))
}
