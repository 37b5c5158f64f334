package schemas

import (
	"fmt"
	"strings"
)

// -- Device Fingerprint Schemas --

// Viewport describes the visible page dimensions of a device in CSS pixels,
// together with its device pixel ratio.
type Viewport struct {
	Width       int64   `json:"width"`
	Height      int64   `json:"height"`
	ScaleFactor float64 `json:"scaleFactor"`
}

// UserAgentBrandVersion is a local replacement for emulation.UserAgentBrandVersion.
type UserAgentBrandVersion struct {
	Brand   string `json:"brand"`
	Version string `json:"version"`
}

// ClientHints defines the User-Agent Client Hints data exposed alongside the
// classic UA string. Sites cross-check the two, so both are derived from the
// same profile.
type ClientHints struct {
	Platform        string                   `json:"platform"`
	PlatformVersion string                   `json:"platformVersion"`
	Architecture    string                   `json:"architecture"`
	Model           string                   `json:"model"`
	Mobile          bool                     `json:"mobile"`
	Brands          []*UserAgentBrandVersion `json:"brands"`
}

// FingerprintProfile encapsulates every observable device/browser signal for
// one real device. Profiles are selected as a unit from the catalog and are
// immutable for the lifetime of a session; fields are never mixed across
// devices.
type FingerprintProfile struct {
	DeviceName          string       `json:"deviceName"`
	Viewport            Viewport     `json:"viewport"`
	UserAgent           string       `json:"userAgent"`
	Platform            string       `json:"platform"`
	LocaleTag           string       `json:"localeTag"`
	Languages           []string     `json:"languages"`
	TimezoneID          string       `json:"timezoneId"`
	TouchPoints         int          `json:"touchPoints"`
	HardwareConcurrency int          `json:"hardwareConcurrency"`
	DeviceMemoryGB      int          `json:"deviceMemoryGB"`
	ClientHintsData     *ClientHints `json:"clientHintsData,omitempty"`
	NoiseSeed           int64        `json:"noiseSeed"`
}

// Validate checks the internal consistency of the profile. A touch-capable
// profile must present a mobile user agent and a portrait mobile viewport;
// a catalog entry that fails this check would hand anti-bot heuristics an
// instant contradiction.
func (p FingerprintProfile) Validate() error {
	if p.DeviceName == "" {
		return fmt.Errorf("fingerprint profile has no device name")
	}
	if p.Viewport.Width <= 0 || p.Viewport.Height <= 0 || p.Viewport.ScaleFactor <= 0 {
		return fmt.Errorf("profile %q: viewport %dx%d@%.3f is not a valid device geometry",
			p.DeviceName, p.Viewport.Width, p.Viewport.Height, p.Viewport.ScaleFactor)
	}
	if p.TouchPoints > 0 {
		if !strings.Contains(p.UserAgent, "Mobile") {
			return fmt.Errorf("profile %q: touch-capable device with a non-mobile user agent", p.DeviceName)
		}
		if p.Viewport.Height <= p.Viewport.Width {
			return fmt.Errorf("profile %q: touch-capable device with landscape viewport %dx%d",
				p.DeviceName, p.Viewport.Width, p.Viewport.Height)
		}
	}
	if len(p.Languages) == 0 {
		return fmt.Errorf("profile %q: empty language list", p.DeviceName)
	}
	if p.TimezoneID == "" {
		return fmt.Errorf("profile %q: empty timezone", p.DeviceName)
	}
	return nil
}

// AcceptLanguage renders the profile's languages as an Accept-Language header
// value with descending q-values.
func (p FingerprintProfile) AcceptLanguage() string {
	parts := make([]string, 0, len(p.Languages))
	for i, lang := range p.Languages {
		if i == 0 {
			parts = append(parts, lang)
			continue
		}
		q := 1.0 - 0.1*float64(i)
		if q < 0.1 {
			q = 0.1
		}
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", lang, q))
	}
	return strings.Join(parts, ",")
}

// -- Element Geometry Schemas --

// Point is a coordinate in CSS pixels relative to the viewport origin.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ElementGeometry is the bounding box of an element in viewport coordinates.
type ElementGeometry struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the geometric center of the box.
func (g ElementGeometry) Center() Point {
	return Point{X: g.X + g.Width/2, Y: g.Y + g.Height/2}
}

// IsZero reports whether the box has no usable area.
func (g ElementGeometry) IsZero() bool {
	return g.Width <= 0 || g.Height <= 0
}

// ElementHandle identifies one concrete element found on the live page.
// Handles are owned by the browser collaborator and go stale on DOM change;
// holders re-resolve rather than cache them across steps.
type ElementHandle struct {
	// Selector is the query that produced this handle, re-run to re-acquire it.
	Selector Selector `json:"selector"`
	// Index is the position of this element among the selector's matches.
	Index    int             `json:"index"`
	Geometry ElementGeometry `json:"geometry"`
	Visible  bool            `json:"visible"`
	Text     string          `json:"text,omitempty"`
}

// -- Input Event Schemas --

// TouchEventType mirrors the CDP touch event phases.
type TouchEventType string

const (
	TouchStart  TouchEventType = "touchStart"
	TouchMove   TouchEventType = "touchMove"
	TouchEnd    TouchEventType = "touchEnd"
	TouchCancel TouchEventType = "touchCancel"
)

// TouchPoint is a single active contact on the screen.
type TouchPoint struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	RadiusX float64 `json:"radiusX,omitempty"`
	RadiusY float64 `json:"radiusY,omitempty"`
	Force   float64 `json:"force,omitempty"`
}

// TouchEventData is the payload for one dispatched touch event. TouchEnd and
// TouchCancel carry no points, matching the wire protocol.
type TouchEventData struct {
	Type   TouchEventType `json:"type"`
	Points []TouchPoint   `json:"points,omitempty"`
}

// KeyEventData describes one logical keystroke. Either Rune is set (printable
// input) or Key names a non-printing key such as "Backspace", "Enter" or
// "Escape".
type KeyEventData struct {
	Rune rune   `json:"rune,omitempty"`
	Key  string `json:"key,omitempty"`
}

// Text returns the text payload this keystroke inserts, empty for
// non-printing keys.
func (k KeyEventData) Text() string {
	if k.Rune == 0 {
		return ""
	}
	return string(k.Rune)
}

// -- Console Artifact Schemas --

// ConsoleEntry is a captured page console message, kept for run diagnostics.
type ConsoleEntry struct {
	Level  string `json:"level"`
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
	URL    string `json:"url,omitempty"`
}
