package models

import "fmt"

// Dimension names a segment label used to group sessions in the report.
type Dimension string

const (
	DimensionBrowser Dimension = "browser_family"
	DimensionOS      Dimension = "os_family"
	DimensionDevice  Dimension = "device_family"
)

// Dimensions lists every dimension in report order.
var Dimensions = []Dimension{DimensionBrowser, DimensionOS, DimensionDevice}

// Value returns the session's label for d.
func (d Dimension) Value(s Session) string {
	switch d {
	case DimensionBrowser:
		return s.BrowserFamily
	case DimensionOS:
		return s.OSFamily
	case DimensionDevice:
		return s.DeviceFamily
	}
	return ""
}

// ParseDimension accepts the wire name of a dimension.
func ParseDimension(name string) (Dimension, error) {
	for _, d := range Dimensions {
		if string(d) == name {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown segment dimension: %q", name)
}

// Labels returns the three segment labels of an event in Dimensions order.
func (e Event) Labels() [3]string {
	return [3]string{e.BrowserFamily, e.OSFamily, e.DeviceFamily}
}
