// Package domain contains the core entities, value objects and protocol
// messages shared by the coordinator and its workers.
package domain

import "fmt"

// Coordinate is a WGS84 latitude/longitude pair.
//
// The coordinator passes coordinates through to the workers untouched;
// Validate is meant for inbound adapters only.
type Coordinate struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// NewCoordinate creates a coordinate from latitude and longitude.
func NewCoordinate(lat, lon float64) Coordinate {
	return Coordinate{Latitude: lat, Longitude: lon}
}

// Validate checks that the coordinate lies within WGS84 bounds.
func (c Coordinate) Validate() error {
	if c.Latitude < -90 || c.Latitude > 90 {
		return &ValidationError{
			Field:      "lat",
			Value:      c.Latitude,
			Constraint: "[-90, 90]",
			Message:    "latitude must be between -90 and 90",
		}
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return &ValidationError{
			Field:      "lon",
			Value:      c.Longitude,
			Constraint: "[-180, 180]",
			Message:    "longitude must be between -180 and 180",
		}
	}
	return nil
}

// String returns a string representation of the coordinate.
func (c Coordinate) String() string {
	return fmt.Sprintf("(%f, %f)", c.Latitude, c.Longitude)
}
