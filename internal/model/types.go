package model

import (
	"strconv"
	"time"
)

// Fix is a single GPS reading with accuracy metadata. Timestamp is seconds
// since the Unix epoch; the snapshot reader converts from the raw
// millisecond value before a Fix is constructed.
type Fix struct {
	Latitude           float64 `json:"latitude"`
	Longitude          float64 `json:"longitude"`
	Timestamp          float64 `json:"timeStamp"`
	HorizontalAccuracy float64 `json:"horizontalAccuracy"`
	VerticalAccuracy   float64 `json:"verticalAccuracy"`
	Altitude           float64 `json:"altitude"`
}

// Item is one tracked item from a snapshot. Location is nil when the source
// never reported a fix for the item.
type Item struct {
	Name          string `json:"name"`
	Serial        string `json:"serialNumber"`
	BatteryStatus string `json:"batteryStatus,omitempty"`
	Location      *Fix   `json:"location,omitempty"`
}

// Destination is one user-configured forwarding target. Multiple
// destinations may share a serial; each receives its own copy of every fix.
type Destination struct {
	Serial    string `json:"serial"`
	ServerURL string `json:"server_url"`
	APIKey    string `json:"api_key"`
}

// Point is one entry of the gps_data batch payload. It is also the on-disk
// shape of a queued pending point, so the queue file and the wire body stay
// byte-compatible.
type Point struct {
	Timestamp          string  `json:"timestamp"`
	Latitude           float64 `json:"latitude"`
	Longitude          float64 `json:"longitude"`
	HorizontalAccuracy float64 `json:"horizontal_accuracy"`
	Altitude           float64 `json:"altitude"`
	VerticalAccuracy   float64 `json:"vertical_accuracy"`
	Heading            float64 `json:"heading"`
	HeadingAccuracy    float64 `json:"heading_accuracy"`
	Speed              float64 `json:"speed"`
	SpeedAccuracy      float64 `json:"speed_accuracy"`
}

// PointFromFix converts a Fix into its wire representation. Heading and
// speed fields are always zero; the source has no notion of either.
func PointFromFix(f Fix) Point {
	return Point{
		Timestamp:          strconv.FormatFloat(f.Timestamp, 'f', -1, 64),
		Latitude:           f.Latitude,
		Longitude:          f.Longitude,
		HorizontalAccuracy: f.HorizontalAccuracy,
		Altitude:           f.Altitude,
		VerticalAccuracy:   f.VerticalAccuracy,
	}
}

// ItemStatus is one row of the display model emitted after every poll
// cycle. Pending counts queued points for the serial across all
// destinations.
type ItemStatus struct {
	Name          string     `json:"name"`
	Serial        string     `json:"serial"`
	BatteryStatus string     `json:"battery_status,omitempty"`
	LastSent      *time.Time `json:"last_sent,omitempty"`
	Pending       int        `json:"pending"`
}

// DeliveryAttempt records the outcome of one flush of a pending queue key.
type DeliveryAttempt struct {
	Serial      string    `json:"serial"`
	BaseURL     string    `json:"base_url"`
	Outcome     string    `json:"outcome"`
	StatusCode  int       `json:"status_code,omitempty"`
	Points      int       `json:"points"`
	Error       string    `json:"error,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
}
